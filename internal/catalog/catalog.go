// Package catalog loads app manifests from a directory of YAML files on
// disk into the registry internal/deployer and internal/bootstrap both
// need, following the teacher's config/services.yaml loading style
// (infrastructure/config/services.go) generalized from a single file to
// a directory scan.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/hostfleet/orchestrator/internal/model"
)

// Catalog holds every app manifest loaded from a directory, satisfying
// both internal/deployer.Manifests and internal/bootstrap.Manifests.
type Catalog struct {
	mu        sync.RWMutex
	manifests map[string]model.Manifest
}

// Load scans dir for "*.yaml"/"*.yml" files, each describing one app
// manifest, and returns a populated Catalog.
func Load(dir string) (*Catalog, error) {
	c := &Catalog{manifests: map[string]model.Manifest{}}
	if err := c.Reload(dir); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-scans dir and replaces the catalog's contents, so an
// operator can add a new app manifest without restarting orchestratord.
func (c *Catalog) Reload(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("catalog: read manifest directory: %w", err)
	}

	next := make(map[string]model.Manifest, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		m, err := loadOne(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("catalog: %s: %w", name, err)
		}
		if m.Name == "" {
			return fmt.Errorf("catalog: %s: manifest has no name", name)
		}
		if _, dup := next[m.Name]; dup {
			return fmt.Errorf("catalog: duplicate manifest name %q", m.Name)
		}
		next[m.Name] = m
	}

	c.mu.Lock()
	c.manifests = next
	c.mu.Unlock()
	return nil
}

func loadOne(path string) (model.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Manifest{}, err
	}
	var m model.Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return model.Manifest{}, err
	}
	return m, nil
}

// Get returns the manifest with the given name, if loaded.
func (c *Catalog) Get(name string) (model.Manifest, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.manifests[name]
	return m, ok
}

// All returns every loaded manifest, sorted by name for deterministic
// output (bootstrap's reconciliation pass and fleetctl's listing both
// depend on stable ordering).
func (c *Catalog) All() []model.Manifest {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Manifest, 0, len(c.manifests))
	for _, m := range c.manifests {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
