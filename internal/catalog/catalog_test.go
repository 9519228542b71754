package catalog

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleManifest = `
name: postgres
displayName: PostgreSQL
version: "16"
category: database
provides:
  - name: postgres
    port: 5432
    protocol: tcp
serviceUser: postgres
mandatory: true
`

func writeManifest(t *testing.T, dir, filename, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, filename), []byte(content), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
}

func TestLoadReadsEveryYAMLFile(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "postgres.yaml", sampleManifest)
	writeManifest(t, dir, "notes.txt", "ignore me")

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	m, ok := c.Get("postgres")
	if !ok {
		t.Fatal("expected postgres manifest to be loaded")
	}
	if m.ServiceUser != "postgres" || !m.Mandatory {
		t.Errorf("unexpected manifest contents: %+v", m)
	}
	if len(c.All()) != 1 {
		t.Errorf("expected exactly one manifest, got %d", len(c.All()))
	}
}

func TestLoadRejectsDuplicateNames(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "a.yaml", sampleManifest)
	writeManifest(t, dir, "b.yaml", sampleManifest)

	if _, err := Load(dir); err == nil {
		t.Error("expected duplicate manifest names to be rejected")
	}
}

func TestLoadRejectsUnnamedManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "bad.yaml", "version: \"1\"\n")

	if _, err := Load(dir); err == nil {
		t.Error("expected manifest with no name to be rejected")
	}
}

func TestReloadReplacesContents(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "postgres.yaml", sampleManifest)
	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := os.Remove(filepath.Join(dir, "postgres.yaml")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	writeManifest(t, dir, "redis.yaml", "name: redis\nversion: \"7\"\n")

	if err := c.Reload(dir); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if _, ok := c.Get("postgres"); ok {
		t.Error("expected postgres manifest to be gone after reload")
	}
	if _, ok := c.Get("redis"); !ok {
		t.Error("expected redis manifest to be present after reload")
	}
}
