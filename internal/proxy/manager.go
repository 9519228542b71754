// Package proxy renders the current route set into the reverse-proxy
// admin API's reload payload, debouncing rapid-fire changes and skipping
// pushes whose content has not actually changed.
package proxy

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hostfleet/orchestrator/internal/core/apperr"
	"github.com/hostfleet/orchestrator/internal/resilience"
	"github.com/hostfleet/orchestrator/internal/store"
	"github.com/hostfleet/orchestrator/internal/wire"
)

// Manager renders the store's active routes into a wire.ProxyReloadPayload
// and pushes it to the reverse proxy's admin API, debouncing bursts of
// route changes and skipping no-op pushes via a content checksum.
type Manager struct {
	log        logrus.FieldLogger
	store      *store.Store
	adminURL   string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	retry      resilience.RetryConfig

	mu           sync.Mutex
	lastChecksum string
	generation   int64
	debounce     time.Duration
	pending      *time.Timer
}

// New builds a Manager.
func New(log logrus.FieldLogger, st *store.Store, adminURL string, debounce time.Duration) *Manager {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Manager{
		log:        log,
		store:      st,
		adminURL:   adminURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		breaker: resilience.NewCircuitBreaker(resilience.BreakerConfig{
			MaxFailures: 5, Timeout: 30 * time.Second, HalfOpenMax: 1,
			OnStateChange: func(from, to resilience.State) {
				log.WithFields(logrus.Fields{"from": from, "to": to}).Warn("proxy: circuit breaker state change")
			},
		}),
		retry:    resilience.DefaultRetryConfig(),
		debounce: debounce,
	}
}

// RequestReload schedules a debounced reload: if called repeatedly within
// the debounce window, only the last call actually pushes.
func (m *Manager) RequestReload(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending != nil {
		m.pending.Stop()
	}
	m.pending = time.AfterFunc(m.debounce, func() {
		if err := m.Reload(ctx); err != nil {
			m.log.WithError(err).Error("proxy: reload failed")
		}
	})
}

// Reload builds the current payload and pushes it immediately if its
// checksum differs from the last successful push.
func (m *Manager) Reload(ctx context.Context) error {
	payload, err := m.buildPayload(ctx)
	if err != nil {
		return fmt.Errorf("proxy: build payload: %w", err)
	}

	m.mu.Lock()
	if payload.Checksum == m.lastChecksum {
		m.mu.Unlock()
		m.log.Debug("proxy: skipping reload, routes unchanged")
		return nil
	}
	m.generation++
	payload.Generation = m.generation
	m.mu.Unlock()

	err = resilience.Retry(ctx, m.retry, func() error {
		return m.breaker.Execute(func() error { return m.push(ctx, payload) })
	})
	if err != nil {
		return apperr.ProxyFailed(err)
	}

	m.mu.Lock()
	m.lastChecksum = payload.Checksum
	m.mu.Unlock()
	return nil
}

func (m *Manager) buildPayload(ctx context.Context) (wire.ProxyReloadPayload, error) {
	webRoutes, err := m.store.ProxyRoutes.ListActive(ctx)
	if err != nil {
		return wire.ProxyReloadPayload{}, err
	}
	svcRoutes, err := m.store.ServiceRoutes.ListActive(ctx)
	if err != nil {
		return wire.ProxyReloadPayload{}, err
	}

	entries := make([]wire.ProxyRouteEntry, 0, len(webRoutes)+len(svcRoutes))
	for _, r := range webRoutes {
		entries = append(entries, wire.ProxyRouteEntry{
			ID: r.ID, Kind: wire.ProxyRouteHTTP, Path: r.Path,
			Upstream: upstreamOf(r.Upstream), Active: r.Active,
		})
	}
	for _, r := range svcRoutes {
		entries = append(entries, wire.ProxyRouteEntry{
			ID: r.ID, Kind: wire.ProxyRouteTCP, Port: r.ExternalPort,
			Upstream: wire.ProxyUpstream{Host: r.UpstreamHost, Port: r.UpstreamPort},
			Active:   r.Active,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	checksum, err := checksumOf(entries)
	if err != nil {
		return wire.ProxyReloadPayload{}, err
	}
	return wire.ProxyReloadPayload{Routes: entries, Checksum: checksum}, nil
}

func upstreamOf(hostport string) wire.ProxyUpstream {
	var host string
	var port int
	fmt.Sscanf(hostport, "%[^:]:%d", &host, &port)
	return wire.ProxyUpstream{Host: host, Port: port}
}

func checksumOf(entries []wire.ProxyRouteEntry) (string, error) {
	b, err := json.Marshal(entries)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

func (m *Manager) push(ctx context.Context, payload wire.ProxyReloadPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.adminURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("admin API returned status %d", resp.StatusCode)
	}

	var result wire.ProxyAdminResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return err
	}
	if !result.Applied {
		return fmt.Errorf("admin API rejected reload: %s", result.Error)
	}
	return nil
}
