// Package registry tracks which services are currently advertised by
// deployments and allocates the TCP ports new services bind to,
// following spec.md §4.5's service/route registry.
package registry

import (
	"context"
	"fmt"

	"github.com/hostfleet/orchestrator/internal/core/apperr"
	"github.com/hostfleet/orchestrator/internal/model"
	"github.com/hostfleet/orchestrator/internal/store"
)

// LoopbackHost is the address recorded or returned in place of a
// service's real host whenever the consumer is known to reach it
// without leaving the box.
const LoopbackHost = "127.0.0.1"

// Registry resolves service names to their current records and allocates
// fresh ports out of a configured range.
type Registry struct {
	store store.ServiceRecords
	ports *PortAllocator
}

// New builds a Registry over the given store and port range.
func New(svcStore store.ServiceRecords, rangeStart, rangeEnd int) *Registry {
	return &Registry{store: svcStore, ports: NewPortAllocator(rangeStart, rangeEnd)}
}

// Resolve returns the available ServiceRecords providing name, preferring
// same-host candidates when locality is LocalitySameHost.
func (r *Registry) Resolve(ctx context.Context, name string, locality model.Locality, sameHostID string) ([]model.ServiceRecord, error) {
	all, err := r.store.ListByName(ctx, name)
	if err != nil {
		return nil, err
	}
	var available []model.ServiceRecord
	for _, rec := range all {
		if rec.Status == model.ServiceAvailable {
			available = append(available, rec)
		}
	}
	if locality == model.LocalitySameHost {
		var sameHost []model.ServiceRecord
		for _, rec := range available {
			if rec.ServerID == sameHostID {
				sameHost = append(sameHost, rec)
			}
		}
		return sameHost, nil
	}
	return available, nil
}

// Register publishes or updates a deployment's service record.
func (r *Registry) Register(ctx context.Context, rec model.ServiceRecord) (model.ServiceRecord, error) {
	return r.store.Upsert(ctx, rec)
}

// RegistrationHost returns the host to record for a service running on
// srv: the loopback address when srv is the core server, since the
// orchestrator and proxy both run there too, otherwise srv's real host.
func RegistrationHost(srv model.Server) string {
	if srv.IsCore {
		return LoopbackHost
	}
	return srv.Host
}

// findService returns one available provider of name, or false if none
// is currently registered.
func (r *Registry) findService(ctx context.Context, name string) (model.ServiceRecord, bool, error) {
	all, err := r.findAllServices(ctx, name)
	if err != nil || len(all) == 0 {
		return model.ServiceRecord{}, false, err
	}
	return all[0], true, nil
}

// findAllServices returns every available provider of name.
func (r *Registry) findAllServices(ctx context.Context, name string) ([]model.ServiceRecord, error) {
	all, err := r.store.ListByName(ctx, name)
	if err != nil {
		return nil, err
	}
	var available []model.ServiceRecord
	for _, rec := range all {
		if rec.Status == model.ServiceAvailable {
			available = append(available, rec)
		}
	}
	return available, nil
}

// findServiceOnServer returns name's available provider running on
// serverID, or false if it has none there.
func (r *Registry) findServiceOnServer(ctx context.Context, name, serverID string) (model.ServiceRecord, bool, error) {
	all, err := r.findAllServices(ctx, name)
	if err != nil {
		return model.ServiceRecord{}, false, err
	}
	for _, rec := range all {
		if rec.ServerID == serverID {
			return rec, true, nil
		}
	}
	return model.ServiceRecord{}, false, nil
}

// getConnection returns the host and port a consumer on fromServerID
// should use to reach name. When preferSameServer is set and a provider
// runs on fromServerID, it returns the loopback host so traffic never
// leaves the box; otherwise it returns the first available provider's
// actual host.
func (r *Registry) getConnection(ctx context.Context, name, fromServerID string, preferSameServer bool) (string, int, error) {
	all, err := r.findAllServices(ctx, name)
	if err != nil {
		return "", 0, err
	}
	if len(all) == 0 {
		return "", 0, apperr.NotFoundf("service", name)
	}
	if preferSameServer {
		for _, rec := range all {
			if rec.ServerID == fromServerID {
				return LoopbackHost, rec.Port, nil
			}
		}
	}
	first := all[0]
	return first.Host, first.Port, nil
}

// Unregister removes every service record for a deployment, e.g. on
// uninstall.
func (r *Registry) Unregister(ctx context.Context, deploymentID string) error {
	return r.store.DeleteByDeployment(ctx, deploymentID)
}

// AllocatePort reserves an unused port for a new TCP/HTTP service,
// preferring preferredPort if given and free.
func (r *Registry) AllocatePort(ctx context.Context, preferredPort int) (int, error) {
	taken, err := r.allInUsePorts(ctx)
	if err != nil {
		return 0, err
	}
	return r.ports.Allocate(preferredPort, taken)
}

func (r *Registry) allInUsePorts(ctx context.Context) (map[int]bool, error) {
	all, err := r.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	taken := make(map[int]bool, len(all))
	for _, rec := range all {
		taken[rec.Port] = true
	}
	return taken, nil
}

// PortAllocator hands out ports from a fixed range, scanning upward from
// a preferred value and wrapping once.
type PortAllocator struct {
	start, end int
}

// NewPortAllocator builds an allocator over [start, end].
func NewPortAllocator(start, end int) *PortAllocator {
	return &PortAllocator{start: start, end: end}
}

// Allocate returns preferred if it is in range and free, otherwise the
// first free port found scanning from start.
func (p *PortAllocator) Allocate(preferred int, taken map[int]bool) (int, error) {
	if preferred >= p.start && preferred <= p.end && !taken[preferred] {
		return preferred, nil
	}
	for port := p.start; port <= p.end; port++ {
		if !taken[port] {
			return port, nil
		}
	}
	return 0, apperr.Busyf(fmt.Sprintf("port allocation in range %d-%d", p.start, p.end))
}
