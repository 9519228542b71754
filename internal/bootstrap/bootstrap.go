// Package bootstrap runs the scheduled loop that keeps the fleet's core
// server's mandatory system apps installed, the way spec.md's System-Apps
// Bootstrap module describes: a periodic reconciliation pass rather than
// a one-shot install at server registration time, so an app added to the
// mandatory set later still converges onto the core host.
package bootstrap

import (
	"context"
	"sort"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/hostfleet/orchestrator/internal/core/apperr"
	"github.com/hostfleet/orchestrator/internal/metrics"
	"github.com/hostfleet/orchestrator/internal/model"
	"github.com/hostfleet/orchestrator/internal/store"
)

// Installer is the subset of internal/deployer.Deployer the bootstrap
// loop needs. Kept as an interface so this package never imports
// internal/deployer directly (deployer already depends on enough; a
// bootstrap->deployer->bootstrap cycle is not worth risking).
type Installer interface {
	Install(ctx context.Context, serverID, appName, groupID string, userConfig map[string]any) (model.Deployment, error)
}

// Manifests lists every known app manifest, mirroring
// internal/deployer.Manifests but adding the enumeration bootstrap needs
// to find the mandatory set.
type Manifests interface {
	Get(name string) (model.Manifest, bool)
	All() []model.Manifest
}

// Runner schedules the mandatory-app convergence pass via robfig/cron.
type Runner struct {
	log       logrus.FieldLogger
	store     *store.Store
	manifests Manifests
	installer Installer
	metrics   *metrics.Registry

	cron *cron.Cron
	mu   sync.Mutex
}

// New builds a Runner. Schedule is not started until Start is called.
func New(log logrus.FieldLogger, st *store.Store, manifests Manifests, installer Installer, reg *metrics.Registry) *Runner {
	return &Runner{
		log: log, store: st, manifests: manifests, installer: installer, metrics: reg,
		cron: cron.New(),
	}
}

// Start registers the @every 10s reconciliation job and starts the cron
// scheduler in its own goroutine.
func (r *Runner) Start(ctx context.Context) error {
	_, err := r.cron.AddFunc("@every 10s", func() { r.reconcileOnce(ctx) })
	if err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

// Stop drains the scheduler, waiting for any in-flight reconciliation
// pass to finish.
func (r *Runner) Stop() {
	stopCtx := r.cron.Stop()
	<-stopCtx.Done()
}

// reconcileOnce runs a single convergence pass against the core server,
// installing any mandatory app missing from it. Failures on one app do
// not block the rest of the pass.
func (r *Runner) reconcileOnce(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	mandatory := mandatoryApps(r.manifests.All())
	if len(mandatory) == 0 {
		return
	}

	core, err := r.coreServer(ctx)
	if err != nil {
		r.log.WithError(err).Error("bootstrap: find core server failed")
		return
	}
	if core.AgentStatus != model.AgentOnline {
		return
	}

	installed, err := r.installedAppSet(ctx, core.ID)
	if err != nil {
		r.log.WithError(err).WithField("server", core.ID).Error("bootstrap: list deployments failed")
		return
	}

	var missing []model.Manifest
	for _, m := range mandatory {
		if !installed[m.Name] {
			missing = append(missing, m)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i].Name < missing[j].Name })

	for _, m := range missing {
		r.log.WithFields(logrus.Fields{"server": core.ID, "app": m.Name}).Info("bootstrap: installing missing mandatory app")
		if _, err := r.installer.Install(ctx, core.ID, m.Name, "", nil); err != nil {
			r.log.WithError(err).WithFields(logrus.Fields{"server": core.ID, "app": m.Name}).Warn("bootstrap: install failed, will retry next pass")
			continue
		}
		if r.metrics != nil {
			r.metrics.BootstrapRunsTotal.WithLabelValues(m.Name, "installed").Inc()
		}
	}
}

// coreServer returns the fleet's single core server.
func (r *Runner) coreServer(ctx context.Context) (model.Server, error) {
	servers, err := r.store.Servers.List(ctx)
	if err != nil {
		return model.Server{}, err
	}
	for _, srv := range servers {
		if srv.IsCore {
			return srv, nil
		}
	}
	return model.Server{}, apperr.NotFoundf("core server", "")
}

func (r *Runner) installedAppSet(ctx context.Context, serverID string) (map[string]bool, error) {
	deployments, err := r.store.Deployments.ListByServer(ctx, serverID)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(deployments))
	for _, d := range deployments {
		set[d.AppName] = true
	}
	return set, nil
}

func mandatoryApps(all []model.Manifest) []model.Manifest {
	var out []model.Manifest
	for _, m := range all {
		if m.Mandatory {
			out = append(out, m)
		}
	}
	return out
}
