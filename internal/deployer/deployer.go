// Package deployer implements the transactional install/configure/start/
// stop/restart/uninstall operations spec.md §4.7 describes, including
// the rollback-on-failure compensation stack its design notes (§9) call
// for in place of the original's partial-failure-prone script.
package deployer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hostfleet/orchestrator/internal/audit"
	"github.com/hostfleet/orchestrator/internal/core/apperr"
	"github.com/hostfleet/orchestrator/internal/core/ids"
	"github.com/hostfleet/orchestrator/internal/model"
	"github.com/hostfleet/orchestrator/internal/mutex"
	"github.com/hostfleet/orchestrator/internal/registry"
	"github.com/hostfleet/orchestrator/internal/resolver"
	"github.com/hostfleet/orchestrator/internal/secrets"
	"github.com/hostfleet/orchestrator/internal/store"
	"github.com/hostfleet/orchestrator/internal/wire"
)

// Dispatcher sends a command to a server's agent and blocks for its
// result. internal/session implements this against a live websocket
// session.
type Dispatcher interface {
	Dispatch(ctx context.Context, serverID string, cmd wire.Command) (wire.CommandResult, error)
}

// Manifests resolves an app name to its manifest, loaded from the app
// registry on disk (internal/bootstrap owns the filesystem scan).
type Manifests interface {
	Get(name string) (model.Manifest, bool)
}

// ProxyNotifier is notified whenever the active route set changes, so it
// can debounce and push a reload. internal/proxy.Manager implements this.
type ProxyNotifier interface {
	RequestReload(ctx context.Context)
}

// step is one compensatable unit of an operation: forward does the work,
// compensate undoes it if a later step fails.
type step struct {
	name       string
	forward    func(ctx context.Context) error
	compensate func(ctx context.Context)
}

// Deployer executes deployment operations against one fleet.
type Deployer struct {
	log        logrus.FieldLogger
	store      *store.Store
	manifests  Manifests
	dispatcher Dispatcher
	registry   *registry.Registry
	resolver   *resolver.Resolver
	secrets    *secrets.Manager
	locks      mutex.Locker
	proxy      ProxyNotifier
	audit      *audit.Recorder
}

// New builds a Deployer.
func New(
	log logrus.FieldLogger,
	st *store.Store,
	manifests Manifests,
	dispatcher Dispatcher,
	reg *registry.Registry,
	res *resolver.Resolver,
	secretMgr *secrets.Manager,
	locks mutex.Locker,
	proxyNotifier ProxyNotifier,
	auditRecorder *audit.Recorder,
) *Deployer {
	return &Deployer{
		log: log, store: st, manifests: manifests, dispatcher: dispatcher,
		registry: reg, resolver: res, secrets: secretMgr, locks: locks,
		proxy: proxyNotifier, audit: auditRecorder,
	}
}

// run executes steps in order, compensating completed steps in reverse
// if any step fails, then returns the original failure.
func (d *Deployer) run(ctx context.Context, steps []step) error {
	completed := make([]step, 0, len(steps))
	for _, s := range steps {
		if err := s.forward(ctx); err != nil {
			d.log.WithError(err).WithField("step", s.name).Warn("deployer: step failed, rolling back")
			for i := len(completed) - 1; i >= 0; i-- {
				if completed[i].compensate != nil {
					completed[i].compensate(ctx)
				}
			}
			return err
		}
		completed = append(completed, s)
	}
	return nil
}

// Install resolves the manifest's dependencies, allocates ports for its
// provided services, pushes an install command to the agent, and
// registers the resulting services — rolling back every prior step if
// any later one fails.
func (d *Deployer) Install(ctx context.Context, serverID, appName, groupID string, userConfig map[string]any) (model.Deployment, error) {
	release, err := d.locks.Lock(ctx, "server:"+serverID)
	if err != nil {
		return model.Deployment{}, fmt.Errorf("deployer: acquire server lock: %w", err)
	}
	defer release()

	m, ok := d.manifests.Get(appName)
	if !ok {
		return model.Deployment{}, apperr.NotFoundf("app", appName)
	}

	srv, err := d.store.Servers.Get(ctx, serverID)
	if err != nil {
		return model.Deployment{}, err
	}

	existingDeployments, err := d.store.Deployments.ListByServer(ctx, serverID)
	if err != nil {
		return model.Deployment{}, err
	}
	for _, dep := range existingDeployments {
		if dep.AppName != appName {
			if existing, ok2 := d.manifests.Get(dep.AppName); ok2 && m.ConflictsWith(existing) {
				return model.Deployment{}, apperr.Conflictf("%q conflicts with already-installed %q", appName, dep.AppName)
			}
		} else if m.Singleton {
			return model.Deployment{}, apperr.Conflictf("%q is singleton and already installed on %s", appName, srv.Name)
		}
	}

	resolved, err := d.resolver.Resolve(ctx, m, serverID, userConfig)
	if err != nil {
		return model.Deployment{}, err
	}

	deployment := model.Deployment{
		ID: ids.New(), ServerID: serverID, AppName: appName, GroupID: groupID,
		Version: m.Version, Config: resolved.Config, Status: model.StatusPending,
	}

	allocated := map[string]int{} // service name -> port, for compensation on failure

	steps := []step{
		{
			name: "generate-secrets",
			forward: func(ctx context.Context) error {
				return generateSecrets(m, resolved.Config)
			},
		},
		{
			name: "persist-pending",
			forward: func(ctx context.Context) error {
				created, err := d.store.Deployments.Create(ctx, deployment)
				deployment = created
				return err
			},
			compensate: func(ctx context.Context) {
				_ = d.store.Deployments.Delete(ctx, deployment.ID)
			},
		},
		{
			name: "allocate-ports",
			forward: func(ctx context.Context) error {
				for _, svc := range m.Provides {
					port, err := d.registry.AllocatePort(ctx, svc.Port)
					if err != nil {
						return err
					}
					allocated[svc.Name] = port
				}
				return nil
			},
		},
		{
			name: "store-secrets",
			forward: func(ctx context.Context) error {
				return d.storeSecrets(ctx, m, deployment.ID, resolved.Config)
			},
			compensate: func(ctx context.Context) {
				_ = d.store.Secrets.Delete(ctx, deployment.ID)
			},
		},
		{
			name: "dispatch-install",
			forward: func(ctx context.Context) error {
				_ = d.store.Deployments.UpdateStatus(ctx, deployment.ID, model.StatusInstalling, "")
				payload := installPayload(m, deployment, allocated)
				result, err := d.dispatcher.Dispatch(ctx, serverID, wire.Command{
					ID: ids.New(), Action: wire.ActionInstall, AppName: appName, Payload: payload,
				})
				if err != nil {
					return err
				}
				if !result.OK() {
					return apperr.CommandFailedf(string(wire.ActionInstall), result.Message)
				}
				return nil
			},
			compensate: func(ctx context.Context) {
				_, _ = d.dispatcher.Dispatch(ctx, serverID, wire.Command{ID: ids.New(), Action: wire.ActionUninstall, AppName: appName})
			},
		},
		{
			name: "register-services",
			forward: func(ctx context.Context) error {
				for _, svc := range m.Provides {
					rec, err := d.registry.Register(ctx, model.ServiceRecord{
						DeploymentID: deployment.ID, ServiceName: svc.Name, ServerID: serverID,
						Host: registry.RegistrationHost(srv), Port: allocated[svc.Name], Status: model.ServiceAvailable,
					})
					if err != nil {
						return err
					}
					if _, err := d.store.ServiceRoutes.Upsert(ctx, serviceRoute(svc, rec, allocated[svc.Name])); err != nil {
						return err
					}
				}
				return nil
			},
			compensate: func(ctx context.Context) {
				_ = d.teardownServiceRoutes(ctx, deployment.ID)
				_ = d.registry.Unregister(ctx, deployment.ID)
			},
		},
		{
			name: "register-webui-route",
			forward: func(ctx context.Context) error {
				if m.WebUI == nil || !m.WebUI.Enabled {
					return nil
				}
				_, err := d.store.ProxyRoutes.Upsert(ctx, model.ProxyRoute{
					DeploymentID: deployment.ID, Path: m.WebUI.BasePath,
					Upstream: fmt.Sprintf("%s:%d", srv.Host, m.WebUI.Port), Active: true,
				})
				return err
			},
			compensate: func(ctx context.Context) {
				_ = d.store.ProxyRoutes.DeleteByDeployment(ctx, deployment.ID)
			},
		},
		{
			name: "mark-running",
			forward: func(ctx context.Context) error {
				return d.store.Deployments.UpdateStatus(ctx, deployment.ID, model.StatusRunning, "")
			},
		},
	}

	err = d.run(ctx, steps)
	if d.proxy != nil {
		d.proxy.RequestReload(ctx)
	}
	if err != nil {
		d.audit.Record(ctx, "install", serverID, appName, deployment.ID, false, err.Error())
		return model.Deployment{}, err
	}
	deployment.Status = model.StatusRunning
	d.audit.Record(ctx, "install", serverID, appName, deployment.ID, true, "installed successfully")
	return deployment, nil
}

// serviceRoute builds the proxy route a newly registered service record
// needs: an HTTP path under /services/<name> for HTTP providers, or the
// allocated external TCP port for TCP providers.
func serviceRoute(svc model.ServiceDef, rec model.ServiceRecord, externalPort int) model.ServiceRoute {
	route := model.ServiceRoute{
		ServiceID:    rec.ID,
		UpstreamHost: rec.Host,
		UpstreamPort: rec.Port,
		Active:       true,
	}
	if svc.Protocol == model.ProtocolTCP {
		route.RouteType = model.RouteTCP
		route.ExternalPort = externalPort
	} else {
		route.RouteType = model.RouteHTTP
		route.ExternalPath = "/services/" + svc.Name
	}
	return route
}

// teardownServiceRoutes removes every proxy route belonging to a
// deployment's service records. Must run before the records themselves
// are unregistered, since routes are keyed by service record ID.
func (d *Deployer) teardownServiceRoutes(ctx context.Context, deploymentID string) error {
	recs, err := d.store.ServiceRecords.ListByDeployment(ctx, deploymentID)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if err := d.store.ServiceRoutes.DeleteByService(ctx, rec.ID); err != nil {
			return err
		}
	}
	return nil
}

// generateSecrets fills config with a value for every ConfigField marked
// both Generated and Secret that userConfig, a default, or an inherited
// dependency didn't already supply.
func generateSecrets(m model.Manifest, config map[string]any) error {
	for _, field := range m.ConfigSchema {
		if !field.Generated || !field.Secret {
			continue
		}
		if _, ok := config[field.Name]; ok {
			continue
		}
		val, err := generateFieldValue(field)
		if err != nil {
			return fmt.Errorf("deployer: generate %s: %w", field.Name, err)
		}
		config[field.Name] = val
	}
	return nil
}

// generateFieldValue picks the generator matching a field's shape: a
// long random password for password-typed fields, a name-stem-plus-
// digits username for fields that look like a user, else a 16-character
// secret.
func generateFieldValue(field model.ConfigField) (string, error) {
	switch {
	case field.Type == model.FieldPassword:
		return secrets.GeneratePassword(32)
	case strings.Contains(strings.ToLower(field.Name), "user"):
		return secrets.GenerateUsername(field.Name)
	default:
		return secrets.GeneratePassword(16)
	}
}

func (d *Deployer) storeSecrets(ctx context.Context, m model.Manifest, deploymentID string, config map[string]any) error {
	secretValues := map[string]any{}
	for _, field := range m.ConfigSchema {
		if field.Secret {
			if v, ok := config[field.Name]; ok {
				secretValues[field.Name] = v
			}
		}
	}
	if len(secretValues) == 0 {
		return nil
	}
	plaintext, err := json.Marshal(secretValues)
	if err != nil {
		return fmt.Errorf("deployer: marshal secrets: %w", err)
	}
	ciphertext, err := d.secrets.Encrypt(deploymentID, plaintext)
	if err != nil {
		return fmt.Errorf("deployer: encrypt secrets: %w", err)
	}
	now := time.Now().UTC()
	return d.store.Secrets.Put(ctx, model.SecretBlob{DeploymentID: deploymentID, Ciphertext: ciphertext, CreatedAt: now, UpdatedAt: now})
}

func installPayload(m model.Manifest, d model.Deployment, ports map[string]int) map[string]any {
	return map[string]any{
		"config":       d.Config,
		"ports":        ports,
		"serviceUser":  m.ServiceUser,
		"serviceGroup": m.ServiceGroup,
		"dataDirs":     m.DataDirectories,
		"capabilities": m.Capabilities,
		"files":        renderFiles(m.Files, d.Config),
		"scripts":      m.Scripts,
	}
}

// renderFiles substitutes "${field}" placeholders in each file's content
// with the matching resolved config value, so the agent never needs its
// own copy of the manifest to materialize install-time config.
func renderFiles(files []model.ManifestFile, config map[string]any) []model.ManifestFile {
	rendered := make([]model.ManifestFile, len(files))
	for i, f := range files {
		rendered[i] = model.ManifestFile{Path: f.Path, Mode: f.Mode, Content: substitutePlaceholders(f.Content, config)}
	}
	return rendered
}

func substitutePlaceholders(content string, config map[string]any) string {
	for k, v := range config {
		content = strings.ReplaceAll(content, "${"+k+"}", fmt.Sprintf("%v", v))
	}
	return content
}
