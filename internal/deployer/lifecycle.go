package deployer

import (
	"context"
	"fmt"

	"github.com/hostfleet/orchestrator/internal/core/apperr"
	"github.com/hostfleet/orchestrator/internal/core/ids"
	"github.com/hostfleet/orchestrator/internal/model"
	"github.com/hostfleet/orchestrator/internal/secrets"
	"github.com/hostfleet/orchestrator/internal/wire"
)

// Configure re-resolves a deployment's manifest against newUserConfig,
// pushes the updated config to the agent, and persists it on success.
func (d *Deployer) Configure(ctx context.Context, deploymentID string, newUserConfig map[string]any) (model.Deployment, error) {
	dep, err := d.store.Deployments.Get(ctx, deploymentID)
	if err != nil {
		return model.Deployment{}, err
	}
	release, err := d.locks.Lock(ctx, "server:"+dep.ServerID)
	if err != nil {
		return model.Deployment{}, fmt.Errorf("deployer: acquire server lock: %w", err)
	}
	defer release()

	m, ok := d.manifests.Get(dep.AppName)
	if !ok {
		return model.Deployment{}, apperr.NotFoundf("app", dep.AppName)
	}

	resolved, err := d.resolver.Resolve(ctx, m, dep.ServerID, newUserConfig)
	if err != nil {
		return model.Deployment{}, err
	}

	prevStatus := dep.Status
	if err := d.store.Deployments.UpdateStatus(ctx, dep.ID, model.StatusConfiguring, ""); err != nil {
		return model.Deployment{}, err
	}

	if err := d.storeSecrets(ctx, m, dep.ID, resolved.Config); err != nil {
		_ = d.store.Deployments.UpdateStatus(ctx, dep.ID, prevStatus, "")
		d.audit.Record(ctx, "configure", dep.ServerID, dep.AppName, dep.ID, false, err.Error())
		return model.Deployment{}, err
	}

	result, err := d.dispatcher.Dispatch(ctx, dep.ServerID, wire.Command{
		ID: ids.New(), Action: wire.ActionConfigure, AppName: dep.AppName,
		Payload: map[string]any{
			"config":  resolved.Config,
			"files":   renderFiles(m.Files, resolved.Config),
			"scripts": m.Scripts,
		},
	})
	if err != nil || !result.OK() {
		_ = d.store.Deployments.UpdateStatus(ctx, dep.ID, model.StatusError, errMessage(err, result))
		d.audit.Record(ctx, "configure", dep.ServerID, dep.AppName, dep.ID, false, errMessage(err, result))
		return model.Deployment{}, firstErr(err, apperr.CommandFailedf(string(wire.ActionConfigure), result.Message))
	}

	dep.Config = resolved.Config
	dep.Status = prevStatus
	updated, err := d.store.Deployments.Update(ctx, dep)
	if err != nil {
		return model.Deployment{}, err
	}
	if err := d.store.Deployments.UpdateStatus(ctx, dep.ID, prevStatus, ""); err != nil {
		return model.Deployment{}, err
	}
	d.audit.Record(ctx, "configure", dep.ServerID, dep.AppName, dep.ID, true, "configuration updated")
	return updated, nil
}

// simpleTransition dispatches action and moves the deployment to
// toStatus on success, or StatusError on failure.
func (d *Deployer) simpleTransition(ctx context.Context, deploymentID string, action wire.Action, toStatus model.DeploymentStatus, auditAction string) (model.Deployment, error) {
	dep, err := d.store.Deployments.Get(ctx, deploymentID)
	if err != nil {
		return model.Deployment{}, err
	}
	release, err := d.locks.Lock(ctx, "server:"+dep.ServerID)
	if err != nil {
		return model.Deployment{}, fmt.Errorf("deployer: acquire server lock: %w", err)
	}
	defer release()

	result, err := d.dispatcher.Dispatch(ctx, dep.ServerID, wire.Command{ID: ids.New(), Action: action, AppName: dep.AppName})
	if err != nil || !result.OK() {
		msg := errMessage(err, result)
		_ = d.store.Deployments.UpdateStatus(ctx, dep.ID, model.StatusError, msg)
		d.audit.Record(ctx, auditAction, dep.ServerID, dep.AppName, dep.ID, false, msg)
		return model.Deployment{}, firstErr(err, apperr.CommandFailedf(string(action), result.Message))
	}

	if err := d.store.Deployments.UpdateStatus(ctx, dep.ID, toStatus, ""); err != nil {
		return model.Deployment{}, err
	}
	dep.Status = toStatus
	d.audit.Record(ctx, auditAction, dep.ServerID, dep.AppName, dep.ID, true, fmt.Sprintf("%s succeeded", auditAction))
	return dep, nil
}

// Start brings a stopped deployment back to running.
func (d *Deployer) Start(ctx context.Context, deploymentID string) (model.Deployment, error) {
	return d.simpleTransition(ctx, deploymentID, wire.ActionStart, model.StatusRunning, "start")
}

// Stop halts a running deployment without uninstalling it.
func (d *Deployer) Stop(ctx context.Context, deploymentID string) (model.Deployment, error) {
	return d.simpleTransition(ctx, deploymentID, wire.ActionStop, model.StatusStopped, "stop")
}

// Restart stops and starts a deployment's service in one agent round trip.
func (d *Deployer) Restart(ctx context.Context, deploymentID string) (model.Deployment, error) {
	return d.simpleTransition(ctx, deploymentID, wire.ActionRestart, model.StatusRunning, "restart")
}

// Uninstall removes a deployment's service, route, and secret records
// after the agent confirms removal, freeing its ports and routes for
// reuse.
func (d *Deployer) Uninstall(ctx context.Context, deploymentID string) error {
	dep, err := d.store.Deployments.Get(ctx, deploymentID)
	if err != nil {
		return err
	}
	release, err := d.locks.Lock(ctx, "server:"+dep.ServerID)
	if err != nil {
		return fmt.Errorf("deployer: acquire server lock: %w", err)
	}
	defer release()

	if err := d.store.Deployments.UpdateStatus(ctx, dep.ID, model.StatusUninstalling, ""); err != nil {
		return err
	}

	result, err := d.dispatcher.Dispatch(ctx, dep.ServerID, wire.Command{ID: ids.New(), Action: wire.ActionUninstall, AppName: dep.AppName})
	if err != nil || !result.OK() {
		msg := errMessage(err, result)
		_ = d.store.Deployments.UpdateStatus(ctx, dep.ID, model.StatusError, msg)
		d.audit.Record(ctx, "uninstall", dep.ServerID, dep.AppName, dep.ID, false, msg)
		return firstErr(err, apperr.CommandFailedf(string(wire.ActionUninstall), result.Message))
	}

	_ = d.teardownServiceRoutes(ctx, dep.ID)
	_ = d.registry.Unregister(ctx, dep.ID)
	_ = d.store.ProxyRoutes.DeleteByDeployment(ctx, dep.ID)
	_ = d.store.Secrets.Delete(ctx, dep.ID)
	if err := d.store.Deployments.Delete(ctx, dep.ID); err != nil {
		return err
	}

	if d.proxy != nil {
		d.proxy.RequestReload(ctx)
	}
	d.audit.Record(ctx, "uninstall", dep.ServerID, dep.AppName, dep.ID, true, "uninstalled successfully")
	return nil
}

// RotateSecret re-encrypts a deployment's secret blob under a fresh
// nonce and, when regenerate is true, replaces its secret-typed config
// fields with newly generated values before pushing the update to the
// agent the same way Configure does.
func (d *Deployer) RotateSecret(ctx context.Context, deploymentID string, regenerate bool) (model.Deployment, error) {
	dep, err := d.store.Deployments.Get(ctx, deploymentID)
	if err != nil {
		return model.Deployment{}, err
	}
	m, ok := d.manifests.Get(dep.AppName)
	if !ok {
		return model.Deployment{}, apperr.NotFoundf("app", dep.AppName)
	}

	newConfig := map[string]any{}
	for k, v := range dep.Config {
		newConfig[k] = v
	}
	if regenerate {
		for _, field := range m.ConfigSchema {
			if !field.Secret || !field.Generated {
				continue
			}
			generated, err := secrets.GeneratePassword(24)
			if err != nil {
				return model.Deployment{}, fmt.Errorf("deployer: generate secret for %s: %w", field.Name, err)
			}
			newConfig[field.Name] = generated
		}
	}
	return d.Configure(ctx, deploymentID, newConfig)
}

func errMessage(err error, result wire.CommandResult) string {
	if err != nil {
		return err.Error()
	}
	return result.Message
}

func firstErr(err error, fallback error) error {
	if err != nil {
		return err
	}
	return fallback
}
