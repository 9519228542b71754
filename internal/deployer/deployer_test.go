package deployer

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hostfleet/orchestrator/internal/audit"
	"github.com/hostfleet/orchestrator/internal/model"
	"github.com/hostfleet/orchestrator/internal/mutex"
	"github.com/hostfleet/orchestrator/internal/registry"
	"github.com/hostfleet/orchestrator/internal/resolver"
	"github.com/hostfleet/orchestrator/internal/secrets"
	"github.com/hostfleet/orchestrator/internal/store"
	"github.com/hostfleet/orchestrator/internal/store/storetest"
	"github.com/hostfleet/orchestrator/internal/wire"
)

type fakeManifests map[string]model.Manifest

func (f fakeManifests) Get(name string) (model.Manifest, bool) {
	m, ok := f[name]
	return m, ok
}

type fakeDispatcher struct {
	results map[wire.Action]wire.CommandResult
	calls   []wire.Command
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, serverID string, cmd wire.Command) (wire.CommandResult, error) {
	f.calls = append(f.calls, cmd)
	if r, ok := f.results[cmd.Action]; ok {
		return r, nil
	}
	return wire.CommandResult{CommandID: cmd.ID, Status: wire.ResultSuccess}, nil
}

type fakeProxy struct{ requested int }

func (p *fakeProxy) RequestReload(ctx context.Context) { p.requested++ }

func discardLog() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func setup(t *testing.T, manifests fakeManifests, dispatcher *fakeDispatcher) (*Deployer, *store.Store, *fakeProxy) {
	t.Helper()
	s := storetest.New()
	reg := registry.New(s.ServiceRecords, 20000, 20010)
	res := resolver.New(reg)
	secretMgr, err := secrets.NewManager("", true)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	locks := mutex.NewLocal()
	proxyStub := &fakeProxy{}
	rec := audit.New(discardLog(), s.Audit)
	d := New(discardLog(), s, manifests, dispatcher, reg, res, secretMgr, locks, proxyStub, rec)
	return d, s, proxyStub
}

func seedServer(t *testing.T, s *store.Store, id string) model.Server {
	t.Helper()
	srv, err := s.Servers.Create(context.Background(), model.Server{ID: id, Name: id, Host: "10.0.0.1", AgentStatus: model.AgentOnline})
	if err != nil {
		t.Fatalf("seed server: %v", err)
	}
	return srv
}

func basicManifest() model.Manifest {
	return model.Manifest{
		Name:    "myapp",
		Version: "1.0.0",
		Provides: []model.ServiceDef{
			{Name: "myapp-http", Port: 8080, Protocol: model.ProtocolHTTP},
		},
		ConfigSchema: []model.ConfigField{
			{Name: "logLevel", Default: "info"},
			{Name: "password", Secret: true, Generated: true},
		},
	}
}

func TestInstallSucceeds(t *testing.T) {
	m := basicManifest()
	d, s, proxyStub := setup(t, fakeManifests{m.Name: m}, &fakeDispatcher{})
	ctx := context.Background()
	seedServer(t, s, "srv-1")

	dep, err := d.Install(ctx, "srv-1", "myapp", "", map[string]any{"password": "s3cret"})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if dep.Status != model.StatusRunning {
		t.Errorf("status = %v, want running", dep.Status)
	}
	recs, _ := s.ServiceRecords.ListByDeployment(ctx, dep.ID)
	if len(recs) != 1 || recs[0].Port != 8080 {
		t.Errorf("expected one service record on port 8080, got %+v", recs)
	}
	if proxyStub.requested == 0 {
		t.Error("expected a proxy reload to be requested")
	}
}

func TestInstallGeneratesSecretWhenNotSupplied(t *testing.T) {
	m := basicManifest()
	d, s, _ := setup(t, fakeManifests{m.Name: m}, &fakeDispatcher{})
	ctx := context.Background()
	seedServer(t, s, "srv-1")

	dep, err := d.Install(ctx, "srv-1", "myapp", "", map[string]any{"logLevel": "debug"})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	got, ok := dep.Config["password"]
	if !ok || got == "" {
		t.Fatalf("expected password config to be auto-generated, got %+v", dep.Config)
	}
	if got == "s3cret" {
		t.Error("generated password should not equal any hardcoded test value")
	}
}

func TestInstallRegistersServiceRouteForProvidedService(t *testing.T) {
	m := basicManifest()
	d, s, _ := setup(t, fakeManifests{m.Name: m}, &fakeDispatcher{})
	ctx := context.Background()
	seedServer(t, s, "srv-1")

	dep, err := d.Install(ctx, "srv-1", "myapp", "", map[string]any{"password": "s3cret"})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}

	recs, _ := s.ServiceRecords.ListByDeployment(ctx, dep.ID)
	if len(recs) != 1 {
		t.Fatalf("expected one service record, got %d", len(recs))
	}
	routes, err := s.ServiceRoutes.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	var found *model.ServiceRoute
	for i := range routes {
		if routes[i].ServiceID == recs[0].ID {
			found = &routes[i]
		}
	}
	if found == nil {
		t.Fatalf("expected a service route for service record %s, got %+v", recs[0].ID, routes)
	}
	if found.RouteType != model.RouteHTTP || found.ExternalPath != "/services/myapp-http" {
		t.Errorf("unexpected route shape: %+v", found)
	}
}

func TestInstallOnCoreServerRegistersLoopbackHost(t *testing.T) {
	m := basicManifest()
	d, s, _ := setup(t, fakeManifests{m.Name: m}, &fakeDispatcher{})
	ctx := context.Background()
	srv, err := s.Servers.Create(ctx, model.Server{ID: "core-1", Name: "core-1", Host: "10.0.0.9", IsCore: true, AgentStatus: model.AgentOnline})
	if err != nil {
		t.Fatalf("seed core server: %v", err)
	}

	dep, err := d.Install(ctx, srv.ID, "myapp", "", map[string]any{"password": "s3cret"})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	recs, _ := s.ServiceRecords.ListByDeployment(ctx, dep.ID)
	if len(recs) != 1 || recs[0].Host != registry.LoopbackHost {
		t.Errorf("expected service registered with loopback host on core server, got %+v", recs)
	}
}

func TestUninstallRemovesServiceRoutes(t *testing.T) {
	m := basicManifest()
	d, s, _ := setup(t, fakeManifests{m.Name: m}, &fakeDispatcher{})
	ctx := context.Background()
	seedServer(t, s, "srv-1")

	dep, err := d.Install(ctx, "srv-1", "myapp", "", map[string]any{"password": "s3cret"})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if err := d.Uninstall(ctx, dep.ID); err != nil {
		t.Fatalf("Uninstall: %v", err)
	}
	routes, err := s.ServiceRoutes.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(routes) != 0 {
		t.Errorf("expected service routes to be removed on uninstall, got %+v", routes)
	}
}

func TestInstallRollsBackOnAgentFailure(t *testing.T) {
	m := basicManifest()
	dispatcher := &fakeDispatcher{results: map[wire.Action]wire.CommandResult{
		wire.ActionInstall: {Status: wire.ResultError, Message: "disk full"},
	}}
	d, s, _ := setup(t, fakeManifests{m.Name: m}, dispatcher)
	ctx := context.Background()
	seedServer(t, s, "srv-1")

	_, err := d.Install(ctx, "srv-1", "myapp", "", map[string]any{"password": "s3cret"})
	if err == nil {
		t.Fatal("expected install to fail")
	}
	deployments, _ := s.Deployments.List(ctx)
	if len(deployments) != 0 {
		t.Errorf("expected the pending deployment record to be rolled back, got %d", len(deployments))
	}
	recs, _ := s.ServiceRecords.ListAll(ctx)
	if len(recs) != 0 {
		t.Errorf("expected allocated service records to be rolled back, got %d", len(recs))
	}
}

func TestInstallRejectsConflictingApp(t *testing.T) {
	a := model.Manifest{Name: "a", Conflicts: []string{"b"}}
	b := model.Manifest{Name: "b"}
	d, s, _ := setup(t, fakeManifests{"a": a, "b": b}, &fakeDispatcher{})
	ctx := context.Background()
	seedServer(t, s, "srv-1")

	if _, err := d.Install(ctx, "srv-1", "a", "", nil); err != nil {
		t.Fatalf("Install a: %v", err)
	}
	if _, err := d.Install(ctx, "srv-1", "b", "", nil); err == nil {
		t.Fatal("expected conflicting install to fail")
	}
}

func TestInstallRejectsDuplicateSingleton(t *testing.T) {
	m := model.Manifest{Name: "singleton-app", Singleton: true}
	d, s, _ := setup(t, fakeManifests{m.Name: m}, &fakeDispatcher{})
	ctx := context.Background()
	seedServer(t, s, "srv-1")

	if _, err := d.Install(ctx, "srv-1", "singleton-app", "", nil); err != nil {
		t.Fatalf("first install: %v", err)
	}
	if _, err := d.Install(ctx, "srv-1", "singleton-app", "", nil); err == nil {
		t.Fatal("expected second singleton install to fail")
	}
}

func TestStopAndStartTransitions(t *testing.T) {
	m := basicManifest()
	d, s, _ := setup(t, fakeManifests{m.Name: m}, &fakeDispatcher{})
	ctx := context.Background()
	seedServer(t, s, "srv-1")

	dep, err := d.Install(ctx, "srv-1", "myapp", "", map[string]any{"password": "s3cret"})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}

	stopped, err := d.Stop(ctx, dep.ID)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if stopped.Status != model.StatusStopped {
		t.Errorf("status = %v, want stopped", stopped.Status)
	}

	started, err := d.Start(ctx, dep.ID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if started.Status != model.StatusRunning {
		t.Errorf("status = %v, want running", started.Status)
	}
}

func TestUninstallFreesPortAndRoutes(t *testing.T) {
	m := basicManifest()
	d, s, proxyStub := setup(t, fakeManifests{m.Name: m}, &fakeDispatcher{})
	ctx := context.Background()
	seedServer(t, s, "srv-1")

	dep, err := d.Install(ctx, "srv-1", "myapp", "", map[string]any{"password": "s3cret"})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	before := proxyStub.requested

	if err := d.Uninstall(ctx, dep.ID); err != nil {
		t.Fatalf("Uninstall: %v", err)
	}
	if proxyStub.requested <= before {
		t.Error("expected an additional proxy reload on uninstall")
	}
	recs, _ := s.ServiceRecords.ListAll(ctx)
	if len(recs) != 0 {
		t.Errorf("expected service records freed, got %d", len(recs))
	}
	if _, err := s.Deployments.Get(ctx, dep.ID); err == nil {
		t.Error("expected deployment record to be removed")
	}
}

func TestConfigureUpdatesStoredConfig(t *testing.T) {
	m := basicManifest()
	d, s, _ := setup(t, fakeManifests{m.Name: m}, &fakeDispatcher{})
	ctx := context.Background()
	seedServer(t, s, "srv-1")

	dep, err := d.Install(ctx, "srv-1", "myapp", "", map[string]any{"password": "s3cret"})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}

	updated, err := d.Configure(ctx, dep.ID, map[string]any{"logLevel": "debug", "password": "s3cret"})
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if updated.Config["logLevel"] != "debug" {
		t.Errorf("logLevel = %v, want debug", updated.Config["logLevel"])
	}
	if updated.Status != model.StatusRunning {
		t.Errorf("status after configure = %v, want running restored", updated.Status)
	}
}

func TestRotateSecretRegeneratesGeneratedFields(t *testing.T) {
	m := basicManifest()
	d, s, _ := setup(t, fakeManifests{m.Name: m}, &fakeDispatcher{})
	ctx := context.Background()
	seedServer(t, s, "srv-1")

	dep, err := d.Install(ctx, "srv-1", "myapp", "", map[string]any{"password": "s3cret"})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}

	rotated, err := d.RotateSecret(ctx, dep.ID, true)
	if err != nil {
		t.Fatalf("RotateSecret: %v", err)
	}
	if rotated.Config["password"] == "s3cret" {
		t.Error("expected password to be regenerated")
	}
}

func TestDeploymentLockSerializesPerServer(t *testing.T) {
	locks := mutex.NewLocal()
	release1, err := locks.Lock(context.Background(), "server:srv-1")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	defer release1()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := locks.Lock(ctx, "server:srv-1"); err == nil {
		t.Error("expected second lock on same key to block until context deadline")
	}
}
