package bootstrap

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/hostfleet/orchestrator/internal/model"
	"github.com/hostfleet/orchestrator/internal/store"
	"github.com/hostfleet/orchestrator/internal/store/storetest"
)

type fakeManifests []model.Manifest

func (f fakeManifests) All() []model.Manifest { return f }
func (f fakeManifests) Get(name string) (model.Manifest, bool) {
	for _, m := range f {
		if m.Name == name {
			return m, true
		}
	}
	return model.Manifest{}, false
}

type fakeInstaller struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func (f *fakeInstaller) Install(ctx context.Context, serverID, appName, groupID string, userConfig map[string]any) (model.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, serverID+"/"+appName)
	if f.fail[appName] {
		return model.Deployment{}, context.DeadlineExceeded
	}
	return model.Deployment{ID: "d-" + appName, ServerID: serverID, AppName: appName, Status: model.StatusRunning}, nil
}

func discardLog() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// seedOnlineServer seeds the fleet's one core server, since reconcileOnce
// only ever targets the core.
func seedOnlineServer(t *testing.T, s *store.Store, id string) {
	t.Helper()
	_, err := s.Servers.Create(context.Background(), model.Server{ID: id, Name: id, Host: "10.0.0.1", IsCore: true, AgentStatus: model.AgentOnline})
	if err != nil {
		t.Fatalf("seed server: %v", err)
	}
}

func TestReconcileInstallsMissingMandatoryApp(t *testing.T) {
	s := storetest.New()
	seedOnlineServer(t, s, "srv-1")

	manifests := fakeManifests{{Name: "coredns", Mandatory: true}}
	installer := &fakeInstaller{}
	r := New(discardLog(), s, manifests, installer, nil)

	r.reconcileOnce(context.Background())

	if len(installer.calls) != 1 || installer.calls[0] != "srv-1/coredns" {
		t.Errorf("calls = %v, want [srv-1/coredns]", installer.calls)
	}
}

func TestReconcileSkipsAlreadyInstalledApp(t *testing.T) {
	s := storetest.New()
	seedOnlineServer(t, s, "srv-1")
	_, err := s.Deployments.Create(context.Background(), model.Deployment{ID: "d1", ServerID: "srv-1", AppName: "coredns", Status: model.StatusRunning})
	if err != nil {
		t.Fatalf("seed deployment: %v", err)
	}

	manifests := fakeManifests{{Name: "coredns", Mandatory: true}}
	installer := &fakeInstaller{}
	r := New(discardLog(), s, manifests, installer, nil)

	r.reconcileOnce(context.Background())

	if len(installer.calls) != 0 {
		t.Errorf("expected no install calls, got %v", installer.calls)
	}
}

func TestReconcileSkipsOfflineServers(t *testing.T) {
	s := storetest.New()
	_, err := s.Servers.Create(context.Background(), model.Server{ID: "srv-1", Name: "srv-1", Host: "10.0.0.1", AgentStatus: model.AgentOffline})
	if err != nil {
		t.Fatalf("seed server: %v", err)
	}

	manifests := fakeManifests{{Name: "coredns", Mandatory: true}}
	installer := &fakeInstaller{}
	r := New(discardLog(), s, manifests, installer, nil)

	r.reconcileOnce(context.Background())

	if len(installer.calls) != 0 {
		t.Errorf("expected no install calls on an offline server, got %v", installer.calls)
	}
}

func TestReconcileIgnoresNonMandatoryApps(t *testing.T) {
	s := storetest.New()
	seedOnlineServer(t, s, "srv-1")

	manifests := fakeManifests{{Name: "optional-app", Mandatory: false}}
	installer := &fakeInstaller{}
	r := New(discardLog(), s, manifests, installer, nil)

	r.reconcileOnce(context.Background())

	if len(installer.calls) != 0 {
		t.Errorf("expected no install calls for a non-mandatory app, got %v", installer.calls)
	}
}

func TestReconcileIgnoresNonCoreServers(t *testing.T) {
	s := storetest.New()
	_, err := s.Servers.Create(context.Background(), model.Server{ID: "srv-1", Name: "srv-1", Host: "10.0.0.1", AgentStatus: model.AgentOnline})
	if err != nil {
		t.Fatalf("seed server: %v", err)
	}

	manifests := fakeManifests{{Name: "coredns", Mandatory: true}}
	installer := &fakeInstaller{}
	r := New(discardLog(), s, manifests, installer, nil)

	r.reconcileOnce(context.Background())

	if len(installer.calls) != 0 {
		t.Errorf("expected no install calls when no server is marked core, got %v", installer.calls)
	}
}

func TestReconcileInstallsMissingAppsSortedByName(t *testing.T) {
	s := storetest.New()
	seedOnlineServer(t, s, "core-1")

	manifests := fakeManifests{
		{Name: "proxy", Mandatory: true},
		{Name: "ca", Mandatory: true},
		{Name: "metrics", Mandatory: true},
	}
	installer := &fakeInstaller{}
	r := New(discardLog(), s, manifests, installer, nil)

	r.reconcileOnce(context.Background())

	want := []string{"core-1/ca", "core-1/metrics", "core-1/proxy"}
	if len(installer.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", installer.calls, want)
	}
	for i, call := range want {
		if installer.calls[i] != call {
			t.Errorf("calls[%d] = %q, want %q", i, installer.calls[i], call)
		}
	}
}

func TestReconcileContinuesAfterInstallFailure(t *testing.T) {
	s := storetest.New()
	seedOnlineServer(t, s, "srv-1")

	manifests := fakeManifests{
		{Name: "failing-app", Mandatory: true},
		{Name: "ok-app", Mandatory: true},
	}
	installer := &fakeInstaller{fail: map[string]bool{"failing-app": true}}
	r := New(discardLog(), s, manifests, installer, nil)

	r.reconcileOnce(context.Background())

	if len(installer.calls) != 2 {
		t.Errorf("expected both apps attempted despite one failure, got %v", installer.calls)
	}
}
