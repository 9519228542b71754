package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.CommandsTotal.WithLabelValues("install", "success").Inc()
	r.AgentsConnected.Set(3)
	r.DeploymentsByState.WithLabelValues("running").Set(5)
	r.ProxyReloadsTotal.WithLabelValues("success").Inc()
	r.BootstrapRunsTotal.WithLabelValues("coredns", "installed").Inc()
	r.CommandDuration.WithLabelValues("install").Observe(0.5)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) != 6 {
		t.Errorf("got %d metric families, want 6", len(families))
	}
}

func TestNewPanicsOnDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	defer func() {
		if recover() == nil {
			t.Error("expected MustRegister to panic on duplicate registration")
		}
	}()
	New(reg)
}
