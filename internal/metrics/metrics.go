// Package metrics registers the prometheus collectors the orchestrator
// exposes. No HTTP exporter is wired here by default; cmd/orchestratord
// mounts promhttp.Handler only when METRICS_ENABLED is set, per
// spec.md's observability Non-goal on dashboards while still surfacing
// raw series for an operator's own Prometheus.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every collector this process registers, so call sites
// take a single struct instead of reaching for package-level globals.
type Registry struct {
	CommandsTotal      *prometheus.CounterVec
	CommandDuration    *prometheus.HistogramVec
	AgentsConnected    prometheus.Gauge
	DeploymentsByState *prometheus.GaugeVec
	ProxyReloadsTotal  *prometheus.CounterVec
	BootstrapRunsTotal *prometheus.CounterVec
}

// New constructs a Registry and registers every collector against reg.
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleet",
			Name:      "commands_total",
			Help:      "Commands dispatched to agents, by action and result.",
		}, []string{"action", "result"}),
		CommandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fleet",
			Name:      "command_duration_seconds",
			Help:      "Command execution latency as reported by the agent.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
		AgentsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fleet",
			Name:      "agents_connected",
			Help:      "Number of agent sessions currently online.",
		}),
		DeploymentsByState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fleet",
			Name:      "deployments_by_state",
			Help:      "Deployment count grouped by state.",
		}, []string{"state"}),
		ProxyReloadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleet",
			Name:      "proxy_reloads_total",
			Help:      "Reverse-proxy reload attempts, by result.",
		}, []string{"result"}),
		BootstrapRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleet",
			Name:      "bootstrap_runs_total",
			Help:      "System-apps bootstrap loop install attempts, by app and result.",
		}, []string{"app", "result"}),
	}
	reg.MustRegister(
		r.CommandsTotal, r.CommandDuration, r.AgentsConnected,
		r.DeploymentsByState, r.ProxyReloadsTotal, r.BootstrapRunsTotal,
	)
	return r
}
