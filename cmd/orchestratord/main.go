// Package main is the orchestrator daemon: the control-plane process
// that accepts agent sessions, runs the deployer, and keeps the proxy
// and mandatory-app bootstrap loops going, per spec.md §2's component
// overview.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hostfleet/orchestrator/internal/audit"
	"github.com/hostfleet/orchestrator/internal/bootstrap"
	"github.com/hostfleet/orchestrator/internal/catalog"
	"github.com/hostfleet/orchestrator/internal/config"
	"github.com/hostfleet/orchestrator/internal/deployer"
	"github.com/hostfleet/orchestrator/internal/logging"
	"github.com/hostfleet/orchestrator/internal/metrics"
	"github.com/hostfleet/orchestrator/internal/mutex"
	"github.com/hostfleet/orchestrator/internal/proxy"
	"github.com/hostfleet/orchestrator/internal/registry"
	"github.com/hostfleet/orchestrator/internal/resolver"
	"github.com/hostfleet/orchestrator/internal/secrets"
	"github.com/hostfleet/orchestrator/internal/session"
	"github.com/hostfleet/orchestrator/internal/store"
)

func main() {
	cfg, err := config.LoadOrchestrator()
	if err != nil {
		log.Fatalf("orchestratord: config: %v", err)
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	fieldLog := logging.Component(logger, "orchestratord")

	if err := store.Migrate(cfg.DatabaseDSN); err != nil {
		fieldLog.WithError(err).Fatal("orchestratord: migration failed")
	}
	pg, err := store.Open(cfg.DatabaseDSN)
	if err != nil {
		fieldLog.WithError(err).Fatal("orchestratord: failed to open database")
	}
	defer pg.Close()
	st := pg.AsStore()

	secretMgr, err := secrets.NewManager(cfg.MasterKeyHex, cfg.DevMasterKey)
	if err != nil {
		fieldLog.WithError(err).Fatal("orchestratord: failed to init secrets manager")
	}

	locks := buildLocker(cfg)

	manifests, err := catalog.Load(cfg.ManifestDir)
	if err != nil {
		fieldLog.WithError(err).Fatal("orchestratord: failed to load app manifests")
	}

	metricsReg := metrics.New(prometheus.DefaultRegisterer)

	reg := registry.New(st.ServiceRecords, cfg.PortRangeStart, cfg.PortRangeEnd)
	res := resolver.New(reg)
	auditRecorder := audit.New(logging.Component(logger, "audit"), st.Audit)
	proxyMgr := proxy.New(logging.Component(logger, "proxy"), st, cfg.ProxyAdminURL, 2*time.Second)
	sessionMgr := session.New(logging.Component(logger, "session"), st, metricsReg)

	dep := deployer.New(
		logging.Component(logger, "deployer"),
		st, manifests, sessionMgr, reg, res, secretMgr, locks, proxyMgr, auditRecorder,
	)

	bootstrapRunner := bootstrap.New(logging.Component(logger, "bootstrap"), st, manifests, dep, metricsReg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := bootstrapRunner.Start(ctx); err != nil {
		fieldLog.WithError(err).Fatal("orchestratord: failed to start bootstrap runner")
	}
	defer bootstrapRunner.Stop()

	mux := http.NewServeMux()
	mux.Handle("/session", agentAuth(logging.Component(logger, "auth"), st, sessionMgr))
	sessionServer := &http.Server{Addr: cfg.SessionAddr, Handler: mux}

	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fieldLog.WithError(err).Error("orchestratord: metrics server failed")
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- sessionServer.ListenAndServe() }()

	fieldLog.WithField("sessionAddr", cfg.SessionAddr).Info("orchestratord: started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		fieldLog.WithField("signal", sig.String()).Info("orchestratord: shutting down")
		sessionMgr.ShutdownAll(30, "orchestrator restarting")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 35*time.Second)
		defer shutdownCancel()
		_ = sessionServer.Shutdown(shutdownCtx)
		if metricsServer != nil {
			_ = metricsServer.Shutdown(shutdownCtx)
		}
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			fieldLog.WithError(err).Fatal("orchestratord: session server failed")
		}
	}
}

func buildLocker(cfg *config.Orchestrator) mutex.Locker {
	if cfg.RedisAddr == "" {
		return mutex.NewLocal()
	}
	return mutex.NewRedis(cfg.RedisAddr, 30*time.Second)
}
