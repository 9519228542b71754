// Package main is the agent daemon: the process that runs, unprivileged,
// on every fleet host and maintains a session with the orchestrator,
// per spec.md §4.2/§4.3.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hostfleet/orchestrator/internal/agent/executor"
	"github.com/hostfleet/orchestrator/internal/agent/session"
	"github.com/hostfleet/orchestrator/internal/config"
	"github.com/hostfleet/orchestrator/internal/logging"
)

func main() {
	cfg, err := config.LoadAgent()
	if err != nil {
		log.Fatalf("agentd: config: %v", err)
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	fieldLog := logging.Component(logger, "agentd")

	exec := executor.New(executor.Config{
		SandboxRoot:  cfg.SandboxRoot,
		HelperSocket: cfg.HelperSocket,
		DevMode:      cfg.Env == config.Development,
	}, logging.Component(logger, "executor"))

	client := session.New(*cfg, logging.Component(logger, "session"), exec)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- client.Run(ctx) }()

	fieldLog.WithField("orchestrator", cfg.OrchestratorURL).Info("agentd: started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		fieldLog.WithField("signal", sig.String()).Info("agentd: draining before shutdown")
		client.BeginDraining()
		waitForIdle(fieldLog, client, 30*time.Second)
		cancel()
		<-runErr
	case err := <-runErr:
		if err != nil {
			fieldLog.WithError(err).Fatal("agentd: session loop exited")
		}
	}
}

func waitForIdle(log logrus.FieldLogger, c *session.Client, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for c.ActiveCommands() > 0 && time.Now().Before(deadline) {
		time.Sleep(200 * time.Millisecond)
	}
	if n := c.ActiveCommands(); n > 0 {
		log.WithField("activeCommands", n).Warn("agentd: grace period elapsed with commands still in flight")
	}
}
