// Package main is the privileged helper daemon: the only process in the
// fleet that runs as root, per spec.md §4.1. It does nothing but listen
// on a unix socket and dispatch allow-listed requests.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hostfleet/orchestrator/internal/config"
	"github.com/hostfleet/orchestrator/internal/helper"
)

func main() {
	cfg, err := config.LoadHelper()
	if err != nil {
		log.Fatalf("helperd: config: %v", err)
	}

	zerolog.SetGlobalLevel(parseZerologLevel(cfg.LogLevel))
	var zlog zerolog.Logger
	if cfg.LogFormat == "text" {
		zlog = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	} else {
		zlog = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	allow, err := helper.LoadAllowList(cfg.AllowListPath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("helperd: failed to load allow-list")
	}
	registry, err := helper.NewServiceRegistry(cfg.RegistryDir)
	if err != nil {
		zlog.Fatal().Err(err).Msg("helperd: failed to open service registry")
	}

	h := helper.NewHandler(zlog, allow, registry)
	srv, err := helper.Listen(zlog, h, cfg.SocketPath, cfg.SocketPerm)
	if err != nil {
		zlog.Fatal().Err(err).Msg("helperd: failed to listen")
	}

	ctx, cancel := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx) }()

	zlog.Info().Str("socket", cfg.SocketPath).Msg("helperd: listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		zlog.Info().Str("signal", sig.String()).Msg("helperd: shutting down")
		cancel()
		<-serveErr
	case err := <-serveErr:
		if err != nil {
			zlog.Fatal().Err(err).Msg("helperd: serve failed")
		}
	}
}

func parseZerologLevel(level string) zerolog.Level {
	l, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return l
}
