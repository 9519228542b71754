// Package logging provides a thin, shared logrus wrapper used by every
// orchestrator and agent process in this repository.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Config controls how a Logger is constructed.
type Config struct {
	Level  string // panic, fatal, error, warn, info, debug, trace
	Format string // "json" or "text"
	Output io.Writer
}

// New creates a logger per Config. An empty Level defaults to info; an
// empty Format defaults to text; a nil Output defaults to stderr.
func New(cfg Config) *logrus.Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if cfg.Output != nil {
		log.SetOutput(cfg.Output)
	} else {
		log.SetOutput(os.Stderr)
	}

	return log
}

// Component returns a FieldLogger scoped with a "component" field, the
// convention every package in this repository uses instead of reaching for
// a package-level logger global.
func Component(log *logrus.Logger, name string) logrus.FieldLogger {
	return log.WithField("component", name)
}
