// Package audit records operator- and system-triggered actions against
// the append-only audit log, and mirrors each entry to the structured
// logger so a tail of orchestratord's log is a readable activity feed.
package audit

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hostfleet/orchestrator/internal/model"
	"github.com/hostfleet/orchestrator/internal/store"
)

// Recorder appends audit records and logs them.
type Recorder struct {
	log   logrus.FieldLogger
	audit store.AuditLog
}

// New builds a Recorder.
func New(log logrus.FieldLogger, audit store.AuditLog) *Recorder {
	return &Recorder{log: log, audit: audit}
}

// Record appends an audit entry. Append failures are logged but never
// returned, since a missed audit row must not fail the action it
// describes.
func (r *Recorder) Record(ctx context.Context, action, serverID, appName, deployID string, success bool, message string) {
	rec := model.AuditRecord{
		Action:     action,
		ServerID:   serverID,
		AppName:    appName,
		DeployID:   deployID,
		Success:    success,
		Message:    message,
		OccurredAt: time.Now().UTC(),
	}
	entry := r.log.WithFields(logrus.Fields{
		"action":    action,
		"serverId":  serverID,
		"appName":   appName,
		"deployId":  deployID,
		"success":   success,
	})
	if success {
		entry.Info(message)
	} else {
		entry.Warn(message)
	}
	if err := r.audit.Append(ctx, rec); err != nil {
		r.log.WithError(err).Error("audit: failed to persist record")
	}
}
