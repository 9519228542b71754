package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hostfleet/orchestrator/internal/core/apperr"
	"github.com/hostfleet/orchestrator/internal/core/ids"
	"github.com/hostfleet/orchestrator/internal/model"
	"github.com/hostfleet/orchestrator/internal/store/sqlutil"
)

type secretStore struct {
	db *sql.DB
}

func (s *secretStore) Put(ctx context.Context, b model.SecretBlob) error {
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO secret_blobs (deployment_id, ciphertext, created_at, updated_at, rotated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (deployment_id) DO UPDATE SET
			ciphertext = EXCLUDED.ciphertext, updated_at = EXCLUDED.updated_at, rotated_at = EXCLUDED.rotated_at
	`, b.DeploymentID, b.Ciphertext, b.CreatedAt, b.UpdatedAt, sqlutil.PtrToNullTime(b.RotatedAt))
	if err != nil {
		return fmt.Errorf("store: put secret blob: %w", err)
	}
	return nil
}

func (s *secretStore) Get(ctx context.Context, deploymentID string) (model.SecretBlob, error) {
	var b model.SecretBlob
	var rotatedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT deployment_id, ciphertext, created_at, updated_at, rotated_at
		FROM secret_blobs WHERE deployment_id = $1
	`, deploymentID).Scan(&b.DeploymentID, &b.Ciphertext, &b.CreatedAt, &b.UpdatedAt, &rotatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SecretBlob{}, apperr.NotFoundf("secret", deploymentID)
	}
	if err != nil {
		return model.SecretBlob{}, fmt.Errorf("store: get secret blob: %w", err)
	}
	b.RotatedAt = sqlutil.NullTimeToPtr(rotatedAt)
	return b, nil
}

func (s *secretStore) Delete(ctx context.Context, deploymentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM secret_blobs WHERE deployment_id = $1`, deploymentID)
	if err != nil {
		return fmt.Errorf("store: delete secret blob: %w", err)
	}
	return nil
}

type auditStore struct {
	db *sql.DB
}

func (s *auditStore) Append(ctx context.Context, r model.AuditRecord) error {
	if r.ID == "" {
		r.ID = ids.New()
	}
	if r.OccurredAt.IsZero() {
		r.OccurredAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, action, server_id, app_name, deploy_id, success, message, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, r.ID, r.Action, sqlutil.ToNullString(r.ServerID), sqlutil.ToNullString(r.AppName),
		sqlutil.ToNullString(r.DeployID), r.Success, r.Message, r.OccurredAt)
	if err != nil {
		return fmt.Errorf("store: append audit record: %w", err)
	}
	return nil
}

func scanAudit(scan func(dest ...any) error) (model.AuditRecord, error) {
	var r model.AuditRecord
	var serverID, appName, deployID sql.NullString
	err := scan(&r.ID, &r.Action, &serverID, &appName, &deployID, &r.Success, &r.Message, &r.OccurredAt)
	if err != nil {
		return model.AuditRecord{}, fmt.Errorf("store: scan audit record: %w", err)
	}
	r.ServerID = sqlutil.FromNullString(serverID)
	r.AppName = sqlutil.FromNullString(appName)
	r.DeployID = sqlutil.FromNullString(deployID)
	return r, nil
}

const auditCols = `id, action, server_id, app_name, deploy_id, success, message, occurred_at`

func (s *auditStore) List(ctx context.Context, limit int) ([]model.AuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+auditCols+` FROM audit_log ORDER BY occurred_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list audit records: %w", err)
	}
	defer rows.Close()
	var out []model.AuditRecord
	for rows.Next() {
		r, err := scanAudit(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *auditStore) ListByDeployment(ctx context.Context, deploymentID string, limit int) ([]model.AuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+auditCols+` FROM audit_log WHERE deploy_id = $1 ORDER BY occurred_at DESC LIMIT $2
	`, deploymentID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list audit records by deployment: %w", err)
	}
	defer rows.Close()
	var out []model.AuditRecord
	for rows.Next() {
		r, err := scanAudit(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
