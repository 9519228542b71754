package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hostfleet/orchestrator/internal/core/apperr"
	"github.com/hostfleet/orchestrator/internal/core/ids"
	"github.com/hostfleet/orchestrator/internal/model"
)

type deploymentStore struct {
	db *sql.DB
}

func (s *deploymentStore) Create(ctx context.Context, d model.Deployment) (model.Deployment, error) {
	if d.ID == "" {
		d.ID = ids.New()
	}
	configJSON, err := json.Marshal(d.Config)
	if err != nil {
		return model.Deployment{}, fmt.Errorf("store: marshal config: %w", err)
	}
	now := time.Now().UTC()
	d.InstalledAt, d.UpdatedAt = now, now
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO deployments (id, server_id, app_name, group_id, version, config, status, status_message, installed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, d.ID, d.ServerID, d.AppName, d.GroupID, d.Version, configJSON, string(d.Status), d.StatusMessage, d.InstalledAt, d.UpdatedAt)
	if err != nil {
		return model.Deployment{}, fmt.Errorf("store: create deployment: %w", err)
	}
	return d, nil
}

func scanDeployment(scan func(dest ...any) error) (model.Deployment, error) {
	var d model.Deployment
	var status string
	var configJSON []byte
	err := scan(&d.ID, &d.ServerID, &d.AppName, &d.GroupID, &d.Version, &configJSON,
		&status, &d.StatusMessage, &d.InstalledAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Deployment{}, apperr.NotFoundf("deployment", "")
	}
	if err != nil {
		return model.Deployment{}, fmt.Errorf("store: scan deployment: %w", err)
	}
	d.Status = model.DeploymentStatus(status)
	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &d.Config); err != nil {
			return model.Deployment{}, fmt.Errorf("store: unmarshal config: %w", err)
		}
	}
	return d, nil
}

const deploymentCols = `id, server_id, app_name, group_id, version, config, status, status_message, installed_at, updated_at`

func (s *deploymentStore) Get(ctx context.Context, id string) (model.Deployment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+deploymentCols+` FROM deployments WHERE id = $1`, id)
	return scanDeployment(row.Scan)
}

func (s *deploymentStore) listWhere(ctx context.Context, where string, args ...any) ([]model.Deployment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+deploymentCols+` FROM deployments `+where+` ORDER BY installed_at`, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list deployments: %w", err)
	}
	defer rows.Close()
	var out []model.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *deploymentStore) List(ctx context.Context) ([]model.Deployment, error) {
	return s.listWhere(ctx, "")
}

func (s *deploymentStore) ListByServer(ctx context.Context, serverID string) ([]model.Deployment, error) {
	return s.listWhere(ctx, "WHERE server_id = $1", serverID)
}

func (s *deploymentStore) ListByApp(ctx context.Context, appName string) ([]model.Deployment, error) {
	return s.listWhere(ctx, "WHERE app_name = $1", appName)
}

func (s *deploymentStore) ListByGroup(ctx context.Context, groupID string) ([]model.Deployment, error) {
	return s.listWhere(ctx, "WHERE group_id = $1", groupID)
}

func (s *deploymentStore) Update(ctx context.Context, d model.Deployment) (model.Deployment, error) {
	configJSON, err := json.Marshal(d.Config)
	if err != nil {
		return model.Deployment{}, fmt.Errorf("store: marshal config: %w", err)
	}
	d.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE deployments SET config = $2, status = $3, status_message = $4, updated_at = $5, version = $6
		WHERE id = $1
	`, d.ID, configJSON, string(d.Status), d.StatusMessage, d.UpdatedAt, d.Version)
	if err != nil {
		return model.Deployment{}, fmt.Errorf("store: update deployment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Deployment{}, apperr.NotFoundf("deployment", d.ID)
	}
	return d, nil
}

func (s *deploymentStore) UpdateStatus(ctx context.Context, id string, status model.DeploymentStatus, message string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE deployments SET status = $2, status_message = $3, updated_at = now() WHERE id = $1
	`, id, string(status), message)
	if err != nil {
		return fmt.Errorf("store: update deployment status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFoundf("deployment", id)
	}
	return nil
}

func (s *deploymentStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM deployments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: delete deployment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFoundf("deployment", id)
	}
	return nil
}
