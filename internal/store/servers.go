package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hostfleet/orchestrator/internal/core/apperr"
	"github.com/hostfleet/orchestrator/internal/core/ids"
	"github.com/hostfleet/orchestrator/internal/model"
	"github.com/hostfleet/orchestrator/internal/store/sqlutil"
)

type serverStore struct {
	db *sql.DB
}

func (s *serverStore) Create(ctx context.Context, srv model.Server) (model.Server, error) {
	if srv.ID == "" {
		srv.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO servers (id, name, host, is_core, agent_status, auth_token_hash)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, srv.ID, srv.Name, srv.Host, srv.IsCore, string(srv.AgentStatus), srv.AuthTokenHash)
	if err != nil {
		return model.Server{}, fmt.Errorf("store: create server: %w", err)
	}
	return srv, nil
}

func (s *serverStore) scanRow(row *sql.Row) (model.Server, error) {
	var srv model.Server
	var agentStatus string
	var metricsJSON, networkJSON sql.NullString
	var lastSeen sql.NullTime
	err := row.Scan(&srv.ID, &srv.Name, &srv.Host, &srv.IsCore, &agentStatus,
		&srv.AuthTokenHash, &metricsJSON, &networkJSON, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Server{}, apperr.NotFoundf("server", "")
	}
	if err != nil {
		return model.Server{}, fmt.Errorf("store: scan server: %w", err)
	}
	srv.AgentStatus = model.AgentStatus(agentStatus)
	srv.LastSeen = sqlutil.NullTimeToPtr(lastSeen)
	if metricsJSON.Valid && metricsJSON.String != "" {
		var m model.Metrics
		if err := json.Unmarshal([]byte(metricsJSON.String), &m); err == nil {
			srv.Metrics = &m
		}
	}
	if networkJSON.Valid && networkJSON.String != "" {
		var n model.NetworkInfo
		if err := json.Unmarshal([]byte(networkJSON.String), &n); err == nil {
			srv.NetworkInfo = &n
		}
	}
	return srv, nil
}

func (s *serverStore) Get(ctx context.Context, id string) (model.Server, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, host, is_core, agent_status, auth_token_hash, metrics, network_info, last_seen
		FROM servers WHERE id = $1
	`, id)
	return s.scanRow(row)
}

func (s *serverStore) GetByHost(ctx context.Context, host string) (model.Server, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, host, is_core, agent_status, auth_token_hash, metrics, network_info, last_seen
		FROM servers WHERE host = $1
	`, host)
	return s.scanRow(row)
}

func (s *serverStore) List(ctx context.Context) ([]model.Server, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, host, is_core, agent_status, auth_token_hash, metrics, network_info, last_seen
		FROM servers ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list servers: %w", err)
	}
	defer rows.Close()

	var out []model.Server
	for rows.Next() {
		var srv model.Server
		var agentStatus string
		var metricsJSON, networkJSON sql.NullString
		var lastSeen sql.NullTime
		if err := rows.Scan(&srv.ID, &srv.Name, &srv.Host, &srv.IsCore, &agentStatus,
			&srv.AuthTokenHash, &metricsJSON, &networkJSON, &lastSeen); err != nil {
			return nil, fmt.Errorf("store: scan server row: %w", err)
		}
		srv.AgentStatus = model.AgentStatus(agentStatus)
		srv.LastSeen = sqlutil.NullTimeToPtr(lastSeen)
		if metricsJSON.Valid && metricsJSON.String != "" {
			var m model.Metrics
			if err := json.Unmarshal([]byte(metricsJSON.String), &m); err == nil {
				srv.Metrics = &m
			}
		}
		if networkJSON.Valid && networkJSON.String != "" {
			var n model.NetworkInfo
			if err := json.Unmarshal([]byte(networkJSON.String), &n); err == nil {
				srv.NetworkInfo = &n
			}
		}
		out = append(out, srv)
	}
	return out, rows.Err()
}

func (s *serverStore) Update(ctx context.Context, srv model.Server) (model.Server, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE servers SET name = $2, host = $3, agent_status = $4, auth_token_hash = $5
		WHERE id = $1
	`, srv.ID, srv.Name, srv.Host, string(srv.AgentStatus), srv.AuthTokenHash)
	if err != nil {
		return model.Server{}, fmt.Errorf("store: update server: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Server{}, apperr.NotFoundf("server", srv.ID)
	}
	return srv, nil
}

func (s *serverStore) Delete(ctx context.Context, id string) error {
	srv, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if srv.IsCore {
		return apperr.Invalid("id", "the core server cannot be deleted")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM servers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: delete server: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFoundf("server", id)
	}
	return nil
}

func (s *serverStore) UpdateAgentStatus(ctx context.Context, id string, status model.AgentStatus, metrics *model.Metrics) error {
	var metricsJSON []byte
	if metrics != nil {
		b, err := json.Marshal(metrics)
		if err != nil {
			return fmt.Errorf("store: marshal metrics: %w", err)
		}
		metricsJSON = b
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE servers SET agent_status = $2, metrics = $3, last_seen = now()
		WHERE id = $1
	`, id, string(status), sqlutil.ToNullString(string(metricsJSON)))
	if err != nil {
		return fmt.Errorf("store: update agent status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFoundf("server", id)
	}
	return nil
}
