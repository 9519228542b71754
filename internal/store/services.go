package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hostfleet/orchestrator/internal/core/apperr"
	"github.com/hostfleet/orchestrator/internal/core/ids"
	"github.com/hostfleet/orchestrator/internal/model"
)

type serviceRecordStore struct {
	db *sql.DB
}

const serviceRecordCols = `id, deployment_id, service_name, server_id, host, port, status`

func (s *serviceRecordStore) Upsert(ctx context.Context, r model.ServiceRecord) (model.ServiceRecord, error) {
	if r.ID == "" {
		r.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO service_records (id, deployment_id, service_name, server_id, host, port, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (deployment_id, service_name) DO UPDATE SET
			host = EXCLUDED.host, port = EXCLUDED.port, status = EXCLUDED.status, server_id = EXCLUDED.server_id
	`, r.ID, r.DeploymentID, r.ServiceName, r.ServerID, r.Host, r.Port, string(r.Status))
	if err != nil {
		return model.ServiceRecord{}, fmt.Errorf("store: upsert service record: %w", err)
	}
	return r, nil
}

func scanServiceRecord(scan func(dest ...any) error) (model.ServiceRecord, error) {
	var r model.ServiceRecord
	var status string
	err := scan(&r.ID, &r.DeploymentID, &r.ServiceName, &r.ServerID, &r.Host, &r.Port, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ServiceRecord{}, apperr.NotFoundf("service record", "")
	}
	if err != nil {
		return model.ServiceRecord{}, fmt.Errorf("store: scan service record: %w", err)
	}
	r.Status = model.ServiceStatus(status)
	return r, nil
}

func (s *serviceRecordStore) Get(ctx context.Context, id string) (model.ServiceRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+serviceRecordCols+` FROM service_records WHERE id = $1`, id)
	return scanServiceRecord(row.Scan)
}

func (s *serviceRecordStore) ListByDeployment(ctx context.Context, deploymentID string) ([]model.ServiceRecord, error) {
	return s.listWhere(ctx, "WHERE deployment_id = $1", deploymentID)
}

func (s *serviceRecordStore) ListByName(ctx context.Context, name string) ([]model.ServiceRecord, error) {
	return s.listWhere(ctx, "WHERE service_name = $1", name)
}

func (s *serviceRecordStore) ListAll(ctx context.Context) ([]model.ServiceRecord, error) {
	return s.listWhere(ctx, "")
}

func (s *serviceRecordStore) listWhere(ctx context.Context, where string, args ...any) ([]model.ServiceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+serviceRecordCols+` FROM service_records `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list service records: %w", err)
	}
	defer rows.Close()
	var out []model.ServiceRecord
	for rows.Next() {
		r, err := scanServiceRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *serviceRecordStore) SetStatus(ctx context.Context, id string, status model.ServiceStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE service_records SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("store: set service status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFoundf("service record", id)
	}
	return nil
}

func (s *serviceRecordStore) DeleteByDeployment(ctx context.Context, deploymentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM service_records WHERE deployment_id = $1`, deploymentID)
	if err != nil {
		return fmt.Errorf("store: delete service records: %w", err)
	}
	return nil
}

type proxyRouteStore struct {
	db *sql.DB
}

func (s *proxyRouteStore) Upsert(ctx context.Context, r model.ProxyRoute) (model.ProxyRoute, error) {
	if r.ID == "" {
		r.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO proxy_routes (id, deployment_id, path, upstream, active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (deployment_id, path) DO UPDATE SET upstream = EXCLUDED.upstream, active = EXCLUDED.active
	`, r.ID, r.DeploymentID, r.Path, r.Upstream, r.Active)
	if err != nil {
		return model.ProxyRoute{}, fmt.Errorf("store: upsert proxy route: %w", err)
	}
	return r, nil
}

func (s *proxyRouteStore) ListActive(ctx context.Context) ([]model.ProxyRoute, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, deployment_id, path, upstream, active FROM proxy_routes WHERE active = true
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list proxy routes: %w", err)
	}
	defer rows.Close()
	var out []model.ProxyRoute
	for rows.Next() {
		var r model.ProxyRoute
		if err := rows.Scan(&r.ID, &r.DeploymentID, &r.Path, &r.Upstream, &r.Active); err != nil {
			return nil, fmt.Errorf("store: scan proxy route: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *proxyRouteStore) DeleteByDeployment(ctx context.Context, deploymentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM proxy_routes WHERE deployment_id = $1`, deploymentID)
	if err != nil {
		return fmt.Errorf("store: delete proxy routes: %w", err)
	}
	return nil
}

type serviceRouteStore struct {
	db *sql.DB
}

func (s *serviceRouteStore) Upsert(ctx context.Context, r model.ServiceRoute) (model.ServiceRoute, error) {
	if r.ID == "" {
		r.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO service_routes (id, service_id, route_type, external_path, external_port, upstream_host, upstream_port, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (service_id) DO UPDATE SET
			route_type = EXCLUDED.route_type, external_path = EXCLUDED.external_path,
			external_port = EXCLUDED.external_port, upstream_host = EXCLUDED.upstream_host,
			upstream_port = EXCLUDED.upstream_port, active = EXCLUDED.active
	`, r.ID, r.ServiceID, string(r.RouteType), r.ExternalPath, r.ExternalPort, r.UpstreamHost, r.UpstreamPort, r.Active)
	if err != nil {
		return model.ServiceRoute{}, fmt.Errorf("store: upsert service route: %w", err)
	}
	return r, nil
}

func (s *serviceRouteStore) ListActive(ctx context.Context) ([]model.ServiceRoute, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, service_id, route_type, external_path, external_port, upstream_host, upstream_port, active
		FROM service_routes WHERE active = true
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list service routes: %w", err)
	}
	defer rows.Close()
	var out []model.ServiceRoute
	for rows.Next() {
		var r model.ServiceRoute
		var routeType string
		if err := rows.Scan(&r.ID, &r.ServiceID, &routeType, &r.ExternalPath, &r.ExternalPort,
			&r.UpstreamHost, &r.UpstreamPort, &r.Active); err != nil {
			return nil, fmt.Errorf("store: scan service route: %w", err)
		}
		r.RouteType = model.RouteType(routeType)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *serviceRouteStore) DeleteByService(ctx context.Context, serviceID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM service_routes WHERE service_id = $1`, serviceID)
	if err != nil {
		return fmt.Errorf("store: delete service routes: %w", err)
	}
	return nil
}
