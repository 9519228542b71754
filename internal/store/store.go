// Package store defines the persistence interfaces the orchestrator uses
// and a PostgreSQL-backed implementation, following the teacher's plain
// database/sql-plus-lib/pq style (no ORM, no query builder).
package store

import (
	"context"

	"github.com/hostfleet/orchestrator/internal/model"
)

// Servers persists fleet host records.
type Servers interface {
	Create(ctx context.Context, s model.Server) (model.Server, error)
	Get(ctx context.Context, id string) (model.Server, error)
	GetByHost(ctx context.Context, host string) (model.Server, error)
	List(ctx context.Context) ([]model.Server, error)
	Update(ctx context.Context, s model.Server) (model.Server, error)
	Delete(ctx context.Context, id string) error
	UpdateAgentStatus(ctx context.Context, id string, status model.AgentStatus, metrics *model.Metrics) error
}

// Deployments persists app installations.
type Deployments interface {
	Create(ctx context.Context, d model.Deployment) (model.Deployment, error)
	Get(ctx context.Context, id string) (model.Deployment, error)
	List(ctx context.Context) ([]model.Deployment, error)
	ListByServer(ctx context.Context, serverID string) ([]model.Deployment, error)
	ListByApp(ctx context.Context, appName string) ([]model.Deployment, error)
	ListByGroup(ctx context.Context, groupID string) ([]model.Deployment, error)
	Update(ctx context.Context, d model.Deployment) (model.Deployment, error)
	UpdateStatus(ctx context.Context, id string, status model.DeploymentStatus, message string) error
	Delete(ctx context.Context, id string) error
}

// ServiceRecords persists the running services a deployment exposes.
type ServiceRecords interface {
	Upsert(ctx context.Context, r model.ServiceRecord) (model.ServiceRecord, error)
	Get(ctx context.Context, id string) (model.ServiceRecord, error)
	ListByDeployment(ctx context.Context, deploymentID string) ([]model.ServiceRecord, error)
	ListByName(ctx context.Context, name string) ([]model.ServiceRecord, error)
	ListAll(ctx context.Context) ([]model.ServiceRecord, error)
	SetStatus(ctx context.Context, id string, status model.ServiceStatus) error
	DeleteByDeployment(ctx context.Context, deploymentID string) error
}

// ProxyRoutes persists web-UI routes keyed by deployment.
type ProxyRoutes interface {
	Upsert(ctx context.Context, r model.ProxyRoute) (model.ProxyRoute, error)
	ListActive(ctx context.Context) ([]model.ProxyRoute, error)
	DeleteByDeployment(ctx context.Context, deploymentID string) error
}

// ServiceRoutes persists TCP/HTTP routes keyed by service.
type ServiceRoutesStore interface {
	Upsert(ctx context.Context, r model.ServiceRoute) (model.ServiceRoute, error)
	ListActive(ctx context.Context) ([]model.ServiceRoute, error)
	DeleteByService(ctx context.Context, serviceID string) error
}

// Secrets persists per-deployment encrypted secret blobs.
type Secrets interface {
	Put(ctx context.Context, b model.SecretBlob) error
	Get(ctx context.Context, deploymentID string) (model.SecretBlob, error)
	Delete(ctx context.Context, deploymentID string) error
}

// AuditLog persists append-only audit records.
type AuditLog interface {
	Append(ctx context.Context, r model.AuditRecord) error
	List(ctx context.Context, limit int) ([]model.AuditRecord, error)
	ListByDeployment(ctx context.Context, deploymentID string, limit int) ([]model.AuditRecord, error)
}

// Users persists human operator accounts for fleetctl / the admin API.
type Users interface {
	Create(ctx context.Context, u model.User) (model.User, error)
	GetByUsername(ctx context.Context, username string) (model.User, error)
	List(ctx context.Context) ([]model.User, error)
	Delete(ctx context.Context, id string) error
}

// Store aggregates every persistence surface the orchestrator needs, the
// way the teacher's `Stores` composition struct groups its repositories.
type Store struct {
	Servers        Servers
	Deployments    Deployments
	ServiceRecords ServiceRecords
	ProxyRoutes    ProxyRoutes
	ServiceRoutes  ServiceRoutesStore
	Secrets        Secrets
	Audit          AuditLog
	Users          Users
}
