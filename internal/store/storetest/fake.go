// Package storetest provides an in-memory Store for unit tests that need
// persistence without a real PostgreSQL instance, following the
// teacher's applyDefaults-to-memory-store fallback pattern.
package storetest

import (
	"context"
	"sync"

	"github.com/hostfleet/orchestrator/internal/core/apperr"
	"github.com/hostfleet/orchestrator/internal/core/ids"
	"github.com/hostfleet/orchestrator/internal/model"
	"github.com/hostfleet/orchestrator/internal/store"
)

// New builds a fully in-memory *store.Store.
func New() *store.Store {
	return &store.Store{
		Servers:        &servers{rows: map[string]model.Server{}},
		Deployments:    &deployments{rows: map[string]model.Deployment{}},
		ServiceRecords: &serviceRecords{rows: map[string]model.ServiceRecord{}},
		ProxyRoutes:    &proxyRoutes{rows: map[string]model.ProxyRoute{}},
		ServiceRoutes:  &serviceRoutes{rows: map[string]model.ServiceRoute{}},
		Secrets:        &secrets{rows: map[string]model.SecretBlob{}},
		Audit:          &audit{},
		Users:          &users{rows: map[string]model.User{}},
	}
}

type servers struct {
	mu   sync.Mutex
	rows map[string]model.Server
}

func (s *servers) Create(_ context.Context, srv model.Server) (model.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if srv.ID == "" {
		srv.ID = ids.New()
	}
	s.rows[srv.ID] = srv
	return srv, nil
}

func (s *servers) Get(_ context.Context, id string) (model.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	srv, ok := s.rows[id]
	if !ok {
		return model.Server{}, apperr.NotFoundf("server", id)
	}
	return srv, nil
}

func (s *servers) GetByHost(_ context.Context, host string) (model.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, srv := range s.rows {
		if srv.Host == host {
			return srv, nil
		}
	}
	return model.Server{}, apperr.NotFoundf("server", host)
}

func (s *servers) List(_ context.Context) ([]model.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Server, 0, len(s.rows))
	for _, srv := range s.rows {
		out = append(out, srv)
	}
	return out, nil
}

func (s *servers) Update(_ context.Context, srv model.Server) (model.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[srv.ID]; !ok {
		return model.Server{}, apperr.NotFoundf("server", srv.ID)
	}
	s.rows[srv.ID] = srv
	return srv, nil
}

func (s *servers) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	srv, ok := s.rows[id]
	if !ok {
		return apperr.NotFoundf("server", id)
	}
	if srv.IsCore {
		return apperr.Invalid("id", "the core server cannot be deleted")
	}
	delete(s.rows, id)
	return nil
}

func (s *servers) UpdateAgentStatus(_ context.Context, id string, status model.AgentStatus, metrics *model.Metrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	srv, ok := s.rows[id]
	if !ok {
		return apperr.NotFoundf("server", id)
	}
	srv.AgentStatus = status
	srv.Metrics = metrics
	s.rows[id] = srv
	return nil
}

type deployments struct {
	mu   sync.Mutex
	rows map[string]model.Deployment
}

func (d *deployments) Create(_ context.Context, dep model.Deployment) (model.Deployment, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if dep.ID == "" {
		dep.ID = ids.New()
	}
	d.rows[dep.ID] = dep
	return dep, nil
}

func (d *deployments) Get(_ context.Context, id string) (model.Deployment, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dep, ok := d.rows[id]
	if !ok {
		return model.Deployment{}, apperr.NotFoundf("deployment", id)
	}
	return dep, nil
}

func (d *deployments) list(filter func(model.Deployment) bool) ([]model.Deployment, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []model.Deployment
	for _, dep := range d.rows {
		if filter == nil || filter(dep) {
			out = append(out, dep)
		}
	}
	return out, nil
}

func (d *deployments) List(_ context.Context) ([]model.Deployment, error) { return d.list(nil) }

func (d *deployments) ListByServer(_ context.Context, serverID string) ([]model.Deployment, error) {
	return d.list(func(dep model.Deployment) bool { return dep.ServerID == serverID })
}

func (d *deployments) ListByApp(_ context.Context, appName string) ([]model.Deployment, error) {
	return d.list(func(dep model.Deployment) bool { return dep.AppName == appName })
}

func (d *deployments) ListByGroup(_ context.Context, groupID string) ([]model.Deployment, error) {
	return d.list(func(dep model.Deployment) bool { return dep.GroupID == groupID })
}

func (d *deployments) Update(_ context.Context, dep model.Deployment) (model.Deployment, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.rows[dep.ID]; !ok {
		return model.Deployment{}, apperr.NotFoundf("deployment", dep.ID)
	}
	d.rows[dep.ID] = dep
	return dep, nil
}

func (d *deployments) UpdateStatus(_ context.Context, id string, status model.DeploymentStatus, message string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	dep, ok := d.rows[id]
	if !ok {
		return apperr.NotFoundf("deployment", id)
	}
	dep.Status, dep.StatusMessage = status, message
	d.rows[id] = dep
	return nil
}

func (d *deployments) Delete(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.rows[id]; !ok {
		return apperr.NotFoundf("deployment", id)
	}
	delete(d.rows, id)
	return nil
}

type serviceRecords struct {
	mu   sync.Mutex
	rows map[string]model.ServiceRecord
}

func (s *serviceRecords) Upsert(_ context.Context, r model.ServiceRecord) (model.ServiceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.rows {
		if existing.DeploymentID == r.DeploymentID && existing.ServiceName == r.ServiceName {
			r.ID = id
			s.rows[id] = r
			return r, nil
		}
	}
	if r.ID == "" {
		r.ID = ids.New()
	}
	s.rows[r.ID] = r
	return r, nil
}

func (s *serviceRecords) Get(_ context.Context, id string) (model.ServiceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return model.ServiceRecord{}, apperr.NotFoundf("service record", id)
	}
	return r, nil
}

func (s *serviceRecords) ListByDeployment(_ context.Context, deploymentID string) ([]model.ServiceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ServiceRecord
	for _, r := range s.rows {
		if r.DeploymentID == deploymentID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *serviceRecords) ListByName(_ context.Context, name string) ([]model.ServiceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ServiceRecord
	for _, r := range s.rows {
		if r.ServiceName == name {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *serviceRecords) ListAll(_ context.Context) ([]model.ServiceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ServiceRecord, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, r)
	}
	return out, nil
}

func (s *serviceRecords) SetStatus(_ context.Context, id string, status model.ServiceStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return apperr.NotFoundf("service record", id)
	}
	r.Status = status
	s.rows[id] = r
	return nil
}

func (s *serviceRecords) DeleteByDeployment(_ context.Context, deploymentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.rows {
		if r.DeploymentID == deploymentID {
			delete(s.rows, id)
		}
	}
	return nil
}

type proxyRoutes struct {
	mu   sync.Mutex
	rows map[string]model.ProxyRoute
}

func (p *proxyRoutes) Upsert(_ context.Context, r model.ProxyRoute) (model.ProxyRoute, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, existing := range p.rows {
		if existing.DeploymentID == r.DeploymentID && existing.Path == r.Path {
			r.ID = id
			p.rows[id] = r
			return r, nil
		}
	}
	if r.ID == "" {
		r.ID = ids.New()
	}
	p.rows[r.ID] = r
	return r, nil
}

func (p *proxyRoutes) ListActive(_ context.Context) ([]model.ProxyRoute, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []model.ProxyRoute
	for _, r := range p.rows {
		if r.Active {
			out = append(out, r)
		}
	}
	return out, nil
}

func (p *proxyRoutes) DeleteByDeployment(_ context.Context, deploymentID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, r := range p.rows {
		if r.DeploymentID == deploymentID {
			delete(p.rows, id)
		}
	}
	return nil
}

type serviceRoutes struct {
	mu   sync.Mutex
	rows map[string]model.ServiceRoute
}

func (s *serviceRoutes) Upsert(_ context.Context, r model.ServiceRoute) (model.ServiceRoute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.rows {
		if existing.ServiceID == r.ServiceID {
			r.ID = id
			s.rows[id] = r
			return r, nil
		}
	}
	if r.ID == "" {
		r.ID = ids.New()
	}
	s.rows[r.ID] = r
	return r, nil
}

func (s *serviceRoutes) ListActive(_ context.Context) ([]model.ServiceRoute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ServiceRoute
	for _, r := range s.rows {
		if r.Active {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *serviceRoutes) DeleteByService(_ context.Context, serviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.rows {
		if r.ServiceID == serviceID {
			delete(s.rows, id)
		}
	}
	return nil
}

type secrets struct {
	mu   sync.Mutex
	rows map[string]model.SecretBlob
}

func (s *secrets) Put(_ context.Context, b model.SecretBlob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[b.DeploymentID] = b
	return nil
}

func (s *secrets) Get(_ context.Context, deploymentID string) (model.SecretBlob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.rows[deploymentID]
	if !ok {
		return model.SecretBlob{}, apperr.NotFoundf("secret", deploymentID)
	}
	return b, nil
}

func (s *secrets) Delete(_ context.Context, deploymentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, deploymentID)
	return nil
}

type audit struct {
	mu   sync.Mutex
	rows []model.AuditRecord
}

func (a *audit) Append(_ context.Context, r model.AuditRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if r.ID == "" {
		r.ID = ids.New()
	}
	a.rows = append(a.rows, r)
	return nil
}

func (a *audit) List(_ context.Context, limit int) ([]model.AuditRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return lastN(a.rows, limit), nil
}

func (a *audit) ListByDeployment(_ context.Context, deploymentID string, limit int) ([]model.AuditRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var matched []model.AuditRecord
	for _, r := range a.rows {
		if r.DeployID == deploymentID {
			matched = append(matched, r)
		}
	}
	return lastN(matched, limit), nil
}

func lastN(rows []model.AuditRecord, limit int) []model.AuditRecord {
	if limit <= 0 || limit >= len(rows) {
		return append([]model.AuditRecord(nil), rows...)
	}
	return append([]model.AuditRecord(nil), rows[len(rows)-limit:]...)
}

type users struct {
	mu   sync.Mutex
	rows map[string]model.User
}

func (u *users) Create(_ context.Context, usr model.User) (model.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if usr.ID == "" {
		usr.ID = ids.New()
	}
	for _, existing := range u.rows {
		if existing.Username == usr.Username {
			return model.User{}, apperr.New(apperr.Conflict, "username already exists")
		}
	}
	u.rows[usr.ID] = usr
	return usr, nil
}

func (u *users) GetByUsername(_ context.Context, username string) (model.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, usr := range u.rows {
		if usr.Username == username {
			return usr, nil
		}
	}
	return model.User{}, apperr.NotFoundf("user", username)
}

func (u *users) List(_ context.Context) ([]model.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]model.User, 0, len(u.rows))
	for _, usr := range u.rows {
		out = append(out, usr)
	}
	return out, nil
}

func (u *users) Delete(_ context.Context, id string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.rows[id]; !ok {
		return apperr.NotFoundf("user", id)
	}
	delete(u.rows, id)
	return nil
}
