package store

import (
	"database/sql"

	_ "github.com/lib/pq"
)

// Postgres is the PostgreSQL-backed Store. Each entity's methods live in
// their own file (servers.go, deployments.go, ...), mirroring the
// teacher's one-file-per-aggregate layout.
type Postgres struct {
	db *sql.DB
}

// Open opens a PostgreSQL connection pool and wraps it as a Postgres
// store. Callers are responsible for running migrations separately via
// internal/store/migrate.
func Open(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// DB exposes the underlying pool, for the migration runner and tests.
func (p *Postgres) DB() *sql.DB { return p.db }

// Close closes the underlying connection pool.
func (p *Postgres) Close() error { return p.db.Close() }

// AsStore assembles the aggregate Store from this single Postgres
// connection, since every sub-interface here is backed by the same table
// set and pool.
func (p *Postgres) AsStore() *Store {
	return &Store{
		Servers:        &serverStore{db: p.db},
		Deployments:    &deploymentStore{db: p.db},
		ServiceRecords: &serviceRecordStore{db: p.db},
		ProxyRoutes:    &proxyRouteStore{db: p.db},
		ServiceRoutes:  &serviceRouteStore{db: p.db},
		Secrets:        &secretStore{db: p.db},
		Audit:          &auditStore{db: p.db},
		Users:          &userStore{db: p.db},
	}
}
