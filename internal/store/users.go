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

type userStore struct {
	db *sql.DB
}

func (s *userStore) Create(ctx context.Context, u model.User) (model.User, error) {
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.Role == "" {
		u.Role = model.RoleAdmin
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, role, created_at)
		VALUES ($1, $2, $3, $4, now())
	`, u.ID, u.Username, u.PasswordHash, u.Role)
	if err != nil {
		return model.User{}, fmt.Errorf("store: create user: %w", err)
	}
	return s.GetByUsername(ctx, u.Username)
}

func (s *userStore) GetByUsername(ctx context.Context, username string) (model.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, role, created_at FROM users WHERE username = $1
	`, username)
	var u model.User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, apperr.NotFoundf("user", username)
	}
	if err != nil {
		return model.User{}, fmt.Errorf("store: scan user: %w", err)
	}
	return u, nil
}

func (s *userStore) List(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, password_hash, role, created_at FROM users ORDER BY username
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list users: %w", err)
	}
	defer rows.Close()

	var out []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan user row: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *userStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: delete user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFoundf("user", id)
	}
	return nil
}
