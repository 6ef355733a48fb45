package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"filewarden/internal/model"
)

// CreateUser inserts a new user and fills in its id and created_at.
func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, role, created_at)
		VALUES (?, ?, ?, ?)
	`, u.Username, u.PasswordHash, u.Role, now)
	if err != nil {
		if isUniqueViolation(err) {
			return &StoreError{Op: "CreateUser", Table: "users", Err: ErrDuplicate}
		}
		return WrapQueryError("CreateUser", "users", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return WrapQueryError("CreateUser", "users", err)
	}
	u.ID = id
	u.CreatedAt = now
	return nil
}

// GetUser returns one user by id.
func (s *Store) GetUser(ctx context.Context, id int64) (*model.User, error) {
	u, err := s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, role, created_at, last_login
		FROM users WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, WrapNotFoundError("GetUser", "users", id)
	}
	if err != nil {
		return nil, WrapQueryError("GetUser", "users", err)
	}
	return u, nil
}

// GetUserByUsername returns one user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	u, err := s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, role, created_at, last_login
		FROM users WHERE username = ?
	`, username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &StoreError{Op: "GetUserByUsername", Table: "users", Err: ErrNotFound}
	}
	if err != nil {
		return nil, WrapQueryError("GetUserByUsername", "users", err)
	}
	return u, nil
}

// UpdateLastLogin records a successful login time.
func (s *Store) UpdateLastLogin(ctx context.Context, id int64, when time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET last_login = ? WHERE id = ?", when.UTC(), id)
	if err != nil {
		return WrapQueryError("UpdateLastLogin", "users", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return WrapQueryError("UpdateLastLogin", "users", err)
	}
	if n == 0 {
		return WrapNotFoundError("UpdateLastLogin", "users", id)
	}
	return nil
}

// ListUsers returns all users ordered by id.
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, password_hash, role, created_at, last_login
		FROM users ORDER BY id
	`)
	if err != nil {
		return nil, WrapQueryError("ListUsers", "users", err)
	}
	defer rows.Close()

	var out []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role,
			&u.CreatedAt, &u.LastLogin); err != nil {
			return nil, WrapQueryError("ListUsers", "users", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanUser(row rowScanner) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role,
		&u.CreatedAt, &u.LastLogin); err != nil {
		return nil, err
	}
	return &u, nil
}
