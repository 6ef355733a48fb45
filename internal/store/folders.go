package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"filewarden/internal/model"
)

// CreateFolder registers a monitored directory.
func (s *Store) CreateFolder(ctx context.Context, f *model.Folder) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO folders (name, path, owner_id, created_at)
		VALUES (?, ?, ?, ?)
	`, f.Name, f.Path, f.OwnerID, now)
	if err != nil {
		return WrapQueryError("CreateFolder", "folders", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return WrapQueryError("CreateFolder", "folders", err)
	}
	f.ID = id
	f.CreatedAt = now
	return nil
}

// GetFolder returns one folder by id.
func (s *Store) GetFolder(ctx context.Context, id int64) (*model.Folder, error) {
	var f model.Folder
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, path, owner_id, created_at, modified_at
		FROM folders WHERE id = ?
	`, id).Scan(&f.ID, &f.Name, &f.Path, &f.OwnerID, &f.CreatedAt, &f.ModifiedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, WrapNotFoundError("GetFolder", "folders", id)
	}
	if err != nil {
		return nil, WrapQueryError("GetFolder", "folders", err)
	}
	return &f, nil
}

// GetFolderByPath returns the folder registered at the given path.
func (s *Store) GetFolderByPath(ctx context.Context, path string) (*model.Folder, error) {
	var f model.Folder
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, path, owner_id, created_at, modified_at
		FROM folders WHERE path = ?
	`, path).Scan(&f.ID, &f.Name, &f.Path, &f.OwnerID, &f.CreatedAt, &f.ModifiedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &StoreError{Op: "GetFolderByPath", Table: "folders", Err: ErrNotFound}
	}
	if err != nil {
		return nil, WrapQueryError("GetFolderByPath", "folders", err)
	}
	return &f, nil
}

// ListFolders returns all monitored folders ordered by id.
func (s *Store) ListFolders(ctx context.Context) ([]model.Folder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, path, owner_id, created_at, modified_at
		FROM folders ORDER BY id
	`)
	if err != nil {
		return nil, WrapQueryError("ListFolders", "folders", err)
	}
	defer rows.Close()

	var out []model.Folder
	for rows.Next() {
		var f model.Folder
		if err := rows.Scan(&f.ID, &f.Name, &f.Path, &f.OwnerID,
			&f.CreatedAt, &f.ModifiedAt); err != nil {
			return nil, WrapQueryError("ListFolders", "folders", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// TouchFolder updates a folder's modified_at timestamp.
func (s *Store) TouchFolder(ctx context.Context, id int64, when time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE folders SET modified_at = ? WHERE id = ?", when.UTC(), id)
	if err != nil {
		return WrapQueryError("TouchFolder", "folders", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return WrapQueryError("TouchFolder", "folders", err)
	}
	if n == 0 {
		return WrapNotFoundError("TouchFolder", "folders", id)
	}
	return nil
}
