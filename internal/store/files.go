package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"filewarden/internal/model"
)

// CreateFile registers a file inside a monitored folder.
func (s *Store) CreateFile(ctx context.Context, f *model.File) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO files (name, path, folder_id, owner_id, created_at, hash)
		VALUES (?, ?, ?, ?, ?, ?)
	`, f.Name, f.Path, f.FolderID, f.OwnerID, now, f.Hash)
	if err != nil {
		return WrapQueryError("CreateFile", "files", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return WrapQueryError("CreateFile", "files", err)
	}
	f.ID = id
	f.CreatedAt = now
	return nil
}

// GetFile returns one file by id.
func (s *Store) GetFile(ctx context.Context, id int64) (*model.File, error) {
	var f model.File
	var hash sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, path, folder_id, owner_id, created_at, modified_at, hash
		FROM files WHERE id = ?
	`, id).Scan(&f.ID, &f.Name, &f.Path, &f.FolderID, &f.OwnerID,
		&f.CreatedAt, &f.ModifiedAt, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, WrapNotFoundError("GetFile", "files", id)
	}
	if err != nil {
		return nil, WrapQueryError("GetFile", "files", err)
	}
	f.Hash = hash.String
	return &f, nil
}

// GetFileByPath returns the file registered at the given path.
func (s *Store) GetFileByPath(ctx context.Context, path string) (*model.File, error) {
	var f model.File
	var hash sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, path, folder_id, owner_id, created_at, modified_at, hash
		FROM files WHERE path = ?
	`, path).Scan(&f.ID, &f.Name, &f.Path, &f.FolderID, &f.OwnerID,
		&f.CreatedAt, &f.ModifiedAt, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &StoreError{Op: "GetFileByPath", Table: "files", Err: ErrNotFound}
	}
	if err != nil {
		return nil, WrapQueryError("GetFileByPath", "files", err)
	}
	f.Hash = hash.String
	return &f, nil
}

// ListFilesByFolder returns all files registered under a folder.
func (s *Store) ListFilesByFolder(ctx context.Context, folderID int64) ([]model.File, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, path, folder_id, owner_id, created_at, modified_at, hash
		FROM files WHERE folder_id = ? ORDER BY id
	`, folderID)
	if err != nil {
		return nil, WrapQueryError("ListFilesByFolder", "files", err)
	}
	defer rows.Close()

	var out []model.File
	for rows.Next() {
		var f model.File
		var hash sql.NullString
		if err := rows.Scan(&f.ID, &f.Name, &f.Path, &f.FolderID, &f.OwnerID,
			&f.CreatedAt, &f.ModifiedAt, &hash); err != nil {
			return nil, WrapQueryError("ListFilesByFolder", "files", err)
		}
		f.Hash = hash.String
		out = append(out, f)
	}
	return out, rows.Err()
}

// TouchFile updates a file's modified_at timestamp and optional hash.
func (s *Store) TouchFile(ctx context.Context, id int64, when time.Time, hash string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE files SET modified_at = ?, hash = COALESCE(NULLIF(?, ''), hash) WHERE id = ?",
		when.UTC(), hash, id)
	if err != nil {
		return WrapQueryError("TouchFile", "files", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return WrapQueryError("TouchFile", "files", err)
	}
	if n == 0 {
		return WrapNotFoundError("TouchFile", "files", id)
	}
	return nil
}

// DeleteFile removes a file registration.
func (s *Store) DeleteFile(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM files WHERE id = ?", id)
	if err != nil {
		return WrapQueryError("DeleteFile", "files", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return WrapQueryError("DeleteFile", "files", err)
	}
	if n == 0 {
		return WrapNotFoundError("DeleteFile", "files", id)
	}
	return nil
}
