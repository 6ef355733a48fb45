package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"filewarden/internal/model"
)

// CreateEvent inserts a new event and fills in its id and timestamp.
func (s *Store) CreateEvent(ctx context.Context, e *model.Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO events (event_type, target_file_id, target_folder_id, triggered_by_user_id, timestamp, processed_flag)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.EventType, e.TargetFileID, e.TargetFolderID, e.TriggeredBy, e.Timestamp, e.ProcessedFlag)
	if err != nil {
		return WrapQueryError("CreateEvent", "events", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return WrapQueryError("CreateEvent", "events", err)
	}
	e.ID = id
	return nil
}

// GetEvent returns one event by id.
func (s *Store) GetEvent(ctx context.Context, id int64) (*model.Event, error) {
	var e model.Event
	err := s.db.QueryRowContext(ctx, `
		SELECT id, event_type, target_file_id, target_folder_id, triggered_by_user_id, timestamp, processed_flag
		FROM events WHERE id = ?
	`, id).Scan(&e.ID, &e.EventType, &e.TargetFileID, &e.TargetFolderID,
		&e.TriggeredBy, &e.Timestamp, &e.ProcessedFlag)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, WrapNotFoundError("GetEvent", "events", id)
	}
	if err != nil {
		return nil, WrapQueryError("GetEvent", "events", err)
	}
	return &e, nil
}

// MarkEventProcessed sets the processed flag on an event. Setting it twice
// is harmless.
func (s *Store) MarkEventProcessed(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE events SET processed_flag = 1 WHERE id = ?", id)
	if err != nil {
		return WrapQueryError("MarkEventProcessed", "events", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return WrapQueryError("MarkEventProcessed", "events", err)
	}
	if n == 0 {
		return WrapNotFoundError("MarkEventProcessed", "events", id)
	}
	return nil
}

// ListRecentEvents returns the newest events first, up to limit.
func (s *Store) ListRecentEvents(ctx context.Context, limit int) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, target_file_id, target_folder_id, triggered_by_user_id, timestamp, processed_flag
		FROM events
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, WrapQueryError("ListRecentEvents", "events", err)
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var e model.Event
		if err := rows.Scan(&e.ID, &e.EventType, &e.TargetFileID, &e.TargetFolderID,
			&e.TriggeredBy, &e.Timestamp, &e.ProcessedFlag); err != nil {
			return nil, WrapQueryError("ListRecentEvents", "events", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountUnprocessedEvents returns the number of events still awaiting a
// decision or escalation outcome.
func (s *Store) CountUnprocessedEvents(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM events WHERE processed_flag = 0").Scan(&n)
	if err != nil {
		return 0, WrapQueryError("CountUnprocessedEvents", "events", err)
	}
	return n, nil
}
