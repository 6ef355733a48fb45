package store

import (
	"context"
	"time"

	"filewarden/internal/model"
)

// AppendLog inserts an audit record. Logs are append-only; there is no
// update path.
func (s *Store) AppendLog(ctx context.Context, l *model.Log) error {
	if l.Timestamp.IsZero() {
		l.Timestamp = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO logs (log_type, message, related_event_id, timestamp)
		VALUES (?, ?, ?, ?)
	`, l.LogType, l.Message, l.RelatedEventID, l.Timestamp)
	if err != nil {
		return WrapQueryError("AppendLog", "logs", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return WrapQueryError("AppendLog", "logs", err)
	}
	l.ID = id
	return nil
}

// ListRecentLogs returns the newest logs first, up to limit. A non-empty
// logType narrows the listing to one audit category.
func (s *Store) ListRecentLogs(ctx context.Context, logType string, limit int) ([]model.Log, error) {
	query := `
		SELECT id, log_type, message, related_event_id, timestamp
		FROM logs
	`
	args := []any{}
	if logType != "" {
		query += " WHERE log_type = ?"
		args = append(args, logType)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, WrapQueryError("ListRecentLogs", "logs", err)
	}
	defer rows.Close()

	var out []model.Log
	for rows.Next() {
		var l model.Log
		if err := rows.Scan(&l.ID, &l.LogType, &l.Message, &l.RelatedEventID, &l.Timestamp); err != nil {
			return nil, WrapQueryError("ListRecentLogs", "logs", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ListLogsByEvent returns all logs tied to an event in insertion order.
func (s *Store) ListLogsByEvent(ctx context.Context, eventID int64) ([]model.Log, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, log_type, message, related_event_id, timestamp
		FROM logs
		WHERE related_event_id = ?
		ORDER BY id
	`, eventID)
	if err != nil {
		return nil, WrapQueryError("ListLogsByEvent", "logs", err)
	}
	defer rows.Close()

	var out []model.Log
	for rows.Next() {
		var l model.Log
		if err := rows.Scan(&l.ID, &l.LogType, &l.Message, &l.RelatedEventID, &l.Timestamp); err != nil {
			return nil, WrapQueryError("ListLogsByEvent", "logs", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ListLogsOlderThan returns logs with a timestamp before cutoff, oldest
// first, up to limit. The archive job pages through expired logs with this.
func (s *Store) ListLogsOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]model.Log, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, log_type, message, related_event_id, timestamp
		FROM logs
		WHERE timestamp < ?
		ORDER BY id
		LIMIT ?
	`, cutoff.UTC(), limit)
	if err != nil {
		return nil, WrapQueryError("ListLogsOlderThan", "logs", err)
	}
	defer rows.Close()

	var out []model.Log
	for rows.Next() {
		var l model.Log
		if err := rows.Scan(&l.ID, &l.LogType, &l.Message, &l.RelatedEventID, &l.Timestamp); err != nil {
			return nil, WrapQueryError("ListLogsOlderThan", "logs", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// DeleteLogsByID removes the given log rows after they have been archived.
func (s *Store) DeleteLogsByID(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := "DELETE FROM logs WHERE id IN (?"
	args := []any{ids[0]}
	for _, id := range ids[1:] {
		query += ",?"
		args = append(args, id)
	}
	query += ")"

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, WrapQueryError("DeleteLogsByID", "logs", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, WrapQueryError("DeleteLogsByID", "logs", err)
	}
	return n, nil
}

// CountLogsByType returns per-type audit record counts.
func (s *Store) CountLogsByType(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT log_type, COUNT(*) FROM logs GROUP BY log_type")
	if err != nil {
		return nil, WrapQueryError("CountLogsByType", "logs", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var logType string
		var n int64
		if err := rows.Scan(&logType, &n); err != nil {
			return nil, WrapQueryError("CountLogsByType", "logs", err)
		}
		counts[logType] = n
	}
	return counts, rows.Err()
}
