package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"filewarden/internal/model"
)

// CreateFeedback inserts a feedback record. Each event accepts at most one
// feedback; a second attempt returns ErrDuplicate.
func (s *Store) CreateFeedback(ctx context.Context, f *model.Feedback) error {
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO ai_feedback (event_id, admin_id, feedback_type, comment, suggested_severity, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, f.EventID, f.AdminID, f.FeedbackType, f.Comment, f.SuggestedSeverity, f.Timestamp)
	if err != nil {
		if isUniqueViolation(err) {
			return &StoreError{Op: "CreateFeedback", Table: "ai_feedback", Err: ErrDuplicate}
		}
		return WrapQueryError("CreateFeedback", "ai_feedback", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return WrapQueryError("CreateFeedback", "ai_feedback", err)
	}
	f.ID = id
	return nil
}

// GetFeedbackByEvent returns the feedback attached to an event, if any.
func (s *Store) GetFeedbackByEvent(ctx context.Context, eventID int64) (*model.Feedback, error) {
	var f model.Feedback
	err := s.db.QueryRowContext(ctx, `
		SELECT id, event_id, admin_id, feedback_type, COALESCE(comment, ''),
		       COALESCE(suggested_severity, ''), timestamp
		FROM ai_feedback WHERE event_id = ?
	`, eventID).Scan(&f.ID, &f.EventID, &f.AdminID, &f.FeedbackType,
		&f.Comment, &f.SuggestedSeverity, &f.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, WrapNotFoundError("GetFeedbackByEvent", "ai_feedback", eventID)
	}
	if err != nil {
		return nil, WrapQueryError("GetFeedbackByEvent", "ai_feedback", err)
	}
	return &f, nil
}

// CountFeedbackByType returns the total number of feedback records of the
// given type across all events. The learning loop reads the reject count
// from here.
func (s *Store) CountFeedbackByType(ctx context.Context, feedbackType string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM ai_feedback WHERE feedback_type = ?", feedbackType).Scan(&n)
	if err != nil {
		return 0, WrapQueryError("CountFeedbackByType", "ai_feedback", err)
	}
	return n, nil
}

// ListFeedback returns the newest feedback records first, up to limit.
func (s *Store) ListFeedback(ctx context.Context, limit int) ([]model.Feedback, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, admin_id, feedback_type, COALESCE(comment, ''),
		       COALESCE(suggested_severity, ''), timestamp
		FROM ai_feedback
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, WrapQueryError("ListFeedback", "ai_feedback", err)
	}
	defer rows.Close()

	var out []model.Feedback
	for rows.Next() {
		var f model.Feedback
		if err := rows.Scan(&f.ID, &f.EventID, &f.AdminID, &f.FeedbackType,
			&f.Comment, &f.SuggestedSeverity, &f.Timestamp); err != nil {
			return nil, WrapQueryError("ListFeedback", "ai_feedback", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
