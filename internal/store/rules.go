package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"filewarden/internal/rules"
)

// ListRules returns all rules ordered by id. Storage order is part of the
// scoring contract: ties between equally-scored rules go to the earlier row.
func (s *Store) ListRules(ctx context.Context) ([]rules.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rule_name, COALESCE(description, ''),
		       COALESCE(severity_level, ''), COALESCE(action_type, ''),
		       adaptive_flag, last_updated
		FROM ai_rules
		ORDER BY id
	`)
	if err != nil {
		return nil, WrapQueryError("ListRules", "ai_rules", err)
	}
	defer rows.Close()

	var out []rules.Rule
	for rows.Next() {
		var r rules.Rule
		var severity string
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &severity,
			&r.ActionType, &r.AdaptiveFlag, &r.LastUpdated); err != nil {
			return nil, WrapQueryError("ListRules", "ai_rules", err)
		}
		r.SeverityLevel = rules.ParseSeverity(severity)
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRule returns one rule by id.
func (s *Store) GetRule(ctx context.Context, id int64) (*rules.Rule, error) {
	var r rules.Rule
	var severity string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, rule_name, COALESCE(description, ''),
		       COALESCE(severity_level, ''), COALESCE(action_type, ''),
		       adaptive_flag, last_updated
		FROM ai_rules WHERE id = ?
	`, id).Scan(&r.ID, &r.Name, &r.Description, &severity,
		&r.ActionType, &r.AdaptiveFlag, &r.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, WrapNotFoundError("GetRule", "ai_rules", id)
	}
	if err != nil {
		return nil, WrapQueryError("GetRule", "ai_rules", err)
	}
	r.SeverityLevel = rules.ParseSeverity(severity)
	return &r, nil
}

// CreateRule inserts a new rule and fills in its id and last_updated.
func (s *Store) CreateRule(ctx context.Context, r *rules.Rule) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO ai_rules (rule_name, description, severity_level, action_type, adaptive_flag, last_updated)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.Name, r.Description, string(r.SeverityLevel), r.ActionType, r.AdaptiveFlag, now)
	if err != nil {
		return WrapQueryError("CreateRule", "ai_rules", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return WrapQueryError("CreateRule", "ai_rules", err)
	}
	r.ID = id
	r.LastUpdated = now
	return nil
}

// SaveRule persists mutations to an existing rule and bumps last_updated.
func (s *Store) SaveRule(ctx context.Context, r *rules.Rule) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE ai_rules
		SET rule_name = ?, description = ?, severity_level = ?, action_type = ?,
		    adaptive_flag = ?, last_updated = ?
		WHERE id = ?
	`, r.Name, r.Description, string(r.SeverityLevel), r.ActionType, r.AdaptiveFlag, now, r.ID)
	if err != nil {
		return WrapQueryError("SaveRule", "ai_rules", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return WrapQueryError("SaveRule", "ai_rules", err)
	}
	if n == 0 {
		return WrapNotFoundError("SaveRule", "ai_rules", r.ID)
	}
	r.LastUpdated = now
	return nil
}

// TouchRule updates only a rule's last_updated timestamp.
func (s *Store) TouchRule(ctx context.Context, id int64, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE ai_rules SET last_updated = ? WHERE id = ?", now.UTC(), id)
	if err != nil {
		return WrapQueryError("TouchRule", "ai_rules", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return WrapQueryError("TouchRule", "ai_rules", err)
	}
	if n == 0 {
		return WrapNotFoundError("TouchRule", "ai_rules", id)
	}
	return nil
}

// DeleteRule removes a rule by id.
func (s *Store) DeleteRule(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM ai_rules WHERE id = ?", id)
	if err != nil {
		return WrapQueryError("DeleteRule", "ai_rules", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return WrapQueryError("DeleteRule", "ai_rules", err)
	}
	if n == 0 {
		return WrapNotFoundError("DeleteRule", "ai_rules", id)
	}
	return nil
}
