// Package rules provides the adaptive rule model, the TTL-bounded rule
// cache and the weighted severity scorer.
package rules

import (
	"context"
	"time"
)

// Severity levels for rules and scored events, ranked Low to Critical.
type Severity string

const (
	SeverityLow      Severity = "Low"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

// Rank returns the numeric weight of a severity, or 0 for an
// unrecognized value.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// Valid reports whether s is one of the four enumerated levels.
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// Downgrade returns the severity one step lower. Low is the floor.
func (s Severity) Downgrade() Severity {
	switch s {
	case SeverityCritical:
		return SeverityHigh
	case SeverityHigh:
		return SeverityMedium
	case SeverityMedium:
		return SeverityLow
	default:
		return s
	}
}

// ParseSeverity converts a stored string into a Severity.
// Unrecognized values are returned as-is and report Valid() == false.
func ParseSeverity(s string) Severity {
	return Severity(s)
}

// Rule is an adaptive scoring rule. Rules are owned by the rule store and
// mutated only by administrators and the feedback adaptor.
type Rule struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	SeverityLevel Severity  `json:"severity_level,omitempty"`
	ActionType    string    `json:"action_type,omitempty"`
	AdaptiveFlag  bool      `json:"adaptive_flag"`
	LastUpdated   time.Time `json:"last_updated"`
}

// Store is the narrow rule persistence contract the rules package needs.
type Store interface {
	// ListRules returns all rules in stable storage order.
	ListRules(ctx context.Context) ([]Rule, error)
	// SaveRule persists rule mutations.
	SaveRule(ctx context.Context, rule *Rule) error
	// TouchRule updates a rule's last_updated timestamp.
	TouchRule(ctx context.Context, id int64, now time.Time) error
}
