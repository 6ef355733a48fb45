package rules

import (
	"strings"
)

// Scoring boosts. An adaptive rule has been validated by operator feedback;
// a rule whose action type names the incoming event type is a closer match.
const (
	adaptiveBoost   = 1.2
	eventMatchBoost = 1.1
)

// maxPossibleScore is a Critical rule with both boosts applied; it
// normalizes confidence into [0, 1].
const maxPossibleScore = 4 * adaptiveBoost * eventMatchBoost

// ScoreResult is the outcome of evaluating one event against the rule
// snapshot. It is recomputed on every evaluation and never persisted.
type ScoreResult struct {
	Severity      Severity `json:"severity"`
	MatchedRuleID *int64   `json:"matched_rule_id,omitempty"`
	Confidence    float64  `json:"confidence"`
}

// failOpenResult keeps the event pipeline moving when no rule can be
// scored: Medium severity at low confidence, rather than an error.
func failOpenResult() ScoreResult {
	return ScoreResult{Severity: SeverityMedium, MatchedRuleID: nil, Confidence: 0.3}
}

// Evaluate computes a weighted severity and confidence for an event type
// against the rule snapshot. Pure function: no I/O, no shared state.
//
// Each rule with a recognized severity scores rank × adaptive boost ×
// event-match boost. The highest score wins; ties go to the rule seen
// first in store order.
func Evaluate(eventType string, ruleSet []Rule) ScoreResult {
	var (
		best      *Rule
		bestScore float64
	)

	eventType = strings.ToLower(eventType)

	for i := range ruleSet {
		rule := &ruleSet[i]
		rank := rule.SeverityLevel.Rank()
		if rank == 0 {
			continue
		}

		score := float64(rank)
		if rule.AdaptiveFlag {
			score *= adaptiveBoost
		}
		if eventType != "" && rule.ActionType != "" && strings.Contains(strings.ToLower(rule.ActionType), eventType) {
			score *= eventMatchBoost
		}

		// Strict > keeps first-seen-wins tie breaking.
		if best == nil || score > bestScore {
			best = rule
			bestScore = score
		}
	}

	if best == nil {
		return failOpenResult()
	}

	confidence := bestScore / maxPossibleScore
	if confidence > 1.0 {
		confidence = 1.0
	}

	id := best.ID
	return ScoreResult{
		Severity:      best.SeverityLevel,
		MatchedRuleID: &id,
		Confidence:    confidence,
	}
}

// Statistics summarizes a rule snapshot for monitoring.
type Statistics struct {
	TotalRules    int              `json:"total_rules"`
	AdaptiveRules int              `json:"adaptive_rules"`
	BySeverity    map[Severity]int `json:"by_severity"`
}

// Stats computes snapshot statistics.
func Stats(ruleSet []Rule) Statistics {
	stats := Statistics{
		BySeverity: map[Severity]int{
			SeverityLow:      0,
			SeverityMedium:   0,
			SeverityHigh:     0,
			SeverityCritical: 0,
		},
	}

	for _, rule := range ruleSet {
		stats.TotalRules++
		if rule.SeverityLevel.Valid() {
			stats.BySeverity[rule.SeverityLevel]++
		}
		if rule.AdaptiveFlag {
			stats.AdaptiveRules++
		}
	}

	return stats
}
