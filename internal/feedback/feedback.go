// Package feedback applies operator verdicts on past decisions back onto
// the rule set. Approval marks a rule adaptive, repeated rejection
// downgrades over-firing rules, modification sets an explicit severity.
package feedback

import (
	"context"
	"fmt"
	"log/slog"

	"filewarden/internal/model"
	"filewarden/internal/rules"
)

// rejectDowngradeThreshold is the total reject count at which a High or
// Critical rule is stepped down. The counter is global across rules.
const rejectDowngradeThreshold = 3

// FeedbackStore is the feedback persistence contract.
type FeedbackStore interface {
	CreateFeedback(ctx context.Context, f *model.Feedback) error
	CountFeedbackByType(ctx context.Context, feedbackType string) (int64, error)
}

// RuleStore persists rule mutations made by the adaptor.
type RuleStore interface {
	SaveRule(ctx context.Context, r *rules.Rule) error
}

// LogStore is the audit-log contract.
type LogStore interface {
	AppendLog(ctx context.Context, l *model.Log) error
}

// Invalidator drops the cached rule snapshot after a mutation.
type Invalidator interface {
	Invalidate()
}

// Adaptor records operator feedback and adjusts the matched rule.
type Adaptor struct {
	feedback FeedbackStore
	ruleset  RuleStore
	logs     LogStore
	cache    Invalidator
}

// NewAdaptor creates a feedback adaptor.
func NewAdaptor(feedback FeedbackStore, ruleset RuleStore, logs LogStore, cache Invalidator) *Adaptor {
	return &Adaptor{
		feedback: feedback,
		ruleset:  ruleset,
		logs:     logs,
		cache:    cache,
	}
}

// Submit persists one feedback record for an event and applies its rule
// adaptation. The feedback row and the AI_FEEDBACK audit record are always
// written first; adaptation follows. A second feedback for the same event
// fails with the store's duplicate error.
//
// rule is the rule that matched when the event was scored, nil when the
// decision was fail-open. suggestedSeverity only matters for modify.
func (a *Adaptor) Submit(ctx context.Context, event *model.Event, adminID *int64, feedbackType, comment string, rule *rules.Rule, suggestedSeverity rules.Severity) (*model.Feedback, error) {
	if !model.ValidFeedbackType(feedbackType) {
		return nil, fmt.Errorf("invalid feedback type: %q", feedbackType)
	}
	if feedbackType == model.FeedbackModify && !suggestedSeverity.Valid() {
		return nil, fmt.Errorf("modify feedback requires a valid suggested severity, got %q", suggestedSeverity)
	}

	f := &model.Feedback{
		EventID:           event.ID,
		AdminID:           adminID,
		FeedbackType:      feedbackType,
		Comment:           comment,
		SuggestedSeverity: string(suggestedSeverity),
	}
	if err := a.feedback.CreateFeedback(ctx, f); err != nil {
		return nil, fmt.Errorf("failed to persist feedback: %w", err)
	}

	if err := a.logs.AppendLog(ctx, &model.Log{
		LogType:        model.LogAIFeedback,
		Message:        fmt.Sprintf("Feedback %q received for event %d", feedbackType, event.ID),
		RelatedEventID: &f.EventID,
	}); err != nil {
		return nil, fmt.Errorf("failed to write feedback record: %w", err)
	}

	var err error
	switch feedbackType {
	case model.FeedbackApprove:
		err = a.applyApprove(ctx, event.ID, rule)
	case model.FeedbackReject:
		err = a.applyReject(ctx, event.ID, rule)
	case model.FeedbackModify:
		err = a.applyModify(ctx, event.ID, rule, suggestedSeverity)
	}
	if err != nil {
		return nil, err
	}

	return f, nil
}

// applyApprove confirms the decision: the matched rule becomes adaptive so
// future scoring weights it up. Already-adaptive rules only gain the audit
// trail entry.
func (a *Adaptor) applyApprove(ctx context.Context, eventID int64, rule *rules.Rule) error {
	if rule == nil {
		return nil
	}

	if !rule.AdaptiveFlag {
		rule.AdaptiveFlag = true
		if err := a.ruleset.SaveRule(ctx, rule); err != nil {
			return fmt.Errorf("failed to mark rule adaptive: %w", err)
		}
		a.cache.Invalidate()
	}

	return a.learned(ctx, eventID,
		fmt.Sprintf("Rule %d (%s) confirmed by approval, adaptive boost enabled", rule.ID, rule.Name))
}

// applyReject records disagreement. Once the total reject count reaches
// the threshold, a High or Critical rule is downgraded one severity step.
func (a *Adaptor) applyReject(ctx context.Context, eventID int64, rule *rules.Rule) error {
	if err := a.learned(ctx, eventID, "Decision rejected by operator"); err != nil {
		return err
	}
	if rule == nil {
		return nil
	}

	rejects, err := a.feedback.CountFeedbackByType(ctx, model.FeedbackReject)
	if err != nil {
		return fmt.Errorf("failed to count rejections: %w", err)
	}
	if rejects < rejectDowngradeThreshold {
		return nil
	}

	switch rule.SeverityLevel {
	case rules.SeverityHigh, rules.SeverityCritical:
	default:
		return nil
	}

	old := rule.SeverityLevel
	rule.SeverityLevel = old.Downgrade()
	if err := a.ruleset.SaveRule(ctx, rule); err != nil {
		return fmt.Errorf("failed to downgrade rule: %w", err)
	}
	a.cache.Invalidate()

	slog.Info("rule downgraded after repeated rejection",
		"rule_id", rule.ID,
		"from", old,
		"to", rule.SeverityLevel,
		"reject_count", rejects,
	)
	return a.learned(ctx, eventID,
		fmt.Sprintf("Rule %d (%s) downgraded %s -> %s after %d rejections", rule.ID, rule.Name, old, rule.SeverityLevel, rejects))
}

// applyModify sets the rule to the operator's suggested severity and marks
// it adaptive.
func (a *Adaptor) applyModify(ctx context.Context, eventID int64, rule *rules.Rule, suggested rules.Severity) error {
	if rule == nil {
		return nil
	}

	old := rule.SeverityLevel
	rule.SeverityLevel = suggested
	rule.AdaptiveFlag = true
	if err := a.ruleset.SaveRule(ctx, rule); err != nil {
		return fmt.Errorf("failed to modify rule: %w", err)
	}
	a.cache.Invalidate()

	return a.learned(ctx, eventID,
		fmt.Sprintf("Rule %d (%s) severity set %s -> %s by operator", rule.ID, rule.Name, old, suggested))
}

func (a *Adaptor) learned(ctx context.Context, eventID int64, msg string) error {
	if err := a.logs.AppendLog(ctx, &model.Log{
		LogType:        model.LogAILearning,
		Message:        msg,
		RelatedEventID: &eventID,
	}); err != nil {
		return fmt.Errorf("failed to write learning record: %w", err)
	}
	return nil
}
