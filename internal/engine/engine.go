// Package engine orchestrates one event's path through scoring, decision,
// auditing, notification and escalation.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"filewarden/internal/decision"
	"filewarden/internal/dispatch"
	"filewarden/internal/model"
	"filewarden/internal/rules"
)

// RuleSource yields the current rule snapshot.
type RuleSource interface {
	Rules(ctx context.Context) ([]rules.Rule, error)
}

// EventStore is the event persistence contract the engine needs.
type EventStore interface {
	MarkEventProcessed(ctx context.Context, id int64) error
}

// LogStore is the audit-log contract.
type LogStore interface {
	AppendLog(ctx context.Context, l *model.Log) error
}

// Notifier queues operator notifications.
type Notifier interface {
	Notify(ctx context.Context, n dispatch.Notification) error
}

// Escalation schedules deferred escalations.
type Escalation interface {
	Escalate(ctx context.Context, eventID int64, severity rules.Severity) error
}

// Outcome is the result of handling one event.
type Outcome struct {
	Score    rules.ScoreResult `json:"score"`
	Decision decision.Decision `json:"decision"`
}

// Engine wires the scoring pipeline together. Handle is synchronous within
// the caller's unit of work; only the escalation job runs later.
type Engine struct {
	ruleSource RuleSource
	events     EventStore
	logs       LogStore
	notifier   Notifier
	escalator  Escalation
}

// New creates an engine.
func New(ruleSource RuleSource, events EventStore, logs LogStore, notifier Notifier, escalator Escalation) *Engine {
	return &Engine{
		ruleSource: ruleSource,
		events:     events,
		logs:       logs,
		notifier:   notifier,
		escalator:  escalator,
	}
}

// Handle scores an event, decides the action, writes the decision audit
// record and carries out the decided side effects. Store errors propagate;
// transport errors are absorbed downstream and never fail the event.
func (e *Engine) Handle(ctx context.Context, event *model.Event) (*Outcome, error) {
	ruleSet, err := e.ruleSource.Rules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	score := rules.Evaluate(event.EventType, ruleSet)
	d := decision.Decide(score.Severity)

	if err := e.auditDecision(ctx, event, score, d); err != nil {
		return nil, err
	}

	slog.Info("event scored",
		"event_id", event.ID,
		"event_type", event.EventType,
		"severity", score.Severity,
		"confidence", score.Confidence,
		"action", d.Action,
	)

	if score.Severity == rules.SeverityLow {
		if err := e.events.MarkEventProcessed(ctx, event.ID); err != nil {
			return nil, fmt.Errorf("failed to mark event processed: %w", err)
		}
		return &Outcome{Score: score, Decision: d}, nil
	}

	if d.NotifyAdmin {
		n := dispatch.Notification{
			EventID:  event.ID,
			Severity: score.Severity,
			Subject:  fmt.Sprintf("%s severity %s event %d", score.Severity, event.EventType, event.ID),
			Body:     fmt.Sprintf("Event %d (%s) scored %s with confidence %.2f. Decided action: %s.", event.ID, event.EventType, score.Severity, score.Confidence, d.Action),
		}
		if err := e.notifier.Notify(ctx, n); err != nil {
			return nil, fmt.Errorf("failed to queue notification: %w", err)
		}
	}

	if d.Escalate {
		if err := e.escalator.Escalate(ctx, event.ID, score.Severity); err != nil {
			return nil, fmt.Errorf("failed to schedule escalation: %w", err)
		}
	}

	if score.Severity == rules.SeverityCritical {
		if err := e.prepareAction(ctx, event, d); err != nil {
			return nil, err
		}
	}

	return &Outcome{Score: score, Decision: d}, nil
}

// HandleEvent is Handle for callers that don't need the outcome, such as
// the watcher and the bus consumer.
func (e *Engine) HandleEvent(ctx context.Context, event *model.Event) error {
	_, err := e.Handle(ctx, event)
	return err
}

// auditDecision writes the AI_DECISION record. It precedes every side
// effect: the audit trail shows the decision even when delivery fails.
func (e *Engine) auditDecision(ctx context.Context, event *model.Event, score rules.ScoreResult, d decision.Decision) error {
	matched := "none"
	if score.MatchedRuleID != nil {
		matched = fmt.Sprintf("%d", *score.MatchedRuleID)
	}
	err := e.logs.AppendLog(ctx, &model.Log{
		LogType: model.LogAIDecision,
		Message: fmt.Sprintf("Event %d (%s) scored %s (confidence %.2f, rule %s): %s",
			event.ID, event.EventType, score.Severity, score.Confidence, matched, d.Action),
		RelatedEventID: &event.ID,
	})
	if err != nil {
		return fmt.Errorf("failed to write decision record: %w", err)
	}
	return nil
}

// prepareAction records the intent to act automatically on a Critical
// event. Intent only: no host-level remediation happens here.
func (e *Engine) prepareAction(ctx context.Context, event *model.Event, d decision.Decision) error {
	err := e.logs.AppendLog(ctx, &model.Log{
		LogType:        model.LogActionPrepared,
		Message:        fmt.Sprintf("Automated action prepared for critical event %d pending operator response", event.ID),
		RelatedEventID: &event.ID,
	})
	if err != nil {
		return fmt.Errorf("failed to write action record: %w", err)
	}
	return nil
}
