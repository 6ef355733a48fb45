package engine

import (
	"context"
	"errors"
	"testing"

	"filewarden/internal/dispatch"
	"filewarden/internal/model"
	"filewarden/internal/rules"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type mockRuleSource struct {
	rules []rules.Rule
	err   error
}

func (m *mockRuleSource) Rules(ctx context.Context) ([]rules.Rule, error) {
	return m.rules, m.err
}

type mockEventStore struct {
	processed []int64
	err       error
}

func (m *mockEventStore) MarkEventProcessed(ctx context.Context, id int64) error {
	if m.err != nil {
		return m.err
	}
	m.processed = append(m.processed, id)
	return nil
}

type mockLogStore struct {
	logs []model.Log
}

func (m *mockLogStore) AppendLog(ctx context.Context, l *model.Log) error {
	m.logs = append(m.logs, *l)
	return nil
}

func (m *mockLogStore) byType(logType string) []model.Log {
	var out []model.Log
	for _, l := range m.logs {
		if l.LogType == logType {
			out = append(out, l)
		}
	}
	return out
}

type mockNotifier struct {
	notified []dispatch.Notification
	err      error
}

func (m *mockNotifier) Notify(ctx context.Context, n dispatch.Notification) error {
	if m.err != nil {
		return m.err
	}
	m.notified = append(m.notified, n)
	return nil
}

type mockEscalation struct {
	escalated []rules.Severity
}

func (m *mockEscalation) Escalate(ctx context.Context, eventID int64, severity rules.Severity) error {
	m.escalated = append(m.escalated, severity)
	return nil
}

func fixture(ruleSet []rules.Rule) (*Engine, *mockEventStore, *mockLogStore, *mockNotifier, *mockEscalation) {
	events := &mockEventStore{}
	logs := &mockLogStore{}
	notifier := &mockNotifier{}
	escalator := &mockEscalation{}
	e := New(&mockRuleSource{rules: ruleSet}, events, logs, notifier, escalator)
	return e, events, logs, notifier, escalator
}

func ruleOf(id int64, severity rules.Severity, actionType string, adaptive bool) rules.Rule {
	return rules.Rule{ID: id, Name: "r", SeverityLevel: severity, ActionType: actionType, AdaptiveFlag: adaptive}
}

// ---------------------------------------------------------------------------
// 1. Severity paths
// ---------------------------------------------------------------------------

func TestHandleLowMarksProcessed(t *testing.T) {
	e, events, logs, notifier, escalator := fixture([]rules.Rule{
		ruleOf(1, rules.SeverityLow, "", false),
	})

	event := &model.Event{ID: 5, EventType: model.EventCreate}
	out, err := e.Handle(context.Background(), event)
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if out.Score.Severity != rules.SeverityLow {
		t.Errorf("severity = %q, want Low", out.Score.Severity)
	}
	if len(events.processed) != 1 || events.processed[0] != 5 {
		t.Errorf("event not marked processed: %v", events.processed)
	}
	if len(notifier.notified) != 0 {
		t.Error("Low severity must not notify")
	}
	if len(escalator.escalated) != 0 {
		t.Error("Low severity must not escalate")
	}
	if len(logs.byType(model.LogAIDecision)) != 1 {
		t.Error("AI_DECISION record missing")
	}
}

func TestHandleMediumNotifiesNoEscalationDelay(t *testing.T) {
	// Fail-open path: no rules at all scores Medium at 0.3 confidence.
	e, events, logs, notifier, escalator := fixture(nil)

	event := &model.Event{ID: 6, EventType: model.EventDelete}
	out, err := e.Handle(context.Background(), event)
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if out.Score.Severity != rules.SeverityMedium || out.Score.Confidence != 0.3 {
		t.Errorf("fail-open score = %+v, want Medium/0.3", out.Score)
	}
	if out.Score.MatchedRuleID != nil {
		t.Errorf("fail-open matched rule = %v, want nil", out.Score.MatchedRuleID)
	}
	if len(notifier.notified) != 1 {
		t.Errorf("notifications = %d, want 1", len(notifier.notified))
	}
	// Medium decisions carry the escalate flag but the escalator ignores
	// Medium; the engine still forwards it.
	if len(escalator.escalated) != 1 {
		t.Errorf("escalation forwards = %d, want 1", len(escalator.escalated))
	}
	if len(events.processed) != 0 {
		t.Error("Medium event must stay unprocessed while actionable")
	}
	if len(logs.byType(model.LogActionPrepared)) != 0 {
		t.Error("Medium must not prepare an action")
	}
}

func TestHandleHighNotifiesAndEscalates(t *testing.T) {
	e, _, logs, notifier, escalator := fixture([]rules.Rule{
		ruleOf(2, rules.SeverityHigh, "notify_modify", true),
	})

	event := &model.Event{ID: 7, EventType: model.EventModify}
	out, err := e.Handle(context.Background(), event)
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if out.Score.Severity != rules.SeverityHigh {
		t.Errorf("severity = %q, want High", out.Score.Severity)
	}
	if out.Score.Confidence < 0.749 || out.Score.Confidence > 0.751 {
		t.Errorf("confidence = %.4f, want 0.75", out.Score.Confidence)
	}
	if len(notifier.notified) != 1 || len(escalator.escalated) != 1 {
		t.Errorf("notify=%d escalate=%d, want 1/1", len(notifier.notified), len(escalator.escalated))
	}
	if len(logs.byType(model.LogActionPrepared)) != 0 {
		t.Error("High must not prepare an action")
	}
}

func TestHandleCriticalPreparesAction(t *testing.T) {
	e, _, logs, notifier, escalator := fixture([]rules.Rule{
		ruleOf(3, rules.SeverityCritical, "notify_delete", false),
	})

	event := &model.Event{ID: 8, EventType: model.EventDelete}
	if _, err := e.Handle(context.Background(), event); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if len(notifier.notified) != 1 || len(escalator.escalated) != 1 {
		t.Errorf("notify=%d escalate=%d, want 1/1", len(notifier.notified), len(escalator.escalated))
	}
	prepared := logs.byType(model.LogActionPrepared)
	if len(prepared) != 1 {
		t.Fatalf("ACTION_PREPARED records = %d, want 1", len(prepared))
	}
	if prepared[0].RelatedEventID == nil || *prepared[0].RelatedEventID != 8 {
		t.Errorf("ACTION_PREPARED not tied to event 8: %+v", prepared[0])
	}
}

// ---------------------------------------------------------------------------
// 2. Ordering and errors
// ---------------------------------------------------------------------------

func TestHandleDecisionRecordAlwaysFirst(t *testing.T) {
	e, _, logs, _, _ := fixture([]rules.Rule{
		ruleOf(3, rules.SeverityCritical, "", false),
	})

	if _, err := e.Handle(context.Background(), &model.Event{ID: 9, EventType: model.EventCreate}); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if len(logs.logs) == 0 || logs.logs[0].LogType != model.LogAIDecision {
		t.Errorf("first audit record = %v, want AI_DECISION", logs.logs)
	}
}

func TestHandleRuleLoadErrorPropagates(t *testing.T) {
	wantErr := errors.New("cache refresh failed")
	e := New(&mockRuleSource{err: wantErr}, &mockEventStore{}, &mockLogStore{}, &mockNotifier{}, &mockEscalation{})

	_, err := e.Handle(context.Background(), &model.Event{ID: 1, EventType: model.EventCreate})
	if !errors.Is(err, wantErr) {
		t.Errorf("Handle error = %v, want wrapped %v", err, wantErr)
	}
}

func TestHandleMarkProcessedErrorPropagates(t *testing.T) {
	e, events, _, _, _ := fixture([]rules.Rule{ruleOf(1, rules.SeverityLow, "", false)})
	events.err = errors.New("db gone")

	if _, err := e.Handle(context.Background(), &model.Event{ID: 1, EventType: model.EventCreate}); err == nil {
		t.Error("expected store error to propagate")
	}
}
