package feedback

import (
	"context"
	"errors"
	"testing"

	"filewarden/internal/model"
	"filewarden/internal/rules"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type mockFeedbackStore struct {
	created   []model.Feedback
	createErr error
	rejects   int64
	countErr  error
}

func (m *mockFeedbackStore) CreateFeedback(ctx context.Context, f *model.Feedback) error {
	if m.createErr != nil {
		return m.createErr
	}
	f.ID = int64(len(m.created) + 1)
	m.created = append(m.created, *f)
	return nil
}

func (m *mockFeedbackStore) CountFeedbackByType(ctx context.Context, feedbackType string) (int64, error) {
	if m.countErr != nil {
		return 0, m.countErr
	}
	return m.rejects, nil
}

type mockRuleStore struct {
	saved   []rules.Rule
	saveErr error
}

func (m *mockRuleStore) SaveRule(ctx context.Context, r *rules.Rule) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = append(m.saved, *r)
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

type mockInvalidator struct {
	calls int
}

func (m *mockInvalidator) Invalidate() { m.calls++ }

func fixture() (*Adaptor, *mockFeedbackStore, *mockRuleStore, *mockLogStore, *mockInvalidator) {
	fb := &mockFeedbackStore{}
	rs := &mockRuleStore{}
	logs := &mockLogStore{}
	inv := &mockInvalidator{}
	return NewAdaptor(fb, rs, logs, inv), fb, rs, logs, inv
}

func testEvent() *model.Event {
	return &model.Event{ID: 10, EventType: model.EventModify}
}

func highRule() *rules.Rule {
	return &rules.Rule{ID: 3, Name: "sensitive modify", SeverityLevel: rules.SeverityHigh, ActionType: "notify_modify"}
}

// ---------------------------------------------------------------------------
// 1. Common paths
// ---------------------------------------------------------------------------

func TestSubmitPersistsFeedbackAndAuditFirst(t *testing.T) {
	a, fb, _, logs, _ := fixture()

	f, err := a.Submit(context.Background(), testEvent(), nil, model.FeedbackApprove, "looks right", highRule(), "")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if f.ID == 0 || len(fb.created) != 1 {
		t.Errorf("feedback not persisted: %+v", f)
	}
	if len(logs.byType(model.LogAIFeedback)) != 1 {
		t.Errorf("AI_FEEDBACK record missing")
	}
}

func TestSubmitInvalidTypeRejected(t *testing.T) {
	a, fb, _, _, _ := fixture()

	if _, err := a.Submit(context.Background(), testEvent(), nil, "praise", "", nil, ""); err == nil {
		t.Error("expected invalid feedback type error")
	}
	if len(fb.created) != 0 {
		t.Error("invalid feedback must not persist")
	}
}

func TestSubmitDuplicatePropagates(t *testing.T) {
	a, fb, _, _, _ := fixture()
	fb.createErr = errors.New("duplicate record")

	if _, err := a.Submit(context.Background(), testEvent(), nil, model.FeedbackReject, "", nil, ""); err == nil {
		t.Error("expected duplicate error to propagate")
	}
}

func TestSubmitNoRulePersistAndLogOnly(t *testing.T) {
	a, _, rs, logs, inv := fixture()

	if _, err := a.Submit(context.Background(), testEvent(), nil, model.FeedbackApprove, "", nil, ""); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if len(rs.saved) != 0 {
		t.Error("no rule to adapt, but a rule was saved")
	}
	if inv.calls != 0 {
		t.Error("cache invalidated without a rule mutation")
	}
	if len(logs.byType(model.LogAIFeedback)) != 1 {
		t.Error("AI_FEEDBACK record missing")
	}
}

// ---------------------------------------------------------------------------
// 2. Approve
// ---------------------------------------------------------------------------

func TestApproveMarksRuleAdaptive(t *testing.T) {
	a, _, rs, logs, inv := fixture()
	rule := highRule()

	if _, err := a.Submit(context.Background(), testEvent(), nil, model.FeedbackApprove, "", rule, ""); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if len(rs.saved) != 1 || !rs.saved[0].AdaptiveFlag {
		t.Errorf("rule not marked adaptive: %+v", rs.saved)
	}
	if inv.calls != 1 {
		t.Errorf("cache invalidations = %d, want 1", inv.calls)
	}
	if len(logs.byType(model.LogAILearning)) != 1 {
		t.Error("AI_LEARNING record missing")
	}
}

func TestApproveIdempotentBeyondAudit(t *testing.T) {
	a, _, rs, logs, inv := fixture()
	rule := highRule()
	rule.AdaptiveFlag = true

	if _, err := a.Submit(context.Background(), testEvent(), nil, model.FeedbackApprove, "", rule, ""); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if len(rs.saved) != 0 {
		t.Error("already-adaptive rule must not be rewritten")
	}
	if inv.calls != 0 {
		t.Error("cache invalidated without a mutation")
	}
	if len(logs.byType(model.LogAILearning)) != 1 {
		t.Error("approval still gets an AI_LEARNING record")
	}
}

// ---------------------------------------------------------------------------
// 3. Reject
// ---------------------------------------------------------------------------

func TestRejectBelowThresholdNoDowngrade(t *testing.T) {
	a, fb, rs, logs, _ := fixture()
	fb.rejects = 2

	if _, err := a.Submit(context.Background(), testEvent(), nil, model.FeedbackReject, "", highRule(), ""); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if len(rs.saved) != 0 {
		t.Error("rule downgraded below reject threshold")
	}
	if len(logs.byType(model.LogAILearning)) != 1 {
		t.Error("reject always gets an AI_LEARNING record")
	}
}

func TestRejectAtThresholdDowngradesHighRule(t *testing.T) {
	a, fb, rs, logs, inv := fixture()
	fb.rejects = 3

	if _, err := a.Submit(context.Background(), testEvent(), nil, model.FeedbackReject, "", highRule(), ""); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if len(rs.saved) != 1 || rs.saved[0].SeverityLevel != rules.SeverityMedium {
		t.Errorf("High rule not downgraded to Medium: %+v", rs.saved)
	}
	if inv.calls != 1 {
		t.Errorf("cache invalidations = %d, want 1", inv.calls)
	}
	if len(logs.byType(model.LogAILearning)) != 2 {
		t.Errorf("AI_LEARNING records = %d, want reject + downgrade", len(logs.byType(model.LogAILearning)))
	}
}

func TestRejectCriticalDowngradesOneStep(t *testing.T) {
	a, fb, rs, _, _ := fixture()
	fb.rejects = 5
	rule := highRule()
	rule.SeverityLevel = rules.SeverityCritical

	if _, err := a.Submit(context.Background(), testEvent(), nil, model.FeedbackReject, "", rule, ""); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if len(rs.saved) != 1 || rs.saved[0].SeverityLevel != rules.SeverityHigh {
		t.Errorf("Critical rule not downgraded to High: %+v", rs.saved)
	}
}

func TestRejectLowSeverityRuleNeverDowngraded(t *testing.T) {
	a, fb, rs, _, _ := fixture()
	fb.rejects = 10
	rule := highRule()
	rule.SeverityLevel = rules.SeverityMedium

	if _, err := a.Submit(context.Background(), testEvent(), nil, model.FeedbackReject, "", rule, ""); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if len(rs.saved) != 0 {
		t.Error("Medium rule must not be downgraded by rejection")
	}
}

// ---------------------------------------------------------------------------
// 4. Modify
// ---------------------------------------------------------------------------

func TestModifySetsSeverityAndAdaptiveFlag(t *testing.T) {
	a, _, rs, logs, inv := fixture()

	f, err := a.Submit(context.Background(), testEvent(), nil, model.FeedbackModify, "too noisy", highRule(), rules.SeverityLow)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if len(rs.saved) != 1 {
		t.Fatalf("rule not saved")
	}
	if rs.saved[0].SeverityLevel != rules.SeverityLow || !rs.saved[0].AdaptiveFlag {
		t.Errorf("modify did not apply suggestion: %+v", rs.saved[0])
	}
	if inv.calls != 1 {
		t.Errorf("cache invalidations = %d, want 1", inv.calls)
	}
	if f.SuggestedSeverity != string(rules.SeverityLow) {
		t.Errorf("suggested severity not persisted: %+v", f)
	}
	if len(logs.byType(model.LogAILearning)) != 1 {
		t.Error("AI_LEARNING record missing")
	}
}

func TestModifyRequiresValidSuggestion(t *testing.T) {
	a, fb, _, _, _ := fixture()

	if _, err := a.Submit(context.Background(), testEvent(), nil, model.FeedbackModify, "", highRule(), rules.Severity("Whatever")); err == nil {
		t.Error("expected invalid suggested severity error")
	}
	if len(fb.created) != 0 {
		t.Error("invalid modify must not persist")
	}
}
