package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"filewarden/internal/model"
	"filewarden/internal/rules"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// mockTransport records sends and can be made to fail a number of times.
type mockTransport struct {
	mu       sync.Mutex
	name     string
	failures int
	sent     []string // bodies
	subjects []string
}

func (m *mockTransport) Name() string { return m.name }

func (m *mockTransport) Send(ctx context.Context, subject, body string, recipients []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures > 0 {
		m.failures--
		return errors.New("transport down")
	}
	m.subjects = append(m.subjects, subject)
	m.sent = append(m.sent, body)
	return nil
}

func (m *mockTransport) sentBodies() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	copy(out, m.sent)
	return out
}

// mockLogStore records appended audit logs.
type mockLogStore struct {
	mu      sync.Mutex
	logs    []model.Log
	failure error
}

func (m *mockLogStore) AppendLog(ctx context.Context, l *model.Log) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failure != nil {
		return m.failure
	}
	m.logs = append(m.logs, *l)
	return nil
}

func (m *mockLogStore) byType(logType string) []model.Log {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Log
	for _, l := range m.logs {
		if l.LogType == logType {
			out = append(out, l)
		}
	}
	return out
}

func fastConfig() Config {
	return Config{
		BatchInterval: time.Hour,
		MaxRetries:    3,
		RetryUnit:     time.Millisecond,
		SendTimeout:   time.Second,
	}
}

// ---------------------------------------------------------------------------
// 1. Batching
// ---------------------------------------------------------------------------

func TestNotifyAccumulatesUntilInterval(t *testing.T) {
	transport := &mockTransport{name: "mock"}
	logs := &mockLogStore{}
	d := NewDispatcher(fastConfig(), logs, nil, transport)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := d.Notify(ctx, Notification{EventID: int64(i + 1), Severity: rules.SeverityMedium, Subject: "s", Body: "b"}); err != nil {
			t.Fatalf("Notify failed: %v", err)
		}
	}

	if got := d.PendingCount(); got != 3 {
		t.Errorf("pending = %d, want 3 before interval elapses", got)
	}
	if len(transport.sentBodies()) != 0 {
		t.Errorf("transport received %d sends before flush", len(transport.sentBodies()))
	}
}

func TestNotifyFlushesWhenIntervalElapsed(t *testing.T) {
	cfg := fastConfig()
	cfg.BatchInterval = 10 * time.Millisecond
	transport := &mockTransport{name: "mock"}
	d := NewDispatcher(cfg, &mockLogStore{}, nil, transport)

	ctx := context.Background()
	d.Notify(ctx, Notification{EventID: 1, Severity: rules.SeverityMedium, Subject: "first", Body: "one"})
	time.Sleep(20 * time.Millisecond)
	d.Notify(ctx, Notification{EventID: 2, Severity: rules.SeverityHigh, Subject: "second", Body: "two"})

	bodies := transport.sentBodies()
	if len(bodies) != 1 {
		t.Fatalf("transport sends = %d, want 1 combined flush", len(bodies))
	}
	if !strings.Contains(bodies[0], "one") || !strings.Contains(bodies[0], "two") {
		t.Errorf("flush body %q missing batched notifications", bodies[0])
	}
	if got := d.PendingCount(); got != 0 {
		t.Errorf("pending = %d after flush, want 0", got)
	}
}

func TestFlushForcesDelivery(t *testing.T) {
	transport := &mockTransport{name: "mock"}
	d := NewDispatcher(fastConfig(), &mockLogStore{}, nil, transport)

	ctx := context.Background()
	d.Notify(ctx, Notification{EventID: 1, Severity: rules.SeverityMedium, Subject: "s", Body: "b"})
	d.Flush(ctx)

	if len(transport.sentBodies()) != 1 {
		t.Errorf("Flush did not deliver pending batch")
	}
	// An empty flush sends nothing.
	d.Flush(ctx)
	if len(transport.sentBodies()) != 1 {
		t.Errorf("empty Flush produced a send")
	}
}

// ---------------------------------------------------------------------------
// 2. Audit record ordering
// ---------------------------------------------------------------------------

func TestNotifyWritesAuditRecordFirst(t *testing.T) {
	logs := &mockLogStore{}
	d := NewDispatcher(fastConfig(), logs, nil, &mockTransport{name: "mock"})

	if err := d.Notify(context.Background(), Notification{EventID: 42, Severity: rules.SeverityMedium, Subject: "s", Body: "b"}); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	notify := logs.byType(model.LogNotify)
	if len(notify) != 1 {
		t.Fatalf("NOTIFY records = %d, want 1", len(notify))
	}
	if notify[0].RelatedEventID == nil || *notify[0].RelatedEventID != 42 {
		t.Errorf("NOTIFY record not tied to event 42: %+v", notify[0])
	}
}

func TestNotifyAuditEvenWhenTransportFails(t *testing.T) {
	cfg := fastConfig()
	cfg.BatchInterval = time.Nanosecond // flush on every Notify
	logs := &mockLogStore{}
	transport := &mockTransport{name: "mock", failures: 99}
	d := NewDispatcher(cfg, logs, nil, transport)

	if err := d.Notify(context.Background(), Notification{EventID: 1, Severity: rules.SeverityHigh, Subject: "s", Body: "b"}); err != nil {
		t.Fatalf("transport failure must not fail Notify: %v", err)
	}
	if len(logs.byType(model.LogNotify)) != 1 {
		t.Errorf("NOTIFY record missing after transport failure")
	}
}

func TestNotifyPropagatesLogStoreError(t *testing.T) {
	logs := &mockLogStore{failure: errors.New("db gone")}
	d := NewDispatcher(fastConfig(), logs, nil, &mockTransport{name: "mock"})

	if err := d.Notify(context.Background(), Notification{EventID: 1, Subject: "s"}); err == nil {
		t.Error("expected store error to propagate")
	}
}

// ---------------------------------------------------------------------------
// 3. Retry
// ---------------------------------------------------------------------------

func TestSendRetriesUntilSuccess(t *testing.T) {
	transport := &mockTransport{name: "mock", failures: 2}
	d := NewDispatcher(fastConfig(), &mockLogStore{}, nil, transport)

	d.NotifyImmediate(context.Background(), Notification{EventID: 1, Severity: rules.SeverityCritical, Subject: "s", Body: "b"})

	if len(transport.sentBodies()) != 1 {
		t.Errorf("delivery did not succeed within retry budget")
	}
	stats := d.Stats()
	byStatus := stats["by_status"].(map[string]int)
	if byStatus[string(DeliverySent)] != 1 {
		t.Errorf("delivery stats = %v, want one sent", byStatus)
	}
}

func TestSendExhaustionIsNonFatal(t *testing.T) {
	transport := &mockTransport{name: "mock", failures: 99}
	d := NewDispatcher(fastConfig(), &mockLogStore{}, nil, transport)

	if err := d.NotifyImmediate(context.Background(), Notification{EventID: 1, Subject: "s"}); err != nil {
		t.Fatalf("retry exhaustion must be non-fatal: %v", err)
	}

	byStatus := d.Stats()["by_status"].(map[string]int)
	if byStatus[string(DeliveryFailed)] != 1 {
		t.Errorf("delivery stats = %v, want one failed", byStatus)
	}
}

// ---------------------------------------------------------------------------
// 4. Scheduler and escalation
// ---------------------------------------------------------------------------

func TestTimerSchedulerZeroDelayRunsImmediately(t *testing.T) {
	s := NewTimerScheduler()
	defer s.Stop()

	done := make(chan struct{})
	if err := s.Defer(0, func() { close(done) }); err != nil {
		t.Fatalf("Defer failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("zero-delay job did not run")
	}
}

func TestTimerSchedulerStopCancelsPending(t *testing.T) {
	s := NewTimerScheduler()

	ran := make(chan struct{}, 1)
	s.Defer(time.Hour, func() { ran <- struct{}{} })
	s.Stop()

	select {
	case <-ran:
		t.Error("pending job ran after Stop")
	default:
	}

	if err := s.Defer(0, func() {}); err == nil {
		t.Error("Defer after Stop must fail")
	}
}

func TestEscalateWritesRecordAndSendsImmediate(t *testing.T) {
	logs := &mockLogStore{}
	transport := &mockTransport{name: "mock"}
	d := NewDispatcher(fastConfig(), logs, nil, transport)
	s := NewTimerScheduler()
	defer s.Stop()

	cfg := DefaultEscalationConfig()
	cfg.CriticalDelay = 0
	e := NewEscalator(cfg, s, d, logs)

	if err := e.Escalate(context.Background(), 7, rules.SeverityCritical); err != nil {
		t.Fatalf("Escalate failed: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		if len(logs.byType(model.LogEscalate)) == 1 && len(transport.sentBodies()) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("escalation incomplete: escalate=%d sends=%d",
				len(logs.byType(model.LogEscalate)), len(transport.sentBodies()))
		case <-time.After(5 * time.Millisecond):
		}
	}

	// The immediate send bypasses the batch.
	if d.PendingCount() != 0 {
		t.Errorf("escalation notification landed in the batch")
	}
}

func TestEscalateLowAndMediumNoOp(t *testing.T) {
	logs := &mockLogStore{}
	d := NewDispatcher(fastConfig(), logs, nil, &mockTransport{name: "mock"})
	s := NewTimerScheduler()
	defer s.Stop()
	e := NewEscalator(DefaultEscalationConfig(), s, d, logs)

	ctx := context.Background()
	if err := e.Escalate(ctx, 1, rules.SeverityLow); err != nil {
		t.Fatalf("Escalate(Low) failed: %v", err)
	}
	if err := e.Escalate(ctx, 2, rules.SeverityMedium); err != nil {
		t.Fatalf("Escalate(Medium) failed: %v", err)
	}
	if len(logs.byType(model.LogEscalate)) != 0 {
		t.Errorf("Low/Medium must never escalate")
	}
}

// failingScheduler rejects all jobs.
type failingScheduler struct{}

func (failingScheduler) Defer(delay time.Duration, job func()) error {
	return errors.New("scheduler full")
}

func TestEscalateFallsBackToSynchronousRecord(t *testing.T) {
	logs := &mockLogStore{}
	d := NewDispatcher(fastConfig(), logs, nil, &mockTransport{name: "mock"})
	e := NewEscalator(DefaultEscalationConfig(), failingScheduler{}, d, logs)

	if err := e.Escalate(context.Background(), 9, rules.SeverityHigh); err != nil {
		t.Fatalf("fallback path failed: %v", err)
	}

	records := logs.byType(model.LogEscalate)
	if len(records) != 1 {
		t.Fatalf("ESCALATE records = %d, want 1 synchronous fallback", len(records))
	}
	if records[0].RelatedEventID == nil || *records[0].RelatedEventID != 9 {
		t.Errorf("fallback record not tied to event 9: %+v", records[0])
	}
}
