package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"filewarden/internal/model"
	"filewarden/internal/rules"
)

// Scheduler defers a job by a delay. Jobs are fire-and-forget today; the
// interface leaves room for cancel-on-acknowledge later.
type Scheduler interface {
	Defer(delay time.Duration, job func()) error
}

// TimerScheduler runs deferred jobs on their own goroutines.
type TimerScheduler struct {
	mu      sync.Mutex
	stopped bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewTimerScheduler creates a running scheduler.
func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{stopCh: make(chan struct{})}
}

// Defer runs job after delay. A zero or negative delay runs it at once,
// still on its own goroutine.
func (s *TimerScheduler) Defer(delay time.Duration, job func()) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("scheduler stopped")
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()

		if delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-s.stopCh:
				return
			case <-timer.C:
			}
		}
		job()
	}()
	return nil
}

// Stop cancels pending timers and waits for running jobs.
func (s *TimerScheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.stopCh)
	s.mu.Unlock()
	s.wg.Wait()
}

// EscalationConfig holds per-severity escalation delays. A zero delay
// escalates immediately.
type EscalationConfig struct {
	HighDelay     time.Duration
	CriticalDelay time.Duration
	JobTimeout    time.Duration
}

// DefaultEscalationConfig returns the default delays.
func DefaultEscalationConfig() EscalationConfig {
	return EscalationConfig{
		HighDelay:     300 * time.Second,
		CriticalDelay: 120 * time.Second,
		JobTimeout:    30 * time.Second,
	}
}

// Escalator schedules deferred escalations for High and Critical events.
// The deferred job writes an ESCALATE audit record and sends a
// high-priority notification bypassing the batch. It runs on its own
// context: the triggering request may be long gone by then.
type Escalator struct {
	config     EscalationConfig
	scheduler  Scheduler
	dispatcher *Dispatcher
	logs       LogStore
}

// NewEscalator creates an escalator.
func NewEscalator(cfg EscalationConfig, scheduler Scheduler, dispatcher *Dispatcher, logs LogStore) *Escalator {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Second
	}
	return &Escalator{
		config:     cfg,
		scheduler:  scheduler,
		dispatcher: dispatcher,
		logs:       logs,
	}
}

// DelayFor returns the escalation delay for a severity and whether that
// severity escalates at all. Low and Medium never do.
func (e *Escalator) DelayFor(severity rules.Severity) (time.Duration, bool) {
	switch severity {
	case rules.SeverityHigh:
		return e.config.HighDelay, true
	case rules.SeverityCritical:
		return e.config.CriticalDelay, true
	default:
		return 0, false
	}
}

// Escalate schedules the deferred escalation for an event. If the job
// cannot be scheduled, the ESCALATE record is written synchronously so
// the audit trail never loses the escalation.
func (e *Escalator) Escalate(ctx context.Context, eventID int64, severity rules.Severity) error {
	delay, ok := e.DelayFor(severity)
	if !ok {
		return nil
	}

	err := e.scheduler.Defer(delay, func() {
		jobCtx, cancel := context.WithTimeout(context.Background(), e.config.JobTimeout)
		defer cancel()
		e.run(jobCtx, eventID, severity)
	})
	if err != nil {
		slog.Error("failed to schedule escalation, recording synchronously",
			"event_id", eventID,
			"severity", severity,
			"error", err,
		)
		return e.record(ctx, eventID, severity)
	}

	slog.Info("escalation scheduled",
		"event_id", eventID,
		"severity", severity,
		"delay", delay,
	)
	return nil
}

// run is the deferred job body.
func (e *Escalator) run(ctx context.Context, eventID int64, severity rules.Severity) {
	if err := e.record(ctx, eventID, severity); err != nil {
		slog.Error("failed to write escalate record",
			"event_id", eventID,
			"error", err,
		)
	}

	n := Notification{
		EventID:  eventID,
		Severity: severity,
		Subject:  fmt.Sprintf("ESCALATION: %s severity event %d unresolved", severity, eventID),
		Body: fmt.Sprintf("Event %d was scored %s and has not been resolved within the escalation window. Immediate attention required.",
			eventID, severity),
	}
	if err := e.dispatcher.NotifyImmediate(ctx, n); err != nil {
		slog.Error("escalation notification failed",
			"event_id", eventID,
			"error", err,
		)
	}
}

func (e *Escalator) record(ctx context.Context, eventID int64, severity rules.Severity) error {
	return e.logs.AppendLog(ctx, &model.Log{
		LogType:        model.LogEscalate,
		Message:        fmt.Sprintf("Escalation triggered for event %d (severity %s)", eventID, severity),
		RelatedEventID: &eventID,
	})
}
