// Package dispatch provides notification batching, retrying transport
// delivery and the deferred escalation scheduler.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"filewarden/internal/model"
	"filewarden/internal/rules"

	"github.com/google/uuid"
)

// LogStore is the audit-log contract the dispatcher needs.
type LogStore interface {
	AppendLog(ctx context.Context, l *model.Log) error
}

// Notification is one message headed for operators. Batched notifications
// are concatenated into a single digest at flush time; immediate ones
// bypass the batch.
type Notification struct {
	ID        uuid.UUID      `json:"id"`
	EventID   int64          `json:"event_id"`
	Severity  rules.Severity `json:"severity"`
	Subject   string         `json:"subject"`
	Body      string         `json:"body"`
	CreatedAt time.Time      `json:"created_at"`
}

// DeliveryStatus represents the delivery state of a notification send.
type DeliveryStatus string

const (
	DeliveryPending  DeliveryStatus = "pending"
	DeliverySent     DeliveryStatus = "sent"
	DeliveryRetrying DeliveryStatus = "retrying"
	DeliveryFailed   DeliveryStatus = "failed"
)

// DeliveryRecord tracks one transport send attempt chain.
type DeliveryRecord struct {
	ID          uuid.UUID      `json:"id"`
	Transport   string         `json:"transport"`
	Status      DeliveryStatus `json:"status"`
	Attempts    int            `json:"attempts"`
	LastAttempt time.Time      `json:"last_attempt"`
	LastError   string         `json:"last_error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	DeliveredAt *time.Time     `json:"delivered_at,omitempty"`
}

// Config configures the dispatcher.
type Config struct {
	BatchInterval time.Duration // Minimum time between batch flushes (default 300s)
	MaxRetries    int           // Send attempts per transport (default 3)
	RetryUnit     time.Duration // Backoff unit, delay = unit * 2^attempt (default 1s)
	SendTimeout   time.Duration // Per-attempt timeout (default 10s)
}

// DefaultConfig returns sensible dispatcher defaults.
func DefaultConfig() Config {
	return Config{
		BatchInterval: 300 * time.Second,
		MaxRetries:    3,
		RetryUnit:     time.Second,
		SendTimeout:   10 * time.Second,
	}
}

// Dispatcher batches notifications and delivers them through the configured
// transports with retries. Transport failure is logged and never fatal; the
// NOTIFY audit record is the durable trace and is written before any send.
type Dispatcher struct {
	config     Config
	transports []Transport
	recipients []string
	logs       LogStore

	mu        sync.Mutex
	pending   []Notification
	lastFlush time.Time

	recMu   sync.RWMutex
	records map[uuid.UUID]*DeliveryRecord
}

// NewDispatcher creates a notification dispatcher. The batch clock starts
// at construction: the first flush happens one interval in.
func NewDispatcher(cfg Config, logs LogStore, recipients []string, transports ...Transport) *Dispatcher {
	if cfg.BatchInterval <= 0 {
		cfg.BatchInterval = 300 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryUnit <= 0 {
		cfg.RetryUnit = time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	return &Dispatcher{
		config:     cfg,
		transports: transports,
		recipients: recipients,
		logs:       logs,
		lastFlush:  time.Now(),
		records:    make(map[uuid.UUID]*DeliveryRecord),
	}
}

// Notify queues a notification for batched delivery. The NOTIFY audit
// record is written first; a store failure there aborts and propagates.
// Transport errors during an induced flush do not.
func (d *Dispatcher) Notify(ctx context.Context, n Notification) error {
	if err := d.audit(ctx, &n); err != nil {
		return err
	}

	d.mu.Lock()
	d.pending = append(d.pending, n)
	due := time.Since(d.lastFlush) >= d.config.BatchInterval
	var batch []Notification
	if due {
		batch = d.pending
		d.pending = nil
		d.lastFlush = time.Now()
	}
	d.mu.Unlock()

	if due {
		d.deliver(ctx, digestSubject(batch), digestBody(batch))
	}
	return nil
}

// NotifyImmediate delivers a notification right away, bypassing the batch.
// Used by the escalation path.
func (d *Dispatcher) NotifyImmediate(ctx context.Context, n Notification) error {
	if err := d.audit(ctx, &n); err != nil {
		return err
	}
	d.deliver(ctx, n.Subject, n.Body)
	return nil
}

// Flush forces delivery of all pending notifications regardless of the
// batch interval. Used at shutdown.
func (d *Dispatcher) Flush(ctx context.Context) {
	d.mu.Lock()
	batch := d.pending
	d.pending = nil
	d.lastFlush = time.Now()
	d.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	d.deliver(ctx, digestSubject(batch), digestBody(batch))
}

// PendingCount returns the number of notifications awaiting the next flush.
func (d *Dispatcher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *Dispatcher) audit(ctx context.Context, n *Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	eventID := n.EventID
	log := &model.Log{
		LogType: model.LogNotify,
		Message: fmt.Sprintf("[%s] %s", n.Severity, n.Subject),
	}
	if eventID != 0 {
		log.RelatedEventID = &eventID
	}
	if err := d.logs.AppendLog(ctx, log); err != nil {
		return fmt.Errorf("failed to write notify record: %w", err)
	}
	return nil
}

// deliver sends one composed message through every transport. All failures
// are absorbed here.
func (d *Dispatcher) deliver(ctx context.Context, subject, body string) {
	for _, transport := range d.transports {
		d.sendWithRetry(ctx, transport, subject, body)
	}
}

func (d *Dispatcher) sendWithRetry(ctx context.Context, transport Transport, subject, body string) {
	record := &DeliveryRecord{
		ID:        uuid.New(),
		Transport: transport.Name(),
		Status:    DeliveryPending,
		CreatedAt: time.Now(),
	}
	d.recMu.Lock()
	d.records[record.ID] = record
	d.recMu.Unlock()

	for attempt := 1; attempt <= d.config.MaxRetries; attempt++ {
		d.recMu.Lock()
		record.Attempts = attempt
		record.LastAttempt = time.Now()
		if attempt > 1 {
			record.Status = DeliveryRetrying
		}
		d.recMu.Unlock()

		attemptCtx, cancel := context.WithTimeout(ctx, d.config.SendTimeout)
		err := transport.Send(attemptCtx, subject, body, d.recipients)
		cancel()

		if err == nil {
			now := time.Now()
			d.recMu.Lock()
			record.Status = DeliverySent
			record.DeliveredAt = &now
			d.recMu.Unlock()

			slog.Debug("notification delivered",
				"transport", transport.Name(),
				"attempts", attempt,
			)
			return
		}

		d.recMu.Lock()
		record.LastError = err.Error()
		d.recMu.Unlock()

		slog.Warn("notification delivery failed",
			"transport", transport.Name(),
			"attempt", attempt,
			"max_retries", d.config.MaxRetries,
			"error", err,
		)

		// Don't sleep after the last attempt
		if attempt < d.config.MaxRetries {
			backoff := d.config.RetryUnit * (1 << attempt)
			select {
			case <-ctx.Done():
				d.markFailed(record, "context cancelled")
				return
			case <-time.After(backoff):
			}
		}
	}

	d.markFailed(record, record.LastError)
}

func (d *Dispatcher) markFailed(record *DeliveryRecord, reason string) {
	d.recMu.Lock()
	record.Status = DeliveryFailed
	record.LastError = reason
	d.recMu.Unlock()

	slog.Error("notification delivery exhausted",
		"transport", record.Transport,
		"attempts", record.Attempts,
		"reason", reason,
	)
}

// Stats returns delivery statistics.
func (d *Dispatcher) Stats() map[string]any {
	d.recMu.RLock()
	statusCounts := make(map[string]int)
	for _, rec := range d.records {
		statusCounts[string(rec.Status)]++
	}
	total := len(d.records)
	d.recMu.RUnlock()

	d.mu.Lock()
	pending := len(d.pending)
	lastFlush := d.lastFlush
	d.mu.Unlock()

	return map[string]any{
		"total_deliveries": total,
		"by_status":        statusCounts,
		"pending_batch":    pending,
		"last_flush":       lastFlush,
		"transports":       len(d.transports),
	}
}

func digestSubject(batch []Notification) string {
	if len(batch) == 1 {
		return batch[0].Subject
	}
	return fmt.Sprintf("Filewarden digest: %d notifications", len(batch))
}

func digestBody(batch []Notification) string {
	var b strings.Builder
	for i, n := range batch {
		if i > 0 {
			b.WriteString("\n---\n")
		}
		fmt.Fprintf(&b, "[%s] %s\n%s", n.Severity, n.Subject, n.Body)
	}
	return b.String()
}
