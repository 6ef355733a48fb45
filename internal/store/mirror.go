package store

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"filewarden/internal/config"
	"filewarden/internal/model"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// Mirror batching parameters. Audit volume is low, so a small buffer
// with a short flush interval keeps the column store close to live.
const (
	mirrorBatchSize     = 500
	mirrorFlushInterval = 5 * time.Second
	mirrorMaxRetries    = 3
	mirrorRetryDelay    = time.Second
	mirrorInsertTimeout = 30 * time.Second
)

// AuditMirror streams audit records into ClickHouse for long-term
// retention and analytics. SQLite stays the authority; a mirror failure
// never fails the audit write that triggered it.
type AuditMirror struct {
	conn driver.Conn
	cfg  config.ClickHouseConfig

	buffer     []*model.Log
	mu         sync.Mutex
	flushTimer *time.Timer
	closed     bool

	written uint64
	failed  uint64
	batches uint64
}

// NewAuditMirror connects to ClickHouse, ensures the logs table exists
// and starts the flush timer.
func NewAuditMirror(cfg config.ClickHouseConfig) (*AuditMirror, error) {
	opts := &clickhouse.Options{
		Addr: cfg.Hosts,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionZSTD,
		},
		DialTimeout:     cfg.DialTimeout,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}
	if cfg.TLSEnabled {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, WrapConnectionError("mirror open", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		return nil, WrapConnectionError("mirror ping", err)
	}

	m := &AuditMirror{
		conn:   conn,
		cfg:    cfg,
		buffer: make([]*model.Log, 0, mirrorBatchSize),
	}
	if err := m.ensureSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	m.flushTimer = time.AfterFunc(mirrorFlushInterval, m.timerFlush)

	slog.Info("audit mirror connected",
		"hosts", cfg.Hosts,
		"database", cfg.Database,
	)
	return m, nil
}

func (m *AuditMirror) ensureSchema(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS audit_logs (
			log_id           Int64,
			log_type         LowCardinality(String),
			message          String,
			related_event_id Nullable(Int64),
			logged_at        DateTime64(3, 'UTC')
		)
		ENGINE = MergeTree()
		PARTITION BY toYYYYMM(logged_at)
		ORDER BY (log_type, logged_at)
	`
	if err := m.conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to ensure mirror schema: %w", err)
	}
	return nil
}

// Mirror buffers one audit record for the next batch. Safe to call from
// multiple goroutines.
func (m *AuditMirror) Mirror(l *model.Log) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("audit mirror is closed")
	}

	m.buffer = append(m.buffer, l)
	if len(m.buffer) >= mirrorBatchSize {
		return m.flushLocked()
	}
	return nil
}

func (m *AuditMirror) timerFlush() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	if len(m.buffer) > 0 {
		if err := m.flushLocked(); err != nil {
			slog.Error("audit mirror flush failed", "error", err)
		}
	}
	m.flushTimer.Reset(mirrorFlushInterval)
}

// flushLocked sends the buffer with retries. Caller holds the lock.
func (m *AuditMirror) flushLocked() error {
	if len(m.buffer) == 0 {
		return nil
	}

	records := m.buffer
	m.buffer = make([]*model.Log, 0, mirrorBatchSize)

	var lastErr error
	for attempt := 0; attempt <= mirrorMaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(mirrorRetryDelay * time.Duration(attempt))
		}

		if err := m.insertBatch(records); err != nil {
			lastErr = err
			slog.Warn("audit mirror insert failed, retrying",
				"attempt", attempt+1,
				"max_retries", mirrorMaxRetries,
				"error", err,
			)
			continue
		}

		atomic.AddUint64(&m.written, uint64(len(records)))
		atomic.AddUint64(&m.batches, 1)
		return nil
	}

	atomic.AddUint64(&m.failed, uint64(len(records)))
	return fmt.Errorf("audit mirror insert failed after %d retries: %w", mirrorMaxRetries, lastErr)
}

func (m *AuditMirror) insertBatch(records []*model.Log) error {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorInsertTimeout)
	defer cancel()

	batch, err := m.conn.PrepareBatch(ctx, `
		INSERT INTO audit_logs (
			log_id, log_type, message, related_event_id, logged_at
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare mirror batch: %w", err)
	}

	for _, l := range records {
		if err := batch.Append(
			l.ID,
			l.LogType,
			l.Message,
			l.RelatedEventID,
			l.Timestamp,
		); err != nil {
			return fmt.Errorf("failed to append mirror record: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send mirror batch: %w", err)
	}

	slog.Debug("audit mirror batch inserted", "count", len(records))
	return nil
}

// Flush forces a flush of the current buffer.
func (m *AuditMirror) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushLocked()
}

// MirrorMetrics holds mirror counters.
type MirrorMetrics struct {
	Written uint64 `json:"written"`
	Failed  uint64 `json:"failed"`
	Batches uint64 `json:"batches"`
	Pending int    `json:"pending"`
}

// Metrics returns mirror counters.
func (m *AuditMirror) Metrics() MirrorMetrics {
	m.mu.Lock()
	pending := len(m.buffer)
	m.mu.Unlock()

	return MirrorMetrics{
		Written: atomic.LoadUint64(&m.written),
		Failed:  atomic.LoadUint64(&m.failed),
		Batches: atomic.LoadUint64(&m.batches),
		Pending: pending,
	}
}

// MirroredStore decorates a Store so every audit write is also queued
// for the ClickHouse mirror. Mirror failures are logged and swallowed.
type MirroredStore struct {
	*Store
	mirror *AuditMirror
}

// NewMirroredStore wraps s with the given mirror.
func NewMirroredStore(s *Store, mirror *AuditMirror) *MirroredStore {
	return &MirroredStore{Store: s, mirror: mirror}
}

// AppendLog writes to SQLite first, then queues the record for the mirror.
func (ms *MirroredStore) AppendLog(ctx context.Context, l *model.Log) error {
	if err := ms.Store.AppendLog(ctx, l); err != nil {
		return err
	}
	if err := ms.mirror.Mirror(l); err != nil {
		slog.Warn("failed to queue audit record for mirror",
			"log_id", l.ID,
			"error", err,
		)
	}
	return nil
}

// Close flushes the buffer and closes the connection.
func (m *AuditMirror) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	err := m.flushLocked()
	m.mu.Unlock()

	m.flushTimer.Stop()
	if cerr := m.conn.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
