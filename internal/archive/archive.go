// Package archive exports audit logs past the retention window to object
// storage and prunes them from SQLite.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"filewarden/internal/config"
	"filewarden/internal/model"
)

// Sweep batch size. Each batch becomes one JSONL object.
const sweepBatchSize = 1000

// ObjectStore is the upload contract. The S3 client implements it;
// tests fake it.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte) error
}

// LogStore is the log persistence surface the archiver needs.
type LogStore interface {
	ListLogsOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]model.Log, error)
	DeleteLogsByID(ctx context.Context, ids []int64) (int64, error)
}

// Archiver periodically moves expired audit logs to the object store.
// A log row is deleted only after its batch uploaded successfully.
type Archiver struct {
	cfg     config.ArchiveConfig
	objects ObjectStore
	logs    LogStore
	logger  *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup

	archived atomic.Int64
	sweeps   atomic.Int64
}

// New creates an archiver.
func New(cfg config.ArchiveConfig, objects ObjectStore, logs LogStore, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		cfg:     cfg,
		objects: objects,
		logs:    logs,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop or ctx cancellation.
func (a *Archiver) Start(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(a.cfg.SweepInterval)
		defer ticker.Stop()

		a.logger.Info("archive sweeper started",
			"bucket", a.cfg.Bucket,
			"retention_days", a.cfg.RetentionDays,
			"interval", a.cfg.SweepInterval,
		)

		for {
			select {
			case <-ticker.C:
				if n, err := a.Sweep(ctx); err != nil {
					a.logger.Error("archive sweep failed", "error", err)
				} else if n > 0 {
					a.logger.Info("archive sweep complete", "archived", n)
				}
			case <-ctx.Done():
				return
			case <-a.stopCh:
				return
			}
		}
	}()
}

// Stop terminates the sweep loop and waits for it to exit.
func (a *Archiver) Stop() {
	close(a.stopCh)
	a.wg.Wait()
}

// Sweep exports and prunes every log older than the retention window.
// Returns the number of archived records.
func (a *Archiver) Sweep(ctx context.Context) (int, error) {
	a.sweeps.Add(1)
	cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.RetentionDays)

	total := 0
	for {
		batch, err := a.logs.ListLogsOlderThan(ctx, cutoff, sweepBatchSize)
		if err != nil {
			return total, fmt.Errorf("failed to list expired logs: %w", err)
		}
		if len(batch) == 0 {
			return total, nil
		}

		if err := a.exportBatch(ctx, batch); err != nil {
			return total, err
		}

		ids := make([]int64, len(batch))
		for i, l := range batch {
			ids[i] = l.ID
		}
		if _, err := a.logs.DeleteLogsByID(ctx, ids); err != nil {
			return total, fmt.Errorf("failed to prune archived logs: %w", err)
		}

		total += len(batch)
		a.archived.Add(int64(len(batch)))

		if len(batch) < sweepBatchSize {
			return total, nil
		}
	}
}

// exportBatch uploads one batch as a JSONL object keyed by export time
// and the covered id range.
func (a *Archiver) exportBatch(ctx context.Context, batch []model.Log) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, l := range batch {
		if err := enc.Encode(l); err != nil {
			return fmt.Errorf("failed to encode log %d: %w", l.ID, err)
		}
	}

	now := time.Now().UTC()
	key := fmt.Sprintf("%slogs/%s/logs-%d-%d-%d.jsonl",
		a.cfg.Prefix,
		now.Format("2006/01/02"),
		now.Unix(),
		batch[0].ID,
		batch[len(batch)-1].ID,
	)

	if err := a.objects.Put(ctx, key, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to upload archive object %s: %w", key, err)
	}

	a.logger.Debug("archive batch uploaded", "key", key, "records", len(batch))
	return nil
}

// Stats returns sweep counters.
func (a *Archiver) Stats() map[string]any {
	return map[string]any{
		"archived_logs": a.archived.Load(),
		"sweeps":        a.sweeps.Load(),
	}
}
