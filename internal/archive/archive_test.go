package archive

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"filewarden/internal/config"
	"filewarden/internal/model"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type mockObjects struct {
	puts map[string][]byte
	fail bool
}

func (m *mockObjects) Put(ctx context.Context, key string, body []byte) error {
	if m.fail {
		return errors.New("bucket unavailable")
	}
	if m.puts == nil {
		m.puts = make(map[string][]byte)
	}
	m.puts[key] = body
	return nil
}

type mockLogStore struct {
	logs    []model.Log
	deleted []int64
}

func (m *mockLogStore) ListLogsOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]model.Log, error) {
	var out []model.Log
	for _, l := range m.logs {
		if l.Timestamp.Before(cutoff) {
			out = append(out, l)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *mockLogStore) DeleteLogsByID(ctx context.Context, ids []int64) (int64, error) {
	m.deleted = append(m.deleted, ids...)
	kept := m.logs[:0]
	for _, l := range m.logs {
		drop := false
		for _, id := range ids {
			if l.ID == id {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, l)
		}
	}
	m.logs = kept
	return int64(len(ids)), nil
}

func testConfig() config.ArchiveConfig {
	return config.ArchiveConfig{
		Enabled:       true,
		Bucket:        "filewarden-audit",
		Prefix:        "archive/",
		RetentionDays: 30,
		SweepInterval: time.Hour,
	}
}

func expiredLog(id int64, daysOld int) model.Log {
	return model.Log{
		ID:        id,
		LogType:   "NOTIFY",
		Message:   "notification sent",
		Timestamp: time.Now().UTC().AddDate(0, 0, -daysOld),
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestSweepArchivesAndPrunes(t *testing.T) {
	objects := &mockObjects{}
	logs := &mockLogStore{logs: []model.Log{
		expiredLog(1, 45),
		expiredLog(2, 40),
		expiredLog(3, 5), // inside retention, must survive
	}}
	a := New(testConfig(), objects, logs, slog.Default())

	n, err := a.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if n != 2 {
		t.Errorf("archived = %d, want 2", n)
	}
	if len(objects.puts) != 1 {
		t.Fatalf("uploaded %d objects, want 1", len(objects.puts))
	}
	if len(logs.logs) != 1 || logs.logs[0].ID != 3 {
		t.Errorf("remaining logs = %v, want only id 3", logs.logs)
	}

	for key, body := range objects.puts {
		if !strings.HasPrefix(key, "archive/logs/") {
			t.Errorf("key = %q, want archive/logs/ prefix", key)
		}
		if !strings.HasSuffix(key, ".jsonl") {
			t.Errorf("key = %q, want .jsonl suffix", key)
		}
		lines := strings.Split(strings.TrimSpace(string(body)), "\n")
		if len(lines) != 2 {
			t.Fatalf("object has %d lines, want 2", len(lines))
		}
		var first model.Log
		if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
			t.Fatalf("first line is not valid JSON: %v", err)
		}
		if first.ID != 1 {
			t.Errorf("first archived id = %d, want 1", first.ID)
		}
	}
}

func TestSweepNothingExpired(t *testing.T) {
	objects := &mockObjects{}
	logs := &mockLogStore{logs: []model.Log{expiredLog(1, 2)}}
	a := New(testConfig(), objects, logs, slog.Default())

	n, err := a.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if n != 0 {
		t.Errorf("archived = %d, want 0", n)
	}
	if len(objects.puts) != 0 {
		t.Error("no objects should be uploaded when nothing expired")
	}
}

func TestSweepKeepsLogsWhenUploadFails(t *testing.T) {
	objects := &mockObjects{fail: true}
	logs := &mockLogStore{logs: []model.Log{expiredLog(1, 45)}}
	a := New(testConfig(), objects, logs, slog.Default())

	if _, err := a.Sweep(context.Background()); err == nil {
		t.Fatal("sweep must fail when the upload fails")
	}
	if len(logs.deleted) != 0 {
		t.Errorf("deleted ids = %v, want none on upload failure", logs.deleted)
	}
	if len(logs.logs) != 1 {
		t.Error("logs must survive a failed upload")
	}
}

func TestSweepStats(t *testing.T) {
	objects := &mockObjects{}
	logs := &mockLogStore{logs: []model.Log{expiredLog(1, 45), expiredLog(2, 45)}}
	a := New(testConfig(), objects, logs, slog.Default())

	if _, err := a.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	stats := a.Stats()
	if stats["archived_logs"] != int64(2) {
		t.Errorf("archived_logs = %v, want 2", stats["archived_logs"])
	}
	if stats["sweeps"] != int64(1) {
		t.Errorf("sweeps = %v, want 1", stats["sweeps"])
	}
}
