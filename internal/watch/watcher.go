// Package watch turns filesystem change notifications on registered
// folders into events for the orchestrator.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"filewarden/internal/model"

	"github.com/fsnotify/fsnotify"
)

// Pipeline is the engine-side contract: the watcher hands every persisted
// event to it for scoring.
type Pipeline interface {
	HandleEvent(ctx context.Context, event *model.Event) error
}

// Store is the persistence contract the watcher needs: event creation,
// audit records and folder/file resolution.
type Store interface {
	CreateEvent(ctx context.Context, e *model.Event) error
	AppendLog(ctx context.Context, l *model.Log) error
	ListFolders(ctx context.Context) ([]model.Folder, error)
	GetFolderByPath(ctx context.Context, path string) (*model.Folder, error)
	GetFileByPath(ctx context.Context, path string) (*model.File, error)
}

// Config configures the watcher.
type Config struct {
	DebounceWindow time.Duration // Coalesce repeated writes to one path (default 1s)
	HandleTimeout  time.Duration // Per-event pipeline timeout (default 30s)
}

// DefaultConfig returns watcher defaults.
func DefaultConfig() Config {
	return Config{
		DebounceWindow: time.Second,
		HandleTimeout:  30 * time.Second,
	}
}

// Watcher monitors registered folders with fsnotify and feeds change
// events into the pipeline. Editors fire bursts of writes for one save;
// the debounce window collapses them into a single event.
type Watcher struct {
	config   Config
	store    Store
	pipeline Pipeline
	fsw      *fsnotify.Watcher

	mu       sync.Mutex
	watched  map[string]int64 // folder path -> folder id
	lastSeen map[string]time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a watcher. Call Start to begin monitoring.
func New(cfg Config, store Store, pipeline Pipeline) (*Watcher, error) {
	if cfg.DebounceWindow <= 0 {
		cfg.DebounceWindow = time.Second
	}
	if cfg.HandleTimeout <= 0 {
		cfg.HandleTimeout = 30 * time.Second
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		config:   cfg,
		store:    store,
		pipeline: pipeline,
		fsw:      fsw,
		watched:  make(map[string]int64),
		lastSeen: make(map[string]time.Time),
		stopCh:   make(chan struct{}),
	}, nil
}

// Start registers every stored folder and begins the event loop.
func (w *Watcher) Start(ctx context.Context) error {
	folders, err := w.store.ListFolders(ctx)
	if err != nil {
		return fmt.Errorf("failed to list folders: %w", err)
	}

	for _, folder := range folders {
		if err := w.AddFolder(ctx, &folder); err != nil {
			slog.Warn("failed to watch folder",
				"path", folder.Path,
				"error", err,
			)
		}
	}

	w.wg.Add(1)
	go w.loop()

	slog.Info("file watcher started", "folders", len(w.watched))
	return nil
}

// Stop shuts the watcher down and waits for the loop to exit.
func (w *Watcher) Stop() {
	close(w.stopCh)
	w.fsw.Close()
	w.wg.Wait()
	slog.Info("file watcher stopped")
}

// AddFolder begins watching a registered folder.
func (w *Watcher) AddFolder(ctx context.Context, folder *model.Folder) error {
	if err := w.fsw.Add(folder.Path); err != nil {
		return fmt.Errorf("failed to watch %s: %w", folder.Path, err)
	}

	w.mu.Lock()
	w.watched[folder.Path] = folder.ID
	w.mu.Unlock()

	if err := w.store.AppendLog(ctx, &model.Log{
		LogType: model.LogFileMonitor,
		Message: fmt.Sprintf("Monitoring started for folder %s (%s)", folder.Name, folder.Path),
	}); err != nil {
		return fmt.Errorf("failed to write monitor record: %w", err)
	}
	return nil
}

// RemoveFolder stops watching a folder.
func (w *Watcher) RemoveFolder(folder *model.Folder) error {
	w.mu.Lock()
	delete(w.watched, folder.Path)
	w.mu.Unlock()
	return w.fsw.Remove(folder.Path)
}

// WatchedCount returns the number of folders under watch.
func (w *Watcher) WatchedCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.watched)
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopCh:
			return
		case fsEvent, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleFsEvent(fsEvent)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Error("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleFsEvent(fsEvent fsnotify.Event) {
	eventType, ok := mapOp(fsEvent.Op)
	if !ok {
		return
	}

	if eventType == model.EventModify && w.debounced(fsEvent.Name) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.config.HandleTimeout)
	defer cancel()

	event := &model.Event{EventType: eventType}
	w.resolveTarget(ctx, fsEvent.Name, event)

	if err := w.store.CreateEvent(ctx, event); err != nil {
		slog.Error("failed to persist watcher event",
			"path", fsEvent.Name,
			"type", eventType,
			"error", err,
		)
		return
	}

	if err := w.store.AppendLog(ctx, &model.Log{
		LogType:        model.LogFileMonitor,
		Message:        fmt.Sprintf("Filesystem %s detected at %s", eventType, fsEvent.Name),
		RelatedEventID: &event.ID,
	}); err != nil {
		slog.Error("failed to write monitor record", "error", err)
	}

	if err := w.pipeline.HandleEvent(ctx, event); err != nil {
		slog.Error("pipeline failed for watcher event",
			"event_id", event.ID,
			"error", err,
		)
	}
}

// debounced reports whether a write to path arrived within the debounce
// window of the previous one.
func (w *Watcher) debounced(path string) bool {
	now := time.Now()
	w.mu.Lock()
	defer w.mu.Unlock()

	if last, ok := w.lastSeen[path]; ok && now.Sub(last) < w.config.DebounceWindow {
		return true
	}
	w.lastSeen[path] = now

	// Keep the debounce map from growing without bound.
	if len(w.lastSeen) > 4096 {
		cutoff := now.Add(-w.config.DebounceWindow)
		for p, t := range w.lastSeen {
			if t.Before(cutoff) {
				delete(w.lastSeen, p)
			}
		}
	}
	return false
}

// resolveTarget attaches folder and file ids to the event when the path is
// registered. Unregistered paths still produce an event; the scorer works
// from event type alone.
func (w *Watcher) resolveTarget(ctx context.Context, path string, event *model.Event) {
	dir := filepath.Dir(path)

	w.mu.Lock()
	folderID, ok := w.watched[dir]
	w.mu.Unlock()

	if !ok {
		if folder, err := w.store.GetFolderByPath(ctx, dir); err == nil {
			folderID = folder.ID
			ok = true
		}
	}
	if ok {
		event.TargetFolderID = &folderID
	}

	if file, err := w.store.GetFileByPath(ctx, path); err == nil {
		event.TargetFileID = &file.ID
	}
}

func mapOp(op fsnotify.Op) (string, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return model.EventCreate, true
	case op.Has(fsnotify.Write):
		return model.EventModify, true
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return model.EventDelete, true
	default:
		return "", false
	}
}
