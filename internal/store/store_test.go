package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"filewarden/internal/model"
	"filewarden/internal/rules"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory()
	if err != nil {
		t.Fatalf("failed to open in-memory store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedUser(t *testing.T, s *Store) *model.User {
	t.Helper()
	u := &model.User{Username: "admin", PasswordHash: "x", Role: model.RoleAdmin}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	return u
}

func seedEvent(t *testing.T, s *Store) *model.Event {
	t.Helper()
	e := &model.Event{EventType: model.EventModify}
	if err := s.CreateEvent(context.Background(), e); err != nil {
		t.Fatalf("failed to seed event: %v", err)
	}
	return e
}

// ---------------------------------------------------------------------------
// 1. Migrations
// ---------------------------------------------------------------------------

func TestMigrationsApplyOnce(t *testing.T) {
	s := openTestStore(t)

	// Running the migrator again must be a no-op.
	if err := NewMigrator(s).Run(context.Background()); err != nil {
		t.Fatalf("second migration run failed: %v", err)
	}

	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n); err != nil {
		t.Fatalf("failed to count migrations: %v", err)
	}
	if n < 2 {
		t.Errorf("applied migrations = %d, want at least 2", n)
	}
}

// ---------------------------------------------------------------------------
// 2. Rules
// ---------------------------------------------------------------------------

func TestRuleLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	r := &rules.Rule{Name: "suspicious delete", Description: "deletes in protected folders",
		SeverityLevel: rules.SeverityHigh, ActionType: "notify_delete"}
	if err := s.CreateRule(ctx, r); err != nil {
		t.Fatalf("CreateRule failed: %v", err)
	}
	if r.ID == 0 {
		t.Fatal("CreateRule did not assign an id")
	}

	got, err := s.GetRule(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRule failed: %v", err)
	}
	if got.Name != r.Name || got.SeverityLevel != rules.SeverityHigh || got.AdaptiveFlag {
		t.Errorf("GetRule = %+v", got)
	}

	got.AdaptiveFlag = true
	got.SeverityLevel = rules.SeverityCritical
	before := got.LastUpdated
	time.Sleep(5 * time.Millisecond)
	if err := s.SaveRule(ctx, got); err != nil {
		t.Fatalf("SaveRule failed: %v", err)
	}
	if !got.LastUpdated.After(before) {
		t.Error("SaveRule did not bump last_updated")
	}

	reread, err := s.GetRule(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRule after save failed: %v", err)
	}
	if !reread.AdaptiveFlag || reread.SeverityLevel != rules.SeverityCritical {
		t.Errorf("mutation not persisted: %+v", reread)
	}

	if err := s.DeleteRule(ctx, r.ID); err != nil {
		t.Fatalf("DeleteRule failed: %v", err)
	}
	if _, err := s.GetRule(ctx, r.ID); !IsNotFound(err) {
		t.Errorf("GetRule after delete = %v, want not found", err)
	}
}

func TestListRulesStableOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"first", "second", "third"} {
		if err := s.CreateRule(ctx, &rules.Rule{Name: name, SeverityLevel: rules.SeverityLow}); err != nil {
			t.Fatalf("CreateRule failed: %v", err)
		}
	}

	list, err := s.ListRules(ctx)
	if err != nil {
		t.Fatalf("ListRules failed: %v", err)
	}
	if len(list) != 3 || list[0].Name != "first" || list[2].Name != "third" {
		t.Errorf("ListRules order wrong: %+v", list)
	}
}

func TestTouchRuleNotFound(t *testing.T) {
	s := openTestStore(t)

	err := s.TouchRule(context.Background(), 999, time.Now())
	if !IsNotFound(err) {
		t.Errorf("TouchRule(999) = %v, want not found", err)
	}
}

// ---------------------------------------------------------------------------
// 3. Events
// ---------------------------------------------------------------------------

func TestEventLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e := seedEvent(t, s)
	if e.ID == 0 || e.Timestamp.IsZero() {
		t.Fatalf("CreateEvent left event incomplete: %+v", e)
	}

	got, err := s.GetEvent(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetEvent failed: %v", err)
	}
	if got.ProcessedFlag {
		t.Error("new event must be unprocessed")
	}

	if err := s.MarkEventProcessed(ctx, e.ID); err != nil {
		t.Fatalf("MarkEventProcessed failed: %v", err)
	}
	got, err = s.GetEvent(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetEvent failed: %v", err)
	}
	if !got.ProcessedFlag {
		t.Error("processed flag not set")
	}

	n, err := s.CountUnprocessedEvents(ctx)
	if err != nil {
		t.Fatalf("CountUnprocessedEvents failed: %v", err)
	}
	if n != 0 {
		t.Errorf("unprocessed = %d, want 0", n)
	}
}

func TestListRecentEventsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := seedEvent(t, s)
	second := seedEvent(t, s)

	list, err := s.ListRecentEvents(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecentEvents failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != second.ID || list[1].ID != first.ID {
		t.Errorf("ListRecentEvents order wrong: %+v", list)
	}
}

// ---------------------------------------------------------------------------
// 4. Feedback
// ---------------------------------------------------------------------------

func TestFeedbackUniquePerEvent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	e := seedEvent(t, s)

	f := &model.Feedback{EventID: e.ID, FeedbackType: model.FeedbackApprove}
	if err := s.CreateFeedback(ctx, f); err != nil {
		t.Fatalf("CreateFeedback failed: %v", err)
	}

	dup := &model.Feedback{EventID: e.ID, FeedbackType: model.FeedbackReject}
	err := s.CreateFeedback(ctx, dup)
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("second feedback = %v, want ErrDuplicate", err)
	}
}

func TestCountFeedbackByType(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		e := seedEvent(t, s)
		if err := s.CreateFeedback(ctx, &model.Feedback{EventID: e.ID, FeedbackType: model.FeedbackReject}); err != nil {
			t.Fatalf("CreateFeedback failed: %v", err)
		}
	}
	e := seedEvent(t, s)
	if err := s.CreateFeedback(ctx, &model.Feedback{EventID: e.ID, FeedbackType: model.FeedbackApprove}); err != nil {
		t.Fatalf("CreateFeedback failed: %v", err)
	}

	rejects, err := s.CountFeedbackByType(ctx, model.FeedbackReject)
	if err != nil {
		t.Fatalf("CountFeedbackByType failed: %v", err)
	}
	if rejects != 3 {
		t.Errorf("rejects = %d, want 3", rejects)
	}
}

// ---------------------------------------------------------------------------
// 5. Logs
// ---------------------------------------------------------------------------

func TestLogsAppendAndList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	e := seedEvent(t, s)

	for _, logType := range []string{model.LogAIDecision, model.LogNotify, model.LogEscalate} {
		l := &model.Log{LogType: logType, Message: "m", RelatedEventID: &e.ID}
		if err := s.AppendLog(ctx, l); err != nil {
			t.Fatalf("AppendLog(%s) failed: %v", logType, err)
		}
	}

	all, err := s.ListRecentLogs(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListRecentLogs failed: %v", err)
	}
	if len(all) != 3 || all[0].LogType != model.LogEscalate {
		t.Errorf("ListRecentLogs = %+v, want 3 newest-first", all)
	}

	notify, err := s.ListRecentLogs(ctx, model.LogNotify, 10)
	if err != nil {
		t.Fatalf("ListRecentLogs(NOTIFY) failed: %v", err)
	}
	if len(notify) != 1 {
		t.Errorf("NOTIFY logs = %d, want 1", len(notify))
	}

	byEvent, err := s.ListLogsByEvent(ctx, e.ID)
	if err != nil {
		t.Fatalf("ListLogsByEvent failed: %v", err)
	}
	if len(byEvent) != 3 || byEvent[0].LogType != model.LogAIDecision {
		t.Errorf("ListLogsByEvent = %+v, want 3 in insertion order", byEvent)
	}

	counts, err := s.CountLogsByType(ctx)
	if err != nil {
		t.Fatalf("CountLogsByType failed: %v", err)
	}
	if counts[model.LogAIDecision] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestLogsArchiveWindow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := &model.Log{LogType: model.LogFileMonitor, Message: "old",
		Timestamp: time.Now().UTC().Add(-48 * time.Hour)}
	if err := s.AppendLog(ctx, old); err != nil {
		t.Fatalf("AppendLog failed: %v", err)
	}
	fresh := &model.Log{LogType: model.LogFileMonitor, Message: "fresh"}
	if err := s.AppendLog(ctx, fresh); err != nil {
		t.Fatalf("AppendLog failed: %v", err)
	}

	expired, err := s.ListLogsOlderThan(ctx, time.Now().UTC().Add(-24*time.Hour), 100)
	if err != nil {
		t.Fatalf("ListLogsOlderThan failed: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != old.ID {
		t.Fatalf("expired logs = %+v, want only the old record", expired)
	}

	deleted, err := s.DeleteLogsByID(ctx, []int64{old.ID})
	if err != nil {
		t.Fatalf("DeleteLogsByID failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	remaining, err := s.ListRecentLogs(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListRecentLogs failed: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != fresh.ID {
		t.Errorf("remaining logs = %+v, want only the fresh record", remaining)
	}
}

// ---------------------------------------------------------------------------
// 6. Users, folders, files
// ---------------------------------------------------------------------------

func TestUserLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s)

	got, err := s.GetUserByUsername(ctx, "admin")
	if err != nil {
		t.Fatalf("GetUserByUsername failed: %v", err)
	}
	if got.ID != u.ID || !got.IsAdmin() {
		t.Errorf("GetUserByUsername = %+v", got)
	}

	dup := &model.User{Username: "admin", PasswordHash: "y", Role: model.RoleUser}
	if err := s.CreateUser(ctx, dup); !errors.Is(err, ErrDuplicate) {
		t.Errorf("duplicate username = %v, want ErrDuplicate", err)
	}

	when := time.Now().UTC()
	if err := s.UpdateLastLogin(ctx, u.ID, when); err != nil {
		t.Fatalf("UpdateLastLogin failed: %v", err)
	}
	got, err = s.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if got.LastLogin == nil {
		t.Error("last_login not set")
	}
}

func TestFolderAndFileLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s)

	folder := &model.Folder{Name: "docs", Path: "/srv/docs", OwnerID: u.ID}
	if err := s.CreateFolder(ctx, folder); err != nil {
		t.Fatalf("CreateFolder failed: %v", err)
	}

	byPath, err := s.GetFolderByPath(ctx, "/srv/docs")
	if err != nil {
		t.Fatalf("GetFolderByPath failed: %v", err)
	}
	if byPath.ID != folder.ID {
		t.Errorf("GetFolderByPath = %+v", byPath)
	}

	file := &model.File{Name: "a.txt", Path: "/srv/docs/a.txt", FolderID: folder.ID, OwnerID: u.ID}
	if err := s.CreateFile(ctx, file); err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}

	files, err := s.ListFilesByFolder(ctx, folder.ID)
	if err != nil {
		t.Fatalf("ListFilesByFolder failed: %v", err)
	}
	if len(files) != 1 || files[0].Path != "/srv/docs/a.txt" {
		t.Errorf("ListFilesByFolder = %+v", files)
	}

	if err := s.TouchFile(ctx, file.ID, time.Now().UTC(), "abc123"); err != nil {
		t.Fatalf("TouchFile failed: %v", err)
	}
	got, err := s.GetFile(ctx, file.ID)
	if err != nil {
		t.Fatalf("GetFile failed: %v", err)
	}
	if got.ModifiedAt == nil || got.Hash != "abc123" {
		t.Errorf("TouchFile not persisted: %+v", got)
	}

	// Deleting the folder cascades to its files.
	if _, err := s.db.ExecContext(ctx, "DELETE FROM folders WHERE id = ?", folder.ID); err != nil {
		t.Fatalf("folder delete failed: %v", err)
	}
	if _, err := s.GetFile(ctx, file.ID); !IsNotFound(err) {
		t.Errorf("file survived folder cascade: %v", err)
	}
}
