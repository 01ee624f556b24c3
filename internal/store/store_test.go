package store_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/raysh454/siteaudit/internal/logging"
	"github.com/raysh454/siteaudit/internal/model"
	"github.com/raysh454/siteaudit/internal/store"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := sql.Open("sqlite", "file:"+name+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(`PRAGMA foreign_keys = ON; PRAGMA busy_timeout = 5000;`); err != nil {
		t.Logf("pragmas: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// fakeClock advances one second on every read.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s, err := store.New(openTestDB(t), store.DriverSQLite, logging.Nop(), store.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func mustUser(t *testing.T, s *store.Store, email string) *model.User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), email, "pro")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

// ─── Open ──────────────────────────────────────────────────────────────

func TestOpen_SQLiteFileAppliesSchemaTwice(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "data", "siteaudit.db")

	s, err := store.Open(ctx, store.Config{Driver: store.DriverSQLite, DSN: dsn}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.CreateUser(ctx, "a@example.com", "free"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	s.Close()

	s2, err := store.Open(ctx, store.Config{DSN: dsn}, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	if _, err := s2.GetUserByEmail(ctx, "a@example.com"); err != nil {
		t.Fatalf("user lost across reopen: %v", err)
	}
}

func TestOpen_RejectsUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := store.Open(context.Background(), store.Config{Driver: "mysql", DSN: "x"}, nil); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

// ─── Users ─────────────────────────────────────────────────────────────

func TestUsers_CreateGetEnsure(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	u := mustUser(t, s, "Owner@Example.com ")
	if u.Email != "owner@example.com" {
		t.Errorf("email not normalized: %q", u.Email)
	}
	got, err := s.GetUser(ctx, u.ID)
	if err != nil || got.Plan != "pro" {
		t.Fatalf("GetUser = %+v, %v", got, err)
	}

	again, err := s.EnsureUser(ctx, "owner@example.com", "free")
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	if again.ID != u.ID || again.Plan != "pro" {
		t.Errorf("EnsureUser should return existing user unchanged, got %+v", again)
	}

	if err := s.SetPlan(ctx, u.ID, "agency"); err != nil {
		t.Fatalf("SetPlan: %v", err)
	}
	got, _ = s.GetUser(ctx, u.ID)
	if got.Plan != "agency" {
		t.Errorf("plan = %q", got.Plan)
	}

	if _, err := s.GetUser(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// ─── Monitors ──────────────────────────────────────────────────────────

func TestMonitors_CreateListDelete(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	u := mustUser(t, s, "m@example.com")

	day := 2
	m := &model.Monitor{UserID: u.ID, URL: "https://example.com", Cadence: model.CadenceWeekly, PreferredHour: 7, PreferredWeekday: &day}
	if err := s.CreateMonitor(ctx, m); err != nil {
		t.Fatalf("CreateMonitor: %v", err)
	}
	if m.ID == "" || !m.Active || m.AlertThreshold != model.DefaultAlertThreshold {
		t.Fatalf("defaults not applied: %+v", m)
	}

	got, err := s.GetMonitor(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMonitor: %v", err)
	}
	if got.PreferredWeekday == nil || *got.PreferredWeekday != 2 || got.Cadence != model.CadenceWeekly {
		t.Errorf("round trip lost fields: %+v", got)
	}
	if got.LastScore != nil || got.LastCheckedAt != nil {
		t.Errorf("new monitor must have no cursor: %+v", got)
	}

	other := &model.Monitor{UserID: u.ID, URL: "https://other.example"}
	if err := s.CreateMonitor(ctx, other); err != nil {
		t.Fatal(err)
	}
	if err := s.SetMonitorActive(ctx, other.ID, false); err != nil {
		t.Fatal(err)
	}

	active, err := s.ListActiveMonitors(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].ID != m.ID {
		t.Errorf("expected only the active monitor, got %d", len(active))
	}
	mine, _ := s.ListMonitorsByUser(ctx, u.ID)
	if len(mine) != 2 {
		t.Errorf("expected 2 monitors for user, got %d", len(mine))
	}

	if err := s.DeleteMonitor(ctx, m.ID, "someone-else"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("delete by non-owner should be not found, got %v", err)
	}
	if err := s.DeleteMonitor(ctx, m.ID, u.ID); err != nil {
		t.Fatalf("DeleteMonitor: %v", err)
	}
	if _, err := s.GetMonitor(ctx, m.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected deleted, got %v", err)
	}
}

func TestMonitors_RejectInvalid(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	u := mustUser(t, s, "bad@example.com")
	cases := []*model.Monitor{
		{UserID: u.ID, URL: "ftp://example.com"},
		{UserID: u.ID, URL: "https://example.com", PreferredHour: 24},
		{UserID: u.ID, URL: "https://example.com", Cadence: "hourly"},
		{URL: "https://example.com"},
	}
	for _, m := range cases {
		if err := s.CreateMonitor(context.Background(), m); err == nil {
			t.Errorf("expected rejection for %+v", m)
		}
	}
}

func TestRecordCheck_AppendsAuditAndMovesCursor(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	u := mustUser(t, s, "c@example.com")
	m := &model.Monitor{UserID: u.ID, URL: "https://example.com"}
	if err := s.CreateMonitor(ctx, m); err != nil {
		t.Fatal(err)
	}

	at := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	audit := &model.AuditRecord{UserID: u.ID, URL: m.URL, Score: 75, Summary: json.RawMessage(`{"global_score":75}`), Source: model.SourceWatchdog}
	if err := s.RecordCheck(ctx, audit, store.Check{MonitorID: m.ID, Score: 75, CheckedAt: at, ScreenshotRef: "abc/1.jpg"}); err != nil {
		t.Fatalf("RecordCheck: %v", err)
	}
	got, _ := s.GetMonitor(ctx, m.ID)
	if got.LastScore == nil || *got.LastScore != 75 || !got.LastCheckedAt.Equal(at) || got.LastScreenshotRef != "abc/1.jpg" {
		t.Fatalf("cursor not updated: %+v", got)
	}

	// An empty screenshot ref keeps the previous one.
	if err := s.RecordCheck(ctx, &model.AuditRecord{URL: m.URL, Score: 80}, store.Check{MonitorID: m.ID, Score: 80, CheckedAt: at.Add(24 * time.Hour), PrevCheckedAt: &at}); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetMonitor(ctx, m.ID)
	if got.LastScreenshotRef != "abc/1.jpg" || *got.LastScore != 80 {
		t.Errorf("unexpected cursor: %+v", got)
	}

	audits, err := s.ListAudits(ctx, m.URL, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(audits) != 2 || audits[0].Score != 80 {
		t.Fatalf("expected newest audit first, got %+v", audits)
	}
	if audits[1].Source != model.SourceWatchdog {
		t.Errorf("source = %q", audits[1].Source)
	}
}

func TestRecordCheck_UnknownMonitorRollsBackAudit(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	err := s.RecordCheck(ctx, &model.AuditRecord{URL: "https://ghost.example", Score: 1}, store.Check{MonitorID: "ghost", Score: 1, CheckedAt: time.Now()})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	audits, _ := s.ListAudits(ctx, "https://ghost.example", 0)
	if len(audits) != 0 {
		t.Errorf("audit must roll back with the cursor, found %d", len(audits))
	}
}

func TestRecordCheck_StaleCursorIsRejected(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	u := mustUser(t, s, "race@example.com")
	m := &model.Monitor{UserID: u.ID, URL: "https://race.example"}
	if err := s.CreateMonitor(ctx, m); err != nil {
		t.Fatal(err)
	}
	at := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	// Two writers both started from a never-checked monitor.
	first := store.Check{MonitorID: m.ID, Score: 70, CheckedAt: at}
	if err := s.RecordCheck(ctx, &model.AuditRecord{URL: m.URL, Score: 70}, first); err != nil {
		t.Fatalf("first RecordCheck: %v", err)
	}
	second := store.Check{MonitorID: m.ID, Score: 40, CheckedAt: at.Add(time.Minute)}
	err := s.RecordCheck(ctx, &model.AuditRecord{URL: m.URL, Score: 40}, second)
	if !errors.Is(err, store.ErrCursorMoved) {
		t.Fatalf("expected ErrCursorMoved, got %v", err)
	}

	got, _ := s.GetMonitor(ctx, m.ID)
	if got.LastScore == nil || *got.LastScore != 70 || !got.LastCheckedAt.Equal(at) {
		t.Errorf("losing writer moved the cursor: %+v", got)
	}
	audits, _ := s.ListAudits(ctx, m.URL, 0)
	if len(audits) != 1 || audits[0].Score != 70 {
		t.Errorf("losing writer's audit must roll back, got %+v", audits)
	}

	// A writer holding the current cursor advances it.
	third := store.Check{MonitorID: m.ID, Score: 65, CheckedAt: at.Add(24 * time.Hour), PrevCheckedAt: &at}
	if err := s.RecordCheck(ctx, &model.AuditRecord{URL: m.URL, Score: 65}, third); err != nil {
		t.Fatalf("RecordCheck with current cursor: %v", err)
	}
}

// ─── Audits ────────────────────────────────────────────────────────────

func TestAudits_GetAndDefaults(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	a := &model.AuditRecord{URL: "https://example.com", Score: 42}
	if err := s.AppendAudit(ctx, a); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetAudit(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Source != model.SourceAdHoc || string(got.Summary) != "{}" || got.Score != 42 {
		t.Errorf("unexpected audit: %+v", got)
	}
	if _, err := s.GetAudit(ctx, "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// ─── Tasks ─────────────────────────────────────────────────────────────

func TestTasks_Lifecycle(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	task, err := s.CreateTask(ctx, "u1", "https://example.com")
	if err != nil {
		t.Fatal(err)
	}
	if task.Status != model.TaskPending {
		t.Fatalf("status = %s", task.Status)
	}
	if err := s.TransitionTask(ctx, task.ID, model.TaskRunning, "", ""); err != nil {
		t.Fatalf("-> running: %v", err)
	}
	if err := s.TransitionTask(ctx, task.ID, model.TaskCompleted, "", "audit-1"); err != nil {
		t.Fatalf("-> completed: %v", err)
	}
	got, _ := s.GetTask(ctx, task.ID)
	if got.Status != model.TaskCompleted || got.AuditID != "audit-1" {
		t.Errorf("unexpected task: %+v", got)
	}
	if !got.UpdatedAt.After(got.CreatedAt) {
		t.Errorf("updated_at not advanced")
	}

	if err := s.TransitionTask(ctx, task.ID, model.TaskFailed, "late", ""); !errors.Is(err, store.ErrTaskTerminal) {
		t.Errorf("expected ErrTaskTerminal, got %v", err)
	}
}

func TestTasks_InvalidTransition(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	task, _ := s.CreateTask(context.Background(), "", "https://example.com")
	err := s.TransitionTask(context.Background(), task.ID, model.TaskCompleted, "", "")
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("pending -> completed should be invalid, got %v", err)
	}
}

func TestTasks_FailUnfinishedAndList(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	pending, _ := s.CreateTask(ctx, "", "https://a.example")
	running, _ := s.CreateTask(ctx, "", "https://b.example")
	done, _ := s.CreateTask(ctx, "", "https://c.example")
	_ = s.TransitionTask(ctx, running.ID, model.TaskRunning, "", "")
	_ = s.TransitionTask(ctx, done.ID, model.TaskRunning, "", "")
	_ = s.TransitionTask(ctx, done.ID, model.TaskCompleted, "", "")

	open, err := s.ListTasksByStatus(ctx, model.TaskPending, model.TaskRunning)
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 2 || open[0].ID != pending.ID {
		t.Fatalf("expected pending and running, got %+v", open)
	}

	n, err := s.FailUnfinished(ctx, "interrupted")
	if err != nil || n != 2 {
		t.Fatalf("FailUnfinished = %d, %v", n, err)
	}
	got, _ := s.GetTask(ctx, running.ID)
	if got.Status != model.TaskFailed || got.Error != "interrupted" {
		t.Errorf("unexpected task: %+v", got)
	}
	got, _ = s.GetTask(ctx, done.ID)
	if got.Status != model.TaskCompleted {
		t.Errorf("completed task must not change: %+v", got)
	}

	n, _ = s.FailUnfinished(ctx, "interrupted")
	if n != 0 {
		t.Errorf("second run should be a no-op, changed %d", n)
	}
}
