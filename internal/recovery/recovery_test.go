package recovery_test

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/raysh454/siteaudit/internal/logging"
	"github.com/raysh454/siteaudit/internal/model"
	"github.com/raysh454/siteaudit/internal/recovery"
	"github.com/raysh454/siteaudit/internal/store"
	"github.com/raysh454/siteaudit/internal/testutil"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := sql.Open("sqlite", "file:"+name+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	s, err := store.New(db, store.DriverSQLite, logging.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

type countMetrics struct{ n int }

func (c *countMetrics) TasksRecovered(n int) { c.n += n }

func TestRun_FailsUnfinishedAndIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	pending, _ := s.CreateTask(ctx, "", "https://a.example")
	running, _ := s.CreateTask(ctx, "", "https://b.example")
	done, _ := s.CreateTask(ctx, "", "https://c.example")
	if err := s.TransitionTask(ctx, running.ID, model.TaskRunning, "", ""); err != nil {
		t.Fatal(err)
	}
	_ = s.TransitionTask(ctx, done.ID, model.TaskRunning, "", "")
	_ = s.TransitionTask(ctx, done.ID, model.TaskCompleted, "", "audit")

	metrics := &countMetrics{}
	logger := &testutil.DummyLogger{}
	r := recovery.New(s, metrics, logger)

	n, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 2 || metrics.n != 2 {
		t.Fatalf("expected 2 recovered, got %d (metrics %d)", n, metrics.n)
	}
	if len(logger.Warns) != 2 {
		t.Errorf("expected one warning per task, got %d", len(logger.Warns))
	}
	for _, id := range []string{pending.ID, running.ID} {
		got, _ := s.GetTask(ctx, id)
		if got.Status != model.TaskFailed || got.Error != recovery.InterruptedMessage {
			t.Errorf("task %s not recovered: %+v", id, got)
		}
	}
	got, _ := s.GetTask(ctx, done.ID)
	if got.Status != model.TaskCompleted {
		t.Errorf("completed task changed: %+v", got)
	}

	n, err = r.Run(ctx)
	if err != nil || n != 0 {
		t.Fatalf("second Run = %d, %v; want 0, nil", n, err)
	}
	if metrics.n != 2 {
		t.Errorf("no-op run must not count, metrics %d", metrics.n)
	}
}

type failingStore struct{}

func (failingStore) ListTasksByStatus(context.Context, ...model.TaskStatus) ([]*model.ScanTask, error) {
	return nil, errors.New("db gone")
}

func (failingStore) FailUnfinished(context.Context, string) (int, error) { return 0, nil }

func TestRun_StoreError(t *testing.T) {
	t.Parallel()
	if _, err := recovery.New(failingStore{}, nil, nil).Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
