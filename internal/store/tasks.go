package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/raysh454/siteaudit/internal/model"
)

const taskColumns = `id, user_id, url, status, error, audit_id, created_at, updated_at`

// CreateTask persists a pending scan task.
func (s *Store) CreateTask(ctx context.Context, userID, url string) (*model.ScanTask, error) {
	now := s.stamp()
	t := &model.ScanTask{
		ID:        uuid.NewString(),
		UserID:    userID,
		URL:       url,
		Status:    model.TaskPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO scan_tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, '', '', ?, ?)`),
		t.ID, t.UserID, t.URL, string(t.Status), formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return t, nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*model.ScanTask, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+taskColumns+` FROM scan_tasks WHERE id = ?`), id)
	return scanTask(row)
}

// TransitionTask moves a task to status to. errMsg and auditID are stored
// when non-empty. Leaving a terminal state returns ErrTaskTerminal; any
// other illegal step returns ErrInvalidTransition. The update is
// conditional on the status read, so a concurrent transition loses cleanly.
func (s *Store) TransitionTask(ctx context.Context, id string, to model.TaskStatus, errMsg, auditID string) error {
	cur, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if cur.Status.Terminal() {
		return fmt.Errorf("task %s is %s: %w", id, cur.Status, ErrTaskTerminal)
	}
	if !model.CanTransition(cur.Status, to) {
		return fmt.Errorf("task %s %s -> %s: %w", id, cur.Status, to, ErrInvalidTransition)
	}
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE scan_tasks
		SET status = ?, error = CASE WHEN ? = '' THEN error ELSE ? END,
		    audit_id = CASE WHEN ? = '' THEN audit_id ELSE ? END, updated_at = ?
		WHERE id = ? AND status = ?`),
		string(to), errMsg, errMsg, auditID, auditID, formatTime(s.stamp()), id, string(cur.Status))
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		// Someone else moved it first; report against the new state.
		return s.TransitionTask(ctx, id, to, errMsg, auditID)
	}
	return nil
}

// ListTasksByStatus returns tasks in any of the given states, oldest first.
func (s *Store) ListTasksByStatus(ctx context.Context, statuses ...model.TaskStatus) ([]*model.ScanTask, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT `+taskColumns+` FROM scan_tasks WHERE status IN (`+placeholders(len(args))+`) ORDER BY created_at, id`),
		args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []*model.ScanTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// FailUnfinished marks every pending or running task failed with msg and
// returns how many rows changed.
func (s *Store) FailUnfinished(ctx context.Context, msg string) (int, error) {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE scan_tasks SET status = ?, error = ?, updated_at = ?
		WHERE status IN (?, ?)`),
		string(model.TaskFailed), msg, formatTime(s.stamp()), string(model.TaskPending), string(model.TaskRunning))
	if err != nil {
		return 0, fmt.Errorf("fail unfinished tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

func scanTask(row scanner) (*model.ScanTask, error) {
	var (
		t                model.ScanTask
		status           string
		created, updated string
	)
	if err := row.Scan(&t.ID, &t.UserID, &t.URL, &status, &t.Error, &t.AuditID, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t.Status = model.TaskStatus(status)
	var err error
	if t.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &t, nil
}
