package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/raysh454/siteaudit/internal/model"
)

const monitorColumns = `id, user_id, url, frequency, check_hour, check_day, alert_threshold,
	last_score, last_checked_at, last_screenshot_path, is_active, created_at`

// CreateMonitor validates m, assigns its id and inserts it as active.
func (s *Store) CreateMonitor(ctx context.Context, m *model.Monitor) error {
	if m.UserID == "" {
		return errors.New("monitor owner is required")
	}
	if err := m.Validate(); err != nil {
		return err
	}
	m.ID = uuid.NewString()
	m.CreatedAt = s.stamp()
	m.Active = true
	m.LastScore, m.LastCheckedAt, m.LastScreenshotRef = nil, nil, ""

	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO monitors (`+monitorColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL, NULL, '', 1, ?)`),
		m.ID, m.UserID, m.URL, string(m.Cadence), m.PreferredHour, nullInt(m.PreferredWeekday),
		m.AlertThreshold, formatTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert monitor: %w", err)
	}
	return nil
}

func (s *Store) GetMonitor(ctx context.Context, id string) (*model.Monitor, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+monitorColumns+` FROM monitors WHERE id = ?`), id)
	return scanMonitor(row)
}

// ListActiveMonitors returns every active monitor, oldest first.
func (s *Store) ListActiveMonitors(ctx context.Context) ([]*model.Monitor, error) {
	return s.listMonitors(ctx, `SELECT `+monitorColumns+` FROM monitors WHERE is_active = 1 ORDER BY created_at, id`)
}

func (s *Store) ListMonitorsByUser(ctx context.Context, userID string) ([]*model.Monitor, error) {
	return s.listMonitors(ctx, `SELECT `+monitorColumns+` FROM monitors WHERE user_id = ? ORDER BY created_at, id`, userID)
}

func (s *Store) listMonitors(ctx context.Context, query string, args ...any) ([]*model.Monitor, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query monitors: %w", err)
	}
	defer rows.Close()

	var out []*model.Monitor
	for rows.Next() {
		m, err := scanMonitor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SetMonitorActive pauses or resumes a monitor.
func (s *Store) SetMonitorActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE monitors SET is_active = ? WHERE id = ?`), boolInt(active), id)
	if err != nil {
		return fmt.Errorf("update monitor: %w", err)
	}
	return expectOne(res, "monitor", id)
}

// DeleteMonitor removes a monitor owned by userID. Audit history stays.
func (s *Store) DeleteMonitor(ctx context.Context, id, userID string) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM monitors WHERE id = ? AND user_id = ?`), id, userID)
	if err != nil {
		return fmt.Errorf("delete monitor: %w", err)
	}
	return expectOne(res, "monitor", id)
}

// Check is the outcome of one watchdog run for a monitor.
type Check struct {
	MonitorID string
	Score     int
	CheckedAt time.Time
	// ScreenshotRef replaces the stored reference only when non-empty.
	ScreenshotRef string
	// PrevCheckedAt is the cursor the check started from; nil for a
	// monitor that was never checked. The cursor only moves if it still
	// holds this value.
	PrevCheckedAt *time.Time
}

// RecordCheck appends the audit and advances the monitor cursor in one
// transaction. The cursor never moves without its audit row. When another
// writer moved the cursor since PrevCheckedAt, nothing is written and
// ErrCursorMoved is returned.
func (s *Store) RecordCheck(ctx context.Context, audit *model.AuditRecord, c Check) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := s.insertAudit(ctx, tx, audit); err != nil {
		return err
	}

	query := `UPDATE monitors SET last_score = ?, last_checked_at = ?,
		last_screenshot_path = CASE WHEN ? = '' THEN last_screenshot_path ELSE ? END
		WHERE id = ? AND `
	args := []any{c.Score, formatTime(c.CheckedAt), c.ScreenshotRef, c.ScreenshotRef, c.MonitorID}
	if c.PrevCheckedAt == nil {
		query += `last_checked_at IS NULL`
	} else {
		query += `last_checked_at = ?`
		args = append(args, formatTime(*c.PrevCheckedAt))
	}
	res, err := tx.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return fmt.Errorf("update monitor cursor: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		var one int
		err := tx.QueryRowContext(ctx, s.q(`SELECT 1 FROM monitors WHERE id = ?`), c.MonitorID).Scan(&one)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("monitor %s: %w", c.MonitorID, ErrNotFound)
		case err != nil:
			return fmt.Errorf("lookup monitor: %w", err)
		}
		return fmt.Errorf("monitor %s: %w", c.MonitorID, ErrCursorMoved)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit check: %w", err)
	}
	return nil
}

func scanMonitor(row scanner) (*model.Monitor, error) {
	var (
		m         model.Monitor
		cadence   string
		checkDay  sql.NullInt64
		lastScore sql.NullInt64
		lastAt    sql.NullString
		active    int
		created   string
	)
	err := row.Scan(&m.ID, &m.UserID, &m.URL, &cadence, &m.PreferredHour, &checkDay, &m.AlertThreshold,
		&lastScore, &lastAt, &m.LastScreenshotRef, &active, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("monitor: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("scan monitor: %w", err)
	}
	m.Cadence = model.Cadence(cadence)
	m.Active = active != 0
	if checkDay.Valid {
		d := int(checkDay.Int64)
		m.PreferredWeekday = &d
	}
	if lastScore.Valid {
		v := int(lastScore.Int64)
		m.LastScore = &v
	}
	if lastAt.Valid && lastAt.String != "" {
		t, err := parseTime(lastAt.String)
		if err != nil {
			return nil, err
		}
		m.LastCheckedAt = &t
	}
	if m.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &m, nil
}

func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
