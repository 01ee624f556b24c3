package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/raysh454/siteaudit/internal/model"
)

const auditColumns = `id, user_id, url, score, summary, source, created_at`

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// AppendAudit inserts a history entry. Audits are never updated.
func (s *Store) AppendAudit(ctx context.Context, a *model.AuditRecord) error {
	return s.insertAudit(ctx, s.db, a)
}

func (s *Store) insertAudit(ctx context.Context, ex execer, a *model.AuditRecord) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.stamp()
	}
	if a.Source == "" {
		a.Source = model.SourceAdHoc
	}
	summary := string(a.Summary)
	if summary == "" {
		summary = "{}"
	}
	_, err := ex.ExecContext(ctx, s.q(`INSERT INTO audits (`+auditColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		a.ID, a.UserID, a.URL, a.Score, summary, string(a.Source), formatTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

func (s *Store) GetAudit(ctx context.Context, id string) (*model.AuditRecord, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+auditColumns+` FROM audits WHERE id = ?`), id)
	return scanAudit(row)
}

// ListAudits returns the newest audits for url first. limit <= 0 means 50.
func (s *Store) ListAudits(ctx context.Context, url string, limit int) ([]*model.AuditRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT `+auditColumns+` FROM audits WHERE url = ? ORDER BY created_at DESC, id DESC LIMIT ?`),
		url, limit)
	if err != nil {
		return nil, fmt.Errorf("query audits: %w", err)
	}
	defer rows.Close()

	var out []*model.AuditRecord
	for rows.Next() {
		a, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAudit(row scanner) (*model.AuditRecord, error) {
	var (
		a       model.AuditRecord
		summary string
		source  string
		created string
	)
	if err := row.Scan(&a.ID, &a.UserID, &a.URL, &a.Score, &summary, &source, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("audit: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("scan audit: %w", err)
	}
	a.Summary = []byte(summary)
	a.Source = model.AuditSource(source)
	t, err := parseTime(created)
	if err != nil {
		return nil, err
	}
	a.CreatedAt = t
	return &a, nil
}
