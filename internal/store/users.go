package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/raysh454/siteaudit/internal/model"
)

const userColumns = `id, email, plan, created_at`

// CreateUser inserts a new user. Email is stored lower-cased.
func (s *Store) CreateUser(ctx context.Context, email, plan string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, errors.New("email is required")
	}
	if plan == "" {
		plan = "free"
	}
	u := &model.User{ID: uuid.NewString(), Email: email, Plan: plan, CreatedAt: s.stamp()}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?)`),
		u.ID, u.Email, u.Plan, formatTime(u.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// GetUser returns ErrNotFound for unknown ids.
func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+userColumns+` FROM users WHERE id = ?`), id)
	return scanUser(row)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+userColumns+` FROM users WHERE email = ?`),
		strings.ToLower(strings.TrimSpace(email)))
	return scanUser(row)
}

// EnsureUser returns the user with email, creating it on the given plan
// when absent. An existing user's plan is left untouched.
func (s *Store) EnsureUser(ctx context.Context, email, plan string) (*model.User, error) {
	u, err := s.GetUserByEmail(ctx, email)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return s.CreateUser(ctx, email, plan)
}

// SetPlan changes a user's plan tier.
func (s *Store) SetPlan(ctx context.Context, id, plan string) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE users SET plan = ? WHERE id = ?`), plan, id)
	if err != nil {
		return fmt.Errorf("update plan: %w", err)
	}
	return expectOne(res, "user", id)
}

func scanUser(row scanner) (*model.User, error) {
	var (
		u       model.User
		created string
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Plan, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	t, err := parseTime(created)
	if err != nil {
		return nil, err
	}
	u.CreatedAt = t
	return &u, nil
}

func expectOne(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}
