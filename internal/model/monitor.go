package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Cadence of a monitor.
type Cadence string

const (
	CadenceDaily  Cadence = "daily"
	CadenceWeekly Cadence = "weekly"
)

// Interval returns the minimum spacing between two checks.
func (c Cadence) Interval() time.Duration {
	if c == CadenceWeekly {
		return 7 * 24 * time.Hour
	}
	return 24 * time.Hour
}

const (
	DefaultAlertThreshold = 10
	DefaultCheckHour      = 9
)

// Monitor is a URL re-scanned by the watchdog. Cursor fields (LastScore,
// LastCheckedAt, LastScreenshotRef) are written only by the watchdog.
type Monitor struct {
	ID      string  `json:"id"`
	UserID  string  `json:"user_id"`
	URL     string  `json:"url"`
	Cadence Cadence `json:"frequency"`
	// PreferredHour is the UTC hour (0-23) checks should run at.
	PreferredHour int `json:"check_hour"`
	// PreferredWeekday uses 0=Monday .. 6=Sunday; only meaningful for weekly.
	PreferredWeekday *int `json:"check_day,omitempty"`
	// AlertThreshold is the score drop, in points, that raises an alert.
	AlertThreshold    int        `json:"alert_threshold"`
	LastScore         *int       `json:"last_score,omitempty"`
	LastCheckedAt     *time.Time `json:"last_checked_at,omitempty"`
	LastScreenshotRef string     `json:"last_screenshot_path,omitempty"`
	Active            bool       `json:"is_active"`
	CreatedAt         time.Time  `json:"created_at"`
}

var (
	ErrInvalidURL       = errors.New("invalid url")
	ErrInvalidCadence   = errors.New("frequency must be daily or weekly")
	ErrInvalidHour      = errors.New("check_hour must be between 0 and 23")
	ErrInvalidWeekday   = errors.New("check_day must be between 0 and 6")
	ErrInvalidThreshold = errors.New("alert_threshold must be between 1 and 100")
)

// Validate checks user-supplied fields and fills zero-value defaults.
func (m *Monitor) Validate() error {
	if err := ValidateTargetURL(m.URL); err != nil {
		return err
	}
	if m.Cadence == "" {
		m.Cadence = CadenceDaily
	}
	if m.Cadence != CadenceDaily && m.Cadence != CadenceWeekly {
		return ErrInvalidCadence
	}
	if m.PreferredHour < 0 || m.PreferredHour > 23 {
		return ErrInvalidHour
	}
	if m.PreferredWeekday != nil && (*m.PreferredWeekday < 0 || *m.PreferredWeekday > 6) {
		return ErrInvalidWeekday
	}
	if m.AlertThreshold == 0 {
		m.AlertThreshold = DefaultAlertThreshold
	}
	if m.AlertThreshold < 1 || m.AlertThreshold > 100 {
		return ErrInvalidThreshold
	}
	return nil
}

// ValidateTargetURL accepts absolute http(s) URLs only.
func ValidateTargetURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return nil
}

// Weekday converts a time to the 0=Monday convention used by monitors.
func Weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// AuditSource says what produced an audit record.
type AuditSource string

const (
	SourceAdHoc    AuditSource = "adhoc"
	SourceWatchdog AuditSource = "watchdog"
	SourceTask     AuditSource = "task"
)

// AuditRecord is an append-only history entry.
type AuditRecord struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id,omitempty"`
	URL       string          `json:"url"`
	Score     int             `json:"score"`
	Summary   json.RawMessage `json:"summary"`
	Source    AuditSource     `json:"source"`
	CreatedAt time.Time       `json:"created_at"`
}

// TaskStatus is the lifecycle of a queued scan.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to TaskStatus) bool {
	switch from {
	case TaskPending:
		return to == TaskRunning || to == TaskFailed
	case TaskRunning:
		return to == TaskCompleted || to == TaskFailed
	}
	return false
}

// ScanTask is a persisted asynchronous scan.
type ScanTask struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id,omitempty"`
	URL       string     `json:"url"`
	Status    TaskStatus `json:"status"`
	Error     string     `json:"error,omitempty"`
	AuditID   string     `json:"audit_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// User is the minimal owner record: contact address and plan tier.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Plan      string    `json:"plan"`
	CreatedAt time.Time `json:"created_at"`
}
