package interfaces

import "context"

// Alert describes a watchdog regression for one monitor.
type Alert struct {
	OwnerEmail string
	URL        string
	OldScore   int
	NewScore   int
	// DiffPercent is set only for visual regressions.
	DiffPercent *float64
	// ScoreRegression and VisualRegression say which checks tripped.
	ScoreRegression  bool
	VisualRegression bool
}

// Alerter delivers alerts. Delivery is best-effort; callers log and move on.
type Alerter interface {
	Notify(ctx context.Context, a Alert) error
}
