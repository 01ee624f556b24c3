// Package alert delivers watchdog regression notices.
package alert

import (
	"context"
	"errors"
	"fmt"

	"github.com/raysh454/siteaudit/internal/interfaces"
	"github.com/raysh454/siteaudit/internal/logging"
)

// Kind labels an alert for metrics and subjects.
type Kind string

const (
	KindScore  Kind = "score"
	KindVisual Kind = "visual"
	KindBoth   Kind = "score_visual"
)

// KindOf classifies a.
func KindOf(a interfaces.Alert) Kind {
	switch {
	case a.ScoreRegression && a.VisualRegression:
		return KindBoth
	case a.VisualRegression:
		return KindVisual
	default:
		return KindScore
	}
}

// Subject is the one-line headline for a. Visual changes take precedence.
func Subject(a interfaces.Alert) string {
	if a.VisualRegression && a.DiffPercent != nil {
		return fmt.Sprintf("Alert: Visual Change (%.2f%%) on %s", *a.DiffPercent, a.URL)
	}
	if a.ScoreRegression {
		return "Alert: Score Drop on " + a.URL
	}
	return "Alert: Site Issue Detected"
}

// Log writes alerts to the structured log. It never fails.
type Log struct {
	logger logging.Logger
}

func NewLog(logger logging.Logger) *Log {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Log{logger: logger.With(logging.F("component", "alert"), logging.F("channel", "log"))}
}

func (l *Log) Notify(_ context.Context, a interfaces.Alert) error {
	fields := []logging.Field{
		logging.F("to", a.OwnerEmail),
		logging.F("url", a.URL),
		logging.F("old_score", a.OldScore),
		logging.F("new_score", a.NewScore),
		logging.F("kind", string(KindOf(a))),
	}
	if a.DiffPercent != nil {
		fields = append(fields, logging.F("diff_percent", *a.DiffPercent))
	}
	l.logger.Warn(Subject(a), fields...)
	return nil
}

// Multi fans an alert out to every channel. All channels are attempted;
// failures are joined.
type Multi []interfaces.Alerter

func (m Multi) Notify(ctx context.Context, a interfaces.Alert) error {
	var errs []error
	for _, al := range m {
		if al == nil {
			continue
		}
		if err := al.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
