// Package battle runs two scans side by side and picks a winner.
package battle

import (
	"context"

	"github.com/raysh454/siteaudit/internal/logging"
	"github.com/raysh454/siteaudit/internal/model"
	"github.com/raysh454/siteaudit/internal/scan"
)

// Stream labels.
const (
	LabelTarget     = "Target"
	LabelCompetitor = "Competitor"
)

const (
	MsgStart       = "Starting Battle Mode..."
	MsgCalculating = "Calculating winner..."
	MsgFailed      = "Battle failed: One or both scans did not complete."
)

// StepError is the log step used for relabelled sub-stream errors.
const StepError = "error"

// Merger fans in the streams of two scans.
type Merger struct {
	runner scan.Runner
	logger logging.Logger
	buffer int
}

func New(runner scan.Runner, logger logging.Logger) *Merger {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Merger{runner: runner, logger: logger.With(logging.F("component", "battle")), buffer: 32}
}

// side is one sub-stream in the merge loop. A nil events channel has
// delivered its end and is never selected again.
type side struct {
	label  string
	events <-chan model.Event
	result *model.AggregateResult
}

// Run scans target and competitor concurrently. Sub-stream log and error
// events are forwarded as "[Label] message" logs; screenshots are dropped.
// The merged stream ends with one complete carrying a BattleResult, or one
// error when either side failed to complete.
func (m *Merger) Run(ctx context.Context, target, competitor model.ScanRequest) <-chan model.Event {
	out := make(chan model.Event, m.buffer)
	go func() {
		defer close(out)

		// Cancelling subCtx stops whichever sub-scan is still running when
		// the merge loop exits early.
		subCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		emit := func(ev model.Event) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !emit(model.LogEvent(scan.StepInit, MsgStart)) {
			return
		}

		t := &side{label: LabelTarget, events: m.runner.Run(subCtx, target)}
		c := &side{label: LabelCompetitor, events: m.runner.Run(subCtx, competitor)}

		for t.events != nil || c.events != nil {
			var (
				ev   model.Event
				ok   bool
				from *side
			)
			select {
			case ev, ok = <-t.events:
				from = t
			case ev, ok = <-c.events:
				from = c
			case <-ctx.Done():
				return
			}
			if !ok {
				from.events = nil
				continue
			}
			if fwd, forward := m.relabel(from, ev); forward && !emit(fwd) {
				return
			}
		}

		if t.result == nil || c.result == nil {
			m.logger.Warn("battle incomplete",
				logging.F("target_done", t.result != nil),
				logging.F("competitor_done", c.result != nil))
			emit(model.ErrorEvent(MsgFailed))
			return
		}

		if !emit(model.LogEvent(scan.StepFinalize, MsgCalculating)) {
			return
		}
		res := &model.BattleResult{
			Target:     *t.result,
			Competitor: *c.result,
			Winner:     model.DecideWinner(t.result.GlobalScore, c.result.GlobalScore),
		}
		m.logger.Info("battle finished",
			logging.F("target", target.URL),
			logging.F("competitor", competitor.URL),
			logging.F("winner", string(res.Winner)))
		emit(model.BattleCompleteEvent(res))
	}()
	return out
}

// relabel captures terminal payloads and returns the event to forward, if
// any. Only the first complete of a side counts.
func (m *Merger) relabel(s *side, ev model.Event) (model.Event, bool) {
	switch ev.Type {
	case model.EventLog:
		return model.LogEvent(ev.Step, "["+s.label+"] "+ev.Message), true
	case model.EventError:
		return model.LogEvent(StepError, "["+s.label+"] "+ev.Message), true
	case model.EventComplete:
		if s.result == nil && ev.Result != nil {
			s.result = ev.Result
		}
	}
	return model.Event{}, false
}
