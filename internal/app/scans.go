package app

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/raysh454/siteaudit/internal/logging"
	"github.com/raysh454/siteaudit/internal/model"
)

// RunScan streams one ad-hoc scan and appends an audit record when it
// completes. Persistence failures are logged; the stream is unaffected.
func (a *Application) RunScan(ctx context.Context, userID string, req model.ScanRequest) <-chan model.Event {
	return a.tap(ctx, a.Scanner.Run(ctx, req), func(ev model.Event) {
		if ev.Type == model.EventComplete && ev.Result != nil {
			a.saveAdHoc(ctx, userID, ev.Result)
		}
	})
}

// RunBattle streams battle mode, records the winner and appends one audit
// record per side.
func (a *Application) RunBattle(ctx context.Context, userID string, target, competitor model.ScanRequest) <-chan model.Event {
	return a.tap(ctx, a.Battle.Run(ctx, target, competitor), func(ev model.Event) {
		if ev.Type != model.EventComplete || ev.Battle == nil {
			return
		}
		a.Metrics.BattleFinished(ev.Battle.Winner)
		a.saveAdHoc(ctx, userID, &ev.Battle.Target)
		a.saveAdHoc(ctx, userID, &ev.Battle.Competitor)
	})
}

// tap forwards in to the returned channel, calling fn on each event first.
func (a *Application) tap(ctx context.Context, in <-chan model.Event, fn func(model.Event)) <-chan model.Event {
	out := make(chan model.Event, cap(in))
	go func() {
		defer close(out)
		for ev := range in {
			fn(ev)
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (a *Application) saveAdHoc(ctx context.Context, userID string, res *model.AggregateResult) {
	summary, err := json.Marshal(res)
	if err != nil {
		a.Logger.Error("encoding audit summary failed", logging.F("url", res.URL), logging.Err(err))
		return
	}
	rec := &model.AuditRecord{
		ID:      uuid.NewString(),
		UserID:  userID,
		URL:     res.URL,
		Score:   res.GlobalScore,
		Summary: summary,
		Source:  model.SourceAdHoc,
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := a.Store.AppendAudit(saveCtx, rec); err != nil {
		a.Logger.Error("saving audit failed", logging.F("url", res.URL), logging.Err(err))
	}
}
