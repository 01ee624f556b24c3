// Package watchdog re-scans monitored sites on a schedule and raises
// alerts on score or visual regressions.
package watchdog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/raysh454/siteaudit/internal/alert"
	"github.com/raysh454/siteaudit/internal/blobstore"
	"github.com/raysh454/siteaudit/internal/imagediff"
	"github.com/raysh454/siteaudit/internal/interfaces"
	"github.com/raysh454/siteaudit/internal/logging"
	"github.com/raysh454/siteaudit/internal/model"
	"github.com/raysh454/siteaudit/internal/scan"
	"github.com/raysh454/siteaudit/internal/store"
)

// Check outcomes reported to Metrics.
const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// Store is the persistence the watchdog needs.
type Store interface {
	ListActiveMonitors(ctx context.Context) ([]*model.Monitor, error)
	GetMonitor(ctx context.Context, id string) (*model.Monitor, error)
	GetUser(ctx context.Context, id string) (*model.User, error)
	RecordCheck(ctx context.Context, audit *model.AuditRecord, c store.Check) error
}

// Blobs stores screenshots and diff images.
type Blobs interface {
	Put(key string, data []byte) error
	Get(key string) ([]byte, error)
}

// Gate maps an owner's plan to the features a check may use.
type Gate interface {
	Allowed(plan string) model.FeatureSet
}

// Metrics receives per-check observations.
type Metrics interface {
	CheckFinished(outcome string)
	AlertSent(kind string, delivered bool)
}

type nopMetrics struct{}

func (nopMetrics) CheckFinished(string) {}

func (nopMetrics) AlertSent(string, bool) {}

// Config tunes the scheduler.
type Config struct {
	Interval time.Duration `mapstructure:"interval"`
	// Concurrency bounds how many monitors are checked at once.
	Concurrency int           `mapstructure:"concurrency"`
	CatchUp     time.Duration `mapstructure:"catch_up"`
	// VisualThreshold is the diff percentage above which a visual
	// regression is raised.
	VisualThreshold float64 `mapstructure:"visual_threshold"`
	Language        string  `mapstructure:"language"`
}

func DefaultConfig() Config {
	return Config{
		Interval:        time.Hour,
		Concurrency:     2,
		CatchUp:         DefaultCatchUp,
		VisualThreshold: 5.0,
		Language:        "en",
	}
}

func (c *Config) defaults() {
	def := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	if c.Concurrency <= 0 {
		c.Concurrency = def.Concurrency
	}
	if c.CatchUp <= 0 {
		c.CatchUp = def.CatchUp
	}
	if c.VisualThreshold <= 0 {
		c.VisualThreshold = def.VisualThreshold
	}
	if c.Language == "" {
		c.Language = def.Language
	}
}

// Watchdog runs scheduled monitor checks.
type Watchdog struct {
	cfg     Config
	runner  scan.Runner
	store   Store
	blobs   Blobs
	gate    Gate
	alerter interfaces.Alerter
	metrics Metrics
	logger  logging.Logger
	now     func() time.Time

	// inflight holds monitor ids being checked so overlapping ticks never
	// run two checks against the same monitor.
	mu       sync.Mutex
	inflight map[string]struct{}
}

type Option func(*Watchdog)

func WithClock(now func() time.Time) Option { return func(w *Watchdog) { w.now = now } }

func WithMetrics(m Metrics) Option { return func(w *Watchdog) { w.metrics = m } }

// WithBlobs enables screenshot storage and visual diffs.
func WithBlobs(b Blobs) Option { return func(w *Watchdog) { w.blobs = b } }

func New(cfg Config, runner scan.Runner, st Store, gate Gate, alerter interfaces.Alerter, logger logging.Logger, opts ...Option) *Watchdog {
	cfg.defaults()
	if logger == nil {
		logger = logging.Nop()
	}
	if alerter == nil {
		alerter = alert.NewLog(logger)
	}
	w := &Watchdog{
		cfg:      cfg,
		runner:   runner,
		store:    st,
		gate:     gate,
		alerter:  alerter,
		metrics:  nopMetrics{},
		logger:   logger.With(logging.F("component", "watchdog")),
		now:      time.Now,
		inflight: make(map[string]struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Run ticks once immediately and then every Interval until ctx is done.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	w.logger.Info("watchdog started", logging.F("interval", w.cfg.Interval.String()))
	w.tickAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watchdog stopped")
			return
		case <-ticker.C:
			w.tickAndLog(ctx)
		}
	}
}

func (w *Watchdog) tickAndLog(ctx context.Context) {
	if _, err := w.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
		w.logger.Error("watchdog tick failed", logging.Err(err))
	}
}

// TickSummary counts what one tick did.
type TickSummary struct {
	Due     int
	Checked int
	Failed  int
	Alerts  int
	// Skipped counts due monitors another check got to first.
	Skipped int
	Results []CheckResult
}

// Tick evaluates every active monitor once and checks the due ones. A
// failing monitor is logged and does not stop the others.
func (w *Watchdog) Tick(ctx context.Context) (*TickSummary, error) {
	monitors, err := w.store.ListActiveMonitors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list monitors: %w", err)
	}
	now := w.now().UTC()

	var due []*model.Monitor
	for _, m := range monitors {
		if IsDue(m, now, w.cfg.CatchUp) {
			due = append(due, m)
		}
	}
	w.logger.Info("watchdog tick", logging.F("active", len(monitors)), logging.F("due", len(due)))

	sum := &TickSummary{Due: len(due)}
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = semaphore.NewWeighted(int64(w.cfg.Concurrency))
	)
	for _, m := range due {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(m *model.Monitor) {
			defer wg.Done()
			defer sem.Release(1)
			res, ran := w.checkExclusive(ctx, m.ID, now)
			mu.Lock()
			defer mu.Unlock()
			if !ran {
				sum.Skipped++
				return
			}
			sum.Results = append(sum.Results, res)
			if res.Err != nil {
				sum.Failed++
				return
			}
			sum.Checked++
			if res.Alerted {
				sum.Alerts++
			}
		}(m)
	}
	wg.Wait()
	return sum, ctx.Err()
}

// checkExclusive claims the monitor for this process, then re-reads it so
// a tick working from an older listing never re-checks a monitor another
// tick has just handled. A check that loses the cursor race in the store
// counts as skipped.
func (w *Watchdog) checkExclusive(ctx context.Context, id string, now time.Time) (CheckResult, bool) {
	log := w.logger.With(logging.F("monitor_id", id))
	w.mu.Lock()
	if _, busy := w.inflight[id]; busy {
		w.mu.Unlock()
		log.Debug("monitor check already running")
		w.metrics.CheckFinished(OutcomeSkipped)
		return CheckResult{}, false
	}
	w.inflight[id] = struct{}{}
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		delete(w.inflight, id)
		w.mu.Unlock()
	}()

	m, err := w.store.GetMonitor(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Debug("monitor removed before its check")
			w.metrics.CheckFinished(OutcomeSkipped)
			return CheckResult{}, false
		}
		log.Error("reload monitor failed", logging.Err(err))
		w.metrics.CheckFinished(OutcomeFailed)
		return CheckResult{MonitorID: id, Err: fmt.Errorf("reload monitor: %w", err)}, true
	}
	if !m.Active || !IsDue(m, now, w.cfg.CatchUp) {
		log.Debug("monitor no longer due")
		w.metrics.CheckFinished(OutcomeSkipped)
		return CheckResult{}, false
	}

	res := w.Check(ctx, m)
	switch {
	case errors.Is(res.Err, store.ErrCursorMoved):
		log.Info("monitor checked concurrently elsewhere, result dropped")
		w.metrics.CheckFinished(OutcomeSkipped)
		return res, false
	case res.Err != nil:
		log.Error("monitor check failed", logging.F("url", m.URL), logging.Err(res.Err))
		w.metrics.CheckFinished(OutcomeFailed)
	default:
		w.metrics.CheckFinished(OutcomeOK)
	}
	return res, true
}

// CheckResult is the outcome of checking one monitor.
type CheckResult struct {
	MonitorID        string
	Score            int
	ScoreRegression  bool
	VisualRegression bool
	DiffPercent      *float64
	ScreenshotRef    string
	Alerted          bool
	AuditID          string
	Err              error
}

// Check scans m once, persists the audit and cursor, then raises alerts.
// The cursor is left untouched when any step before persistence fails or
// when m's cursor is no longer the stored one.
func (w *Watchdog) Check(ctx context.Context, m *model.Monitor) (res CheckResult) {
	res.MonitorID = m.ID
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("panic: %v", r)
		}
	}()
	log := w.logger.With(logging.F("monitor_id", m.ID), logging.F("url", m.URL))

	owner, err := w.store.GetUser(ctx, m.UserID)
	if err != nil {
		res.Err = fmt.Errorf("load owner: %w", err)
		return res
	}

	log.Info("scanning monitor")
	rep, err := scan.Execute(ctx, w.runner, model.ScanRequest{
		URL:      m.URL,
		Language: w.cfg.Language,
		Allowed:  w.gate.Allowed(owner.Plan),
	})
	if err != nil {
		res.Err = err
		return res
	}
	result := rep.Result
	checkedAt := w.now().UTC()
	res.Score = result.GlobalScore

	if len(rep.Screenshot) > 0 && w.blobs != nil {
		w.visualCheck(log, m, rep.Screenshot, checkedAt, result, &res)
	}

	if m.LastScore != nil {
		drop := *m.LastScore - res.Score
		if drop >= m.AlertThreshold {
			res.ScoreRegression = true
			log.Warn("score regression", logging.F("old", *m.LastScore), logging.F("new", res.Score), logging.F("drop", drop))
		} else {
			log.Info("score stable", logging.F("old", *m.LastScore), logging.F("new", res.Score))
		}
	} else {
		log.Info("first check", logging.F("score", res.Score))
	}

	summary, err := json.Marshal(result)
	if err != nil {
		res.Err = fmt.Errorf("marshal summary: %w", err)
		return res
	}
	audit := &model.AuditRecord{
		UserID:  m.UserID,
		URL:     m.URL,
		Score:   res.Score,
		Summary: summary,
		Source:  model.SourceWatchdog,
	}
	err = w.store.RecordCheck(ctx, audit, store.Check{
		MonitorID:     m.ID,
		Score:         res.Score,
		CheckedAt:     checkedAt,
		ScreenshotRef: res.ScreenshotRef,
		PrevCheckedAt: m.LastCheckedAt,
	})
	if err != nil {
		res.Err = fmt.Errorf("record check: %w", err)
		return res
	}
	res.AuditID = audit.ID

	// Alerts go out only for the check that won the cursor.
	if res.ScoreRegression || res.VisualRegression {
		res.Alerted = true
		w.notify(ctx, log, owner, m, &res)
	}
	return res
}

// visualCheck stores the new screenshot and diffs it against the previous
// one. Failures here are logged and never fail the check.
func (w *Watchdog) visualCheck(log logging.Logger, m *model.Monitor, shot []byte, at time.Time, result *model.AggregateResult, res *CheckResult) {
	key := blobstore.ScreenshotKey(m.URL, at)
	if err := w.blobs.Put(key, shot); err != nil {
		log.Error("store screenshot", logging.Err(err))
		return
	}
	res.ScreenshotRef = key
	result.ScreenshotRef = key

	if m.LastScreenshotRef == "" {
		return
	}
	prev, err := w.blobs.Get(m.LastScreenshotRef)
	if err != nil {
		log.Error("load previous screenshot", logging.Err(err))
		return
	}
	diff, err := imagediff.CompareBytes(prev, shot)
	if err != nil {
		log.Error("visual comparison failed", logging.Err(err))
		return
	}
	pct := diff.Percent
	res.DiffPercent = &pct
	if pct > w.cfg.VisualThreshold {
		res.VisualRegression = true
		log.Warn("visual regression", logging.F("percent", pct))
	}
	if pct <= 0 {
		return
	}
	result.VisualDiff = &model.VisualDiff{Percent: pct, HasChanged: true}
	enc, err := imagediff.EncodeJPEG(diff.Diff)
	if err != nil {
		log.Error("encode diff image", logging.Err(err))
		return
	}
	dk := blobstore.DiffKey(m.URL, at)
	if err := w.blobs.Put(dk, enc); err != nil {
		log.Error("store diff image", logging.Err(err))
		return
	}
	result.VisualDiff.DiffRef = dk
}

func (w *Watchdog) notify(ctx context.Context, log logging.Logger, owner *model.User, m *model.Monitor, res *CheckResult) {
	a := interfaces.Alert{
		OwnerEmail:       owner.Email,
		URL:              m.URL,
		NewScore:         res.Score,
		ScoreRegression:  res.ScoreRegression,
		VisualRegression: res.VisualRegression,
	}
	if m.LastScore != nil {
		a.OldScore = *m.LastScore
	}
	if res.VisualRegression {
		a.DiffPercent = res.DiffPercent
	}
	kind := string(alert.KindOf(a))
	if err := w.alerter.Notify(ctx, a); err != nil {
		log.Warn("alert delivery failed", logging.F("kind", kind), logging.Err(err))
		w.metrics.AlertSent(kind, false)
		return
	}
	w.metrics.AlertSent(kind, true)
}
