package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/raysh454/siteaudit/internal/alert"
	"github.com/raysh454/siteaudit/internal/analyzer"
	"github.com/raysh454/siteaudit/internal/battle"
	"github.com/raysh454/siteaudit/internal/blobstore"
	"github.com/raysh454/siteaudit/internal/features"
	"github.com/raysh454/siteaudit/internal/interfaces"
	"github.com/raysh454/siteaudit/internal/logging"
	"github.com/raysh454/siteaudit/internal/metrics"
	"github.com/raysh454/siteaudit/internal/recovery"
	"github.com/raysh454/siteaudit/internal/render"
	"github.com/raysh454/siteaudit/internal/scan"
	"github.com/raysh454/siteaudit/internal/store"
	"github.com/raysh454/siteaudit/internal/watchdog"
	"github.com/raysh454/siteaudit/internal/webclient"
)

// Application is the global runtime state container. It owns every
// long-lived component; pass it to the outer surfaces (HTTP server, CLI)
// instead of using package-level variables.
type Application struct {
	Config *Config
	Logger logging.Logger

	Store    *store.Store
	Blobs    *blobstore.Store
	Metrics  *metrics.Metrics
	Gate     *features.Gate
	Client   *webclient.NetHTTPClient
	Renderer *render.Pool
	Alerter  interfaces.Alerter

	Scanner  scan.Runner
	Battle   *battle.Merger
	Watchdog *watchdog.Watchdog
	Recovery *recovery.Recoverer
	Jobs     *Jobs
}

// Option adjusts construction, mainly for tests.
type Option func(*options)

type options struct {
	runner  scan.Runner
	alerter interfaces.Alerter
	now     func() time.Time
}

// WithRunner replaces the scan orchestrator (and skips the browser).
func WithRunner(r scan.Runner) Option { return func(o *options) { o.runner = r } }

// WithAlerter replaces the configured alert channels.
func WithAlerter(a interfaces.Alerter) Option { return func(o *options) { o.alerter = a } }

func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// New builds every component from cfg. The browser is started here when
// enabled; a browser that fails to start degrades scans to static analysis.
func New(ctx context.Context, cfg *Config, logger logging.Logger, opts ...Option) (*Application, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.now == nil {
		o.now = time.Now
	}
	if err := cfg.resolvePaths(); err != nil {
		return nil, fmt.Errorf("resolve data paths: %w", err)
	}

	a := &Application{Config: cfg, Logger: logger, Metrics: metrics.New()}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	var err error
	a.Store, err = store.Open(ctx, cfg.Store, logger, store.WithClock(o.now))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.Blobs, err = blobstore.New(cfg.Blobs.Root)
	if err != nil {
		return nil, err
	}
	a.Gate, err = features.Load(cfg.Features.CatalogueFile)
	if err != nil {
		return nil, err
	}
	a.Client, err = webclient.NewNetHTTPClient(cfg.Client, logger, nil)
	if err != nil {
		return nil, fmt.Errorf("new webclient: %w", err)
	}

	a.Alerter = o.alerter
	if a.Alerter == nil {
		a.Alerter = a.buildAlerter()
	}

	a.Scanner = o.runner
	if a.Scanner == nil {
		a.Scanner = a.buildScanner(ctx)
	}

	a.Battle = battle.New(a.Scanner, logger)
	a.Watchdog = watchdog.New(cfg.Watchdog.Config, a.Scanner, a.Store, a.Gate, a.Alerter, logger,
		watchdog.WithBlobs(a.Blobs),
		watchdog.WithMetrics(a.Metrics),
		watchdog.WithClock(o.now),
	)
	a.Recovery = recovery.New(a.Store, a.Metrics, logger)
	a.Jobs = NewJobs(cfg.Jobs, a.Scanner, a.Store, a.Gate, a.Metrics, logger)

	ok = true
	return a, nil
}

func (a *Application) buildAlerter() interfaces.Alerter {
	cfg := a.Config.Alert
	channels := alert.Multi{alert.NewLog(a.Logger)}
	if cfg.WebhookURL != "" {
		channels = append(channels, alert.NewWebhook(cfg.WebhookURL, a.Client,
			alert.WithRetries(cfg.WebhookRetries),
			alert.WithBackoff(cfg.WebhookBackoff),
			alert.WithLogger(a.Logger),
		))
	}
	if cfg.SMTP.Host != "" {
		channels = append(channels, alert.NewMail(cfg.SMTP, nil))
	}
	return channels
}

func (a *Application) buildScanner(ctx context.Context) scan.Runner {
	reg := analyzer.Defaults(a.Config.Analyzers, nil)
	opts := []scan.Option{scan.WithMetrics(a.Metrics)}
	if a.Config.Render.Enabled {
		pool := render.New(a.Config.Render, a.Logger)
		startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := pool.Start(startCtx)
		cancel()
		if err != nil {
			a.Logger.Warn("headless browser unavailable, deep scans fall back to static analysis", logging.Err(err))
			_ = pool.Close()
		} else {
			a.Renderer = pool
			opts = append(opts, scan.WithRenderer(pool))
		}
	}
	return scan.New(a.Config.Scan, a.Client, reg, a.Logger, opts...)
}

// Recover fails tasks left unfinished by a previous process. Call it before
// accepting new work.
func (a *Application) Recover(ctx context.Context) (int, error) {
	return a.Recovery.Run(ctx)
}

// PlanFor returns the plan of userID; unknown or empty ids get the free plan.
func (a *Application) PlanFor(ctx context.Context, userID string) string {
	if userID == "" {
		return features.PlanFree
	}
	u, err := a.Store.GetUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			a.Logger.Warn("plan lookup failed", logging.F("user_id", userID), logging.Err(err))
		}
		return features.PlanFree
	}
	return u.Plan
}

// Close releases everything New acquired. Jobs are canceled and awaited
// first so their terminal rows reach the store.
func (a *Application) Close() error {
	var errs []error
	if a.Jobs != nil {
		a.Jobs.Close()
	}
	if a.Renderer != nil {
		if err := a.Renderer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close renderer: %w", err))
		}
	}
	if a.Client != nil {
		if err := a.Client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close webclient: %w", err))
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	return errors.Join(errs...)
}

func expandPath(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, p[1:]), nil
	}
	return p, nil
}
