// Package scan runs one audit: pre-flight, optional render stage, analyzer
// fan-out and aggregation, reported as a stream of progress events.
package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/raysh454/siteaudit/internal/analyzer"
	"github.com/raysh454/siteaudit/internal/interfaces"
	"github.com/raysh454/siteaudit/internal/logging"
	"github.com/raysh454/siteaudit/internal/model"
	"github.com/raysh454/siteaudit/internal/scoring"
)

// Step names carried by log events.
const (
	StepInit      = "init"
	StepNetwork   = "network"
	StepRendering = "rendering"
	StepAnalysis  = "analysis"
	StepFinalize  = "finalize"
)

// Principal log messages.
const (
	MsgAccessible     = "Site is accessible."
	MsgRendering      = "Rendering page in headless browser..."
	MsgRendered       = "Page rendered successfully."
	MsgRenderFallback = "Rendering failed, falling back to static analysis."
	MsgDeepSkipped    = "Deep Scan skipped (Plan limit)."
	MsgRunning        = "Running specialized scanners..."
	MsgNoScanners     = "No scanners selected."
	MsgAggregating    = "Aggregating results..."
)

// PreflightError reports an unreachable target. It is fatal for the scan.
type PreflightError struct {
	URL string
	Err error
}

func (e *PreflightError) Error() string {
	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(e.Err, &opErr) || errors.As(e.Err, &dnsErr) {
		return fmt.Sprintf("Could not connect to %s. The site may not exist or is unreachable.", e.URL)
	}
	return fmt.Sprintf("Could not connect to %s. Is the URL correct?", e.URL)
}

func (e *PreflightError) Unwrap() error { return e.Err }

// Runner produces the event stream of one scan. The channel is closed after
// the terminal event, or early if ctx is cancelled.
type Runner interface {
	Run(ctx context.Context, req model.ScanRequest) <-chan model.Event
}

// Metrics receives scan lifecycle observations.
type Metrics interface {
	ScanStarted()
	ScanFinished(outcome string, d time.Duration)
	AnalyzerFinished(name model.AnalyzerName, status model.SlotStatus, d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) ScanStarted() {}

func (nopMetrics) ScanFinished(string, time.Duration) {}

func (nopMetrics) AnalyzerFinished(model.AnalyzerName, model.SlotStatus, time.Duration) {}

// Scan outcomes reported to Metrics.
const (
	OutcomeCompleted = "completed"
	OutcomePreflight = "preflight_failed"
	OutcomeCanceled  = "canceled"
	OutcomeInternal  = "internal_error"
)

// Config tunes the orchestrator.
type Config struct {
	// NavigationTimeout is passed to the renderer; the render stage as a
	// whole is bounded by NavigationTimeout + RenderCleanup.
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	RenderCleanup     time.Duration `mapstructure:"render_cleanup"`
	AnalyzerTimeout   time.Duration `mapstructure:"analyzer_timeout"`
	EventBuffer       int           `mapstructure:"event_buffer"`
}

func DefaultConfig() Config {
	return Config{
		NavigationTimeout: 30 * time.Second,
		RenderCleanup:     5 * time.Second,
		AnalyzerTimeout:   60 * time.Second,
		EventBuffer:       32,
	}
}

// Orchestrator implements Runner.
type Orchestrator struct {
	cfg      Config
	client   interfaces.WebClient
	renderer interfaces.Renderer
	registry *analyzer.Registry
	policy   scoring.Policy
	metrics  Metrics
	logger   logging.Logger
	now      func() time.Time
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithRenderer enables the deep-scan render stage.
func WithRenderer(r interfaces.Renderer) Option { return func(o *Orchestrator) { o.renderer = r } }

// WithPolicy replaces the default global score policy.
func WithPolicy(p scoring.Policy) Option { return func(o *Orchestrator) { o.policy = p } }

// WithMetrics attaches a metrics sink.
func WithMetrics(m Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

func New(cfg Config, client interfaces.WebClient, reg *analyzer.Registry, logger logging.Logger, opts ...Option) *Orchestrator {
	def := DefaultConfig()
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = def.NavigationTimeout
	}
	if cfg.RenderCleanup <= 0 {
		cfg.RenderCleanup = def.RenderCleanup
	}
	if cfg.AnalyzerTimeout <= 0 {
		cfg.AnalyzerTimeout = def.AnalyzerTimeout
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}
	if logger == nil {
		logger = logging.Nop()
	}
	o := &Orchestrator{
		cfg:      cfg,
		client:   client,
		registry: reg,
		policy:   scoring.Default(),
		metrics:  nopMetrics{},
		logger:   logger.With(logging.F("component", "scan")),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// run is the per-scan state owned by the producer goroutine.
type run struct {
	o       *Orchestrator
	ctx     context.Context
	req     model.ScanRequest
	out     chan<- model.Event
	start   time.Time
	logger  logging.Logger
	emitted bool
}

// emit delivers ev unless the consumer has gone away.
func (r *run) emit(ev model.Event) bool {
	select {
	case r.out <- ev:
		if ev.Terminal() {
			r.emitted = true
		}
		return true
	case <-r.ctx.Done():
		return false
	}
}

func (r *run) log(step, msg string) bool { return r.emit(model.LogEvent(step, msg)) }

// Run starts the scan and returns its event stream.
func (o *Orchestrator) Run(ctx context.Context, req model.ScanRequest) <-chan model.Event {
	out := make(chan model.Event, o.cfg.EventBuffer)
	r := &run{
		o:      o,
		ctx:    ctx,
		req:    req,
		out:    out,
		start:  o.now(),
		logger: o.logger.With(logging.F("url", req.URL)),
	}
	o.metrics.ScanStarted()
	go func() {
		defer close(out)
		outcome := OutcomeInternal
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("scan panicked", logging.F("panic", fmt.Sprint(p)))
				if !r.emitted {
					r.emit(model.ErrorEvent(fmt.Sprintf("internal error: %v", p)))
				}
			}
			o.metrics.ScanFinished(outcome, o.now().Sub(r.start))
		}()
		outcome = r.execute()
	}()
	return out
}

func (r *run) execute() string {
	o := r.o
	if !r.log(StepInit, fmt.Sprintf("Starting analysis for %s...", r.req.URL)) {
		return OutcomeCanceled
	}

	// Pre-flight
	r.log(StepNetwork, "Checking site accessibility...")
	resp, err := o.preflight(r.ctx, r.req.URL)
	if err != nil {
		if r.ctx.Err() != nil {
			return OutcomeCanceled
		}
		r.logger.Warn("pre-flight failed", logging.Err(err))
		r.emit(model.ErrorEvent(err.Error()))
		return OutcomePreflight
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		r.log(StepNetwork, fmt.Sprintf("Warning: Server returned %d.", resp.StatusCode))
	}
	r.log(StepNetwork, MsgAccessible)

	in := analyzer.NewInput(r.req.URL, r.req.Language, o.client)
	in.Headers = resp.Headers

	// Render stage
	if r.req.Allowed.Has(model.FeatureDeep) {
		r.render(in)
	} else {
		r.log(StepRendering, MsgDeepSkipped)
	}
	if r.ctx.Err() != nil {
		return OutcomeCanceled
	}

	// Fan-out
	r.log(StepAnalysis, MsgRunning)
	slots := make(map[model.AnalyzerName]model.Slot, len(model.AllAnalyzers))
	results := make(chan analyzer.Outcome)
	launched := 0
	for _, name := range model.AllAnalyzers {
		if !r.req.Allowed.Has(name.Feature()) {
			slots[name] = model.SkippedSlot()
			r.log(string(name), name.Key()+" skipped (Plan limit).")
			continue
		}
		launched++
		a, ok := o.registry.Get(name)
		go func(name model.AnalyzerName) {
			var res analyzer.Outcome
			if !ok {
				res = analyzer.Outcome{Name: name, Err: fmt.Errorf("no implementation registered for %s", name)}
			} else {
				res = analyzer.Run(r.ctx, a, in, o.cfg.AnalyzerTimeout)
			}
			// Unbuffered but always drained: the collector waits for every
			// launched analyzer even after cancellation.
			results <- res
		}(name)
	}

	// Fan-in in completion order.
	failures := make(map[model.AnalyzerName]string)
	for i := 0; i < launched; i++ {
		res := <-results
		slot := r.slotFor(res)
		slots[res.Name] = slot
		o.metrics.AnalyzerFinished(res.Name, slot.Status, res.Duration)
		if slot.Status == model.SlotError {
			failures[res.Name] = slot.Error
			r.logger.Warn("analyzer failed", logging.F("analyzer", string(res.Name)), logging.F("error", slot.Error))
			r.log(string(res.Name), res.Name.Label()+" failed.")
		} else {
			r.log(string(res.Name), res.Name.Label()+" completed.")
		}
	}
	if launched == 0 {
		r.log(StepAnalysis, MsgNoScanners)
	}
	if r.ctx.Err() != nil {
		return OutcomeCanceled
	}

	// Aggregate
	r.log(StepFinalize, MsgAggregating)
	result := &model.AggregateResult{
		URL:        r.req.URL,
		Language:   r.req.Language,
		AnalyzedAt: o.now().UTC(),
		Status:     model.AuditCompleted,
		Slots:      slots,
		Errors:     []string{},
		Rendered:   in.Rendered,
	}
	for _, name := range model.AllAnalyzers {
		if msg, ok := failures[name]; ok {
			result.Errors = append(result.Errors, fmt.Sprintf("%s analysis failed: %s", name.Key(), msg))
		}
	}
	result.DurationSeconds = round2(o.now().Sub(r.start).Seconds())
	result.GlobalScore = o.policy.Score(slots)

	r.logger.Info("scan completed",
		logging.F("global_score", result.GlobalScore),
		logging.F("analyzers", launched),
		logging.F("failures", len(failures)))
	if !r.emit(model.CompleteEvent(result)) {
		return OutcomeCanceled
	}
	return OutcomeCompleted
}

// preflight probes with HEAD and falls back to GET when HEAD fails or the
// server answers with an error status.
func (o *Orchestrator) preflight(ctx context.Context, target string) (*model.Response, error) {
	if o.client == nil {
		return nil, &PreflightError{URL: target, Err: analyzer.ErrNoWebClient}
	}
	resp, err := o.client.Do(ctx, &model.Request{Method: http.MethodHead, URL: target})
	if err == nil && resp.StatusCode < http.StatusBadRequest {
		return resp, nil
	}
	resp, gerr := o.client.Get(ctx, target)
	if gerr != nil {
		return nil, &PreflightError{URL: target, Err: gerr}
	}
	return resp, nil
}

// render runs the render stage under its own deadline. Failure only demotes
// the scan to static mode.
func (r *run) render(in *analyzer.Input) {
	o := r.o
	if o.renderer == nil {
		r.logger.Warn("deep scan requested but no renderer configured")
		r.log(StepRendering, MsgRenderFallback)
		return
	}
	r.log(StepRendering, MsgRendering)

	ctx, cancel := context.WithTimeout(r.ctx, o.cfg.NavigationTimeout+o.cfg.RenderCleanup)
	defer cancel()
	page, err := o.renderer.Render(ctx, r.req.URL, o.cfg.NavigationTimeout)
	if page != nil && len(page.Screenshot) > 0 {
		r.emit(model.ScreenshotEvent(page.Screenshot))
	}
	if err != nil {
		r.logger.Warn("render stage degraded", logging.Err(err))
		r.log(StepRendering, MsgRenderFallback)
		return
	}
	if page != nil && page.HTML != "" {
		in.Rendered = true
		in.RenderedHTML = page.HTML
	}
	r.log(StepRendering, MsgRendered)
}

func (r *run) slotFor(res analyzer.Outcome) model.Slot {
	if res.Err != nil {
		s := model.ErrorSlot(res.Err.Error())
		s.DurationSeconds = round2(res.Duration.Seconds())
		return s
	}
	data, err := json.Marshal(res.Result)
	if err != nil {
		return model.ErrorSlot(fmt.Sprintf("encode result: %v", err))
	}
	return model.Slot{
		Status:          model.SlotOK,
		Score:           res.Result.Score(),
		Data:            data,
		DurationSeconds: round2(res.Duration.Seconds()),
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
