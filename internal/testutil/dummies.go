// Package testutil provides shared test doubles for use across package tests.
// All dummies implement the corresponding interfaces from the production code,
// allowing injection into components under test without real I/O or side effects.
package testutil

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/raysh454/siteaudit/internal/analyzer"
	"github.com/raysh454/siteaudit/internal/interfaces"
	"github.com/raysh454/siteaudit/internal/logging"
	"github.com/raysh454/siteaudit/internal/model"
)

// ─── Logger ────────────────────────────────────────────────────────────

// DummyLogger implements logging.Logger with in-memory recording.
type DummyLogger struct {
	mu     sync.Mutex
	Errors []string
	Infos  []string
	Debugs []string
	Warns  []string
}

func (l *DummyLogger) Debug(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Debugs = append(l.Debugs, msg)
}

func (l *DummyLogger) Info(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Infos = append(l.Infos, msg)
}

func (l *DummyLogger) Warn(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Warns = append(l.Warns, msg)
}

func (l *DummyLogger) Error(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Errors = append(l.Errors, msg)
}

func (l *DummyLogger) With(_ ...logging.Field) logging.Logger { return l }

// ErrorCount returns the number of Error calls so far.
func (l *DummyLogger) ErrorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.Errors)
}

// ─── WebClient ─────────────────────────────────────────────────────────

// DummyWebClient implements interfaces.WebClient.
// By default it returns an empty HTML page with status 200.
// Pages[url] overrides the body, Status[url] the status code and
// FailURLs[url] forces a transport error. HeadStatus applies to HEAD only.
type DummyWebClient struct {
	ResponseDelay time.Duration
	Pages         map[string]string
	Status        map[string]int
	HeadStatus    map[string]int
	Headers       http.Header
	FailURLs      map[string]bool

	mu       sync.Mutex
	Requests []*model.Request
}

// ErrDummyFetch is returned for URLs listed in FailURLs.
var ErrDummyFetch = errors.New("dummy fetch fail")

func (d *DummyWebClient) Do(ctx context.Context, req *model.Request) (*model.Response, error) {
	if d.ResponseDelay > 0 {
		select {
		case <-time.After(d.ResponseDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.Requests = append(d.Requests, req)
	d.mu.Unlock()

	if d.FailURLs[req.URL] {
		return nil, ErrDummyFetch
	}

	status := http.StatusOK
	if s, ok := d.Status[req.URL]; ok {
		status = s
	}
	if req.Method == http.MethodHead {
		if s, ok := d.HeadStatus[req.URL]; ok {
			status = s
		}
	}
	body := "<html><head><title>ok</title></head><body>ok</body></html>"
	if p, ok := d.Pages[req.URL]; ok {
		body = p
	}
	if req.Method == http.MethodHead {
		body = ""
	}
	headers := http.Header{"Content-Type": []string{"text/html; charset=utf-8"}}
	for k, vs := range d.Headers {
		headers[k] = append([]string(nil), vs...)
	}
	return &model.Response{
		Request:    req,
		Body:       []byte(body),
		Headers:    headers,
		StatusCode: status,
		FinalURL:   req.URL,
		FetchedAt:  time.Now(),
	}, nil
}

func (d *DummyWebClient) Get(ctx context.Context, url string) (*model.Response, error) {
	return d.Do(ctx, &model.Request{Method: http.MethodGet, URL: url})
}

func (d *DummyWebClient) Close() error { return nil }

// Methods returns the HTTP methods issued for url, in order.
func (d *DummyWebClient) Methods(url string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, r := range d.Requests {
		if r.URL == url {
			out = append(out, r.Method)
		}
	}
	return out
}

// ─── Renderer ──────────────────────────────────────────────────────────

// DummyRenderer implements interfaces.Renderer. It returns Page and Err as
// configured, optionally after Delay (honoring ctx).
type DummyRenderer struct {
	Page  *interfaces.RenderedPage
	Err   error
	Delay time.Duration

	mu    sync.Mutex
	Calls int
}

func (r *DummyRenderer) Render(ctx context.Context, _ string, _ time.Duration) (*interfaces.RenderedPage, error) {
	r.mu.Lock()
	r.Calls++
	r.mu.Unlock()
	if r.Delay > 0 {
		select {
		case <-time.After(r.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return r.Page, r.Err
}

// ─── Alerter ───────────────────────────────────────────────────────────

// DummyAlerter implements interfaces.Alerter with in-memory recording.
type DummyAlerter struct {
	Err error

	mu     sync.Mutex
	Alerts []interfaces.Alert
}

func (a *DummyAlerter) Notify(_ context.Context, al interfaces.Alert) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Alerts = append(a.Alerts, al)
	return a.Err
}

// Sent returns a copy of the recorded alerts.
func (a *DummyAlerter) Sent() []interfaces.Alert {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]interfaces.Alert(nil), a.Alerts...)
}

// ─── Analyzer ──────────────────────────────────────────────────────────

// StubResult is a minimal analyzer.Result.
type StubResult struct {
	Value *int   `json:"score,omitempty"`
	Note  string `json:"note,omitempty"`
}

func (r *StubResult) Score() *int { return r.Value }

// StubAnalyzer implements analyzer.Analyzer. It returns a StubResult with
// ScoreValue, or Err when set. Panic triggers a panic inside Analyze.
type StubAnalyzer struct {
	AnalyzerName model.AnalyzerName
	ScoreValue   int
	NoScore      bool
	Err          error
	Panic        bool
	Delay        time.Duration

	mu    sync.Mutex
	Calls int
}

func (s *StubAnalyzer) Name() model.AnalyzerName { return s.AnalyzerName }

func (s *StubAnalyzer) Analyze(ctx context.Context, _ *analyzer.Input) (analyzer.Result, error) {
	s.mu.Lock()
	s.Calls++
	s.mu.Unlock()
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.Panic {
		panic("stub analyzer panic")
	}
	if s.Err != nil {
		return nil, s.Err
	}
	if s.NoScore {
		return &StubResult{Note: "no score"}, nil
	}
	v := s.ScoreValue
	return &StubResult{Value: &v}, nil
}

// CallCount returns the number of Analyze calls.
func (s *StubAnalyzer) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Calls
}

// StubRegistry registers a StubAnalyzer with score for every known name.
func StubRegistry(score int) (*analyzer.Registry, map[model.AnalyzerName]*StubAnalyzer) {
	stubs := make(map[model.AnalyzerName]*StubAnalyzer, len(model.AllAnalyzers))
	list := make([]analyzer.Analyzer, 0, len(model.AllAnalyzers))
	for _, n := range model.AllAnalyzers {
		s := &StubAnalyzer{AnalyzerName: n, ScoreValue: score}
		stubs[n] = s
		list = append(list, s)
	}
	reg, err := analyzer.NewRegistry(list...)
	if err != nil {
		panic(err)
	}
	return reg, stubs
}

// ─── Runner ────────────────────────────────────────────────────────────

// ScriptedRunner replays a fixed event sequence for each URL. Unknown URLs
// get a single error event.
type ScriptedRunner struct {
	Scripts map[string][]model.Event
	// Gap is slept between events to interleave concurrent streams.
	Gap time.Duration

	mu   sync.Mutex
	Reqs []model.ScanRequest
}

func (s *ScriptedRunner) Run(ctx context.Context, req model.ScanRequest) <-chan model.Event {
	s.mu.Lock()
	s.Reqs = append(s.Reqs, req)
	s.mu.Unlock()

	events, ok := s.Scripts[req.URL]
	if !ok {
		events = []model.Event{model.ErrorEvent("no script for " + req.URL)}
	}
	out := make(chan model.Event)
	go func() {
		defer close(out)
		for _, ev := range events {
			if s.Gap > 0 {
				time.Sleep(s.Gap)
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Requests returns the recorded scan requests.
func (s *ScriptedRunner) Requests() []model.ScanRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ScanRequest(nil), s.Reqs...)
}

// CompletedScript builds n log events followed by a complete event with
// the given global score.
func CompletedScript(url string, n, score int) []model.Event {
	evs := make([]model.Event, 0, n+1)
	for i := 0; i < n; i++ {
		evs = append(evs, model.LogEvent("analysis", "step "+string(rune('A'+i))))
	}
	return append(evs, model.CompleteEvent(&model.AggregateResult{
		URL:         url,
		Status:      model.AuditCompleted,
		GlobalScore: score,
		Slots:       map[model.AnalyzerName]model.Slot{},
		Errors:      []string{},
	}))
}
