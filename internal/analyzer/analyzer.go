// Package analyzer holds the individual site checks run by the scan
// orchestrator. Each analyzer is independent: it receives a shared Input,
// performs its own probes and returns a typed Result or an error.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/publicsuffix"

	"github.com/raysh454/siteaudit/internal/interfaces"
	"github.com/raysh454/siteaudit/internal/model"
)

// Result is an analyzer's typed output. Score returns nil when the analyzer
// does not contribute to the global score.
type Result interface {
	Score() *int
}

// Analyzer is one check.
type Analyzer interface {
	Name() model.AnalyzerName
	Analyze(ctx context.Context, in *Input) (Result, error)
}

var (
	ErrDuplicate     = errors.New("analyzer registered twice")
	ErrUnknownName   = errors.New("unknown analyzer name")
	ErrNoWebClient   = errors.New("analyzer input has no web client")
	ErrEmptyDocument = errors.New("empty document")
	ErrNoResult      = errors.New("analyzer returned no result")
)

// Registry maps every known analyzer name to its implementation.
type Registry struct {
	byName map[model.AnalyzerName]Analyzer
}

// NewRegistry indexes the given analyzers. Names outside model.AllAnalyzers
// and duplicates are rejected. Missing names are allowed; the orchestrator
// reports them as failed slots.
func NewRegistry(list ...Analyzer) (*Registry, error) {
	known := make(map[model.AnalyzerName]bool, len(model.AllAnalyzers))
	for _, n := range model.AllAnalyzers {
		known[n] = true
	}
	r := &Registry{byName: make(map[model.AnalyzerName]Analyzer, len(list))}
	for _, a := range list {
		n := a.Name()
		if !known[n] {
			return nil, fmt.Errorf("%w: %q", ErrUnknownName, n)
		}
		if _, dup := r.byName[n]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicate, n)
		}
		r.byName[n] = a
	}
	return r, nil
}

// Get returns the analyzer registered for name.
func (r *Registry) Get(name model.AnalyzerName) (Analyzer, bool) {
	if r == nil {
		return nil, false
	}
	a, ok := r.byName[name]
	return a, ok
}

// Missing lists known names without an implementation.
func (r *Registry) Missing() []model.AnalyzerName {
	var out []model.AnalyzerName
	for _, n := range model.AllAnalyzers {
		if _, ok := r.Get(n); !ok {
			out = append(out, n)
		}
	}
	return out
}

// Outcome is the typed result of one analyzer run. Exactly one of Result
// and Err is meaningful.
type Outcome struct {
	Name     model.AnalyzerName
	Result   Result
	Err      error
	Duration time.Duration
}

// Run executes a under its own timeout and converts panics into errors, so
// one analyzer can never take down its siblings. Run returns when ctx ends
// even if a ignores it; the abandoned call finishes in the background and
// its result is discarded.
func Run(ctx context.Context, a Analyzer, in *Input, timeout time.Duration) Outcome {
	name := a.Name()
	start := time.Now()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan Outcome, 1)
	go func() {
		out := Outcome{Name: name}
		defer func() {
			if r := recover(); r != nil {
				out.Result = nil
				out.Err = fmt.Errorf("panic: %v", r)
			}
			done <- out
		}()
		res, err := a.Analyze(ctx, in)
		switch {
		case err != nil:
			out.Err = err
		case res == nil:
			out.Err = ErrNoResult
		default:
			out.Result = res
		}
	}()

	var out Outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		out = Outcome{Name: name, Err: fmt.Errorf("analyzer did not return: %w", ctx.Err())}
	}
	out.Duration = time.Since(start)
	return out
}

// Page is the statically fetched target page.
type Page struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	FinalURL   string
}

// Input is shared by all analyzers of one scan. The static page is fetched
// at most once regardless of how many analyzers ask for it.
type Input struct {
	URL      string
	Lang     string
	Rendered bool
	// RenderedHTML is the JavaScript-executed DOM when Rendered is true.
	RenderedHTML string
	// Headers are the pre-flight response headers, possibly from a HEAD.
	Headers http.Header

	client interfaces.WebClient

	once    sync.Once
	page    *Page
	pageErr error
}

// NewInput prepares the shared input for a scan of target.
func NewInput(target, lang string, client interfaces.WebClient) *Input {
	return &Input{URL: target, Lang: lang, client: client}
}

// Client exposes the web client for analyzers that issue extra probes.
func (in *Input) Client() interfaces.WebClient {
	return in.client
}

// Page returns the statically fetched page.
func (in *Input) Page(ctx context.Context) (*Page, error) {
	in.once.Do(func() {
		if in.client == nil {
			in.pageErr = ErrNoWebClient
			return
		}
		resp, err := in.client.Get(ctx, in.URL)
		if err != nil {
			in.pageErr = fmt.Errorf("fetch %s: %w", in.URL, err)
			return
		}
		final := resp.FinalURL
		if final == "" {
			final = in.URL
		}
		in.page = &Page{StatusCode: resp.StatusCode, Headers: resp.Headers, Body: resp.Body, FinalURL: final}
	})
	return in.page, in.pageErr
}

// HTML returns the rendered DOM when available, else the static body.
func (in *Input) HTML(ctx context.Context) (string, error) {
	if in.Rendered && in.RenderedHTML != "" {
		return in.RenderedHTML, nil
	}
	p, err := in.Page(ctx)
	if err != nil {
		return "", err
	}
	return string(p.Body), nil
}

// Document parses HTML(ctx) with goquery.
func (in *Input) Document(ctx context.Context) (*goquery.Document, error) {
	html, err := in.HTML(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(html) == "" {
		return nil, ErrEmptyDocument
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// ResponseHeaders prefers full GET headers and falls back to pre-flight ones.
func (in *Input) ResponseHeaders(ctx context.Context) http.Header {
	if p, err := in.Page(ctx); err == nil && p.Headers != nil {
		return p.Headers
	}
	if in.Headers != nil {
		return in.Headers
	}
	return http.Header{}
}

// ─── helpers ───────────────────────────────────────────────────────────

func intPtr(v int) *int { return &v }

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// registrableDomain returns eTLD+1 for host, or the bare host when the
// public suffix list cannot answer (IPs, localhost).
func registrableDomain(host string) string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if net.ParseIP(strings.Trim(host, "[]")) != nil {
		return host
	}
	d, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return strings.TrimPrefix(host, "www.")
	}
	return d
}

// resolveLink resolves href against base and drops fragments. Non-http(s)
// schemes yield "".
func resolveLink(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	lower := strings.ToLower(href)
	for _, p := range []string{"mailto:", "tel:", "javascript:", "data:", "#"} {
		if strings.HasPrefix(lower, p) {
			return ""
		}
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	abs.Fragment = ""
	return abs.String()
}
