package analyzer

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/raysh454/siteaudit/internal/model"
	"github.com/raysh454/siteaudit/internal/urlnorm"
)

// LinkCheck is the probe outcome for one href.
type LinkCheck struct {
	URL        string `json:"url"`
	StatusCode int    `json:"status_code,omitempty"`
	Internal   bool   `json:"internal"`
	Broken     bool   `json:"broken"`
	Error      string `json:"error,omitempty"`
}

// LinksResult summarizes broken links on the target page.
type LinksResult struct {
	Total    int         `json:"total_links"`
	Internal int         `json:"internal_links"`
	External int         `json:"external_links"`
	Broken   []LinkCheck `json:"broken_links"`
	Checked  []LinkCheck `json:"checked_links"`
	Value    int         `json:"score"`
}

func (r *LinksResult) Score() *int { return intPtr(r.Value) }

// LinksOptions bounds link probing.
type LinksOptions struct {
	MaxLinks    int
	Concurrency int
	// RatePerSecond caps probe request rate; 0 disables limiting.
	RatePerSecond float64
	ProbeTimeout  time.Duration
}

// Links extracts anchors from the page and probes them concurrently.
type Links struct {
	opts LinksOptions
}

func NewLinks(opts LinksOptions) *Links {
	if opts.MaxLinks <= 0 {
		opts.MaxLinks = 50
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 8 * time.Second
	}
	return &Links{opts: opts}
}

func (*Links) Name() model.AnalyzerName { return model.AnalyzerLinks }

func (l *Links) Analyze(ctx context.Context, in *Input) (Result, error) {
	doc, err := in.Document(ctx)
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(in.URL)
	if err != nil {
		return nil, err
	}
	if p, err := in.Page(ctx); err == nil && p.FinalURL != "" {
		if u, err := url.Parse(p.FinalURL); err == nil {
			base = u
		}
	}

	links := extractLinks(doc, base, l.opts.MaxLinks)
	checks := l.probeAll(ctx, in, base, links)

	r := &LinksResult{Total: len(checks), Checked: checks, Broken: []LinkCheck{}}
	for _, c := range checks {
		if c.Internal {
			r.Internal++
		} else {
			r.External++
		}
		if c.Broken {
			r.Broken = append(r.Broken, c)
		}
	}
	r.Value = 100
	if r.Total > 0 {
		r.Value = 100 * (r.Total - len(r.Broken)) / r.Total
	}
	return r, nil
}

// extractLinks returns up to max distinct absolute http(s) links in
// document order. Links that differ only in spelling count once.
func extractLinks(doc *goquery.Document, base *url.URL, max int) []string {
	seen := make(map[string]bool)
	var out []string
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		abs := resolveLink(base, s.AttrOr("href", ""))
		if abs == "" {
			return true
		}
		key, err := urlnorm.Key(abs)
		if err != nil {
			key = abs
		}
		if seen[key] {
			return true
		}
		seen[key] = true
		out = append(out, abs)
		return len(out) < max
	})
	return out
}

func (l *Links) probeAll(ctx context.Context, in *Input, base *url.URL, links []string) []LinkCheck {
	out := make([]LinkCheck, len(links))
	client := in.Client()
	if client == nil {
		for i, u := range links {
			out[i] = LinkCheck{URL: u, Error: ErrNoWebClient.Error()}
		}
		return out
	}

	var limiter *rate.Limiter
	if l.opts.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(l.opts.RatePerSecond), l.opts.Concurrency)
	}
	sem := semaphore.NewWeighted(int64(l.opts.Concurrency))
	siteDomain := registrableDomain(base.Host)

	var wg sync.WaitGroup
	for i, link := range links {
		check := LinkCheck{URL: link}
		if u, err := url.Parse(link); err == nil {
			check.Internal = registrableDomain(u.Host) == siteDomain
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			check.Error = err.Error()
			out[i] = check
			continue
		}
		wg.Add(1)
		go func(i int, check LinkCheck) {
			defer wg.Done()
			defer sem.Release(1)
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					check.Error = err.Error()
					out[i] = check
					return
				}
			}
			out[i] = l.probe(ctx, in, check)
		}(i, check)
	}
	wg.Wait()
	return out
}

// probe tries HEAD first and falls back to GET for servers that reject it.
func (l *Links) probe(ctx context.Context, in *Input, check LinkCheck) LinkCheck {
	ctx, cancel := context.WithTimeout(ctx, l.opts.ProbeTimeout)
	defer cancel()

	client := in.Client()
	resp, err := client.Do(ctx, &model.Request{Method: http.MethodHead, URL: check.URL})
	if err != nil || resp.StatusCode >= 400 {
		resp, err = client.Get(ctx, check.URL)
	}
	if err != nil {
		check.Broken = true
		check.Error = err.Error()
		return check
	}
	check.StatusCode = resp.StatusCode
	check.Broken = resp.StatusCode >= 400
	return check
}
