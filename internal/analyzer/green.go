package analyzer

import (
	"context"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"github.com/raysh454/siteaudit/internal/model"
)

// GreenResult estimates the carbon footprint of one page view.
type GreenResult struct {
	HTMLBytes     int64   `json:"html_size_bytes"`
	ResourceBytes int64   `json:"resources_size_bytes"`
	TotalBytes    int64   `json:"total_size_bytes"`
	ResourceCount int     `json:"resource_count"`
	CO2Grams      float64 `json:"co2_grams"`
	Grade         string  `json:"grade"`
	Value         int     `json:"score"`
}

func (r *GreenResult) Score() *int { return intPtr(r.Value) }

// Energy model constants: kWh per GB and grams of CO2 per kWh.
const (
	kWhPerGB     = 0.81
	gramsPerKWh  = 442.0
	maxResources = 30
)

var greenGrades = []struct {
	max   float64
	grade string
	score int
}{
	{0.15, "A", 100},
	{0.30, "B", 85},
	{0.50, "C", 70},
	{0.70, "D", 50},
	{0.85, "E", 30},
}

// Green sums page and subresource weight and converts it to CO2.
type Green struct {
	concurrency int
}

func NewGreen() *Green { return &Green{concurrency: 6} }

func (*Green) Name() model.AnalyzerName { return model.AnalyzerGreen }

func (g *Green) Analyze(ctx context.Context, in *Input) (Result, error) {
	html, err := in.HTML(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := in.Document(ctx)
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(in.URL)
	if err != nil {
		return nil, err
	}

	r := &GreenResult{HTMLBytes: int64(len(html))}
	resources := collectResources(doc, base, maxResources)
	r.ResourceCount = len(resources)
	r.ResourceBytes = g.sizeResources(ctx, in, resources)
	r.TotalBytes = r.HTMLBytes + r.ResourceBytes
	r.CO2Grams = co2Grams(r.TotalBytes)
	r.Grade, r.Value = gradeCO2(r.CO2Grams)
	return r, nil
}

func collectResources(doc *goquery.Document, base *url.URL, max int) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(ref string) bool {
		abs := resolveLink(base, ref)
		if abs != "" && !seen[abs] {
			seen[abs] = true
			out = append(out, abs)
		}
		return len(out) < max
	}
	doc.Find(`img[src], script[src], link[rel="stylesheet"][href]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if src, ok := s.Attr("src"); ok {
			return add(src)
		}
		return add(s.AttrOr("href", ""))
	})
	return out
}

// sizeResources sums Content-Length from HEAD responses. Unknown sizes count
// as zero.
func (g *Green) sizeResources(ctx context.Context, in *Input, resources []string) int64 {
	client := in.Client()
	if client == nil || len(resources) == 0 {
		return 0
	}
	var (
		mu    sync.Mutex
		total int64
	)
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)
	for _, res := range resources {
		eg.Go(func() error {
			resp, err := client.Do(ctx, &model.Request{Method: http.MethodHead, URL: res})
			if err != nil || resp.StatusCode >= 400 {
				return nil
			}
			n, err := strconv.ParseInt(resp.Headers.Get("Content-Length"), 10, 64)
			if err != nil || n < 0 {
				return nil
			}
			mu.Lock()
			total += n
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()
	return total
}

func co2Grams(bytes int64) float64 {
	mb := float64(bytes) / (1024 * 1024)
	g := mb * kWhPerGB / 1024 * gramsPerKWh
	return math.Round(g*1000) / 1000
}

func gradeCO2(grams float64) (string, int) {
	for _, gr := range greenGrades {
		if grams <= gr.max {
			return gr.grade, gr.score
		}
	}
	return "F", 10
}
