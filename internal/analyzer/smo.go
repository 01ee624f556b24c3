package analyzer

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/raysh454/siteaudit/internal/model"
)

// Image status values for SMOResult.ImageStatus.
const (
	ImageValid   = "valid"
	ImageBroken  = "broken"
	ImageMissing = "missing"
)

// SMOResult is the social metadata report.
type SMOResult struct {
	OpenGraph   map[string]string `json:"og_tags"`
	Twitter     map[string]string `json:"twitter_tags"`
	Missing     []string          `json:"missing_tags"`
	ImageURL    string            `json:"image_url,omitempty"`
	ImageStatus string            `json:"image_status"`
	Value       int               `json:"score"`
}

func (r *SMOResult) Score() *int { return intPtr(r.Value) }

var requiredSocialTags = []string{"og:title", "og:description", "og:image", "og:url", "twitter:card"}

// SMO checks Open Graph and Twitter card metadata.
type SMO struct{}

func NewSMO() *SMO { return &SMO{} }

func (*SMO) Name() model.AnalyzerName { return model.AnalyzerSMO }

func (*SMO) Analyze(ctx context.Context, in *Input) (Result, error) {
	doc, err := in.Document(ctx)
	if err != nil {
		return nil, err
	}

	r := &SMOResult{OpenGraph: map[string]string{}, Twitter: map[string]string{}, Missing: []string{}}
	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		key := s.AttrOr("property", "")
		if key == "" {
			key = s.AttrOr("name", "")
		}
		key = strings.ToLower(strings.TrimSpace(key))
		val := strings.TrimSpace(s.AttrOr("content", ""))
		if val == "" {
			return
		}
		switch {
		case strings.HasPrefix(key, "og:"):
			if _, ok := r.OpenGraph[key]; !ok {
				r.OpenGraph[key] = val
			}
		case strings.HasPrefix(key, "twitter:"):
			if _, ok := r.Twitter[key]; !ok {
				r.Twitter[key] = val
			}
		}
	})

	score := 100
	for _, tag := range requiredSocialTags {
		var ok bool
		if strings.HasPrefix(tag, "og:") {
			_, ok = r.OpenGraph[tag]
		} else {
			_, ok = r.Twitter[tag]
		}
		if !ok {
			r.Missing = append(r.Missing, tag)
			score -= 20
		}
	}

	img := r.OpenGraph["og:image"]
	if img == "" {
		img = r.Twitter["twitter:image"]
	}
	r.ImageStatus = ImageMissing
	if img != "" {
		if base, err := url.Parse(in.URL); err == nil {
			if abs := resolveLink(base, img); abs != "" {
				img = abs
			}
		}
		r.ImageURL = img
		r.ImageStatus = ImageValid
		if !imageReachable(ctx, in, img) {
			r.ImageStatus = ImageBroken
			score -= 10
		}
	}

	r.Value = clamp(score, 0, 100)
	return r, nil
}

func imageReachable(ctx context.Context, in *Input, img string) bool {
	client := in.Client()
	if client == nil {
		return false
	}
	resp, err := client.Do(ctx, &model.Request{Method: http.MethodHead, URL: img})
	if err != nil || resp.StatusCode >= 400 {
		resp, err = client.Get(ctx, img)
	}
	return err == nil && resp.StatusCode < 400
}
