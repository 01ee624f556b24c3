package analyzer

import (
	"context"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/raysh454/siteaudit/internal/model"
)

// SEOCheck is one on-page rule outcome.
type SEOCheck struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Passed bool   `json:"passed"`
	Detail string `json:"display_value,omitempty"`
}

// SEOResult is the on-page SEO report.
type SEOResult struct {
	Title            string     `json:"title"`
	MetaDescription  string     `json:"meta_description"`
	Canonical        string     `json:"canonical,omitempty"`
	Lang             string     `json:"lang,omitempty"`
	H1Count          int        `json:"h1_count"`
	ImagesTotal      int        `json:"images_total"`
	ImagesWithoutAlt int        `json:"images_without_alt"`
	Checks           []SEOCheck `json:"audits"`
	Value            int        `json:"score"`
}

func (r *SEOResult) Score() *int { return intPtr(r.Value) }

// SEO scores basic on-page signals of the target document.
type SEO struct{}

func NewSEO() *SEO { return &SEO{} }

func (*SEO) Name() model.AnalyzerName { return model.AnalyzerSEO }

func (*SEO) Analyze(ctx context.Context, in *Input) (Result, error) {
	doc, err := in.Document(ctx)
	if err != nil {
		return nil, err
	}
	return scoreSEO(doc, in.Lang), nil
}

func scoreSEO(doc *goquery.Document, wantLang string) *SEOResult {
	r := &SEOResult{}
	r.Title = strings.TrimSpace(doc.Find("head title").First().Text())
	r.MetaDescription = strings.TrimSpace(doc.Find(`meta[name="description"]`).AttrOr("content", ""))
	r.Canonical = strings.TrimSpace(doc.Find(`link[rel="canonical"]`).AttrOr("href", ""))
	r.Lang = strings.TrimSpace(doc.Find("html").AttrOr("lang", ""))
	r.H1Count = doc.Find("h1").Length()
	viewport := doc.Find(`meta[name="viewport"]`).Length() > 0

	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		r.ImagesTotal++
		if alt, ok := s.Attr("alt"); !ok || strings.TrimSpace(alt) == "" {
			r.ImagesWithoutAlt++
		}
	})

	titleLen := utf8.RuneCountInString(r.Title)
	descLen := utf8.RuneCountInString(r.MetaDescription)

	add := func(id, title string, passed bool, detail string) {
		r.Checks = append(r.Checks, SEOCheck{ID: id, Title: title, Passed: passed, Detail: detail})
	}
	add("document-title", "Document has a title", r.Title != "", r.Title)
	add("title-length", "Title is 10-60 characters", titleLen >= 10 && titleLen <= 60, strconv.Itoa(titleLen)+" chars")
	add("meta-description", "Document has a meta description", r.MetaDescription != "", "")
	add("description-length", "Meta description is 50-160 characters", descLen >= 50 && descLen <= 160, strconv.Itoa(descLen)+" chars")
	add("single-h1", "Page has exactly one h1", r.H1Count == 1, strconv.Itoa(r.H1Count)+" found")
	add("canonical", "Document has a canonical link", r.Canonical != "", r.Canonical)
	langOK := r.Lang != ""
	if langOK && wantLang != "" {
		langOK = strings.HasPrefix(strings.ToLower(r.Lang), strings.ToLower(wantLang))
	}
	add("html-lang", "html element has a matching lang attribute", langOK, r.Lang)
	add("viewport", "Page declares a viewport", viewport, "")
	add("image-alt", "Images have alt text", r.ImagesWithoutAlt == 0, strconv.Itoa(r.ImagesWithoutAlt)+" missing")

	passed := 0
	for _, c := range r.Checks {
		if c.Passed {
			passed++
		}
	}
	r.Value = passed * 100 / len(r.Checks)
	return r
}
