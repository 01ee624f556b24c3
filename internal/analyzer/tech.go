package analyzer

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/raysh454/siteaudit/internal/model"
)

// Technology is one detected component.
type Technology struct {
	Name       string   `json:"name"`
	Categories []string `json:"categories"`
	Version    string   `json:"version,omitempty"`
	Confidence int      `json:"confidence"`
}

// TechResult is the fingerprinting report. It carries no score.
type TechResult struct {
	Technologies []Technology `json:"technologies"`
	CMS          string       `json:"cms,omitempty"`
	Framework    string       `json:"framework,omitempty"`
	Server       string       `json:"server,omitempty"`
	Language     string       `json:"programming_language,omitempty"`
	CDN          string       `json:"cdn,omitempty"`
	Analytics    []string     `json:"analytics"`
}

func (*TechResult) Score() *int { return nil }

const (
	catCMS       = "CMS"
	catFramework = "JavaScript framework"
	catServer    = "Web server"
	catLanguage  = "Programming language"
	catCDN       = "CDN"
	catAnalytics = "Analytics"
)

// signature matches a technology from headers, meta generator, script
// sources or raw html. Version regexes capture group 1.
type signature struct {
	name      string
	category  string
	header    string
	headerRe  *regexp.Regexp
	generator *regexp.Regexp
	script    string
	html      string
}

var techSignatures = []signature{
	{name: "WordPress", category: catCMS, generator: regexp.MustCompile(`(?i)wordpress\s*([\d.]+)?`), html: "/wp-content/"},
	{name: "Drupal", category: catCMS, generator: regexp.MustCompile(`(?i)drupal\s*([\d.]+)?`), header: "X-Drupal-Cache"},
	{name: "Joomla", category: catCMS, generator: regexp.MustCompile(`(?i)joomla!?\s*([\d.]+)?`)},
	{name: "Shopify", category: catCMS, header: "X-ShopId", html: "cdn.shopify.com"},
	{name: "Wix", category: catCMS, generator: regexp.MustCompile(`(?i)wix\.com`), html: "static.wixstatic.com"},
	{name: "Ghost", category: catCMS, generator: regexp.MustCompile(`(?i)ghost\s*([\d.]+)?`)},
	{name: "Next.js", category: catFramework, header: "X-Powered-By", headerRe: regexp.MustCompile(`(?i)next\.js\s*([\d.]+)?`), html: "/_next/static/"},
	{name: "Nuxt.js", category: catFramework, html: "/_nuxt/"},
	{name: "React", category: catFramework, script: "react", html: "data-reactroot"},
	{name: "Vue.js", category: catFramework, script: "vue", html: "data-v-"},
	{name: "Angular", category: catFramework, html: "ng-version"},
	{name: "jQuery", category: catFramework, script: "jquery"},
	{name: "Nginx", category: catServer, header: "Server", headerRe: regexp.MustCompile(`(?i)nginx(?:/([\d.]+))?`)},
	{name: "Apache", category: catServer, header: "Server", headerRe: regexp.MustCompile(`(?i)apache(?:/([\d.]+))?`)},
	{name: "Microsoft IIS", category: catServer, header: "Server", headerRe: regexp.MustCompile(`(?i)microsoft-iis(?:/([\d.]+))?`)},
	{name: "LiteSpeed", category: catServer, header: "Server", headerRe: regexp.MustCompile(`(?i)litespeed`)},
	{name: "PHP", category: catLanguage, header: "X-Powered-By", headerRe: regexp.MustCompile(`(?i)php(?:/([\d.]+))?`)},
	{name: "ASP.NET", category: catLanguage, header: "X-AspNet-Version", headerRe: regexp.MustCompile(`([\d.]+)`)},
	{name: "Express", category: catFramework, header: "X-Powered-By", headerRe: regexp.MustCompile(`(?i)express`)},
	{name: "Cloudflare", category: catCDN, header: "CF-Ray"},
	{name: "Fastly", category: catCDN, header: "X-Fastly-Request-ID"},
	{name: "Amazon CloudFront", category: catCDN, header: "X-Amz-Cf-Id"},
	{name: "Google Analytics", category: catAnalytics, script: "google-analytics.com", html: "gtag("},
	{name: "Google Tag Manager", category: catAnalytics, script: "googletagmanager.com"},
	{name: "Hotjar", category: catAnalytics, script: "hotjar.com"},
	{name: "Matomo", category: catAnalytics, script: "matomo", html: "_paq.push"},
}

// Tech fingerprints the site from headers and markup.
type Tech struct{}

func NewTech() *Tech { return &Tech{} }

func (*Tech) Name() model.AnalyzerName { return model.AnalyzerTech }

func (*Tech) Analyze(ctx context.Context, in *Input) (Result, error) {
	headers := in.ResponseHeaders(ctx)
	html, err := in.HTML(ctx)
	if err != nil {
		return nil, err
	}
	var doc *goquery.Document
	if strings.TrimSpace(html) != "" {
		doc, _ = goquery.NewDocumentFromReader(strings.NewReader(html))
	}
	return fingerprint(headers, html, doc), nil
}

func fingerprint(headers map[string][]string, html string, doc *goquery.Document) *TechResult {
	get := func(name string) string {
		for k, vs := range headers {
			if strings.EqualFold(k, name) && len(vs) > 0 {
				return vs[0]
			}
		}
		return ""
	}

	var generator string
	var scripts []string
	if doc != nil {
		generator = doc.Find(`meta[name="generator"]`).AttrOr("content", "")
		doc.Find("script[src]").Each(func(_ int, s *goquery.Selection) {
			scripts = append(scripts, strings.ToLower(s.AttrOr("src", "")))
		})
	}
	lowerHTML := strings.ToLower(html)

	found := map[string]*Technology{}
	hit := func(sig signature, version string, confidence int) {
		t, ok := found[sig.name]
		if !ok {
			t = &Technology{Name: sig.name, Categories: []string{sig.category}}
			found[sig.name] = t
		}
		if version != "" && t.Version == "" {
			t.Version = version
		}
		t.Confidence = clamp(t.Confidence+confidence, 0, 100)
	}

	for _, sig := range techSignatures {
		if sig.header != "" {
			if v := get(sig.header); v != "" {
				if sig.headerRe == nil {
					hit(sig, "", 100)
				} else if m := sig.headerRe.FindStringSubmatch(v); m != nil {
					hit(sig, submatch(m), 100)
				}
			}
		}
		if sig.generator != nil && generator != "" {
			if m := sig.generator.FindStringSubmatch(generator); m != nil {
				hit(sig, submatch(m), 100)
			}
		}
		if sig.script != "" {
			for _, src := range scripts {
				if strings.Contains(src, sig.script) {
					hit(sig, "", 75)
					break
				}
			}
		}
		if sig.html != "" && strings.Contains(lowerHTML, strings.ToLower(sig.html)) {
			hit(sig, "", 50)
		}
	}

	r := &TechResult{Analytics: []string{}}
	names := make([]string, 0, len(found))
	for n := range found {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		t := *found[n]
		r.Technologies = append(r.Technologies, t)
		switch t.Categories[0] {
		case catCMS:
			setOnce(&r.CMS, t.Name)
		case catFramework:
			setOnce(&r.Framework, t.Name)
		case catServer:
			setOnce(&r.Server, t.Name)
		case catLanguage:
			setOnce(&r.Language, t.Name)
		case catCDN:
			setOnce(&r.CDN, t.Name)
		case catAnalytics:
			r.Analytics = append(r.Analytics, t.Name)
		}
	}
	if r.Server == "" {
		r.Server = get("Server")
	}
	return r
}

func submatch(m []string) string {
	if len(m) > 1 {
		return m[1]
	}
	return ""
}

func setOnce(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}
