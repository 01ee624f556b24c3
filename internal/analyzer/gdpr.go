package analyzer

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/raysh454/siteaudit/internal/model"
)

// CookieItem is one cookie set without prior consent.
type CookieItem struct {
	Name      string `json:"name"`
	Domain    string `json:"domain"`
	Path      string `json:"path"`
	Secure    bool   `json:"secure"`
	HTTPOnly  bool   `json:"http_only"`
	SameSite  string `json:"same_site,omitempty"`
	Session   bool   `json:"is_session"`
	Category  string `json:"category"`
	Compliant bool   `json:"is_compliant"`
	Risk      string `json:"risk_level"`
}

// GDPRResult is the cookie consent report.
type GDPRResult struct {
	Cookies          []CookieItem `json:"cookies"`
	CMP              string       `json:"cmp_detected,omitempty"`
	PrivacyPolicy    bool         `json:"privacy_policy_detected"`
	PrivacyPolicyURL string       `json:"privacy_policy_url,omitempty"`
	Violations       int          `json:"violation_count"`
	Compliant        bool         `json:"compliant"`
	Value            int          `json:"score"`
}

func (r *GDPRResult) Score() *int { return intPtr(r.Value) }

var trackerDomains = []string{
	"google-analytics.com", "doubleclick.net", "facebook.com",
	"googleadservices.com", "googletagmanager.com", "hotjar.com",
	"criteo.com", "outbrain.com", "taboola.com", "twitter.com",
	"linkedin.com", "bing.com", "tiktok.com", "snapchat.com",
	"adsrvr.org", "adnxs.com", "smartadserver.com", "yandex.ru",
}

var trackingCookies = []string{
	"_ga", "_gid", "_fbp", "fr", "_uetsid", "_uetvid",
	"ads", "sc_is_visitor_unique", "_hjid", "IDE", "test_cookie",
	"datr", "sb", "c_user", "xs",
}

// cmpSignatures are checked in order; the first match wins.
var cmpSignatures = []struct {
	name      string
	selectors []string
}{
	{"Didomi", []string{"#didomi-host", ".didomi-popup", "#didomi-notice"}},
	{"OneTrust", []string{"#onetrust-banner-sdk", ".ot-sdk-container", "#onetrust-consent-sdk"}},
	{"Cookiebot", []string{"#CybotCookiebotDialog", "script#Cookiebot", "#CookiebotSession", "script[src*='cookiebot']"}},
	{"Axeptio", []string{"#axeptio-overlay", ".axeptio_mount_node", "script[src*='axeptio']"}},
	{"Tarteaucitron", []string{"#tarteaucitronRoot", "#tarteaucitronAlertBig", "script[src*='tarteaucitron']"}},
	{"Quantcast", []string{".qc-cmp2-container", ".qc-cmp-ui-container"}},
	{"Borlabs", []string{"#borlabs-cookie", ".borlabs-cookie-container"}},
	{"Complianz", []string{".cmplz-cookiebanner", "#cmplz-cookiebanner-container"}},
	{"Sirdata", []string{"#sd-cmp", ".sd-cmp"}},
	{"TrustCommander", []string{"#trust_commander", ".tc_privacy_container"}},
}

var privacyURLKeywords = []string{
	"confidentialite", "privacy", "rgpd", "gdpr",
	"donnees-personnelles", "mentions-legales", "legal-notice",
}

var privacyTextPattern = regexp.MustCompile(`(?i)(politique de confidentialité|privacy policy|mentions légales|legal notice|données personnelles|personal data|charte de confidentialité|vie privée|protection des données)`)

// GDPR inspects cookies set on first load and looks for a consent banner
// and a privacy policy link.
type GDPR struct{}

func NewGDPR() *GDPR { return &GDPR{} }

func (*GDPR) Name() model.AnalyzerName { return model.AnalyzerGDPR }

func (*GDPR) Analyze(ctx context.Context, in *Input) (Result, error) {
	doc, err := in.Document(ctx)
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(in.URL)
	if err != nil {
		return nil, err
	}

	r := &GDPRResult{Cookies: []CookieItem{}}
	siteDomain := registrableDomain(base.Host)

	resp := http.Response{Header: in.ResponseHeaders(ctx)}
	score := 100
	for _, c := range resp.Cookies() {
		item := classifyCookie(c, base.Hostname(), siteDomain)
		r.Cookies = append(r.Cookies, item)
		if !item.Compliant {
			r.Violations++
			score -= 20
		}
	}

	r.CMP = detectCMP(doc)
	r.PrivacyPolicyURL = findPrivacyPolicy(doc, base)
	r.PrivacyPolicy = r.PrivacyPolicyURL != ""
	if !r.PrivacyPolicy {
		score -= 10
	}
	r.Compliant = r.Violations == 0
	r.Value = clamp(score, 0, 100)
	return r, nil
}

func classifyCookie(c *http.Cookie, host, siteDomain string) CookieItem {
	domain := strings.TrimPrefix(strings.ToLower(c.Domain), ".")
	if domain == "" {
		domain = strings.ToLower(host)
	}
	item := CookieItem{
		Name:     c.Name,
		Domain:   domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HTTPOnly: c.HttpOnly,
		Session:  c.Expires.IsZero() && c.MaxAge == 0,
		SameSite: sameSiteName(c.SameSite),
	}
	if item.Path == "" {
		item.Path = "/"
	}

	lower := strings.ToLower(c.Name)
	switch {
	case matchesTrackingName(c.Name):
		item.Category, item.Compliant, item.Risk = "Marketing/Analytics", false, SeverityHigh
	case containsAny(domain, trackerDomains):
		item.Category, item.Compliant, item.Risk = "Third-Party Tracker", false, SeverityCritical
	case containsAny(lower, []string{"session", "csrf", "auth", "consent"}):
		item.Category, item.Compliant, item.Risk = "Essential", true, SeverityInfo
	case registrableDomain(domain) == siteDomain:
		item.Category, item.Compliant, item.Risk = "First-Party (Unknown)", true, SeverityInfo
	default:
		item.Category, item.Compliant, item.Risk = "Third-Party (Unknown)", false, SeverityMedium
	}
	return item
}

func matchesTrackingName(name string) bool {
	for _, t := range trackingCookies {
		if name == t || strings.HasPrefix(name, t) {
			return true
		}
	}
	return false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func sameSiteName(s http.SameSite) string {
	switch s {
	case http.SameSiteLaxMode:
		return "Lax"
	case http.SameSiteStrictMode:
		return "Strict"
	case http.SameSiteNoneMode:
		return "None"
	default:
		return ""
	}
}

func detectCMP(doc *goquery.Document) string {
	for _, sig := range cmpSignatures {
		for _, sel := range sig.selectors {
			if doc.Find(sel).Length() > 0 {
				return sig.name
			}
		}
	}
	return ""
}

// findPrivacyPolicy prefers href keywords and falls back to short link texts.
func findPrivacyPolicy(doc *goquery.Document, base *url.URL) string {
	var found string
	for _, kw := range privacyURLKeywords {
		doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			href := s.AttrOr("href", "")
			if strings.Contains(strings.ToLower(href), kw) {
				found = href
				return false
			}
			return true
		})
		if found != "" {
			break
		}
	}
	if found == "" {
		doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			txt := strings.TrimSpace(s.Text())
			if txt != "" && utf8.RuneCountInString(txt) < 60 && privacyTextPattern.MatchString(txt) {
				found = s.AttrOr("href", "")
				return false
			}
			return true
		})
	}
	if found == "" {
		return ""
	}
	if abs := resolveLink(base, found); abs != "" {
		return abs
	}
	return found
}
