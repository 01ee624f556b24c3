package analyzer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/raysh454/siteaudit/internal/model"
)

// Severity levels shared by analyzer findings.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
	SeverityInfo     = "info"
	SeverityOK       = "ok"
)

// HeaderCheck is the outcome for one security header.
type HeaderCheck struct {
	Name           string `json:"name"`
	Value          string `json:"value,omitempty"`
	Present        bool   `json:"present"`
	Severity       string `json:"severity"`
	Recommendation string `json:"recommendation,omitempty"`
}

// SSLInfo describes the served certificate.
type SSLInfo struct {
	Valid           bool       `json:"valid"`
	Issuer          string     `json:"issuer,omitempty"`
	Subject         string     `json:"subject,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	DaysUntilExpiry int        `json:"days_until_expiry"`
	Protocol        string     `json:"protocol_version,omitempty"`
	CipherSuite     string     `json:"cipher_suite,omitempty"`
	Expired         bool       `json:"is_expired"`
	ExpiringSoon    bool       `json:"is_expiring_soon"`
	Error           string     `json:"error,omitempty"`
}

// ExposedFile is a sensitive path probe.
type ExposedFile struct {
	Path       string `json:"path"`
	Accessible bool   `json:"accessible"`
	Severity   string `json:"severity"`
}

// SecurityResult is the security headers / TLS / exposure report.
type SecurityResult struct {
	Headers      []HeaderCheck `json:"headers"`
	SSL          SSLInfo       `json:"ssl"`
	ExposedFiles []ExposedFile `json:"exposed_files"`
	Value        int           `json:"score"`
}

func (r *SecurityResult) Score() *int { return intPtr(r.Value) }

type headerRule struct {
	name           string
	severity       string
	recommendation string
	// weak reports a present-but-weak value.
	weak func(v string) bool
}

var securityHeaderRules = []headerRule{
	{name: "Strict-Transport-Security", severity: SeverityHigh, recommendation: "max-age=31536000; includeSubDomains"},
	{name: "Content-Security-Policy", severity: SeverityHigh, recommendation: "default-src 'self'",
		weak: func(v string) bool {
			v = strings.ToLower(v)
			return strings.Contains(v, "unsafe-inline") || strings.Contains(v, "unsafe-eval")
		}},
	{name: "X-Frame-Options", severity: SeverityMedium, recommendation: "DENY or SAMEORIGIN"},
	{name: "X-Content-Type-Options", severity: SeverityMedium, recommendation: "nosniff",
		weak: func(v string) bool { return !strings.EqualFold(strings.TrimSpace(v), "nosniff") }},
	{name: "Referrer-Policy", severity: SeverityLow, recommendation: "strict-origin-when-cross-origin"},
	{name: "Permissions-Policy", severity: SeverityLow, recommendation: "camera=(), microphone=(), geolocation=()"},
}

var severityPenalty = map[string]int{
	SeverityCritical: 25,
	SeverityHigh:     15,
	SeverityMedium:   10,
	SeverityLow:      5,
}

// DefaultExposedPaths are probed relative to the site root.
var DefaultExposedPaths = []string{"/.env", "/.git/config", "/.DS_Store", "/wp-config.php.bak", "/server-status"}

// SecurityOptions tunes the security analyzer.
type SecurityOptions struct {
	// TLSConfig is used for the certificate handshake; nil uses system roots.
	TLSConfig   *tls.Config
	DialTimeout time.Duration
	Paths       []string
	// ExpiryWarning flags certificates expiring within this window.
	ExpiryWarning time.Duration
}

// Security checks headers, TLS and commonly exposed files.
type Security struct {
	opts SecurityOptions
	now  func() time.Time
}

func NewSecurity(opts SecurityOptions) *Security {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.Paths == nil {
		opts.Paths = DefaultExposedPaths
	}
	if opts.ExpiryWarning <= 0 {
		opts.ExpiryWarning = 30 * 24 * time.Hour
	}
	return &Security{opts: opts, now: time.Now}
}

func (*Security) Name() model.AnalyzerName { return model.AnalyzerSecurity }

func (s *Security) Analyze(ctx context.Context, in *Input) (Result, error) {
	target, err := url.Parse(in.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	r := &SecurityResult{}
	score := 100

	headers := in.ResponseHeaders(ctx)
	for _, rule := range securityHeaderRules {
		v := headers.Get(rule.name)
		hc := HeaderCheck{Name: rule.name, Value: v, Present: v != "", Severity: SeverityOK}
		switch {
		case v == "" && rule.name == "Strict-Transport-Security" && target.Scheme != "https":
			hc.Severity = SeverityInfo
		case v == "":
			hc.Severity = rule.severity
			hc.Recommendation = rule.recommendation
			score -= severityPenalty[rule.severity]
		case rule.weak != nil && rule.weak(v):
			hc.Severity = SeverityLow
			hc.Recommendation = rule.recommendation
			score -= severityPenalty[SeverityLow]
		}
		r.Headers = append(r.Headers, hc)
	}

	if target.Scheme == "https" {
		r.SSL = s.inspectTLS(ctx, target)
		switch {
		case !r.SSL.Valid:
			score -= severityPenalty[SeverityCritical]
		case r.SSL.ExpiringSoon:
			score -= severityPenalty[SeverityLow]
		}
	} else {
		r.SSL = SSLInfo{Error: "site is not served over https"}
		score -= severityPenalty[SeverityCritical]
	}

	r.ExposedFiles = s.probePaths(ctx, in, target)
	for _, f := range r.ExposedFiles {
		if f.Accessible {
			score -= 20
		}
	}

	r.Value = clamp(score, 0, 100)
	return r, nil
}

func (s *Security) inspectTLS(ctx context.Context, target *url.URL) SSLInfo {
	host := target.Hostname()
	port := target.Port()
	if port == "" {
		port = "443"
	}

	cfg := &tls.Config{}
	if s.opts.TLSConfig != nil {
		cfg = s.opts.TLSConfig.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}

	dialer := &tls.Dialer{NetDialer: &net.Dialer{Timeout: s.opts.DialTimeout}, Config: cfg}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return SSLInfo{Valid: false, Error: err.Error()}
	}
	defer conn.Close()

	state := conn.(*tls.Conn).ConnectionState()
	info := SSLInfo{
		Valid:       true,
		Protocol:    tls.VersionName(state.Version),
		CipherSuite: tls.CipherSuiteName(state.CipherSuite),
	}
	if len(state.PeerCertificates) > 0 {
		leaf := state.PeerCertificates[0]
		exp := leaf.NotAfter.UTC()
		info.Issuer = leaf.Issuer.CommonName
		info.Subject = leaf.Subject.CommonName
		info.ExpiresAt = &exp
		left := exp.Sub(s.now())
		info.DaysUntilExpiry = int(left.Hours() / 24)
		info.Expired = left <= 0
		info.ExpiringSoon = !info.Expired && left < s.opts.ExpiryWarning
		info.Valid = !info.Expired
	}
	return info
}

func (s *Security) probePaths(ctx context.Context, in *Input, target *url.URL) []ExposedFile {
	client := in.Client()
	out := make([]ExposedFile, 0, len(s.opts.Paths))
	if client == nil {
		return out
	}
	root := &url.URL{Scheme: target.Scheme, Host: target.Host}
	for _, p := range s.opts.Paths {
		if ctx.Err() != nil {
			break
		}
		f := ExposedFile{Path: p, Severity: SeverityOK}
		resp, err := client.Get(ctx, root.String()+p)
		if err == nil && resp.StatusCode == http.StatusOK && len(resp.Body) > 0 && !looksLikeHTMLPage(resp) {
			f.Accessible = true
			f.Severity = SeverityCritical
		}
		out = append(out, f)
	}
	return out
}

// looksLikeHTMLPage filters soft-404 pages that return 200 for any path.
func looksLikeHTMLPage(resp *model.Response) bool {
	ct := strings.ToLower(resp.Headers.Get("Content-Type"))
	return strings.Contains(ct, "text/html")
}
