package analyzer

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"

	"github.com/raysh454/siteaudit/internal/model"
)

// Record status values.
const (
	RecordValid    = "valid"
	RecordWarning  = "warning"
	RecordCritical = "critical"
	RecordMissing  = "missing"
)

// Resolver is the subset of *net.Resolver the DNS analyzer needs.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// RecordCheck is the verdict for SPF, DMARC or DKIM.
type RecordCheck struct {
	Status string `json:"status"`
	Record string `json:"record,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// DNSResult is the mail authentication report for the registrable domain.
type DNSResult struct {
	Domain       string      `json:"domain"`
	Addresses    []string    `json:"addresses"`
	SPF          RecordCheck `json:"spf"`
	DMARC        RecordCheck `json:"dmarc"`
	DKIM         RecordCheck `json:"dkim"`
	DKIMSelector string      `json:"dkim_selector,omitempty"`
	Value        int         `json:"score"`
}

func (r *DNSResult) Score() *int { return intPtr(r.Value) }

// DefaultDKIMSelectors are tried in order.
var DefaultDKIMSelectors = []string{"default", "google", "selector1", "selector2", "k1", "mail"}

// DNS checks SPF, DMARC and common DKIM selectors.
type DNS struct {
	resolver  Resolver
	selectors []string
}

// NewDNS builds the analyzer; a nil resolver uses net.DefaultResolver.
func NewDNS(r Resolver) *DNS {
	if r == nil {
		r = net.DefaultResolver
	}
	return &DNS{resolver: r, selectors: DefaultDKIMSelectors}
}

func (*DNS) Name() model.AnalyzerName { return model.AnalyzerDNS }

func (d *DNS) Analyze(ctx context.Context, in *Input) (Result, error) {
	u, err := url.Parse(in.URL)
	if err != nil {
		return nil, err
	}
	domain := registrableDomain(u.Host)
	if domain == "" {
		return nil, errors.New("no domain in url")
	}

	r := &DNSResult{Domain: domain, Addresses: []string{}}
	if addrs, err := d.resolver.LookupHost(ctx, u.Hostname()); err == nil {
		r.Addresses = addrs
	}

	score := 100
	r.SPF = d.checkSPF(ctx, domain)
	switch r.SPF.Status {
	case RecordMissing:
		score -= 30
	case RecordWarning:
		score -= 10
	case RecordCritical:
		score -= 20
	}

	r.DMARC = d.checkDMARC(ctx, domain)
	switch r.DMARC.Status {
	case RecordMissing:
		score -= 30
	case RecordWarning:
		score -= 15
	}

	r.DKIM, r.DKIMSelector = d.checkDKIM(ctx, domain)
	if r.DKIM.Status == RecordMissing {
		score -= 10
	}

	r.Value = clamp(score, 0, 100)
	return r, nil
}

func (d *DNS) txtWithPrefix(ctx context.Context, name, prefix string) []string {
	txts, err := d.resolver.LookupTXT(ctx, name)
	if err != nil {
		return nil
	}
	var out []string
	for _, t := range txts {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(t)), prefix) {
			out = append(out, strings.TrimSpace(t))
		}
	}
	return out
}

func (d *DNS) checkSPF(ctx context.Context, domain string) RecordCheck {
	recs := d.txtWithPrefix(ctx, domain, "v=spf1")
	switch len(recs) {
	case 0:
		return RecordCheck{Status: RecordMissing, Detail: "no SPF record"}
	case 1:
	default:
		return RecordCheck{Status: RecordCritical, Record: recs[0], Detail: "multiple SPF records"}
	}
	rec := recs[0]
	lower := strings.ToLower(rec)
	switch {
	case strings.Contains(lower, "+all"):
		return RecordCheck{Status: RecordCritical, Record: rec, Detail: "+all allows any sender"}
	case strings.Contains(lower, "?all"):
		return RecordCheck{Status: RecordWarning, Record: rec, Detail: "?all is neutral"}
	case strings.Contains(lower, "-all"), strings.Contains(lower, "~all"):
		return RecordCheck{Status: RecordValid, Record: rec}
	default:
		return RecordCheck{Status: RecordWarning, Record: rec, Detail: "no all mechanism"}
	}
}

func (d *DNS) checkDMARC(ctx context.Context, domain string) RecordCheck {
	recs := d.txtWithPrefix(ctx, "_dmarc."+domain, "v=dmarc1")
	if len(recs) == 0 {
		return RecordCheck{Status: RecordMissing, Detail: "no DMARC record"}
	}
	rec := recs[0]
	policy := ""
	for _, part := range strings.Split(rec, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if ok && strings.EqualFold(strings.TrimSpace(k), "p") {
			policy = strings.ToLower(strings.TrimSpace(v))
		}
	}
	switch policy {
	case "reject", "quarantine":
		return RecordCheck{Status: RecordValid, Record: rec, Detail: "p=" + policy}
	case "none":
		return RecordCheck{Status: RecordWarning, Record: rec, Detail: "p=none only monitors"}
	default:
		return RecordCheck{Status: RecordWarning, Record: rec, Detail: "missing policy tag"}
	}
}

func (d *DNS) checkDKIM(ctx context.Context, domain string) (RecordCheck, string) {
	for _, sel := range d.selectors {
		txts, err := d.resolver.LookupTXT(ctx, sel+"._domainkey."+domain)
		if err != nil {
			continue
		}
		for _, t := range txts {
			lower := strings.ToLower(t)
			if strings.Contains(lower, "v=dkim1") || strings.Contains(lower, "p=") {
				return RecordCheck{Status: RecordValid, Record: t}, sel
			}
		}
	}
	return RecordCheck{Status: RecordMissing, Detail: "no DKIM record for common selectors"}, ""
}
