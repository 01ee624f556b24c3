package model

import (
	"encoding/json"
	"sort"
	"strings"
)

// FeatureName is an entitlement key checked by the feature gate.
type FeatureName string

const (
	FeatureBasic    FeatureName = "basic_scan"
	FeatureDeep     FeatureName = "deep_scan"
	FeatureSEO      FeatureName = "seo_scan"
	FeatureSecurity FeatureName = "security_scan"
	FeatureTech     FeatureName = "tech_scan"
	FeatureLinks    FeatureName = "links_scan"
	FeatureGDPR     FeatureName = "gdpr_scan"
	FeatureSMO      FeatureName = "smo_scan"
	FeatureGreen    FeatureName = "green_scan"
	FeatureDNS      FeatureName = "dns_scan"
)

// AllFeatures lists every feature key known to the system.
var AllFeatures = []FeatureName{
	FeatureBasic, FeatureSEO, FeatureTech, FeatureLinks, FeatureSMO,
	FeatureDNS, FeatureSecurity, FeatureGDPR, FeatureGreen, FeatureDeep,
}

// Known reports whether f is one of AllFeatures.
func (f FeatureName) Known() bool {
	for _, k := range AllFeatures {
		if k == f {
			return true
		}
	}
	return false
}

// FeatureSet is an immutable-by-convention set of feature names.
type FeatureSet map[FeatureName]struct{}

// NewFeatureSet builds a set from names. Duplicates collapse.
func NewFeatureSet(names ...FeatureName) FeatureSet {
	s := make(FeatureSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// ParseFeatureSet builds a set from raw strings, ignoring blanks.
func ParseFeatureSet(raw []string) FeatureSet {
	s := make(FeatureSet, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		s[FeatureName(r)] = struct{}{}
	}
	return s
}

// Has reports whether f is in the set. A nil set contains nothing.
func (s FeatureSet) Has(f FeatureName) bool {
	_, ok := s[f]
	return ok
}

// List returns the members sorted by name.
func (s FeatureSet) List() []FeatureName {
	out := make([]FeatureName, 0, len(s))
	for f := range s {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Intersect returns the members present in both sets.
func (s FeatureSet) Intersect(other FeatureSet) FeatureSet {
	out := make(FeatureSet)
	for f := range s {
		if other.Has(f) {
			out[f] = struct{}{}
		}
	}
	return out
}

func (s FeatureSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.List())
}

func (s *FeatureSet) UnmarshalJSON(b []byte) error {
	var raw []string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*s = ParseFeatureSet(raw)
	return nil
}

// AnalyzerName identifies one of the fixed analyzers.
type AnalyzerName string

const (
	AnalyzerSEO      AnalyzerName = "seo"
	AnalyzerSecurity AnalyzerName = "security"
	AnalyzerTech     AnalyzerName = "tech"
	AnalyzerLinks    AnalyzerName = "links"
	AnalyzerGDPR     AnalyzerName = "gdpr"
	AnalyzerSMO      AnalyzerName = "smo"
	AnalyzerGreen    AnalyzerName = "green"
	AnalyzerDNS      AnalyzerName = "dns"
)

// AllAnalyzers is the fixed known-analyzer set in launch order.
var AllAnalyzers = []AnalyzerName{
	AnalyzerSEO, AnalyzerSecurity, AnalyzerTech, AnalyzerLinks,
	AnalyzerGDPR, AnalyzerSMO, AnalyzerGreen, AnalyzerDNS,
}

// Feature returns the entitlement key that enables the analyzer.
func (a AnalyzerName) Feature() FeatureName {
	switch a {
	case AnalyzerSEO:
		return FeatureSEO
	case AnalyzerSecurity:
		return FeatureSecurity
	case AnalyzerTech:
		return FeatureTech
	case AnalyzerLinks:
		return FeatureLinks
	case AnalyzerGDPR:
		return FeatureGDPR
	case AnalyzerSMO:
		return FeatureSMO
	case AnalyzerGreen:
		return FeatureGreen
	case AnalyzerDNS:
		return FeatureDNS
	}
	return ""
}

// Label is the human form used in progress messages: acronyms upper-cased,
// words title-cased.
func (a AnalyzerName) Label() string {
	s := string(a)
	if len(s) < 4 {
		return strings.ToUpper(s)
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Key is the upper-cased name used in aggregate error entries.
func (a AnalyzerName) Key() string {
	return strings.ToUpper(string(a))
}
