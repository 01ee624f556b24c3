// Package features maps a caller's plan to the features it may use.
package features

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/raysh454/siteaudit/internal/model"
)

// Built-in plan names. "free" is an alias of starter.
const (
	PlanFree    = "free"
	PlanStarter = "starter"
	PlanPro     = "pro"
	PlanAgency  = "agency"
	PlanAdmin   = "admin"
)

var ErrUnknownFeature = errors.New("unknown feature")

var starterFeatures = []model.FeatureName{
	model.FeatureBasic, model.FeatureSEO, model.FeatureTech,
	model.FeatureLinks, model.FeatureSMO, model.FeatureDNS,
}

var proFeatures = append(append([]model.FeatureName{}, starterFeatures...),
	model.FeatureSecurity, model.FeatureGDPR, model.FeatureGreen, model.FeatureDeep)

// Gate resolves plans to feature sets. Unknown or empty plans fall back to
// the default plan, never to an empty set.
type Gate struct {
	plans       map[string]model.FeatureSet
	defaultPlan string
}

// New returns a gate with the built-in catalogue.
func New() *Gate {
	g := &Gate{plans: make(map[string]model.FeatureSet), defaultPlan: PlanStarter}
	g.plans[PlanStarter] = model.NewFeatureSet(starterFeatures...)
	g.plans[PlanFree] = g.plans[PlanStarter]
	g.plans[PlanPro] = model.NewFeatureSet(proFeatures...)
	g.plans[PlanAgency] = model.NewFeatureSet(model.AllFeatures...)
	g.plans[PlanAdmin] = model.NewFeatureSet(model.AllFeatures...)
	return g
}

// Allowed returns a copy of the feature set for plan.
func (g *Gate) Allowed(plan string) model.FeatureSet {
	set, ok := g.plans[strings.ToLower(strings.TrimSpace(plan))]
	if !ok {
		set = g.plans[g.defaultPlan]
	}
	return model.NewFeatureSet(set.List()...)
}

// Plans lists configured plan names.
func (g *Gate) Plans() []string {
	out := make([]string, 0, len(g.plans))
	for p := range g.plans {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Catalogue is the YAML override file layout:
//
//	default: starter
//	plans:
//	  starter: [basic_scan, seo_scan]
//	  enterprise: [basic_scan, deep_scan, security_scan]
type Catalogue struct {
	Default string              `yaml:"default"`
	Plans   map[string][]string `yaml:"plans"`
}

// Apply merges c into the gate. Listed plans replace built-ins.
func (g *Gate) Apply(c Catalogue) error {
	for name, raw := range c.Plans {
		set := make(model.FeatureSet, len(raw))
		for _, f := range raw {
			fn := model.FeatureName(strings.TrimSpace(f))
			if !fn.Known() {
				return fmt.Errorf("plan %q: %w %q", name, ErrUnknownFeature, f)
			}
			set[fn] = struct{}{}
		}
		g.plans[strings.ToLower(name)] = set
	}
	if c.Default != "" {
		d := strings.ToLower(c.Default)
		if _, ok := g.plans[d]; !ok {
			return fmt.Errorf("default plan %q is not defined", c.Default)
		}
		g.defaultPlan = d
	}
	return nil
}

// Load builds a gate from the built-ins plus the YAML file at path. An empty
// path returns the built-ins.
func Load(path string) (*Gate, error) {
	g := New()
	if path == "" {
		return g, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan catalogue: %w", err)
	}
	var c Catalogue
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse plan catalogue: %w", err)
	}
	if err := g.Apply(c); err != nil {
		return nil, err
	}
	return g, nil
}
