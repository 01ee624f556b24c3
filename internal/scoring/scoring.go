// Package scoring derives the global score of an audit from its slots.
package scoring

import (
	"math"

	"github.com/raysh454/siteaudit/internal/model"
)

// Policy turns filled slots into one 0..100 score. It is called exactly
// once per aggregate result.
type Policy interface {
	Score(slots map[model.AnalyzerName]model.Slot) int
}

// WeightedAverage averages the scores of ok slots. Analyzers absent from
// Weights count with weight 1; a zero weight excludes the analyzer.
type WeightedAverage struct {
	Weights map[model.AnalyzerName]float64
}

// Default returns an unweighted average.
func Default() *WeightedAverage { return &WeightedAverage{} }

func (w *WeightedAverage) Score(slots map[model.AnalyzerName]model.Slot) int {
	var sum, total float64
	for name, s := range slots {
		if s.Status != model.SlotOK || s.Score == nil {
			continue
		}
		weight := 1.0
		if w != nil && w.Weights != nil {
			if v, ok := w.Weights[name]; ok {
				weight = v
			}
		}
		if weight <= 0 {
			continue
		}
		sum += float64(*s.Score) * weight
		total += weight
	}
	if total == 0 {
		return 0
	}
	v := int(math.Round(sum / total))
	return min(max(v, 0), 100)
}

// Func adapts a plain function to Policy.
type Func func(slots map[model.AnalyzerName]model.Slot) int

func (f Func) Score(slots map[model.AnalyzerName]model.Slot) int { return f(slots) }
