// Package report compares two stored audits of the same site.
package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/raysh454/siteaudit/internal/model"
	"github.com/raysh454/siteaudit/internal/urlnorm"
)

// ErrURLMismatch is returned when the two audits belong to different sites.
var ErrURLMismatch = errors.New("audits are for different urls")

// Chunk is one added or removed run of summary lines.
type Chunk struct {
	Type    string `json:"type"` // "added" or "removed"
	Content string `json:"content"`
}

// AnalyzerDelta compares one analyzer slot across the two audits.
type AnalyzerDelta struct {
	Analyzer     model.AnalyzerName `json:"analyzer"`
	Before       *int               `json:"before,omitempty"`
	After        *int               `json:"after,omitempty"`
	StatusBefore model.SlotStatus   `json:"status_before,omitempty"`
	StatusAfter  model.SlotStatus   `json:"status_after,omitempty"`
}

// Diff is the comparison of base (older) against head (newer).
type Diff struct {
	BaseID     string          `json:"base_id"`
	HeadID     string          `json:"head_id"`
	URL        string          `json:"url"`
	ScoreDelta int             `json:"score_delta"`
	Analyzers  []AnalyzerDelta `json:"analyzers"`
	Chunks     []Chunk         `json:"chunks"`
}

// Compare diffs two audits. Summaries that are not AggregateResult JSON
// still produce text chunks but no analyzer deltas.
func Compare(base, head *model.AuditRecord) (*Diff, error) {
	if base == nil || head == nil {
		return nil, errors.New("both audits are required")
	}
	if !urlnorm.Same(base.URL, head.URL) {
		return nil, fmt.Errorf("%w: %s vs %s", ErrURLMismatch, base.URL, head.URL)
	}
	d := &Diff{
		BaseID:     base.ID,
		HeadID:     head.ID,
		URL:        head.URL,
		ScoreDelta: head.Score - base.Score,
		Analyzers:  analyzerDeltas(base.Summary, head.Summary),
		Chunks:     textChunks(pretty(base.Summary), pretty(head.Summary)),
	}
	return d, nil
}

func analyzerDeltas(base, head []byte) []AnalyzerDelta {
	var b, h model.AggregateResult
	if json.Unmarshal(base, &b) != nil || json.Unmarshal(head, &h) != nil {
		return []AnalyzerDelta{}
	}
	out := make([]AnalyzerDelta, 0, len(model.AllAnalyzers))
	for _, name := range model.AllAnalyzers {
		bs, bok := b.Slots[name]
		hs, hok := h.Slots[name]
		if !bok && !hok {
			continue
		}
		if bok && hok && bs.Status == hs.Status && equalScore(bs.Score, hs.Score) {
			continue
		}
		out = append(out, AnalyzerDelta{
			Analyzer:     name,
			Before:       bs.Score,
			After:        hs.Score,
			StatusBefore: bs.Status,
			StatusAfter:  hs.Status,
		})
	}
	return out
}

func equalScore(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// pretty indents JSON so the line diff lands on individual fields.
func pretty(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

func textChunks(base, head string) []Chunk {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(base, head)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	chunks := make([]Chunk, 0)
	for _, d := range diffs {
		var typ string
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			typ = "added"
		case diffmatchpatch.DiffDelete:
			typ = "removed"
		default:
			continue
		}
		if strings.TrimSpace(d.Text) != "" {
			chunks = append(chunks, Chunk{Type: typ, Content: d.Text})
		}
	}
	return chunks
}
