package model

import (
	"encoding/json"
	"time"
)

// SkippedMessage is carried by slots whose analyzer was not entitled.
const SkippedMessage = "Skipped (Plan Limit)"

// ScanRequest is immutable for the lifetime of a run.
type ScanRequest struct {
	URL      string     `json:"url"`
	Language string     `json:"lang"`
	Allowed  FeatureSet `json:"allowed_features"`
}

// SlotStatus says how an analyzer slot was filled.
type SlotStatus string

const (
	SlotOK      SlotStatus = "ok"
	SlotError   SlotStatus = "error"
	SlotSkipped SlotStatus = "skipped"
)

// Slot is one analyzer's entry in an AggregateResult.
type Slot struct {
	Status SlotStatus `json:"status"`
	// Score is set only for SlotOK results that produce a score.
	Score *int   `json:"score,omitempty"`
	Error string `json:"error,omitempty"`
	// Data is the analyzer's typed result, serialized.
	Data            json.RawMessage `json:"data,omitempty"`
	DurationSeconds float64         `json:"duration_seconds,omitempty"`
}

// SkippedSlot returns the placeholder for a non-entitled analyzer.
func SkippedSlot() Slot {
	return Slot{Status: SlotSkipped, Error: SkippedMessage}
}

// ErrorSlot returns the placeholder for a failed analyzer.
func ErrorSlot(msg string) Slot {
	return Slot{Status: SlotError, Error: msg}
}

// AuditStatus mirrors the lifecycle value stored with results.
type AuditStatus string

const (
	AuditCompleted AuditStatus = "completed"
	AuditFailed    AuditStatus = "failed"
)

// AggregateResult is the combined report for one URL. Slots always holds an
// entry for every name in AllAnalyzers.
type AggregateResult struct {
	URL             string                `json:"url"`
	Language        string                `json:"lang"`
	AnalyzedAt      time.Time             `json:"analyzed_at"`
	Status          AuditStatus           `json:"status"`
	GlobalScore     int                   `json:"global_score"`
	Slots           map[AnalyzerName]Slot `json:"results"`
	Errors          []string              `json:"errors"`
	DurationSeconds float64               `json:"scan_duration_seconds"`
	// Rendered is true when analyzers received a JavaScript-rendered DOM.
	Rendered bool `json:"rendered"`

	// Visual diff info, filled by the watchdog.
	ScreenshotRef string      `json:"screenshot_path,omitempty"`
	VisualDiff    *VisualDiff `json:"visual_diff,omitempty"`
}

// VisualDiff describes a screenshot comparison attached to a watchdog audit.
type VisualDiff struct {
	Percent    float64 `json:"difference_percentage"`
	DiffRef    string  `json:"diff_image_path,omitempty"`
	HasChanged bool    `json:"has_changed"`
}

// Winner of a battle.
type Winner string

const (
	WinnerTarget     Winner = "target"
	WinnerCompetitor Winner = "competitor"
	WinnerDraw       Winner = "draw"
)

// BattleResult is the terminal payload of battle mode.
type BattleResult struct {
	Target     AggregateResult `json:"target"`
	Competitor AggregateResult `json:"competitor"`
	Winner     Winner          `json:"winner"`
}

// DecideWinner compares global scores strictly.
func DecideWinner(target, competitor int) Winner {
	switch {
	case target > competitor:
		return WinnerTarget
	case target < competitor:
		return WinnerCompetitor
	default:
		return WinnerDraw
	}
}
