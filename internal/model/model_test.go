package model_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/raysh454/siteaudit/internal/model"
)

// ─── Events ────────────────────────────────────────────────────────────

func TestEvent_WireShape(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(model.LogEvent("network", "Site is accessible."))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["type"] != "log" || m["step"] != "network" || m["message"] != "Site is accessible." {
		t.Errorf("unexpected wire shape: %s", b)
	}
	if _, ok := m["data"]; ok {
		t.Errorf("log event should not carry data: %s", b)
	}
}

func TestEvent_ScreenshotIsBase64(t *testing.T) {
	t.Parallel()

	b, _ := json.Marshal(model.ScreenshotEvent([]byte{0xff, 0xd8, 0xff}))
	var m map[string]any
	_ = json.Unmarshal(b, &m)
	if m["data"] != "/9j/" {
		t.Fatalf("expected base64 data, got %v", m["data"])
	}

	var ev model.Event
	if err := json.Unmarshal(b, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(ev.Screenshot) != 3 || ev.Screenshot[0] != 0xff {
		t.Errorf("unexpected screenshot bytes %v", ev.Screenshot)
	}
}

func TestEvent_CompleteDecodesResultOrBattle(t *testing.T) {
	t.Parallel()

	res := &model.AggregateResult{URL: "https://a.test", GlobalScore: 70, Slots: map[model.AnalyzerName]model.Slot{
		model.AnalyzerSEO: model.SkippedSlot(),
	}}
	b, _ := json.Marshal(model.CompleteEvent(res))
	var ev model.Event
	if err := json.Unmarshal(b, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Result == nil || ev.Battle != nil {
		t.Fatalf("expected aggregate result, got %+v", ev)
	}
	if ev.Result.Slots[model.AnalyzerSEO].Error != model.SkippedMessage {
		t.Errorf("slot lost in round trip: %+v", ev.Result.Slots)
	}

	battle := &model.BattleResult{Target: *res, Competitor: *res, Winner: model.WinnerDraw}
	b, _ = json.Marshal(model.BattleCompleteEvent(battle))
	ev = model.Event{}
	if err := json.Unmarshal(b, &ev); err != nil {
		t.Fatalf("decode battle: %v", err)
	}
	if ev.Battle == nil || ev.Battle.Winner != model.WinnerDraw {
		t.Fatalf("expected battle payload, got %+v", ev)
	}
}

func TestEvent_RejectsUnknownType(t *testing.T) {
	t.Parallel()
	var ev model.Event
	if err := json.Unmarshal([]byte(`{"type":"progress"}`), &ev); err == nil {
		t.Fatal("expected error for unknown type")
	}
}

// ─── Winner ────────────────────────────────────────────────────────────

func TestDecideWinner(t *testing.T) {
	t.Parallel()
	cases := []struct {
		target, competitor int
		want               model.Winner
	}{
		{80, 79, model.WinnerTarget},
		{50, 51, model.WinnerCompetitor},
		{60, 60, model.WinnerDraw},
		{0, 0, model.WinnerDraw},
	}
	for _, c := range cases {
		if got := model.DecideWinner(c.target, c.competitor); got != c.want {
			t.Errorf("DecideWinner(%d,%d)=%s want %s", c.target, c.competitor, got, c.want)
		}
	}
}

// ─── Features ──────────────────────────────────────────────────────────

func TestAnalyzerFeatureMappingIsTotal(t *testing.T) {
	t.Parallel()
	if len(model.AllAnalyzers) != 8 {
		t.Fatalf("expected 8 analyzers, got %d", len(model.AllAnalyzers))
	}
	seen := map[model.FeatureName]bool{}
	for _, a := range model.AllAnalyzers {
		f := a.Feature()
		if !f.Known() {
			t.Errorf("analyzer %s maps to unknown feature %q", a, f)
		}
		if seen[f] {
			t.Errorf("feature %s mapped twice", f)
		}
		seen[f] = true
	}
}

func TestAnalyzerLabels(t *testing.T) {
	t.Parallel()
	if got := model.AnalyzerSEO.Label(); got != "SEO" {
		t.Errorf("seo label %q", got)
	}
	if got := model.AnalyzerSecurity.Label(); got != "Security" {
		t.Errorf("security label %q", got)
	}
	if got := model.AnalyzerSecurity.Key(); got != "SECURITY" {
		t.Errorf("security key %q", got)
	}
}

func TestFeatureSet_JSON(t *testing.T) {
	t.Parallel()
	s := model.NewFeatureSet(model.FeatureSEO, model.FeatureDeep, model.FeatureSEO)
	b, _ := json.Marshal(s)
	if string(b) != `["deep_scan","seo_scan"]` {
		t.Errorf("unexpected json %s", b)
	}
	var back model.FeatureSet
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !back.Has(model.FeatureDeep) || len(back) != 2 {
		t.Errorf("unexpected set %v", back)
	}
}

// ─── Monitors & tasks ──────────────────────────────────────────────────

func TestMonitor_ValidateDefaults(t *testing.T) {
	t.Parallel()
	m := &model.Monitor{URL: "https://example.com"}
	if err := m.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if m.Cadence != model.CadenceDaily || m.AlertThreshold != model.DefaultAlertThreshold {
		t.Errorf("defaults not applied: %+v", m)
	}

	bad := -1
	cases := []struct {
		m    model.Monitor
		want error
	}{
		{model.Monitor{URL: "ftp://x"}, model.ErrInvalidURL},
		{model.Monitor{URL: "https://x.test", Cadence: "hourly"}, model.ErrInvalidCadence},
		{model.Monitor{URL: "https://x.test", PreferredHour: 24}, model.ErrInvalidHour},
		{model.Monitor{URL: "https://x.test", PreferredWeekday: &bad}, model.ErrInvalidWeekday},
		{model.Monitor{URL: "https://x.test", AlertThreshold: 101}, model.ErrInvalidThreshold},
	}
	for _, c := range cases {
		m := c.m
		if err := m.Validate(); !errors.Is(err, c.want) {
			t.Errorf("Validate(%+v)=%v want %v", c.m, err, c.want)
		}
	}
}

func TestWeekday_MondayIsZero(t *testing.T) {
	t.Parallel()
	mon := time.Date(2026, 10, 12, 9, 0, 0, 0, time.UTC)
	if got := model.Weekday(mon); got != 0 {
		t.Errorf("monday -> %d", got)
	}
	if got := model.Weekday(mon.AddDate(0, 0, 6)); got != 6 {
		t.Errorf("sunday -> %d", got)
	}
}

func TestTaskTransitions(t *testing.T) {
	t.Parallel()
	if !model.CanTransition(model.TaskPending, model.TaskRunning) {
		t.Error("pending -> running should be allowed")
	}
	if model.CanTransition(model.TaskCompleted, model.TaskFailed) {
		t.Error("terminal task must not transition")
	}
	if model.CanTransition(model.TaskFailed, model.TaskRunning) {
		t.Error("terminal task must not transition")
	}
	if !model.TaskFailed.Terminal() || model.TaskRunning.Terminal() {
		t.Error("terminal classification wrong")
	}
}
