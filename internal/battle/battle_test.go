package battle_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/raysh454/siteaudit/internal/battle"
	"github.com/raysh454/siteaudit/internal/model"
	"github.com/raysh454/siteaudit/internal/testutil"
)

const (
	targetURL     = "https://target.example"
	competitorURL = "https://rival.example"
)

func collect(t *testing.T, ch <-chan model.Event) []model.Event {
	t.Helper()
	var out []model.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("merged stream did not close")
		}
	}
}

func run(t *testing.T, runner *testutil.ScriptedRunner) []model.Event {
	t.Helper()
	m := battle.New(runner, &testutil.DummyLogger{})
	return collect(t, m.Run(context.Background(),
		model.ScanRequest{URL: targetURL},
		model.ScanRequest{URL: competitorURL}))
}

func TestMerger_FiveLogsEachThenWinner(t *testing.T) {
	t.Parallel()
	runner := &testutil.ScriptedRunner{
		Gap: time.Millisecond,
		Scripts: map[string][]model.Event{
			targetURL:     testutil.CompletedScript(targetURL, 5, 82),
			competitorURL: testutil.CompletedScript(competitorURL, 5, 64),
		},
	}
	events := run(t, runner)

	var labelled, target, rival int
	for _, ev := range events {
		if ev.Type != model.EventLog {
			continue
		}
		switch {
		case strings.HasPrefix(ev.Message, "[Target] "):
			target++
			labelled++
		case strings.HasPrefix(ev.Message, "[Competitor] "):
			rival++
			labelled++
		}
	}
	if labelled != 10 || target != 5 || rival != 5 {
		t.Fatalf("expected 10 labelled logs (5/5), got %d (%d/%d)", labelled, target, rival)
	}

	last := events[len(events)-1]
	if last.Type != model.EventComplete || last.Battle == nil {
		t.Fatalf("expected battle complete last, got %+v", last)
	}
	if last.Battle.Winner != model.WinnerTarget {
		t.Errorf("expected target to win, got %s", last.Battle.Winner)
	}
	if last.Battle.Target.URL != targetURL || last.Battle.Competitor.URL != competitorURL {
		t.Errorf("results swapped: %+v", last.Battle)
	}

	terminal := 0
	for _, ev := range events {
		if ev.Terminal() {
			terminal++
		}
	}
	if terminal != 1 {
		t.Errorf("expected exactly one terminal event, got %d", terminal)
	}
	if events[0].Message != battle.MsgStart {
		t.Errorf("expected start log first, got %q", events[0].Message)
	}
}

func TestMerger_Draw(t *testing.T) {
	t.Parallel()
	events := run(t, &testutil.ScriptedRunner{Scripts: map[string][]model.Event{
		targetURL:     testutil.CompletedScript(targetURL, 1, 70),
		competitorURL: testutil.CompletedScript(competitorURL, 1, 70),
	}})
	last := events[len(events)-1]
	if last.Battle == nil || last.Battle.Winner != model.WinnerDraw {
		t.Fatalf("expected draw, got %+v", last)
	}
}

func TestMerger_CompetitorWins(t *testing.T) {
	t.Parallel()
	events := run(t, &testutil.ScriptedRunner{Scripts: map[string][]model.Event{
		targetURL:     testutil.CompletedScript(targetURL, 2, 40),
		competitorURL: testutil.CompletedScript(competitorURL, 2, 41),
	}})
	if last := events[len(events)-1]; last.Battle == nil || last.Battle.Winner != model.WinnerCompetitor {
		t.Fatalf("expected competitor win, got %+v", last)
	}
}

func TestMerger_OneSideFails(t *testing.T) {
	t.Parallel()
	events := run(t, &testutil.ScriptedRunner{Scripts: map[string][]model.Event{
		targetURL: testutil.CompletedScript(targetURL, 3, 90),
		competitorURL: {
			model.LogEvent("init", "Starting analysis..."),
			model.ErrorEvent("Could not connect to " + competitorURL + ". Is the URL correct?"),
		},
	}})

	var relabelled bool
	terminal := 0
	for _, ev := range events {
		if ev.Type == model.EventLog && ev.Step == battle.StepError && strings.HasPrefix(ev.Message, "[Competitor] Could not connect") {
			relabelled = true
		}
		if ev.Terminal() {
			terminal++
		}
	}
	if !relabelled {
		t.Error("expected competitor error forwarded as labelled log")
	}
	if terminal != 1 {
		t.Fatalf("expected one terminal event, got %d", terminal)
	}
	last := events[len(events)-1]
	if last.Type != model.EventError || last.Message != battle.MsgFailed {
		t.Fatalf("expected battle failure, got %+v", last)
	}
}

func TestMerger_CancelStopsBothSides(t *testing.T) {
	t.Parallel()
	long := make([]model.Event, 0, 1000)
	for i := 0; i < 1000; i++ {
		long = append(long, model.LogEvent("analysis", "tick"))
	}
	runner := &testutil.ScriptedRunner{Gap: 5 * time.Millisecond, Scripts: map[string][]model.Event{
		targetURL: long, competitorURL: long,
	}}
	ctx, cancel := context.WithCancel(context.Background())
	m := battle.New(runner, nil)
	ch := m.Run(ctx, model.ScanRequest{URL: targetURL}, model.ScanRequest{URL: competitorURL})
	time.AfterFunc(30*time.Millisecond, cancel)

	start := time.Now()
	for range ch {
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("merger did not stop after cancellation")
	}
}
