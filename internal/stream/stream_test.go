package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/raysh454/siteaudit/internal/model"
)

// ─── Encoder ───────────────────────────────────────────────────────────

func TestEncoder_OneLinePerEvent(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	_ = enc.Encode(model.LogEvent("init", "Starting analysis for https://example.com..."))
	_ = enc.Encode(model.ErrorEvent("boom"))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], `"type":"log"`) || !strings.Contains(lines[0], `"step":"init"`) {
		t.Errorf("unexpected first line %s", lines[0])
	}
}

func TestEncoder_FlushesHTTPWriter(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	if err := NewEncoder(rec).Encode(model.LogEvent("network", "ok")); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !rec.Flushed {
		t.Fatal("expected recorder to be flushed")
	}
}

func TestPipe_DrainsUntilClose(t *testing.T) {
	t.Parallel()
	ch := make(chan model.Event, 3)
	ch <- model.LogEvent("a", "1")
	ch <- model.LogEvent("b", "2")
	ch <- model.CompleteEvent(&model.AggregateResult{URL: "https://example.com"})
	close(ch)

	var buf bytes.Buffer
	if err := Pipe(context.Background(), NewEncoder(&buf), ch); err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	if n := strings.Count(buf.String(), "\n"); n != 3 {
		t.Fatalf("expected 3 records, got %d", n)
	}
}

// ─── Decoder / Collect ─────────────────────────────────────────────────

func TestCollect_SkipsMalformedAndIgnoresTrailing(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	_ = enc.Encode(model.LogEvent("init", "start"))
	buf.WriteString("{not json\n\n")
	_ = enc.Encode(model.CompleteEvent(&model.AggregateResult{URL: "https://example.com", GlobalScore: 77}))
	_ = enc.Encode(model.LogEvent("late", "after terminal"))

	terminal, progress, err := Collect(&buf)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if terminal.Type != model.EventComplete || terminal.Result == nil || terminal.Result.GlobalScore != 77 {
		t.Fatalf("unexpected terminal %+v", terminal)
	}
	if len(progress) != 1 || progress[0].Step != "init" {
		t.Fatalf("unexpected progress %+v", progress)
	}
}

func TestCollect_NoTerminal(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	_ = NewEncoder(&buf).Encode(model.LogEvent("init", "start"))
	if _, _, err := Collect(&buf); !errors.Is(err, ErrNoTerminal) {
		t.Fatalf("expected ErrNoTerminal, got %v", err)
	}
}

func TestDecoder_CountsSkipped(t *testing.T) {
	t.Parallel()
	d := NewDecoder(strings.NewReader("garbage\n{\"type\":\"nope\"}\n{\"type\":\"error\",\"message\":\"x\"}\n"))
	ev, err := d.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev.Type != model.EventError || d.Skipped() != 2 {
		t.Fatalf("expected error event after 2 skipped lines, got %v / %d", ev.Type, d.Skipped())
	}
}

func TestDecoder_SkipsOversizedLine(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	huge := strings.Repeat("x", 200*1024)
	_ = NewEncoder(&buf).Encode(model.LogEvent("init", huge))
	buf.WriteString(`{"type":"error","message":"x"}` + "\n")

	d := NewDecoderSize(&buf, 1024)
	ev, err := d.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev.Type != model.EventError || d.Skipped() != 1 {
		t.Fatalf("expected error event after 1 oversized line, got %v / %d", ev.Type, d.Skipped())
	}
	if _, err := d.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestDecoder_LongLineWithinLimit(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	long := strings.Repeat("y", 200*1024)
	_ = NewEncoder(&buf).Encode(model.LogEvent("init", long))

	ev, err := NewDecoder(&buf).Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev.Message != long {
		t.Fatalf("long line truncated: got %d bytes", len(ev.Message))
	}
}

func TestCollect_OversizedLineBeforeTerminal(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	_ = enc.Encode(model.LogEvent("init", strings.Repeat("z", MaxLineBytes+1)))
	_ = enc.Encode(model.CompleteEvent(&model.AggregateResult{URL: "https://example.com", GlobalScore: 64}))

	terminal, progress, err := Collect(&buf)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if terminal.Result == nil || terminal.Result.GlobalScore != 64 || len(progress) != 0 {
		t.Fatalf("unexpected terminal %+v / progress %d", terminal, len(progress))
	}
}

func TestDrain_FirstTerminalWins(t *testing.T) {
	t.Parallel()
	ch := make(chan model.Event, 4)
	ch <- model.LogEvent("a", "1")
	ch <- model.ErrorEvent("first")
	ch <- model.ErrorEvent("second")
	close(ch)
	terminal, progress, err := Drain(ch)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if terminal.Message != "first" || len(progress) != 1 {
		t.Fatalf("unexpected %+v / %d", terminal, len(progress))
	}
}
