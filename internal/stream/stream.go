// Package stream implements the newline-delimited JSON progress protocol.
// A stream is a finite sequence of events ending with exactly one terminal
// event (complete or error).
package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/raysh454/siteaudit/internal/model"
)

// ErrNoTerminal is returned by Collect when the stream ends without a
// complete or error record.
var ErrNoTerminal = errors.New("stream ended without a terminal event")

// ContentType is served for NDJSON responses.
const ContentType = "application/x-ndjson"

// Encoder writes one JSON object per line. It flushes after every record if
// the writer supports it.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
	f  http.Flusher
}

func NewEncoder(w io.Writer) *Encoder {
	e := &Encoder{w: w}
	if f, ok := w.(http.Flusher); ok {
		e.f = f
	}
	return e
}

// Encode writes ev as a single line.
func (e *Encoder) Encode(ev model.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(b); err != nil {
		return err
	}
	if e.f != nil {
		e.f.Flush()
	}
	return nil
}

// Pipe drains events into enc until the channel closes or ctx is done. The
// first write error stops encoding but the channel is still drained so the
// producer never blocks.
func Pipe(ctx context.Context, enc *Encoder, events <-chan model.Event) error {
	var werr error
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return werr
			}
			if werr == nil {
				werr = enc.Encode(ev)
			}
		}
	}
}

// MaxLineBytes bounds a single record; complete events with embedded
// results can be large.
const MaxLineBytes = 16 << 20

// Decoder reads events line by line. Blank, malformed and oversized lines
// are skipped.
type Decoder struct {
	r       *bufio.Reader
	max     int
	line    []byte
	skipped int
}

func NewDecoder(r io.Reader) *Decoder {
	return NewDecoderSize(r, MaxLineBytes)
}

// NewDecoderSize is NewDecoder with a custom per-line limit.
func NewDecoderSize(r io.Reader, maxLine int) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 64*1024), max: maxLine}
}

// Next returns the next well-formed event, or io.EOF at end of input.
func (d *Decoder) Next() (model.Event, error) {
	for {
		raw, oversized, err := d.readLine()
		if errors.Is(err, io.EOF) {
			return model.Event{}, io.EOF
		}
		if err != nil {
			return model.Event{}, fmt.Errorf("read stream: %w", err)
		}
		if oversized {
			d.skipped++
			continue
		}
		line := bytes.TrimSpace(raw)
		if len(line) == 0 {
			continue
		}
		var ev model.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			d.skipped++
			continue
		}
		return ev, nil
	}
}

// readLine returns the next line without its newline. A line longer than
// the limit is drained and reported as oversized with no content.
func (d *Decoder) readLine() ([]byte, bool, error) {
	d.line = d.line[:0]
	oversized := false
	for {
		chunk, err := d.r.ReadSlice('\n')
		chunk = bytes.TrimSuffix(chunk, []byte{'\n'})
		if !oversized {
			if len(d.line)+len(chunk) > d.max {
				oversized = true
				d.line = d.line[:0]
			} else {
				d.line = append(d.line, chunk...)
			}
		}
		switch {
		case err == nil:
			return d.line, oversized, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if len(d.line) > 0 || oversized {
				return d.line, oversized, nil
			}
			return nil, false, io.EOF
		default:
			return nil, false, err
		}
	}
}

// Skipped counts malformed and oversized lines seen so far.
func (d *Decoder) Skipped() int { return d.skipped }

// Collect reads r until the first terminal event and returns it together
// with the non-terminal events that preceded it. Records after the terminal
// event are not read.
func Collect(r io.Reader) (model.Event, []model.Event, error) {
	d := NewDecoder(r)
	var progress []model.Event
	for {
		ev, err := d.Next()
		if errors.Is(err, io.EOF) {
			return model.Event{}, progress, ErrNoTerminal
		}
		if err != nil {
			return model.Event{}, progress, err
		}
		if ev.Terminal() {
			return ev, progress, nil
		}
		progress = append(progress, ev)
	}
}

// Drain is the channel form of Collect.
func Drain(events <-chan model.Event) (model.Event, []model.Event, error) {
	var progress []model.Event
	var terminal *model.Event
	for ev := range events {
		if terminal != nil {
			continue
		}
		if ev.Terminal() {
			t := ev
			terminal = &t
			continue
		}
		progress = append(progress, ev)
	}
	if terminal == nil {
		return model.Event{}, progress, ErrNoTerminal
	}
	return *terminal, progress, nil
}
