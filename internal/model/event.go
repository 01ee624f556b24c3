package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType discriminates ProgressEvent records.
type EventType string

const (
	EventLog        EventType = "log"
	EventError      EventType = "error"
	EventScreenshot EventType = "screenshot"
	EventComplete   EventType = "complete"
)

// Event is one progress record. Exactly one of the payload fields is
// meaningful depending on Type:
//
//	log        Step, Message
//	error      Message
//	screenshot Screenshot
//	complete   Result or Battle
type Event struct {
	Type       EventType
	Step       string
	Message    string
	Screenshot []byte
	Result     *AggregateResult
	Battle     *BattleResult
}

// Terminal reports whether e ends a stream.
func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

func LogEvent(step, msg string) Event {
	return Event{Type: EventLog, Step: step, Message: msg}
}

func ErrorEvent(msg string) Event {
	return Event{Type: EventError, Message: msg}
}

func ScreenshotEvent(b []byte) Event {
	return Event{Type: EventScreenshot, Screenshot: b}
}

func CompleteEvent(r *AggregateResult) Event {
	return Event{Type: EventComplete, Result: r}
}

func BattleCompleteEvent(b *BattleResult) Event {
	return Event{Type: EventComplete, Battle: b}
}

type wireEvent struct {
	Type    EventType       `json:"type"`
	Step    string          `json:"step,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// MarshalJSON renders the wire envelope. Screenshot bytes travel base64
// encoded in data; complete carries the serialized result in data.
func (e Event) MarshalJSON() ([]byte, error) {
	w := wireEvent{Type: e.Type, Step: e.Step, Message: e.Message}
	var err error
	switch e.Type {
	case EventScreenshot:
		w.Data, err = json.Marshal(e.Screenshot)
	case EventComplete:
		switch {
		case e.Battle != nil:
			w.Data, err = json.Marshal(e.Battle)
		case e.Result != nil:
			w.Data, err = json.Marshal(e.Result)
		default:
			return nil, errors.New("complete event without payload")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", e.Type, err)
	}
	return json.Marshal(w)
}

// UnmarshalJSON parses the wire envelope. A complete payload with a winner
// key decodes as a BattleResult.
func (e *Event) UnmarshalJSON(b []byte) error {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	ev := Event{Type: w.Type, Step: w.Step, Message: w.Message}
	switch w.Type {
	case EventLog, EventError:
	case EventScreenshot:
		if len(w.Data) > 0 {
			if err := json.Unmarshal(w.Data, &ev.Screenshot); err != nil {
				return fmt.Errorf("decode screenshot: %w", err)
			}
		}
	case EventComplete:
		if len(w.Data) == 0 {
			return errors.New("complete event without data")
		}
		var probe struct {
			Winner *Winner `json:"winner"`
		}
		if err := json.Unmarshal(w.Data, &probe); err != nil {
			return fmt.Errorf("decode complete: %w", err)
		}
		if probe.Winner != nil {
			ev.Battle = &BattleResult{}
			if err := json.Unmarshal(w.Data, ev.Battle); err != nil {
				return fmt.Errorf("decode battle result: %w", err)
			}
		} else {
			ev.Result = &AggregateResult{}
			if err := json.Unmarshal(w.Data, ev.Result); err != nil {
				return fmt.Errorf("decode result: %w", err)
			}
		}
	default:
		return fmt.Errorf("unknown event type %q", w.Type)
	}
	*e = ev
	return nil
}
