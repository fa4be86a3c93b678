package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Server-to-client event names.
const (
	EventReady    = "ready"
	EventInterim  = "interim"
	EventResult   = "result"
	EventError    = "error"
	EventFinished = "finished"
	EventClosed   = "closed"
)

// Sentence is a finalized recognition result. Times are milliseconds
// relative to the session start.
type Sentence struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	BeginTime int64  `json:"beginTime"`
	EndTime   int64  `json:"endTime"`
	IsFinal   bool   `json:"isFinal"`
}

// ClientEvent is one server-to-client JSON frame.
type ClientEvent struct {
	Event    string    `json:"event"`
	Text     string    `json:"text,omitempty"`
	Sentence *Sentence `json:"sentence,omitempty"`
	Error    string    `json:"error,omitempty"`
	Code     *int      `json:"code,omitempty"`
}

func Ready() ClientEvent { return ClientEvent{Event: EventReady} }

func Interim(text string) ClientEvent { return ClientEvent{Event: EventInterim, Text: text} }

func Result(s Sentence) ClientEvent { return ClientEvent{Event: EventResult, Sentence: &s} }

func Error(message string) ClientEvent { return ClientEvent{Event: EventError, Error: message} }

func Finished(code int) ClientEvent { return ClientEvent{Event: EventFinished, Code: &code} }

func Closed(code int) ClientEvent { return ClientEvent{Event: EventClosed, Code: &code} }

// Client-to-server message kinds.
const (
	TypeVADEvent     = "vad-event"
	TypeVADTimestamp = "vad-timestamp"
	ActionStop       = "stop"
	VADStart         = "start"
	VADEnd           = "end"
)

// ErrNotJSON marks a text frame that is not a JSON object. The relay treats
// such frames as audio.
var ErrNotJSON = errors.New("client frame is not a JSON object")

// VADEvent is a client-detected speech boundary.
type VADEvent struct {
	Start       bool
	TimestampMs int64
}

// VADTimestamp is the legacy queued timestamp hint.
type VADTimestamp struct {
	StartMs int64
	EndMs   int64
}

// StopRequest asks for a graceful session end.
type StopRequest struct{}

// UnknownMessage is valid JSON the relay does not act on.
type UnknownMessage struct {
	Type   string
	Action string
}

type clientEnvelope struct {
	Type        string   `json:"type"`
	Action      string   `json:"action"`
	Event       string   `json:"event"`
	TimestampMs *float64 `json:"timestampMs"`
	StartMs     *float64 `json:"startMs"`
	EndMs       *float64 `json:"endMs"`
}

// DecodeClientMessage parses a client text frame into VADEvent, VADTimestamp,
// StopRequest or UnknownMessage. It returns ErrNotJSON when data is not a
// JSON object, and a descriptive error for known messages with bad fields.
func DecodeClientMessage(data []byte) (any, error) {
	var env clientEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotJSON, err)
	}

	if strings.TrimSpace(env.Action) == ActionStop {
		return StopRequest{}, nil
	}

	switch strings.TrimSpace(env.Type) {
	case TypeVADEvent:
		if env.TimestampMs == nil {
			return nil, errors.New("vad-event.timestampMs is required")
		}
		switch strings.TrimSpace(env.Event) {
		case VADStart:
			return VADEvent{Start: true, TimestampMs: int64(*env.TimestampMs)}, nil
		case VADEnd:
			return VADEvent{Start: false, TimestampMs: int64(*env.TimestampMs)}, nil
		default:
			return nil, fmt.Errorf("unsupported vad-event.event %q", env.Event)
		}
	case TypeVADTimestamp:
		if env.StartMs == nil || env.EndMs == nil {
			return nil, errors.New("vad-timestamp.startMs and endMs are required")
		}
		return VADTimestamp{StartMs: int64(*env.StartMs), EndMs: int64(*env.EndMs)}, nil
	default:
		return UnknownMessage{Type: env.Type, Action: env.Action}, nil
	}
}
