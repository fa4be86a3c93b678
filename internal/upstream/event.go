// Package upstream models the realtime transcription wire protocol spoken
// with the cloud recognition backend.
//
// Inbound messages are parsed at the boundary into one variant per known
// event type. Anything else becomes Unknown so the translator can drop it
// explicitly instead of falling through.
package upstream

import (
	"errors"
	"fmt"
	"strings"

	"meetmind-asr-relay/internal/fields"
)

// Inbound event types.
const (
	TypeSessionCreated          = "session.created"
	TypeSessionUpdated          = "session.updated"
	TypeTranscriptionSessionUpd = "transcription_session.updated"
	TypeSpeechStarted           = "input_audio_buffer.speech_started"
	TypeSpeechStopped           = "input_audio_buffer.speech_stopped"
	TypeBufferCommitted         = "input_audio_buffer.committed"
	TypeItemCreated             = "conversation.item.created"
	TypeTranscriptionText       = "conversation.item.input_audio_transcription.text"
	TypeTranscriptionDelta      = "conversation.item.input_audio_transcription.delta"
	TypeTranscriptionCompleted  = "conversation.item.input_audio_transcription.completed"
	TypeTranscriptionFailed     = "conversation.item.input_audio_transcription.failed"
	TypeError                   = "error"
	TypeSessionFinished         = "session.finished"
)

// ErrMalformed is returned by Parse for payloads that are not a JSON object
// with a string "type" field.
var ErrMalformed = errors.New("malformed upstream message")

// Event is one parsed upstream message.
type Event interface {
	// Type returns the wire type string.
	Type() string
	// Fields returns the decoded message body.
	Fields() fields.Object
}

type base struct {
	typ string
	obj fields.Object
}

func (b base) Type() string          { return b.typ }
func (b base) Fields() fields.Object { return b.obj }

// SessionCreated is sent once the upstream accepted the connection.
type SessionCreated struct{ base }

// SessionUpdated acknowledges the configuration message.
type SessionUpdated struct{ base }

// SpeechStarted is the upstream's own VAD start marker.
type SpeechStarted struct{ base }

// SpeechStopped is the upstream's own VAD stop marker.
type SpeechStopped struct{ base }

// BufferCommitted acknowledges a commit.
type BufferCommitted struct{ base }

// ItemCreated marks a new conversation item.
type ItemCreated struct{ base }

// TranscriptionDelta carries non-final text.
type TranscriptionDelta struct{ base }

// TranscriptionCompleted carries a finalized transcription unit.
type TranscriptionCompleted struct{ base }

// TranscriptionFailed reports a failed item transcription.
type TranscriptionFailed struct{ base }

// Error is an upstream-reported recognition error.
type Error struct{ base }

// SessionFinished announces that the upstream will send nothing more.
type SessionFinished struct{ base }

// Unknown is any event type this relay does not know about.
type Unknown struct{ base }

// Parse decodes a raw upstream text frame.
func Parse(data []byte) (Event, error) {
	obj, err := fields.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: null payload", ErrMalformed)
	}
	typ, ok := obj["type"].(string)
	if !ok || strings.TrimSpace(typ) == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return New(typ, obj), nil
}

// New builds the variant for typ. Adapters that do not speak the JSON
// protocol use it to synthesize events.
func New(typ string, obj fields.Object) Event {
	if obj == nil {
		obj = fields.Object{}
	}
	b := base{typ: typ, obj: obj}

	switch typ {
	case TypeSessionCreated:
		return SessionCreated{b}
	case TypeSessionUpdated, TypeTranscriptionSessionUpd:
		return SessionUpdated{b}
	case TypeSpeechStarted:
		return SpeechStarted{b}
	case TypeSpeechStopped:
		return SpeechStopped{b}
	case TypeBufferCommitted:
		return BufferCommitted{b}
	case TypeItemCreated:
		return ItemCreated{b}
	case TypeTranscriptionText, TypeTranscriptionDelta:
		return TranscriptionDelta{b}
	case TypeTranscriptionCompleted:
		return TranscriptionCompleted{b}
	case TypeTranscriptionFailed:
		return TranscriptionFailed{b}
	case TypeError:
		return Error{b}
	case TypeSessionFinished:
		return SessionFinished{b}
	default:
		return Unknown{b}
	}
}
