// Package schema validates transcript events before they leave the service.
package schema

import (
	"errors"
	"fmt"
	"strings"

	"meetmind-asr-relay/internal/models"
)

// ErrInvalidEvent wraps every validation failure.
var ErrInvalidEvent = errors.New("invalid transcript event")

// Validator checks the required fields of downstream transcript events.
type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate accepts TranscriptPartial and TranscriptFinal values or pointers.
// Any other type is rejected.
func (v *Validator) Validate(event any) error {
	switch ev := event.(type) {
	case models.TranscriptPartial:
		return v.validatePartial(&ev)
	case *models.TranscriptPartial:
		if ev == nil {
			return fmt.Errorf("%w: nil partial", ErrInvalidEvent)
		}
		return v.validatePartial(ev)
	case models.TranscriptFinal:
		return v.validateFinal(&ev)
	case *models.TranscriptFinal:
		if ev == nil {
			return fmt.Errorf("%w: nil final", ErrInvalidEvent)
		}
		return v.validateFinal(ev)
	default:
		return fmt.Errorf("%w: unsupported type %T", ErrInvalidEvent, event)
	}
}

func (v *Validator) validatePartial(ev *models.TranscriptPartial) error {
	var missing []string
	if ev.EventType != models.EventTypeTranscriptPartial {
		return fmt.Errorf("%w: eventType %q", ErrInvalidEvent, ev.EventType)
	}
	if ev.SessionID == "" {
		missing = append(missing, "sessionId")
	}
	if ev.Timestamp <= 0 {
		missing = append(missing, "timestamp")
	}
	return missingErr(missing)
}

func (v *Validator) validateFinal(ev *models.TranscriptFinal) error {
	var missing []string
	if ev.EventType != models.EventTypeTranscriptFinal {
		return fmt.Errorf("%w: eventType %q", ErrInvalidEvent, ev.EventType)
	}
	if ev.SessionID == "" {
		missing = append(missing, "sessionId")
	}
	if ev.Timestamp <= 0 {
		missing = append(missing, "timestamp")
	}
	if ev.SentenceID == "" {
		missing = append(missing, "sentenceId")
	}
	if ev.TimestampSource == "" {
		missing = append(missing, "timestampSource")
	}
	if err := missingErr(missing); err != nil {
		return err
	}
	if ev.BeginTimeMs < 0 || ev.EndTimeMs < ev.BeginTimeMs {
		return fmt.Errorf("%w: time range [%d, %d]", ErrInvalidEvent, ev.BeginTimeMs, ev.EndTimeMs)
	}
	return nil
}

func missingErr(missing []string) error {
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("%w: missing %s", ErrInvalidEvent, strings.Join(missing, ", "))
}
