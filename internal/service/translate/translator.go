// Package translate maps upstream recognition events onto the small
// client-facing event vocabulary.
package translate

import (
	"github.com/rs/zerolog"

	"meetmind-asr-relay/internal/fields"
	"meetmind-asr-relay/internal/idgen"
	"meetmind-asr-relay/internal/models"
	"meetmind-asr-relay/internal/service/timestamp"
	"meetmind-asr-relay/internal/upstream"
)

// Candidate field names, checked in order.
var (
	InterimTextFields  = []string{"text", "delta", "transcript", "stash"}
	FinalTextFields    = []string{"transcript", "text"}
	ErrorObjectFields  = []string{"error"}
	ErrorMessageFields = []string{"message"}
)

// GenericErrorMessage is used when an upstream error carries no message.
const GenericErrorMessage = "recognition error"

// Translator converts upstream events for one session. Final results get
// their timing from the session's reconciler and their IDs from the
// session's sentence sequence. Not safe for concurrent use.
type Translator struct {
	reconciler *timestamp.Reconciler
	sentences  *idgen.Generator
	logger     zerolog.Logger
	last       timestamp.Resolution
}

// New creates a translator bound to a session's reconciler and sentence IDs.
func New(reconciler *timestamp.Reconciler, sentences *idgen.Generator, logger zerolog.Logger) *Translator {
	return &Translator{
		reconciler: reconciler,
		sentences:  sentences,
		logger:     logger,
	}
}

// Translate returns the client event for ev, or false when the client does
// not need to observe it.
func (t *Translator) Translate(ev upstream.Event) (models.ClientEvent, bool) {
	switch e := ev.(type) {
	case upstream.SessionUpdated:
		return models.Ready(), true

	case upstream.TranscriptionDelta:
		text, ok := fields.FirstString(e.Fields(), InterimTextFields)
		if !ok {
			t.logger.Debug().Str("type", e.Type()).Msg("Interim event without text dropped")
			return models.ClientEvent{}, false
		}
		return models.Interim(text), true

	case upstream.TranscriptionCompleted:
		return t.final(e)

	case upstream.TranscriptionFailed, upstream.Error:
		return models.Error(errorMessage(ev.Fields())), true

	case upstream.SessionFinished:
		return models.Finished(0), true

	case upstream.SessionCreated, upstream.SpeechStarted, upstream.SpeechStopped,
		upstream.BufferCommitted, upstream.ItemCreated:
		return models.ClientEvent{}, false

	case upstream.Unknown:
		t.logger.Warn().Str("type", e.Type()).Msg("Unknown upstream event type ignored")
		return models.ClientEvent{}, false

	default:
		t.logger.Warn().Msg("Unhandled upstream event variant ignored")
		return models.ClientEvent{}, false
	}
}

// LastResolution reports how the most recent final result was timed.
func (t *Translator) LastResolution() timestamp.Resolution {
	return t.last
}

func (t *Translator) final(e upstream.TranscriptionCompleted) (models.ClientEvent, bool) {
	text, ok := fields.FirstString(e.Fields(), FinalTextFields)
	if !ok {
		t.logger.Warn().Str("type", e.Type()).Msg("Completed event without text dropped")
		return models.ClientEvent{}, false
	}

	res := t.reconciler.Resolve(e.Fields())
	t.last = res

	sentence := models.Sentence{
		ID:        t.sentences.Next(),
		Text:      text,
		BeginTime: res.BeginMs,
		EndTime:   res.EndMs,
		IsFinal:   true,
	}

	t.logger.Debug().
		Str("sentenceId", sentence.ID).
		Int64("beginTime", sentence.BeginTime).
		Int64("endTime", sentence.EndTime).
		Str("timestampSource", res.Source.String()).
		Msg("Final result resolved")

	return models.Result(sentence), true
}

func errorMessage(obj fields.Object) string {
	if nested, ok := fields.Nested(obj, ErrorObjectFields); ok {
		if msg, ok := fields.FirstString(nested, ErrorMessageFields); ok {
			return msg
		}
	}
	if msg, ok := fields.FirstString(obj, ErrorMessageFields); ok {
		return msg
	}
	// Some upstreams send the error as a bare string.
	if msg, ok := fields.FirstString(obj, ErrorObjectFields); ok {
		return msg
	}
	return GenericErrorMessage
}
