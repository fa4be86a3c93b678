// Package timestamp assigns session-relative begin/end times to finalized
// recognition results.
//
// Four independent sources are tried in a fixed order and the first one that
// is available wins:
//
//	1. VAD event mode    - speech start/end reported by the client
//	2. VAD queue mode    - legacy queued {startMs, endMs} hints
//	3. Upstream-reported - begin/end fields on the completed event
//	4. Client elapsed    - previous result end .. time since session start
//
// Sources are never combined or averaged. Whatever source wins, the resolved
// end becomes the begin of the next elapsed-fallback result, which keeps the
// fallback gap-free even when sources change mid-session.
package timestamp

import (
	"fmt"
	"time"

	"meetmind-asr-relay/internal/fields"
)

// Source identifies which timestamp source resolved a result.
type Source int

const (
	SourceVADEvent Source = iota + 1
	SourceVADQueue
	SourceUpstream
	SourceElapsed
)

// String returns the metric/log label for the source.
func (s Source) String() string {
	switch s {
	case SourceVADEvent:
		return "vad_event"
	case SourceVADQueue:
		return "vad_queue"
	case SourceUpstream:
		return "upstream"
	case SourceElapsed:
		return "elapsed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Candidate field names for upstream-reported times, checked in order on the
// event itself and then on its nested result item.
var (
	BeginFields = []string{"begin_time", "beginTime", "start_time", "startTime", "start_ms", "audio_start_ms"}
	EndFields   = []string{"end_time", "endTime", "end_ms", "audio_end_ms"}
	ItemFields  = []string{"item", "result"}
)

// Resolution is the outcome of resolving one finalized result.
type Resolution struct {
	BeginMs int64
	EndMs   int64
	Source  Source
}

// Reconciler holds the per-session timing state. It is not safe for
// concurrent use; the owning session serializes access.
type Reconciler struct {
	vad       VoiceActivity
	startTime time.Time
	lastEnd   int64
	now       func() time.Time
}

// New creates a reconciler whose session clock starts now.
func New() *Reconciler {
	return NewWithClock(time.Now)
}

// NewWithClock creates a reconciler reading wall-clock time from now.
func NewWithClock(now func() time.Time) *Reconciler {
	if now == nil {
		now = time.Now
	}
	return &Reconciler{
		startTime: now(),
		now:       now,
	}
}

// Restart re-stamps the session start to the current time. The relay calls
// this when the upstream becomes ready; that instant is the zero point for
// every elapsed-time calculation afterwards.
func (r *Reconciler) Restart() {
	r.startTime = r.now()
}

// StartTime returns the current session zero point.
func (r *Reconciler) StartTime() time.Time {
	return r.startTime
}

// Elapsed returns milliseconds since the session zero point.
func (r *Reconciler) Elapsed() int64 {
	return r.now().Sub(r.startTime).Milliseconds()
}

// LastEnd returns the end time of the last resolved result.
func (r *Reconciler) LastEnd() int64 {
	return r.lastEnd
}

// VAD exposes the voice-activity state fed by client events.
func (r *Reconciler) VAD() *VoiceActivity {
	return &r.vad
}

// Resolve picks begin/end for a just-finalized result. event is the decoded
// upstream event and may be nil when the upstream carries no timing fields.
func (r *Reconciler) Resolve(event fields.Object) Resolution {
	res := r.resolve(event)
	r.lastEnd = res.EndMs
	return res
}

func (r *Reconciler) resolve(event fields.Object) Resolution {
	if start, ok := r.vad.takeSpeechStart(); ok {
		end := r.vad.lastSpeechEnd
		if end <= start {
			end = r.Elapsed()
		}
		if end < start {
			end = start
		}
		return Resolution{BeginMs: start, EndMs: end, Source: SourceVADEvent}
	}

	if span, ok := r.vad.dequeue(); ok {
		return Resolution{BeginMs: span.StartMs, EndMs: span.EndMs, Source: SourceVADQueue}
	}

	// A begin alone is not used: pairing it with an elapsed end would mix the
	// upstream's audio clock with the relay's wall clock.
	if end, ok := lookup(event, EndFields); ok {
		begin, ok := lookup(event, BeginFields)
		if !ok {
			begin = r.lastEnd
		}
		return Resolution{BeginMs: begin, EndMs: end, Source: SourceUpstream}
	}

	end := r.Elapsed()
	if end < r.lastEnd {
		end = r.lastEnd
	}
	return Resolution{BeginMs: r.lastEnd, EndMs: end, Source: SourceElapsed}
}

func lookup(event fields.Object, names []string) (int64, bool) {
	if v, ok := fields.FirstInt64(event, names); ok {
		return v, true
	}
	if item, ok := fields.Nested(event, ItemFields); ok {
		return fields.FirstInt64(item, names)
	}
	return 0, false
}
