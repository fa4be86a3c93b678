package timestamp

// Span is a queued {startMs, endMs} hint from the legacy vad-timestamp message.
type Span struct {
	StartMs int64
	EndMs   int64
}

// VoiceActivity tracks client-reported speech boundaries for one session.
//
// speechStart is consumed (read then cleared) by at most one finalized
// result: it marks the segment that produced the result being finalized.
type VoiceActivity struct {
	speechStart    int64
	hasSpeechStart bool
	lastSpeechEnd  int64
	queue          []Span
}

// SpeechStarted records a client VAD "start" event.
func (v *VoiceActivity) SpeechStarted(ms int64) {
	v.speechStart = ms
	v.hasSpeechStart = true
}

// SpeechEnded records a client VAD "end" event.
func (v *VoiceActivity) SpeechEnded(ms int64) {
	v.lastSpeechEnd = ms
}

// Enqueue appends a legacy timestamp hint.
func (v *VoiceActivity) Enqueue(span Span) {
	v.queue = append(v.queue, span)
}

// SpeechStart returns the pending speech start, if any, without consuming it.
func (v *VoiceActivity) SpeechStart() (int64, bool) {
	return v.speechStart, v.hasSpeechStart
}

// LastSpeechEnd returns the most recent VAD "end" timestamp.
func (v *VoiceActivity) LastSpeechEnd() int64 {
	return v.lastSpeechEnd
}

// Queued returns the number of pending legacy hints.
func (v *VoiceActivity) Queued() int {
	return len(v.queue)
}

// Reset discards all voice-activity state.
func (v *VoiceActivity) Reset() {
	*v = VoiceActivity{}
}

func (v *VoiceActivity) takeSpeechStart() (int64, bool) {
	if !v.hasSpeechStart {
		return 0, false
	}
	ms := v.speechStart
	v.speechStart = 0
	v.hasSpeechStart = false
	return ms, true
}

func (v *VoiceActivity) dequeue() (Span, bool) {
	if len(v.queue) == 0 {
		return Span{}, false
	}
	span := v.queue[0]
	v.queue[0] = Span{}
	v.queue = v.queue[1:]
	return span, true
}
