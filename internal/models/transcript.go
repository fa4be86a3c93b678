// Package models defines the client wire protocol and the transcript events
// published downstream.
package models

// TranscriptPartial represents an interim transcript published downstream.
type TranscriptPartial struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	Timestamp int64  `json:"timestamp"`
	Text      string `json:"text"`
}

// TranscriptFinal represents a finalized sentence published downstream.
type TranscriptFinal struct {
	EventType       string `json:"eventType"`
	SessionID       string `json:"sessionId"`
	Timestamp       int64  `json:"timestamp"`
	SentenceID      string `json:"sentenceId"`
	Text            string `json:"text"`
	BeginTimeMs     int64  `json:"beginTimeMs"`
	EndTimeMs       int64  `json:"endTimeMs"`
	TimestampSource string `json:"timestampSource"`
}

// Downstream event types.
const (
	EventTypeTranscriptPartial = "asr.transcript.partial"
	EventTypeTranscriptFinal   = "asr.transcript.final"
)
