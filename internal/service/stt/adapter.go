// Package stt defines the interface for upstream speech-recognition adapters.
package stt

import (
	"context"
	"errors"

	"meetmind-asr-relay/internal/upstream"
)

// ErrAdapterClosed is returned by operations on a closed adapter.
var ErrAdapterClosed = errors.New("stt adapter closed")

// Close codes reported through Callback.OnClosed.
const (
	CloseNormal   = 1000
	CloseAbnormal = 1006
)

// Callback receives upstream traffic for one relay session.
type Callback interface {
	// OnEvent is called for every parsed upstream event, in arrival order.
	OnEvent(ev upstream.Event)

	// OnMalformed is called for upstream payloads that could not be parsed.
	// The session keeps running.
	OnMalformed(raw []byte, err error)

	// OnClosed is called exactly once when the upstream connection ends.
	// err is nil for an orderly close.
	OnClosed(code int, err error)
}

// Adapter owns the outbound connection to a recognition backend
// (realtime websocket, Google Speech, mock, ...).
type Adapter interface {
	// Name returns the provider identifier.
	Name() string

	// Dial opens the connection. No events are delivered yet. If Close ran
	// while Dial was in flight, Dial releases what it opened and returns
	// ErrAdapterClosed.
	Dial(ctx context.Context) error

	// Start sends the capability configuration and begins delivering events
	// to cb. The backend's acknowledgment arrives as upstream.SessionUpdated.
	Start(ctx context.Context, cb Callback) error

	// SendAudio relays one audio chunk.
	SendAudio(ctx context.Context, audio []byte) error

	// Commit asks the backend to flush and finalize buffered audio.
	Commit(ctx context.Context) error

	// Close tears the connection down. It must not wait for in-flight
	// callbacks and is safe to call more than once.
	Close() error
}

// Factory creates a fresh adapter per relay session.
type Factory func() (Adapter, error)
