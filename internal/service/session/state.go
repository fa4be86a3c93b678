// Package session implements one client↔upstream relay session: the upstream
// lifecycle, pre-ready audio buffering, client control messages and teardown.
package session

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of the upstream connection.
type State int

const (
	// StateIdle - Session created, no upstream attempt yet.
	StateIdle State = iota
	// StateConnecting - Upstream dial in progress.
	StateConnecting
	// StateConfiguring - Connected, waiting for the configuration acknowledgment.
	StateConfiguring
	// StateReady - Audio flows straight to the upstream.
	StateReady
	// StateClosing - Stop or disconnect received, waiting for final results.
	StateClosing
	// StateClosed - Terminal.
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateConfiguring:
		return "CONFIGURING"
	case StateReady:
		return "READY"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if no further transitions are possible.
func (s State) IsTerminal() bool {
	return s == StateClosed
}

// Errors for invalid state transitions.
var (
	ErrSessionClosed     = errors.New("session is closed")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Lifecycle manages the upstream state machine for a single session.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	IDLE → CONNECTING → CONFIGURING → READY
//	            │             │          │
//	            └─────────────┴──────────┴──→ CLOSING → CLOSED
//
// Rules:
//   - Transitions only move forward; CLOSING and CLOSED are reachable from anywhere
//   - CLOSED is terminal; every further transition returns ErrSessionClosed
type Lifecycle struct {
	mu    sync.RWMutex
	state State
}

// NewLifecycle creates a lifecycle in IDLE state.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StateIdle}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// IsReady returns true if audio can be relayed directly.
func (l *Lifecycle) IsReady() bool {
	return l.State() == StateReady
}

// AcceptsAudio returns true while audio is either relayed or buffered.
func (l *Lifecycle) AcceptsAudio() bool {
	switch l.State() {
	case StateConnecting, StateConfiguring, StateReady:
		return true
	default:
		return false
	}
}

// Transition moves to next if the move is allowed.
func (l *Lifecycle) Transition(next State) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state.IsTerminal() {
		return ErrSessionClosed
	}

	switch next {
	case StateConnecting:
		if l.state != StateIdle {
			return fmt.Errorf("%w: %v → %v", ErrInvalidTransition, l.state, next)
		}
	case StateConfiguring:
		if l.state != StateConnecting {
			return fmt.Errorf("%w: %v → %v", ErrInvalidTransition, l.state, next)
		}
	case StateReady:
		if l.state != StateConfiguring {
			return fmt.Errorf("%w: %v → %v", ErrInvalidTransition, l.state, next)
		}
	case StateClosing, StateClosed:
		// Always allowed from a non-terminal state.
	default:
		return fmt.Errorf("%w: %v → %v", ErrInvalidTransition, l.state, next)
	}

	l.state = next
	return nil
}

// Close moves to CLOSED. Returns false if already closed.
func (l *Lifecycle) Close() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.IsTerminal() {
		return false
	}
	l.state = StateClosed
	return true
}
