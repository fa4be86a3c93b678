package session

import (
	"errors"
	"testing"
)

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateIdle, "IDLE"},
		{StateConnecting, "CONNECTING"},
		{StateConfiguring, "CONFIGURING"},
		{StateReady, "READY"},
		{StateClosing, "CLOSING"},
		{StateClosed, "CLOSED"},
		{State(99), "UNKNOWN(99)"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("State(%d).String() = %s, want %s", tt.state, got, tt.expected)
		}
	}
}

func TestLifecycle_HappyPath(t *testing.T) {
	l := NewLifecycle()

	steps := []State{StateConnecting, StateConfiguring, StateReady, StateClosing, StateClosed}
	for _, next := range steps {
		if err := l.Transition(next); err != nil {
			t.Fatalf("transition to %v failed: %v", next, err)
		}
		if l.State() != next {
			t.Fatalf("expected %v, got %v", next, l.State())
		}
	}
	if !l.State().IsTerminal() {
		t.Error("expected terminal state")
	}
}

func TestLifecycle_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name  string
		setup []State
		next  State
	}{
		{"skip connecting", nil, StateConfiguring},
		{"ready before configuring", []State{StateConnecting}, StateReady},
		{"back to connecting", []State{StateConnecting, StateConfiguring}, StateConnecting},
		{"ready after closing", []State{StateConnecting, StateConfiguring, StateClosing}, StateReady},
		{"back to idle", []State{StateConnecting}, StateIdle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLifecycle()
			for _, s := range tt.setup {
				if err := l.Transition(s); err != nil {
					t.Fatalf("setup transition to %v failed: %v", s, err)
				}
			}
			if err := l.Transition(tt.next); !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("expected ErrInvalidTransition, got %v", err)
			}
		})
	}
}

func TestLifecycle_ClosingFromAnyState(t *testing.T) {
	for _, setup := range [][]State{
		nil,
		{StateConnecting},
		{StateConnecting, StateConfiguring},
		{StateConnecting, StateConfiguring, StateReady},
	} {
		l := NewLifecycle()
		for _, s := range setup {
			l.Transition(s)
		}
		if err := l.Transition(StateClosing); err != nil {
			t.Errorf("closing from %v failed: %v", l.State(), err)
		}
	}
}

func TestLifecycle_ClosedIsTerminal(t *testing.T) {
	l := NewLifecycle()

	if !l.Close() {
		t.Fatal("expected first close to succeed")
	}
	if l.Close() {
		t.Error("expected second close to report already closed")
	}
	if err := l.Transition(StateClosing); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}
}

func TestLifecycle_AcceptsAudio(t *testing.T) {
	l := NewLifecycle()
	if l.AcceptsAudio() {
		t.Error("IDLE should not accept audio")
	}
	l.Transition(StateConnecting)
	if !l.AcceptsAudio() || l.IsReady() {
		t.Error("CONNECTING should buffer audio")
	}
	l.Transition(StateConfiguring)
	l.Transition(StateReady)
	if !l.AcceptsAudio() || !l.IsReady() {
		t.Error("READY should relay audio")
	}
	l.Transition(StateClosing)
	if l.AcceptsAudio() {
		t.Error("CLOSING should not accept audio")
	}
}
