package models

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeClientMessage(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected any
	}{
		{"vad start", `{"type":"vad-event","event":"start","timestampMs":1000}`, VADEvent{Start: true, TimestampMs: 1000}},
		{"vad end", `{"type":"vad-event","event":"end","timestampMs":4200.6}`, VADEvent{Start: false, TimestampMs: 4200}},
		{"vad timestamp", `{"type":"vad-timestamp","startMs":0,"endMs":1500}`, VADTimestamp{StartMs: 0, EndMs: 1500}},
		{"stop", `{"action":"stop"}`, StopRequest{}},
		{"unknown type", `{"type":"ping"}`, UnknownMessage{Type: "ping"}},
		{"unknown action", `{"action":"pause"}`, UnknownMessage{Action: "pause"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeClientMessage([]byte(tt.raw))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("DecodeClientMessage() = %#v, want %#v", got, tt.expected)
			}
		})
	}
}

func TestDecodeClientMessage_NotJSON(t *testing.T) {
	for _, raw := range [][]byte{[]byte("RIFF....WAVE"), {0x00, 0x01, 0x02}, []byte(`"text"`)} {
		_, err := DecodeClientMessage(raw)
		if !errors.Is(err, ErrNotJSON) {
			t.Errorf("expected ErrNotJSON for %q, got %v", raw, err)
		}
	}
}

func TestDecodeClientMessage_InvalidFields(t *testing.T) {
	tests := []string{
		`{"type":"vad-event","event":"start"}`,
		`{"type":"vad-event","event":"middle","timestampMs":1}`,
		`{"type":"vad-timestamp","startMs":1}`,
	}

	for _, raw := range tests {
		_, err := DecodeClientMessage([]byte(raw))
		if err == nil {
			t.Errorf("expected error for %s", raw)
		}
		if errors.Is(err, ErrNotJSON) {
			t.Errorf("valid JSON must not be reported as ErrNotJSON: %s", raw)
		}
	}
}

func TestClientEvent_WireFormat(t *testing.T) {
	tests := []struct {
		name     string
		event    ClientEvent
		expected string
	}{
		{"ready", Ready(), `{"event":"ready"}`},
		{"interim", Interim("hello"), `{"event":"interim","text":"hello"}`},
		{"error", Error("recognition error"), `{"event":"error","error":"recognition error"}`},
		{"finished", Finished(1000), `{"event":"finished","code":1000}`},
		{"closed", Closed(1006), `{"event":"closed","code":1006}`},
		{
			"result",
			Result(Sentence{ID: "s_1", Text: "你好", BeginTime: 1000, EndTime: 4200, IsFinal: true}),
			`{"event":"result","sentence":{"id":"s_1","text":"你好","beginTime":1000,"endTime":4200,"isFinal":true}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.event)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(data) != tt.expected {
				t.Errorf("got %s, want %s", data, tt.expected)
			}
		})
	}
}
