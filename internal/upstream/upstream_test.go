package upstream

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
)

func TestParse_KnownTypes(t *testing.T) {
	tests := []struct {
		raw      string
		expected any
	}{
		{`{"type":"session.created"}`, SessionCreated{}},
		{`{"type":"session.updated"}`, SessionUpdated{}},
		{`{"type":"transcription_session.updated"}`, SessionUpdated{}},
		{`{"type":"input_audio_buffer.speech_started"}`, SpeechStarted{}},
		{`{"type":"input_audio_buffer.speech_stopped"}`, SpeechStopped{}},
		{`{"type":"input_audio_buffer.committed"}`, BufferCommitted{}},
		{`{"type":"conversation.item.created"}`, ItemCreated{}},
		{`{"type":"conversation.item.input_audio_transcription.text","text":"hi"}`, TranscriptionDelta{}},
		{`{"type":"conversation.item.input_audio_transcription.delta","delta":"hi"}`, TranscriptionDelta{}},
		{`{"type":"conversation.item.input_audio_transcription.completed","transcript":"hi"}`, TranscriptionCompleted{}},
		{`{"type":"conversation.item.input_audio_transcription.failed"}`, TranscriptionFailed{}},
		{`{"type":"error","error":{"message":"boom"}}`, Error{}},
		{`{"type":"session.finished"}`, SessionFinished{}},
		{`{"type":"response.brand_new"}`, Unknown{}},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			ev, err := Parse([]byte(tt.raw))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got, want := typeName(ev), typeName(tt.expected); got != want {
				t.Errorf("Parse() variant = %s, want %s", got, want)
			}
		})
	}
}

func typeName(v any) string {
	switch v.(type) {
	case SessionCreated:
		return "SessionCreated"
	case SessionUpdated:
		return "SessionUpdated"
	case SpeechStarted:
		return "SpeechStarted"
	case SpeechStopped:
		return "SpeechStopped"
	case BufferCommitted:
		return "BufferCommitted"
	case ItemCreated:
		return "ItemCreated"
	case TranscriptionDelta:
		return "TranscriptionDelta"
	case TranscriptionCompleted:
		return "TranscriptionCompleted"
	case TranscriptionFailed:
		return "TranscriptionFailed"
	case Error:
		return "Error"
	case SessionFinished:
		return "SessionFinished"
	case Unknown:
		return "Unknown"
	default:
		return "?"
	}
}

func TestParse_KeepsTypeAndFields(t *testing.T) {
	ev, err := Parse([]byte(`{"type":"response.brand_new","payload":{"x":1}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Type() != "response.brand_new" {
		t.Errorf("expected raw type preserved, got %s", ev.Type())
	}
	if _, ok := ev.Fields()["payload"]; !ok {
		t.Error("expected body fields preserved")
	}
}

func TestParse_Malformed(t *testing.T) {
	tests := []string{
		`not json`,
		`null`,
		`{"text":"no type"}`,
		`{"type":42}`,
		`{"type":"  "}`,
		`["session.updated"]`,
	}

	for _, raw := range tests {
		t.Run(raw, func(t *testing.T) {
			_, err := Parse([]byte(raw))
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestSessionUpdateMessage(t *testing.T) {
	data, err := SessionUpdateMessage("event_1", SessionConfig{
		Model:        "qwen3-asr-flash-realtime",
		Language:     "zh",
		AudioFormat:  "pcm",
		SampleRateHz: 16000,
		VADThreshold: 0.2,
		VADSilenceMs: 800,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var msg struct {
		EventID string `json:"event_id"`
		Type    string `json:"type"`
		Session struct {
			InputAudioFormat        string `json:"input_audio_format"`
			SampleRate              int    `json:"sample_rate"`
			InputAudioTranscription struct {
				Language string `json:"language"`
			} `json:"input_audio_transcription"`
			TurnDetection *struct {
				Type              string  `json:"type"`
				Threshold         float64 `json:"threshold"`
				SilenceDurationMs int     `json:"silence_duration_ms"`
			} `json:"turn_detection"`
		} `json:"session"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("invalid json: %v", err)
	}

	if msg.EventID != "event_1" || msg.Type != TypeSessionUpdate {
		t.Errorf("unexpected envelope: %+v", msg)
	}
	if msg.Session.InputAudioFormat != "pcm" || msg.Session.SampleRate != 16000 {
		t.Errorf("unexpected audio settings: %+v", msg.Session)
	}
	if msg.Session.InputAudioTranscription.Language != "zh" {
		t.Errorf("expected language zh, got %s", msg.Session.InputAudioTranscription.Language)
	}
	if msg.Session.TurnDetection == nil {
		t.Fatal("expected turn detection settings")
	}
	if msg.Session.TurnDetection.Threshold != 0.2 || msg.Session.TurnDetection.SilenceDurationMs != 800 {
		t.Errorf("unexpected VAD settings: %+v", msg.Session.TurnDetection)
	}
}

func TestSessionUpdateMessage_TurnDetectionDisabled(t *testing.T) {
	data, err := SessionUpdateMessage("event_1", SessionConfig{DisableTurnVAD: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var msg struct {
		Session map[string]any `json:"session"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if v, ok := msg.Session["turn_detection"]; !ok || v != nil {
		t.Errorf("expected explicit null turn_detection, got %v", v)
	}
}

func TestAppendAudioMessage(t *testing.T) {
	audio := []byte{0x00, 0x01, 0xfe, 0xff}

	data, err := AppendAudioMessage("event_7", audio)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var msg struct {
		EventID string `json:"event_id"`
		Type    string `json:"type"`
		Audio   string `json:"audio"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if msg.Type != TypeInputAudioAppend || msg.EventID != "event_7" {
		t.Errorf("unexpected envelope: %+v", msg)
	}
	decoded, err := base64.StdEncoding.DecodeString(msg.Audio)
	if err != nil {
		t.Fatalf("audio not base64: %v", err)
	}
	if string(decoded) != string(audio) {
		t.Errorf("audio mismatch: %v", decoded)
	}
}

func TestCommitMessage(t *testing.T) {
	commit, err := CommitMessage("event_3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(commit) != `{"event_id":"event_3","type":"input_audio_buffer.commit"}` {
		t.Errorf("unexpected commit message: %s", commit)
	}
}
