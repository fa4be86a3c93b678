package upstream

import (
	"encoding/base64"
	"encoding/json"
)

// Outbound message types.
const (
	TypeSessionUpdate      = "session.update"
	TypeInputAudioAppend   = "input_audio_buffer.append"
	TypeInputAudioCommit   = "input_audio_buffer.commit"
	TurnDetectionServerVAD = "server_vad"
)

// SessionConfig is the capability configuration sent once after connect.
type SessionConfig struct {
	Model          string
	Language       string
	AudioFormat    string
	SampleRateHz   int
	VADThreshold   float64
	VADSilenceMs   int
	DisableTurnVAD bool
}

type sessionUpdate struct {
	EventID string        `json:"event_id"`
	Type    string        `json:"type"`
	Session sessionFields `json:"session"`
}

type sessionFields struct {
	Modalities              []string               `json:"modalities"`
	InputAudioFormat        string                 `json:"input_audio_format"`
	SampleRate              int                    `json:"sample_rate"`
	InputAudioTranscription transcriptionFields    `json:"input_audio_transcription"`
	TurnDetection           *turnDetectionSettings `json:"turn_detection"`
}

type transcriptionFields struct {
	Model    string `json:"model,omitempty"`
	Language string `json:"language,omitempty"`
}

type turnDetectionSettings struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

type audioAppend struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Audio   string `json:"audio"`
}

type control struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
}

// SessionUpdateMessage encodes the configuration message.
func SessionUpdateMessage(eventID string, cfg SessionConfig) ([]byte, error) {
	msg := sessionUpdate{
		EventID: eventID,
		Type:    TypeSessionUpdate,
		Session: sessionFields{
			Modalities:       []string{"text"},
			InputAudioFormat: cfg.AudioFormat,
			SampleRate:       cfg.SampleRateHz,
			InputAudioTranscription: transcriptionFields{
				Model:    cfg.Model,
				Language: cfg.Language,
			},
		},
	}
	if !cfg.DisableTurnVAD {
		msg.Session.TurnDetection = &turnDetectionSettings{
			Type:              TurnDetectionServerVAD,
			Threshold:         cfg.VADThreshold,
			SilenceDurationMs: cfg.VADSilenceMs,
		}
	}
	return json.Marshal(msg)
}

// AppendAudioMessage wraps an audio chunk in a base64 JSON envelope.
func AppendAudioMessage(eventID string, audio []byte) ([]byte, error) {
	return json.Marshal(audioAppend{
		EventID: eventID,
		Type:    TypeInputAudioAppend,
		Audio:   base64.StdEncoding.EncodeToString(audio),
	})
}

// CommitMessage asks the upstream to flush and finalize buffered audio.
func CommitMessage(eventID string) ([]byte, error) {
	return json.Marshal(control{EventID: eventID, Type: TypeInputAudioCommit})
}
