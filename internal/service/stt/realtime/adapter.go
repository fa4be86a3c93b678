// Package realtime provides an stt.Adapter for OpenAI-realtime-compatible
// transcription endpoints (DashScope Qwen ASR realtime and similar).
//
// Browsers cannot attach an Authorization header to a websocket handshake,
// which is why the relay owns this connection instead of the client.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"meetmind-asr-relay/internal/idgen"
	"meetmind-asr-relay/internal/service/stt"
	"meetmind-asr-relay/internal/upstream"
)

// Audio transports.
const (
	TransportBase64 = "base64"
	TransportBinary = "binary"
)

// Config holds the realtime endpoint settings.
type Config struct {
	URL              string
	APIKey           string
	Model            string
	Language         string
	AudioFormat      string
	SampleRateHz     int
	DisableTurnVAD   bool
	VADThreshold     float64
	VADSilenceMs     int
	Transport        string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// DefaultConfig returns defaults for the DashScope realtime endpoint.
func DefaultConfig() Config {
	return Config{
		URL:              "wss://dashscope.aliyuncs.com/api-ws/v1/realtime",
		Model:            "qwen3-asr-flash-realtime",
		Language:         "zh",
		AudioFormat:      "pcm",
		SampleRateHz:     16000,
		VADThreshold:     0.2,
		VADSilenceMs:     800,
		Transport:        TransportBase64,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
	}
}

// Adapter implements stt.Adapter over a gorilla websocket.
type Adapter struct {
	cfg    Config
	dialer *websocket.Dialer
	events *idgen.Generator
	logger zerolog.Logger

	mu      sync.Mutex // guards conn against closed
	conn    *websocket.Conn
	writeMu sync.Mutex
	closed  atomic.Bool
}

// New creates a realtime adapter. Each relay session needs its own.
func New(cfg Config, logger zerolog.Logger) *Adapter {
	return &Adapter{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		events: idgen.New("event"),
		logger: logger,
	}
}

// Name returns the provider identifier.
func (a *Adapter) Name() string {
	return "realtime"
}

// Dial opens the websocket with the API key attached as a handshake header.
func (a *Adapter) Dial(ctx context.Context) error {
	endpoint, err := endpointURL(a.cfg.URL, a.cfg.Model)
	if err != nil {
		return err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+a.cfg.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := a.dialer.DialContext(ctx, endpoint, headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			if len(body) > 0 {
				return fmt.Errorf("upstream connect (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
			}
			return fmt.Errorf("upstream connect: status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("upstream connect: %w", err)
	}

	a.mu.Lock()
	if a.closed.Load() {
		a.mu.Unlock()
		_ = conn.Close()
		return stt.ErrAdapterClosed
	}
	a.conn = conn
	a.mu.Unlock()

	a.logger.Debug().Str("url", a.cfg.URL).Str("model", a.cfg.Model).Msg("Upstream connection opened")
	return nil
}

// Start sends session.update and begins reading upstream events.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	conn := a.connection()
	if conn == nil {
		return fmt.Errorf("start before dial")
	}

	msg, err := upstream.SessionUpdateMessage(a.events.Next(), upstream.SessionConfig{
		Model:          a.cfg.Model,
		Language:       a.cfg.Language,
		AudioFormat:    a.cfg.AudioFormat,
		SampleRateHz:   a.cfg.SampleRateHz,
		VADThreshold:   a.cfg.VADThreshold,
		VADSilenceMs:   a.cfg.VADSilenceMs,
		DisableTurnVAD: a.cfg.DisableTurnVAD,
	})
	if err != nil {
		return fmt.Errorf("encode session.update: %w", err)
	}
	if err := a.write(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("send session.update: %w", err)
	}

	go a.readLoop(conn, cb)
	return nil
}

// SendAudio relays one chunk using the configured transport.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	if a.cfg.Transport == TransportBinary {
		return a.write(websocket.BinaryMessage, audio)
	}
	msg, err := upstream.AppendAudioMessage(a.events.Next(), audio)
	if err != nil {
		return fmt.Errorf("encode audio append: %w", err)
	}
	return a.write(websocket.TextMessage, msg)
}

// Commit sends input_audio_buffer.commit.
func (a *Adapter) Commit(ctx context.Context) error {
	msg, err := upstream.CommitMessage(a.events.Next())
	if err != nil {
		return fmt.Errorf("encode commit: %w", err)
	}
	return a.write(websocket.TextMessage, msg)
}

// Close sends a close frame and drops the connection. The read loop notices
// and reports OnClosed. A Dial still in flight releases its connection
// itself once it sees the adapter closed.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed.Swap(true) {
		a.mu.Unlock()
		return nil
	}
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return nil
	}

	a.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	a.writeMu.Unlock()

	return conn.Close()
}

func (a *Adapter) connection() *websocket.Conn {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn
}

func (a *Adapter) write(messageType int, data []byte) error {
	conn := a.connection()
	if a.closed.Load() || conn == nil {
		return stt.ErrAdapterClosed
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	if a.cfg.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(a.cfg.WriteTimeout)); err != nil {
			return err
		}
	}
	return conn.WriteMessage(messageType, data)
}

func (a *Adapter) readLoop(conn *websocket.Conn, cb stt.Callback) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			code, cause := closeStatus(err, a.closed.Load())
			cb.OnClosed(code, cause)
			return
		}

		if messageType != websocket.TextMessage {
			cb.OnMalformed(data, fmt.Errorf("%w: unexpected binary frame", upstream.ErrMalformed))
			continue
		}

		ev, err := upstream.Parse(data)
		if err != nil {
			cb.OnMalformed(data, err)
			continue
		}
		cb.OnEvent(ev)
	}
}

// closeStatus maps a read error to a close code and an error worth
// surfacing. Orderly closes and closes we initiated report no error.
func closeStatus(err error, closedLocally bool) (int, error) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
			return ce.Code, nil
		default:
			if closedLocally {
				return ce.Code, nil
			}
			return ce.Code, fmt.Errorf("upstream closed: %w", err)
		}
	}
	if closedLocally {
		return stt.CloseNormal, nil
	}
	return stt.CloseAbnormal, fmt.Errorf("upstream read: %w", err)
}

func endpointURL(raw, model string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse upstream url: %w", err)
	}
	if model != "" {
		q := u.Query()
		if q.Get("model") == "" {
			q.Set("model", model)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
