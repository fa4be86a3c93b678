package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"meetmind-asr-relay/internal/service/stt"
	"meetmind-asr-relay/internal/upstream"
)

type recorder struct {
	events    chan upstream.Event
	malformed chan []byte
	closed    chan int
}

func newRecorder() *recorder {
	return &recorder{
		events:    make(chan upstream.Event, 16),
		malformed: make(chan []byte, 16),
		closed:    make(chan int, 1),
	}
}

func (r *recorder) OnEvent(ev upstream.Event)         { r.events <- ev }
func (r *recorder) OnMalformed(raw []byte, err error) { r.malformed <- raw }
func (r *recorder) OnClosed(code int, err error)      { r.closed <- code }

type frame struct {
	messageType int
	data        []byte
}

// fakeUpstream accepts one websocket, records what the relay sends and lets
// the test push events back.
type fakeUpstream struct {
	server   *httptest.Server
	headers  chan http.Header
	query    chan string
	received chan frame
	send     chan string
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()
	f := &fakeUpstream{
		headers:  make(chan http.Header, 1),
		query:    make(chan string, 1),
		received: make(chan frame, 32),
		send:     make(chan string, 16),
	}
	upgrader := websocket.Upgrader{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.headers <- r.Header.Clone()
		f.query <- r.URL.Query().Get("model")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		go func() {
			for msg := range f.send {
				if msg == "" {
					_ = conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
				if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
					return
				}
			}
		}()

		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			f.received <- frame{messageType: mt, data: data}
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeUpstream) url() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http")
}

func (f *fakeUpstream) next(t *testing.T) frame {
	t.Helper()
	select {
	case fr := <-f.received:
		return fr
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for upstream frame")
		return frame{}
	}
}

func testConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.APIKey = "sk-test"
	return cfg
}

func TestDial_SendsCredentialHeader(t *testing.T) {
	f := newFakeUpstream(t)
	a := New(testConfig(f.url()), zerolog.Nop())
	defer a.Close()

	if err := a.Dial(context.Background()); err != nil {
		t.Fatalf("dial failed: %v", err)
	}

	h := <-f.headers
	if got := h.Get("Authorization"); got != "Bearer sk-test" {
		t.Errorf("expected bearer header, got %q", got)
	}
	if got := <-f.query; got != "qwen3-asr-flash-realtime" {
		t.Errorf("expected model query param, got %q", got)
	}
}

func TestDial_Refused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	}))
	defer server.Close()

	a := New(testConfig("ws"+strings.TrimPrefix(server.URL, "http")), zerolog.Nop())
	err := a.Dial(context.Background())
	if err == nil {
		t.Fatal("expected dial error")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("expected status in error, got %v", err)
	}
}

func TestStart_SendsSessionUpdateThenDeliversEvents(t *testing.T) {
	f := newFakeUpstream(t)
	a := New(testConfig(f.url()), zerolog.Nop())
	defer a.Close()
	rec := newRecorder()

	if err := a.Dial(context.Background()); err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	if err := a.Start(context.Background(), rec); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	fr := f.next(t)
	var msg struct {
		EventID string `json:"event_id"`
		Type    string `json:"type"`
	}
	if err := json.Unmarshal(fr.data, &msg); err != nil {
		t.Fatalf("invalid session.update: %v", err)
	}
	if msg.Type != upstream.TypeSessionUpdate || msg.EventID != "event_1" {
		t.Errorf("unexpected first message: %+v", msg)
	}

	f.send <- `{"type":"session.updated"}`
	f.send <- `not json`

	select {
	case ev := <-rec.events:
		if _, ok := ev.(upstream.SessionUpdated); !ok {
			t.Errorf("expected SessionUpdated, got %T", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}

	select {
	case raw := <-rec.malformed:
		if string(raw) != "not json" {
			t.Errorf("unexpected malformed payload %q", raw)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("malformed payload not reported")
	}
}

func TestSendAudio_Transports(t *testing.T) {
	audio := []byte{1, 2, 3, 4}

	t.Run("base64", func(t *testing.T) {
		f := newFakeUpstream(t)
		a := New(testConfig(f.url()), zerolog.Nop())
		defer a.Close()
		if err := a.Dial(context.Background()); err != nil {
			t.Fatalf("dial failed: %v", err)
		}
		if err := a.SendAudio(context.Background(), audio); err != nil {
			t.Fatalf("send failed: %v", err)
		}

		fr := f.next(t)
		if fr.messageType != websocket.TextMessage {
			t.Fatalf("expected text frame, got %d", fr.messageType)
		}
		var msg struct {
			Type  string `json:"type"`
			Audio string `json:"audio"`
		}
		if err := json.Unmarshal(fr.data, &msg); err != nil {
			t.Fatalf("invalid append: %v", err)
		}
		decoded, _ := base64.StdEncoding.DecodeString(msg.Audio)
		if msg.Type != upstream.TypeInputAudioAppend || string(decoded) != string(audio) {
			t.Errorf("unexpected append: %+v", msg)
		}
	})

	t.Run("binary", func(t *testing.T) {
		f := newFakeUpstream(t)
		cfg := testConfig(f.url())
		cfg.Transport = TransportBinary
		a := New(cfg, zerolog.Nop())
		defer a.Close()
		if err := a.Dial(context.Background()); err != nil {
			t.Fatalf("dial failed: %v", err)
		}
		if err := a.SendAudio(context.Background(), audio); err != nil {
			t.Fatalf("send failed: %v", err)
		}

		fr := f.next(t)
		if fr.messageType != websocket.BinaryMessage || string(fr.data) != string(audio) {
			t.Errorf("expected raw binary audio, got %d %v", fr.messageType, fr.data)
		}
	})
}

func TestCommit(t *testing.T) {
	f := newFakeUpstream(t)
	a := New(testConfig(f.url()), zerolog.Nop())
	defer a.Close()
	if err := a.Dial(context.Background()); err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	if err := a.Commit(context.Background()); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	fr := f.next(t)
	if !strings.Contains(string(fr.data), upstream.TypeInputAudioCommit) {
		t.Errorf("expected commit, got %s", fr.data)
	}
}

func TestUpstreamClose_ReportsOnce(t *testing.T) {
	f := newFakeUpstream(t)
	a := New(testConfig(f.url()), zerolog.Nop())
	defer a.Close()
	rec := newRecorder()

	if err := a.Dial(context.Background()); err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	if err := a.Start(context.Background(), rec); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	f.send <- ""

	select {
	case code := <-rec.closed:
		if code != websocket.CloseNormalClosure {
			t.Errorf("expected normal close, got %d", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnClosed not called")
	}
}

func TestClose_Idempotent(t *testing.T) {
	f := newFakeUpstream(t)
	a := New(testConfig(f.url()), zerolog.Nop())
	rec := newRecorder()

	if err := a.Dial(context.Background()); err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	if err := a.Start(context.Background(), rec); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	_ = a.Close()
	if err := a.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
	if err := a.SendAudio(context.Background(), []byte{1}); err != stt.ErrAdapterClosed {
		t.Errorf("expected ErrAdapterClosed, got %v", err)
	}

	select {
	case <-rec.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("OnClosed not called after local close")
	}
}

func TestClose_BeforeDial(t *testing.T) {
	a := New(DefaultConfig(), zerolog.Nop())
	if err := a.Close(); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestClose_DuringDialReleasesConnection(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	gone := make(chan struct{})
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				close(gone)
				return
			}
		}
	}))
	defer server.Close()

	a := New(testConfig("ws"+strings.TrimPrefix(server.URL, "http")), zerolog.Nop())
	dialed := make(chan error, 1)
	go func() { dialed <- a.Dial(context.Background()) }()

	<-entered
	if err := a.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	close(release)

	select {
	case err := <-dialed:
		if err != stt.ErrAdapterClosed {
			t.Errorf("expected ErrAdapterClosed from late dial, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dial did not return")
	}

	select {
	case <-gone:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream connection left open after close")
	}
	if err := a.SendAudio(context.Background(), []byte{1}); err != stt.ErrAdapterClosed {
		t.Errorf("expected ErrAdapterClosed, got %v", err)
	}
}

func TestStart_TurnDetectionDisabled(t *testing.T) {
	f := newFakeUpstream(t)
	cfg := testConfig(f.url())
	cfg.DisableTurnVAD = true
	a := New(cfg, zerolog.Nop())
	defer a.Close()

	if err := a.Dial(context.Background()); err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	if err := a.Start(context.Background(), newRecorder()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	var msg struct {
		Session map[string]any `json:"session"`
	}
	if err := json.Unmarshal(f.next(t).data, &msg); err != nil {
		t.Fatalf("invalid session.update: %v", err)
	}
	if v, ok := msg.Session["turn_detection"]; !ok || v != nil {
		t.Errorf("expected null turn_detection, got %v", v)
	}
}
