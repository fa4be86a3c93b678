package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"meetmind-asr-relay/internal/models"
	"meetmind-asr-relay/internal/service/session"
	"meetmind-asr-relay/internal/service/sessions"
	"meetmind-asr-relay/internal/service/stt"
	"meetmind-asr-relay/internal/service/stt/mock"
)

const testPath = "/ws/asr"

// fallbackRecorder stands in for the framework handler.
type fallbackRecorder struct {
	mu       sync.Mutex
	paths    []string
	upgrades []string
}

func (f *fallbackRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.paths = append(f.paths, r.URL.Path)
	f.upgrades = append(f.upgrades, r.Header.Get("Upgrade"))
	f.mu.Unlock()
	w.WriteHeader(http.StatusTeapot)
	_, _ = w.Write([]byte("framework"))
}

func (f *fallbackRecorder) calls() ([]string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.paths...), append([]string{}, f.upgrades...)
}

type testEnv struct {
	server    *httptest.Server
	acceptor  *Acceptor
	fallback  *fallbackRecorder
	factories atomic.Int64
}

func newTestEnv(t *testing.T, mutate func(*Options)) *testEnv {
	t.Helper()
	env := &testEnv{fallback: &fallbackRecorder{}}

	opts := Options{
		Path:          testPath,
		HasCredential: func() bool { return true },
		Factory: func() (stt.Adapter, error) {
			env.factories.Add(1)
			return mock.New(mock.Config{Delay: time.Millisecond}), nil
		},
		Tracker:  sessions.NewTracker(),
		Fallback: env.fallback,
		Session: session.Config{
			StopGrace:        time.Second,
			DisconnectGrace:  50 * time.Millisecond,
			MaxBufferedBytes: 1024 * 1024,
		},
		WriteTimeout: time.Second,
		ReadLimit:    1024 * 1024,
	}
	if mutate != nil {
		mutate(&opts)
	}

	env.acceptor = NewAcceptor(opts)
	env.server = httptest.NewServer(env.acceptor)
	t.Cleanup(env.server.Close)
	return env
}

func (e *testEnv) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(e.server.URL, "http") + path
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(e.wsURL(testPath), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) models.ClientEvent {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	mt, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if mt != websocket.TextMessage {
		t.Fatalf("expected text frame, got %d", mt)
	}
	var ev models.ClientEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("invalid event %s: %v", data, err)
	}
	return ev
}

func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := conn.ReadMessage()
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		t.Fatalf("expected close error, got %v", err)
	}
	if ce.Code != code {
		t.Errorf("expected close code %d, got %d", code, ce.Code)
	}
}

func TestAcceptor_DelegatesNonASRTraffic(t *testing.T) {
	env := newTestEnv(t, nil)

	// Plain HTTP on the ASR path.
	resp, err := http.Get(env.server.URL + testPath)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTeapot {
		t.Errorf("expected fallback status, got %d", resp.StatusCode)
	}

	// Upgrade on a framework path, e.g. live reload.
	_, resp, err = websocket.DefaultDialer.Dial(env.wsURL("/_live"), nil)
	if !errors.Is(err, websocket.ErrBadHandshake) {
		t.Fatalf("expected bad handshake from fallback, got %v", err)
	}
	if resp.StatusCode != http.StatusTeapot {
		t.Errorf("expected fallback status, got %d", resp.StatusCode)
	}

	paths, upgrades := env.fallback.calls()
	if len(paths) != 2 || paths[0] != testPath || paths[1] != "/_live" {
		t.Errorf("unexpected fallback paths %v", paths)
	}
	if upgrades[1] != "websocket" {
		t.Errorf("expected upgrade header to reach fallback unmodified, got %q", upgrades[1])
	}
	if env.factories.Load() != 0 {
		t.Errorf("expected no sessions, got %d adapter creations", env.factories.Load())
	}
}

func TestAcceptor_MissingCredential(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.HasCredential = func() bool { return false }
	})

	conn := env.dial(t)

	ev := readEvent(t, conn)
	if ev.Event != models.EventError || ev.Error != MsgMissingCredential {
		t.Errorf("expected credential error, got %+v", ev)
	}
	expectClose(t, conn, websocket.ClosePolicyViolation)

	if env.factories.Load() != 0 {
		t.Errorf("expected zero upstream attempts, got %d", env.factories.Load())
	}
	if env.acceptor.Tracker().Count() != 0 {
		t.Error("expected no tracked session")
	}
}

func TestAcceptor_AdapterFactoryError(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.Factory = func() (stt.Adapter, error) { return nil, errors.New("boom") }
	})

	conn := env.dial(t)
	ev := readEvent(t, conn)
	if ev.Event != models.EventError || ev.Error != MsgAdapterFailed {
		t.Errorf("expected adapter error, got %+v", ev)
	}
	expectClose(t, conn, websocket.ClosePolicyViolation)
}

func TestAcceptor_RelaySession(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := env.dial(t)

	// Sent before the upstream is ready, so buffered and flushed in order.
	for i := 0; i < 4; i++ {
		if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 320)); err != nil {
			t.Fatalf("write audio failed: %v", err)
		}
	}

	if ev := readEvent(t, conn); ev.Event != models.EventReady {
		t.Fatalf("expected ready first, got %+v", ev)
	}

	var names []string
	var result *models.Sentence
	for len(names) < 4 {
		ev := readEvent(t, conn)
		names = append(names, ev.Event)
		if ev.Event == models.EventResult {
			result = ev.Sentence
		}
	}
	want := []string{models.EventInterim, models.EventInterim, models.EventInterim, models.EventResult}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, names)
		}
	}
	if result == nil || !result.IsFinal || result.ID != "sentence_1" {
		t.Errorf("unexpected result sentence %+v", result)
	}
	if result != nil && result.EndTime < result.BeginTime {
		t.Errorf("end %d before begin %d", result.EndTime, result.BeginTime)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"stop"}`)); err != nil {
		t.Fatalf("write stop failed: %v", err)
	}

	finished := readEvent(t, conn)
	closed := readEvent(t, conn)
	if finished.Event != models.EventFinished || closed.Event != models.EventClosed {
		t.Fatalf("expected finished then closed, got %s, %s", finished.Event, closed.Event)
	}
	if closed.Code == nil || *closed.Code != stt.CloseNormal {
		t.Errorf("expected close code 1000, got %v", closed.Code)
	}
	expectClose(t, conn, websocket.CloseNormalClosure)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if !env.acceptor.Tracker().Wait(ctx) {
		t.Error("expected session to unregister")
	}
}

func TestAcceptor_ClientDisconnectEndsSession(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := env.dial(t)

	if ev := readEvent(t, conn); ev.Event != models.EventReady {
		t.Fatalf("expected ready, got %+v", ev)
	}
	if env.acceptor.Tracker().Count() != 1 {
		t.Fatalf("expected one tracked session, got %d", env.acceptor.Tracker().Count())
	}

	conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if !env.acceptor.Tracker().Wait(ctx) {
		t.Fatal("expected session to end after client disconnect")
	}
}

func TestAcceptor_DrainStopsSessionsAndRejectsNew(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := env.dial(t)

	if ev := readEvent(t, conn); ev.Event != models.EventReady {
		t.Fatalf("expected ready, got %+v", ev)
	}

	if n := env.acceptor.Tracker().Drain(); n != 1 {
		t.Fatalf("expected one session asked to stop, got %d", n)
	}

	finished := readEvent(t, conn)
	if finished.Event != models.EventFinished {
		t.Errorf("expected finished after drain, got %+v", finished)
	}

	_, resp, err := websocket.DefaultDialer.Dial(env.wsURL(testPath), nil)
	if !errors.Is(err, websocket.ErrBadHandshake) {
		t.Fatalf("expected handshake refusal while draining, got %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", resp.StatusCode)
	}
}

func TestAcceptor_OriginCheck(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.AllowedOrigins = []string{"https://app.example"}
	})

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(env.wsURL(testPath), header)
	if !errors.Is(err, websocket.ErrBadHandshake) {
		t.Fatalf("expected handshake refusal, got %v", err)
	}
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %d", resp.StatusCode)
	}

	header.Set("Origin", "https://app.example")
	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL(testPath), header)
	if err != nil {
		t.Fatalf("expected allowed origin to connect: %v", err)
	}
	defer conn.Close()
	if ev := readEvent(t, conn); ev.Event != models.EventReady {
		t.Errorf("expected ready, got %+v", ev)
	}
}
