// Package ws accepts client ASR connections and binds each one to a relay
// session.
package ws

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"meetmind-asr-relay/internal/models"
	"meetmind-asr-relay/internal/observability/logging"
	"meetmind-asr-relay/internal/observability/metrics"
	"meetmind-asr-relay/internal/service/session"
	"meetmind-asr-relay/internal/service/sessions"
	"meetmind-asr-relay/internal/service/stt"
)

// Client-facing rejection messages.
const (
	MsgMissingCredential = "ASR credential is not configured on the server"
	MsgAdapterFailed     = "ASR provider is unavailable"
	MsgDraining          = "server is shutting down"
)

// Options configures an Acceptor.
type Options struct {
	// Path is the upgrade path served by the relay. Everything else goes
	// to Fallback.
	Path string

	// HasCredential is consulted once per connection. Without a credential
	// the connection is told so and closed, and no upstream is attempted.
	HasCredential func() bool

	Factory   stt.Factory
	Tracker   *sessions.Tracker
	Fallback  http.Handler
	Publisher session.TranscriptPublisher
	Validator session.Validator
	Metrics   *metrics.Metrics

	Session        session.Config
	WriteTimeout   time.Duration
	ReadLimit      int64
	PingInterval   time.Duration
	AllowedOrigins []string
}

// Acceptor is an http.Handler that routes ASR upgrades to relay sessions and
// delegates all other traffic, unmodified, to the fallback handler.
type Acceptor struct {
	opts     Options
	upgrader websocket.Upgrader
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewAcceptor creates an Acceptor. A nil Fallback answers 404.
func NewAcceptor(opts Options) *Acceptor {
	if opts.Fallback == nil {
		opts.Fallback = http.NotFoundHandler()
	}
	if opts.Tracker == nil {
		opts.Tracker = sessions.NewTracker()
	}
	if opts.HasCredential == nil {
		opts.HasCredential = func() bool { return false }
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.DefaultMetrics
	}

	a := &Acceptor{
		opts:    opts,
		metrics: m,
		logger:  logging.WithComponent("ws-acceptor"),
	}
	a.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     a.checkOrigin,
	}
	return a
}

// Tracker returns the session tracker used for draining.
func (a *Acceptor) Tracker() *sessions.Tracker {
	return a.opts.Tracker
}

// ServeHTTP implements http.Handler.
func (a *Acceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != a.opts.Path || !websocket.IsWebSocketUpgrade(r) {
		a.opts.Fallback.ServeHTTP(w, r)
		return
	}

	if a.opts.Tracker.Draining() {
		a.metrics.RecordSessionRejected("draining")
		http.Error(w, MsgDraining, http.StatusServiceUnavailable)
		return
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		a.logger.Warn().Err(err).Str("remoteAddr", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	if !a.opts.HasCredential() {
		a.metrics.RecordSessionRejected("missing_credential")
		a.logger.Error().Msg("Rejecting ASR session: credential not configured")
		a.reject(conn, MsgMissingCredential)
		return
	}

	adapter, err := a.opts.Factory()
	if err != nil {
		a.metrics.RecordSessionRejected("adapter_error")
		a.logger.Error().Err(err).Msg("Rejecting ASR session: adapter creation failed")
		a.reject(conn, MsgAdapterFailed)
		return
	}

	a.serve(conn, adapter, r.RemoteAddr)
}

func (a *Acceptor) serve(conn *websocket.Conn, adapter stt.Adapter, remoteAddr string) {
	id := uuid.NewString()
	logger := logging.WithSession(id, adapter.Name())
	sink := newSink(conn, a.opts.WriteTimeout)

	sess := session.New(id, a.opts.Session, session.Deps{
		Adapter:   adapter,
		Sink:      sink,
		Publisher: a.opts.Publisher,
		Validator: a.opts.Validator,
		Metrics:   a.metrics,
		Logger:    logger,
	})

	unregister, err := a.opts.Tracker.Register(id, sessions.Handle{Stop: sess.Stop})
	if err != nil {
		a.metrics.RecordSessionRejected("draining")
		_ = adapter.Close()
		a.reject(conn, MsgDraining)
		return
	}
	defer unregister()

	logger.Info().Str("remoteAddr", remoteAddr).Msg("ASR client connected")

	if err := sess.Start(); err != nil {
		logger.Error().Err(err).Msg("Session failed to start")
		_ = adapter.Close()
		a.reject(conn, err.Error())
		return
	}

	if a.opts.PingInterval > 0 {
		go sink.keepAlive(a.opts.PingInterval, sess.Done())
	}

	a.readLoop(conn, sess, logger)

	<-sess.Done()
	logger.Info().Msg("ASR client session ended")
}

// readLoop feeds client frames into the session until the connection ends.
func (a *Acceptor) readLoop(conn *websocket.Conn, sess *session.Session, logger zerolog.Logger) {
	if a.opts.ReadLimit > 0 {
		conn.SetReadLimit(a.opts.ReadLimit)
	}
	if a.opts.PingInterval > 0 {
		pongWait := 2 * a.opts.PingInterval
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				logger.Debug().Err(err).Msg("Client connection ended")
			}
			sess.Disconnect()
			return
		}

		switch mt {
		case websocket.BinaryMessage:
			sess.HandleAudio(data)
		case websocket.TextMessage:
			sess.HandleText(data)
		}
	}
}

// reject sends a single error event and closes the connection.
func (a *Acceptor) reject(conn *websocket.Conn, message string) {
	sink := newSink(conn, a.opts.WriteTimeout)
	if err := sink.Send(models.Error(message)); err != nil {
		a.logger.Debug().Err(err).Msg("Failed to send rejection")
	} else {
		a.metrics.RecordClientEvent(models.EventError)
	}
	_ = sink.closeWith(websocket.ClosePolicyViolation, "")
}

func (a *Acceptor) checkOrigin(r *http.Request) bool {
	if len(a.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range a.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	a.metrics.RecordSessionRejected("origin")
	return false
}
