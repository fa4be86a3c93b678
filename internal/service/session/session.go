package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"meetmind-asr-relay/internal/idgen"
	"meetmind-asr-relay/internal/models"
	"meetmind-asr-relay/internal/observability/metrics"
	"meetmind-asr-relay/internal/service/stt"
	"meetmind-asr-relay/internal/service/timestamp"
	"meetmind-asr-relay/internal/service/translate"
	"meetmind-asr-relay/internal/upstream"
)

// Teardown reasons reported in metrics and logs.
const (
	ReasonUpstreamClosed = "upstream_closed"
	ReasonUpstreamError  = "upstream_error"
	ReasonConnectFailed  = "connect_failed"
	ReasonGraceExpired   = "grace_expired"
	ReasonStopBeforeOpen = "stop_before_open"
	ReasonBufferLimit    = "buffer_limit"
)

// ClientSink writes events to the client connection.
type ClientSink interface {
	Send(ev models.ClientEvent) error
	Close() error
}

// TranscriptPublisher forwards transcripts downstream (Kafka or log-only).
type TranscriptPublisher interface {
	PublishPartial(ctx context.Context, key string, event any) error
	PublishFinal(ctx context.Context, key string, event any) error
}

// Validator checks downstream events before they are published.
type Validator interface {
	Validate(event any) error
}

// Config holds per-session tunables.
type Config struct {
	// StopGrace bounds the wait for final results after an explicit stop.
	StopGrace time.Duration
	// DisconnectGrace is used when the client went away.
	DisconnectGrace time.Duration
	// MaxBufferedBytes bounds audio held before the upstream is ready.
	MaxBufferedBytes int
}

// DefaultConfig returns the default grace delays and buffer bound.
func DefaultConfig() Config {
	return Config{
		StopGrace:        2 * time.Second,
		DisconnectGrace:  time.Second,
		MaxBufferedBytes: 5 * 1024 * 1024,
	}
}

// Deps are the collaborators of a session. Adapter and Sink are required.
type Deps struct {
	Adapter   stt.Adapter
	Sink      ClientSink
	Publisher TranscriptPublisher
	Validator Validator
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Session relays one client connection to one upstream recognition session.
// It implements stt.Callback. All mutable state is guarded by mu, so client
// traffic, upstream events and the grace timer are serialized.
type Session struct {
	id        string
	cfg       Config
	adapter   stt.Adapter
	sink      ClientSink
	publisher TranscriptPublisher
	validator Validator
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	lifecycle     *Lifecycle
	buffer        *AudioBuffer
	reconciler    *timestamp.Reconciler
	translator    *translate.Translator
	graceTimer    *time.Timer
	pendingCommit bool
	createdAt     time.Time

	teardownOnce sync.Once
	done         chan struct{}
}

// New creates a session in IDLE state. Call Start to connect upstream.
func New(id string, cfg Config, deps Deps) *Session {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.DefaultMetrics
	}

	reconciler := timestamp.NewWithClock(now)
	ctx, cancel := context.WithCancel(context.Background())

	return &Session{
		id:         id,
		cfg:        cfg,
		adapter:    deps.Adapter,
		sink:       deps.Sink,
		publisher:  deps.Publisher,
		validator:  deps.Validator,
		metrics:    m,
		logger:     deps.Logger,
		now:        now,
		ctx:        ctx,
		cancel:     cancel,
		lifecycle:  NewLifecycle(),
		buffer:     NewAudioBuffer(cfg.MaxBufferedBytes),
		reconciler: reconciler,
		translator: translate.New(reconciler, idgen.New("sentence"), deps.Logger),
		createdAt:  now(),
		done:       make(chan struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.lifecycle.State()
}

// Done is closed once teardown has completed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Start moves to CONNECTING and dials the upstream in the background.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lifecycle.Transition(StateConnecting); err != nil {
		return err
	}
	s.metrics.RecordSessionStart(s.adapter.Name())
	s.logger.Info().Msg("Session started, connecting upstream")

	go s.connect()
	return nil
}

func (s *Session) connect() {
	err := s.adapter.Dial(s.ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lifecycle.State().IsTerminal() {
		// Torn down while dialing. The adapter releases a late connection
		// itself; closing again covers one that was opened before teardown.
		_ = s.adapter.Close()
		return
	}
	if err != nil {
		s.metrics.RecordUpstreamConnectError(s.adapter.Name())
		s.failLocked(ReasonConnectFailed, fmt.Errorf("upstream connection failed: %w", err))
		return
	}

	if err := s.lifecycle.Transition(StateConfiguring); err != nil {
		s.logger.Debug().Err(err).Msg("Upstream opened after closing began")
		return
	}
	if err := s.adapter.Start(s.ctx, s); err != nil {
		s.metrics.RecordUpstreamConnectError(s.adapter.Name())
		s.failLocked(ReasonConnectFailed, fmt.Errorf("upstream configuration failed: %w", err))
		return
	}
	s.logger.Debug().Msg("Upstream connected, configuration sent")
}

// HandleAudio relays a chunk, or buffers it while the upstream is not ready.
// Audio after stop is dropped.
func (s *Session) HandleAudio(chunk []byte) {
	if len(chunk) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics.RecordAudioReceived(len(chunk))

	switch s.lifecycle.State() {
	case StateReady:
		if err := s.adapter.SendAudio(s.ctx, chunk); err != nil {
			s.failLocked(ReasonUpstreamError, fmt.Errorf("upstream send failed: %w", err))
		}
	case StateIdle, StateConnecting, StateConfiguring:
		if err := s.buffer.Append(chunk); err != nil {
			if errors.Is(err, ErrBufferLimit) {
				s.metrics.RecordLimitExceeded("buffered_bytes")
			}
			s.failLocked(ReasonBufferLimit, err)
		}
	default:
		s.logger.Debug().Int("bytes", len(chunk)).Msg("Audio after stop dropped")
	}
}

// HandleText handles a client text frame. Frames that are not JSON objects
// are treated as audio.
func (s *Session) HandleText(data []byte) {
	msg, err := models.DecodeClientMessage(data)
	if err != nil {
		if errors.Is(err, models.ErrNotJSON) {
			s.HandleAudio(data)
			return
		}
		s.logger.Warn().Err(err).Msg("Invalid client control message ignored")
		return
	}

	switch m := msg.(type) {
	case models.StopRequest:
		s.Stop()
	case models.VADEvent:
		s.mu.Lock()
		if m.Start {
			s.reconciler.VAD().SpeechStarted(m.TimestampMs)
		} else {
			s.reconciler.VAD().SpeechEnded(m.TimestampMs)
		}
		s.mu.Unlock()
	case models.VADTimestamp:
		s.mu.Lock()
		s.reconciler.VAD().Enqueue(timestamp.Span{StartMs: m.StartMs, EndMs: m.EndMs})
		s.mu.Unlock()
	case models.UnknownMessage:
		s.logger.Debug().Str("type", m.Type).Str("action", m.Action).Msg("Unknown client message ignored")
	}
}

// Stop requests a graceful end: commit, then close after StopGrace.
func (s *Session) Stop() {
	s.beginClosing(s.cfg.StopGrace, "stop")
}

// Disconnect reports that the client connection is gone: commit, then close
// after DisconnectGrace.
func (s *Session) Disconnect() {
	s.beginClosing(s.cfg.DisconnectGrace, "disconnect")
}

func (s *Session) beginClosing(grace time.Duration, trigger string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.lifecycle.State()
	switch state {
	case StateClosing, StateClosed:
		return
	case StateIdle, StateConnecting:
		// Nothing upstream to flush.
		s.logger.Info().Str("trigger", trigger).Msg("Session closed before upstream opened")
		s.teardownLocked(stt.CloseNormal, ReasonStopBeforeOpen)
		return
	}

	_ = s.lifecycle.Transition(StateClosing)
	s.logger.Info().Str("trigger", trigger).Dur("grace", grace).Msg("Session closing")

	if state == StateReady {
		if err := s.adapter.Commit(s.ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Upstream commit failed")
		}
	} else {
		// Configuring: the buffer is flushed and committed once the upstream
		// acknowledges, unless the grace delay runs out first.
		s.pendingCommit = true
	}

	s.graceTimer = time.AfterFunc(grace, s.graceExpired)
}

func (s *Session) graceExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lifecycle.State().IsTerminal() {
		return
	}
	s.logger.Debug().Msg("Grace delay expired, closing upstream")
	s.teardownLocked(stt.CloseNormal, ReasonGraceExpired)
}

// OnEvent handles one upstream event.
func (s *Session) OnEvent(ev upstream.Event) {
	s.mu.Lock()
	publish := s.handleEventLocked(ev)
	s.mu.Unlock()

	if publish != nil {
		publish()
	}
}

func (s *Session) handleEventLocked(ev upstream.Event) func() {
	if s.lifecycle.State().IsTerminal() {
		return nil
	}

	out, ok := s.translator.Translate(ev)

	switch ev.(type) {
	case upstream.SessionUpdated:
		s.readyLocked()
		return nil
	case upstream.SessionFinished:
		s.teardownLocked(stt.CloseNormal, ReasonUpstreamClosed)
		return nil
	case upstream.Unknown:
		s.metrics.RecordUpstreamDropped("unknown_type")
	case upstream.TranscriptionFailed, upstream.Error:
		s.metrics.RecordSTTError(s.adapter.Name(), "recognition")
	}

	if !ok {
		return nil
	}
	s.emitLocked(out)

	switch out.Event {
	case models.EventInterim:
		s.metrics.RecordInterimTranscript()
		return s.publishPartial(out.Text)
	case models.EventResult:
		res := s.translator.LastResolution()
		s.metrics.RecordFinalTranscript(res.Source.String())
		return s.publishFinal(*out.Sentence, res.Source)
	}
	return nil
}

func (s *Session) readyLocked() {
	switch s.lifecycle.State() {
	case StateConfiguring:
		if err := s.lifecycle.Transition(StateReady); err != nil {
			s.logger.Warn().Err(err).Msg("Unexpected ready transition")
			return
		}
		s.reconciler.Restart()
		s.metrics.RecordUpstreamReady(s.adapter.Name(), s.now().Sub(s.createdAt).Seconds())
		s.emitLocked(models.Ready())
		if err := s.flushLocked(); err != nil {
			s.failLocked(ReasonUpstreamError, err)
		}
	case StateClosing:
		if !s.pendingCommit {
			return
		}
		s.pendingCommit = false
		s.reconciler.Restart()
		if err := s.flushLocked(); err != nil {
			s.failLocked(ReasonUpstreamError, err)
			return
		}
		if err := s.adapter.Commit(s.ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Upstream commit failed")
		}
	default:
		s.logger.Debug().Stringer("state", s.lifecycle.State()).Msg("Duplicate configuration acknowledgment ignored")
	}
}

// flushLocked drains the pre-ready buffer upstream in arrival order.
func (s *Session) flushLocked() error {
	chunks := s.buffer.Drain()
	for i, chunk := range chunks {
		if err := s.adapter.SendAudio(s.ctx, chunk); err != nil {
			return fmt.Errorf("upstream send failed after %d of %d buffered chunks: %w", i, len(chunks), err)
		}
	}
	if len(chunks) > 0 {
		s.metrics.RecordAudioFlushed(len(chunks))
		s.logger.Debug().Int("chunks", len(chunks)).Msg("Buffered audio flushed")
	}
	return nil
}

// OnMalformed logs and drops an unparseable upstream payload.
func (s *Session) OnMalformed(raw []byte, err error) {
	s.metrics.RecordUpstreamDropped("malformed")
	s.logger.Warn().Err(err).Int("bytes", len(raw)).Msg("Malformed upstream message dropped")
}

// OnClosed ends the session when the upstream connection closes.
func (s *Session) OnClosed(code int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lifecycle.State().IsTerminal() {
		return
	}
	if err != nil {
		s.failLocked(ReasonUpstreamError, fmt.Errorf("upstream connection error: %w", err))
		return
	}
	s.logger.Info().Int("code", code).Msg("Upstream closed")
	s.teardownLocked(code, ReasonUpstreamClosed)
}

// failLocked reports err to the client and closes the session.
func (s *Session) failLocked(reason string, err error) {
	if s.lifecycle.State().IsTerminal() {
		return
	}
	s.logger.Error().Err(err).Str("reason", reason).Msg("Session failed")
	s.emitLocked(models.Error(err.Error()))
	s.teardownLocked(stt.CloseAbnormal, reason)
}

// teardownLocked emits finished then closed and releases every resource.
// It runs at most once per session.
func (s *Session) teardownLocked(code int, reason string) {
	s.teardownOnce.Do(func() {
		s.lifecycle.Close()
		if s.graceTimer != nil {
			s.graceTimer.Stop()
		}

		s.emitLocked(models.Finished(code))
		s.emitLocked(models.Closed(code))

		s.buffer.Clear()
		s.pendingCommit = false
		s.reconciler.VAD().Reset()

		if err := s.adapter.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("Upstream close error")
		}
		if err := s.sink.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("Client close error")
		}
		s.cancel()

		duration := s.now().Sub(s.createdAt)
		s.metrics.RecordSessionEnd(reason, duration.Seconds())
		s.logger.Info().
			Str("reason", reason).
			Int("code", code).
			Dur("duration", duration).
			Msg("Session closed")

		close(s.done)
	})
}

func (s *Session) emitLocked(ev models.ClientEvent) {
	if err := s.sink.Send(ev); err != nil {
		s.logger.Debug().Err(err).Str("event", ev.Event).Msg("Client send failed")
		return
	}
	s.metrics.RecordClientEvent(ev.Event)
}

func (s *Session) publishPartial(text string) func() {
	if s.publisher == nil {
		return nil
	}
	event := models.TranscriptPartial{
		EventType: models.EventTypeTranscriptPartial,
		SessionID: s.id,
		Timestamp: s.now().UnixMilli(),
		Text:      text,
	}
	return func() {
		s.publish(event, s.publisher.PublishPartial)
	}
}

func (s *Session) publishFinal(sentence models.Sentence, source timestamp.Source) func() {
	if s.publisher == nil {
		return nil
	}
	event := models.TranscriptFinal{
		EventType:       models.EventTypeTranscriptFinal,
		SessionID:       s.id,
		Timestamp:       s.now().UnixMilli(),
		SentenceID:      sentence.ID,
		Text:            sentence.Text,
		BeginTimeMs:     sentence.BeginTime,
		EndTimeMs:       sentence.EndTime,
		TimestampSource: source.String(),
	}
	return func() {
		s.publish(event, s.publisher.PublishFinal)
	}
}

func (s *Session) publish(event any, fn func(context.Context, string, any) error) {
	if s.validator != nil {
		if err := s.validator.Validate(event); err != nil {
			s.logger.Error().Err(err).Msg("Transcript failed schema validation, not published")
			return
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx, s.id, event); err != nil {
		s.logger.Warn().Err(err).Msg("Transcript publish failed")
	}
}
