package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"meetmind-asr-relay/internal/config"
	"meetmind-asr-relay/internal/events"
	"meetmind-asr-relay/internal/observability/logging"
	"meetmind-asr-relay/internal/schema"
	"meetmind-asr-relay/internal/service/session"
	"meetmind-asr-relay/internal/service/sessions"
	"meetmind-asr-relay/internal/service/stt"
	"meetmind-asr-relay/internal/service/stt/google"
	"meetmind-asr-relay/internal/service/stt/mock"
	"meetmind-asr-relay/internal/service/stt/realtime"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config
	Tracker     *sessions.Tracker
	Publisher   *events.Publisher
	Validator   *schema.Validator
}

// New constructs a new Application from the provided configuration. The
// global logger must already be initialized.
func New(cfg *config.Config) *Application {
	a := &Application{
		Cfg:     cfg,
		Logger:  logging.WithComponent("application"),
		Tracker: sessions.NewTracker(),
		Publisher: events.New(&events.Config{
			Enabled:      cfg.Kafka.Enabled,
			Brokers:      cfg.Kafka.Brokers,
			TopicPartial: cfg.Kafka.TopicPartial,
			TopicFinal:   cfg.Kafka.TopicFinal,
			Principal:    cfg.Kafka.Principal,
		}),
		Validator: schema.New(),
	}

	appLogger := a.Logger.With().
		Str("method", "New").
		Logger()

	appLogger.Info().
		Str("sttProvider", cfg.STT.Provider).
		Bool("credentialConfigured", cfg.STT.HasCredential()).
		Msg("ASR relay application created")
	return a
}

// HasCredential reports whether the configured provider can authenticate.
func (a *Application) HasCredential() bool {
	return a.Cfg.STT.HasCredential()
}

// SessionConfig returns the per-session relay settings.
func (a *Application) SessionConfig() session.Config {
	return session.Config{
		StopGrace:        a.Cfg.Relay.StopGrace,
		DisconnectGrace:  a.Cfg.Relay.DisconnectGrace,
		MaxBufferedBytes: a.Cfg.Relay.MaxBufferedBytes,
	}
}

// NewAdapter creates a fresh upstream adapter for the configured provider.
// It is the stt.Factory used by the acceptor.
func (a *Application) NewAdapter() (stt.Adapter, error) {
	c := a.Cfg.STT
	logger := logging.WithComponent("stt-" + c.Provider)

	switch c.Provider {
	case config.ProviderRealtime:
		return realtime.New(realtime.Config{
			URL:              c.URL,
			APIKey:           c.APIKey,
			Model:            c.Model,
			Language:         c.Language,
			AudioFormat:      c.AudioFormat,
			SampleRateHz:     c.SampleRateHz,
			DisableTurnVAD:   !c.ServerVAD,
			VADThreshold:     c.VADThreshold,
			VADSilenceMs:     c.VADSilenceMs,
			Transport:        c.Transport,
			HandshakeTimeout: c.HandshakeTimeout,
			WriteTimeout:     a.Cfg.Relay.WriteTimeout,
		}, logger), nil
	case config.ProviderGoogle:
		return google.New(google.Config{
			LanguageCode:    c.GoogleLanguageCode,
			SampleRateHz:    c.SampleRateHz,
			InterimResults:  c.GoogleInterimResults,
			AudioEncoding:   c.GoogleAudioEncoding,
			CredentialsFile: c.GoogleCredentialsFile,
		}, logger), nil
	case config.ProviderMock:
		return mock.New(mock.DefaultConfig()), nil
	default:
		return nil, fmt.Errorf("unknown STT provider %q", c.Provider)
	}
}

// Start performs any startup work required before serving traffic.
func (a *Application) Start() error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	probe, err := a.NewAdapter()
	if err != nil {
		return err
	}
	_ = probe.Close()
	if !a.HasCredential() {
		startLogger.Warn().
			Str("sttProvider", a.Cfg.STT.Provider).
			Msg("No STT credential configured, ASR sessions will be rejected")
	}

	a.StartupTime = time.Now().UTC()
	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Msg("ASR relay starting")

	return nil
}

// Shutdown stops accepting sessions, asks live sessions to finish and waits
// for them until ctx is done. The publisher is closed last.
func (a *Application) Shutdown(ctx context.Context) {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	stopped := a.Tracker.Drain()
	shutdownLogger.Info().Int("sessions", stopped).Msg("ASR relay draining sessions")

	if !a.Tracker.Wait(ctx) {
		shutdownLogger.Warn().
			Int("remaining", a.Tracker.Count()).
			Msg("Shutdown timeout reached with sessions still open")
	}

	if err := a.Publisher.Close(); err != nil {
		shutdownLogger.Error().Err(err).Msg("Failed to close transcript publisher")
	}
	shutdownLogger.Info().Msg("ASR relay shut down")
}
