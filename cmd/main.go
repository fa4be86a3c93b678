package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	grpcapi "meetmind-asr-relay/internal/api/grpc"
	"meetmind-asr-relay/internal/api/ws"
	"meetmind-asr-relay/internal/app"
	"meetmind-asr-relay/internal/config"
	httpapi "meetmind-asr-relay/internal/http"
	"meetmind-asr-relay/internal/observability"
	"meetmind-asr-relay/internal/observability/logging"
	"meetmind-asr-relay/internal/observability/metrics"
)

func main() {
	cfg := config.Load()

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Observability.LogLevel
	logCfg.Format = cfg.Observability.LogFormat
	logging.Init(logCfg)

	application := app.New(cfg)
	if err := application.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start application")
	}

	router, err := httpapi.NewRouter(application)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build HTTP router")
	}

	acceptor := ws.NewAcceptor(ws.Options{
		Path:           cfg.Service.ASRPath,
		HasCredential:  application.HasCredential,
		Factory:        application.NewAdapter,
		Tracker:        application.Tracker,
		Fallback:       router,
		Publisher:      application.Publisher,
		Validator:      application.Validator,
		Metrics:        metrics.DefaultMetrics,
		Session:        application.SessionConfig(),
		WriteTimeout:   cfg.Relay.WriteTimeout,
		ReadLimit:      cfg.Relay.ReadLimit,
		PingInterval:   cfg.Relay.PingInterval,
		AllowedOrigins: cfg.Relay.AllowedOrigins,
	})

	// Observability HTTP server (/metrics, /healthz, /readyz)
	obsServer := observability.NewServer(cfg.Observability.MetricsAddr, func() bool {
		return !application.Tracker.Draining()
	})
	obsServer.Start()

	// gRPC health server
	lis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		log.Fatal().Err(err).Str("port", cfg.Service.GRPCPort).Msg("Failed to listen for gRPC")
	}
	grpcServer := grpcapi.New(metrics.DefaultMetrics)
	grpcServer.Serve(lis)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Service.HTTPPort,
		Handler:           acceptor,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().
			Str("addr", httpServer.Addr).
			Str("asrPath", cfg.Service.ASRPath).
			Str("framework", cfg.Service.FrameworkURL).
			Msg("ASR relay listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	log.Info().Str("signal", s.String()).Msg("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
	defer cancel()

	// Stop taking sessions, then let live ones commit and finish.
	grpcServer.SetNotServing()
	application.Shutdown(ctx)

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown error")
	}
	if err := obsServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Observability server shutdown error")
	}
	grpcServer.Stop()
}
