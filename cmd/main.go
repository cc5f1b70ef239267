package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"ai-call-bridge/internal/callstore"
	"ai-call-bridge/internal/config"
	"ai-call-bridge/internal/events"
	"ai-call-bridge/internal/httpapi"
	"ai-call-bridge/internal/identity"
	"ai-call-bridge/internal/observability"
	"ai-call-bridge/internal/observability/logging"
	"ai-call-bridge/internal/observability/metrics"
	"ai-call-bridge/internal/realtime"
	"ai-call-bridge/internal/registry"
	"ai-call-bridge/internal/telephony"
)

func main() {
	cfg := config.Load()

	logging.Init(logging.Config{
		Level:  cfg.Observability.LogLevel,
		Format: os.Getenv("LOG_FORMAT"),
	})

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Metrics and health probes on their own listener
	obs := observability.NewServer(cfg.Observability.MetricsAddr)
	obs.Start()

	// Kafka publisher mirroring transcripts and status transitions
	publisher := events.New(&events.Config{
		Enabled:         cfg.Kafka.Enabled,
		Brokers:         cfg.Kafka.Brokers,
		TopicTranscript: cfg.Kafka.TopicTranscript,
		TopicStatus:     cfg.Kafka.TopicStatus,
		Principal:       cfg.Kafka.Principal,
	})
	defer publisher.Close()

	reg := registry.New()
	store := callstore.New(cfg.RecordKeeper.BaseURL, metrics.DefaultMetrics)
	resolver := identity.NewResolver(reg, store)
	dialer := telephony.NewClient(cfg.Telephony)
	connector := realtime.NewClient(cfg.Speech)

	handlers := httpapi.NewHandlers(cfg, reg, resolver, store, dialer, connector, publisher, metrics.DefaultMetrics)

	server := &http.Server{
		Addr:    cfg.Service.HTTPAddr,
		Handler: httpapi.NewRouter(handlers),
		// No WriteTimeout: media-stream websockets live as long as the call.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Service.HTTPAddr).Msg("AI call bridge started")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP serve failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	if err := obs.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Observability server shutdown error")
	}
}
