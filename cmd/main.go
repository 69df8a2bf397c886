package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"voice-transcript-relay/internal/app"
	"voice-transcript-relay/internal/auth"
	"voice-transcript-relay/internal/config"
	"voice-transcript-relay/internal/events"
	httpapi "voice-transcript-relay/internal/http"
	"voice-transcript-relay/internal/observability"
	"voice-transcript-relay/internal/persist"
)

func main() {
	// Local development convenience; absent .env is fine.
	_ = godotenv.Load()

	cfg := config.Load()
	application := app.New(cfg)
	if err := application.Start(); err != nil {
		log.Fatal().Err(err).Msg("application start failed")
	}
	defer application.Shutdown()

	if cfg.Auth.TokenSecret == "" {
		log.Fatal().Msg("TOKEN_SECRET must be set")
	}
	verifier := auth.NewTokenVerifier(cfg.Auth.TokenSecret)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store *persist.Store
	if cfg.Postgres.Enabled {
		var err error
		store, err = persist.NewStore(ctx, cfg.Postgres.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres connection failed")
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("schema setup failed")
		}
	}

	publisher := events.New(&events.Config{
		Enabled:           cfg.Kafka.Enabled,
		Brokers:           cfg.Kafka.Brokers,
		TopicFinal:        cfg.Kafka.TopicFinal,
		TopicArchive:      cfg.Kafka.TopicArchive,
		Principal:         cfg.Kafka.Principal,
		ArchiveCollection: cfg.Kafka.ArchiveCollection,
	})
	defer publisher.Close()

	sink := persist.New(store, publisher, application.Logger)
	ws := httpapi.NewWSHandler(cfg, verifier, sink, application.Logger)
	router := httpapi.NewRouter(application, ws)

	srv := observability.NewServer(":"+cfg.Service.HTTPPort, router)
	srv.Start()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
		os.Exit(1)
	}
}
