// Package main is the entry point for the epicstoria points and chat backend.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"epicstoria/internal/config"
	"epicstoria/internal/handler"
	"epicstoria/internal/metrics"
	"epicstoria/internal/pkg/db"
	"epicstoria/internal/repository"
	"epicstoria/internal/scheduler"
	"epicstoria/internal/service"
)

func main() {
	// Configure zerolog before config so load errors are readable.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	configureLogging(cfg.Log)

	log.Info().Msg("Configuration loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	if err := db.Migrate(ctx, dbPool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	// Initialize repositories
	userRepo := repository.NewUserRepository(dbPool)
	quizRepo := repository.NewQuizCompletionRepository(dbPool)
	historyRepo := repository.NewPointsHistoryRepository(dbPool)
	messageRepo := repository.NewMessageRepository(dbPool)

	m := metrics.New()

	// Initialize services
	pointsService := service.NewPointsService(dbPool, userRepo, quizRepo, historyRepo, m, cfg.Points)
	chatService := service.NewChatService(dbPool, messageRepo, m, cfg.Retention.MaxPerConversation)
	retentionService := service.NewRetentionService(messageRepo, m, cfg.Retention)

	var cleanup *scheduler.CleanupScheduler
	if cfg.Retention.Enabled {
		cleanup, err = scheduler.NewCleanupScheduler(retentionService, cfg.Retention)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create cleanup scheduler")
		}
		if err := cleanup.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start cleanup scheduler")
		}
	} else {
		log.Warn().Msg("Message retention disabled")
	}

	server := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: handler.NewRouter(handler.RouterConfig{
			Points:   pointsService,
			Chat:     chatService,
			Verifier: handler.NewTokenVerifier(cfg.Auth.JWTSecret),
			Health:   dbPool,
			Metrics:  m.Handler(),
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("HTTP server is starting...")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Received shutdown signal")
	case err := <-serverErr:
		log.Error().Err(err).Msg("HTTP server failed")
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if cleanup != nil {
		if err := cleanup.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Cleanup scheduler did not stop in time")
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped gracefully")
}

func configureLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}
