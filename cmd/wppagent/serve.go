package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/BrnEnd/AgenteAutonomoWPP/pkg/ai"
	"github.com/BrnEnd/AgenteAutonomoWPP/pkg/config"
	"github.com/BrnEnd/AgenteAutonomoWPP/pkg/credentials"
	"github.com/BrnEnd/AgenteAutonomoWPP/pkg/httpapi"
	"github.com/BrnEnd/AgenteAutonomoWPP/pkg/session"
	"github.com/BrnEnd/AgenteAutonomoWPP/pkg/store"
	"github.com/BrnEnd/AgenteAutonomoWPP/pkg/transport/wameow"
)

func newServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file (optional)")
	return cmd
}

func setupLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.LogFormat == "json" {
		logger = zerolog.New(os.Stderr)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	logger = logger.Level(level).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := setupLogger(cfg)

	var recorder store.Recorder = store.NewNop()
	recorderConfigured := false
	if cfg.DatabasePath != "" {
		dsn, err := store.DSNForFile(cfg.DatabasePath)
		if err != nil {
			return err
		}
		sqlite, err := store.NewSQLite(dsn, logger)
		if err != nil {
			return err
		}
		defer func() { _ = sqlite.Close() }()
		recorder = sqlite
		recorderConfigured = true
	} else {
		logger.Warn().Msg("no database configured, session records will not be persisted")
	}

	responder := ai.NewGroq(ai.GroqConfig{
		APIKey:  cfg.GroqAPIKey,
		BaseURL: cfg.GroqBaseURL,
		Model:   cfg.GroqModel,
	}, logger)

	manager := session.NewManager(session.Deps{
		Dialer:      wameow.NewDialer(logger),
		Credentials: credentials.NewStore(cfg.TokensPath, logger),
		Recorder:    recorder,
		Responder:   responder,
		Logger:      logger,
	})

	handlers := httpapi.NewHandlers(manager, httpapi.Info{
		Provider:           "groq",
		Model:              responder.Model(),
		Transport:          "whatsmeow",
		RecorderConfigured: recorderConfigured,
	}, logger)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handlers.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	srvCtx, srvCancel := context.WithCancel(ctx)
	defer srvCancel()

	eg := errgroup.Group{}

	eg.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sigChan:
			logger.Info().Msg("received interrupt signal, shutting down gracefully...")
		case <-srvCtx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server shutdown error")
			return err
		}
		// Close connections without logging out so the accounts stay paired
		// and the durable records keep their last live status; the next boot
		// restores these sessions.
		manager.Shutdown()
		logger.Info().Msg("shutdown complete")
		return nil
	})

	eg.Go(func() error {
		logger.Info().Str("addr", cfg.Addr).Msg("starting wppagent server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server listen error")
			srvCancel()
			return err
		}
		return nil
	})

	// Boot-time restoration runs after the listener is up; one session's
	// failure never aborts the rest.
	manager.RestoreAll(srvCtx)

	return eg.Wait()
}
