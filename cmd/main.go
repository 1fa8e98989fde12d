package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/senyabanana/tender-negotiation/internal/db"
	"github.com/senyabanana/tender-negotiation/internal/router"
	"github.com/senyabanana/tender-negotiation/internal/router/config"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "tender-negotiation",
		Short:         "Procurement negotiation pipeline: invitations, reply ingestion, offer scoring and awards",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", ".", "Directory containing app.env")

	cmd.AddCommand(newServeCommand(&configPath))
	cmd.AddCommand(newPollCommand(&configPath))
	cmd.AddCommand(newMigrateCommand(&configPath))
	return cmd
}

// loadConfig читает конфигурацию и настраивает глобальный логгер.
func loadConfig(path string) (config.Config, zerolog.Logger, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return cfg, zerolog.Nop(), fmt.Errorf("cannot load config: %w", err)
	}
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	log.Logger = logger
	return cfg, logger, nil
}

func newLogger(level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(lvl).With().Timestamp().Logger()
}

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the mailbox poll loop and the notification worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancelRun := context.WithCancel(cmd.Context())
			defer cancelRun()
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := db.RunMigrations(cfg.MigrationURL, cfg.PostgresConn); err != nil {
				return err
			}
			logger.Info().Msg("db migrated successfully")

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := &http.Server{
				Addr:              cfg.ServerAddress,
				Handler:           router.InitRoutes(a.requestHandler(), a.offerHandler(), a.registry),
				ReadHeaderTimeout: 10 * time.Second,
			}

			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				a.cycle.Loop(ctx, cfg.PollInterval)
			}()
			go func() {
				defer wg.Done()
				if err := a.worker.Run(ctx); err != nil {
					logger.Error().Err(err).Msg("notification worker failed")
				}
			}()

			serveErr := make(chan error, 1)
			go func() {
				logger.Info().Str("addr", cfg.ServerAddress).Msg("server is listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			select {
			case <-ctx.Done():
			case err = <-serveErr:
			}

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if serr := srv.Shutdown(shutdownCtx); serr != nil {
				logger.Error().Err(serr).Msg("shutdown http server")
			}
			cancelRun()
			wg.Wait()
			logger.Info().Msg("server stopped")
			return err
		},
	}
}

func newPollCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Run one mailbox ingest and reconciliation cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.cycle.RunOnce(cmd.Context())
			logger.Info().
				Int("fetched", res.Ingest.Fetched).
				Int("inserted", res.Ingest.Inserted).
				Uint32("cursor", res.Ingest.Cursor).
				Int("reconciled", len(res.Reconcile)).
				Msg("poll cycle finished")
			return err
		},
	}
}

func newMigrateCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if err := db.RunMigrations(cfg.MigrationURL, cfg.PostgresConn); err != nil {
				return err
			}
			logger.Info().Str("source", cfg.MigrationURL).Msg("db migrated successfully")
			return nil
		},
	}
}
