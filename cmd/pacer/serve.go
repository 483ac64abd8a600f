package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/pacerhq/pacer/internal/api"
	"github.com/pacerhq/pacer/internal/config"
	"github.com/pacerhq/pacer/internal/db"
	"github.com/pacerhq/pacer/internal/engine"
	"github.com/pacerhq/pacer/internal/events"
	"github.com/pacerhq/pacer/internal/metrics"
	"github.com/pacerhq/pacer/internal/repository"
	"github.com/pacerhq/pacer/internal/settings"
	"github.com/pacerhq/pacer/internal/stats"
	"github.com/pacerhq/pacer/internal/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server and scheduler engine",
	RunE:  runServe,
}

var configFile string

func init() {
	serveCmd.Flags().StringVarP(&configFile, "config", "c", "/etc/pacer/pacer.yaml", "Path to configuration file")
}

func runServe(cmd *cobra.Command, args []string) error {
	// Optional .env for secrets kept out of the config file
	_ = godotenv.Load()

	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if key := os.Getenv("PACER_API_KEY"); key != "" {
		cfg.Server.APIKey = key
	}
	if key := os.Getenv("PACER_GATEWAY_API_KEY"); key != "" {
		cfg.Gateway.APIKey = key
	}

	// Setup logger
	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: parseLogLevel(cfg.Logging.Level),
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: parseLogLevel(cfg.Logging.Level),
		})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	database, err := db.New(cfg.Storage.DatabasePath)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		return err
	}

	statsStore, err := stats.Open(cfg.Storage.StatsPath, cfg.Storage.FlushInterval)
	if err != nil {
		return err
	}
	if err := statsStore.Prune(cfg.Storage.RetentionDays, time.Now()); err != nil {
		logger.Warn("failed to prune sending stats", "error", err)
	}

	campaigns := repository.NewCampaignRepository(database.DB)
	recipients := repository.NewRecipientRepository(database.DB)
	settingsRepo := repository.NewSettingsRepository(database.DB)

	bus := events.NewBus()
	m := metrics.New()

	eng := engine.New(engine.Config{
		Logger:     logger,
		Campaigns:  campaigns,
		Recipients: recipients,
		Settings:   settings.NewProvider(settingsRepo),
		Stats:      statsStore,
		Transport:  transport.NewGateway(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, cfg.Gateway.Timeout),
		Bus:        bus,
		Metrics:    m,
	})
	if err := eng.Start(); err != nil {
		return err
	}

	srv := api.NewServer(api.Config{
		ListenAddr: cfg.Server.ListenAddr,
		APIKey:     cfg.Server.APIKey,
		Logger:     logger,
		Campaigns:  campaigns,
		Recipients: recipients,
		Settings:   settingsRepo,
		Bus:        bus,
		Metrics:    m,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		eng.Stop()
		statsStore.Stop()
		return err
	case sig := <-sigCh:
		logger.Info("shutting down...", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	eng.Stop()
	if err := statsStore.Stop(); err != nil {
		logger.Error("failed to flush sending stats", "error", err)
	}
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
