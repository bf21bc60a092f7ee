package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/thtskaran/effenAi/internal/config"
	"github.com/thtskaran/effenAi/internal/metrics"
	"github.com/thtskaran/effenAi/internal/pipeline"
	"github.com/thtskaran/effenAi/internal/planner"
	"github.com/thtskaran/effenAi/internal/recording"
	"github.com/thtskaran/effenAi/internal/server"
	"github.com/thtskaran/effenAi/internal/store"
	"github.com/thtskaran/effenAi/internal/transcript"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingestion HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("config_path", configPath),
		slog.String("http_address", cfg.HTTP.Address),
		slog.Int("http_port", cfg.HTTP.Port),
		slog.String("temp_audio_dir", cfg.Storage.TempAudioDir),
		slog.String("database_path", cfg.Database.Path),
		slog.String("transcription_model", cfg.Transcription.Model),
		slog.String("planner_model", cfg.Planner.Model),
		slog.String("log_level", cfg.Logging.Level),
	)

	appMetrics := metrics.NewMetrics()

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer st.Close()

	if err := st.Migrate(context.Background()); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	buffer, err := recording.NewBuffer(logger, cfg.Storage.TempAudioDir, cfg.Storage.GetSessionTimeoutDuration())
	if err != nil {
		return fmt.Errorf("failed to create recording buffer: %w", err)
	}

	transcriber, err := transcript.NewClient(transcript.Config{
		Endpoint:      cfg.Transcription.Endpoint,
		APIKey:        cfg.Transcription.APIKey,
		Model:         cfg.Transcription.Model,
		Language:      cfg.Transcription.Language,
		Timeout:       cfg.Transcription.GetTimeoutDuration(),
		MaxRetries:    cfg.Transcription.MaxRetries,
		MaxConcurrent: cfg.Transcription.MaxConcurrent,
	})
	if err != nil {
		return fmt.Errorf("failed to create transcription client: %w", err)
	}

	chatClient, err := planner.NewClient(planner.Config{
		Endpoint:    cfg.Planner.Endpoint,
		APIKey:      cfg.Planner.APIKey,
		Model:       cfg.Planner.Model,
		Temperature: cfg.Planner.Temperature,
		Timeout:     cfg.Planner.GetTimeoutDuration(),
		MaxRetries:  cfg.Planner.MaxRetries,
	})
	if err != nil {
		return fmt.Errorf("failed to create planner client: %w", err)
	}

	planGen := planner.NewPlanGenerator(chatClient, logger, appMetrics)
	detailGen := planner.NewDetailGenerator(chatClient, logger)

	pl := pipeline.New(buffer, st, transcriber, planGen, detailGen, appMetrics, logger)

	httpServer := server.NewHTTPServer(cfg, logger, buffer, pl, st, appMetrics)
	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("Shutdown signal received", slog.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.GetShutdownTimeoutDuration())
	defer cancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
	}

	buffer.Stop()

	logger.Info("Service stopped")
	return nil
}
