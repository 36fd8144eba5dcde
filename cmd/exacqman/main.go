package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/exacqman/exacqman/internal/api"
	"github.com/exacqman/exacqman/internal/artifacts"
	"github.com/exacqman/exacqman/internal/config"
	"github.com/exacqman/exacqman/internal/db"
	"github.com/exacqman/exacqman/internal/extract"
	"github.com/exacqman/exacqman/internal/jobs"
	"github.com/exacqman/exacqman/internal/logging"
	"github.com/exacqman/exacqman/internal/metrics"
	"github.com/exacqman/exacqman/internal/nvr"
	"github.com/exacqman/exacqman/internal/video"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.OutputDir(), 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("starting exacqman", "version", config.Version, "data_dir", cfg.DataDir)

	database, err := db.Open(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := jobs.NewRepository(database.Conn())

	authToken, err := ensureAuthToken(repo, cfg.AuthToken)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}
	logger.Info("api auth token ready", "token", logging.SanitizeToken(authToken))

	if cfg.NVR.Host == "" {
		logger.Warn("no NVR host configured, extract jobs will fail until one is set")
	}

	loc := cfg.Location()
	client := nvr.NewClient(cfg.NVR.BaseURL(), loc, logger)

	engine, err := video.NewEngine(video.Config{
		FFmpegPath:  cfg.FFmpeg.FFmpegPath,
		FFprobePath: cfg.FFmpeg.FFprobePath,
		WorkDir:     cfg.WorkDir(),
		Timeout:     cfg.FFmpegTimeout(),
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize video engine: %w", err)
	}

	store, err := artifacts.NewStore(cfg.OutputDir(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize artifact store: %w", err)
	}

	m := metrics.NewMetrics()

	pipeline := &extract.Pipeline{
		Client:  client,
		User:    cfg.NVR.Username,
		Pass:    cfg.NVR.Password,
		Engine:  engine,
		Store:   store,
		WorkDir: cfg.WorkDir(),
		Lifecycle: extract.LifecycleConfig{
			Grace:       time.Duration(cfg.Export.GraceSeconds) * time.Second,
			Interval:    time.Duration(cfg.Export.PollSeconds) * time.Second,
			StallBudget: cfg.Export.StallBudget,
			DeleteDelay: time.Duration(cfg.Export.DeleteDelaySeconds) * time.Second,
		},
		Metrics: m,
		Logger:  logger,
	}

	executor := &jobs.PipelineExecutor{
		Pipeline: pipeline,
		Engine:   engine,
		Store:    store,
		FontFile: cfg.Processing.FontFile,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := jobs.NewRunner(repo, executor, m, logger)
	go runner.Start(ctx)

	apiServer := api.NewServer(api.ServerConfig{
		Port:       cfg.Port,
		Config:     cfg,
		Repository: repo,
		Runner:     runner,
		Client:     client,
		Store:      store,
		Metrics:    m,
		Logger:     logger,
		StartTime:  startTime,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig)

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// ensureAuthToken persists the API token. A configured token wins; with
// nothing configured and nothing stored, a random one is generated once
// and kept across restarts.
func ensureAuthToken(repo jobs.Repository, configured string) (string, error) {
	ctx := context.Background()

	if configured != "" {
		if err := repo.SetConfig(ctx, "auth_token", configured); err != nil {
			return "", err
		}
		return configured, nil
	}

	existing, err := repo.GetConfig(ctx, "auth_token")
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, "auth_token", token); err != nil {
		return "", err
	}

	return token, nil
}
