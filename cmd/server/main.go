// Package main provides the API server entry point for the air-quality reward agent.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/aqi-agent/internal/api"
	"github.com/aqi-agent/internal/config"
	"github.com/aqi-agent/internal/logging"
	"github.com/aqi-agent/internal/service"
	"github.com/aqi-agent/internal/storage"
	"github.com/aqi-agent/internal/worker"
)

func main() {
	log.Println("AQI agent API server starting...")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
		"driver": cfg.Database.Driver,
	}).Info("Structured logging initialized")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends, err := storage.Open(ctx, cfg, os.Getenv("SKIP_MIGRATIONS") == "")
	if err != nil {
		logger.WithError(err).Fatal("Failed to open storage")
	}
	defer backends.Close()

	if backends.StatsCache == nil {
		logger.Info("Redis disabled, stats are computed on every request")
	}

	agent, err := service.NewAgent(service.AgentConfig{
		Ledger:        backends.Ledger,
		StatsCache:    backends.StatsCache,
		MinInterval:   cfg.Agent.MinInterval,
		DefaultSource: cfg.Agent.DefaultSource,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create agent")
	}

	// The in-memory ledger is private to this process, so nothing else can sweep it
	if cfg.Database.Driver == config.DriverMemory {
		sweeper, err := worker.NewSweeper(&worker.SweeperConfig{
			Runner:    agent,
			Schedule:  cfg.Sweep.Schedule,
			BatchSize: cfg.Sweep.BatchSize,
		})
		if err != nil {
			logger.WithError(err).Fatal("Failed to create sweeper")
		}
		if err := sweeper.Start(ctx); err != nil {
			logger.WithError(err).Fatal("Failed to start sweeper")
		}
		defer sweeper.Stop()
	}

	serverConfig := api.NewServerConfig(cfg)
	server := api.NewServer(serverConfig, agent)

	// Start server in a goroutine
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
