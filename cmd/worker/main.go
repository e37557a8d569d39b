// Package main provides the sweep worker entry point for the air-quality reward agent.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/aqi-agent/internal/config"
	"github.com/aqi-agent/internal/logging"
	"github.com/aqi-agent/internal/metrics"
	"github.com/aqi-agent/internal/service"
	"github.com/aqi-agent/internal/storage"
	"github.com/aqi-agent/internal/worker"
)

func main() {
	var (
		once        = flag.Bool("once", false, "Sweep one batch and exit")
		metricsAddr = flag.String("metrics-addr", ":9091", "Address of the metrics endpoint, empty to disable")
	)
	flag.Parse()

	log.Println("AQI agent sweep worker starting...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.Database.Driver != config.DriverPostgres {
		log.Fatalf("The worker needs a shared ledger, LEDGER_DRIVER=%s is process-local", cfg.Database.Driver)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger().Named("worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// the server owns migrations
	backends, err := storage.Open(ctx, cfg, false)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open storage")
	}
	defer backends.Close()

	agent, err := service.NewAgent(service.AgentConfig{
		Ledger:        backends.Ledger,
		StatsCache:    backends.StatsCache,
		MinInterval:   cfg.Agent.MinInterval,
		DefaultSource: cfg.Agent.DefaultSource,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create agent")
	}

	sweeper, err := worker.NewSweeper(&worker.SweeperConfig{
		Runner:    agent,
		Schedule:  cfg.Sweep.Schedule,
		BatchSize: cfg.Sweep.BatchSize,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create sweeper")
	}

	if *once {
		report := sweeper.RunOnce(ctx)
		logger.WithFields(map[string]interface{}{
			"promoted": report.Result.Promoted,
			"deferred": report.Result.Deferred,
			"skipped":  report.Result.Skipped,
			"attempts": report.Attempts,
		}).Info("Sweep finished")
		if report.Err != nil {
			logger.WithError(report.Err).Fatal("Sweep failed")
		}
		return
	}

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsServer := &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.WithError(err).Error("Metrics endpoint failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	if err := sweeper.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start sweeper")
	}

	<-ctx.Done()
	logger.Info("Shutting down worker...")
	sweeper.Stop()
	logger.Info("Worker exited")
}
