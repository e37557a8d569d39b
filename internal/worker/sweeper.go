// Package worker runs the background sweep that promotes pending verifications.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aqi-agent/internal/logging"
	"github.com/aqi-agent/internal/retry"
	"github.com/aqi-agent/internal/service"
	"github.com/robfig/cron/v3"
)

// SweepRunner is the part of the agent the sweeper drives
type SweepRunner interface {
	Sweep(ctx context.Context, limit int) (service.SweepResult, error)
}

// SweeperConfig holds configuration for a Sweeper
type SweeperConfig struct {
	Runner    SweepRunner
	Schedule  string // cron spec, e.g. "@every 5m"
	BatchSize int
	Retry     *retry.RetryConfig // defaults to retry.DefaultRetryConfig
	Timeout   time.Duration      // deadline of one run, default 1m
}

// Sweeper runs the sweep on a cron schedule. Runs never overlap.
type Sweeper struct {
	runner    SweepRunner
	schedule  string
	batchSize int
	retryCfg  *retry.RetryConfig
	timeout   time.Duration
	logger    *logging.Logger

	cron    *cron.Cron
	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	lastRun *RunReport
}

// RunReport describes the most recent sweep run
type RunReport struct {
	StartedAt time.Time
	Duration  time.Duration
	Result    service.SweepResult
	Attempts  int
	Err       error
}

// NewSweeper creates a sweeper
func NewSweeper(cfg *SweeperConfig) (*Sweeper, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("sweep runner cannot be nil")
	}

	schedule := cfg.Schedule
	if schedule == "" {
		schedule = "@every 5m"
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = service.DefaultSweepBatch
	}

	retryCfg := cfg.Retry
	if retryCfg == nil {
		retryCfg = retry.DefaultRetryConfig()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}

	return &Sweeper{
		runner:    cfg.Runner,
		schedule:  schedule,
		batchSize: batchSize,
		retryCfg:  retryCfg,
		timeout:   timeout,
		logger:    logging.GetGlobalLogger().Named("sweeper"),
	}, nil
}

// Start schedules the sweep. The context bounds every run.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("sweeper is already running")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := s.cron.AddFunc(s.schedule, func() { s.RunOnce(s.ctx) }); err != nil {
		s.cancel()
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.WithFields(map[string]interface{}{
		"schedule":  s.schedule,
		"batchSize": s.batchSize,
	}).Info("Sweeper started")
	return nil
}

// Stop cancels in-flight runs and waits for them to finish
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	c := s.cron
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	<-c.Stop().Done()
	s.logger.Info("Sweeper stopped")
}

// IsRunning reports whether the schedule is active
func (s *Sweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LastRun returns the report of the most recent run, nil before the first one
func (s *Sweeper) LastRun() *RunReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRun == nil {
		return nil
	}
	report := *s.lastRun
	return &report
}

// RunOnce sweeps one batch, retrying transient storage failures
func (s *Sweeper) RunOnce(ctx context.Context) *RunReport {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ctx = logging.WithLogger(ctx, s.logger)

	report := &RunReport{StartedAt: time.Now()}
	outcome := retry.WithExponentialBackoff(ctx, s.retryCfg, func(ctx context.Context, attempt int) error {
		result, err := s.runner.Sweep(ctx, s.batchSize)
		// rows promoted before a failure stay promoted
		report.Result.Promoted += result.Promoted
		report.Result.Deferred += result.Deferred
		report.Result.Skipped += result.Skipped
		return err
	})
	report.Attempts = outcome.Attempts
	report.Duration = time.Since(report.StartedAt)
	if !outcome.Success {
		report.Err = outcome.LastError
		s.logger.WithError(report.Err).WithField("attempts", report.Attempts).Error("Sweep run failed")
	}

	s.mu.Lock()
	s.lastRun = report
	s.mu.Unlock()
	return report
}
