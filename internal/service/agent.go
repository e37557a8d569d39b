package service

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/aqi-agent/internal/errors"
	"github.com/aqi-agent/internal/logging"
	"github.com/aqi-agent/internal/metrics"
	"github.com/aqi-agent/internal/models"
	"github.com/aqi-agent/internal/storage"
	"github.com/aqi-agent/internal/types"
	"github.com/google/uuid"
)

// Clock returns the current time
type Clock func() time.Time

// AgentConfig holds the dependencies of an Agent
type AgentConfig struct {
	Ledger        storage.Ledger
	StatsCache    storage.StatsCache // optional
	MinInterval   time.Duration
	DefaultSource types.Source
	Clock         Clock // defaults to time.Now in UTC
}

// Agent verifies air-quality submissions and rewards eligible ones.
// All ledger mutation goes through it.
type Agent struct {
	ledger        storage.Ledger
	cache         storage.StatsCache
	guard         *EligibilityGuard
	verifications *VerificationLedger
	tokens        *TokenLedger
	defaultSource types.Source
	clock         Clock
}

// NewAgent creates an agent over the given ledger
func NewAgent(cfg AgentConfig) (*Agent, error) {
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("ledger cannot be nil")
	}

	minInterval := cfg.MinInterval
	if minInterval == 0 {
		minInterval = types.DefaultMinInterval
	}
	if minInterval < 0 {
		return nil, fmt.Errorf("min interval must be positive, got %v", minInterval)
	}

	defaultSource := cfg.DefaultSource
	if defaultSource == "" {
		defaultSource = types.SourceSelfReported
	}
	if !defaultSource.Valid() {
		return nil, fmt.Errorf("default source %q is not trusted", defaultSource)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}

	return &Agent{
		ledger:        cfg.Ledger,
		cache:         cfg.StatsCache,
		guard:         NewEligibilityGuard(minInterval),
		verifications: NewVerificationLedger(cfg.Ledger),
		tokens:        NewTokenLedger(cfg.Ledger),
		defaultSource: defaultSource,
		clock:         clock,
	}, nil
}

// Submit evaluates a reading at the agent's current time
func (a *Agent) Submit(ctx context.Context, userID string, reading Reading) (Result, error) {
	return a.SubmitAt(ctx, userID, reading, a.clock())
}

// SubmitAt validates a reading, persists it, applies the eligibility guard
// and, when eligible, records a verified verification and its grant.
// Domain rejections are returned as Rejected; only storage failures are errors,
// and nothing is committed when an error is returned.
func (a *Agent) SubmitAt(ctx context.Context, userID string, reading Reading, now time.Time) (Result, error) {
	if userID == "" {
		return nil, apperrors.NewInvalidParameterError("userId", "user id is required")
	}
	logger := logging.FromContext(ctx).Named("agent").WithFields(map[string]interface{}{
		"user_id": userID,
		"aqi":     reading.AQI,
	})

	valid, err := ValidateReading(reading, a.defaultSource)
	if err != nil {
		rejected := invalidReading(err)
		metrics.RecordSubmission(metrics.OutcomeInvalidReading)
		logger.WithFields(map[string]interface{}{
			"outcome": metrics.OutcomeInvalidReading,
			"score":   rejected.Score,
			"tokens":  0,
			"reason":  rejected.Reason,
		}).Info("Submission rejected")
		return rejected, nil
	}

	var result Result
	err = a.ledger.InUserTx(ctx, userID, func(ctx context.Context, tx storage.LedgerTx) error {
		sub := newSubmission(userID, valid, now)
		if err := tx.InsertSubmission(ctx, sub); err != nil {
			return err
		}

		eligibility, err := a.guard.Check(ctx, tx, userID, now)
		if err != nil {
			return err
		}

		if !eligibility.Eligible {
			reason := fmt.Sprintf("submission too soon; next reward available in %s",
				eligibility.RetryAfter.Round(time.Second))
			v, err := a.verifications.RecordRejected(ctx, tx, sub, types.TooSoonScore, reason, now)
			if err != nil {
				return err
			}
			result = Rejected{
				VerificationID: v.ID,
				Code:           types.RejectTooSoon,
				Reason:         reason,
				Score:          types.TooSoonScore,
				RetryAfter:     eligibility.RetryAfter,
			}
			return nil
		}

		tier, err := CalculateReward(valid.AQI)
		if err != nil {
			return apperrors.NewInternalError("reward calculation failed", err)
		}
		score := Score(eligibility.Prior != nil)

		v, err := a.verifications.RecordVerified(ctx, tx, sub, score, tier, now)
		if err != nil {
			return err
		}
		if _, err := a.tokens.Grant(ctx, tx, userID, v.TokensAwarded, v.ID, now); err != nil {
			return err
		}

		result = Accepted{
			VerificationID: v.ID,
			SubmissionID:   sub.ID,
			Score:          score,
			Tokens:         v.TokensAwarded,
			Tier:           tier,
		}
		return nil
	})
	if err != nil {
		metrics.RecordSubmission(metrics.OutcomeError)
		logger.WithError(err).Error("Submission failed, nothing committed")
		return nil, err
	}

	a.invalidateStats(ctx, userID)

	switch r := result.(type) {
	case Accepted:
		metrics.RecordSubmission(metrics.OutcomeVerified)
		metrics.RecordTokens(r.Tier.Label, r.Tokens)
		logger.WithFields(map[string]interface{}{
			"outcome":         metrics.OutcomeVerified,
			"score":           r.Score,
			"tokens":          r.Tokens,
			"verification_id": r.VerificationID,
		}).Info("Submission verified")
	case Rejected:
		metrics.RecordSubmission(metrics.OutcomeTooSoon)
		logger.WithFields(map[string]interface{}{
			"outcome":         metrics.OutcomeTooSoon,
			"score":           r.Score,
			"tokens":          0,
			"verification_id": r.VerificationID,
		}).Info("Submission rejected")
	}

	return result, nil
}

// Enqueue validates a reading and records it as pending for a later sweep.
// Invalid readings are rejected the same way Submit rejects them.
func (a *Agent) Enqueue(ctx context.Context, userID string, reading Reading) (*Pending, *Rejected, error) {
	if userID == "" {
		return nil, nil, apperrors.NewInvalidParameterError("userId", "user id is required")
	}
	logger := logging.FromContext(ctx).Named("agent").WithField("user_id", userID)

	valid, err := ValidateReading(reading, a.defaultSource)
	if err != nil {
		rejected := invalidReading(err)
		metrics.RecordSubmission(metrics.OutcomeInvalidReading)
		logger.WithField("reason", rejected.Reason).Info("Deferred submission rejected")
		return nil, &rejected, nil
	}

	now := a.clock()
	var pending *Pending
	err = a.ledger.InUserTx(ctx, userID, func(ctx context.Context, tx storage.LedgerTx) error {
		sub := newSubmission(userID, valid, now)
		if err := tx.InsertSubmission(ctx, sub); err != nil {
			return err
		}
		v, err := a.verifications.RecordPending(ctx, tx, sub, now)
		if err != nil {
			return err
		}
		pending = &Pending{VerificationID: v.ID, SubmissionID: sub.ID}
		return nil
	})
	if err != nil {
		metrics.RecordSubmission(metrics.OutcomeError)
		logger.WithError(err).Error("Deferred submission failed")
		return nil, nil, err
	}

	a.invalidateStats(ctx, userID)
	metrics.RecordSubmission(metrics.OutcomePending)
	logger.WithField("verification_id", pending.VerificationID).Info("Submission queued for sweep")
	return pending, nil, nil
}

// DefaultSweepBatch is the sweep batch used when none is given
const DefaultSweepBatch = 100

// Sweep promotes up to limit pending verifications to verified and writes
// their grants. A row whose user was rewarded inside the rate-limit window
// stays pending. Running it again, or alongside Submit, never double-grants.
func (a *Agent) Sweep(ctx context.Context, limit int) (SweepResult, error) {
	return a.SweepAt(ctx, a.clock(), limit)
}

// SweepAt is Sweep evaluated at now
func (a *Agent) SweepAt(ctx context.Context, now time.Time, limit int) (SweepResult, error) {
	logger := logging.FromContext(ctx).Named("sweep")
	start := time.Now()
	var result SweepResult
	if limit <= 0 {
		limit = DefaultSweepBatch
	}

	pending, err := a.ledger.PendingVerifications(ctx, limit)
	if err != nil {
		return result, err
	}

	for _, p := range pending {
		outcome, tokens, err := a.promote(ctx, p, now)
		if err != nil {
			metrics.RecordSweep(result.Promoted, result.Deferred, time.Since(start))
			return result, err
		}

		switch outcome {
		case sweepPromoted:
			result.Promoted++
			a.invalidateStats(ctx, p.UserID)
			logger.WithFields(map[string]interface{}{
				"user_id":         p.UserID,
				"verification_id": p.ID,
				"tokens":          tokens,
			}).Info("Pending verification promoted")
		case sweepDeferred:
			result.Deferred++
		default:
			result.Skipped++
		}
	}

	metrics.RecordSweep(result.Promoted, result.Deferred, time.Since(start))
	if len(pending) > 0 {
		logger.WithFields(map[string]interface{}{
			"promoted": result.Promoted,
			"deferred": result.Deferred,
			"skipped":  result.Skipped,
		}).Info("Sweep finished")
	}
	return result, nil
}

type sweepOutcome int

const (
	sweepSkipped sweepOutcome = iota
	sweepPromoted
	sweepDeferred
)

func (a *Agent) promote(ctx context.Context, p *models.Verification, now time.Time) (sweepOutcome, int64, error) {
	outcome := sweepSkipped
	var tokens int64

	err := a.ledger.InUserTx(ctx, p.UserID, func(ctx context.Context, tx storage.LedgerTx) error {
		v, sub, err := tx.LockPending(ctx, p.ID)
		if err != nil {
			return err
		}
		if v == nil {
			// promoted by a concurrent sweep
			return nil
		}

		eligibility, err := a.guard.Check(ctx, tx, v.UserID, now)
		if err != nil {
			return err
		}
		if !eligibility.Eligible {
			outcome = sweepDeferred
			return nil
		}

		tier, err := CalculateReward(sub.AQI)
		if err != nil {
			return apperrors.NewInternalError("reward calculation failed", err)
		}
		score := Score(eligibility.Prior != nil)

		if err := a.verifications.Promote(ctx, tx, v, score, tier, now); err != nil {
			return err
		}
		if _, err := a.tokens.Grant(ctx, tx, v.UserID, tier.Tokens, v.ID, now); err != nil {
			return err
		}

		outcome = sweepPromoted
		tokens = tier.Tokens
		metrics.RecordTokens(tier.Label, tier.Tokens)
		return nil
	})
	if err != nil {
		return sweepSkipped, 0, err
	}
	return outcome, tokens, nil
}

// Stats aggregates a user's verification history, served from the stats
// cache when present
func (a *Agent) Stats(ctx context.Context, userID string) (*models.VerificationStats, error) {
	logger := logging.FromContext(ctx).Named("agent").WithField("user_id", userID)

	var generation uint64
	cacheable := false
	if a.cache != nil {
		cached, gen, err := a.cache.GetStats(ctx, userID)
		switch {
		case err != nil:
			logger.WithError(err).Warn("Stats cache read failed, using ledger")
		case cached != nil:
			return cached, nil
		default:
			generation, cacheable = gen, true
		}
	}

	history, err := a.verifications.History(ctx, userID)
	if err != nil {
		return nil, err
	}
	stats := models.ComputeStats(history)

	if cacheable {
		if err := a.cache.SetStats(ctx, userID, stats, generation); err != nil {
			logger.WithError(err).Warn("Stats cache write failed")
		}
	}
	return stats, nil
}

// Verifications returns a user's verification history, oldest first
func (a *Agent) Verifications(ctx context.Context, userID string) ([]*models.Verification, error) {
	return a.verifications.History(ctx, userID)
}

// Balance returns the sum of a user's grants
func (a *Agent) Balance(ctx context.Context, userID string) (int64, error) {
	return a.tokens.Balance(ctx, userID)
}

// Grants returns a user's token grants, oldest first
func (a *Agent) Grants(ctx context.Context, userID string) ([]*models.TokenGrant, error) {
	return a.tokens.Grants(ctx, userID)
}

// Ping checks the ledger is reachable
func (a *Agent) Ping(ctx context.Context) error {
	return a.ledger.Ping(ctx)
}

func (a *Agent) invalidateStats(ctx context.Context, userID string) {
	if a.cache == nil {
		return
	}
	if err := a.cache.InvalidateStats(ctx, userID); err != nil {
		logging.FromContext(ctx).Named("agent").WithField("user_id", userID).
			WithError(err).Warn("Stats cache invalidation failed")
	}
}

func newSubmission(userID string, r Reading, now time.Time) *models.Submission {
	return &models.Submission{
		ID:          uuid.New().String(),
		UserID:      userID,
		Latitude:    r.Latitude,
		Longitude:   r.Longitude,
		AQI:         r.AQI,
		Source:      r.Source,
		Location:    r.Location,
		SubmittedAt: now,
	}
}

func invalidReading(err error) Rejected {
	rejected := Rejected{
		Code:   types.RejectInvalidReading,
		Reason: err.Error(),
		Score:  types.InvalidReadingScore,
	}
	if catErr := apperrors.Categorize(err); catErr != nil {
		rejected.Reason = catErr.Message
		if field, ok := catErr.Details["field"].(string); ok {
			rejected.Field = field
		}
	}
	return rejected
}
