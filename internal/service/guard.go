package service

import (
	"context"
	"time"

	"github.com/aqi-agent/internal/models"
	"github.com/aqi-agent/internal/storage"
)

// Eligibility is the guard's decision for one submission
type Eligibility struct {
	Eligible bool
	// Prior is the user's most recent verified verification, nil when none exists.
	Prior *models.Verification
	// RetryAfter is how long until the user is eligible again; zero when eligible.
	RetryAfter time.Duration
}

// EligibilityGuard enforces the minimum interval between two verified
// submissions of a user. It must run inside the same InUserTx as the write
// it gates.
type EligibilityGuard struct {
	minInterval time.Duration
}

// NewEligibilityGuard creates a guard with the given minimum interval
func NewEligibilityGuard(minInterval time.Duration) *EligibilityGuard {
	return &EligibilityGuard{minInterval: minInterval}
}

// MinInterval returns the configured interval
func (g *EligibilityGuard) MinInterval() time.Duration {
	return g.minInterval
}

// Check decides whether userID may be rewarded at now.
// A verified-at in the future counts as too soon.
func (g *EligibilityGuard) Check(ctx context.Context, tx storage.LedgerTx, userID string, now time.Time) (Eligibility, error) {
	prior, err := tx.LatestVerified(ctx, userID)
	if err != nil {
		return Eligibility{}, err
	}
	if prior == nil || prior.VerifiedAt == nil {
		return Eligibility{Eligible: true}, nil
	}

	elapsed := now.Sub(*prior.VerifiedAt)
	if elapsed < g.minInterval {
		return Eligibility{Prior: prior, RetryAfter: g.minInterval - elapsed}, nil
	}
	return Eligibility{Eligible: true, Prior: prior}, nil
}
