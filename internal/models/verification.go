package models

import (
	"time"

	"github.com/aqi-agent/internal/types"
)

// Verification is the outcome of evaluating exactly one Submission
type Verification struct {
	ID              string                   `json:"id" db:"id"`
	UserID          string                   `json:"userId" db:"user_id"`
	SubmissionID    string                   `json:"submissionId" db:"submission_id"`
	Status          types.VerificationStatus `json:"status" db:"status"`
	Score           int                      `json:"verificationScore" db:"score"`
	TokensAwarded   int64                    `json:"tokensAwarded" db:"tokens_awarded"`
	QualityLabel    string                   `json:"qualityLabel,omitempty" db:"quality_label"`
	RejectionReason *string                  `json:"rejectionReason,omitempty" db:"rejection_reason"`
	VerifiedAt      *time.Time               `json:"verifiedAt,omitempty" db:"verified_at"`
	CreatedAt       time.Time                `json:"createdAt" db:"created_at"`
}

// IsVerified reports whether the verification earned a grant
func (v *Verification) IsVerified() bool {
	return v.Status == types.StatusVerified
}

// VerificationStats aggregates a user's verification history
type VerificationStats struct {
	TotalSubmissions         int   `json:"totalSubmissions"`
	VerifiedSubmissions      int   `json:"verifiedSubmissions"`
	TotalTokensAwarded       int64 `json:"totalTokensAwarded"`
	AverageVerificationScore int   `json:"averageVerificationScore"`
}

// ComputeStats folds a verification history into its aggregate.
// The average score is rounded half up and is 0 for an empty history.
func ComputeStats(verifications []*Verification) *VerificationStats {
	stats := &VerificationStats{TotalSubmissions: len(verifications)}
	if len(verifications) == 0 {
		return stats
	}

	var scoreSum int64
	for _, v := range verifications {
		if v.IsVerified() {
			stats.VerifiedSubmissions++
		}
		stats.TotalTokensAwarded += v.TokensAwarded
		scoreSum += int64(v.Score)
	}

	n := int64(len(verifications))
	stats.AverageVerificationScore = int((2*scoreSum + n) / (2 * n))
	return stats
}
