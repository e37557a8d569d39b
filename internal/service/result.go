package service

import (
	"time"

	apperrors "github.com/aqi-agent/internal/errors"
	"github.com/aqi-agent/internal/types"
)

// Result is the outcome of a submit: either Accepted or Rejected
type Result interface {
	isResult()
	// Verified reports whether the submission earned a grant.
	Verified() bool
}

// Accepted is a verified submission and its grant
type Accepted struct {
	VerificationID string
	SubmissionID   string
	Score          int
	Tokens         int64
	Tier           Tier
}

func (Accepted) isResult() {}

// Verified is always true for Accepted
func (Accepted) Verified() bool { return true }

// Rejected is a submission that earned nothing.
// VerificationID is empty for invalid readings, which are not persisted.
type Rejected struct {
	VerificationID string
	Code           types.RejectionCode
	Reason         string
	Score          int
	Field          string        // offending input of an invalid reading
	RetryAfter     time.Duration // time left in the rate-limit window
}

func (Rejected) isResult() {}

// Verified is always false for Rejected
func (Rejected) Verified() bool { return false }

// Err converts the rejection into the categorized error the HTTP layer reports
func (r Rejected) Err() *apperrors.CategorizedError {
	if r.Code == types.RejectTooSoon {
		err := apperrors.NewTooSoonError(int64(r.RetryAfter.Round(time.Second) / time.Second))
		err.Message = r.Reason
		return err
	}
	field := r.Field
	if field == "" {
		field = "reading"
	}
	return apperrors.NewInvalidReadingError(field, r.Reason)
}

// Pending is a submission queued for a deferred sweep
type Pending struct {
	VerificationID string
	SubmissionID   string
}

// SweepResult summarises one sweep run
type SweepResult struct {
	Promoted int
	Deferred int
	Skipped  int
}
