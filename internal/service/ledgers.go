package service

import (
	"context"
	"time"

	apperrors "github.com/aqi-agent/internal/errors"
	"github.com/aqi-agent/internal/models"
	"github.com/aqi-agent/internal/storage"
	"github.com/aqi-agent/internal/types"
	"github.com/google/uuid"
)

// VerificationLedger records the outcome of each submission as an immutable event.
// Writes happen inside an InUserTx owned by the agent.
type VerificationLedger struct {
	store storage.Ledger
}

// NewVerificationLedger creates a verification ledger over store
func NewVerificationLedger(store storage.Ledger) *VerificationLedger {
	return &VerificationLedger{store: store}
}

// RecordVerified writes a terminal verified verification
func (l *VerificationLedger) RecordVerified(ctx context.Context, tx storage.LedgerTx, sub *models.Submission, score int, tier Tier, at time.Time) (*models.Verification, error) {
	verifiedAt := at
	v := &models.Verification{
		ID:            uuid.New().String(),
		UserID:        sub.UserID,
		SubmissionID:  sub.ID,
		Status:        types.StatusVerified,
		Score:         score,
		TokensAwarded: tier.Tokens,
		QualityLabel:  tier.Label,
		VerifiedAt:    &verifiedAt,
		CreatedAt:     at,
	}
	if err := tx.InsertVerification(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

// RecordRejected writes a terminal rejected verification with zero tokens
func (l *VerificationLedger) RecordRejected(ctx context.Context, tx storage.LedgerTx, sub *models.Submission, score int, reason string, at time.Time) (*models.Verification, error) {
	v := &models.Verification{
		ID:              uuid.New().String(),
		UserID:          sub.UserID,
		SubmissionID:    sub.ID,
		Status:          types.StatusRejected,
		Score:           score,
		RejectionReason: &reason,
		CreatedAt:       at,
	}
	if err := tx.InsertVerification(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

// RecordPending writes a pending verification awaiting the sweep
func (l *VerificationLedger) RecordPending(ctx context.Context, tx storage.LedgerTx, sub *models.Submission, at time.Time) (*models.Verification, error) {
	v := &models.Verification{
		ID:           uuid.New().String(),
		UserID:       sub.UserID,
		SubmissionID: sub.ID,
		Status:       types.StatusPending,
		CreatedAt:    at,
	}
	if err := tx.InsertVerification(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

// Promote moves a locked pending verification to verified
func (l *VerificationLedger) Promote(ctx context.Context, tx storage.LedgerTx, v *models.Verification, score int, tier Tier, at time.Time) error {
	if err := tx.MarkVerified(ctx, v.ID, score, tier.Tokens, tier.Label, at); err != nil {
		return err
	}
	verifiedAt := at
	v.Status = types.StatusVerified
	v.Score = score
	v.TokensAwarded = tier.Tokens
	v.QualityLabel = tier.Label
	v.VerifiedAt = &verifiedAt
	return nil
}

// History returns a user's verifications, oldest first
func (l *VerificationLedger) History(ctx context.Context, userID string) ([]*models.Verification, error) {
	return l.store.Verifications(ctx, userID)
}

// TokenLedger is the append-only store of token grants
type TokenLedger struct {
	store storage.Ledger
}

// NewTokenLedger creates a token ledger over store
func NewTokenLedger(store storage.Ledger) *TokenLedger {
	return &TokenLedger{store: store}
}

// Grant appends exactly one grant. A negative amount is a programming error.
func (l *TokenLedger) Grant(ctx context.Context, tx storage.LedgerTx, userID string, amount int64, verificationID string, at time.Time) (*models.TokenGrant, error) {
	if amount < 0 {
		return nil, apperrors.NewInvalidAmountError(amount)
	}
	g := &models.TokenGrant{
		ID:             uuid.New().String(),
		UserID:         userID,
		Amount:         amount,
		VerificationID: verificationID,
		CreatedAt:      at,
	}
	if err := tx.InsertGrant(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// Balance sums all grants of a user
func (l *TokenLedger) Balance(ctx context.Context, userID string) (int64, error) {
	return l.store.Balance(ctx, userID)
}

// Grants lists a user's grants, oldest first
func (l *TokenLedger) Grants(ctx context.Context, userID string) ([]*models.TokenGrant, error) {
	return l.store.Grants(ctx, userID)
}
