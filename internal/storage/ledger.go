// Package storage provides the verification and token ledgers behind the agent.
package storage

import (
	"context"
	"time"

	"github.com/aqi-agent/internal/models"
)

// Ledger is the durable store of submissions, verifications and token grants.
// MemoryLedger and PostgresLedger share the same atomic-commit contract.
type Ledger interface {
	// InUserTx runs fn in one atomic unit serialized against every other
	// InUserTx call for the same user. Nothing fn wrote is visible or kept
	// unless fn returns nil and the context is still live at commit.
	InUserTx(ctx context.Context, userID string, fn func(ctx context.Context, tx LedgerTx) error) error

	// Verifications returns a user's verification history, oldest first.
	Verifications(ctx context.Context, userID string) ([]*models.Verification, error)

	// Submissions returns a user's submissions, oldest first.
	Submissions(ctx context.Context, userID string) ([]*models.Submission, error)

	// Grants returns a user's token grants, oldest first.
	Grants(ctx context.Context, userID string) ([]*models.TokenGrant, error)

	// Balance sums all token grants of a user.
	Balance(ctx context.Context, userID string) (int64, error)

	// PendingVerifications returns up to limit pending verifications, oldest first.
	PendingVerifications(ctx context.Context, limit int) ([]*models.Verification, error)

	// Ping checks the ledger is reachable.
	Ping(ctx context.Context) error
}

// LedgerTx is the write side of a Ledger, only usable inside InUserTx
type LedgerTx interface {
	InsertSubmission(ctx context.Context, s *models.Submission) error

	// LatestVerified returns the user's verification with the most recent
	// verified-at timestamp, or nil when the user has none.
	LatestVerified(ctx context.Context, userID string) (*models.Verification, error)

	InsertVerification(ctx context.Context, v *models.Verification) error
	InsertGrant(ctx context.Context, g *models.TokenGrant) error

	// LockPending returns the verification and its submission if it is still
	// pending, or nil values when it has already reached a terminal state.
	LockPending(ctx context.Context, verificationID string) (*models.Verification, *models.Submission, error)

	// MarkVerified moves a pending verification to verified.
	MarkVerified(ctx context.Context, verificationID string, score int, tokens int64, label string, at time.Time) error
}
