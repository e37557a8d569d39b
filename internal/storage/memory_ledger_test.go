package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	apperrors "github.com/aqi-agent/internal/errors"
	"github.com/aqi-agent/internal/models"
	"github.com/aqi-agent/internal/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSubmission(userID string, aqi int, at time.Time) *models.Submission {
	return &models.Submission{
		ID:          uuid.New().String(),
		UserID:      userID,
		Latitude:    "37.7749",
		Longitude:   "-122.4194",
		AQI:         aqi,
		Source:      types.SourceSelfReported,
		SubmittedAt: at,
	}
}

func newVerified(userID, submissionID string, at time.Time, tokens int64) *models.Verification {
	verifiedAt := at
	return &models.Verification{
		ID:            uuid.New().String(),
		UserID:        userID,
		SubmissionID:  submissionID,
		Status:        types.StatusVerified,
		Score:         100,
		TokensAwarded: tokens,
		QualityLabel:  "Good",
		VerifiedAt:    &verifiedAt,
		CreatedAt:     at,
	}
}

func TestMemoryLedger_CommitOnSuccess(t *testing.T) {
	ctx := testContext(t)
	ledger := NewMemoryLedger()
	now := time.Now().UTC()

	err := ledger.InUserTx(ctx, "alice", func(ctx context.Context, tx LedgerTx) error {
		sub := newSubmission("alice", 42, now)
		require.NoError(t, tx.InsertSubmission(ctx, sub))
		ver := newVerified("alice", sub.ID, now, 35)
		require.NoError(t, tx.InsertVerification(ctx, ver))
		return tx.InsertGrant(ctx, &models.TokenGrant{
			ID: uuid.New().String(), UserID: "alice", Amount: 35, VerificationID: ver.ID, CreatedAt: now,
		})
	})
	require.NoError(t, err)

	balance, err := ledger.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(35), balance)

	verifications, err := ledger.Verifications(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, verifications, 1)
	assert.Equal(t, types.StatusVerified, verifications[0].Status)

	subs, err := ledger.Submissions(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestMemoryLedger_RollbackOnError(t *testing.T) {
	ctx := testContext(t)
	ledger := NewMemoryLedger()
	now := time.Now().UTC()
	boom := errors.New("boom")

	err := ledger.InUserTx(ctx, "alice", func(ctx context.Context, tx LedgerTx) error {
		sub := newSubmission("alice", 42, now)
		require.NoError(t, tx.InsertSubmission(ctx, sub))
		require.NoError(t, tx.InsertVerification(ctx, newVerified("alice", sub.ID, now, 35)))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	verifications, err := ledger.Verifications(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, verifications)

	subs, err := ledger.Submissions(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestMemoryLedger_CancelledContextDoesNotCommit(t *testing.T) {
	ledger := NewMemoryLedger()
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now().UTC()

	err := ledger.InUserTx(ctx, "alice", func(ctx context.Context, tx LedgerTx) error {
		require.NoError(t, tx.InsertSubmission(ctx, newSubmission("alice", 10, now)))
		cancel()
		return nil
	})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeStorageUnavailable))

	subs, err := ledger.Submissions(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestMemoryLedger_RejectsNegativeGrant(t *testing.T) {
	ctx := testContext(t)
	ledger := NewMemoryLedger()

	err := ledger.InUserTx(ctx, "alice", func(ctx context.Context, tx LedgerTx) error {
		return tx.InsertGrant(ctx, &models.TokenGrant{ID: "g1", UserID: "alice", Amount: -1, VerificationID: "v1"})
	})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidAmount))

	balance, err := ledger.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestMemoryLedger_RejectsCrossUserWrites(t *testing.T) {
	ctx := testContext(t)
	ledger := NewMemoryLedger()

	err := ledger.InUserTx(ctx, "alice", func(ctx context.Context, tx LedgerTx) error {
		return tx.InsertSubmission(ctx, newSubmission("bob", 10, time.Now()))
	})
	assert.Error(t, err)
}

func TestMemoryLedger_LatestVerifiedSeesStagedRows(t *testing.T) {
	ctx := testContext(t)
	ledger := NewMemoryLedger()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, ledger.InUserTx(ctx, "alice", func(ctx context.Context, tx LedgerTx) error {
		sub := newSubmission("alice", 10, base)
		require.NoError(t, tx.InsertSubmission(ctx, sub))
		return tx.InsertVerification(ctx, newVerified("alice", sub.ID, base, 50))
	}))

	require.NoError(t, ledger.InUserTx(ctx, "alice", func(ctx context.Context, tx LedgerTx) error {
		latest, err := tx.LatestVerified(ctx, "alice")
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, base, *latest.VerifiedAt)

		later := base.Add(2 * time.Hour)
		sub := newSubmission("alice", 20, later)
		require.NoError(t, tx.InsertSubmission(ctx, sub))
		require.NoError(t, tx.InsertVerification(ctx, newVerified("alice", sub.ID, later, 50)))

		latest, err = tx.LatestVerified(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, later, *latest.VerifiedAt)
		return nil
	}))

	none, err := func() (*models.Verification, error) {
		var out *models.Verification
		err := ledger.InUserTx(ctx, "bob", func(ctx context.Context, tx LedgerTx) error {
			var err error
			out, err = tx.LatestVerified(ctx, "bob")
			return err
		})
		return out, err
	}()
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestMemoryLedger_PendingLifecycle(t *testing.T) {
	ctx := testContext(t)
	ledger := NewMemoryLedger()
	now := time.Now().UTC()

	var pendingID string
	require.NoError(t, ledger.InUserTx(ctx, "alice", func(ctx context.Context, tx LedgerTx) error {
		sub := newSubmission("alice", 30, now)
		require.NoError(t, tx.InsertSubmission(ctx, sub))
		pendingID = uuid.New().String()
		return tx.InsertVerification(ctx, &models.Verification{
			ID: pendingID, UserID: "alice", SubmissionID: sub.ID, Status: types.StatusPending, CreatedAt: now,
		})
	}))

	pending, err := ledger.PendingVerifications(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, pendingID, pending[0].ID)

	require.NoError(t, ledger.InUserTx(ctx, "alice", func(ctx context.Context, tx LedgerTx) error {
		v, s, err := tx.LockPending(ctx, pendingID)
		require.NoError(t, err)
		require.NotNil(t, v)
		assert.Equal(t, 30, s.AQI)
		require.NoError(t, tx.MarkVerified(ctx, pendingID, 100, 35, "Good", now))

		again, _, err := tx.LockPending(ctx, pendingID)
		require.NoError(t, err)
		assert.Nil(t, again)
		return nil
	}))

	pending, err = ledger.PendingVerifications(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	verifications, err := ledger.Verifications(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, verifications, 1)
	assert.Equal(t, types.StatusVerified, verifications[0].Status)
	assert.Equal(t, int64(35), verifications[0].TokensAwarded)
}

func TestMemoryLedger_ReadsReturnCopies(t *testing.T) {
	ctx := testContext(t)
	ledger := NewMemoryLedger()
	now := time.Now().UTC()

	require.NoError(t, ledger.InUserTx(ctx, "alice", func(ctx context.Context, tx LedgerTx) error {
		sub := newSubmission("alice", 10, now)
		require.NoError(t, tx.InsertSubmission(ctx, sub))
		return tx.InsertVerification(ctx, newVerified("alice", sub.ID, now, 50))
	}))

	first, err := ledger.Verifications(ctx, "alice")
	require.NoError(t, err)
	first[0].TokensAwarded = 9999

	second, err := ledger.Verifications(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(50), second[0].TokensAwarded)
}

func TestMemoryLedger_SerializesSameUser(t *testing.T) {
	ctx := testContext(t)
	ledger := NewMemoryLedger()
	now := time.Now().UTC()

	const workers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	inside := 0
	maxInside := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := ledger.InUserTx(ctx, "alice", func(ctx context.Context, tx LedgerTx) error {
				mu.Lock()
				inside++
				if inside > maxInside {
					maxInside = inside
				}
				mu.Unlock()

				latest, err := tx.LatestVerified(ctx, "alice")
				if err != nil {
					return err
				}
				defer func() {
					mu.Lock()
					inside--
					mu.Unlock()
				}()
				if latest != nil {
					return nil
				}
				sub := newSubmission("alice", 10, now)
				if err := tx.InsertSubmission(ctx, sub); err != nil {
					return err
				}
				return tx.InsertVerification(ctx, newVerified("alice", sub.ID, now, 50))
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInside)
	verifications, err := ledger.Verifications(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, verifications, 1)
}

func TestMemoryLedger_LockWaitHonorsContext(t *testing.T) {
	ledger := NewMemoryLedger()
	hold := make(chan struct{})
	entered := make(chan struct{})

	go func() {
		_ = ledger.InUserTx(context.Background(), "alice", func(ctx context.Context, tx LedgerTx) error {
			close(entered)
			<-hold
			return nil
		})
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := ledger.InUserTx(ctx, "alice", func(ctx context.Context, tx LedgerTx) error {
		t.Error("fn must not run while another transaction holds the lock")
		return nil
	})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeStorageUnavailable))
	close(hold)
}

func TestMemoryLedger_LocksAreFreed(t *testing.T) {
	ledger := NewMemoryLedger()
	ctx := testContext(t)

	for i := 0; i < 50; i++ {
		userID := fmt.Sprintf("user-%d", i)
		require.NoError(t, ledger.InUserTx(ctx, userID, func(ctx context.Context, tx LedgerTx) error {
			return tx.InsertSubmission(ctx, newSubmission(userID, 10, time.Now()))
		}))
	}
	assert.Equal(t, 0, ledger.locks.size())

	hold := make(chan struct{})
	entered := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ledger.InUserTx(context.Background(), "alice", func(ctx context.Context, tx LedgerTx) error {
			close(entered)
			<-hold
			return nil
		})
	}()
	<-entered

	waitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := ledger.InUserTx(waitCtx, "alice", func(ctx context.Context, tx LedgerTx) error { return nil })
	require.Error(t, err)
	assert.Equal(t, 1, ledger.locks.size(), "the holder keeps its entry")

	close(hold)
	<-done
	assert.Equal(t, 0, ledger.locks.size())
}
