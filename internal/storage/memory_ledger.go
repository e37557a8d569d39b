package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "github.com/aqi-agent/internal/errors"
	"github.com/aqi-agent/internal/models"
	"github.com/aqi-agent/internal/types"
)

// MemoryLedger implements Ledger in process memory, for tests and development.
// Thread-safe; writes of one user are serialized by a per-user lock.
type MemoryLedger struct {
	mu            sync.RWMutex
	submissions   []*models.Submission
	verifications []*models.Verification
	grants        []*models.TokenGrant
	verByID       map[string]*models.Verification
	subByID       map[string]*models.Submission

	locks *userLocks
}

// NewMemoryLedger creates an empty in-memory ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		verByID: make(map[string]*models.Verification),
		subByID: make(map[string]*models.Submission),
		locks:   newUserLocks(),
	}
}

// userLocks hands out one lock per user. A lock is a buffered channel so that
// waiting for it can be abandoned when the context ends. An entry lives while
// someone holds or waits for it.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	ch   chan struct{}
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*userLock)}
}

func (u *userLocks) acquire(ctx context.Context, userID string) (func(), error) {
	u.mu.Lock()
	lock, ok := u.locks[userID]
	if !ok {
		lock = &userLock{ch: make(chan struct{}, 1)}
		u.locks[userID] = lock
	}
	lock.refs++
	u.mu.Unlock()

	select {
	case lock.ch <- struct{}{}:
		return func() {
			<-lock.ch
			u.release(userID, lock)
		}, nil
	case <-ctx.Done():
		u.release(userID, lock)
		return nil, ctx.Err()
	}
}

func (u *userLocks) release(userID string, lock *userLock) {
	u.mu.Lock()
	defer u.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(u.locks, userID)
	}
}

// size returns the number of live lock entries
func (u *userLocks) size() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.locks)
}

// InUserTx runs fn against staged writes and applies them only on success
func (m *MemoryLedger) InUserTx(ctx context.Context, userID string, fn func(ctx context.Context, tx LedgerTx) error) error {
	release, err := m.locks.acquire(ctx, userID)
	if err != nil {
		return apperrors.NewStorageUnavailableError("acquire user lock", err)
	}
	defer release()

	tx := &memoryTx{ledger: m, userID: userID, updates: make(map[string]*models.Verification)}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	// a cancelled caller must not commit half of what it meant to
	if err := ctx.Err(); err != nil {
		return apperrors.NewStorageUnavailableError("commit", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range tx.submissions {
		m.submissions = append(m.submissions, s)
		m.subByID[s.ID] = s
	}
	for _, v := range tx.verifications {
		m.verifications = append(m.verifications, v)
		m.verByID[v.ID] = v
	}
	for id, updated := range tx.updates {
		*m.verByID[id] = *updated
	}
	m.grants = append(m.grants, tx.grants...)
	return nil
}

// Verifications returns a user's verification history, oldest first
func (m *MemoryLedger) Verifications(ctx context.Context, userID string) ([]*models.Verification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Verification, 0)
	for _, v := range m.verifications {
		if v.UserID == userID {
			out = append(out, copyVerification(v))
		}
	}
	return out, nil
}

// Submissions returns a user's submissions, oldest first
func (m *MemoryLedger) Submissions(ctx context.Context, userID string) ([]*models.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Submission, 0)
	for _, s := range m.submissions {
		if s.UserID == userID {
			val := *s
			out = append(out, &val)
		}
	}
	return out, nil
}

// Grants returns a user's token grants, oldest first
func (m *MemoryLedger) Grants(ctx context.Context, userID string) ([]*models.TokenGrant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.TokenGrant, 0)
	for _, g := range m.grants {
		if g.UserID == userID {
			val := *g
			out = append(out, &val)
		}
	}
	return out, nil
}

// Balance sums all token grants of a user
func (m *MemoryLedger) Balance(ctx context.Context, userID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total int64
	for _, g := range m.grants {
		if g.UserID == userID {
			total += g.Amount
		}
	}
	return total, nil
}

// PendingVerifications returns up to limit pending verifications, oldest first
func (m *MemoryLedger) PendingVerifications(ctx context.Context, limit int) ([]*models.Verification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Verification, 0)
	for _, v := range m.verifications {
		if len(out) >= limit {
			break
		}
		if v.Status == types.StatusPending {
			out = append(out, copyVerification(v))
		}
	}
	return out, nil
}

// Ping always succeeds for the in-memory ledger
func (m *MemoryLedger) Ping(ctx context.Context) error {
	return nil
}

// memoryTx stages writes of one InUserTx call
type memoryTx struct {
	ledger        *MemoryLedger
	userID        string
	submissions   []*models.Submission
	verifications []*models.Verification
	grants        []*models.TokenGrant
	updates       map[string]*models.Verification
}

func (tx *memoryTx) checkUser(userID string) error {
	if userID != tx.userID {
		return fmt.Errorf("transaction for user %s cannot write rows of user %s", tx.userID, userID)
	}
	return nil
}

func (tx *memoryTx) InsertSubmission(ctx context.Context, s *models.Submission) error {
	if err := tx.checkUser(s.UserID); err != nil {
		return err
	}
	val := *s
	tx.submissions = append(tx.submissions, &val)
	return nil
}

func (tx *memoryTx) LatestVerified(ctx context.Context, userID string) (*models.Verification, error) {
	tx.ledger.mu.RLock()
	candidates := make([]*models.Verification, 0)
	for _, v := range tx.ledger.verifications {
		if v.UserID != userID {
			continue
		}
		if updated, ok := tx.updates[v.ID]; ok {
			candidates = append(candidates, updated)
			continue
		}
		candidates = append(candidates, v)
	}
	tx.ledger.mu.RUnlock()
	candidates = append(candidates, tx.verifications...)

	verified := make([]*models.Verification, 0, len(candidates))
	for _, v := range candidates {
		if v.UserID == userID && v.Status == types.StatusVerified && v.VerifiedAt != nil {
			verified = append(verified, v)
		}
	}
	if len(verified) == 0 {
		return nil, nil
	}

	sort.SliceStable(verified, func(i, j int) bool {
		return verified[i].VerifiedAt.After(*verified[j].VerifiedAt)
	})
	return copyVerification(verified[0]), nil
}

func (tx *memoryTx) InsertVerification(ctx context.Context, v *models.Verification) error {
	if err := tx.checkUser(v.UserID); err != nil {
		return err
	}
	tx.verifications = append(tx.verifications, copyVerification(v))
	return nil
}

func (tx *memoryTx) InsertGrant(ctx context.Context, g *models.TokenGrant) error {
	if err := tx.checkUser(g.UserID); err != nil {
		return err
	}
	if g.Amount < 0 {
		return apperrors.NewInvalidAmountError(g.Amount)
	}
	val := *g
	tx.grants = append(tx.grants, &val)
	return nil
}

func (tx *memoryTx) LockPending(ctx context.Context, verificationID string) (*models.Verification, *models.Submission, error) {
	if _, staged := tx.updates[verificationID]; staged {
		return nil, nil, nil
	}

	tx.ledger.mu.RLock()
	defer tx.ledger.mu.RUnlock()

	v, ok := tx.ledger.verByID[verificationID]
	if !ok || v.Status != types.StatusPending {
		return nil, nil, nil
	}
	if err := tx.checkUser(v.UserID); err != nil {
		return nil, nil, err
	}
	s, ok := tx.ledger.subByID[v.SubmissionID]
	if !ok {
		return nil, nil, fmt.Errorf("submission %s of verification %s not found", v.SubmissionID, v.ID)
	}
	sub := *s
	return copyVerification(v), &sub, nil
}

func (tx *memoryTx) MarkVerified(ctx context.Context, verificationID string, score int, tokens int64, label string, at time.Time) error {
	tx.ledger.mu.RLock()
	v, ok := tx.ledger.verByID[verificationID]
	tx.ledger.mu.RUnlock()
	if !ok {
		return apperrors.NewNotFoundError("verification", verificationID)
	}
	if err := tx.checkUser(v.UserID); err != nil {
		return err
	}

	updated := copyVerification(v)
	updated.Status = types.StatusVerified
	updated.Score = score
	updated.TokensAwarded = tokens
	updated.QualityLabel = label
	verifiedAt := at
	updated.VerifiedAt = &verifiedAt
	tx.updates[verificationID] = updated
	return nil
}

func copyVerification(v *models.Verification) *models.Verification {
	val := *v
	if v.VerifiedAt != nil {
		at := *v.VerifiedAt
		val.VerifiedAt = &at
	}
	if v.RejectionReason != nil {
		reason := *v.RejectionReason
		val.RejectionReason = &reason
	}
	return &val
}
