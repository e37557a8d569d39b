package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/aqi-agent/internal/errors"
	"github.com/aqi-agent/internal/models"
	"github.com/aqi-agent/internal/types"
	"github.com/jackc/pgx/v5"
)

const verificationColumns = `id, user_id, submission_id, status, score, tokens_awarded,
	quality_label, rejection_reason, verified_at, created_at`

const submissionColumns = `id, user_id, latitude, longitude, aqi, source, location, submitted_at`

// PostgresLedger implements Ledger on PostgreSQL.
// Per-user serialization uses a transaction-scoped advisory lock keyed by the user id.
type PostgresLedger struct {
	db *PostgresDB
}

// NewPostgresLedger creates a ledger over an open connection pool
func NewPostgresLedger(db *PostgresDB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// InUserTx runs fn inside a transaction holding the user's advisory lock
func (l *PostgresLedger) InUserTx(ctx context.Context, userID string, fn func(ctx context.Context, tx LedgerTx) error) (err error) {
	tx, err := l.db.Pool().BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return apperrors.NewStorageUnavailableError("begin transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.Background())
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(context.Background())
		}
	}()

	if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, userID); err != nil {
		return apperrors.NewStorageUnavailableError("acquire user lock", err)
	}

	if err = fn(ctx, &postgresTx{tx: tx, userID: userID}); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return apperrors.NewStorageUnavailableError("commit", err)
	}
	return nil
}

// Verifications returns a user's verification history, oldest first
func (l *PostgresLedger) Verifications(ctx context.Context, userID string) ([]*models.Verification, error) {
	query := `SELECT ` + verificationColumns + `
		FROM verifications
		WHERE user_id = $1
		ORDER BY created_at ASC, id ASC`

	rows, err := l.db.Pool().Query(ctx, query, userID)
	if err != nil {
		return nil, apperrors.NewStorageUnavailableError("list verifications", err)
	}
	defer rows.Close()

	return collectVerifications(rows)
}

// Submissions returns a user's submissions, oldest first
func (l *PostgresLedger) Submissions(ctx context.Context, userID string) ([]*models.Submission, error) {
	query := `SELECT ` + submissionColumns + `
		FROM submissions
		WHERE user_id = $1
		ORDER BY submitted_at ASC, id ASC`

	rows, err := l.db.Pool().Query(ctx, query, userID)
	if err != nil {
		return nil, apperrors.NewStorageUnavailableError("list submissions", err)
	}
	defer rows.Close()

	submissions := make([]*models.Submission, 0)
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, apperrors.NewStorageUnavailableError("scan submission", err)
		}
		submissions = append(submissions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageUnavailableError("iterate submissions", err)
	}
	return submissions, nil
}

// Grants returns a user's token grants, oldest first
func (l *PostgresLedger) Grants(ctx context.Context, userID string) ([]*models.TokenGrant, error) {
	query := `
		SELECT id, user_id, amount, verification_id, created_at
		FROM token_grants
		WHERE user_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := l.db.Pool().Query(ctx, query, userID)
	if err != nil {
		return nil, apperrors.NewStorageUnavailableError("list grants", err)
	}
	defer rows.Close()

	grants := make([]*models.TokenGrant, 0)
	for rows.Next() {
		var g models.TokenGrant
		if err := rows.Scan(&g.ID, &g.UserID, &g.Amount, &g.VerificationID, &g.CreatedAt); err != nil {
			return nil, apperrors.NewStorageUnavailableError("scan grant", err)
		}
		grants = append(grants, &g)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageUnavailableError("iterate grants", err)
	}
	return grants, nil
}

// Balance sums all token grants of a user
func (l *PostgresLedger) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	query := `SELECT COALESCE(SUM(amount), 0)::BIGINT FROM token_grants WHERE user_id = $1`

	if err := l.db.Pool().QueryRow(ctx, query, userID).Scan(&balance); err != nil {
		return 0, apperrors.NewStorageUnavailableError("sum grants", err)
	}
	return balance, nil
}

// PendingVerifications returns up to limit pending verifications, oldest first
func (l *PostgresLedger) PendingVerifications(ctx context.Context, limit int) ([]*models.Verification, error) {
	query := `SELECT ` + verificationColumns + `
		FROM verifications
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1`

	rows, err := l.db.Pool().Query(ctx, query, limit)
	if err != nil {
		return nil, apperrors.NewStorageUnavailableError("list pending verifications", err)
	}
	defer rows.Close()

	return collectVerifications(rows)
}

// Ping checks if the database is reachable
func (l *PostgresLedger) Ping(ctx context.Context) error {
	return l.db.Ping(ctx)
}

// postgresTx is the LedgerTx of one InUserTx call
type postgresTx struct {
	tx     pgx.Tx
	userID string
}

func (t *postgresTx) checkUser(userID string) error {
	if userID != t.userID {
		return fmt.Errorf("transaction for user %s cannot write rows of user %s", t.userID, userID)
	}
	return nil
}

func (t *postgresTx) InsertSubmission(ctx context.Context, s *models.Submission) error {
	if err := t.checkUser(s.UserID); err != nil {
		return err
	}

	query := `
		INSERT INTO submissions (` + submissionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := t.tx.Exec(ctx, query,
		s.ID,
		s.UserID,
		s.Latitude,
		s.Longitude,
		s.AQI,
		string(s.Source),
		s.Location,
		s.SubmittedAt,
	)
	if err != nil {
		return apperrors.NewStorageUnavailableError("insert submission", err)
	}
	return nil
}

func (t *postgresTx) LatestVerified(ctx context.Context, userID string) (*models.Verification, error) {
	query := `SELECT ` + verificationColumns + `
		FROM verifications
		WHERE user_id = $1 AND status = 'verified'
		ORDER BY verified_at DESC
		LIMIT 1`

	v, err := scanVerification(t.tx.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperrors.NewStorageUnavailableError("latest verified", err)
	}
	return v, nil
}

func (t *postgresTx) InsertVerification(ctx context.Context, v *models.Verification) error {
	if err := t.checkUser(v.UserID); err != nil {
		return err
	}

	query := `
		INSERT INTO verifications (` + verificationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := t.tx.Exec(ctx, query,
		v.ID,
		v.UserID,
		v.SubmissionID,
		string(v.Status),
		v.Score,
		v.TokensAwarded,
		v.QualityLabel,
		v.RejectionReason,
		v.VerifiedAt,
		v.CreatedAt,
	)
	if err != nil {
		return apperrors.NewStorageUnavailableError("insert verification", err)
	}
	return nil
}

func (t *postgresTx) InsertGrant(ctx context.Context, g *models.TokenGrant) error {
	if err := t.checkUser(g.UserID); err != nil {
		return err
	}
	if g.Amount < 0 {
		return apperrors.NewInvalidAmountError(g.Amount)
	}

	query := `
		INSERT INTO token_grants (id, user_id, amount, verification_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := t.tx.Exec(ctx, query, g.ID, g.UserID, g.Amount, g.VerificationID, g.CreatedAt); err != nil {
		return apperrors.NewStorageUnavailableError("insert grant", err)
	}
	return nil
}

func (t *postgresTx) LockPending(ctx context.Context, verificationID string) (*models.Verification, *models.Submission, error) {
	query := `SELECT ` + verificationColumns + `
		FROM verifications
		WHERE id = $1 AND user_id = $2 AND status = 'pending'
		FOR UPDATE`

	v, err := scanVerification(t.tx.QueryRow(ctx, query, verificationID, t.userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, nil
		}
		return nil, nil, apperrors.NewStorageUnavailableError("lock pending verification", err)
	}

	subQuery := `SELECT ` + submissionColumns + ` FROM submissions WHERE id = $1`
	s, err := scanSubmission(t.tx.QueryRow(ctx, subQuery, v.SubmissionID))
	if err != nil {
		return nil, nil, apperrors.NewStorageUnavailableError("load submission", err)
	}
	return v, s, nil
}

func (t *postgresTx) MarkVerified(ctx context.Context, verificationID string, score int, tokens int64, label string, at time.Time) error {
	query := `
		UPDATE verifications
		SET status = 'verified', score = $3, tokens_awarded = $4, quality_label = $5, verified_at = $6
		WHERE id = $1 AND user_id = $2 AND status = 'pending'
	`
	result, err := t.tx.Exec(ctx, query, verificationID, t.userID, score, tokens, label, at)
	if err != nil {
		return apperrors.NewStorageUnavailableError("mark verified", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("pending verification", verificationID)
	}
	return nil
}

func collectVerifications(rows pgx.Rows) ([]*models.Verification, error) {
	verifications := make([]*models.Verification, 0)
	for rows.Next() {
		v, err := scanVerification(rows)
		if err != nil {
			return nil, apperrors.NewStorageUnavailableError("scan verification", err)
		}
		verifications = append(verifications, v)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageUnavailableError("iterate verifications", err)
	}
	return verifications, nil
}

func scanVerification(row pgx.Row) (*models.Verification, error) {
	var v models.Verification
	var status string
	err := row.Scan(
		&v.ID,
		&v.UserID,
		&v.SubmissionID,
		&status,
		&v.Score,
		&v.TokensAwarded,
		&v.QualityLabel,
		&v.RejectionReason,
		&v.VerifiedAt,
		&v.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	v.Status = types.VerificationStatus(status)
	return &v, nil
}

func scanSubmission(row pgx.Row) (*models.Submission, error) {
	var s models.Submission
	var source string
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.Latitude,
		&s.Longitude,
		&s.AQI,
		&source,
		&s.Location,
		&s.SubmittedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Source = types.Source(source)
	return &s, nil
}
