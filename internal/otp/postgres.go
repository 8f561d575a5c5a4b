package otp

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"campusattend/internal/store"
)

// PostgresStore keeps challenges in otp_challenges, one row per (subject_id, purpose).
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Replace upserts on the (subject_id, purpose) unique key, which invalidates
// the previous code in the same statement.
func (p *PostgresStore) Replace(ctx context.Context, c Challenge) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO otp_challenges (id, subject_id, purpose, code_hash, sealed_code, issued_at, expires_at, consumed_at, attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULL, 0)
		ON CONFLICT (subject_id, purpose) DO UPDATE SET
			id = EXCLUDED.id,
			code_hash = EXCLUDED.code_hash,
			sealed_code = EXCLUDED.sealed_code,
			issued_at = EXCLUDED.issued_at,
			expires_at = EXCLUDED.expires_at,
			consumed_at = NULL,
			attempts = 0
	`, c.ID, c.SubjectID, string(c.Purpose), c.CodeHash, c.Sealed, c.IssuedAt, c.ExpiresAt)
	return store.Unavailable(err)
}

func (p *PostgresStore) Active(ctx context.Context, subjectID string, purpose Purpose, now time.Time) (Challenge, error) {
	var c Challenge
	var purp string
	err := p.db.QueryRowContext(ctx, `
		SELECT id, subject_id, purpose, code_hash, sealed_code, issued_at, expires_at, attempts
		FROM otp_challenges
		WHERE subject_id = $1 AND purpose = $2 AND consumed_at IS NULL AND expires_at > $3 AND attempts < $4
	`, subjectID, string(purpose), now, MaxAttempts).Scan(&c.ID, &c.SubjectID, &purp, &c.CodeHash, &c.Sealed, &c.IssuedAt, &c.ExpiresAt, &c.Attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return Challenge{}, ErrNoChallenge
	}
	if err != nil {
		return Challenge{}, store.Unavailable(err)
	}
	c.Purpose = Purpose(purp)
	return c, nil
}

// Consume resolves a guess in a single conditional UPDATE: a match sets
// consumed_at, a mismatch bumps attempts. Concurrent verifications of the
// same code see exactly one consumed row.
func (p *PostgresStore) Consume(ctx context.Context, subjectID string, purpose Purpose, codeHash string, now time.Time) (bool, error) {
	var consumed bool
	err := p.db.QueryRowContext(ctx, `
		UPDATE otp_challenges SET
			consumed_at = CASE WHEN code_hash = $3 THEN $4 ELSE consumed_at END,
			attempts = attempts + CASE WHEN code_hash = $3 THEN 0 ELSE 1 END
		WHERE subject_id = $1 AND purpose = $2
		  AND consumed_at IS NULL AND expires_at > $4 AND attempts < $5
		RETURNING consumed_at IS NOT NULL
	`, subjectID, string(purpose), codeHash, now, MaxAttempts).Scan(&consumed)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, store.Unavailable(err)
	}
	return consumed, nil
}

func (p *PostgresStore) Purge(ctx context.Context, now time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `
		DELETE FROM otp_challenges WHERE expires_at <= $1 OR consumed_at IS NOT NULL OR attempts >= $2
	`, now, MaxAttempts)
	if err != nil {
		return 0, store.Unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, store.Unavailable(err)
	}
	return n, nil
}
