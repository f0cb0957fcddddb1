package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mediatech/mediatech-auth/internal/database"
	"github.com/mediatech/mediatech-auth/internal/model"
)

// LockoutPolicy drives the lockout transition inside RecordFailure
type LockoutPolicy struct {
	MaxAttempts int
	Duration    time.Duration
	Window      time.Duration
	Now         time.Time
}

// LockoutOutcome reports what RecordFailure did to the principal row
type LockoutOutcome struct {
	// Locked is true only for the attempt that transitioned the account
	Locked       bool
	LockoutUntil time.Time
	FailureCount int
}

// LoginAttemptRepository handles login attempt persistence
type LoginAttemptRepository struct {
	db *database.Postgres
}

// NewLoginAttemptRepository creates a new LoginAttemptRepository
func NewLoginAttemptRepository(db *database.Postgres) *LoginAttemptRepository {
	return &LoginAttemptRepository{db: db}
}

// Create records an attempt without touching the principal
func (r *LoginAttemptRepository) Create(ctx context.Context, a *model.LoginAttempt) error {
	query := `
		INSERT INTO login_attempts (username, ip_address, success, attempted_at, user_agent)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query,
		a.Username, a.IPAddress, a.Success, a.AttemptedAt, a.UserAgent,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("failed to create login attempt: %w", err)
	}
	return nil
}

// RecordFailure stores a failed attempt and, when the principal exists and
// the failures inside the window reach the policy maximum, locks the account.
// The principal row is held FOR UPDATE for the whole transaction so that
// concurrent failures produce exactly one lock transition.
func (r *LoginAttemptRepository) RecordFailure(ctx context.Context, a *model.LoginAttempt, policy LockoutPolicy) (LockoutOutcome, error) {
	var outcome LockoutOutcome

	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		var (
			principalID   int64
			accountLocked bool
			lockoutUntil  *time.Time
		)
		err := tx.QueryRowContext(ctx, `
			SELECT id, account_locked, lockout_until
			FROM principals
			WHERE username = $1
			FOR UPDATE
		`, a.Username).Scan(&principalID, &accountLocked, &lockoutUntil)
		exists := true
		if err == sql.ErrNoRows {
			exists = false
		} else if err != nil {
			return fmt.Errorf("failed to lock principal: %w", err)
		}

		if err := tx.QueryRowContext(ctx, `
			INSERT INTO login_attempts (username, ip_address, success, attempted_at, user_agent)
			VALUES ($1, $2, FALSE, $3, $4)
			RETURNING id
		`, a.Username, a.IPAddress, a.AttemptedAt, a.UserAgent).Scan(&a.ID); err != nil {
			return fmt.Errorf("failed to create login attempt: %w", err)
		}

		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*)
			FROM login_attempts
			WHERE username = $1 AND success = FALSE AND attempted_at > $2
		`, a.Username, policy.Now.Add(-policy.Window)).Scan(&outcome.FailureCount); err != nil {
			return fmt.Errorf("failed to count failed attempts: %w", err)
		}

		if !exists || outcome.FailureCount < policy.MaxAttempts {
			return nil
		}
		if accountLocked && lockoutUntil != nil && policy.Now.Before(*lockoutUntil) {
			return nil
		}

		until := policy.Now.Add(policy.Duration)
		if _, err := tx.ExecContext(ctx, `
			UPDATE principals
			SET account_locked = TRUE, lockout_until = $1, failed_attempts = failed_attempts + 1
			WHERE id = $2
		`, until, principalID); err != nil {
			return fmt.Errorf("failed to lock principal: %w", err)
		}
		outcome.Locked = true
		outcome.LockoutUntil = until
		return nil
	})
	if err != nil {
		return LockoutOutcome{}, err
	}
	return outcome, nil
}

// DeleteOlderThan prunes attempts older than cutoff in batches
func (r *LoginAttemptRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	query := `
		WITH doomed AS (
			SELECT id FROM login_attempts
			WHERE attempted_at < $1
			ORDER BY id
			LIMIT $2
		)
		DELETE FROM login_attempts
		WHERE id IN (SELECT id FROM doomed)
	`
	return deleteInBatches(ctx, r.db, "login attempts", query, cutoff, batchOrDefault(batchSize))
}

// deleteInBatches repeats a CTE-limited delete until a batch comes back short
func deleteInBatches(ctx context.Context, db *database.Postgres, what, query string, cutoff time.Time, batchSize int) (int64, error) {
	var total int64
	for {
		result, err := db.ExecContext(ctx, query, cutoff, batchSize)
		if err != nil {
			return total, fmt.Errorf("failed to delete %s: %w", what, err)
		}
		n, _ := result.RowsAffected()
		total += n
		if n < int64(batchSize) {
			return total, nil
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}
