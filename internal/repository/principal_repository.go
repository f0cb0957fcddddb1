package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mediatech/mediatech-auth/internal/database"
	"github.com/mediatech/mediatech-auth/internal/model"
)

const principalColumns = `id, username, email, password_hash, role, enabled,
		       account_locked, lockout_until, failed_attempts, verification_code, created_at`

// PrincipalRepository handles principal persistence
type PrincipalRepository struct {
	db *database.Postgres
}

// NewPrincipalRepository creates a new PrincipalRepository
func NewPrincipalRepository(db *database.Postgres) *PrincipalRepository {
	return &PrincipalRepository{db: db}
}

// FindByUsername retrieves a principal by username
func (r *PrincipalRepository) FindByUsername(ctx context.Context, username string) (*model.Principal, error) {
	query := `SELECT ` + principalColumns + ` FROM principals WHERE username = $1`
	return scanPrincipal(r.db.QueryRowContext(ctx, query, username))
}

// FindByID retrieves a principal by ID
func (r *PrincipalRepository) FindByID(ctx context.Context, id int64) (*model.Principal, error) {
	query := `SELECT ` + principalColumns + ` FROM principals WHERE id = $1`
	return scanPrincipal(r.db.QueryRowContext(ctx, query, id))
}

// FindByVerificationCode retrieves a principal by its pending verification code
func (r *PrincipalRepository) FindByVerificationCode(ctx context.Context, code string) (*model.Principal, error) {
	query := `SELECT ` + principalColumns + ` FROM principals WHERE verification_code = $1`
	return scanPrincipal(r.db.QueryRowContext(ctx, query, code))
}

// Enable marks a principal as verified and consumes its verification code
func (r *PrincipalRepository) Enable(ctx context.Context, id int64) error {
	query := `UPDATE principals SET enabled = true, verification_code = NULL WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to enable principal: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearLockout unlocks an account. When resetFailures is set the failed
// attempt counter goes back to zero as well.
func (r *PrincipalRepository) ClearLockout(ctx context.Context, username string, resetFailures bool) error {
	query := `UPDATE principals SET account_locked = FALSE, lockout_until = NULL WHERE username = $1`
	if resetFailures {
		query = `UPDATE principals SET account_locked = FALSE, lockout_until = NULL, failed_attempts = 0 WHERE username = $1`
	}
	result, err := r.db.ExecContext(ctx, query, username)
	if err != nil {
		return fmt.Errorf("failed to clear lockout: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetFailedAttempts resets the failed login attempts counter
func (r *PrincipalRepository) ResetFailedAttempts(ctx context.Context, username string) error {
	query := `UPDATE principals SET failed_attempts = 0 WHERE username = $1`
	_, err := r.db.ExecContext(ctx, query, username)
	if err != nil {
		return fmt.Errorf("failed to reset failed attempts: %w", err)
	}
	return nil
}

// UpdateEmail changes the contact address of a principal
func (r *PrincipalRepository) UpdateEmail(ctx context.Context, username, email string) error {
	query := `UPDATE principals SET email = $1 WHERE username = $2`
	result, err := r.db.ExecContext(ctx, query, email, username)
	if err != nil {
		return fmt.Errorf("failed to update email: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateAccess sets the role and enablement of a principal
func (r *PrincipalRepository) UpdateAccess(ctx context.Context, username string, role model.Role, enabled bool) error {
	query := `UPDATE principals SET role = $1, enabled = $2 WHERE username = $3`
	result, err := r.db.ExecContext(ctx, query, string(role), enabled, username)
	if err != nil {
		return fmt.Errorf("failed to update access: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdatePasswordHash replaces the stored hash, used when a login upgrades an
// outdated hash
func (r *PrincipalRepository) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	query := `UPDATE principals SET password_hash = $1 WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, hash, id)
	if err != nil {
		return fmt.Errorf("failed to update password hash: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUsernames returns every username in id order
func (r *PrincipalRepository) ListUsernames(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT username FROM principals ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list principals: %w", err)
	}
	defer rows.Close()

	var usernames []string
	for rows.Next() {
		var username string
		if err := rows.Scan(&username); err != nil {
			return nil, fmt.Errorf("failed to scan principal: %w", err)
		}
		usernames = append(usernames, username)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate principals: %w", err)
	}
	return usernames, nil
}

func scanPrincipal(row *sql.Row) (*model.Principal, error) {
	var p model.Principal
	err := row.Scan(
		&p.ID,
		&p.Username,
		&p.Email,
		&p.PasswordHash,
		&p.Role,
		&p.Enabled,
		&p.AccountLocked,
		&p.LockoutUntil,
		&p.FailedAttempts,
		&p.VerificationCode,
		&p.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan principal: %w", err)
	}
	return &p, nil
}
