package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mediatech/mediatech-auth/internal/database"
	"github.com/mediatech/mediatech-auth/internal/model"
)

// RefreshTokenRepository handles refresh token persistence
type RefreshTokenRepository struct {
	db *database.Postgres
}

// NewRefreshTokenRepository creates a new RefreshTokenRepository
func NewRefreshTokenRepository(db *database.Postgres) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// Create stores a new refresh token
func (r *RefreshTokenRepository) Create(ctx context.Context, t *model.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (principal_id, token, expires_at, revoked, created_at)
		VALUES ($1, $2, $3, FALSE, $4)
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query, t.PrincipalID, t.Token, t.ExpiresAt, t.CreatedAt).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("failed to create refresh token: %w", err)
	}
	return nil
}

// GetByToken retrieves a refresh token by its opaque value
func (r *RefreshTokenRepository) GetByToken(ctx context.Context, token string) (*model.RefreshToken, error) {
	query := `
		SELECT id, principal_id, token, expires_at, revoked, created_at, revoked_at
		FROM refresh_tokens
		WHERE token = $1
	`
	var t model.RefreshToken
	err := r.db.QueryRowContext(ctx, query, token).Scan(
		&t.ID, &t.PrincipalID, &t.Token, &t.ExpiresAt, &t.Revoked, &t.CreatedAt, &t.RevokedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}
	return &t, nil
}

// Delete removes a refresh token row
func (r *RefreshTokenRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}
	return nil
}

// Rotation is a rotated refresh token together with the principal it
// belongs to, read under the same lock
type Rotation struct {
	Token *model.RefreshToken
	Owner *model.Principal
}

// Rotate revokes the presented token and stores its successor in a single
// transaction. The old row is locked FOR UPDATE so concurrent rotations of the
// same token serialize: the loser sees it revoked, has it deleted and gets
// ErrStale. An unknown token returns ErrNotFound. When the owner is disabled
// the transaction rolls back with ErrOwnerDisabled and nothing is minted.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, token string, next *model.RefreshToken, now time.Time) (*Rotation, error) {
	var (
		old   model.RefreshToken
		owner model.Principal
		stale bool
	)

	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			SELECT rt.id, rt.principal_id, rt.token, rt.expires_at, rt.revoked, rt.created_at, rt.revoked_at,
			       p.username, p.role, p.enabled
			FROM refresh_tokens rt
			JOIN principals p ON p.id = rt.principal_id
			WHERE rt.token = $1
			FOR UPDATE OF rt
		`, token).Scan(&old.ID, &old.PrincipalID, &old.Token, &old.ExpiresAt, &old.Revoked, &old.CreatedAt, &old.RevokedAt,
			&owner.Username, &owner.Role, &owner.Enabled)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock refresh token: %w", err)
		}
		owner.ID = old.PrincipalID

		if !old.IsValidAt(now) {
			if _, err := tx.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE id = $1`, old.ID); err != nil {
				return fmt.Errorf("failed to delete stale refresh token: %w", err)
			}
			stale = true
			return nil
		}
		if !owner.Enabled {
			return ErrOwnerDisabled
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $1 WHERE id = $2
		`, now, old.ID); err != nil {
			return fmt.Errorf("failed to revoke refresh token: %w", err)
		}

		next.PrincipalID = old.PrincipalID
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO refresh_tokens (principal_id, token, expires_at, revoked, created_at)
			VALUES ($1, $2, $3, FALSE, $4)
			RETURNING id
		`, next.PrincipalID, next.Token, next.ExpiresAt, next.CreatedAt).Scan(&next.ID); err != nil {
			return fmt.Errorf("failed to create refresh token: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if stale {
		return nil, ErrStale
	}
	return &Rotation{Token: next, Owner: &owner}, nil
}

// RevokeAllForPrincipal revokes every active refresh token of a principal
func (r *RefreshTokenRepository) RevokeAllForPrincipal(ctx context.Context, principalID int64, now time.Time) (int64, error) {
	query := `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = $1
		WHERE principal_id = $2 AND revoked = FALSE
	`
	result, err := r.db.ExecContext(ctx, query, now, principalID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke refresh tokens: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// DeleteExpiredOrRevoked prunes tokens that can never be used again
func (r *RefreshTokenRepository) DeleteExpiredOrRevoked(ctx context.Context, now time.Time, batchSize int) (int64, error) {
	query := `
		WITH doomed AS (
			SELECT id FROM refresh_tokens
			WHERE expires_at <= $1 OR revoked = TRUE
			ORDER BY id
			LIMIT $2
		)
		DELETE FROM refresh_tokens
		WHERE id IN (SELECT id FROM doomed)
	`
	return deleteInBatches(ctx, r.db, "refresh tokens", query, now, batchOrDefault(batchSize))
}
