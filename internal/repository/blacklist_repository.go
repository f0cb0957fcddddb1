package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mediatech/mediatech-auth/internal/database"
	"github.com/mediatech/mediatech-auth/internal/model"
)

// BlacklistRepository stores hashes of revoked access tokens
type BlacklistRepository struct {
	db *database.Postgres
}

// NewBlacklistRepository creates a new BlacklistRepository
func NewBlacklistRepository(db *database.Postgres) *BlacklistRepository {
	return &BlacklistRepository{db: db}
}

// Add inserts an entry. Re-adding the same hash is a no-op.
func (r *BlacklistRepository) Add(ctx context.Context, e *model.BlacklistEntry) error {
	query := `
		INSERT INTO token_blacklist (token_hash, expires_at, blacklisted_at, reason)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (token_hash) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query, e.TokenHash, e.ExpiresAt, e.BlacklistedAt, e.Reason)
	if err != nil {
		return fmt.Errorf("failed to add blacklist entry: %w", err)
	}
	return nil
}

// Find returns the stored entry for a hash
func (r *BlacklistRepository) Find(ctx context.Context, tokenHash string) (*model.BlacklistEntry, error) {
	query := `
		SELECT token_hash, expires_at, blacklisted_at, reason
		FROM token_blacklist
		WHERE token_hash = $1
	`
	var e model.BlacklistEntry
	err := r.db.QueryRowContext(ctx, query, tokenHash).Scan(&e.TokenHash, &e.ExpiresAt, &e.BlacklistedAt, &e.Reason)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get blacklist entry: %w", err)
	}
	return &e, nil
}

// DeleteExpired prunes entries whose tokens have expired naturally
func (r *BlacklistRepository) DeleteExpired(ctx context.Context, now time.Time, batchSize int) (int64, error) {
	query := `
		WITH doomed AS (
			SELECT id FROM token_blacklist
			WHERE expires_at < $1
			ORDER BY id
			LIMIT $2
		)
		DELETE FROM token_blacklist
		WHERE id IN (SELECT id FROM doomed)
	`
	return deleteInBatches(ctx, r.db, "blacklist entries", query, now, batchOrDefault(batchSize))
}
