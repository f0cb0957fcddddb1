package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mediatech/mediatech-auth/internal/auth"
	"github.com/mediatech/mediatech-auth/internal/database"
	"github.com/mediatech/mediatech-auth/internal/logger"
	"github.com/mediatech/mediatech-auth/internal/model"
	"github.com/mediatech/mediatech-auth/internal/repository"
)

const blacklistKeyPrefix = "blacklist:"

// Blacklist revokes access tokens before their natural expiry. Postgres is
// the source of truth; Redis caches hits for the remaining token lifetime.
type Blacklist struct {
	store     BlacklistStore
	rdb       *database.Redis
	batchSize int
	log       *logger.Logger
	now       func() time.Time
}

// NewBlacklist creates a new Blacklist. rdb may be nil.
func NewBlacklist(store BlacklistStore, rdb *database.Redis, batchSize int, log *logger.Logger) *Blacklist {
	return &Blacklist{
		store:     store,
		rdb:       rdb,
		batchSize: batchSize,
		log:       log.WithComponent("blacklist"),
		now:       time.Now,
	}
}

// WithClock replaces the time source
func (b *Blacklist) WithClock(now func() time.Time) *Blacklist {
	b.now = now
	return b
}

// Add blacklists a raw token until expiresAt. Adding twice is harmless.
func (b *Blacklist) Add(ctx context.Context, rawToken string, expiresAt time.Time, reason string) error {
	hash := auth.HashToken(rawToken)
	now := b.now()

	entry := &model.BlacklistEntry{
		TokenHash:     hash,
		ExpiresAt:     expiresAt,
		BlacklistedAt: now,
		Reason:        reason,
	}
	if err := b.store.Add(ctx, entry); err != nil {
		return fmt.Errorf("failed to blacklist token: %w", err)
	}

	b.cache(ctx, hash, expiresAt.Sub(now))
	return nil
}

// Contains reports whether the raw token has been blacklisted
func (b *Blacklist) Contains(ctx context.Context, rawToken string) (bool, error) {
	hash := auth.HashToken(rawToken)

	if b.rdb != nil {
		hit, err := b.rdb.KeyExists(ctx, blacklistKeyPrefix+hash)
		if err == nil && hit {
			return true, nil
		}
		if err != nil {
			b.log.Warn().Err(err).Msg("Blacklist cache unavailable, falling back to database")
		}
	}

	entry, err := b.store.Find(ctx, hash)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}
	b.cache(ctx, hash, entry.ExpiresAt.Sub(b.now()))
	return true, nil
}

// Prune deletes entries whose tokens would be rejected by expiry anyway
func (b *Blacklist) Prune(ctx context.Context) (int64, error) {
	return b.store.DeleteExpired(ctx, b.now(), b.batchSize)
}

func (b *Blacklist) cache(ctx context.Context, hash string, ttl time.Duration) {
	if b.rdb == nil || ttl <= 0 {
		return
	}
	if err := b.rdb.SetWithTTL(ctx, blacklistKeyPrefix+hash, "1", ttl); err != nil {
		b.log.Warn().Err(err).Msg("Failed to cache blacklist entry")
	}
}
