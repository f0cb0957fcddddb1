package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mediatech/mediatech-auth/internal/auth"
	"github.com/mediatech/mediatech-auth/internal/logger"
	"github.com/mediatech/mediatech-auth/internal/model"
	"github.com/mediatech/mediatech-auth/internal/repository"
)

const refreshTokenBytes = 32

// RefreshLedger issues single-use refresh tokens
type RefreshLedger struct {
	tokens    RefreshTokenStore
	ttl       time.Duration
	batchSize int
	log       *logger.Logger
	now       func() time.Time
}

// NewRefreshLedger creates a new RefreshLedger
func NewRefreshLedger(tokens RefreshTokenStore, ttl time.Duration, batchSize int, log *logger.Logger) *RefreshLedger {
	return &RefreshLedger{
		tokens:    tokens,
		ttl:       ttl,
		batchSize: batchSize,
		log:       log.WithComponent("refresh_ledger"),
		now:       time.Now,
	}
}

// WithClock replaces the time source
func (l *RefreshLedger) WithClock(now func() time.Time) *RefreshLedger {
	l.now = now
	return l
}

// Issue mints a new refresh token for the principal
func (l *RefreshLedger) Issue(ctx context.Context, principalID int64) (*model.RefreshToken, error) {
	t, err := l.newToken(principalID)
	if err != nil {
		return nil, err
	}
	if err := l.tokens.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}
	return t, nil
}

// Verify returns the stored token when it is still valid. A stale token is
// deleted so it can never verify again.
func (l *RefreshLedger) Verify(ctx context.Context, token string) (*model.RefreshToken, error) {
	t, err := l.tokens.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRefreshTokenNotFound
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}
	if !t.IsValidAt(l.now()) {
		if err := l.tokens.Delete(ctx, t.ID); err != nil {
			l.log.Error().Err(err).Int64("token_id", t.ID).Msg("Failed to delete stale refresh token")
		}
		return nil, ErrRefreshTokenExpiredOrRevoked
	}
	return t, nil
}

// Rotate exchanges a valid token for a new one. Each token rotates at most
// once. A token whose owner is disabled is rejected and left untouched.
func (l *RefreshLedger) Rotate(ctx context.Context, token string) (*repository.Rotation, error) {
	next, err := l.newToken(0)
	if err != nil {
		return nil, err
	}
	rotated, err := l.tokens.Rotate(ctx, token, next, l.now())
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrRefreshTokenNotFound
		case errors.Is(err, repository.ErrStale):
			return nil, ErrRefreshTokenExpiredOrRevoked
		case errors.Is(err, repository.ErrOwnerDisabled):
			return nil, ErrRefreshTokenOwnerDisabled
		}
		return nil, fmt.Errorf("failed to rotate refresh token: %w", err)
	}
	return rotated, nil
}

// RevokeAll revokes every active token of a principal
func (l *RefreshLedger) RevokeAll(ctx context.Context, principalID int64) (int64, error) {
	n, err := l.tokens.RevokeAllForPrincipal(ctx, principalID, l.now())
	if err != nil {
		return 0, fmt.Errorf("failed to revoke refresh tokens: %w", err)
	}
	return n, nil
}

// Prune deletes expired and revoked tokens
func (l *RefreshLedger) Prune(ctx context.Context) (int64, error) {
	return l.tokens.DeleteExpiredOrRevoked(ctx, l.now(), l.batchSize)
}

func (l *RefreshLedger) newToken(principalID int64) (*model.RefreshToken, error) {
	value, err := auth.GenerateOpaqueToken(refreshTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}
	now := l.now()
	return &model.RefreshToken{
		PrincipalID: principalID,
		Token:       value,
		ExpiresAt:   now.Add(l.ttl),
		CreatedAt:   now,
	}, nil
}
