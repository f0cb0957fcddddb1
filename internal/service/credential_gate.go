package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/mediatech/mediatech-auth/internal/auth"
	"github.com/mediatech/mediatech-auth/internal/config"
	"github.com/mediatech/mediatech-auth/internal/logger"
	"github.com/mediatech/mediatech-auth/internal/model"
	"github.com/mediatech/mediatech-auth/internal/repository"
	"github.com/mediatech/mediatech-auth/internal/telemetry"
)

// Credentials is one login attempt as received from the client
type Credentials struct {
	Username  string
	Password  string
	IPAddress string
	UserAgent string
}

// CredentialGate checks passwords and enforces brute-force lockout
type CredentialGate struct {
	principals PrincipalStore
	attempts   LoginAttemptStore
	hasher     *auth.Hasher
	audit      *telemetry.Recorder
	cfg        config.LockoutConfig
	log        *logger.Logger
	now        func() time.Time
}

// NewCredentialGate creates a new CredentialGate
func NewCredentialGate(
	principals PrincipalStore,
	attempts LoginAttemptStore,
	hasher *auth.Hasher,
	audit *telemetry.Recorder,
	cfg config.LockoutConfig,
	log *logger.Logger,
) *CredentialGate {
	return &CredentialGate{
		principals: principals,
		attempts:   attempts,
		hasher:     hasher,
		audit:      audit,
		cfg:        cfg,
		log:        log.WithComponent("credential_gate"),
		now:        time.Now,
	}
}

// WithClock replaces the time source
func (g *CredentialGate) WithClock(now func() time.Time) *CredentialGate {
	g.now = now
	return g
}

// AttemptLogin authenticates a principal. Every outcome is recorded as a
// login attempt. Rejections are ErrBadCredentials, *AccountLockedError or
// ErrAccountDisabled.
func (g *CredentialGate) AttemptLogin(ctx context.Context, c Credentials) (*model.Principal, error) {
	p, err := g.principals.FindByUsername(ctx, c.Username)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("failed to get principal: %w", err)
		}
		g.hasher.VerifyDummy(c.Password)
		if _, err := g.recordFailure(ctx, c); err != nil {
			return nil, err
		}
		g.audit.AuthenticationFailure(ctx, c.Username, c.IPAddress, "Bad Credentials", c.UserAgent)
		return nil, ErrBadCredentials
	}

	now := g.now()
	if p.IsLockedAt(now) {
		if err := g.attempts.Create(ctx, g.attempt(c, false, now)); err != nil {
			return nil, fmt.Errorf("failed to record login attempt: %w", err)
		}
		g.audit.SuspiciousActivity(ctx, c.Username, model.EventLockedAccountAccessAttempt, c.IPAddress, "Attempt to access locked account")
		return nil, &AccountLockedError{RemainingMinutes: remainingMinutes(*p.LockoutUntil, now)}
	}
	if p.LockoutExpiredAt(now) {
		if err := g.principals.ClearLockout(ctx, p.Username, false); err != nil {
			return nil, fmt.Errorf("failed to clear expired lockout: %w", err)
		}
		p.AccountLocked = false
		p.LockoutUntil = nil
		g.log.Info().Str("username", p.Username).Msg("Lockout expired, account unlocked")
	}

	match, err := g.hasher.Verify(c.Password, p.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !match {
		outcome, err := g.recordFailure(ctx, c)
		if err != nil {
			return nil, err
		}
		g.audit.AuthenticationFailure(ctx, c.Username, c.IPAddress, "Bad Credentials", c.UserAgent)
		if outcome.Locked {
			g.log.WithUsername(c.Username).Warn().
				Int("failed_attempts", outcome.FailureCount).
				Time("lockout_until", outcome.LockoutUntil).
				Msg("Account locked")
			g.audit.SuspiciousActivity(ctx, c.Username, model.EventAccountLocked, c.IPAddress,
				fmt.Sprintf("Account locked after %d failed attempts until %s", outcome.FailureCount, outcome.LockoutUntil.Format(time.RFC3339)))
		}
		return nil, ErrBadCredentials
	}

	// enablement is only revealed to callers who know the password
	if !p.Enabled {
		if _, err := g.recordFailure(ctx, c); err != nil {
			return nil, err
		}
		g.audit.AuthenticationFailure(ctx, c.Username, c.IPAddress, "Account Disabled", c.UserAgent)
		return nil, ErrAccountDisabled
	}

	if err := g.attempts.Create(ctx, g.attempt(c, true, now)); err != nil {
		return nil, fmt.Errorf("failed to record login attempt: %w", err)
	}
	if p.FailedAttempts != 0 {
		if err := g.principals.ResetFailedAttempts(ctx, p.Username); err != nil {
			g.log.Error().Err(err).Str("username", p.Username).Msg("Failed to reset failed attempts")
		}
		p.FailedAttempts = 0
	}
	if g.hasher.NeedsRehash(p.PasswordHash) {
		g.upgradeHash(ctx, p, c.Password)
	}

	return p, nil
}

// upgradeHash stores a hash at the current cost. Failure only costs the
// upgrade, never the login.
func (g *CredentialGate) upgradeHash(ctx context.Context, p *model.Principal, password string) {
	hash, err := g.hasher.Hash(password)
	if err != nil {
		g.log.Error().Err(err).Str("username", p.Username).Msg("Failed to rehash password")
		return
	}
	if err := g.principals.UpdatePasswordHash(ctx, p.ID, hash); err != nil {
		g.log.Error().Err(err).Str("username", p.Username).Msg("Failed to store upgraded password hash")
		return
	}
	p.PasswordHash = hash
	g.log.Info().Str("username", p.Username).Msg("Password hash upgraded")
}

// Unlock clears a lockout on behalf of an administrator
func (g *CredentialGate) Unlock(ctx context.Context, username, actor string) error {
	if err := g.principals.ClearLockout(ctx, username, true); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to unlock account: %w", err)
	}
	g.audit.SecurityAction(ctx, actor, model.EventAccountUnlocked, "Unlocked account "+username)
	g.log.Info().Str("username", username).Str("actor", actor).Msg("Account unlocked by administrator")
	return nil
}

// RemainingLockout returns the whole minutes left on a lockout, 0 when the
// account is not locked
func (g *CredentialGate) RemainingLockout(ctx context.Context, username string) (int64, error) {
	p, err := g.principals.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get principal: %w", err)
	}
	now := g.now()
	if !p.IsLockedAt(now) {
		return 0, nil
	}
	return remainingMinutes(*p.LockoutUntil, now), nil
}

func (g *CredentialGate) recordFailure(ctx context.Context, c Credentials) (repository.LockoutOutcome, error) {
	now := g.now()
	outcome, err := g.attempts.RecordFailure(ctx, g.attempt(c, false, now), repository.LockoutPolicy{
		MaxAttempts: g.cfg.MaxAttempts,
		Duration:    g.cfg.Duration,
		Window:      g.cfg.AttemptWindow,
		Now:         now,
	})
	if err != nil {
		return outcome, fmt.Errorf("failed to record failed login: %w", err)
	}
	return outcome, nil
}

func (g *CredentialGate) attempt(c Credentials, success bool, at time.Time) *model.LoginAttempt {
	return &model.LoginAttempt{
		Username:    c.Username,
		IPAddress:   c.IPAddress,
		Success:     success,
		AttemptedAt: at,
		UserAgent:   c.UserAgent,
	}
}

func remainingMinutes(until, now time.Time) int64 {
	left := until.Sub(now)
	if left <= 0 {
		return 0
	}
	return int64(math.Ceil(left.Minutes()))
}
