package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/mediatech/mediatech-auth/internal/auth"
	"github.com/mediatech/mediatech-auth/internal/logger"
	"github.com/mediatech/mediatech-auth/internal/model"
	"github.com/mediatech/mediatech-auth/internal/repository"
	"github.com/mediatech/mediatech-auth/internal/telemetry"
)

// AccountStatus is the administrative view of a principal
type AccountStatus struct {
	Username                string     `json:"username"`
	Role                    model.Role `json:"role"`
	Enabled                 bool       `json:"enabled"`
	AccountLocked           bool       `json:"accountLocked"`
	RemainingLockoutMinutes int64      `json:"remainingLockoutMinutes"`
}

// AccessChange holds the access fields to change. Nil fields are kept.
type AccessChange struct {
	Role    *model.Role
	Enabled *bool
}

// AccountService is the administrative side of account management: status,
// role and enablement changes, unlock, and forced session revocation
type AccountService struct {
	gate       *CredentialGate
	principals PrincipalStore
	tokens     *auth.TokenService
	ledger     *RefreshLedger
	blacklist  *Blacklist
	audit      *telemetry.Recorder
	log        *logger.Logger
}

// NewAccountService creates a new AccountService
func NewAccountService(
	gate *CredentialGate,
	principals PrincipalStore,
	tokens *auth.TokenService,
	ledger *RefreshLedger,
	blacklist *Blacklist,
	audit *telemetry.Recorder,
	log *logger.Logger,
) *AccountService {
	return &AccountService{
		gate:       gate,
		principals: principals,
		tokens:     tokens,
		ledger:     ledger,
		blacklist:  blacklist,
		audit:      audit,
		log:        log.WithComponent("accounts"),
	}
}

// Status returns the access state of an account
func (s *AccountService) Status(ctx context.Context, username string) (*AccountStatus, error) {
	p, err := s.find(ctx, username)
	if err != nil {
		return nil, err
	}
	minutes, err := s.gate.RemainingLockout(ctx, username)
	if err != nil {
		return nil, err
	}
	return &AccountStatus{
		Username:                p.Username,
		Role:                    p.Role,
		Enabled:                 p.Enabled,
		AccountLocked:           minutes > 0,
		RemainingLockoutMinutes: minutes,
	}, nil
}

// Unlock clears a lockout on behalf of an administrator
func (s *AccountService) Unlock(ctx context.Context, username, actor string) error {
	return s.gate.Unlock(ctx, username, actor)
}

// UpdateAccess applies a role or enablement change. Disabling an account
// also revokes its refresh tokens.
func (s *AccountService) UpdateAccess(ctx context.Context, username string, change AccessChange, actor string) (*AccountStatus, error) {
	p, err := s.find(ctx, username)
	if err != nil {
		return nil, err
	}

	role, enabled := p.Role, p.Enabled
	if change.Role != nil {
		if !change.Role.Valid() {
			return nil, ErrInvalidRole
		}
		role = *change.Role
	}
	if change.Enabled != nil {
		enabled = *change.Enabled
	}

	if err := s.principals.UpdateAccess(ctx, username, role, enabled); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to update access: %w", err)
	}

	if p.Enabled && !enabled {
		if _, err := s.ledger.RevokeAll(ctx, p.ID); err != nil {
			return nil, err
		}
	}

	s.audit.SecurityAction(ctx, actor, model.EventAccessChanged,
		fmt.Sprintf("Access of %s changed: role %s -> %s, enabled %t -> %t", username, p.Role, role, p.Enabled, enabled))
	s.log.WithUsername(username).Info().
		Str("actor", actor).
		Str("role", string(role)).
		Bool("enabled", enabled).
		Msg("Account access changed")

	return s.Status(ctx, username)
}

// RevokeSessions is the response to a compromised account. Every refresh
// token of the user is revoked, and accessToken, when given, is blacklisted
// for the rest of its lifetime. An already expired access token needs no
// entry. It returns the number of refresh tokens revoked.
func (s *AccountService) RevokeSessions(ctx context.Context, username, accessToken, actor string) (int64, error) {
	p, err := s.find(ctx, username)
	if err != nil {
		return 0, err
	}

	if accessToken != "" {
		claims, err := s.tokens.ValidateFor(accessToken, username)
		switch {
		case err == nil:
			if err := s.blacklist.Add(ctx, accessToken, claims.ExpiresAt.Time, model.BlacklistReasonRevoked); err != nil {
				return 0, err
			}
		case errors.Is(err, auth.ErrTokenExpired):
		default:
			return 0, fmt.Errorf("%w: %v", ErrTokenNotOwned, err)
		}
	}

	revoked, err := s.ledger.RevokeAll(ctx, p.ID)
	if err != nil {
		return 0, err
	}

	s.audit.SecurityAction(ctx, actor, model.EventSessionsRevoked,
		fmt.Sprintf("Revoked sessions of %s, %d refresh tokens revoked", username, revoked))
	s.log.WithUsername(username).Warn().Str("actor", actor).Int64("revoked", revoked).Msg("Sessions revoked")
	return revoked, nil
}

func (s *AccountService) find(ctx context.Context, username string) (*model.Principal, error) {
	p, err := s.principals.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get principal: %w", err)
	}
	return p, nil
}
