package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mediatech/mediatech-auth/internal/auth"
	"github.com/mediatech/mediatech-auth/internal/database"
	"github.com/mediatech/mediatech-auth/internal/logger"
	"github.com/mediatech/mediatech-auth/internal/model"
	"github.com/mediatech/mediatech-auth/internal/repository"
	"github.com/mediatech/mediatech-auth/internal/telemetry"
)

// LogoutChannel is the Redis channel other instances listen on for logouts
const LogoutChannel = "mediatech:logout"

const tokenTypeBearer = "Bearer"

// LogoutEvent is published to Redis after a logout
type LogoutEvent struct {
	Username  string `json:"username"`
	Reason    string `json:"reason"`
	Revoked   int64  `json:"revokedRefreshTokens"`
	Timestamp int64  `json:"timestamp"`
	TokenJTI  string `json:"tokenJti"`
}

// LoginResponse is returned by a successful login
type LoginResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int64  `json:"expiresIn"`
	Username     string `json:"username"`
	Role         string `json:"role"`
}

// RefreshResponse is returned by a successful refresh
type RefreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// SessionService ties the credential gate, token issuer, refresh ledger and
// blacklist into the login, refresh, logout and per-request flows
type SessionService struct {
	gate       *CredentialGate
	principals PrincipalStore
	tokens     *auth.TokenService
	ledger     *RefreshLedger
	blacklist  *Blacklist
	audit      *telemetry.Recorder
	rdb        *database.Redis
	log        *logger.Logger
	now        func() time.Time
}

// NewSessionService creates a new SessionService. rdb may be nil, in which
// case logout events are not published.
func NewSessionService(
	gate *CredentialGate,
	principals PrincipalStore,
	tokens *auth.TokenService,
	ledger *RefreshLedger,
	blacklist *Blacklist,
	audit *telemetry.Recorder,
	rdb *database.Redis,
	log *logger.Logger,
) *SessionService {
	return &SessionService{
		gate:       gate,
		principals: principals,
		tokens:     tokens,
		ledger:     ledger,
		blacklist:  blacklist,
		audit:      audit,
		rdb:        rdb,
		log:        log.WithComponent("session"),
		now:        time.Now,
	}
}

// WithClock replaces the time source
func (s *SessionService) WithClock(now func() time.Time) *SessionService {
	s.now = now
	return s
}

// Login checks the credentials and issues a token pair
func (s *SessionService) Login(ctx context.Context, c Credentials) (*LoginResponse, error) {
	p, err := s.gate.AttemptLogin(ctx, c)
	if err != nil {
		return nil, err
	}

	access, _, err := s.tokens.IssueAccessToken(p.Username, p.Roles())
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}
	refresh, err := s.ledger.Issue(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	s.audit.SecurityAction(ctx, p.Username, model.EventLoginSuccess, "Login from "+c.IPAddress)
	s.log.WithUsername(p.Username).Info().Str("ip", c.IPAddress).Msg("User logged in")

	return &LoginResponse{
		AccessToken:  access,
		RefreshToken: refresh.Token,
		TokenType:    tokenTypeBearer,
		ExpiresIn:    s.tokens.AccessTokenTTLSeconds(),
		Username:     p.Username,
		Role:         string(p.Role),
	}, nil
}

// Refresh exchanges a refresh token for a new pair. The presented token
// cannot be used again.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (*RefreshResponse, error) {
	rotation, err := s.ledger.Rotate(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	p := rotation.Owner

	access, _, err := s.tokens.IssueAccessToken(p.Username, p.Roles())
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}

	s.audit.SecurityAction(ctx, p.Username, model.EventTokenRefresh, "Refresh token rotated")

	return &RefreshResponse{
		AccessToken:  access,
		RefreshToken: rotation.Token.Token,
		TokenType:    tokenTypeBearer,
		ExpiresIn:    s.tokens.AccessTokenTTLSeconds(),
	}, nil
}

// Logout blacklists the access token and revokes every refresh token of its
// owner. A token that is already expired, invalid or blacklisted is not an
// error; the call can be repeated with the same result.
func (s *SessionService) Logout(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return nil
	}
	claims, err := s.tokens.Validate(accessToken)
	if err != nil {
		s.log.Debug().Err(err).Msg("Logout with unusable token")
		return nil
	}

	listed, err := s.blacklist.Contains(ctx, accessToken)
	if err != nil {
		return err
	}
	if listed {
		s.log.Debug().Str("username", claims.Subject).Msg("Logout with already revoked token")
		return nil
	}

	if err := s.blacklist.Add(ctx, accessToken, claims.ExpiresAt.Time, model.BlacklistReasonLogout); err != nil {
		return err
	}

	var revoked int64
	p, err := s.principals.FindByUsername(ctx, claims.Subject)
	switch {
	case err == nil:
		revoked, err = s.ledger.RevokeAll(ctx, p.ID)
		if err != nil {
			return err
		}
	case errors.Is(err, repository.ErrNotFound):
	default:
		return fmt.Errorf("failed to get principal: %w", err)
	}

	s.audit.SecurityAction(ctx, claims.Subject, model.EventLogout, fmt.Sprintf("Logged out, %d refresh tokens revoked", revoked))

	if s.rdb != nil {
		if err := s.publishLogoutEvent(ctx, LogoutEvent{
			Username:  claims.Subject,
			Reason:    model.BlacklistReasonLogout,
			Revoked:   revoked,
			Timestamp: s.now().Unix(),
			TokenJTI:  claims.ID,
		}); err != nil {
			s.log.Warn().Err(err).Msg("Logout event not published")
		}
	}
	return nil
}

// Authenticate resolves a bearer token to its principal. The blacklist is
// consulted before the signature so a revoked token never validates.
func (s *SessionService) Authenticate(ctx context.Context, accessToken, ip string) (*model.Principal, error) {
	listed, err := s.blacklist.Contains(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if listed {
		s.audit.SuspiciousActivity(ctx, "", model.EventBlacklistedTokenUse, ip, "Blacklisted access token presented")
		return nil, ErrTokenBlacklisted
	}

	claims, err := s.tokens.Validate(accessToken)
	if err != nil {
		return nil, err
	}

	p, err := s.principals.FindByUsername(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown subject", ErrTokenInvalid)
		}
		return nil, fmt.Errorf("failed to get principal: %w", err)
	}
	if !p.Enabled {
		return nil, fmt.Errorf("%w: principal disabled", ErrTokenInvalid)
	}
	return p, nil
}

// UpdateEmail changes the email address of a principal
func (s *SessionService) UpdateEmail(ctx context.Context, username, email, actor string) error {
	if err := s.principals.UpdateEmail(ctx, username, email); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to update email: %w", err)
	}
	s.audit.SecurityAction(ctx, actor, model.EventProfileUpdated, "Email changed for "+username)
	return nil
}

// VerifyAccount enables the principal holding the verification code. A code
// works once.
func (s *SessionService) VerifyAccount(ctx context.Context, code string) error {
	if code == "" {
		return ErrVerificationCodeInvalid
	}
	p, err := s.principals.FindByVerificationCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrVerificationCodeInvalid
		}
		return fmt.Errorf("failed to get principal: %w", err)
	}
	if err := s.principals.Enable(ctx, p.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrVerificationCodeInvalid
		}
		return fmt.Errorf("failed to enable principal: %w", err)
	}

	s.log.WithUsername(p.Username).Info().Msg("Account verified")
	s.audit.SecurityAction(ctx, p.Username, model.EventAccountVerified, "Account verified by email code")
	return nil
}

func (s *SessionService) publishLogoutEvent(ctx context.Context, event LogoutEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal logout event: %w", err)
	}
	if err := s.rdb.Publish(ctx, LogoutChannel, string(data)); err != nil {
		return fmt.Errorf("failed to publish logout event: %w", err)
	}
	s.log.Debug().Str("username", event.Username).Str("channel", LogoutChannel).Msg("Logout event published")
	return nil
}
