package service

import (
	"errors"
	"fmt"

	"github.com/mediatech/mediatech-auth/internal/auth"
)

// Common service errors
var (
	ErrBadCredentials  = errors.New("invalid username or password")
	ErrAccountLocked   = errors.New("account is temporarily locked")
	ErrAccountDisabled = errors.New("account is not enabled")
	ErrUserNotFound    = errors.New("user not found")
	ErrInvoiceNotFound = errors.New("invoice not found")
	ErrInvalidRole     = errors.New("unknown role")
	ErrTokenNotOwned   = errors.New("token is not a valid access token of this user")

	ErrVerificationCodeInvalid = errors.New("invalid or expired verification code")

	ErrTokenExpired     = auth.ErrTokenExpired
	ErrTokenInvalid     = auth.ErrTokenInvalid
	ErrTokenBlacklisted = errors.New("token has been revoked")

	ErrRefreshTokenInvalid          = errors.New("invalid or expired refresh token")
	ErrRefreshTokenNotFound         = fmt.Errorf("%w: not found", ErrRefreshTokenInvalid)
	ErrRefreshTokenExpiredOrRevoked = fmt.Errorf("%w: expired or revoked", ErrRefreshTokenInvalid)
	ErrRefreshTokenOwnerDisabled    = fmt.Errorf("%w: account disabled", ErrRefreshTokenInvalid)
)

// AccountLockedError carries the time left on a lockout
type AccountLockedError struct {
	RemainingMinutes int64
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account is locked for another %d minutes", e.RemainingMinutes)
}

// Is lets errors.Is(err, ErrAccountLocked) match
func (e *AccountLockedError) Is(target error) bool {
	return target == ErrAccountLocked
}
