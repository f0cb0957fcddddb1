package model

import (
	"time"
)

// Role is the authority a principal holds
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleVendeur Role = "VENDEUR"
	RoleClient  Role = "CLIENT"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleVendeur, RoleClient:
		return true
	}
	return false
}

// Principal represents an account that can authenticate
type Principal struct {
	ID               int64      `json:"id"`
	Username         string     `json:"username"`
	Email            string     `json:"email"`
	PasswordHash     string     `json:"-"` // never expose password hash
	Role             Role       `json:"role"`
	Enabled          bool       `json:"enabled"`
	AccountLocked    bool       `json:"accountLocked"`
	LockoutUntil     *time.Time `json:"lockoutUntil,omitempty"`
	FailedAttempts   int        `json:"-"`
	VerificationCode *string    `json:"-"`
	CreatedAt        time.Time  `json:"createdAt"`
}

// IsLockedAt reports whether the lockout is still in force at now
func (p *Principal) IsLockedAt(now time.Time) bool {
	if !p.AccountLocked || p.LockoutUntil == nil {
		return false
	}
	return now.Before(*p.LockoutUntil)
}

// LockoutExpiredAt reports whether the account is flagged locked but the
// lockout period has already passed
func (p *Principal) LockoutExpiredAt(now time.Time) bool {
	if !p.AccountLocked {
		return false
	}
	return p.LockoutUntil == nil || !now.Before(*p.LockoutUntil)
}

// Roles returns the ordered authority list carried in access tokens
func (p *Principal) Roles() []string {
	return []string{string(p.Role)}
}

// LoginAttempt is one recorded credential check
type LoginAttempt struct {
	ID          int64     `json:"id"`
	Username    string    `json:"username"`
	IPAddress   string    `json:"ipAddress"`
	Success     bool      `json:"success"`
	AttemptedAt time.Time `json:"attemptedAt"`
	UserAgent   string    `json:"userAgent"`
}
