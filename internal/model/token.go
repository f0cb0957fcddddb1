package model

import (
	"time"
)

// RefreshToken represents a stored refresh token
type RefreshToken struct {
	ID          int64      `json:"id"`
	PrincipalID int64      `json:"principalId"`
	Token       string     `json:"-"`
	ExpiresAt   time.Time  `json:"expiresAt"`
	Revoked     bool       `json:"revoked"`
	CreatedAt   time.Time  `json:"createdAt"`
	RevokedAt   *time.Time `json:"revokedAt,omitempty"`
}

// IsExpiredAt checks if the refresh token has expired at now
func (t *RefreshToken) IsExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// IsValidAt reports now < ExpiresAt and not revoked
func (t *RefreshToken) IsValidAt(now time.Time) bool {
	return !t.Revoked && !t.IsExpiredAt(now)
}

// BlacklistEntry marks an access token as revoked until its natural expiry
type BlacklistEntry struct {
	TokenHash     string    `json:"-"`
	ExpiresAt     time.Time `json:"expiresAt"`
	BlacklistedAt time.Time `json:"blacklistedAt"`
	Reason        string    `json:"reason"`
}

// Blacklist reasons
const (
	BlacklistReasonLogout  = "LOGOUT"
	BlacklistReasonRevoked = "FORCED_REVOCATION"
)
