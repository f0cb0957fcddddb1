package service

import (
	"context"
	"time"

	"github.com/mediatech/mediatech-auth/internal/model"
	"github.com/mediatech/mediatech-auth/internal/repository"
)

// The interfaces below are what the services need from persistence. The
// repository package provides the Postgres implementations.

// PrincipalStore reads and updates principals
type PrincipalStore interface {
	FindByUsername(ctx context.Context, username string) (*model.Principal, error)
	FindByID(ctx context.Context, id int64) (*model.Principal, error)
	FindByVerificationCode(ctx context.Context, code string) (*model.Principal, error)
	Enable(ctx context.Context, id int64) error
	ClearLockout(ctx context.Context, username string, resetFailures bool) error
	ResetFailedAttempts(ctx context.Context, username string) error
	UpdateEmail(ctx context.Context, username, email string) error
	UpdateAccess(ctx context.Context, username string, role model.Role, enabled bool) error
	UpdatePasswordHash(ctx context.Context, id int64, hash string) error
	ListUsernames(ctx context.Context) ([]string, error)
}

// LoginAttemptStore records credential checks and performs the lockout
// check-and-set
type LoginAttemptStore interface {
	Create(ctx context.Context, attempt *model.LoginAttempt) error
	RecordFailure(ctx context.Context, attempt *model.LoginAttempt, policy repository.LockoutPolicy) (repository.LockoutOutcome, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

// RefreshTokenStore persists refresh tokens
type RefreshTokenStore interface {
	Create(ctx context.Context, token *model.RefreshToken) error
	GetByToken(ctx context.Context, token string) (*model.RefreshToken, error)
	Delete(ctx context.Context, id int64) error
	Rotate(ctx context.Context, token string, next *model.RefreshToken, now time.Time) (*repository.Rotation, error)
	RevokeAllForPrincipal(ctx context.Context, principalID int64, now time.Time) (int64, error)
	DeleteExpiredOrRevoked(ctx context.Context, now time.Time, batchSize int) (int64, error)
}

// BlacklistStore persists blacklisted token hashes
type BlacklistStore interface {
	Add(ctx context.Context, entry *model.BlacklistEntry) error
	Find(ctx context.Context, tokenHash string) (*model.BlacklistEntry, error)
	DeleteExpired(ctx context.Context, now time.Time, batchSize int) (int64, error)
}

// SecurityEventReader is the read side of the security event log
type SecurityEventReader interface {
	ListSince(ctx context.Context, since time.Time) ([]*model.SecurityEvent, error)
	ListByUsernameSince(ctx context.Context, username string, since time.Time) ([]*model.SecurityEvent, error)
	Count(ctx context.Context) (int64, error)
	CountCritical(ctx context.Context, since time.Time) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

// BusinessActivity answers questions about invoicing behavior
type BusinessActivity interface {
	HighValueTransactionCount(ctx context.Context, username string, since time.Time) (int, error)
	RapidActivityDayCount(ctx context.Context, username string, since time.Time) (int, error)
	InvoiceStats(ctx context.Context) (*model.InvoiceStats, error)
	FindByRef(ctx context.Context, ref string) (*model.InvoiceActivity, error)
}

// Compile-time checks that the Postgres repositories satisfy the ports
var (
	_ PrincipalStore      = (*repository.PrincipalRepository)(nil)
	_ LoginAttemptStore   = (*repository.LoginAttemptRepository)(nil)
	_ RefreshTokenStore   = (*repository.RefreshTokenRepository)(nil)
	_ BlacklistStore      = (*repository.BlacklistRepository)(nil)
	_ SecurityEventReader = (*repository.SecurityEventRepository)(nil)
	_ BusinessActivity    = (*repository.InvoiceRepository)(nil)
)
