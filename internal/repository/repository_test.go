package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/mediatech/mediatech-auth/internal/database"
	"github.com/mediatech/mediatech-auth/internal/model"
)

func newMock(t *testing.T) (*database.Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return database.NewPostgresFromDB(db), mock
}

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func testPolicy() LockoutPolicy {
	return LockoutPolicy{
		MaxAttempts: 5,
		Duration:    30 * time.Minute,
		Window:      15 * time.Minute,
		Now:         t0,
	}
}

func failedAttempt(username string) *model.LoginAttempt {
	return &model.LoginAttempt{
		Username:    username,
		IPAddress:   "10.0.0.5",
		AttemptedAt: t0,
		UserAgent:   "curl/8.0",
	}
}

func TestRecordFailure_LocksAtThreshold(t *testing.T) {
	pg, mock := newMock(t)
	repo := NewLoginAttemptRepository(pg)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, account_locked, lockout_until").
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"id", "account_locked", "lockout_until"}).AddRow(int64(1), false, nil))
	mock.ExpectQuery("INSERT INTO login_attempts").
		WithArgs("alice", "10.0.0.5", t0, "curl/8.0").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
		WithArgs("alice", t0.Add(-15*time.Minute)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))
	mock.ExpectExec("UPDATE principals").
		WithArgs(t0.Add(30*time.Minute), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	a := failedAttempt("alice")
	outcome, err := repo.RecordFailure(context.Background(), a, testPolicy())
	require.NoError(t, err)
	require.True(t, outcome.Locked)
	require.Equal(t, 5, outcome.FailureCount)
	require.Equal(t, t0.Add(30*time.Minute), outcome.LockoutUntil)
	require.Equal(t, int64(42), a.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordFailure_BelowThreshold(t *testing.T) {
	pg, mock := newMock(t)
	repo := NewLoginAttemptRepository(pg)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, account_locked, lockout_until").
		WillReturnRows(sqlmock.NewRows([]string{"id", "account_locked", "lockout_until"}).AddRow(int64(1), false, nil))
	mock.ExpectQuery("INSERT INTO login_attempts").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
	mock.ExpectCommit()

	outcome, err := repo.RecordFailure(context.Background(), failedAttempt("alice"), testPolicy())
	require.NoError(t, err)
	require.False(t, outcome.Locked)
	require.Equal(t, 4, outcome.FailureCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordFailure_UnknownUserStillRecorded(t *testing.T) {
	pg, mock := newMock(t)
	repo := NewLoginAttemptRepository(pg)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, account_locked, lockout_until").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id", "account_locked", "lockout_until"}))
	mock.ExpectQuery("INSERT INTO login_attempts").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(9))
	mock.ExpectCommit()

	outcome, err := repo.RecordFailure(context.Background(), failedAttempt("ghost"), testPolicy())
	require.NoError(t, err)
	require.False(t, outcome.Locked)
	require.Equal(t, 9, outcome.FailureCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordFailure_DoesNotExtendActiveLockout(t *testing.T) {
	pg, mock := newMock(t)
	repo := NewLoginAttemptRepository(pg)

	until := t0.Add(10 * time.Minute)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, account_locked, lockout_until").
		WillReturnRows(sqlmock.NewRows([]string{"id", "account_locked", "lockout_until"}).AddRow(int64(1), true, until))
	mock.ExpectQuery("INSERT INTO login_attempts").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(8)))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(6))
	mock.ExpectCommit()

	outcome, err := repo.RecordFailure(context.Background(), failedAttempt("alice"), testPolicy())
	require.NoError(t, err)
	require.False(t, outcome.Locked)
	require.NoError(t, mock.ExpectationsWereMet())
}

var rotateColumns = []string{"id", "principal_id", "token", "expires_at", "revoked", "created_at", "revoked_at", "username", "role", "enabled"}

func TestRotate_RevokesAndIssues(t *testing.T) {
	pg, mock := newMock(t)
	repo := NewRefreshTokenRepository(pg)
	now := t0.Add(time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT rt.id, rt.principal_id").
		WithArgs("R1").
		WillReturnRows(sqlmock.NewRows(rotateColumns).
			AddRow(int64(11), int64(3), "R1", t0.Add(7*24*time.Hour), false, t0, nil, "alice", "VENDEUR", true))
	mock.ExpectExec("UPDATE refresh_tokens SET revoked = TRUE").
		WithArgs(now, int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO refresh_tokens").
		WithArgs(int64(3), "R2", now.Add(7*24*time.Hour), now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(12)))
	mock.ExpectCommit()

	next := &model.RefreshToken{Token: "R2", ExpiresAt: now.Add(7 * 24 * time.Hour), CreatedAt: now}
	got, err := repo.Rotate(context.Background(), "R1", next, now)
	require.NoError(t, err)
	require.Equal(t, int64(12), got.Token.ID)
	require.Equal(t, int64(3), got.Token.PrincipalID)
	require.Equal(t, int64(3), got.Owner.ID)
	require.Equal(t, "alice", got.Owner.Username)
	require.Equal(t, model.RoleVendeur, got.Owner.Role)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRotate_DisabledOwnerRollsBack(t *testing.T) {
	pg, mock := newMock(t)
	repo := NewRefreshTokenRepository(pg)
	now := t0.Add(time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT rt.id, rt.principal_id").
		WithArgs("R1").
		WillReturnRows(sqlmock.NewRows(rotateColumns).
			AddRow(int64(11), int64(3), "R1", t0.Add(7*24*time.Hour), false, t0, nil, "alice", "VENDEUR", false))
	mock.ExpectRollback()

	next := &model.RefreshToken{Token: "R2", ExpiresAt: now.Add(7 * 24 * time.Hour), CreatedAt: now}
	got, err := repo.Rotate(context.Background(), "R1", next, now)
	require.ErrorIs(t, err, ErrOwnerDisabled)
	require.Nil(t, got)
	require.Zero(t, next.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRotate_RevokedTokenIsDeleted(t *testing.T) {
	pg, mock := newMock(t)
	repo := NewRefreshTokenRepository(pg)
	now := t0.Add(2 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT rt.id, rt.principal_id").
		WithArgs("R1").
		WillReturnRows(sqlmock.NewRows(rotateColumns).
			AddRow(int64(11), int64(3), "R1", t0.Add(7*24*time.Hour), true, t0, t0.Add(time.Hour), "alice", "VENDEUR", true))
	mock.ExpectExec("DELETE FROM refresh_tokens").
		WithArgs(int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := repo.Rotate(context.Background(), "R1", &model.RefreshToken{Token: "R3"}, now)
	require.ErrorIs(t, err, ErrStale)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRotate_UnknownToken(t *testing.T) {
	pg, mock := newMock(t)
	repo := NewRefreshTokenRepository(pg)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT rt.id, rt.principal_id").
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(rotateColumns))
	mock.ExpectRollback()

	_, err := repo.Rotate(context.Background(), "nope", &model.RefreshToken{Token: "R3"}, t0)
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteInBatches_LoopsUntilShortBatch(t *testing.T) {
	pg, mock := newMock(t)
	repo := NewLoginAttemptRepository(pg)

	cutoff := t0.Add(-30 * 24 * time.Hour)
	mock.ExpectExec("WITH doomed AS").
		WithArgs(cutoff, 2).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("WITH doomed AS").
		WithArgs(cutoff, 2).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := repo.DeleteOlderThan(context.Background(), cutoff, 2)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBlacklistAdd_IgnoresDuplicates(t *testing.T) {
	pg, mock := newMock(t)
	repo := NewBlacklistRepository(pg)

	entry := &model.BlacklistEntry{
		TokenHash:     "ab12",
		ExpiresAt:     t0.Add(15 * time.Minute),
		BlacklistedAt: t0.Add(5 * time.Minute),
		Reason:        model.BlacklistReasonLogout,
	}
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (token_hash) DO NOTHING")).
		WithArgs("ab12", entry.ExpiresAt, entry.BlacklistedAt, "LOGOUT").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Add(context.Background(), entry))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByUsername_NotFound(t *testing.T) {
	pg, mock := newMock(t)
	repo := NewPrincipalRepository(pg)

	mock.ExpectQuery("FROM principals WHERE username").
		WithArgs("nobody").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.FindByUsername(context.Background(), "nobody")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListUsernames_OrderedByID(t *testing.T) {
	pg, mock := newMock(t)
	repo := NewPrincipalRepository(pg)

	mock.ExpectQuery("ORDER BY id ASC").
		WillReturnRows(sqlmock.NewRows([]string{"username"}).AddRow("admin").AddRow("alice").AddRow("bob"))

	names, err := repo.ListUsernames(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"admin", "alice", "bob"}, names)
}

func TestInvoiceStats_UnknownClient(t *testing.T) {
	pg, mock := newMock(t)
	repo := NewInvoiceRepository(pg, 5000, 10)

	mock.ExpectQuery("FILTER").
		WithArgs(5000.0).
		WillReturnRows(sqlmock.NewRows([]string{"total", "flagged"}).AddRow(int64(40), int64(2)))
	mock.ExpectQuery("ORDER BY total_amount DESC").
		WithArgs(5000.0, 5).
		WillReturnRows(sqlmock.NewRows([]string{"ref", "total_amount", "client_username", "issued_at"}).
			AddRow("FAC-001", 12000.0, "alice", t0).
			AddRow("FAC-002", 7000.0, nil, t0))

	stats, err := repo.InvoiceStats(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(40), stats.TotalInvoices)
	require.Equal(t, int64(2), stats.HighValueFlagged)
	require.Len(t, stats.SuspiciousTransactions, 2)
	require.Equal(t, "alice", stats.SuspiciousTransactions[0].User)
	require.Equal(t, "Unknown", stats.SuspiciousTransactions[1].User)
	require.Equal(t, "Exceeds Threshold (5000.0)", stats.SuspiciousTransactions[1].Reason)
}

func TestEnable_ConsumesVerificationCode(t *testing.T) {
	pg, mock := newMock(t)
	repo := NewPrincipalRepository(pg)

	mock.ExpectExec(regexp.QuoteMeta("SET enabled = true, verification_code = NULL WHERE id = $1")).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("SET enabled = true").
		WithArgs(int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Enable(context.Background(), 7))
	require.ErrorIs(t, repo.Enable(context.Background(), 8), ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateAccess(t *testing.T) {
	pg, mock := newMock(t)
	repo := NewPrincipalRepository(pg)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE principals SET role = $1, enabled = $2 WHERE username = $3")).
		WithArgs("VENDEUR", false, "alice").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE principals SET role").
		WithArgs("ADMIN", true, "ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.UpdateAccess(context.Background(), "alice", model.RoleVendeur, false))
	require.ErrorIs(t, repo.UpdateAccess(context.Background(), "ghost", model.RoleAdmin, true), ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePasswordHash(t *testing.T) {
	pg, mock := newMock(t)
	repo := NewPrincipalRepository(pg)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE principals SET password_hash = $1 WHERE id = $2")).
		WithArgs("$2a$12$new", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdatePasswordHash(context.Background(), 3, "$2a$12$new"))
	require.NoError(t, mock.ExpectationsWereMet())
}
