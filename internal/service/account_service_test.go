package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mediatech/mediatech-auth/internal/auth"
	"github.com/mediatech/mediatech-auth/internal/model"
)

func TestAccountStatusReportsLockout(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addPrincipal(t, "alice", model.RoleVendeur, true)
	ctx := context.Background()

	status, err := env.accounts.Status(ctx, "alice")
	require.NoError(t, err)
	require.False(t, status.AccountLocked)
	require.Zero(t, status.RemainingLockoutMinutes)

	for i := 0; i < 5; i++ {
		_, _ = env.gate.AttemptLogin(ctx, creds("alice", "wrong"))
	}
	env.clock.Advance(90 * time.Second)

	status, err = env.accounts.Status(ctx, "alice")
	require.NoError(t, err)
	require.True(t, status.AccountLocked)
	require.EqualValues(t, 29, status.RemainingLockoutMinutes)

	_, err = env.accounts.Status(ctx, "ghost")
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestUpdateAccessChangesRole(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addPrincipal(t, "alice", model.RoleClient, true)
	ctx := context.Background()

	role := model.RoleVendeur
	status, err := env.accounts.UpdateAccess(ctx, "alice", AccessChange{Role: &role}, "root")
	require.NoError(t, err)
	require.Equal(t, model.RoleVendeur, status.Role)
	require.True(t, status.Enabled)
	require.Equal(t, model.RoleVendeur, env.principals.get("alice").Role)

	bogus := model.Role("SUPERUSER")
	_, err = env.accounts.UpdateAccess(ctx, "alice", AccessChange{Role: &bogus}, "root")
	require.ErrorIs(t, err, ErrInvalidRole)

	_, err = env.accounts.UpdateAccess(ctx, "ghost", AccessChange{Role: &role}, "root")
	require.ErrorIs(t, err, ErrUserNotFound)

	require.Contains(t, env.flush(), model.EventAccessChanged)
}

func TestDisablingAccountRevokesRefreshTokens(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addPrincipal(t, "alice", model.RoleVendeur, true)
	ctx := context.Background()

	resp, err := env.sessions.Login(ctx, creds("alice", testPassword))
	require.NoError(t, err)

	disabled := false
	status, err := env.accounts.UpdateAccess(ctx, "alice", AccessChange{Enabled: &disabled}, "root")
	require.NoError(t, err)
	require.False(t, status.Enabled)

	_, err = env.sessions.Refresh(ctx, resp.RefreshToken)
	require.ErrorIs(t, err, ErrRefreshTokenInvalid)
}

func TestRevokeSessionsBlacklistsCompromisedToken(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addPrincipal(t, "alice", model.RoleVendeur, true)
	env.addPrincipal(t, "bob", model.RoleVendeur, true)
	ctx := context.Background()

	first, err := env.sessions.Login(ctx, creds("alice", testPassword))
	require.NoError(t, err)
	second, err := env.sessions.Login(ctx, creds("alice", testPassword))
	require.NoError(t, err)

	n, err := env.accounts.RevokeSessions(ctx, "alice", first.AccessToken, "root")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	_, err = env.sessions.Authenticate(ctx, first.AccessToken, "")
	require.ErrorIs(t, err, ErrTokenBlacklisted)
	_, err = env.sessions.Refresh(ctx, second.RefreshToken)
	require.ErrorIs(t, err, ErrRefreshTokenInvalid)

	entry, err := env.blacklist.Find(ctx, auth.HashToken(first.AccessToken))
	require.NoError(t, err)
	require.Equal(t, model.BlacklistReasonRevoked, entry.Reason)

	// another user's token is refused rather than blacklisted
	bob, err := env.sessions.Login(ctx, creds("bob", testPassword))
	require.NoError(t, err)
	_, err = env.accounts.RevokeSessions(ctx, "alice", bob.AccessToken, "root")
	require.ErrorIs(t, err, ErrTokenNotOwned)

	// without a token only the refresh tokens go
	_, err = env.accounts.RevokeSessions(ctx, "alice", "", "root")
	require.NoError(t, err)

	require.Contains(t, env.flush(), model.EventSessionsRevoked)
}
