package service

import (
	"context"
	"encoding/base64"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mediatech/mediatech-auth/internal/auth"
	"github.com/mediatech/mediatech-auth/internal/config"
	"github.com/mediatech/mediatech-auth/internal/database"
	"github.com/mediatech/mediatech-auth/internal/logger"
	"github.com/mediatech/mediatech-auth/internal/model"
	"github.com/mediatech/mediatech-auth/internal/repository"
	"github.com/mediatech/mediatech-auth/internal/telemetry"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memPrincipals keeps principals in insertion order, which stands in for id order
type memPrincipals struct {
	mu    sync.Mutex
	rows  map[string]*model.Principal
	order []string
}

func newMemPrincipals() *memPrincipals {
	return &memPrincipals{rows: make(map[string]*model.Principal)}
}

func (m *memPrincipals) add(p *model.Principal) *model.Principal {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = int64(len(m.order) + 1)
	m.rows[p.Username] = p
	m.order = append(m.order, p.Username)
	return p
}

func (m *memPrincipals) get(username string) model.Principal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.rows[username]
}

func (m *memPrincipals) FindByUsername(_ context.Context, username string) (*model.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[username]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPrincipals) FindByID(_ context.Context, id int64) (*model.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.rows {
		if p.ID == id {
			cp := *p
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memPrincipals) FindByVerificationCode(_ context.Context, code string) (*model.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.rows {
		if p.VerificationCode != nil && *p.VerificationCode == code {
			cp := *p
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memPrincipals) Enable(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.rows {
		if p.ID == id {
			p.Enabled = true
			p.VerificationCode = nil
			return nil
		}
	}
	return repository.ErrNotFound
}

func (m *memPrincipals) ClearLockout(_ context.Context, username string, resetFailures bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[username]
	if !ok {
		return repository.ErrNotFound
	}
	p.AccountLocked = false
	p.LockoutUntil = nil
	if resetFailures {
		p.FailedAttempts = 0
	}
	return nil
}

func (m *memPrincipals) ResetFailedAttempts(_ context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.rows[username]; ok {
		p.FailedAttempts = 0
	}
	return nil
}

func (m *memPrincipals) UpdateEmail(_ context.Context, username, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[username]
	if !ok {
		return repository.ErrNotFound
	}
	p.Email = email
	return nil
}

func (m *memPrincipals) UpdateAccess(_ context.Context, username string, role model.Role, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[username]
	if !ok {
		return repository.ErrNotFound
	}
	p.Role = role
	p.Enabled = enabled
	return nil
}

func (m *memPrincipals) UpdatePasswordHash(_ context.Context, id int64, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.rows {
		if p.ID == id {
			p.PasswordHash = hash
			return nil
		}
	}
	return repository.ErrNotFound
}

func (m *memPrincipals) ListUsernames(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...), nil
}

// memAttempts holds the principal lock for the whole check-and-set, the
// way the Postgres repository holds the row lock
type memAttempts struct {
	principals *memPrincipals
	mu         sync.Mutex
	rows       []*model.LoginAttempt
}

func (m *memAttempts) Create(_ context.Context, a *model.LoginAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = int64(len(m.rows) + 1)
	m.rows = append(m.rows, a)
	return nil
}

func (m *memAttempts) RecordFailure(ctx context.Context, a *model.LoginAttempt, policy repository.LockoutPolicy) (repository.LockoutOutcome, error) {
	m.principals.mu.Lock()
	defer m.principals.mu.Unlock()

	a.Success = false
	if err := m.Create(ctx, a); err != nil {
		return repository.LockoutOutcome{}, err
	}

	var outcome repository.LockoutOutcome
	outcome.FailureCount = m.failuresSince(a.Username, policy.Now.Add(-policy.Window))

	p, ok := m.principals.rows[a.Username]
	if !ok || outcome.FailureCount < policy.MaxAttempts {
		return outcome, nil
	}
	if p.AccountLocked && p.LockoutUntil != nil && policy.Now.Before(*p.LockoutUntil) {
		return outcome, nil
	}
	until := policy.Now.Add(policy.Duration)
	p.AccountLocked = true
	p.LockoutUntil = &until
	p.FailedAttempts++
	outcome.Locked = true
	outcome.LockoutUntil = until
	return outcome, nil
}

func (m *memAttempts) failuresSince(username string, since time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.rows {
		if a.Username == username && !a.Success && a.AttemptedAt.After(since) {
			n++
		}
	}
	return n
}

func (m *memAttempts) DeleteOlderThan(_ context.Context, cutoff time.Time, _ int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.rows[:0]
	var n int64
	for _, a := range m.rows {
		if a.AttemptedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, a)
	}
	m.rows = kept
	return n, nil
}

func (m *memAttempts) all() []model.LoginAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.LoginAttempt, 0, len(m.rows))
	for _, a := range m.rows {
		out = append(out, *a)
	}
	return out
}

// memTokens reads owners from principals the way the Postgres rotation joins them
type memTokens struct {
	principals *memPrincipals
	mu         sync.Mutex
	nextID     int64
	rows       map[string]*model.RefreshToken
}

func newMemTokens(principals *memPrincipals) *memTokens {
	return &memTokens{principals: principals, rows: make(map[string]*model.RefreshToken)}
}

func (m *memTokens) Create(_ context.Context, t *model.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insert(t)
	return nil
}

func (m *memTokens) insert(t *model.RefreshToken) {
	m.nextID++
	t.ID = m.nextID
	cp := *t
	m.rows[t.Token] = &cp
}

func (m *memTokens) GetByToken(_ context.Context, token string) (*model.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.rows[token]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memTokens) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, t := range m.rows {
		if t.ID == id {
			delete(m.rows, k)
		}
	}
	return nil
}

func (m *memTokens) Rotate(ctx context.Context, token string, next *model.RefreshToken, now time.Time) (*repository.Rotation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.rows[token]
	if !ok {
		return nil, repository.ErrNotFound
	}
	owner, err := m.principals.FindByID(ctx, old.PrincipalID)
	if err != nil {
		return nil, repository.ErrNotFound
	}
	if !old.IsValidAt(now) {
		delete(m.rows, token)
		return nil, repository.ErrStale
	}
	if !owner.Enabled {
		return nil, repository.ErrOwnerDisabled
	}
	old.Revoked = true
	old.RevokedAt = &now
	next.PrincipalID = old.PrincipalID
	m.insert(next)
	return &repository.Rotation{Token: next, Owner: owner}, nil
}

func (m *memTokens) RevokeAllForPrincipal(_ context.Context, principalID int64, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, t := range m.rows {
		if t.PrincipalID == principalID && !t.Revoked {
			t.Revoked = true
			t.RevokedAt = &now
			n++
		}
	}
	return n, nil
}

func (m *memTokens) DeleteExpiredOrRevoked(_ context.Context, now time.Time, _ int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, t := range m.rows {
		if t.Revoked || !now.Before(t.ExpiresAt) {
			delete(m.rows, k)
			n++
		}
	}
	return n, nil
}

func (m *memTokens) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type memBlacklist struct {
	mu    sync.Mutex
	rows  map[string]*model.BlacklistEntry
	finds int
}

func newMemBlacklist() *memBlacklist {
	return &memBlacklist{rows: make(map[string]*model.BlacklistEntry)}
}

func (m *memBlacklist) Add(_ context.Context, e *model.BlacklistEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[e.TokenHash]; !ok {
		cp := *e
		m.rows[e.TokenHash] = &cp
	}
	return nil
}

func (m *memBlacklist) Find(_ context.Context, hash string) (*model.BlacklistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finds++
	e, ok := m.rows[hash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *memBlacklist) DeleteExpired(_ context.Context, now time.Time, _ int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, e := range m.rows {
		if e.ExpiresAt.Before(now) {
			delete(m.rows, k)
			n++
		}
	}
	return n, nil
}

func (m *memBlacklist) findCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finds
}

// memEvents is both the telemetry sink and the read side the risk scorer uses
type memEvents struct {
	mu   sync.Mutex
	rows []*model.SecurityEvent
}

func (m *memEvents) Write(_ context.Context, e *model.SecurityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = int64(len(m.rows) + 1)
	m.rows = append(m.rows, e)
	return nil
}

func (m *memEvents) add(username, eventType string, severity model.Severity, at time.Time) {
	u := username
	_ = m.Write(context.Background(), &model.SecurityEvent{
		EventType: eventType,
		Severity:  severity,
		Username:  &u,
		Timestamp: at,
	})
}

func (m *memEvents) ListSince(_ context.Context, since time.Time) ([]*model.SecurityEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.SecurityEvent
	for _, e := range m.rows {
		if e.Timestamp.After(since) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *memEvents) ListByUsernameSince(ctx context.Context, username string, since time.Time) ([]*model.SecurityEvent, error) {
	all, _ := m.ListSince(ctx, since)
	var out []*model.SecurityEvent
	for _, e := range all {
		if e.UsernameOrEmpty() == username {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memEvents) Count(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.rows)), nil
}

func (m *memEvents) CountCritical(ctx context.Context, since time.Time) (int64, error) {
	all, _ := m.ListSince(ctx, since)
	var n int64
	for _, e := range all {
		if e.Severity == model.SeverityCritical {
			n++
		}
	}
	return n, nil
}

func (m *memEvents) DeleteOlderThan(_ context.Context, cutoff time.Time, _ int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.rows[:0]
	var n int64
	for _, e := range m.rows {
		if e.Timestamp.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	m.rows = kept
	return n, nil
}

func (m *memEvents) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.rows))
	for _, e := range m.rows {
		out = append(out, e.EventType)
	}
	return out
}

func (m *memEvents) hasDetailPrefix(prefix string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.rows {
		if strings.HasPrefix(e.Details, prefix) {
			return true
		}
	}
	return false
}

type memActivity struct {
	highValue map[string]int
	rapidDays map[string]int
	stats     model.InvoiceStats
	invoices  map[string]*model.InvoiceActivity
}

func (m *memActivity) HighValueTransactionCount(_ context.Context, username string, _ time.Time) (int, error) {
	return m.highValue[username], nil
}

func (m *memActivity) RapidActivityDayCount(_ context.Context, username string, _ time.Time) (int, error) {
	return m.rapidDays[username], nil
}

func (m *memActivity) InvoiceStats(context.Context) (*model.InvoiceStats, error) {
	stats := m.stats
	return &stats, nil
}

func (m *memActivity) FindByRef(_ context.Context, ref string) (*model.InvoiceActivity, error) {
	inv, ok := m.invoices[ref]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return inv, nil
}

var (
	_ PrincipalStore      = (*memPrincipals)(nil)
	_ LoginAttemptStore   = (*memAttempts)(nil)
	_ RefreshTokenStore   = (*memTokens)(nil)
	_ BlacklistStore      = (*memBlacklist)(nil)
	_ SecurityEventReader = (*memEvents)(nil)
	_ BusinessActivity    = (*memActivity)(nil)
	_ telemetry.Sink      = (*memEvents)(nil)
)

const testPassword = "S3cure!pass"

// testEnv wires every service against the in-memory stores
type testEnv struct {
	clock      *clock
	hasher     *auth.Hasher
	principals *memPrincipals
	attempts   *memAttempts
	tokens     *memTokens
	blacklist  *memBlacklist
	events     *memEvents
	dispatcher *telemetry.Dispatcher

	tokenSvc *auth.TokenService
	gate     *CredentialGate
	ledger   *RefreshLedger
	bl       *Blacklist
	sessions *SessionService
	accounts *AccountService
}

func newTestEnv(t *testing.T, rdb *database.Redis) *testEnv {
	t.Helper()
	log := logger.Nop()
	clk := &clock{now: t0}

	principals := newMemPrincipals()
	e := &testEnv{
		clock:      clk,
		hasher:     auth.NewHasher(4),
		principals: principals,
		attempts:   &memAttempts{principals: principals},
		tokens:     newMemTokens(principals),
		blacklist:  newMemBlacklist(),
		events:     &memEvents{},
	}
	e.dispatcher = telemetry.NewDispatcher(telemetry.Config{QueueSize: 64}, e.events, nil, log)
	t.Cleanup(e.dispatcher.Close)
	recorder := telemetry.NewRecorder(e.dispatcher, log).WithClock(clk.Now)

	tokenSvc, err := auth.NewTokenService(config.TokenConfig{
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
		SigningSecret:   base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef")),
		Issuer:          "mediatech",
	})
	require.NoError(t, err)
	e.tokenSvc = tokenSvc.WithClock(clk.Now)

	e.gate = NewCredentialGate(e.principals, e.attempts, e.hasher, recorder, config.LockoutConfig{
		MaxAttempts:   5,
		Duration:      30 * time.Minute,
		AttemptWindow: 15 * time.Minute,
	}, log).WithClock(clk.Now)
	e.ledger = NewRefreshLedger(e.tokens, e.tokenSvc.RefreshTokenTTL(), 100, log).WithClock(clk.Now)
	e.bl = NewBlacklist(e.blacklist, rdb, 100, log).WithClock(clk.Now)
	e.sessions = NewSessionService(e.gate, e.principals, e.tokenSvc, e.ledger, e.bl, recorder, rdb, log).WithClock(clk.Now)
	e.accounts = NewAccountService(e.gate, e.principals, e.tokenSvc, e.ledger, e.bl, recorder, log)
	return e
}

func (e *testEnv) addPrincipal(t *testing.T, username string, role model.Role, enabled bool) *model.Principal {
	t.Helper()
	hash, err := e.hasher.Hash(testPassword)
	require.NoError(t, err)
	return e.principals.add(&model.Principal{
		Username:     username,
		Email:        username + "@mediatech.test",
		PasswordHash: hash,
		Role:         role,
		Enabled:      enabled,
		CreatedAt:    t0,
	})
}

// flush waits for every recorded event to reach the store
func (e *testEnv) flush() []string {
	e.dispatcher.Close()
	return e.events.types()
}

func creds(username, password string) Credentials {
	return Credentials{Username: username, Password: password, IPAddress: "10.0.0.5", UserAgent: "curl/8.0"}
}
