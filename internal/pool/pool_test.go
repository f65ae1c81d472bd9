package pool

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twsio/tws/internal/config"
)

func newTestPool(t *testing.T, opts ...Option) *AccountsPool {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)

	p, err := New(context.Background(), filepath.Join(t.TempDir(), "accounts.db"), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func addAccount(t *testing.T, p *AccountsPool, username string, active bool) {
	t.Helper()
	ctx := context.Background()
	opts := AddOpts{UserAgent: "ua-" + username}
	if active {
		opts.Cookies = `{"ct0":"csrf-` + username + `"}`
	}
	require.NoError(t, p.AddAccount(ctx, username, "pass", username+"@example.com", "epass", opts))
}

func TestAddAccount(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()

	addAccount(t, p, "alice", true)
	acc, err := p.Get(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, acc.Active)
	assert.Equal(t, "csrf-alice", acc.Cookies["ct0"])
	assert.Equal(t, "ua-alice", acc.UserAgent)

	// Duplicate insert is a no-op, the original row survives.
	require.NoError(t, p.AddAccount(ctx, "alice", "other", "x@example.com", "y", AddOpts{}))
	acc, err = p.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "pass", acc.Password)

	// No ct0 cookie means the account still needs a login.
	addAccount(t, p, "bob", false)
	acc, err = p.Get(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, acc.Active)
	assert.NotEmpty(t, acc.UserAgent)
}

func TestGetNotFound(t *testing.T) {
	p := newTestPool(t)
	_, err := p.Get(context.Background(), "ghost")
	assert.Error(t, err)
}

func TestLoadFromFile(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()

	data := "u1:p1:e1@example.com:ep1\nu2:p2:e2@example.com:ep2\n\nbroken-line\n"
	n, err := p.LoadFromFile(ctx, data, "username:password:email:email_password")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	acc, err := p.Get(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, "p2", acc.Password)
	assert.Equal(t, "e2@example.com", acc.Email)
}

func TestLoadFromFileExtraFields(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()

	data := `u1;p1;e1@example.com;ep1;{"ct0":"tok"};MFA123`
	n, err := p.LoadFromFile(ctx, data, "username;password;email;email_password;cookies;mfa_code")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	acc, err := p.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, acc.Active)
	assert.Equal(t, "tok", acc.Cookies["ct0"])
	assert.Equal(t, "MFA123", acc.MFACode)
}

func TestLoadFromFileBadFormat(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()

	_, err := p.LoadFromFile(ctx, "", "username:password:email")
	assert.ErrorContains(t, err, "email_password")

	_, err = p.LoadFromFile(ctx, "", "password:email:email_password")
	assert.ErrorContains(t, err, "username")
}

func TestSaveRoundTrip(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()
	addAccount(t, p, "alice", true)

	acc, err := p.Get(ctx, "alice")
	require.NoError(t, err)
	acc.Headers["x-csrf-token"] = "tok"
	acc.Stats["SearchTimeline"] = 7
	acc.ErrorMsg = "boom"
	require.NoError(t, p.Save(ctx, acc))

	got, err := p.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "tok", got.Headers["x-csrf-token"])
	assert.Equal(t, int64(7), got.Stats["SearchTimeline"])
	assert.Equal(t, "boom", got.ErrorMsg)
}

func TestGetForQueueLeases(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()
	addAccount(t, p, "alice", true)
	addAccount(t, p, "bob", true)
	addAccount(t, p, "carol", false)

	// Username order: alice first, then bob. carol is inactive and never
	// eligible.
	first, err := p.GetForQueue(ctx, "SearchTimeline")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "alice", first.Username)
	assert.False(t, first.LastUsed.IsZero())
	until, ok := first.Locks["SearchTimeline"]
	require.True(t, ok)
	assert.True(t, until.After(time.Now().UTC().Add(14*time.Minute)))

	second, err := p.GetForQueue(ctx, "SearchTimeline")
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "bob", second.Username)

	third, err := p.GetForQueue(ctx, "SearchTimeline")
	require.NoError(t, err)
	assert.Nil(t, third)

	// A different queue is an independent lock namespace.
	other, err := p.GetForQueue(ctx, "UserByScreenName")
	require.NoError(t, err)
	require.NotNil(t, other)
	assert.Equal(t, "alice", other.Username)
}

func TestGetForQueueExpiredLock(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()
	addAccount(t, p, "alice", true)

	require.NoError(t, p.LockUntil(ctx, "alice", "SearchTimeline", time.Now().Add(-time.Minute), 0))

	acc, err := p.GetForQueue(ctx, "SearchTimeline")
	require.NoError(t, err)
	require.NotNil(t, acc)
	assert.Equal(t, "alice", acc.Username)
}

func TestGetForQueueBadName(t *testing.T) {
	p := newTestPool(t)
	_, err := p.GetForQueue(context.Background(), "bad-queue; DROP TABLE accounts")
	assert.Error(t, err)
}

func TestUnlockAccumulatesStats(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()
	addAccount(t, p, "alice", true)

	acc, err := p.GetForQueue(ctx, "SearchTimeline")
	require.NoError(t, err)
	require.NotNil(t, acc)

	require.NoError(t, p.Unlock(ctx, "alice", "SearchTimeline", 3))
	require.NoError(t, p.LockUntil(ctx, "alice", "SearchTimeline", time.Now().Add(time.Hour), 2))

	got, err := p.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Stats["SearchTimeline"])
	assert.Contains(t, got.Locks, "SearchTimeline")

	require.NoError(t, p.Unlock(ctx, "alice", "SearchTimeline", 0))
	got, err = p.Get(ctx, "alice")
	require.NoError(t, err)
	assert.NotContains(t, got.Locks, "SearchTimeline")
}

func TestGetForQueueOrWaitFailFast(t *testing.T) {
	t.Setenv("TWS_RAISE_WHEN_NO_ACCOUNT", "1")
	p := newTestPool(t)
	ctx := context.Background()
	addAccount(t, p, "alice", true)

	_, err := p.GetForQueueOrWait(ctx, "SearchTimeline")
	require.NoError(t, err)

	_, err = p.GetForQueueOrWait(ctx, "SearchTimeline")
	assert.ErrorIs(t, err, ErrNoAccount)
}

func TestGetForQueueOrWaitNoActive(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()
	addAccount(t, p, "alice", false)

	// No active accounts: stop instead of waiting forever.
	_, err := p.GetForQueueOrWait(ctx, "SearchTimeline")
	assert.ErrorIs(t, err, ErrNoAccount)
}

func TestGetForQueueOrWaitPolls(t *testing.T) {
	p := newTestPool(t)
	p.cfg.NoAccountPoll = 10 * time.Millisecond
	ctx := context.Background()
	addAccount(t, p, "alice", true)

	require.NoError(t, p.LockUntil(ctx, "alice", "SearchTimeline", time.Now().Add(50*time.Millisecond), 0))

	acc, err := p.GetForQueueOrWait(ctx, "SearchTimeline")
	require.NoError(t, err)
	assert.Equal(t, "alice", acc.Username)
}

func TestGetForQueueOrWaitContextCancel(t *testing.T) {
	p := newTestPool(t)
	p.cfg.NoAccountPoll = 10 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	addAccount(t, p, "alice", true)

	require.NoError(t, p.LockUntil(ctx, "alice", "SearchTimeline", time.Now().Add(time.Hour), 0))

	_, err := p.GetForQueueOrWait(ctx, "SearchTimeline")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNextAvailableAt(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()
	addAccount(t, p, "alice", true)

	at, err := p.NextAvailableAt(ctx, "SearchTimeline")
	require.NoError(t, err)
	assert.Empty(t, at)

	require.NoError(t, p.LockUntil(ctx, "alice", "SearchTimeline", time.Now().Add(-time.Minute), 0))
	at, err = p.NextAvailableAt(ctx, "SearchTimeline")
	require.NoError(t, err)
	assert.Equal(t, "now", at)

	require.NoError(t, p.LockUntil(ctx, "alice", "SearchTimeline", time.Now().Add(time.Hour), 0))
	at, err = p.NextAvailableAt(ctx, "SearchTimeline")
	require.NoError(t, err)
	assert.Regexp(t, `^\d{2}:\d{2}:\d{2}$`, at)
}

func TestRandomOrderStillLeases(t *testing.T) {
	p := newTestPool(t, WithRandomOrder())
	ctx := context.Background()
	addAccount(t, p, "alice", true)
	addAccount(t, p, "bob", true)

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		acc, err := p.GetForQueue(ctx, "SearchTimeline")
		require.NoError(t, err)
		require.NotNil(t, acc)
		seen[acc.Username] = true
	}
	assert.Len(t, seen, 2)
}

func TestMaintenanceOps(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()
	addAccount(t, p, "alice", true)
	addAccount(t, p, "bob", true)

	require.NoError(t, p.MarkInactive(ctx, "bob", "account is banned"))
	acc, err := p.Get(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, acc.Active)
	assert.Equal(t, "account is banned", acc.ErrorMsg)

	require.NoError(t, p.SetActive(ctx, "bob", true))
	acc, err = p.Get(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, acc.Active)

	_, err = p.GetForQueue(ctx, "SearchTimeline")
	require.NoError(t, err)
	require.NoError(t, p.ResetLocks(ctx))
	acc, err = p.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, acc.Locks)

	require.NoError(t, p.MarkInactive(ctx, "bob", ""))
	require.NoError(t, p.DeleteInactive(ctx))
	_, err = p.Get(ctx, "bob")
	assert.Error(t, err)

	require.NoError(t, p.Delete(ctx, "alice"))
	all, err := p.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestStats(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()
	addAccount(t, p, "alice", true)
	addAccount(t, p, "bob", true)
	addAccount(t, p, "carol", false)

	_, err := p.GetForQueue(ctx, "SearchTimeline")
	require.NoError(t, err)

	stats, err := p.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats["total"])
	assert.Equal(t, int64(2), stats["active"])
	assert.Equal(t, int64(1), stats["inactive"])
	assert.Equal(t, int64(1), stats["locked_SearchTimeline"])
}

func TestAccountsInfoOrder(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()
	addAccount(t, p, "Zoe", true)
	addAccount(t, p, "amy", true)
	addAccount(t, p, "bea", false)

	require.NoError(t, p.Unlock(ctx, "Zoe", "SearchTimeline", 10))

	infos, err := p.AccountsInfo(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 3)

	// Active before inactive, higher request volume first.
	assert.Equal(t, "Zoe", infos[0].Username)
	assert.Equal(t, int64(10), infos[0].TotalReq)
	assert.Equal(t, "amy", infos[1].Username)
	assert.Equal(t, "bea", infos[2].Username)
	assert.False(t, infos[2].Active)
}
