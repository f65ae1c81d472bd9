// Package pool schedules accounts: it stores them, drives logins for
// inactive ones, and leases them to named queues with a bounded lock horizon
// so concurrent workers never share an account within a lease window.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/corpix/uarand"
	"github.com/google/uuid"

	"github.com/twsio/tws/internal/account"
	"github.com/twsio/tws/internal/config"
	"github.com/twsio/tws/internal/db"
	"github.com/twsio/tws/internal/login"
	"github.com/twsio/tws/internal/utils"
)

// ErrNoAccount is returned by GetForQueueOrWait when the fail-fast policy is
// enabled, or when no active accounts remain at all.
var ErrNoAccount = errors.New("no account available")

// Queue names become JSON paths and are interpolated into SQL, so they are
// restricted to identifier characters.
var queueNameRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// AccountsPool is the scheduler over the accounts store.
type AccountsPool struct {
	db       *db.DB
	cfg      *config.Config
	loginCfg login.Config
	orderBy  string
}

// Option configures the pool.
type Option func(*AccountsPool)

// WithLoginConfig sets the login flow options used by Login/LoginAll.
func WithLoginConfig(lc login.Config) Option {
	return func(p *AccountsPool) { p.loginCfg = lc }
}

// SetLoginConfig replaces the login flow options after construction.
func (p *AccountsPool) SetLoginConfig(lc login.Config) { p.loginCfg = lc }

// WithRandomOrder leases accounts in random order instead of username order.
func WithRandomOrder() Option {
	return func(p *AccountsPool) { p.orderBy = "RANDOM()" }
}

// New opens the store at dbPath and returns a pool over it.
func New(ctx context.Context, dbPath string, cfg *config.Config, opts ...Option) (*AccountsPool, error) {
	d, err := db.Open(ctx, dbPath)
	if err != nil {
		return nil, err
	}
	p := &AccountsPool{db: d, cfg: cfg, orderBy: "username ASC"}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// DB exposes the underlying handle (version reporting in the CLI).
func (p *AccountsPool) DB() *db.DB { return p.db }

func (p *AccountsPool) Close() error { return p.db.Close() }

// AddOpts carries the optional fields of AddAccount.
type AddOpts struct {
	UserAgent string
	Proxy     string
	Cookies   string // any encoding accepted by utils.ParseCookies
	MFACode   string
}

// AddAccount inserts a new account. Duplicate usernames (case-insensitive)
// are a silent no-op. When the cookie blob carries a ct0 session cookie the
// account is active immediately, no login required.
func (p *AccountsPool) AddAccount(ctx context.Context, username, password, email, emailPassword string, opts AddOpts) error {
	row, err := p.db.FetchOne(ctx, "SELECT username FROM accounts WHERE username = ?", username)
	if err != nil {
		return err
	}
	if row != nil {
		slog.Debug("account already exists", "username", username)
		return nil
	}

	cookies := map[string]string{}
	if opts.Cookies != "" {
		if cookies, err = utils.ParseCookies(opts.Cookies); err != nil {
			return fmt.Errorf("add account %s: %w", username, err)
		}
	}

	ua := opts.UserAgent
	if ua == "" {
		ua = uarand.GetRandom()
	}

	acc := &account.Account{
		Username:      username,
		Password:      password,
		Email:         email,
		EmailPassword: emailPassword,
		UserAgent:     ua,
		Active:        cookies["ct0"] != "",
		Cookies:       cookies,
		Proxy:         opts.Proxy,
		MFACode:       opts.MFACode,
	}

	slog.Debug("adding account", "username", username, "active", acc.Active)
	return p.Save(ctx, acc)
}

// LoadFromFile imports accounts from a delimited file. lineFormat names the
// fields in order (username, password, email and email_password are
// required); the delimiter is whatever separates them in the format string.
func (p *AccountsPool) LoadFromFile(ctx context.Context, data, lineFormat string) (int, error) {
	delim, err := guessDelim(lineFormat)
	if err != nil {
		return 0, err
	}
	fields := strings.Split(lineFormat, delim)

	required := map[string]bool{"username": false, "password": false, "email": false, "email_password": false}
	for _, f := range fields {
		if _, ok := required[f]; ok {
			required[f] = true
		}
	}
	for name, seen := range required {
		if !seen {
			return 0, fmt.Errorf("line format must include %s", name)
		}
	}

	added := 0
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, delim)
		if len(parts) < len(fields) {
			slog.Warn("invalid line format", "line", line)
			continue
		}
		vals := map[string]string{}
		for i, f := range fields {
			vals[f] = strings.TrimSpace(parts[i])
		}
		err := p.AddAccount(ctx, vals["username"], vals["password"], vals["email"], vals["email_password"], AddOpts{
			UserAgent: vals["user_agent"],
			Proxy:     vals["proxy"],
			Cookies:   vals["cookies"],
			MFACode:   vals["mfa_code"],
		})
		if err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

func guessDelim(lineFormat string) (string, error) {
	lp, rp, found := strings.Cut(lineFormat, "username")
	if !found {
		return "", errors.New("line format must include username")
	}
	if lp = strings.TrimSpace(lp); lp != "" {
		return lp[len(lp)-1:], nil
	}
	if rp = strings.TrimSpace(rp); rp != "" {
		return rp[:1], nil
	}
	return "", errors.New("cannot guess delimiter from line format")
}

// Get returns the account or ErrNotFound.
func (p *AccountsPool) Get(ctx context.Context, username string) (*account.Account, error) {
	row, err := p.db.FetchOne(ctx, "SELECT * FROM accounts WHERE username = ?", username)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("%w: %s", account.ErrNotFound, username)
	}
	return account.FromRow(row)
}

// GetAll returns every account.
func (p *AccountsPool) GetAll(ctx context.Context) ([]*account.Account, error) {
	rows, err := p.db.FetchAll(ctx, "SELECT * FROM accounts")
	if err != nil {
		return nil, err
	}
	out := make([]*account.Account, 0, len(rows))
	for _, r := range rows {
		a, err := account.FromRow(r)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// Save upserts the account on username.
func (p *AccountsPool) Save(ctx context.Context, acc *account.Account) error {
	cols := account.Columns
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",")
	sets := make([]string, 0, len(cols))
	for _, c := range cols {
		sets = append(sets, fmt.Sprintf("%s=excluded.%s", c, c))
	}
	qs := fmt.Sprintf(
		"INSERT INTO accounts (%s) VALUES (%s) ON CONFLICT(username) DO UPDATE SET %s",
		strings.Join(cols, ","), placeholders, strings.Join(sets, ","),
	)
	return p.db.Execute(ctx, qs, acc.ToRow()...)
}

// Delete removes the named accounts.
func (p *AccountsPool) Delete(ctx context.Context, usernames ...string) error {
	if len(usernames) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(usernames)), ",")
	args := make([]any, len(usernames))
	for i, u := range usernames {
		args[i] = u
	}
	return p.db.Execute(ctx, "DELETE FROM accounts WHERE username IN ("+placeholders+")", args...)
}

// DeleteInactive removes every inactive account.
func (p *AccountsPool) DeleteInactive(ctx context.Context) error {
	return p.db.Execute(ctx, "DELETE FROM accounts WHERE active = 0")
}

// SetActive flips the activity flag.
func (p *AccountsPool) SetActive(ctx context.Context, username string, active bool) error {
	return p.db.Execute(ctx, "UPDATE accounts SET active = ? WHERE username = ?", boolInt(active), username)
}

// MarkInactive deactivates the account and records the reason.
func (p *AccountsPool) MarkInactive(ctx context.Context, username, reason string) error {
	return p.db.Execute(ctx, "UPDATE accounts SET active = 0, error_msg = ? WHERE username = ?", nullable(reason), username)
}

// ResetLocks clears every account's lock map.
func (p *AccountsPool) ResetLocks(ctx context.Context) error {
	return p.db.Execute(ctx, "UPDATE accounts SET locks = '{}'")
}

// LockUntil sets the queue lock to an explicit deadline and adds reqCount to
// the queue's counter in the same statement.
func (p *AccountsPool) LockUntil(ctx context.Context, username, queue string, unlockAt time.Time, reqCount int) error {
	if err := checkQueue(queue); err != nil {
		return err
	}
	qs := fmt.Sprintf(`
		UPDATE accounts SET
			locks = json_set(locks, '$.%[1]s', datetime(?, 'unixepoch')),
			stats = json_set(stats, '$.%[1]s', COALESCE(json_extract(stats, '$.%[1]s'), 0) + ?),
			last_used = datetime(?, 'unixepoch')
		WHERE username = ?`, queue)
	return p.db.Execute(ctx, qs, unlockAt.Unix(), reqCount, utils.UTCTs(), username)
}

// Unlock removes the queue lock and adds reqCount to the queue's counter.
func (p *AccountsPool) Unlock(ctx context.Context, username, queue string, reqCount int) error {
	if err := checkQueue(queue); err != nil {
		return err
	}
	qs := fmt.Sprintf(`
		UPDATE accounts SET
			locks = json_remove(locks, '$.%[1]s'),
			stats = json_set(stats, '$.%[1]s', COALESCE(json_extract(stats, '$.%[1]s'), 0) + ?),
			last_used = datetime(?, 'unixepoch')
		WHERE username = ?`, queue)
	return p.db.Execute(ctx, qs, reqCount, utils.UTCTs(), username)
}

// GetForQueue atomically leases one eligible account to the queue for the
// configured duration (15 minutes), stamping last_used in the same write.
// Returns (nil, nil) when no account is eligible right now.
func (p *AccountsPool) GetForQueue(ctx context.Context, queue string) (*account.Account, error) {
	if err := checkQueue(queue); err != nil {
		return nil, err
	}

	minutes := int(p.cfg.LeaseDuration.Minutes())
	pick := fmt.Sprintf(`
		SELECT username FROM accounts
		WHERE active = 1 AND (
			locks IS NULL
			OR json_extract(locks, '$.%[1]s') IS NULL
			OR json_extract(locks, '$.%[1]s') < datetime('now')
		)
		ORDER BY %[2]s
		LIMIT 1`, queue, p.orderBy)

	if p.db.SupportsReturning(ctx) {
		qs := fmt.Sprintf(`
			UPDATE accounts SET
				locks = json_set(locks, '$.%[1]s', datetime('now', '+%[2]d minutes')),
				last_used = datetime('now')
			WHERE username = (%[3]s)
			RETURNING *`, queue, minutes, pick)
		row, err := p.db.FetchOne(ctx, qs)
		if err != nil || row == nil {
			return nil, err
		}
		return account.FromRow(row)
	}

	// No RETURNING support: tag the updated row with a unique marker and
	// read it back by the marker.
	tx := strings.ReplaceAll(uuid.NewString(), "-", "")
	qs := fmt.Sprintf(`
		UPDATE accounts SET
			locks = json_set(locks, '$.%[1]s', datetime('now', '+%[2]d minutes')),
			last_used = datetime('now'),
			_tx = ?
		WHERE username = (%[3]s)`, queue, minutes, pick)
	if err := p.db.Execute(ctx, qs, tx); err != nil {
		return nil, err
	}
	row, err := p.db.FetchOne(ctx, "SELECT * FROM accounts WHERE _tx = ?", tx)
	if err != nil || row == nil {
		return nil, err
	}
	return account.FromRow(row)
}

// GetForQueueOrWait blocks until an account can be leased, polling every few
// seconds. Under the fail-fast policy it returns ErrNoAccount instead of
// waiting; with no active accounts at all it returns ErrNoAccount either way.
func (p *AccountsPool) GetForQueueOrWait(ctx context.Context, queue string) (*account.Account, error) {
	msgShown := false
	for {
		acc, err := p.GetForQueue(ctx, queue)
		if err != nil {
			return nil, err
		}
		if acc != nil {
			if msgShown {
				slog.Info("continuing", "username", acc.Username, "queue", queue)
			}
			return acc, nil
		}

		if p.cfg.RaiseNoAccount() {
			return nil, fmt.Errorf("%w for queue %q", ErrNoAccount, queue)
		}

		if !msgShown {
			nextAt, err := p.NextAvailableAt(ctx, queue)
			if err != nil {
				return nil, err
			}
			if nextAt == "" {
				slog.Warn("no active accounts, stopping", "queue", queue)
				return nil, fmt.Errorf("%w: no active accounts", ErrNoAccount)
			}
			slog.Info("no account available", "queue", queue, "next_available_at", nextAt)
			msgShown = true
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.cfg.NoAccountPoll):
		}
	}
}

// NextAvailableAt reports when the earliest lock for the queue expires:
// "now" when already past, a local HH:MM:SS otherwise, "" when no active
// account is locked for the queue.
func (p *AccountsPool) NextAvailableAt(ctx context.Context, queue string) (string, error) {
	if err := checkQueue(queue); err != nil {
		return "", err
	}
	qs := fmt.Sprintf(`
		SELECT json_extract(locks, '$.%[1]s') AS lock_until
		FROM accounts
		WHERE active = 1 AND json_extract(locks, '$.%[1]s') IS NOT NULL
		ORDER BY lock_until ASC
		LIMIT 1`, queue)
	row, err := p.db.FetchOne(ctx, qs)
	if err != nil || row == nil {
		return "", err
	}

	target, err := utils.ParseSQLiteTime(row.String("lock_until"))
	if err != nil {
		return "", err
	}
	now := utils.UTCNow()
	if !target.After(now) {
		return "now", nil
	}
	return time.Now().Add(target.Sub(now)).Format("15:04:05"), nil
}

func checkQueue(queue string) error {
	if !queueNameRe.MatchString(queue) {
		return fmt.Errorf("invalid queue name %q", queue)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
