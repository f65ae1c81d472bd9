// Package account defines the durable account record and the HTTP client
// hydrated from its saved session material.
package account

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/twsio/tws/internal/db"
	"github.com/twsio/tws/internal/utils"
)

// BearerToken is the fixed guest-equivalent authorization value carried on
// every outbound request.
const BearerToken = "Bearer AAAAAAAAAAAAAAAAAAAAANRILgAAAAAAnNwIzUejRCOuH5E6I8xnZz4puTs%3D1Zv7ttfk8LF81IUq16cHjhLTvJu4FA33AGWWjCpTnA"

// ErrNotFound is returned when a username does not exist in the store.
var ErrNotFound = errors.New("account not found")

// Account is one pooled identity. Locks map queue names to lease deadlines;
// Stats counts completed requests per queue.
type Account struct {
	Username      string
	Password      string
	Email         string
	EmailPassword string
	UserAgent     string
	Active        bool
	Locks         map[string]time.Time
	Stats         map[string]int64
	Headers       map[string]string
	Cookies       map[string]string
	MFACode       string
	Proxy         string
	ErrorMsg      string
	LastUsed      time.Time
	TX            string
}

// Columns is the persisted column list, in schema order.
var Columns = []string{
	"username", "password", "email", "email_password", "user_agent",
	"active", "locks", "stats", "headers", "cookies",
	"mfa_code", "proxy", "error_msg", "last_used", "_tx",
}

// FromRow hydrates an account from a fetched row.
func FromRow(r db.Row) (*Account, error) {
	if r == nil {
		return nil, ErrNotFound
	}
	a := &Account{
		Username:      r.String("username"),
		Password:      r.String("password"),
		Email:         r.String("email"),
		EmailPassword: r.String("email_password"),
		UserAgent:     r.String("user_agent"),
		Active:        r.Bool("active"),
		MFACode:       r.String("mfa_code"),
		Proxy:         r.String("proxy"),
		ErrorMsg:      r.String("error_msg"),
		TX:            r.String("_tx"),
		Locks:         map[string]time.Time{},
		Stats:         map[string]int64{},
		Headers:       map[string]string{},
		Cookies:       map[string]string{},
	}

	var rawLocks map[string]string
	if err := json.Unmarshal([]byte(orBrace(r.String("locks"))), &rawLocks); err != nil {
		return nil, fmt.Errorf("account %s: parse locks: %w", a.Username, err)
	}
	for q, v := range rawLocks {
		t, err := utils.ParseSQLiteTime(v)
		if err != nil {
			return nil, fmt.Errorf("account %s: lock %q: %w", a.Username, q, err)
		}
		a.Locks[q] = t
	}

	if err := json.Unmarshal([]byte(orBrace(r.String("stats"))), &a.Stats); err != nil {
		return nil, fmt.Errorf("account %s: parse stats: %w", a.Username, err)
	}
	if err := json.Unmarshal([]byte(orBrace(r.String("headers"))), &a.Headers); err != nil {
		return nil, fmt.Errorf("account %s: parse headers: %w", a.Username, err)
	}
	if err := json.Unmarshal([]byte(orBrace(r.String("cookies"))), &a.Cookies); err != nil {
		return nil, fmt.Errorf("account %s: parse cookies: %w", a.Username, err)
	}

	if !r.IsNull("last_used") {
		if t, err := utils.ParseSQLiteTime(r.String("last_used")); err == nil {
			a.LastUsed = t
		}
	}
	return a, nil
}

// ToRow serializes the account for an upsert, in Columns order. Maps are
// stored as JSON text, lock values in sqlite datetime() format, active as an
// integer.
func (a *Account) ToRow() []any {
	locks := make(map[string]string, len(a.Locks))
	for q, t := range a.Locks {
		locks[q] = utils.FormatSQLite(t)
	}

	var lastUsed any
	if !a.LastUsed.IsZero() {
		lastUsed = utils.FormatSQLite(a.LastUsed)
	}

	return []any{
		a.Username, a.Password, a.Email, a.EmailPassword, a.UserAgent,
		boolInt(a.Active), mustJSON(locks), mustJSONMap(a.Stats),
		mustJSONMap(a.Headers), mustJSONMap(a.Cookies),
		nullable(a.MFACode), nullable(a.Proxy), nullable(a.ErrorMsg),
		lastUsed, nullable(a.TX),
	}
}

// TotalRequests sums the per-queue counters.
func (a *Account) TotalRequests() int64 {
	var n int64
	for _, v := range a.Stats {
		n += v
	}
	return n
}

// LoggedIn reports whether the account carries an authenticated session.
func (a *Account) LoggedIn() bool { return a.Headers["authorization"] != "" }

func orBrace(s string) string {
	if s == "" {
		return "{}"
	}
	return s
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func mustJSONMap[V any](m map[string]V) string {
	if m == nil {
		m = map[string]V{}
	}
	return mustJSON(m)
}

func boolInt(b bool) int64 {
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
