package pool

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Stats aggregates pool counters in one query: total, active, inactive, and
// a locked_<queue> count per queue that has ever been locked.
func (p *AccountsPool) Stats(ctx context.Context) (map[string]int64, error) {
	rows, err := p.db.FetchAll(ctx, "SELECT DISTINCT f.key AS k FROM accounts, json_each(locks) f")
	if err != nil {
		return nil, err
	}

	type counter struct{ name, query string }
	counters := []counter{
		{"total", "SELECT COUNT(*) FROM accounts"},
		{"active", "SELECT COUNT(*) FROM accounts WHERE active = 1"},
		{"inactive", "SELECT COUNT(*) FROM accounts WHERE active = 0"},
	}
	for _, r := range rows {
		q := r.String("k")
		if err := checkQueue(q); err != nil {
			continue
		}
		counters = append(counters, counter{
			"locked_" + q,
			fmt.Sprintf(
				"SELECT COUNT(*) FROM accounts WHERE json_extract(locks, '$.%[1]s') IS NOT NULL AND json_extract(locks, '$.%[1]s') > datetime('now')",
				q,
			),
		})
	}

	selects := make([]string, len(counters))
	for i, c := range counters {
		selects[i] = fmt.Sprintf("(%s) AS %s", c.query, c.name)
	}
	row, err := p.db.FetchOne(ctx, "SELECT "+strings.Join(selects, ", "))
	if err != nil || row == nil {
		return nil, err
	}

	out := make(map[string]int64, len(counters))
	for _, c := range counters {
		out[c.name] = row.Int(c.name)
	}
	return out, nil
}

// Info is one row of the accounts report.
type Info struct {
	Username string
	LoggedIn bool
	Active   bool
	LastUsed time.Time
	TotalReq int64
	ErrorMsg string
}

// AccountsInfo lists every account, most useful first: active accounts, then
// by request volume, recency, and finally username.
func (p *AccountsPool) AccountsInfo(ctx context.Context) ([]Info, error) {
	accounts, err := p.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Info, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, Info{
			Username: a.Username,
			LoggedIn: a.LoggedIn(),
			Active:   a.Active,
			LastUsed: a.LastUsed,
			TotalReq: a.TotalRequests(),
			ErrorMsg: a.ErrorMsg,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Active != b.Active {
			return a.Active
		}
		if a.TotalReq != b.TotalReq {
			return a.TotalReq > b.TotalReq
		}
		if !a.LastUsed.Equal(b.LastUsed) {
			return a.LastUsed.After(b.LastUsed)
		}
		return strings.ToLower(a.Username) < strings.ToLower(b.Username)
	})
	return out, nil
}
