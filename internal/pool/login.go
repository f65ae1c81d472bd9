package pool

import (
	"context"
	"log/slog"

	"github.com/twsio/tws/internal/account"
	"github.com/twsio/tws/internal/login"
)

// Login runs the login flow for one account. The outcome is persisted either
// way: success promotes the session and activates the account, failure
// deactivates it with the error recorded.
func (p *AccountsPool) Login(ctx context.Context, acc *account.Account) error {
	err := login.Login(ctx, p.cfg, p.loginCfg, acc)
	if err != nil {
		acc.Active = false
		acc.ErrorMsg = err.Error()
		slog.Error("login failed", "username", acc.Username, "error", err)
	} else {
		acc.Active = true
		acc.ErrorMsg = ""
		slog.Info("logged in", "username", acc.Username)
	}
	if saveErr := p.Save(ctx, acc); saveErr != nil {
		return saveErr
	}
	return err
}

// LoginAll logs in every inactive account that has not previously failed.
// Returns counts of successes and attempts.
func (p *AccountsPool) LoginAll(ctx context.Context, usernames ...string) (int, int, error) {
	var accounts []*account.Account
	if len(usernames) > 0 {
		for _, u := range usernames {
			acc, err := p.Get(ctx, u)
			if err != nil {
				return 0, 0, err
			}
			accounts = append(accounts, acc)
		}
	} else {
		rows, err := p.db.FetchAll(ctx, "SELECT * FROM accounts WHERE active = 0 AND error_msg IS NULL")
		if err != nil {
			return 0, 0, err
		}
		for _, r := range rows {
			acc, err := account.FromRow(r)
			if err != nil {
				return 0, 0, err
			}
			accounts = append(accounts, acc)
		}
	}

	success := 0
	for i, acc := range accounts {
		slog.Info("logging in", "username", acc.Username, "n", i+1, "total", len(accounts))
		if err := p.Login(ctx, acc); err == nil {
			success++
		}
	}
	return success, len(accounts), nil
}

// Relogin clears the saved session of the named accounts and logs them in
// again.
func (p *AccountsPool) Relogin(ctx context.Context, usernames ...string) (int, int, error) {
	if len(usernames) == 0 {
		return 0, 0, nil
	}
	args := make([]any, len(usernames))
	placeholders := ""
	for i, u := range usernames {
		args[i] = u
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
	}
	qs := `
		UPDATE accounts SET
			active = 0,
			locks = '{}',
			headers = '{}',
			cookies = '{}',
			error_msg = NULL
		WHERE username IN (` + placeholders + `)`
	if err := p.db.Execute(ctx, qs, args...); err != nil {
		return 0, 0, err
	}
	return p.LoginAll(ctx, usernames...)
}

// ReloginFailed retries every account that previously failed to log in.
func (p *AccountsPool) ReloginFailed(ctx context.Context) (int, int, error) {
	rows, err := p.db.FetchAll(ctx, "SELECT username FROM accounts WHERE active = 0 AND error_msg IS NOT NULL")
	if err != nil {
		return 0, 0, err
	}
	if len(rows) == 0 {
		return 0, 0, nil
	}
	usernames := make([]string, 0, len(rows))
	for _, r := range rows {
		usernames = append(usernames, r.String("username"))
	}
	return p.Relogin(ctx, usernames...)
}
