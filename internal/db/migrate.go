package db

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Migrations are forward-only and additive: tables are created, columns are
// added, nothing is ever dropped. The applied version lives in the database's
// user_version counter.
var migrations = []string{
	// v1: base accounts table
	`CREATE TABLE IF NOT EXISTS accounts (
		username TEXT PRIMARY KEY NOT NULL COLLATE NOCASE,
		password TEXT NOT NULL,
		email TEXT NOT NULL COLLATE NOCASE,
		email_password TEXT NOT NULL,
		user_agent TEXT NOT NULL,
		active BOOLEAN DEFAULT FALSE NOT NULL,
		locks TEXT DEFAULT '{}' NOT NULL,
		headers TEXT DEFAULT '{}' NOT NULL,
		cookies TEXT DEFAULT '{}' NOT NULL,
		proxy TEXT DEFAULT NULL,
		error_msg TEXT DEFAULT NULL
	)`,
	// v2: request counters and recency
	`ALTER TABLE accounts ADD COLUMN stats TEXT DEFAULT '{}' NOT NULL;
	 ALTER TABLE accounts ADD COLUMN last_used TEXT DEFAULT NULL`,
	// v3: transaction marker for stores without UPDATE ... RETURNING
	`ALTER TABLE accounts ADD COLUMN _tx TEXT DEFAULT NULL`,
	// v4: TOTP seed
	`ALTER TABLE accounts ADD COLUMN mfa_code TEXT DEFAULT NULL`,
}

func (d *DB) userVersion(ctx context.Context) (int, error) {
	var v int
	err := d.conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v)
	return v, err
}

func (d *DB) migrate(ctx context.Context) error {
	uv, err := d.userVersion(ctx)
	if err != nil {
		return err
	}
	slog.Debug("current migration", "version", uv, "latest", len(migrations))

	for v := uv + 1; v <= len(migrations); v++ {
		slog.Info("running migration", "version", v)
		for _, stmt := range strings.Split(migrations[v-1], ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if _, err := d.conn.ExecContext(ctx, stmt); err != nil {
				// Reruns against an already-upgraded schema are harmless.
				if strings.Contains(err.Error(), "duplicate column name") {
					continue
				}
				return fmt.Errorf("migration v%d: %w", v, err)
			}
		}
		if _, err := d.conn.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", v)); err != nil {
			return err
		}
	}
	return nil
}
