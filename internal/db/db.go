// Package db wraps the embedded SQLite store behind four primitives with
// serialized writes. Concurrent workers share one handle; statements queue on
// a process-wide mutex and retry with jitter when another process holds the
// file lock.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "modernc.org/sqlite"
)

const minSQLiteVersion = "3.24"

// lockRetries bounds how many times a statement is retried when the database
// file is locked by another process.
const lockRetries = 10

// Row is a single result row keyed by column name. Values are string, int64,
// float64 or nil as reported by the driver.
type Row map[string]any

// DB is the shared handle. The write mutex and the migrate-once flag live
// here rather than in package globals.
type DB struct {
	path string
	conn *sql.DB
	mu   sync.Mutex
}

// Open opens (or creates) the database at path, verifies the engine version
// and runs pending migrations.
func Open(ctx context.Context, path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	conn.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	d := &DB{path: path, conn: conn}
	if err := d.checkVersion(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	if err := d.migrate(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

func (d *DB) Close() error { return d.conn.Close() }

// SQLiteVersion reports the runtime engine version string.
func (d *DB) SQLiteVersion(ctx context.Context) (string, error) {
	var ver string
	if err := d.conn.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&ver); err != nil {
		return "", err
	}
	return ver, nil
}

func (d *DB) checkVersion(ctx context.Context) error {
	ver, err := d.SQLiteVersion(ctx)
	if err != nil {
		return fmt.Errorf("sqlite version: %w", err)
	}
	if cmpVersion(ver, minSQLiteVersion) < 0 {
		return fmt.Errorf("sqlite version %q is too old, need %s+", ver, minSQLiteVersion)
	}
	return nil
}

// SupportsReturning reports whether the engine can run UPDATE ... RETURNING
// (introduced in 3.35).
func (d *DB) SupportsReturning(ctx context.Context) bool {
	ver, err := d.SQLiteVersion(ctx)
	return err == nil && cmpVersion(ver, "3.35") >= 0
}

func cmpVersion(a, b string) int {
	ap, bp := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(ap) || i < len(bp); i++ {
		av, bv := 0, 0
		if i < len(ap) {
			av, _ = strconv.Atoi(ap[i])
		}
		if i < len(bp) {
			bv, _ = strconv.Atoi(bp[i])
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}

// withRetry serializes the call and retries on "database is locked" with a
// 0.5-1.0s jittered sleep between attempts.
func (d *DB) withRetry(ctx context.Context, fn func() error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 750 * time.Millisecond
	bo.RandomizationFactor = 1.0 / 3.0
	bo.Multiplier = 1.0
	bo.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		attempt++
		if attempt >= lockRetries || !strings.Contains(err.Error(), "database is locked") {
			return backoff.Permanent(err)
		}
		slog.Debug("database is locked, retrying", "path", d.path, "attempt", attempt)
		return err
	}
	return backoff.Retry(op, backoff.WithContext(bo, ctx))
}

// Execute runs a statement that returns no rows.
func (d *DB) Execute(ctx context.Context, qs string, args ...any) error {
	return d.withRetry(ctx, func() error {
		_, err := d.conn.ExecContext(ctx, qs, args...)
		return err
	})
}

// ExecuteMany runs the statement once per argument set inside a transaction.
func (d *DB) ExecuteMany(ctx context.Context, qs string, argSets [][]any) error {
	return d.withRetry(ctx, func() error {
		tx, err := d.conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		for _, args := range argSets {
			if _, err := tx.ExecContext(ctx, qs, args...); err != nil {
				tx.Rollback()
				return err
			}
		}
		return tx.Commit()
	})
}

// FetchOne returns the first result row, or nil when the query matches
// nothing.
func (d *DB) FetchOne(ctx context.Context, qs string, args ...any) (Row, error) {
	rows, err := d.FetchAll(ctx, qs, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// FetchAll returns every result row.
func (d *DB) FetchAll(ctx context.Context, qs string, args ...any) ([]Row, error) {
	var out []Row
	err := d.withRetry(ctx, func() error {
		rows, err := d.conn.QueryContext(ctx, qs, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		cols, err := rows.Columns()
		if err != nil {
			return err
		}

		out = nil
		for rows.Next() {
			vals := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range vals {
				ptrs[i] = &vals[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return err
			}
			row := make(Row, len(cols))
			for i, c := range cols {
				if b, ok := vals[i].([]byte); ok {
					row[c] = string(b)
				} else {
					row[c] = vals[i]
				}
			}
			out = append(out, row)
		}
		return rows.Err()
	})
	return out, err
}

// String returns the named column as a string ("" for NULL).
func (r Row) String(col string) string {
	switch v := r[col].(type) {
	case nil:
		return ""
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// Int returns the named column as an int64 (0 for NULL or non-numeric).
func (r Row) Int(col string) int64 {
	switch v := r[col].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}

// Bool reads a boolean-as-integer column.
func (r Row) Bool(col string) bool { return r.Int(col) != 0 }

// IsNull reports whether the column is NULL or absent.
func (r Row) IsNull(col string) bool { return r[col] == nil }
