package utils

import "time"

// sqliteTimeLayout is how the datetime() SQL function formats timestamps.
// Lock values are stored in this shape, always UTC.
const sqliteTimeLayout = "2006-01-02 15:04:05"

// UTCNow returns the current wall clock time in UTC.
func UTCNow() time.Time { return time.Now().UTC() }

// UTCTs returns the current unix timestamp in seconds.
func UTCTs() int64 { return UTCNow().Unix() }

// FormatSQLite renders t the way sqlite's datetime() does.
func FormatSQLite(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

// ParseSQLiteTime parses timestamps written by sqlite's datetime() or stored
// as ISO-8601. The result is always UTC; the zero time is returned with an
// error when nothing matches.
func ParseSQLiteTime(s string) (time.Time, error) {
	layouts := []string{sqliteTimeLayout, time.RFC3339, "2006-01-02T15:04:05"}
	var err error
	for _, l := range layouts {
		var t time.Time
		if t, err = time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, err
}
