package utils

import (
	"encoding/json"
	"os"
	"strings"
)

// CompactJSON marshals v without insignificant whitespace, the shape the
// remote expects for the variables/features query parameters. Nil map values
// are dropped beforehand by callers where relevant.
func CompactJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// EnvBool reads a boolean-ish environment variable ("1", "true", "yes").
func EnvBool(key string, def bool) bool {
	val, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}
