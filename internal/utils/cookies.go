package utils

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// ParseCookies accepts a cookie blob in any of four encodings:
// an RFC-6265 "k=v; k=v" string, a JSON object, a JSON array of
// {name, value} pairs, or base64 of either JSON form. A wrapping
// {"cookies": ...} object is unwrapped first.
func ParseCookies(val string) (map[string]string, error) {
	raw := strings.TrimSpace(val)
	if raw == "" {
		return nil, fmt.Errorf("invalid cookie value: %q", val)
	}

	if dec, err := base64.StdEncoding.DecodeString(raw); err == nil {
		raw = string(dec)
	}

	if res, ok := parseJSONCookies(raw); ok {
		return res, nil
	}

	res := map[string]string{}
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, found := strings.Cut(part, "=")
		if !found {
			return nil, fmt.Errorf("invalid cookie value: %q", val)
		}
		res[k] = v
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("invalid cookie value: %q", val)
	}
	return res, nil
}

func parseJSONCookies(raw string) (map[string]string, bool) {
	var any interface{}
	if err := json.Unmarshal([]byte(raw), &any); err != nil {
		return nil, false
	}

	if obj, ok := any.(map[string]interface{}); ok {
		if inner, ok := obj["cookies"]; ok {
			any = inner
		}
	}

	switch v := any.(type) {
	case map[string]interface{}:
		res := make(map[string]string, len(v))
		for k, x := range v {
			s, ok := x.(string)
			if !ok {
				return nil, false
			}
			res[k] = s
		}
		return res, true
	case []interface{}:
		res := make(map[string]string, len(v))
		for _, item := range v {
			pair, ok := item.(map[string]interface{})
			if !ok {
				return nil, false
			}
			name, _ := pair["name"].(string)
			value, _ := pair["value"].(string)
			if name == "" {
				return nil, false
			}
			res[name] = value
		}
		return res, true
	}
	return nil, false
}
