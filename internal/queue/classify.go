package queue

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// outcome is what the classifier decided about one response.
type outcome int

const (
	decideOK outcome = iota
	decideRateLimited
	decideBanned
	decideRetry
	decideAbort
	decideFatal
	decideUnknown
)

// decision carries the outcome plus its parameters: Until for rate limits,
// Reason for bans and the fatal case, ErrMsg for logging.
type decision struct {
	Kind   outcome
	Until  time.Time
	Reason string
	ErrMsg string
}

// errorSummary folds the body's errors array into one deduplicated
// "(code) message; ..." line. No errors reads as "OK".
func errorSummary(body string) string {
	errs := gjson.Get(body, "errors")
	if !errs.Exists() {
		return "OK"
	}
	seen := map[string]bool{}
	var parts []string
	for _, e := range errs.Array() {
		code := int64(-1)
		if c := e.Get("code"); c.Exists() {
			code = c.Int()
		}
		msg := fmt.Sprintf("(%d) %s", code, e.Get("message").String())
		if !seen[msg] {
			seen[msg] = true
			parts = append(parts, msg)
		}
	}
	if len(parts) == 0 {
		return "OK"
	}
	return strings.Join(parts, "; ")
}

// classify maps one response onto an outcome. Rules are checked in order;
// the first match wins.
func classify(rep *Response, now time.Time) decision {
	errMsg := errorSummary(string(rep.Body))
	d := decision{ErrMsg: errMsg}

	if strings.Contains(errMsg, "The following features cannot be null") {
		d.Kind, d.Reason = decideFatal, errMsg
		return d
	}

	remaining, hasRemaining := headerInt(rep, "x-rate-limit-remaining")
	reset, hasReset := headerInt(rep, "x-rate-limit-reset")
	if hasRemaining && remaining == 0 && hasReset {
		d.Kind, d.Until = decideRateLimited, time.Unix(reset, 0).UTC()
		return d
	}

	if strings.HasPrefix(errMsg, "(88) Rate limit exceeded") || rep.Status == 429 {
		d.Kind, d.Until = decideRateLimited, now.Add(4*time.Hour)
		return d
	}

	switch {
	case strings.HasPrefix(errMsg, "(326) Authorization: Denied by access control"):
		d.Kind, d.Reason = decideBanned, errMsg
		return d
	case strings.HasPrefix(errMsg, "(64) Your account is suspended"):
		d.Kind, d.Reason = decideBanned, errMsg
		return d
	case strings.HasPrefix(errMsg, "(32) Could not authenticate you"):
		d.Kind, d.Reason = decideBanned, errMsg
		return d
	}

	if strings.HasPrefix(errMsg, "(29) Timeout: Unspecified") {
		d.Kind = decideRetry
		return d
	}

	if (rep.Status == 401 || rep.Status == 403) && errMsg == "OK" {
		d.Kind, d.Reason = decideBanned, ""
		return d
	}

	if strings.HasPrefix(errMsg, "(131) Dependency: Internal error") {
		d.Kind = decideAbort
		return d
	}

	if rep.Status == 200 {
		// Content-level errors ride along with usable payloads.
		d.Kind = decideOK
		return d
	}

	d.Kind = decideUnknown
	return d
}

func headerInt(rep *Response, key string) (int64, bool) {
	v := rep.Headers.Get(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	return n, err == nil
}
