package queue

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func rep(status int, body string, headers map[string]string) *Response {
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	return &Response{Status: status, Headers: h, Body: []byte(body), Username: "user1"}
}

func errBody(code int, msg string) string {
	return fmt.Sprintf(`{"errors":[{"code":%d,"message":"%s"}]}`, code, msg)
}

func TestErrorSummary(t *testing.T) {
	assert.Equal(t, "OK", errorSummary(`{"data":{}}`))
	assert.Equal(t, "OK", errorSummary(`not json`))
	assert.Equal(t, "(88) Rate limit exceeded", errorSummary(errBody(88, "Rate limit exceeded")))

	// Duplicates collapse, distinct errors join.
	two := `{"errors":[{"code":1,"message":"a"},{"code":1,"message":"a"},{"code":2,"message":"b"}]}`
	assert.Equal(t, "(1) a; (2) b", errorSummary(two))

	// Missing code reads as -1.
	assert.Equal(t, "(-1) x", errorSummary(`{"errors":[{"message":"x"}]}`))
}

func TestClassify(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		rep  *Response
		want outcome
	}{
		{"ok", rep(200, `{"data":{}}`, nil), decideOK},
		{"fatal features", rep(400, errBody(336, "The following features cannot be null: foo"), nil), decideFatal},
		{"header rate limit", rep(200, `{}`, map[string]string{
			"x-rate-limit-remaining": "0",
			"x-rate-limit-reset":     "1777777777",
		}), decideRateLimited},
		{"88 rate limit", rep(200, errBody(88, "Rate limit exceeded"), nil), decideRateLimited},
		{"429", rep(429, `{}`, nil), decideRateLimited},
		{"326 locked", rep(403, errBody(326, "Authorization: Denied by access control"), nil), decideBanned},
		{"64 suspended", rep(403, errBody(64, "Your account is suspended"), nil), decideBanned},
		{"32 bad session", rep(401, errBody(32, "Could not authenticate you"), nil), decideBanned},
		{"29 timeout", rep(200, errBody(29, "Timeout: Unspecified"), nil), decideRetry},
		{"403 no error", rep(403, `{}`, nil), decideBanned},
		{"401 no error", rep(401, `{}`, nil), decideBanned},
		{"131 dependency", rep(200, errBody(131, "Dependency: Internal error."), nil), decideAbort},
		{"200 missing status", rep(200, errBody(144, "_Missing: No status found with that ID."), nil), decideOK},
		{"200 authorization quirk", rep(200, errBody(-1, "Authorization: oops"), nil), decideOK},
		{"200 other error", rep(200, errBody(17, "No user matches"), nil), decideOK},
		{"500", rep(500, `{}`, nil), decideUnknown},
		{"404", rep(404, `{}`, nil), decideUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := classify(tt.rep, now)
			assert.Equal(t, tt.want, d.Kind)
		})
	}
}

func TestClassifyRateLimitDeadlines(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	d := classify(rep(200, `{}`, map[string]string{
		"x-rate-limit-remaining": "0",
		"x-rate-limit-reset":     "1777777777",
	}), now)
	assert.Equal(t, time.Unix(1777777777, 0).UTC(), d.Until)

	d = classify(rep(429, `{}`, nil), now)
	assert.Equal(t, now.Add(4*time.Hour), d.Until)
}

func TestClassifyBanReasons(t *testing.T) {
	now := time.Now()

	d := classify(rep(403, errBody(326, "Authorization: Denied by access control"), nil), now)
	assert.Contains(t, d.Reason, "(326)")

	// An empty-body 403 carries no reason.
	d = classify(rep(403, `{}`, nil), now)
	assert.Empty(t, d.Reason)
}
