// Package gql exposes the scraping operations as iterators over raw pages.
// Each operation runs on its own queue so rate limits are tracked per
// operation, and pagination follows the Bottom cursor until the remote stops
// returning entries.
package gql

import (
	"context"
	"errors"
	"iter"
	"net/url"
	"path"
	"strings"

	"github.com/twsio/tws/internal/config"
	"github.com/twsio/tws/internal/jsonx"
	"github.com/twsio/tws/internal/pool"
	"github.com/twsio/tws/internal/queue"
	"github.com/twsio/tws/internal/utils"
)

// Vars are the operation's GraphQL variables.
type Vars map[string]any

// API runs operations against the pool.
type API struct {
	pool    *pool.AccountsPool
	cfg     *config.Config
	baseURL string
	opts    []queue.Option
}

// Option configures the API.
type Option func(*API)

// WithBaseURL points operations at a different endpoint root.
func WithBaseURL(u string) Option {
	return func(a *API) { a.baseURL = strings.TrimSuffix(u, "/") }
}

// WithClientOptions forwards options to every queue client the API opens.
func WithClientOptions(opts ...queue.Option) Option {
	return func(a *API) { a.opts = opts }
}

// New returns an API over the pool.
func New(p *pool.AccountsPool, cfg *config.Config, opts ...Option) *API {
	a := &API{pool: p, cfg: cfg, baseURL: defaultBaseURL}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Pool exposes the underlying pool.
func (a *API) Pool() *pool.AccountsPool { return a.pool }

func queueName(op string) string { return path.Base(op) }

// params encodes variables and features (plus the queue's field toggles) the
// way the web client does: compact JSON in query parameters.
func (a *API) params(qn string, vars Vars, features map[string]any) url.Values {
	p := url.Values{
		"variables": {utils.CompactJSON(vars)},
		"features":  {utils.CompactJSON(features)},
	}
	if toggles, ok := fieldToggles[qn]; ok {
		p.Set("fieldToggles", toggles)
	}
	return p
}

func mergeFeatures(extra map[string]any) map[string]any {
	out := make(map[string]any, len(baseFeatures)+len(extra))
	for k, v := range baseFeatures {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func cloneVars(vars Vars) Vars {
	out := make(Vars, len(vars)+1)
	for k, v := range vars {
		out[k] = v
	}
	return out
}

// item runs a single-shot operation: one request, one response.
func (a *API) item(ctx context.Context, op string, vars Vars, ft map[string]any) (*queue.Response, error) {
	qn := queueName(op)
	c := queue.New(a.pool, qn, a.cfg, a.opts...)
	// Release with a fresh context so cancellation cannot leak the lease.
	defer c.Close(context.WithoutCancel(ctx))

	return c.Get(ctx, a.baseURL+"/"+op, a.params(qn, vars, mergeFeatures(ft)))
}

// items runs a paginated operation. Pages that carry no usable entries stop
// the iteration without being yielded; a server-side abort ends the sequence
// silently. limit < 0 means unbounded; the last page may overshoot because
// callers count domain items, not entries.
func (a *API) items(ctx context.Context, op string, vars Vars, ft map[string]any, limit int, cursorType string) iter.Seq2[*queue.Response, error] {
	return func(yield func(*queue.Response, error) bool) {
		qn := queueName(op)
		c := queue.New(a.pool, qn, a.cfg, a.opts...)
		defer c.Close(context.WithoutCancel(ctx))

		features := mergeFeatures(ft)
		cursor := ""
		yielded := 0

		for {
			v := cloneVars(vars)
			if cursor != "" {
				v["cursor"] = cursor
			}

			rep, err := c.Get(ctx, a.baseURL+"/"+op, a.params(qn, v, features))
			if err != nil {
				if !errors.Is(err, queue.ErrAbort) {
					yield(nil, err)
				}
				return
			}

			entries := usableEntries(rep)
			cursor = jsonx.Cursor(rep.Body, cursorType)

			if entries == 0 || limit == 0 {
				return
			}
			if !yield(rep, nil) {
				return
			}
			yielded += entries

			if cursor == "" || (limit > 0 && yielded >= limit) {
				return
			}
		}
	}
}

// usableEntries counts timeline entries that carry content, skipping cursor
// and message-prompt placeholders.
func usableEntries(rep *queue.Response) int {
	n := 0
	for _, e := range jsonx.FindKey(rep.Body, "entries").Array() {
		id := e.Get("entryId").String()
		if strings.HasPrefix(id, "cursor-") || strings.HasPrefix(id, "messageprompt-") {
			continue
		}
		n++
	}
	return n
}
