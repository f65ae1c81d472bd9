// Package queue is the rate-limit-aware HTTP client. A Client leases one
// account for one queue name, issues requests through it, and reacts to the
// classifier's verdict: rotate to another account on rate limits and bans,
// retry transport failures in place, and surface only what the caller can
// act on. Closing the client releases the lease and folds the request count
// into the account's stats.
package queue

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
	"github.com/tidwall/gjson"

	"github.com/twsio/tws/internal/account"
	"github.com/twsio/tws/internal/config"
	"github.com/twsio/tws/internal/pool"
)

// ErrBadFeatures means the request's feature flags are out of date and every
// account would fail the same way. The operator must update them.
var ErrBadFeatures = errors.New("request features rejected")

// ErrAbort means a server-side dependency is failing and the logical
// operation should stop. The account itself is fine.
var ErrAbort = errors.New("request aborted by server dependency error")

const historySize = 3

// acceptEncoding advertises everything readBody can decode.
const acceptEncoding = "gzip, deflate, br, zstd"

// Response is a fully-read response annotated with the account that made it.
type Response struct {
	Status   int
	Headers  http.Header
	Body     []byte
	Username string

	method string
	url    string
}

// Get reads a JSON path from the body.
func (r *Response) Get(path string) gjson.Result {
	return gjson.GetBytes(r.Body, path)
}

func (r *Response) reqID() string {
	lr := r.Headers.Get("x-rate-limit-remaining")
	ll := r.Headers.Get("x-rate-limit-limit")
	if lr == "" {
		lr = "-1"
	}
	if ll == "" {
		ll = "-1"
	}
	return fmt.Sprintf("%s %s/%s", r.Username, lr, ll)
}

// TransactionIDProvider computes the per-request transaction header.
type TransactionIDProvider interface {
	Calc(method, path string) (string, error)
}

type lease struct {
	acc      *account.Account
	client   *account.Client
	reqCount int
}

// Client multiplexes requests for one queue across the pool.
type Client struct {
	pool  *pool.AccountsPool
	queue string
	cfg   *config.Config
	debug bool
	txid  TransactionIDProvider

	cur     *lease
	history []*Response
}

// Option configures a Client.
type Option func(*Client)

// WithDebug dumps recent request history to a temp file on failures.
func WithDebug() Option {
	return func(c *Client) { c.debug = true }
}

// WithTransactionID attaches a transaction header to every request.
func WithTransactionID(p TransactionIDProvider) Option {
	return func(c *Client) { c.txid = p }
}

// New returns a client for the queue. The first lease is taken lazily on the
// first request.
func New(p *pool.AccountsPool, queue string, cfg *config.Config, opts ...Option) *Client {
	c := &Client{pool: p, queue: queue, cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get issues a GET through the current lease.
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values) (*Response, error) {
	return c.Req(ctx, http.MethodGet, rawURL, params)
}

// Req issues one request, rotating accounts as the classifier demands.
// A nil response with a nil error is not possible; ErrAbort and
// ErrBadFeatures are the two sentinel failures callers dispatch on.
func (c *Client) Req(ctx context.Context, method, rawURL string, params url.Values) (*Response, error) {
	connRetry, unknownRetry := 0, 0
	for {
		ls, err := c.lease(ctx)
		if err != nil {
			return nil, err
		}

		rep, err := c.do(ctx, ls, method, rawURL, params)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Transport errors stay on the same account.
			connRetry++
			slog.Warn("request failed, retrying", "queue", c.queue, "error", err, "attempt", connRetry)
			if connRetry >= 3 {
				return nil, err
			}
			continue
		}
		c.pushHistory(rep)

		d := classify(rep, time.Now())
		logID := fmt.Sprintf("%3d - %s - %s", rep.Status, rep.reqID(), d.ErrMsg)

		switch d.Kind {
		case decideOK:
			if d.ErrMsg != "OK" {
				slog.Warn("tolerated content error", "queue", c.queue, "rep", logID)
			}
			ls.reqCount++
			return rep, nil

		case decideFatal:
			slog.Error("invalid request features", "queue", c.queue, "rep", logID)
			c.dumpHistory(method + " " + rawURL)
			return nil, fmt.Errorf("%w: %s", ErrBadFeatures, d.Reason)

		case decideRateLimited:
			slog.Debug("rate limited", "queue", c.queue, "rep", logID, "until", d.Until)
			if err := c.closeLease(ctx, d.Until, false, ""); err != nil {
				return nil, err
			}

		case decideBanned:
			slog.Warn("session expired or banned", "queue", c.queue, "rep", logID)
			if err := c.closeLease(ctx, time.Time{}, true, d.Reason); err != nil {
				return nil, err
			}

		case decideRetry:
			slog.Debug("retrying on another account", "queue", c.queue, "rep", logID)
			if err := c.closeLease(ctx, time.Time{}, false, ""); err != nil {
				return nil, err
			}

		case decideAbort:
			slog.Warn("dependency error, request skipped", "queue", c.queue, "rep", logID)
			if err := c.closeLease(ctx, time.Time{}, false, ""); err != nil {
				return nil, err
			}
			return nil, ErrAbort

		case decideUnknown:
			unknownRetry++
			slog.Warn("unknown error", "queue", c.queue, "rep", logID, "attempt", unknownRetry)
			if unknownRetry >= c.cfg.UnknownRetryLimit {
				// Punish the account so the next lease lands elsewhere.
				if err := c.closeLease(ctx, time.Now().Add(15*time.Minute), false, ""); err != nil {
					return nil, err
				}
				c.dumpHistory(method + " " + rawURL)
				return nil, fmt.Errorf("unknown error [%d] %s: %s", rep.Status, rawURL, snippet(string(rep.Body)))
			}
		}
	}
}

// Close releases the current lease, recording its request count.
func (c *Client) Close(ctx context.Context) error {
	return c.closeLease(ctx, time.Time{}, false, "")
}

// lease returns the current lease, taking a new one if needed.
func (c *Client) lease(ctx context.Context) (*lease, error) {
	if c.cur != nil {
		return c.cur, nil
	}
	acc, err := c.pool.GetForQueueOrWait(ctx, c.queue)
	if err != nil {
		return nil, err
	}
	clt, err := acc.MakeClient("", c.cfg.Proxy, c.cfg.RequestTimeout)
	if err != nil {
		return nil, err
	}
	c.cur = &lease{acc: acc, client: clt}
	return c.cur, nil
}

// closeLease releases the current lease. Bans keep the lock in place and
// deactivate the account; an explicit deadline extends the lock; otherwise
// the queue is unlocked. The request count is folded into stats either way
// it is released.
func (c *Client) closeLease(ctx context.Context, until time.Time, inactive bool, reason string) error {
	if c.cur == nil {
		return nil
	}
	ls := c.cur
	c.cur = nil
	ls.client.Close()

	if inactive {
		return c.pool.MarkInactive(ctx, ls.acc.Username, reason)
	}
	if !until.IsZero() {
		return c.pool.LockUntil(ctx, ls.acc.Username, c.queue, until, ls.reqCount)
	}
	return c.pool.Unlock(ctx, ls.acc.Username, c.queue, ls.reqCount)
}

// do issues one request and reads the whole response.
func (c *Client) do(ctx context.Context, ls *lease, method, rawURL string, params url.Values) (*Response, error) {
	extra := map[string]string{"accept-encoding": acceptEncoding}
	if c.txid != nil {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, err
		}
		tid, err := c.txid.Calc(method, u.Path)
		if err != nil {
			slog.Warn("transaction id failed", "queue", c.queue, "error", err)
		} else {
			extra["x-client-transaction-id"] = tid
		}
	}

	rep, err := ls.client.Do(ctx, method, rawURL, params, nil, extra)
	if err != nil {
		return nil, err
	}
	defer rep.Body.Close()

	body, err := readBody(rep)
	if err != nil {
		return nil, err
	}
	return &Response{
		Status:   rep.StatusCode,
		Headers:  rep.Header,
		Body:     body,
		Username: ls.acc.Username,
		method:   method,
		url:      rawURL,
	}, nil
}

// readBody drains the response, reversing the content encoding.
func readBody(rep *http.Response) ([]byte, error) {
	var r io.Reader = rep.Body
	switch strings.ToLower(rep.Header.Get("content-encoding")) {
	case "", "identity":
	case "gzip":
		gz, err := gzip.NewReader(rep.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer gz.Close()
		r = gz
	case "deflate":
		fl := flate.NewReader(rep.Body)
		defer fl.Close()
		r = fl
	case "br":
		r = brotli.NewReader(rep.Body)
	case "zstd":
		zr, err := zstd.NewReader(rep.Body)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		defer zr.Close()
		r = zr
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", rep.Header.Get("content-encoding"))
	}
	return io.ReadAll(r)
}

func (c *Client) pushHistory(rep *Response) {
	c.history = append(c.history, rep)
	if len(c.history) > historySize {
		c.history = c.history[1:]
	}
}

// dumpHistory writes the recent exchanges to a temp file for inspection.
func (c *Client) dumpHistory(extra string) {
	if !c.debug {
		return
	}
	ts := strings.NewReplacer(":", "-", " ", "_").Replace(time.Now().Format("2006-01-02 15:04:05"))
	name := filepath.Join(os.TempDir(), "api_dump_"+ts+".txt")

	var b strings.Builder
	b.WriteString(extra + "\n")
	div := strings.Repeat("-", 20)
	for _, rep := range c.history {
		fmt.Fprintf(&b, "%s\n%s\n%s %s\n%d\n%s\n%s\n\n", div, rep.reqID(), rep.method, rep.url, rep.Status, div, rep.Body)
	}
	if err := os.WriteFile(name, []byte(b.String()), 0o644); err != nil {
		slog.Warn("history dump failed", "error", err)
		return
	}
	slog.Info("history dumped", "count", len(c.history), "file", name)
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
