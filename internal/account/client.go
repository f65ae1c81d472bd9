package account

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/twsio/tws/internal/transport"
)

// cookieDomains are the hosts the saved flat cookie map is replayed against.
// Domain cookies cover the api.* subdomains.
var cookieDomains = []string{"twitter.com", "x.com"}

// Client is an HTTP client hydrated with one account's session: cookie jar,
// saved headers, then the fixed overrides. Headers are mutable because the
// login flow promotes the session as cookies arrive.
type Client struct {
	httpc *http.Client
	jar   http.CookieJar
	rt    http.RoundTripper

	mu      sync.Mutex
	headers map[string]string
	origins map[string]*url.URL
}

// MakeClient builds the client for this account. Proxy precedence: the
// explicit argument, then the environment default, then the account's own
// proxy.
func (a *Account) MakeClient(proxyOverride, envProxy string, timeout time.Duration) (*Client, error) {
	proxyURL := firstNonEmpty(proxyOverride, envProxy, a.Proxy)

	rt, err := transport.Build(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", a.Username, err)
	}
	rt = &transport.Retrying{Next: rt, Retries: 2}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	for _, domain := range cookieDomains {
		u := &url.URL{Scheme: "https", Host: domain}
		cookies := make([]*http.Cookie, 0, len(a.Cookies))
		for name, value := range a.Cookies {
			cookies = append(cookies, &http.Cookie{Name: name, Value: value, Domain: domain, Path: "/"})
		}
		jar.SetCookies(u, cookies)
	}

	headers := map[string]string{}
	for k, v := range a.Headers {
		headers[k] = v
	}
	headers["user-agent"] = a.UserAgent
	headers["content-type"] = "application/json"
	headers["authorization"] = BearerToken
	headers["x-twitter-active-user"] = "yes"
	headers["x-twitter-client-language"] = "en"

	c := &Client{
		httpc: &http.Client{
			Transport: rt,
			Jar:       jar,
			Timeout:   timeout,
		},
		jar:     jar,
		rt:      rt,
		headers: headers,
		origins: map[string]*url.URL{},
	}
	if ct0 := c.CookieValue("ct0"); ct0 != "" {
		c.SetHeader("x-csrf-token", ct0)
	}
	return c, nil
}

// Do issues a request with the session headers applied, plus any extras.
func (c *Client) Do(ctx context.Context, method, rawURL string, params url.Values, body []byte, extra map[string]string) (*http.Response, error) {
	if len(params) > 0 {
		rawURL = rawURL + "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, bodyReader)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	c.origins[req.URL.Host] = &url.URL{Scheme: req.URL.Scheme, Host: req.URL.Host}
	c.mu.Unlock()
	for k, v := range extra {
		req.Header.Set(k, v)
	}

	// The CSRF token shadows whatever was saved once a ct0 cookie exists.
	if ct0 := c.CookieValue("ct0"); ct0 != "" {
		req.Header.Set("x-csrf-token", ct0)
	}

	return c.httpc.Do(req)
}

// Get issues a GET with query parameters.
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values) (*http.Response, error) {
	return c.Do(ctx, http.MethodGet, rawURL, params, nil, nil)
}

// PostJSON issues a POST with a JSON-encoded body.
func (c *Client) PostJSON(ctx context.Context, rawURL string, params url.Values, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return c.Do(ctx, http.MethodPost, rawURL, params, body, nil)
}

// SetHeader sets a session header for all subsequent requests.
func (c *Client) SetHeader(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headers[key] = value
}

// Header reads a session header.
func (c *Client) Header(key string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.headers[key]
}

// Headers snapshots the session headers.
func (c *Client) Headers() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.headers))
	for k, v := range c.headers {
		out[k] = v
	}
	return out
}

// cookieURLs lists the session domains plus every origin the client has
// talked to, so cookies set by either are visible.
func (c *Client) cookieURLs() []*url.URL {
	out := make([]*url.URL, 0, len(cookieDomains)+len(c.origins))
	for _, domain := range cookieDomains {
		out = append(out, &url.URL{Scheme: "https", Host: domain})
	}
	c.mu.Lock()
	for _, u := range c.origins {
		out = append(out, u)
	}
	c.mu.Unlock()
	return out
}

// CookieValue returns the named cookie across the session domains, or "".
func (c *Client) CookieValue(name string) string {
	for _, u := range c.cookieURLs() {
		for _, ck := range c.jar.Cookies(u) {
			if ck.Name == name {
				return ck.Value
			}
		}
	}
	return ""
}

// Cookies snapshots the jar as a flat name/value map.
func (c *Client) Cookies() map[string]string {
	out := map[string]string{}
	for _, u := range c.cookieURLs() {
		for _, ck := range c.jar.Cookies(u) {
			out[ck.Name] = ck.Value
		}
	}
	return out
}

// Close releases idle connections held by the client's transport.
func (c *Client) Close() {
	if t, ok := c.rt.(interface{ CloseIdleConnections() }); ok {
		t.CloseIdleConnections()
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
