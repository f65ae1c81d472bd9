// Package transport builds per-account round-trippers. Direct connections
// speak h2 with a utls Chrome fingerprint; proxied connections tunnel through
// SOCKS5 or HTTP CONNECT and then run the same TLS handshake.
package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
	"golang.org/x/net/proxy"
)

// Build returns a round-tripper for the given proxy URL ("" means direct).
// Supported proxy schemes: socks5, http, https.
func Build(proxyURL string) (http.RoundTripper, error) {
	if proxyURL == "" {
		return &direct{
			h2: &http2.Transport{
				DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
					return dialUTLS(ctx, network, addr)
				},
			},
			h1: &http.Transport{
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     5 * time.Minute,
			},
		}, nil
	}

	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("parse proxy url: %w", err)
	}

	var dial func(ctx context.Context, network, addr string) (net.Conn, error)
	switch u.Scheme {
	case "socks5", "socks5h":
		dial = socks5Dialer(u)
	case "http", "https", "":
		dial = httpConnectDialer(u)
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}

	return &http.Transport{
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     5 * time.Minute,
		DialTLSContext:      dial,
	}, nil
}

// direct speaks h2 with the utls handshake to TLS origins and falls back to
// a plain transport for cleartext ones.
type direct struct {
	h2 *http2.Transport
	h1 *http.Transport
}

func (d *direct) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme == "http" {
		return d.h1.RoundTrip(req)
	}
	return d.h2.RoundTrip(req)
}

func (d *direct) CloseIdleConnections() {
	d.h2.CloseIdleConnections()
	d.h1.CloseIdleConnections()
}

func dialUTLS(ctx context.Context, network, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	dialer := &net.Dialer{}
	rawConn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	return uTLSHandshake(ctx, rawConn, host)
}

func uTLSHandshake(ctx context.Context, rawConn net.Conn, serverName string) (net.Conn, error) {
	tlsConn := utls.UClient(rawConn, &utls.Config{
		ServerName: serverName,
		MinVersion: tls.VersionTLS12,
	}, utls.HelloChrome_Auto)

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, err
	}
	return tlsConn, nil
}

func proxyHostPort(u *url.URL) string {
	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), "1080")
	}
	return host
}

func socks5Dialer(u *url.URL) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		var auth *proxy.Auth
		if u.User != nil {
			pass, _ := u.User.Password()
			auth = &proxy.Auth{User: u.User.Username(), Password: pass}
		}

		dialer, err := proxy.SOCKS5("tcp", proxyHostPort(u), auth, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("socks5 dialer: %w", err)
		}

		rawConn, err := dialer.Dial(network, addr)
		if err != nil {
			return nil, fmt.Errorf("socks5 dial: %w", err)
		}

		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			rawConn.Close()
			return nil, err
		}
		return uTLSHandshake(ctx, rawConn, host)
	}
}

func httpConnectDialer(u *url.URL) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		proxyAddr := u.Host
		if u.Port() == "" {
			proxyAddr = net.JoinHostPort(u.Hostname(), "8080")
		}

		dialer := &net.Dialer{}
		rawConn, err := dialer.DialContext(ctx, "tcp", proxyAddr)
		if err != nil {
			return nil, fmt.Errorf("proxy tcp dial: %w", err)
		}

		connectReq := &http.Request{
			Method: http.MethodConnect,
			URL:    &url.URL{Opaque: addr},
			Host:   addr,
			Header: make(http.Header),
		}
		if u.User != nil {
			pass, _ := u.User.Password()
			cred := base64.StdEncoding.EncodeToString([]byte(u.User.Username() + ":" + pass))
			connectReq.Header.Set("Proxy-Authorization", "Basic "+cred)
		}

		if err := connectReq.Write(rawConn); err != nil {
			rawConn.Close()
			return nil, fmt.Errorf("proxy CONNECT write: %w", err)
		}

		resp, err := http.ReadResponse(bufio.NewReader(rawConn), connectReq)
		if err != nil {
			rawConn.Close()
			return nil, fmt.Errorf("proxy CONNECT read: %w", err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			rawConn.Close()
			return nil, fmt.Errorf("proxy CONNECT failed: %s", resp.Status)
		}

		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			rawConn.Close()
			return nil, err
		}
		return uTLSHandshake(ctx, rawConn, host)
	}
}

// Retrying wraps a round-tripper and retries transport-level failures a fixed
// number of times. Only requests without a body are replayed.
type Retrying struct {
	Next    http.RoundTripper
	Retries int
}

func (t *Retrying) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.Next.RoundTrip(req)
	for i := 0; i < t.Retries && err != nil && req.Body == nil && req.Context().Err() == nil; i++ {
		resp, err = t.Next.RoundTrip(req)
	}
	return resp, err
}

// CloseIdleConnections forwards to the wrapped transport when supported.
func (t *Retrying) CloseIdleConnections() {
	if c, ok := t.Next.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
}
