// Package imapx reads login confirmation codes from an account's mailbox.
package imapx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// ErrCodeTimeout is returned when no confirmation code arrives in time.
var ErrCodeTimeout = errors.New("email code timeout")

const (
	codeSender  = "info@x.com"
	codeSubject = "confirmation code is"
)

var (
	hostsMu       sync.Mutex
	hostOverrides = map[string]string{
		"yahoo.com":   "imap.mail.yahoo.com",
		"icloud.com":  "imap.mail.me.com",
		"outlook.com": "imap-mail.outlook.com",
		"hotmail.com": "imap-mail.outlook.com",
	}
)

// AddMapping registers a custom IMAP host for an email domain.
func AddMapping(emailDomain, imapHost string) {
	hostsMu.Lock()
	defer hostsMu.Unlock()
	hostOverrides[emailDomain] = imapHost
}

// HostFor resolves the IMAP host for an email address. Unknown domains fall
// back to the imap.<domain> convention.
func HostFor(email string) string {
	_, domain, _ := strings.Cut(email, "@")
	hostsMu.Lock()
	defer hostsMu.Unlock()
	if h, ok := hostOverrides[domain]; ok {
		return h
	}
	return "imap." + domain
}

// Reader is a logged-in IMAP session positioned on the inbox.
type Reader struct {
	c     *client.Client
	email string
}

// Login connects over TLS and authenticates. The caller owns the session and
// must Close it.
func Login(email, password string) (*Reader, error) {
	host := HostFor(email)
	c, err := client.DialTLS(host+":993", nil)
	if err != nil {
		return nil, fmt.Errorf("imap dial %s: %w", host, err)
	}
	if err := c.Login(email, password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("imap login %s on %s: %w", email, host, err)
	}
	return &Reader{c: c, email: email}, nil
}

func (r *Reader) Close() error { return r.c.Logout() }

// WaitForCode polls the inbox until a confirmation code newer than minTime
// arrives, the timeout passes, or the context is cancelled.
func (r *Reader) WaitForCode(ctx context.Context, minTime time.Time, timeout, poll time.Duration) (string, error) {
	slog.Info("waiting for confirmation code", "email", r.email)
	deadline := time.Now().Add(timeout)
	for {
		code, err := r.scan(minTime)
		if err != nil {
			return "", err
		}
		if code != "" {
			return code, nil
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("%w (%s)", ErrCodeTimeout, timeout)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(poll):
		}
	}
}

// scan reads envelopes newest-first and returns the first matching code.
func (r *Reader) scan(minTime time.Time) (string, error) {
	mbox, err := r.c.Select("INBOX", true)
	if err != nil {
		return "", fmt.Errorf("imap select: %w", err)
	}
	if mbox.Messages == 0 {
		return "", nil
	}

	seq := new(imap.SeqSet)
	seq.AddRange(1, mbox.Messages)

	messages := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- r.c.Fetch(seq, []imap.FetchItem{imap.FetchEnvelope}, messages)
	}()

	var envs []*imap.Envelope
	for msg := range messages {
		if msg.Envelope != nil {
			envs = append(envs, msg.Envelope)
		}
	}
	if err := <-done; err != nil {
		return "", fmt.Errorf("imap fetch: %w", err)
	}

	for i := len(envs) - 1; i >= 0; i-- {
		if code, ok := extractCode(envs[i], minTime); ok {
			return code, nil
		}
	}
	return "", nil
}

// extractCode matches the confirmation email and returns the code, which is
// the last word of the subject line.
func extractCode(env *imap.Envelope, minTime time.Time) (string, bool) {
	if env.Date.Before(minTime) {
		return "", false
	}
	from := ""
	if len(env.From) > 0 {
		from = strings.ToLower(env.From[0].Address())
	}
	subject := strings.ToLower(env.Subject)
	if !strings.Contains(from, codeSender) || !strings.Contains(subject, codeSubject) {
		return "", false
	}
	parts := strings.Fields(subject)
	if len(parts) == 0 {
		return "", false
	}
	return strings.TrimSpace(parts[len(parts)-1]), true
}
