package imapx

import (
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
)

func TestHostFor(t *testing.T) {
	assert.Equal(t, "imap.mail.yahoo.com", HostFor("a@yahoo.com"))
	assert.Equal(t, "imap.mail.me.com", HostFor("a@icloud.com"))
	assert.Equal(t, "imap-mail.outlook.com", HostFor("a@outlook.com"))
	assert.Equal(t, "imap-mail.outlook.com", HostFor("a@hotmail.com"))
	assert.Equal(t, "imap.example.org", HostFor("a@example.org"))

	AddMapping("corp.test", "mail.internal.corp.test")
	assert.Equal(t, "mail.internal.corp.test", HostFor("a@corp.test"))
}

func envelope(subject string, at time.Time) *imap.Envelope {
	return &imap.Envelope{
		Date:    at,
		Subject: subject,
		From:    []*imap.Address{{MailboxName: "info", HostName: "x.com"}},
	}
}

func TestExtractCode(t *testing.T) {
	now := time.Now()

	code, ok := extractCode(envelope("Your X confirmation code is 123abc", now), now.Add(-time.Minute))
	assert.True(t, ok)
	assert.Equal(t, "123abc", code)

	// Older than the flow start must not match.
	_, ok = extractCode(envelope("Your X confirmation code is 123abc", now.Add(-time.Hour)), now)
	assert.False(t, ok)

	// Wrong subject.
	_, ok = extractCode(envelope("Welcome to X", now), now.Add(-time.Minute))
	assert.False(t, ok)

	// Wrong sender.
	env := envelope("Your X confirmation code is 123abc", now)
	env.From = []*imap.Address{{MailboxName: "spam", HostName: "example.com"}}
	_, ok = extractCode(env, now.Add(-time.Minute))
	assert.False(t, ok)
}
