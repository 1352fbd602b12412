package email

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcgregorio/gamesite/config"
	"github.com/jcgregorio/gamesite/message"
)

func TestBytes(t *testing.T) {
	e := &Email{
		From:    "site@example.org",
		To:      []string{"me@example.org"},
		ReplyTo: "Ada <ada@example.org>",
		Subject: "Hi\r\nBcc: victim@example.org",
		Body:    "line one\nline two",
	}
	raw := string(e.Bytes(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))
	assert.Contains(t, raw, "From: site@example.org\r\n")
	assert.Contains(t, raw, "Reply-To: Ada <ada@example.org>\r\n")
	assert.Contains(t, raw, "Date: Tue, 02 Jan 2024 03:04:05 +0000\r\n")
	assert.Contains(t, raw, "\r\n\r\nline one\r\nline two\r\n")
	assert.NotContains(t, raw, "\r\nBcc:")
}

func TestContactNotification(t *testing.T) {
	m := &message.Message{Name: "Ada", Email: "ada@example.org", Subject: "Bug report", Body: "It crashed."}
	e := ContactNotification(m, "Pixel Forge", "site@example.org", "me@example.org")
	assert.Equal(t, "[Pixel Forge] Bug report", e.Subject)
	assert.Equal(t, []string{"me@example.org"}, e.To)
	assert.Equal(t, `"Ada" <ada@example.org>`, e.ReplyTo)
	assert.True(t, strings.HasSuffix(e.Body, "It crashed.\n"))

	m.Subject = ""
	assert.Equal(t, "[Pixel Forge] New message", ContactNotification(m, "Pixel Forge", "a@b.c", "d@e.f").Subject)
}

func TestSMTPSend(t *testing.T) {
	cfg := config.SMTP{Host: "smtp.example.org", Port: 2525, User: "u", Password: "p", From: "site@example.org", To: "me@example.org"}
	s := NewSMTP(cfg)
	var gotAddr, gotFrom string
	var gotTo []string
	var gotAuth smtp.Auth
	s.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotAuth = addr, from, to, a
		return nil
	}
	err := s.Send(context.Background(), &Email{From: "Site <site@example.org>", To: []string{"me@example.org"}, Subject: "x"})
	require.NoError(t, err)
	assert.Equal(t, "smtp.example.org:2525", gotAddr)
	assert.Equal(t, "site@example.org", gotFrom)
	assert.Equal(t, []string{"me@example.org"}, gotTo)
	assert.NotNil(t, gotAuth)

	s.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("relay down")
	}
	assert.Error(t, s.Send(context.Background(), &Email{From: "site@example.org", To: []string{"me@example.org"}}))
	assert.Error(t, s.Send(context.Background(), &Email{From: "site@example.org"}))
}

func TestNew(t *testing.T) {
	_, ok := New(config.SMTP{}).(Log)
	assert.True(t, ok)
	_, ok = New(config.SMTP{Host: "h", From: "f@example.org", To: "t@example.org"}).(*SMTP)
	assert.True(t, ok)
	assert.NoError(t, Log{}.Send(context.Background(), &Email{Subject: "ignored"}))
}
