// Package email sends notifications through an SMTP relay.
package email

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/jcgregorio/gamesite/config"
	"github.com/jcgregorio/gamesite/message"
)

type Email struct {
	From    string
	To      []string
	ReplyTo string
	Subject string
	Body    string
}

// headerSafe strips anything that would let a value start a new header.
func headerSafe(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}

// Bytes formats the email as an RFC 5322 message.
func (e *Email) Bytes(now time.Time) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", headerSafe(e.From))
	fmt.Fprintf(&b, "To: %s\r\n", headerSafe(strings.Join(e.To, ", ")))
	if e.ReplyTo != "" {
		fmt.Fprintf(&b, "Reply-To: %s\r\n", headerSafe(e.ReplyTo))
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", headerSafe(e.Subject)))
	fmt.Fprintf(&b, "Date: %s\r\n", now.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.Replace(strings.Replace(e.Body, "\r\n", "\n", -1), "\n", "\r\n", -1))
	b.WriteString("\r\n")
	return b.Bytes()
}

func parseAddress(s string) (string, error) {
	a, err := mail.ParseAddress(s)
	if err != nil {
		return "", err
	}
	return a.Address, nil
}

type Sender interface {
	Send(ctx context.Context, e *Email) error
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTP relays mail through the configured server.
type SMTP struct {
	cfg      config.SMTP
	sendMail sendMailFunc
}

func NewSMTP(cfg config.SMTP) *SMTP {
	return &SMTP{
		cfg:      cfg,
		sendMail: smtp.SendMail,
	}
}

func (s *SMTP) Send(ctx context.Context, e *Email) error {
	if len(e.To) == 0 {
		return fmt.Errorf("No recipients.")
	}
	var auth smtp.Auth
	if s.cfg.User != "" {
		auth = smtp.PlainAuth("", s.cfg.User, s.cfg.Password, s.cfg.Host)
	}
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	envelopeFrom := e.From
	if a, err := parseAddress(e.From); err == nil {
		envelopeFrom = a
	}
	done := make(chan error, 1)
	go func() {
		done <- s.sendMail(addr, auth, envelopeFrom, e.To, e.Bytes(time.Now()))
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("Failed to send mail via %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Log is the Sender used when no relay is configured.
type Log struct{}

func (Log) Send(ctx context.Context, e *Email) error {
	glog.Infof("Not sending email %q to %v, SMTP is not configured.", e.Subject, e.To)
	return nil
}

// New returns an SMTP sender if cfg is usable, otherwise a Log sender.
func New(cfg config.SMTP) Sender {
	if cfg.Configured() {
		return NewSMTP(cfg)
	}
	return Log{}
}

// ContactNotification is the email telling the site owner about a contact
// form submission. Replying to it goes to the visitor.
func ContactNotification(m *message.Message, siteName, from, to string) *Email {
	subject := m.Subject
	if subject == "" {
		subject = "New message"
	}
	body := fmt.Sprintf("%s <%s> wrote via the %s contact form:\n\n%s\n", m.Name, m.Email, siteName, m.Body)
	return &Email{
		From:    from,
		To:      []string{to},
		ReplyTo: (&mail.Address{Name: m.Name, Address: m.Email}).String(),
		Subject: fmt.Sprintf("[%s] %s", siteName, subject),
		Body:    body,
	}
}
