package utils

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/badoux/checkmail"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

// OutboundEmail is a fully rendered message handed to the provider client.
type OutboundEmail struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string
	Headers  map[string]string
}

// Provider is the black-box email delivery client. Send returns the
// provider message id on success; failures are tagged *SendError so the
// dispatcher's retry decision is a function of the kind.
type Provider interface {
	Send(ctx context.Context, email OutboundEmail) (string, error)
}

// SMTPMailer delivers through an SMTP relay via gomail. Transient faults
// inside one Send call (connection resets, greylisting) are retried with a
// short exponential backoff before the failure is surfaced; row-level
// rescheduling across calls belongs to the dispatcher.
type SMTPMailer struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string

	// MaxAttemptWindow bounds the in-call retry envelope.
	MaxAttemptWindow time.Duration
}

func NewSMTPMailer(host string, port int, username, password, fromEmail, fromName string) *SMTPMailer {
	return &SMTPMailer{
		Host:             host,
		Port:             port,
		Username:         username,
		Password:         password,
		FromEmail:        fromEmail,
		FromName:         fromName,
		MaxAttemptWindow: 15 * time.Second,
	}
}

// Send delivers one message. The returned message id doubles as the
// Message-Id header, so provider webhooks can be joined back to the row.
func (m *SMTPMailer) Send(ctx context.Context, email OutboundEmail) (string, error) {
	if err := checkmail.ValidateFormat(email.To); err != nil {
		return "", PermanentError(fmt.Errorf("invalid recipient %q: %w", email.To, err))
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), m.Host)

	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", m.FromEmail, m.FromName)
	msg.SetHeader("To", email.To)
	msg.SetHeader("Subject", email.Subject)
	msg.SetHeader("Message-Id", messageID)
	for k, v := range email.Headers {
		msg.SetHeader(k, v)
	}
	if email.TextBody != "" {
		msg.SetBody("text/plain", email.TextBody)
		if email.HTMLBody != "" {
			msg.AddAlternative("text/html", email.HTMLBody)
		}
	} else {
		msg.SetBody("text/html", email.HTMLBody)
	}

	dialer := gomail.NewDialer(m.Host, m.Port, m.Username, m.Password)

	operation := func() error {
		if err := m.dialAndSend(ctx, dialer, msg); err != nil {
			if isPermanentSMTPError(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = m.MaxAttemptWindow

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		if isPermanentSMTPError(err) {
			return "", PermanentError(err)
		}
		return "", TransientError(err)
	}
	return messageID, nil
}

// dialAndSend runs the blocking gomail call under the caller's deadline so a
// hung relay becomes a transient timeout instead of a stuck worker.
func (m *SMTPMailer) dialAndSend(ctx context.Context, dialer *gomail.Dialer, msg *gomail.Message) error {
	done := make(chan error, 1)
	go func() {
		done <- dialer.DialAndSend(msg)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// isPermanentSMTPError recognizes hard recipient rejections. 550/551/553 are
// the codes relays use for unknown or forbidden mailboxes; everything else
// is assumed recoverable.
func isPermanentSMTPError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, code := range []string{"550", "551", "553"} {
		if strings.Contains(msg, code) {
			return true
		}
	}
	return false
}
