package engine

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/badoux/checkmail"
	"gopkg.in/gomail.v2"

	"focalcrm/models"
)

// SMTPDispatcher sends email through the business's own SMTP account.
// Decrypt is injected so the engine does not depend on the config
// package's encryption key at construction time.
type SMTPDispatcher struct {
	Decrypt func(ciphertext string) (string, error)
}

func NewSMTPDispatcher(decrypt func(string) (string, error)) *SMTPDispatcher {
	return &SMTPDispatcher{Decrypt: decrypt}
}

func (d *SMTPDispatcher) Send(ctx context.Context, business *models.Business, msg Message) (string, error) {
	if business.SMTPHost == "" || business.FromEmail == "" {
		return "", ErrNotConfigured
	}

	if err := checkmail.ValidateFormat(msg.To); err != nil {
		return "", fmt.Errorf("invalid recipient address %q: %w", msg.To, err)
	}

	password := business.SMTPPassword
	if d.Decrypt != nil {
		decrypted, err := d.Decrypt(business.SMTPPassword)
		if err != nil {
			return "", fmt.Errorf("failed to decrypt SMTP password: %w", err)
		}
		password = decrypted
	}

	dialer := gomail.NewDialer(
		business.SMTPHost,
		business.SMTPPort,
		business.SMTPUsername,
		password,
	)
	dialer.TLSConfig = &tls.Config{ServerName: business.SMTPHost}

	// SMTP has no provider id, so we mint the Message-ID ourselves and
	// record it in the ledger.
	messageID := fmt.Sprintf("<%d@%s>", time.Now().UnixNano(), business.SMTPHost)

	m := gomail.NewMessage()
	m.SetHeader("From", m.FormatAddress(business.FromEmail, business.FromName))
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", messageID)
	m.SetHeader("Auto-Submitted", "auto-generated")
	if msg.TextBody != "" {
		m.SetBody("text/plain", msg.TextBody)
		if msg.HTMLBody != "" {
			m.AddAlternative("text/html", msg.HTMLBody)
		}
	} else {
		m.SetBody("text/html", msg.HTMLBody)
	}

	if err := dialer.DialAndSend(m); err != nil {
		return "", fmt.Errorf("smtp send failed: %w", err)
	}

	return messageID, nil
}
