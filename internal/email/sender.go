package email

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"

	"homeward/marketplace/internal/config"
)

// Sender defines the interface for sending emails.
// The rawMessage parameter should contain the full email message, including headers and body, properly formatted.
type Sender interface {
	Send(ctx context.Context, to []string, subject string, rawMessage []byte) error
}

// SMTPSender implements the Sender interface using Go's net/smtp package.
type SMTPSender struct {
	from string
	auth smtp.Auth
	addr string
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSender creates a new SMTPSender.
// Without an SMTP host it returns a LoggingSender instead.
func NewSMTPSender(cfg *config.Config) Sender {
	if cfg.SmtpHost == "" {
		slog.Warn("SMTP host not configured, using logging email sender")
		return &LoggingSender{from: cfg.SmtpFromAddress}
	}

	auth := smtp.PlainAuth("", cfg.SmtpUsername, cfg.SmtpPassword, cfg.SmtpHost)
	return &SMTPSender{
		from: cfg.SmtpFromAddress,
		auth: auth,
		addr: fmt.Sprintf("%s:%d", cfg.SmtpHost, cfg.SmtpPort),
		send: smtp.SendMail,
	}
}

// Send sends an email using SMTP.
func (s *SMTPSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	if len(to) == 0 {
		return fmt.Errorf("smtp error: no recipients")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.send(s.addr, s.auth, s.from, to, rawMessage); err != nil {
		slog.Error("failed to send email via SMTP", "to", to, "error", err)
		return fmt.Errorf("smtp error: %w", err)
	}
	slog.Info("email sent via SMTP", "to", to, "subject", subject)
	return nil
}

// LoggingSender only logs the email. Used for development when SMTP isn't configured.
type LoggingSender struct {
	from string
}

func (s *LoggingSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	slog.Info("email (logged, not sent)",
		"to", to,
		"from", s.from,
		"subject", subject,
		"notification_type", NotificationTypeOf(rawMessage),
		"size", len(rawMessage))
	slog.Debug("email raw message", "message", string(rawMessage))
	return nil
}
