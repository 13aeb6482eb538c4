package email

import (
	"context"
	"fmt"
	"log"
	"net/smtp"
	"strings"

	"boligmarked/market/internal/config"
)

// Sender delivers a fully rendered notification (see Message.Raw).
type Sender interface {
	Send(ctx context.Context, to []string, subject string, rawMessage []byte) error
}

// SMTPSender relays notifications through the configured SMTP server.
type SMTPSender struct {
	from string
	auth smtp.Auth
	addr string
}

// NewSMTPSender returns an SMTP sender, or a LoggingSender when SMTP_HOST is unset.
func NewSMTPSender(cfg *config.Config) Sender {
	if cfg.SmtpHost == "" {
		log.Println("Warning: SMTP_HOST not set, notifications are only logged.")
		return &LoggingSender{from: cfg.SmtpFromAddress}
	}
	var auth smtp.Auth
	if cfg.SmtpUsername != "" {
		auth = smtp.PlainAuth("", cfg.SmtpUsername, cfg.SmtpPassword, cfg.SmtpHost)
	}
	return &SMTPSender{
		from: cfg.SmtpFromAddress,
		auth: auth,
		addr: fmt.Sprintf("%s:%d", cfg.SmtpHost, cfg.SmtpPort),
	}
}

func (s *SMTPSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	// net/smtp takes no context; at least do not start a send for a cancelled task.
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("send %s notification: %w", kindOf(rawMessage), err)
	}
	if err := smtp.SendMail(s.addr, s.auth, s.from, to, rawMessage); err != nil {
		return fmt.Errorf("smtp send %s notification to %v: %w", kindOf(rawMessage), to, err)
	}
	log.Printf("Sent %s notification to %v (Subject: %s)", kindOf(rawMessage), to, subject)
	return nil
}

// LoggingSender writes notifications to the log instead of delivering them.
type LoggingSender struct {
	from string
}

func (s *LoggingSender) Send(_ context.Context, to []string, subject string, rawMessage []byte) error {
	_, body, _ := strings.Cut(string(rawMessage), "\r\n\r\n")
	log.Printf("[email %s] from=%s to=%s subject=%q\n%s",
		kindOf(rawMessage), s.from, strings.Join(to, ","), subject, strings.TrimSpace(body))
	return nil
}
