package email

import (
	"context"
	"fmt"
	"log"
	"net/smtp"

	"eventmarket/server/internal/config"
)

// Sender delivers a fully composed message (headers and body, see Compose).
type Sender interface {
	Send(ctx context.Context, to []string, subject string, rawMessage []byte) error
}

// SMTPSender delivers through net/smtp.
type SMTPSender struct {
	cfg  *config.Config
	auth smtp.Auth
	addr string
}

// NewSMTPSender returns an SMTP sender, or a LoggingSender when no SMTP host is configured.
func NewSMTPSender(cfg *config.Config) Sender {
	if cfg.SmtpHost == "" {
		log.Println("SMTP host not configured, using logging email sender.")
		return &LoggingSender{cfg: cfg}
	}

	auth := smtp.PlainAuth("", cfg.SmtpUsername, cfg.SmtpPassword, cfg.SmtpHost)
	return &SMTPSender{
		cfg:  cfg,
		auth: auth,
		addr: fmt.Sprintf("%s:%d", cfg.SmtpHost, cfg.SmtpPort),
	}
}

func (s *SMTPSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	if err := smtp.SendMail(s.addr, s.auth, s.cfg.SmtpFromAddress, to, rawMessage); err != nil {
		log.Printf("Failed to send email via SMTP to %v: %v", to, err)
		return fmt.Errorf("smtp error: %w", err)
	}
	log.Printf("Email sent via SMTP to %v (Subject: %s)", to, subject)
	return nil
}

// LoggingSender writes messages to the process log instead of sending them.
type LoggingSender struct {
	cfg *config.Config
}

func (s *LoggingSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	log.Printf("--- Email (logged) to %v from %s: %s [%s] ---", to, s.cfg.SmtpFromAddress, subject, KindOf(rawMessage))
	log.Println(string(rawMessage))
	log.Println("--- End Email ---")
	return nil
}
