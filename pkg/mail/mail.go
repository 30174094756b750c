// Package mail delivers validation emails.
//
// SMTPMailer talks to a real relay; LogMailer only logs the message and is
// used when no sender credentials are configured.
package mail

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	// SenderName is the display name on every outgoing message.
	SenderName = "Chat Application"

	validationSubject = "Email Validation - Chat Application"
)

// Message is a fully formed plain-text email.
type Message struct {
	From     string
	FromName string
	To       string
	ToName   string
	Subject  string
	Body     string
}

// Mailer delivers a message or reports why it could not.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Config holds the SMTP relay settings read from the environment.
type Config struct {
	Host     string        `env:"ROOMCHAT_SMTP_HOST"    envDefault:"smtp.gmail.com"`
	Port     int           `env:"ROOMCHAT_SMTP_PORT"    envDefault:"587"`
	Timeout  time.Duration `env:"ROOMCHAT_SMTP_TIMEOUT" envDefault:"30s"`
	Address  string        `env:"EMAIL_ADDRESS"`
	Password string        `env:"EMAIL_PASSWORD"`
}

// LoadConfigFromEnv reads Config from the environment.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("mail: parse env: %w", err)
	}
	return cfg, nil
}

// Enabled reports whether sender credentials are present.
func (c Config) Enabled() bool {
	return c.Address != "" && c.Password != ""
}

// New returns an SMTPMailer when cfg has credentials and a LogMailer otherwise.
func New(cfg Config) Mailer {
	if !cfg.Enabled() {
		slog.Warn("email credentials not set, validation emails will only be logged")
		return &LogMailer{}
	}
	return NewSMTPMailer(cfg)
}

// NewValidationMessage builds the activation / password reset email.
func NewValidationMessage(from, toName, toAddr, code string) Message {
	return Message{
		From:     from,
		FromName: SenderName,
		To:       toAddr,
		ToName:   toName,
		Subject:  validationSubject,
		Body: fmt.Sprintf("Hey %s!\nTo validate that this email address belongs to you,\n"+
			"please enter %s in the email validation window.", toName, code),
	}
}

// Bytes renders msg as it goes on the wire.
func (m Message) Bytes() ([]byte, error) {
	out, err := m.compose()
	if err != nil {
		return nil, err
	}
	var b bytes.Buffer
	if _, err := out.WriteTo(&b); err != nil {
		return nil, fmt.Errorf("mail: render: %w", err)
	}
	return b.Bytes(), nil
}

// LogMailer writes messages to the log instead of sending them.
type LogMailer struct {
	Logger *slog.Logger // defaults to slog.Default()
}

func (l *LogMailer) Send(_ context.Context, msg Message) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("email not sent (no credentials)",
		"to", msg.To,
		"subject", msg.Subject,
		"body", msg.Body,
	)
	return nil
}
