package mail

import (
	"context"
	"fmt"

	gomail "github.com/wneessen/go-mail"
)

// SMTPMailer sends mail through an SMTP relay using STARTTLS when offered
// and PLAIN auth.
type SMTPMailer struct {
	cfg  Config
	opts []gomail.Option
}

func NewSMTPMailer(cfg Config) *SMTPMailer {
	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(cfg.Address),
		gomail.WithPassword(cfg.Password),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, gomail.WithTimeout(cfg.Timeout))
	}
	return &SMTPMailer{cfg: cfg, opts: opts}
}

// Send delivers msg. ctx bounds the whole SMTP conversation. An empty
// From is filled with the configured sender address.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if msg.From == "" {
		msg.From = m.cfg.Address
	}
	out, err := msg.compose()
	if err != nil {
		return err
	}

	c, err := gomail.NewClient(m.cfg.Host, m.opts...)
	if err != nil {
		return fmt.Errorf("mail: client: %w", err)
	}
	if err := c.DialAndSendWithContext(ctx, out); err != nil {
		return fmt.Errorf("mail: send to %s: %w", msg.To, err)
	}
	return nil
}

// compose builds the MIME message. Headers and body are encoded for
// non-ASCII text.
func (m Message) compose() (*gomail.Msg, error) {
	out := gomail.NewMsg()
	if err := out.FromFormat(m.FromName, m.From); err != nil {
		return nil, fmt.Errorf("mail: from %q: %w", m.From, err)
	}
	if err := out.AddToFormat(m.ToName, m.To); err != nil {
		return nil, fmt.Errorf("mail: to %q: %w", m.To, err)
	}
	out.Subject(m.Subject)
	out.SetBodyString(gomail.TypeTextPlain, m.Body)
	return out, nil
}
