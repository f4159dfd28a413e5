package email

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// SMTPConfig for the SMTP transport.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPTransport delivers via an SMTP relay using gomail.
type SMTPTransport struct {
	dialer *gomail.Dialer
	from   string
	logger *zap.Logger
}

// NewSMTPTransport creates an SMTP transport. The connection is established
// per send; gomail handles STARTTLS negotiation automatically.
func NewSMTPTransport(cfg SMTPConfig, logger *zap.Logger) *SMTPTransport {
	return &SMTPTransport{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
		logger: logger,
	}
}

// Send delivers one message. gomail does not take a context, so cancellation
// is only checked before dialing.
func (t *SMTPTransport) Send(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", t.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.TextBody)
	m.AddAlternative("text/html", msg.HTMLBody)

	if err := t.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}

	t.logger.Debug("email sent via smtp",
		zap.String("to", msg.To),
	)
	return nil
}
