// Package mailer delivers rendered campaign emails through SendGrid or SMTP.
package mailer

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-cli/internal/config"
)

// ErrNotConfigured is returned when no delivery provider has credentials.
var ErrNotConfigured = eris.New("mailer: not configured")

// Message is one outbound email.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Mailer sends a message and returns the provider's message id.
type Mailer interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// Checker is implemented by mailers that can test their credentials without
// sending anything.
type Checker interface {
	CheckConnection(ctx context.Context) error
}

// Sender identifies the From address.
type Sender struct {
	Email string
	Name  string
}

func validate(msg Message) error {
	if !strings.Contains(msg.To, "@") {
		return eris.Errorf("mailer: invalid recipient %q", msg.To)
	}
	if msg.HTML == "" && msg.Text == "" {
		return eris.New("mailer: empty body")
	}
	return nil
}

// New builds the provider selected in cfg.
func New(cfg config.MailConfig) (Mailer, error) {
	from := Sender{Email: cfg.From, Name: cfg.FromName}
	if from.Email == "" {
		return nil, eris.Wrap(ErrNotConfigured, "mailer: from address")
	}
	switch cfg.Provider {
	case "", "sendgrid":
		if cfg.SendGrid.Key == "" {
			return nil, eris.Wrap(ErrNotConfigured, "mailer: sendgrid key")
		}
		return NewSendGrid(cfg.SendGrid.Key, from), nil
	case "smtp":
		if cfg.SMTP.Host == "" {
			return nil, eris.Wrap(ErrNotConfigured, "mailer: smtp host")
		}
		return NewSMTP(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.User, cfg.SMTP.Password, from), nil
	}
	return nil, eris.Errorf("mailer: unknown provider %q", cfg.Provider)
}
