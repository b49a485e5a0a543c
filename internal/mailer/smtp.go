package mailer

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// dialer is the subset of *gomail.Dialer used here.
type dialer interface {
	Dial() (gomail.SendCloser, error)
	DialAndSend(m ...*gomail.Message) error
}

// SMTP delivers through an SMTP relay.
type SMTP struct {
	dialer dialer
	from   Sender
}

// NewSMTP creates an SMTP mailer. Port 465 uses implicit TLS; other ports
// upgrade with STARTTLS when the server offers it.
func NewSMTP(host string, port int, user, password string, from Sender) *SMTP {
	return &SMTP{dialer: gomail.NewDialer(host, port, user, password), from: from}
}

// Send implements Mailer. The returned id is the generated Message-ID.
func (s *SMTP) Send(ctx context.Context, msg Message) (string, error) {
	if err := validate(msg); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := fmt.Sprintf("<%s@%s>", uuid.NewString(), senderDomain(s.from.Email))

	m := gomail.NewMessage()
	m.SetAddressHeader("From", s.from.Email, s.from.Name)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", id)
	switch {
	case msg.Text != "" && msg.HTML != "":
		m.SetBody("text/plain", msg.Text)
		m.AddAlternative("text/html", msg.HTML)
	case msg.HTML != "":
		m.SetBody("text/html", msg.HTML)
	default:
		m.SetBody("text/plain", msg.Text)
	}

	if err := s.dialer.DialAndSend(m); err != nil {
		return "", eris.Wrap(err, "smtp: send")
	}
	zap.L().Debug("smtp: message sent", zap.String("to", msg.To), zap.String("message_id", id))
	return id, nil
}

// CheckConnection dials and authenticates against the relay, then hangs up.
func (s *SMTP) CheckConnection(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	conn, err := s.dialer.Dial()
	if err != nil {
		return eris.Wrap(err, "smtp: check connection")
	}
	return conn.Close()
}

func senderDomain(email string) string {
	if i := strings.LastIndexByte(email, '@'); i >= 0 && i < len(email)-1 {
		return email[i+1:]
	}
	return "localhost"
}
