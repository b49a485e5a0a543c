package mailer

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/resilience"
)

// sendClient is the subset of *sendgrid.Client used here.
type sendClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGrid delivers through the SendGrid v3 mail API.
type SendGrid struct {
	client sendClient
	from   Sender
	apiKey string
	api    func(ctx context.Context, req rest.Request) (*rest.Response, error)
}

// NewSendGrid creates a SendGrid mailer.
func NewSendGrid(apiKey string, from Sender) *SendGrid {
	return &SendGrid{
		client: sendgrid.NewSendClient(apiKey),
		from:   from,
		apiKey: apiKey,
		api:    rest.SendWithContext,
	}
}

// CheckConnection lists the key's scopes. A rejected key fails.
func (s *SendGrid) CheckConnection(ctx context.Context) error {
	req := sendgrid.GetRequest(s.apiKey, "/v3/scopes", "")
	req.Method = rest.Get
	resp, err := s.api(ctx, req)
	if err != nil {
		return eris.Wrap(err, "sendgrid: check connection")
	}
	if resp.StatusCode >= 400 {
		return eris.Errorf("sendgrid: check connection: HTTP %d", resp.StatusCode)
	}
	return nil
}

// Send implements Mailer. The returned id is SendGrid's X-Message-Id.
func (s *SendGrid) Send(ctx context.Context, msg Message) (string, error) {
	if err := validate(msg); err != nil {
		return "", err
	}

	m := mail.NewSingleEmail(
		mail.NewEmail(s.from.Name, s.from.Email),
		msg.Subject,
		mail.NewEmail("", msg.To),
		msg.Text,
		msg.HTML,
	)

	resp, err := s.client.SendWithContext(ctx, m)
	if err != nil {
		return "", eris.Wrap(err, "sendgrid: send")
	}
	if resp.StatusCode >= 400 {
		apiErr := eris.Errorf("sendgrid: HTTP %d: %s", resp.StatusCode, resp.Body)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return "", resilience.NewTransientError(apiErr, resp.StatusCode)
		}
		return "", apiErr
	}

	id := ""
	if v := resp.Headers["X-Message-Id"]; len(v) > 0 {
		id = v[0]
	}
	zap.L().Debug("sendgrid: message accepted",
		zap.String("to", msg.To),
		zap.Int("status", resp.StatusCode),
		zap.String("message_id", id),
	)
	return id, nil
}
