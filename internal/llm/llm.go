// Package llm puts the Anthropic and OpenAI clients behind one Completer so
// lead extraction and template generation do not care which provider is set.
package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-cli/pkg/anthropic"
	"github.com/sells-group/prospect-cli/pkg/openai"
)

// ErrNotConfigured is returned when no provider key is set.
var ErrNotConfigured = eris.New("llm: provider not configured")

// Prompt is a single-turn completion request.
type Prompt struct {
	System      string
	User        string
	JSON        bool
	MaxTokens   int
	Temperature float64
}

// Completer produces text for a prompt.
type Completer interface {
	Complete(ctx context.Context, p Prompt) (string, error)
	// Provider names the backend, e.g. "anthropic".
	Provider() string
}

// Generate adapts a Completer to the one-shot prompt signature used by the
// renderer.
type Generate struct {
	Completer Completer
	System    string
}

// Generate sends prompt as the user turn.
func (g Generate) Generate(ctx context.Context, prompt string) (string, error) {
	return g.Completer.Complete(ctx, Prompt{
		System:      g.System,
		User:        prompt,
		MaxTokens:   300,
		Temperature: 0.7,
	})
}

// Anthropic implements Completer over pkg/anthropic.
type Anthropic struct {
	client anthropic.Client
	model  string
}

// NewAnthropic wraps an Anthropic client.
func NewAnthropic(client anthropic.Client, model string) *Anthropic {
	return &Anthropic{client: client, model: model}
}

// Provider implements Completer.
func (a *Anthropic) Provider() string { return "anthropic" }

// Complete implements Completer. JSON replies are unwrapped from any code
// fence the model adds.
func (a *Anthropic) Complete(ctx context.Context, p Prompt) (string, error) {
	req := anthropic.MessageRequest{
		Model:     a.model,
		MaxTokens: int64(orDefault(p.MaxTokens, 1024)),
		Messages:  []anthropic.Message{{Role: "user", Content: p.User}},
	}
	if p.System != "" {
		req.System = []anthropic.SystemBlock{{Text: p.System, CacheControl: &anthropic.CacheControl{}}}
	}
	temp := p.Temperature
	req.Temperature = &temp

	resp, err := a.client.CreateMessage(ctx, req)
	if err != nil {
		return "", classify(err, anthropic.StatusCode(err), "")
	}
	resp.Usage.LogCost(resp.Model, "complete")

	out := resp.Text()
	if p.JSON {
		out = ExtractJSON(out)
	}
	return out, nil
}

// OpenAI implements Completer over pkg/openai.
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI wraps an OpenAI client.
func NewOpenAI(client openai.Client, model string) *OpenAI {
	return &OpenAI{client: client, model: model}
}

// Provider implements Completer.
func (o *OpenAI) Provider() string { return "openai" }

// Complete implements Completer.
func (o *OpenAI) Complete(ctx context.Context, p Prompt) (string, error) {
	resp, err := o.client.CreateChat(ctx, openai.ChatRequest{
		Model:       o.model,
		System:      p.System,
		User:        p.User,
		MaxTokens:   orDefault(p.MaxTokens, 1024),
		Temperature: float32(p.Temperature),
		JSON:        p.JSON,
	})
	if err != nil {
		return "", classify(err, openai.StatusCode(err), openai.ErrorCode(err))
	}
	return resp.Content, nil
}

// Kind classifies provider failures that callers react to.
type Kind int

const (
	KindOther Kind = iota
	KindQuota
	KindRateLimit
	KindUnauthorized
)

// Error is a classified provider failure.
type Error struct {
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

func classify(err error, status int, code string) error {
	msg := strings.ToLower(err.Error())
	kind := KindOther
	switch {
	case code == "insufficient_quota",
		strings.Contains(msg, "insufficient_quota"),
		strings.Contains(msg, "credit balance"),
		status == http.StatusPaymentRequired:
		kind = KindQuota
	case status == http.StatusTooManyRequests,
		code == "rate_limit_exceeded",
		strings.Contains(msg, "rate_limit"):
		kind = KindRateLimit
	case status == http.StatusUnauthorized,
		status == http.StatusForbidden,
		code == "invalid_api_key":
		kind = KindUnauthorized
	}
	return &Error{Kind: kind, StatusCode: status, Err: err}
}

func kindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindOther
}

// IsQuotaExceeded reports whether the provider refused for lack of credit.
func IsQuotaExceeded(err error) bool { return kindOf(err) == KindQuota }

// IsRateLimited reports whether the provider throttled the request.
func IsRateLimited(err error) bool { return kindOf(err) == KindRateLimit }

// IsUnauthorized reports whether the provider rejected the credentials.
func IsUnauthorized(err error) bool { return kindOf(err) == KindUnauthorized }

// Config selects and configures a provider.
type Config struct {
	Provider       string // anthropic, openai or none
	AnthropicKey   string
	AnthropicModel string
	OpenAIKey      string
	OpenAIModel    string
}

// New builds the configured Completer. It returns ErrNotConfigured when the
// selected provider has no key or the provider is "none".
func New(cfg Config) (Completer, error) {
	switch cfg.Provider {
	case "", "anthropic":
		if cfg.AnthropicKey == "" {
			return nil, ErrNotConfigured
		}
		return NewAnthropic(anthropic.NewClient(cfg.AnthropicKey), cfg.AnthropicModel), nil
	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, ErrNotConfigured
		}
		return NewOpenAI(openai.NewClient(cfg.OpenAIKey), cfg.OpenAIModel), nil
	case "none":
		return nil, ErrNotConfigured
	}
	return nil, eris.Errorf("llm: unknown provider %q", cfg.Provider)
}

// ExtractJSON returns the outermost JSON object or array in s, dropping code
// fences and prose around it. s is returned trimmed when no JSON is found.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	closer := "}"
	if s[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(s, closer)
	if end < start {
		return s
	}
	return s[start : end+1]
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
