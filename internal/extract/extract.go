// Package extract turns fetched page text into candidate company records.
// An LLM does the extraction when available; deterministic patterns take
// over when the provider is out of quota or throttled.
package extract

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/llm"
	"github.com/sells-group/prospect-cli/internal/resilience"
)

// DefaultMax caps the candidates returned when Context.Max is unset.
const DefaultMax = 20

// DefaultMaxChars bounds the page text sent to the LLM.
const DefaultMaxChars = 15000

// Candidate is a company found on a page. Only CompanyName is guaranteed.
type Candidate struct {
	CompanyName string `json:"companyName"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Address     string `json:"address,omitempty"`
	City        string `json:"city,omitempty"`
	Website     string `json:"website,omitempty"`
	Domain      string `json:"domain,omitempty"`
}

// Context narrows extraction to what the scrape job is looking for.
type Context struct {
	Region       string
	ActivityType string
	Max          int
}

func (c Context) max() int {
	if c.Max <= 0 {
		return DefaultMax
	}
	return c.Max
}

// Input is what each strategy receives.
type Input struct {
	Text    string
	Context Context
}

// Strategy is one way of extracting candidates.
type Strategy = resilience.Strategy[Input, []Candidate]

// Extractor runs its strategies in order until one succeeds.
type Extractor struct {
	strategies []Strategy
}

// Option configures an Extractor.
type Option func(*options)

type options struct {
	maxChars int
}

// WithMaxChars overrides how much page text the AI strategy sends.
func WithMaxChars(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxChars = n
		}
	}
}

// New builds the default chain: AI extraction when c is non-nil, then
// pattern extraction.
func New(c llm.Completer, opts ...Option) *Extractor {
	o := options{maxChars: DefaultMaxChars}
	for _, opt := range opts {
		opt(&o)
	}
	var strategies []Strategy
	if c != nil {
		strategies = append(strategies, NewAIStrategy(c, o.maxChars))
	}
	strategies = append(strategies, PatternStrategy{})
	return &Extractor{strategies: strategies}
}

// NewWithStrategies builds an Extractor from an explicit chain.
func NewWithStrategies(strategies ...Strategy) *Extractor {
	return &Extractor{strategies: strategies}
}

// Extract returns at most ectx.Max candidates. A fatal strategy error yields
// an empty result, not an error; only context cancellation is returned.
func (e *Extractor) Extract(ctx context.Context, text string, ectx Context) ([]Candidate, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	out, used, err := resilience.FirstSuccess(ctx, Input{Text: text, Context: ectx}, e.strategies...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		zap.L().Warn("extract: no candidates",
			zap.String("strategy", used),
			zap.Int("text_len", len(text)),
			zap.Error(err),
		)
		return nil, nil
	}

	zap.L().Debug("extract: candidates found",
		zap.String("strategy", used),
		zap.Int("count", len(out)),
	)
	if m := ectx.max(); len(out) > m {
		out = out[:m]
	}
	return out, nil
}

// DomainFromURL returns the lowercase host of a URL or bare hostname with any
// leading "www." removed, or "" when it cannot be parsed.
func DomainFromURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// DomainFromEmail returns the part after "@" with any leading "www." removed.
func DomainFromEmail(email string) string {
	i := strings.LastIndexByte(email, '@')
	if i < 0 || i == len(email)-1 {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(email[i+1:])), "www.")
}

// DomainOf derives a domain from an explicit domain, a website or an email,
// in that order.
func DomainOf(domain, website, email string) string {
	if d := DomainFromURL(domain); d != "" {
		return d
	}
	if d := DomainFromURL(website); d != "" {
		return d
	}
	return DomainFromEmail(email)
}
