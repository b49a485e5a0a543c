// Package hunter provides a rate-limited client for the Hunter.io email
// directory: domain probing, domain search, verification and account status.
package hunter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/prospect-cli/internal/resilience"
)

const defaultBaseURL = "https://api.hunter.io/v2"

// Verification results.
const (
	ResultDeliverable   = "deliverable"
	ResultUndeliverable = "undeliverable"
	ResultRisky         = "risky"
	ResultUnknown       = "unknown"
)

// Client defines the Hunter.io operations.
type Client interface {
	// EmailCount returns how many addresses Hunter knows for a domain. It is
	// a free call and is used to probe whether a guessed domain exists.
	EmailCount(ctx context.Context, domain string) (int, error)
	DomainSearch(ctx context.Context, domain string, limit int) (*DomainSearchResult, error)
	Verify(ctx context.Context, email string) (*Verification, error)
	Account(ctx context.Context) (*Account, error)
}

// Email is one address returned by a domain search.
type Email struct {
	Value      string `json:"value"`
	Type       string `json:"type"` // "generic" or "personal"
	Confidence int    `json:"confidence"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Position   string `json:"position"`
}

// DomainSearchResult is the data block of a domain search.
type DomainSearchResult struct {
	Domain       string  `json:"domain"`
	Organization string  `json:"organization"`
	Pattern      string  `json:"pattern"`
	AcceptAll    bool    `json:"accept_all"`
	Emails       []Email `json:"emails"`
}

// Best returns the preferred address: the first generic one, otherwise the
// highest confidence. ok is false when there are no emails.
func (r *DomainSearchResult) Best() (Email, bool) {
	if r == nil || len(r.Emails) == 0 {
		return Email{}, false
	}
	for _, e := range r.Emails {
		if e.Type == "generic" {
			return e, true
		}
	}
	best := r.Emails[0]
	for _, e := range r.Emails[1:] {
		if e.Confidence > best.Confidence {
			best = e
		}
	}
	return best, true
}

// Verification is the data block of an email verification.
type Verification struct {
	Email  string `json:"email"`
	Result string `json:"result"` // deliverable, undeliverable, risky, unknown
	Score  int    `json:"score"`
	Status string `json:"status"` // valid, invalid, accept_all, webmail, disposable, unknown
}

// Account is the data block of the account endpoint.
type Account struct {
	Email     string `json:"email"`
	PlanName  string `json:"plan_name"`
	ResetDate string `json:"reset_date"`
	Requests  struct {
		Searches      Quota `json:"searches"`
		Verifications Quota `json:"verifications"`
	} `json:"requests"`
}

// Quota is a used/available counter pair.
type Quota struct {
	Used      int `json:"used"`
	Available int `json:"available"`
}

// APIError is returned when Hunter responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("hunter: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit sets the maximum requests per second. Zero disables limiting.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithRetry overrides the retry policy for transient failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewClient creates a Hunter.io client limited to 10 requests per second.
func NewClient(apiKey string, opts ...Option) Client {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("hunter", "request")

	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 20 * time.Second},
		limiter: rate.NewLimiter(10, 1),
		retry:   retry,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// get performs a GET on path with params and decodes the "data" envelope.
func (c *httpClient) get(ctx context.Context, path string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("api_key", c.apiKey)
	reqURL := c.baseURL + path + "?" + params.Encode()

	body, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "hunter: create request")
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, resilience.NewTransientError(err, 0)
		}
		defer resp.Body.Close() //nolint:errcheck

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, resilience.NewTransientError(err, 0)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, resilience.FromStatus(&APIError{StatusCode: resp.StatusCode, Body: string(b)}, resp.StatusCode)
		}
		return b, nil
	})
	if err != nil {
		return err
	}

	envelope := struct {
		Data any `json:"data"`
	}{Data: out}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return eris.Wrap(err, "hunter: unmarshal response")
	}
	return nil
}

func (c *httpClient) EmailCount(ctx context.Context, domain string) (int, error) {
	var data struct {
		Total int `json:"total"`
	}
	if err := c.get(ctx, "/email-count", url.Values{"domain": {domain}}, &data); err != nil {
		return 0, eris.Wrapf(err, "hunter: email count %s", domain)
	}
	return data.Total, nil
}

func (c *httpClient) DomainSearch(ctx context.Context, domain string, limit int) (*DomainSearchResult, error) {
	params := url.Values{"domain": {domain}}
	if limit > 0 {
		params.Set("limit", fmt.Sprint(limit))
	}
	var data DomainSearchResult
	if err := c.get(ctx, "/domain-search", params, &data); err != nil {
		return nil, eris.Wrapf(err, "hunter: domain search %s", domain)
	}
	return &data, nil
}

func (c *httpClient) Verify(ctx context.Context, email string) (*Verification, error) {
	var data Verification
	if err := c.get(ctx, "/email-verifier", url.Values{"email": {email}}, &data); err != nil {
		return nil, eris.Wrap(err, "hunter: verify email")
	}
	return &data, nil
}

func (c *httpClient) Account(ctx context.Context) (*Account, error) {
	var data Account
	if err := c.get(ctx, "/account", nil, &data); err != nil {
		return nil, eris.Wrap(err, "hunter: account")
	}
	return &data, nil
}
