// Package enrich fills missing domains and emails on leads through an email
// directory, and drops addresses the directory reports as undeliverable.
package enrich

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/metrics"
	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/store"
	"github.com/sells-group/prospect-cli/pkg/hunter"
)

// Defaults for batch runs.
const (
	DefaultLimit       = 50
	DefaultDelay       = time.Second
	DefaultSearchLimit = 5
)

// Outcome is the result of enriching one lead. Err holds a capability or
// persistence failure; it never aborts a batch.
type Outcome struct {
	LeadID   string `json:"lead_id"`
	Domain   string `json:"domain,omitempty"`
	Email    string `json:"email,omitempty"`
	Verified bool   `json:"verified"`
	Success  bool   `json:"success"`
	Err      error  `json:"-"`
}

// Failed reports whether the outcome counts as a failure in batch totals.
func (o Outcome) Failed() bool {
	return o.Err != nil || (o.Domain == "" && o.Email == "")
}

// Options controls a batch run.
type Options struct {
	OnlyMissingEmail bool          `json:"onlyWithoutEmail"`
	Limit            int           `json:"limit"`
	Delay            time.Duration `json:"-"`
}

// DefaultOptions returns the batch defaults: leads without an email, 50 at
// most, one second apart.
func DefaultOptions() Options {
	return Options{OnlyMissingEmail: true, Limit: DefaultLimit, Delay: DefaultDelay}
}

// BatchResult summarizes a batch run.
type BatchResult struct {
	Total    int       `json:"total"`
	Enriched int       `json:"enriched"`
	Failed   int       `json:"failed"`
	Outcomes []Outcome `json:"results"`
}

// Engine runs enrichment against a Directory and persists changes.
type Engine struct {
	store       store.Store
	dir         Directory
	searchLimit int
	sleep       func(ctx context.Context, d time.Duration) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithSearchLimit sets how many addresses a domain search requests.
func WithSearchLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.searchLimit = n
		}
	}
}

// WithSleep replaces the delay function used between batch items.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) {
		e.sleep = fn
	}
}

// New creates an Engine.
func New(st store.Store, dir Directory, opts ...Option) *Engine {
	e := &Engine{
		store:       st,
		dir:         dir,
		searchLimit: DefaultSearchLimit,
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EnrichOne runs the probe, search and verify steps on one lead. The returned
// error is set only when the lead cannot be loaded.
func (e *Engine) EnrichOne(ctx context.Context, leadID string) (Outcome, error) {
	lead, err := e.store.GetLead(ctx, leadID)
	if err != nil {
		return Outcome{LeadID: leadID, Err: err}, eris.Wrapf(err, "enrich: load lead %s", leadID)
	}

	out := Outcome{LeadID: lead.ID}
	log := zap.L().With(zap.String("lead_id", lead.ID), zap.String("company", lead.CompanyName))

	if lead.Domain == "" && lead.CompanyName != "" {
		domain, probeErr := e.probeDomain(ctx, lead.CompanyName)
		if domain != "" {
			lead.Domain = domain
			if err := e.store.UpdateLead(ctx, lead); err != nil {
				out.Err = eris.Wrap(err, "enrich: save domain")
			}
			log.Info("enrich: domain found", zap.String("domain", domain))
		} else if probeErr != nil {
			out.Err = probeErr
		}
	}

	if lead.Domain != "" && !lead.HasValidEmail() && out.Err == nil {
		if err := e.searchEmail(ctx, lead); err != nil {
			out.Err = err
		} else if lead.HasValidEmail() {
			log.Info("enrich: email found", zap.String("email", lead.Email))
		}
	}

	if lead.HasValidEmail() && out.Err == nil {
		verified, err := e.verify(ctx, lead)
		if err != nil {
			out.Err = err
		}
		out.Verified = verified
	}

	out.Domain = lead.Domain
	if lead.HasValidEmail() {
		out.Email = lead.Email
	}
	out.Success = out.Domain != "" || out.Email != ""

	if out.Failed() {
		metrics.Enrichment(metrics.OutcomeFailed)
		log.Warn("enrich: lead not enriched", zap.Error(out.Err))
	} else {
		metrics.Enrichment(metrics.OutcomeSuccess)
	}
	return out, nil
}

// probeDomain tries each TLD until the directory knows at least one address.
// A probe error skips to the next TLD; the last error is returned only when
// nothing matched.
func (e *Engine) probeDomain(ctx context.Context, company string) (string, error) {
	var lastErr error
	for _, domain := range CandidateDomains(company) {
		n, err := e.dir.EmailCount(ctx, domain)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			lastErr = eris.Wrapf(err, "enrich: probe %s", domain)
			continue
		}
		if n >= 1 {
			return domain, nil
		}
	}
	return "", lastErr
}

func (e *Engine) searchEmail(ctx context.Context, lead *model.Lead) error {
	res, err := e.dir.DomainSearch(ctx, lead.Domain, e.searchLimit)
	if err != nil {
		return eris.Wrapf(err, "enrich: domain search %s", lead.Domain)
	}
	best, ok := res.Best()
	if !ok {
		return nil
	}

	prev := *lead
	lead.Email = strings.ToLower(strings.TrimSpace(best.Value))
	lead.Status = model.LeadStatusQualified
	if err := e.store.UpdateLead(ctx, lead); err != nil {
		*lead = prev
		if errors.Is(err, store.ErrDuplicateEmail) {
			return eris.Wrapf(err, "enrich: %s already belongs to another lead", best.Value)
		}
		return eris.Wrap(err, "enrich: save email")
	}
	return nil
}

// verify checks the address and clears it when undeliverable.
func (e *Engine) verify(ctx context.Context, lead *model.Lead) (bool, error) {
	v, err := e.dir.Verify(ctx, lead.Email)
	if err != nil {
		return false, eris.Wrapf(err, "enrich: verify %s", lead.Email)
	}
	switch v.Result {
	case hunter.ResultDeliverable:
		return true, nil
	case hunter.ResultUndeliverable:
		zap.L().Info("enrich: clearing undeliverable email",
			zap.String("lead_id", lead.ID), zap.String("email", lead.Email))
		lead.Email = ""
		if err := e.store.UpdateLead(ctx, lead); err != nil {
			return false, eris.Wrap(err, "enrich: clear email")
		}
	}
	return false, nil
}

// EnrichBatch enriches leads sequentially with opts.Delay between them.
// It stops early only when ctx is cancelled.
func (e *Engine) EnrichBatch(ctx context.Context, opts Options) (*BatchResult, error) {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.Delay < 0 {
		opts.Delay = 0
	}

	leads, err := e.store.ListLeads(ctx, model.LeadFilter{
		MissingEmail: opts.OnlyMissingEmail,
		Limit:        opts.Limit,
	})
	if err != nil {
		return nil, eris.Wrap(err, "enrich: list leads")
	}

	res := &BatchResult{Total: len(leads)}
	zap.L().Info("enrich: batch started",
		zap.Int("leads", len(leads)),
		zap.Bool("only_missing_email", opts.OnlyMissingEmail),
	)

	for i, lead := range leads {
		out, _ := e.EnrichOne(ctx, lead.ID)
		res.Outcomes = append(res.Outcomes, out)
		if out.Success {
			res.Enriched++
		}
		if out.Failed() {
			res.Failed++
		}

		if i < len(leads)-1 && opts.Delay > 0 {
			if err := e.sleep(ctx, opts.Delay); err != nil {
				return res, eris.Wrap(err, "enrich: batch interrupted")
			}
		}
	}

	zap.L().Info("enrich: batch complete",
		zap.Int("total", res.Total),
		zap.Int("enriched", res.Enriched),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

// CheckConnection reports the directory account, failing when the key is
// rejected or the service is unreachable.
func (e *Engine) CheckConnection(ctx context.Context) (*hunter.Account, error) {
	acct, err := e.dir.Account(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: check connection")
	}
	return acct, nil
}

// VerifyEmail asks the directory for a deliverability verdict without
// touching any lead.
func (e *Engine) VerifyEmail(ctx context.Context, email string) (*hunter.Verification, error) {
	v, err := e.dir.Verify(ctx, strings.TrimSpace(email))
	if err != nil {
		return nil, eris.Wrapf(err, "enrich: verify %s", email)
	}
	return v, nil
}

// SearchDomain lists the directory's addresses for domain. limit <= 0 uses
// the engine's search limit.
func (e *Engine) SearchDomain(ctx context.Context, domain string, limit int) (*hunter.DomainSearchResult, error) {
	if limit <= 0 {
		limit = e.searchLimit
	}
	res, err := e.dir.DomainSearch(ctx, strings.ToLower(strings.TrimSpace(domain)), limit)
	if err != nil {
		return nil, eris.Wrapf(err, "enrich: search domain %s", domain)
	}
	return res, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
