// Package scrape runs lead scraping jobs: it builds directory URLs, fetches
// pages through a fallback chain, extracts candidates and persists new leads.
package scrape

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/extract"
	"github.com/sells-group/prospect-cli/internal/metrics"
	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/store"
)

// Defaults for job options.
const (
	DefaultMaxResults     = 20
	DefaultCustomURLLimit = 10
)

// Request describes a scraping job to create.
type Request struct {
	Source       string           `json:"source"`
	Region       string           `json:"region" validate:"required"`
	ActivityType string           `json:"activity_type" validate:"required"`
	Options      model.JobOptions `json:"options"`
}

// Validate checks the request before a job is created.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Region) == "" || strings.TrimSpace(r.ActivityType) == "" {
		return eris.New("scrape: region and activity type are required")
	}
	if r.Options.CustomURL != "" {
		return nil
	}
	if !ValidSource(r.Source) {
		return eris.Errorf("scrape: unknown source %q", r.Source)
	}
	return nil
}

// Settings are the runner's tunables.
type Settings struct {
	MaxResults     int
	CustomURLLimit int
}

// Runner executes scraping jobs.
type Runner struct {
	store     store.Store
	fetcher   Fetcher
	searcher  Searcher
	extractor *extract.Extractor
	settings  Settings
	now       func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithSearcher enables web search for the google source.
func WithSearcher(s Searcher) Option {
	return func(r *Runner) {
		r.searcher = s
	}
}

// WithSettings overrides the defaults.
func WithSettings(s Settings) Option {
	return func(r *Runner) {
		if s.MaxResults > 0 {
			r.settings.MaxResults = s.MaxResults
		}
		if s.CustomURLLimit > 0 {
			r.settings.CustomURLLimit = s.CustomURLLimit
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// NewRunner creates a Runner. fetcher may be nil; jobs then fail with
// ErrNotConfigured.
func NewRunner(st store.Store, fetcher Fetcher, extractor *extract.Extractor, opts ...Option) *Runner {
	r := &Runner{
		store:     st,
		fetcher:   fetcher,
		extractor: extractor,
		settings:  Settings{MaxResults: DefaultMaxResults, CustomURLLimit: DefaultCustomURLLimit},
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create persists a pending job.
func (r *Runner) Create(ctx context.Context, req Request) (*model.ScrapingJob, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	source := req.Source
	if source == "" && req.Options.CustomURL != "" {
		source = model.SourceCustom
	}
	job := &model.ScrapingJob{
		Source:       source,
		Region:       req.Region,
		ActivityType: req.ActivityType,
		Status:       model.JobStatusPending,
		Options:      req.Options,
	}
	if err := r.store.CreateJob(ctx, job); err != nil {
		return nil, eris.Wrap(err, "scrape: create job")
	}
	return job, nil
}

// RunRequest creates a job and runs it to completion.
func (r *Runner) RunRequest(ctx context.Context, req Request) (*model.ScrapingJob, error) {
	job, err := r.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	return r.Run(ctx, job.ID)
}

// Run executes a pending job and returns its final state. A job found already
// running was interrupted by a crash and is marked failed; a finished job is
// returned unchanged. Run returns an error when the job ended failed.
func (r *Runner) Run(ctx context.Context, jobID string) (*model.ScrapingJob, error) {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, eris.Wrapf(err, "scrape: load job %s", jobID)
	}

	log := zap.L().With(
		zap.String("job_id", job.ID),
		zap.String("source", job.Source),
		zap.String("region", job.Region),
		zap.String("activity", job.ActivityType),
	)

	switch job.Status {
	case model.JobStatusCompleted, model.JobStatusFailed:
		log.Info("scrape: job already finished", zap.String("status", string(job.Status)))
		return job, nil
	case model.JobStatusRunning:
		msg := "interrupted before completion"
		if err := r.store.FailJob(ctx, job.ID, msg, r.now()); err != nil {
			return nil, eris.Wrap(err, "scrape: fail interrupted job")
		}
		log.Warn("scrape: job was interrupted")
		return r.reload(ctx, job.ID, eris.New("scrape: "+msg))
	}

	if err := r.store.StartJob(ctx, job.ID, r.now()); err != nil {
		return nil, eris.Wrap(err, "scrape: start job")
	}
	log.Info("scrape: job started")

	found, success, failed, runErr := r.execute(ctx, job)
	if runErr != nil {
		// The run context may be the cancelled one; record the failure anyway.
		if err := r.store.FailJob(context.WithoutCancel(ctx), job.ID, runErr.Error(), r.now()); err != nil {
			log.Error("scrape: record job failure", zap.Error(err))
		}
		log.Error("scrape: job failed", zap.Error(runErr))
		return r.reload(ctx, job.ID, runErr)
	}

	if err := r.store.CompleteJob(ctx, job.ID, found, success, failed, r.now()); err != nil {
		return nil, eris.Wrap(err, "scrape: complete job")
	}
	log.Info("scrape: job completed",
		zap.Int("found", found),
		zap.Int("saved", success),
		zap.Int("errors", failed),
	)
	return r.reload(ctx, job.ID, nil)
}

func (r *Runner) reload(ctx context.Context, id string, runErr error) (*model.ScrapingJob, error) {
	job, err := r.store.GetJob(context.WithoutCancel(ctx), id)
	if err != nil {
		return nil, eris.Wrapf(err, "scrape: reload job %s", id)
	}
	return job, runErr
}

func (r *Runner) maxResults(job *model.ScrapingJob) int {
	if job.Options.MaxResults > 0 {
		return job.Options.MaxResults
	}
	return r.settings.MaxResults
}

// execute collects candidates and persists them.
func (r *Runner) execute(ctx context.Context, job *model.ScrapingJob) (found, success, failed int, err error) {
	if r.fetcher == nil {
		return 0, 0, 0, ErrNotConfigured
	}

	cands, err := r.collect(ctx, job)
	if err != nil {
		return 0, 0, 0, err
	}

	for _, c := range cands {
		lead := LeadFromCandidate(c, job.Source, job.Region, job.ActivityType)
		outcome, err := SaveLead(ctx, r.store, lead)
		switch {
		case err != nil:
			failed++
			metrics.ScrapedLead(metrics.OutcomeFailed)
			zap.L().Warn("scrape: save candidate failed",
				zap.String("job_id", job.ID),
				zap.String("company", c.CompanyName),
				zap.Error(err),
			)
		case outcome == Duplicate:
			metrics.ScrapedLead(metrics.OutcomeDuplicate)
			zap.L().Debug("scrape: skipping duplicate",
				zap.String("company", c.CompanyName),
				zap.String("email", c.Email),
			)
		default:
			success++
			metrics.ScrapedLead(metrics.OutcomeSuccess)
		}
	}
	return len(cands), success, failed, nil
}

// collect fetches and extracts per the job's source, capped at max results.
func (r *Runner) collect(ctx context.Context, job *model.ScrapingJob) ([]extract.Candidate, error) {
	max := r.maxResults(job)
	ectx := extract.Context{Region: job.Region, ActivityType: job.ActivityType, Max: max}
	city := CityFor(job.Region, job.Options.City)
	acc := &accumulator{max: max}

	var err error
	switch {
	case job.Options.CustomURL != "":
		err = r.crawlInto(ctx, acc, job.Options.CustomURL, r.settings.CustomURLLimit, ectx)
	case job.Source == model.SourcePagesJaunes:
		kw := KeywordsFor(job.ActivityType, job.Options.Keywords, DefaultKeywords)
		err = r.pagesJaunes(ctx, acc, PagesJaunesURL(kw, city), ectx)
	case job.Source == model.SourceCCI:
		kw := KeywordsFor(job.ActivityType, job.Options.Keywords, DefaultCCIKeywords)
		err = r.cci(ctx, acc, kw, city, ectx)
	case job.Source == model.SourceLinkedIn:
		kw := KeywordsFor(job.ActivityType, job.Options.Keywords, DefaultKeywords)
		err = r.scrapeInto(ctx, acc, LinkedInURL(kw, city), ectx)
	case job.Source == model.SourceGoogle:
		kw := KeywordsFor(job.ActivityType, job.Options.Keywords, DefaultKeywords)
		err = r.google(ctx, acc, kw, city, ectx)
	default:
		err = eris.Errorf("scrape: unknown source %q", job.Source)
	}
	if err != nil {
		return nil, err
	}
	return acc.items, nil
}

// pagesJaunes scrapes the listing page and crawls a few pages when the
// single scrape yields no text.
func (r *Runner) pagesJaunes(ctx context.Context, acc *accumulator, url string, ectx extract.Context) error {
	text, err := r.fetcher.ScrapeURL(ctx, url)
	if err == nil && strings.TrimSpace(text) != "" {
		return r.extractInto(ctx, acc, text, ectx)
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		zap.L().Warn("scrape: listing scrape failed, crawling", zap.String("url", url), zap.Error(err))
	}
	limit := int(math.Min(3, math.Ceil(float64(acc.max)/10)))
	return r.crawlInto(ctx, acc, url, limit, ectx)
}

// cci tries the structured search and falls back to the free-text search.
func (r *Runner) cci(ctx context.Context, acc *accumulator, kw, city string, ectx extract.Context) error {
	primaryErr := r.scrapeInto(ctx, acc, CCIURL(kw, city), ectx)
	if primaryErr == nil && len(acc.items) > 0 {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	zap.L().Info("scrape: cci structured search empty, trying free text", zap.Error(primaryErr))

	if err := r.scrapeInto(ctx, acc, CCISearchURL(kw, city), ectx); err != nil {
		if primaryErr != nil {
			return eris.Wrap(err, "scrape: cci searches failed")
		}
		return err
	}
	return nil
}

// google prefers a web search API and falls back to scraping the results page.
func (r *Runner) google(ctx context.Context, acc *accumulator, kw, city string, ectx extract.Context) error {
	if r.searcher != nil {
		text, err := r.searcher.Search(ctx, GoogleQuery(kw, city))
		if err == nil && strings.TrimSpace(text) != "" {
			return r.extractInto(ctx, acc, text, ectx)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		zap.L().Warn("scrape: web search unavailable, scraping results page", zap.Error(err))
	}
	return r.scrapeInto(ctx, acc, GoogleURL(kw, city), ectx)
}

func (r *Runner) scrapeInto(ctx context.Context, acc *accumulator, url string, ectx extract.Context) error {
	zap.L().Info("scrape: fetching", zap.String("url", url))
	text, err := r.fetcher.ScrapeURL(ctx, url)
	if err != nil {
		return err
	}
	return r.extractInto(ctx, acc, text, ectx)
}

func (r *Runner) crawlInto(ctx context.Context, acc *accumulator, url string, limit int, ectx extract.Context) error {
	zap.L().Info("scrape: crawling", zap.String("url", url), zap.Int("limit", limit))
	pages, err := r.fetcher.CrawlURL(ctx, url, limit)
	if err != nil {
		return err
	}
	for _, text := range pages {
		if acc.full() {
			break
		}
		if err := r.extractInto(ctx, acc, text, ectx); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) extractInto(ctx context.Context, acc *accumulator, text string, ectx extract.Context) error {
	cands, err := r.extractor.Extract(ctx, text, ectx)
	if err != nil {
		return eris.Wrap(err, "scrape: extract")
	}
	acc.add(cands)
	return nil
}

// accumulator collects candidates up to max.
type accumulator struct {
	max   int
	items []extract.Candidate
}

func (a *accumulator) full() bool { return len(a.items) >= a.max }

func (a *accumulator) add(cands []extract.Candidate) {
	for _, c := range cands {
		if a.full() {
			return
		}
		a.items = append(a.items, c)
	}
}
