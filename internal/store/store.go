package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-cli/internal/model"
)

var (
	// ErrNotFound is returned when a row lookup by ID matches nothing.
	ErrNotFound = eris.New("store: not found")
	// ErrDuplicateEmail is returned when a lead insert or update collides
	// with an existing lead's email.
	ErrDuplicateEmail = eris.New("store: duplicate email")
	// ErrConflict is returned when a conditional state transition did not
	// apply because the row is no longer in the expected state.
	ErrConflict = eris.New("store: state conflict")
)

// Store defines persistence for leads, templates, campaigns, sends, scraping
// jobs and background tasks. All mutations are single-row.
type Store interface {
	// Leads
	CreateLead(ctx context.Context, lead *model.Lead) error
	GetLead(ctx context.Context, id string) (*model.Lead, error)
	// GetLeadByEmail returns nil, nil when no lead has the address.
	GetLeadByEmail(ctx context.Context, email string) (*model.Lead, error)
	ListLeads(ctx context.Context, filter model.LeadFilter) ([]model.Lead, error)
	UpdateLead(ctx context.Context, lead *model.Lead) error
	MarkLeadContacted(ctx context.Context, id string, at time.Time) error
	DeleteLead(ctx context.Context, id string) error

	// Templates
	CreateTemplate(ctx context.Context, tpl *model.Template) error
	GetTemplate(ctx context.Context, id string) (*model.Template, error)
	ListTemplates(ctx context.Context) ([]model.Template, error)
	UpdateTemplate(ctx context.Context, tpl *model.Template) error
	DeleteTemplate(ctx context.Context, id string) error

	// Campaigns
	CreateCampaign(ctx context.Context, c *model.Campaign) error
	GetCampaign(ctx context.Context, id string) (*model.Campaign, error)
	ListCampaigns(ctx context.Context) ([]model.Campaign, error)
	// ListDueCampaigns returns draft campaigns scheduled at or before now.
	ListDueCampaigns(ctx context.Context, now time.Time) ([]model.Campaign, error)
	// ActivateCampaign moves a draft campaign to active. ErrConflict when
	// the campaign is not a draft anymore.
	ActivateCampaign(ctx context.Context, id string, recipients int, at time.Time) error
	UpdateCampaignProgress(ctx context.Context, id string, sent, failed int) error
	// FinishCampaign moves an active campaign to completed or failed.
	FinishCampaign(ctx context.Context, id string, status model.CampaignStatus, sent, failed int, errMsg string, at time.Time) error

	// Sends
	CreateSend(ctx context.Context, send *model.EmailSend) error
	ListSends(ctx context.Context, campaignID string) ([]model.EmailSend, error)

	// Scraping jobs
	CreateJob(ctx context.Context, job *model.ScrapingJob) error
	GetJob(ctx context.Context, id string) (*model.ScrapingJob, error)
	ListJobs(ctx context.Context, limit int) ([]model.ScrapingJob, error)
	// StartJob moves a pending job to running. ErrConflict otherwise.
	StartJob(ctx context.Context, id string, at time.Time) error
	CompleteJob(ctx context.Context, id string, found, success, failed int, at time.Time) error
	FailJob(ctx context.Context, id string, errMsg string, at time.Time) error

	// Tasks
	EnqueueTask(ctx context.Context, task *model.Task) error
	// ClaimTask atomically moves the oldest runnable task to running and
	// returns it. Returns nil, nil when the queue is empty.
	ClaimTask(ctx context.Context, now time.Time) (*model.Task, error)
	GetTask(ctx context.Context, id string) (*model.Task, error)
	CompleteTask(ctx context.Context, id string, at time.Time) error
	RetryTask(ctx context.Context, id string, errMsg string, runAfter time.Time) error
	FailTask(ctx context.Context, id string, errMsg string, at time.Time) error
	// TouchTask moves a running task's claimed_at forward so it is not
	// mistaken for stale while its handler is still working.
	TouchTask(ctx context.Context, id string, at time.Time) error
	// RequeueStaleTasks returns running tasks claimed before olderThan to the queue.
	RequeueStaleTasks(ctx context.Context, olderThan time.Time) (int, error)

	Stats(ctx context.Context) (*model.Stats, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

const (
	leadColumns     = `id, company_name, domain, email, phone, address, city, region, activity_type, source, status, scraped_at, last_contacted_at, notes`
	templateColumns = `id, name, subject, body, category, created_at, updated_at`
	campaignColumns = `id, name, template_id, status, recipient_filter, total_recipients, sent_count, failed_count, opened_count, clicked_count, scheduled_at, started_at, completed_at, created_at, error`
	sendColumns     = `id, campaign_id, lead_id, subject, body, status, provider_id, sent_at, opened_at, clicked_at, error, created_at`
	jobColumns      = `id, source, region, activity_type, status, options, total_found, success_count, error_count, started_at, completed_at, created_at, error`
	taskColumns     = `id, kind, payload, status, attempts, max_attempts, run_after, claimed_at, finished_at, error, created_at`
)

// placeholder renders the n-th (1-based) bind parameter for a dialect.
type placeholder func(n int) string

func questionMark(int) string { return "?" }

func dollar(n int) string { return fmt.Sprintf("$%d", n) }

// leadQuery builds the SELECT for a lead filter. Both backends share it;
// only the bind syntax differs.
func leadQuery(f model.LeadFilter, ph placeholder) (string, []any) {
	f = f.Normalize()
	var (
		where []string
		args  []any
	)
	bind := func(v any) string {
		args = append(args, v)
		return ph(len(args))
	}

	if f.Search != "" {
		// LIKE is case-insensitive in SQLite but not in Postgres.
		like := "%" + strings.ToLower(f.Search) + "%"
		where = append(where, fmt.Sprintf("(LOWER(company_name) LIKE %s OR LOWER(email) LIKE %s OR LOWER(domain) LIKE %s)",
			bind(like), bind(like), bind(like)))
	}
	if f.Region != "" {
		where = append(where, "region = "+bind(f.Region))
	}
	if f.Status != "" {
		where = append(where, "status = "+bind(string(f.Status)))
	}
	if f.ActivityType != "" {
		where = append(where, "activity_type = "+bind(f.ActivityType))
	}
	if f.Source != "" {
		where = append(where, "source = "+bind(f.Source))
	}
	if f.MissingEmail {
		where = append(where, "email NOT LIKE '%@%'")
	}
	if f.HasEmail {
		where = append(where, "email LIKE '%@%'")
	}

	q := "SELECT " + leadColumns + " FROM leads"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY scraped_at DESC, id"
	if f.Limit > 0 {
		q += " LIMIT " + bind(f.Limit)
		if f.Offset > 0 {
			q += " OFFSET " + bind(f.Offset)
		}
	}
	return q, args
}

// prepareLead fills defaults before insert.
func prepareLead(lead *model.Lead, id string, now time.Time) {
	if lead.ID == "" {
		lead.ID = id
	}
	if lead.Status == "" {
		lead.Status = model.LeadStatusNew
	}
	if lead.ScrapedAt.IsZero() {
		lead.ScrapedAt = now
	}
	lead.Email = strings.TrimSpace(lead.Email)
}

func notFound(entity, id string) error {
	return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
}

// prepareTask fills defaults before enqueue.
func prepareTask(task *model.Task, id string, now time.Time) {
	if task.ID == "" {
		task.ID = id
	}
	task.Status = model.TaskStatusQueued
	task.Attempts = 0
	if task.MaxAttempts <= 0 {
		task.MaxAttempts = 1
	}
	if task.RunAfter.IsZero() {
		task.RunAfter = now
	}
	task.RunAfter = task.RunAfter.UTC()
	task.CreatedAt = now
	if len(task.Payload) == 0 {
		task.Payload = []byte("{}")
	}
}

const statsQuery = `SELECT
	(SELECT COUNT(*) FROM leads),
	(SELECT COUNT(*) FROM email_sends WHERE status = 'sent'),
	(SELECT COUNT(*) FROM email_sends WHERE status = 'sent' AND opened_at IS NOT NULL),
	(SELECT COUNT(*) FROM email_sends WHERE status = 'sent' AND clicked_at IS NOT NULL)`

func buildStats(prospects, sent, opened, clicked int) *model.Stats {
	return &model.Stats{
		TotalProspects:  prospects,
		TotalEmailsSent: sent,
		OpenRate:        model.Rate(opened, sent),
		ConversionRate:  model.Rate(clicked, sent),
	}
}
