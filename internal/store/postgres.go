package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-cli/internal/db"
	"github.com/sells-group/prospect-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	pgGetLead          = `SELECT ` + leadColumns + ` FROM leads WHERE id = $1`
	pgMarkContacted    = `UPDATE leads SET status = 'contacted', last_contacted_at = $1 WHERE id = $2`
	pgInsertSend       = `INSERT INTO email_sends (` + sendColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	pgCampaignProgress = `UPDATE campaigns SET sent_count = $1, failed_count = $2 WHERE id = $3 AND status = 'active'`
	pgClaimTask        = `UPDATE tasks SET status = 'running', attempts = attempts + 1, claimed_at = $1
		WHERE id = (
			SELECT id FROM tasks WHERE status = 'queued' AND run_after <= $1
			ORDER BY run_after, created_at LIMIT 1
			FOR UPDATE SKIP LOCKED
		) RETURNING ` + taskColumns
)

// preparedStatements lists queries to prepare on each new connection. These
// are the per-recipient and per-poll statements of the campaign and worker loops.
var preparedStatements = map[string]string{
	"get_lead":                 pgGetLead,
	"mark_lead_contacted":      pgMarkContacted,
	"insert_send":              pgInsertSend,
	"update_campaign_progress": pgCampaignProgress,
	"claim_task":               pgClaimTask,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	company_name      TEXT NOT NULL,
	domain            TEXT NOT NULL DEFAULT '',
	email             TEXT NOT NULL DEFAULT '',
	phone             TEXT NOT NULL DEFAULT '',
	address           TEXT NOT NULL DEFAULT '',
	city              TEXT NOT NULL DEFAULT '',
	region            TEXT NOT NULL DEFAULT '',
	activity_type     TEXT NOT NULL DEFAULT '',
	source            TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'new',
	scraped_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_contacted_at TIMESTAMPTZ,
	notes             TEXT NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_leads_email ON leads(email) WHERE email <> '';
CREATE INDEX IF NOT EXISTS idx_leads_region ON leads(region);
CREATE INDEX IF NOT EXISTS idx_leads_status ON leads(status);
CREATE INDEX IF NOT EXISTS idx_leads_scraped_at ON leads(scraped_at DESC);

CREATE TABLE IF NOT EXISTS email_templates (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name       TEXT NOT NULL,
	subject    TEXT NOT NULL,
	body       TEXT NOT NULL,
	category   TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS campaigns (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name             TEXT NOT NULL,
	template_id      TEXT,
	status           TEXT NOT NULL DEFAULT 'draft',
	recipient_filter JSONB,
	total_recipients INTEGER NOT NULL DEFAULT 0,
	sent_count       INTEGER NOT NULL DEFAULT 0,
	failed_count     INTEGER NOT NULL DEFAULT 0,
	opened_count     INTEGER NOT NULL DEFAULT 0,
	clicked_count    INTEGER NOT NULL DEFAULT 0,
	scheduled_at     TIMESTAMPTZ,
	started_at       TIMESTAMPTZ,
	completed_at     TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	error            TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_campaigns_status_scheduled ON campaigns(status, scheduled_at);

CREATE TABLE IF NOT EXISTS email_sends (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	campaign_id TEXT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
	lead_id     TEXT NOT NULL REFERENCES leads(id) ON DELETE CASCADE,
	subject     TEXT NOT NULL,
	body        TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending',
	provider_id TEXT NOT NULL DEFAULT '',
	sent_at     TIMESTAMPTZ,
	opened_at   TIMESTAMPTZ,
	clicked_at  TIMESTAMPTZ,
	error       TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_email_sends_campaign_lead ON email_sends(campaign_id, lead_id);

CREATE TABLE IF NOT EXISTS scraping_jobs (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	source        TEXT NOT NULL,
	region        TEXT NOT NULL DEFAULT '',
	activity_type TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'pending',
	options       JSONB NOT NULL DEFAULT '{}',
	total_found   INTEGER NOT NULL DEFAULT 0,
	success_count INTEGER NOT NULL DEFAULT 0,
	error_count   INTEGER NOT NULL DEFAULT 0,
	started_at    TIMESTAMPTZ,
	completed_at  TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	error         TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_scraping_jobs_created_at ON scraping_jobs(created_at DESC);

CREATE TABLE IF NOT EXISTS tasks (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	kind         TEXT NOT NULL,
	payload      JSONB NOT NULL DEFAULT '{}',
	status       TEXT NOT NULL DEFAULT 'queued',
	attempts     INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL DEFAULT 1,
	run_after    TIMESTAMPTZ NOT NULL DEFAULT now(),
	claimed_at   TIMESTAMPTZ,
	finished_at  TIMESTAMPTZ,
	error        TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_tasks_status_run_after ON tasks(status, run_after);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- leads ---

func (s *PostgresStore) CreateLead(ctx context.Context, lead *model.Lead) error {
	prepareLead(lead, uuid.New().String(), time.Now().UTC())

	_, err := s.pool.Exec(ctx,
		`INSERT INTO leads (`+leadColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		lead.ID, lead.CompanyName, lead.Domain, lead.Email, lead.Phone, lead.Address, lead.City,
		lead.Region, lead.ActivityType, lead.Source, string(lead.Status), lead.ScrapedAt,
		lead.LastContactedAt, lead.Notes,
	)
	if db.IsUniqueViolation(err) {
		return eris.Wrapf(ErrDuplicateEmail, "postgres: insert lead %s", lead.Email)
	}
	return eris.Wrap(err, "postgres: insert lead")
}

func (s *PostgresStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	l, err := scanPgLead(s.pool.QueryRow(ctx, pgGetLead, id))
	if db.IsNoRows(err) {
		return nil, notFound("lead", id)
	}
	return l, eris.Wrapf(err, "postgres: get lead %s", id)
}

func (s *PostgresStore) GetLeadByEmail(ctx context.Context, email string) (*model.Lead, error) {
	l, err := scanPgLead(s.pool.QueryRow(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE email = $1 AND email <> ''`, email))
	if db.IsNoRows(err) {
		return nil, nil
	}
	return l, eris.Wrap(err, "postgres: get lead by email")
}

func (s *PostgresStore) ListLeads(ctx context.Context, filter model.LeadFilter) ([]model.Lead, error) {
	query, args := leadQuery(filter, dollar)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		l, err := scanPgLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead")
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: list leads iterate")
}

func (s *PostgresStore) UpdateLead(ctx context.Context, lead *model.Lead) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET company_name = $1, domain = $2, email = $3, phone = $4, address = $5, city = $6,
		 region = $7, activity_type = $8, source = $9, status = $10, last_contacted_at = $11, notes = $12
		 WHERE id = $13`,
		lead.CompanyName, lead.Domain, lead.Email, lead.Phone, lead.Address, lead.City,
		lead.Region, lead.ActivityType, lead.Source, string(lead.Status),
		lead.LastContactedAt, lead.Notes, lead.ID,
	)
	if db.IsUniqueViolation(err) {
		return eris.Wrapf(ErrDuplicateEmail, "postgres: update lead %s", lead.ID)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: update lead %s", lead.ID)
	}
	if tag.RowsAffected() == 0 {
		return notFound("lead", lead.ID)
	}
	return nil
}

func (s *PostgresStore) MarkLeadContacted(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, pgMarkContacted, at.UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark lead contacted %s", id)
	}
	if tag.RowsAffected() == 0 {
		return notFound("lead", id)
	}
	return nil
}

func (s *PostgresStore) DeleteLead(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM leads WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete lead %s", id)
	}
	if tag.RowsAffected() == 0 {
		return notFound("lead", id)
	}
	return nil
}

// --- templates ---

func (s *PostgresStore) CreateTemplate(ctx context.Context, tpl *model.Template) error {
	if tpl.ID == "" {
		tpl.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	tpl.CreatedAt, tpl.UpdatedAt = now, now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO email_templates (`+templateColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		tpl.ID, tpl.Name, tpl.Subject, tpl.Body, tpl.Category, now, now,
	)
	return eris.Wrap(err, "postgres: insert template")
}

func (s *PostgresStore) GetTemplate(ctx context.Context, id string) (*model.Template, error) {
	var t model.Template
	err := s.pool.QueryRow(ctx, `SELECT `+templateColumns+` FROM email_templates WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.Subject, &t.Body, &t.Category, &t.CreatedAt, &t.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, notFound("template", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get template %s", id)
	}
	return &t, nil
}

func (s *PostgresStore) ListTemplates(ctx context.Context) ([]model.Template, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+templateColumns+` FROM email_templates ORDER BY created_at DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list templates")
	}
	defer rows.Close()

	var out []model.Template
	for rows.Next() {
		var t model.Template
		if err := rows.Scan(&t.ID, &t.Name, &t.Subject, &t.Body, &t.Category, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan template")
		}
		out = append(out, t)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list templates iterate")
}

func (s *PostgresStore) UpdateTemplate(ctx context.Context, tpl *model.Template) error {
	tpl.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE email_templates SET name = $1, subject = $2, body = $3, category = $4, updated_at = $5 WHERE id = $6`,
		tpl.Name, tpl.Subject, tpl.Body, tpl.Category, tpl.UpdatedAt, tpl.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update template %s", tpl.ID)
	}
	if tag.RowsAffected() == 0 {
		return notFound("template", tpl.ID)
	}
	return nil
}

func (s *PostgresStore) DeleteTemplate(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM email_templates WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete template %s", id)
	}
	if tag.RowsAffected() == 0 {
		return notFound("template", id)
	}
	return nil
}

// --- campaigns ---

func (s *PostgresStore) CreateCampaign(ctx context.Context, c *model.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.Status = model.CampaignStatusDraft
	c.CreatedAt = time.Now().UTC()

	var filter []byte
	if len(c.RecipientFilter) > 0 {
		filter = c.RecipientFilter
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO campaigns (id, name, template_id, status, recipient_filter, scheduled_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.Name, c.TemplateID, string(c.Status), filter, c.ScheduledAt, c.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert campaign")
}

func (s *PostgresStore) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	c, err := scanPgCampaign(s.pool.QueryRow(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, notFound("campaign", id)
	}
	return c, eris.Wrapf(err, "postgres: get campaign %s", id)
}

func (s *PostgresStore) ListCampaigns(ctx context.Context) ([]model.Campaign, error) {
	return s.queryCampaigns(ctx, `SELECT `+campaignColumns+` FROM campaigns ORDER BY created_at DESC`)
}

func (s *PostgresStore) ListDueCampaigns(ctx context.Context, now time.Time) ([]model.Campaign, error) {
	return s.queryCampaigns(ctx,
		`SELECT `+campaignColumns+` FROM campaigns
		 WHERE status = 'draft' AND scheduled_at IS NOT NULL AND scheduled_at <= $1
		 ORDER BY scheduled_at`,
		now.UTC(),
	)
}

func (s *PostgresStore) queryCampaigns(ctx context.Context, query string, args ...any) ([]model.Campaign, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list campaigns")
	}
	defer rows.Close()

	var out []model.Campaign
	for rows.Next() {
		c, err := scanPgCampaign(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan campaign")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list campaigns iterate")
}

func (s *PostgresStore) ActivateCampaign(ctx context.Context, id string, recipients int, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE campaigns SET status = 'active', total_recipients = $1, started_at = $2
		 WHERE id = $3 AND status = 'draft'`,
		recipients, at.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: activate campaign %s", id)
	}
	return s.checkTransition(ctx, tag.RowsAffected(), "campaigns", "campaign", id)
}

func (s *PostgresStore) UpdateCampaignProgress(ctx context.Context, id string, sent, failed int) error {
	tag, err := s.pool.Exec(ctx, pgCampaignProgress, sent, failed, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: update campaign progress %s", id)
	}
	return s.checkTransition(ctx, tag.RowsAffected(), "campaigns", "campaign", id)
}

func (s *PostgresStore) FinishCampaign(ctx context.Context, id string, status model.CampaignStatus, sent, failed int, errMsg string, at time.Time) error {
	if !model.CanTransition(model.CampaignStatusActive, status) {
		return eris.Wrapf(ErrConflict, "postgres: finish campaign %s as %s", id, status)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE campaigns SET status = $1, sent_count = $2, failed_count = $3, error = $4, completed_at = $5
		 WHERE id = $6 AND status = 'active'`,
		string(status), sent, failed, errMsg, at.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish campaign %s", id)
	}
	return s.checkTransition(ctx, tag.RowsAffected(), "campaigns", "campaign", id)
}

// --- sends ---

func (s *PostgresStore) CreateSend(ctx context.Context, send *model.EmailSend) error {
	if send.ID == "" {
		send.ID = uuid.New().String()
	}
	send.CreatedAt = time.Now().UTC()

	_, err := s.pool.Exec(ctx, pgInsertSend,
		send.ID, send.CampaignID, send.LeadID, send.Subject, send.Body, string(send.Status),
		send.ProviderID, send.SentAt, send.OpenedAt, send.ClickedAt, send.Error, send.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert send")
}

func (s *PostgresStore) ListSends(ctx context.Context, campaignID string) ([]model.EmailSend, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sendColumns+` FROM email_sends WHERE campaign_id = $1 ORDER BY created_at`,
		campaignID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sends")
	}
	defer rows.Close()

	var out []model.EmailSend
	for rows.Next() {
		var e model.EmailSend
		if err := rows.Scan(&e.ID, &e.CampaignID, &e.LeadID, &e.Subject, &e.Body, &e.Status,
			&e.ProviderID, &e.SentAt, &e.OpenedAt, &e.ClickedAt, &e.Error, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan send")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list sends iterate")
}

// --- scraping jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.ScrapingJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.Status = model.JobStatusPending
	job.CreatedAt = time.Now().UTC()

	opts, err := json.Marshal(job.Options)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal job options")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO scraping_jobs (id, source, region, activity_type, status, options, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.Source, job.Region, job.ActivityType, string(job.Status), opts, job.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert job")
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.ScrapingJob, error) {
	j, err := scanPgJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM scraping_jobs WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, notFound("job", id)
	}
	return j, eris.Wrapf(err, "postgres: get job %s", id)
}

func (s *PostgresStore) ListJobs(ctx context.Context, limit int) ([]model.ScrapingJob, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM scraping_jobs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var out []model.ScrapingJob
	for rows.Next() {
		j, err := scanPgJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		out = append(out, *j)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

func (s *PostgresStore) StartJob(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scraping_jobs SET status = 'running', started_at = $1 WHERE id = $2 AND status = 'pending'`,
		at.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: start job %s", id)
	}
	return s.checkTransition(ctx, tag.RowsAffected(), "scraping_jobs", "job", id)
}

func (s *PostgresStore) CompleteJob(ctx context.Context, id string, found, success, failed int, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scraping_jobs SET status = 'completed', total_found = $1, success_count = $2, error_count = $3,
		 completed_at = $4 WHERE id = $5 AND status = 'running'`,
		found, success, failed, at.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete job %s", id)
	}
	return s.checkTransition(ctx, tag.RowsAffected(), "scraping_jobs", "job", id)
}

func (s *PostgresStore) FailJob(ctx context.Context, id string, errMsg string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scraping_jobs SET status = 'failed', error = $1, completed_at = $2
		 WHERE id = $3 AND status IN ('pending', 'running')`,
		errMsg, at.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail job %s", id)
	}
	return s.checkTransition(ctx, tag.RowsAffected(), "scraping_jobs", "job", id)
}

// --- tasks ---

func (s *PostgresStore) EnqueueTask(ctx context.Context, task *model.Task) error {
	prepareTask(task, uuid.New().String(), time.Now().UTC())

	_, err := s.pool.Exec(ctx,
		`INSERT INTO tasks (id, kind, payload, status, attempts, max_attempts, run_after, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		task.ID, task.Kind, []byte(task.Payload), string(task.Status), task.Attempts, task.MaxAttempts,
		task.RunAfter, task.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert task")
}

func (s *PostgresStore) ClaimTask(ctx context.Context, now time.Time) (*model.Task, error) {
	t, err := scanPgTask(s.pool.QueryRow(ctx, pgClaimTask, now.UTC()))
	if db.IsNoRows(err) {
		return nil, nil
	}
	return t, eris.Wrap(err, "postgres: claim task")
}

func (s *PostgresStore) GetTask(ctx context.Context, id string) (*model.Task, error) {
	t, err := scanPgTask(s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, notFound("task", id)
	}
	return t, eris.Wrapf(err, "postgres: get task %s", id)
}

func (s *PostgresStore) CompleteTask(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = 'done', finished_at = $1, error = '' WHERE id = $2 AND status = 'running'`,
		at.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete task %s", id)
	}
	return s.checkTransition(ctx, tag.RowsAffected(), "tasks", "task", id)
}

func (s *PostgresStore) RetryTask(ctx context.Context, id string, errMsg string, runAfter time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = 'queued', error = $1, run_after = $2, claimed_at = NULL
		 WHERE id = $3 AND status = 'running'`,
		errMsg, runAfter.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: retry task %s", id)
	}
	return s.checkTransition(ctx, tag.RowsAffected(), "tasks", "task", id)
}

func (s *PostgresStore) FailTask(ctx context.Context, id string, errMsg string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = 'failed', error = $1, finished_at = $2 WHERE id = $3 AND status = 'running'`,
		errMsg, at.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail task %s", id)
	}
	return s.checkTransition(ctx, tag.RowsAffected(), "tasks", "task", id)
}

func (s *PostgresStore) TouchTask(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET claimed_at = $1 WHERE id = $2 AND status = 'running'`,
		at.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: touch task %s", id)
	}
	return s.checkTransition(ctx, tag.RowsAffected(), "tasks", "task", id)
}

func (s *PostgresStore) RequeueStaleTasks(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = 'queued', claimed_at = NULL WHERE status = 'running' AND claimed_at < $1`,
		olderThan.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: requeue stale tasks")
	}
	return int(tag.RowsAffected()), nil
}

// --- stats ---

func (s *PostgresStore) Stats(ctx context.Context) (*model.Stats, error) {
	var prospects, sent, opened, clicked int
	if err := s.pool.QueryRow(ctx, statsQuery).Scan(&prospects, &sent, &opened, &clicked); err != nil {
		return nil, eris.Wrap(err, "postgres: stats")
	}
	return buildStats(prospects, sent, opened, clicked), nil
}

// helpers

func (s *PostgresStore) checkTransition(ctx context.Context, affected int64, table, entity, id string) error {
	if affected > 0 {
		return nil
	}
	var exists int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM `+table+` WHERE id = $1`, id).Scan(&exists)
	if db.IsNoRows(err) {
		return notFound(entity, id)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: lookup %s %s", entity, id)
	}
	return eris.Wrapf(ErrConflict, "%s %s", entity, id)
}

func scanPgLead(row pgx.Row) (*model.Lead, error) {
	var l model.Lead
	err := row.Scan(&l.ID, &l.CompanyName, &l.Domain, &l.Email, &l.Phone, &l.Address, &l.City,
		&l.Region, &l.ActivityType, &l.Source, &l.Status, &l.ScrapedAt, &l.LastContactedAt, &l.Notes)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func scanPgCampaign(row pgx.Row) (*model.Campaign, error) {
	var (
		c      model.Campaign
		filter []byte
	)
	err := row.Scan(&c.ID, &c.Name, &c.TemplateID, &c.Status, &filter, &c.TotalRecipients, &c.SentCount,
		&c.FailedCount, &c.OpenedCount, &c.ClickedCount, &c.ScheduledAt, &c.StartedAt, &c.CompletedAt,
		&c.CreatedAt, &c.Error)
	if err != nil {
		return nil, err
	}
	if len(filter) > 0 {
		c.RecipientFilter = json.RawMessage(filter)
	}
	return &c, nil
}

func scanPgJob(row pgx.Row) (*model.ScrapingJob, error) {
	var (
		j    model.ScrapingJob
		opts []byte
	)
	err := row.Scan(&j.ID, &j.Source, &j.Region, &j.ActivityType, &j.Status, &opts, &j.TotalFound,
		&j.SuccessCount, &j.ErrorCount, &j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.Error)
	if err != nil {
		return nil, err
	}
	if len(opts) > 0 {
		if err := json.Unmarshal(opts, &j.Options); err != nil {
			return nil, eris.Wrap(err, "unmarshal job options")
		}
	}
	return &j, nil
}

func scanPgTask(row pgx.Row) (*model.Task, error) {
	var (
		t       model.Task
		payload []byte
	)
	err := row.Scan(&t.ID, &t.Kind, &payload, &t.Status, &t.Attempts, &t.MaxAttempts, &t.RunAfter,
		&t.ClaimedAt, &t.FinishedAt, &t.Error, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.Payload = json.RawMessage(payload)
	return &t, nil
}
