package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sells-group/prospect-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id                TEXT PRIMARY KEY,
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
	scraped_at        DATETIME NOT NULL,
	last_contacted_at DATETIME,
	notes             TEXT NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_leads_email ON leads(email) WHERE email <> '';
CREATE INDEX IF NOT EXISTS idx_leads_region ON leads(region);
CREATE INDEX IF NOT EXISTS idx_leads_status ON leads(status);
CREATE INDEX IF NOT EXISTS idx_leads_scraped_at ON leads(scraped_at);

CREATE TABLE IF NOT EXISTS email_templates (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	subject    TEXT NOT NULL,
	body       TEXT NOT NULL,
	category   TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS campaigns (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	template_id      TEXT,
	status           TEXT NOT NULL DEFAULT 'draft',
	recipient_filter TEXT,
	total_recipients INTEGER NOT NULL DEFAULT 0,
	sent_count       INTEGER NOT NULL DEFAULT 0,
	failed_count     INTEGER NOT NULL DEFAULT 0,
	opened_count     INTEGER NOT NULL DEFAULT 0,
	clicked_count    INTEGER NOT NULL DEFAULT 0,
	scheduled_at     DATETIME,
	started_at       DATETIME,
	completed_at     DATETIME,
	created_at       DATETIME NOT NULL,
	error            TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_campaigns_status_scheduled ON campaigns(status, scheduled_at);

CREATE TABLE IF NOT EXISTS email_sends (
	id          TEXT PRIMARY KEY,
	campaign_id TEXT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
	lead_id     TEXT NOT NULL REFERENCES leads(id) ON DELETE CASCADE,
	subject     TEXT NOT NULL,
	body        TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending',
	provider_id TEXT NOT NULL DEFAULT '',
	sent_at     DATETIME,
	opened_at   DATETIME,
	clicked_at  DATETIME,
	error       TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_email_sends_campaign_lead ON email_sends(campaign_id, lead_id);

CREATE TABLE IF NOT EXISTS scraping_jobs (
	id            TEXT PRIMARY KEY,
	source        TEXT NOT NULL,
	region        TEXT NOT NULL DEFAULT '',
	activity_type TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'pending',
	options       TEXT NOT NULL DEFAULT '{}',
	total_found   INTEGER NOT NULL DEFAULT 0,
	success_count INTEGER NOT NULL DEFAULT 0,
	error_count   INTEGER NOT NULL DEFAULT 0,
	started_at    DATETIME,
	completed_at  DATETIME,
	created_at    DATETIME NOT NULL,
	error         TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_scraping_jobs_created_at ON scraping_jobs(created_at);

CREATE TABLE IF NOT EXISTS tasks (
	id           TEXT PRIMARY KEY,
	kind         TEXT NOT NULL,
	payload      TEXT NOT NULL DEFAULT '{}',
	status       TEXT NOT NULL DEFAULT 'queued',
	attempts     INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL DEFAULT 1,
	run_after    DATETIME NOT NULL,
	claimed_at   DATETIME,
	finished_at  DATETIME,
	error        TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_status_run_after ON tasks(status, run_after);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- leads ---

func (s *SQLiteStore) CreateLead(ctx context.Context, lead *model.Lead) error {
	prepareLead(lead, uuid.New().String(), time.Now().UTC())

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO leads (`+leadColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lead.ID, lead.CompanyName, lead.Domain, lead.Email, lead.Phone, lead.Address, lead.City,
		lead.Region, lead.ActivityType, lead.Source, string(lead.Status), lead.ScrapedAt.UTC(),
		nullTime(lead.LastContactedAt), lead.Notes,
	)
	if isSQLiteUnique(err) {
		return eris.Wrapf(ErrDuplicateEmail, "sqlite: insert lead %s", lead.Email)
	}
	return eris.Wrap(err, "sqlite: insert lead")
}

func (s *SQLiteStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = ?`, id)
	l, err := scanLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("lead", id)
	}
	return l, eris.Wrapf(err, "sqlite: get lead %s", id)
}

func (s *SQLiteStore) GetLeadByEmail(ctx context.Context, email string) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE email = ? AND email <> ''`, email)
	l, err := scanLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return l, eris.Wrap(err, "sqlite: get lead by email")
}

func (s *SQLiteStore) ListLeads(ctx context.Context, filter model.LeadFilter) ([]model.Lead, error) {
	query, args := leadQuery(filter, questionMark)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead")
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: list leads iterate")
}

func (s *SQLiteStore) UpdateLead(ctx context.Context, lead *model.Lead) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET company_name = ?, domain = ?, email = ?, phone = ?, address = ?, city = ?,
		 region = ?, activity_type = ?, source = ?, status = ?, last_contacted_at = ?, notes = ?
		 WHERE id = ?`,
		lead.CompanyName, lead.Domain, lead.Email, lead.Phone, lead.Address, lead.City,
		lead.Region, lead.ActivityType, lead.Source, string(lead.Status),
		nullTime(lead.LastContactedAt), lead.Notes, lead.ID,
	)
	if isSQLiteUnique(err) {
		return eris.Wrapf(ErrDuplicateEmail, "sqlite: update lead %s", lead.ID)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: update lead %s", lead.ID)
	}
	return checkRowsAffected(res, "lead", lead.ID)
}

func (s *SQLiteStore) MarkLeadContacted(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET status = 'contacted', last_contacted_at = ? WHERE id = ?`,
		at.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark lead contacted %s", id)
	}
	return checkRowsAffected(res, "lead", id)
}

func (s *SQLiteStore) DeleteLead(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM leads WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete lead %s", id)
	}
	return checkRowsAffected(res, "lead", id)
}

// --- templates ---

func (s *SQLiteStore) CreateTemplate(ctx context.Context, tpl *model.Template) error {
	if tpl.ID == "" {
		tpl.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	tpl.CreatedAt, tpl.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO email_templates (`+templateColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tpl.ID, tpl.Name, tpl.Subject, tpl.Body, tpl.Category, now, now,
	)
	return eris.Wrap(err, "sqlite: insert template")
}

func (s *SQLiteStore) GetTemplate(ctx context.Context, id string) (*model.Template, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM email_templates WHERE id = ?`, id)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("template", id)
	}
	return t, eris.Wrapf(err, "sqlite: get template %s", id)
}

func (s *SQLiteStore) ListTemplates(ctx context.Context) ([]model.Template, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+templateColumns+` FROM email_templates ORDER BY created_at DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list templates")
	}
	defer rows.Close()

	var out []model.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan template")
		}
		out = append(out, *t)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list templates iterate")
}

func (s *SQLiteStore) UpdateTemplate(ctx context.Context, tpl *model.Template) error {
	tpl.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE email_templates SET name = ?, subject = ?, body = ?, category = ?, updated_at = ? WHERE id = ?`,
		tpl.Name, tpl.Subject, tpl.Body, tpl.Category, tpl.UpdatedAt, tpl.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update template %s", tpl.ID)
	}
	return checkRowsAffected(res, "template", tpl.ID)
}

func (s *SQLiteStore) DeleteTemplate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM email_templates WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete template %s", id)
	}
	return checkRowsAffected(res, "template", id)
}

// --- campaigns ---

func (s *SQLiteStore) CreateCampaign(ctx context.Context, c *model.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.Status = model.CampaignStatusDraft
	c.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO campaigns (id, name, template_id, status, recipient_filter, scheduled_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, nullString(c.TemplateID), string(c.Status), nullJSON(c.RecipientFilter),
		nullTime(c.ScheduledAt), c.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert campaign")
}

func (s *SQLiteStore) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`, id)
	c, err := scanCampaign(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("campaign", id)
	}
	return c, eris.Wrapf(err, "sqlite: get campaign %s", id)
}

func (s *SQLiteStore) ListCampaigns(ctx context.Context) ([]model.Campaign, error) {
	return s.queryCampaigns(ctx, `SELECT `+campaignColumns+` FROM campaigns ORDER BY created_at DESC`)
}

func (s *SQLiteStore) ListDueCampaigns(ctx context.Context, now time.Time) ([]model.Campaign, error) {
	return s.queryCampaigns(ctx,
		`SELECT `+campaignColumns+` FROM campaigns
		 WHERE status = 'draft' AND scheduled_at IS NOT NULL AND scheduled_at <= ?
		 ORDER BY scheduled_at`,
		now.UTC(),
	)
}

func (s *SQLiteStore) queryCampaigns(ctx context.Context, query string, args ...any) ([]model.Campaign, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list campaigns")
	}
	defer rows.Close()

	var out []model.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan campaign")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list campaigns iterate")
}

func (s *SQLiteStore) ActivateCampaign(ctx context.Context, id string, recipients int, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET status = 'active', total_recipients = ?, started_at = ?
		 WHERE id = ? AND status = 'draft'`,
		recipients, at.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: activate campaign %s", id)
	}
	return s.checkTransition(ctx, res, "campaigns", "campaign", id)
}

func (s *SQLiteStore) UpdateCampaignProgress(ctx context.Context, id string, sent, failed int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET sent_count = ?, failed_count = ? WHERE id = ? AND status = 'active'`,
		sent, failed, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update campaign progress %s", id)
	}
	return s.checkTransition(ctx, res, "campaigns", "campaign", id)
}

func (s *SQLiteStore) FinishCampaign(ctx context.Context, id string, status model.CampaignStatus, sent, failed int, errMsg string, at time.Time) error {
	if !model.CanTransition(model.CampaignStatusActive, status) {
		return eris.Wrapf(ErrConflict, "sqlite: finish campaign %s as %s", id, status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET status = ?, sent_count = ?, failed_count = ?, error = ?, completed_at = ?
		 WHERE id = ? AND status = 'active'`,
		string(status), sent, failed, errMsg, at.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish campaign %s", id)
	}
	return s.checkTransition(ctx, res, "campaigns", "campaign", id)
}

// --- sends ---

func (s *SQLiteStore) CreateSend(ctx context.Context, send *model.EmailSend) error {
	if send.ID == "" {
		send.ID = uuid.New().String()
	}
	send.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO email_sends (`+sendColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		send.ID, send.CampaignID, send.LeadID, send.Subject, send.Body, string(send.Status),
		send.ProviderID, nullTime(send.SentAt), nullTime(send.OpenedAt), nullTime(send.ClickedAt),
		send.Error, send.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert send")
}

func (s *SQLiteStore) ListSends(ctx context.Context, campaignID string) ([]model.EmailSend, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sendColumns+` FROM email_sends WHERE campaign_id = ? ORDER BY created_at`,
		campaignID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sends")
	}
	defer rows.Close()

	var out []model.EmailSend
	for rows.Next() {
		var (
			e                         model.EmailSend
			sentAt, openedAt, clicked sql.NullTime
		)
		if err := rows.Scan(&e.ID, &e.CampaignID, &e.LeadID, &e.Subject, &e.Body, &e.Status,
			&e.ProviderID, &sentAt, &openedAt, &clicked, &e.Error, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan send")
		}
		e.SentAt, e.OpenedAt, e.ClickedAt = timePtr(sentAt), timePtr(openedAt), timePtr(clicked)
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list sends iterate")
}

// --- scraping jobs ---

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.ScrapingJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.Status = model.JobStatusPending
	job.CreatedAt = time.Now().UTC()

	opts, err := json.Marshal(job.Options)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal job options")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scraping_jobs (id, source, region, activity_type, status, options, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Source, job.Region, job.ActivityType, string(job.Status), string(opts), job.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert job")
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.ScrapingJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM scraping_jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("job", id)
	}
	return j, eris.Wrapf(err, "sqlite: get job %s", id)
}

func (s *SQLiteStore) ListJobs(ctx context.Context, limit int) ([]model.ScrapingJob, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM scraping_jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var out []model.ScrapingJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		out = append(out, *j)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

func (s *SQLiteStore) StartJob(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scraping_jobs SET status = 'running', started_at = ? WHERE id = ? AND status = 'pending'`,
		at.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: start job %s", id)
	}
	return s.checkTransition(ctx, res, "scraping_jobs", "job", id)
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, id string, found, success, failed int, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scraping_jobs SET status = 'completed', total_found = ?, success_count = ?, error_count = ?,
		 completed_at = ? WHERE id = ? AND status = 'running'`,
		found, success, failed, at.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete job %s", id)
	}
	return s.checkTransition(ctx, res, "scraping_jobs", "job", id)
}

func (s *SQLiteStore) FailJob(ctx context.Context, id string, errMsg string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scraping_jobs SET status = 'failed', error = ?, completed_at = ?
		 WHERE id = ? AND status IN ('pending', 'running')`,
		errMsg, at.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail job %s", id)
	}
	return s.checkTransition(ctx, res, "scraping_jobs", "job", id)
}

// --- tasks ---

func (s *SQLiteStore) EnqueueTask(ctx context.Context, task *model.Task) error {
	prepareTask(task, uuid.New().String(), time.Now().UTC())

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, kind, payload, status, attempts, max_attempts, run_after, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Kind, string(task.Payload), string(task.Status), task.Attempts, task.MaxAttempts,
		task.RunAfter, task.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert task")
}

func (s *SQLiteStore) ClaimTask(ctx context.Context, now time.Time) (*model.Task, error) {
	now = now.UTC()
	var id string
	err := s.db.QueryRowContext(ctx,
		`UPDATE tasks SET status = 'running', attempts = attempts + 1, claimed_at = ?
		 WHERE id = (
			SELECT id FROM tasks WHERE status = 'queued' AND run_after <= ?
			ORDER BY run_after, created_at LIMIT 1
		 ) AND status = 'queued'
		 RETURNING id`,
		now, now,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: claim task")
	}
	return s.GetTask(ctx, id)
}

func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("task", id)
	}
	return t, eris.Wrapf(err, "sqlite: get task %s", id)
}

func (s *SQLiteStore) CompleteTask(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = 'done', finished_at = ?, error = '' WHERE id = ? AND status = 'running'`,
		at.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete task %s", id)
	}
	return s.checkTransition(ctx, res, "tasks", "task", id)
}

func (s *SQLiteStore) RetryTask(ctx context.Context, id string, errMsg string, runAfter time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = 'queued', error = ?, run_after = ?, claimed_at = NULL
		 WHERE id = ? AND status = 'running'`,
		errMsg, runAfter.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: retry task %s", id)
	}
	return s.checkTransition(ctx, res, "tasks", "task", id)
}

func (s *SQLiteStore) FailTask(ctx context.Context, id string, errMsg string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = 'failed', error = ?, finished_at = ? WHERE id = ? AND status = 'running'`,
		errMsg, at.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail task %s", id)
	}
	return s.checkTransition(ctx, res, "tasks", "task", id)
}

func (s *SQLiteStore) TouchTask(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET claimed_at = ? WHERE id = ? AND status = 'running'`,
		at.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: touch task %s", id)
	}
	return s.checkTransition(ctx, res, "tasks", "task", id)
}

func (s *SQLiteStore) RequeueStaleTasks(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = 'queued', claimed_at = NULL WHERE status = 'running' AND claimed_at < ?`,
		olderThan.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: requeue stale tasks")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// --- stats ---

func (s *SQLiteStore) Stats(ctx context.Context) (*model.Stats, error) {
	var prospects, sent, opened, clicked int
	err := s.db.QueryRowContext(ctx, statsQuery).Scan(&prospects, &sent, &opened, &clicked)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stats")
	}
	return buildStats(prospects, sent, opened, clicked), nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return notFound(entity, id)
	}
	return nil
}

// checkTransition distinguishes a missing row from one whose status no
// longer matches the conditional UPDATE.
func (s *SQLiteStore) checkTransition(ctx context.Context, res sql.Result, table, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(entity, id)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: lookup %s %s", entity, id)
	}
	return eris.Wrapf(ErrConflict, "%s %s", entity, id)
}

func isSQLiteUnique(err error) bool {
	var sqlErr *sqlite.Error
	if !errors.As(err, &sqlErr) {
		return false
	}
	return sqlErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

type scannable interface {
	Scan(dest ...any) error
}

func scanLead(row scannable) (*model.Lead, error) {
	var (
		l         model.Lead
		contacted sql.NullTime
	)
	err := row.Scan(&l.ID, &l.CompanyName, &l.Domain, &l.Email, &l.Phone, &l.Address, &l.City,
		&l.Region, &l.ActivityType, &l.Source, &l.Status, &l.ScrapedAt, &contacted, &l.Notes)
	if err != nil {
		return nil, err
	}
	l.LastContactedAt = timePtr(contacted)
	return &l, nil
}

func scanTemplate(row scannable) (*model.Template, error) {
	var t model.Template
	if err := row.Scan(&t.ID, &t.Name, &t.Subject, &t.Body, &t.Category, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func scanCampaign(row scannable) (*model.Campaign, error) {
	var (
		c                             model.Campaign
		templateID, filter            sql.NullString
		scheduled, started, completed sql.NullTime
	)
	err := row.Scan(&c.ID, &c.Name, &templateID, &c.Status, &filter, &c.TotalRecipients, &c.SentCount,
		&c.FailedCount, &c.OpenedCount, &c.ClickedCount, &scheduled, &started, &completed, &c.CreatedAt, &c.Error)
	if err != nil {
		return nil, err
	}
	if templateID.Valid {
		c.TemplateID = &templateID.String
	}
	if filter.Valid {
		c.RecipientFilter = json.RawMessage(filter.String)
	}
	c.ScheduledAt, c.StartedAt, c.CompletedAt = timePtr(scheduled), timePtr(started), timePtr(completed)
	return &c, nil
}

func scanJob(row scannable) (*model.ScrapingJob, error) {
	var (
		j                  model.ScrapingJob
		opts               string
		started, completed sql.NullTime
	)
	err := row.Scan(&j.ID, &j.Source, &j.Region, &j.ActivityType, &j.Status, &opts, &j.TotalFound,
		&j.SuccessCount, &j.ErrorCount, &started, &completed, &j.CreatedAt, &j.Error)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(opts), &j.Options); err != nil {
		return nil, eris.Wrap(err, "unmarshal job options")
	}
	j.StartedAt, j.CompletedAt = timePtr(started), timePtr(completed)
	return &j, nil
}

func scanTask(row scannable) (*model.Task, error) {
	var (
		t                 model.Task
		payload           string
		claimed, finished sql.NullTime
	)
	err := row.Scan(&t.ID, &t.Kind, &payload, &t.Status, &t.Attempts, &t.MaxAttempts, &t.RunAfter,
		&claimed, &finished, &t.Error, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.Payload = json.RawMessage(payload)
	t.ClaimedAt, t.FinishedAt = timePtr(claimed), timePtr(finished)
	return &t, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
