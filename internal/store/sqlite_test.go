package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-cli/internal/model"
)

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedLead(t *testing.T, st Store, name, email, region string) *model.Lead {
	t.Helper()
	l := &model.Lead{CompanyName: name, Email: email, Region: region, Source: model.SourcePagesJaunes}
	require.NoError(t, st.CreateLead(context.Background(), l))
	return l
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))
	require.NoError(t, st.Ping(context.Background()))
}

// --- Leads ---

func TestSQLite_CreateAndGetLead(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	l := seedLead(t, st, "Acme Immo", "contact@acme.fr", "ile-de-france")
	assert.NotEmpty(t, l.ID)
	assert.Equal(t, model.LeadStatusNew, l.Status)
	assert.False(t, l.ScrapedAt.IsZero())

	got, err := st.GetLead(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Immo", got.CompanyName)
	assert.Equal(t, "contact@acme.fr", got.Email)
	assert.Equal(t, model.SourcePagesJaunes, got.Source)
	assert.Nil(t, got.LastContactedAt)
}

func TestSQLite_GetLead_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.GetLead(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_CreateLead_DuplicateEmail(t *testing.T) {
	st := newTestSQLiteStore(t)
	seedLead(t, st, "Acme", "contact@acme.fr", "")

	err := st.CreateLead(context.Background(), &model.Lead{CompanyName: "Acme bis", Email: "contact@acme.fr"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateEmail))
}

func TestSQLite_CreateLead_EmptyEmailsNeverCollide(t *testing.T) {
	st := newTestSQLiteStore(t)
	seedLead(t, st, "First", "", "")
	seedLead(t, st, "Second", "", "")

	leads, err := st.ListLeads(context.Background(), model.LeadFilter{})
	require.NoError(t, err)
	assert.Len(t, leads, 2)
}

func TestSQLite_GetLeadByEmail(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedLead(t, st, "Acme", "contact@acme.fr", "")

	got, err := st.GetLeadByEmail(ctx, "contact@acme.fr")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Acme", got.CompanyName)

	none, err := st.GetLeadByEmail(ctx, "nobody@acme.fr")
	require.NoError(t, err)
	assert.Nil(t, none)

	empty, err := st.GetLeadByEmail(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestSQLite_ListLeads_Filters(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a := seedLead(t, st, "Alpha Bureaux", "a@alpha.fr", "ile-de-france")
	time.Sleep(2 * time.Millisecond)
	seedLead(t, st, "Beta Promotion", "", "occitanie")
	time.Sleep(2 * time.Millisecond)
	seedLead(t, st, "Gamma Patrimoine", "g@gamma.fr", "occitanie")

	tests := []struct {
		name   string
		filter model.LeadFilter
		want   []string
	}{
		{"all newest first", model.LeadFilter{}, []string{"Gamma Patrimoine", "Beta Promotion", "Alpha Bureaux"}},
		{"region", model.LeadFilter{Region: "occitanie"}, []string{"Gamma Patrimoine", "Beta Promotion"}},
		{"region all sentinel", model.LeadFilter{Region: "all"}, []string{"Gamma Patrimoine", "Beta Promotion", "Alpha Bureaux"}},
		{"search name", model.LeadFilter{Search: "bureaux"}, []string{"Alpha Bureaux"}},
		{"search email", model.LeadFilter{Search: "gamma.fr"}, []string{"Gamma Patrimoine"}},
		{"search ignores case", model.LeadFilter{Search: "BETA promo"}, []string{"Beta Promotion"}},
		{"missing email", model.LeadFilter{MissingEmail: true}, []string{"Beta Promotion"}},
		{"has email", model.LeadFilter{HasEmail: true}, []string{"Gamma Patrimoine", "Alpha Bureaux"}},
		{"limit", model.LeadFilter{Limit: 1}, []string{"Gamma Patrimoine"}},
		{"limit offset", model.LeadFilter{Limit: 1, Offset: 1}, []string{"Beta Promotion"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			leads, err := st.ListLeads(ctx, tt.filter)
			require.NoError(t, err)
			var names []string
			for _, l := range leads {
				names = append(names, l.CompanyName)
			}
			assert.Equal(t, tt.want, names)
		})
	}

	require.NoError(t, st.MarkLeadContacted(ctx, a.ID, time.Now()))
	contacted, err := st.ListLeads(ctx, model.LeadFilter{Status: model.LeadStatusContacted})
	require.NoError(t, err)
	require.Len(t, contacted, 1)
	assert.Equal(t, a.ID, contacted[0].ID)
}

func TestSQLite_UpdateLead(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	l := seedLead(t, st, "Acme", "", "")

	l.Email = "found@acme.fr"
	l.Domain = "acme.fr"
	l.Notes = "enriched"
	require.NoError(t, st.UpdateLead(ctx, l))

	got, err := st.GetLead(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, "found@acme.fr", got.Email)
	assert.Equal(t, "acme.fr", got.Domain)
	assert.Equal(t, "enriched", got.Notes)

	err = st.UpdateLead(ctx, &model.Lead{ID: "missing", CompanyName: "x", Status: model.LeadStatusNew})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_UpdateLead_DuplicateEmail(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedLead(t, st, "Acme", "contact@acme.fr", "")
	other := seedLead(t, st, "Other", "", "")

	other.Email = "contact@acme.fr"
	err := st.UpdateLead(ctx, other)
	assert.True(t, errors.Is(err, ErrDuplicateEmail))
}

func TestSQLite_MarkLeadContacted_FromQualified(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	l := seedLead(t, st, "Acme", "a@acme.fr", "")
	l.Status = model.LeadStatusQualified
	require.NoError(t, st.UpdateLead(ctx, l))

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, st.MarkLeadContacted(ctx, l.ID, at))

	got, err := st.GetLead(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusContacted, got.Status)
	require.NotNil(t, got.LastContactedAt)
	assert.True(t, at.Equal(*got.LastContactedAt))
}

func TestSQLite_DeleteLead(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	l := seedLead(t, st, "Acme", "", "")

	require.NoError(t, st.DeleteLead(ctx, l.ID))
	_, err := st.GetLead(ctx, l.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(st.DeleteLead(ctx, l.ID), ErrNotFound))
}

// --- Templates ---

func TestSQLite_TemplateCRUD(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	tpl := &model.Template{Name: "Intro", Subject: "Bonjour {{companyName}}", Body: "Corps", Category: "prospection"}
	require.NoError(t, st.CreateTemplate(ctx, tpl))
	assert.NotEmpty(t, tpl.ID)

	got, err := st.GetTemplate(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, "Bonjour {{companyName}}", got.Subject)

	tpl.Subject = "Relance {{companyName}}"
	require.NoError(t, st.UpdateTemplate(ctx, tpl))

	list, err := st.ListTemplates(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Relance {{companyName}}", list[0].Subject)

	require.NoError(t, st.DeleteTemplate(ctx, tpl.ID))
	_, err = st.GetTemplate(ctx, tpl.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(st.UpdateTemplate(ctx, tpl), ErrNotFound))
}

// --- Campaigns ---

func seedCampaign(t *testing.T, st Store, templateID *string, filter model.LeadFilter) *model.Campaign {
	t.Helper()
	raw, err := json.Marshal(filter)
	require.NoError(t, err)
	c := &model.Campaign{Name: "Printemps", TemplateID: templateID, RecipientFilter: raw}
	require.NoError(t, st.CreateCampaign(context.Background(), c))
	return c
}

func TestSQLite_CampaignLifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	tplID := "tpl-1"
	c := seedCampaign(t, st, &tplID, model.LeadFilter{Region: "occitanie"})

	got, err := st.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignStatusDraft, got.Status)
	require.NotNil(t, got.TemplateID)
	assert.Equal(t, "tpl-1", *got.TemplateID)
	f, err := got.Filter()
	require.NoError(t, err)
	assert.Equal(t, "occitanie", f.Region)

	now := time.Now().UTC()
	require.NoError(t, st.ActivateCampaign(ctx, c.ID, 3, now))

	err = st.ActivateCampaign(ctx, c.ID, 3, now)
	assert.True(t, errors.Is(err, ErrConflict), "second activation must conflict")

	require.NoError(t, st.UpdateCampaignProgress(ctx, c.ID, 1, 1))
	require.NoError(t, st.FinishCampaign(ctx, c.ID, model.CampaignStatusCompleted, 2, 1, "", now))

	got, err = st.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignStatusCompleted, got.Status)
	assert.Equal(t, 3, got.TotalRecipients)
	assert.Equal(t, 2, got.SentCount)
	assert.Equal(t, 1, got.FailedCount)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)

	err = st.UpdateCampaignProgress(ctx, c.ID, 5, 0)
	assert.True(t, errors.Is(err, ErrConflict))
}

func TestSQLite_ActivateCampaign_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	err := st.ActivateCampaign(context.Background(), "missing", 0, time.Now())
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_FinishCampaign_RejectsBackwardsStatus(t *testing.T) {
	st := newTestSQLiteStore(t)
	c := seedCampaign(t, st, nil, model.LeadFilter{})
	err := st.FinishCampaign(context.Background(), c.ID, model.CampaignStatusDraft, 0, 0, "", time.Now())
	assert.True(t, errors.Is(err, ErrConflict))
}

func TestSQLite_ListDueCampaigns(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	due := &model.Campaign{Name: "due", ScheduledAt: &past}
	later := &model.Campaign{Name: "later", ScheduledAt: &future}
	unscheduled := &model.Campaign{Name: "manual"}
	for _, c := range []*model.Campaign{due, later, unscheduled} {
		require.NoError(t, st.CreateCampaign(ctx, c))
	}

	list, err := st.ListDueCampaigns(ctx, now)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "due", list[0].Name)
	assert.Nil(t, list[0].TemplateID)
	assert.Empty(t, list[0].RecipientFilter)

	all, err := st.ListCampaigns(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

// --- Sends ---

func TestSQLite_Sends(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	l := seedLead(t, st, "Acme", "a@acme.fr", "")
	c := seedCampaign(t, st, nil, model.LeadFilter{})

	sentAt := time.Now().UTC()
	send := &model.EmailSend{
		CampaignID: c.ID, LeadID: l.ID, Subject: "s", Body: "<p>b</p>",
		Status: model.SendStatusSent, ProviderID: "msg-1", SentAt: &sentAt,
	}
	require.NoError(t, st.CreateSend(ctx, send))
	assert.NotEmpty(t, send.ID)

	sends, err := st.ListSends(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, sends, 1)
	assert.Equal(t, model.SendStatusSent, sends[0].Status)
	assert.Equal(t, "msg-1", sends[0].ProviderID)
	assert.NotNil(t, sends[0].SentAt)
	assert.Nil(t, sends[0].OpenedAt)

	dup := &model.EmailSend{CampaignID: c.ID, LeadID: l.ID, Subject: "s", Body: "b", Status: model.SendStatusFailed}
	assert.Error(t, st.CreateSend(ctx, dup), "one send per lead per campaign")
}

// --- Jobs ---

func TestSQLite_JobLifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	job := &model.ScrapingJob{
		Source: model.SourcePagesJaunes, Region: "occitanie", ActivityType: "investissement",
		Options: model.JobOptions{Keywords: "SCPI", MaxResults: 5},
	}
	require.NoError(t, st.CreateJob(ctx, job))
	assert.Equal(t, model.JobStatusPending, job.Status)

	require.NoError(t, st.StartJob(ctx, job.ID, time.Now()))
	assert.True(t, errors.Is(st.StartJob(ctx, job.ID, time.Now()), ErrConflict))

	require.NoError(t, st.CompleteJob(ctx, job.ID, 4, 3, 1, time.Now()))

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Equal(t, 4, got.TotalFound)
	assert.Equal(t, 3, got.SuccessCount)
	assert.Equal(t, 1, got.ErrorCount)
	assert.Equal(t, "SCPI", got.Options.Keywords)
	assert.Equal(t, 5, got.Options.MaxResults)

	assert.True(t, errors.Is(st.FailJob(ctx, job.ID, "late", time.Now()), ErrConflict))
}

func TestSQLite_FailJob(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	job := &model.ScrapingJob{Source: model.SourceCCI}
	require.NoError(t, st.CreateJob(ctx, job))
	require.NoError(t, st.StartJob(ctx, job.ID, time.Now()))
	require.NoError(t, st.FailJob(ctx, job.ID, "firecrawl: 500", time.Now()))

	jobs, err := st.ListJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, model.JobStatusFailed, jobs[0].Status)
	assert.Equal(t, "firecrawl: 500", jobs[0].Error)

	_, err = st.GetJob(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

// --- Tasks ---

func TestSQLite_TaskQueue(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first := &model.Task{Kind: model.TaskScrapeRun, Payload: json.RawMessage(`{"job_id":"j1"}`)}
	require.NoError(t, st.EnqueueTask(ctx, first))
	delayed := &model.Task{Kind: model.TaskEnrichBatch, RunAfter: now.Add(time.Hour), MaxAttempts: 3}
	require.NoError(t, st.EnqueueTask(ctx, delayed))

	claimed, err := st.ClaimTask(ctx, now.Add(time.Second))
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, first.ID, claimed.ID)
	assert.Equal(t, model.TaskStatusRunning, claimed.Status)
	assert.Equal(t, 1, claimed.Attempts)
	assert.JSONEq(t, `{"job_id":"j1"}`, string(claimed.Payload))

	// Delayed task is not yet runnable.
	none, err := st.ClaimTask(ctx, now.Add(time.Second))
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, st.CompleteTask(ctx, claimed.ID, now))
	assert.True(t, errors.Is(st.CompleteTask(ctx, claimed.ID, now), ErrConflict))

	later, err := st.ClaimTask(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, later)
	assert.Equal(t, delayed.ID, later.ID)

	require.NoError(t, st.RetryTask(ctx, later.ID, "boom", now.Add(3*time.Hour)))
	got, err := st.GetTask(ctx, later.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusQueued, got.Status)
	assert.Equal(t, "boom", got.Error)
	assert.Nil(t, got.ClaimedAt)

	again, err := st.ClaimTask(ctx, now.Add(4*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, 2, again.Attempts)
	require.NoError(t, st.FailTask(ctx, again.ID, "fatal", now))

	got, err = st.GetTask(ctx, again.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, got.Status)
	assert.NotNil(t, got.FinishedAt)
}

func TestSQLite_TouchTask(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	task := &model.Task{Kind: model.TaskCampaignDeliver, RunAfter: now.Add(-3 * time.Hour)}
	require.NoError(t, st.EnqueueTask(ctx, task))
	assert.ErrorIs(t, st.TouchTask(ctx, task.ID, now), ErrConflict)

	claimed, err := st.ClaimTask(ctx, now.Add(-2*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, st.TouchTask(ctx, task.ID, now))

	n, err := st.RequeueStaleTasks(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ClaimedAt)
	assert.WithinDuration(t, now, *got.ClaimedAt, time.Second)

	assert.ErrorIs(t, st.TouchTask(ctx, "missing", now), ErrNotFound)
}

func TestSQLite_RequeueStaleTasks(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	task := &model.Task{Kind: model.TaskCampaignDeliver, RunAfter: now.Add(-time.Minute)}
	require.NoError(t, st.EnqueueTask(ctx, task))
	claimed, err := st.ClaimTask(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	n, err := st.RequeueStaleTasks(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = st.RequeueStaleTasks(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusQueued, got.Status)
}

// --- Stats ---

func TestSQLite_Stats(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	empty, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.Stats{}, *empty)

	c := seedCampaign(t, st, nil, model.LeadFilter{})
	opened := time.Now().UTC()
	for i, email := range []string{"a@x.fr", "b@x.fr", "c@x.fr"} {
		l := seedLead(t, st, "Lead", email, "")
		send := &model.EmailSend{CampaignID: c.ID, LeadID: l.ID, Subject: "s", Body: "b", Status: model.SendStatusSent}
		if i == 0 {
			send.OpenedAt = &opened
			send.ClickedAt = &opened
		}
		if i == 1 {
			send.OpenedAt = &opened
		}
		require.NoError(t, st.CreateSend(ctx, send))
	}
	seedLead(t, st, "No email", "", "")

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalProspects)
	assert.Equal(t, 3, stats.TotalEmailsSent)
	assert.Equal(t, 67, stats.OpenRate)
	assert.Equal(t, 33, stats.ConversionRate)
}
