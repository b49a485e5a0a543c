// Package campaign launches email campaigns and delivers them sequentially
// with a fixed delay between sends.
package campaign

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/mailer"
	"github.com/sells-group/prospect-cli/internal/metrics"
	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/queue"
	"github.com/sells-group/prospect-cli/internal/render"
	"github.com/sells-group/prospect-cli/internal/store"
)

// Launch precondition errors.
var (
	ErrCampaignNotFound = eris.New("campaign: not found")
	ErrNotDraft         = eris.New("campaign: not a draft")
	ErrNoTemplate       = eris.New("campaign: no template")
	ErrTemplateNotFound = eris.New("campaign: template not found")
	ErrNoRecipients     = eris.New("campaign: no recipients with a valid email")
)

// Defaults for a Dispatcher.
const (
	DefaultDelay         = time.Second
	DefaultProgressEvery = 10
)

// LaunchResult is returned by a successful launch.
type LaunchResult struct {
	CampaignID string `json:"campaign_id"`
	Recipients int    `json:"recipients"`
	TaskID     string `json:"task_id,omitempty"`
}

// Dispatcher launches and delivers campaigns.
type Dispatcher struct {
	store         store.Store
	renderer      *render.Renderer
	mailer        mailer.Mailer
	queue         queue.Enqueuer
	delay         time.Duration
	progressEvery int
	now           func() time.Time
	sleep         func(ctx context.Context, d time.Duration) error
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithDelay sets the gap between consecutive sends.
func WithDelay(d time.Duration) Option {
	return func(x *Dispatcher) {
		if d >= 0 {
			x.delay = d
		}
	}
}

// WithProgressEvery sets how often progress is persisted.
func WithProgressEvery(n int) Option {
	return func(x *Dispatcher) {
		if n > 0 {
			x.progressEvery = n
		}
	}
}

// WithQueue makes Launch enqueue delivery. Without a queue the caller runs
// Deliver itself.
func WithQueue(q queue.Enqueuer) Option {
	return func(x *Dispatcher) { x.queue = q }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(x *Dispatcher) { x.now = now }
}

// WithSleep replaces the context-aware sleep between sends.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(x *Dispatcher) { x.sleep = sleep }
}

// New creates a Dispatcher. m may be nil, in which case Launch and Deliver
// return mailer.ErrNotConfigured.
func New(st store.Store, r *render.Renderer, m mailer.Mailer, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:         st,
		renderer:      r,
		mailer:        m,
		delay:         DefaultDelay,
		progressEvery: DefaultProgressEvery,
		now:           func() time.Time { return time.Now().UTC() },
		sleep:         sleepCtx,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Launch checks preconditions, activates the campaign and enqueues delivery.
// Every precondition is checked before the first write.
func (d *Dispatcher) Launch(ctx context.Context, campaignID string) (*LaunchResult, error) {
	c, tpl, err := d.load(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if d.mailer == nil {
		return nil, mailer.ErrNotConfigured
	}

	recipients, err := d.recipients(ctx, c)
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}

	if err := d.store.ActivateCampaign(ctx, c.ID, len(recipients), d.now()); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, eris.Wrapf(ErrNotDraft, "campaign %s was launched concurrently", c.ID)
		}
		return nil, eris.Wrap(err, "campaign: activate")
	}

	res := &LaunchResult{CampaignID: c.ID, Recipients: len(recipients)}
	log := zap.L().With(zap.String("campaign_id", c.ID), zap.String("template", tpl.Name))

	if d.queue != nil {
		task, err := d.queue.Enqueue(ctx, model.TaskCampaignDeliver,
			queue.CampaignPayload{CampaignID: c.ID},
			queue.EnqueueOptions{MaxAttempts: 1},
		)
		if err != nil {
			d.fail(ctx, c.ID, 0, 0, err)
			return nil, eris.Wrap(err, "campaign: enqueue delivery")
		}
		res.TaskID = task.ID
	}

	log.Info("campaign: launched", zap.Int("recipients", res.Recipients), zap.String("task_id", res.TaskID))
	return res, nil
}

// LaunchDue launches draft campaigns whose schedule has passed. Campaigns
// failing a precondition stay draft.
func (d *Dispatcher) LaunchDue(ctx context.Context, now time.Time) (int, error) {
	due, err := d.store.ListDueCampaigns(ctx, now)
	if err != nil {
		return 0, eris.Wrap(err, "campaign: list due")
	}
	launched := 0
	for _, c := range due {
		if ctx.Err() != nil {
			return launched, ctx.Err()
		}
		if _, err := d.Launch(ctx, c.ID); err != nil {
			zap.L().Warn("campaign: scheduled launch skipped",
				zap.String("campaign_id", c.ID),
				zap.String("name", c.Name),
				zap.Error(err),
			)
			continue
		}
		launched++
	}
	return launched, nil
}

// Deliver sends the campaign to every recipient that has no send record yet.
// An error escaping the loop marks the campaign failed.
func (d *Dispatcher) Deliver(ctx context.Context, campaignID string) error {
	c, err := d.store.GetCampaign(ctx, campaignID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return eris.Wrap(ErrCampaignNotFound, campaignID)
		}
		return eris.Wrap(err, "campaign: load")
	}

	log := zap.L().With(zap.String("campaign_id", c.ID), zap.String("campaign", c.Name))
	switch {
	case c.Status.Terminal():
		log.Info("campaign: already finished", zap.String("status", string(c.Status)))
		return nil
	case c.Status != model.CampaignStatusActive:
		return eris.Wrapf(ErrNotDraft, "campaign %s is %s, not active", c.ID, c.Status)
	}

	sent, failed, err := d.deliver(ctx, c, log)
	if err != nil {
		d.fail(ctx, c.ID, sent, failed, err)
		return err
	}

	if err := d.store.FinishCampaign(ctx, c.ID, model.CampaignStatusCompleted, sent, failed, "", d.now()); err != nil {
		return eris.Wrap(err, "campaign: finish")
	}
	log.Info("campaign: completed", zap.Int("sent", sent), zap.Int("failed", failed))
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, c *model.Campaign, log *zap.Logger) (sent, failed int, err error) {
	if d.mailer == nil {
		return 0, 0, mailer.ErrNotConfigured
	}
	if c.TemplateID == nil || *c.TemplateID == "" {
		return 0, 0, ErrNoTemplate
	}
	tpl, err := d.store.GetTemplate(ctx, *c.TemplateID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, 0, eris.Wrap(ErrTemplateNotFound, *c.TemplateID)
		}
		return 0, 0, eris.Wrap(err, "campaign: load template")
	}

	recipients, err := d.recipients(ctx, c)
	if err != nil {
		return 0, 0, err
	}

	prior, err := d.store.ListSends(ctx, c.ID)
	if err != nil {
		return 0, 0, eris.Wrap(err, "campaign: list sends")
	}
	done := make(map[string]bool, len(prior))
	for _, s := range prior {
		done[s.LeadID] = true
		switch s.Status {
		case model.SendStatusSent:
			sent++
		case model.SendStatusFailed:
			failed++
		}
	}
	if len(prior) > 0 {
		log.Info("campaign: resuming", zap.Int("already_attempted", len(prior)))
	}

	attempted := 0
	for _, lead := range recipients {
		if done[lead.ID] {
			continue
		}
		if attempted > 0 {
			if err := d.sleep(ctx, d.delay); err != nil {
				return sent, failed, eris.Wrap(err, "campaign: interrupted")
			}
		}
		attempted++

		ok, err := d.sendOne(ctx, c, tpl, lead)
		if err != nil {
			return sent, failed, err
		}
		if ok {
			sent++
		} else {
			failed++
		}

		if attempted%d.progressEvery == 0 {
			if err := d.store.UpdateCampaignProgress(ctx, c.ID, sent, failed); err != nil {
				log.Warn("campaign: persist progress", zap.Error(err))
			}
			log.Info("campaign: progress",
				zap.Int("sent", sent),
				zap.Int("failed", failed),
				zap.Int("total", len(recipients)),
			)
		}
	}
	return sent, failed, nil
}

// sendOne renders and sends to one lead. A delivery failure is recorded and
// reported as ok=false; only a store failure is returned as an error.
func (d *Dispatcher) sendOne(ctx context.Context, c *model.Campaign, tpl *model.Template, lead model.Lead) (bool, error) {
	rendered := d.renderer.Render(ctx, *tpl, render.VarsFromLead(lead))

	send := &model.EmailSend{
		CampaignID: c.ID,
		LeadID:     lead.ID,
		Subject:    rendered.Subject,
		Body:       rendered.Body,
	}

	providerID, sendErr := d.mailer.Send(ctx, mailer.Message{
		To:      lead.Email,
		Subject: rendered.Subject,
		HTML:    render.TextToHTML(rendered.Body),
		Text:    rendered.Body,
	})
	now := d.now()
	if sendErr != nil {
		send.Status = model.SendStatusFailed
		send.Error = sendErr.Error()
		metrics.EmailSent(string(model.SendStatusFailed))
		zap.L().Warn("campaign: send failed",
			zap.String("campaign_id", c.ID),
			zap.String("lead_id", lead.ID),
			zap.String("to", lead.Email),
			zap.Error(sendErr),
		)
	} else {
		send.Status = model.SendStatusSent
		send.ProviderID = providerID
		send.SentAt = &now
		metrics.EmailSent(string(model.SendStatusSent))
	}

	if err := d.store.CreateSend(ctx, send); err != nil {
		return false, eris.Wrapf(err, "campaign: record send to lead %s", lead.ID)
	}
	if sendErr != nil {
		return false, nil
	}
	if err := d.store.MarkLeadContacted(ctx, lead.ID, now); err != nil {
		zap.L().Warn("campaign: mark lead contacted", zap.String("lead_id", lead.ID), zap.Error(err))
	}
	return true, nil
}

func (d *Dispatcher) load(ctx context.Context, id string) (*model.Campaign, *model.Template, error) {
	c, err := d.store.GetCampaign(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, eris.Wrap(ErrCampaignNotFound, id)
		}
		return nil, nil, eris.Wrap(err, "campaign: load")
	}
	if c.Status != model.CampaignStatusDraft {
		return nil, nil, eris.Wrapf(ErrNotDraft, "campaign %s is %s", c.ID, c.Status)
	}
	if c.TemplateID == nil || *c.TemplateID == "" {
		return nil, nil, ErrNoTemplate
	}
	tpl, err := d.store.GetTemplate(ctx, *c.TemplateID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, eris.Wrap(ErrTemplateNotFound, *c.TemplateID)
		}
		return nil, nil, eris.Wrap(err, "campaign: load template")
	}
	return c, tpl, nil
}

// recipients resolves the campaign filter to leads with a usable email.
func (d *Dispatcher) recipients(ctx context.Context, c *model.Campaign) ([]model.Lead, error) {
	filter, err := c.Filter()
	if err != nil {
		return nil, eris.Wrap(err, "campaign: decode recipient filter")
	}
	leads, err := d.store.ListLeads(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "campaign: list recipients")
	}
	out := leads[:0]
	for _, l := range leads {
		if l.HasValidEmail() {
			out = append(out, l)
		}
	}
	return out, nil
}

func (d *Dispatcher) fail(ctx context.Context, id string, sent, failed int, cause error) {
	err := d.store.FinishCampaign(context.WithoutCancel(ctx), id, model.CampaignStatusFailed, sent, failed, cause.Error(), d.now())
	if err != nil {
		zap.L().Error("campaign: record failure", zap.String("campaign_id", id), zap.Error(err))
	}
	zap.L().Error("campaign: failed", zap.String("campaign_id", id), zap.Error(cause))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
