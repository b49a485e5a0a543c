// Package schedule runs the periodic jobs of the serve command: launching due
// campaigns and enqueueing nightly enrichment.
package schedule

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/queue"
)

// Launcher launches campaigns whose schedule has passed.
type Launcher interface {
	LaunchDue(ctx context.Context, now time.Time) (int, error)
}

// Config holds the cron specs. An empty spec disables the entry.
type Config struct {
	DueCampaigns string
	Enrichment   string
	EnrichLimit  int
}

// Scheduler wraps a cron runner.
type Scheduler struct {
	cron     *cron.Cron
	launcher Launcher
	queue    queue.Enqueuer
	cfg      Config
	now      func() time.Time
	ctx      context.Context
}

// New registers the configured entries. launcher and q may be nil to skip
// their entries.
func New(cfg Config, launcher Launcher, q queue.Enqueuer) (*Scheduler, error) {
	logger := cronLogger{l: zap.L().Sugar()}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		launcher: launcher,
		queue:    q,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		ctx:      context.Background(),
	}

	if cfg.DueCampaigns != "" && launcher != nil {
		if _, err := s.cron.AddFunc(cfg.DueCampaigns, func() { s.LaunchDue(s.ctx) }); err != nil {
			return nil, eris.Wrapf(err, "schedule: parse due_campaigns %q", cfg.DueCampaigns)
		}
	}
	if cfg.Enrichment != "" && q != nil {
		if _, err := s.cron.AddFunc(cfg.Enrichment, func() { s.EnqueueEnrichment(s.ctx) }); err != nil {
			return nil, eris.Wrapf(err, "schedule: parse enrichment %q", cfg.Enrichment)
		}
	}
	return s, nil
}

// Len returns the number of registered entries.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Run starts the cron runner and blocks until ctx is done, then waits for
// running jobs to return.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ctx = ctx
	s.cron.Start()
	zap.L().Info("schedule: started", zap.Int("entries", s.Len()))

	<-ctx.Done()
	<-s.cron.Stop().Done()
	zap.L().Info("schedule: stopped")
	return nil
}

// LaunchDue is the campaigns.due entry.
func (s *Scheduler) LaunchDue(ctx context.Context) {
	n, err := s.launcher.LaunchDue(ctx, s.now())
	if err != nil {
		zap.L().Error("schedule: launch due campaigns", zap.Error(err))
		return
	}
	if n > 0 {
		zap.L().Info("schedule: launched due campaigns", zap.Int("count", n))
	}
}

// EnqueueEnrichment is the enrich.batch entry.
func (s *Scheduler) EnqueueEnrichment(ctx context.Context) {
	task, err := s.queue.Enqueue(ctx, model.TaskEnrichBatch,
		queue.EnrichPayload{OnlyMissingEmail: true, Limit: s.cfg.EnrichLimit},
		queue.EnqueueOptions{MaxAttempts: 1},
	)
	if err != nil {
		zap.L().Error("schedule: enqueue enrichment", zap.Error(err))
		return
	}
	zap.L().Info("schedule: enrichment enqueued", zap.String("task_id", task.ID))
}

// cronLogger routes cron's logs through zap.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debugw("schedule: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Errorw("schedule: "+msg, append(keysAndValues, "error", err)...)
}
