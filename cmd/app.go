package main

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/api"
	"github.com/sells-group/prospect-cli/internal/cache"
	"github.com/sells-group/prospect-cli/internal/campaign"
	"github.com/sells-group/prospect-cli/internal/enrich"
	"github.com/sells-group/prospect-cli/internal/extract"
	"github.com/sells-group/prospect-cli/internal/llm"
	"github.com/sells-group/prospect-cli/internal/mailer"
	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/queue"
	"github.com/sells-group/prospect-cli/internal/render"
	"github.com/sells-group/prospect-cli/internal/resilience"
	"github.com/sells-group/prospect-cli/internal/scrape"
	"github.com/sells-group/prospect-cli/internal/store"
	"github.com/sells-group/prospect-cli/pkg/firecrawl"
	"github.com/sells-group/prospect-cli/pkg/hunter"
	"github.com/sells-group/prospect-cli/pkg/jina"
)

// appEnv holds the store, clients and services shared by the commands.
// Completer, Enricher, Mailer and AMQP are nil when not configured.
type appEnv struct {
	Store      store.Store
	Completer  llm.Completer
	Cache      cache.Cache
	Chain      *scrape.Chain
	Runner     *scrape.Runner
	Enricher   *enrich.Engine
	Renderer   *render.Renderer
	Generator  *render.TemplateGenerator
	Mailer     mailer.Mailer
	MailErr    error
	Notifier   queue.Notifier
	AMQP       *queue.AMQPNotifier
	Queue      *queue.Queue
	Dispatcher *campaign.Dispatcher
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Notifier != nil {
		_ = e.Notifier.Close()
	}
	if e.Cache != nil {
		_ = e.Cache.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured store backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "prospect.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens and migrates the store. Callers should defer Close.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initApp builds every service from cfg. Capabilities without credentials
// are left nil and fail on first use. withQueue makes the dispatcher hand
// delivery to the worker instead of the caller.
func initApp(ctx context.Context, withQueue bool) (*appEnv, error) {
	if err := cfg.Validate(""); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st}

	completer, err := llm.New(llm.Config{
		Provider:       cfg.AI.Provider,
		AnthropicKey:   cfg.Anthropic.Key,
		AnthropicModel: cfg.Anthropic.Model,
		OpenAIKey:      cfg.OpenAI.Key,
		OpenAIModel:    cfg.OpenAI.Model,
	})
	switch {
	case errors.Is(err, llm.ErrNotConfigured):
		zap.L().Info("llm not configured, using pattern extraction and fallback templates")
	case err != nil:
		env.Close()
		return nil, err
	default:
		env.Completer = completer
	}

	env.Cache, err = cache.Open(ctx, cfg.Redis.URL, "prospect:")
	if err != nil {
		env.Close()
		return nil, err
	}

	retry := resilience.FromSettings(cfg.Enrich.RetryAttempts, cfg.Enrich.RetryBackoffMs, 0)

	fc := firecrawl.NewClient(cfg.Firecrawl.Key, firecrawl.WithBaseURL(cfg.Firecrawl.BaseURL))
	if cfg.Firecrawl.Key == "" {
		fc = nil
	}
	jc := jina.NewClient(cfg.Jina.Key, jina.WithBaseURL(cfg.Jina.BaseURL))
	env.Chain = scrape.NewDefaultChain(fc, jc, time.Duration(cfg.Scrape.CrawlTimeout)*time.Second)

	extractor := extract.New(env.Completer, extract.WithMaxChars(cfg.Scrape.MaxTextChars))
	env.Runner = scrape.NewRunner(st, env.Chain, extractor,
		scrape.WithSearcher(scrape.NewJinaSearcher(jc)),
		scrape.WithSettings(scrape.Settings{
			MaxResults:     cfg.Scrape.MaxResults,
			CustomURLLimit: cfg.Scrape.CustomURLLimit,
		}),
	)

	if cfg.Hunter.Key != "" {
		hc := hunter.NewClient(cfg.Hunter.Key,
			hunter.WithBaseURL(cfg.Hunter.BaseURL),
			hunter.WithRateLimit(cfg.Hunter.RateLimit),
			hunter.WithRetry(retry),
		)
		dir := enrich.NewCachedDirectory(hc, env.Cache, time.Duration(cfg.Enrich.CacheTTLHours)*time.Hour)
		env.Enricher = enrich.New(st, dir, enrich.WithSearchLimit(cfg.Enrich.SearchLimit))
	}

	var gen render.Generator
	if env.Completer != nil {
		gen = llm.Generate{Completer: env.Completer, System: render.PersonalizationSystem}
	}
	env.Renderer = render.NewRenderer(gen)
	env.Generator = render.NewTemplateGenerator(env.Completer)

	env.Mailer, env.MailErr = mailer.New(cfg.Mail)
	if env.MailErr != nil {
		zap.L().Info("mailer not configured", zap.Error(env.MailErr))
	}

	if cfg.Queue.AMQPURL != "" {
		env.AMQP, err = queue.DialAMQP(cfg.Queue.AMQPURL, cfg.Queue.QueueName)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.Notifier = env.AMQP
	} else {
		env.Notifier = queue.NewChannelNotifier()
	}
	env.Queue = queue.New(st, env.Notifier)

	opts := []campaign.Option{
		campaign.WithDelay(time.Duration(cfg.Campaign.SendDelayMs) * time.Millisecond),
		campaign.WithProgressEvery(cfg.Campaign.ProgressEvery),
	}
	if withQueue {
		opts = append(opts, campaign.WithQueue(env.Queue))
	}
	env.Dispatcher = campaign.New(st, env.Renderer, env.Mailer, opts...)

	return env, nil
}

// newWorker builds a worker with every task kind registered.
func (e *appEnv) newWorker() *queue.Worker {
	w := queue.NewWorker(e.Store,
		queue.WithNotifier(e.Notifier),
		queue.WithPollInterval(time.Duration(cfg.Worker.PollIntervalMs)*time.Millisecond),
		queue.WithVisibilityTimeout(time.Duration(cfg.Worker.VisibilityTimeout)*time.Second),
		queue.WithConcurrency(cfg.Worker.Concurrency),
	)
	e.registerHandlers(w)
	return w
}

func (e *appEnv) registerHandlers(w *queue.Worker) {
	w.Handle(model.TaskScrapeRun, func(ctx context.Context, task *model.Task) error {
		p, err := queue.Decode[queue.ScrapePayload](task)
		if err != nil {
			return resilience.Fatal(err)
		}
		_, err = e.Runner.Run(ctx, p.JobID)
		return err
	})

	w.Handle(model.TaskCampaignDeliver, func(ctx context.Context, task *model.Task) error {
		p, err := queue.Decode[queue.CampaignPayload](task)
		if err != nil {
			return resilience.Fatal(err)
		}
		return e.Dispatcher.Deliver(ctx, p.CampaignID)
	})

	w.Handle(model.TaskEnrichBatch, func(ctx context.Context, task *model.Task) error {
		if e.Enricher == nil {
			return resilience.Fatal(eris.New("enrich: directory not configured"))
		}
		p, err := queue.Decode[queue.EnrichPayload](task)
		if err != nil {
			return resilience.Fatal(err)
		}
		res, err := e.Enricher.EnrichBatch(ctx, enrich.Options{
			OnlyMissingEmail: p.OnlyMissingEmail,
			Limit:            p.Limit,
			Delay:            time.Duration(cfg.Enrich.DelayMs) * time.Millisecond,
		})
		if err != nil {
			return err
		}
		zap.L().Info("enrich: batch task complete",
			zap.String("task_id", task.ID),
			zap.Int("enriched", res.Enriched),
			zap.Int("failed", res.Failed),
		)
		return nil
	})
}

// apiDeps wires the router. Nil capabilities stay untyped nil so the
// handlers can answer 503.
func (e *appEnv) apiDeps() api.Deps {
	d := api.Deps{
		Store:          e.Store,
		Jobs:           e.Runner,
		Campaigns:      e.Dispatcher,
		Generator:      e.Generator,
		Queue:          e.Queue,
		Services:       e.services(),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		EnrichLimit:    cfg.Enrich.BatchLimit,
	}
	if e.Enricher != nil {
		d.Enricher = e.Enricher
	}
	if e.Mailer != nil {
		d.Mailer = e.Mailer
	}
	return d
}

// services lists the external integrations reported by the settings route.
func (e *appEnv) services() []api.Service {
	svcs := []api.Service{
		{
			ID:         "ai",
			Name:       "AI provider (" + cfg.AI.Provider + ")",
			Configured: e.Completer != nil,
			Note:       "pattern extraction and fallback templates are used without a key",
		},
		{
			ID:         "scraping",
			Name:       "Firecrawl / Jina",
			Configured: e.Chain.Configured(),
		},
		{
			ID:         "mail",
			Name:       "Email (" + cfg.Mail.Provider + ")",
			Configured: e.Mailer != nil,
		},
		{
			ID:         "queue",
			Name:       "RabbitMQ",
			Configured: e.AMQP != nil,
			Note:       "the worker polls the store without it",
		},
	}

	if c, ok := e.Mailer.(mailer.Checker); ok {
		svcs[2].Check = func(ctx context.Context) (any, error) {
			return nil, c.CheckConnection(ctx)
		}
	}

	hunterSvc := api.Service{
		ID:         "hunter",
		Name:       "Hunter.io",
		Configured: e.Enricher != nil,
	}
	if e.Enricher != nil {
		hunterSvc.Check = func(ctx context.Context) (any, error) {
			return e.Enricher.CheckConnection(ctx)
		}
	}
	return append(svcs, hunterSvc)
}
