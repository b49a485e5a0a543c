package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-cli/internal/api"
	"github.com/sells-group/prospect-cli/internal/config"
	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/queue"
)

// useTestConfig points cfg at a throwaway SQLite database with every
// external capability unconfigured.
func useTestConfig(t *testing.T) {
	t.Helper()
	prev := cfg
	cfg = &config.Config{
		Store:    config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "prospect.db")},
		AI:       config.AIConfig{Provider: "none"},
		Mail:     config.MailConfig{Provider: "sendgrid"},
		Campaign: config.CampaignConfig{ProgressEvery: 10},
		Enrich:   config.EnrichConfig{BatchLimit: 50, SearchLimit: 5, CacheTTLHours: 1},
		Scrape:   config.ScrapeConfig{MaxResults: 20, CustomURLLimit: 10, MaxTextChars: 15000},
		Queue:    config.QueueConfig{QueueName: "prospect.tasks"},
	}
	t.Cleanup(func() { cfg = prev })
}

func TestInitStore(t *testing.T) {
	useTestConfig(t)
	ctx := context.Background()

	st, err := initStore(ctx)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(ctx))
	require.NoError(t, st.Ping(ctx))
	assert.NoError(t, st.Close())
}

func TestInitStore_UnsupportedDriver(t *testing.T) {
	useTestConfig(t)
	cfg.Store.Driver = "mysql"

	_, err := initStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver: mysql")
}

func TestInitApp_Unconfigured(t *testing.T) {
	useTestConfig(t)

	env, err := initApp(context.Background(), true)
	require.NoError(t, err)
	defer env.Close()

	assert.Nil(t, env.Completer)
	assert.Nil(t, env.Enricher)
	assert.Nil(t, env.Mailer)
	assert.Error(t, env.MailErr)
	assert.Nil(t, env.AMQP)
	assert.NotNil(t, env.Runner)
	assert.NotNil(t, env.Dispatcher)
	assert.True(t, env.Chain.Configured(), "the anonymous reader is always available")

	d := env.apiDeps()
	assert.Nil(t, d.Enricher, "a missing enricher must stay an untyped nil")
	assert.Nil(t, d.Mailer, "a missing mailer must stay an untyped nil")
	assert.Equal(t, 50, d.EnrichLimit)
}

func TestInitApp_WithDirectoryKey(t *testing.T) {
	useTestConfig(t)
	cfg.Hunter = config.HunterConfig{Key: "hk", BaseURL: "http://127.0.0.1:0", RateLimit: 10}

	env, err := initApp(context.Background(), false)
	require.NoError(t, err)
	defer env.Close()

	require.NotNil(t, env.Enricher)
	assert.NotNil(t, env.apiDeps().Enricher)
}

func TestInitApp_InvalidConfig(t *testing.T) {
	useTestConfig(t)
	cfg.AI.Provider = "mistral"

	_, err := initApp(context.Background(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ai.provider")
}

func TestServices_Unconfigured(t *testing.T) {
	useTestConfig(t)
	env, err := initApp(context.Background(), false)
	require.NoError(t, err)
	defer env.Close()

	statuses := api.CheckServices(context.Background(), env.services())
	byID := make(map[string]api.ServiceStatus)
	for _, s := range statuses {
		byID[s.ID] = s
	}

	assert.Equal(t, api.StatusNotConfigured, byID["ai"].Status)
	assert.Equal(t, api.StatusNotConfigured, byID["hunter"].Status)
	assert.Equal(t, api.StatusNotConfigured, byID["mail"].Status)
	assert.Equal(t, api.StatusNotConfigured, byID["queue"].Status)
	assert.Equal(t, api.StatusConnected, byID["scraping"].Status)
}

func TestRegisterHandlers_EnrichWithoutDirectoryFails(t *testing.T) {
	useTestConfig(t)
	ctx := context.Background()
	env, err := initApp(ctx, false)
	require.NoError(t, err)
	defer env.Close()

	task, err := env.Queue.Enqueue(ctx, model.TaskEnrichBatch,
		queue.EnrichPayload{OnlyMissingEmail: true, Limit: 5},
		queue.EnqueueOptions{MaxAttempts: 3},
	)
	require.NoError(t, err)

	ran, err := env.newWorker().RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, ran)

	got, err := env.Store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, got.Status, "a missing directory is not retried")
	assert.Contains(t, got.Error, "directory not configured")
}

func TestRegisterHandlers_ScrapeUnknownJob(t *testing.T) {
	useTestConfig(t)
	ctx := context.Background()
	env, err := initApp(ctx, false)
	require.NoError(t, err)
	defer env.Close()

	task, err := env.Queue.Enqueue(ctx, model.TaskScrapeRun, queue.ScrapePayload{JobID: "missing"}, queue.EnqueueOptions{})
	require.NoError(t, err)

	ran, err := env.newWorker().RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, ran)

	got, err := env.Store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, got.Status)
}

func TestRegisterHandlers_BadPayloadIsFatal(t *testing.T) {
	useTestConfig(t)
	ctx := context.Background()
	env, err := initApp(ctx, false)
	require.NoError(t, err)
	defer env.Close()

	task := &model.Task{Kind: model.TaskCampaignDeliver, Payload: []byte(`"not an object"`), MaxAttempts: 3}
	require.NoError(t, env.Store.EnqueueTask(ctx, task))

	ran, err := env.newWorker().RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, ran)

	got, err := env.Store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, got.Status)
	assert.Equal(t, 1, got.Attempts)
}
