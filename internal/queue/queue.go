// Package queue persists background tasks in the store and runs them with a
// polling worker that can be woken early by a Notifier.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/store"
)

// Payloads of the task kinds.
type (
	// ScrapePayload runs a scraping job.
	ScrapePayload struct {
		JobID string `json:"job_id"`
	}
	// CampaignPayload delivers a launched campaign.
	CampaignPayload struct {
		CampaignID string `json:"campaign_id"`
	}
	// EnrichPayload runs a batch enrichment.
	EnrichPayload struct {
		OnlyMissingEmail bool `json:"only_missing_email"`
		Limit            int  `json:"limit"`
	}
)

// EnqueueOptions controls retry behavior of a task.
type EnqueueOptions struct {
	MaxAttempts int
	RunAfter    time.Time
}

// Enqueuer adds tasks to the queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind string, payload any, opts EnqueueOptions) (*model.Task, error)
}

// Queue writes tasks to the store and signals workers.
type Queue struct {
	store    store.Store
	notifier Notifier
}

// New creates a Queue. notifier may be nil; workers then rely on polling.
func New(st store.Store, notifier Notifier) *Queue {
	return &Queue{store: st, notifier: notifier}
}

// Enqueue persists a task of kind with a JSON-encoded payload.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload any, opts EnqueueOptions) (*model.Task, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrapf(err, "queue: encode %s payload", kind)
	}

	task := &model.Task{
		Kind:        kind,
		Payload:     raw,
		MaxAttempts: opts.MaxAttempts,
		RunAfter:    opts.RunAfter,
	}
	if err := q.store.EnqueueTask(ctx, task); err != nil {
		return nil, eris.Wrapf(err, "queue: enqueue %s", kind)
	}

	if q.notifier != nil {
		if err := q.notifier.Notify(ctx, task.ID); err != nil {
			// Polling picks the task up anyway.
			zap.L().Warn("queue: notify failed", zap.String("task_id", task.ID), zap.Error(err))
		}
	}
	zap.L().Debug("queue: task enqueued",
		zap.String("task_id", task.ID),
		zap.String("kind", kind),
		zap.Int("max_attempts", task.MaxAttempts),
	)
	return task, nil
}

// Decode unmarshals a task payload.
func Decode[T any](task *model.Task) (T, error) {
	var v T
	if err := json.Unmarshal(task.Payload, &v); err != nil {
		return v, eris.Wrapf(err, "queue: decode %s payload", task.Kind)
	}
	return v, nil
}
