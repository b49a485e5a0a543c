package queue

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/prospect-cli/internal/metrics"
	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/resilience"
	"github.com/sells-group/prospect-cli/internal/store"
)

// Handler runs one task. Returning an error wrapped with resilience.Fatal
// fails the task without further attempts.
type Handler func(ctx context.Context, task *model.Task) error

// Defaults for a Worker.
const (
	DefaultPollInterval      = 2 * time.Second
	DefaultVisibilityTimeout = time.Hour
	DefaultBackoff           = 30 * time.Second
	maxBackoff               = 10 * time.Minute
)

// Worker claims and runs queued tasks.
type Worker struct {
	store        store.Store
	handlers     map[string]Handler
	notifier     Notifier
	pollInterval time.Duration
	visibility   time.Duration
	backoff      time.Duration
	concurrency  int
	now          func() time.Time
	mu           sync.RWMutex
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithNotifier wakes the worker on enqueue instead of waiting for a poll.
func WithNotifier(n Notifier) WorkerOption {
	return func(w *Worker) { w.notifier = n }
}

// WithPollInterval sets the idle poll interval.
func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithVisibilityTimeout sets how long a claimed task may go without a
// heartbeat before a starting worker requeues it. Running tasks are touched
// every quarter of this timeout.
func WithVisibilityTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.visibility = d
		}
	}
}

// WithBackoff sets the base retry delay, doubled per attempt.
func WithBackoff(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.backoff = d
		}
	}
}

// WithConcurrency sets the number of tasks run at once.
func WithConcurrency(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithWorkerClock replaces time.Now.
func WithWorkerClock(now func() time.Time) WorkerOption {
	return func(w *Worker) { w.now = now }
}

// NewWorker creates a Worker.
func NewWorker(st store.Store, opts ...WorkerOption) *Worker {
	w := &Worker{
		store:        st,
		handlers:     make(map[string]Handler),
		pollInterval: DefaultPollInterval,
		visibility:   DefaultVisibilityTimeout,
		backoff:      DefaultBackoff,
		concurrency:  1,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Handle registers h for kind, replacing any previous handler.
func (w *Worker) Handle(kind string, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[kind] = h
}

func (w *Worker) handler(kind string) (Handler, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	h, ok := w.handlers[kind]
	return h, ok
}

// Run requeues stale tasks, then processes tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	n, err := w.store.RequeueStaleTasks(ctx, w.now().Add(-w.visibility))
	if err != nil {
		return eris.Wrap(err, "queue: requeue stale tasks")
	}
	if n > 0 {
		zap.L().Warn("queue: requeued stale tasks", zap.Int("count", n))
	}

	zap.L().Info("queue: worker started",
		zap.Int("concurrency", w.concurrency),
		zap.Duration("poll_interval", w.pollInterval),
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		g.Go(func() error { return w.loop(gctx) })
	}
	err = g.Wait()
	zap.L().Info("queue: worker stopped")
	return err
}

func (w *Worker) loop(ctx context.Context) error {
	var wake <-chan struct{}
	if w.notifier != nil {
		wake = w.notifier.Wakeups()
	}
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		for {
			if ctx.Err() != nil {
				return nil
			}
			ran, err := w.RunOnce(ctx)
			if err != nil {
				zap.L().Error("queue: claim failed", zap.Error(err))
				break
			}
			if !ran {
				break
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-wake:
		}
	}
}

// RunOnce claims and runs at most one task. It reports whether a task ran.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	task, err := w.store.ClaimTask(ctx, w.now())
	if err != nil {
		return false, eris.Wrap(err, "queue: claim task")
	}
	if task == nil {
		return false, nil
	}
	w.process(ctx, task)
	return true, nil
}

func (w *Worker) process(ctx context.Context, task *model.Task) {
	log := zap.L().With(
		zap.String("task_id", task.ID),
		zap.String("kind", task.Kind),
		zap.Int("attempt", task.Attempts),
	)
	// Bookkeeping must land even when shutdown cancelled the run.
	bctx := context.WithoutCancel(ctx)
	start := time.Now()

	h, ok := w.handler(task.Kind)
	if !ok {
		log.Error("queue: no handler for task kind")
		w.finish(task, "failed", start, w.store.FailTask(bctx, task.ID, "no handler for kind "+task.Kind, w.now()))
		return
	}

	hctx, stopHeartbeat := context.WithCancel(ctx)
	var hb sync.WaitGroup
	hb.Add(1)
	go func() {
		defer hb.Done()
		w.heartbeat(hctx, task.ID, log)
	}()
	runErr := h(ctx, task)
	stopHeartbeat()
	hb.Wait()
	switch {
	case runErr == nil:
		log.Info("queue: task done", zap.Duration("elapsed", time.Since(start)))
		w.finish(task, "done", start, w.store.CompleteTask(bctx, task.ID, w.now()))

	case task.CanRetry() && !resilience.IsFatal(runErr) && ctx.Err() == nil:
		runAfter := w.now().Add(w.retryDelay(task.Attempts))
		log.Warn("queue: task failed, retrying",
			zap.Error(runErr),
			zap.Time("run_after", runAfter),
		)
		w.finish(task, "retried", start, w.store.RetryTask(bctx, task.ID, runErr.Error(), runAfter))

	default:
		log.Error("queue: task failed", zap.Error(runErr))
		w.finish(task, "failed", start, w.store.FailTask(bctx, task.ID, runErr.Error(), w.now()))
	}
}

// heartbeat refreshes the task's claim until ctx is done, so a long
// delivery is not requeued by another worker starting up.
func (w *Worker) heartbeat(ctx context.Context, taskID string, log *zap.Logger) {
	t := time.NewTicker(w.visibility / 4)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := w.store.TouchTask(ctx, taskID, w.now()); err != nil && ctx.Err() == nil {
				log.Warn("queue: task heartbeat failed", zap.Error(err))
			}
		}
	}
}

func (w *Worker) finish(task *model.Task, status string, start time.Time, err error) {
	metrics.TaskFinished(task.Kind, status, time.Since(start))
	if err != nil {
		zap.L().Error("queue: record task outcome",
			zap.String("task_id", task.ID),
			zap.String("status", status),
			zap.Error(err),
		)
	}
}

// retryDelay doubles the base backoff per attempt, capped at ten minutes.
func (w *Worker) retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(w.backoff) * math.Pow(2, float64(attempt-1)))
	if d > maxBackoff || d <= 0 {
		return maxBackoff
	}
	return d
}
