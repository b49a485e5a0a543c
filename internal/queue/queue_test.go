package queue

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/resilience"
	"github.com/sells-group/prospect-cli/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestEnqueue(t *testing.T) {
	st := newTestStore(t)
	n := NewChannelNotifier()
	q := New(st, n)

	task, err := q.Enqueue(context.Background(), model.TaskScrapeRun, ScrapePayload{JobID: "job-1"}, EnqueueOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, 1, task.MaxAttempts)

	got, err := st.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusQueued, got.Status)
	assert.JSONEq(t, `{"job_id":"job-1"}`, string(got.Payload))

	select {
	case <-n.Wakeups():
	default:
		t.Fatal("expected a wakeup")
	}
}

func TestDecode(t *testing.T) {
	p, err := Decode[EnrichPayload](&model.Task{Kind: model.TaskEnrichBatch, Payload: []byte(`{"only_missing_email":true,"limit":25}`)})
	require.NoError(t, err)
	assert.Equal(t, EnrichPayload{OnlyMissingEmail: true, Limit: 25}, p)

	_, err = Decode[EnrichPayload](&model.Task{Kind: model.TaskEnrichBatch, Payload: []byte(`[`)})
	assert.Error(t, err)
}

func TestWorker_RunOnce(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	q := New(st, nil)
	w := NewWorker(st)

	var got CampaignPayload
	w.Handle(model.TaskCampaignDeliver, func(_ context.Context, task *model.Task) error {
		var err error
		got, err = Decode[CampaignPayload](task)
		return err
	})

	task, err := q.Enqueue(ctx, model.TaskCampaignDeliver, CampaignPayload{CampaignID: "c1"}, EnqueueOptions{MaxAttempts: 1})
	require.NoError(t, err)

	ran, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, "c1", got.CampaignID)

	done, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusDone, done.Status)
	assert.Equal(t, 1, done.Attempts)
	assert.NotNil(t, done.FinishedAt)

	ran, err = w.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, ran, "queue is empty")
}

func TestWorker_RetriesWithBackoff(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	w := NewWorker(st, WithBackoff(time.Minute))
	w.Handle(model.TaskEnrichBatch, func(context.Context, *model.Task) error {
		return errors.New("hunter: HTTP 503")
	})

	task, err := New(st, nil).Enqueue(ctx, model.TaskEnrichBatch, EnrichPayload{Limit: 5}, EnqueueOptions{MaxAttempts: 2})
	require.NoError(t, err)

	before := time.Now()
	_, err = w.RunOnce(ctx)
	require.NoError(t, err)

	retried, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusQueued, retried.Status)
	assert.Equal(t, 1, retried.Attempts)
	assert.Equal(t, "hunter: HTTP 503", retried.Error)
	assert.True(t, retried.RunAfter.After(before.Add(50*time.Second)), "run_after %s", retried.RunAfter)

	ran, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, ran, "not runnable before backoff elapses")

	later := NewWorker(st, WithWorkerClock(func() time.Time { return time.Now().Add(2 * time.Minute).UTC() }))
	later.Handle(model.TaskEnrichBatch, func(context.Context, *model.Task) error {
		return errors.New("still down")
	})
	ran, err = later.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, ran)

	failed, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, failed.Status)
	assert.Equal(t, 2, failed.Attempts)
	assert.Equal(t, "still down", failed.Error)
}

func TestWorker_FatalSkipsRetries(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	w := NewWorker(st)
	w.Handle(model.TaskScrapeRun, func(context.Context, *model.Task) error {
		return resilience.Fatal(errors.New("bad payload"))
	})

	task, err := New(st, nil).Enqueue(ctx, model.TaskScrapeRun, ScrapePayload{}, EnqueueOptions{MaxAttempts: 5})
	require.NoError(t, err)
	_, err = w.RunOnce(ctx)
	require.NoError(t, err)

	got, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, got.Status)
}

func TestWorker_UnknownKind(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	task, err := New(st, nil).Enqueue(ctx, "report.build", nil, EnqueueOptions{MaxAttempts: 3})
	require.NoError(t, err)

	_, err = NewWorker(st).RunOnce(ctx)
	require.NoError(t, err)

	got, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, got.Status)
	assert.Contains(t, got.Error, "no handler")
}

func TestWorker_RetryDelay(t *testing.T) {
	w := NewWorker(nil, WithBackoff(30*time.Second))
	assert.Equal(t, 30*time.Second, w.retryDelay(0))
	assert.Equal(t, 30*time.Second, w.retryDelay(1))
	assert.Equal(t, time.Minute, w.retryDelay(2))
	assert.Equal(t, 4*time.Minute, w.retryDelay(4))
	assert.Equal(t, 10*time.Minute, w.retryDelay(10))
}

func TestWorker_RunRequeuesStaleAndWakes(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	n := NewChannelNotifier()
	q := New(st, n)

	stale, err := q.Enqueue(ctx, model.TaskScrapeRun, ScrapePayload{JobID: "stale"}, EnqueueOptions{
		MaxAttempts: 1,
		RunAfter:    time.Now().Add(-3 * time.Hour),
	})
	require.NoError(t, err)
	claimed, err := st.ClaimTask(ctx, time.Now().Add(-2*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, claimed)

	seen := make(chan string, 4)
	w := NewWorker(st,
		WithNotifier(n),
		WithPollInterval(time.Hour),
		WithVisibilityTimeout(time.Hour),
	)
	w.Handle(model.TaskScrapeRun, func(_ context.Context, task *model.Task) error {
		p, err := Decode[ScrapePayload](task)
		seen <- p.JobID
		return err
	})

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- w.Run(runCtx) }()

	assert.Equal(t, "stale", waitFor(t, seen))

	_, err = q.Enqueue(ctx, model.TaskScrapeRun, ScrapePayload{JobID: "fresh"}, EnqueueOptions{})
	require.NoError(t, err)
	assert.Equal(t, "fresh", waitFor(t, seen), "notifier wakes the idle worker")

	cancel()
	require.NoError(t, <-done)

	got, err := st.GetTask(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusDone, got.Status)
}

func TestWorker_HeartbeatKeepsLongTaskClaimed(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	const visibility = 200 * time.Millisecond

	task := &model.Task{Kind: model.TaskCampaignDeliver, MaxAttempts: 1}
	require.NoError(t, st.EnqueueTask(ctx, task))

	w := NewWorker(st, WithVisibilityTimeout(visibility))
	var requeued int
	w.Handle(model.TaskCampaignDeliver, func(ctx context.Context, task *model.Task) error {
		claimed, err := st.GetTask(ctx, task.ID)
		require.NoError(t, err)
		require.NotNil(t, claimed.ClaimedAt)
		first := *claimed.ClaimedAt

		time.Sleep(2 * visibility)

		got, err := st.GetTask(ctx, task.ID)
		require.NoError(t, err)
		require.NotNil(t, got.ClaimedAt)
		assert.True(t, got.ClaimedAt.After(first), "claim was not refreshed")

		// A second worker starting now must leave this task alone.
		requeued, err = st.RequeueStaleTasks(ctx, time.Now().UTC().Add(-visibility))
		require.NoError(t, err)
		return nil
	})

	ran, err := w.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, ran)
	assert.Equal(t, 0, requeued)

	got, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusDone, got.Status)
}

func waitFor(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for task")
		return ""
	}
}

func TestChannelNotifier_Coalesces(t *testing.T) {
	n := NewChannelNotifier()
	for i := 0; i < 3; i++ {
		require.NoError(t, n.Notify(context.Background(), "t"))
	}
	<-n.Wakeups()
	select {
	case <-n.Wakeups():
		t.Fatal("signals should coalesce")
	default:
	}
	assert.NoError(t, n.Close())
}

type fakeAMQPChannel struct {
	mock.Mock
	deliveries chan amqp.Delivery
	closed     atomic.Int32
}

func (f *fakeAMQPChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	a := f.Called(name, durable)
	return amqp.Queue{Name: name}, a.Error(0)
}

func (f *fakeAMQPChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	a := f.Called(exchange, key, string(msg.Body), msg.DeliveryMode)
	return a.Error(0)
}

func (f *fakeAMQPChannel) Consume(queue, _ string, autoAck, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	a := f.Called(queue, autoAck)
	return f.deliveries, a.Error(0)
}

func (f *fakeAMQPChannel) Close() error {
	f.closed.Add(1)
	return nil
}

func TestAMQPNotifier(t *testing.T) {
	ch := &fakeAMQPChannel{deliveries: make(chan amqp.Delivery, 1)}
	ch.On("QueueDeclare", "prospect.tasks", true).Return(nil)
	ch.On("PublishWithContext", "", "prospect.tasks", "task-1", amqp.Persistent).Return(nil)
	ch.On("Consume", "prospect.tasks", true).Return(nil)

	n, err := newAMQPNotifier(ch, "prospect.tasks")
	require.NoError(t, err)
	require.NoError(t, n.Notify(context.Background(), "task-1"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Listen(ctx) }()

	ch.deliveries <- amqp.Delivery{Body: []byte("task-1")}
	select {
	case <-n.Wakeups():
	case <-time.After(5 * time.Second):
		t.Fatal("no wakeup")
	}

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, n.Close())
	require.NoError(t, n.Close())
	assert.Equal(t, int32(1), ch.closed.Load())
	ch.AssertExpectations(t)
}

func TestAMQPNotifier_DeclareFails(t *testing.T) {
	ch := &fakeAMQPChannel{}
	ch.On("QueueDeclare", "q", true).Return(errors.New("ACCESS_REFUSED"))
	_, err := newAMQPNotifier(ch, "q")
	assert.Error(t, err)
}

func TestAMQPNotifier_ClosedDeliveries(t *testing.T) {
	ch := &fakeAMQPChannel{deliveries: make(chan amqp.Delivery)}
	ch.On("QueueDeclare", "q", true).Return(nil)
	ch.On("Consume", "q", true).Return(nil)
	n, err := newAMQPNotifier(ch, "q")
	require.NoError(t, err)

	close(ch.deliveries)
	assert.Error(t, n.Listen(context.Background()))
}
