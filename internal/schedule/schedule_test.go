package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/queue"
)

type mockLauncher struct {
	mock.Mock
}

func (m *mockLauncher) LaunchDue(ctx context.Context, now time.Time) (int, error) {
	args := m.Called(ctx, now)
	return args.Int(0), args.Error(1)
}

type mockEnqueuer struct {
	mock.Mock
}

func (m *mockEnqueuer) Enqueue(ctx context.Context, kind string, payload any, opts queue.EnqueueOptions) (*model.Task, error) {
	args := m.Called(ctx, kind, payload, opts)
	task, _ := args.Get(0).(*model.Task)
	return task, args.Error(1)
}

func TestNew_Entries(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want int
	}{
		{"both", Config{DueCampaigns: "@every 1m", Enrichment: "0 2 * * *"}, 2},
		{"due only", Config{DueCampaigns: "@every 1m"}, 1},
		{"none", Config{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.cfg, &mockLauncher{}, &mockEnqueuer{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.Len())
		})
	}
}

func TestNew_InvalidSpec(t *testing.T) {
	_, err := New(Config{DueCampaigns: "every minute"}, &mockLauncher{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "due_campaigns")
}

func TestLaunchDue(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	l := &mockLauncher{}
	l.On("LaunchDue", mock.Anything, now).Return(2, nil).Once()
	l.On("LaunchDue", mock.Anything, now).Return(0, errors.New("db locked")).Once()

	s, err := New(Config{}, l, nil)
	require.NoError(t, err)
	s.now = func() time.Time { return now }

	s.LaunchDue(context.Background())
	s.LaunchDue(context.Background())
	l.AssertExpectations(t)
}

func TestEnqueueEnrichment(t *testing.T) {
	q := &mockEnqueuer{}
	q.On("Enqueue", mock.Anything, model.TaskEnrichBatch,
		queue.EnrichPayload{OnlyMissingEmail: true, Limit: 50},
		queue.EnqueueOptions{MaxAttempts: 1},
	).Return(&model.Task{ID: "t1"}, nil)

	s, err := New(Config{EnrichLimit: 50}, nil, q)
	require.NoError(t, err)
	s.EnqueueEnrichment(context.Background())
	q.AssertExpectations(t)
}

func TestRun_FiresAndStops(t *testing.T) {
	fired := make(chan struct{}, 1)
	l := &mockLauncher{}
	l.On("LaunchDue", mock.Anything, mock.Anything).Return(0, nil).Run(func(mock.Arguments) {
		select {
		case fired <- struct{}{}:
		default:
		}
	})

	s, err := New(Config{DueCampaigns: "@every 1s"}, l, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("entry did not fire")
	}
	cancel()
	require.NoError(t, <-done)
}
