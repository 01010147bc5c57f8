package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postflowhq/postflow-be/internal/notify"
	"github.com/postflowhq/postflow-be/internal/scheduler/domain"
	"github.com/postflowhq/postflow-be/internal/scheduler/publisher"
	"github.com/postflowhq/postflow-be/internal/scheduler/ratelimit"
	"github.com/postflowhq/postflow-be/internal/scheduler/settings"
)

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeStore struct {
	mu sync.Mutex

	statuses  map[string]string
	statusErr error

	published map[string]string
	failed    map[string]string
	requeued  map[string]time.Time
	released  map[string]string

	markPublishedErr error
	requeueErr       error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		statuses:  make(map[string]string),
		published: make(map[string]string),
		failed:    make(map[string]string),
		requeued:  make(map[string]time.Time),
		released:  make(map[string]string),
	}
}

func (f *fakeStore) GetJobStatus(ctx context.Context, scheduleID string) (*domain.JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	status := domain.StatusPublishing
	if s, ok := f.statuses[scheduleID]; ok {
		status = s
	}
	return &domain.JobStatus{ScheduleID: scheduleID, Status: status}, nil
}

func (f *fakeStore) MarkPublished(ctx context.Context, scheduleID, externalPostID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markPublishedErr != nil {
		return f.markPublishedErr
	}
	f.published[scheduleID] = externalPostID
	return nil
}

func (f *fakeStore) MarkFailed(ctx context.Context, scheduleID, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[scheduleID] = errorMessage
	return nil
}

func (f *fakeStore) RequeueForRetry(ctx context.Context, scheduleID string, nextAt time.Time, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.requeueErr != nil {
		return f.requeueErr
	}
	f.requeued[scheduleID] = nextAt
	return nil
}

func (f *fakeStore) Release(ctx context.Context, scheduleID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released[scheduleID] = message
	return nil
}

type fakePublisher struct {
	provider string
	publish  func(ctx context.Context, req *publisher.PublishRequest) (*publisher.Result, error)
}

func (f *fakePublisher) Provider() string {
	return f.provider
}

func (f *fakePublisher) Publish(ctx context.Context, req *publisher.PublishRequest) (*publisher.Result, error) {
	return f.publish(ctx, req)
}

type fakePublishers struct {
	byProvider map[string]publisher.Publisher
}

func (f *fakePublishers) For(provider string) (publisher.Publisher, error) {
	p, ok := f.byProvider[provider]
	if !ok {
		return nil, domain.ErrUnknownProvider
	}
	return p, nil
}

type fakeReconciler struct {
	mu    sync.Mutex
	posts []string
}

func (f *fakeReconciler) Reconcile(ctx context.Context, postID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, postID)
	return nil
}

type captureActivity struct {
	mu        sync.Mutex
	published []notify.Event
	failed    []notify.Event
}

func (c *captureActivity) JobPublished(ctx context.Context, event notify.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, event)
}

func (c *captureActivity) JobFailed(ctx context.Context, event notify.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed = append(c.failed, event)
}

type staticSettings struct {
	settings settings.Settings
}

func (s *staticSettings) Get(ctx context.Context, workspaceID string) (settings.Settings, error) {
	cfg := s.settings
	cfg.WorkspaceID = workspaceID
	return cfg, nil
}

type dispatcherFixture struct {
	dispatcher *Dispatcher
	store      *fakeStore
	publishers *fakePublishers
	reconciler *fakeReconciler
	activity   *captureActivity
}

func newDispatcherFixture(publish func(ctx context.Context, req *publisher.PublishRequest) (*publisher.Result, error)) *dispatcherFixture {
	store := newFakeStore()
	publishers := &fakePublishers{byProvider: map[string]publisher.Publisher{
		"twitter": &fakePublisher{provider: "twitter", publish: publish},
	}}
	reconciler := &fakeReconciler{}
	activity := &captureActivity{}

	d := NewDispatcher(store, publishers, reconciler, activity, &staticSettings{
		settings: settings.Settings{NotifyOnSuccess: true, NotifyOnFailure: true},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	d.pause = 0
	d.now = func() time.Time { return testTime }

	return &dispatcherFixture{
		dispatcher: d,
		store:      store,
		publishers: publishers,
		reconciler: reconciler,
		activity:   activity,
	}
}

func dueJob(scheduleID string) domain.DueJob {
	return domain.DueJob{
		ScheduleID:     scheduleID,
		PostID:         "post-1",
		AccountID:      "acct-1",
		WorkspaceID:    "ws-1",
		ScheduledAt:    testTime.Add(-time.Minute),
		Content:        "hello world",
		Provider:       "twitter",
		AccessToken:    "token",
		TokenExpiresAt: testTime.Add(time.Hour),
	}
}

func allowed() map[string]ratelimit.Decision {
	return map[string]ratelimit.Decision{
		"ws-1": {Allowed: true},
	}
}

func TestDispatcher_Run_Success(t *testing.T) {
	f := newDispatcherFixture(func(ctx context.Context, req *publisher.PublishRequest) (*publisher.Result, error) {
		return &publisher.Result{Success: true, ExternalPostID: "tw-123"}, nil
	})

	outcomes := f.dispatcher.Run(context.Background(), []domain.DueJob{dueJob("sched-1")}, 5, allowed())

	require.Len(t, outcomes, 1)
	assert.Equal(t, OutcomePublished, outcomes[0].Status)
	assert.Contains(t, outcomes[0].Message, "tw-123")
	assert.Equal(t, "tw-123", f.store.published["sched-1"])
	assert.Equal(t, []string{"post-1"}, f.reconciler.posts)

	require.Len(t, f.activity.published, 1)
	assert.Equal(t, "sched-1", f.activity.published[0].ScheduleID)
	assert.Equal(t, domain.StatusPublished, f.activity.published[0].Status)
}

func TestDispatcher_Run_EmptyContent(t *testing.T) {
	f := newDispatcherFixture(func(ctx context.Context, req *publisher.PublishRequest) (*publisher.Result, error) {
		t.Error("publisher must not be called for empty content")
		return nil, nil
	})

	job := dueJob("sched-1")
	job.Content = "   "

	outcomes := f.dispatcher.Run(context.Background(), []domain.DueJob{job}, 5, allowed())

	require.Len(t, outcomes, 1)
	assert.Equal(t, OutcomeFailed, outcomes[0].Status)
	assert.Equal(t, domain.ErrEmptyContent.Error(), f.store.failed["sched-1"])
	require.Len(t, f.activity.failed, 1)
	assert.Equal(t, []string{"post-1"}, f.reconciler.posts)
}

func TestDispatcher_Run_RateLimited(t *testing.T) {
	f := newDispatcherFixture(func(ctx context.Context, req *publisher.PublishRequest) (*publisher.Result, error) {
		t.Error("publisher must not be called for a denied workspace")
		return nil, nil
	})

	decisions := map[string]ratelimit.Decision{
		"ws-1": {Allowed: false, Current: 10, Limit: 10},
	}

	outcomes := f.dispatcher.Run(context.Background(), []domain.DueJob{dueJob("sched-1")}, 5, decisions)

	require.Len(t, outcomes, 1)
	assert.Equal(t, OutcomeSkipped, outcomes[0].Status)
	assert.Contains(t, outcomes[0].Message, "rate limit")

	// Deferred without a retry penalty: released, never requeued or failed
	assert.Contains(t, f.store.released, "sched-1")
	assert.Empty(t, f.store.requeued)
	assert.Empty(t, f.store.failed)
	assert.Empty(t, f.activity.failed)
}

func TestDispatcher_Run_ExpiredToken(t *testing.T) {
	f := newDispatcherFixture(func(ctx context.Context, req *publisher.PublishRequest) (*publisher.Result, error) {
		t.Error("publisher must not be called with an expired token")
		return nil, nil
	})

	job := dueJob("sched-1")
	job.TokenExpiresAt = testTime.Add(-time.Minute)

	outcomes := f.dispatcher.Run(context.Background(), []domain.DueJob{job}, 5, allowed())

	require.Len(t, outcomes, 1)
	assert.Equal(t, OutcomeFailed, outcomes[0].Status)
	assert.Equal(t, domain.ErrTokenExpired.Error(), f.store.failed["sched-1"])
}

func TestDispatcher_Run_AlreadyPublished(t *testing.T) {
	f := newDispatcherFixture(func(ctx context.Context, req *publisher.PublishRequest) (*publisher.Result, error) {
		t.Error("publisher must not be called for an already published job")
		return nil, nil
	})
	f.store.statuses["sched-1"] = domain.StatusPublished

	outcomes := f.dispatcher.Run(context.Background(), []domain.DueJob{dueJob("sched-1")}, 5, allowed())

	require.Len(t, outcomes, 1)
	assert.Equal(t, OutcomeSkipped, outcomes[0].Status)
	assert.Equal(t, domain.ErrAlreadyPublished.Error(), outcomes[0].Message)
	assert.Empty(t, f.store.published)
	assert.Empty(t, f.store.failed)
}

func TestDispatcher_Run_RetryBackoff(t *testing.T) {
	tests := []struct {
		name       string
		retryCount int
		wantDelay  time.Duration
	}{
		{name: "first retry after 30m", retryCount: 0, wantDelay: 30 * time.Minute},
		{name: "second retry after 60m", retryCount: 1, wantDelay: 60 * time.Minute},
		{name: "third retry after 90m", retryCount: 2, wantDelay: 90 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newDispatcherFixture(func(ctx context.Context, req *publisher.PublishRequest) (*publisher.Result, error) {
				return nil, domain.NewPublishError("twitter", errors.New("HTTP 503"))
			})

			job := dueJob("sched-1")
			job.RetryCount = tt.retryCount

			outcomes := f.dispatcher.Run(context.Background(), []domain.DueJob{job}, 5, allowed())

			require.Len(t, outcomes, 1)
			assert.Equal(t, OutcomeSkipped, outcomes[0].Status)
			assert.Equal(t, testTime.Add(tt.wantDelay), f.store.requeued["sched-1"])
			assert.Empty(t, f.store.failed)
			assert.Empty(t, f.activity.failed)
		})
	}
}

func TestDispatcher_Run_RetryExhausted(t *testing.T) {
	f := newDispatcherFixture(func(ctx context.Context, req *publisher.PublishRequest) (*publisher.Result, error) {
		return nil, domain.NewPublishError("twitter", errors.New("HTTP 503"))
	})

	job := dueJob("sched-1")
	job.RetryCount = domain.MaxRetries

	outcomes := f.dispatcher.Run(context.Background(), []domain.DueJob{job}, 5, allowed())

	require.Len(t, outcomes, 1)
	assert.Equal(t, OutcomeFailed, outcomes[0].Status)
	assert.Empty(t, f.store.requeued)
	assert.Contains(t, f.store.failed["sched-1"], "HTTP 503")
	require.Len(t, f.activity.failed, 1)
}

func TestDispatcher_Run_NonRetryableError(t *testing.T) {
	f := newDispatcherFixture(func(ctx context.Context, req *publisher.PublishRequest) (*publisher.Result, error) {
		return nil, errors.New("invalid media format")
	})

	outcomes := f.dispatcher.Run(context.Background(), []domain.DueJob{dueJob("sched-1")}, 5, allowed())

	require.Len(t, outcomes, 1)
	assert.Equal(t, OutcomeFailed, outcomes[0].Status)
	assert.Empty(t, f.store.requeued)
}

func TestDispatcher_Run_ProviderRejection(t *testing.T) {
	f := newDispatcherFixture(func(ctx context.Context, req *publisher.PublishRequest) (*publisher.Result, error) {
		return &publisher.Result{Success: false, Error: "video required"}, nil
	})

	outcomes := f.dispatcher.Run(context.Background(), []domain.DueJob{dueJob("sched-1")}, 5, allowed())

	require.Len(t, outcomes, 1)
	assert.Equal(t, OutcomeFailed, outcomes[0].Status)
	assert.Equal(t, "video required", f.store.failed["sched-1"])
}

func TestDispatcher_Run_UnknownProvider(t *testing.T) {
	f := newDispatcherFixture(func(ctx context.Context, req *publisher.PublishRequest) (*publisher.Result, error) {
		return &publisher.Result{Success: true, ExternalPostID: "x"}, nil
	})

	job := dueJob("sched-1")
	job.Provider = "myspace"

	outcomes := f.dispatcher.Run(context.Background(), []domain.DueJob{job}, 5, allowed())

	require.Len(t, outcomes, 1)
	assert.Equal(t, OutcomeFailed, outcomes[0].Status)
	assert.Contains(t, f.store.failed["sched-1"], domain.ErrUnknownProvider.Error())
}

func TestDispatcher_Run_PanicContained(t *testing.T) {
	f := newDispatcherFixture(func(ctx context.Context, req *publisher.PublishRequest) (*publisher.Result, error) {
		panic("adapter bug")
	})

	jobs := []domain.DueJob{dueJob("sched-1"), dueJob("sched-2")}
	outcomes := f.dispatcher.Run(context.Background(), jobs, 5, allowed())

	require.Len(t, outcomes, 2)
	for _, outcome := range outcomes {
		assert.Equal(t, OutcomeFailed, outcome.Status)
		assert.Contains(t, outcome.Message, "internal error")
	}
	assert.Contains(t, f.store.failed["sched-1"], "adapter bug")
	assert.Contains(t, f.store.failed["sched-2"], "adapter bug")
}

func TestDispatcher_Run_PublishedWriteFailure(t *testing.T) {
	f := newDispatcherFixture(func(ctx context.Context, req *publisher.PublishRequest) (*publisher.Result, error) {
		return &publisher.Result{Success: true, ExternalPostID: "tw-123"}, nil
	})
	f.store.markPublishedErr = errors.New("connection reset")

	outcomes := f.dispatcher.Run(context.Background(), []domain.DueJob{dueJob("sched-1")}, 5, allowed())

	require.Len(t, outcomes, 1)
	assert.Equal(t, OutcomeFailed, outcomes[0].Status)
	assert.Contains(t, outcomes[0].Message, "status write failed")
}

func TestDispatcher_Run_NotifyToggles(t *testing.T) {
	f := newDispatcherFixture(func(ctx context.Context, req *publisher.PublishRequest) (*publisher.Result, error) {
		return &publisher.Result{Success: true, ExternalPostID: "tw-123"}, nil
	})
	f.dispatcher.settings = &staticSettings{
		settings: settings.Settings{NotifyOnSuccess: false, NotifyOnFailure: true},
	}

	outcomes := f.dispatcher.Run(context.Background(), []domain.DueJob{dueJob("sched-1")}, 5, allowed())

	require.Len(t, outcomes, 1)
	assert.Equal(t, OutcomePublished, outcomes[0].Status)
	assert.Empty(t, f.activity.published)
}

func TestDispatcher_Run_OutcomesMatchJobOrder(t *testing.T) {
	f := newDispatcherFixture(func(ctx context.Context, req *publisher.PublishRequest) (*publisher.Result, error) {
		return &publisher.Result{Success: true, ExternalPostID: "ext-" + req.Metadata["post_id"]}, nil
	})

	jobs := make([]domain.DueJob, 7)
	for i := range jobs {
		jobs[i] = dueJob("sched-" + string(rune('a'+i)))
	}

	// Concurrency 2 forces multiple sequential batches
	outcomes := f.dispatcher.Run(context.Background(), jobs, 2, allowed())

	require.Len(t, outcomes, len(jobs))
	for i, outcome := range outcomes {
		assert.Equal(t, jobs[i].ScheduleID, outcome.ScheduleID)
		assert.Equal(t, OutcomePublished, outcome.Status)
	}
}

func TestDispatcher_Run_StatusRecheckFailure(t *testing.T) {
	f := newDispatcherFixture(func(ctx context.Context, req *publisher.PublishRequest) (*publisher.Result, error) {
		t.Error("publisher must not be called when the re-check fails")
		return nil, nil
	})
	f.store.statusErr = errors.New("db down")

	outcomes := f.dispatcher.Run(context.Background(), []domain.DueJob{dueJob("sched-1")}, 5, allowed())

	require.Len(t, outcomes, 1)
	assert.Equal(t, OutcomeFailed, outcomes[0].Status)
	assert.Contains(t, outcomes[0].Message, "re-check")
}

func TestDispatcher_Run_RequeueWriteFailure(t *testing.T) {
	f := newDispatcherFixture(func(ctx context.Context, req *publisher.PublishRequest) (*publisher.Result, error) {
		return nil, domain.NewPublishError("twitter", errors.New("HTTP 503"))
	})
	f.store.requeueErr = errors.New("db down")

	outcomes := f.dispatcher.Run(context.Background(), []domain.DueJob{dueJob("sched-1")}, 5, allowed())

	// A job that cannot re-enter the queue must not stay stuck in publishing
	require.Len(t, outcomes, 1)
	assert.Equal(t, OutcomeFailed, outcomes[0].Status)
	assert.Contains(t, f.store.failed["sched-1"], "HTTP 503")
}
