package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postflowhq/postflow-be/internal/scheduler/settings"
)

type fakeCounter struct {
	counts map[string]int
	err    error
	calls  int
}

func (f *fakeCounter) CountPublishedSince(ctx context.Context, workspaceIDs []string, since time.Time) (map[string]int, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.counts, nil
}

type fakeSettings struct {
	data map[string]settings.Settings
	errs map[string]error
}

func (f *fakeSettings) Get(ctx context.Context, workspaceID string) (settings.Settings, error) {
	if err := f.errs[workspaceID]; err != nil {
		return settings.Settings{}, err
	}
	if s, ok := f.data[workspaceID]; ok {
		return s, nil
	}
	return settings.Defaults(workspaceID), nil
}

func TestLimiter_BatchCheck(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("one aggregate query covers every workspace", func(t *testing.T) {
		counter := &fakeCounter{counts: map[string]int{"ws-1": 2, "ws-2": 5}}
		src := &fakeSettings{data: map[string]settings.Settings{
			"ws-1": {WorkspaceID: "ws-1", RateLimit: 5},
			"ws-2": {WorkspaceID: "ws-2", RateLimit: 5},
		}}

		limiter := NewLimiter(counter, src, logger)
		decisions, err := limiter.BatchCheck(context.Background(), []string{"ws-1", "ws-2"})
		require.NoError(t, err)

		assert.Equal(t, 1, counter.calls)
		assert.True(t, decisions["ws-1"].Allowed)
		assert.Equal(t, 2, decisions["ws-1"].Current)
		assert.False(t, decisions["ws-2"].Allowed)
		assert.Equal(t, 5, decisions["ws-2"].Current)
		assert.Equal(t, 5, decisions["ws-2"].Limit)
	})

	t.Run("unlimited sentinel always allows", func(t *testing.T) {
		counter := &fakeCounter{counts: map[string]int{"ws-1": 9999}}
		src := &fakeSettings{data: map[string]settings.Settings{
			"ws-1": {WorkspaceID: "ws-1", RateLimit: settings.UnlimitedRate},
		}}

		limiter := NewLimiter(counter, src, logger)
		decisions, err := limiter.BatchCheck(context.Background(), []string{"ws-1"})
		require.NoError(t, err)

		assert.True(t, decisions["ws-1"].Allowed)
	})

	t.Run("workspace with no published jobs counts as zero", func(t *testing.T) {
		counter := &fakeCounter{counts: map[string]int{}}
		src := &fakeSettings{data: map[string]settings.Settings{
			"ws-1": {WorkspaceID: "ws-1", RateLimit: 1},
		}}

		limiter := NewLimiter(counter, src, logger)
		decisions, err := limiter.BatchCheck(context.Background(), []string{"ws-1"})
		require.NoError(t, err)

		assert.True(t, decisions["ws-1"].Allowed)
		assert.Equal(t, 0, decisions["ws-1"].Current)
	})

	t.Run("settings failure fails open", func(t *testing.T) {
		counter := &fakeCounter{counts: map[string]int{"ws-1": 50}}
		src := &fakeSettings{errs: map[string]error{"ws-1": errors.New("timeout")}}

		limiter := NewLimiter(counter, src, logger)
		decisions, err := limiter.BatchCheck(context.Background(), []string{"ws-1"})
		require.NoError(t, err)

		assert.True(t, decisions["ws-1"].Allowed)
	})

	t.Run("count failure propagates", func(t *testing.T) {
		counter := &fakeCounter{err: errors.New("db down")}
		src := &fakeSettings{}

		limiter := NewLimiter(counter, src, logger)
		_, err := limiter.BatchCheck(context.Background(), []string{"ws-1"})
		require.Error(t, err)
	})

	t.Run("empty workspace list skips the query", func(t *testing.T) {
		counter := &fakeCounter{}
		limiter := NewLimiter(counter, &fakeSettings{}, logger)

		decisions, err := limiter.BatchCheck(context.Background(), nil)
		require.NoError(t, err)
		assert.Empty(t, decisions)
		assert.Equal(t, 0, counter.calls)
	})
}
