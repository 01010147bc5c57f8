package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/postflowhq/postflow-be/internal/scheduler/settings"
)

// Window is the rolling interval a workspace's publish budget covers.
const Window = time.Hour

// Decision is a per-workspace rate verdict, computed once per scheduler
// run and reused for every job of that workspace within the run. A burst
// inside one run can overshoot the limit by at most the number of jobs
// claimed for the workspace in that run; this snapshot semantics is
// deliberate.
type Decision struct {
	Allowed bool
	Current int
	Limit   int
}

// Counter supplies published-job counts per workspace over a window.
type Counter interface {
	CountPublishedSince(ctx context.Context, workspaceIDs []string, since time.Time) (map[string]int, error)
}

// SettingsSource supplies cached workspace settings.
type SettingsSource interface {
	Get(ctx context.Context, workspaceID string) (settings.Settings, error)
}

// Limiter computes per-workspace publish budgets for a scheduler run.
type Limiter struct {
	counter  Counter
	settings SettingsSource
	logger   *slog.Logger
}

// NewLimiter creates a rate limiter over the given counter and settings
// source.
func NewLimiter(counter Counter, src SettingsSource, logger *slog.Logger) *Limiter {
	return &Limiter{
		counter:  counter,
		settings: src,
		logger:   logger,
	}
}

// BatchCheck resolves a decision for every workspace in one aggregate
// count query; it never queries per workspace.
func (l *Limiter) BatchCheck(ctx context.Context, workspaceIDs []string) (map[string]Decision, error) {
	decisions := make(map[string]Decision, len(workspaceIDs))
	if len(workspaceIDs) == 0 {
		return decisions, nil
	}

	counts, err := l.counter.CountPublishedSince(ctx, workspaceIDs, time.Now().Add(-Window))
	if err != nil {
		return nil, fmt.Errorf("failed to count recent publishes: %w", err)
	}

	for _, workspaceID := range workspaceIDs {
		cfg, err := l.settings.Get(ctx, workspaceID)
		if err != nil {
			// A workspace without readable settings keeps publishing; the
			// limit is a courtesy to providers, not a safety invariant.
			l.logger.Warn("Failed to load settings for rate check, allowing",
				slog.String("workspace_id", workspaceID),
				slog.String("error", err.Error()),
			)
			decisions[workspaceID] = Decision{Allowed: true, Current: counts[workspaceID], Limit: settings.UnlimitedRate}
			continue
		}

		current := counts[workspaceID]
		d := Decision{
			Allowed: cfg.RateLimit == settings.UnlimitedRate || current < cfg.RateLimit,
			Current: current,
			Limit:   cfg.RateLimit,
		}
		decisions[workspaceID] = d

		if !d.Allowed {
			l.logger.Info("Workspace over hourly publish limit",
				slog.String("workspace_id", workspaceID),
				slog.Int("current", d.Current),
				slog.Int("limit", d.Limit),
			)
		}
	}

	return decisions, nil
}
