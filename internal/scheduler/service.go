package scheduler

import (
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/postflowhq/postflow-be/internal/notify"
	"github.com/postflowhq/postflow-be/internal/scheduler/publisher"
	"github.com/postflowhq/postflow-be/internal/scheduler/ratelimit"
	"github.com/postflowhq/postflow-be/internal/scheduler/settings"
	"github.com/postflowhq/postflow-be/internal/scheduler/storage"
)

// Options tunes a scheduler service.
type Options struct {
	SettingsTTL    time.Duration
	PublishTimeout time.Duration
}

// Service wires the scheduling core: store gateway, settings cache, rate
// limiter, publisher registry, dispatcher, and run controller.
type Service struct {
	Runner *Runner
	Cache  *settings.Cache
}

// NewService composes a scheduler over the given database and activity
// logger.
func NewService(db *sqlx.DB, activity notify.ActivityLogger, opts Options, logger *slog.Logger) *Service {
	store := storage.NewStorage(db, logger)
	cache := settings.NewCache(settings.NewStore(db, logger), opts.SettingsTTL, logger)
	limiter := ratelimit.NewLimiter(store, cache, logger)
	registry := publisher.NewRegistry(logger, opts.PublishTimeout,
		publisher.NewTwitterPublisher(logger),
		publisher.NewFacebookPublisher(logger),
		publisher.NewInstagramPublisher(logger),
		publisher.NewLinkedInPublisher(logger),
		publisher.NewTikTokPublisher(logger),
	)
	aggregator := NewAggregator(store, logger)
	dispatcher := NewDispatcher(store, registry, aggregator, activity, cache, logger)

	return &Service{
		Runner: NewRunner(store, cache, limiter, dispatcher, logger),
		Cache:  cache,
	}
}
