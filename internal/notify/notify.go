package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/postflowhq/postflow-be/shared/rabbitmq"
)

// Routing keys for activity events on the topic exchange.
const (
	RoutingKeyPublished = "activity.published"
	RoutingKeyFailed    = "activity.failed"
)

// Event is one user-visible publish outcome, consumed by the activity
// feed and notification services downstream.
type Event struct {
	WorkspaceID string    `json:"workspace_id"`
	PostID      string    `json:"post_id"`
	ScheduleID  string    `json:"schedule_id"`
	Provider    string    `json:"provider"`
	Status      string    `json:"status"`
	Message     string    `json:"message,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// ActivityLogger records publish outcomes for user-visible history.
// Implementations are fire-and-forget: a logging failure must never fail
// the job that produced the event.
type ActivityLogger interface {
	JobPublished(ctx context.Context, event Event)
	JobFailed(ctx context.Context, event Event)
}

// AMQPLogger publishes activity events to RabbitMQ.
type AMQPLogger struct {
	client *rabbitmq.Client
	logger *slog.Logger
}

// NewAMQPLogger creates an activity logger over the given RabbitMQ client.
func NewAMQPLogger(client *rabbitmq.Client, logger *slog.Logger) *AMQPLogger {
	return &AMQPLogger{
		client: client,
		logger: logger,
	}
}

func (l *AMQPLogger) JobPublished(ctx context.Context, event Event) {
	l.emit(ctx, RoutingKeyPublished, event)
}

func (l *AMQPLogger) JobFailed(ctx context.Context, event Event) {
	l.emit(ctx, RoutingKeyFailed, event)
}

func (l *AMQPLogger) emit(ctx context.Context, routingKey string, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	body, err := json.Marshal(event)
	if err != nil {
		l.logger.Error("Failed to encode activity event",
			slog.String("schedule_id", event.ScheduleID),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := l.client.PublishRouted(ctx, routingKey, body, "application/json"); err != nil {
		l.logger.Warn("Failed to publish activity event",
			slog.String("routing_key", routingKey),
			slog.String("schedule_id", event.ScheduleID),
			slog.String("error", err.Error()),
		)
	}
}

// NopLogger discards every event. Used by tests and by callers that run
// without a broker.
type NopLogger struct{}

func (NopLogger) JobPublished(ctx context.Context, event Event) {}

func (NopLogger) JobFailed(ctx context.Context, event Event) {}
