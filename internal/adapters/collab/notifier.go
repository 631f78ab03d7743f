package collab

import (
	"context"

	"github.com/sokomarket/payment-service/internal/domain/models"
	"github.com/sokomarket/payment-service/internal/domain/ports"
)

// QueueNotifier hands notifications to the marketplace notification
// pipeline. Delivery mechanics (push, email, SMS) live downstream; this
// adapter only records the trigger so the pipeline can pick it up.
type QueueNotifier struct {
	logger ports.Logger
}

// NewQueueNotifier creates a notifier that enqueues through structured logs,
// the notification pipeline tails them
func NewQueueNotifier(logger ports.Logger) *QueueNotifier {
	return &QueueNotifier{logger: logger}
}

// Notify enqueues a notification for a user
func (n *QueueNotifier) Notify(ctx context.Context, userID string, kind ports.NotificationKind, payload map[string]string) error {
	fields := []ports.Field{
		ports.String("event", "notification"),
		ports.String("user_id", userID),
		ports.String("kind", string(kind)),
	}
	for k, v := range payload {
		fields = append(fields, ports.String("payload_"+k, v))
	}
	n.logger.Info("notification enqueued", fields...)
	return nil
}

// NotifyActor enqueues a notification addressed to an actor, including the
// system identity used for admin-facing events
func (n *QueueNotifier) NotifyActor(ctx context.Context, actor models.Actor, kind ports.NotificationKind, payload map[string]string) error {
	fields := []ports.Field{
		ports.String("event", "notification"),
		ports.String("actor_id", actor.ID),
		ports.Bool("actor_system", actor.System),
		ports.String("kind", string(kind)),
	}
	for k, v := range payload {
		fields = append(fields, ports.String("payload_"+k, v))
	}
	n.logger.Info("notification enqueued", fields...)
	return nil
}
