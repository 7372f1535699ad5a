package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sindi-homes/assistant/internal/model"
	"github.com/sindi-homes/assistant/pkg/logger"
)

// EventPublisher records conversation lifecycle events.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event *model.ConversationEvent) (uint64, error)
}

// NoopPublisher drops every event. Used when NATS is disabled.
type NoopPublisher struct{}

// PublishEvent implements EventPublisher.
func (NoopPublisher) PublishEvent(context.Context, *model.ConversationEvent) (uint64, error) {
	return 0, nil
}

// publishEvent never fails the caller; errors are logged.
func publishEvent(ctx context.Context, pub EventPublisher, log *logger.Logger, conv *model.Conversation, typ model.EventType, reason string, meta map[string]any) {
	if pub == nil {
		return
	}
	event := &model.ConversationEvent{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conv.ID,
		ProfileID:      conv.ProfileID,
		Type:           typ,
		Reason:         reason,
		Metadata:       meta,
		CreatedAt:      time.Now().UTC(),
	}
	if _, err := pub.PublishEvent(ctx, event); err != nil {
		log.Warn("failed to publish event",
			zap.String("conversation_id", conv.ID),
			zap.String("event_type", string(typ)),
			zap.Error(err),
		)
	}
}
