package model

import (
	"time"
)

// EventType represents the type of conversation lifecycle event.
type EventType string

const (
	EventConversationCreated EventType = "conversation.created"
	EventMessageAppended     EventType = "message.appended"
	EventTitleGenerated      EventType = "title.generated"
	EventShareCreated        EventType = "share.created"
	EventShareRevoked        EventType = "share.revoked"
	EventStatusChanged       EventType = "status.changed"
	EventTurnFailed          EventType = "turn.failed"
)

// ConversationEvent is published to the event log on lifecycle changes.
type ConversationEvent struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	ProfileID      string         `json:"profile_id"`
	Type           EventType      `json:"type"`
	Reason         string         `json:"reason,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}
