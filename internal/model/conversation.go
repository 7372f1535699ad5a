// Package model defines data structures for the Sindi assistant.
package model

import (
	"time"
)

// DefaultTitle is the sentinel title a conversation carries until it is
// auto-titled after the first completed exchange.
const DefaultTitle = "New Conversation"

// Status is the lifecycle status of a conversation.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
	StatusDeleted  Status = "deleted"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusArchived, StatusDeleted:
		return true
	}
	return false
}

// Sharing holds the share-link state of a conversation.
type Sharing struct {
	IsShared  bool       `json:"isShared" bson:"is_shared"`
	Token     string     `json:"token,omitempty" bson:"token,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty" bson:"created_at,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty" bson:"expires_at,omitempty"`
}

// Active reports whether the share token is usable at now.
func (s Sharing) Active(now time.Time) bool {
	return s.IsShared && s.Token != "" && s.ExpiresAt != nil && now.Before(*s.ExpiresAt)
}

// Analytics holds usage counters for a conversation.
type Analytics struct {
	MessageCount int       `json:"messageCount" bson:"message_count"`
	LastActivity time.Time `json:"lastActivity" bson:"last_activity"`
}

// Conversation is a profile's chat thread with Sindi.
type Conversation struct {
	ID        string    `json:"id" bson:"_id"`
	ProfileID string    `json:"profileId" bson:"profile_id"`
	Title     string    `json:"title" bson:"title"`
	Messages  []Message `json:"messages" bson:"messages"`
	Status    Status    `json:"status" bson:"status"`
	Sharing   Sharing   `json:"sharing" bson:"sharing"`
	Analytics Analytics `json:"analytics" bson:"analytics"`
	CreatedAt time.Time `json:"createdAt" bson:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updated_at"`

	// Version is bumped on every successful store write and used for
	// optimistic concurrency control.
	Version int64 `json:"version" bson:"version"`
}

// Clone returns a deep copy safe to mutate.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		out.Messages[i] = m.Clone()
	}
	if c.Sharing.CreatedAt != nil {
		t := *c.Sharing.CreatedAt
		out.Sharing.CreatedAt = &t
	}
	if c.Sharing.ExpiresAt != nil {
		t := *c.Sharing.ExpiresAt
		out.Sharing.ExpiresAt = &t
	}
	return &out
}

// HasMessage reports whether a message with id is already stored.
func (c *Conversation) HasMessage(id string) bool {
	for _, m := range c.Messages {
		if m.ID == id {
			return true
		}
	}
	return false
}

// Summary is the list view of a conversation.
type Summary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Status    Status    `json:"status"`
	Analytics Analytics `json:"analytics"`
	IsShared  bool      `json:"isShared"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Summarize builds the list view.
func (c *Conversation) Summarize() Summary {
	return Summary{
		ID:        c.ID,
		Title:     c.Title,
		Status:    c.Status,
		Analytics: c.Analytics,
		IsShared:  c.Sharing.IsShared,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

// SharedConversation is the public projection served for share links.
// It carries no owner-identifying fields.
type SharedConversation struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Messages  []Message  `json:"messages"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Sanitize builds the public projection.
func (c *Conversation) Sanitize() *SharedConversation {
	msgs := make([]Message, 0, len(c.Messages))
	for _, m := range c.Messages {
		if m.Role == RoleUser || m.Role == RoleAssistant {
			msgs = append(msgs, m.Clone())
		}
	}
	return &SharedConversation{
		ID:        c.ID,
		Title:     c.Title,
		Messages:  msgs,
		CreatedAt: c.CreatedAt,
		ExpiresAt: c.Sharing.ExpiresAt,
	}
}

// CreateConversationRequest is the request to create a new conversation.
type CreateConversationRequest struct {
	Title    string    `json:"title"`
	Messages []Message `json:"messages,omitempty"`
}

// UpdateConversationRequest is the request to update a conversation.
type UpdateConversationRequest struct {
	Title  string `json:"title,omitempty"`
	Status Status `json:"status,omitempty"`
}

// ListQuery filters and pages a conversation listing.
type ListQuery struct {
	Status Status
	Limit  int
	Offset int
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Success       bool      `json:"success"`
	Conversations []Summary `json:"conversations"`
	Total         int       `json:"total"`
	HasMore       bool      `json:"hasMore"`
}
