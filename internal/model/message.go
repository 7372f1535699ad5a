package model

import (
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	}
	return false
}

// Durable reports whether messages of this role are persisted.
func (r Role) Durable() bool {
	return r == RoleUser || r == RoleAssistant
}

// Attachment is a file or link attached to a message.
type Attachment struct {
	Type string `json:"type" bson:"type"`
	URL  string `json:"url" bson:"url"`
	Name string `json:"name,omitempty" bson:"name,omitempty"`
}

// Message is one entry in a conversation.
type Message struct {
	ID          string       `json:"id" bson:"id"`
	Role        Role         `json:"role" bson:"role"`
	Content     string       `json:"content" bson:"content"`
	Timestamp   time.Time    `json:"timestamp" bson:"timestamp"`
	Attachments []Attachment `json:"attachments,omitempty" bson:"attachments,omitempty"`

	// Partial marks an assistant message persisted after the client went away.
	Partial bool `json:"partial,omitempty" bson:"partial,omitempty"`
}

// Clone returns a copy that shares no slices with m.
func (m Message) Clone() Message {
	if m.Attachments != nil {
		m.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	return m
}

// AppendMessageRequest is the request to append a message to a conversation.
type AppendMessageRequest struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// ChatMessage is a message as sent by the chat client.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of the streaming chat endpoint.
type ChatRequest struct {
	Messages       []ChatMessage `json:"messages"`
	ConversationID string        `json:"conversationId,omitempty"`
}

// LastUserMessage returns the content of the newest user message.
func (r *ChatRequest) LastUserMessage() (string, bool) {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i].Content, true
		}
	}
	return "", false
}

// TokenEvent is an SSE token frame.
type TokenEvent struct {
	Token string `json:"token"`
	Index int    `json:"index"`
}

// DoneEvent is the final SSE frame of a chat turn.
type DoneEvent struct {
	ConversationID string `json:"conversationId"`
	Partial        bool   `json:"partial,omitempty"`
}

// ErrorEvent is an SSE error frame.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
