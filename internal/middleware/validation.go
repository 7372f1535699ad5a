package middleware

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/sindi-homes/assistant/internal/model"
)

const (
	maxContentBytes  = 32 * 1024
	maxTitleRunes    = 120
	maxChatMessages  = 200
	minShareTokenLen = 16
	maxShareTokenLen = 128
)

// ValidateMessageContent validates message content.
func ValidateMessageContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return errors.New("content cannot be empty")
	}
	if len(content) > maxContentBytes {
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateConversationID validates a stored conversation ID.
func ValidateConversationID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid conversation ID format")
	}
	return nil
}

// ValidateTitle validates a conversation title.
func ValidateTitle(title string) error {
	if utf8.RuneCountInString(title) > maxTitleRunes {
		return errors.New("title exceeds maximum length")
	}
	if !utf8.ValidString(title) {
		return errors.New("title must be valid UTF-8")
	}
	return nil
}

// ValidateChatRequest checks the shape of a streaming chat request. The
// conversation id may be absent or temporary.
func ValidateChatRequest(req *model.ChatRequest) error {
	if len(req.Messages) == 0 {
		return errors.New("messages cannot be empty")
	}
	if len(req.Messages) > maxChatMessages {
		return fmt.Errorf("at most %d messages are allowed", maxChatMessages)
	}
	for i, m := range req.Messages {
		if !m.Role.Valid() {
			return fmt.Errorf("message %d has invalid role %q", i, m.Role)
		}
		if len(m.Content) > maxContentBytes || !utf8.ValidString(m.Content) {
			return fmt.Errorf("message %d has invalid content", i)
		}
	}
	if len(req.ConversationID) > 64 {
		return errors.New("invalid conversation ID format")
	}
	last, ok := req.LastUserMessage()
	if !ok {
		return errors.New("a user message is required")
	}
	return ValidateMessageContent(last)
}

// ValidateShareToken rejects tokens that could never have been issued.
func ValidateShareToken(token string) error {
	if len(token) < minShareTokenLen || len(token) > maxShareTokenLen {
		return errors.New("invalid share token")
	}
	for _, r := range token {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return errors.New("invalid share token")
		}
	}
	return nil
}
