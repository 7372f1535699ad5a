package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/sindi-homes/assistant/internal/middleware"
	"github.com/sindi-homes/assistant/internal/model"
	"github.com/sindi-homes/assistant/internal/service"
	"github.com/sindi-homes/assistant/pkg/logger"
)

// EventReader replays a conversation's lifecycle events.
type EventReader interface {
	Events(ctx context.Context, profileID, conversationID string, afterSequence uint64, limit int) ([]model.ConversationEvent, uint64, bool, error)
}

// AppendMessageResponse is returned after appending a message.
type AppendMessageResponse struct {
	Success      bool                `json:"success"`
	Message      model.Message       `json:"message"`
	Conversation *model.Conversation `json:"conversation"`
}

// EventsResponse is a page of lifecycle events.
type EventsResponse struct {
	Success      bool                      `json:"success"`
	Events       []model.ConversationEvent `json:"events"`
	LastSequence uint64                    `json:"lastSequence"`
	HasMore      bool                      `json:"hasMore"`
}

// MessageHandler handles message and event endpoints of a conversation.
type MessageHandler struct {
	conversationService *service.ConversationService
	events              EventReader
	logger              *logger.Logger
}

// NewMessageHandler creates a new message handler. events may be nil when
// the event log is disabled.
func NewMessageHandler(convSvc *service.ConversationService, events EventReader, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		conversationService: convSvc,
		events:              events,
		logger:              log,
	}
}

// Append handles POST /api/v1/conversations/{id}/messages
func (h *MessageHandler) Append(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := conversationID(w, r)
	if !ok {
		return
	}

	var req model.AppendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.conversationService.AppendMessage(ctx, middleware.GetProfileID(ctx), id, model.Message{
		Role:        req.Role,
		Content:     req.Content,
		Attachments: req.Attachments,
	})
	if err != nil {
		writeServiceError(w, middleware.RequestLogger(ctx, h.logger), err, "append message")
		return
	}

	writeJSON(w, http.StatusCreated, &AppendMessageResponse{
		Success:      true,
		Message:      conv.Messages[len(conv.Messages)-1],
		Conversation: conv,
	})
}

// Events handles GET /api/v1/conversations/{id}/events
// Supports ?after_sequence=N for resuming from a specific point.
func (h *MessageHandler) Events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	profileID := middleware.GetProfileID(ctx)
	id, ok := conversationID(w, r)
	if !ok {
		return
	}

	if h.events == nil {
		writeError(w, http.StatusNotImplemented, "event log is disabled")
		return
	}

	// Verify conversation exists and belongs to the profile
	if _, err := h.conversationService.Get(ctx, profileID, id); err != nil {
		writeServiceError(w, middleware.RequestLogger(ctx, h.logger), err, "get conversation")
		return
	}

	var afterSequence uint64
	if seq := r.URL.Query().Get("after_sequence"); seq != "" {
		if parsed, err := strconv.ParseUint(seq, 10, 64); err == nil {
			afterSequence = parsed
		}
	}
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	events, last, hasMore, err := h.events.Events(ctx, profileID, id, afterSequence, limit)
	if err != nil {
		writeServiceError(w, middleware.RequestLogger(ctx, h.logger), err, "read events")
		return
	}

	writeJSON(w, http.StatusOK, &EventsResponse{
		Success:      true,
		Events:       events,
		LastSequence: last,
		HasMore:      hasMore,
	})
}
