// Package handler provides HTTP handlers for the API.
package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sindi-homes/assistant/internal/middleware"
	"github.com/sindi-homes/assistant/internal/model"
	"github.com/sindi-homes/assistant/internal/service"
	"github.com/sindi-homes/assistant/pkg/logger"
)

// ConversationResponse wraps a single conversation.
type ConversationResponse struct {
	Success      bool                `json:"success"`
	Conversation *model.Conversation `json:"conversation"`
}

// ShareResponse describes an issued share link.
type ShareResponse struct {
	Success   bool      `json:"success"`
	Token     string    `json:"shareToken"`
	URL       string    `json:"shareUrl"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	service *service.ConversationService
	logger  *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(svc *service.ConversationService, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		service: svc,
		logger:  log,
	}
}

// conversationID reads and validates the {id} URL parameter.
func conversationID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return id, true
}

// Create handles POST /api/v1/conversations
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	profileID := middleware.GetProfileID(ctx)

	var req model.CreateConversationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := middleware.ValidateTitle(req.Title); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, m := range req.Messages {
		if err := middleware.ValidateMessageContent(m.Content); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	conv, err := h.service.Create(ctx, profileID, &req)
	if err != nil {
		writeServiceError(w, middleware.RequestLogger(ctx, h.logger), err, "create conversation")
		return
	}

	writeJSON(w, http.StatusCreated, &ConversationResponse{Success: true, Conversation: conv})
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	profileID := middleware.GetProfileID(ctx)

	q := model.ListQuery{Status: model.Status(r.URL.Query().Get("status"))}

	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			q.Limit = parsed
		}
	}

	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			q.Offset = parsed
		}
	}

	resp, err := h.service.List(ctx, profileID, q)
	if err != nil {
		writeServiceError(w, middleware.RequestLogger(ctx, h.logger), err, "list conversations")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /api/v1/conversations/{id}
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := conversationID(w, r)
	if !ok {
		return
	}

	conv, err := h.service.Get(ctx, middleware.GetProfileID(ctx), id)
	if err != nil {
		writeServiceError(w, middleware.RequestLogger(ctx, h.logger), err, "get conversation")
		return
	}

	writeJSON(w, http.StatusOK, &ConversationResponse{Success: true, Conversation: conv})
}

// Update handles PUT and PATCH /api/v1/conversations/{id}
func (h *ConversationHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := conversationID(w, r)
	if !ok {
		return
	}

	var req model.UpdateConversationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Title != "" {
		if err := middleware.ValidateTitle(req.Title); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	conv, err := h.service.Update(ctx, middleware.GetProfileID(ctx), id, &req)
	if err != nil {
		writeServiceError(w, middleware.RequestLogger(ctx, h.logger), err, "update conversation")
		return
	}

	writeJSON(w, http.StatusOK, &ConversationResponse{Success: true, Conversation: conv})
}

// Delete handles DELETE /api/v1/conversations/{id}
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := conversationID(w, r)
	if !ok {
		return
	}

	if _, err := h.service.SoftDelete(ctx, middleware.GetProfileID(ctx), id); err != nil {
		writeServiceError(w, middleware.RequestLogger(ctx, h.logger), err, "delete conversation")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Share handles POST /api/v1/conversations/{id}/share
func (h *ConversationHandler) Share(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := conversationID(w, r)
	if !ok {
		return
	}

	conv, err := h.service.GenerateShare(ctx, middleware.GetProfileID(ctx), id)
	if err != nil {
		writeServiceError(w, middleware.RequestLogger(ctx, h.logger), err, "share conversation")
		return
	}

	writeJSON(w, http.StatusOK, &ShareResponse{
		Success:   true,
		Token:     conv.Sharing.Token,
		URL:       "/api/v1/shared/" + conv.Sharing.Token,
		ExpiresAt: *conv.Sharing.ExpiresAt,
	})
}

// Unshare handles DELETE /api/v1/conversations/{id}/share
func (h *ConversationHandler) Unshare(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := conversationID(w, r)
	if !ok {
		return
	}

	if _, err := h.service.RevokeShare(ctx, middleware.GetProfileID(ctx), id); err != nil {
		writeServiceError(w, middleware.RequestLogger(ctx, h.logger), err, "revoke share link")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Shared handles GET /api/v1/shared/{token}. It needs no authentication
// and returns the conversation without owner fields.
func (h *ConversationHandler) Shared(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token := chi.URLParam(r, "token")
	if err := middleware.ValidateShareToken(token); err != nil {
		writeError(w, http.StatusNotFound, "shared conversation not found or expired")
		return
	}

	shared, err := h.service.LookupShare(ctx, token)
	if err != nil {
		writeServiceError(w, middleware.RequestLogger(ctx, h.logger), err, "load shared conversation")
		return
	}

	w.Header().Set("Cache-Control", "private, max-age=60")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"conversation": shared,
	})
}
