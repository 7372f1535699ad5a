package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/sindi-homes/assistant/internal/service"
	"github.com/sindi-homes/assistant/internal/store"
	"github.com/sindi-homes/assistant/pkg/logger"
)

const maxBodyBytes = 1 << 20

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body too large")
		}
		return fmt.Errorf("invalid request body")
	}
	return nil
}

// writeServiceError maps service errors to statuses. Unknown errors are
// logged and reported as 500 with a generic message.
func writeServiceError(w http.ResponseWriter, log *logger.Logger, err error, action string) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, service.ErrShareNotFound):
		writeError(w, http.StatusNotFound, "shared conversation not found or expired")
	case errors.Is(err, service.ErrConversationArchived):
		writeError(w, http.StatusConflict, "conversation is archived")
	case errors.Is(err, store.ErrVersionConflict):
		writeError(w, http.StatusConflict, "conversation was modified concurrently, please retry")
	case errors.Is(err, service.ErrInvalidRole),
		errors.Is(err, service.ErrEmptyContent),
		errors.Is(err, service.ErrInvalidStatus),
		errors.Is(err, service.ErrNoUserMessage):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Error("failed to "+action, zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to "+action)
	}
}

// wantsEventStream reports whether the client asked for SSE framing.
func wantsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}
