package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/sindi-homes/assistant/internal/middleware"
	"github.com/sindi-homes/assistant/internal/model"
	"github.com/sindi-homes/assistant/internal/service"
	"github.com/sindi-homes/assistant/pkg/logger"
)

// ChatHandler serves the streaming chat endpoint.
type ChatHandler struct {
	chat   *service.ChatService
	logger *logger.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(chat *service.ChatService, log *logger.Logger) *ChatHandler {
	return &ChatHandler{chat: chat, logger: log}
}

// Chat handles POST /api/v1/chat
//
// The answer streams as chunked plain text, or as SSE token/done/error
// events when the client accepts text/event-stream. X-Conversation-ID is
// set when a new conversation was created for the turn.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	profileID := middleware.GetProfileID(ctx)
	log := middleware.RequestLogger(ctx, h.logger)

	var req model.ChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateChatRequest(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	turn, err := h.chat.Begin(ctx, profileID, &req)
	if err != nil {
		writeServiceError(w, log, err, "start chat turn")
		return
	}
	log = log.WithConversation(turn.Conversation.ID)
	if turn.Promoted {
		w.Header().Set("X-Conversation-ID", turn.Conversation.ID)
		log.Debug("conversation promoted", zap.String("requested_id", req.ConversationID))
	}

	sink := newStreamWriter(w, wantsEventStream(r))
	outcome, err := h.chat.Stream(ctx, turn, sink)

	switch {
	case err != nil && !sink.committed:
		writeError(w, http.StatusBadGateway, "the assistant is unavailable right now, please try again")
	case err != nil:
		if sink.sse {
			if err := sink.event("error", &model.ErrorEvent{
				Code:    "upstream_error",
				Message: "the response was interrupted",
			}); err != nil {
				log.Debug("failed to write error event", zap.Error(err))
			}
		}
	case outcome.ClientGone:
		log.Debug("chat client went away", zap.Int("delivered_bytes", len(outcome.Text)))
	default:
		sink.commit()
		if sink.sse {
			if err := sink.event("done", &model.DoneEvent{ConversationID: turn.Conversation.ID}); err != nil {
				log.Debug("failed to write done event", zap.Error(err))
			}
		}
	}
}

// streamWriter delivers relay output to the response. Headers are
// committed on the first write so an early model failure can still be
// answered with a JSON error.
type streamWriter struct {
	w         http.ResponseWriter
	flusher   http.Flusher
	sse       bool
	committed bool
	index     int
}

func newStreamWriter(w http.ResponseWriter, sse bool) *streamWriter {
	flusher, _ := w.(http.Flusher)
	return &streamWriter{w: w, flusher: flusher, sse: sse}
}

func (s *streamWriter) commit() {
	if s.committed {
		return
	}
	s.committed = true

	h := s.w.Header()
	if s.sse {
		h.Set("Content-Type", "text/event-stream")
	} else {
		h.Set("Content-Type", "text/plain; charset=utf-8")
	}
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
}

// Write implements relay.Sink.
func (s *streamWriter) Write(text string) error {
	s.commit()
	if s.sse {
		err := sendSSEEvent(s.w, s.flusher, "token", &model.TokenEvent{Token: text, Index: s.index})
		s.index++
		return err
	}
	if _, err := io.WriteString(s.w, text); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

func (s *streamWriter) event(name string, data interface{}) error {
	s.commit()
	return sendSSEEvent(s.w, s.flusher, name, data)
}

func sendSSEEvent(w io.Writer, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	if flusher != nil {
		flusher.Flush()
	}
	return nil
}
