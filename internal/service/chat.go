package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/sindi-homes/assistant/internal/config"
	"github.com/sindi-homes/assistant/internal/llm"
	"github.com/sindi-homes/assistant/internal/model"
	"github.com/sindi-homes/assistant/internal/relay"
	"github.com/sindi-homes/assistant/internal/search"
	"github.com/sindi-homes/assistant/pkg/logger"
	"github.com/sindi-homes/assistant/pkg/metrics"
	"github.com/sindi-homes/assistant/pkg/tracing"
)

var (
	// ErrNoUserMessage is returned when the chat request has no user text.
	ErrNoUserMessage = errors.New("a non-empty user message is required")

	// ErrUpstream wraps failures of the language model stream.
	ErrUpstream = errors.New("language model request failed")
)

const (
	defaultHistoryWindow = 20
	persistRetryDelay    = 250 * time.Millisecond
)

// ChatConfig tunes a chat turn.
type ChatConfig struct {
	Model          string
	MaxTokens      int
	HistoryWindow  int
	PartialPolicy  string
	PersistTimeout time.Duration
}

// Grounder produces the retrieval grounding for a turn.
type Grounder interface {
	Ground(ctx context.Context, query string, cited []string) *search.Grounding
}

// ChatService runs streaming chat turns.
type ChatService struct {
	conversations *ConversationService
	grounder      Grounder
	client        llm.Client
	titles        *TitleGenerator
	cfg           ChatConfig
	logger        *logger.Logger

	wg sync.WaitGroup
}

// NewChatService creates a chat service.
func NewChatService(
	conversations *ConversationService,
	grounder Grounder,
	client llm.Client,
	titles *TitleGenerator,
	cfg ChatConfig,
	log *logger.Logger,
) *ChatService {
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = defaultHistoryWindow
	}
	if cfg.PartialPolicy == "" {
		cfg.PartialPolicy = config.PartialPersist
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 10 * time.Second
	}
	return &ChatService{
		conversations: conversations,
		grounder:      grounder,
		client:        client,
		titles:        titles,
		cfg:           cfg,
		logger:        log,
	}
}

// Turn is a resolved chat turn ready to stream.
type Turn struct {
	Conversation *model.Conversation
	// Promoted is true when a new conversation replaced an absent or
	// temporary id.
	Promoted bool

	profileID   string
	query       string
	history     []model.ChatMessage
	cited       []string
	assistantID string
}

// Begin validates the request, resolves the conversation and records the
// user message. A failed user append is logged and the turn proceeds.
func (s *ChatService) Begin(ctx context.Context, profileID string, req *model.ChatRequest) (*Turn, error) {
	query, ok := req.LastUserMessage()
	if !ok || strings.TrimSpace(query) == "" {
		return nil, ErrNoUserMessage
	}

	conv, promoted, err := s.conversations.Resolve(ctx, profileID, req.ConversationID)
	if err != nil {
		return nil, err
	}

	turn := &Turn{
		Conversation: conv,
		Promoted:     promoted,
		profileID:    profileID,
		query:        query,
		history:      req.Messages,
		cited:        citedIDs(conv, req.Messages),
		assistantID:  uuid.Must(uuid.NewV7()).String(),
	}

	updated, err := s.conversations.AppendMessage(ctx, profileID, conv.ID, model.Message{
		Role:    model.RoleUser,
		Content: query,
	})
	if err != nil {
		metrics.PersistenceFailures.WithLabelValues("user_append").Inc()
		s.logger.Error("failed to persist user message",
			zap.String("conversation_id", conv.ID),
			zap.Error(err),
		)
	} else {
		turn.Conversation = updated
	}

	return turn, nil
}

// Stream grounds the turn, streams the model answer into sink and
// schedules persistence. A model failure is returned wrapped in
// ErrUpstream; a client disconnect is not an error.
func (s *ChatService) Stream(ctx context.Context, turn *Turn, sink relay.Sink) (relay.Outcome, error) {
	ctx, span := tracing.Tracer("service").Start(ctx, "chat.turn")
	defer span.End()
	span.SetAttributes(
		attribute.String("conversation.id", turn.Conversation.ID),
		attribute.Bool("conversation.promoted", turn.Promoted),
	)

	grounding := s.grounder.Ground(ctx, turn.query, turn.cited)

	r := relay.New(sink, grounding.Merged.Hints)

	metrics.StreamStarted()
	start := time.Now()
	resp, err := s.client.CompleteStream(ctx, &llm.CompletionRequest{
		Model:     s.cfg.Model,
		System:    grounding.System,
		Messages:  historyWindow(turn.history, s.cfg.HistoryWindow),
		MaxTokens: s.cfg.MaxTokens,
	}, r.Callback(ctx))
	metrics.StreamEnded()

	outcome := r.Finish(ctx, err)
	s.recordStream(resp, outcome, time.Since(start))

	if err != nil && !outcome.ClientGone {
		span.RecordError(err)
		span.SetStatus(codes.Error, "model stream failed")
		s.logger.Error("model stream failed",
			zap.String("conversation_id", turn.Conversation.ID),
			zap.Bool("started", outcome.Text != ""),
			zap.Error(err),
		)
		publishEvent(context.WithoutCancel(ctx), s.conversations.events, s.logger, turn.Conversation, model.EventTurnFailed, err.Error(), nil)
		s.persist(ctx, turn, outcome)
		return outcome, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	if outcome.ClientGone {
		s.logger.Info("client disconnected mid-stream",
			zap.String("conversation_id", turn.Conversation.ID),
			zap.Int("accumulated_bytes", len(outcome.Text)),
		)
	}
	s.persist(ctx, turn, outcome)
	return outcome, nil
}

func (s *ChatService) recordStream(resp *llm.CompletionResponse, outcome relay.Outcome, elapsed time.Duration) {
	name := s.cfg.Model
	var in, out int
	if resp != nil {
		name, in, out = resp.Model, resp.TokensIn, resp.TokensOut
	}
	if name == "" {
		name = s.client.Name()
	}
	result := "success"
	switch {
	case outcome.ClientGone:
		result = "client_gone"
	case !outcome.Complete:
		result = "error"
	}
	metrics.RecordLLMStream(name, result, elapsed.Seconds(), in, out)
}

// persist stores the assistant reply after the response, detached from the
// request context. Partial replies follow the configured policy.
func (s *ChatService) persist(ctx context.Context, turn *Turn, outcome relay.Outcome) {
	if strings.TrimSpace(outcome.Text) == "" {
		return
	}
	if !outcome.Complete && s.cfg.PartialPolicy == config.PartialDiscard {
		s.logger.Info("discarding partial reply",
			zap.String("conversation_id", turn.Conversation.ID),
		)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PersistTimeout)
		defer cancel()

		ctx, span := tracing.Tracer("service").Start(ctx, "chat.persist")
		defer span.End()

		conv, err := s.appendAssistant(ctx, turn, outcome)
		if err != nil {
			span.RecordError(err)
			metrics.PersistenceFailures.WithLabelValues("assistant_append").Inc()
			s.logger.Error("failed to persist assistant message",
				zap.String("conversation_id", turn.Conversation.ID),
				zap.String("message_id", turn.assistantID),
				zap.Error(err),
			)
			return
		}

		if outcome.Complete && conv.Title == model.DefaultTitle && firstExchange(conv, turn.assistantID) {
			s.autoTitle(ctx, turn, conv, outcome.Text)
		}
	}()
}

// appendAssistant writes the reply, retrying once. The message id makes
// the retry idempotent.
func (s *ChatService) appendAssistant(ctx context.Context, turn *Turn, outcome relay.Outcome) (*model.Conversation, error) {
	msg := model.Message{
		ID:      turn.assistantID,
		Role:    model.RoleAssistant,
		Content: outcome.Text,
		Partial: !outcome.Complete,
	}

	var conv *model.Conversation
	op := func() error {
		var err error
		conv, err = s.conversations.AppendMessage(ctx, turn.profileID, turn.Conversation.ID, msg)
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConversationArchived) || errors.Is(err, ErrInvalidRole) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(persistRetryDelay), 1), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, err
	}
	return conv, nil
}

// firstExchange reports whether conv holds exactly one user message
// followed by the assistant reply with id assistantID.
func firstExchange(conv *model.Conversation, assistantID string) bool {
	return len(conv.Messages) == 2 &&
		conv.Messages[0].Role == model.RoleUser &&
		conv.Messages[1].ID == assistantID
}

// autoTitle names the conversation after its first completed exchange,
// unless someone renamed it first.
func (s *ChatService) autoTitle(ctx context.Context, turn *Turn, conv *model.Conversation, reply string) {
	userText := turn.query
	for _, m := range conv.Messages {
		if m.Role == model.RoleUser {
			userText = m.Content
			break
		}
	}

	title := s.titles.Generate(ctx, userText, reply)

	updated, err := s.conversations.mutate(ctx, turn.profileID, conv.ID, func(c *model.Conversation) error {
		if c.Title != model.DefaultTitle || !firstExchange(c, turn.assistantID) {
			return errNoChange
		}
		c.Title = cleanTitle(title)
		return nil
	})
	if err != nil {
		metrics.PersistenceFailures.WithLabelValues("title").Inc()
		s.logger.Warn("failed to store generated title",
			zap.String("conversation_id", conv.ID),
			zap.Error(err),
		)
		return
	}
	if updated.Title != cleanTitle(title) {
		return
	}
	s.logger.Info("conversation titled",
		zap.String("conversation_id", conv.ID),
		zap.String("title", updated.Title),
	)
	publishEvent(ctx, s.conversations.events, s.logger, updated, model.EventTitleGenerated, "", map[string]any{
		"title": updated.Title,
	})
}

// Wait blocks until scheduled persistence work has finished.
func (s *ChatService) Wait() {
	s.wg.Wait()
}

// Drain waits for persistence work or until ctx is done.
func (s *ChatService) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// citedIDs reads citations from stored replies, or from the client's
// history when nothing is stored yet.
func citedIDs(conv *model.Conversation, client []model.ChatMessage) []string {
	if len(conv.Messages) > 0 {
		return search.CitedIDs(conv.Messages)
	}
	msgs := make([]model.Message, 0, len(client))
	for _, m := range client {
		msgs = append(msgs, model.Message{Role: m.Role, Content: m.Content})
	}
	return search.CitedIDs(msgs)
}

// historyWindow keeps the last n user and assistant messages, starting
// with a user message.
func historyWindow(messages []model.ChatMessage, n int) []llm.ChatMessage {
	kept := make([]model.ChatMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role.Durable() && strings.TrimSpace(m.Content) != "" {
			kept = append(kept, m)
		}
	}
	if len(kept) > n {
		kept = kept[len(kept)-n:]
	}
	for len(kept) > 0 && kept[0].Role != model.RoleUser {
		kept = kept[1:]
	}

	out := make([]llm.ChatMessage, 0, len(kept))
	for _, m := range kept {
		out = append(out, llm.ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}
