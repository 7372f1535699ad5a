// Package service holds the conversation, sharing and chat-turn logic of
// the Sindi assistant.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sindi-homes/assistant/internal/model"
	"github.com/sindi-homes/assistant/internal/store"
	"github.com/sindi-homes/assistant/pkg/logger"
	"github.com/sindi-homes/assistant/pkg/metrics"
)

var (
	// ErrNotFound is returned for unknown, foreign or deleted conversations.
	ErrNotFound = store.ErrNotFound

	// ErrConversationArchived is returned when a turn or append targets an
	// archived conversation.
	ErrConversationArchived = errors.New("conversation is archived")

	// ErrInvalidRole is returned when appending a non-durable role.
	ErrInvalidRole = errors.New("only user and assistant messages can be appended")

	// ErrEmptyContent is returned when appending an empty message.
	ErrEmptyContent = errors.New("message content is required")

	// ErrInvalidStatus is returned for an unknown status change.
	ErrInvalidStatus = errors.New("invalid conversation status")
)

const (
	// maxWriteAttempts bounds the reload-modify-CAS loop.
	maxWriteAttempts = 3

	maxTitleRunes = 120

	defaultListLimit = 20
	maxListLimit     = 100
)

// TempIDPrefix marks client-side conversation ids that are never stored.
const TempIDPrefix = "temp-"

// errNoChange short-circuits mutate without writing.
var errNoChange = errors.New("no change")

// ConversationService handles conversation operations.
type ConversationService struct {
	store    store.ConversationStore
	cache    store.ShareCache
	events   EventPublisher
	shareTTL time.Duration
	logger   *logger.Logger
	now      func() time.Time
}

// NewConversationService creates a new conversation service. cache may be
// nil.
func NewConversationService(st store.ConversationStore, cache store.ShareCache, events EventPublisher, shareTTL time.Duration, log *logger.Logger) *ConversationService {
	if events == nil {
		events = NoopPublisher{}
	}
	if shareTTL <= 0 {
		shareTTL = DefaultShareTTL
	}
	return &ConversationService{
		store:    st,
		cache:    cache,
		events:   events,
		shareTTL: shareTTL,
		logger:   log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create creates a new conversation owned by profileID.
func (s *ConversationService) Create(ctx context.Context, profileID string, req *model.CreateConversationRequest) (*model.Conversation, error) {
	now := s.now()

	conv := &model.Conversation{
		ID:        uuid.Must(uuid.NewV7()).String(),
		ProfileID: profileID,
		Title:     cleanTitle(req.Title),
		Messages:  []model.Message{},
		Status:    model.StatusActive,
		Analytics: model.Analytics{LastActivity: now},
		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, m := range req.Messages {
		msg, err := s.newMessage(m)
		if err != nil {
			return nil, err
		}
		conv.Messages = append(conv.Messages, msg)
	}
	touch(conv)

	if err := s.store.Create(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	metrics.ConversationsTotal.Inc()
	for _, m := range conv.Messages {
		metrics.MessagesTotal.WithLabelValues(string(m.Role)).Inc()
	}
	s.logger.Info("conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("profile_id", profileID),
	)
	publishEvent(ctx, s.events, s.logger, conv, model.EventConversationCreated, "", nil)

	return conv, nil
}

// Get retrieves a conversation by ID. Deleted conversations are not found.
func (s *ConversationService) Get(ctx context.Context, profileID, id string) (*model.Conversation, error) {
	conv, err := s.store.Get(ctx, id, profileID)
	if err != nil {
		return nil, err
	}
	if conv.Status == model.StatusDeleted {
		return nil, ErrNotFound
	}
	return conv, nil
}

// List pages the profile's conversations, most recent activity first.
func (s *ConversationService) List(ctx context.Context, profileID string, q model.ListQuery) (*model.ListConversationsResponse, error) {
	if q.Status != "" && !q.Status.Valid() {
		return nil, ErrInvalidStatus
	}
	if q.Limit <= 0 {
		q.Limit = defaultListLimit
	}
	if q.Limit > maxListLimit {
		q.Limit = maxListLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	convs, total, err := s.store.List(ctx, profileID, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	summaries := make([]model.Summary, 0, len(convs))
	for _, c := range convs {
		summaries = append(summaries, c.Summarize())
	}
	return &model.ListConversationsResponse{
		Success:       true,
		Conversations: summaries,
		Total:         total,
		HasMore:       q.Offset+len(convs) < total,
	}, nil
}

// Update applies a title and/or status change.
func (s *ConversationService) Update(ctx context.Context, profileID, id string, req *model.UpdateConversationRequest) (*model.Conversation, error) {
	var conv *model.Conversation
	var err error

	if strings.TrimSpace(req.Title) != "" {
		if conv, err = s.UpdateTitle(ctx, profileID, id, req.Title); err != nil {
			return nil, err
		}
	}

	switch req.Status {
	case "":
	case model.StatusActive:
		conv, err = s.Restore(ctx, profileID, id)
	case model.StatusArchived:
		conv, err = s.Archive(ctx, profileID, id)
	case model.StatusDeleted:
		conv, err = s.SoftDelete(ctx, profileID, id)
	default:
		return nil, ErrInvalidStatus
	}
	if err != nil {
		return nil, err
	}

	if conv == nil {
		return s.Get(ctx, profileID, id)
	}
	return conv, nil
}

// UpdateTitle renames a conversation.
func (s *ConversationService) UpdateTitle(ctx context.Context, profileID, id, title string) (*model.Conversation, error) {
	title = cleanTitle(title)
	return s.mutate(ctx, profileID, id, func(c *model.Conversation) error {
		if c.Title == title {
			return errNoChange
		}
		c.Title = title
		return nil
	})
}

// Archive moves a conversation out of the active list.
func (s *ConversationService) Archive(ctx context.Context, profileID, id string) (*model.Conversation, error) {
	return s.setStatus(ctx, profileID, id, model.StatusArchived)
}

// Restore makes an archived conversation active again.
func (s *ConversationService) Restore(ctx context.Context, profileID, id string) (*model.Conversation, error) {
	return s.setStatus(ctx, profileID, id, model.StatusActive)
}

// SoftDelete hides a conversation from every read path. Any share link
// stops resolving immediately.
func (s *ConversationService) SoftDelete(ctx context.Context, profileID, id string) (*model.Conversation, error) {
	return s.setStatus(ctx, profileID, id, model.StatusDeleted)
}

func (s *ConversationService) setStatus(ctx context.Context, profileID, id string, status model.Status) (*model.Conversation, error) {
	var from model.Status
	conv, err := s.mutate(ctx, profileID, id, func(c *model.Conversation) error {
		from = ""
		if c.Status == status {
			return errNoChange
		}
		from = c.Status
		c.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}
	if status == model.StatusDeleted {
		s.invalidateShare(ctx, conv.Sharing.Token)
	}
	if from != "" {
		publishEvent(ctx, s.events, s.logger, conv, model.EventStatusChanged, "", map[string]any{
			"from": string(from),
			"to":   string(status),
		})
	}
	return conv, nil
}

// AppendMessage adds a user or assistant message. A message whose id is
// already stored is not appended again.
func (s *ConversationService) AppendMessage(ctx context.Context, profileID, id string, msg model.Message) (*model.Conversation, error) {
	msg, err := s.newMessage(msg)
	if err != nil {
		return nil, err
	}

	conv, err := s.mutate(ctx, profileID, id, func(c *model.Conversation) error {
		if c.Status == model.StatusArchived {
			return ErrConversationArchived
		}
		if c.HasMessage(msg.ID) {
			return errNoChange
		}
		c.Messages = append(c.Messages, msg)
		touch(c)
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.MessagesTotal.WithLabelValues(string(msg.Role)).Inc()
	publishEvent(ctx, s.events, s.logger, conv, model.EventMessageAppended, "", map[string]any{
		"message_id": msg.ID,
		"role":       string(msg.Role),
		"partial":    msg.Partial,
	})
	return conv, nil
}

// Resolve returns the conversation a chat turn continues. Absent or
// temporary ids create a new conversation and report promoted=true.
func (s *ConversationService) Resolve(ctx context.Context, profileID, requestedID string) (conv *model.Conversation, promoted bool, err error) {
	if IsTemporaryID(requestedID) {
		conv, err = s.Create(ctx, profileID, &model.CreateConversationRequest{})
		if err != nil {
			return nil, false, err
		}
		return conv, true, nil
	}

	conv, err = s.Get(ctx, profileID, requestedID)
	if err != nil {
		return nil, false, err
	}
	if conv.Status == model.StatusArchived {
		return nil, false, ErrConversationArchived
	}
	return conv, false, nil
}

// IsTemporaryID reports whether id is absent or a client-side placeholder.
func IsTemporaryID(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" || strings.HasPrefix(id, TempIDPrefix) {
		return true
	}
	_, err := uuid.Parse(id)
	return err != nil
}

// mutate runs fn against a fresh copy and writes it back with a
// compare-and-swap, reloading on version conflicts.
func (s *ConversationService) mutate(ctx context.Context, profileID, id string, fn func(c *model.Conversation) error) (*model.Conversation, error) {
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		conv, err := s.Get(ctx, profileID, id)
		if err != nil {
			return nil, err
		}

		if err := fn(conv); err != nil {
			if errors.Is(err, errNoChange) {
				return conv, nil
			}
			return nil, err
		}
		conv.UpdatedAt = s.now()

		err = s.store.Update(ctx, conv)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, fmt.Errorf("failed to update conversation: %w", err)
		}
		s.logger.Debug("version conflict, retrying",
			zap.String("conversation_id", id),
			zap.Int("attempt", attempt),
		)
	}
	return nil, store.ErrVersionConflict
}

func (s *ConversationService) newMessage(m model.Message) (model.Message, error) {
	if !m.Role.Durable() {
		return m, ErrInvalidRole
	}
	if strings.TrimSpace(m.Content) == "" {
		return m, ErrEmptyContent
	}
	if m.ID == "" {
		m.ID = uuid.Must(uuid.NewV7()).String()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = s.now()
	}
	return m, nil
}

func touch(c *model.Conversation) {
	c.Analytics.MessageCount = len(c.Messages)
	if n := len(c.Messages); n > 0 && c.Messages[n-1].Timestamp.After(c.Analytics.LastActivity) {
		c.Analytics.LastActivity = c.Messages[n-1].Timestamp
	}
}

func cleanTitle(title string) string {
	title = strings.Join(strings.Fields(title), " ")
	if title == "" {
		return model.DefaultTitle
	}
	if utf8.RuneCountInString(title) > maxTitleRunes {
		title = string([]rune(title)[:maxTitleRunes])
	}
	return title
}
