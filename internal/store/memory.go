package store

import (
	"context"
	"sync"
	"time"

	"github.com/sindi-homes/assistant/internal/model"
)

// MemoryStore keeps conversations in process memory. Used for local runs
// and tests.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*model.Conversation
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*model.Conversation),
	}
}

// Create implements ConversationStore.
func (s *MemoryStore) Create(ctx context.Context, conv *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.conversations[conv.ID]; exists {
		return ErrExists
	}
	conv.Version = 1
	s.conversations[conv.ID] = conv.Clone()
	return nil
}

// Get implements ConversationStore.
func (s *MemoryStore) Get(ctx context.Context, id, profileID string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, exists := s.conversations[id]
	if !exists || conv.ProfileID != profileID {
		return nil, ErrNotFound
	}
	return conv.Clone(), nil
}

// List implements ConversationStore.
func (s *MemoryStore) List(ctx context.Context, profileID string, q model.ListQuery) ([]*model.Conversation, int, error) {
	s.mu.RLock()
	var convs []*model.Conversation
	for _, conv := range s.conversations {
		if conv.ProfileID == profileID && listable(conv, q.Status) {
			convs = append(convs, conv.Clone())
		}
	}
	s.mu.RUnlock()

	sortByActivity(convs)
	return page(convs, q.Limit, q.Offset), len(convs), nil
}

// Update implements ConversationStore.
func (s *MemoryStore) Update(ctx context.Context, conv *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.conversations[conv.ID]
	if !exists || current.ProfileID != conv.ProfileID {
		return ErrNotFound
	}
	if current.Version != conv.Version {
		return ErrVersionConflict
	}

	conv.Version++
	s.conversations[conv.ID] = conv.Clone()
	return nil
}

// FindByShareToken implements ConversationStore.
func (s *MemoryStore) FindByShareToken(ctx context.Context, token string, now time.Time) (*model.Conversation, error) {
	if token == "" {
		return nil, ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, conv := range s.conversations {
		if conv.Sharing.Token == token && conv.Sharing.Active(now) && conv.Status != model.StatusDeleted {
			return conv.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

// Ping implements ConversationStore.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close implements ConversationStore.
func (s *MemoryStore) Close() error {
	return nil
}
