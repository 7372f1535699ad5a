// Package store persists conversations. Every backend implements
// ConversationStore with compare-and-swap updates keyed on
// Conversation.Version.
package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/sindi-homes/assistant/internal/model"
)

var (
	// ErrNotFound is returned when a conversation does not exist or is not
	// owned by the caller.
	ErrNotFound = errors.New("conversation not found")

	// ErrVersionConflict is returned by Update when the stored version no
	// longer matches the caller's copy.
	ErrVersionConflict = errors.New("conversation version conflict")

	// ErrExists is returned by Create for a duplicate id.
	ErrExists = errors.New("conversation already exists")
)

// ConversationStore is the persistence contract used by the services.
type ConversationStore interface {
	// Create inserts conv. Its Version is set to 1.
	Create(ctx context.Context, conv *model.Conversation) error

	// Get returns the conversation with id owned by profileID, including
	// soft-deleted ones.
	Get(ctx context.Context, id, profileID string) (*model.Conversation, error)

	// List returns a page of the profile's conversations ordered by last
	// activity, newest first, and the total matching count. An empty status
	// lists everything except deleted conversations.
	List(ctx context.Context, profileID string, q model.ListQuery) ([]*model.Conversation, int, error)

	// Update replaces the stored conversation if its version equals
	// conv.Version, then increments conv.Version.
	Update(ctx context.Context, conv *model.Conversation) error

	// FindByShareToken returns the shared, unexpired, non-deleted
	// conversation carrying token.
	FindByShareToken(ctx context.Context, token string, now time.Time) (*model.Conversation, error)

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

func listable(c *model.Conversation, status model.Status) bool {
	if status == "" {
		return c.Status != model.StatusDeleted
	}
	return c.Status == status
}

func sortByActivity(convs []*model.Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].Analytics.LastActivity.After(convs[j].Analytics.LastActivity)
	})
}

func page(convs []*model.Conversation, limit, offset int) []*model.Conversation {
	total := len(convs)
	start := offset
	if start > total {
		start = total
	}
	end := total
	if limit > 0 && start+limit < total {
		end = start + limit
	}
	return convs[start:end]
}
