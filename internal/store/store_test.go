package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sindi-homes/assistant/internal/model"
)

func newConversation(profileID string, lastActivity time.Time) *model.Conversation {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &model.Conversation{
		ID:        uuid.Must(uuid.NewV7()).String(),
		ProfileID: profileID,
		Title:     model.DefaultTitle,
		Status:    model.StatusActive,
		Analytics: model.Analytics{LastActivity: lastActivity.UTC().Truncate(time.Millisecond)},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := OpenSQL("sqlite3", ":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func backends(t *testing.T) map[string]ConversationStore {
	return map[string]ConversationStore{
		"memory": NewMemoryStore(),
		"sqlite": newSQLiteStore(t),
	}
}

func TestConversationStoreRoundTrip(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			conv := newConversation("profile-1", time.Now())
			require.NoError(t, s.Create(ctx, conv))
			require.Equal(t, int64(1), conv.Version)

			for i, role := range []model.Role{model.RoleUser, model.RoleAssistant, model.RoleUser} {
				got, err := s.Get(ctx, conv.ID, "profile-1")
				require.NoError(t, err)
				got.Messages = append(got.Messages, model.Message{
					ID:        fmt.Sprintf("m%d", i),
					Role:      role,
					Content:   fmt.Sprintf("message %d", i),
					Timestamp: time.Now().UTC().Truncate(time.Millisecond),
				})
				require.NoError(t, s.Update(ctx, got))
			}

			got, err := s.Get(ctx, conv.ID, "profile-1")
			require.NoError(t, err)
			require.Equal(t, int64(4), got.Version)
			require.Len(t, got.Messages, 3)
			for i, m := range got.Messages {
				require.Equal(t, fmt.Sprintf("m%d", i), m.ID)
			}
		})
	}
}

func TestConversationStoreOwnership(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			conv := newConversation("owner", time.Now())
			require.NoError(t, s.Create(ctx, conv))

			_, err := s.Get(ctx, conv.ID, "someone-else")
			require.ErrorIs(t, err, ErrNotFound)

			other := conv.Clone()
			other.ProfileID = "someone-else"
			require.ErrorIs(t, s.Update(ctx, other), ErrNotFound)

			require.ErrorIs(t, s.Create(ctx, conv), ErrExists)
		})
	}
}

func TestConversationStoreVersionConflict(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			conv := newConversation("p", time.Now())
			require.NoError(t, s.Create(ctx, conv))

			a, err := s.Get(ctx, conv.ID, "p")
			require.NoError(t, err)
			b, err := s.Get(ctx, conv.ID, "p")
			require.NoError(t, err)

			a.Title = "first"
			require.NoError(t, s.Update(ctx, a))

			b.Title = "second"
			require.ErrorIs(t, s.Update(ctx, b), ErrVersionConflict)

			got, err := s.Get(ctx, conv.ID, "p")
			require.NoError(t, err)
			require.Equal(t, "first", got.Title)
		})
	}
}

func TestConversationStoreList(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Now().Add(-time.Hour)

			var ids []string
			for i := 0; i < 4; i++ {
				conv := newConversation("p", base.Add(time.Duration(i)*time.Minute))
				require.NoError(t, s.Create(ctx, conv))
				ids = append(ids, conv.ID)
			}
			deleted := newConversation("p", base.Add(time.Hour))
			deleted.Status = model.StatusDeleted
			require.NoError(t, s.Create(ctx, deleted))
			require.NoError(t, s.Create(ctx, newConversation("other", base)))

			page, total, err := s.List(ctx, "p", model.ListQuery{Limit: 2})
			require.NoError(t, err)
			require.Equal(t, 4, total)
			require.Len(t, page, 2)
			require.Equal(t, ids[3], page[0].ID)
			require.Equal(t, ids[2], page[1].ID)

			page, _, err = s.List(ctx, "p", model.ListQuery{Limit: 10, Offset: 3})
			require.NoError(t, err)
			require.Len(t, page, 1)
			require.Equal(t, ids[0], page[0].ID)

			page, total, err = s.List(ctx, "p", model.ListQuery{Status: model.StatusDeleted})
			require.NoError(t, err)
			require.Equal(t, 1, total)
			require.Equal(t, deleted.ID, page[0].ID)
		})
	}
}

func TestConversationStoreShareToken(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Millisecond)
			expires := now.Add(time.Hour)

			conv := newConversation("p", now)
			conv.Sharing = model.Sharing{IsShared: true, Token: "tok", CreatedAt: &now, ExpiresAt: &expires}
			require.NoError(t, s.Create(ctx, conv))

			got, err := s.FindByShareToken(ctx, "tok", now)
			require.NoError(t, err)
			require.Equal(t, conv.ID, got.ID)
			require.True(t, got.Sharing.ExpiresAt.Equal(expires))

			_, err = s.FindByShareToken(ctx, "tok", expires.Add(time.Second))
			require.ErrorIs(t, err, ErrNotFound)

			_, err = s.FindByShareToken(ctx, "nope", now)
			require.ErrorIs(t, err, ErrNotFound)

			got.Sharing = model.Sharing{}
			require.NoError(t, s.Update(ctx, got))
			_, err = s.FindByShareToken(ctx, "tok", now)
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestRebind(t *testing.T) {
	s := &SQLStore{driver: "postgres"}
	require.Equal(t, "a = $1 AND b = $2", s.rebind("a = ? AND b = ?"))

	s = &SQLStore{driver: "mysql"}
	require.Equal(t, "a = ?", s.rebind("a = ?"))
}
