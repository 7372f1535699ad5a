package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sindi-homes/assistant/internal/model"
	"github.com/sindi-homes/assistant/internal/store"
)

func sharedConversation(t *testing.T, svc *ConversationService) *model.Conversation {
	t.Helper()
	ctx := context.Background()
	conv, err := svc.Create(ctx, profileID, &model.CreateConversationRequest{Title: "Berlin search"})
	require.NoError(t, err)
	_, err = svc.AppendMessage(ctx, profileID, conv.ID, model.Message{Role: model.RoleUser, Content: "flats in Berlin"})
	require.NoError(t, err)
	_, err = svc.AppendMessage(ctx, profileID, conv.ID, model.Message{Role: model.RoleAssistant, Content: "Two options."})
	require.NoError(t, err)

	shared, err := svc.GenerateShare(ctx, profileID, conv.ID)
	require.NoError(t, err)
	return shared
}

func TestGenerateAndLookupShare(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	svc := newConversations(store.NewMemoryStore(), nil, pub)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	conv := sharedConversation(t, svc)
	require.True(t, conv.Sharing.IsShared)
	require.Len(t, conv.Sharing.Token, 43)
	require.Equal(t, now.Add(time.Hour), *conv.Sharing.ExpiresAt)
	require.Equal(t, 1, pub.count(model.EventShareCreated))

	shared, err := svc.LookupShare(ctx, conv.Sharing.Token)
	require.NoError(t, err)
	require.Equal(t, conv.ID, shared.ID)
	require.Equal(t, "Berlin search", shared.Title)
	require.Len(t, shared.Messages, 2)

	_, err = svc.LookupShare(ctx, "")
	require.ErrorIs(t, err, ErrShareNotFound)
	_, err = svc.LookupShare(ctx, "unknown-token")
	require.ErrorIs(t, err, ErrShareNotFound)
}

func TestShareExpires(t *testing.T) {
	ctx := context.Background()
	svc := newConversations(store.NewMemoryStore(), nil, nil)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	conv := sharedConversation(t, svc)

	now = now.Add(59 * time.Minute)
	_, err := svc.LookupShare(ctx, conv.Sharing.Token)
	require.NoError(t, err)

	now = now.Add(time.Minute)
	_, err = svc.LookupShare(ctx, conv.Sharing.Token)
	require.ErrorIs(t, err, ErrShareNotFound)
}

func TestRegenerateShareReplacesToken(t *testing.T) {
	ctx := context.Background()
	cache := newMemoryCache()
	svc := newConversations(store.NewMemoryStore(), cache, nil)

	first := sharedConversation(t, svc)
	oldToken := first.Sharing.Token
	_, err := svc.LookupShare(ctx, oldToken)
	require.NoError(t, err)
	require.Contains(t, cache.entries, oldToken)

	second, err := svc.GenerateShare(ctx, profileID, first.ID)
	require.NoError(t, err)
	require.NotEqual(t, oldToken, second.Sharing.Token)
	require.Contains(t, cache.invalidated, oldToken)

	_, err = svc.LookupShare(ctx, oldToken)
	require.ErrorIs(t, err, ErrShareNotFound)
	_, err = svc.LookupShare(ctx, second.Sharing.Token)
	require.NoError(t, err)
}

func TestRevokeShare(t *testing.T) {
	ctx := context.Background()
	cache := newMemoryCache()
	pub := &recordingPublisher{}
	svc := newConversations(store.NewMemoryStore(), cache, pub)

	conv := sharedConversation(t, svc)
	token := conv.Sharing.Token
	_, err := svc.LookupShare(ctx, token)
	require.NoError(t, err)

	revoked, err := svc.RevokeShare(ctx, profileID, conv.ID)
	require.NoError(t, err)
	require.Equal(t, model.Sharing{}, revoked.Sharing)
	require.Contains(t, cache.invalidated, token)
	require.Equal(t, 1, pub.count(model.EventShareRevoked))

	_, err = svc.LookupShare(ctx, token)
	require.ErrorIs(t, err, ErrShareNotFound)

	// Revoking again changes nothing.
	_, err = svc.RevokeShare(ctx, profileID, conv.ID)
	require.NoError(t, err)
	require.Equal(t, 1, pub.count(model.EventShareRevoked))
}

func TestLookupShareUsesCache(t *testing.T) {
	ctx := context.Background()
	cache := newMemoryCache()
	st := store.NewMemoryStore()
	svc := newConversations(st, cache, nil)

	conv := sharedConversation(t, svc)
	_, err := svc.LookupShare(ctx, conv.Sharing.Token)
	require.NoError(t, err)

	// Served from cache even though the store copy changed underneath.
	stored, err := st.Get(ctx, conv.ID, profileID)
	require.NoError(t, err)
	stored.Title = "changed"
	require.NoError(t, st.Update(ctx, stored))

	shared, err := svc.LookupShare(ctx, conv.Sharing.Token)
	require.NoError(t, err)
	require.Equal(t, "Berlin search", shared.Title)
	require.Equal(t, 2, cache.gets)
}

func TestSoftDeleteInvalidatesShare(t *testing.T) {
	ctx := context.Background()
	cache := newMemoryCache()
	svc := newConversations(store.NewMemoryStore(), cache, nil)

	conv := sharedConversation(t, svc)
	_, err := svc.LookupShare(ctx, conv.Sharing.Token)
	require.NoError(t, err)

	_, err = svc.SoftDelete(ctx, profileID, conv.ID)
	require.NoError(t, err)

	_, err = svc.LookupShare(ctx, conv.Sharing.Token)
	require.ErrorIs(t, err, ErrShareNotFound)
}
