package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sindi-homes/assistant/internal/model"
	"github.com/sindi-homes/assistant/internal/store"
	"github.com/sindi-homes/assistant/pkg/metrics"
)

// ErrShareNotFound is returned for unknown, revoked or expired share tokens.
var ErrShareNotFound = errors.New("shared conversation not found or expired")

// DefaultShareTTL is how long a share link stays valid.
const DefaultShareTTL = 24 * time.Hour

const shareTokenBytes = 32

// newShareToken returns 32 random bytes, base64url encoded.
func newShareToken() (string, error) {
	b := make([]byte, shareTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate share token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GenerateShare issues a new share token for the conversation, replacing
// any previous one.
func (s *ConversationService) GenerateShare(ctx context.Context, profileID, id string) (*model.Conversation, error) {
	token, err := newShareToken()
	if err != nil {
		return nil, err
	}

	var previous string
	conv, err := s.mutate(ctx, profileID, id, func(c *model.Conversation) error {
		previous = c.Sharing.Token
		now := s.now()
		expires := now.Add(s.shareTTL)
		c.Sharing = model.Sharing{
			IsShared:  true,
			Token:     token,
			CreatedAt: &now,
			ExpiresAt: &expires,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateShare(ctx, previous)
	metrics.ShareTokensIssued.Inc()
	s.logger.Info("share link created",
		zap.String("conversation_id", conv.ID),
		zap.Time("expires_at", *conv.Sharing.ExpiresAt),
	)
	publishEvent(ctx, s.events, s.logger, conv, model.EventShareCreated, "", map[string]any{
		"expires_at": conv.Sharing.ExpiresAt,
	})
	return conv, nil
}

// RevokeShare disables the conversation's share link. Revoking an unshared
// conversation is a no-op.
func (s *ConversationService) RevokeShare(ctx context.Context, profileID, id string) (*model.Conversation, error) {
	var previous string
	conv, err := s.mutate(ctx, profileID, id, func(c *model.Conversation) error {
		previous = c.Sharing.Token
		if !c.Sharing.IsShared && previous == "" {
			return errNoChange
		}
		c.Sharing = model.Sharing{}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if previous == "" {
		return conv, nil
	}

	s.invalidateShare(ctx, previous)
	publishEvent(ctx, s.events, s.logger, conv, model.EventShareRevoked, "", nil)
	return conv, nil
}

// LookupShare resolves a public share token to the sanitized conversation.
func (s *ConversationService) LookupShare(ctx context.Context, token string) (*model.SharedConversation, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrShareNotFound
	}
	now := s.now()

	if s.cache != nil {
		shared, err := s.cache.Get(ctx, token)
		switch {
		case err == nil && (shared.ExpiresAt == nil || now.Before(*shared.ExpiresAt)):
			return shared, nil
		case err != nil && !errors.Is(err, store.ErrCacheMiss):
			s.logger.Warn("share cache read failed", zap.Error(err))
		}
	}

	conv, err := s.store.FindByShareToken(ctx, token, now)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrShareNotFound
		}
		return nil, fmt.Errorf("failed to look up share token: %w", err)
	}

	shared := conv.Sanitize()
	if s.cache != nil && conv.Sharing.ExpiresAt != nil {
		if err := s.cache.Set(ctx, token, shared, *conv.Sharing.ExpiresAt); err != nil {
			s.logger.Warn("share cache write failed", zap.Error(err))
		}
	}
	return shared, nil
}

func (s *ConversationService) invalidateShare(ctx context.Context, token string) {
	if s.cache == nil || token == "" {
		return
	}
	if err := s.cache.Invalidate(ctx, token); err != nil {
		s.logger.Warn("share cache invalidation failed", zap.Error(err))
	}
}
