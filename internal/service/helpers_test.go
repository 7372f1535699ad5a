package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sindi-homes/assistant/internal/model"
	"github.com/sindi-homes/assistant/internal/search"
	"github.com/sindi-homes/assistant/internal/store"
	"github.com/sindi-homes/assistant/pkg/logger"
)

const profileID = "profile-1"

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.ConversationEvent
}

func (p *recordingPublisher) PublishEvent(_ context.Context, e *model.ConversationEvent) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *e)
	return uint64(len(p.events)), nil
}

func (p *recordingPublisher) count(typ model.EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

// flakyStore fails the first conflicts updates with a version conflict,
// or every update when broken is set.
type flakyStore struct {
	*store.MemoryStore

	mu        sync.Mutex
	conflicts int
	broken    bool
	updates   int
}

func (s *flakyStore) Update(ctx context.Context, conv *model.Conversation) error {
	s.mu.Lock()
	s.updates++
	if s.broken {
		s.mu.Unlock()
		return errors.New("store unavailable")
	}
	if s.conflicts > 0 {
		s.conflicts--
		s.mu.Unlock()
		return store.ErrVersionConflict
	}
	s.mu.Unlock()
	return s.MemoryStore.Update(ctx, conv)
}

type memoryCache struct {
	mu          sync.Mutex
	entries     map[string]*model.SharedConversation
	invalidated []string
	gets        int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string]*model.SharedConversation)}
}

func (c *memoryCache) Get(_ context.Context, token string) (*model.SharedConversation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	conv, ok := c.entries[token]
	if !ok {
		return nil, store.ErrCacheMiss
	}
	return conv, nil
}

func (c *memoryCache) Set(_ context.Context, token string, conv *model.SharedConversation, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[token] = conv
	return nil
}

func (c *memoryCache) Invalidate(_ context.Context, tokens ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range tokens {
		delete(c.entries, t)
		c.invalidated = append(c.invalidated, t)
	}
	return nil
}

type stubGrounder struct {
	mu      sync.Mutex
	hints   model.PropertyHints
	queries []string
	cited   [][]string
}

func (g *stubGrounder) Ground(_ context.Context, query string, cited []string) *search.Grounding {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queries = append(g.queries, query)
	g.cited = append(g.cited, cited)
	return &search.Grounding{
		Merged: search.Merged{Hints: g.hints},
		System: "You are Sindi.",
	}
}

type recordingSink struct {
	mu     sync.Mutex
	writes []string
}

func (s *recordingSink) Write(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, text)
	return nil
}

func (s *recordingSink) text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out string
	for _, w := range s.writes {
		out += w
	}
	return out
}

func newConversations(st store.ConversationStore, cache store.ShareCache, pub EventPublisher) *ConversationService {
	return NewConversationService(st, cache, pub, time.Hour, logger.NewNop())
}
