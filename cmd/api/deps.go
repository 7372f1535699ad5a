package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sindi-homes/assistant/internal/config"
	"github.com/sindi-homes/assistant/internal/llm"
	"github.com/sindi-homes/assistant/internal/store"
	"github.com/sindi-homes/assistant/pkg/logger"
)

// openStore connects the configured conversation backend.
func openStore(ctx context.Context, cfg *config.Config) (store.ConversationStore, error) {
	switch cfg.StoreDriver {
	case "memory":
		return store.NewMemoryStore(), nil
	case "mongo":
		return store.OpenMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
	default:
		return store.OpenSQL(cfg.StoreDriver, cfg.StoreDSN)
	}
}

// migrate creates the schema for backends that need one.
func migrate(ctx context.Context, st store.ConversationStore) error {
	m, ok := st.(interface {
		Migrate(ctx context.Context) error
	})
	if !ok {
		return nil
	}
	if err := m.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate store: %w", err)
	}
	return nil
}

// newLLMClient prefers the configured provider and falls back to any
// provider with a key.
func newLLMClient(ctx context.Context, cfg *config.Config, log *logger.Logger) (llm.Client, error) {
	keys := map[llm.Provider]string{
		llm.ProviderAnthropic: cfg.AnthropicAPIKey,
		llm.ProviderOpenAI:    cfg.OpenAIAPIKey,
		llm.ProviderGemini:    cfg.GeminiAPIKey,
	}

	order := []llm.Provider{llm.Provider(cfg.DefaultLLM), llm.ProviderAnthropic, llm.ProviderOpenAI, llm.ProviderGemini}
	for _, p := range order {
		key := keys[p]
		if key == "" {
			continue
		}
		client, err := llm.NewClient(ctx, p, key)
		if err != nil {
			log.Warn("failed to create llm client", zap.String("provider", string(p)), zap.Error(err))
			continue
		}
		return client, nil
	}
	return nil, llm.ErrNoProvider
}
