package llm

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter estimates token counts with the cl100k encoding. It is used
// for providers that do not report usage while streaming and for prompt
// budgeting.
type TokenCounter struct {
	once  sync.Once
	codec tokenizer.Codec
}

// NewTokenCounter creates a lazily initialised counter.
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{}
}

// Count returns the number of tokens in text. Falls back to a
// four-bytes-per-token estimate if the encoding cannot be loaded.
func (c *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	c.once.Do(func() {
		codec, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err == nil {
			c.codec = codec
		}
	})
	if c.codec == nil {
		return (len(text) + 3) / 4
	}
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		return (len(text) + 3) / 4
	}
	return len(ids)
}

var defaultCounter = NewTokenCounter()

// CountTokens counts tokens with the shared counter.
func CountTokens(text string) int {
	return defaultCounter.Count(text)
}
