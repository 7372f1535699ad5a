// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"strings"
	"sync"

	"github.com/sindi-homes/assistant/internal/llm"
)

// Client is a scripted llm.Client. Complete returns Completions in order,
// repeating the last one; CompleteStream emits Tokens.
type Client struct {
	mu sync.Mutex

	Completions []string
	CompleteErr error
	Tokens      []string
	StreamErr   error
	// FailAfter makes CompleteStream return StreamErr after that many
	// tokens. Zero with a StreamErr fails before the first token.
	FailAfter int

	// BeforeToken runs before token i is delivered.
	BeforeToken func(i int)

	calls    int
	requests []*llm.CompletionRequest
}

// Name implements llm.Client.
func (c *Client) Name() string { return "fake" }

// Models implements llm.Client.
func (c *Client) Models() []string { return []string{"fake-model"} }

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	i := c.calls
	c.calls++
	c.mu.Unlock()

	if c.CompleteErr != nil {
		return nil, c.CompleteErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var content string
	if len(c.Completions) > 0 {
		if i >= len(c.Completions) {
			i = len(c.Completions) - 1
		}
		content = c.Completions[i]
	}
	return &llm.CompletionResponse{Content: content, Model: req.Model}, nil
}

// CompleteStream implements llm.Client.
func (c *Client) CompleteStream(ctx context.Context, req *llm.CompletionRequest, callback llm.StreamCallback) (*llm.CompletionResponse, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()

	var content strings.Builder
	for i, token := range c.Tokens {
		if c.StreamErr != nil && i == c.FailAfter {
			return nil, c.StreamErr
		}
		if c.BeforeToken != nil {
			c.BeforeToken(i)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		content.WriteString(token)
		if err := callback(token, i); err != nil {
			return nil, err
		}
	}
	if c.StreamErr != nil && c.FailAfter >= len(c.Tokens) {
		return nil, c.StreamErr
	}
	return &llm.CompletionResponse{Content: content.String(), Model: req.Model, TokensOut: len(c.Tokens)}, nil
}

// Requests returns the requests received so far.
func (c *Client) Requests() []*llm.CompletionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*llm.CompletionRequest(nil), c.requests...)
}
