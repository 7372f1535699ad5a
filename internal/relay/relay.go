// Package relay tees a model token stream into client delivery and a
// persistence accumulator.
package relay

import (
	"context"
	"strings"
	"sync"

	"github.com/sindi-homes/assistant/internal/model"
	"github.com/sindi-homes/assistant/internal/search"
)

// Sink delivers text to the client.
type Sink interface {
	Write(text string) error
}

// Outcome is the state of a finished relay.
type Outcome struct {
	// Text is everything that passed the citation guard, delivered or not.
	Text string
	// Complete is true when the model stream ended normally.
	Complete bool
	// ClientGone is true when delivery stopped because the client left.
	ClientGone bool
}

// Relay is one turn's tee. Emit is used as the model's stream callback.
// Text reaches the accumulator before the sink, so a dead client never
// loses accumulated text.
type Relay struct {
	sink  Sink
	guard *search.CitationGuard

	mu         sync.Mutex
	acc        strings.Builder
	tokens     int
	clientGone bool
	finished   bool
}

// New creates a relay that filters through guard and delivers to sink.
func New(sink Sink, hints model.PropertyHints) *Relay {
	return &Relay{sink: sink, guard: search.NewCitationGuard(hints)}
}

// Emit consumes one model token. It returns an error when the client has
// gone away so the model stream stops.
func (r *Relay) Emit(ctx context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.clientGone {
		return context.Canceled
	}
	if err := ctx.Err(); err != nil {
		r.clientGone = true
		return err
	}

	r.tokens++
	out := r.guard.Write(token)
	if out == "" {
		return nil
	}
	r.acc.WriteString(out)

	if err := r.sink.Write(out); err != nil {
		r.clientGone = true
		return err
	}
	return nil
}

// Callback adapts Emit to the llm stream callback signature.
func (r *Relay) Callback(ctx context.Context) func(token string, index int) error {
	return func(token string, _ int) error {
		return r.Emit(ctx, token)
	}
}

// Finish drains the guard once the model stream has returned streamErr.
// Held text is delivered and accumulated only when the stream completed
// and the client is still there. A done ctx counts as a client disconnect.
func (r *Relay) Finish(ctx context.Context, streamErr error) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ctx.Err() != nil {
		r.clientGone = true
	}
	complete := streamErr == nil && !r.clientGone

	if !r.finished {
		r.finished = true
		if rest := r.guard.Flush(); rest != "" && complete {
			if err := r.sink.Write(rest); err != nil {
				r.clientGone = true
				complete = false
			} else {
				r.acc.WriteString(rest)
			}
		}
	}

	return Outcome{
		Text:       r.acc.String(),
		Complete:   complete,
		ClientGone: r.clientGone,
	}
}

// Started reports whether any token reached the relay.
func (r *Relay) Started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tokens > 0
}
