// Package search grounds a chat turn in property listings: it extracts
// filters, retrieves candidates with two concurrent strategies, merges
// them into hints and context, and validates the model's citations.
package search

import (
	"context"

	"go.uber.org/zap"

	"github.com/sindi-homes/assistant/internal/model"
	"github.com/sindi-homes/assistant/pkg/logger"
)

// Grounding is everything the chat turn needs from retrieval.
type Grounding struct {
	Filters model.Filters
	Text    string
	Merged  Merged
	// System is the full system prompt for the model.
	System string
}

// Grounder runs extraction, retrieval and merging for a turn.
type Grounder struct {
	extractor *FilterExtractor
	fanOut    *FanOut
	merger    *Merger
	logger    *logger.Logger
}

// NewGrounder wires the pipeline stages.
func NewGrounder(extractor *FilterExtractor, fanOut *FanOut, merger *Merger, log *logger.Logger) *Grounder {
	return &Grounder{extractor: extractor, fanOut: fanOut, merger: merger, logger: log}
}

// Ground builds the grounding for query given previously cited ids (most
// recent first).
func (g *Grounder) Ground(ctx context.Context, query string, cited []string) *Grounding {
	filters := g.extractor.Extract(ctx, query)
	text := KeywordText(query, filters)

	nearby, search := g.fanOut.Retrieve(ctx, Request{
		Text:    text,
		Filters: filters,
		Cited:   cited,
	})

	merged := g.merger.Merge(nearby, search, filters, cited)

	g.logger.Debug("turn grounded",
		zap.Int("cited", len(cited)),
		zap.Int("nearby", len(merged.Hints.Nearby)),
		zap.Int("search", len(merged.Hints.Search)),
		zap.Int("context", len(merged.Context)),
		zap.Bool("keyword_text", text != ""),
	)

	return &Grounding{
		Filters: filters,
		Text:    text,
		Merged:  merged,
		System:  BuildSystem(merged),
	}
}
