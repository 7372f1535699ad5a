package search

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sindi-homes/assistant/internal/model"
	"github.com/sindi-homes/assistant/internal/property"
	"github.com/sindi-homes/assistant/pkg/logger"
	"github.com/sindi-homes/assistant/pkg/metrics"
	"github.com/sindi-homes/assistant/pkg/tracing"
)

const (
	// DefaultNearbyRadiusMeters is the proximity radius around the anchor.
	DefaultNearbyRadiusMeters = 3000

	// RetrievalLimit is how many results each retriever asks for. It is
	// larger than the hint cap to leave room for exclusion and sorting.
	RetrievalLimit = 10
)

// Request is the input shared by both retrievers.
type Request struct {
	// Text is the keyword query; empty when suppressed.
	Text    string
	Filters model.Filters
	// Cited are previously cited ids, most recent first.
	Cited []string
}

// Retriever is one retrieval strategy.
type Retriever interface {
	Name() string
	Retrieve(ctx context.Context, req Request) ([]model.Property, error)
}

// GeoRetriever finds properties near the most recently cited one.
type GeoRetriever struct {
	index  property.IndexClient
	radius int
}

// NewGeoRetriever creates a nearby retriever. radius <= 0 uses the default.
func NewGeoRetriever(index property.IndexClient, radius int) *GeoRetriever {
	if radius <= 0 {
		radius = DefaultNearbyRadiusMeters
	}
	return &GeoRetriever{index: index, radius: radius}
}

// Name implements Retriever.
func (r *GeoRetriever) Name() string { return "nearby" }

// Retrieve implements Retriever. No anchor or an anchor without coordinates
// yields an empty list.
func (r *GeoRetriever) Retrieve(ctx context.Context, req Request) ([]model.Property, error) {
	if len(req.Cited) == 0 {
		return nil, nil
	}

	anchor, err := r.index.ByID(ctx, req.Cited[0])
	if errors.Is(err, property.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if anchor.Coordinates == nil {
		return nil, nil
	}

	return r.index.Nearby(ctx, property.NearbyQuery{
		Point:        *anchor.Coordinates,
		MaxDistanceM: r.radius,
		Filters:      req.Filters,
		Exclude:      req.Cited,
		Limit:        RetrievalLimit,
	})
}

// KeywordRetriever runs the text and filter query.
type KeywordRetriever struct {
	index property.IndexClient
}

// NewKeywordRetriever creates a search retriever.
func NewKeywordRetriever(index property.IndexClient) *KeywordRetriever {
	return &KeywordRetriever{index: index}
}

// Name implements Retriever.
func (r *KeywordRetriever) Name() string { return "search" }

// Retrieve implements Retriever.
func (r *KeywordRetriever) Retrieve(ctx context.Context, req Request) ([]model.Property, error) {
	return r.index.Search(ctx, property.SearchQuery{
		Text:    req.Text,
		Filters: req.Filters,
		Exclude: req.Cited,
		Limit:   RetrievalLimit,
	})
}

// FanOut runs the nearby and search retrievers concurrently. Each branch
// has its own timeout and any failure becomes an empty list.
type FanOut struct {
	nearby  Retriever
	search  Retriever
	timeout time.Duration
	logger  *logger.Logger
}

// NewFanOut creates a fan-out over the two strategies.
func NewFanOut(nearby, search Retriever, timeout time.Duration, log *logger.Logger) *FanOut {
	return &FanOut{nearby: nearby, search: search, timeout: timeout, logger: log}
}

// Retrieve returns both result lists once both branches have settled.
func (f *FanOut) Retrieve(ctx context.Context, req Request) (nearby, search []model.Property) {
	var g errgroup.Group
	g.Go(func() error {
		nearby = f.run(ctx, f.nearby, req)
		return nil
	})
	g.Go(func() error {
		search = f.run(ctx, f.search, req)
		return nil
	})
	_ = g.Wait()
	return nearby, search
}

func (f *FanOut) run(ctx context.Context, r Retriever, req Request) []model.Property {
	ctx, span := tracing.Tracer("search").Start(ctx, "search.retrieve."+r.Name())
	defer span.End()

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	props, err := r.Retrieve(ctx, req)
	if err != nil {
		reason := "error"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			reason = "timeout"
		}
		span.RecordError(err)
		f.logger.Warn("retrieval failed",
			zap.String("strategy", r.Name()),
			zap.String("reason", reason),
			zap.Error(err),
		)
		metrics.RetrievalFailures.WithLabelValues(r.Name(), reason).Inc()
		return nil
	}

	span.SetAttributes(attribute.Int("results", len(props)))
	metrics.RecordRetrieval(r.Name(), len(props))
	return props
}
