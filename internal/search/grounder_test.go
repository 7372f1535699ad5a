package search

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sindi-homes/assistant/internal/llm/llmtest"
	"github.com/sindi-homes/assistant/internal/model"
	"github.com/sindi-homes/assistant/internal/property/propertytest"
	"github.com/sindi-homes/assistant/pkg/logger"
)

func newGrounder(client *llmtest.Client, index *propertytest.Index, timeout time.Duration) *Grounder {
	log := logger.NewNop()
	return NewGrounder(
		NewFilterExtractor(client, "utility", time.Second, log),
		NewFanOut(NewGeoRetriever(index, 0), NewKeywordRetriever(index), timeout, log),
		NewMerger(0),
		log,
	)
}

func TestGroundFirstSearch(t *testing.T) {
	client := &llmtest.Client{Completions: []string{`{"city":"Raval","maxRent":900}`}}
	index := &propertytest.Index{SearchResults: props("s", 8)}

	g := newGrounder(client, index, time.Second).Ground(context.Background(), "find apartments in Raval under 900", nil)

	require.Equal(t, "Raval", g.Filters.City)
	require.Equal(t, 900.0, *g.Filters.MaxRent)
	require.Empty(t, g.Text)
	require.Empty(t, g.Merged.Hints.Nearby)
	require.Len(t, g.Merged.Hints.Search, MaxHints)
	require.Empty(t, index.Nearbys())

	searches := index.Searches()
	require.Len(t, searches, 1)
	require.Empty(t, searches[0].Text)
	require.Equal(t, "Raval", searches[0].Filters.City)
	require.Equal(t, RetrievalLimit, searches[0].Limit)

	require.Contains(t, g.System, "<PROPERTIES_HINTS>")
	require.Contains(t, g.System, "<PROPERTIES_CONTEXT>")
	require.Contains(t, g.System, "PROPERTIES_JSON")
}

func TestGroundNearbyAnchor(t *testing.T) {
	anchor := model.Property{ID: "p1", Coordinates: &model.GeoPoint{Lng: 2.168, Lat: 41.380}}
	nearby := append([]model.Property{{ID: "p2"}, {ID: "p3"}}, props("n", 3)...)
	index := &propertytest.Index{
		Properties:    map[string]model.Property{"p1": anchor},
		NearbyResults: nearby,
		SearchResults: []model.Property{{ID: "p3"}, {ID: "s1"}},
	}
	client := &llmtest.Client{Completions: []string{`{}`}}

	g := newGrounder(client, index, time.Second).Ground(context.Background(), "show me others nearby", []string{"p1", "p2", "p3"})

	q := index.Nearbys()
	require.Len(t, q, 1)
	require.Equal(t, anchor.Coordinates.Lat, q[0].Point.Lat)
	require.Equal(t, DefaultNearbyRadiusMeters, q[0].MaxDistanceM)
	require.Equal(t, []string{"p1", "p2", "p3"}, q[0].Exclude)

	require.Equal(t, []string{"n1", "n2", "n3"}, g.Merged.Hints.Nearby)
	require.Equal(t, []string{"s1"}, g.Merged.Hints.Search)
	for _, c := range g.Merged.Context {
		require.NotContains(t, []string{"p1", "p2", "p3"}, c.ID)
	}
}

func TestGroundAnchorWithoutCoordinates(t *testing.T) {
	index := &propertytest.Index{
		Properties:    map[string]model.Property{"p1": {ID: "p1"}},
		NearbyResults: props("n", 3),
		SearchResults: props("s", 2),
	}

	g := newGrounder(&llmtest.Client{}, index, time.Second).Ground(context.Background(), "more like that", []string{"p1"})

	require.Empty(t, g.Merged.Hints.Nearby)
	require.Empty(t, index.Nearbys())
	require.Equal(t, []string{"s1", "s2"}, g.Merged.Hints.Search)
}

func TestGroundBothRetrieversFail(t *testing.T) {
	index := &propertytest.Index{
		Properties: map[string]model.Property{"p1": {ID: "p1", Coordinates: &model.GeoPoint{}}},
		NearbyErr:  errors.New("connection refused"),
		SearchErr:  errors.New("connection reset"),
	}

	g := newGrounder(&llmtest.Client{}, index, time.Second).Ground(context.Background(), "flats", []string{"p1"})

	require.True(t, g.Merged.Hints.Empty())
	require.Empty(t, g.Merged.Context)
	require.NotContains(t, g.System, "<PROPERTIES_HINTS>")
	require.NotContains(t, g.System, "PROPERTIES_JSON")
}

func TestGroundExtractionGarbageStillSearches(t *testing.T) {
	client := &llmtest.Client{Completions: []string{"not json at all"}}
	index := &propertytest.Index{SearchResults: props("s", 2)}

	g := newGrounder(client, index, time.Second).Ground(context.Background(), "find apartments in Raval under 900", nil)

	require.True(t, g.Filters.IsEmpty())
	searches := index.Searches()
	require.Len(t, searches, 1)
	require.Equal(t, "find apartments in Raval under 900", searches[0].Text)
	require.True(t, searches[0].Filters.IsEmpty())
	require.Equal(t, []string{"s1", "s2"}, g.Merged.Hints.Search)
}

func TestGroundExtractionFailureKeepsFillerQuery(t *testing.T) {
	client := &llmtest.Client{CompleteErr: errors.New("timeout")}
	index := &propertytest.Index{SearchResults: props("s", 1)}

	g := newGrounder(client, index, time.Second).Ground(context.Background(), "cheap studios under 800", nil)

	require.True(t, g.Filters.IsEmpty())
	searches := index.Searches()
	require.Len(t, searches, 1)
	require.Equal(t, "cheap studios under 800", searches[0].Text)
}

func TestFanOutTimeoutIsEmpty(t *testing.T) {
	index := &propertytest.Index{
		Properties: map[string]model.Property{"p1": {ID: "p1", Coordinates: &model.GeoPoint{}}},
		Block:      true,
	}
	f := NewFanOut(NewGeoRetriever(index, 0), NewKeywordRetriever(index), 20*time.Millisecond, logger.NewNop())

	start := time.Now()
	nearby, search := f.Retrieve(context.Background(), Request{Text: "x", Cited: []string{"p1"}})
	require.Empty(t, nearby)
	require.Empty(t, search)
	require.Less(t, time.Since(start), time.Second)
}

func TestGroundingPrompt(t *testing.T) {
	empty := GroundingPrompt(Merged{})
	require.True(t, strings.Contains(empty, "Do not invent"))
	require.NotContains(t, empty, "PROPERTIES")

	p := GroundingPrompt(Merged{
		Hints:   model.PropertyHints{Search: []string{"s1"}},
		Context: []model.PropertyContext{{ID: "s1", Title: "Loft"}},
	})
	require.Contains(t, p, `<PROPERTIES_HINTS>{"nearby":[],"search":["s1"]}</PROPERTIES_HINTS>`)
	require.Contains(t, p, `"title":"Loft"`)
}
