// Package propertytest provides an in-memory property.IndexClient.
package propertytest

import (
	"context"
	"sync"

	"github.com/sindi-homes/assistant/internal/model"
	"github.com/sindi-homes/assistant/internal/property"
)

// Index is a scripted property index. Search and Nearby return the
// configured lists minus excluded ids; the *Err fields force failures.
type Index struct {
	mu sync.Mutex

	Properties    map[string]model.Property
	SearchResults []model.Property
	NearbyResults []model.Property
	SearchErr     error
	NearbyErr     error
	ByIDErr       error

	// Block makes Search and Nearby wait for ctx cancellation.
	Block bool

	searches []property.SearchQuery
	nearbys  []property.NearbyQuery
}

// ByID implements property.IndexClient.
func (x *Index) ByID(ctx context.Context, id string) (*model.Property, error) {
	if x.ByIDErr != nil {
		return nil, x.ByIDErr
	}
	p, ok := x.Properties[id]
	if !ok {
		return nil, property.ErrNotFound
	}
	return &p, nil
}

// Search implements property.IndexClient.
func (x *Index) Search(ctx context.Context, q property.SearchQuery) ([]model.Property, error) {
	x.mu.Lock()
	x.searches = append(x.searches, q)
	x.mu.Unlock()

	if x.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if x.SearchErr != nil {
		return nil, x.SearchErr
	}
	return without(x.SearchResults, q.Exclude), nil
}

// Nearby implements property.IndexClient.
func (x *Index) Nearby(ctx context.Context, q property.NearbyQuery) ([]model.Property, error) {
	x.mu.Lock()
	x.nearbys = append(x.nearbys, q)
	x.mu.Unlock()

	if x.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if x.NearbyErr != nil {
		return nil, x.NearbyErr
	}
	return without(x.NearbyResults, q.Exclude), nil
}

// Searches returns the search queries received.
func (x *Index) Searches() []property.SearchQuery {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]property.SearchQuery(nil), x.searches...)
}

// Nearbys returns the nearby queries received.
func (x *Index) Nearbys() []property.NearbyQuery {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]property.NearbyQuery(nil), x.nearbys...)
}

func without(props []model.Property, exclude []string) []model.Property {
	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}
	var out []model.Property
	for _, p := range props {
		if !skip[p.ID] {
			out = append(out, p)
		}
	}
	return out
}
