package search

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/sindi-homes/assistant/internal/llm"
	"github.com/sindi-homes/assistant/internal/model"
)

const (
	// MaxHints caps each hint list.
	MaxHints = 5

	// MaxContext caps the grounding context list.
	MaxContext = 8

	// MaxDescriptionRunes bounds the description in a context entry.
	MaxDescriptionRunes = 200
)

// Merged is the merger output for one turn.
type Merged struct {
	Hints   model.PropertyHints
	Context []model.PropertyContext
}

// Merger turns raw retrieval lists into hints and grounding context.
type Merger struct {
	// TokenBudget bounds the encoded context; 0 disables trimming.
	TokenBudget int
	countTokens func(string) int
}

// NewMerger creates a merger with the given context token budget.
func NewMerger(tokenBudget int) *Merger {
	return &Merger{TokenBudget: tokenBudget, countTokens: llm.CountTokens}
}

// Merge builds hints (ids only, per-list caps, retrieval order or
// ascending rent when budget-friendly) and a deduplicated context list.
// Properties in exclude are dropped.
func (m *Merger) Merge(nearby, search []model.Property, filters model.Filters, exclude []string) Merged {
	excluded := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}

	taken := make(map[string]bool)
	nearbyProps := pick(nearby, excluded, taken, filters.BudgetFriendly)
	searchProps := pick(search, excluded, taken, filters.BudgetFriendly)

	out := Merged{
		Hints: model.PropertyHints{
			Nearby: ids(nearbyProps),
			Search: ids(searchProps),
		},
	}

	for _, p := range append(nearbyProps, searchProps...) {
		if len(out.Context) >= MaxContext {
			break
		}
		out.Context = append(out.Context, Project(p))
	}
	out.Context = m.trim(out.Context)
	return out
}

// pick filters, dedupes against taken, optionally sorts by rent and caps a
// retrieval list.
func pick(props []model.Property, excluded, taken map[string]bool, budget bool) []model.Property {
	var out []model.Property
	for _, p := range props {
		if p.ID == "" || excluded[p.ID] || taken[p.ID] {
			continue
		}
		taken[p.ID] = true
		out = append(out, p)
	}

	if budget {
		sort.SliceStable(out, func(i, j int) bool {
			a, b := out[i].Rent.Amount, out[j].Rent.Amount
			if a <= 0 {
				return false
			}
			return b <= 0 || a < b
		})
	}

	if len(out) > MaxHints {
		for _, p := range out[MaxHints:] {
			delete(taken, p.ID)
		}
		out = out[:MaxHints]
	}
	return out
}

func ids(props []model.Property) []string {
	out := make([]string, 0, len(props))
	for _, p := range props {
		out = append(out, p.ID)
	}
	return out
}

// trim drops trailing context entries until the encoded list fits the
// token budget. At least one entry is kept.
func (m *Merger) trim(ctx []model.PropertyContext) []model.PropertyContext {
	if m.TokenBudget <= 0 || m.countTokens == nil {
		return ctx
	}
	for len(ctx) > 1 {
		data, err := json.Marshal(ctx)
		if err != nil || m.countTokens(string(data)) <= m.TokenBudget {
			break
		}
		ctx = ctx[:len(ctx)-1]
	}
	return ctx
}

// Project builds the compact grounding view of p.
func Project(p model.Property) model.PropertyContext {
	c := model.PropertyContext{
		ID:           p.ID,
		Title:        p.Title,
		Type:         p.Type,
		Rent:         p.Rent,
		City:         p.City,
		Neighborhood: p.Neighborhood,
		Bedrooms:     p.Bedrooms,
		Bathrooms:    p.Bathrooms,
		Size:         p.Size,
		Amenities:    AmenityFlags(p),
		Description:  truncate(p.Description, MaxDescriptionRunes),
	}
	if p.AvailableFrom != nil {
		c.AvailableFrom = p.AvailableFrom.Format(time.DateOnly)
	}
	return c
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
