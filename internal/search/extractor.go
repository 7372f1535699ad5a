package search

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sindi-homes/assistant/internal/llm"
	"github.com/sindi-homes/assistant/internal/model"
	"github.com/sindi-homes/assistant/pkg/logger"
	"github.com/sindi-homes/assistant/pkg/metrics"
	"github.com/sindi-homes/assistant/pkg/tracing"
)

const extractionPrompt = `You convert a rental search request into filters.
Reply with a single JSON object and nothing else. Include only fields you can infer:
type (apartment, room, studio, house), minRent, maxRent (monthly, numbers),
city, state, neighborhood, bedrooms, minBedrooms, maxBedrooms, bathrooms,
minBathrooms, maxBathrooms, amenities (array of strings), verified, eco,
petFriendly, furnished (booleans), minLeaseMonths, maxLeaseMonths,
availableFrom (YYYY-MM-DD), budgetFriendly (true when the user asks for cheap
or budget options). Reply {} when nothing can be inferred.`

const (
	maxRentValue   = 1_000_000
	maxRoomCount   = 20
	maxLeaseMonths = 120
	maxStringLen   = 100
)

// FilterExtractor infers structured filters from free text with one bounded
// model call. It never fails: any problem yields empty filters.
type FilterExtractor struct {
	client    llm.Client
	model     string
	timeout   time.Duration
	maxTokens int
	logger    *logger.Logger
}

// NewFilterExtractor creates an extractor. A nil client disables extraction.
func NewFilterExtractor(client llm.Client, model string, timeout time.Duration, log *logger.Logger) *FilterExtractor {
	return &FilterExtractor{
		client:    client,
		model:     model,
		timeout:   timeout,
		maxTokens: 300,
		logger:    log,
	}
}

// Extract returns the filters inferable from query.
func (e *FilterExtractor) Extract(ctx context.Context, query string) model.Filters {
	if e.client == nil || strings.TrimSpace(query) == "" {
		return model.Filters{}
	}

	ctx, span := tracing.Tracer("search").Start(ctx, "search.extract_filters")
	defer span.End()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	resp, err := e.client.Complete(ctx, &llm.CompletionRequest{
		Model:     e.model,
		System:    extractionPrompt,
		Messages:  []llm.ChatMessage{{Role: "user", Content: query}},
		MaxTokens: e.maxTokens,
	})
	if err != nil {
		span.RecordError(err)
		e.logger.Warn("filter extraction failed", zap.Error(err))
		metrics.FilterExtractions.WithLabelValues("failed").Inc()
		return model.Filters{}
	}

	filters, err := ParseFilters(resp.Content)
	if err != nil {
		e.logger.Debug("filter extraction returned unusable output", zap.Error(err))
		metrics.FilterExtractions.WithLabelValues("failed").Inc()
		return model.Filters{}
	}

	if filters.IsEmpty() {
		metrics.FilterExtractions.WithLabelValues("empty").Inc()
	} else {
		metrics.FilterExtractions.WithLabelValues("ok").Inc()
	}
	return filters
}

// ParseFilters locates the outermost JSON object in text and sanitizes it.
func ParseFilters(text string) (model.Filters, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return model.Filters{}, errors.New("no JSON object in output")
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return model.Filters{}, err
	}
	return Sanitize(raw), nil
}

// Sanitize builds filters from an untrusted decoded object, keeping only
// well-typed, in-range values.
func Sanitize(raw map[string]any) model.Filters {
	var f model.Filters

	f.Type = strings.ToLower(str(raw["type"]))
	f.City = str(raw["city"])
	f.State = str(raw["state"])
	f.Neighborhood = str(raw["neighborhood"])

	f.MinRent = number(raw["minRent"], 0, maxRentValue)
	f.MaxRent = number(raw["maxRent"], 0, maxRentValue)
	if f.MinRent != nil && f.MaxRent != nil && *f.MinRent > *f.MaxRent {
		f.MinRent, f.MaxRent = f.MaxRent, f.MinRent
	}

	f.Bedrooms = integer(raw["bedrooms"], 0, maxRoomCount)
	f.MinBedrooms = integer(raw["minBedrooms"], 0, maxRoomCount)
	f.MaxBedrooms = integer(raw["maxBedrooms"], 0, maxRoomCount)
	f.Bathrooms = integer(raw["bathrooms"], 0, maxRoomCount)
	f.MinBathrooms = integer(raw["minBathrooms"], 0, maxRoomCount)
	f.MaxBathrooms = integer(raw["maxBathrooms"], 0, maxRoomCount)
	f.MinLeaseMonths = integer(raw["minLeaseMonths"], 1, maxLeaseMonths)
	f.MaxLeaseMonths = integer(raw["maxLeaseMonths"], 1, maxLeaseMonths)

	f.Amenities = amenities(raw["amenities"])

	f.Verified = boolean(raw["verified"])
	f.Eco = boolean(raw["eco"])
	f.PetFriendly = boolean(raw["petFriendly"])
	f.Furnished = boolean(raw["furnished"])
	if b := boolean(raw["budgetFriendly"]); b != nil {
		f.BudgetFriendly = *b
	}

	if d := str(raw["availableFrom"]); d != "" {
		if _, err := time.Parse("2006-01-02", d); err == nil {
			f.AvailableFrom = d
		}
	}
	return f
}

func str(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	s = strings.TrimSpace(s)
	if len([]rune(s)) > maxStringLen {
		return ""
	}
	return s
}

func number(v any, min, max float64) *float64 {
	var n float64
	switch x := v.(type) {
	case float64:
		n = x
	case string:
		cleaned := strings.Map(func(r rune) rune {
			if (r >= '0' && r <= '9') || r == '.' {
				return r
			}
			if r == ',' || r == ' ' || r == '€' || r == '$' || r == '£' {
				return -1
			}
			return 'x'
		}, strings.TrimSpace(x))
		parsed, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return nil
		}
		n = parsed
	default:
		return nil
	}
	if math.IsNaN(n) || math.IsInf(n, 0) || n < min || n > max {
		return nil
	}
	return &n
}

func integer(v any, min, max int) *int {
	f := number(v, float64(min), float64(max))
	if f == nil || *f != math.Trunc(*f) {
		return nil
	}
	n := int(*f)
	return &n
}

func boolean(v any) *bool {
	switch x := v.(type) {
	case bool:
		return &x
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(x)); err == nil {
			return &b
		}
	}
	return nil
}

func amenities(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, item := range items {
		s := str(item)
		if s == "" {
			continue
		}
		if flag, ok := CanonicalAmenity(s); ok {
			s = flag
		} else {
			s = strings.ToLower(s)
		}
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
