package model

import (
	"time"
)

// GeoPoint is a longitude/latitude pair.
type GeoPoint struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

// Rent is a monthly rent amount.
type Rent struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency,omitempty"`
}

// Property is a listing as returned by the property index.
type Property struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	Type          string          `json:"type"`
	Description   string          `json:"description,omitempty"`
	Rent          Rent            `json:"rent"`
	City          string          `json:"city,omitempty"`
	State         string          `json:"state,omitempty"`
	Neighborhood  string          `json:"neighborhood,omitempty"`
	Coordinates   *GeoPoint       `json:"coordinates,omitempty"`
	Bedrooms      int             `json:"bedrooms"`
	Bathrooms     int             `json:"bathrooms"`
	Size          float64         `json:"size,omitempty"`
	Amenities     []string        `json:"amenities,omitempty"`
	Features      map[string]bool `json:"features,omitempty"`
	AvailableFrom *time.Time      `json:"availableFrom,omitempty"`
	Verified      bool            `json:"verified,omitempty"`
	Distance      *float64        `json:"distance,omitempty"`
}

// PropertyHints are the id-only lists offered to the model for citation.
type PropertyHints struct {
	Nearby []string `json:"nearby"`
	Search []string `json:"search"`
}

// Empty reports whether neither list has ids.
func (h PropertyHints) Empty() bool {
	return len(h.Nearby) == 0 && len(h.Search) == 0
}

// Contains reports whether id is in either list.
func (h PropertyHints) Contains(id string) bool {
	for _, v := range h.Nearby {
		if v == id {
			return true
		}
	}
	for _, v := range h.Search {
		if v == id {
			return true
		}
	}
	return false
}

// PropertyContext is the compact grounding projection of a property.
type PropertyContext struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Type          string   `json:"type,omitempty"`
	Rent          Rent     `json:"rent"`
	City          string   `json:"city,omitempty"`
	Neighborhood  string   `json:"neighborhood,omitempty"`
	Bedrooms      int      `json:"bedrooms"`
	Bathrooms     int      `json:"bathrooms"`
	Size          float64  `json:"size,omitempty"`
	Amenities     []string `json:"amenities,omitempty"`
	AvailableFrom string   `json:"availableFrom,omitempty"`
	Description   string   `json:"description,omitempty"`
}
