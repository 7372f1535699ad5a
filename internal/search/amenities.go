package search

import (
	"sort"
	"strings"
	"unicode"

	"github.com/sindi-homes/assistant/internal/model"
)

// MaxAmenityFlags caps the amenity flags carried per property context.
const MaxAmenityFlags = 8

// amenitySynonyms maps normalized spellings to canonical flags.
var amenitySynonyms = map[string]string{
	"pet":               "pet-friendly",
	"pets":              "pet-friendly",
	"pet_friendly":      "pet-friendly",
	"pets_allowed":      "pet-friendly",
	"pets_ok":           "pet-friendly",
	"wifi":              "wifi",
	"wi_fi":             "wifi",
	"internet":          "wifi",
	"ac":                "air-conditioning",
	"a_c":               "air-conditioning",
	"aircon":            "air-conditioning",
	"air_conditioning":  "air-conditioning",
	"air_conditioner":   "air-conditioning",
	"parking":           "parking",
	"garage":            "parking",
	"parking_space":     "parking",
	"furnished":         "furnished",
	"fully_furnished":   "furnished",
	"balcony":           "balcony",
	"terrace":           "terrace",
	"rooftop":           "terrace",
	"elevator":          "elevator",
	"lift":              "elevator",
	"washer":            "laundry",
	"washing_machine":   "laundry",
	"laundry":           "laundry",
	"dishwasher":        "dishwasher",
	"heating":           "heating",
	"central_heating":   "heating",
	"pool":              "pool",
	"swimming_pool":     "pool",
	"gym":               "gym",
	"fitness":           "gym",
	"garden":            "garden",
	"yard":              "garden",
	"eco":               "eco-friendly",
	"eco_friendly":      "eco-friendly",
	"sustainable":       "eco-friendly",
	"solar_panels":      "eco-friendly",
	"wheelchair":        "accessible",
	"accessible":        "accessible",
	"wheelchair_access": "accessible",
	"doorman":           "concierge",
	"concierge":         "concierge",
	"storage":           "storage",
}

// normalizeKey lowercases s and turns camelCase, spaces, hyphens and
// slashes into underscores.
func normalizeKey(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	prevLower := false
	for _, r := range s {
		switch {
		case unicode.IsUpper(r):
			if prevLower {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			prevLower = false
		case r == ' ' || r == '-' || r == '/' || r == '_':
			b.WriteByte('_')
			prevLower = false
		default:
			b.WriteRune(r)
			prevLower = unicode.IsLower(r) || unicode.IsDigit(r)
		}
	}
	return strings.Trim(b.String(), "_")
}

// CanonicalAmenity maps a raw amenity spelling to its canonical flag.
func CanonicalAmenity(raw string) (string, bool) {
	flag, ok := amenitySynonyms[normalizeKey(raw)]
	return flag, ok
}

// AmenityFlags extracts the canonical amenity flags of p from its amenity
// list and true-valued feature fields, in first-seen order.
func AmenityFlags(p model.Property) []string {
	seen := make(map[string]bool)
	var flags []string
	add := func(raw string) {
		if len(flags) >= MaxAmenityFlags {
			return
		}
		if flag, ok := CanonicalAmenity(raw); ok && !seen[flag] {
			seen[flag] = true
			flags = append(flags, flag)
		}
	}

	for _, a := range p.Amenities {
		add(a)
	}

	keys := make([]string, 0, len(p.Features))
	for k, v := range p.Features {
		if v {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		add(k)
	}
	return flags
}
