package search

import (
	"strings"
	"unicode"

	"github.com/sindi-homes/assistant/internal/model"
)

// fillerWords carry no search meaning once filters have been extracted.
var fillerWords = map[string]bool{
	"a": true, "an": true, "the": true, "in": true, "at": true, "on": true,
	"near": true, "around": true, "by": true, "of": true, "for": true,
	"to": true, "with": true, "and": true, "or": true, "me": true, "i": true,
	"we": true, "my": true, "some": true, "any": true, "please": true,
	"find": true, "show": true, "search": true, "look": true, "looking": true,
	"want": true, "need": true, "get": true, "list": true, "give": true,
	"under": true, "below": true, "over": true, "above": true, "less": true,
	"more": true, "than": true, "max": true, "min": true, "maximum": true,
	"minimum": true, "up": true, "between": true, "from": true, "per": true,
	"month": true, "monthly": true, "mo": true, "eur": true, "euro": true,
	"euros": true, "usd": true, "dollars": true, "rent": true, "renting": true,
	"apartment": true, "apartments": true, "flat": true, "flats": true,
	"home": true, "homes": true, "house": true, "houses": true, "place": true,
	"places": true, "property": true, "properties": true, "listing": true,
	"listings": true, "room": true, "rooms": true, "studio": true, "studios": true,
	"available": true, "cheap": true, "cheapest": true, "budget": true,
	"affordable": true,
}

// KeywordText returns the text to send to the keyword retriever. It is
// empty only when the filters captured a location and the query holds
// nothing beyond that location, numbers and filler.
func KeywordText(query string, filters model.Filters) string {
	query = strings.TrimSpace(query)
	if query == "" || !filters.HasLocation() {
		return query
	}

	rest := " " + strings.ToLower(query) + " "
	for _, loc := range []string{filters.City, filters.State, filters.Neighborhood} {
		if loc = strings.ToLower(strings.TrimSpace(loc)); loc != "" {
			rest = strings.ReplaceAll(rest, loc, " ")
		}
	}

	words := strings.FieldsFunc(rest, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if fillerWords[w] || isNumeric(w) {
			continue
		}
		return query
	}
	return ""
}

func isNumeric(w string) bool {
	w = strings.TrimSuffix(strings.TrimSuffix(w, "k"), "m")
	if w == "" {
		return false
	}
	for _, r := range w {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
