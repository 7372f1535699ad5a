package search

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sindi-homes/assistant/internal/model"
)

func TestKeywordText(t *testing.T) {
	raval := model.Filters{City: "Raval"}

	require.Empty(t, KeywordText("find apartments in Raval under 900", raval))
	require.Empty(t, KeywordText("Show me flats in El Raval for 1.2k", model.Filters{Neighborhood: "El Raval"}))
	require.Equal(t,
		"sunny flat with a view in Raval",
		KeywordText("sunny flat with a view in Raval", raval),
	)

	// Location words stay when no filter captured them.
	require.Equal(t,
		"find apartments in Raval under 900",
		KeywordText("find apartments in Raval under 900", model.Filters{}),
	)
	require.Empty(t, KeywordText("   ", model.Filters{}))

	// Without a captured location the raw query is always searched.
	require.Equal(t,
		"cheap studios under 800",
		KeywordText("cheap studios under 800", model.Filters{}),
	)
	maxRent := 800.0
	require.Equal(t,
		"cheap studios under 800",
		KeywordText("cheap studios under 800", model.Filters{MaxRent: &maxRent}),
	)
}
