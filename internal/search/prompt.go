package search

import (
	"encoding/json"
	"strings"

	"github.com/sindi-homes/assistant/internal/model"
)

// SystemPrompt is Sindi's base instruction.
const SystemPrompt = `You are Sindi, the assistant of a home rental app. You help people find
rooms, flats and houses to rent and answer questions about neighbourhoods,
budgets and the rental process. Be concise and friendly. Answer in the
language the user writes in. Never invent listings, prices or addresses.`

const noListingsNote = `No listings in the property index matched this request. Do not invent
listings, ids, prices or addresses. Suggest how the user could broaden or
adjust the search.`

const citationInstructions = `Use PROPERTIES_CONTEXT to ground your answer. Do not show property ids in
the visible text. Only when the user's latest message explicitly asks to
find or see listings, end your reply with
<PROPERTIES_JSON>["id1","id2"]</PROPERTIES_JSON>
listing at most 5 ids copied verbatim from PROPERTIES_HINTS. Never include
an id that is not in PROPERTIES_HINTS. Otherwise do not emit the block.`

// GroundingPrompt renders the per-turn system context for merged results.
// Empty hints yield only the no-listings note.
func GroundingPrompt(m Merged) string {
	if m.Hints.Empty() {
		return noListingsNote
	}

	hints := model.PropertyHints{Nearby: m.Hints.Nearby, Search: m.Hints.Search}
	if hints.Nearby == nil {
		hints.Nearby = []string{}
	}
	if hints.Search == nil {
		hints.Search = []string{}
	}
	hintData, _ := json.Marshal(hints)

	var b strings.Builder
	if len(m.Context) > 0 {
		ctxData, _ := json.Marshal(m.Context)
		b.WriteString("<PROPERTIES_CONTEXT>")
		b.Write(ctxData)
		b.WriteString("</PROPERTIES_CONTEXT>\n")
	}
	b.WriteString("<PROPERTIES_HINTS>")
	b.Write(hintData)
	b.WriteString("</PROPERTIES_HINTS>\n\n")
	b.WriteString(citationInstructions)
	return b.String()
}

// BuildSystem joins the base prompt with the turn's grounding.
func BuildSystem(m Merged) string {
	return SystemPrompt + "\n\n" + GroundingPrompt(m)
}
