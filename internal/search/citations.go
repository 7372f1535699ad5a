package search

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/sindi-homes/assistant/internal/model"
	"github.com/sindi-homes/assistant/pkg/metrics"
)

const (
	citationOpen  = "<PROPERTIES_JSON>"
	citationClose = "</PROPERTIES_JSON>"
)

var citationBlock = regexp.MustCompile(`(?s)<PROPERTIES_JSON>(.*?)</PROPERTIES_JSON>`)

// parseIDList decodes a citation payload: an array of id strings or of
// objects with an id field.
func parseIDList(payload string) ([]string, bool) {
	payload = strings.TrimSpace(payload)

	var plain []string
	if err := json.Unmarshal([]byte(payload), &plain); err == nil {
		return plain, true
	}

	var objects []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(payload), &objects); err != nil {
		return nil, false
	}
	out := make([]string, 0, len(objects))
	for _, o := range objects {
		out = append(out, o.ID)
	}
	return out, true
}

// CitedIDs returns property ids cited in assistant messages, newest
// message first, block order kept within a message, without duplicates.
func CitedIDs(messages []model.Message) []string {
	seen := make(map[string]bool)
	var out []string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != model.RoleAssistant {
			continue
		}
		for _, m := range citationBlock.FindAllStringSubmatch(messages[i].Content, -1) {
			list, ok := parseIDList(m[1])
			if !ok {
				continue
			}
			for _, id := range list {
				id = strings.TrimSpace(id)
				if id != "" && !seen[id] {
					seen[id] = true
					out = append(out, id)
				}
			}
		}
	}
	return out
}

// Citation verdicts.
const (
	VerdictValid        = "valid"
	VerdictNoHints      = "no_hints"
	VerdictUnknownID    = "unknown_id"
	VerdictTooMany      = "too_many"
	VerdictMalformed    = "malformed"
	VerdictUnterminated = "unterminated"
)

// ValidateCitation checks a citation payload against this turn's hints and
// returns the canonical id list when it passes.
func ValidateCitation(payload string, hints model.PropertyHints) ([]string, string) {
	if hints.Empty() {
		return nil, VerdictNoHints
	}
	list, ok := parseIDList(payload)
	if !ok || len(list) == 0 {
		return nil, VerdictMalformed
	}

	seen := make(map[string]bool)
	var out []string
	for _, id := range list {
		id = strings.TrimSpace(id)
		if !hints.Contains(id) {
			return nil, VerdictUnknownID
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	if len(out) > MaxHints {
		return nil, VerdictTooMany
	}
	return out, VerdictValid
}

// CitationBlock renders ids as a canonical citation block.
func CitationBlock(ids []string) string {
	data, _ := json.Marshal(ids)
	return citationOpen + string(data) + citationClose
}

// CitationGuard filters a token stream, holding back any citation block
// until it is complete and re-emitting it only if it validates against the
// turn's hints. Not safe for concurrent use.
type CitationGuard struct {
	hints   model.PropertyHints
	pending strings.Builder
	inBlock bool
}

// NewCitationGuard creates a guard for one turn.
func NewCitationGuard(hints model.PropertyHints) *CitationGuard {
	return &CitationGuard{hints: hints}
}

// Write consumes a chunk and returns the text that may be emitted now.
func (g *CitationGuard) Write(chunk string) string {
	g.pending.WriteString(chunk)
	buf := g.pending.String()
	var out strings.Builder

	for {
		if g.inBlock {
			end := strings.Index(buf, citationClose)
			if end < 0 {
				break
			}
			out.WriteString(g.verdict(buf[:end]))
			buf = buf[end+len(citationClose):]
			g.inBlock = false
			continue
		}

		start := strings.Index(buf, citationOpen)
		if start < 0 {
			keep := partialSuffix(buf, citationOpen)
			out.WriteString(buf[:len(buf)-keep])
			buf = buf[len(buf)-keep:]
			break
		}
		out.WriteString(buf[:start])
		buf = buf[start+len(citationOpen):]
		g.inBlock = true
	}

	g.pending.Reset()
	g.pending.WriteString(buf)
	return out.String()
}

// Flush ends the stream. Held text that is not part of a block is
// returned; an unterminated block is discarded.
func (g *CitationGuard) Flush() string {
	rest := g.pending.String()
	g.pending.Reset()
	if g.inBlock {
		g.inBlock = false
		metrics.CitationBlocks.WithLabelValues(VerdictUnterminated).Inc()
		return ""
	}
	return rest
}

func (g *CitationGuard) verdict(payload string) string {
	ids, verdict := ValidateCitation(payload, g.hints)
	metrics.CitationBlocks.WithLabelValues(verdict).Inc()
	if verdict != VerdictValid {
		return ""
	}
	return CitationBlock(ids)
}

// partialSuffix returns the length of the longest suffix of s that is a
// proper prefix of tag.
func partialSuffix(s, tag string) int {
	max := len(tag) - 1
	if max > len(s) {
		max = len(s)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(s, tag[:n]) {
			return n
		}
	}
	return 0
}
