package relevance

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/asoloa/ambot/internal/knowledgebase"
)

// ExplicitKeywordBonus is added once per query keyword found inside any of an
// entry's explicit keywords.
const ExplicitKeywordBonus = 3

// ScoreRelevance scores one entry against a keyword set. Every occurrence of a
// keyword in the entry's flattened text counts one point; explicit keyword hits
// add ExplicitKeywordBonus once per query keyword, however many explicit
// keywords it matches.
func ScoreRelevance(entry knowledgebase.Entry, keywords KeywordSet) int {
	if len(keywords) == 0 || entry == nil {
		return 0
	}
	text := flatten(entry)
	explicit := lowerAll(entry.ExplicitKeywords())

	score := 0
	for keyword := range keywords {
		if keyword == "" {
			continue
		}
		score += strings.Count(text, keyword)
		for _, k := range explicit {
			if strings.Contains(k, keyword) {
				score += ExplicitKeywordBonus
				break
			}
		}
	}
	return score
}

// flatten renders an entry as lowercase JSON text. Field names are part of the
// text, so matching is structure-agnostic.
func flatten(entry any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(entry); err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(buf.String()))
}

func lowerAll(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
