// Package relevance turns a free-text question into a bounded, keyword-scored
// subset of the knowledgebase. It is a cheap lexical heuristic: no stemming,
// no embeddings, and nothing in it can fail.
package relevance

import (
	"regexp"
	"sort"
	"strings"
)

// minKeywordLength is the shortest token kept; shorter tokens are dropped.
const minKeywordLength = 3

var nonWordPattern = regexp.MustCompile(`[^\w\s]`)

var stopWords = newKeywordSet(
	"a", "an", "the", "is", "are", "was", "were", "be", "been", "being",
	"have", "has", "had", "do", "does", "did", "will", "would", "could", "should",
	"may", "might", "must", "shall", "can", "need", "dare", "ought", "used",
	"to", "of", "in", "for", "on", "with", "at", "by", "from", "as", "into",
	"through", "during", "before", "after", "above", "below", "between",
	"and", "but", "or", "nor", "so", "yet", "both", "either", "neither",
	"not", "only", "own", "same", "than", "too", "very", "just",
	"what", "which", "who", "whom", "this", "that", "these", "those",
	"i", "me", "my", "myself", "we", "our", "ours", "you", "your", "he", "him",
	"she", "her", "it", "its", "they", "them", "their",
	"how", "when", "where", "why", "all", "each", "every", "any", "some",
	"tell", "about", "please", "thanks", "thank",
)

// synonyms maps a token to the related terms added alongside it.
var synonyms = map[string][]string{
	"job":            {"work", "experience", "career", "employment"},
	"work":           {"job", "experience", "career", "employment"},
	"experience":     {"job", "work", "career", "background"},
	"projects":       {"portfolio", "project", "work", "built"},
	"project":        {"portfolio", "projects", "work", "built"},
	"skills":         {"technologies", "tools", "tech", "stack"},
	"tech":           {"technologies", "tools", "skills", "stack"},
	"technologies":   {"skills", "tools", "tech", "stack"},
	"certs":          {"certifications", "certification", "certified"},
	"certification":  {"certifications", "certs", "certified"},
	"certifications": {"certification", "certs", "certified"},
	"school":         {"education", "university", "college", "degree"},
	"education":      {"school", "university", "college", "degree"},
	"years":          {"experience", "time", "long", "duration"},
	"recently":       {"current", "present", "now", "latest"},
	"current":        {"recently", "present", "now", "latest"},
}

// KeywordSet is a set of lowercase keywords derived from one question.
type KeywordSet map[string]struct{}

func newKeywordSet(words ...string) KeywordSet {
	set := make(KeywordSet, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// Add inserts a keyword.
func (k KeywordSet) Add(word string) {
	k[word] = struct{}{}
}

// Has reports whether word is in the set.
func (k KeywordSet) Has(word string) bool {
	_, ok := k[word]
	return ok
}

// Len returns the number of keywords.
func (k KeywordSet) Len() int {
	return len(k)
}

// Sorted returns the keywords in lexical order.
func (k KeywordSet) Sorted() []string {
	out := make([]string, 0, len(k))
	for w := range k {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// ExtractKeywords lowercases the question, strips punctuation, drops short
// tokens and stop words, and expands the survivors with their synonyms.
func ExtractKeywords(question string) KeywordSet {
	cleaned := nonWordPattern.ReplaceAllString(strings.ToLower(question), " ")
	keywords := make(KeywordSet)
	var survivors []string
	for _, token := range strings.Fields(cleaned) {
		if len(token) < minKeywordLength || stopWords.Has(token) {
			continue
		}
		keywords.Add(token)
		survivors = append(survivors, token)
	}
	for _, token := range survivors {
		for _, syn := range synonyms[token] {
			keywords.Add(syn)
		}
	}
	return keywords
}
