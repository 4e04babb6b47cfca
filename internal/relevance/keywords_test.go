package relevance

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractKeywords(t *testing.T) {
	tests := []struct {
		name     string
		question string
		want     []string
		absent   []string
	}{
		{
			name:     "stop words and short tokens dropped",
			question: "Tell me about your job!",
			want:     []string{"job", "work", "experience", "career", "employment"},
			absent:   []string{"tell", "me", "about", "your", "background"},
		},
		{
			name:     "punctuation splits tokens",
			question: "AWS/Azure, Terraform?",
			want:     []string{"aws", "azure", "terraform"},
		},
		{
			name:     "only punctuation",
			question: "???",
		},
		{
			name:     "empty",
			question: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractKeywords(tt.question)
			if len(tt.want) == 0 {
				assert.Zero(t, got.Len())
			}
			for _, w := range tt.want {
				assert.True(t, got.Has(w), "missing %q in %v", w, got.Sorted())
			}
			for _, w := range tt.absent {
				assert.False(t, got.Has(w), "unexpected %q in %v", w, got.Sorted())
			}
		})
	}
}

func TestExtractKeywords_TokenShape(t *testing.T) {
	questions := []string{
		"What AI projects has Sol built?",
		"What technologies does Sol use?",
		"Where did Sol go to school? Any certs?",
		"IS HE WORKING ON ANYTHING CURRENTLY",
	}
	for _, q := range questions {
		for _, k := range ExtractKeywords(q).Sorted() {
			assert.GreaterOrEqual(t, len(k), minKeywordLength, k)
			assert.Equal(t, strings.ToLower(k), k)
			assert.False(t, stopWords.Has(k), k)
		}
	}
}

func TestExtractKeywords_SynonymsSymmetric(t *testing.T) {
	assert.True(t, ExtractKeywords("job").Has("work"))
	assert.True(t, ExtractKeywords("work").Has("job"))
	assert.True(t, ExtractKeywords("school").Has("education"))
	assert.True(t, ExtractKeywords("education").Has("school"))
}

func TestKeywordSet_Sorted(t *testing.T) {
	set := newKeywordSet("zeta", "alpha", "mid")
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, set.Sorted())
}
