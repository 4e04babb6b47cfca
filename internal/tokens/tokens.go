// Package tokens estimates prompt sizes for logging and metrics.
package tokens

import (
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// DefaultModel is the model whose encoding Count uses.
const DefaultModel = "gpt-4o-mini"

var codecCache sync.Map

// codecFor returns a cached codec for model.
func codecFor(model string) (tokenizer.Codec, error) {
	if cached, ok := codecCache.Load(model); ok {
		return cached.(tokenizer.Codec), nil
	}

	var enc tokenizer.Codec
	var err error
	switch m := strings.ToLower(strings.TrimSpace(model)); {
	case strings.HasPrefix(m, "gpt-4o"), strings.HasPrefix(m, "gpt-4.1"):
		enc, err = tokenizer.ForModel(tokenizer.GPT4o)
	case strings.HasPrefix(m, "gpt-4"):
		enc, err = tokenizer.ForModel(tokenizer.GPT4)
	case strings.HasPrefix(m, "gpt-3.5"):
		enc, err = tokenizer.ForModel(tokenizer.GPT35Turbo)
	default:
		enc, err = tokenizer.Get(tokenizer.O200kBase)
	}
	if err != nil {
		return nil, err
	}

	actual, _ := codecCache.LoadOrStore(model, enc)
	return actual.(tokenizer.Codec), nil
}

// Estimate approximates a token count as one token per four bytes.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	return max(len(text)/4, 1)
}

// CountFor counts the tokens text encodes to for model, falling back to
// Estimate when no codec is available.
func CountFor(model, text string) int {
	if text == "" {
		return 0
	}
	enc, err := codecFor(model)
	if err != nil {
		return Estimate(text)
	}
	_, ids, err := enc.Encode(text)
	if err != nil {
		return Estimate(text)
	}
	return len(ids)
}

// Count counts tokens with the DefaultModel encoding.
func Count(text string) int {
	return CountFor(DefaultModel, text)
}
