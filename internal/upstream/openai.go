// Package upstream forwards chat completions to the language model provider.
package upstream

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/asoloa/ambot/internal/conversation"
	"github.com/sashabaranov/go-openai"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini"

var (
	// ErrMissingCredential is returned when no API key is configured.
	ErrMissingCredential = errors.New("upstream credential is not configured")
	// ErrRateLimited is returned when the provider throttles the request.
	ErrRateLimited = errors.New("upstream rate limit exceeded")
	// ErrEmptyReply is returned when the provider answers without content.
	ErrEmptyReply = errors.New("upstream returned no content")
)

// StatusError carries a non-2xx provider status.
type StatusError struct {
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	if e.Err == nil {
		return "upstream returned status " + http.StatusText(e.StatusCode)
	}
	return "upstream returned status " + http.StatusText(e.StatusCode) + ": " + e.Err.Error()
}

func (e *StatusError) Unwrap() error { return e.Err }

// Request is one completion call. Messages already include every system message.
type Request struct {
	Messages    []conversation.Turn
	MaxTokens   int
	Temperature float64
}

// Usage mirrors the provider's token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Result is a successful completion.
type Result struct {
	Content string
	Model   string
	Usage   Usage
}

// Completer produces a completion for a message list.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Result, error)
}

// OpenAI is a Completer backed by the OpenAI chat completions API.
type OpenAI struct {
	client *openai.Client
	model  string
	hasKey bool
}

// OpenAIOptions configures NewOpenAI.
type OpenAIOptions struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// NewOpenAI creates an OpenAI completer. A missing key is reported per call,
// so the server can still start and answer with a configuration error.
func NewOpenAI(opts OpenAIOptions) *OpenAI {
	cfg := openai.DefaultConfig(opts.APIKey)
	if base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"); base != "" {
		cfg.BaseURL = base
	}
	if opts.Timeout > 0 {
		cfg.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	model := opts.Model
	if model == "" {
		model = DefaultModel
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		hasKey: strings.TrimSpace(opts.APIKey) != "",
	}
}

// Model returns the model requests are sent to.
func (o *OpenAI) Model() string { return o.model }

// Complete sends req to the provider. It does not retry.
func (o *OpenAI) Complete(ctx context.Context, req Request) (*Result, error) {
	if !o.hasKey {
		return nil, ErrMissingCredential
	}

	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: wireTemperature(req.Temperature),
	})
	if err != nil {
		return nil, classify(err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, ErrEmptyReply
	}
	return &Result{
		Content: resp.Choices[0].Message.Content,
		Model:   resp.Model,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// wireTemperature keeps an explicit zero from being dropped by omitempty.
func wireTemperature(t float64) float32 {
	if t <= 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}

func classify(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	default:
		return err
	}
	if status == http.StatusTooManyRequests {
		return &StatusError{StatusCode: status, Err: errors.Join(ErrRateLimited, err)}
	}
	return &StatusError{StatusCode: status, Err: err}
}
