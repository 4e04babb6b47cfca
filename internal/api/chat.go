package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"unicode/utf16"

	"github.com/asoloa/ambot/internal/api/middleware"
	"github.com/asoloa/ambot/internal/cache"
	"github.com/asoloa/ambot/internal/conversation"
	apperrors "github.com/asoloa/ambot/internal/errors"
	"github.com/asoloa/ambot/internal/logging"
	"github.com/asoloa/ambot/internal/upstream"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// maxChatBodyBytes caps the raw completion request body.
const maxChatBodyBytes = 1 << 20

var validRoles = map[string]bool{
	conversation.RoleSystem:    true,
	conversation.RoleUser:      true,
	conversation.RoleAssistant: true,
}

// chatParams is a validated completion request.
type chatParams struct {
	Messages    []conversation.Turn
	MaxTokens   int
	Temperature float64
}

// chatResponse is the success body of the completion endpoint.
type chatResponse struct {
	Content string         `json:"content"`
	Usage   upstream.Usage `json:"usage"`
}

// parseChatRequest validates a raw completion request body. Field types are
// checked on the raw JSON so a non-string content is reported as such rather
// than as a decoding failure.
func (s *Server) parseChatRequest(body []byte) (*chatParams, *apperrors.AppError) {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return nil, apperrors.Validation("Invalid JSON in request body")
	}
	root := gjson.ParseBytes(body)
	messages := root.Get("messages")
	if !root.IsObject() || !messages.IsArray() {
		return nil, apperrors.Validation("Invalid request: messages array is required")
	}
	items := messages.Array()
	if len(items) == 0 {
		return nil, apperrors.Validation("Invalid request: messages array cannot be empty")
	}

	limits := s.cfg.Upstream
	params := &chatParams{Messages: make([]conversation.Turn, 0, len(items))}
	for i, item := range items {
		role := item.Get("role")
		if role.Type != gjson.String || !validRoles[role.Str] {
			return nil, apperrors.Validationf("Invalid message at index %d: invalid role", i).
				WithDetail("index", i).WithDetail("field", "role")
		}
		content := item.Get("content")
		if content.Type != gjson.String {
			return nil, apperrors.Validationf("Invalid message at index %d: content must be a string", i).
				WithDetail("index", i).WithDetail("field", "content")
		}
		if contentLength(content.Str) > limits.MaxContentLength {
			return nil, apperrors.Validationf("Invalid message at index %d: content too long", i).
				WithDetail("index", i).WithDetail("field", "content").WithDetail("limit", limits.MaxContentLength)
		}
		params.Messages = append(params.Messages, conversation.Turn{Role: role.Str, Content: content.Str})
	}

	params.MaxTokens = limits.DefaultMaxTokens
	if mt := root.Get("maxTokens"); mt.Type == gjson.Number && mt.Int() > 0 {
		params.MaxTokens = int(mt.Int())
	}
	params.MaxTokens = min(params.MaxTokens, limits.MaxTokensLimit)

	params.Temperature = *limits.DefaultTemperature
	if t := root.Get("temperature"); t.Type == gjson.Number {
		params.Temperature = t.Float()
	}
	params.Temperature = max(0, min(params.Temperature, 1))

	return params, nil
}

// contentLength counts UTF-16 code units, the unit browsers measure string
// length in. Characters outside the BMP count twice.
func contentLength(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// handleChat serves POST /v1/chat and POST /.
func (s *Server) handleChat(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxChatBodyBytes))
	if err != nil {
		s.writeError(c, apperrors.Validation("Invalid JSON in request body"))
		return
	}

	params, appErr := s.parseChatRequest(body)
	if appErr != nil {
		log.WithField("request_id", logging.RequestID(c)).Debugf("chat request rejected: %s", appErr.Message)
		s.writeError(c, appErr)
		return
	}

	result, err := s.complete(c.Request.Context(), params)
	if err != nil {
		s.writeError(c, upstreamError(err))
		return
	}
	c.PureJSON(http.StatusOK, chatResponse{Content: result.Content, Usage: result.Usage})
}

// complete prepends the system instructions and forwards params upstream.
func (s *Server) complete(ctx context.Context, params *chatParams) (*upstream.Result, error) {
	instructions, err := s.prompt.Render(s.subject())
	if err != nil {
		return nil, err
	}
	messages := make([]conversation.Turn, 0, len(params.Messages)+1)
	messages = append(messages, conversation.Turn{Role: conversation.RoleSystem, Content: instructions})
	messages = append(messages, params.Messages...)

	var key string
	if s.cache != nil {
		key = completionKey(s.model, messages, params)
		if content, ok := s.cache.Get(key); ok {
			return &upstream.Result{Content: content, Model: s.model}, nil
		}
	}

	result, err := s.completer.Complete(ctx, upstream.Request{
		Messages:    messages,
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
	})
	if err != nil {
		kind := errorKind(err)
		middleware.RecordUpstreamRequest(s.model, kind)
		log.WithError(err).WithField("kind", kind).Warn("upstream completion failed")
		return nil, err
	}

	middleware.RecordUpstreamRequest(s.model, "ok")
	middleware.RecordTokenUsage(s.model, "prompt", result.Usage.PromptTokens)
	middleware.RecordTokenUsage(s.model, "completion", result.Usage.CompletionTokens)
	if s.cache != nil {
		s.cache.Set(key, result.Content)
	}
	return result, nil
}

func completionKey(model string, messages []conversation.Turn, params *chatParams) string {
	encoded, _ := json.Marshal(messages)
	return cache.Key(model, encoded, []byte(fmt.Sprintf("%d/%g", params.MaxTokens, params.Temperature)))
}

func (s *Server) subject() string {
	if s.cfg.Subject != "" {
		return s.cfg.Subject
	}
	return s.kb.Current().SubjectName()
}

func (s *Server) writeError(c *gin.Context, appErr *apperrors.AppError) {
	c.Data(appErr.HTTPStatusCode, "application/json; charset=utf-8", appErr.ToJSON())
	c.Abort()
}

// upstreamError maps a completion failure onto the client-facing error.
func upstreamError(err error) *apperrors.AppError {
	switch {
	case errors.Is(err, upstream.ErrMissingCredential):
		return apperrors.Configuration(err)
	case errors.Is(err, upstream.ErrRateLimited):
		return apperrors.RateLimited(err)
	case errors.Is(err, upstream.ErrEmptyReply):
		return apperrors.NoReply()
	default:
		return apperrors.Upstream(err)
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, upstream.ErrMissingCredential):
		return "configuration"
	case errors.Is(err, upstream.ErrRateLimited):
		return "rate_limit"
	case errors.Is(err, upstream.ErrEmptyReply):
		return "no_reply"
	default:
		return "upstream"
	}
}
