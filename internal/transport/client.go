// Package transport posts chat turns to the completion endpoint.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/asoloa/ambot/internal/conversation"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	DefaultMaxTokens   = 500
	DefaultTemperature = 0.3
	DefaultTimeout     = 60 * time.Second
)

// NoReplyText is returned when the endpoint answers without any reply text.
const NoReplyText = "I apologize, but I could not generate a response."

// ErrMalformedResponse is returned when the response body is not JSON.
var ErrMalformedResponse = errors.New("malformed completion response")

// maxErrorBody bounds how much of a failed response is kept for the error message.
const maxErrorBody = 4 << 10

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("completion endpoint returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("completion endpoint returned status %d: %s", e.StatusCode, e.Message)
}

// Client sends conversation requests to a completion endpoint.
type Client struct {
	endpoint    string
	maxTokens   int
	temperature float64
	timeout     time.Duration
	http        *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. The client itself is never modified.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithMaxTokens sets the requested completion size.
func WithMaxTokens(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *Client) {
		c.temperature = t
	}
}

// WithTimeout sets the request timeout, applied to a copy of the HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// New creates a client posting to endpoint.
func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint:    endpoint,
		maxTokens:   DefaultMaxTokens,
		temperature: DefaultTemperature,
		http:        &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout > 0 && c.http.Timeout != c.timeout {
		hc := *c.http
		hc.Timeout = c.timeout
		c.http = &hc
	}
	return c
}

// Send posts one turn and returns the reply text. It does not retry.
func (c *Client) Send(ctx context.Context, req conversation.Request) (string, error) {
	body, err := c.buildBody(req)
	if err != nil {
		return "", fmt.Errorf("failed to build request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := gjson.GetBytes(data, "error").String()
		if msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		return "", &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return ExtractReply(data)
}

// ExtractReply unwraps the reply text from either the proxy shape {"content": ...}
// or a raw choices array.
func ExtractReply(data []byte) (string, error) {
	if !gjson.ValidBytes(data) {
		return "", ErrMalformedResponse
	}
	for _, path := range []string{"content", "choices.0.message.content"} {
		if v := gjson.GetBytes(data, path); v.Type == gjson.String && v.String() != "" {
			return v.String(), nil
		}
	}
	return NoReplyText, nil
}

// SystemMessage wraps a serialized context for the model.
func SystemMessage(subject, serialized string) string {
	return "Relevant knowledge about " + subject + ":\n" + serialized
}

func (c *Client) buildBody(req conversation.Request) ([]byte, error) {
	body := []byte(`{"messages":[]}`)
	var err error
	appendMsg := func(role, content string) {
		if err != nil {
			return
		}
		body, err = sjson.SetBytes(body, "messages.-1", map[string]string{"role": role, "content": content})
	}

	appendMsg(conversation.RoleSystem, SystemMessage(req.Subject, req.SystemContext))
	for _, t := range req.History {
		appendMsg(t.Role, t.Content)
	}
	appendMsg(conversation.RoleUser, req.Question)
	if err != nil {
		return nil, err
	}

	if body, err = sjson.SetBytes(body, "maxTokens", c.maxTokens); err != nil {
		return nil, err
	}
	return sjson.SetBytes(body, "temperature", c.temperature)
}
