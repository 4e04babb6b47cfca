// Package errors defines the error payload returned by the HTTP surface.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
)

// Error codes.
const (
	CodeInvalidRequest = "invalid_request"
	CodeConfiguration  = "configuration_error"
	CodeRateLimited    = "rate_limited"
	CodeUpstream       = "upstream_error"
	CodeNoReply        = "no_reply"
	CodeInternal       = "internal_error"
)

// Fixed user-visible messages.
const (
	MsgConfiguration = "Server configuration error"
	MsgRateLimited   = "Rate limit exceeded. Please try again later."
	MsgUpstream      = "Error communicating with AI service"
	MsgNoReply       = "No response from AI service"
	MsgInternal      = "Internal server error"
)

// AppError is an error with an HTTP status and a client-safe message.
// Err is never serialized.
type AppError struct {
	HTTPStatusCode int                    `json:"-"`
	Code           string                 `json:"code"`
	Message        string                 `json:"error"`
	Details        map[string]interface{} `json:"details,omitempty"`
	Err            error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// ToJSON returns the response body for the error.
func (e *AppError) ToJSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// WithDetail attaches a detail field and returns e.
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates an AppError.
func New(statusCode int, code, message string, err error) *AppError {
	return &AppError{
		HTTPStatusCode: statusCode,
		Code:           code,
		Message:        message,
		Err:            err,
	}
}

// Validation is a 400 carrying a descriptive message.
func Validation(message string) *AppError {
	return New(http.StatusBadRequest, CodeInvalidRequest, message, nil)
}

// Validationf formats a validation message.
func Validationf(format string, args ...interface{}) *AppError {
	return Validation(fmt.Sprintf(format, args...))
}

// Configuration is a 500 that never reveals what is misconfigured.
func Configuration(err error) *AppError {
	return New(http.StatusInternalServerError, CodeConfiguration, MsgConfiguration, err)
}

// RateLimited is a 429 for upstream throttling.
func RateLimited(err error) *AppError {
	return New(http.StatusTooManyRequests, CodeRateLimited, MsgRateLimited, err)
}

// Upstream is a 502 for any other upstream failure.
func Upstream(err error) *AppError {
	return New(http.StatusBadGateway, CodeUpstream, MsgUpstream, err)
}

// NoReply is a 500 for an upstream answer without content.
func NoReply() *AppError {
	return New(http.StatusInternalServerError, CodeNoReply, MsgNoReply, nil)
}

// Internal is a generic 500.
func Internal(err error) *AppError {
	return New(http.StatusInternalServerError, CodeInternal, MsgInternal, err)
}

// From returns err as an AppError, wrapping unknown errors as Internal.
func From(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return Internal(err)
}
