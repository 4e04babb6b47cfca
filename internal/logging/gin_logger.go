// Package logging configures logrus for the process and provides the Gin
// request logging and panic recovery middleware.
package logging

import (
	"fmt"
	"net/http"
	"net/url"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-Id"

const (
	skipGinLogKey = "__gin_skip_request_logging__"
	requestIDKey  = "request_id"
)

var sensitiveQueryKeys = map[string]struct{}{
	"key": {}, "api_key": {}, "apikey": {}, "token": {}, "access_token": {},
}

// GinLogrusLogger logs one line per request with status, latency and client
// details, and propagates or generates the X-Request-Id header.
func GinLogrusLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := maskQuery(c.Request.URL.RawQuery)

		requestID := c.Request.Header.Get(RequestIDHeader)
		if strings.TrimSpace(requestID) == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Writer.Header().Set(RequestIDHeader, requestID)

		c.Next()

		if shouldSkipGinRequestLogging(c) {
			return
		}

		if raw != "" {
			path = path + "?" + raw
		}

		latency := time.Since(start)
		if latency > time.Minute {
			latency = latency.Truncate(time.Second)
		} else {
			latency = latency.Truncate(time.Millisecond)
		}

		statusCode := c.Writer.Status()
		clientIP := c.ClientIP()
		method := c.Request.Method
		userAgent := c.Request.UserAgent()

		errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String()
		logLine := fmt.Sprintf("[GIN] %3d | %13v | %15s | %-7s \"%s\"", statusCode, latency, clientIP, method, path)
		if errorMessage != "" {
			logLine = logLine + " | " + errorMessage
		}

		fields := log.Fields{
			"status":      statusCode,
			"latency_ms":  latency.Milliseconds(),
			"client_ip":   clientIP,
			"method":      method,
			"path":        path,
			"request_id":  requestID,
			"client_type": classifyClient(c.Request),
		}
		if userAgent != "" {
			ua := userAgent
			if len(ua) > 180 {
				ua = ua[:180] + "..."
			}
			fields["user_agent"] = ua
		}

		entry := log.WithFields(fields)
		switch {
		case statusCode >= http.StatusInternalServerError:
			entry.Error(logLine)
		case statusCode >= http.StatusBadRequest:
			entry.Warn(logLine)
		default:
			entry.Info(logLine)
		}
	}
}

// GinLogrusRecovery recovers from handler panics, logs the stack and answers 500.
func GinLogrusRecovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.WithFields(log.Fields{
			"panic": recovered,
			"stack": string(debug.Stack()),
			"path":  c.Request.URL.Path,
		}).Error("recovered from panic")

		c.AbortWithStatus(http.StatusInternalServerError)
	})
}

// RequestID returns the id GinLogrusLogger assigned to the request.
func RequestID(c *gin.Context) string {
	if c == nil {
		return ""
	}
	return c.GetString(requestIDKey)
}

// SkipGinRequestLogging suppresses the log line for the current request.
func SkipGinRequestLogging(c *gin.Context) {
	if c == nil {
		return
	}
	c.Set(skipGinLogKey, true)
}

func shouldSkipGinRequestLogging(c *gin.Context) bool {
	if c == nil {
		return false
	}
	val, exists := c.Get(skipGinLogKey)
	if !exists {
		return false
	}
	flag, ok := val.(bool)
	return ok && flag
}

// classifyClient tells browser widgets apart from the terminal client and scripts.
func classifyClient(r *http.Request) string {
	ua := strings.ToLower(r.UserAgent())
	switch {
	case strings.HasPrefix(ua, "ambot/"):
		return "ambot-cli"
	case r.Header.Get("Origin") != "":
		return "widget"
	case strings.Contains(ua, "curl"):
		return "curl"
	default:
		return "generic"
	}
}

// maskQuery hides credential-like query parameters.
func maskQuery(raw string) string {
	if raw == "" {
		return ""
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return raw
	}
	masked := false
	for k := range values {
		if _, ok := sensitiveQueryKeys[strings.ToLower(k)]; ok {
			values.Set(k, "***")
			masked = true
		}
	}
	if !masked {
		return raw
	}
	return values.Encode()
}
