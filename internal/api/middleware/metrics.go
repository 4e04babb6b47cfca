// Package middleware provides the Gin middleware of the chat server and the
// Prometheus metrics it exports.
package middleware

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ambot_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ambot_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	httpRequestSizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ambot_http_request_size_bytes",
			Help:    "Size of HTTP request bodies in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 4, 8),
		},
		[]string{"method", "path"},
	)

	activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ambot_active_connections",
			Help: "Number of in-flight HTTP requests",
		},
	)

	widgetSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ambot_widget_sessions",
			Help: "Number of open widget websocket sessions",
		},
	)

	upstreamRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ambot_upstream_requests_total",
			Help: "Completion requests forwarded upstream",
		},
		[]string{"model", "outcome"},
	)

	// upstreamErrors is labelled with rate_limit, upstream, no_reply or configuration.
	upstreamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ambot_upstream_errors_total",
			Help: "Completion failures by kind",
		},
		[]string{"error_type"},
	)

	tokenUsage = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ambot_token_usage_total",
			Help: "Tokens reported by the upstream provider",
		},
		[]string{"model", "type"},
	)

	contextBuilds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ambot_context_builds_total",
			Help: "Knowledge contexts built, by mode",
		},
		[]string{"mode"},
	)

	contextTokens = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ambot_context_tokens",
			Help:    "Estimated tokens of serialized knowledge contexts",
			Buckets: prometheus.ExponentialBuckets(64, 2, 8),
		},
	)

	completionCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ambot_completion_cache_total",
			Help: "Completion cache lookups, by result",
		},
		[]string{"result"},
	)

	metricsRegistered atomic.Bool
	metricsEnabled    atomic.Bool
)

// SetMetricsEnabled toggles metrics collection.
func SetMetricsEnabled(enabled bool) {
	metricsEnabled.Store(enabled)
}

// IsMetricsEnabled reports whether metrics are enabled.
func IsMetricsEnabled() bool {
	return metricsEnabled.Load()
}

// RegisterMetrics registers all collectors with the default registry once.
func RegisterMetrics() {
	if !metricsRegistered.CompareAndSwap(false, true) {
		return
	}
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		httpRequestSizeBytes,
		activeConnections,
		widgetSessions,
		upstreamRequests,
		upstreamErrors,
		tokenUsage,
		contextBuilds,
		contextTokens,
		completionCache,
	)
}

// PrometheusMiddleware records request count, latency and size per normalized route.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsMetricsEnabled() {
			c.Next()
			return
		}
		RegisterMetrics()

		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		activeConnections.Inc()
		defer activeConnections.Dec()

		path := normalizePath(c.Request.URL.Path)
		method := c.Request.Method
		if c.Request.ContentLength > 0 {
			httpRequestSizeBytes.WithLabelValues(method, path).Observe(float64(c.Request.ContentLength))
		}

		start := time.Now()
		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDurationSeconds.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

// normalizePath maps request paths onto a fixed label set.
func normalizePath(path string) string {
	switch path {
	case "/", "/v1/chat":
		return "/v1/chat"
	case "/healthz", "/metrics", "/v1/widget/ws", "/v1/widget/config", "/v1/knowledgebase/context":
		return path
	default:
		return "other"
	}
}

// MetricsHandler serves /metrics.
func MetricsHandler() gin.HandlerFunc {
	handler := promhttp.Handler()
	return func(c *gin.Context) {
		if !IsMetricsEnabled() {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		RegisterMetrics()
		handler.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordUpstreamRequest counts one completion call; outcome is "ok" or an error type.
func RecordUpstreamRequest(model, outcome string) {
	if !IsMetricsEnabled() {
		return
	}
	RegisterMetrics()
	upstreamRequests.WithLabelValues(model, outcome).Inc()
	if outcome != "ok" {
		upstreamErrors.WithLabelValues(outcome).Inc()
	}
}

// RecordTokenUsage adds provider-reported tokens. tokenType is prompt or completion.
func RecordTokenUsage(model, tokenType string, tokens int) {
	if !IsMetricsEnabled() || tokens <= 0 {
		return
	}
	RegisterMetrics()
	tokenUsage.WithLabelValues(model, tokenType).Add(float64(tokens))
}

// RecordContextBuild counts one context build and its estimated size.
func RecordContextBuild(fallback bool, tokens int) {
	if !IsMetricsEnabled() {
		return
	}
	RegisterMetrics()
	mode := "scored"
	if fallback {
		mode = "fallback"
	}
	contextBuilds.WithLabelValues(mode).Inc()
	contextTokens.Observe(float64(tokens))
}

// RecordCompletionCache counts one cache lookup; result is hit or miss.
func RecordCompletionCache(result string) {
	if !IsMetricsEnabled() {
		return
	}
	RegisterMetrics()
	completionCache.WithLabelValues(result).Inc()
}

// WidgetSessionOpened and WidgetSessionClosed track websocket sessions.
func WidgetSessionOpened() {
	ActiveWidgetSessions.Increment()
	if IsMetricsEnabled() {
		RegisterMetrics()
		widgetSessions.Inc()
	}
}

func WidgetSessionClosed() {
	ActiveWidgetSessions.Decrement()
	if IsMetricsEnabled() {
		RegisterMetrics()
		widgetSessions.Dec()
	}
}
