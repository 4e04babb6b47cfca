// Package api provides the HTTP server of the chat widget: the completion proxy
// in front of the language model provider, the widget websocket gateway, and a
// few read-only endpoints for the widget and for debugging.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/asoloa/ambot/internal/api/middleware"
	"github.com/asoloa/ambot/internal/cache"
	"github.com/asoloa/ambot/internal/config"
	"github.com/asoloa/ambot/internal/knowledgebase"
	"github.com/asoloa/ambot/internal/logging"
	"github.com/asoloa/ambot/internal/relevance"
	"github.com/asoloa/ambot/internal/upstream"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

type serverOptionConfig struct {
	extraMiddleware    []gin.HandlerFunc
	engineConfigurator func(*gin.Engine)
	routerConfigurator func(*gin.Engine)
	completer          upstream.Completer
	builder            *relevance.Builder
}

// ServerOption customises HTTP server construction.
type ServerOption func(*serverOptionConfig)

// WithMiddleware appends additional Gin middleware during server construction.
func WithMiddleware(mw ...gin.HandlerFunc) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.extraMiddleware = append(cfg.extraMiddleware, mw...)
	}
}

// WithEngineConfigurator allows callers to mutate the Gin engine prior to middleware setup.
func WithEngineConfigurator(fn func(*gin.Engine)) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.engineConfigurator = fn
	}
}

// WithRouterConfigurator appends a callback after default routes are registered.
func WithRouterConfigurator(fn func(*gin.Engine)) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.routerConfigurator = fn
	}
}

// WithCompleter replaces the upstream provider client.
func WithCompleter(c upstream.Completer) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.completer = c
	}
}

// WithContextBuilder replaces the context builder used by widget sessions.
func WithContextBuilder(b *relevance.Builder) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.builder = b
	}
}

// Server represents the chat API server.
type Server struct {
	// engine is the Gin web framework engine instance.
	engine *gin.Engine

	// server is the underlying HTTP server.
	server *http.Server

	// cfg holds the server configuration. It is not reloaded at runtime.
	cfg *config.Config

	// kb provides the active knowledgebase snapshot.
	kb knowledgebase.Source

	// completer forwards completions to the provider.
	completer upstream.Completer
	model     string

	builder *relevance.Builder
	prompt  *systemPrompt

	// cache is nil when completion caching is off.
	cache *cache.CompletionCache

	upgrader websocket.Upgrader

	// wsConns tracks open widget sockets so Stop can close them.
	wsMu    sync.Mutex
	wsConns map[*websocket.Conn]context.CancelFunc
}

// NewServer creates the API server for cfg, answering from the knowledgebase in kb.
func NewServer(cfg *config.Config, kb knowledgebase.Source, opts ...ServerOption) *Server {
	optionState := &serverOptionConfig{}
	for i := range opts {
		opts[i](optionState)
	}
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	if optionState.engineConfigurator != nil {
		optionState.engineConfigurator(engine)
	}

	middleware.SetMetricsEnabled(cfg.MetricsEnabled())

	engine.Use(logging.GinLogrusLogger())
	engine.Use(logging.GinLogrusRecovery())
	engine.Use(middleware.ConnectionTrackerMiddleware())
	engine.Use(middleware.PrometheusMiddleware())
	for _, mw := range optionState.extraMiddleware {
		engine.Use(mw)
	}

	completer := optionState.completer
	if completer == nil {
		completer = upstream.NewOpenAI(upstream.OpenAIOptions{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.Upstream.BaseURL,
			Model:   cfg.Upstream.Model,
			Timeout: time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		})
	}
	model := cfg.Upstream.Model
	if named, ok := completer.(interface{ Model() string }); ok {
		model = named.Model()
	}

	prompt, err := newSystemPrompt(cfg.SystemPrompt)
	if err != nil {
		log.WithError(err).Warn("falling back to the built-in system prompt")
		prompt, _ = newSystemPrompt("")
	}

	builder := optionState.builder
	if builder == nil {
		builder = relevance.NewBuilder()
	}

	s := &Server{
		engine:    engine,
		cfg:       cfg,
		kb:        kb,
		completer: completer,
		model:     model,
		builder:   builder,
		prompt:    prompt,
		wsConns:   make(map[*websocket.Conn]context.CancelFunc),
	}
	if cfg.Cache.Enabled() {
		s.cache = cache.New(cache.Config{
			MaxSize: cfg.Cache.MaxSize,
			TTL:     time.Duration(cfg.Cache.TTLSeconds) * time.Second,
		})
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkWidgetOrigin,
	}

	engine.Use(corsMiddleware(cfg.CORS.AllowOrigins))
	engine.Use(middleware.RequestDecompressionMiddleware())
	s.setupRoutes()

	if optionState.routerConfigurator != nil {
		optionState.routerConfigurator(engine)
	}

	s.server = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// setupRoutes configures the API routes for the server.
func (s *Server) setupRoutes() {
	chat := []gin.HandlerFunc{s.handleChat}
	if s.cfg.RateLimit.Enabled() {
		limiter := middleware.NewRateLimiter(s.cfg.RateLimit.RequestsPerMinute, s.cfg.RateLimit.Burst)
		chat = append([]gin.HandlerFunc{limiter.Middleware()}, chat...)
	}

	s.engine.GET("/", s.handleRoot)
	s.engine.POST("/", chat...)

	v1 := s.engine.Group("/v1")
	{
		v1.POST("/chat", chat...)
		v1.GET("/widget/config", s.handleWidgetConfig)
		v1.GET("/widget/ws", s.handleWidgetSocket)
		v1.GET("/knowledgebase/context", s.handleContext)
	}

	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", middleware.MetricsHandler())
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start begins listening for and serving HTTP requests.
// It's a blocking call and will only return on an unrecoverable error.
func (s *Server) Start() error {
	if s == nil || s.server == nil {
		return fmt.Errorf("failed to start HTTP server: server not initialized")
	}

	log.Infof("Starting API server on %s", s.server.Addr)
	if errServe := s.server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %v", errServe)
	}
	return nil
}

// RunMaintenance runs background upkeep, currently the completion cache sweep,
// until ctx is done. It returns at once when no cache is configured.
func (s *Server) RunMaintenance(ctx context.Context) {
	if s.cache == nil {
		return
	}
	s.cache.RunEviction(ctx, cache.DefaultEvictionInterval)
}

// Stop gracefully shuts down the API server. Open widget sockets are closed
// first since Shutdown does not wait for hijacked connections.
func (s *Server) Stop(ctx context.Context) error {
	log.Debug("Stopping API server...")

	s.closeWidgetSockets()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %v", err)
	}

	log.Debug("API server stopped")
	return nil
}

// corsMiddleware adds CORS headers for allow-listed origins and answers
// preflight requests with an empty 200.
func corsMiddleware(allowOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := strings.TrimSpace(c.GetHeader("Origin"))
		if originAllowed(allowOrigins, origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Encoding")
			c.Header("Vary", "Origin")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}

func originAllowed(allowOrigins []string, origin string) bool {
	if origin == "" || len(allowOrigins) == 0 {
		return false
	}
	for _, allowed := range allowOrigins {
		allowed = strings.TrimSpace(allowed)
		if allowed == "" {
			continue
		}
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
