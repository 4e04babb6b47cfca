// Package config loads the YAML configuration shared by the server and the
// terminal client. The upstream credential is read from the environment only.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// APIKeyEnv names the environment variable holding the upstream credential.
const APIKeyEnv = "OPENAI_API_KEY"

const (
	DefaultPort               = 8080
	DefaultLogDir             = "logs"
	DefaultModel              = "gpt-4o-mini"
	DefaultMaxTokensLimit     = 1000
	DefaultMaxTokens          = 500
	DefaultTemperature        = 0.3
	DefaultMaxContentLength   = 10000
	DefaultTimeoutSeconds     = 60
	DefaultMaxHistory         = 10
	DefaultCacheTTLSeconds    = 300
	DefaultAllowedOrigin      = "https://asoloa.com"
	DefaultChatEndpointFormat = "http://127.0.0.1:%d/v1/chat"
)

// Config is the application configuration.
type Config struct {
	Host  string `yaml:"host" json:"host"`
	Port  int    `yaml:"port" json:"port"`
	Debug bool   `yaml:"debug" json:"debug"`

	// LogLevel is one of debug, info, warn, error, quiet.
	LogLevel      string `yaml:"log-level" json:"log-level"`
	LoggingToFile bool   `yaml:"logging-to-file" json:"logging-to-file"`
	LogDir        string `yaml:"log-dir" json:"log-dir"`

	// Metrics toggles the Prometheus middleware and /metrics. nil means enabled.
	Metrics *bool `yaml:"metrics,omitempty" json:"metrics,omitempty"`

	// Subject overrides the name taken from the knowledgebase.
	Subject string `yaml:"subject" json:"subject"`
	// SystemPrompt overrides the built-in instruction template.
	SystemPrompt string `yaml:"system-prompt" json:"system-prompt"`

	CORS          CORSConfig          `yaml:"cors" json:"cors"`
	Upstream      UpstreamConfig      `yaml:"upstream" json:"upstream"`
	Knowledgebase KnowledgebaseConfig `yaml:"knowledgebase" json:"knowledgebase"`
	Chat          ChatConfig          `yaml:"chat" json:"chat"`
	RateLimit     RateLimitConfig     `yaml:"rate-limit" json:"rate-limit"`
	Cache         CacheConfig         `yaml:"completion-cache" json:"completion-cache"`

	// APIKey is the upstream credential, loaded from APIKeyEnv.
	APIKey string `yaml:"-" json:"-"`
}

// CORSConfig restricts browser origins.
type CORSConfig struct {
	AllowOrigins []string `yaml:"allow-origins" json:"allow-origins"`
}

// UpstreamConfig describes the language model provider behind the proxy.
type UpstreamConfig struct {
	// BaseURL is empty for the provider default.
	BaseURL            string   `yaml:"base-url" json:"base-url"`
	Model              string   `yaml:"model" json:"model"`
	MaxTokensLimit     int      `yaml:"max-tokens-limit" json:"max-tokens-limit"`
	DefaultMaxTokens   int      `yaml:"default-max-tokens" json:"default-max-tokens"`
	DefaultTemperature *float64 `yaml:"default-temperature,omitempty" json:"default-temperature,omitempty"`
	MaxContentLength   int      `yaml:"max-content-length" json:"max-content-length"`
	TimeoutSeconds     int      `yaml:"timeout-seconds" json:"timeout-seconds"`
}

// KnowledgebaseConfig locates the knowledgebase file. An empty path uses the embedded one.
type KnowledgebaseConfig struct {
	Path  string `yaml:"path" json:"path"`
	Watch bool   `yaml:"watch" json:"watch"`
}

// ChatConfig configures the client side of the chat transport.
type ChatConfig struct {
	Endpoint       string   `yaml:"endpoint" json:"endpoint"`
	MaxHistory     int      `yaml:"max-history" json:"max-history"`
	MaxTokens      int      `yaml:"max-tokens" json:"max-tokens"`
	Temperature    *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	TimeoutSeconds int      `yaml:"timeout-seconds" json:"timeout-seconds"`
}

// RateLimitConfig throttles the completion endpoint per client IP.
// A zero RequestsPerMinute disables the limiter.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests-per-minute" json:"requests-per-minute"`
	Burst             int `yaml:"burst" json:"burst"`
}

// Enabled reports whether requests are throttled.
func (r RateLimitConfig) Enabled() bool {
	return r.RequestsPerMinute > 0
}

// CacheConfig sizes the in-memory completion cache. A zero MaxSize disables it.
type CacheConfig struct {
	MaxSize    int `yaml:"max-size" json:"max-size"`
	TTLSeconds int `yaml:"ttl-seconds" json:"ttl-seconds"`
}

// Enabled reports whether completions are cached.
func (c CacheConfig) Enabled() bool {
	return c.MaxSize > 0
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = "info"
		if c.Debug {
			c.LogLevel = "debug"
		}
	}
	if c.LogDir == "" {
		c.LogDir = DefaultLogDir
	}
	if len(c.CORS.AllowOrigins) == 0 {
		c.CORS.AllowOrigins = []string{DefaultAllowedOrigin}
	}

	u := &c.Upstream
	if u.Model == "" {
		u.Model = DefaultModel
	}
	if u.MaxTokensLimit <= 0 {
		u.MaxTokensLimit = DefaultMaxTokensLimit
	}
	if u.DefaultMaxTokens <= 0 {
		u.DefaultMaxTokens = DefaultMaxTokens
	}
	if u.DefaultTemperature == nil {
		t := DefaultTemperature
		u.DefaultTemperature = &t
	}
	if u.MaxContentLength <= 0 {
		u.MaxContentLength = DefaultMaxContentLength
	}
	if u.TimeoutSeconds <= 0 {
		u.TimeoutSeconds = DefaultTimeoutSeconds
	}

	ch := &c.Chat
	if ch.Endpoint == "" {
		ch.Endpoint = fmt.Sprintf(DefaultChatEndpointFormat, c.Port)
	}
	if ch.MaxHistory <= 0 {
		ch.MaxHistory = DefaultMaxHistory
	}
	if ch.MaxTokens <= 0 {
		ch.MaxTokens = DefaultMaxTokens
	}
	if ch.Temperature == nil {
		t := DefaultTemperature
		ch.Temperature = &t
	}
	if ch.TimeoutSeconds <= 0 {
		ch.TimeoutSeconds = DefaultTimeoutSeconds
	}

	if c.RateLimit.RequestsPerMinute < 0 {
		c.RateLimit.RequestsPerMinute = 0
	}
	if c.RateLimit.Enabled() && c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = c.RateLimit.RequestsPerMinute
	}

	if c.Cache.MaxSize < 0 {
		c.Cache.MaxSize = 0
	}
	if c.Cache.Enabled() && c.Cache.TTLSeconds <= 0 {
		c.Cache.TTLSeconds = DefaultCacheTTLSeconds
	}
}

// MetricsEnabled reports whether metrics are on, defaulting to true.
func (c *Config) MetricsEnabled() bool {
	if c == nil || c.Metrics == nil {
		return true
	}
	return *c.Metrics
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// LoadConfig reads the configuration file at path. The file must exist.
func LoadConfig(path string) (*Config, error) {
	return LoadConfigOptional(path, false)
}

// LoadConfigOptional reads the configuration at path. When optional is true a
// missing or unparsable file yields the defaults instead of an error.
func LoadConfigOptional(path string, optional bool) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case err != nil && optional:
		if !errors.Is(err, os.ErrNotExist) {
			log.WithError(err).Warnf("failed to read config %s, using defaults", path)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	case len(strings.TrimSpace(string(data))) > 0:
		if errParse := yaml.Unmarshal(data, cfg); errParse != nil {
			if !optional {
				return nil, fmt.Errorf("failed to parse config file: %w", errParse)
			}
			log.WithError(errParse).Warnf("failed to parse config %s, using defaults", path)
			cfg = &Config{}
		}
	}

	cfg.ApplyDefaults()
	if cfg.Knowledgebase.Path != "" && !filepath.IsAbs(cfg.Knowledgebase.Path) && path != "" {
		cfg.Knowledgebase.Path = filepath.Join(filepath.Dir(path), cfg.Knowledgebase.Path)
	}
	return cfg, nil
}

// LoadEnv loads .env files from the working directory and the config directory,
// without overriding variables already set, then reads the credential.
func (c *Config) LoadEnv(configPath string) {
	candidates := []string{".env"}
	if configPath != "" {
		if p := filepath.Join(filepath.Dir(configPath), ".env"); p != ".env" {
			candidates = append(candidates, p)
		}
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			log.WithError(err).Warnf("failed to load %s", p)
		}
	}
	c.APIKey = strings.TrimSpace(os.Getenv(APIKeyEnv))
}

// ValidateConfig checks the configuration. Problems that do not prevent startup
// are returned as warnings.
func ValidateConfig(cfg *Config) ([]string, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", cfg.Port)
	}
	var warnings []string
	if cfg.Upstream.DefaultMaxTokens > cfg.Upstream.MaxTokensLimit && cfg.Upstream.MaxTokensLimit > 0 {
		warnings = append(warnings, fmt.Sprintf("upstream.default-max-tokens %d exceeds max-tokens-limit %d",
			cfg.Upstream.DefaultMaxTokens, cfg.Upstream.MaxTokensLimit))
	}
	if t := cfg.Upstream.DefaultTemperature; t != nil && (*t < 0 || *t > 1) {
		warnings = append(warnings, fmt.Sprintf("upstream.default-temperature %v is outside [0,1] and will be clamped", *t))
	}
	for _, origin := range cfg.CORS.AllowOrigins {
		if origin == "*" {
			warnings = append(warnings, "cors.allow-origins contains '*', every origin is allowed")
		}
	}
	return warnings, nil
}
