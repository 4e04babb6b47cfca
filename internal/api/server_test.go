package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/asoloa/ambot/internal/config"
	"github.com/asoloa/ambot/internal/conversation"
	"github.com/asoloa/ambot/internal/knowledgebase"
	"github.com/asoloa/ambot/internal/upstream"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeCompleter records requests and answers with a fixed result or error.
type fakeCompleter struct {
	mu       sync.Mutex
	requests []upstream.Request
	result   *upstream.Result
	err      error
	// release, when set, blocks each call until it is closed or receives.
	release chan struct{}
}

func (f *fakeCompleter) Complete(ctx context.Context, req upstream.Request) (*upstream.Result, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	release := f.release
	f.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &upstream.Result{
		Content: "<p>Hello from the fake</p>",
		Model:   "fake",
		Usage:   upstream.Usage{PromptTokens: 12, CompletionTokens: 5, TotalTokens: 17},
	}, nil
}

func (f *fakeCompleter) Model() string { return "fake" }

func (f *fakeCompleter) last(t *testing.T) upstream.Request {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

func (f *fakeCompleter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func testConfig() *config.Config {
	cfg := config.Default()
	off := false
	cfg.Metrics = &off
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config, completer upstream.Completer) *Server {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	opts := []ServerOption{}
	if completer != nil {
		opts = append(opts, WithCompleter(completer))
	}
	return NewServer(cfg, knowledgebase.NewStore(knowledgebase.Default(), ""), opts...)
}

func do(s *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestChat_Validation(t *testing.T) {
	s := newTestServer(t, nil, &fakeCompleter{})

	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{"empty body", "", "Invalid JSON in request body"},
		{"broken json", "{not json", "Invalid JSON in request body"},
		{"no messages", `{}`, "Invalid request: messages array is required"},
		{"messages not array", `{"messages":"hi"}`, "Invalid request: messages array is required"},
		{"top-level array", `[{"role":"user","content":"hi"}]`, "Invalid request: messages array is required"},
		{"empty messages", `{"messages":[]}`, "Invalid request: messages array cannot be empty"},
		{"bad role", `{"messages":[{"role":"bot","content":"hi"}]}`, "Invalid message at index 0: invalid role"},
		{"missing role", `{"messages":[{"content":"hi"}]}`, "Invalid message at index 0: invalid role"},
		{"non-string role", `{"messages":[{"role":1,"content":"hi"}]}`, "Invalid message at index 0: invalid role"},
		{"non-string content", `{"messages":[{"role":"user","content":"ok"},{"role":"user","content":5}]}`, "Invalid message at index 1: content must be a string"},
		{"missing content", `{"messages":[{"role":"assistant"}]}`, "Invalid message at index 0: content must be a string"},
		{"content too long", `{"messages":[{"role":"user","content":"` + strings.Repeat("a", 10001) + `"}]}`, "Invalid message at index 0: content too long"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(s, http.MethodPost, "/v1/chat", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.wantMsg, gjson.Get(w.Body.String(), "error").String())
		})
	}
}

func TestChat_ContentLengthCountsCharacters(t *testing.T) {
	fake := &fakeCompleter{}
	s := newTestServer(t, nil, fake)

	w := do(s, http.MethodPost, "/v1/chat", `{"messages":[{"role":"user","content":"`+strings.Repeat("é", 10000)+`"}]}`, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Characters outside the BMP take two UTF-16 units each.
	w = do(s, http.MethodPost, "/v1/chat", `{"messages":[{"role":"user","content":"`+strings.Repeat("😀", 5000)+`"}]}`, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(s, http.MethodPost, "/v1/chat", `{"messages":[{"role":"user","content":"`+strings.Repeat("😀", 5001)+`"}]}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid message at index 0: content too long", gjson.Get(w.Body.String(), "error").String())
	assert.Equal(t, int64(10000), gjson.Get(w.Body.String(), "details.limit").Int())
	assert.Equal(t, 2, fake.count())
}

func TestContentLength(t *testing.T) {
	assert.Equal(t, 0, contentLength(""))
	assert.Equal(t, 3, contentLength("abc"))
	assert.Equal(t, 1, contentLength("é"))
	assert.Equal(t, 2, contentLength("😀"))
	assert.Equal(t, 1, contentLength("\xff"))
}

func TestChat_ValidationDetails(t *testing.T) {
	s := newTestServer(t, nil, &fakeCompleter{})

	w := do(s, http.MethodPost, "/v1/chat", `{"messages":[{"role":"user","content":"ok"},{"role":"user","content":5}]}`, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, int64(1), gjson.Get(w.Body.String(), "details.index").Int())
	assert.Equal(t, "content", gjson.Get(w.Body.String(), "details.field").String())

	w = do(s, http.MethodPost, "/v1/chat", `{"messages":[]}`, nil)
	assert.False(t, gjson.Get(w.Body.String(), "details").Exists())
}

func TestChat_GenerationParameters(t *testing.T) {
	tests := []struct {
		name       string
		extra      string
		wantTokens int
		wantTemp   float64
	}{
		{"defaults", ``, 500, 0.3},
		{"zero max tokens", `,"maxTokens":0`, 500, 0.3},
		{"max tokens capped", `,"maxTokens":5000`, 1000, 0.3},
		{"max tokens kept", `,"maxTokens":200`, 200, 0.3},
		{"max tokens not a number", `,"maxTokens":"lots"`, 500, 0.3},
		{"explicit zero temperature", `,"temperature":0`, 500, 0},
		{"temperature clamped high", `,"temperature":2`, 500, 1},
		{"temperature clamped low", `,"temperature":-1`, 500, 0},
		{"temperature kept", `,"temperature":0.7`, 500, 0.7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeCompleter{}
			s := newTestServer(t, nil, fake)
			w := do(s, http.MethodPost, "/v1/chat", `{"messages":[{"role":"user","content":"hi"}]`+tt.extra+`}`, nil)
			require.Equal(t, http.StatusOK, w.Code)

			req := fake.last(t)
			assert.Equal(t, tt.wantTokens, req.MaxTokens)
			assert.InDelta(t, tt.wantTemp, req.Temperature, 1e-9)
		})
	}
}

func TestChat_Success(t *testing.T) {
	fake := &fakeCompleter{}
	s := newTestServer(t, nil, fake)

	body := `{"messages":[{"role":"system","content":"Relevant knowledge about Sol:\n{}"},{"role":"user","content":"hi"}]}`
	w := do(s, http.MethodPost, "/v1/chat", body, nil)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Contains(t, w.Body.String(), "<p>Hello from the fake</p>")
	assert.Equal(t, int64(12), gjson.Get(w.Body.String(), "usage.prompt_tokens").Int())
	assert.Equal(t, int64(5), gjson.Get(w.Body.String(), "usage.completion_tokens").Int())
	assert.Equal(t, int64(17), gjson.Get(w.Body.String(), "usage.total_tokens").Int())

	req := fake.last(t)
	require.Len(t, req.Messages, 3)
	assert.Equal(t, conversation.RoleSystem, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "AI assistant for Sol's personal portfolio website")
	assert.Contains(t, req.Messages[0].Content, "CRITICAL INSTRUCTIONS")
	assert.Equal(t, "Relevant knowledge about Sol:\n{}", req.Messages[1].Content)
	assert.Equal(t, conversation.Turn{Role: conversation.RoleUser, Content: "hi"}, req.Messages[2])
}

func TestChat_RootAlias(t *testing.T) {
	fake := &fakeCompleter{}
	s := newTestServer(t, nil, fake)

	w := do(s, http.MethodPost, "/", `{"messages":[{"role":"user","content":"hi"}]}`, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, fake.count())
}

func TestChat_CompletionCache(t *testing.T) {
	fake := &fakeCompleter{}
	cfg := testConfig()
	cfg.Cache = config.CacheConfig{MaxSize: 8, TTLSeconds: 60}
	s := newTestServer(t, cfg, fake)

	body := `{"messages":[{"role":"user","content":"What services do you offer?"}]}`
	first := do(s, http.MethodPost, "/v1/chat", body, nil)
	second := do(s, http.MethodPost, "/v1/chat", body, nil)
	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, 1, fake.count())
	assert.Equal(t, gjson.Get(first.Body.String(), "content").String(), gjson.Get(second.Body.String(), "content").String())
	assert.Equal(t, int64(0), gjson.Get(second.Body.String(), "usage.total_tokens").Int())

	other := `{"messages":[{"role":"user","content":"What services do you offer?"}],"temperature":0.9}`
	require.Equal(t, http.StatusOK, do(s, http.MethodPost, "/v1/chat", other, nil).Code)
	assert.Equal(t, 2, fake.count())
}

func TestServer_RunMaintenance(t *testing.T) {
	// Without a cache it returns immediately.
	newTestServer(t, nil, &fakeCompleter{}).RunMaintenance(context.Background())

	cfg := testConfig()
	cfg.Cache = config.CacheConfig{MaxSize: 8, TTLSeconds: 60}
	s := newTestServer(t, cfg, &fakeCompleter{})
	require.NotNil(t, s.cache)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.RunMaintenance(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunMaintenance did not stop after cancel")
	}
}

func TestChat_UpstreamErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{"missing credential", upstream.ErrMissingCredential, http.StatusInternalServerError, "Server configuration error"},
		{"rate limited", &upstream.StatusError{StatusCode: 429, Err: errors.Join(upstream.ErrRateLimited, errors.New("slow down"))}, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later."},
		{"provider 500", &upstream.StatusError{StatusCode: 500, Err: errors.New("boom")}, http.StatusBadGateway, "Error communicating with AI service"},
		{"network", errors.New("connection refused"), http.StatusBadGateway, "Error communicating with AI service"},
		{"empty reply", upstream.ErrEmptyReply, http.StatusInternalServerError, "No response from AI service"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil, &fakeCompleter{err: tt.err})
			w := do(s, http.MethodPost, "/v1/chat", `{"messages":[{"role":"user","content":"hi"}]}`, nil)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantMsg, gjson.Get(w.Body.String(), "error").String())
		})
	}
}

func TestChat_ValidationBeforeCredentialCheck(t *testing.T) {
	cfg := testConfig()
	cfg.APIKey = ""
	s := newTestServer(t, cfg, nil)

	w := do(s, http.MethodPost, "/v1/chat", `{"messages":[]}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(s, http.MethodPost, "/v1/chat", `{"messages":[{"role":"user","content":"hi"}]}`, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Server configuration error", gjson.Get(w.Body.String(), "error").String())
}

func TestChat_OpenAIUpstream(t *testing.T) {
	var seen []byte
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		seen, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"gpt-4o-mini","choices":[{"message":{"role":"assistant","content":"<p>Hi</p>"}}],"usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}}`))
	}))
	defer provider.Close()

	cfg := testConfig()
	cfg.APIKey = "sk-test"
	cfg.Upstream.BaseURL = provider.URL + "/v1"
	s := newTestServer(t, cfg, nil)

	w := do(s, http.MethodPost, "/v1/chat", `{"messages":[{"role":"user","content":"hi"}],"maxTokens":50}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "<p>Hi</p>", gjson.Get(w.Body.String(), "content").String())
	assert.Equal(t, int64(3), gjson.Get(w.Body.String(), "usage.total_tokens").Int())

	assert.Equal(t, "gpt-4o-mini", gjson.GetBytes(seen, "model").String())
	assert.Equal(t, int64(50), gjson.GetBytes(seen, "max_tokens").Int())
	assert.Equal(t, "system", gjson.GetBytes(seen, "messages.0.role").String())
	assert.Equal(t, "hi", gjson.GetBytes(seen, "messages.1.content").String())
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, nil, &fakeCompleter{})

	t.Run("preflight allowed origin", func(t *testing.T) {
		w := do(s, http.MethodOptions, "/v1/chat", "", map[string]string{"Origin": "https://asoloa.com"})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Body.String())
		assert.Equal(t, "https://asoloa.com", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Content-Type")
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
		assert.Equal(t, "Origin", w.Header().Get("Vary"))
	})

	t.Run("preflight other origin", func(t *testing.T) {
		w := do(s, http.MethodOptions, "/v1/chat", "", map[string]string{"Origin": "https://evil.example"})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("post allowed origin", func(t *testing.T) {
		w := do(s, http.MethodPost, "/v1/chat", `{"messages":[]}`, map[string]string{"Origin": "https://asoloa.com"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "https://asoloa.com", w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestOriginAllowed(t *testing.T) {
	assert.False(t, originAllowed(nil, "https://a.example"))
	assert.False(t, originAllowed([]string{"https://a.example"}, ""))
	assert.True(t, originAllowed([]string{" https://A.example "}, "https://a.example"))
	assert.True(t, originAllowed([]string{"*"}, "https://b.example"))
	assert.False(t, originAllowed([]string{"", "https://a.example"}, "https://b.example"))
}

func TestChat_RateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{RequestsPerMinute: 1, Burst: 1}
	s := newTestServer(t, cfg, &fakeCompleter{})

	body := `{"messages":[{"role":"user","content":"hi"}]}`
	assert.Equal(t, http.StatusOK, do(s, http.MethodPost, "/v1/chat", body, nil).Code)
	w := do(s, http.MethodPost, "/v1/chat", body, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "Rate limit exceeded. Please try again later.", gjson.Get(w.Body.String(), "error").String())

	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/healthz", "", nil).Code)
}

func TestContextEndpoint(t *testing.T) {
	s := newTestServer(t, nil, &fakeCompleter{})

	w := do(s, http.MethodGet, "/v1/knowledgebase/context?q=%3F%3F%3F", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.True(t, gjson.Get(body, "fallback").Bool())
	assert.Equal(t, `["about","portfolio","certifications","experiences","technologies"]`, gjson.Get(body, "keys").Raw)
	assert.Len(t, gjson.Get(body, "context.technologies").Array(), 15)
	assert.Positive(t, gjson.Get(body, "tokens").Int())

	w = do(s, http.MethodGet, "/v1/knowledgebase/context?q=Where+did+Sol+work+recently%3F", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = w.Body.String()
	assert.False(t, gjson.Get(body, "fallback").Bool())
	assert.True(t, strings.HasPrefix(gjson.Get(body, "context.experiences.0.company").String(), "WeServ"))
	assert.True(t, gjson.Get(body, "scores.experiences").IsArray())
	assert.Contains(t, gjson.Get(body, "keywords").String(), "recently")

	w = do(s, http.MethodGet, "/v1/knowledgebase/context", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWidgetConfigEndpoint(t *testing.T) {
	s := newTestServer(t, nil, &fakeCompleter{})

	w := do(s, http.MethodGet, "/v1/widget/config", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Equal(t, "Sol", gjson.Get(body, "subject").String())
	assert.NotEmpty(t, gjson.Get(body, "greeting").String())
	assert.NotEmpty(t, gjson.Get(body, "sampleQuestions").Array())
	assert.Equal(t, int64(config.DefaultMaxHistory), gjson.Get(body, "maxHistory").Int())
}

func TestSubjectOverride(t *testing.T) {
	cfg := testConfig()
	cfg.Subject = "Marisol"
	fake := &fakeCompleter{}
	s := newTestServer(t, cfg, fake)

	w := do(s, http.MethodPost, "/v1/chat", `{"messages":[{"role":"user","content":"hi"}]}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, fake.last(t).Messages[0].Content, "Marisol's personal portfolio")
	assert.Equal(t, "Marisol", gjson.Get(do(s, http.MethodGet, "/", "", nil).Body.String(), "subject").String())
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, nil, &fakeCompleter{})

	w := do(s, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", gjson.Get(w.Body.String(), "status").String())
	assert.Equal(t, "fake", gjson.Get(w.Body.String(), "model").String())
	assert.Equal(t, int64(config.DefaultPort), gjson.Get(w.Body.String(), "port").Int())
}

func TestMetricsDisabled(t *testing.T) {
	s := newTestServer(t, nil, &fakeCompleter{})
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/metrics", "", nil).Code)
}

func TestServer_StartStop(t *testing.T) {
	cfg := testConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	s := newTestServer(t, cfg, &fakeCompleter{})

	done := make(chan error, 1)
	go func() { done <- s.Start() }()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.NoError(t, <-done)
}

func TestSystemPrompt(t *testing.T) {
	p, err := newSystemPrompt("")
	require.NoError(t, err)
	out, err := p.Render("Sol")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "You are a helpful and polite AI assistant for Sol's"))
	assert.Contains(t, out, "14. When listing technologies")
	assert.Contains(t, out, "```html")
	assert.NotContains(t, out, "{{")

	p, err = newSystemPrompt("Answer only about {{.Subject}}.")
	require.NoError(t, err)
	out, err = p.Render("Jane")
	require.NoError(t, err)
	assert.Equal(t, "Answer only about Jane.", out)

	_, err = newSystemPrompt("{{.Subject")
	assert.Error(t, err)
}
