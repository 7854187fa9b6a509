package completion

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xaenox/nova/internal/models"
	"go.uber.org/zap"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func newOpenAIServer(t *testing.T, handler func(req chatRequest) (int, string)) (*httptest.Server, *[]chatRequest) {
	t.Helper()
	var mu sync.Mutex
	var seen []chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		mu.Lock()
		seen = append(seen, req)
		mu.Unlock()
		status, body := handler(req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func okBody(text string) string {
	b, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"choices": []map[string]any{{"index": 0, "message": map[string]string{"role": "assistant", "content": text}}},
	})
	return string(b)
}

func errBody(msg, code string) string {
	b, _ := json.Marshal(map[string]any{
		"error": map[string]any{"message": msg, "type": "invalid_request_error", "code": code},
	})
	return string(b)
}

func testConfig(baseURL string) Config {
	return Config{
		Provider:      "groq",
		APIKey:        "test-key",
		BaseURL:       baseURL,
		Model:         DefaultGroqModel,
		FallbackModel: "llama-3.3-70b-versatile",
		MaxTokens:     512,
		Temperature:   0.7,
		Timeout:       5 * time.Second,
	}
}

func TestOpenAICompleter_RequestShape(t *testing.T) {
	srv, seen := newOpenAIServer(t, func(chatRequest) (int, string) {
		return http.StatusOK, okBody("Hi! I'm Nova.")
	})
	c, err := New(testConfig(srv.URL), zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	reply := c.Complete(context.Background(), []models.Segment{
		{Role: models.RoleSystem, Parts: []string{"memories:", "none"}},
		models.NewSegment(models.RoleUser, "hello"),
		models.NewSegment(models.RoleModel, "hey"),
		{Role: models.RoleUser, Parts: []string{"two", "parts"}},
	})
	if reply != "Hi! I'm Nova." {
		t.Fatalf("unexpected reply %q", reply)
	}
	if len(*seen) != 1 {
		t.Fatalf("expected 1 request, got %d", len(*seen))
	}
	msgs := (*seen)[0].Messages
	if len(msgs) != 5 {
		t.Fatalf("expected preamble plus 4 segments, got %d", len(msgs))
	}
	if msgs[0].Role != "system" || msgs[0].Content != Preamble {
		t.Fatalf("first message is not the preamble: %+v", msgs[0])
	}
	if msgs[1].Content != "memories: none" {
		t.Fatalf("parts not joined with a space: %q", msgs[1].Content)
	}
	if msgs[3].Role != "assistant" {
		t.Fatalf("model role not mapped to assistant: %q", msgs[3].Role)
	}
	if msgs[4].Content != "two parts" {
		t.Fatalf("unexpected flattened content %q", msgs[4].Content)
	}
}

func TestOpenAICompleter_FailureFallbacks(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   Category
	}{
		{"rate limited", http.StatusTooManyRequests, errBody("Rate limit reached", "rate_limit_exceeded"), RateLimited},
		{"unauthorized", http.StatusUnauthorized, errBody("Invalid API Key", "invalid_api_key"), Unauthorized},
		{"decommissioned", http.StatusBadRequest, errBody("The model `llama3-8b-8192` has been decommissioned", "model_decommissioned"), ModelUnavailable},
		{"server error", http.StatusInternalServerError, errBody("internal failure", "server_error"), Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newOpenAIServer(t, func(chatRequest) (int, string) {
				return tt.status, tt.body
			})
			cfg := testConfig(srv.URL)
			c, _ := New(cfg, zap.NewNop())
			got := c.Complete(context.Background(), []models.Segment{models.NewSegment(models.RoleUser, "hello")})
			if want := Fallback(tt.want, "Groq", cfg.FallbackModel); got != want {
				t.Fatalf("got %q, want %q", got, want)
			}
		})
	}
}

func TestOpenAICompleter_RetriesWithFallbackModel(t *testing.T) {
	srv, seen := newOpenAIServer(t, func(req chatRequest) (int, string) {
		if req.Model == DefaultGroqModel {
			return http.StatusNotFound, errBody("The model does not exist", "model_not_found")
		}
		return http.StatusOK, okBody("from fallback")
	})
	c, _ := New(testConfig(srv.URL), zap.NewNop())
	got := c.Complete(context.Background(), []models.Segment{models.NewSegment(models.RoleUser, "hello")})
	if got != "from fallback" {
		t.Fatalf("expected reply from fallback model, got %q", got)
	}
	if len(*seen) != 2 || (*seen)[1].Model != "llama-3.3-70b-versatile" {
		t.Fatalf("expected a retry against the fallback model, got %+v", *seen)
	}
}

func TestOpenAICompleter_EmptyChoicesIsUnknown(t *testing.T) {
	srv, _ := newOpenAIServer(t, func(chatRequest) (int, string) {
		return http.StatusOK, `{"id":"x","object":"chat.completion","choices":[]}`
	})
	c, _ := New(testConfig(srv.URL), zap.NewNop())
	got := c.Complete(context.Background(), nil)
	if got != Fallback(Unknown, "Groq", "") {
		t.Fatalf("unexpected reply %q", got)
	}
}

func TestOpenAICompleter_MissingKeyShortCircuits(t *testing.T) {
	srv, seen := newOpenAIServer(t, func(chatRequest) (int, string) {
		return http.StatusOK, okBody("should not be called")
	})
	cfg := testConfig(srv.URL)
	cfg.APIKey = ""
	c, _ := New(cfg, zap.NewNop())
	got := c.Complete(context.Background(), []models.Segment{models.NewSegment(models.RoleUser, "hi")})
	if !strings.Contains(got, "API key") {
		t.Fatalf("expected credential message, got %q", got)
	}
	if len(*seen) != 0 {
		t.Fatalf("provider should not be called without a key")
	}
}

func TestOpenAICompleter_TimeoutIsUnknown(t *testing.T) {
	srv, _ := newOpenAIServer(t, func(chatRequest) (int, string) {
		time.Sleep(200 * time.Millisecond)
		return http.StatusOK, okBody("late")
	})
	cfg := testConfig(srv.URL)
	cfg.Timeout = 20 * time.Millisecond
	c, _ := New(cfg, zap.NewNop())
	got := c.Complete(context.Background(), []models.Segment{models.NewSegment(models.RoleUser, "hi")})
	if got != Fallback(Unknown, "Groq", cfg.FallbackModel) {
		t.Fatalf("expected generic fallback on timeout, got %q", got)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		status int
		msg    string
		want   Category
	}{
		{429, "slow down", RateLimited},
		{401, "bad key", Unauthorized},
		{0, "status 401 returned", Unauthorized},
		{400, "model has been decommissioned", ModelUnavailable},
		{404, "model: claude-2 not found", ModelUnavailable},
		{500, "boom", Unknown},
		{0, "context deadline exceeded", Unknown},
	}
	for _, tt := range tests {
		if got := Classify(tt.status, tt.msg); got != tt.want {
			t.Errorf("Classify(%d, %q) = %s, want %s", tt.status, tt.msg, got, tt.want)
		}
	}
}

func TestFallbackNamesModel(t *testing.T) {
	msg := Fallback(ModelUnavailable, "Groq", "llama-3.3-70b-versatile")
	if !strings.Contains(msg, "llama-3.3-70b-versatile") {
		t.Fatalf("fallback message does not name the model: %q", msg)
	}
}

func TestNewDefaultsFallbackModel(t *testing.T) {
	tests := []struct {
		provider string
		want     string
	}{
		{"groq", DefaultGroqFallbackModel},
		{"", DefaultGroqFallbackModel},
		{"openai", DefaultOpenAIFallbackModel},
		{"anthropic", DefaultAnthropicFallbackModel},
	}
	for _, tt := range tests {
		c, err := New(Config{Provider: tt.provider}, zap.NewNop())
		if err != nil {
			t.Fatalf("New(%q): %v", tt.provider, err)
		}
		var got string
		switch c := c.(type) {
		case *OpenAICompleter:
			got = c.fallbackModel
		case *AnthropicCompleter:
			got = c.fallbackModel
		default:
			t.Fatalf("New(%q) returned %T", tt.provider, c)
		}
		if got != tt.want {
			t.Errorf("New(%q) fallback model = %q, want %q", tt.provider, got, tt.want)
		}
	}

	c, err := New(Config{Provider: "groq", FallbackModel: "custom-model"}, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := c.(*OpenAICompleter).fallbackModel; got != "custom-model" {
		t.Errorf("configured fallback model overridden: %q", got)
	}
}

func TestMaskKey(t *testing.T) {
	if got := MaskKey("gsk_1234567890abcdef"); got != "gsk_12...abcdef" {
		t.Fatalf("unexpected mask %q", got)
	}
	if got := MaskKey("short"); got != "*****" {
		t.Fatalf("unexpected mask %q", got)
	}
}
