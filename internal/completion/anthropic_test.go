package completion

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/xaenox/nova/internal/models"
	"go.uber.org/zap"
)

func newAnthropicServer(t *testing.T, status int, body string, capture *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if capture != nil {
			json.NewDecoder(r.Body).Decode(capture)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func anthropicConfig(baseURL string) Config {
	return Config{
		Provider:      "anthropic",
		APIKey:        "sk-ant-test",
		BaseURL:       baseURL,
		Model:         "claude-3-5-haiku-latest",
		FallbackModel: "claude-3-5-haiku-latest",
		MaxTokens:     256,
		Temperature:   0.7,
		Timeout:       5 * time.Second,
	}
}

func TestAnthropicCompleter_Success(t *testing.T) {
	var req map[string]any
	srv := newAnthropicServer(t, http.StatusOK, `{
		"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-3-5-haiku-latest",
		"content": [{"type": "text", "text": "Hello from Claude"}],
		"stop_reason": "end_turn", "usage": {"input_tokens": 3, "output_tokens": 4}
	}`, &req)

	c, err := New(anthropicConfig(srv.URL), zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := c.Complete(context.Background(), []models.Segment{
		models.NewSegment(models.RoleSystem, "memories"),
		models.NewSegment(models.RoleModel, "earlier reply"),
		models.NewSegment(models.RoleUser, "hello"),
	})
	if got != "Hello from Claude" {
		t.Fatalf("unexpected reply %q", got)
	}

	system, _ := req["system"].([]any)
	if len(system) != 2 {
		t.Fatalf("expected preamble and memory system blocks, got %d", len(system))
	}
	messages, _ := req["messages"].([]any)
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
	first, _ := messages[0].(map[string]any)
	if first["role"] != "user" {
		t.Fatalf("conversation must open with a user turn, got %v", first["role"])
	}
}

func TestAnthropicCompleter_FailureFallbacks(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   Category
	}{
		{"rate limited", http.StatusTooManyRequests, `{"type":"error","error":{"type":"rate_limit_error","message":"Number of requests has exceeded your rate limit"}}`, RateLimited},
		{"unauthorized", http.StatusUnauthorized, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`, Unauthorized},
		{"model missing", http.StatusNotFound, `{"type":"error","error":{"type":"not_found_error","message":"model: claude-1"}}`, ModelUnavailable},
		{"overloaded", http.StatusInternalServerError, `{"type":"error","error":{"type":"api_error","message":"Internal server error"}}`, Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newAnthropicServer(t, tt.status, tt.body, nil)
			cfg := anthropicConfig(srv.URL)
			c, _ := New(cfg, zap.NewNop())
			got := c.Complete(context.Background(), []models.Segment{models.NewSegment(models.RoleUser, "hi")})
			if want := Fallback(tt.want, "Anthropic", cfg.FallbackModel); got != want {
				t.Fatalf("got %q, want %q", got, want)
			}
		})
	}
}
