package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/xaenox/nova/internal/auth"
	"github.com/xaenox/nova/internal/chat"
	"github.com/xaenox/nova/internal/embedding"
	"github.com/xaenox/nova/internal/memory"
	"github.com/xaenox/nova/internal/models"
	"github.com/xaenox/nova/internal/pipeline"
	"github.com/xaenox/nova/internal/storage"
	"go.uber.org/zap"
)

type staticCompleter struct{ reply string }

func (c staticCompleter) Complete(ctx context.Context, segments []models.Segment) string {
	return c.reply
}

type testServer struct {
	*httptest.Server
	store *storage.MemoryStorage
	auth  *auth.Authenticator
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := storage.NewMemoryStorage()
	mem, err := memory.NewChromemStore("", zap.NewNop())
	if err != nil {
		t.Fatalf("NewChromemStore: %v", err)
	}
	authn, _ := auth.New("test-secret")
	turns := pipeline.New(store, embedding.NewHashed(8), mem, staticCompleter{reply: "Hey! I'm Nova."}, zap.NewNop())
	srv := New(Config{Port: 3001}, chat.NewService(store, mem, zap.NewNop()), turns, authn, zap.NewNop())

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, store: store, auth: authn}
}

func (ts *testServer) do(t *testing.T, method, path, userID, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		token, _ := ts.auth.Issue(userID, time.Hour)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	raw := json.NewDecoder(resp.Body)
	var generic any
	if err := raw.Decode(&generic); err == nil {
		if m, ok := generic.(map[string]any); ok {
			out = m
		} else {
			out = map[string]any{"_list": generic}
		}
	}
	return resp, out
}

func TestRequiresAuth(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodGet, "/api/chats", "", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if body["message"] != "Unauthorized: No token provided" {
		t.Errorf("message = %v", body["message"])
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/chats", nil)
	req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: "bogus"})
	cookieResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	cookieResp.Body.Close()
	if cookieResp.StatusCode != http.StatusUnauthorized {
		t.Errorf("invalid cookie status = %d", cookieResp.StatusCode)
	}
}

func TestChatLifecycle(t *testing.T) {
	ts := newTestServer(t)

	resp, created := ts.do(t, http.MethodPost, "/api/chats", "u1", `{"title":"Ideas"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	chatID, _ := created["_id"].(string)
	if chatID == "" || created["title"] != "Ideas" || created["user"] != "u1" {
		t.Fatalf("unexpected create payload: %v", created)
	}

	resp, body := ts.do(t, http.MethodPost, "/api/chats", "u1", `{"title":""}`)
	if resp.StatusCode != http.StatusBadRequest || body["message"] != "Title is required" {
		t.Errorf("empty title: %d %v", resp.StatusCode, body)
	}

	resp, body = ts.do(t, http.MethodGet, "/api/chats", "u1", "")
	list, _ := body["_list"].([]any)
	if resp.StatusCode != http.StatusOK || len(list) != 1 {
		t.Fatalf("list: %d %v", resp.StatusCode, body)
	}

	resp, body = ts.do(t, http.MethodPut, "/api/chats/"+chatID, "u1", `{"title":"Renamed"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rename status = %d", resp.StatusCode)
	}
	if renamed, _ := body["chat"].(map[string]any); renamed["title"] != "Renamed" {
		t.Errorf("rename payload: %v", body)
	}

	resp, _ = ts.do(t, http.MethodPut, "/api/chats/"+chatID, "u2", `{"title":"Mine now"}`)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("foreign rename status = %d, want 403", resp.StatusCode)
	}

	resp, _ = ts.do(t, http.MethodDelete, "/api/chats/missing", "u1", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing delete status = %d, want 404", resp.StatusCode)
	}

	resp, body = ts.do(t, http.MethodDelete, "/api/chats/"+chatID, "u1", "")
	if resp.StatusCode != http.StatusOK || body["message"] != "Chat deleted successfully" {
		t.Fatalf("delete: %d %v", resp.StatusCode, body)
	}

	resp, _ = ts.do(t, http.MethodGet, "/api/chats/"+chatID+"/messages", "u1", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("messages of deleted chat status = %d", resp.StatusCode)
	}
}

func TestSendMessage(t *testing.T) {
	ts := newTestServer(t)
	c, _ := ts.store.CreateChat(context.Background(), "u1", "Chat")

	resp, body := ts.do(t, http.MethodPost, "/api/chats/"+c.ID+"/messages", "u1", `{"content":"hello"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body = %v", resp.StatusCode, body)
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	first := msgs[0].(map[string]any)
	second := msgs[1].(map[string]any)
	if first["role"] != "user" || first["content"] != "hello" {
		t.Errorf("unexpected first message: %v", first)
	}
	if second["role"] != "assistant" || second["content"] != "Hey! I'm Nova." {
		t.Errorf("unexpected second message: %v", second)
	}
	if second["timestamp"] == nil || second["_id"] == "" {
		t.Errorf("missing fields: %v", second)
	}

	resp, body = ts.do(t, http.MethodGet, "/api/chats/"+c.ID+"/messages", "u1", "")
	if got, _ := body["messages"].([]any); resp.StatusCode != http.StatusOK || len(got) != 2 {
		t.Errorf("get messages: %d %v", resp.StatusCode, body)
	}
}

func TestSendMessageValidation(t *testing.T) {
	ts := newTestServer(t)
	c, _ := ts.store.CreateChat(context.Background(), "u1", "Chat")

	resp, body := ts.do(t, http.MethodPost, "/api/chats/"+c.ID+"/messages", "u1", `{"content":""}`)
	if resp.StatusCode != http.StatusBadRequest || body["message"] != "Chat ID and message content required" {
		t.Errorf("empty content: %d %v", resp.StatusCode, body)
	}

	resp, _ = ts.do(t, http.MethodPost, "/api/chats/"+c.ID+"/messages", "intruder", `{"content":"hi"}`)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("foreign send status = %d", resp.StatusCode)
	}

	resp, body = ts.do(t, http.MethodGet, "/api/chats/undefined/messages", "u1", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("undefined chat status = %d", resp.StatusCode)
	}
	if msgs, ok := body["messages"].([]any); !ok || len(msgs) != 0 {
		t.Errorf("expected empty messages array, got %v", body)
	}
}

func TestHealthAndCORS(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodGet, "/health", "", "")
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Errorf("health: %d %v", resp.StatusCode, body)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("allow origin = %q", got)
	}

	resp, body = ts.do(t, http.MethodGet, "/diag", "", "")
	if resp.StatusCode != http.StatusOK || body["backend"] != "ok" {
		t.Errorf("diag: %d %v", resp.StatusCode, body)
	}

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/chats", nil)
	preflight, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	preflight.Body.Close()
	if preflight.StatusCode != http.StatusNoContent {
		t.Errorf("preflight status = %d", preflight.StatusCode)
	}
}
