package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestPlaceholder_DimensionsAndRange(t *testing.T) {
	e := NewPlaceholder(768)
	for _, text := range []string{"hello", "", "   "} {
		vec, err := e.Embed(context.Background(), text)
		if err != nil {
			t.Fatalf("Embed(%q): %v", text, err)
		}
		if len(vec) != 768 {
			t.Fatalf("expected 768 dimensions, got %d", len(vec))
		}
		for i, v := range vec {
			if v < 0 || v >= 1 {
				t.Fatalf("value %d out of unit interval: %f", i, v)
			}
		}
	}
}

func TestHashed_Deterministic(t *testing.T) {
	e := NewHashed(64)
	a, _ := e.Embed(context.Background(), "same text")
	b, _ := e.Embed(context.Background(), "same text")
	c, _ := e.Embed(context.Background(), "other text")
	if len(a) != 64 {
		t.Fatalf("expected 64 dimensions, got %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same text produced different vectors at %d", i)
		}
	}
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("different texts produced identical vectors")
	}
}

func TestOpenAI_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req struct {
			Dimensions int `json:"dimensions"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		vec := make([]float32, req.Dimensions)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   []map[string]any{{"object": "embedding", "index": 0, "embedding": vec}},
		})
	}))
	defer srv.Close()

	e, err := New(Config{Provider: "openai", APIKey: "key", BaseURL: srv.URL, Dimensions: 8}, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	vec, err := e.Embed(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 8 {
		t.Fatalf("expected 8 dimensions, got %d", len(vec))
	}
}

func TestOpenAI_ErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"upstream down","type":"server_error"}}`))
	}))
	defer srv.Close()

	e, err := NewOpenAI(Config{APIKey: "key", BaseURL: srv.URL, Dimensions: 8})
	if err != nil {
		t.Fatalf("NewOpenAI: %v", err)
	}
	if _, err := e.Embed(context.Background(), "hi"); err == nil {
		t.Fatal("expected error from failing provider")
	}
}

func TestNew_UnknownProvider(t *testing.T) {
	if _, err := New(Config{Provider: "nope"}, zap.NewNop()); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
