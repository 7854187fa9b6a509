package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

// QdrantStore is a small REST client to Qdrant using cosine distance.
type QdrantStore struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client
	logger     *zap.Logger
}

func NewQdrantStore(cfg QdrantConfig, logger *zap.Logger) *QdrantStore {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collection := cfg.Collection
	if collection == "" {
		collection = "nova"
	}
	return &QdrantStore{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: collection,
		client:     &http.Client{Timeout: timeout},
		logger:     logger.Named("qdrant"),
	}
}

// Init creates the collection if it does not exist yet.
func (s *QdrantStore) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	err := s.do(ctx, http.MethodPut, s.collectionURL(""), body, nil)
	var statusErr *qdrantStatusError
	if errors.As(err, &statusErr) && statusErr.code == http.StatusConflict {
		s.logger.Debug("Collection already exists", zap.String("collection", s.collection))
		return nil
	}
	return err
}

// pointID maps a record id to the UUID form Qdrant requires.
func pointID(id string) string {
	if parsed, err := uuid.Parse(id); err == nil {
		return parsed.String()
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(id)).String()
}

func (s *QdrantStore) Remember(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return errors.New("memory record id is required")
	}
	body := map[string]any{
		"points": []map[string]any{{
			"id":     pointID(rec.ID),
			"vector": rec.Vector,
			"payload": map[string]any{
				"record_id": rec.ID,
				metaUserID:  rec.Metadata.UserID,
				metaChatID:  rec.Metadata.ChatID,
				"text":      rec.Metadata.Text,
			},
		}},
	}
	return s.do(ctx, http.MethodPut, s.collectionURL("/points?wait=true"), body, nil)
}

type matchCondition struct {
	Key   string         `json:"key"`
	Match map[string]any `json:"match"`
}

func scopeFilter(scope Scope) map[string]any {
	var must []matchCondition
	if scope.UserID != "" {
		must = append(must, matchCondition{Key: metaUserID, Match: map[string]any{"value": scope.UserID}})
	}
	if scope.ChatID != "" {
		must = append(must, matchCondition{Key: metaChatID, Match: map[string]any{"value": scope.ChatID}})
	}
	if len(must) == 0 {
		return nil
	}
	return map[string]any{"must": must}
}

func (s *QdrantStore) Recall(ctx context.Context, vector []float32, limit int, scope Scope) ([]Metadata, error) {
	if limit <= 0 {
		return nil, nil
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	if filter := scopeFilter(scope); filter != nil {
		req["filter"] = filter
	}

	var resp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionURL("/points/search"), req, &resp); err != nil {
		return nil, err
	}

	out := make([]Metadata, 0, len(resp.Result))
	for _, r := range resp.Result {
		var meta Metadata
		if v, ok := r.Payload[metaUserID].(string); ok {
			meta.UserID = v
		}
		if v, ok := r.Payload[metaChatID].(string); ok {
			meta.ChatID = v
		}
		if v, ok := r.Payload["text"].(string); ok {
			meta.Text = v
		}
		out = append(out, meta)
	}
	return out, nil
}

func (s *QdrantStore) ForgetChat(ctx context.Context, chatID string) error {
	body := map[string]any{"filter": scopeFilter(Scope{ChatID: chatID})}
	return s.do(ctx, http.MethodPost, s.collectionURL("/points/delete?wait=true"), body, nil)
}

func (s *QdrantStore) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *QdrantStore) collectionURL(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", s.url, s.collection, suffix)
}

type qdrantStatusError struct {
	method string
	url    string
	code   int
	status string
	body   string
}

func (e *qdrantStatusError) Error() string {
	return fmt.Sprintf("qdrant %s %s failed: %s %s", e.method, e.url, e.status, e.body)
}

func (s *QdrantStore) do(ctx context.Context, method, url string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal qdrant request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &qdrantStatusError{
			method: method,
			url:    url,
			code:   resp.StatusCode,
			status: resp.Status,
			body:   strings.TrimSpace(string(msg)),
		}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
