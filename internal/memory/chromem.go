package memory

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

const (
	metaUserID = "user_id"
	metaChatID = "chat_id"
)

// ChromemStore keeps one chromem collection per user for namespace isolation.
type ChromemStore struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection
	mu          sync.RWMutex
	logger      *zap.Logger
}

// NewChromemStore opens an embedded index, persisted under path when it is set.
func NewChromemStore(path string, logger *zap.Logger) (*ChromemStore, error) {
	db := chromem.NewDB()
	if path != "" {
		var err error
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("open chromem db: %w", err)
		}
	}
	s := &ChromemStore{
		db:          db,
		collections: make(map[string]*chromem.Collection),
		logger:      logger.Named("chromem"),
	}
	// Reattach collections restored from disk.
	for name, col := range db.ListCollections() {
		if userID, ok := userFromCollection(name); ok {
			s.collections[userID] = col
		}
	}
	return s, nil
}

func collectionName(userID string) string {
	if userID == "" {
		return "global"
	}
	// hex keeps arbitrary ids safe as collection (and directory) names
	return "user_" + hex.EncodeToString([]byte(userID))
}

func userFromCollection(name string) (string, bool) {
	if name == "global" {
		return "", true
	}
	if len(name) < 5 || name[:5] != "user_" {
		return "", false
	}
	raw, err := hex.DecodeString(name[5:])
	if err != nil {
		return "", false
	}
	return string(raw), true
}

func (s *ChromemStore) collection(userID string) (*chromem.Collection, error) {
	s.mu.RLock()
	col, exists := s.collections[userID]
	s.mu.RUnlock()
	if exists {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if col, exists := s.collections[userID]; exists {
		return col, nil
	}
	// Embeddings are always supplied, so no embedding func.
	col, err := s.db.GetOrCreateCollection(collectionName(userID), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	s.collections[userID] = col
	return col, nil
}

func (s *ChromemStore) Remember(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("memory record id is required")
	}
	col, err := s.collection(rec.Metadata.UserID)
	if err != nil {
		return err
	}
	vec := make([]float32, len(rec.Vector))
	copy(vec, rec.Vector)

	doc := chromem.Document{
		ID:        rec.ID,
		Content:   rec.Metadata.Text,
		Embedding: vec,
		Metadata: map[string]string{
			metaUserID: rec.Metadata.UserID,
			metaChatID: rec.Metadata.ChatID,
		},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	s.logger.Debug("Stored memory",
		zap.String("id", rec.ID),
		zap.String("chat_id", rec.Metadata.ChatID))
	return nil
}

type scored struct {
	meta       Metadata
	similarity float32
}

func (s *ChromemStore) Recall(ctx context.Context, vector []float32, limit int, scope Scope) ([]Metadata, error) {
	if limit <= 0 {
		return nil, nil
	}

	// Held across Count and QueryEmbedding so ForgetChat cannot shrink a
	// collection between the two.
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cols []*chromem.Collection
	if scope.UserID != "" {
		col, exists := s.collections[scope.UserID]
		if !exists {
			return []Metadata{}, nil
		}
		cols = append(cols, col)
	} else {
		for _, col := range s.collections {
			cols = append(cols, col)
		}
	}

	var where map[string]string
	if scope.ChatID != "" {
		where = map[string]string{metaChatID: scope.ChatID}
	}

	var hits []scored
	for _, col := range cols {
		n := limit
		// chromem rejects nResults larger than the collection
		if count := col.Count(); count < n {
			n = count
		}
		if n == 0 {
			continue
		}
		results, err := col.QueryEmbedding(ctx, vector, n, where, nil)
		if err != nil {
			return nil, fmt.Errorf("chromem query: %w", err)
		}
		for _, r := range results {
			hits = append(hits, scored{
				meta: Metadata{
					UserID: r.Metadata[metaUserID],
					ChatID: r.Metadata[metaChatID],
					Text:   r.Content,
				},
				similarity: r.Similarity,
			})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].similarity > hits[j].similarity })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]Metadata, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.meta)
	}
	return out, nil
}

func (s *ChromemStore) ForgetChat(ctx context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, col := range s.collections {
		if err := col.Delete(ctx, map[string]string{metaChatID: chatID}, nil); err != nil {
			return fmt.Errorf("delete chat memories: %w", err)
		}
	}
	return nil
}

// Count returns the number of records stored for userID.
func (s *ChromemStore) Count(userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if col, exists := s.collections[userID]; exists {
		return col.Count()
	}
	return 0
}

func (s *ChromemStore) Close() error {
	// chromem-go writes through on every change, nothing to flush
	return nil
}
