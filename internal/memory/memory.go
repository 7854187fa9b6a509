// Package memory stores message embeddings in a vector index and recalls
// semantically related past messages ("long-term memory").
//
// Records share their identity with the source message, so re-indexing a
// message overwrites its record instead of duplicating it. Recall is always
// scoped server-side by the metadata in Scope; an empty Scope searches every
// user's memories.
package memory

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Metadata is the provenance stored alongside each vector.
type Metadata struct {
	UserID string `json:"userId"`
	ChatID string `json:"chatId"`
	Text   string `json:"text"`
}

// Record is a single vector index entry.
type Record struct {
	ID       string
	Vector   []float32
	Metadata Metadata
}

// Scope restricts recall to matching metadata. Empty fields match anything.
type Scope struct {
	UserID string
	ChatID string
}

type Store interface {
	// Remember upserts rec keyed by rec.ID.
	Remember(ctx context.Context, rec Record) error
	// Recall returns up to limit records most similar to vector, best first.
	Recall(ctx context.Context, vector []float32, limit int, scope Scope) ([]Metadata, error)
	// ForgetChat removes every record that belongs to chatID.
	ForgetChat(ctx context.Context, chatID string) error
	Close() error
}

type Config struct {
	Backend     string
	Collection  string
	Dimensions  int
	PersistPath string
	Qdrant      QdrantConfig
}

func New(ctx context.Context, cfg Config, logger *zap.Logger) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "chromem":
		return NewChromemStore(cfg.PersistPath, logger)
	case "qdrant":
		q := cfg.Qdrant
		if q.Collection == "" {
			q.Collection = cfg.Collection
		}
		store := NewQdrantStore(q, logger)
		if err := store.Init(ctx, cfg.Dimensions); err != nil {
			return nil, fmt.Errorf("init qdrant collection: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported memory backend: %s", cfg.Backend)
	}
}
