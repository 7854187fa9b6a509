// Package embedding turns message text into fixed-length vectors.
package embedding

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// DefaultDimensions matches the vector index the memory store is created with.
const DefaultDimensions = 768

// Embedder converts text to an embedding of a stable dimensionality.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

type Config struct {
	Provider   string
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
}

// New returns the embedder named by cfg.Provider.
func New(cfg Config, logger *zap.Logger) (Embedder, error) {
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "placeholder":
		logger.Warn("Completion provider offers no embeddings, using placeholder vectors",
			zap.Int("dimensions", cfg.Dimensions))
		return NewPlaceholder(cfg.Dimensions), nil
	case "hashed":
		return NewHashed(cfg.Dimensions), nil
	case "openai":
		return NewOpenAI(cfg)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}
