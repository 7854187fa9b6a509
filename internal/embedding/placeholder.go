package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand/v2"
)

// Placeholder produces unit-interval noise. Similarity search over these
// vectors is meaningless, but the memory store contract stays the same.
type Placeholder struct {
	dimensions int
}

func NewPlaceholder(dimensions int) *Placeholder {
	return &Placeholder{dimensions: dimensions}
}

func (p *Placeholder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, p.dimensions)
	for i := range vec {
		vec[i] = rand.Float32()
	}
	return vec, nil
}

func (p *Placeholder) Dimensions() int { return p.dimensions }

// Hashed generates deterministic embeddings seeded by the text's hash, so the
// same text always maps to the same unit vector.
type Hashed struct {
	dimensions int
}

func NewHashed(dimensions int) *Hashed {
	return &Hashed{dimensions: dimensions}
}

func (h *Hashed) Embed(ctx context.Context, text string) ([]float32, error) {
	f := fnv.New64a()
	f.Write([]byte(text))
	seed := f.Sum64()

	vec := make([]float32, h.dimensions)
	for i := range vec {
		// LCG step, mapped to [-1, 1]
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return normalize(vec), nil
}

func (h *Hashed) Dimensions() int { return h.dimensions }

func normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
