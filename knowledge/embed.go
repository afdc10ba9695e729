package knowledge

import (
	"context"
	"errors"
)

// ErrEmptyInput is returned when an embedder is asked to embed nothing.
var ErrEmptyInput = errors.New("knowledge: empty input")

// Embedder turns text into fixed-length vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension is the length of every returned vector.
	Dimension() int
	// Model identifies the embedding space; vectors from different models
	// are not comparable.
	Model() string
}

func float64sToFloat32s(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
