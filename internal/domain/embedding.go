package domain

import (
	"context"
	"math"
)

// TextEmbedder vectorizes a text query.
type TextEmbedder interface {
	EmbedText(ctx context.Context, text string) (EmbeddingResult, error)
}

// ImageEmbedder vectorizes raw image bytes.
type ImageEmbedder interface {
	EmbedImage(ctx context.Context, image []byte) (EmbeddingResult, error)
}

// BatchTextEmbedder vectorizes multiple texts in a single provider call.
type BatchTextEmbedder interface {
	BatchEmbedTexts(ctx context.Context, texts []string) (BatchEmbeddingResult, error)
}

// EmbeddingResult carries the embedding vector and token usage.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}

// BatchEmbeddingResult carries multiple embedding vectors and aggregate usage.
type BatchEmbeddingResult struct {
	Embeddings   [][]float32
	PromptTokens int
	TotalTokens  int
}

// SanitizeVector replaces non-finite components with zero in place and
// returns how many were replaced. Providers must return finite values; when
// one does not, the request proceeds on the sanitized vector instead of
// failing.
func SanitizeVector(v []float32) int {
	fixed := 0
	for i, f := range v {
		f64 := float64(f)
		if math.IsNaN(f64) || math.IsInf(f64, 0) {
			v[i] = 0
			fixed++
		}
	}
	return fixed
}
