package domain

import "errors"

var (
	// ErrInvalidInput signals a search request with no text and no image.
	ErrInvalidInput = errors.New("no text or image input")
	// ErrEmbeddingProvider signals an embedding provider failure.
	ErrEmbeddingProvider = errors.New("embedding provider error")
	// ErrVectorIndex signals a vector index connectivity or query failure.
	ErrVectorIndex = errors.New("vector index failure")
	// ErrProductStore signals a product store connectivity or lookup failure.
	ErrProductStore = errors.New("product store failure")
	// ErrProductNotFound signals a missing product record.
	ErrProductNotFound = errors.New("product not found")
)
