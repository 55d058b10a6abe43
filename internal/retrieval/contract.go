package retrieval

import (
	"context"

	"github.com/JugalBoro/kloth.me/internal/domain"
)

// VectorIndex is the similarity-search contract. Query returns hits for one
// modality, sorted by score descending, already cut at scoreThreshold.
type VectorIndex interface {
	Query(
		ctx context.Context, vector []float32, modality domain.Modality,
		limit int, scoreThreshold float32,
	) ([]domain.SearchHit, error)
}

// ProductStore resolves product ids to full records. Result order is not
// guaranteed to match the input order; missing ids are simply absent.
type ProductStore interface {
	GetByIDs(ctx context.Context, ids []string) ([]domain.Product, error)
}
