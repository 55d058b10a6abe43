package evaluation

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/JugalBoro/kloth.me/internal/domain"
)

// GenerateBenchmark derives a benchmark query set plus matching ground
// truth from the product catalog. The same seed over the same catalog
// yields byte-identical queries, so benchmark files are reproducible.
//
// Types are assigned round-robin (text, image, combined); each query
// targets one sampled product whose description and image seed the query
// and whose id is the single primary positive.
func GenerateBenchmark(products []domain.Product, numQueries int, seed int64) (Benchmark, GroundTruth, error) {
	if len(products) == 0 {
		return Benchmark{}, nil, fmt.Errorf("no products to sample: %w", domain.ErrInvalidInput)
	}
	if numQueries <= 0 {
		numQueries = len(products)
	}

	rng := rand.New(rand.NewSource(seed))
	types := []string{TypeText, TypeImage, TypeCombined}

	bench := Benchmark{
		Metadata: BenchmarkMetadata{
			NumQueries:  numQueries,
			Seed:        seed,
			GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		},
		Queries: make([]BenchmarkQuery, 0, numQueries),
	}
	truth := make(GroundTruth, numQueries)

	for i := 0; i < numQueries; i++ {
		p := products[rng.Intn(len(products))]
		typ := types[i%len(types)]

		q := BenchmarkQuery{
			QueryID:            fmt.Sprintf("q%04d", i),
			Type:               typ,
			ExpectedProductIDs: []string{p.ProductID},
			Category:           p.Categories["category"],
		}
		if typ == TypeText || typ == TypeCombined {
			q.QueryText = p.Description
		}
		if typ == TypeImage || typ == TypeCombined {
			q.QueryImagePath = p.ImagePath
		}

		bench.Queries = append(bench.Queries, q)
		truth[q.QueryID] = GroundTruthEntry{
			PrimaryPositives: []string{p.ProductID},
			Type:             typ,
		}
	}
	return bench, truth, nil
}
