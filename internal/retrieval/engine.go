package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JugalBoro/kloth.me/internal/domain"
	"github.com/JugalBoro/kloth.me/internal/logger"
	"github.com/JugalBoro/kloth.me/internal/metrics"
)

// Options holds retrieval tuning knobs.
type Options struct {
	// ScoreThreshold is the minimum similarity a vector-index hit must meet.
	ScoreThreshold float32
	// FilterOverfetchFactor multiplies the index limit when attribute filters
	// are present, to compensate for post-filter attrition.
	FilterOverfetchFactor int
}

// DefaultOptions returns the standard retrieval settings.
func DefaultOptions() Options {
	return Options{ScoreThreshold: 0.70, FilterOverfetchFactor: 5}
}

// Engine executes per-modality similarity search, deduplicates hits per
// product, fuses cross-modal scores and enriches hits with product records.
type Engine struct {
	index    VectorIndex
	products ProductStore
	text     domain.TextEmbedder
	image    domain.ImageEmbedder
	opts     Options
}

// New creates a retrieval engine with default options.
func New(index VectorIndex, products ProductStore, text domain.TextEmbedder, image domain.ImageEmbedder) *Engine {
	return &Engine{index: index, products: products, text: text, image: image, opts: DefaultOptions()}
}

// WithOptions overrides the retrieval options.
func (e *Engine) WithOptions(opts Options) *Engine {
	if opts.ScoreThreshold > 0 {
		e.opts.ScoreThreshold = opts.ScoreThreshold
	}
	if opts.FilterOverfetchFactor > 0 {
		e.opts.FilterOverfetchFactor = opts.FilterOverfetchFactor
	}
	return e
}

// SearchByText runs one index query per refined query string and merges the
// hits per product by maximum score: a product matching several paraphrases
// is surfaced by its best match, never boosted by a sum.
//
// Blank queries are dropped before execution; when none survive the call
// returns an empty list without contacting any external service. A failure
// in any sub-query aborts the whole call.
func (e *Engine) SearchByText(
	ctx context.Context, queries []string, topK int, filters domain.FilterSet,
) (results []domain.RankedResult, err error) {
	defer e.observe("text", time.Now(), &err)

	valid := make([]string, 0, len(queries))
	for _, q := range queries {
		if strings.TrimSpace(q) != "" {
			valid = append(valid, q)
		}
	}
	if len(valid) == 0 {
		return []domain.RankedResult{}, nil
	}

	limit := e.searchLimit(topK, filters)

	// Sub-queries are independent; fan out and fan in by max score. Merge
	// order does not matter because max is commutative and associative.
	var mu sync.Mutex
	best := make(map[string]float64)

	g, gctx := errgroup.WithContext(ctx)
	for _, q := range valid {
		g.Go(func() error {
			emb, err := e.text.EmbedText(gctx, q)
			if err != nil {
				return fmt.Errorf("embed query: %w", err)
			}
			hits, err := e.index.Query(gctx, emb.Embedding, domain.ModalityText, limit, e.opts.ScoreThreshold)
			if err != nil {
				return fmt.Errorf("query text index: %w", err)
			}

			mu.Lock()
			for _, h := range hits {
				if s, ok := best[h.ProductID]; !ok || h.Score > s {
					best[h.ProductID] = h.Score
				}
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	enriched, err := e.enrich(ctx, rankScores(best))
	if err != nil {
		return nil, err
	}
	if !filters.IsEmpty() {
		enriched = applyFilters(enriched, filters)
	}
	return truncate(enriched, topK), nil
}

// SearchByImage encodes the image once and issues a single index query
// restricted to the image modality. Enrichment, filtering and truncation
// follow the text path.
func (e *Engine) SearchByImage(
	ctx context.Context, image []byte, topK int, filters domain.FilterSet,
) (results []domain.RankedResult, err error) {
	defer e.observe("image", time.Now(), &err)

	if len(image) == 0 {
		return nil, domain.ErrInvalidInput
	}

	emb, err := e.image.EmbedImage(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("embed image: %w", err)
	}

	limit := e.searchLimit(topK, filters)
	hits, err := e.index.Query(ctx, emb.Embedding, domain.ModalityImage, limit, e.opts.ScoreThreshold)
	if err != nil {
		return nil, fmt.Errorf("query image index: %w", err)
	}

	best := make(map[string]float64, len(hits))
	for _, h := range hits {
		if s, ok := best[h.ProductID]; !ok || h.Score > s {
			best[h.ProductID] = h.Score
		}
	}

	enriched, err := e.enrich(ctx, rankScores(best))
	if err != nil {
		return nil, err
	}
	if !filters.IsEmpty() {
		enriched = applyFilters(enriched, filters)
	}
	return truncate(enriched, topK), nil
}

// MergeResults fuses text and image rankings with a weighted linear sum:
// textWeight*textScore + (1-textWeight)*imageScore, an absent modality
// scoring 0. A product found by only one modality is therefore penalized by
// the missing term rather than scored on its single-modality similarity
// alone; renormalizing over present modalities would change ranking
// semantics and is deliberately not done here. No truncation is applied;
// callers cut to their own top-k.
func (e *Engine) MergeResults(
	ctx context.Context, textResults, imageResults []domain.RankedResult, textWeight float64,
) (results []domain.RankedResult, err error) {
	defer e.observe("merge", time.Now(), &err)

	if len(textResults) == 0 && len(imageResults) == 0 {
		return []domain.RankedResult{}, nil
	}

	imageWeight := 1.0 - textWeight

	fused := make(map[string]float64, len(textResults)+len(imageResults))
	for _, r := range textResults {
		fused[r.ProductID] += textWeight * r.Score
	}
	for _, r := range imageResults {
		fused[r.ProductID] += imageWeight * r.Score
	}

	return e.enrich(ctx, rankScores(fused))
}

// searchLimit over-fetches candidates when attribute filters will prune the
// window afterwards.
func (e *Engine) searchLimit(topK int, filters domain.FilterSet) int {
	if filters.IsEmpty() {
		return topK
	}
	return topK * e.opts.FilterOverfetchFactor
}

type scoredID struct {
	id    string
	score float64
}

// rankScores orders product ids by score descending; ties break on
// product_id ascending so output is reproducible.
func rankScores(scores map[string]float64) []scoredID {
	ranked := make([]scoredID, 0, len(scores))
	for id, s := range scores {
		ranked = append(ranked, scoredID{id: id, score: s})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].id < ranked[j].id
	})
	return ranked
}

// enrich resolves ranked ids against the product store, preserving score
// order. Hits whose product is missing are dropped: index/store drift is
// eventual-consistency noise, not an error.
func (e *Engine) enrich(ctx context.Context, ranked []scoredID) ([]domain.RankedResult, error) {
	if len(ranked) == 0 {
		return []domain.RankedResult{}, nil
	}

	ids := make([]string, len(ranked))
	for i, r := range ranked {
		ids[i] = r.id
	}

	products, err := e.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch products: %w", err)
	}

	byID := make(map[string]domain.Product, len(products))
	for _, p := range products {
		byID[p.ProductID] = p
	}

	out := make([]domain.RankedResult, 0, len(ranked))
	for _, r := range ranked {
		p, ok := byID[r.id]
		if !ok {
			continue
		}
		out = append(out, domain.RankedResult{
			ProductID:   p.ProductID,
			Description: p.Description,
			ImagePath:   p.ImagePath,
			Score:       r.score,
			Categories:  p.Categories,
		})
	}

	if dropped := len(ranked) - len(out); dropped > 0 {
		logger.FromContext(ctx).Debug("dropped unresolved hits",
			zap.Int("dropped", dropped),
			zap.Int("resolved", len(out)),
		)
	}
	return out, nil
}

func truncate(results []domain.RankedResult, topK int) []domain.RankedResult {
	if len(results) > topK {
		return results[:topK]
	}
	return results
}

func (e *Engine) observe(mode string, start time.Time, err *error) {
	status := "success"
	if *err != nil {
		status = "error"
	}
	metrics.SearchRequestsTotal.WithLabelValues(mode, status).Inc()
	metrics.SearchDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
}
