package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/JugalBoro/kloth.me/internal/domain"
)

// Benchmark query types.
const (
	TypeText     = "text"
	TypeImage    = "image"
	TypeCombined = "combined"
)

// CombinedFusionWeight is the fixed text weight for combined benchmark
// queries.
const CombinedFusionWeight = 0.5

// BenchmarkMetadata describes how a benchmark file was produced.
type BenchmarkMetadata struct {
	NumQueries  int    `json:"numQueries"`
	Seed        int64  `json:"seed"`
	GeneratedAt string `json:"generatedAt"`
}

// BenchmarkQuery is one evaluation query.
type BenchmarkQuery struct {
	QueryID            string   `json:"queryId"`
	Type               string   `json:"type"`
	QueryText          string   `json:"queryText,omitempty"`
	QueryImagePath     string   `json:"queryImagePath,omitempty"`
	ExpectedProductIDs []string `json:"expectedProductIds"`
	Category           string   `json:"category,omitempty"`
}

// Benchmark is the persisted benchmark query set.
type Benchmark struct {
	Metadata BenchmarkMetadata `json:"metadata"`
	Queries  []BenchmarkQuery  `json:"queries"`
}

// GroundTruthEntry lists the authoritative relevant ids for one query.
type GroundTruthEntry struct {
	PrimaryPositives []string `json:"primaryPositives"`
	Type             string   `json:"type"`
}

// GroundTruth maps query id to its relevant set.
type GroundTruth map[string]GroundTruthEntry

// LoadBenchmark reads a benchmark query set from disk.
func LoadBenchmark(path string) (Benchmark, error) {
	var b Benchmark
	data, err := os.ReadFile(path)
	if err != nil {
		return b, fmt.Errorf("read benchmark %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &b); err != nil {
		return b, fmt.Errorf("decode benchmark %s: %w", path, err)
	}
	if len(b.Queries) == 0 {
		return b, fmt.Errorf("benchmark %s has no queries", path)
	}
	return b, nil
}

// LoadGroundTruth reads a ground-truth mapping from disk.
func LoadGroundTruth(path string) (GroundTruth, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ground truth %s: %w", path, err)
	}
	var gt GroundTruth
	if err := json.Unmarshal(data, &gt); err != nil {
		return nil, fmt.Errorf("decode ground truth %s: %w", path, err)
	}
	return gt, nil
}

// Searcher is the slice of the retrieval engine the harness drives.
type Searcher interface {
	SearchByText(ctx context.Context, queries []string, topK int, filters domain.FilterSet) ([]domain.RankedResult, error)
	SearchByImage(ctx context.Context, image []byte, topK int, filters domain.FilterSet) ([]domain.RankedResult, error)
	MergeResults(ctx context.Context, textResults, imageResults []domain.RankedResult, textWeight float64) ([]domain.RankedResult, error)
}

// PerQueryResult records one executed benchmark query.
type PerQueryResult struct {
	QueryID string   `json:"queryId"`
	Type    string   `json:"type"`
	Ranking []string `json:"ranking"`
	Error   string   `json:"error,omitempty"`
}

// Summary aggregates run counts.
type Summary struct {
	TotalQueries  int            `json:"totalQueries"`
	FailedQueries int            `json:"failedQueries"`
	ByType        map[string]int `json:"byType"`
}

// RunResult is the full output of one harness run; the same shape is
// persisted as a baseline.
type RunResult struct {
	Timestamp       string            `json:"timestamp"`
	OverallMetrics  Report            `json:"overallMetrics"`
	ByTypeMetrics   map[string]Report `json:"byTypeMetrics"`
	PerQueryResults []PerQueryResult  `json:"perQueryResults"`
	Summary         Summary           `json:"summary"`
}

// Evaluator runs a benchmark through a retrieval engine and aggregates
// metrics overall and per query type.
type Evaluator struct {
	searcher  Searcher
	logger    *zap.Logger
	topK      int
	imageRoot string
}

// NewEvaluator creates a harness. imageRoot resolves relative
// queryImagePath entries.
func NewEvaluator(searcher Searcher, logger *zap.Logger, topK int, imageRoot string) *Evaluator {
	if topK <= 0 {
		topK = domain.DefaultTopK
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{searcher: searcher, logger: logger, topK: topK, imageRoot: imageRoot}
}

// Run executes every benchmark query. A single query failure is recorded
// with its message and scored as an empty ranking; the run continues.
func (e *Evaluator) Run(ctx context.Context, bench Benchmark, truth GroundTruth) (*RunResult, error) {
	if len(bench.Queries) == 0 {
		return nil, fmt.Errorf("benchmark has no queries: %w", domain.ErrInvalidInput)
	}

	perQuery := make([]PerQueryResult, 0, len(bench.Queries))
	categories := make(map[string]string)
	failed := 0

	for _, q := range bench.Queries {
		ranking, err := e.execute(ctx, q, categories)
		pq := PerQueryResult{QueryID: q.QueryID, Type: q.Type, Ranking: ranking}
		if err != nil {
			pq.Error = err.Error()
			pq.Ranking = []string{}
			failed++
			e.logger.Warn("benchmark query failed",
				zap.String("query_id", q.QueryID),
				zap.String("type", q.Type),
				zap.Error(err),
			)
		}
		perQuery = append(perQuery, pq)
	}

	result := &RunResult{
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		OverallMetrics:  e.aggregate(bench.Queries, perQuery, truth, categories, ""),
		ByTypeMetrics:   make(map[string]Report, 3),
		PerQueryResults: perQuery,
		Summary: Summary{
			TotalQueries:  len(bench.Queries),
			FailedQueries: failed,
			ByType:        countByType(bench.Queries),
		},
	}
	for _, typ := range []string{TypeText, TypeImage, TypeCombined} {
		if result.Summary.ByType[typ] == 0 {
			continue
		}
		result.ByTypeMetrics[typ] = e.aggregate(bench.Queries, perQuery, truth, categories, typ)
	}
	return result, nil
}

// execute runs one query through the engine. Categories of returned
// products are collected for category-accuracy scoring.
func (e *Evaluator) execute(ctx context.Context, q BenchmarkQuery, categories map[string]string) ([]string, error) {
	var results []domain.RankedResult
	var err error

	switch q.Type {
	case TypeText:
		results, err = e.searcher.SearchByText(ctx, []string{q.QueryText}, e.topK, domain.FilterSet{})
	case TypeImage:
		var image []byte
		image, err = e.readImage(q.QueryImagePath)
		if err == nil {
			results, err = e.searcher.SearchByImage(ctx, image, e.topK, domain.FilterSet{})
		}
	case TypeCombined:
		results, err = e.executeCombined(ctx, q)
	default:
		err = fmt.Errorf("unknown query type %q: %w", q.Type, domain.ErrInvalidInput)
	}
	if err != nil {
		return nil, err
	}

	ranking := make([]string, 0, len(results))
	for _, r := range results {
		ranking = append(ranking, r.ProductID)
		if cat, ok := r.Categories["category"]; ok {
			categories[r.ProductID] = cat
		}
	}
	return ranking, nil
}

func (e *Evaluator) executeCombined(ctx context.Context, q BenchmarkQuery) ([]domain.RankedResult, error) {
	textResults, err := e.searcher.SearchByText(ctx, []string{q.QueryText}, e.topK, domain.FilterSet{})
	if err != nil {
		return nil, err
	}
	image, err := e.readImage(q.QueryImagePath)
	if err != nil {
		return nil, err
	}
	imageResults, err := e.searcher.SearchByImage(ctx, image, e.topK, domain.FilterSet{})
	if err != nil {
		return nil, err
	}

	merged, err := e.searcher.MergeResults(ctx, textResults, imageResults, CombinedFusionWeight)
	if err != nil {
		return nil, err
	}
	if len(merged) > e.topK {
		merged = merged[:e.topK]
	}
	return merged, nil
}

func (e *Evaluator) readImage(path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("query has no image path: %w", domain.ErrInvalidInput)
	}
	if !filepath.IsAbs(path) && e.imageRoot != "" {
		path = filepath.Join(e.imageRoot, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read query image: %w", err)
	}
	return data, nil
}

// aggregate computes a metric report over the queries of one type, or over
// all queries when typ is empty. Ground truth wins over the benchmark's
// expectedProductIds when both are present.
func (e *Evaluator) aggregate(
	queries []BenchmarkQuery, perQuery []PerQueryResult,
	truth GroundTruth, categories map[string]string, typ string,
) Report {
	var rankings [][]string
	var relevant []map[string]bool
	var expected []string

	for i, q := range queries {
		if typ != "" && q.Type != typ {
			continue
		}
		rankings = append(rankings, perQuery[i].Ranking)
		relevant = append(relevant, relevantSet(q, truth))
		expected = append(expected, q.Category)
	}

	return CalculateAll(Input{
		Rankings:           rankings,
		Relevant:           relevant,
		ExpectedCategories: expected,
		ProductCategories:  categories,
	})
}

func relevantSet(q BenchmarkQuery, truth GroundTruth) map[string]bool {
	ids := q.ExpectedProductIDs
	if entry, ok := truth[q.QueryID]; ok && len(entry.PrimaryPositives) > 0 {
		ids = entry.PrimaryPositives
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func countByType(queries []BenchmarkQuery) map[string]int {
	counts := make(map[string]int, 3)
	for _, q := range queries {
		counts[q.Type]++
	}
	return counts
}
