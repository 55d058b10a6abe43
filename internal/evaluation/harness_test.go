package evaluation

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/JugalBoro/kloth.me/internal/domain"
)

type mockSearcher struct {
	textResults  map[string][]domain.RankedResult // keyed by query string
	imageResults []domain.RankedResult
	textErr      error
	mergeWeight  float64
}

func (m *mockSearcher) SearchByText(
	_ context.Context, queries []string, _ int, _ domain.FilterSet,
) ([]domain.RankedResult, error) {
	if m.textErr != nil {
		return nil, m.textErr
	}
	if len(queries) > 0 {
		if r, ok := m.textResults[queries[0]]; ok {
			return r, nil
		}
	}
	return nil, nil
}

func (m *mockSearcher) SearchByImage(
	_ context.Context, _ []byte, _ int, _ domain.FilterSet,
) ([]domain.RankedResult, error) {
	return m.imageResults, nil
}

func (m *mockSearcher) MergeResults(
	_ context.Context, textResults, imageResults []domain.RankedResult, textWeight float64,
) ([]domain.RankedResult, error) {
	m.mergeWeight = textWeight
	out := append([]domain.RankedResult{}, textResults...)
	out = append(out, imageResults...)
	return out, nil
}

func writeImage(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte{0xFF, 0xD8, 0xFF}, 0o644); err != nil {
		t.Fatal(err)
	}
	return name
}

func TestRun_TextQueries(t *testing.T) {
	s := &mockSearcher{textResults: map[string][]domain.RankedResult{
		"red dress": {{ProductID: "p1", Score: 0.9}, {ProductID: "p2", Score: 0.8}},
	}}
	e := NewEvaluator(s, zap.NewNop(), 10, "")

	bench := Benchmark{Queries: []BenchmarkQuery{
		{QueryID: "q1", Type: TypeText, QueryText: "red dress", ExpectedProductIDs: []string{"p1"}},
	}}
	result, err := e.Run(context.Background(), bench, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if result.OverallMetrics.MRR != 1.0 {
		t.Errorf("mrr = %f, want 1.0", result.OverallMetrics.MRR)
	}
	if result.Summary.FailedQueries != 0 {
		t.Errorf("failed = %d", result.Summary.FailedQueries)
	}
	if _, ok := result.ByTypeMetrics[TypeText]; !ok {
		t.Error("missing text metrics group")
	}
	if _, ok := result.ByTypeMetrics[TypeImage]; ok {
		t.Error("image metrics group for a benchmark without image queries")
	}
}

func TestRun_GroundTruthOverridesExpected(t *testing.T) {
	s := &mockSearcher{textResults: map[string][]domain.RankedResult{
		"dress": {{ProductID: "p9", Score: 0.9}},
	}}
	e := NewEvaluator(s, zap.NewNop(), 10, "")

	bench := Benchmark{Queries: []BenchmarkQuery{
		{QueryID: "q1", Type: TypeText, QueryText: "dress", ExpectedProductIDs: []string{"other"}},
	}}
	truth := GroundTruth{"q1": {PrimaryPositives: []string{"p9"}, Type: TypeText}}

	result, err := e.Run(context.Background(), bench, truth)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.OverallMetrics.MRR != 1.0 {
		t.Errorf("mrr = %f, want 1.0 (ground truth should win)", result.OverallMetrics.MRR)
	}
}

func TestRun_QueryFailureDoesNotAbort(t *testing.T) {
	s := &mockSearcher{textErr: errors.New("index down")}
	e := NewEvaluator(s, zap.NewNop(), 10, "")

	bench := Benchmark{Queries: []BenchmarkQuery{
		{QueryID: "q1", Type: TypeText, QueryText: "a", ExpectedProductIDs: []string{"p1"}},
		{QueryID: "q2", Type: TypeText, QueryText: "b", ExpectedProductIDs: []string{"p2"}},
	}}
	result, err := e.Run(context.Background(), bench, nil)
	if err != nil {
		t.Fatalf("run must not abort on per-query failure: %v", err)
	}

	if result.Summary.FailedQueries != 2 {
		t.Errorf("failed = %d, want 2", result.Summary.FailedQueries)
	}
	for _, pq := range result.PerQueryResults {
		if pq.Error == "" {
			t.Errorf("query %s missing recorded error", pq.QueryID)
		}
		if len(pq.Ranking) != 0 {
			t.Errorf("failed query %s must score as empty ranking", pq.QueryID)
		}
	}
	// All failed: average rank is the no-signal sentinel.
	if !math.IsInf(result.OverallMetrics.AverageRank, 1) {
		t.Errorf("average rank = %f, want +Inf", result.OverallMetrics.AverageRank)
	}
}

func TestRun_MissingImageRecordedPerQuery(t *testing.T) {
	s := &mockSearcher{}
	e := NewEvaluator(s, zap.NewNop(), 10, t.TempDir())

	bench := Benchmark{Queries: []BenchmarkQuery{
		{QueryID: "q1", Type: TypeImage, QueryImagePath: "missing.jpg", ExpectedProductIDs: []string{"p1"}},
	}}
	result, err := e.Run(context.Background(), bench, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Summary.FailedQueries != 1 {
		t.Errorf("failed = %d, want 1", result.Summary.FailedQueries)
	}
}

func TestRun_CombinedUsesFixedWeight(t *testing.T) {
	dir := t.TempDir()
	img := writeImage(t, dir, "q.jpg")

	s := &mockSearcher{
		textResults:  map[string][]domain.RankedResult{"dress": {{ProductID: "p1", Score: 0.9}}},
		imageResults: []domain.RankedResult{{ProductID: "p2", Score: 0.8}},
	}
	e := NewEvaluator(s, zap.NewNop(), 10, dir)

	bench := Benchmark{Queries: []BenchmarkQuery{
		{QueryID: "q1", Type: TypeCombined, QueryText: "dress", QueryImagePath: img,
			ExpectedProductIDs: []string{"p1"}},
	}}
	if _, err := e.Run(context.Background(), bench, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if s.mergeWeight != CombinedFusionWeight {
		t.Errorf("merge weight = %f, want %f", s.mergeWeight, CombinedFusionWeight)
	}
}

func TestLoadBenchmark_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "benchmark_queries.json")
	raw := `{
	  "metadata": {"numQueries": 1, "seed": 42, "generatedAt": "2026-08-24T00:00:00Z"},
	  "queries": [
	    {"queryId": "q1", "type": "text", "queryText": "red dress",
	     "expectedProductIds": ["p1"], "category": "dress"}
	  ]
	}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	b, err := LoadBenchmark(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if b.Metadata.Seed != 42 || len(b.Queries) != 1 || b.Queries[0].QueryID != "q1" {
		t.Errorf("unexpected benchmark: %+v", b)
	}
}

func TestLoadBenchmark_Empty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.json")
	if err := os.WriteFile(path, []byte(`{"queries": []}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadBenchmark(path); err == nil {
		t.Fatal("expected error for benchmark without queries")
	}
}

func TestGenerateBenchmark_Deterministic(t *testing.T) {
	products := []domain.Product{
		{ProductID: "p1", Description: "red dress", ImagePath: "p1.jpg",
			Categories: map[string]string{"category": "dress"}},
		{ProductID: "p2", Description: "blue jacket", ImagePath: "p2.jpg",
			Categories: map[string]string{"category": "jacket"}},
	}

	a, truthA, err := GenerateBenchmark(products, 9, 7)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	b, _, err := GenerateBenchmark(products, 9, 7)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if len(a.Queries) != 9 {
		t.Fatalf("got %d queries, want 9", len(a.Queries))
	}
	for i := range a.Queries {
		if a.Queries[i].QueryID != b.Queries[i].QueryID ||
			a.Queries[i].ExpectedProductIDs[0] != b.Queries[i].ExpectedProductIDs[0] {
			t.Fatalf("same seed produced different queries at %d", i)
		}
	}
	// Round-robin type assignment.
	wantTypes := []string{TypeText, TypeImage, TypeCombined}
	for i, q := range a.Queries {
		if q.Type != wantTypes[i%3] {
			t.Errorf("query %d type = %s, want %s", i, q.Type, wantTypes[i%3])
		}
	}
	if len(truthA) != 9 {
		t.Errorf("ground truth has %d entries, want 9", len(truthA))
	}
}
