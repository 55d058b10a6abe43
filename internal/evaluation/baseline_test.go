package evaluation

import (
	"math"
	"path/filepath"
	"testing"
)

func TestCompare_RegressionFlaggedPerMetric(t *testing.T) {
	baseline := Report{MRR: 0.80, PrecisionAt5: 0.5, AverageRank: 2.0}
	current := Report{MRR: 0.70, PrecisionAt5: 0.5, AverageRank: 2.0}

	deltas := Compare(current, baseline)

	byName := make(map[string]MetricDelta, len(deltas))
	for _, d := range deltas {
		byName[d.Metric] = d
	}

	// 0.80 -> 0.70 is a 12.5% relative drop, beyond the 5% threshold.
	mrr := byName["mrr"]
	if mrr.Status != StatusRegression {
		t.Errorf("mrr status = %s, want regression", mrr.Status)
	}
	if math.Abs(mrr.RelativeDelta-(-0.125)) > 1e-9 {
		t.Errorf("mrr relative delta = %f, want -0.125", mrr.RelativeDelta)
	}
	if byName["precision_at_5"].Status != StatusNeutral {
		t.Errorf("unchanged metric flagged: %+v", byName["precision_at_5"])
	}
	if !HasRegression(deltas) {
		t.Error("HasRegression = false, want true")
	}
}

func TestCompare_Improvement(t *testing.T) {
	baseline := Report{MRR: 0.50}
	current := Report{MRR: 0.60}

	deltas := Compare(current, baseline)
	for _, d := range deltas {
		if d.Metric == "mrr" && d.Status != StatusImprovement {
			t.Errorf("mrr status = %s, want improvement", d.Status)
		}
	}
	if HasRegression(deltas) {
		t.Error("improvement run flagged as regression")
	}
}

func TestCompare_WithinThresholdIsNeutral(t *testing.T) {
	baseline := Report{MRR: 1.00}
	current := Report{MRR: 0.96} // 4% drop, inside the 5% threshold

	for _, d := range Compare(current, baseline) {
		if d.Metric == "mrr" && d.Status != StatusNeutral {
			t.Errorf("mrr status = %s, want neutral", d.Status)
		}
	}
}

func TestCompare_InfSentinel(t *testing.T) {
	infBoth := Compare(
		Report{AverageRank: math.Inf(1)},
		Report{AverageRank: math.Inf(1)},
	)
	for _, d := range infBoth {
		if d.Metric == "average_rank" && d.Status != StatusNeutral {
			t.Errorf("Inf vs Inf status = %s, want neutral", d.Status)
		}
	}

	droppedFromInf := Compare(
		Report{AverageRank: 3.0},
		Report{AverageRank: math.Inf(1)},
	)
	for _, d := range droppedFromInf {
		if d.Metric == "average_rank" && d.Status != StatusRegression {
			t.Errorf("finite vs Inf baseline status = %s, want regression", d.Status)
		}
	}
}

func TestCompare_ZeroBaselineNeutral(t *testing.T) {
	for _, d := range Compare(Report{MRR: 0.5}, Report{MRR: 0}) {
		if d.Metric == "mrr" && d.Status != StatusNeutral {
			t.Errorf("zero-baseline status = %s, want neutral", d.Status)
		}
	}
}

func TestCompare_CategoryAccuracyOnlyWhenBothPresent(t *testing.T) {
	acc := 0.9
	withBoth := Compare(
		Report{CategoryAccuracy: &acc},
		Report{CategoryAccuracy: &acc},
	)
	found := false
	for _, d := range withBoth {
		if d.Metric == "category_accuracy" {
			found = true
		}
	}
	if !found {
		t.Error("category_accuracy missing when both reports carry it")
	}

	withOne := Compare(Report{CategoryAccuracy: &acc}, Report{})
	for _, d := range withOne {
		if d.Metric == "category_accuracy" {
			t.Error("category_accuracy compared against a report without it")
		}
	}
}

func TestBaseline_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "baseline_results.json")

	original := &RunResult{
		Timestamp:      "2026-08-24T00:00:00Z",
		OverallMetrics: Report{MRR: 0.75, AverageRank: math.Inf(1)},
		ByTypeMetrics: map[string]Report{
			TypeText: {MRR: 0.8, AverageRank: 1.5},
		},
		PerQueryResults: []PerQueryResult{
			{QueryID: "q1", Type: TypeText, Ranking: []string{"p1"}},
		},
		Summary: Summary{TotalQueries: 1, ByType: map[string]int{TypeText: 1}},
	}

	if err := SaveBaseline(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadBaseline(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if loaded.OverallMetrics.MRR != 0.75 {
		t.Errorf("mrr = %f, want 0.75", loaded.OverallMetrics.MRR)
	}
	if !math.IsInf(loaded.OverallMetrics.AverageRank, 1) {
		t.Error("Inf sentinel lost through persistence")
	}
	if loaded.ByTypeMetrics[TypeText].MRR != 0.8 {
		t.Errorf("by-type mrr = %f, want 0.8", loaded.ByTypeMetrics[TypeText].MRR)
	}
}
