package evaluation

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// RegressionThreshold is the relative delta beyond which a metric change is
// flagged.
const RegressionThreshold = 0.05

// SaveBaseline persists a run result as the new baseline.
func SaveBaseline(path string, result *RunResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal baseline: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write baseline %s: %w", path, err)
	}
	return nil
}

// LoadBaseline reads a previously persisted baseline.
func LoadBaseline(path string) (*RunResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read baseline %s: %w", path, err)
	}
	var result RunResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode baseline %s: %w", path, err)
	}
	return &result, nil
}

// Status classifies one metric's movement versus baseline.
type Status string

const (
	StatusRegression  Status = "regression"
	StatusImprovement Status = "improvement"
	StatusNeutral     Status = "neutral"
)

// MetricDelta is the comparison outcome for one metric.
type MetricDelta struct {
	Metric        string  `json:"metric"`
	Baseline      float64 `json:"baseline"`
	Current       float64 `json:"current"`
	RelativeDelta float64 `json:"relativeDelta"`
	Status        Status  `json:"status"`
}

// Compare diffs every metric of current against baseline. A relative drop
// beyond the threshold is a regression, a rise beyond it an improvement;
// the same rule applies to every metric, average_rank included.
func Compare(current, baseline Report) []MetricDelta {
	deltas := []MetricDelta{
		compareMetric("mrr", baseline.MRR, current.MRR),
		compareMetric("precision_at_1", baseline.PrecisionAt1, current.PrecisionAt1),
		compareMetric("precision_at_5", baseline.PrecisionAt5, current.PrecisionAt5),
		compareMetric("precision_at_10", baseline.PrecisionAt10, current.PrecisionAt10),
		compareMetric("recall_at_5", baseline.RecallAt5, current.RecallAt5),
		compareMetric("recall_at_10", baseline.RecallAt10, current.RecallAt10),
		compareMetric("recall_at_20", baseline.RecallAt20, current.RecallAt20),
		compareMetric("average_rank", baseline.AverageRank, current.AverageRank),
	}
	if current.CategoryAccuracy != nil && baseline.CategoryAccuracy != nil {
		deltas = append(deltas,
			compareMetric("category_accuracy", *baseline.CategoryAccuracy, *current.CategoryAccuracy))
	}
	return deltas
}

func compareMetric(name string, baseline, current float64) MetricDelta {
	d := MetricDelta{Metric: name, Baseline: baseline, Current: current, Status: StatusNeutral}

	switch {
	case math.IsInf(baseline, 1) && math.IsInf(current, 1):
		return d
	case math.IsInf(baseline, 1):
		d.Status = StatusRegression // dropped from the Inf sentinel
		d.RelativeDelta = math.Inf(-1)
		return d
	case math.IsInf(current, 1):
		d.Status = StatusImprovement
		d.RelativeDelta = math.Inf(1)
		return d
	case baseline == 0:
		return d
	}

	d.RelativeDelta = (current - baseline) / baseline
	switch {
	case d.RelativeDelta < -RegressionThreshold:
		d.Status = StatusRegression
	case d.RelativeDelta > RegressionThreshold:
		d.Status = StatusImprovement
	}
	return d
}

// HasRegression reports whether any metric was flagged as a regression.
func HasRegression(deltas []MetricDelta) bool {
	for _, d := range deltas {
		if d.Status == StatusRegression {
			return true
		}
	}
	return false
}
