package evaluation

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Metric functions operate on parallel slices: rankings[i] is the ordered
// product-id list a query produced, relevant[i] the set of ids considered
// correct for it.

// MRR returns the mean reciprocal rank of the first relevant id per query.
// A query that finds no relevant id contributes 0.
func MRR(rankings [][]string, relevant []map[string]bool) float64 {
	if len(rankings) == 0 {
		return 0
	}
	var sum float64
	for i, ranking := range rankings {
		for pos, id := range ranking {
			if relevantAt(relevant, i)[id] {
				sum += 1.0 / float64(pos+1)
				break
			}
		}
	}
	return sum / float64(len(rankings))
}

// PrecisionAtK returns the mean fraction of the top k that is relevant.
func PrecisionAtK(rankings [][]string, relevant []map[string]bool, k int) float64 {
	if len(rankings) == 0 || k <= 0 {
		return 0
	}
	var sum float64
	for i, ranking := range rankings {
		sum += float64(hitsInTopK(ranking, relevantAt(relevant, i), k)) / float64(k)
	}
	return sum / float64(len(rankings))
}

// RecallAtK returns the mean fraction of each query's relevant set captured
// in the top k. Queries with an empty relevant set are excluded from the
// mean, not counted as zero.
func RecallAtK(rankings [][]string, relevant []map[string]bool, k int) float64 {
	if k <= 0 {
		return 0
	}
	var sum float64
	counted := 0
	for i, ranking := range rankings {
		rel := relevantAt(relevant, i)
		if len(rel) == 0 {
			continue
		}
		sum += float64(hitsInTopK(ranking, rel, k)) / float64(len(rel))
		counted++
	}
	if counted == 0 {
		return 0
	}
	return sum / float64(counted)
}

// AverageRank returns the mean rank (1-based) of the first relevant id over
// queries that found one. When no query found any relevant id the result is
// +Inf: a distinct "no signal" value, never coerced to 0.
func AverageRank(rankings [][]string, relevant []map[string]bool) float64 {
	var sum float64
	found := 0
	for i, ranking := range rankings {
		for pos, id := range ranking {
			if relevantAt(relevant, i)[id] {
				sum += float64(pos + 1)
				found++
				break
			}
		}
	}
	if found == 0 {
		return math.Inf(1)
	}
	return sum / float64(found)
}

// CategoryAccuracy returns the fraction of queries whose top-1 result maps
// to the expected category. Queries without an expected category or with an
// empty ranking are excluded from the mean, not counted as incorrect.
func CategoryAccuracy(rankings [][]string, expected []string, productCategory map[string]string) float64 {
	correct, counted := 0, 0
	for i, ranking := range rankings {
		if i >= len(expected) || expected[i] == "" || len(ranking) == 0 {
			continue
		}
		counted++
		if productCategory[ranking[0]] == expected[i] {
			correct++
		}
	}
	if counted == 0 {
		return 0
	}
	return float64(correct) / float64(counted)
}

func relevantAt(relevant []map[string]bool, i int) map[string]bool {
	if i >= len(relevant) {
		return nil
	}
	return relevant[i]
}

func hitsInTopK(ranking []string, rel map[string]bool, k int) int {
	hits := 0
	for pos, id := range ranking {
		if pos >= k {
			break
		}
		if rel[id] {
			hits++
		}
	}
	return hits
}

// Input bundles everything CalculateAll needs. ExpectedCategories and
// ProductCategories are optional; category accuracy is reported only when
// both are supplied.
type Input struct {
	Rankings           [][]string
	Relevant           []map[string]bool
	ExpectedCategories []string
	ProductCategories  map[string]string
}

// Report holds one full set of retrieval-quality metrics.
type Report struct {
	MRR              float64
	PrecisionAt1     float64
	PrecisionAt5     float64
	PrecisionAt10    float64
	RecallAt5        float64
	RecallAt10       float64
	RecallAt20       float64
	AverageRank      float64
	CategoryAccuracy *float64
}

// CalculateAll computes the standard metric set over one batch of rankings.
func CalculateAll(in Input) Report {
	r := Report{
		MRR:           MRR(in.Rankings, in.Relevant),
		PrecisionAt1:  PrecisionAtK(in.Rankings, in.Relevant, 1),
		PrecisionAt5:  PrecisionAtK(in.Rankings, in.Relevant, 5),
		PrecisionAt10: PrecisionAtK(in.Rankings, in.Relevant, 10),
		RecallAt5:     RecallAtK(in.Rankings, in.Relevant, 5),
		RecallAt10:    RecallAtK(in.Rankings, in.Relevant, 10),
		RecallAt20:    RecallAtK(in.Rankings, in.Relevant, 20),
		AverageRank:   AverageRank(in.Rankings, in.Relevant),
	}
	if in.ExpectedCategories != nil && in.ProductCategories != nil {
		acc := CategoryAccuracy(in.Rankings, in.ExpectedCategories, in.ProductCategories)
		r.CategoryAccuracy = &acc
	}
	return r
}

type reportJSON struct {
	MRR              float64         `json:"mrr"`
	PrecisionAt1     float64         `json:"precision_at_1"`
	PrecisionAt5     float64         `json:"precision_at_5"`
	PrecisionAt10    float64         `json:"precision_at_10"`
	RecallAt5        float64         `json:"recall_at_5"`
	RecallAt10       float64         `json:"recall_at_10"`
	RecallAt20       float64         `json:"recall_at_20"`
	AverageRank      json.RawMessage `json:"average_rank"`
	CategoryAccuracy *float64        `json:"category_accuracy,omitempty"`
}

// MarshalJSON persists the +Inf average-rank sentinel as the string
// "Infinity", which plain JSON numbers cannot express.
func (r Report) MarshalJSON() ([]byte, error) {
	out := reportJSON{
		MRR:              r.MRR,
		PrecisionAt1:     r.PrecisionAt1,
		PrecisionAt5:     r.PrecisionAt5,
		PrecisionAt10:    r.PrecisionAt10,
		RecallAt5:        r.RecallAt5,
		RecallAt10:       r.RecallAt10,
		RecallAt20:       r.RecallAt20,
		CategoryAccuracy: r.CategoryAccuracy,
	}
	if math.IsInf(r.AverageRank, 1) {
		out.AverageRank = json.RawMessage(`"Infinity"`)
	} else {
		out.AverageRank = json.RawMessage(strconv.FormatFloat(r.AverageRank, 'g', -1, 64))
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts average_rank as either a number or "Infinity".
func (r *Report) UnmarshalJSON(data []byte) error {
	var in reportJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	r.MRR = in.MRR
	r.PrecisionAt1 = in.PrecisionAt1
	r.PrecisionAt5 = in.PrecisionAt5
	r.PrecisionAt10 = in.PrecisionAt10
	r.RecallAt5 = in.RecallAt5
	r.RecallAt10 = in.RecallAt10
	r.RecallAt20 = in.RecallAt20
	r.CategoryAccuracy = in.CategoryAccuracy

	switch string(in.AverageRank) {
	case "", "null":
		r.AverageRank = 0
	case `"Infinity"`, `"inf"`:
		r.AverageRank = math.Inf(1)
	default:
		v, err := strconv.ParseFloat(string(in.AverageRank), 64)
		if err != nil {
			return fmt.Errorf("decode average_rank %s: %w", in.AverageRank, err)
		}
		r.AverageRank = v
	}
	return nil
}
