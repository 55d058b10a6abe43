package domain

// Default bounds for query plans.
const (
	DefaultTopK       = 20
	MaxTopK           = 100
	DefaultTextWeight = 0.5
)

// QueryPlan is the retrieval plan produced by the planner for one request:
// refined query strings, whether to use the uploaded image, the cross-modal
// fusion weight, the result bound and any extracted attribute filters.
type QueryPlan struct {
	RefinedQueries []string  `json:"refined_queries"`
	UseImage       bool      `json:"use_image"`
	TextWeight     float64   `json:"text_weight"`
	TopK           int       `json:"top_k"`
	Filters        FilterSet `json:"filters,omitempty"`
	Reasoning      string    `json:"reasoning,omitempty"`
}

// Clamp forces TopK into [1, MaxTopK] and TextWeight into [0, 1],
// substituting defaults for unset values.
func (p *QueryPlan) Clamp() {
	if p.TopK <= 0 {
		p.TopK = DefaultTopK
	}
	if p.TopK > MaxTopK {
		p.TopK = MaxTopK
	}
	if p.TextWeight < 0 {
		p.TextWeight = 0
	}
	if p.TextWeight > 1 {
		p.TextWeight = 1
	}
}
