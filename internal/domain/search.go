package domain

import "fmt"

// SearchHit is a single vector-index match, validated at the index boundary.
// The index stores one point per (product, modality) pair, so a product can
// surface once per modality within a single query.
type SearchHit struct {
	ProductID string
	Modality  Modality
	Score     float64
}

// Validate rejects hits with a missing product id, an unknown modality, or
// a score outside the cosine range (1.01 absorbs float rounding).
func (h SearchHit) Validate() error {
	if h.ProductID == "" {
		return fmt.Errorf("search hit without product_id")
	}
	if _, err := ParseModality(string(h.Modality)); err != nil {
		return fmt.Errorf("search hit %s: %w", h.ProductID, err)
	}
	if h.Score < -1.0 || h.Score > 1.01 {
		return fmt.Errorf("search hit %s: score %f out of range", h.ProductID, h.Score)
	}
	return nil
}

// FilterSet holds optional attribute constraints. Both constraints, when
// present, must hold (logical AND); matching is case-insensitive whole-word.
type FilterSet struct {
	Color    string `json:"color,omitempty"`
	Category string `json:"category,omitempty"`
}

// IsEmpty reports whether no constraint is set.
func (f FilterSet) IsEmpty() bool {
	return f.Color == "" && f.Category == ""
}
