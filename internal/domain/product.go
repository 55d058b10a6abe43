package domain

// Product is the durable record for a catalog item, stored in the product store.
type Product struct {
	ProductID   string            `json:"product_id"`
	Description string            `json:"description"`
	ImagePath   string            `json:"image_path"`
	Categories  map[string]string `json:"categories,omitempty"`
	SourceIndex int               `json:"source_index,omitempty"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
}

// RankedResult is a product enriched with its retrieval score.
// Score lies in [0, 1.01]; the slack above 1.0 covers floating-point noise
// from cosine similarity, never a meaningful overshoot.
type RankedResult struct {
	ProductID   string            `json:"product_id"`
	Description string            `json:"description"`
	ImagePath   string            `json:"image_path"`
	Score       float64           `json:"score"`
	Categories  map[string]string `json:"categories,omitempty"`
}
