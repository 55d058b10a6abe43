package product

import "github.com/JugalBoro/kloth.me/internal/domain"

// dto mirrors the JSON document stored per product.
type dto struct {
	ProductID   string            `json:"product_id"`
	Description string            `json:"description"`
	ImagePath   string            `json:"image_path"`
	Categories  map[string]string `json:"categories,omitempty"`
	SourceIndex int               `json:"source_index,omitempty"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
}

func fromDomain(p domain.Product) dto {
	return dto{
		ProductID:   p.ProductID,
		Description: p.Description,
		ImagePath:   p.ImagePath,
		Categories:  p.Categories,
		SourceIndex: p.SourceIndex,
		Metadata:    p.Metadata,
	}
}

func (d dto) toDomain() domain.Product {
	return domain.Product{
		ProductID:   d.ProductID,
		Description: d.Description,
		ImagePath:   d.ImagePath,
		Categories:  d.Categories,
		SourceIndex: d.SourceIndex,
		Metadata:    d.Metadata,
	}
}
