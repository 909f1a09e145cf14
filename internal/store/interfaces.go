package store

import (
	"context"

	"github.com/nexusai/promptgate/internal/model"
)

// ProductReader provides read access to product records.
type ProductReader interface {
	GetProduct(ctx context.Context, id string) (*model.Product, error)
	ListProducts(ctx context.Context, f model.ProductFilter) ([]model.Product, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
}

// ProductWriter creates new product records.
type ProductWriter interface {
	CreateProduct(ctx context.Context, p model.Product) error
}

// QAWriter merge-writes evaluation results into a record. Only the qa
// sub-fields, the optional status, and updated_at are touched.
type QAWriter interface {
	ApplyQA(ctx context.Context, id string, qa model.QAResult, status *string) error
}

// DuplicateFinder queries for other records sharing a concept key.
type DuplicateFinder interface {
	FindConceptDuplicates(ctx context.Context, conceptKey, excludeID string) ([]string, error)
}

// ProductRepository is the full surface consumed by the API layer.
type ProductRepository interface {
	ProductReader
	ProductWriter
}
