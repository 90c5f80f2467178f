package catalog

import (
	"context"

	"gorm.io/gorm"

	"github.com/macroferro/macroferro-backend/pkg/db/models"
)

// Repository exposes catalog reads plus the stock mutation used inside the
// checkout transaction.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	FindBySKU(ctx context.Context, sku string) (*models.Product, error)
	FindBySKUs(ctx context.Context, skus []string) ([]models.Product, error)
	List(ctx context.Context, filter ListFilter) ([]models.Product, error)
	RootCategories(ctx context.Context) ([]models.Category, error)
	ChildCategories(ctx context.Context, parentID int) ([]models.Category, error)
	DeductStock(ctx context.Context, sku string, qty int) error
}

// ListFilter narrows a product listing.
type ListFilter struct {
	CategoryID *int
	Brand      string
	Limit      int
	Offset     int
}
