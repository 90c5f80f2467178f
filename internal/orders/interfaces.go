package orders

import (
	"context"

	"gorm.io/gorm"

	"github.com/macroferro/macroferro-backend/pkg/db/models"
	"github.com/macroferro/macroferro-backend/pkg/enums"
)

// Repository persists orders and their line items. Writes are expected to run
// inside the checkout transaction via WithTx.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	// NextOrderID derives the next sequential ORDnnnnn identifier.
	NextOrderID(ctx context.Context) (string, error)
	Create(ctx context.Context, order *models.Order) error
	FindByIDWithItems(ctx context.Context, orderID string) (*models.Order, error)
	ListByChat(ctx context.Context, chatID int64, limit int) ([]models.Order, error)
	UpdateStatus(ctx context.Context, orderID string, status enums.OrderStatus) error
	UpdatePDFURL(ctx context.Context, orderID string, url string) error
}
