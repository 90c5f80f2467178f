package orders

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	dbpkg "github.com/macroferro/macroferro-backend/pkg/db"
	"github.com/macroferro/macroferro-backend/pkg/db/models"
	"github.com/macroferro/macroferro-backend/pkg/enums"
	pkgerrors "github.com/macroferro/macroferro-backend/pkg/errors"
)

const (
	orderIDPrefix = "ORD"
	orderIDDigits = 5
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// NextOrderID claims the next ORDnnnnn id from the id_sequences counter. The
// counter row lock makes two in-flight checkouts impossible to land on the
// same id, regardless of isolation level.
func (r *repository) NextOrderID(ctx context.Context) (string, error) {
	seq, err := dbpkg.NextSequence(ctx, r.db, dbpkg.SeqOrderID, 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%0*d", orderIDPrefix, orderIDDigits, seq), nil
}

// Create persists the order together with its line items in one insert graph.
func (r *repository) Create(ctx context.Context, order *models.Order) error {
	if order.OrderID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if len(order.Items) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "order must carry at least one line item")
	}
	for i := range order.Items {
		order.Items[i].OrderID = order.OrderID
	}
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByIDWithItems(ctx context.Context, orderID string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("order_items.id ASC")
		}).
		Preload("Items.Product").
		Preload("Client").
		Where("order_id = ?", orderID).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found").WithDetails(map[string]any{"order_id": orderID})
		}
		return nil, err
	}
	return &order, nil
}

func (r *repository) ListByChat(ctx context.Context, chatID int64, limit int) ([]models.Order, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) UpdateStatus(ctx context.Context, orderID string, status enums.OrderStatus) error {
	if !status.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid order status")
	}
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("order_id = ?", orderID).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return nil
}

func (r *repository) UpdatePDFURL(ctx context.Context, orderID string, url string) error {
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("order_id = ?", orderID).
		Update("pdf_url", url)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return nil
}
