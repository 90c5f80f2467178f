package catalog

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/macroferro/macroferro-backend/pkg/db/models"
	pkgerrors "github.com/macroferro/macroferro-backend/pkg/errors"
)

const defaultListLimit = 50

type repository struct {
	db *gorm.DB
}

// NewRepository builds a catalog repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindBySKU(ctx context.Context, sku string) (*models.Product, error) {
	var product models.Product
	err := r.db.WithContext(ctx).
		Preload("Category").
		Preload("Images").
		Where("sku = ?", sku).
		First(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found").WithDetails(map[string]any{"sku": sku})
		}
		return nil, err
	}
	return &product, nil
}

// FindBySKUs returns products for the given SKUs preserving input order.
// Unknown SKUs are silently skipped.
func (r *repository) FindBySKUs(ctx context.Context, skus []string) ([]models.Product, error) {
	if len(skus) == 0 {
		return nil, nil
	}
	var rows []models.Product
	err := r.db.WithContext(ctx).
		Preload("Category").
		Preload("Images").
		Where("sku IN ?", skus).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	bySKU := make(map[string]models.Product, len(rows))
	for _, p := range rows {
		bySKU[p.SKU] = p
	}
	ordered := make([]models.Product, 0, len(rows))
	for _, sku := range skus {
		if p, ok := bySKU[sku]; ok {
			ordered = append(ordered, p)
		}
	}
	return ordered, nil
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]models.Product, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = defaultListLimit
	}

	q := r.db.WithContext(ctx).Preload("Category")
	if filter.CategoryID != nil {
		q = q.Where("category_id = ?", *filter.CategoryID)
	}
	if filter.Brand != "" {
		q = q.Where("brand = ?", filter.Brand)
	}

	var rows []models.Product
	err := q.Order("sku ASC").
		Limit(limit).
		Offset(filter.Offset).
		Find(&rows).Error
	return rows, err
}

func (r *repository) RootCategories(ctx context.Context) ([]models.Category, error) {
	var rows []models.Category
	err := r.db.WithContext(ctx).
		Where("parent_id IS NULL").
		Order("name ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) ChildCategories(ctx context.Context, parentID int) ([]models.Category, error) {
	var rows []models.Category
	err := r.db.WithContext(ctx).
		Where("parent_id = ?", parentID).
		Order("name ASC").
		Find(&rows).Error
	return rows, err
}

// DeductStock reduces on-hand quantity for a SKU across warehouses, largest
// holdings first, clamping each row at zero. Short stock is not an error;
// orders are accepted and backfilled.
func (r *repository) DeductStock(ctx context.Context, sku string, qty int) error {
	if qty <= 0 {
		return nil
	}
	var rows []models.Stock
	err := r.db.WithContext(ctx).
		Where("product_sku = ?", sku).
		Order("quantity DESC").
		Find(&rows).Error
	if err != nil {
		return err
	}

	remaining := qty
	for _, row := range rows {
		if remaining == 0 {
			break
		}
		take := row.Quantity
		if take > remaining {
			take = remaining
		}
		if take == 0 {
			continue
		}
		err := r.db.WithContext(ctx).Model(&models.Stock{}).
			Where("product_sku = ? AND warehouse_id = ?", sku, row.WarehouseID).
			Update("quantity", gorm.Expr("quantity - ?", take)).Error
		if err != nil {
			return err
		}
		remaining -= take
	}
	return nil
}
