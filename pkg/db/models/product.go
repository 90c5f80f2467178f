package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/macroferro/macroferro-backend/pkg/types"
)

// Product represents a catalog listing keyed by its business SKU.
type Product struct {
	SKU         string          `gorm:"column:sku;primaryKey"`
	Name        string          `gorm:"column:name;not null"`
	Description *string         `gorm:"column:description"`
	Brand       *string         `gorm:"column:brand"`
	Price       decimal.Decimal `gorm:"column:price;type:numeric(10,2);not null"`
	CategoryID  *int            `gorm:"column:category_id"`
	Category    *Category       `gorm:"foreignKey:CategoryID;references:ID"`
	Specs       types.JSONMap   `gorm:"column:specs;type:jsonb;serializer:json"`
	Images      []Image         `gorm:"many2many:product_images;foreignKey:SKU;joinForeignKey:ProductSKU;References:ID;joinReferences:ImageID"`
	Stock       []Stock         `gorm:"foreignKey:ProductSKU;references:SKU"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
