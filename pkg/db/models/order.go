package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/macroferro/macroferro-backend/pkg/enums"
)

// Order is an append-only record of a committed checkout. Only PDFURL is
// mutated after commit.
type Order struct {
	OrderID       string            `gorm:"column:order_id;primaryKey"`
	ClientID      *string           `gorm:"column:client_id"`
	Client        *Client           `gorm:"foreignKey:ClientID;references:ClientID"`
	ChatID        int64             `gorm:"column:chat_id;not null"`
	CustomerName  string            `gorm:"column:customer_name;not null"`
	CustomerEmail string            `gorm:"column:customer_email;not null"`
	ShippingAddr  string            `gorm:"column:shipping_address;not null"`
	Phone         *string           `gorm:"column:phone"`
	TotalAmount   decimal.Decimal   `gorm:"column:total_amount;type:numeric(10,2);not null"`
	Status        enums.OrderStatus `gorm:"column:status;not null;default:'pending'"`
	PDFURL        *string           `gorm:"column:pdf_url"`
	Items         []OrderItem       `gorm:"foreignKey:OrderID;references:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt     time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

// OrderItem is one order line with the unit price captured at add time.
type OrderItem struct {
	ID         int64           `gorm:"column:id;primaryKey;autoIncrement"`
	OrderID    string          `gorm:"column:order_id;not null;index"`
	ProductSKU string          `gorm:"column:product_sku;not null"`
	Product    *Product        `gorm:"foreignKey:ProductSKU;references:SKU"`
	Quantity   int             `gorm:"column:quantity;not null"`
	UnitPrice  decimal.Decimal `gorm:"column:unit_price;type:numeric(10,2);not null"`
}
