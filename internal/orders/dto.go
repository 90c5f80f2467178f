package orders

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/macroferro/macroferro-backend/pkg/db/models"
	"github.com/macroferro/macroferro-backend/pkg/enums"
)

// OrderSummary is the list-view shape of an order.
type OrderSummary struct {
	OrderID     string            `json:"order_id"`
	Status      enums.OrderStatus `json:"status"`
	TotalAmount decimal.Decimal   `json:"total_amount"`
	ItemCount   int               `json:"item_count"`
	CreatedAt   time.Time         `json:"created_at"`
}

// OrderLine is a single purchased product inside an order detail.
type OrderLine struct {
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// OrderDetail is the full order view returned by the API.
type OrderDetail struct {
	OrderID       string            `json:"order_id"`
	ClientID      *string           `json:"client_id,omitempty"`
	CustomerName  string            `json:"customer_name"`
	CustomerEmail string            `json:"customer_email"`
	ShippingAddr  string            `json:"shipping_address"`
	Phone         *string           `json:"phone,omitempty"`
	Status        enums.OrderStatus `json:"status"`
	TotalAmount   decimal.Decimal   `json:"total_amount"`
	PDFURL        *string           `json:"pdf_url,omitempty"`
	Items         []OrderLine       `json:"items"`
	CreatedAt     time.Time         `json:"created_at"`
}

func toOrderSummary(order models.Order) OrderSummary {
	return OrderSummary{
		OrderID:     order.OrderID,
		Status:      order.Status,
		TotalAmount: order.TotalAmount,
		ItemCount:   len(order.Items),
		CreatedAt:   order.CreatedAt,
	}
}

func toOrderDetail(order *models.Order) *OrderDetail {
	detail := &OrderDetail{
		OrderID:       order.OrderID,
		ClientID:      order.ClientID,
		CustomerName:  order.CustomerName,
		CustomerEmail: order.CustomerEmail,
		ShippingAddr:  order.ShippingAddr,
		Phone:         order.Phone,
		Status:        order.Status,
		TotalAmount:   order.TotalAmount,
		PDFURL:        order.PDFURL,
		CreatedAt:     order.CreatedAt,
	}
	for _, item := range order.Items {
		name := item.ProductSKU
		if item.Product != nil {
			name = item.Product.Name
		}
		detail.Items = append(detail.Items, OrderLine{
			SKU:       item.ProductSKU,
			Name:      name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			LineTotal: item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))),
		})
	}
	return detail
}
