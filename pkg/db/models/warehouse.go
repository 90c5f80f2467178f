package models

// Warehouse is a stocking location.
type Warehouse struct {
	ID   int     `gorm:"column:id;primaryKey;autoIncrement"`
	Name string  `gorm:"column:name;not null"`
	City *string `gorm:"column:city"`
}

// Stock tracks per-warehouse on-hand quantity for a product.
type Stock struct {
	ProductSKU  string `gorm:"column:product_sku;primaryKey"`
	WarehouseID int    `gorm:"column:warehouse_id;primaryKey"`
	Quantity    int    `gorm:"column:quantity;not null;default:0"`
}
