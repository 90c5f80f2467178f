package models

// Image is a hosted product photo.
type Image struct {
	ID  int    `gorm:"column:id;primaryKey;autoIncrement"`
	URL string `gorm:"column:url;not null"`
}

// ProductImage is the join row between products and images, ordered by
// Position so the first image is the presentation image.
type ProductImage struct {
	ProductSKU string `gorm:"column:product_sku;primaryKey"`
	ImageID    int    `gorm:"column:image_id;primaryKey"`
	Position   int    `gorm:"column:position;not null;default:0"`
}
