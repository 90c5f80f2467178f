package models

// Category is a node in the catalog category forest. ParentID is nil for
// root categories; cycles are disallowed by construction.
type Category struct {
	ID       int       `gorm:"column:id;primaryKey"`
	Name     string    `gorm:"column:name;not null"`
	ParentID *int      `gorm:"column:parent_id"`
	Parent   *Category `gorm:"foreignKey:ParentID;references:ID"`
}
