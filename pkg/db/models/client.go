package models

import "time"

// Client is a business customer materialized on first checkout. Email is
// the lookup identity; ClientID is the sequential CUSTnnnn business key.
type Client struct {
	ClientID  string    `gorm:"column:client_id;primaryKey"`
	Name      string    `gorm:"column:name;not null"`
	Email     string    `gorm:"column:email;uniqueIndex:idx_clients_email;not null"`
	Phone     *string   `gorm:"column:phone"`
	Company   *string   `gorm:"column:company"`
	Address   *string   `gorm:"column:address"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
