package db

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// Counter names in the id_sequences table.
const (
	SeqOrderID  = "order_id"
	SeqClientID = "client_id"
)

// NextSequence claims the next value of a named counter. The upsert locks the
// counter row, so concurrent transactions allocating from the same counter
// are serialized by the database until the holder commits. A missing row is
// created with start as its first value.
func NextSequence(ctx context.Context, db *gorm.DB, name string, start int64) (int64, error) {
	var value int64
	err := db.WithContext(ctx).Raw(
		`INSERT INTO id_sequences (name, value) VALUES (?, ?)
		 ON CONFLICT (name) DO UPDATE SET value = value + 1
		 RETURNING value`,
		name, start,
	).Scan(&value).Error
	if err != nil {
		return 0, fmt.Errorf("advancing sequence %q: %w", name, err)
	}
	return value, nil
}
