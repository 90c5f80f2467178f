package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/macroferro/macroferro-backend/pkg/enums"
)

// OutboxDLQ is the audit row written when an outbox event exhausts its
// delivery attempts. The source aggregate is never mutated.
type OutboxDLQ struct {
	ID           uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	EventID      uuid.UUID             `gorm:"column:event_id;type:uuid;not null;uniqueIndex:ux_outbox_dlq_event"`
	EventType    enums.OutboxEventType `gorm:"column:event_type;not null"`
	AggregateID  string                `gorm:"column:aggregate_id;not null"`
	ErrorMessage *string               `gorm:"column:error_message"`
	FailedAt     time.Time             `gorm:"column:failed_at;autoCreateTime"`
}
