package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/tradelane/backend/pkg/enums"
)

// EscrowEvent records an immutable money movement step for an escrow record.
// Rows are only ever appended.
type EscrowEvent struct {
	ID             uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	EscrowRecordID uuid.UUID             `gorm:"column:escrow_record_id;type:uuid;not null;index"`
	TradeID        uuid.UUID             `gorm:"column:trade_id;type:uuid;not null;index"`
	Type           enums.EscrowEventType `gorm:"column:type;type:escrow_event_type_enum;not null"`
	Reference      *string               `gorm:"column:reference;type:text;uniqueIndex:ux_escrow_events_reference"`
	AmountCents    int                   `gorm:"column:amount_cents;not null;default:0"`
	Metadata       json.RawMessage       `gorm:"column:metadata;type:jsonb"`
	CreatedAt      time.Time             `gorm:"column:created_at;autoCreateTime"`
}
