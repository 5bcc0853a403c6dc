package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/tradelane/backend/pkg/enums"
)

// DispatchEvent is an append-only log entry describing logistics coordination
// for a trade. A "requested" row doubles as the idempotency marker for the
// match-and-notify cycle.
type DispatchEvent struct {
	ID         uuid.UUID                  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TradeID    uuid.UUID                  `gorm:"column:trade_id;type:uuid;not null;index"`
	Type       enums.DispatchEventType    `gorm:"column:type;type:dispatch_event_type_enum;not null"`
	ProviderID *uuid.UUID                 `gorm:"column:provider_id;type:uuid"`
	Channel    *enums.NotificationChannel `gorm:"column:channel;type:text"`
	Metadata   json.RawMessage            `gorm:"column:metadata;type:jsonb"`
	CreatedAt  time.Time                  `gorm:"column:created_at;autoCreateTime"`
}
