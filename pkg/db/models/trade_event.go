package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/tradelane/backend/pkg/enums"
)

// TradeEvent is the append-only audit log for a trade. Every state transition
// and side-effect attempt, including failures, lands here.
type TradeEvent struct {
	ID        uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TradeID   uuid.UUID            `gorm:"column:trade_id;type:uuid;not null;index"`
	Type      enums.TradeEventType `gorm:"column:type;type:trade_event_type_enum;not null"`
	FromState *enums.TradeState    `gorm:"column:from_state;type:trade_state_enum"`
	ToState   *enums.TradeState    `gorm:"column:to_state;type:trade_state_enum"`
	ActorID   *uuid.UUID           `gorm:"column:actor_id;type:uuid"`
	ActorRole string               `gorm:"column:actor_role;type:text"`
	Metadata  json.RawMessage      `gorm:"column:metadata;type:jsonb"`
	CreatedAt time.Time            `gorm:"column:created_at;autoCreateTime"`
}
