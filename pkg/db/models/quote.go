package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/tradelane/backend/pkg/enums"
)

// Quote is a supplier's proposed terms against an open RFQ trade.
// At most one quote per trade carries the selected status.
type Quote struct {
	ID             uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TradeID        uuid.UUID         `gorm:"column:trade_id;type:uuid;not null"`
	SupplierID     uuid.UUID         `gorm:"column:supplier_id;type:uuid;not null"`
	UnitPriceCents int               `gorm:"column:unit_price_cents;not null"`
	LeadTimeDays   int               `gorm:"column:lead_time_days;not null;default:0"`
	Incoterms      string            `gorm:"column:incoterms;type:text"`
	Status         enums.QuoteStatus `gorm:"column:status;type:quote_status_enum;not null;default:'open'"`
	CreatedAt      time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
