package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/tradelane/backend/pkg/enums"
)

// EscrowRecord holds funds against a trade. The release reference is unique so
// a transfer can be initiated at most once per record, and the fee split
// invariant net + fee == gross holds for every funded record.
type EscrowRecord struct {
	ID               uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TradeID          uuid.UUID           `gorm:"column:trade_id;type:uuid;not null;uniqueIndex"`
	Status           enums.EscrowStatus  `gorm:"column:status;type:escrow_status_enum;not null;default:'pending'"`
	Method           enums.PaymentMethod `gorm:"column:method;type:payment_method_enum;not null;default:'card'"`
	GrossCents       int                 `gorm:"column:gross_cents;not null"`
	PlatformFeeCents int                 `gorm:"column:platform_fee_cents;not null;default:0"`
	NetReleaseCents  int                 `gorm:"column:net_release_cents;not null;default:0"`
	Currency         enums.Currency      `gorm:"column:currency;type:text;not null"`
	CaptureRef       *string             `gorm:"column:capture_ref;type:text"`
	ReleaseRef       *string             `gorm:"column:release_ref;type:text;uniqueIndex:ux_escrow_records_release_ref"`
	TransferRef      *string             `gorm:"column:transfer_ref;type:text"`
	FundedAt         *time.Time          `gorm:"column:funded_at"`
	ReleasedAt       *time.Time          `gorm:"column:released_at"`
	RefundedAt       *time.Time          `gorm:"column:refunded_at"`
	CreatedAt        time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
