package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/tradelane/backend/pkg/enums"
)

// Contract is generated when a quote is selected. It is mutated only by
// signature events and never deleted.
type Contract struct {
	ID             uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TradeID        uuid.UUID      `gorm:"column:trade_id;type:uuid;not null;uniqueIndex"`
	QuoteID        uuid.UUID      `gorm:"column:quote_id;type:uuid;not null"`
	TotalCents     int            `gorm:"column:total_cents;not null"`
	Currency       enums.Currency `gorm:"column:currency;type:text;not null"`
	Content        string         `gorm:"column:content;type:text;not null"`
	BuyerSignedAt  *time.Time     `gorm:"column:buyer_signed_at"`
	SellerSignedAt *time.Time     `gorm:"column:seller_signed_at"`
	CreatedAt      time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

// FullySigned reports whether both parties have signed.
func (c *Contract) FullySigned() bool {
	return c != nil && c.BuyerSignedAt != nil && c.SellerSignedAt != nil
}
