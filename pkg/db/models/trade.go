package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/tradelane/backend/pkg/enums"
)

// Trade is the aggregate root for a buyer/seller deal moving through the
// settlement lifecycle. Amount and currency are immutable once escrow funds.
type Trade struct {
	ID             uuid.UUID        `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	BuyerID        uuid.UUID        `gorm:"column:buyer_id;type:uuid;not null"`
	SellerID       *uuid.UUID       `gorm:"column:seller_id;type:uuid"`
	ProductName    string           `gorm:"column:product_name;type:text;not null"`
	Quantity       int              `gorm:"column:quantity;not null"`
	UnitPriceCents int              `gorm:"column:unit_price_cents;not null;default:0"`
	TotalCents     int              `gorm:"column:total_cents;not null;default:0"`
	Currency       enums.Currency   `gorm:"column:currency;type:text;not null;default:'USD'"`
	State          enums.TradeState `gorm:"column:state;type:trade_state_enum;not null;default:'rfq_open'"`
	PickupCity     string           `gorm:"column:pickup_city;type:text"`
	CargoType      string           `gorm:"column:cargo_type;type:text"`
	CargoWeightKg  int              `gorm:"column:cargo_weight_kg;not null;default:0"`
	CargoVolumeM3  int              `gorm:"column:cargo_volume_m3;not null;default:0"`
	Transitioning  bool             `gorm:"column:transitioning;not null;default:false"`
	Version        int              `gorm:"column:version;not null;default:0"`
	Quotes         []Quote          `gorm:"foreignKey:TradeID;constraint:OnDelete:CASCADE"`
	Contract       *Contract        `gorm:"foreignKey:TradeID;constraint:OnDelete:CASCADE"`
	CreatedAt      time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}
