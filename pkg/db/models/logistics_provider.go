package models

import (
	"time"

	"github.com/google/uuid"
)

// LogisticsProvider is a verified transporter available for dispatch matching.
// VehicleTypes is a comma-separated set; matching happens in the repository.
type LogisticsProvider struct {
	ID            uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CompanyID     uuid.UUID  `gorm:"column:company_id;type:uuid;not null"`
	City          string     `gorm:"column:city;type:text;not null"`
	VehicleTypes  string     `gorm:"column:vehicle_types;type:text;not null"`
	Verified      bool       `gorm:"column:verified;not null;default:false"`
	Available     bool       `gorm:"column:available;not null;default:true"`
	ResponseScore int        `gorm:"column:response_score;not null;default:0"`
	PushEnabled   bool       `gorm:"column:push_enabled;not null;default:false"`
	Phone         *string    `gorm:"column:phone;type:text"`
	LastActiveAt  *time.Time `gorm:"column:last_active_at"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
