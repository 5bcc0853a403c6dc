package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/tradelane/backend/pkg/enums"
)

// Company is a directory entry for a buyer, seller, or logistics operator.
type Company struct {
	ID                 uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name               string                   `gorm:"column:name;type:text;not null"`
	Email              string                   `gorm:"column:email;type:text;not null"`
	Phone              *string                  `gorm:"column:phone;type:text"`
	City               string                   `gorm:"column:city;type:text"`
	Country            string                   `gorm:"column:country;type:text"`
	VerificationStatus enums.VerificationStatus `gorm:"column:verification_status;type:verification_status_enum;not null;default:'pending'"`
	PayoutBankCode     *string                  `gorm:"column:payout_bank_code;type:text"`
	PayoutAccount      *string                  `gorm:"column:payout_account;type:text"`
	PayoutAccountName  *string                  `gorm:"column:payout_account_name;type:text"`
	CreatedAt          time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

// HasPayoutDetails reports whether an escrow release can target this company.
func (c *Company) HasPayoutDetails() bool {
	return c != nil &&
		c.PayoutBankCode != nil && *c.PayoutBankCode != "" &&
		c.PayoutAccount != nil && *c.PayoutAccount != ""
}
