package models

import (
	"encoding/json"
	"time"
)

// PaymentWebhookEvent is the durable dedup record for provider callbacks.
// The provider event id is unique, so re-delivery inserts are no-ops.
type PaymentWebhookEvent struct {
	ID          int64           `gorm:"column:id;primaryKey;autoIncrement"`
	ProviderID  string          `gorm:"column:provider_event_id;type:text;not null;uniqueIndex:ux_payment_webhook_events_provider_id"`
	Provider    string          `gorm:"column:provider;type:text;not null"`
	Type        string          `gorm:"column:type;type:text;not null"`
	Payload     json.RawMessage `gorm:"column:payload;type:jsonb;not null"`
	ProcessedAt *time.Time      `gorm:"column:processed_at"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
}
