package payments

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tradelane/backend/pkg/db"
	"github.com/tradelane/backend/pkg/db/models"
)

const providerEventConstraint = "ux_payment_webhook_events_provider_id"

// Repository stores the durable webhook dedup rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	InsertIfNew(ctx context.Context, event *models.PaymentWebhookEvent) (bool, error)
	GetByProviderID(ctx context.Context, providerID string) (*models.PaymentWebhookEvent, error)
	MarkProcessed(ctx context.Context, id int64) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a webhook event repository bound to the provided database.
func NewRepository(gdb *gorm.DB) Repository {
	return &repository{db: gdb}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// InsertIfNew stores the webhook row unless the provider event id was already
// seen. Returns false on a re-delivery.
func (r *repository) InsertIfNew(ctx context.Context, event *models.PaymentWebhookEvent) (bool, error) {
	err := r.db.WithContext(ctx).Create(event).Error
	if err != nil {
		if db.IsUniqueViolation(err, providerEventConstraint) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *repository) GetByProviderID(ctx context.Context, providerID string) (*models.PaymentWebhookEvent, error) {
	var event models.PaymentWebhookEvent
	err := r.db.WithContext(ctx).
		Where("provider_event_id = ?", providerID).
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

func (r *repository) MarkProcessed(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&models.PaymentWebhookEvent{}).
		Where("id = ?", id).
		Update("processed_at", now).Error
}
