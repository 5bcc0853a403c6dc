package audit

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradelane/backend/pkg/db/models"
	"github.com/tradelane/backend/pkg/enums"
)

// Repository manages persistence for the trade audit log.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, event *models.TradeEvent) error
	ListByTradeID(ctx context.Context, tradeID uuid.UUID) ([]models.TradeEvent, error)
	CountByType(ctx context.Context, tradeID uuid.UUID, eventType enums.TradeEventType) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an audit repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, event *models.TradeEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) ListByTradeID(ctx context.Context, tradeID uuid.UUID) ([]models.TradeEvent, error) {
	var events []models.TradeEvent
	if err := r.db.WithContext(ctx).
		Where("trade_id = ?", tradeID).
		Order("created_at ASC").
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repository) CountByType(ctx context.Context, tradeID uuid.UUID, eventType enums.TradeEventType) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.TradeEvent{}).
		Where("trade_id = ? AND type = ?", tradeID, eventType).
		Count(&count).Error
	return count, err
}
