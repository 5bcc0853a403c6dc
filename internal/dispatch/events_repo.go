package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradelane/backend/pkg/db"
	"github.com/tradelane/backend/pkg/db/models"
	"github.com/tradelane/backend/pkg/enums"
)

const requestedConstraint = "ux_dispatch_events_trade_requested"

// EventRepository appends to the dispatch coordination log.
type EventRepository interface {
	WithTx(tx *gorm.DB) EventRepository
	Insert(ctx context.Context, event *models.DispatchEvent) error
	InsertRequestIfNew(ctx context.Context, event *models.DispatchEvent) (bool, error)
	HasEvent(ctx context.Context, tradeID uuid.UUID, eventType enums.DispatchEventType) (bool, error)
	ListByTradeID(ctx context.Context, tradeID uuid.UUID) ([]models.DispatchEvent, error)
	ListTradeIDsAwaitingAssignment(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error)
}

type eventRepository struct {
	db *gorm.DB
}

// NewEventRepository returns a dispatch event repository bound to the provided database.
func NewEventRepository(gdb *gorm.DB) EventRepository {
	return &eventRepository{db: gdb}
}

func (r *eventRepository) WithTx(tx *gorm.DB) EventRepository {
	if tx == nil {
		return r
	}
	return &eventRepository{db: tx}
}

func (r *eventRepository) Insert(ctx context.Context, event *models.DispatchEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// InsertRequestIfNew appends the "requested" marker row. The partial unique
// index allows exactly one per trade; a replayed request returns false.
func (r *eventRepository) InsertRequestIfNew(ctx context.Context, event *models.DispatchEvent) (bool, error) {
	err := r.db.WithContext(ctx).Create(event).Error
	if err != nil {
		if db.IsUniqueViolation(err, requestedConstraint) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *eventRepository) HasEvent(ctx context.Context, tradeID uuid.UUID, eventType enums.DispatchEventType) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.DispatchEvent{}).
		Where("trade_id = ? AND type = ?", tradeID, eventType).
		Count(&count).Error
	return count > 0, err
}

func (r *eventRepository) ListByTradeID(ctx context.Context, tradeID uuid.UUID) ([]models.DispatchEvent, error) {
	var rows []models.DispatchEvent
	err := r.db.WithContext(ctx).
		Where("trade_id = ?", tradeID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

// ListTradeIDsAwaitingAssignment returns trades whose dispatch request has
// gone unanswered, for the retry sweep.
func (r *eventRepository) ListTradeIDsAwaitingAssignment(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.DispatchEvent{}).
		Where("type = ? AND created_at < ?", enums.DispatchEventRequested, before).
		Where("trade_id NOT IN (?)", r.db.Session(&gorm.Session{NewDB: true}).
			Model(&models.DispatchEvent{}).
			Select("trade_id").
			Where("type = ?", enums.DispatchEventShipmentAssigned)).
		Limit(limit).
		Pluck("trade_id", &ids).Error
	return ids, err
}
