package escrow

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradelane/backend/pkg/db"
	"github.com/tradelane/backend/pkg/db/models"
	"github.com/tradelane/backend/pkg/enums"
)

const releaseRefConstraint = "ux_escrow_events_reference"

// EventRepository appends to the immutable escrow ledger.
type EventRepository interface {
	WithTx(tx *gorm.DB) EventRepository
	Insert(ctx context.Context, event *models.EscrowEvent) error
	InsertIfNewReference(ctx context.Context, event *models.EscrowEvent) (bool, error)
	HasEvent(ctx context.Context, recordID uuid.UUID, eventType enums.EscrowEventType) (bool, error)
	ListByTradeID(ctx context.Context, tradeID uuid.UUID) ([]models.EscrowEvent, error)
	ListRecordIDsWithType(ctx context.Context, eventType enums.EscrowEventType, limit int) ([]uuid.UUID, error)
}

type eventRepository struct {
	db *gorm.DB
}

// NewEventRepository returns an escrow event repository bound to the provided database.
func NewEventRepository(gdb *gorm.DB) EventRepository {
	return &eventRepository{db: gdb}
}

func (r *eventRepository) WithTx(tx *gorm.DB) EventRepository {
	if tx == nil {
		return r
	}
	return &eventRepository{db: tx}
}

func (r *eventRepository) Insert(ctx context.Context, event *models.EscrowEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// InsertIfNewReference appends the event unless its reference was already
// written. Returns false when a previous attempt got there first.
func (r *eventRepository) InsertIfNewReference(ctx context.Context, event *models.EscrowEvent) (bool, error) {
	err := r.db.WithContext(ctx).Create(event).Error
	if err != nil {
		if db.IsUniqueViolation(err, releaseRefConstraint) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *eventRepository) HasEvent(ctx context.Context, recordID uuid.UUID, eventType enums.EscrowEventType) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.EscrowEvent{}).
		Where("escrow_record_id = ? AND type = ?", recordID, eventType).
		Count(&count).Error
	return count > 0, err
}

func (r *eventRepository) ListByTradeID(ctx context.Context, tradeID uuid.UUID) ([]models.EscrowEvent, error) {
	var rows []models.EscrowEvent
	err := r.db.WithContext(ctx).
		Where("trade_id = ?", tradeID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *eventRepository) ListRecordIDsWithType(ctx context.Context, eventType enums.EscrowEventType, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.EscrowEvent{}).
		Distinct("escrow_record_id").
		Where("type = ?", eventType).
		Limit(limit).
		Pluck("escrow_record_id", &ids).Error
	return ids, err
}
