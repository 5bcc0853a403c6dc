package quotes

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradelane/backend/pkg/db/models"
	"github.com/tradelane/backend/pkg/enums"
)

// Repository manages persistence for quotes.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, quote *models.Quote) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Quote, error)
	ListByTradeID(ctx context.Context, tradeID uuid.UUID) ([]models.Quote, error)
	MarkSelected(ctx context.Context, id uuid.UUID) (bool, error)
	RejectOthers(ctx context.Context, tradeID, selectedID uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a quote repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, quote *models.Quote) error {
	return r.db.WithContext(ctx).Create(quote).Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Quote, error) {
	var quote models.Quote
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&quote).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &quote, nil
}

func (r *repository) ListByTradeID(ctx context.Context, tradeID uuid.UUID) ([]models.Quote, error) {
	var rows []models.Quote
	err := r.db.WithContext(ctx).
		Where("trade_id = ?", tradeID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

// MarkSelected flips an open quote to selected. The status predicate plus the
// partial unique index keep a trade from holding two selected quotes.
func (r *repository) MarkSelected(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Quote{}).
		Where("id = ? AND status = ?", id, enums.QuoteStatusOpen).
		Update("status", enums.QuoteStatusSelected)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) RejectOthers(ctx context.Context, tradeID, selectedID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Quote{}).
		Where("trade_id = ? AND id <> ? AND status = ?", tradeID, selectedID, enums.QuoteStatusOpen).
		Update("status", enums.QuoteStatusRejected).Error
}
