package trades

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradelane/backend/pkg/db/models"
	"github.com/tradelane/backend/pkg/enums"
)

// Repository manages persistence for trades.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, trade *models.Trade) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Trade, error)
	GetWithAssociations(ctx context.Context, id uuid.UUID) (*models.Trade, error)
	ListByCompany(ctx context.Context, companyID uuid.UUID, limit int) ([]models.Trade, error)
	ListByState(ctx context.Context, state enums.TradeState, limit int) ([]models.Trade, error)
	AcquireTransitionLock(ctx context.Context, id uuid.UUID) (bool, error)
	ReleaseTransitionLock(ctx context.Context, id uuid.UUID) error
	CommitState(ctx context.Context, id uuid.UUID, from, to enums.TradeState) (bool, error)
	SetSeller(ctx context.Context, id uuid.UUID, sellerID uuid.UUID) error
	SetPricing(ctx context.Context, id uuid.UUID, unitPriceCents, totalCents int) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a trade repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, trade *models.Trade) error {
	return r.db.WithContext(ctx).Create(trade).Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Trade, error) {
	var trade models.Trade
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&trade).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trade, nil
}

func (r *repository) GetWithAssociations(ctx context.Context, id uuid.UUID) (*models.Trade, error) {
	var trade models.Trade
	err := r.db.WithContext(ctx).
		Preload("Quotes").
		Preload("Contract").
		Where("id = ?", id).
		First(&trade).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trade, nil
}

func (r *repository) ListByCompany(ctx context.Context, companyID uuid.UUID, limit int) ([]models.Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.Trade
	err := r.db.WithContext(ctx).
		Where("buyer_id = ? OR seller_id = ?", companyID, companyID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListByState(ctx context.Context, state enums.TradeState, limit int) ([]models.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.Trade
	err := r.db.WithContext(ctx).
		Where("state = ?", state).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// AcquireTransitionLock flips the transitioning flag if it is clear. A false
// return means another transition holds the trade.
func (r *repository) AcquireTransitionLock(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Trade{}).
		Where("id = ? AND transitioning = false", id).
		Update("transitioning", true)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ReleaseTransitionLock(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Trade{}).
		Where("id = ?", id).
		Update("transitioning", false).Error
}

// CommitState writes the new state, bumps the version, and clears the
// transition flag in a single statement. The from-state predicate keeps a
// stale writer from clobbering a newer state.
func (r *repository) CommitState(ctx context.Context, id uuid.UUID, from, to enums.TradeState) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Trade{}).
		Where("id = ? AND state = ?", id, from).
		Updates(map[string]any{
			"state":         to,
			"transitioning": false,
			"version":       gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) SetSeller(ctx context.Context, id uuid.UUID, sellerID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Trade{}).
		Where("id = ?", id).
		Update("seller_id", sellerID).Error
}

func (r *repository) SetPricing(ctx context.Context, id uuid.UUID, unitPriceCents, totalCents int) error {
	return r.db.WithContext(ctx).
		Model(&models.Trade{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"unit_price_cents": unitPriceCents,
			"total_cents":      totalCents,
		}).Error
}
