package contracts

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradelane/backend/pkg/db/models"
)

// Repository manages persistence for trade contracts.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, contract *models.Contract) error
	GetByTradeID(ctx context.Context, tradeID uuid.UUID) (*models.Contract, error)
	SetBuyerSigned(ctx context.Context, id uuid.UUID, at time.Time) error
	SetSellerSigned(ctx context.Context, id uuid.UUID, at time.Time) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a contract repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, contract *models.Contract) error {
	return r.db.WithContext(ctx).Create(contract).Error
}

func (r *repository) GetByTradeID(ctx context.Context, tradeID uuid.UUID) (*models.Contract, error) {
	var contract models.Contract
	err := r.db.WithContext(ctx).Where("trade_id = ?", tradeID).First(&contract).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &contract, nil
}

func (r *repository) SetBuyerSigned(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Contract{}).
		Where("id = ? AND buyer_signed_at IS NULL", id).
		Update("buyer_signed_at", at).Error
}

func (r *repository) SetSellerSigned(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Contract{}).
		Where("id = ? AND seller_signed_at IS NULL", id).
		Update("seller_signed_at", at).Error
}
