package dispatch

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradelane/backend/pkg/db/models"
	"github.com/tradelane/backend/pkg/enums"
)

// ProviderRepository manages the logistics provider directory.
type ProviderRepository interface {
	WithTx(tx *gorm.DB) ProviderRepository
	Create(ctx context.Context, provider *models.LogisticsProvider) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.LogisticsProvider, error)
	Match(ctx context.Context, city string, vehicles []enums.VehicleType, limit int) ([]models.LogisticsProvider, error)
	SetAvailability(ctx context.Context, id uuid.UUID, available bool) error
	AdjustResponseScore(ctx context.Context, id uuid.UUID, delta int) error
}

type providerRepository struct {
	db *gorm.DB
}

// NewProviderRepository returns a provider repository bound to the provided database.
func NewProviderRepository(db *gorm.DB) ProviderRepository {
	return &providerRepository{db: db}
}

func (r *providerRepository) WithTx(tx *gorm.DB) ProviderRepository {
	if tx == nil {
		return r
	}
	return &providerRepository{db: tx}
}

func (r *providerRepository) Create(ctx context.Context, provider *models.LogisticsProvider) error {
	return r.db.WithContext(ctx).Create(provider).Error
}

func (r *providerRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.LogisticsProvider, error) {
	var provider models.LogisticsProvider
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&provider).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &provider, nil
}

// Match returns verified, available providers in the pickup city that operate
// at least one acceptable vehicle type, best responders first.
func (r *providerRepository) Match(ctx context.Context, city string, vehicles []enums.VehicleType, limit int) ([]models.LogisticsProvider, error) {
	query := r.db.WithContext(ctx).
		Where("city = ? AND verified = true AND available = true", city)

	if len(vehicles) > 0 {
		vehicleMatch := r.db.Session(&gorm.Session{NewDB: true})
		for i, vehicle := range vehicles {
			pattern := "%" + string(vehicle) + "%"
			if i == 0 {
				vehicleMatch = vehicleMatch.Where("vehicle_types LIKE ?", pattern)
			} else {
				vehicleMatch = vehicleMatch.Or("vehicle_types LIKE ?", pattern)
			}
		}
		query = query.Where(vehicleMatch)
	}

	var providers []models.LogisticsProvider
	err := query.
		Order("response_score DESC, last_active_at DESC NULLS LAST").
		Limit(limit).
		Find(&providers).Error
	return providers, err
}

func (r *providerRepository) SetAvailability(ctx context.Context, id uuid.UUID, available bool) error {
	return r.db.WithContext(ctx).
		Model(&models.LogisticsProvider{}).
		Where("id = ?", id).
		Update("available", available).Error
}

func (r *providerRepository) AdjustResponseScore(ctx context.Context, id uuid.UUID, delta int) error {
	return r.db.WithContext(ctx).
		Model(&models.LogisticsProvider{}).
		Where("id = ?", id).
		Update("response_score", gorm.Expr("response_score + ?", delta)).Error
}
