package escrow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradelane/backend/pkg/db/models"
	"github.com/tradelane/backend/pkg/enums"
)

// Repository manages persistence for escrow records.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, record *models.EscrowRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.EscrowRecord, error)
	GetByTradeID(ctx context.Context, tradeID uuid.UUID) (*models.EscrowRecord, error)
	GetByReleaseRef(ctx context.Context, ref string) (*models.EscrowRecord, error)
	MarkFunded(ctx context.Context, id uuid.UUID, captureRef string, method enums.PaymentMethod, feeCents, netCents int, at time.Time) (bool, error)
	SetReleaseRef(ctx context.Context, id uuid.UUID, ref string) (bool, error)
	MarkReleased(ctx context.Context, id uuid.UUID, transferRef string, at time.Time) (bool, error)
	MarkRefunded(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	ListStuckReleases(ctx context.Context, before time.Time, limit int) ([]models.EscrowRecord, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an escrow record repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, record *models.EscrowRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*models.EscrowRecord, error) {
	return r.getOne(ctx, "id = ?", id)
}

func (r *repository) GetByTradeID(ctx context.Context, tradeID uuid.UUID) (*models.EscrowRecord, error) {
	return r.getOne(ctx, "trade_id = ?", tradeID)
}

func (r *repository) GetByReleaseRef(ctx context.Context, ref string) (*models.EscrowRecord, error) {
	return r.getOne(ctx, "release_ref = ?", ref)
}

func (r *repository) getOne(ctx context.Context, query string, arg any) (*models.EscrowRecord, error) {
	var record models.EscrowRecord
	err := r.db.WithContext(ctx).Where(query, arg).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// MarkFunded moves a pending record to funded and locks in the fee split. The
// status predicate makes a replayed capture webhook a no-op.
func (r *repository) MarkFunded(ctx context.Context, id uuid.UUID, captureRef string, method enums.PaymentMethod, feeCents, netCents int, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.EscrowRecord{}).
		Where("id = ? AND status = ?", id, enums.EscrowStatusPending).
		Updates(map[string]any{
			"status":             enums.EscrowStatusFunded,
			"method":             method,
			"capture_ref":        captureRef,
			"platform_fee_cents": feeCents,
			"net_release_cents":  netCents,
			"funded_at":          at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SetReleaseRef claims the release reference. The NULL predicate plus the
// unique index keep two release attempts from racing past each other.
func (r *repository) SetReleaseRef(ctx context.Context, id uuid.UUID, ref string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.EscrowRecord{}).
		Where("id = ? AND release_ref IS NULL", id).
		Update("release_ref", ref)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) MarkReleased(ctx context.Context, id uuid.UUID, transferRef string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.EscrowRecord{}).
		Where("id = ? AND status = ?", id, enums.EscrowStatusFunded).
		Updates(map[string]any{
			"status":       enums.EscrowStatusReleased,
			"transfer_ref": transferRef,
			"released_at":  at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) MarkRefunded(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.EscrowRecord{}).
		Where("id = ? AND status = ?", id, enums.EscrowStatusFunded).
		Updates(map[string]any{
			"status":      enums.EscrowStatusRefunded,
			"refunded_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListStuckReleases returns funded records whose transfer was initiated but
// never confirmed, for the reconciliation sweep.
func (r *repository) ListStuckReleases(ctx context.Context, before time.Time, limit int) ([]models.EscrowRecord, error) {
	var rows []models.EscrowRecord
	err := r.db.WithContext(ctx).
		Where("status = ? AND release_ref IS NOT NULL AND updated_at < ?", enums.EscrowStatusFunded, before).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
