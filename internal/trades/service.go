package trades

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradelane/backend/pkg/db/models"
	"github.com/tradelane/backend/pkg/enums"
	pkgerrors "github.com/tradelane/backend/pkg/errors"
	"github.com/tradelane/backend/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service defines trade-level operations outside the settlement engine.
type Service interface {
	Create(ctx context.Context, input CreateTradeInput) (*models.Trade, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Trade, error)
	ListByCompany(ctx context.Context, companyID uuid.UUID, limit int) ([]models.Trade, error)
}

// CreateTradeInput captures the buyer's RFQ.
type CreateTradeInput struct {
	BuyerID       uuid.UUID      `json:"-" validate:"required"`
	ProductName   string         `json:"product_name" validate:"required"`
	Quantity      int            `json:"quantity" validate:"required,gt=0"`
	Currency      enums.Currency `json:"currency"`
	PickupCity    string         `json:"pickup_city"`
	CargoType     string         `json:"cargo_type"`
	CargoWeightKg int            `json:"cargo_weight_kg"`
	CargoVolumeM3 int            `json:"cargo_volume_m3"`
	ActorID       uuid.UUID      `json:"-"`
	ActorRole     string         `json:"-"`
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outboxPublisher
}

// NewService builds a trade service with the required dependencies.
func NewService(repo Repository, tx txRunner, ob outboxPublisher) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("trades repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if ob == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{repo: repo, tx: tx, outbox: ob}, nil
}

func (s *service) Create(ctx context.Context, input CreateTradeInput) (*models.Trade, error) {
	if input.BuyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer id required")
	}
	if strings.TrimSpace(input.ProductName) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product name required")
	}
	if input.Quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	currency := input.Currency
	if currency == "" {
		currency = enums.CurrencyUSD
	}
	if !currency.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported currency")
	}

	trade := &models.Trade{
		BuyerID:       input.BuyerID,
		ProductName:   strings.TrimSpace(input.ProductName),
		Quantity:      input.Quantity,
		Currency:      currency,
		State:         enums.TradeStateRFQOpen,
		PickupCity:    strings.TrimSpace(input.PickupCity),
		CargoType:     strings.TrimSpace(input.CargoType),
		CargoWeightKg: input.CargoWeightKg,
		CargoVolumeM3: input.CargoVolumeM3,
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.Create(ctx, trade); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create trade")
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventTradeCreated,
			AggregateType: enums.AggregateTrade,
			AggregateID:   trade.ID,
			Actor:         buildActor(input.ActorID, input.BuyerID, input.ActorRole),
			Version:       1,
			Data: map[string]any{
				"trade_id":     trade.ID,
				"buyer_id":     trade.BuyerID,
				"product_name": trade.ProductName,
				"quantity":     trade.Quantity,
				"currency":     trade.Currency,
			},
		}
		return s.outbox.Emit(ctx, tx, event)
	})
	if err != nil {
		return nil, err
	}
	return trade, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Trade, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "trade id required")
	}
	trade, err := s.repo.GetWithAssociations(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load trade")
	}
	if trade == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "trade not found")
	}
	return trade, nil
}

func (s *service) ListByCompany(ctx context.Context, companyID uuid.UUID, limit int) ([]models.Trade, error) {
	if companyID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "company id required")
	}
	return s.repo.ListByCompany(ctx, companyID, limit)
}

func buildActor(userID, companyID uuid.UUID, role string) *outbox.ActorRef {
	if userID == uuid.Nil {
		return nil
	}
	actor := &outbox.ActorRef{UserID: userID, Role: role}
	if companyID != uuid.Nil {
		cid := companyID
		actor.CompanyID = &cid
	}
	return actor
}
