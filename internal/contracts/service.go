package contracts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradelane/backend/internal/audit"
	"github.com/tradelane/backend/pkg/db/models"
	"github.com/tradelane/backend/pkg/enums"
	pkgerrors "github.com/tradelane/backend/pkg/errors"
	"github.com/tradelane/backend/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// SigningParty identifies which side of the trade is signing.
type SigningParty string

const (
	SigningPartyBuyer  SigningParty = "buyer"
	SigningPartySeller SigningParty = "seller"
)

// SignInput carries one signature action.
type SignInput struct {
	TradeID   uuid.UUID
	Party     SigningParty
	ActorID   uuid.UUID
	ActorRole string
}

// Service manages contract signatures. Contract creation happens during quote
// selection; this service only mutates signature timestamps.
type Service interface {
	GetByTradeID(ctx context.Context, tradeID uuid.UUID) (*models.Contract, error)
	Sign(ctx context.Context, input SignInput) (*models.Contract, error)
	FullySigned(ctx context.Context, tradeID uuid.UUID) (bool, error)
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outboxPublisher
	audit  audit.Service
}

// NewService builds a contract service with the required dependencies.
func NewService(repo Repository, tx txRunner, ob outboxPublisher, auditSvc audit.Service) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("contracts repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if ob == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if auditSvc == nil {
		return nil, fmt.Errorf("audit service required")
	}
	return &service{repo: repo, tx: tx, outbox: ob, audit: auditSvc}, nil
}

func (s *service) GetByTradeID(ctx context.Context, tradeID uuid.UUID) (*models.Contract, error) {
	if tradeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "trade id required")
	}
	contract, err := s.repo.GetByTradeID(ctx, tradeID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load contract")
	}
	if contract == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "contract not found")
	}
	return contract, nil
}

// Sign records one party's signature. Re-signing is a no-op. Once both
// signatures are present, a contract_signed audit row and outbox event are
// emitted exactly once.
func (s *service) Sign(ctx context.Context, input SignInput) (*models.Contract, error) {
	if input.TradeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "trade id required")
	}
	if input.Party != SigningPartyBuyer && input.Party != SigningPartySeller {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown signing party")
	}

	contract, err := s.GetByTradeID(ctx, input.TradeID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		switch input.Party {
		case SigningPartyBuyer:
			if contract.BuyerSignedAt != nil {
				return nil
			}
			if err := repo.SetBuyerSigned(ctx, contract.ID, now); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record buyer signature")
			}
			contract.BuyerSignedAt = &now
		case SigningPartySeller:
			if contract.SellerSignedAt != nil {
				return nil
			}
			if err := repo.SetSellerSigned(ctx, contract.ID, now); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record seller signature")
			}
			contract.SellerSignedAt = &now
		}

		if !contract.FullySigned() {
			return nil
		}

		actorID := input.ActorID
		if _, err := s.audit.RecordEvent(ctx, tx, audit.RecordEventInput{
			TradeID:   input.TradeID,
			Type:      enums.TradeEventContractSigned,
			ActorID:   &actorID,
			ActorRole: input.ActorRole,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record audit event")
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventContractSigned,
			AggregateType: enums.AggregateTrade,
			AggregateID:   input.TradeID,
			Version:       1,
			Data: map[string]any{
				"contract_id": contract.ID,
				"trade_id":    input.TradeID,
				"signed_at":   now,
			},
		}
		return s.outbox.EmitIfNotExists(ctx, tx, event)
	})
	if err != nil {
		return nil, err
	}
	return contract, nil
}

// FullySigned satisfies the engine's contract guard.
func (s *service) FullySigned(ctx context.Context, tradeID uuid.UUID) (bool, error) {
	contract, err := s.repo.GetByTradeID(ctx, tradeID)
	if err != nil {
		return false, err
	}
	return contract.FullySigned(), nil
}
