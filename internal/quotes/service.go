package quotes

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradelane/backend/internal/audit"
	"github.com/tradelane/backend/internal/contracts"
	"github.com/tradelane/backend/internal/engine"
	"github.com/tradelane/backend/internal/trades"
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
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// SubmitInput is a seller's quote against an open RFQ.
type SubmitInput struct {
	TradeID        uuid.UUID `json:"-" validate:"required"`
	SupplierID     uuid.UUID `json:"-" validate:"required"`
	UnitPriceCents int       `json:"unit_price_cents" validate:"required,gt=0"`
	LeadTimeDays   int       `json:"lead_time_days" validate:"gte=0"`
	Incoterms      string    `json:"incoterms"`
	ActorID        uuid.UUID `json:"-"`
	ActorRole      string    `json:"-"`
}

// SelectInput is the buyer's acceptance of one quote.
type SelectInput struct {
	TradeID   uuid.UUID `json:"trade_id" validate:"required"`
	QuoteID   uuid.UUID `json:"quote_id" validate:"required"`
	ActorID   uuid.UUID `json:"-"`
	ActorRole string    `json:"-"`
}

// Service handles quote submission and selection. Selection creates the
// contract and moves the trade to contracted through the engine.
type Service interface {
	Submit(ctx context.Context, input SubmitInput) (*models.Quote, error)
	Select(ctx context.Context, input SelectInput) (*models.Contract, error)
	ListByTradeID(ctx context.Context, tradeID uuid.UUID) ([]models.Quote, error)
}

type service struct {
	repo      Repository
	trades    trades.Repository
	contracts contracts.Repository
	engine    engine.Service
	audit     audit.Service
	tx        txRunner
	outbox    outboxPublisher
}

// NewService builds a quote service with the required dependencies.
func NewService(
	repo Repository,
	tradeRepo trades.Repository,
	contractRepo contracts.Repository,
	eng engine.Service,
	auditSvc audit.Service,
	tx txRunner,
	ob outboxPublisher,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("quotes repository required")
	}
	if tradeRepo == nil {
		return nil, fmt.Errorf("trades repository required")
	}
	if contractRepo == nil {
		return nil, fmt.Errorf("contracts repository required")
	}
	if eng == nil {
		return nil, fmt.Errorf("engine required")
	}
	if auditSvc == nil {
		return nil, fmt.Errorf("audit service required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if ob == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{
		repo:      repo,
		trades:    tradeRepo,
		contracts: contractRepo,
		engine:    eng,
		audit:     auditSvc,
		tx:        tx,
		outbox:    ob,
	}, nil
}

// Submit records a quote. The first quote on an open RFQ moves the trade to
// quoted; later quotes leave the state alone.
func (s *service) Submit(ctx context.Context, input SubmitInput) (*models.Quote, error) {
	if input.TradeID == uuid.Nil || input.SupplierID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "trade id and supplier id required")
	}
	if input.UnitPriceCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unit price must be positive")
	}

	trade, err := s.trades.GetByID(ctx, input.TradeID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load trade")
	}
	if trade == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "trade not found")
	}
	if trade.State != enums.TradeStateRFQOpen && trade.State != enums.TradeStateQuoted {
		return nil, pkgerrors.New(pkgerrors.CodeGuardFailed, "trade is no longer accepting quotes").
			WithDetails(map[string]any{"precondition": "trade_accepting_quotes", "state": trade.State})
	}

	quote := &models.Quote{
		TradeID:        input.TradeID,
		SupplierID:     input.SupplierID,
		UnitPriceCents: input.UnitPriceCents,
		LeadTimeDays:   input.LeadTimeDays,
		Incoterms:      input.Incoterms,
		Status:         enums.QuoteStatusOpen,
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, quote); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create quote")
		}

		actorID := input.ActorID
		if _, err := s.audit.RecordEvent(ctx, tx, audit.RecordEventInput{
			TradeID:   input.TradeID,
			Type:      enums.TradeEventQuoteSubmitted,
			ActorID:   &actorID,
			ActorRole: input.ActorRole,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record audit event")
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventQuoteSubmitted,
			AggregateType: enums.AggregateTrade,
			AggregateID:   input.TradeID,
			Version:       1,
			Data: map[string]any{
				"quote_id":         quote.ID,
				"trade_id":         input.TradeID,
				"seller_id":        input.SupplierID,
				"unit_price_cents": input.UnitPriceCents,
				"lead_time_days":   input.LeadTimeDays,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	if trade.State == enums.TradeStateRFQOpen {
		actorID := input.ActorID
		if _, err := s.engine.RequestTransition(ctx, engine.TransitionInput{
			TradeID:   input.TradeID,
			Target:    enums.TradeStateQuoted,
			ActorID:   &actorID,
			ActorRole: input.ActorRole,
		}); err != nil {
			// A concurrent first quote may have already moved the trade.
			if !pkgerrors.HasCode(err, pkgerrors.CodeInvalidTransition) &&
				!pkgerrors.HasCode(err, pkgerrors.CodeTransitionInProgress) {
				return nil, err
			}
		}
	}
	return quote, nil
}

// Select accepts one quote: the quote locks to selected, competitors are
// rejected, the contract is drawn, and the trade moves quoted→contracted.
func (s *service) Select(ctx context.Context, input SelectInput) (*models.Contract, error) {
	if input.TradeID == uuid.Nil || input.QuoteID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "trade id and quote id required")
	}

	trade, err := s.trades.GetByID(ctx, input.TradeID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load trade")
	}
	if trade == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "trade not found")
	}
	if trade.State != enums.TradeStateQuoted {
		return nil, pkgerrors.New(pkgerrors.CodeGuardFailed, "quotes can only be selected while the trade is quoted").
			WithDetails(map[string]any{"precondition": "trade_quoted", "state": trade.State})
	}

	quote, err := s.repo.GetByID(ctx, input.QuoteID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load quote")
	}
	if quote == nil || quote.TradeID != input.TradeID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "quote not found for trade")
	}

	totalCents := quote.UnitPriceCents * trade.Quantity
	contract := &models.Contract{
		TradeID:    input.TradeID,
		QuoteID:    quote.ID,
		TotalCents: totalCents,
		Currency:   trade.Currency,
		Content:    buildContractContent(trade, quote),
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		selected, err := repo.MarkSelected(ctx, quote.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "select quote")
		}
		if !selected {
			return pkgerrors.New(pkgerrors.CodeConflict, "quote is no longer open")
		}
		if err := repo.RejectOthers(ctx, input.TradeID, quote.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reject competing quotes")
		}

		if err := s.contracts.WithTx(tx).Create(ctx, contract); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create contract")
		}

		tradeRepo := s.trades.WithTx(tx)
		if err := tradeRepo.SetSeller(ctx, input.TradeID, quote.SupplierID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "assign seller")
		}
		if err := tradeRepo.SetPricing(ctx, input.TradeID, quote.UnitPriceCents, totalCents); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record pricing")
		}

		actorID := input.ActorID
		if _, err := s.audit.RecordEvent(ctx, tx, audit.RecordEventInput{
			TradeID:   input.TradeID,
			Type:      enums.TradeEventQuoteSelected,
			ActorID:   &actorID,
			ActorRole: input.ActorRole,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record audit event")
		}

		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventQuoteSelected,
			AggregateType: enums.AggregateTrade,
			AggregateID:   input.TradeID,
			Version:       1,
			Data: map[string]any{
				"quote_id":  quote.ID,
				"trade_id":  input.TradeID,
				"buyer_id":  trade.BuyerID,
				"seller_id": quote.SupplierID,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	actorID := input.ActorID
	if _, err := s.engine.RequestTransition(ctx, engine.TransitionInput{
		TradeID:   input.TradeID,
		Target:    enums.TradeStateContracted,
		ActorID:   &actorID,
		ActorRole: input.ActorRole,
	}); err != nil {
		return nil, err
	}
	return contract, nil
}

func (s *service) ListByTradeID(ctx context.Context, tradeID uuid.UUID) ([]models.Quote, error) {
	if tradeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "trade id required")
	}
	return s.repo.ListByTradeID(ctx, tradeID)
}

func buildContractContent(trade *models.Trade, quote *models.Quote) string {
	return fmt.Sprintf(
		"Supply agreement: %d x %s at %d %s cents per unit, lead time %d days.",
		trade.Quantity, trade.ProductName, quote.UnitPriceCents, trade.Currency, quote.LeadTimeDays,
	)
}
