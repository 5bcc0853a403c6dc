package quotes

import (
	"context"
	"testing"
	"time"

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

type fakeQuoteRepo struct {
	quotes       map[uuid.UUID]*models.Quote
	selectStale  bool
	rejectCalled bool
}

func newFakeQuoteRepo() *fakeQuoteRepo {
	return &fakeQuoteRepo{quotes: make(map[uuid.UUID]*models.Quote)}
}

func (f *fakeQuoteRepo) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeQuoteRepo) Create(ctx context.Context, quote *models.Quote) error {
	if quote.ID == uuid.Nil {
		quote.ID = uuid.New()
	}
	f.quotes[quote.ID] = quote
	return nil
}

func (f *fakeQuoteRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Quote, error) {
	quote, ok := f.quotes[id]
	if !ok {
		return nil, nil
	}
	copied := *quote
	return &copied, nil
}

func (f *fakeQuoteRepo) ListByTradeID(ctx context.Context, tradeID uuid.UUID) ([]models.Quote, error) {
	var out []models.Quote
	for _, quote := range f.quotes {
		if quote.TradeID == tradeID {
			out = append(out, *quote)
		}
	}
	return out, nil
}

func (f *fakeQuoteRepo) MarkSelected(ctx context.Context, id uuid.UUID) (bool, error) {
	if f.selectStale {
		return false, nil
	}
	quote, ok := f.quotes[id]
	if !ok || quote.Status != enums.QuoteStatusOpen {
		return false, nil
	}
	quote.Status = enums.QuoteStatusSelected
	return true, nil
}

func (f *fakeQuoteRepo) RejectOthers(ctx context.Context, tradeID, selectedID uuid.UUID) error {
	f.rejectCalled = true
	for _, quote := range f.quotes {
		if quote.TradeID == tradeID && quote.ID != selectedID && quote.Status == enums.QuoteStatusOpen {
			quote.Status = enums.QuoteStatusRejected
		}
	}
	return nil
}

type fakeContractRepo struct {
	contracts map[uuid.UUID]*models.Contract
}

func newFakeContractRepo() *fakeContractRepo {
	return &fakeContractRepo{contracts: make(map[uuid.UUID]*models.Contract)}
}

func (f *fakeContractRepo) WithTx(tx *gorm.DB) contracts.Repository { return f }

func (f *fakeContractRepo) Create(ctx context.Context, contract *models.Contract) error {
	if contract.ID == uuid.Nil {
		contract.ID = uuid.New()
	}
	f.contracts[contract.TradeID] = contract
	return nil
}

func (f *fakeContractRepo) GetByTradeID(ctx context.Context, tradeID uuid.UUID) (*models.Contract, error) {
	return f.contracts[tradeID], nil
}

func (f *fakeContractRepo) SetBuyerSigned(ctx context.Context, id uuid.UUID, at time.Time) error {
	return nil
}

func (f *fakeContractRepo) SetSellerSigned(ctx context.Context, id uuid.UUID, at time.Time) error {
	return nil
}

type fakeTradeRepo struct {
	trade      *models.Trade
	sellerSet  *uuid.UUID
	pricingSet bool
	totalCents int
}

func (f *fakeTradeRepo) WithTx(tx *gorm.DB) trades.Repository              { return f }
func (f *fakeTradeRepo) Create(ctx context.Context, t *models.Trade) error { return nil }

func (f *fakeTradeRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Trade, error) {
	if f.trade == nil || f.trade.ID != id {
		return nil, nil
	}
	copied := *f.trade
	return &copied, nil
}

func (f *fakeTradeRepo) GetWithAssociations(ctx context.Context, id uuid.UUID) (*models.Trade, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeTradeRepo) ListByCompany(ctx context.Context, companyID uuid.UUID, limit int) ([]models.Trade, error) {
	return nil, nil
}

func (f *fakeTradeRepo) ListByState(ctx context.Context, state enums.TradeState, limit int) ([]models.Trade, error) {
	return nil, nil
}

func (f *fakeTradeRepo) AcquireTransitionLock(ctx context.Context, id uuid.UUID) (bool, error) {
	return true, nil
}

func (f *fakeTradeRepo) ReleaseTransitionLock(ctx context.Context, id uuid.UUID) error { return nil }

func (f *fakeTradeRepo) CommitState(ctx context.Context, id uuid.UUID, from, to enums.TradeState) (bool, error) {
	return true, nil
}

func (f *fakeTradeRepo) SetSeller(ctx context.Context, id, sellerID uuid.UUID) error {
	f.sellerSet = &sellerID
	return nil
}

func (f *fakeTradeRepo) SetPricing(ctx context.Context, id uuid.UUID, unitPriceCents, totalCents int) error {
	f.pricingSet = true
	f.totalCents = totalCents
	return nil
}

type fakeEngine struct {
	requests []engine.TransitionInput
	err      error
}

func (f *fakeEngine) RequestTransition(ctx context.Context, input engine.TransitionInput) (*models.Trade, error) {
	f.requests = append(f.requests, input)
	return nil, f.err
}

func (f *fakeEngine) RegisterEffect(from, to enums.TradeState, effect engine.EffectFunc) {}

type fakeAuditTrail struct {
	events []audit.RecordEventInput
}

func (f *fakeAuditTrail) RecordEvent(ctx context.Context, tx *gorm.DB, input audit.RecordEventInput) (*models.TradeEvent, error) {
	f.events = append(f.events, input)
	return &models.TradeEvent{TradeID: input.TradeID, Type: input.Type}, nil
}

func (f *fakeAuditTrail) ListByTradeID(ctx context.Context, tradeID uuid.UUID) ([]models.TradeEvent, error) {
	return nil, nil
}

func (f *fakeAuditTrail) HasEvent(ctx context.Context, tradeID uuid.UUID, eventType enums.TradeEventType) (bool, error) {
	return false, nil
}

type noopTx struct{}

func (noopTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error { return fn(nil) }

type fakeOutbox struct {
	events []outbox.DomainEvent
}

func (f *fakeOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeOutbox) EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	f.events = append(f.events, event)
	return nil
}

type quoteFixture struct {
	svc       Service
	repo      *fakeQuoteRepo
	contracts *fakeContractRepo
	trades    *fakeTradeRepo
	engine    *fakeEngine
	outbox    *fakeOutbox
	trade     *models.Trade
}

func newQuoteFixture(t *testing.T, state enums.TradeState) *quoteFixture {
	t.Helper()

	fix := &quoteFixture{
		repo:      newFakeQuoteRepo(),
		contracts: newFakeContractRepo(),
		engine:    &fakeEngine{},
		outbox:    &fakeOutbox{},
		trade: &models.Trade{
			ID:          uuid.New(),
			BuyerID:     uuid.New(),
			ProductName: "cocoa beans",
			Quantity:    40,
			Currency:    "USD",
			State:       state,
		},
	}
	fix.trades = &fakeTradeRepo{trade: fix.trade}

	svc, err := NewService(fix.repo, fix.trades, fix.contracts, fix.engine, &fakeAuditTrail{}, noopTx{}, fix.outbox)
	if err != nil {
		t.Fatalf("building quote service: %v", err)
	}
	fix.svc = svc
	return fix
}

func (fix *quoteFixture) openQuote(unitPriceCents int) *models.Quote {
	quote := &models.Quote{
		ID:             uuid.New(),
		TradeID:        fix.trade.ID,
		SupplierID:     uuid.New(),
		UnitPriceCents: unitPriceCents,
		LeadTimeDays:   14,
		Status:         enums.QuoteStatusOpen,
	}
	fix.repo.quotes[quote.ID] = quote
	return quote
}

func TestSubmitFirstQuoteMovesTradeToQuoted(t *testing.T) {
	fix := newQuoteFixture(t, enums.TradeStateRFQOpen)

	quote, err := fix.svc.Submit(context.Background(), SubmitInput{
		TradeID:        fix.trade.ID,
		SupplierID:     uuid.New(),
		UnitPriceCents: 2500,
		LeadTimeDays:   10,
		ActorID:        uuid.New(),
		ActorRole:      string(enums.ActorRoleSeller),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if quote.Status != enums.QuoteStatusOpen {
		t.Fatalf("status = %s, want open", quote.Status)
	}
	if len(fix.engine.requests) != 1 || fix.engine.requests[0].Target != enums.TradeStateQuoted {
		t.Fatalf("engine requests = %+v, want one quoted transition", fix.engine.requests)
	}
}

func TestSubmitLaterQuoteLeavesStateAlone(t *testing.T) {
	fix := newQuoteFixture(t, enums.TradeStateQuoted)

	_, err := fix.svc.Submit(context.Background(), SubmitInput{
		TradeID:        fix.trade.ID,
		SupplierID:     uuid.New(),
		UnitPriceCents: 2400,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(fix.engine.requests) != 0 {
		t.Fatal("later quotes must not drive the engine")
	}
}

func TestSubmitRacingFirstQuotesBothSucceed(t *testing.T) {
	fix := newQuoteFixture(t, enums.TradeStateRFQOpen)
	fix.engine.err = pkgerrors.New(pkgerrors.CodeInvalidTransition, "transition quoted → quoted is not allowed")

	_, err := fix.svc.Submit(context.Background(), SubmitInput{
		TradeID:        fix.trade.ID,
		SupplierID:     uuid.New(),
		UnitPriceCents: 2500,
	})
	if err != nil {
		t.Fatalf("racing submit must still succeed: %v", err)
	}
}

func TestSubmitRejectsClosedTrade(t *testing.T) {
	fix := newQuoteFixture(t, enums.TradeStateContracted)

	_, err := fix.svc.Submit(context.Background(), SubmitInput{
		TradeID:        fix.trade.ID,
		SupplierID:     uuid.New(),
		UnitPriceCents: 2500,
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeGuardFailed {
		t.Fatalf("expected guard failure, got %v", err)
	}
	if len(fix.repo.quotes) != 0 {
		t.Fatal("no quote row expected on a closed trade")
	}
}

func TestSelectDrawsContractAndLocksCompetitors(t *testing.T) {
	fix := newQuoteFixture(t, enums.TradeStateQuoted)
	winner := fix.openQuote(2500)
	loser := fix.openQuote(2600)

	contract, err := fix.svc.Select(context.Background(), SelectInput{
		TradeID:   fix.trade.ID,
		QuoteID:   winner.ID,
		ActorID:   uuid.New(),
		ActorRole: string(enums.ActorRoleBuyer),
	})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if contract.QuoteID != winner.ID {
		t.Fatalf("contract quote = %s, want %s", contract.QuoteID, winner.ID)
	}
	if contract.TotalCents != 2500*fix.trade.Quantity {
		t.Fatalf("total = %d, want %d", contract.TotalCents, 2500*fix.trade.Quantity)
	}
	if fix.repo.quotes[winner.ID].Status != enums.QuoteStatusSelected {
		t.Fatal("winning quote must be selected")
	}
	if fix.repo.quotes[loser.ID].Status != enums.QuoteStatusRejected {
		t.Fatal("competing quote must be rejected")
	}
	if fix.trades.sellerSet == nil || *fix.trades.sellerSet != winner.SupplierID {
		t.Fatal("seller must be assigned from the winning quote")
	}
	if !fix.trades.pricingSet || fix.trades.totalCents != contract.TotalCents {
		t.Fatal("trade pricing must match the contract")
	}
	if len(fix.engine.requests) != 1 || fix.engine.requests[0].Target != enums.TradeStateContracted {
		t.Fatalf("engine requests = %+v, want one contracted transition", fix.engine.requests)
	}
}

func TestSelectConflictsWhenQuoteNoLongerOpen(t *testing.T) {
	fix := newQuoteFixture(t, enums.TradeStateQuoted)
	quote := fix.openQuote(2500)
	fix.repo.selectStale = true

	_, err := fix.svc.Select(context.Background(), SelectInput{
		TradeID: fix.trade.ID,
		QuoteID: quote.ID,
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	if len(fix.engine.requests) != 0 {
		t.Fatal("a conflicting selection must not drive the engine")
	}
}

func TestSelectRejectsWrongTradeState(t *testing.T) {
	fix := newQuoteFixture(t, enums.TradeStateContracted)
	quote := fix.openQuote(2500)

	_, err := fix.svc.Select(context.Background(), SelectInput{
		TradeID: fix.trade.ID,
		QuoteID: quote.ID,
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeGuardFailed {
		t.Fatalf("expected guard failure, got %v", err)
	}
}

func TestSelectRejectsForeignQuote(t *testing.T) {
	fix := newQuoteFixture(t, enums.TradeStateQuoted)
	foreign := &models.Quote{
		ID:      uuid.New(),
		TradeID: uuid.New(),
		Status:  enums.QuoteStatusOpen,
	}
	fix.repo.quotes[foreign.ID] = foreign

	_, err := fix.svc.Select(context.Background(), SelectInput{
		TradeID: fix.trade.ID,
		QuoteID: foreign.ID,
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}
