package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradelane/backend/internal/audit"
	"github.com/tradelane/backend/internal/trades"
	"github.com/tradelane/backend/pkg/db/models"
	"github.com/tradelane/backend/pkg/enums"
	pkgerrors "github.com/tradelane/backend/pkg/errors"
	"github.com/tradelane/backend/pkg/outbox"
)

type fakeTradeRepo struct {
	trade        *models.Trade
	getErr       error
	lockDenied   bool
	lockReleased bool
	commitStale  bool
	commitCalls  int
}

func (f *fakeTradeRepo) WithTx(tx *gorm.DB) trades.Repository { return f }

func (f *fakeTradeRepo) Create(ctx context.Context, trade *models.Trade) error { return nil }

func (f *fakeTradeRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Trade, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
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
	return !f.lockDenied, nil
}

func (f *fakeTradeRepo) ReleaseTransitionLock(ctx context.Context, id uuid.UUID) error {
	f.lockReleased = true
	return nil
}

func (f *fakeTradeRepo) CommitState(ctx context.Context, id uuid.UUID, from, to enums.TradeState) (bool, error) {
	f.commitCalls++
	return !f.commitStale, nil
}

func (f *fakeTradeRepo) SetSeller(ctx context.Context, id uuid.UUID, sellerID uuid.UUID) error {
	return nil
}

func (f *fakeTradeRepo) SetPricing(ctx context.Context, id uuid.UUID, unitPriceCents, totalCents int) error {
	return nil
}

type fakeAuditService struct {
	events []audit.RecordEventInput
}

func (f *fakeAuditService) RecordEvent(ctx context.Context, tx *gorm.DB, input audit.RecordEventInput) (*models.TradeEvent, error) {
	f.events = append(f.events, input)
	return &models.TradeEvent{TradeID: input.TradeID, Type: input.Type}, nil
}

func (f *fakeAuditService) ListByTradeID(ctx context.Context, tradeID uuid.UUID) ([]models.TradeEvent, error) {
	return nil, nil
}

func (f *fakeAuditService) HasEvent(ctx context.Context, tradeID uuid.UUID, eventType enums.TradeEventType) (bool, error) {
	return false, nil
}

func (f *fakeAuditService) eventsOfType(eventType enums.TradeEventType) []audit.RecordEventInput {
	var out []audit.RecordEventInput
	for _, event := range f.events {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

type fakeTxRunner struct{}

func (fakeTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fakeOutbox struct {
	events []outbox.DomainEvent
}

func (f *fakeOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	f.events = append(f.events, event)
	return nil
}

type fakeContractChecker struct {
	signed bool
	err    error
}

func (f *fakeContractChecker) FullySigned(ctx context.Context, tradeID uuid.UUID) (bool, error) {
	return f.signed, f.err
}

type fakeEscrowChecker struct {
	funded   bool
	released bool
}

func (f *fakeEscrowChecker) IsFunded(ctx context.Context, tradeID uuid.UUID) (bool, error) {
	return f.funded, nil
}

func (f *fakeEscrowChecker) IsReleased(ctx context.Context, tradeID uuid.UUID) (bool, error) {
	return f.released, nil
}

type engineFixture struct {
	engine    Service
	repo      *fakeTradeRepo
	audit     *fakeAuditService
	outbox    *fakeOutbox
	contracts *fakeContractChecker
	escrow    *fakeEscrowChecker
	trade     *models.Trade
}

func newEngineFixture(t *testing.T, state enums.TradeState) *engineFixture {
	t.Helper()

	sellerID := uuid.New()
	trade := &models.Trade{
		ID:       uuid.New(),
		BuyerID:  uuid.New(),
		SellerID: &sellerID,
		State:    state,
		Version:  3,
	}
	fix := &engineFixture{
		repo:      &fakeTradeRepo{trade: trade},
		audit:     &fakeAuditService{},
		outbox:    &fakeOutbox{},
		contracts: &fakeContractChecker{signed: true},
		escrow:    &fakeEscrowChecker{funded: true, released: true},
		trade:     trade,
	}

	eng, err := NewService(fix.repo, fix.audit, fakeTxRunner{}, fix.outbox, fix.contracts, fix.escrow, nil, nil)
	if err != nil {
		t.Fatalf("building engine: %v", err)
	}
	fix.engine = eng
	return fix
}

func codeOf(t *testing.T, err error) pkgerrors.Code {
	t.Helper()
	typed := pkgerrors.As(err)
	if typed == nil {
		t.Fatalf("expected a typed error, got %v", err)
	}
	return typed.Code()
}

func TestRequestTransitionHappyPath(t *testing.T) {
	fix := newEngineFixture(t, enums.TradeStateRFQOpen)

	actorID := uuid.New()
	updated, err := fix.engine.RequestTransition(context.Background(), TransitionInput{
		TradeID:   fix.trade.ID,
		Target:    enums.TradeStateQuoted,
		ActorID:   &actorID,
		ActorRole: string(enums.ActorRoleSeller),
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if updated.State != enums.TradeStateQuoted {
		t.Fatalf("state = %s, want %s", updated.State, enums.TradeStateQuoted)
	}
	if updated.Version != fix.trade.Version+1 {
		t.Fatalf("version = %d, want %d", updated.Version, fix.trade.Version+1)
	}
	if updated.Transitioning {
		t.Fatal("transitioning flag should be cleared after commit")
	}
	if fix.repo.commitCalls != 1 {
		t.Fatalf("commit calls = %d, want 1", fix.repo.commitCalls)
	}

	changed := fix.audit.eventsOfType(enums.TradeEventStateChanged)
	if len(changed) != 1 {
		t.Fatalf("state_changed audit events = %d, want 1", len(changed))
	}
	if *changed[0].FromState != enums.TradeStateRFQOpen || *changed[0].ToState != enums.TradeStateQuoted {
		t.Fatalf("audit edge = %s → %s", *changed[0].FromState, *changed[0].ToState)
	}
	if len(fix.outbox.events) != 1 {
		t.Fatalf("outbox events = %d, want 1", len(fix.outbox.events))
	}
	if fix.outbox.events[0].EventType != enums.EventTradeStateChanged {
		t.Fatalf("outbox event type = %s", fix.outbox.events[0].EventType)
	}
}

func TestRequestTransitionFromTerminalState(t *testing.T) {
	fix := newEngineFixture(t, enums.TradeStateSettled)

	_, err := fix.engine.RequestTransition(context.Background(), TransitionInput{
		TradeID: fix.trade.ID,
		Target:  enums.TradeStateProduction,
	})
	if code := codeOf(t, err); code != pkgerrors.CodeInvalidTransition {
		t.Fatalf("code = %s, want %s", code, pkgerrors.CodeInvalidTransition)
	}
	if !fix.repo.lockReleased {
		t.Fatal("lock must be released after a rejected transition")
	}
	if fix.repo.commitCalls != 0 {
		t.Fatal("no commit expected for an invalid edge")
	}
}

func TestRequestTransitionLockContention(t *testing.T) {
	fix := newEngineFixture(t, enums.TradeStateProduction)
	fix.repo.lockDenied = true

	_, err := fix.engine.RequestTransition(context.Background(), TransitionInput{
		TradeID: fix.trade.ID,
		Target:  enums.TradeStateReadyForPickup,
	})
	if code := codeOf(t, err); code != pkgerrors.CodeTransitionInProgress {
		t.Fatalf("code = %s, want %s", code, pkgerrors.CodeTransitionInProgress)
	}
	if fix.repo.commitCalls != 0 {
		t.Fatal("no commit expected while another transition holds the lock")
	}
}

func TestRequestTransitionGuardBlocksUnsignedContract(t *testing.T) {
	fix := newEngineFixture(t, enums.TradeStateContracted)
	fix.contracts.signed = false

	_, err := fix.engine.RequestTransition(context.Background(), TransitionInput{
		TradeID: fix.trade.ID,
		Target:  enums.TradeStateEscrowRequired,
	})
	if code := codeOf(t, err); code != pkgerrors.CodeGuardFailed {
		t.Fatalf("code = %s, want %s", code, pkgerrors.CodeGuardFailed)
	}
	if !fix.repo.lockReleased {
		t.Fatal("lock must be released after a guard failure")
	}
	if len(fix.outbox.events) != 0 {
		t.Fatal("no outbox event expected for a blocked transition")
	}
}

func TestRequestTransitionGuardBlocksUnfundedEscrow(t *testing.T) {
	fix := newEngineFixture(t, enums.TradeStateEscrowRequired)
	fix.escrow.funded = false

	_, err := fix.engine.RequestTransition(context.Background(), TransitionInput{
		TradeID: fix.trade.ID,
		Target:  enums.TradeStateEscrowFunded,
	})
	if code := codeOf(t, err); code != pkgerrors.CodeGuardFailed {
		t.Fatalf("code = %s, want %s", code, pkgerrors.CodeGuardFailed)
	}
}

func TestRequestTransitionGuardBlocksUnreleasedSettlement(t *testing.T) {
	fix := newEngineFixture(t, enums.TradeStateDelivered)
	fix.escrow.released = false

	_, err := fix.engine.RequestTransition(context.Background(), TransitionInput{
		TradeID: fix.trade.ID,
		Target:  enums.TradeStateSettled,
	})
	if code := codeOf(t, err); code != pkgerrors.CodeGuardFailed {
		t.Fatalf("code = %s, want %s", code, pkgerrors.CodeGuardFailed)
	}
}

func TestRequestTransitionEffectFailure(t *testing.T) {
	fix := newEngineFixture(t, enums.TradeStateProduction)
	fix.engine.RegisterEffect(enums.TradeStateProduction, enums.TradeStateReadyForPickup,
		func(ctx context.Context, trade *models.Trade) error {
			return errors.New("carrier api timed out")
		})

	_, err := fix.engine.RequestTransition(context.Background(), TransitionInput{
		TradeID: fix.trade.ID,
		Target:  enums.TradeStateReadyForPickup,
	})
	if code := codeOf(t, err); code != pkgerrors.CodeExternalCallFailed {
		t.Fatalf("code = %s, want %s", code, pkgerrors.CodeExternalCallFailed)
	}
	if fix.repo.commitCalls != 0 {
		t.Fatal("state must not commit when the side effect fails")
	}
	if failed := fix.audit.eventsOfType(enums.TradeEventTransitionFailed); len(failed) != 1 {
		t.Fatalf("transition_failed audit events = %d, want 1", len(failed))
	}
	if !fix.repo.lockReleased {
		t.Fatal("lock must be released after an effect failure")
	}
}

func TestRequestTransitionEffectErrorCodePreserved(t *testing.T) {
	fix := newEngineFixture(t, enums.TradeStateProduction)
	fix.engine.RegisterEffect(enums.TradeStateProduction, enums.TradeStateReadyForPickup,
		func(ctx context.Context, trade *models.Trade) error {
			return pkgerrors.New(pkgerrors.CodePayoutDetailsMissing, "seller payout details missing")
		})

	_, err := fix.engine.RequestTransition(context.Background(), TransitionInput{
		TradeID: fix.trade.ID,
		Target:  enums.TradeStateReadyForPickup,
	})
	if code := codeOf(t, err); code != pkgerrors.CodePayoutDetailsMissing {
		t.Fatalf("code = %s, want %s", code, pkgerrors.CodePayoutDetailsMissing)
	}
}

func TestRequestTransitionStaleCommit(t *testing.T) {
	fix := newEngineFixture(t, enums.TradeStateInTransit)
	fix.repo.commitStale = true

	_, err := fix.engine.RequestTransition(context.Background(), TransitionInput{
		TradeID: fix.trade.ID,
		Target:  enums.TradeStateDelivered,
	})
	if code := codeOf(t, err); code != pkgerrors.CodeConflict {
		t.Fatalf("code = %s, want %s", code, pkgerrors.CodeConflict)
	}
	if !fix.repo.lockReleased {
		t.Fatal("lock must be released after a stale commit")
	}
}

func TestRequestTransitionUnknownTrade(t *testing.T) {
	fix := newEngineFixture(t, enums.TradeStateRFQOpen)

	_, err := fix.engine.RequestTransition(context.Background(), TransitionInput{
		TradeID: uuid.New(),
		Target:  enums.TradeStateQuoted,
	})
	if code := codeOf(t, err); code != pkgerrors.CodeNotFound {
		t.Fatalf("code = %s, want %s", code, pkgerrors.CodeNotFound)
	}
}

func TestCanTransitionTable(t *testing.T) {
	if !CanTransition(enums.TradeStateEscrowFunded, enums.TradeStateDisputed) {
		t.Fatal("funded trades must be disputable")
	}
	if CanTransition(enums.TradeStateQuoted, enums.TradeStateEscrowFunded) {
		t.Fatal("quoted trades cannot skip contracting")
	}
	if CanTransition(enums.TradeStateRefunded, enums.TradeStateRFQOpen) {
		t.Fatal("refunded is terminal")
	}
	if targets := AllowedTargets(enums.TradeStateSettled); len(targets) != 0 {
		t.Fatalf("settled should have no outbound edges, got %v", targets)
	}
}
