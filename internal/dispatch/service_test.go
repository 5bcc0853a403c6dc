package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradelane/backend/internal/audit"
	"github.com/tradelane/backend/internal/engine"
	"github.com/tradelane/backend/internal/trades"
	"github.com/tradelane/backend/pkg/config"
	"github.com/tradelane/backend/pkg/db/models"
	"github.com/tradelane/backend/pkg/enums"
	pkgerrors "github.com/tradelane/backend/pkg/errors"
	"github.com/tradelane/backend/pkg/outbox"
)

type fakeProviderRepo struct {
	providers    map[uuid.UUID]*models.LogisticsProvider
	matched      []models.LogisticsProvider
	scoreDeltas  map[uuid.UUID]int
	availability map[uuid.UUID]bool
}

func newFakeProviderRepo() *fakeProviderRepo {
	return &fakeProviderRepo{
		providers:    make(map[uuid.UUID]*models.LogisticsProvider),
		scoreDeltas:  make(map[uuid.UUID]int),
		availability: make(map[uuid.UUID]bool),
	}
}

func (f *fakeProviderRepo) WithTx(tx *gorm.DB) ProviderRepository { return f }

func (f *fakeProviderRepo) Create(ctx context.Context, provider *models.LogisticsProvider) error {
	f.providers[provider.ID] = provider
	return nil
}

func (f *fakeProviderRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.LogisticsProvider, error) {
	return f.providers[id], nil
}

func (f *fakeProviderRepo) Match(ctx context.Context, city string, vehicles []enums.VehicleType, limit int) ([]models.LogisticsProvider, error) {
	if len(f.matched) > limit {
		return f.matched[:limit], nil
	}
	return f.matched, nil
}

func (f *fakeProviderRepo) SetAvailability(ctx context.Context, id uuid.UUID, available bool) error {
	f.availability[id] = available
	return nil
}

func (f *fakeProviderRepo) AdjustResponseScore(ctx context.Context, id uuid.UUID, delta int) error {
	f.scoreDeltas[id] += delta
	return nil
}

type fakeDispatchEvents struct {
	events []models.DispatchEvent
}

func (f *fakeDispatchEvents) WithTx(tx *gorm.DB) EventRepository { return f }

func (f *fakeDispatchEvents) Insert(ctx context.Context, event *models.DispatchEvent) error {
	event.ID = uuid.New()
	f.events = append(f.events, *event)
	return nil
}

func (f *fakeDispatchEvents) InsertRequestIfNew(ctx context.Context, event *models.DispatchEvent) (bool, error) {
	for _, existing := range f.events {
		if existing.TradeID == event.TradeID && existing.Type == enums.DispatchEventRequested {
			return false, nil
		}
	}
	return true, f.Insert(ctx, event)
}

func (f *fakeDispatchEvents) HasEvent(ctx context.Context, tradeID uuid.UUID, eventType enums.DispatchEventType) (bool, error) {
	for _, event := range f.events {
		if event.TradeID == tradeID && event.Type == eventType {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeDispatchEvents) ListByTradeID(ctx context.Context, tradeID uuid.UUID) ([]models.DispatchEvent, error) {
	var out []models.DispatchEvent
	for _, event := range f.events {
		if event.TradeID == tradeID {
			out = append(out, event)
		}
	}
	return out, nil
}

func (f *fakeDispatchEvents) ListTradeIDsAwaitingAssignment(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	return nil, nil
}

func (f *fakeDispatchEvents) countOfType(eventType enums.DispatchEventType) int {
	count := 0
	for _, event := range f.events {
		if event.Type == eventType {
			count++
		}
	}
	return count
}

type fakeTradeSource struct {
	trade *models.Trade
}

func (f *fakeTradeSource) WithTx(tx *gorm.DB) trades.Repository              { return f }
func (f *fakeTradeSource) Create(ctx context.Context, t *models.Trade) error { return nil }

func (f *fakeTradeSource) GetByID(ctx context.Context, id uuid.UUID) (*models.Trade, error) {
	if f.trade == nil || f.trade.ID != id {
		return nil, nil
	}
	copied := *f.trade
	return &copied, nil
}

func (f *fakeTradeSource) GetWithAssociations(ctx context.Context, id uuid.UUID) (*models.Trade, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeTradeSource) ListByCompany(ctx context.Context, companyID uuid.UUID, limit int) ([]models.Trade, error) {
	return nil, nil
}

func (f *fakeTradeSource) ListByState(ctx context.Context, state enums.TradeState, limit int) ([]models.Trade, error) {
	return nil, nil
}

func (f *fakeTradeSource) AcquireTransitionLock(ctx context.Context, id uuid.UUID) (bool, error) {
	return true, nil
}

func (f *fakeTradeSource) ReleaseTransitionLock(ctx context.Context, id uuid.UUID) error { return nil }

func (f *fakeTradeSource) CommitState(ctx context.Context, id uuid.UUID, from, to enums.TradeState) (bool, error) {
	return true, nil
}

func (f *fakeTradeSource) SetSeller(ctx context.Context, id, sellerID uuid.UUID) error { return nil }

func (f *fakeTradeSource) SetPricing(ctx context.Context, id uuid.UUID, unitPriceCents, totalCents int) error {
	return nil
}

type fakeAuditLog struct {
	events []audit.RecordEventInput
}

func (f *fakeAuditLog) RecordEvent(ctx context.Context, tx *gorm.DB, input audit.RecordEventInput) (*models.TradeEvent, error) {
	f.events = append(f.events, input)
	return &models.TradeEvent{TradeID: input.TradeID, Type: input.Type}, nil
}

func (f *fakeAuditLog) ListByTradeID(ctx context.Context, tradeID uuid.UUID) ([]models.TradeEvent, error) {
	return nil, nil
}

func (f *fakeAuditLog) HasEvent(ctx context.Context, tradeID uuid.UUID, eventType enums.TradeEventType) (bool, error) {
	return false, nil
}

type passthroughTx struct{}

func (passthroughTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error { return fn(nil) }

type fakeEventSink struct {
	events []outbox.DomainEvent
}

func (f *fakeEventSink) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeEventSink) EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeEventSink) countOfType(eventType enums.OutboxEventType) int {
	count := 0
	for _, event := range f.events {
		if event.EventType == eventType {
			count++
		}
	}
	return count
}

type fakeTransitioner struct {
	requests []engine.TransitionInput
	err      error
}

func (f *fakeTransitioner) RequestTransition(ctx context.Context, input engine.TransitionInput) (*models.Trade, error) {
	f.requests = append(f.requests, input)
	return nil, f.err
}

type dispatchFixture struct {
	svc       Service
	providers *fakeProviderRepo
	events    *fakeDispatchEvents
	outbox    *fakeEventSink
	engine    *fakeTransitioner
	trade     *models.Trade
}

func pushProvider(city string) models.LogisticsProvider {
	return models.LogisticsProvider{
		ID:           uuid.New(),
		CompanyID:    uuid.New(),
		City:         city,
		VehicleTypes: "van,truck",
		Verified:     true,
		Available:    true,
		PushEnabled:  true,
	}
}

func newDispatchFixture(t *testing.T, state enums.TradeState) *dispatchFixture {
	t.Helper()

	sellerID := uuid.New()
	fix := &dispatchFixture{
		providers: newFakeProviderRepo(),
		events:    &fakeDispatchEvents{},
		outbox:    &fakeEventSink{},
		engine:    &fakeTransitioner{},
		trade: &models.Trade{
			ID:            uuid.New(),
			BuyerID:       uuid.New(),
			SellerID:      &sellerID,
			State:         state,
			PickupCity:    "Lagos",
			CargoType:     "general",
			CargoWeightKg: 1200,
		},
	}

	svc, err := NewService(
		fix.providers,
		fix.events,
		&fakeTradeSource{trade: fix.trade},
		&fakeAuditLog{},
		passthroughTx{},
		fix.outbox,
		config.DispatchConfig{NotifyLimit: 5},
		nil,
	)
	if err != nil {
		t.Fatalf("building dispatch service: %v", err)
	}
	svc.BindEngine(fix.engine)
	fix.svc = svc
	return fix
}

func TestRequestDispatchNotifiesMatchedProviders(t *testing.T) {
	fix := newDispatchFixture(t, enums.TradeStateReadyForPickup)
	fix.providers.matched = []models.LogisticsProvider{pushProvider("Lagos"), pushProvider("Lagos")}

	result, err := fix.svc.RequestDispatch(context.Background(), RequestInput{
		TradeID:   fix.trade.ID,
		ActorRole: string(enums.ActorRoleSystem),
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if !result.Requested {
		t.Fatal("first request must be recorded")
	}
	if result.NotifiedCount != 2 {
		t.Fatalf("notified = %d, want 2", result.NotifiedCount)
	}
	if result.NoProviders {
		t.Fatal("providers were available")
	}
	if fix.events.countOfType(enums.DispatchEventProviderNotified) != 2 {
		t.Fatal("expected two provider_notified ledger events")
	}
	if fix.outbox.countOfType(enums.EventNotificationRequested) != 2 {
		t.Fatal("each notified provider gets a notification event")
	}
}

func TestRequestDispatchReplayDoesNotRenotify(t *testing.T) {
	fix := newDispatchFixture(t, enums.TradeStateReadyForPickup)
	fix.providers.matched = []models.LogisticsProvider{pushProvider("Lagos")}

	if _, err := fix.svc.RequestDispatch(context.Background(), RequestInput{TradeID: fix.trade.ID}); err != nil {
		t.Fatalf("first request: %v", err)
	}
	result, err := fix.svc.RequestDispatch(context.Background(), RequestInput{TradeID: fix.trade.ID})
	if err != nil {
		t.Fatalf("replayed request: %v", err)
	}
	if result.Requested {
		t.Fatal("replay must report the request as already recorded")
	}
	if fix.events.countOfType(enums.DispatchEventProviderNotified) != 1 {
		t.Fatal("replay must not notify providers again")
	}
}

func TestRequestDispatchNoProvidersIsAnOutcome(t *testing.T) {
	fix := newDispatchFixture(t, enums.TradeStateReadyForPickup)

	result, err := fix.svc.RequestDispatch(context.Background(), RequestInput{TradeID: fix.trade.ID})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if !result.NoProviders {
		t.Fatal("zero matches must surface as no_providers")
	}
	if fix.events.countOfType(enums.DispatchEventFailed) != 1 {
		t.Fatal("expected a dispatch failed ledger event")
	}
	if fix.outbox.countOfType(enums.EventDispatchFailed) != 1 {
		t.Fatal("expected a dispatch failed outbox event")
	}
}

func TestRequestDispatchRetriesAfterNoProviders(t *testing.T) {
	fix := newDispatchFixture(t, enums.TradeStateReadyForPickup)

	first, err := fix.svc.RequestDispatch(context.Background(), RequestInput{TradeID: fix.trade.ID})
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	if !first.NoProviders || first.NotifiedCount != 0 {
		t.Fatalf("first outcome = %+v, want no providers", first)
	}

	// A transporter comes online before anyone retries.
	fix.providers.matched = []models.LogisticsProvider{pushProvider("Lagos")}

	second, err := fix.svc.RequestDispatch(context.Background(), RequestInput{TradeID: fix.trade.ID})
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	if second.Requested {
		t.Fatal("the request marker was recorded on the first call")
	}
	if second.NotifiedCount != 1 {
		t.Fatalf("notified = %d, want 1", second.NotifiedCount)
	}
	if second.NoProviders {
		t.Fatal("providers are available now")
	}
	if fix.events.countOfType(enums.DispatchEventProviderNotified) != 1 {
		t.Fatal("expected exactly one successful match-and-notify cycle")
	}

	third, err := fix.svc.RequestDispatch(context.Background(), RequestInput{TradeID: fix.trade.ID})
	if err != nil {
		t.Fatalf("third request: %v", err)
	}
	if third.NotifiedCount != 1 {
		t.Fatalf("replay notified = %d, want the earlier outcome", third.NotifiedCount)
	}
	if fix.events.countOfType(enums.DispatchEventProviderNotified) != 1 {
		t.Fatal("replay must not notify providers again")
	}
}

func TestRequestDispatchRejectsUnreadyCargo(t *testing.T) {
	fix := newDispatchFixture(t, enums.TradeStateEscrowFunded)

	_, err := fix.svc.RequestDispatch(context.Background(), RequestInput{TradeID: fix.trade.ID})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeGuardFailed {
		t.Fatalf("expected guard failure, got %v", err)
	}
}

func TestRequestDispatchSkipsUnreachableProviders(t *testing.T) {
	fix := newDispatchFixture(t, enums.TradeStateReadyForPickup)
	unreachable := pushProvider("Lagos")
	unreachable.PushEnabled = false
	unreachable.Phone = nil
	phone := "+2348012345678"
	smsOnly := pushProvider("Lagos")
	smsOnly.PushEnabled = false
	smsOnly.Phone = &phone
	fix.providers.matched = []models.LogisticsProvider{unreachable, smsOnly}

	result, err := fix.svc.RequestDispatch(context.Background(), RequestInput{TradeID: fix.trade.ID})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if result.NotifiedCount != 1 {
		t.Fatalf("notified = %d, want 1", result.NotifiedCount)
	}
}

func TestProviderAcceptanceAssignsShipment(t *testing.T) {
	fix := newDispatchFixture(t, enums.TradeStateReadyForPickup)
	provider := pushProvider("Lagos")
	fix.providers.providers[provider.ID] = &provider

	err := fix.svc.RecordProviderResponse(context.Background(), ResponseInput{
		TradeID:    fix.trade.ID,
		ProviderID: provider.ID,
		Accept:     true,
		ActorRole:  string(enums.ActorRoleLogistics),
	})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if len(fix.engine.requests) != 1 || fix.engine.requests[0].Target != enums.TradeStateInTransit {
		t.Fatalf("engine requests = %+v, want one in_transit transition", fix.engine.requests)
	}
	if fix.events.countOfType(enums.DispatchEventShipmentAssigned) != 1 {
		t.Fatal("expected a shipment_assigned ledger event")
	}
	if fix.providers.scoreDeltas[provider.ID] != 1 {
		t.Fatalf("score delta = %d, want +1", fix.providers.scoreDeltas[provider.ID])
	}
	if available := fix.providers.availability[provider.ID]; available {
		t.Fatal("assigned provider must be marked busy")
	}
}

func TestSecondAcceptanceLosesTheRace(t *testing.T) {
	fix := newDispatchFixture(t, enums.TradeStateInTransit)
	provider := pushProvider("Lagos")
	fix.providers.providers[provider.ID] = &provider
	fix.engine.err = pkgerrors.New(pkgerrors.CodeInvalidTransition, "transition in_transit → in_transit is not allowed")

	err := fix.svc.RecordProviderResponse(context.Background(), ResponseInput{
		TradeID:    fix.trade.ID,
		ProviderID: provider.ID,
		Accept:     true,
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict for the losing provider, got %v", err)
	}
	if fix.events.countOfType(enums.DispatchEventShipmentAssigned) != 0 {
		t.Fatal("losing provider must not be assigned")
	}
}

func TestProviderRejectionLowersScore(t *testing.T) {
	fix := newDispatchFixture(t, enums.TradeStateReadyForPickup)
	provider := pushProvider("Lagos")
	fix.providers.providers[provider.ID] = &provider

	err := fix.svc.RecordProviderResponse(context.Background(), ResponseInput{
		TradeID:    fix.trade.ID,
		ProviderID: provider.ID,
		Accept:     false,
	})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if fix.providers.scoreDeltas[provider.ID] != -1 {
		t.Fatalf("score delta = %d, want -1", fix.providers.scoreDeltas[provider.ID])
	}
	if len(fix.engine.requests) != 0 {
		t.Fatal("rejections never touch the engine")
	}
	if fix.events.countOfType(enums.DispatchEventProviderRejected) != 1 {
		t.Fatal("expected a provider_rejected ledger event")
	}
}

func TestProviderResponseUnknownProvider(t *testing.T) {
	fix := newDispatchFixture(t, enums.TradeStateReadyForPickup)

	err := fix.svc.RecordProviderResponse(context.Background(), ResponseInput{
		TradeID:    fix.trade.ID,
		ProviderID: uuid.New(),
		Accept:     true,
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}
