package escrow

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	"gorm.io/gorm"

	"github.com/tradelane/backend/internal/audit"
	"github.com/tradelane/backend/internal/companies"
	"github.com/tradelane/backend/internal/engine"
	"github.com/tradelane/backend/internal/trades"
	"github.com/tradelane/backend/pkg/config"
	"github.com/tradelane/backend/pkg/db/models"
	"github.com/tradelane/backend/pkg/enums"
	pkgerrors "github.com/tradelane/backend/pkg/errors"
	"github.com/tradelane/backend/pkg/outbox"
	"github.com/tradelane/backend/pkg/payout"
	"github.com/tradelane/backend/pkg/square"
)

type fakeRecordRepo struct {
	records map[uuid.UUID]*models.EscrowRecord
}

func newFakeRecordRepo() *fakeRecordRepo {
	return &fakeRecordRepo{records: make(map[uuid.UUID]*models.EscrowRecord)}
}

func (f *fakeRecordRepo) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeRecordRepo) Create(ctx context.Context, record *models.EscrowRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	f.records[record.ID] = record
	return nil
}

func (f *fakeRecordRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.EscrowRecord, error) {
	record, ok := f.records[id]
	if !ok {
		return nil, nil
	}
	copied := *record
	return &copied, nil
}

func (f *fakeRecordRepo) GetByTradeID(ctx context.Context, tradeID uuid.UUID) (*models.EscrowRecord, error) {
	for _, record := range f.records {
		if record.TradeID == tradeID {
			copied := *record
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeRecordRepo) GetByReleaseRef(ctx context.Context, ref string) (*models.EscrowRecord, error) {
	for _, record := range f.records {
		if record.ReleaseRef != nil && *record.ReleaseRef == ref {
			copied := *record
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeRecordRepo) MarkFunded(ctx context.Context, id uuid.UUID, captureRef string, method enums.PaymentMethod, feeCents, netCents int, at time.Time) (bool, error) {
	record, ok := f.records[id]
	if !ok || record.Status != enums.EscrowStatusPending {
		return false, nil
	}
	record.Status = enums.EscrowStatusFunded
	record.CaptureRef = &captureRef
	record.Method = method
	record.PlatformFeeCents = feeCents
	record.NetReleaseCents = netCents
	record.FundedAt = &at
	return true, nil
}

func (f *fakeRecordRepo) SetReleaseRef(ctx context.Context, id uuid.UUID, ref string) (bool, error) {
	record, ok := f.records[id]
	if !ok {
		return false, nil
	}
	if record.ReleaseRef != nil {
		return *record.ReleaseRef == ref, nil
	}
	record.ReleaseRef = &ref
	return true, nil
}

func (f *fakeRecordRepo) MarkReleased(ctx context.Context, id uuid.UUID, transferRef string, at time.Time) (bool, error) {
	record, ok := f.records[id]
	if !ok || record.Status != enums.EscrowStatusFunded {
		return false, nil
	}
	record.Status = enums.EscrowStatusReleased
	record.TransferRef = &transferRef
	record.ReleasedAt = &at
	return true, nil
}

func (f *fakeRecordRepo) MarkRefunded(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	record, ok := f.records[id]
	if !ok || record.Status != enums.EscrowStatusFunded {
		return false, nil
	}
	record.Status = enums.EscrowStatusRefunded
	record.RefundedAt = &at
	return true, nil
}

func (f *fakeRecordRepo) ListStuckReleases(ctx context.Context, before time.Time, limit int) ([]models.EscrowRecord, error) {
	var out []models.EscrowRecord
	for _, record := range f.records {
		if record.Status == enums.EscrowStatusFunded && record.ReleaseRef != nil {
			out = append(out, *record)
		}
	}
	return out, nil
}

type fakeEventRepo struct {
	events []models.EscrowEvent
}

func (f *fakeEventRepo) WithTx(tx *gorm.DB) EventRepository { return f }

func (f *fakeEventRepo) Insert(ctx context.Context, event *models.EscrowEvent) error {
	event.ID = uuid.New()
	f.events = append(f.events, *event)
	return nil
}

func (f *fakeEventRepo) InsertIfNewReference(ctx context.Context, event *models.EscrowEvent) (bool, error) {
	if event.Reference != nil {
		for _, existing := range f.events {
			if existing.Reference != nil && *existing.Reference == *event.Reference {
				return false, nil
			}
		}
	}
	return true, f.Insert(ctx, event)
}

func (f *fakeEventRepo) HasEvent(ctx context.Context, recordID uuid.UUID, eventType enums.EscrowEventType) (bool, error) {
	for _, event := range f.events {
		if event.EscrowRecordID == recordID && event.Type == eventType {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeEventRepo) ListByTradeID(ctx context.Context, tradeID uuid.UUID) ([]models.EscrowEvent, error) {
	var out []models.EscrowEvent
	for _, event := range f.events {
		if event.TradeID == tradeID {
			out = append(out, event)
		}
	}
	return out, nil
}

func (f *fakeEventRepo) ListRecordIDsWithType(ctx context.Context, eventType enums.EscrowEventType, limit int) ([]uuid.UUID, error) {
	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for _, event := range f.events {
		if event.Type == eventType && !seen[event.EscrowRecordID] {
			seen[event.EscrowRecordID] = true
			out = append(out, event.EscrowRecordID)
		}
	}
	return out, nil
}

func (f *fakeEventRepo) countOfType(eventType enums.EscrowEventType) int {
	count := 0
	for _, event := range f.events {
		if event.Type == eventType {
			count++
		}
	}
	return count
}

type fakeTradeStore struct {
	trade *models.Trade
}

func (f *fakeTradeStore) WithTx(tx *gorm.DB) trades.Repository             { return f }
func (f *fakeTradeStore) Create(ctx context.Context, t *models.Trade) error { return nil }

func (f *fakeTradeStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Trade, error) {
	if f.trade == nil || f.trade.ID != id {
		return nil, nil
	}
	copied := *f.trade
	return &copied, nil
}

func (f *fakeTradeStore) GetWithAssociations(ctx context.Context, id uuid.UUID) (*models.Trade, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeTradeStore) ListByCompany(ctx context.Context, companyID uuid.UUID, limit int) ([]models.Trade, error) {
	return nil, nil
}

func (f *fakeTradeStore) ListByState(ctx context.Context, state enums.TradeState, limit int) ([]models.Trade, error) {
	return nil, nil
}

func (f *fakeTradeStore) AcquireTransitionLock(ctx context.Context, id uuid.UUID) (bool, error) {
	return true, nil
}

func (f *fakeTradeStore) ReleaseTransitionLock(ctx context.Context, id uuid.UUID) error { return nil }

func (f *fakeTradeStore) CommitState(ctx context.Context, id uuid.UUID, from, to enums.TradeState) (bool, error) {
	return true, nil
}

func (f *fakeTradeStore) SetSeller(ctx context.Context, id, sellerID uuid.UUID) error { return nil }

func (f *fakeTradeStore) SetPricing(ctx context.Context, id uuid.UUID, unitPriceCents, totalCents int) error {
	return nil
}

type fakeCompanyStore struct {
	company *models.Company
}

func (f *fakeCompanyStore) WithTx(tx *gorm.DB) companies.Repository { return f }

func (f *fakeCompanyStore) Create(ctx context.Context, company *models.Company) error { return nil }

func (f *fakeCompanyStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Company, error) {
	return f.company, nil
}

func (f *fakeCompanyStore) UpdatePayoutDetails(ctx context.Context, id uuid.UUID, bankCode, account, accountName string) error {
	return nil
}

type fakeAuditSvc struct {
	events []audit.RecordEventInput
}

func (f *fakeAuditSvc) RecordEvent(ctx context.Context, tx *gorm.DB, input audit.RecordEventInput) (*models.TradeEvent, error) {
	f.events = append(f.events, input)
	return &models.TradeEvent{TradeID: input.TradeID, Type: input.Type}, nil
}

func (f *fakeAuditSvc) ListByTradeID(ctx context.Context, tradeID uuid.UUID) ([]models.TradeEvent, error) {
	return nil, nil
}

func (f *fakeAuditSvc) HasEvent(ctx context.Context, tradeID uuid.UUID, eventType enums.TradeEventType) (bool, error) {
	return false, nil
}

type fakeTx struct{}

func (fakeTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error { return fn(nil) }

type fakeOutboxSvc struct {
	events []outbox.DomainEvent
}

func (f *fakeOutboxSvc) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeOutboxSvc) EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeOutboxSvc) hasType(eventType enums.OutboxEventType) bool {
	for _, event := range f.events {
		if event.EventType == eventType {
			return true
		}
	}
	return false
}

type fakeCards struct {
	payments      int
	refunds       int
	paymentStatus string
	paymentErr    error
}

func (f *fakeCards) CreatePayment(ctx context.Context, params square.PaymentCreateParams) (*sq.Payment, error) {
	f.payments++
	if f.paymentErr != nil {
		return nil, f.paymentErr
	}
	id := "sq-payment-" + params.ReferenceID
	status := f.paymentStatus
	if status == "" {
		status = "COMPLETED"
	}
	return &sq.Payment{ID: &id, Status: &status}, nil
}

func (f *fakeCards) RefundPayment(ctx context.Context, params square.RefundCreateParams) (*sq.PaymentRefund, error) {
	f.refunds++
	status := "COMPLETED"
	return &sq.PaymentRefund{ID: "sq-refund-" + params.PaymentID, Status: &status}, nil
}

func (f *fakeCards) LocationID() string { return "loc-test" }

type fakeTransfers struct {
	created        int
	polled         int
	createStatus   string
	createErr      error
	transferStatus string
	getErr         error
}

func (f *fakeTransfers) CreateTransfer(ctx context.Context, params payout.TransferParams) (*payout.Transfer, error) {
	f.created++
	if f.createErr != nil {
		return nil, f.createErr
	}
	status := f.createStatus
	if status == "" {
		status = "success"
	}
	return &payout.Transfer{
		ID:          "tr-" + params.Reference,
		Reference:   params.Reference,
		Status:      status,
		AmountCents: params.AmountCents,
		Currency:    params.Currency,
	}, nil
}

func (f *fakeTransfers) GetTransfer(ctx context.Context, reference string) (*payout.Transfer, error) {
	f.polled++
	if f.getErr != nil {
		return nil, f.getErr
	}
	status := f.transferStatus
	if status == "" {
		status = "success"
	}
	return &payout.Transfer{Reference: reference, Status: status}, nil
}

type fakeEngine struct {
	requests []engine.TransitionInput
	err      error
}

func (f *fakeEngine) RequestTransition(ctx context.Context, input engine.TransitionInput) (*models.Trade, error) {
	f.requests = append(f.requests, input)
	return nil, f.err
}

func (f *fakeEngine) lastTarget() enums.TradeState {
	if len(f.requests) == 0 {
		return ""
	}
	return f.requests[len(f.requests)-1].Target
}

type escrowFixture struct {
	svc       Service
	records   *fakeRecordRepo
	events    *fakeEventRepo
	tradeRepo *fakeTradeStore
	companies *fakeCompanyStore
	audit     *fakeAuditSvc
	outbox    *fakeOutboxSvc
	cards     *fakeCards
	transfers *fakeTransfers
	engine    *fakeEngine
	trade     *models.Trade
	record    *models.EscrowRecord
}

func payoutReadyCompany(id uuid.UUID) *models.Company {
	bank := "044"
	account := "0690000031"
	name := "Acme Mills Ltd"
	return &models.Company{
		ID:                id,
		Name:              name,
		PayoutBankCode:    &bank,
		PayoutAccount:     &account,
		PayoutAccountName: &name,
	}
}

func newEscrowFixture(t *testing.T, tradeState enums.TradeState, recordStatus enums.EscrowStatus) *escrowFixture {
	t.Helper()

	sellerID := uuid.New()
	trade := &models.Trade{
		ID:         uuid.New(),
		BuyerID:    uuid.New(),
		SellerID:   &sellerID,
		State:      tradeState,
		TotalCents: 100000,
		Currency:   "USD",
	}

	fix := &escrowFixture{
		records:   newFakeRecordRepo(),
		events:    &fakeEventRepo{},
		tradeRepo: &fakeTradeStore{trade: trade},
		companies: &fakeCompanyStore{company: payoutReadyCompany(sellerID)},
		audit:     &fakeAuditSvc{},
		outbox:    &fakeOutboxSvc{},
		cards:     &fakeCards{},
		transfers: &fakeTransfers{},
		engine:    &fakeEngine{},
		trade:     trade,
	}

	if recordStatus != "" {
		record := &models.EscrowRecord{
			ID:         uuid.New(),
			TradeID:    trade.ID,
			Status:     recordStatus,
			GrossCents: trade.TotalCents,
			Currency:   trade.Currency,
		}
		if recordStatus == enums.EscrowStatusFunded || recordStatus == enums.EscrowStatusReleased {
			captureRef := "sq-payment-existing"
			record.CaptureRef = &captureRef
			record.PlatformFeeCents = 8500
			record.NetReleaseCents = 91500
		}
		fix.records.records[record.ID] = record
		fix.record = record
	}

	svc, err := NewService(
		fix.records,
		fix.events,
		fix.tradeRepo,
		fix.companies,
		fix.audit,
		fakeTx{},
		fix.outbox,
		fix.cards,
		fix.transfers,
		config.FeeConfig{DefaultRateBps: 850, FloorCents: 5000},
		config.SweepConfig{ReleaseStuckAfter: 15 * time.Minute},
		nil,
		nil,
	)
	if err != nil {
		t.Fatalf("building escrow service: %v", err)
	}
	svc.BindEngine(fix.engine)
	fix.svc = svc
	return fix
}

func wantCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	typed := pkgerrors.As(err)
	if typed == nil {
		t.Fatalf("expected a typed error, got %v", err)
	}
	if typed.Code() != code {
		t.Fatalf("code = %s, want %s", typed.Code(), code)
	}
}

func TestPrepareEscrowIsIdempotent(t *testing.T) {
	fix := newEscrowFixture(t, enums.TradeStateEscrowRequired, "")

	if err := fix.svc.PrepareEscrow(context.Background(), fix.trade); err != nil {
		t.Fatalf("first prepare: %v", err)
	}
	if err := fix.svc.PrepareEscrow(context.Background(), fix.trade); err != nil {
		t.Fatalf("second prepare: %v", err)
	}
	if len(fix.records.records) != 1 {
		t.Fatalf("records = %d, want 1", len(fix.records.records))
	}

	record, _ := fix.records.GetByTradeID(context.Background(), fix.trade.ID)
	if record.Status != enums.EscrowStatusPending {
		t.Fatalf("status = %s, want pending", record.Status)
	}
	if record.GrossCents != fix.trade.TotalCents {
		t.Fatalf("gross = %d, want %d", record.GrossCents, fix.trade.TotalCents)
	}
}

func TestFundByCardCapturesAndFunds(t *testing.T) {
	fix := newEscrowFixture(t, enums.TradeStateEscrowRequired, enums.EscrowStatusPending)

	actorID := uuid.New()
	record, err := fix.svc.FundByCard(context.Background(), FundByCardInput{
		TradeID:   fix.trade.ID,
		SourceID:  "cnon:card-nonce",
		ActorID:   &actorID,
		ActorRole: string(enums.ActorRoleBuyer),
	})
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
	if record.Status != enums.EscrowStatusFunded {
		t.Fatalf("status = %s, want funded", record.Status)
	}
	if record.PlatformFeeCents != 8500 || record.NetReleaseCents != 91500 {
		t.Fatalf("split = %d/%d, want 8500/91500", record.PlatformFeeCents, record.NetReleaseCents)
	}
	if fix.cards.payments != 1 {
		t.Fatalf("gateway payments = %d, want 1", fix.cards.payments)
	}
	if fix.engine.lastTarget() != enums.TradeStateEscrowFunded {
		t.Fatalf("engine target = %s, want escrow_funded", fix.engine.lastTarget())
	}
	if fix.events.countOfType(enums.EscrowEventFunded) != 1 {
		t.Fatal("expected exactly one funded ledger event")
	}
	if !fix.outbox.hasType(enums.EventEscrowFunded) {
		t.Fatal("expected an escrow funded outbox event")
	}
}

func TestFundByCardReplayIsNoOp(t *testing.T) {
	fix := newEscrowFixture(t, enums.TradeStateEscrowFunded, enums.EscrowStatusFunded)

	record, err := fix.svc.FundByCard(context.Background(), FundByCardInput{
		TradeID:  fix.trade.ID,
		SourceID: "cnon:card-nonce",
	})
	if err != nil {
		t.Fatalf("replayed fund: %v", err)
	}
	if record.Status != enums.EscrowStatusFunded {
		t.Fatalf("status = %s, want funded", record.Status)
	}
	if fix.cards.payments != 0 {
		t.Fatalf("gateway payments = %d, want 0 on replay", fix.cards.payments)
	}
}

func TestFundByCardRejectsWrongTradeState(t *testing.T) {
	fix := newEscrowFixture(t, enums.TradeStateContracted, enums.EscrowStatusPending)

	_, err := fix.svc.FundByCard(context.Background(), FundByCardInput{
		TradeID:  fix.trade.ID,
		SourceID: "cnon:card-nonce",
	})
	wantCode(t, err, pkgerrors.CodeGuardFailed)
	if fix.cards.payments != 0 {
		t.Fatal("no capture expected when the trade is not awaiting escrow")
	}
}

func TestConfirmCaptureRejectsAmountMismatch(t *testing.T) {
	fix := newEscrowFixture(t, enums.TradeStateEscrowRequired, enums.EscrowStatusPending)

	err := fix.svc.ConfirmCapture(context.Background(), CaptureConfirmation{
		TradeID:     fix.trade.ID,
		CaptureRef:  "sq-payment-1",
		AmountCents: 99999,
		Currency:    "USD",
	})
	wantCode(t, err, pkgerrors.CodeValidation)
	if fix.events.countOfType(enums.EscrowEventFunded) != 0 {
		t.Fatal("mismatched capture must not fund the record")
	}
}

func TestConfirmCaptureReplayIsNoOp(t *testing.T) {
	fix := newEscrowFixture(t, enums.TradeStateEscrowFunded, enums.EscrowStatusFunded)

	err := fix.svc.ConfirmCapture(context.Background(), CaptureConfirmation{
		TradeID:     fix.trade.ID,
		CaptureRef:  "sq-payment-existing",
		AmountCents: fix.record.GrossCents,
	})
	if err != nil {
		t.Fatalf("replayed capture: %v", err)
	}
	if fix.events.countOfType(enums.EscrowEventFunded) != 0 {
		t.Fatal("replay must not append ledger events")
	}
	if len(fix.engine.requests) != 0 {
		t.Fatal("replay must not drive the engine")
	}
}

func TestReleaseMovesFundsOnce(t *testing.T) {
	fix := newEscrowFixture(t, enums.TradeStateDelivered, enums.EscrowStatusFunded)

	record, err := fix.svc.Release(context.Background(), ReleaseInput{
		TradeID:   fix.trade.ID,
		ActorRole: string(enums.ActorRoleAdmin),
	})
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if record == nil {
		t.Fatal("expected a record back")
	}
	if fix.transfers.created != 1 {
		t.Fatalf("transfers created = %d, want 1", fix.transfers.created)
	}

	stored, _ := fix.records.GetByID(context.Background(), fix.record.ID)
	if stored.Status != enums.EscrowStatusReleased {
		t.Fatalf("status = %s, want released", stored.Status)
	}
	if stored.ReleaseRef == nil || *stored.ReleaseRef != ReleaseReference(fix.trade.ID, fix.record.ID) {
		t.Fatal("release ref must be the deterministic reference")
	}
	if fix.engine.lastTarget() != enums.TradeStateSettled {
		t.Fatalf("engine target = %s, want settled", fix.engine.lastTarget())
	}
	if fix.events.countOfType(enums.EscrowEventReleaseInitiated) != 1 {
		t.Fatal("expected exactly one release_initiated event")
	}
	if fix.events.countOfType(enums.EscrowEventReleased) != 1 {
		t.Fatal("expected exactly one released event")
	}
}

func TestReleaseAfterInitiationReconcilesInsteadOfTransferring(t *testing.T) {
	fix := newEscrowFixture(t, enums.TradeStateDelivered, enums.EscrowStatusFunded)
	releaseRef := ReleaseReference(fix.trade.ID, fix.record.ID)
	fix.records.records[fix.record.ID].ReleaseRef = &releaseRef
	fix.events.events = append(fix.events.events, models.EscrowEvent{
		EscrowRecordID: fix.record.ID,
		TradeID:        fix.trade.ID,
		Type:           enums.EscrowEventReleaseInitiated,
		Reference:      &releaseRef,
	})

	_, err := fix.svc.Release(context.Background(), ReleaseInput{TradeID: fix.trade.ID})
	if err != nil {
		t.Fatalf("second release: %v", err)
	}
	if fix.transfers.created != 0 {
		t.Fatalf("transfers created = %d, want 0 after initiation", fix.transfers.created)
	}
	if fix.transfers.polled != 1 {
		t.Fatalf("transfers polled = %d, want 1", fix.transfers.polled)
	}

	stored, _ := fix.records.GetByID(context.Background(), fix.record.ID)
	if stored.Status != enums.EscrowStatusReleased {
		t.Fatalf("status = %s, want released after reconciliation", stored.Status)
	}
}

func TestReleaseRetriesAfterFailedTransferInitiation(t *testing.T) {
	fix := newEscrowFixture(t, enums.TradeStateDelivered, enums.EscrowStatusFunded)
	fix.transfers.createErr = pkgerrors.New(pkgerrors.CodeExternalCallFailed, "payout provider unreachable")

	_, err := fix.svc.Release(context.Background(), ReleaseInput{TradeID: fix.trade.ID})
	wantCode(t, err, pkgerrors.CodeReleaseFailed)
	if fix.transfers.created != 1 {
		t.Fatalf("transfers created = %d, want 1", fix.transfers.created)
	}

	// The provider recovers but has no transfer on file for the reference.
	fix.transfers.createErr = nil
	fix.transfers.getErr = pkgerrors.New(pkgerrors.CodeNotFound, "transfer not found")

	if _, err := fix.svc.Release(context.Background(), ReleaseInput{TradeID: fix.trade.ID}); err != nil {
		t.Fatalf("retried release: %v", err)
	}
	if fix.transfers.created != 2 {
		t.Fatalf("transfers created = %d, want the transfer re-issued", fix.transfers.created)
	}
	if fix.events.countOfType(enums.EscrowEventReleaseInitiated) != 1 {
		t.Fatal("re-issuing must not duplicate the initiation event")
	}

	stored, _ := fix.records.GetByID(context.Background(), fix.record.ID)
	if stored.Status != enums.EscrowStatusReleased {
		t.Fatalf("status = %s, want released after retry", stored.Status)
	}
	if fix.engine.lastTarget() != enums.TradeStateSettled {
		t.Fatalf("engine target = %s, want settled", fix.engine.lastTarget())
	}
}

func TestStuckReleaseSweepReissuesLostTransfer(t *testing.T) {
	fix := newEscrowFixture(t, enums.TradeStateDelivered, enums.EscrowStatusFunded)
	fix.transfers.createErr = pkgerrors.New(pkgerrors.CodeExternalCallFailed, "payout provider unreachable")

	_, err := fix.svc.Release(context.Background(), ReleaseInput{TradeID: fix.trade.ID})
	wantCode(t, err, pkgerrors.CodeReleaseFailed)

	fix.transfers.createErr = nil
	fix.transfers.getErr = pkgerrors.New(pkgerrors.CodeNotFound, "transfer not found")

	if err := fix.svc.RetryStuckReleases(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if fix.transfers.created != 2 {
		t.Fatalf("transfers created = %d, want the sweep to re-issue", fix.transfers.created)
	}

	stored, _ := fix.records.GetByID(context.Background(), fix.record.ID)
	if stored.Status != enums.EscrowStatusReleased {
		t.Fatalf("status = %s, want released after sweep", stored.Status)
	}
}

// racedEventRepo reports no release history even when the initiation row
// exists, standing in for a second request writing that row between this
// request's history check and its insert.
type racedEventRepo struct {
	*fakeEventRepo
}

func (r *racedEventRepo) WithTx(tx *gorm.DB) EventRepository { return r }

func (r *racedEventRepo) HasEvent(ctx context.Context, recordID uuid.UUID, eventType enums.EscrowEventType) (bool, error) {
	return false, nil
}

func TestConcurrentReleaseInitiatesOneTransfer(t *testing.T) {
	fix := newEscrowFixture(t, enums.TradeStateDelivered, enums.EscrowStatusFunded)
	releaseRef := ReleaseReference(fix.trade.ID, fix.record.ID)
	fix.events.events = append(fix.events.events, models.EscrowEvent{
		EscrowRecordID: fix.record.ID,
		TradeID:        fix.trade.ID,
		Type:           enums.EscrowEventReleaseInitiated,
		Reference:      &releaseRef,
	})

	svc, err := NewService(
		fix.records,
		&racedEventRepo{fakeEventRepo: fix.events},
		fix.tradeRepo,
		fix.companies,
		fix.audit,
		fakeTx{},
		fix.outbox,
		fix.cards,
		fix.transfers,
		config.FeeConfig{DefaultRateBps: 850, FloorCents: 5000},
		config.SweepConfig{ReleaseStuckAfter: 15 * time.Minute},
		nil,
		nil,
	)
	if err != nil {
		t.Fatalf("building escrow service: %v", err)
	}
	svc.BindEngine(fix.engine)

	if _, err := svc.Release(context.Background(), ReleaseInput{TradeID: fix.trade.ID}); err != nil {
		t.Fatalf("losing release: %v", err)
	}
	if fix.transfers.created != 0 {
		t.Fatalf("transfers created = %d, want 0 when another release owns the reference", fix.transfers.created)
	}
	if fix.transfers.polled != 1 {
		t.Fatalf("transfers polled = %d, want 1", fix.transfers.polled)
	}
	if fix.events.countOfType(enums.EscrowEventReleaseInitiated) != 1 {
		t.Fatal("the reference must stay claimed exactly once")
	}

	stored, _ := fix.records.GetByID(context.Background(), fix.record.ID)
	if stored.Status != enums.EscrowStatusReleased {
		t.Fatalf("status = %s, want released via reconciliation", stored.Status)
	}
}

func TestReleaseReplayAfterSettlementIsNoOp(t *testing.T) {
	fix := newEscrowFixture(t, enums.TradeStateSettled, enums.EscrowStatusReleased)

	record, err := fix.svc.Release(context.Background(), ReleaseInput{TradeID: fix.trade.ID})
	if err != nil {
		t.Fatalf("replayed release: %v", err)
	}
	if record.Status != enums.EscrowStatusReleased {
		t.Fatalf("status = %s, want released", record.Status)
	}
	if fix.transfers.created != 0 || fix.transfers.polled != 0 {
		t.Fatal("no provider calls expected after settlement")
	}
}

func TestReleaseParksWhenSellerLacksPayoutDetails(t *testing.T) {
	fix := newEscrowFixture(t, enums.TradeStateDelivered, enums.EscrowStatusFunded)
	fix.companies.company = &models.Company{ID: *fix.trade.SellerID, Name: "No Bank Ltd"}

	_, err := fix.svc.Release(context.Background(), ReleaseInput{TradeID: fix.trade.ID})
	wantCode(t, err, pkgerrors.CodePayoutDetailsMissing)
	if fix.transfers.created != 0 {
		t.Fatal("no transfer expected without payout details")
	}
	if fix.events.countOfType(enums.EscrowEventReleaseParked) != 1 {
		t.Fatal("expected a parked ledger event")
	}
	if !fix.outbox.hasType(enums.EventNotificationRequested) {
		t.Fatal("parking must request a payout details notification")
	}

	// Asking again while still parked stays parked without duplicating events.
	_, err = fix.svc.Release(context.Background(), ReleaseInput{TradeID: fix.trade.ID})
	wantCode(t, err, pkgerrors.CodePayoutDetailsMissing)
	if fix.events.countOfType(enums.EscrowEventReleaseParked) != 1 {
		t.Fatal("parking twice must not duplicate the ledger event")
	}
}

func TestReleaseRequiresDeliveredTrade(t *testing.T) {
	fix := newEscrowFixture(t, enums.TradeStateInTransit, enums.EscrowStatusFunded)

	_, err := fix.svc.Release(context.Background(), ReleaseInput{TradeID: fix.trade.ID})
	wantCode(t, err, pkgerrors.CodeGuardFailed)
}

func TestFailTransferKeepsRecordFunded(t *testing.T) {
	fix := newEscrowFixture(t, enums.TradeStateDelivered, enums.EscrowStatusFunded)
	releaseRef := ReleaseReference(fix.trade.ID, fix.record.ID)
	fix.records.records[fix.record.ID].ReleaseRef = &releaseRef

	if err := fix.svc.FailTransfer(context.Background(), releaseRef, "insufficient balance"); err != nil {
		t.Fatalf("fail transfer: %v", err)
	}

	stored, _ := fix.records.GetByID(context.Background(), fix.record.ID)
	if stored.Status != enums.EscrowStatusFunded {
		t.Fatalf("status = %s, want funded for retry", stored.Status)
	}
	if fix.events.countOfType(enums.EscrowEventReleaseFailed) != 1 {
		t.Fatal("expected a release_failed ledger event")
	}
}

func TestRefundFromDisputedTrade(t *testing.T) {
	fix := newEscrowFixture(t, enums.TradeStateDisputed, enums.EscrowStatusFunded)

	record, err := fix.svc.Refund(context.Background(), RefundInput{
		TradeID:   fix.trade.ID,
		Reason:    "goods never produced",
		ActorRole: string(enums.ActorRoleAdmin),
	})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if record.Status != enums.EscrowStatusRefunded {
		t.Fatalf("status = %s, want refunded", record.Status)
	}
	if fix.cards.refunds != 1 {
		t.Fatalf("gateway refunds = %d, want 1", fix.cards.refunds)
	}
	if fix.engine.lastTarget() != enums.TradeStateRefunded {
		t.Fatalf("engine target = %s, want refunded", fix.engine.lastTarget())
	}
	if !fix.outbox.hasType(enums.EventEscrowRefunded) {
		t.Fatal("expected an escrow refunded outbox event")
	}
}

func TestRefundRejectsDeliveredTrade(t *testing.T) {
	fix := newEscrowFixture(t, enums.TradeStateDelivered, enums.EscrowStatusFunded)

	_, err := fix.svc.Refund(context.Background(), RefundInput{TradeID: fix.trade.ID, Reason: "late"})
	wantCode(t, err, pkgerrors.CodeGuardFailed)
	if fix.cards.refunds != 0 {
		t.Fatal("no provider refund expected for a delivered trade")
	}
}

func TestGuardHooksTrackRecordStatus(t *testing.T) {
	ctx := context.Background()

	pending := newEscrowFixture(t, enums.TradeStateEscrowRequired, enums.EscrowStatusPending)
	if funded, _ := pending.svc.IsFunded(ctx, pending.trade.ID); funded {
		t.Fatal("pending record must not count as funded")
	}

	funded := newEscrowFixture(t, enums.TradeStateEscrowFunded, enums.EscrowStatusFunded)
	if ok, _ := funded.svc.IsFunded(ctx, funded.trade.ID); !ok {
		t.Fatal("funded record must count as funded")
	}
	if released, _ := funded.svc.IsReleased(ctx, funded.trade.ID); released {
		t.Fatal("funded record must not count as released")
	}

	released := newEscrowFixture(t, enums.TradeStateSettled, enums.EscrowStatusReleased)
	if ok, _ := released.svc.IsFunded(ctx, released.trade.ID); !ok {
		t.Fatal("released record still counts as funded")
	}
	if ok, _ := released.svc.IsReleased(ctx, released.trade.ID); !ok {
		t.Fatal("released record must count as released")
	}

	missing := newEscrowFixture(t, enums.TradeStateRFQOpen, "")
	if ok, _ := missing.svc.IsFunded(ctx, missing.trade.ID); ok {
		t.Fatal("absent record must not count as funded")
	}
}
