package escrow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/tradelane/backend/internal/audit"
	"github.com/tradelane/backend/internal/companies"
	"github.com/tradelane/backend/internal/engine"
	"github.com/tradelane/backend/internal/trades"
	"github.com/tradelane/backend/pkg/config"
	"github.com/tradelane/backend/pkg/db"
	"github.com/tradelane/backend/pkg/db/models"
	"github.com/tradelane/backend/pkg/enums"
	pkgerrors "github.com/tradelane/backend/pkg/errors"
	"github.com/tradelane/backend/pkg/logger"
	"github.com/tradelane/backend/pkg/metrics"
	"github.com/tradelane/backend/pkg/outbox"
	"github.com/tradelane/backend/pkg/payout"
	"github.com/tradelane/backend/pkg/square"
)

const (
	squarePaymentCompleted = "COMPLETED"

	transferStatusSuccess = "success"
	transferStatusFailed  = "failed"

	sweepBatchSize = 100
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type cardGateway interface {
	CreatePayment(ctx context.Context, params square.PaymentCreateParams) (*sq.Payment, error)
	RefundPayment(ctx context.Context, params square.RefundCreateParams) (*sq.PaymentRefund, error)
	LocationID() string
}

type transferGateway interface {
	CreateTransfer(ctx context.Context, params payout.TransferParams) (*payout.Transfer, error)
	GetTransfer(ctx context.Context, reference string) (*payout.Transfer, error)
}

type transitionRequester interface {
	RequestTransition(ctx context.Context, input engine.TransitionInput) (*models.Trade, error)
}

// FundByCardInput starts a buyer-initiated card capture for a trade awaiting escrow.
type FundByCardInput struct {
	TradeID   uuid.UUID `json:"-" validate:"required"`
	SourceID  string    `json:"source_id" validate:"required"`
	ActorID   *uuid.UUID
	ActorRole string
}

// CaptureConfirmation is a normalized payment-captured webhook.
type CaptureConfirmation struct {
	TradeID     uuid.UUID
	CaptureRef  string
	AmountCents int
	Currency    string
	Method      enums.PaymentMethod
}

// ReleaseInput asks for escrow funds to move to the seller.
type ReleaseInput struct {
	TradeID   uuid.UUID
	ActorID   *uuid.UUID
	ActorRole string
}

// RefundInput returns escrow funds to the buyer.
type RefundInput struct {
	TradeID   uuid.UUID
	Reason    string
	ActorID   *uuid.UUID
	ActorRole string
}

// Service owns escrow money movement: capture, release, refund, and the
// reconciliation sweeps. Every provider call is keyed so a retry can never
// move funds twice.
type Service interface {
	PrepareEscrow(ctx context.Context, trade *models.Trade) error
	FundByCard(ctx context.Context, input FundByCardInput) (*models.EscrowRecord, error)
	ConfirmCapture(ctx context.Context, input CaptureConfirmation) error
	Release(ctx context.Context, input ReleaseInput) (*models.EscrowRecord, error)
	ConfirmTransfer(ctx context.Context, reference string) error
	FailTransfer(ctx context.Context, reference, reason string) error
	Refund(ctx context.Context, input RefundInput) (*models.EscrowRecord, error)
	GetByTradeID(ctx context.Context, tradeID uuid.UUID) (*models.EscrowRecord, error)
	ListEvents(ctx context.Context, tradeID uuid.UUID) ([]models.EscrowEvent, error)
	RetryStuckReleases(ctx context.Context) error
	RetryParkedReleases(ctx context.Context) error

	// engine guard hooks
	IsFunded(ctx context.Context, tradeID uuid.UUID) (bool, error)
	IsReleased(ctx context.Context, tradeID uuid.UUID) (bool, error)

	BindEngine(eng transitionRequester)
}

type service struct {
	records   Repository
	events    EventRepository
	trades    trades.Repository
	companies companies.Repository
	audit     audit.Service
	tx        txRunner
	outbox    outboxPublisher
	cards     cardGateway
	transfers transferGateway
	engine    transitionRequester
	fees      config.FeeConfig
	sweep     config.SweepConfig
	metrics   *metrics.EngineMetrics
	logg      *logger.Logger
}

// NewService builds the escrow service. The engine is bound after
// construction because the engine itself takes this service as a guard.
func NewService(
	records Repository,
	events EventRepository,
	tradeRepo trades.Repository,
	companyRepo companies.Repository,
	auditSvc audit.Service,
	tx txRunner,
	ob outboxPublisher,
	cards cardGateway,
	transfers transferGateway,
	fees config.FeeConfig,
	sweep config.SweepConfig,
	engMetrics *metrics.EngineMetrics,
	logg *logger.Logger,
) (Service, error) {
	if records == nil || events == nil {
		return nil, fmt.Errorf("escrow repositories required")
	}
	if tradeRepo == nil {
		return nil, fmt.Errorf("trades repository required")
	}
	if companyRepo == nil {
		return nil, fmt.Errorf("companies repository required")
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
	if cards == nil {
		return nil, fmt.Errorf("card gateway required")
	}
	if transfers == nil {
		return nil, fmt.Errorf("transfer gateway required")
	}
	return &service{
		records:   records,
		events:    events,
		trades:    tradeRepo,
		companies: companyRepo,
		audit:     auditSvc,
		tx:        tx,
		outbox:    ob,
		cards:     cards,
		transfers: transfers,
		fees:      fees,
		sweep:     sweep,
		metrics:   engMetrics,
		logg:      logg,
	}, nil
}

// BindEngine attaches the settlement engine once wiring is complete.
func (s *service) BindEngine(eng transitionRequester) {
	s.engine = eng
}

// PrepareEscrow creates the pending escrow record when a trade enters
// escrow_required. Safe to replay: the trade_id unique index absorbs a second
// attempt.
func (s *service) PrepareEscrow(ctx context.Context, trade *models.Trade) error {
	existing, err := s.records.GetByTradeID(ctx, trade.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load escrow record")
	}
	if existing != nil {
		return nil
	}
	record := &models.EscrowRecord{
		TradeID:    trade.ID,
		Status:     enums.EscrowStatusPending,
		GrossCents: trade.TotalCents,
		Currency:   trade.Currency,
	}
	if err := s.records.Create(ctx, record); err != nil {
		if db.IsUniqueViolation(err, "ux_escrow_records_trade_id") {
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create escrow record")
	}
	return nil
}

// FundByCard captures buyer funds through Square. The idempotency key derives
// from the record, so a retried request reuses the original capture.
func (s *service) FundByCard(ctx context.Context, input FundByCardInput) (*models.EscrowRecord, error) {
	if input.TradeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "trade id required")
	}
	if strings.TrimSpace(input.SourceID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment source required")
	}

	trade, record, err := s.loadTradeAndRecord(ctx, input.TradeID)
	if err != nil {
		return nil, err
	}
	if record.Status != enums.EscrowStatusPending {
		return record, nil
	}
	if trade.State != enums.TradeStateEscrowRequired {
		return nil, pkgerrors.New(pkgerrors.CodeGuardFailed, "trade is not awaiting escrow funding").
			WithDetails(map[string]any{"precondition": "trade_escrow_required", "state": trade.State})
	}

	start := time.Now()
	payment, err := s.cards.CreatePayment(ctx, square.PaymentCreateParams{
		AmountCents:    int64(record.GrossCents),
		Currency:       string(record.Currency),
		LocationID:     s.cards.LocationID(),
		SourceID:       input.SourceID,
		IdempotencyKey: fmt.Sprintf("tl-capture-%s", record.ID),
		ReferenceID:    trade.ID.String(),
	})
	s.observeCall("square", "create_payment", start)
	if err != nil {
		return nil, err
	}

	captureRef := stringValue(payment.GetID())
	if stringValue(payment.GetStatus()) != squarePaymentCompleted {
		event := &models.EscrowEvent{
			EscrowRecordID: record.ID,
			TradeID:        trade.ID,
			Type:           enums.EscrowEventCapturePending,
			Reference:      refPtr("capture-pending:" + captureRef),
			AmountCents:    record.GrossCents,
		}
		if _, err := s.events.InsertIfNewReference(ctx, event); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record capture pending")
		}
		return record, nil
	}

	if err := s.confirmFunding(ctx, trade, record, captureRef, enums.PaymentMethodCard, input.ActorID, input.ActorRole); err != nil {
		return nil, err
	}
	return s.records.GetByID(ctx, record.ID)
}

// ConfirmCapture applies a payment-captured webhook. Replays are no-ops.
func (s *service) ConfirmCapture(ctx context.Context, input CaptureConfirmation) error {
	if input.TradeID == uuid.Nil || strings.TrimSpace(input.CaptureRef) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "trade id and capture reference required")
	}

	trade, record, err := s.loadTradeAndRecord(ctx, input.TradeID)
	if err != nil {
		return err
	}
	if record.Status != enums.EscrowStatusPending {
		return nil
	}
	if input.AmountCents != record.GrossCents {
		return pkgerrors.New(pkgerrors.CodeValidation, "captured amount does not match escrow gross").
			WithDetails(map[string]any{
				"expected_cents": record.GrossCents,
				"captured_cents": input.AmountCents,
			})
	}

	method := input.Method
	if !method.IsValid() {
		method = enums.PaymentMethodCard
	}
	return s.confirmFunding(ctx, trade, record, input.CaptureRef, method, nil, "system")
}

// confirmFunding locks in the fee split, marks the record funded, and drives
// the trade to escrow_funded. All writes commit atomically.
func (s *service) confirmFunding(ctx context.Context, trade *models.Trade, record *models.EscrowRecord, captureRef string, method enums.PaymentMethod, actorID *uuid.UUID, actorRole string) error {
	split := ComputeFeeSplit(record.GrossCents, s.fees.DefaultRateBps, s.fees.FloorCents)
	now := time.Now().UTC()

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		funded, err := s.records.WithTx(tx).MarkFunded(ctx, record.ID, captureRef, method, split.FeeCents, split.NetCents, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark escrow funded")
		}
		if !funded {
			return nil
		}

		event := &models.EscrowEvent{
			EscrowRecordID: record.ID,
			TradeID:        trade.ID,
			Type:           enums.EscrowEventFunded,
			Reference:      refPtr("capture:" + captureRef),
			AmountCents:    record.GrossCents,
		}
		if _, err := s.events.WithTx(tx).InsertIfNewReference(ctx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record funded event")
		}

		meta, _ := json.Marshal(map[string]any{
			"capture_ref":        captureRef,
			"gross_cents":        split.GrossCents,
			"platform_fee_cents": split.FeeCents,
			"net_release_cents":  split.NetCents,
		})
		if _, err := s.audit.RecordEvent(ctx, tx, audit.RecordEventInput{
			TradeID:   trade.ID,
			Type:      enums.TradeEventEscrowFunded,
			ActorID:   actorID,
			ActorRole: actorRole,
			Metadata:  meta,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record audit event")
		}

		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventEscrowFunded,
			AggregateType: enums.AggregateEscrowRecord,
			AggregateID:   record.ID,
			Version:       1,
			Data: map[string]any{
				"escrow_record_id":   record.ID,
				"trade_id":           trade.ID,
				"gross_cents":        split.GrossCents,
				"platform_fee_cents": split.FeeCents,
				"net_release_cents":  split.NetCents,
				"currency":           record.Currency,
			},
		})
	})
	if err != nil {
		return err
	}

	return s.requestTransition(ctx, trade.ID, enums.TradeStateEscrowFunded, actorID, actorRole)
}

// Release moves net escrow funds to the seller. The release reference is
// deterministic, so the transfer can be initiated at most once per record;
// a record whose transfer is already in flight is reconciled instead.
func (s *service) Release(ctx context.Context, input ReleaseInput) (*models.EscrowRecord, error) {
	if input.TradeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "trade id required")
	}

	trade, record, err := s.loadTradeAndRecord(ctx, input.TradeID)
	if err != nil {
		return nil, err
	}
	if record.Status == enums.EscrowStatusReleased {
		return record, nil
	}
	if record.Status != enums.EscrowStatusFunded {
		return nil, pkgerrors.New(pkgerrors.CodeGuardFailed, "escrow record is not funded").
			WithDetails(map[string]any{"precondition": "escrow_funded", "status": record.Status})
	}
	if trade.State != enums.TradeStateDelivered {
		return nil, pkgerrors.New(pkgerrors.CodeGuardFailed, "funds release requires a delivered trade").
			WithDetails(map[string]any{"precondition": "trade_delivered", "state": trade.State})
	}
	if trade.SellerID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "delivered trade has no seller")
	}

	seller, err := s.companies.GetByID(ctx, *trade.SellerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load seller")
	}
	if !seller.HasPayoutDetails() {
		if err := s.parkRelease(ctx, trade, record, input); err != nil {
			return nil, err
		}
		return nil, pkgerrors.New(pkgerrors.CodePayoutDetailsMissing, "seller has no payout details on file").
			WithDetails(map[string]any{"seller_id": trade.SellerID})
	}

	releaseRef := ReleaseReference(trade.ID, record.ID)

	initiated, err := s.events.HasEvent(ctx, record.ID, enums.EscrowEventReleaseInitiated)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check release history")
	}
	if initiated {
		// A previous attempt owns the reference. Reconcile against the
		// provider rather than transfer blindly.
		return record, s.reconcileTransfer(ctx, record, releaseRef)
	}

	var claimed bool
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.records.WithTx(tx).SetReleaseRef(ctx, record.ID, releaseRef); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim release reference")
		}
		created, err := s.events.WithTx(tx).InsertIfNewReference(ctx, &models.EscrowEvent{
			EscrowRecordID: record.ID,
			TradeID:        trade.ID,
			Type:           enums.EscrowEventReleaseInitiated,
			Reference:      refPtr(releaseRef),
			AmountCents:    record.NetReleaseCents,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record release initiation")
		}
		claimed = created
		if !created {
			return nil
		}
		_, err = s.audit.RecordEvent(ctx, tx, audit.RecordEventInput{
			TradeID:   trade.ID,
			Type:      enums.TradeEventReleaseInitiated,
			ActorID:   input.ActorID,
			ActorRole: input.ActorRole,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if !claimed {
		// A concurrent release won the initiation row between our history
		// check and the insert. Its transfer owns the reference.
		return record, s.reconcileTransfer(ctx, record, releaseRef)
	}

	start := time.Now()
	transfer, err := s.transfers.CreateTransfer(ctx, payout.TransferParams{
		Reference:   releaseRef,
		AmountCents: int64(record.NetReleaseCents),
		Currency:    string(record.Currency),
		BankCode:    stringValue(seller.PayoutBankCode),
		Account:     stringValue(seller.PayoutAccount),
		AccountName: stringValue(seller.PayoutAccountName),
		Narration:   fmt.Sprintf("trade %s settlement", trade.ID),
	})
	s.observeCall("payout", "create_transfer", start)
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeIdempotency) {
			// The provider saw this reference before. The sweep will confirm it.
			return record, nil
		}
		if failErr := s.recordReleaseFailure(ctx, trade, record, err.Error(), input.ActorID, input.ActorRole); failErr != nil && s.logg != nil {
			s.logg.Error(ctx, "recording release failure", failErr)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeReleaseFailed, err, "transfer initiation failed")
	}

	if transfer.Status == transferStatusSuccess {
		return record, s.ConfirmTransfer(ctx, releaseRef)
	}
	return record, nil
}

// ConfirmTransfer applies a transfer-settled webhook: the record flips to
// released exactly once and the trade settles.
func (s *service) ConfirmTransfer(ctx context.Context, reference string) error {
	record, err := s.records.GetByReleaseRef(ctx, reference)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load escrow record")
	}
	if record == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "no escrow record for transfer reference")
	}
	if record.Status == enums.EscrowStatusReleased {
		return nil
	}

	now := time.Now().UTC()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		released, err := s.records.WithTx(tx).MarkReleased(ctx, record.ID, reference, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark escrow released")
		}
		if !released {
			return nil
		}

		if _, err := s.events.WithTx(tx).InsertIfNewReference(ctx, &models.EscrowEvent{
			EscrowRecordID: record.ID,
			TradeID:        record.TradeID,
			Type:           enums.EscrowEventReleased,
			Reference:      refPtr("released:" + reference),
			AmountCents:    record.NetReleaseCents,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record released event")
		}

		if _, err := s.audit.RecordEvent(ctx, tx, audit.RecordEventInput{
			TradeID:   record.TradeID,
			Type:      enums.TradeEventReleased,
			ActorRole: "system",
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record audit event")
		}

		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventEscrowReleased,
			AggregateType: enums.AggregateEscrowRecord,
			AggregateID:   record.ID,
			Version:       1,
			Data: map[string]any{
				"escrow_record_id":  record.ID,
				"trade_id":          record.TradeID,
				"net_release_cents": record.NetReleaseCents,
				"currency":          record.Currency,
				"release_ref":       reference,
			},
		})
	})
	if err != nil {
		return err
	}

	return s.requestTransition(ctx, record.TradeID, enums.TradeStateSettled, nil, "system")
}

// FailTransfer records a failed transfer attempt. The record stays funded so
// the release can be retried with the same reference.
func (s *service) FailTransfer(ctx context.Context, reference, reason string) error {
	record, err := s.records.GetByReleaseRef(ctx, reference)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load escrow record")
	}
	if record == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "no escrow record for transfer reference")
	}
	if record.Status != enums.EscrowStatusFunded {
		return nil
	}

	trade, err := s.trades.GetByID(ctx, record.TradeID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load trade")
	}
	return s.recordReleaseFailure(ctx, trade, record, reason, nil, "system")
}

// Refund returns escrow funds to the buyer from a disputed or funded trade.
func (s *service) Refund(ctx context.Context, input RefundInput) (*models.EscrowRecord, error) {
	if input.TradeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "trade id required")
	}

	trade, record, err := s.loadTradeAndRecord(ctx, input.TradeID)
	if err != nil {
		return nil, err
	}
	if record.Status == enums.EscrowStatusRefunded {
		return record, nil
	}
	if record.Status != enums.EscrowStatusFunded {
		return nil, pkgerrors.New(pkgerrors.CodeGuardFailed, "only funded escrow can be refunded").
			WithDetails(map[string]any{"precondition": "escrow_funded", "status": record.Status})
	}
	if trade.State != enums.TradeStateDisputed && trade.State != enums.TradeStateEscrowFunded {
		return nil, pkgerrors.New(pkgerrors.CodeGuardFailed, "refunds require a disputed or newly funded trade").
			WithDetails(map[string]any{"precondition": "trade_refundable", "state": trade.State})
	}
	if record.CaptureRef == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "funded escrow record has no capture reference")
	}

	start := time.Now()
	refund, err := s.cards.RefundPayment(ctx, square.RefundCreateParams{
		PaymentID:      *record.CaptureRef,
		AmountCents:    int64(record.GrossCents),
		Currency:       string(record.Currency),
		IdempotencyKey: fmt.Sprintf("tl-refund-%s", record.ID),
		Reason:         input.Reason,
	})
	s.observeCall("square", "refund_payment", start)
	if err != nil && !pkgerrors.HasCode(err, pkgerrors.CodeIdempotency) {
		return nil, err
	}

	refundRef := fmt.Sprintf("refund:%s", record.ID)
	if refund != nil && refund.GetID() != "" {
		refundRef = "refund:" + refund.GetID()
	}

	now := time.Now().UTC()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		refunded, err := s.records.WithTx(tx).MarkRefunded(ctx, record.ID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark escrow refunded")
		}
		if !refunded {
			return nil
		}

		if _, err := s.events.WithTx(tx).InsertIfNewReference(ctx, &models.EscrowEvent{
			EscrowRecordID: record.ID,
			TradeID:        trade.ID,
			Type:           enums.EscrowEventRefunded,
			Reference:      refPtr(refundRef),
			AmountCents:    record.GrossCents,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record refunded event")
		}

		meta, _ := json.Marshal(map[string]any{"reason": input.Reason})
		if _, err := s.audit.RecordEvent(ctx, tx, audit.RecordEventInput{
			TradeID:   trade.ID,
			Type:      enums.TradeEventRefunded,
			ActorID:   input.ActorID,
			ActorRole: input.ActorRole,
			Metadata:  meta,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record audit event")
		}

		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventEscrowRefunded,
			AggregateType: enums.AggregateEscrowRecord,
			AggregateID:   record.ID,
			Version:       1,
			Data: map[string]any{
				"escrow_record_id": record.ID,
				"trade_id":         trade.ID,
				"gross_cents":      record.GrossCents,
				"currency":         record.Currency,
				"reason":           input.Reason,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	if err := s.requestTransition(ctx, trade.ID, enums.TradeStateRefunded, input.ActorID, input.ActorRole); err != nil {
		return nil, err
	}
	return s.records.GetByID(ctx, record.ID)
}

func (s *service) GetByTradeID(ctx context.Context, tradeID uuid.UUID) (*models.EscrowRecord, error) {
	if tradeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "trade id required")
	}
	record, err := s.records.GetByTradeID(ctx, tradeID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load escrow record")
	}
	if record == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "escrow record not found")
	}
	return record, nil
}

func (s *service) ListEvents(ctx context.Context, tradeID uuid.UUID) ([]models.EscrowEvent, error) {
	if tradeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "trade id required")
	}
	return s.events.ListByTradeID(ctx, tradeID)
}

// RetryStuckReleases reconciles transfers that were initiated but never
// confirmed by a webhook.
func (s *service) RetryStuckReleases(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.sweep.ReleaseStuckAfter)
	records, err := s.records.ListStuckReleases(ctx, cutoff, sweepBatchSize)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stuck releases")
	}

	var errs error
	for i := range records {
		record := records[i]
		if record.ReleaseRef == nil {
			continue
		}
		if err := s.reconcileTransfer(ctx, &record, *record.ReleaseRef); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("escrow record %s: %w", record.ID, err))
		}
	}
	return errs
}

// RetryParkedReleases re-attempts releases that parked waiting for seller
// payout details.
func (s *service) RetryParkedReleases(ctx context.Context) error {
	ids, err := s.events.ListRecordIDsWithType(ctx, enums.EscrowEventReleaseParked, sweepBatchSize)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list parked releases")
	}

	var errs error
	for _, id := range ids {
		record, err := s.records.GetByID(ctx, id)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if record == nil || record.Status != enums.EscrowStatusFunded || record.ReleaseRef != nil {
			continue
		}
		if _, err := s.Release(ctx, ReleaseInput{TradeID: record.TradeID, ActorRole: "system"}); err != nil {
			// Still parked is the expected steady state; everything else counts.
			if pkgerrors.HasCode(err, pkgerrors.CodePayoutDetailsMissing) {
				continue
			}
			errs = multierr.Append(errs, fmt.Errorf("escrow record %s: %w", record.ID, err))
		}
	}
	return errs
}

// IsFunded reports whether escrow funds were captured for the trade.
func (s *service) IsFunded(ctx context.Context, tradeID uuid.UUID) (bool, error) {
	record, err := s.records.GetByTradeID(ctx, tradeID)
	if err != nil {
		return false, err
	}
	if record == nil {
		return false, nil
	}
	return record.Status == enums.EscrowStatusFunded || record.Status == enums.EscrowStatusReleased, nil
}

// IsReleased reports whether escrow funds already reached the seller.
func (s *service) IsReleased(ctx context.Context, tradeID uuid.UUID) (bool, error) {
	record, err := s.records.GetByTradeID(ctx, tradeID)
	if err != nil {
		return false, err
	}
	return record != nil && record.Status == enums.EscrowStatusReleased, nil
}

// parkRelease records that a release is blocked on payout details and asks
// the seller for them. Parking the same record twice is a no-op.
func (s *service) parkRelease(ctx context.Context, trade *models.Trade, record *models.EscrowRecord, input ReleaseInput) error {
	parked, err := s.events.HasEvent(ctx, record.ID, enums.EscrowEventReleaseParked)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check park history")
	}
	if parked {
		return nil
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.events.WithTx(tx).Insert(ctx, &models.EscrowEvent{
			EscrowRecordID: record.ID,
			TradeID:        trade.ID,
			Type:           enums.EscrowEventReleaseParked,
			AmountCents:    record.NetReleaseCents,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record parked event")
		}

		if _, err := s.audit.RecordEvent(ctx, tx, audit.RecordEventInput{
			TradeID:   trade.ID,
			Type:      enums.TradeEventReleaseParked,
			ActorID:   input.ActorID,
			ActorRole: input.ActorRole,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record audit event")
		}

		if err := s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventEscrowReleaseParked,
			AggregateType: enums.AggregateEscrowRecord,
			AggregateID:   record.ID,
			Version:       1,
			Data: map[string]any{
				"escrow_record_id": record.ID,
				"trade_id":         trade.ID,
				"seller_id":        trade.SellerID,
			},
		}); err != nil {
			return err
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventNotificationRequested,
			AggregateType: enums.AggregateNotification,
			AggregateID:   record.ID,
			Version:       1,
			Data: map[string]any{
				"type":       enums.NotificationTypePayoutDetails,
				"company_id": trade.SellerID,
				"trade_id":   trade.ID,
			},
		})
	})
}

// reconcileTransfer polls the provider for a transfer we initiated earlier.
// A transfer the provider never saw means the original CreateTransfer call
// failed or crashed after the initiation row was written, so it is re-issued
// with the same deterministic reference.
func (s *service) reconcileTransfer(ctx context.Context, record *models.EscrowRecord, reference string) error {
	start := time.Now()
	transfer, err := s.transfers.GetTransfer(ctx, reference)
	s.observeCall("payout", "get_transfer", start)
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
			return s.reissueTransfer(ctx, record, reference)
		}
		return err
	}

	switch transfer.Status {
	case transferStatusSuccess:
		return s.ConfirmTransfer(ctx, reference)
	case transferStatusFailed:
		return s.FailTransfer(ctx, reference, "provider reported transfer failure")
	default:
		return nil
	}
}

// reissueTransfer retries a transfer whose initiation never reached the
// provider. The reference is unchanged, so the provider dedupes the attempt
// if the original call did land after all.
func (s *service) reissueTransfer(ctx context.Context, record *models.EscrowRecord, reference string) error {
	trade, err := s.trades.GetByID(ctx, record.TradeID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load trade")
	}
	if trade == nil || trade.SellerID == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "escrow record has no seller to pay")
	}
	seller, err := s.companies.GetByID(ctx, *trade.SellerID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load seller")
	}
	if seller == nil || !seller.HasPayoutDetails() {
		return pkgerrors.New(pkgerrors.CodePayoutDetailsMissing, "seller has no payout details on file").
			WithDetails(map[string]any{"seller_id": trade.SellerID})
	}

	start := time.Now()
	transfer, err := s.transfers.CreateTransfer(ctx, payout.TransferParams{
		Reference:   reference,
		AmountCents: int64(record.NetReleaseCents),
		Currency:    string(record.Currency),
		BankCode:    stringValue(seller.PayoutBankCode),
		Account:     stringValue(seller.PayoutAccount),
		AccountName: stringValue(seller.PayoutAccountName),
		Narration:   fmt.Sprintf("trade %s settlement", trade.ID),
	})
	s.observeCall("payout", "create_transfer", start)
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeIdempotency) {
			return nil
		}
		if failErr := s.recordReleaseFailure(ctx, trade, record, err.Error(), nil, "system"); failErr != nil && s.logg != nil {
			s.logg.Error(ctx, "recording release failure", failErr)
		}
		return pkgerrors.Wrap(pkgerrors.CodeReleaseFailed, err, "transfer re-initiation failed")
	}

	if transfer.Status == transferStatusSuccess {
		return s.ConfirmTransfer(ctx, reference)
	}
	return nil
}

func (s *service) recordReleaseFailure(ctx context.Context, trade *models.Trade, record *models.EscrowRecord, reason string, actorID *uuid.UUID, actorRole string) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.events.WithTx(tx).Insert(ctx, &models.EscrowEvent{
			EscrowRecordID: record.ID,
			TradeID:        record.TradeID,
			Type:           enums.EscrowEventReleaseFailed,
			AmountCents:    record.NetReleaseCents,
			Metadata:       mustJSON(map[string]any{"reason": reason}),
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record release failure")
		}

		if trade != nil {
			meta, _ := json.Marshal(map[string]any{"reason": reason})
			if _, err := s.audit.RecordEvent(ctx, tx, audit.RecordEventInput{
				TradeID:   trade.ID,
				Type:      enums.TradeEventReleaseFailed,
				ActorID:   actorID,
				ActorRole: actorRole,
				Metadata:  meta,
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record audit event")
			}
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventEscrowReleaseFailed,
			AggregateType: enums.AggregateEscrowRecord,
			AggregateID:   record.ID,
			Version:       1,
			Data: map[string]any{
				"escrow_record_id": record.ID,
				"trade_id":         record.TradeID,
				"reason":           reason,
			},
		})
	})
}

// requestTransition drives the engine and swallows the replay case where the
// trade already advanced.
func (s *service) requestTransition(ctx context.Context, tradeID uuid.UUID, target enums.TradeState, actorID *uuid.UUID, actorRole string) error {
	if s.engine == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "escrow service has no engine bound")
	}
	_, err := s.engine.RequestTransition(ctx, engine.TransitionInput{
		TradeID:   tradeID,
		Target:    target,
		ActorID:   actorID,
		ActorRole: actorRole,
	})
	if err != nil && pkgerrors.HasCode(err, pkgerrors.CodeInvalidTransition) {
		return nil
	}
	return err
}

func (s *service) loadTradeAndRecord(ctx context.Context, tradeID uuid.UUID) (*models.Trade, *models.EscrowRecord, error) {
	trade, err := s.trades.GetByID(ctx, tradeID)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load trade")
	}
	if trade == nil {
		return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "trade not found")
	}
	record, err := s.records.GetByTradeID(ctx, tradeID)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load escrow record")
	}
	if record == nil {
		return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "escrow record not found")
	}
	return trade, record, nil
}

func (s *service) observeCall(provider, operation string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveExternalCall(provider, operation, time.Since(start))
}

func refPtr(ref string) *string {
	return &ref
}

func stringValue(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func mustJSON(v map[string]any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
