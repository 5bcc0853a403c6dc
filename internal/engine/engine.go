package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradelane/backend/internal/audit"
	"github.com/tradelane/backend/internal/trades"
	"github.com/tradelane/backend/pkg/db/models"
	"github.com/tradelane/backend/pkg/enums"
	pkgerrors "github.com/tradelane/backend/pkg/errors"
	"github.com/tradelane/backend/pkg/logger"
	"github.com/tradelane/backend/pkg/metrics"
	"github.com/tradelane/backend/pkg/outbox"
)

const defaultEffectTimeout = 15 * time.Second

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// ContractChecker reports signature status for the contracted→escrow_required guard.
type ContractChecker interface {
	FullySigned(ctx context.Context, tradeID uuid.UUID) (bool, error)
}

// EscrowChecker reports escrow status for the funded and settled guards.
type EscrowChecker interface {
	IsFunded(ctx context.Context, tradeID uuid.UUID) (bool, error)
	IsReleased(ctx context.Context, tradeID uuid.UUID) (bool, error)
}

// EffectFunc runs the idempotent side effect bound to an edge before the state
// commit. It must tolerate re-invocation after a crash.
type EffectFunc func(ctx context.Context, trade *models.Trade) error

// TransitionInput is a single request against the lifecycle graph.
type TransitionInput struct {
	TradeID   uuid.UUID
	Target    enums.TradeState
	ActorID   *uuid.UUID
	ActorRole string
	Metadata  json.RawMessage
}

// Service drives every trade state change: per-trade serialization, edge
// validation, guard evaluation, side effect, then an atomic commit of state,
// audit row, and outbox event.
type Service interface {
	RequestTransition(ctx context.Context, input TransitionInput) (*models.Trade, error)
	RegisterEffect(from, to enums.TradeState, effect EffectFunc)
}

type service struct {
	trades        trades.Repository
	audit         audit.Service
	tx            txRunner
	outbox        outboxPublisher
	contracts     ContractChecker
	escrow        EscrowChecker
	metrics       *metrics.EngineMetrics
	logg          *logger.Logger
	effects       map[edge]EffectFunc
	effectTimeout time.Duration
}

// NewService builds the settlement engine with the required dependencies.
func NewService(
	tradeRepo trades.Repository,
	auditSvc audit.Service,
	tx txRunner,
	ob outboxPublisher,
	contracts ContractChecker,
	escrow EscrowChecker,
	engMetrics *metrics.EngineMetrics,
	logg *logger.Logger,
) (Service, error) {
	if tradeRepo == nil {
		return nil, fmt.Errorf("trades repository required")
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
	if contracts == nil {
		return nil, fmt.Errorf("contract checker required")
	}
	if escrow == nil {
		return nil, fmt.Errorf("escrow checker required")
	}
	return &service{
		trades:        tradeRepo,
		audit:         auditSvc,
		tx:            tx,
		outbox:        ob,
		contracts:     contracts,
		escrow:        escrow,
		metrics:       engMetrics,
		logg:          logg,
		effects:       make(map[edge]EffectFunc),
		effectTimeout: defaultEffectTimeout,
	}, nil
}

// RegisterEffect binds an idempotent side effect to an edge. Registration
// happens during wiring, before any transitions run.
func (s *service) RegisterEffect(from, to enums.TradeState, effect EffectFunc) {
	if effect == nil {
		return
	}
	s.effects[edge{from: from, to: to}] = effect
}

func (s *service) RequestTransition(ctx context.Context, input TransitionInput) (*models.Trade, error) {
	if input.TradeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "trade id required")
	}
	if !input.Target.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid target state")
	}

	trade, err := s.trades.GetByID(ctx, input.TradeID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load trade")
	}
	if trade == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "trade not found")
	}

	locked, err := s.trades.AcquireTransitionLock(ctx, trade.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire transition lock")
	}
	if !locked {
		s.observe(input.Target, "in_progress")
		return nil, pkgerrors.New(pkgerrors.CodeTransitionInProgress, "trade transition already in flight")
	}

	trade, err = s.run(ctx, trade, input)
	if err != nil {
		if relErr := s.trades.ReleaseTransitionLock(ctx, input.TradeID); relErr != nil && s.logg != nil {
			s.logg.Error(ctx, "releasing transition lock", relErr)
		}
		return nil, err
	}
	return trade, nil
}

// run executes steps 2–5 under the lock. The caller releases the lock on any
// error; CommitState clears it on success.
func (s *service) run(ctx context.Context, trade *models.Trade, input TransitionInput) (*models.Trade, error) {
	from := trade.State
	to := input.Target

	if !CanTransition(from, to) {
		s.observe(to, "invalid")
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition,
			fmt.Sprintf("transition %s → %s is not allowed", from, to)).
			WithDetails(map[string]any{"from": from, "to": to, "allowed": AllowedTargets(from)})
	}

	if err := s.checkGuards(ctx, trade, to); err != nil {
		s.observe(to, "guard_failed")
		return nil, err
	}

	if effect, ok := s.effects[edge{from: from, to: to}]; ok {
		effectCtx, cancel := context.WithTimeout(ctx, s.effectTimeout)
		err := effect(effectCtx, trade)
		cancel()
		if err != nil {
			s.observe(to, "effect_failed")
			s.auditFailure(ctx, trade, to, input, err)
			if typed := pkgerrors.As(err); typed != nil {
				return nil, err
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeExternalCallFailed, err, "transition side effect failed")
		}
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		committed, err := s.trades.WithTx(tx).CommitState(ctx, trade.ID, from, to)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "commit trade state")
		}
		if !committed {
			return pkgerrors.New(pkgerrors.CodeConflict, "trade state changed underneath transition")
		}

		fromCopy := from
		toCopy := to
		if _, err := s.audit.RecordEvent(ctx, tx, audit.RecordEventInput{
			TradeID:   trade.ID,
			Type:      enums.TradeEventStateChanged,
			FromState: &fromCopy,
			ToState:   &toCopy,
			ActorID:   input.ActorID,
			ActorRole: input.ActorRole,
			Metadata:  input.Metadata,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record audit event")
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventTradeStateChanged,
			AggregateType: enums.AggregateTrade,
			AggregateID:   trade.ID,
			Actor:         actorRef(input),
			Version:       1,
			Data: map[string]any{
				"trade_id":   trade.ID,
				"buyer_id":   trade.BuyerID,
				"seller_id":  trade.SellerID,
				"from_state": from,
				"to_state":   to,
				"actor_role": input.ActorRole,
			},
		}
		return s.outbox.Emit(ctx, tx, event)
	})
	if err != nil {
		s.observe(to, "commit_failed")
		return nil, err
	}

	trade.State = to
	trade.Transitioning = false
	trade.Version++
	s.observe(to, "ok")
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"trade_id": trade.ID.String(),
			"from":     from,
			"to":       to,
		})
		s.logg.Info(logCtx, "trade state transitioned")
	}
	return trade, nil
}

func (s *service) checkGuards(ctx context.Context, trade *models.Trade, to enums.TradeState) error {
	switch {
	case trade.State == enums.TradeStateContracted && to == enums.TradeStateEscrowRequired:
		signed, err := s.contracts.FullySigned(ctx, trade.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check contract signatures")
		}
		if !signed {
			return pkgerrors.New(pkgerrors.CodeGuardFailed, "contract must be signed by both parties").
				WithDetails(map[string]any{"precondition": "contract_fully_signed"})
		}

	case to == enums.TradeStateEscrowFunded:
		funded, err := s.escrow.IsFunded(ctx, trade.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check escrow funding")
		}
		if !funded {
			return pkgerrors.New(pkgerrors.CodeGuardFailed, "escrow record is not funded").
				WithDetails(map[string]any{"precondition": "escrow_funded"})
		}

	case trade.State == enums.TradeStateDelivered && to == enums.TradeStateSettled:
		released, err := s.escrow.IsReleased(ctx, trade.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check escrow release")
		}
		if !released {
			return pkgerrors.New(pkgerrors.CodeGuardFailed, "escrow funds must be released before settlement").
				WithDetails(map[string]any{"precondition": "escrow_released"})
		}
	}
	return nil
}

func (s *service) auditFailure(ctx context.Context, trade *models.Trade, to enums.TradeState, input TransitionInput, cause error) {
	meta, _ := json.Marshal(map[string]any{
		"target": to,
		"error":  cause.Error(),
	})
	fromCopy := trade.State
	toCopy := to
	if _, err := s.audit.RecordEvent(ctx, nil, audit.RecordEventInput{
		TradeID:   trade.ID,
		Type:      enums.TradeEventTransitionFailed,
		FromState: &fromCopy,
		ToState:   &toCopy,
		ActorID:   input.ActorID,
		ActorRole: input.ActorRole,
		Metadata:  meta,
	}); err != nil && s.logg != nil {
		s.logg.Error(ctx, "recording transition failure", err)
	}
}

func (s *service) observe(target enums.TradeState, outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.IncTransition(string(target), outcome)
}

func actorRef(input TransitionInput) *outbox.ActorRef {
	if input.ActorID == nil || *input.ActorID == uuid.Nil {
		return nil
	}
	return &outbox.ActorRef{UserID: *input.ActorID, Role: input.ActorRole}
}
