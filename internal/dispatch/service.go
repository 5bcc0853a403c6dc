package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/tradelane/backend/internal/audit"
	"github.com/tradelane/backend/internal/engine"
	"github.com/tradelane/backend/internal/trades"
	"github.com/tradelane/backend/pkg/config"
	"github.com/tradelane/backend/pkg/db/models"
	"github.com/tradelane/backend/pkg/enums"
	pkgerrors "github.com/tradelane/backend/pkg/errors"
	"github.com/tradelane/backend/pkg/logger"
	"github.com/tradelane/backend/pkg/outbox"
)

// A request with no assignment after this long gets re-notified by the sweep.
const retryAfter = 10 * time.Minute

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type transitionRequester interface {
	RequestTransition(ctx context.Context, input engine.TransitionInput) (*models.Trade, error)
}

// RequestInput starts the match-and-notify cycle for a trade.
type RequestInput struct {
	TradeID   uuid.UUID
	ActorID   *uuid.UUID
	ActorRole string
}

// RequestResult summarizes one dispatch request.
type RequestResult struct {
	TradeID       uuid.UUID           `json:"trade_id"`
	Requested     bool                `json:"requested"`
	NotifiedCount int                 `json:"notified_count"`
	NoProviders   bool                `json:"no_providers"`
	Vehicles      []enums.VehicleType `json:"vehicles"`
}

// ResponseInput records a provider's answer to a dispatch request.
type ResponseInput struct {
	TradeID    uuid.UUID
	ProviderID uuid.UUID
	Accept     bool
	ActorRole  string
}

// Service coordinates logistics: matching providers to ready cargo, fanning
// out notifications, and converting the first acceptance into a shipment.
type Service interface {
	RequestDispatch(ctx context.Context, input RequestInput) (*RequestResult, error)
	RecordProviderResponse(ctx context.Context, input ResponseInput) error
	ListEvents(ctx context.Context, tradeID uuid.UUID) ([]models.DispatchEvent, error)
	RetryPending(ctx context.Context) error
	BindEngine(eng transitionRequester)
}

type service struct {
	providers ProviderRepository
	events    EventRepository
	trades    trades.Repository
	audit     audit.Service
	tx        txRunner
	outbox    outboxPublisher
	engine    transitionRequester
	cfg       config.DispatchConfig
	logg      *logger.Logger
}

// NewService builds the dispatch coordinator. The engine is bound after
// construction, once the full wiring exists.
func NewService(
	providers ProviderRepository,
	events EventRepository,
	tradeRepo trades.Repository,
	auditSvc audit.Service,
	tx txRunner,
	ob outboxPublisher,
	cfg config.DispatchConfig,
	logg *logger.Logger,
) (Service, error) {
	if providers == nil || events == nil {
		return nil, fmt.Errorf("dispatch repositories required")
	}
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
	if cfg.NotifyLimit <= 0 {
		cfg.NotifyLimit = 5
	}
	return &service{
		providers: providers,
		events:    events,
		trades:    tradeRepo,
		audit:     auditSvc,
		tx:        tx,
		outbox:    ob,
		cfg:       cfg,
		logg:      logg,
	}, nil
}

func (s *service) BindEngine(eng transitionRequester) {
	s.engine = eng
}

// RequestDispatch runs the match-and-notify cycle. The "requested" marker row
// makes a successful cycle idempotent: a replay returns the earlier outcome
// without notifying anyone twice. Zero matching providers is an outcome, not
// an error, and leaves the trade re-requestable once supply appears.
func (s *service) RequestDispatch(ctx context.Context, input RequestInput) (*RequestResult, error) {
	if input.TradeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "trade id required")
	}

	trade, err := s.trades.GetByID(ctx, input.TradeID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load trade")
	}
	if trade == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "trade not found")
	}
	if trade.State != enums.TradeStateProduction && trade.State != enums.TradeStateReadyForPickup {
		return nil, pkgerrors.New(pkgerrors.CodeGuardFailed, "cargo is not ready for dispatch").
			WithDetails(map[string]any{"precondition": "cargo_ready", "state": trade.State})
	}

	vehicles := VehiclesForCargo(trade.CargoType, trade.CargoWeightKg)
	result := &RequestResult{TradeID: trade.ID, Vehicles: vehicles}

	requested, err := s.events.InsertRequestIfNew(ctx, &models.DispatchEvent{
		TradeID:  trade.ID,
		Type:     enums.DispatchEventRequested,
		Metadata: mustJSON(map[string]any{"pickup_city": trade.PickupCity, "vehicles": vehicles}),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record dispatch request")
	}
	result.Requested = requested
	if !requested {
		return s.resumeRequest(ctx, trade, vehicles, result)
	}

	if err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.audit.RecordEvent(ctx, tx, audit.RecordEventInput{
			TradeID:   trade.ID,
			Type:      enums.TradeEventDispatchRequest,
			ActorID:   input.ActorID,
			ActorRole: input.ActorRole,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record audit event")
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDispatchRequested,
			AggregateType: enums.AggregateTrade,
			AggregateID:   trade.ID,
			Version:       1,
			Data: map[string]any{
				"trade_id":    trade.ID,
				"pickup_city": trade.PickupCity,
				"cargo_type":  trade.CargoType,
				"vehicles":    vehicles,
			},
		})
	}); err != nil {
		return nil, err
	}

	notified, err := s.notifyProviders(ctx, trade, vehicles)
	if err != nil {
		return nil, err
	}
	result.NotifiedCount = notified

	if notified == 0 {
		result.NoProviders = true
		if err := s.recordNoProviders(ctx, trade, input); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// resumeRequest handles a RequestDispatch call that found the "requested"
// marker already in place. A cycle that notified providers is replayed as its
// earlier outcome; a cycle that found no providers runs match-and-notify
// again, so fresh transporter supply is picked up without waiting for the
// sweep.
func (s *service) resumeRequest(ctx context.Context, trade *models.Trade, vehicles []enums.VehicleType, result *RequestResult) (*RequestResult, error) {
	events, err := s.events.ListByTradeID(ctx, trade.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load dispatch history")
	}

	notified := 0
	assigned := false
	for _, event := range events {
		switch event.Type {
		case enums.DispatchEventProviderNotified:
			notified++
		case enums.DispatchEventShipmentAssigned:
			assigned = true
		}
	}
	if notified > 0 || assigned {
		result.NotifiedCount = notified
		return result, nil
	}

	notifiedNow, err := s.notifyProviders(ctx, trade, vehicles)
	if err != nil {
		return nil, err
	}
	result.NotifiedCount = notifiedNow
	if notifiedNow == 0 {
		// Still nothing on the road. The original failure event stands.
		result.NoProviders = true
	}
	return result, nil
}

// notifyProviders fans out to the best-ranked providers, push first with SMS
// as the fallback channel. Providers reachable on neither channel are skipped.
func (s *service) notifyProviders(ctx context.Context, trade *models.Trade, vehicles []enums.VehicleType) (int, error) {
	providers, err := s.providers.Match(ctx, trade.PickupCity, vehicles, s.cfg.NotifyLimit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "match providers")
	}

	notified := 0
	for i := range providers {
		provider := providers[i]
		var channel enums.NotificationChannel
		switch {
		case provider.PushEnabled:
			channel = enums.NotificationChannelPush
		case provider.Phone != nil && *provider.Phone != "":
			channel = enums.NotificationChannelSMS
		default:
			continue
		}

		providerID := provider.ID
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			if err := s.events.WithTx(tx).Insert(ctx, &models.DispatchEvent{
				TradeID:    trade.ID,
				Type:       enums.DispatchEventProviderNotified,
				ProviderID: &providerID,
				Channel:    &channel,
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record provider notification")
			}

			if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventProviderNotified,
				AggregateType: enums.AggregateDispatchEvent,
				AggregateID:   trade.ID,
				Version:       1,
				Data: map[string]any{
					"trade_id":    trade.ID,
					"provider_id": provider.ID,
					"channel":     channel,
				},
			}); err != nil {
				return err
			}

			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventNotificationRequested,
				AggregateType: enums.AggregateNotification,
				AggregateID:   provider.ID,
				Version:       1,
				Data: map[string]any{
					"type":        enums.NotificationTypeDispatchRequest,
					"company_id":  provider.CompanyID,
					"provider_id": provider.ID,
					"trade_id":    trade.ID,
					"channel":     channel,
					"pickup_city": trade.PickupCity,
				},
			})
		})
		if err != nil {
			return notified, err
		}
		notified++
	}
	return notified, nil
}

func (s *service) recordNoProviders(ctx context.Context, trade *models.Trade, input RequestInput) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.events.WithTx(tx).Insert(ctx, &models.DispatchEvent{
			TradeID:  trade.ID,
			Type:     enums.DispatchEventFailed,
			Metadata: mustJSON(map[string]any{"reason": "no providers available", "pickup_city": trade.PickupCity}),
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record dispatch failure")
		}

		meta, _ := json.Marshal(map[string]any{"reason": "no providers available"})
		if _, err := s.audit.RecordEvent(ctx, tx, audit.RecordEventInput{
			TradeID:   trade.ID,
			Type:      enums.TradeEventDispatchFailed,
			ActorID:   input.ActorID,
			ActorRole: input.ActorRole,
			Metadata:  meta,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record audit event")
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDispatchFailed,
			AggregateType: enums.AggregateTrade,
			AggregateID:   trade.ID,
			Version:       1,
			Data: map[string]any{
				"trade_id":    trade.ID,
				"pickup_city": trade.PickupCity,
				"reason":      "no providers available",
			},
		})
	})
}

// RecordProviderResponse handles accept/reject. The first acceptance wins the
// shipment through the engine's per-trade serialization; later acceptances
// surface as a conflict.
func (s *service) RecordProviderResponse(ctx context.Context, input ResponseInput) error {
	if input.TradeID == uuid.Nil || input.ProviderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "trade id and provider id required")
	}

	provider, err := s.providers.GetByID(ctx, input.ProviderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load provider")
	}
	if provider == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "provider not found")
	}

	providerID := provider.ID
	if !input.Accept {
		if err := s.events.Insert(ctx, &models.DispatchEvent{
			TradeID:    input.TradeID,
			Type:       enums.DispatchEventProviderRejected,
			ProviderID: &providerID,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record rejection")
		}
		return s.providers.AdjustResponseScore(ctx, provider.ID, -1)
	}

	if s.engine == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "dispatch service has no engine bound")
	}

	if err := s.events.Insert(ctx, &models.DispatchEvent{
		TradeID:    input.TradeID,
		Type:       enums.DispatchEventProviderAccepted,
		ProviderID: &providerID,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record acceptance")
	}

	_, err = s.engine.RequestTransition(ctx, engine.TransitionInput{
		TradeID:   input.TradeID,
		Target:    enums.TradeStateInTransit,
		ActorID:   &providerID,
		ActorRole: input.ActorRole,
	})
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeInvalidTransition) {
			return pkgerrors.New(pkgerrors.CodeConflict, "shipment already assigned to another provider")
		}
		return err
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.events.WithTx(tx).Insert(ctx, &models.DispatchEvent{
			TradeID:    input.TradeID,
			Type:       enums.DispatchEventShipmentAssigned,
			ProviderID: &providerID,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record assignment")
		}

		if err := s.providers.WithTx(tx).AdjustResponseScore(ctx, provider.ID, 1); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "adjust response score")
		}
		if err := s.providers.WithTx(tx).SetAvailability(ctx, provider.ID, false); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark provider busy")
		}

		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventShipmentAssigned,
			AggregateType: enums.AggregateDispatchEvent,
			AggregateID:   input.TradeID,
			Version:       1,
			Data: map[string]any{
				"trade_id":    input.TradeID,
				"provider_id": provider.ID,
			},
		})
	})
}

func (s *service) ListEvents(ctx context.Context, tradeID uuid.UUID) ([]models.DispatchEvent, error) {
	if tradeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "trade id required")
	}
	return s.events.ListByTradeID(ctx, tradeID)
}

// RetryPending re-notifies providers for requests that have gone unanswered.
func (s *service) RetryPending(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-retryAfter)
	tradeIDs, err := s.events.ListTradeIDsAwaitingAssignment(ctx, cutoff, s.cfg.NotifyLimit*10)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list pending dispatches")
	}

	var errs error
	for _, tradeID := range tradeIDs {
		trade, err := s.trades.GetByID(ctx, tradeID)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if trade == nil || trade.State != enums.TradeStateReadyForPickup {
			continue
		}
		vehicles := VehiclesForCargo(trade.CargoType, trade.CargoWeightKg)
		if _, err := s.notifyProviders(ctx, trade, vehicles); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("trade %s: %w", tradeID, err))
		}
	}
	return errs
}

func mustJSON(v map[string]any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
