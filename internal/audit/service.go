package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradelane/backend/pkg/db/models"
	"github.com/tradelane/backend/pkg/enums"
)

// Service defines operations that record audit events for trades.
type Service interface {
	RecordEvent(ctx context.Context, tx *gorm.DB, input RecordEventInput) (*models.TradeEvent, error)
	ListByTradeID(ctx context.Context, tradeID uuid.UUID) ([]models.TradeEvent, error)
	HasEvent(ctx context.Context, tradeID uuid.UUID, eventType enums.TradeEventType) (bool, error)
}

type service struct {
	repo Repository
}

// RecordEventInput captures the immutable data an audit event requires.
type RecordEventInput struct {
	TradeID   uuid.UUID            `json:"trade_id"`
	Type      enums.TradeEventType `json:"type"`
	FromState *enums.TradeState    `json:"from_state,omitempty"`
	ToState   *enums.TradeState    `json:"to_state,omitempty"`
	ActorID   *uuid.UUID           `json:"actor_id,omitempty"`
	ActorRole string               `json:"actor_role,omitempty"`
	Metadata  json.RawMessage      `json:"metadata,omitempty"`
}

// NewService wires an audit service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("audit repository required")
	}
	return &service{repo: repo}, nil
}

// RecordEvent appends one row to the trade audit log. When tx is non-nil the
// write joins the caller's transaction so the audit row commits atomically
// with the state change it describes.
func (s *service) RecordEvent(ctx context.Context, tx *gorm.DB, input RecordEventInput) (*models.TradeEvent, error) {
	if input.TradeID == uuid.Nil {
		return nil, fmt.Errorf("trade id is required")
	}
	if !input.Type.IsValid() {
		return nil, fmt.Errorf("invalid trade event type %q", input.Type)
	}
	if input.FromState != nil && !input.FromState.IsValid() {
		return nil, fmt.Errorf("invalid from state %q", *input.FromState)
	}
	if input.ToState != nil && !input.ToState.IsValid() {
		return nil, fmt.Errorf("invalid to state %q", *input.ToState)
	}

	event := &models.TradeEvent{
		TradeID:   input.TradeID,
		Type:      input.Type,
		FromState: input.FromState,
		ToState:   input.ToState,
		ActorID:   input.ActorID,
		ActorRole: input.ActorRole,
		Metadata:  input.Metadata,
	}

	repo := s.repo
	if tx != nil {
		repo = s.repo.WithTx(tx)
	}
	if err := repo.Create(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

func (s *service) ListByTradeID(ctx context.Context, tradeID uuid.UUID) ([]models.TradeEvent, error) {
	if tradeID == uuid.Nil {
		return nil, fmt.Errorf("trade id is required")
	}
	return s.repo.ListByTradeID(ctx, tradeID)
}

func (s *service) HasEvent(ctx context.Context, tradeID uuid.UUID, eventType enums.TradeEventType) (bool, error) {
	if tradeID == uuid.Nil {
		return false, fmt.Errorf("trade id is required")
	}
	if !eventType.IsValid() {
		return false, fmt.Errorf("invalid trade event type %q", eventType)
	}
	count, err := s.repo.CountByType(ctx, tradeID, eventType)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
