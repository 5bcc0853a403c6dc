package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tradelane/backend/internal/escrow"
	"github.com/tradelane/backend/pkg/db/models"
	"github.com/tradelane/backend/pkg/enums"
	pkgerrors "github.com/tradelane/backend/pkg/errors"
	"github.com/tradelane/backend/pkg/logger"
	"github.com/tradelane/backend/pkg/redis"
)

const (
	ProviderSquare = "square"
	ProviderPayout = "payout"

	// Normalized webhook types shared by both providers.
	WebhookCaptured    = "captured"
	WebhookFailed      = "failed"
	WebhookRefunded    = "refunded"
	WebhookTransferred = "transferred"

	dedupScope = "webhook:processed"
	dedupTTL   = 30 * 24 * time.Hour
)

// NormalizedWebhook is the provider-agnostic shape every callback reduces to
// before any state is touched.
type NormalizedWebhook struct {
	EventID     string
	Provider    string
	Type        string
	Reference   string
	TradeID     uuid.UUID
	AmountCents int
	Currency    string
	Reason      string
}

type escrowProcessor interface {
	ConfirmCapture(ctx context.Context, input escrow.CaptureConfirmation) error
	ConfirmTransfer(ctx context.Context, reference string) error
	FailTransfer(ctx context.Context, reference, reason string) error
}

// Service verifies, dedups, and applies payment provider callbacks.
type Service interface {
	HandleSquareWebhook(ctx context.Context, body []byte, signature string) error
	HandlePayoutWebhook(ctx context.Context, body []byte, signature string) error
}

type service struct {
	repo         Repository
	escrow       escrowProcessor
	store        redis.IdempotencyStore
	squareSecret string
	payoutSecret string
	logg         *logger.Logger
}

// NewService builds the webhook handler.
func NewService(repo Repository, escrowSvc escrowProcessor, store redis.IdempotencyStore, squareSecret, payoutSecret string, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if escrowSvc == nil {
		return nil, fmt.Errorf("escrow processor required")
	}
	if store == nil {
		return nil, fmt.Errorf("idempotency store required")
	}
	return &service{
		repo:         repo,
		escrow:       escrowSvc,
		store:        store,
		squareSecret: squareSecret,
		payoutSecret: payoutSecret,
		logg:         logg,
	}, nil
}

type squareWebhookPayload struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Data    struct {
		Object struct {
			Payment struct {
				ID          string `json:"id"`
				Status      string `json:"status"`
				ReferenceID string `json:"reference_id"`
				AmountMoney struct {
					Amount   int64  `json:"amount"`
					Currency string `json:"currency"`
				} `json:"amount_money"`
			} `json:"payment"`
		} `json:"object"`
	} `json:"data"`
}

// HandleSquareWebhook processes a card capture callback. Replays and unknown
// event types are acknowledged without side effects.
func (s *service) HandleSquareWebhook(ctx context.Context, body []byte, signature string) error {
	if !VerifySignature(s.squareSecret, body, signature) {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "square webhook signature mismatch")
	}

	var payload squareWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parsing square webhook")
	}
	if payload.EventID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "square webhook missing event id")
	}

	normalized := NormalizedWebhook{
		EventID:     payload.EventID,
		Provider:    ProviderSquare,
		Reference:   payload.Data.Object.Payment.ID,
		AmountCents: int(payload.Data.Object.Payment.AmountMoney.Amount),
		Currency:    payload.Data.Object.Payment.AmountMoney.Currency,
	}
	switch payload.Data.Object.Payment.Status {
	case "COMPLETED":
		normalized.Type = WebhookCaptured
	case "FAILED", "CANCELED":
		normalized.Type = WebhookFailed
	default:
		return nil
	}

	if refID := strings.TrimSpace(payload.Data.Object.Payment.ReferenceID); refID != "" {
		tradeID, err := uuid.Parse(refID)
		if err != nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "square webhook carries a malformed trade reference")
		}
		normalized.TradeID = tradeID
	}

	return s.process(ctx, normalized, body)
}

type payoutWebhookPayload struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Reference   string `json:"reference"`
		AmountCents int64  `json:"amount_cents"`
		Currency    string `json:"currency"`
		Reason      string `json:"reason"`
	} `json:"data"`
}

// HandlePayoutWebhook processes a bank transfer callback.
func (s *service) HandlePayoutWebhook(ctx context.Context, body []byte, signature string) error {
	if !VerifySignature(s.payoutSecret, body, signature) {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "payout webhook signature mismatch")
	}

	var payload payoutWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parsing payout webhook")
	}
	if payload.ID == "" || payload.Data.Reference == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payout webhook missing event id or reference")
	}

	normalized := NormalizedWebhook{
		EventID:     payload.ID,
		Provider:    ProviderPayout,
		Reference:   payload.Data.Reference,
		AmountCents: int(payload.Data.AmountCents),
		Currency:    payload.Data.Currency,
		Reason:      payload.Data.Reason,
	}
	switch payload.Type {
	case "transfer.settled":
		normalized.Type = WebhookTransferred
	case "transfer.failed":
		normalized.Type = WebhookFailed
	default:
		return nil
	}

	return s.process(ctx, normalized, body)
}

// process applies a normalized webhook once: a redis SETNX absorbs hot
// replays and the unique provider event row survives restarts.
func (s *service) process(ctx context.Context, hook NormalizedWebhook, raw []byte) error {
	dedupKey := s.store.IdempotencyKey(dedupScope, hook.Provider+":"+hook.EventID)
	fresh, err := s.store.SetNX(ctx, dedupKey, "1", dedupTTL)
	if err != nil {
		// Redis being down must not drop webhooks; the DB row still dedups.
		if s.logg != nil {
			s.logg.Warn(ctx, "webhook dedup store unavailable")
		}
		fresh = true
	}
	if !fresh {
		return nil
	}

	row := &models.PaymentWebhookEvent{
		ProviderID: hook.Provider + ":" + hook.EventID,
		Provider:   hook.Provider,
		Type:       hook.Type,
		Payload:    json.RawMessage(raw),
	}
	created, err := s.repo.InsertIfNew(ctx, row)
	if err != nil {
		s.releaseDedup(ctx, dedupKey)
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "storing webhook event")
	}
	if !created {
		// The row survived an earlier delivery. If that delivery never got
		// its effect applied, this redelivery picks up where it failed.
		existing, err := s.repo.GetByProviderID(ctx, row.ProviderID)
		if err != nil {
			s.releaseDedup(ctx, dedupKey)
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading webhook event")
		}
		if existing == nil || existing.ProcessedAt != nil {
			return nil
		}
		row.ID = existing.ID
	}

	if err := s.apply(ctx, hook); err != nil {
		s.releaseDedup(ctx, dedupKey)
		return err
	}
	return s.repo.MarkProcessed(ctx, row.ID)
}

func (s *service) apply(ctx context.Context, hook NormalizedWebhook) error {
	switch {
	case hook.Provider == ProviderSquare && hook.Type == WebhookCaptured:
		if hook.TradeID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "capture webhook has no trade reference")
		}
		return s.escrow.ConfirmCapture(ctx, escrow.CaptureConfirmation{
			TradeID:     hook.TradeID,
			CaptureRef:  hook.Reference,
			AmountCents: hook.AmountCents,
			Currency:    hook.Currency,
			Method:      enums.PaymentMethodCard,
		})

	case hook.Provider == ProviderPayout && hook.Type == WebhookTransferred:
		return s.escrow.ConfirmTransfer(ctx, hook.Reference)

	case hook.Provider == ProviderPayout && hook.Type == WebhookFailed:
		reason := hook.Reason
		if reason == "" {
			reason = "provider reported transfer failure"
		}
		return s.escrow.FailTransfer(ctx, hook.Reference, reason)

	default:
		// Capture failures and refund confirmations carry no state change here.
		if s.logg != nil {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"provider": hook.Provider,
				"type":     hook.Type,
			})
			s.logg.Info(logCtx, "webhook acknowledged without action")
		}
		return nil
	}
}

func (s *service) releaseDedup(ctx context.Context, key string) {
	if err := s.store.Del(ctx, key); err != nil && s.logg != nil {
		s.logg.Warn(ctx, "releasing webhook dedup key failed")
	}
}
