package notifications

import (
	"context"
	"encoding/json"
	"errors"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/tradelane/backend/pkg/enums"
	"github.com/tradelane/backend/pkg/logger"
	"github.com/tradelane/backend/pkg/outbox"
	"github.com/tradelane/backend/pkg/outbox/idempotency"
)

const consumerName = "notifications"

// Consumer turns notification_requested events from Pub/Sub into inbox rows.
// The redis idempotency guard absorbs redeliveries.
type Consumer struct {
	svc  Service
	idem *idempotency.Manager
	sub  *pubsub.Subscriber
	logg *logger.Logger
}

// NewConsumer builds the notification event consumer.
func NewConsumer(svc Service, idem *idempotency.Manager, sub *pubsub.Subscriber, logg *logger.Logger) (*Consumer, error) {
	if svc == nil {
		return nil, errors.New("notifications service required")
	}
	if idem == nil {
		return nil, errors.New("idempotency manager required")
	}
	if sub == nil {
		return nil, errors.New("pubsub subscriber required")
	}
	return &Consumer{svc: svc, idem: idem, sub: sub, logg: logg}, nil
}

// Run blocks receiving messages until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.sub.Receive(ctx, c.handle)
}

type notificationPayload struct {
	Type      enums.NotificationType `json:"type"`
	CompanyID uuid.UUID              `json:"company_id"`
	TradeID   *uuid.UUID             `json:"trade_id,omitempty"`
	Title     string                 `json:"title,omitempty"`
	Message   string                 `json:"message,omitempty"`
}

func (c *Consumer) handle(ctx context.Context, msg *pubsub.Message) {
	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		// Malformed messages never become valid; drop them.
		c.logError(ctx, "dropping malformed notification event", err)
		msg.Ack()
		return
	}

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logError(ctx, "dropping notification event with bad id", err)
		msg.Ack()
		return
	}

	processed, err := c.idem.CheckAndMarkProcessed(ctx, consumerName, eventID)
	if err != nil {
		c.logError(ctx, "idempotency check failed", err)
		msg.Nack()
		return
	}
	if processed {
		msg.Ack()
		return
	}

	var payload notificationPayload
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		c.logError(ctx, "dropping notification event with bad payload", err)
		msg.Ack()
		return
	}

	if _, err := c.svc.Create(ctx, CreateInput{
		CompanyID: payload.CompanyID,
		Type:      payload.Type,
		TradeID:   payload.TradeID,
		Title:     payload.Title,
		Message:   payload.Message,
	}); err != nil {
		c.logError(ctx, "creating notification", err)
		if delErr := c.idem.Delete(ctx, consumerName, eventID); delErr != nil {
			c.logError(ctx, "releasing idempotency mark", delErr)
		}
		msg.Nack()
		return
	}
	msg.Ack()
}

func (c *Consumer) logError(ctx context.Context, msg string, err error) {
	if c.logg != nil {
		c.logg.Error(ctx, msg, err)
	}
}
