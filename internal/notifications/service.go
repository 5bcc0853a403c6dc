package notifications

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tradelane/backend/pkg/db/models"
	"github.com/tradelane/backend/pkg/enums"
	pkgerrors "github.com/tradelane/backend/pkg/errors"
)

const defaultListLimit = 50

// CreateInput is one notification destined for a company's inbox.
type CreateInput struct {
	CompanyID uuid.UUID
	Type      enums.NotificationType
	TradeID   *uuid.UUID
	Title     string
	Message   string
}

// Service manages the in-app notification inbox.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Notification, error)
	ListByCompany(ctx context.Context, companyID uuid.UUID, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, id, companyID uuid.UUID) error
	CountUnread(ctx context.Context, companyID uuid.UUID) (int64, error)
}

type service struct {
	repo Repository
}

// NewService wires a notification service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Notification, error) {
	if input.CompanyID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "company id required")
	}
	if !input.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid notification type")
	}

	title, message := input.Title, input.Message
	if title == "" || message == "" {
		defaultTitle, defaultMessage := templateFor(input.Type, input.TradeID)
		if title == "" {
			title = defaultTitle
		}
		if message == "" {
			message = defaultMessage
		}
	}

	notification := &models.Notification{
		CompanyID: input.CompanyID,
		Type:      input.Type,
		Title:     title,
		Message:   message,
	}
	if input.TradeID != nil {
		link := "/trades/" + input.TradeID.String()
		notification.Link = &link
	}

	if err := s.repo.Create(ctx, notification); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create notification")
	}
	return notification, nil
}

func (s *service) ListByCompany(ctx context.Context, companyID uuid.UUID, limit int) ([]models.Notification, error) {
	if companyID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "company id required")
	}
	if limit <= 0 || limit > 200 {
		limit = defaultListLimit
	}
	return s.repo.ListByCompany(ctx, companyID, limit)
}

func (s *service) MarkRead(ctx context.Context, id, companyID uuid.UUID) error {
	if id == uuid.Nil || companyID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "notification id and company id required")
	}
	updated, err := s.repo.MarkRead(ctx, id, companyID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notification read")
	}
	if !updated {
		return pkgerrors.New(pkgerrors.CodeNotFound, "notification not found or already read")
	}
	return nil
}

func (s *service) CountUnread(ctx context.Context, companyID uuid.UUID) (int64, error) {
	if companyID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "company id required")
	}
	return s.repo.CountUnread(ctx, companyID)
}

func templateFor(t enums.NotificationType, tradeID *uuid.UUID) (string, string) {
	ref := "your trade"
	if tradeID != nil {
		ref = "trade " + tradeID.String()
	}
	switch t {
	case enums.NotificationTypeQuoteReceived:
		return "New quote received", fmt.Sprintf("A supplier submitted a quote for %s.", ref)
	case enums.NotificationTypeContractReady:
		return "Contract ready to sign", fmt.Sprintf("The contract for %s is awaiting your signature.", ref)
	case enums.NotificationTypePayoutDetails:
		return "Payout details needed", fmt.Sprintf("Add your bank details to receive funds for %s.", ref)
	case enums.NotificationTypeDispatchRequest:
		return "Cargo ready for pickup", fmt.Sprintf("A shipment for %s needs a transporter.", ref)
	case enums.NotificationTypeEscrowReleased:
		return "Funds released", fmt.Sprintf("Escrow funds for %s are on the way to your account.", ref)
	default:
		return "Trade update", fmt.Sprintf("There is a new update on %s.", ref)
	}
}
