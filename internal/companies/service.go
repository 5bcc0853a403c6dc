package companies

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/tradelane/backend/pkg/db/models"
	pkgerrors "github.com/tradelane/backend/pkg/errors"
)

// Service exposes directory lookups used by escrow release and dispatch.
type Service interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Company, error)
	SetPayoutDetails(ctx context.Context, input PayoutDetailsInput) error
}

// PayoutDetailsInput carries the seller bank destination for releases.
type PayoutDetailsInput struct {
	CompanyID   uuid.UUID `json:"-" validate:"required"`
	BankCode    string    `json:"bank_code" validate:"required"`
	Account     string    `json:"account" validate:"required"`
	AccountName string    `json:"account_name"`
}

type service struct {
	repo Repository
}

// NewService wires a company service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("company repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Company, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "company id is required")
	}
	company, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading company")
	}
	if company == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "company not found")
	}
	return company, nil
}

func (s *service) SetPayoutDetails(ctx context.Context, input PayoutDetailsInput) error {
	if input.CompanyID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "company id is required")
	}
	bankCode := strings.TrimSpace(input.BankCode)
	account := strings.TrimSpace(input.Account)
	if bankCode == "" || account == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "bank code and account are required")
	}

	company, err := s.repo.GetByID(ctx, input.CompanyID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading company")
	}
	if company == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "company not found")
	}

	if err := s.repo.UpdatePayoutDetails(ctx, input.CompanyID, bankCode, account, strings.TrimSpace(input.AccountName)); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating payout details")
	}
	return nil
}
