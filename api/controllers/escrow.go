package controllers

import (
	"net/http"
	"strings"

	"github.com/tradelane/backend/api/responses"
	"github.com/tradelane/backend/api/validators"
	"github.com/tradelane/backend/internal/escrow"
	pkgerrors "github.com/tradelane/backend/pkg/errors"
	"github.com/tradelane/backend/pkg/logger"
)

// FundEscrow starts a card capture for a trade awaiting escrow funding.
func FundEscrow(svc escrow.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "escrow service unavailable"))
			return
		}

		tradeID, err := tradeIDFromURL(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		actor, err := actorFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		userID := actor.UserID
		input := escrow.FundByCardInput{
			TradeID:   tradeID,
			ActorID:   &userID,
			ActorRole: actor.Role,
		}
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := svc.FundByCard(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, record)
	}
}

// ReleaseEscrow moves funded escrow to the seller once delivery is confirmed.
func ReleaseEscrow(svc escrow.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "escrow service unavailable"))
			return
		}

		tradeID, err := tradeIDFromURL(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		actor, err := actorFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		userID := actor.UserID
		record, err := svc.Release(r.Context(), escrow.ReleaseInput{
			TradeID:   tradeID,
			ActorID:   &userID,
			ActorRole: actor.Role,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, record)
	}
}

type refundRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// RefundEscrow returns funded escrow to the buyer. Admin only.
func RefundEscrow(svc escrow.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "escrow service unavailable"))
			return
		}

		tradeID, err := tradeIDFromURL(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		actor, err := actorFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req refundRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if strings.TrimSpace(req.Reason) == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "refund reason required"))
			return
		}

		userID := actor.UserID
		record, err := svc.Refund(r.Context(), escrow.RefundInput{
			TradeID:   tradeID,
			Reason:    strings.TrimSpace(req.Reason),
			ActorID:   &userID,
			ActorRole: actor.Role,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, record)
	}
}

// GetEscrow returns the escrow record for a trade.
func GetEscrow(svc escrow.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "escrow service unavailable"))
			return
		}

		tradeID, err := tradeIDFromURL(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := svc.GetByTradeID(r.Context(), tradeID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, record)
	}
}

// ListEscrowEvents returns the money-movement trail for a trade.
func ListEscrowEvents(svc escrow.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "escrow service unavailable"))
			return
		}

		tradeID, err := tradeIDFromURL(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		events, err := svc.ListEvents(r.Context(), tradeID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, events)
	}
}
