package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/tradelane/backend/api/responses"
	"github.com/tradelane/backend/api/validators"
	"github.com/tradelane/backend/internal/dispatch"
	pkgerrors "github.com/tradelane/backend/pkg/errors"
	"github.com/tradelane/backend/pkg/logger"
)

// RequestDispatch re-runs the provider match-and-notify cycle for a trade.
func RequestDispatch(svc dispatch.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dispatch service unavailable"))
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
		result, err := svc.RequestDispatch(r.Context(), dispatch.RequestInput{
			TradeID:   tradeID,
			ActorID:   &userID,
			ActorRole: actor.Role,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

type providerResponseRequest struct {
	ProviderID uuid.UUID `json:"provider_id" validate:"required"`
	Accept     bool      `json:"accept"`
}

// RespondToDispatch records a provider's accept or reject. First acceptance
// wins the shipment.
func RespondToDispatch(svc dispatch.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dispatch service unavailable"))
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

		var req providerResponseRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		err = svc.RecordProviderResponse(r.Context(), dispatch.ResponseInput{
			TradeID:    tradeID,
			ProviderID: req.ProviderID,
			Accept:     req.Accept,
			ActorRole:  actor.Role,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]bool{"accepted": req.Accept})
	}
}

// ListDispatchEvents returns the dispatch trail for a trade.
func ListDispatchEvents(svc dispatch.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dispatch service unavailable"))
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
