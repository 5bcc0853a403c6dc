package controllers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tradelane/backend/api/middleware"
	"github.com/tradelane/backend/api/responses"
	"github.com/tradelane/backend/api/validators"
	"github.com/tradelane/backend/internal/engine"
	"github.com/tradelane/backend/internal/trades"
	"github.com/tradelane/backend/pkg/enums"
	pkgerrors "github.com/tradelane/backend/pkg/errors"
	"github.com/tradelane/backend/pkg/logger"
)

// Targets a client may request directly. The remaining lifecycle edges are
// driven by quote selection, webhooks, and the settlement engine itself.
var manualTransitionTargets = map[enums.TradeState]bool{
	enums.TradeStateEscrowRequired: true,
	enums.TradeStateProduction:     true,
	enums.TradeStateReadyForPickup: true,
	enums.TradeStateDelivered:      true,
	enums.TradeStateDisputed:       true,
}

// CreateTrade opens a new RFQ for the caller's company.
func CreateTrade(svc trades.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "trade service unavailable"))
			return
		}

		actor, err := actorFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if actor.CompanyID == uuid.Nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "company context missing"))
			return
		}

		input := trades.CreateTradeInput{
			BuyerID:   actor.CompanyID,
			ActorID:   actor.UserID,
			ActorRole: actor.Role,
		}
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		trade, err := svc.Create(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, trade)
	}
}

// GetTrade returns one trade with its quotes, contract, escrow, and history.
func GetTrade(svc trades.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "trade service unavailable"))
			return
		}

		tradeID, err := tradeIDFromURL(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		trade, err := svc.Get(r.Context(), tradeID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, trade)
	}
}

// ListTrades returns the caller's company trades, newest first.
func ListTrades(svc trades.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "trade service unavailable"))
			return
		}

		actor, err := actorFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if actor.CompanyID == uuid.Nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "company context missing"))
			return
		}

		limit := 0
		if limitStr := strings.TrimSpace(r.URL.Query().Get("limit")); limitStr != "" {
			value, err := strconv.Atoi(limitStr)
			if err != nil || value <= 0 {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "limit must be a positive integer"))
				return
			}
			limit = value
		}

		list, err := svc.ListByCompany(r.Context(), actor.CompanyID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

type transitionRequest struct {
	Target string `json:"target" validate:"required"`
	Reason string `json:"reason"`
}

// TransitionTrade moves a trade along one of the manually-driven edges.
func TransitionTrade(eng engine.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if eng == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement engine unavailable"))
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

		var req transitionRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		target, err := enums.ParseTradeState(strings.TrimSpace(req.Target))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid target state"))
			return
		}
		if !manualTransitionTargets[target] {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "target state cannot be requested directly"))
			return
		}

		var metadata json.RawMessage
		if reason := strings.TrimSpace(req.Reason); reason != "" {
			raw, err := json.Marshal(map[string]string{"reason": reason})
			if err == nil {
				metadata = raw
			}
		}

		userID := actor.UserID
		trade, err := eng.RequestTransition(r.Context(), engine.TransitionInput{
			TradeID:   tradeID,
			Target:    target,
			ActorID:   &userID,
			ActorRole: actor.Role,
			Metadata:  metadata,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, trade)
	}
}

type requestActor struct {
	UserID    uuid.UUID
	CompanyID uuid.UUID
	Role      string
}

func actorFromContext(r *http.Request) (requestActor, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return requestActor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return requestActor{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id")
	}

	actor := requestActor{
		UserID: userID,
		Role:   middleware.RoleFromContext(r.Context()),
	}
	if rawCompany := middleware.CompanyIDFromContext(r.Context()); rawCompany != "" {
		companyID, err := uuid.Parse(rawCompany)
		if err != nil {
			return requestActor{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid company id")
		}
		actor.CompanyID = companyID
	}
	return actor, nil
}

func tradeIDFromURL(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "tradeId")
	tradeID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid trade id")
	}
	return tradeID, nil
}
