package controllers

import (
	"net/http"
	"strings"

	"github.com/tradelane/backend/api/responses"
	"github.com/tradelane/backend/api/validators"
	"github.com/tradelane/backend/internal/contracts"
	pkgerrors "github.com/tradelane/backend/pkg/errors"
	"github.com/tradelane/backend/pkg/logger"
)

// GetContract returns the drafted contract for a trade.
func GetContract(svc contracts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "contract service unavailable"))
			return
		}

		tradeID, err := tradeIDFromURL(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		contract, err := svc.GetByTradeID(r.Context(), tradeID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, contract)
	}
}

type signRequest struct {
	Party string `json:"party" validate:"required"`
}

// SignContract records one party's signature on the trade contract.
func SignContract(svc contracts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "contract service unavailable"))
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

		var req signRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		contract, err := svc.Sign(r.Context(), contracts.SignInput{
			TradeID:   tradeID,
			Party:     contracts.SigningParty(strings.ToLower(strings.TrimSpace(req.Party))),
			ActorID:   actor.UserID,
			ActorRole: actor.Role,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, contract)
	}
}
