package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/tradelane/backend/api/responses"
	"github.com/tradelane/backend/api/validators"
	"github.com/tradelane/backend/internal/companies"
	pkgerrors "github.com/tradelane/backend/pkg/errors"
	"github.com/tradelane/backend/pkg/logger"
)

// CompanyProfile returns the caller's company record.
func CompanyProfile(svc companies.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "company service unavailable"))
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

		company, err := svc.Get(r.Context(), actor.CompanyID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, company)
	}
}

// SetPayoutDetails stores the caller company's bank destination. Supplying
// details also unlocks any releases parked on this seller.
func SetPayoutDetails(svc companies.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "company service unavailable"))
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

		input := companies.PayoutDetailsInput{CompanyID: actor.CompanyID}
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.SetPayoutDetails(r.Context(), input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]bool{"updated": true})
	}
}
