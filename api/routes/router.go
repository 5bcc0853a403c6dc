package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tradelane/backend/api/controllers"
	webhookcontrollers "github.com/tradelane/backend/api/controllers/webhooks"
	"github.com/tradelane/backend/api/middleware"
	"github.com/tradelane/backend/internal/companies"
	"github.com/tradelane/backend/internal/contracts"
	"github.com/tradelane/backend/internal/dispatch"
	"github.com/tradelane/backend/internal/engine"
	"github.com/tradelane/backend/internal/escrow"
	"github.com/tradelane/backend/internal/notifications"
	"github.com/tradelane/backend/internal/payments"
	"github.com/tradelane/backend/internal/quotes"
	"github.com/tradelane/backend/internal/trades"
	"github.com/tradelane/backend/pkg/config"
	"github.com/tradelane/backend/pkg/enums"
	"github.com/tradelane/backend/pkg/logger"
)

// Services bundles everything the router wires into controllers.
type Services struct {
	Trades        trades.Service
	Quotes        quotes.Service
	Contracts     contracts.Service
	Escrow        escrow.Service
	Dispatch      dispatch.Service
	Companies     companies.Service
	Notifications notifications.Service
	Payments      payments.Service
	Engine        engine.Service
}

// Pingers bundles the readiness probes.
type Pingers struct {
	DB     controllers.Pinger
	Redis  controllers.Pinger
	PubSub controllers.Pinger
}

func NewRouter(cfg *config.Config, logg *logger.Logger, svcs Services, pingers Pingers) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, pingers.DB, pingers.Redis, pingers.PubSub))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/square", webhookcontrollers.SquareWebhook(svcs.Payments, logg))
		r.Post("/payout", webhookcontrollers.PayoutWebhook(svcs.Payments, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/trades", func(r chi.Router) {
			r.Post("/", controllers.CreateTrade(svcs.Trades, logg))
			r.Get("/", controllers.ListTrades(svcs.Trades, logg))
			r.Get("/{tradeId}", controllers.GetTrade(svcs.Trades, logg))
			r.Post("/{tradeId}/transition", controllers.TransitionTrade(svcs.Engine, logg))

			r.Route("/{tradeId}/quotes", func(r chi.Router) {
				r.Get("/", controllers.ListQuotes(svcs.Quotes, logg))
				r.Post("/", controllers.SubmitQuote(svcs.Quotes, logg))
				r.Post("/{quoteId}/select", controllers.SelectQuote(svcs.Quotes, logg))
			})

			r.Route("/{tradeId}/contract", func(r chi.Router) {
				r.Get("/", controllers.GetContract(svcs.Contracts, logg))
				r.Post("/sign", controllers.SignContract(svcs.Contracts, logg))
			})

			r.Route("/{tradeId}/escrow", func(r chi.Router) {
				r.Get("/", controllers.GetEscrow(svcs.Escrow, logg))
				r.Get("/events", controllers.ListEscrowEvents(svcs.Escrow, logg))
				r.Post("/fund", controllers.FundEscrow(svcs.Escrow, logg))
				r.Post("/release", controllers.ReleaseEscrow(svcs.Escrow, logg))
				r.With(middleware.RequireRole(string(enums.ActorRoleAdmin), logg)).
					Post("/refund", controllers.RefundEscrow(svcs.Escrow, logg))
			})

			r.Route("/{tradeId}/dispatch", func(r chi.Router) {
				r.Get("/events", controllers.ListDispatchEvents(svcs.Dispatch, logg))
				r.Post("/request", controllers.RequestDispatch(svcs.Dispatch, logg))
				r.With(middleware.RequireRole(string(enums.ActorRoleLogistics), logg)).
					Post("/respond", controllers.RespondToDispatch(svcs.Dispatch, logg))
			})
		})

		r.Route("/companies", func(r chi.Router) {
			r.Get("/me", controllers.CompanyProfile(svcs.Companies, logg))
			r.Put("/me/payout-details", controllers.SetPayoutDetails(svcs.Companies, logg))
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(svcs.Notifications, logg))
			r.Get("/unread-count", controllers.UnreadNotificationCount(svcs.Notifications, logg))
			r.Post("/{notificationId}/read", controllers.MarkNotificationRead(svcs.Notifications, logg))
		})
	})

	return r
}
