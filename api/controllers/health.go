package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/tradelane/backend/api/responses"
	"github.com/tradelane/backend/pkg/config"
	pkgerrors "github.com/tradelane/backend/pkg/errors"
	"github.com/tradelane/backend/pkg/logger"
)

const readyCheckTimeout = 3 * time.Second

// Pinger is the health-check surface shared by backing services.
type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Tradelane-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

func HealthReady(cfg *config.Config, logg *logger.Logger, dbP, redisP, pubsubP Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Tradelane-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
		defer cancel()

		checks := map[string]Pinger{
			"database": dbP,
			"redis":    redisP,
			"pubsub":   pubsubP,
		}
		for name, p := range checks {
			if p == nil {
				continue
			}
			if err := p.Ping(ctx); err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, name+" unavailable"))
				return
			}
		}

		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}
