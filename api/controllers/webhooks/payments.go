package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/tradelane/backend/api/responses"
	"github.com/tradelane/backend/internal/payments"
	pkgerrors "github.com/tradelane/backend/pkg/errors"
	"github.com/tradelane/backend/pkg/logger"
)

const (
	squareSignatureHeader = "X-Square-Hmacsha256-Signature"
	payoutSignatureHeader = "X-Payout-Signature"
)

// SquareWebhook receives card capture callbacks.
func SquareWebhook(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	var handle func(context.Context, []byte, string) error
	if svc != nil {
		handle = svc.HandleSquareWebhook
	}
	return webhookHandler(handle, logg, squareSignatureHeader)
}

// PayoutWebhook receives bank transfer callbacks.
func PayoutWebhook(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	var handle func(context.Context, []byte, string) error
	if svc != nil {
		handle = svc.HandlePayoutWebhook
	}
	return webhookHandler(handle, logg, payoutSignatureHeader)
}

func webhookHandler(handle func(context.Context, []byte, string) error, logg *logger.Logger, header string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if handle == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		signature := r.Header.Get(header)
		if signature == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "webhook signature missing"))
			return
		}

		if err := handle(ctx, body, signature); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, nil)
	}
}
