package webhooks

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/shopcore/api/responses"
	internalwebhooks "github.com/angelmondragon/shopcore/internal/webhooks"
	"github.com/angelmondragon/shopcore/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopcore/pkg/errors"
	"github.com/angelmondragon/shopcore/pkg/logger"
)

const maxWebhookBody = 1 << 20

var signatureHeaders = map[enums.Gateway]string{
	enums.GatewayStripe: "Stripe-Signature",
	enums.GatewaySquare: "X-Square-Hmacsha256-Signature",
}

// Receiver verifies and dispatches one delivery.
type Receiver interface {
	Receive(ctx context.Context, gateway enums.Gateway, signature string, body []byte, requestID string) (*internalwebhooks.Outcome, error)
}

// Gateway accepts a raw notification for the gateway named in the path.
// Signature failures answer 400, dispatch failures 500 so the gateway
// redelivers, and everything else 200.
func Gateway(rcv Receiver, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if rcv == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook receiver unavailable"))
			return
		}

		gateway, err := enums.ParseGateway(strings.ToLower(chi.URLParam(r, "gateway")))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "unknown gateway"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		signature := strings.TrimSpace(r.Header.Get(signatureHeaders[gateway]))
		if signature == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "signature missing"))
			return
		}

		outcome, err := rcv.Receive(ctx, gateway, signature, payload, responses.RequestIDFromContext(ctx))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, outcome)
	}
}
