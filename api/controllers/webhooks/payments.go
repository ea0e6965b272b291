package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/kestrelcommerce/fulfillment-backend/api/responses"
	internalorders "github.com/kestrelcommerce/fulfillment-backend/internal/orders"
	paymentwebhook "github.com/kestrelcommerce/fulfillment-backend/internal/webhooks/payments"
	pkgerrors "github.com/kestrelcommerce/fulfillment-backend/pkg/errors"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/logger"
)

const signatureHeader = "X-Payment-Signature"

type paymentEventHandler interface {
	HandlePaymentEvent(ctx context.Context, event internalorders.PaymentEvent) error
}

type replayGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

// PaymentsWebhook ingests provider payment notifications. Deliveries are
// verified against the shared signing secret and deduped by event id, and a
// replay of an already applied event is acknowledged so the provider stops
// retrying.
func PaymentsWebhook(svc paymentEventHandler, guard replayGuard, signingSecret string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment handler unavailable"))
			return
		}
		if guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "replay guard unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		signature := strings.TrimSpace(r.Header.Get(signatureHeader))
		if signature == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "payment signature missing"))
			return
		}
		if !validSignature(payload, signingSecret, signature) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid payment signature"))
			return
		}

		var envelope paymentwebhook.Event
		if err := json.Unmarshal(payload, &envelope); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode event"))
			return
		}

		event, err := envelope.PaymentEvent()
		if err != nil {
			if errors.Is(err, paymentwebhook.ErrUnknownEventType) {
				// Providers add event types we do not consume. Acknowledge
				// so they stop retrying, but keep the type on record.
				if logg != nil {
					logCtx := logg.WithFields(ctx, map[string]any{
						"payment_event_id":   envelope.EventID,
						"payment_event_type": envelope.Type,
					})
					logg.Warn(logCtx, "ignoring unsupported payment event type")
				}
				responses.WriteSuccess(w, map[string]string{"status": "ignored"})
				return
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		seen, err := guard.CheckAndMark(ctx, envelope.EventID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check replay guard"))
			return
		}
		if seen {
			responses.WriteSuccess(w, map[string]string{"status": "duplicate"})
			return
		}

		if err := svc.HandlePaymentEvent(ctx, event); err != nil {
			// Replays and out-of-order deliveries are acknowledged, with the
			// guard mark kept, so the provider stops retrying. The internal
			// rejection already protected the order and its reservation.
			if typed := pkgerrors.As(err); errors.Is(err, internalorders.ErrAlreadyProcessed) ||
				(typed != nil && typed.Code() == pkgerrors.CodeConflict) {
				if logg != nil {
					logCtx := logg.WithField(ctx, "payment_event_id", envelope.EventID)
					logg.Info(logCtx, "acknowledging superseded payment event")
				}
				responses.WriteSuccess(w, map[string]string{"status": "duplicate"})
				return
			}
			// Drop the mark so the provider's retry gets another attempt.
			_ = guard.Delete(ctx, envelope.EventID)
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			logCtx := logg.WithField(ctx, "payment_event_id", envelope.EventID)
			logg.Info(logCtx, "payment event processed")
		}
		responses.WriteSuccess(w, map[string]string{"status": "processed"})
	}
}

func validSignature(payload []byte, secret, header string) bool {
	if secret == "" || header == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header))
}
