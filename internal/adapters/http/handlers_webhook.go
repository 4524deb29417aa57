package http

import (
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/viralforge/escrow-commission-engine/internal/domain"
)

const (
	signatureHeader      = "X-Gateway-Signature"
	eventIntentSucceeded = "payment_intent.succeeded"
)

// paymentWebhook applies payment_intent.succeeded notifications. Other event
// types are acknowledged and ignored so the gateway stops redelivering them.
func (h *Handler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeValidationError(ctx, w, "payment_webhook", err)
		return
	}
	if h.webhooks == nil {
		writeUnauthenticated(ctx, w, "payment_webhook", nil)
		return
	}
	if err := h.webhooks.Verify(r.Header.Get(signatureHeader), body); err != nil {
		writeUnauthenticated(ctx, w, "payment_webhook", err)
		return
	}
	if !gjson.ValidBytes(body) {
		writeValidationError(ctx, w, "payment_webhook", domain.ErrInvalidArgument)
		return
	}
	event := gjson.ParseBytes(body)
	if event.Get("type").String() != eventIntentSucceeded {
		writeSuccess(w, http.StatusOK, "ignored", nil)
		return
	}
	intentID := strings.TrimSpace(event.Get("data.object.id").String())
	transactionID := strings.TrimSpace(event.Get("data.object.metadata.transaction_id").String())
	if intentID == "" || transactionID == "" {
		writeValidationError(ctx, w, "payment_webhook", domain.ErrInvalidArgument)
		return
	}
	if err := h.service.ConfirmDepositFromGateway(ctx, requestIDFromContext(ctx), transactionID, intentID); err != nil {
		writeMappedError(ctx, w, "payment_webhook", err)
		return
	}
	writeSuccess(w, http.StatusOK, "processed", nil)
}
