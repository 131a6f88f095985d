/**
 * @description
 * This file contains the HTTP handler for the M-Pesa STK callback. Safaricom calls it
 * after a customer accepts or rejects a push, and the reconciler applies the result.
 *
 * Key features:
 * - Always answers 200 with ResultCode 0, whatever happened internally, so the
 *   provider never enters a retry storm.
 * - Reconciliation runs on a context detached from the caller, so a provider that
 *   hangs up early does not abort a half-applied update.
 */
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/payex/linking-service/internal/app"
	"github.com/payex/linking-service/internal/domain"
)

const callbackTimeout = 30 * time.Second

// CallbackReconciler applies STK callbacks.
type CallbackReconciler interface {
	Reconcile(ctx context.Context, envelope domain.MpesaCallbackEnvelope) (app.ReconcileOutcome, error)
}

// WebhookHandler processes incoming M-Pesa callbacks.
type WebhookHandler struct {
	reconciler CallbackReconciler
	logger     logrus.FieldLogger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(reconciler CallbackReconciler, logger logrus.FieldLogger) *WebhookHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &WebhookHandler{reconciler: reconciler, logger: logger.WithField("component", "mpesa_webhook")}
}

// HandleMpesaCallback handles POST /mpesa-transaction-callback.
func (h *WebhookHandler) HandleMpesaCallback(w http.ResponseWriter, r *http.Request) {
	defer h.acknowledge(w)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		h.logger.WithError(err).Warn("failed to read callback body")
		return
	}

	var envelope domain.MpesaCallbackEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		h.logger.WithError(err).WithField("body_bytes", len(body)).Warn("malformed callback payload")
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), callbackTimeout)
	defer cancel()

	if _, err := h.reconciler.Reconcile(ctx, envelope); err != nil {
		h.logger.WithError(err).
			WithField("checkout_request_id", envelope.Body.StkCallback.CheckoutRequestID).
			Error("callback reconciliation failed")
	}
}

func (h *WebhookHandler) acknowledge(w http.ResponseWriter) {
	if rec := recover(); rec != nil {
		h.logger.WithField("panic", rec).Error("callback handler panicked")
	}
	writeJSON(w, http.StatusOK, domain.MpesaCallbackAck{ResultCode: 0, ResultDesc: "Success"})
}
