/**
 * @description
 * This file contains the billing provider webhook endpoint. It enforces the response
 * contract: verification failures are rejected with 400 before anything else runs,
 * internal faults return 500 so the provider retries, and every other outcome is
 * acknowledged with 200.
 */
package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/echonow/subscription-service/internal/app"
	"github.com/echonow/subscription-service/internal/domain"
	"github.com/echonow/subscription-service/pkg/stripeclient"
)

const maxWebhookBodyBytes = 1 << 20

// EventVerifier authenticates raw webhook deliveries.
type EventVerifier interface {
	Verify(payload []byte, signatureHeader string) (domain.EventEnvelope, error)
}

// EventProcessor reconciles verified events.
type EventProcessor interface {
	Process(ctx context.Context, evt domain.BillingEvent) (app.Outcome, error)
	RecordRejected()
}

// WebhookHandler serves the billing provider webhook.
type WebhookHandler struct {
	verifier  EventVerifier
	processor EventProcessor
	logger    *slog.Logger
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(verifier EventVerifier, processor EventProcessor, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{verifier: verifier, processor: processor, logger: logger}
}

type webhookAck struct {
	Received bool        `json:"received"`
	Outcome  app.Outcome `json:"outcome,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *WebhookHandler) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Warn("failed to read webhook body", "request_id", requestID, "error", err)
		respondWithJSON(w, http.StatusBadRequest, errorResponse{Error: "unreadable request body"})
		return
	}

	env, err := h.verifier.Verify(payload, r.Header.Get(stripeclient.SignatureHeader))
	if err != nil {
		h.processor.RecordRejected()
		if errors.Is(err, stripeclient.ErrSecretNotConfigured) {
			h.logger.Error("webhook secret not configured; rejecting delivery", "request_id", requestID)
		} else {
			h.logger.Warn("webhook signature verification failed", "request_id", requestID, "error", err)
		}
		respondWithJSON(w, http.StatusBadRequest, errorResponse{Error: "signature verification failed"})
		return
	}

	evt, err := domain.DecodeEvent(env)
	if err != nil {
		// Redelivering the same payload cannot succeed, so it is acknowledged.
		h.logger.Warn("verified billing event could not be decoded; acknowledging",
			"request_id", requestID, "event_id", env.ID, "event_type", env.Type, "error", err)
		respondWithJSON(w, http.StatusOK, webhookAck{Received: true, Outcome: app.OutcomeIgnored})
		return
	}

	outcome, err := h.processor.Process(r.Context(), evt)
	if err != nil {
		h.logger.Error("billing event processing failed; provider will retry",
			"request_id", requestID, "event_id", env.ID, "event_type", env.Type, "error", err)
		respondWithJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	h.logger.Info("billing event handled",
		"request_id", requestID, "event_id", env.ID, "event_type", env.Type, "outcome", outcome)
	respondWithJSON(w, http.StatusOK, webhookAck{Received: true, Outcome: outcome})
}
