package handlers

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	paymentsvc "github.com/coachhub/backend/internal/services/payments"
	"github.com/coachhub/backend/internal/transport/http/dto"
	httperrors "github.com/coachhub/backend/internal/transport/http/errors"
)

const (
	maxWebhookBodySize = 1 << 20
	signatureHeader    = "Stripe-Signature"
)

type WebhookHandler struct {
	service *paymentsvc.Service
	logger  *zap.Logger
}

func NewWebhookHandler(service *paymentsvc.Service, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{service: service, logger: logger}
}

// Handle answers 400 on any failure so the provider redelivers the event.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeInternal(w, "PAYMENT_SERVICE_UNAVAILABLE", "payment service is unavailable")
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodySize))
	if err != nil {
		writeBadRequest(w, "INVALID_REQUEST", "could not read request body")
		return
	}

	res, err := h.service.HandleWebhook(r.Context(), payload, r.Header.Get(signatureHeader))
	if err != nil {
		if errors.Is(err, paymentsvc.ErrSignature) {
			h.logger.Warn("webhook signature rejected", zap.Error(err))
			writeBadRequest(w, "INVALID_SIGNATURE", "invalid webhook signature")
			return
		}
		h.logger.Error("webhook processing failed", zap.Error(err))
		writeBadRequest(w, "WEBHOOK_PROCESSING_FAILED", "webhook processing failed")
		return
	}

	h.logger.Debug("webhook processed",
		zap.String("event_id", res.EventID),
		zap.String("event_type", res.EventType),
		zap.Bool("handled", res.Handled),
		zap.Bool("idempotent", res.Idempotent),
	)
	httperrors.Write(w, http.StatusOK, dto.WebhookResponse{Received: true})
}
