package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	checkoutsvc "github.com/coachhub/backend/internal/services/checkout"
	"github.com/coachhub/backend/internal/transport/http/dto"
	httperrors "github.com/coachhub/backend/internal/transport/http/errors"
)

const maxCheckoutBodySize = 64 << 10

type CheckoutHandler struct {
	service *checkoutsvc.Service
	logger  *zap.Logger
}

func NewCheckoutHandler(service *checkoutsvc.Service, logger *zap.Logger) *CheckoutHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CheckoutHandler{service: service, logger: logger}
}

func (h *CheckoutHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeInternal(w, "CHECKOUT_SERVICE_UNAVAILABLE", "checkout service is unavailable")
		return
	}

	var req dto.CheckoutRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxCheckoutBodySize)
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "INVALID_REQUEST", "invalid request body")
		return
	}

	res, err := h.service.Create(r.Context(), checkoutsvc.CreateInput{
		PlanID:         req.PlanID,
		Email:          req.Email,
		Name:           req.Name,
		Phone:          req.Phone,
		ProfessionalID: req.ProfessionalID,
	})
	if err != nil {
		h.handleError(w, err)
		return
	}

	httperrors.Write(w, http.StatusOK, dto.CheckoutResponse{
		SaleID:     res.SaleID,
		SessionID:  res.SessionID,
		SessionURL: res.SessionURL,
	})
}

func (h *CheckoutHandler) handleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, checkoutsvc.ErrValidation):
		writeBadRequest(w, "VALIDATION_ERROR", "invalid checkout request")
	case errors.Is(err, checkoutsvc.ErrPlanNotFound):
		writeNotFound(w, "PLAN_NOT_FOUND", "plan not found")
	case errors.Is(err, checkoutsvc.ErrProviderUnavailable):
		httperrors.Write(w, http.StatusBadGateway, httperrors.APIError{
			Code:    "PAYMENT_PROVIDER_UNAVAILABLE",
			Message: "payment provider is unavailable, try again",
		})
	default:
		h.logger.Error("checkout failed", zap.Error(err))
		writeInternal(w, "INTERNAL_ERROR", "could not start checkout")
	}
}
