package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/coachhub/backend/internal/domain/enums"
	"github.com/coachhub/backend/internal/domain/model"
	"github.com/coachhub/backend/internal/domain/rules"
	anamnesesvc "github.com/coachhub/backend/internal/services/anamnese"
	authsvc "github.com/coachhub/backend/internal/services/auth"
	salessvc "github.com/coachhub/backend/internal/services/sales"
	"github.com/coachhub/backend/internal/transport/http/dto"
	httperrors "github.com/coachhub/backend/internal/transport/http/errors"
)

type SalesHandler struct {
	sales    *salessvc.Service
	anamnese *anamnesesvc.Service
	logger   *zap.Logger
}

func NewSalesHandler(sales *salessvc.Service, anamnese *anamnesesvc.Service, logger *zap.Logger) *SalesHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SalesHandler{sales: sales, anamnese: anamnese, logger: logger}
}

func (h *SalesHandler) List(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.sales == nil {
		writeInternal(w, "SALES_SERVICE_UNAVAILABLE", "sales service is unavailable")
		return
	}

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeBadRequest(w, "VALIDATION_ERROR", "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	status := enums.SaleStatus(strings.TrimSpace(r.URL.Query().Get("status")))

	items, err := h.sales.List(r.Context(), identity.ProfessionalID, status, limit)
	if err != nil {
		h.handleSalesError(w, err)
		return
	}

	resp := dto.SalesListResponse{Items: make([]dto.SaleResponse, 0, len(items))}
	for _, sale := range items {
		resp.Items = append(resp.Items, saleResponse(sale))
	}
	httperrors.Write(w, http.StatusOK, resp)
}

func (h *SalesHandler) Get(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.sales == nil {
		writeInternal(w, "SALES_SERVICE_UNAVAILABLE", "sales service is unavailable")
		return
	}

	details, err := h.sales.Get(r.Context(), identity.ProfessionalID, chi.URLParam(r, "id"))
	if err != nil {
		h.handleSalesError(w, err)
		return
	}

	resp := dto.SaleDetailsResponse{
		Sale:     saleResponse(details.Sale),
		Payments: make([]dto.PaymentResponse, 0, len(details.Payments)),
	}
	for _, payment := range details.Payments {
		resp.Payments = append(resp.Payments, paymentResponse(payment))
	}
	if details.Student != nil {
		resp.Student = &dto.StudentResponse{
			ID:        details.Student.ID,
			Name:      details.Student.Name,
			Email:     details.Student.Email,
			Phone:     details.Student.Phone,
			Status:    string(details.Student.Status),
			Goal:      details.Student.Goal,
			PhotoURLs: details.PhotoURLs,
		}
	}
	httperrors.Write(w, http.StatusOK, resp)
}

// IssueForm creates or re-sends the intake form link for a paid sale.
func (h *SalesHandler) IssueForm(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.anamnese == nil {
		writeInternal(w, "ANAMNESE_SERVICE_UNAVAILABLE", "anamnese service is unavailable")
		return
	}

	res, err := h.anamnese.Issue(r.Context(), identity.ProfessionalID, chi.URLParam(r, "id"))
	if err != nil {
		switch {
		case errors.Is(err, anamnesesvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "sale id is required")
		case errors.Is(err, anamnesesvc.ErrSaleNotFound):
			writeNotFound(w, "SALE_NOT_FOUND", "sale not found")
		case errors.Is(err, anamnesesvc.ErrSaleNotReady):
			httperrors.Write(w, http.StatusConflict, httperrors.APIError{
				Code:    "SALE_NOT_READY",
				Message: "sale is not awaiting intake",
			})
		default:
			h.logger.Error("issue form failed", zap.Error(err))
			writeInternal(w, "INTERNAL_ERROR", "could not issue form")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, dto.AnamneseIssueResponse{
		FormID:     res.Form.ID,
		Token:      res.Form.Token,
		Status:     string(res.Form.Status),
		SaleStatus: string(res.SaleStatus),
		ExpiresAt:  res.Form.ExpiresAt,
		Reused:     res.Reused,
		Delivered:  res.Delivered,
	})
}

func (h *SalesHandler) handleSalesError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, salessvc.ErrValidation):
		writeBadRequest(w, "VALIDATION_ERROR", "invalid sales query")
	case errors.Is(err, salessvc.ErrSaleNotFound):
		writeNotFound(w, "SALE_NOT_FOUND", "sale not found")
	default:
		h.logger.Error("sales query failed", zap.Error(err))
		writeInternal(w, "INTERNAL_ERROR", "could not load sales")
	}
}

func saleResponse(sale model.Sale) dto.SaleResponse {
	return dto.SaleResponse{
		ID:            sale.ID,
		Status:        string(sale.Status),
		PlanID:        sale.PlanID,
		CustomerName:  sale.CustomerName,
		CustomerEmail: sale.CustomerEmail,
		CustomerPhone: sale.CustomerPhone,
		Amount:        rules.FormatCents(sale.AmountCents),
		Currency:      sale.Currency,
		StudentID:     sale.StudentID,
		SessionID:     sale.ProviderSessionID,
		CreatedAt:     sale.CreatedAt,
		UpdatedAt:     sale.UpdatedAt,
	}
}

func paymentResponse(payment model.Payment) dto.PaymentResponse {
	return dto.PaymentResponse{
		ID:                payment.ID,
		Status:            string(payment.Status),
		Amount:            rules.FormatCents(payment.AmountCents),
		Currency:          payment.Currency,
		Method:            payment.Method,
		Description:       payment.Description,
		ProviderPaymentID: payment.ProviderPaymentID,
		DueAt:             payment.DueAt,
		PaidAt:            payment.PaidAt,
	}
}
