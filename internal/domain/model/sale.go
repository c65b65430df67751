package model

import (
	"time"

	"github.com/coachhub/backend/internal/domain/enums"
)

type Sale struct {
	ID                string           `json:"id"`
	ProfessionalID    string           `json:"professional_id"`
	PlanID            *string          `json:"plan_id,omitempty"`
	CustomerName      string           `json:"customer_name"`
	CustomerEmail     string           `json:"customer_email"`
	CustomerPhone     string           `json:"customer_phone"`
	AmountCents       int64            `json:"amount_cents"`
	Currency          string           `json:"currency"`
	Metadata          map[string]any   `json:"metadata,omitempty"`
	Status            enums.SaleStatus `json:"status"`
	ProviderSessionID *string          `json:"provider_session_id,omitempty"`
	ProviderPaymentID *string          `json:"provider_payment_id,omitempty"`
	StudentID         *string          `json:"student_id,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// SaleUpdate carries the optional columns written alongside a status transition.
type SaleUpdate struct {
	ProviderSessionID string
	ProviderPaymentID string
	StudentID         string
	Metadata          map[string]any
}
