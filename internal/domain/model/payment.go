package model

import (
	"time"

	"github.com/coachhub/backend/internal/domain/enums"
)

type Payment struct {
	ID                string              `json:"id"`
	ProfessionalID    string              `json:"professional_id"`
	SaleID            string              `json:"sale_id"`
	StudentID         *string             `json:"student_id,omitempty"`
	AmountCents       int64               `json:"amount_cents"`
	Currency          string              `json:"currency"`
	Status            enums.PaymentStatus `json:"status"`
	Method            string              `json:"method"`
	ProviderPaymentID string              `json:"provider_payment_id"`
	Description       string              `json:"description"`
	DueAt             time.Time           `json:"due_at"`
	PaidAt            *time.Time          `json:"paid_at,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
}
