package model

import (
	"time"

	"github.com/coachhub/backend/internal/domain/enums"
)

// SaleEvent is published whenever a sale changes status.
type SaleEvent struct {
	SaleID         string           `json:"sale_id"`
	ProfessionalID string           `json:"professional_id"`
	Status         enums.SaleStatus `json:"status"`
	StudentID      string           `json:"student_id,omitempty"`
	AmountCents    int64            `json:"amount_cents"`
	Currency       string           `json:"currency"`
	Reason         string           `json:"reason,omitempty"`
	OccurredAt     time.Time        `json:"occurred_at"`
}
