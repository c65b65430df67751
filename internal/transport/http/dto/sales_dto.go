package dto

import "time"

type SaleResponse struct {
	ID            string    `json:"id"`
	Status        string    `json:"status"`
	PlanID        *string   `json:"planId,omitempty"`
	CustomerName  string    `json:"customerName"`
	CustomerEmail string    `json:"customerEmail"`
	CustomerPhone string    `json:"customerPhone"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	StudentID     *string   `json:"studentId,omitempty"`
	SessionID     *string   `json:"sessionId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type PaymentResponse struct {
	ID                string     `json:"id"`
	Status            string     `json:"status"`
	Amount            string     `json:"amount"`
	Currency          string     `json:"currency"`
	Method            string     `json:"method"`
	Description       string     `json:"description"`
	ProviderPaymentID string     `json:"providerPaymentId"`
	DueAt             time.Time  `json:"dueAt"`
	PaidAt            *time.Time `json:"paidAt,omitempty"`
}

type SalesListResponse struct {
	Items []SaleResponse `json:"items"`
}

type StudentResponse struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Email     string   `json:"email"`
	Phone     string   `json:"phone"`
	Status    string   `json:"status"`
	Goal      string   `json:"goal,omitempty"`
	PhotoURLs []string `json:"photoUrls"`
}

type SaleDetailsResponse struct {
	Sale     SaleResponse      `json:"sale"`
	Payments []PaymentResponse `json:"payments"`
	Student  *StudentResponse  `json:"student,omitempty"`
}
