package dto

type CheckoutRequest struct {
	PlanID         string `json:"planId"`
	Email          string `json:"email"`
	Name           string `json:"name"`
	Phone          string `json:"phone"`
	ProfessionalID string `json:"professionalId"`
}

type CheckoutResponse struct {
	SaleID     string `json:"saleId"`
	SessionID  string `json:"sessionId"`
	SessionURL string `json:"sessionUrl"`
}

type WebhookResponse struct {
	Received bool `json:"received"`
}
