package dto

import "time"

type AnamneseFormData struct {
	Name                string   `json:"name"`
	Email               string   `json:"email"`
	Phone               string   `json:"phone"`
	CPF                 string   `json:"cpf"`
	BirthDate           string   `json:"birthDate"`
	Gender              string   `json:"gender"`
	Weight              *float64 `json:"weight"`
	Height              *float64 `json:"height"`
	HealthConditions    []string `json:"healthConditions"`
	Injuries            string   `json:"injuries"`
	Medications         string   `json:"medications"`
	Goal                string   `json:"goal"`
	ActivityPreferences []string `json:"activityPreferences"`
	FrequencyPreference string   `json:"frequencyPreference"`
	Notes               string   `json:"notes"`
	PhotoKeys           []string `json:"photoKeys"`
}

type AnamneseSubmitRequest struct {
	FormLinkToken string           `json:"formLinkToken"`
	FormData      AnamneseFormData `json:"formData"`
}

type AnamneseSubmitResponse struct {
	Success   bool   `json:"success"`
	StudentID string `json:"studentId"`
}

type AnamneseFormResponse struct {
	FormID    string     `json:"formId"`
	Status    string     `json:"status"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

type AnamneseIssueResponse struct {
	FormID     string     `json:"formId"`
	Token      string     `json:"token"`
	Status     string     `json:"status"`
	SaleStatus string     `json:"saleStatus"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	Reused     bool       `json:"reused"`
	Delivered  bool       `json:"delivered"`
}
