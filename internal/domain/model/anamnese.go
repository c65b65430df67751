package model

import (
	"time"

	"github.com/coachhub/backend/internal/domain/enums"
)

type AnamneseForm struct {
	ID             string           `json:"id"`
	SaleID         string           `json:"sale_id"`
	ProfessionalID string           `json:"professional_id"`
	Phone          string           `json:"phone"`
	Token          string           `json:"token"`
	Status         enums.FormStatus `json:"status"`
	ExpiresAt      *time.Time       `json:"expires_at,omitempty"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// AnamneseResponse is the buyer's intake answers. Written once per form.
type AnamneseResponse struct {
	ID                  string     `json:"id"`
	FormID              string     `json:"form_id"`
	SubmittedAt         time.Time  `json:"submitted_at"`
	Name                string     `json:"name"`
	Email               string     `json:"email"`
	Phone               string     `json:"phone"`
	CPF                 string     `json:"cpf"`
	BirthDate           *time.Time `json:"birth_date,omitempty"`
	Gender              string     `json:"gender"`
	WeightKg            *float64   `json:"weight_kg,omitempty"`
	HeightCm            *float64   `json:"height_cm,omitempty"`
	HealthConditions    []string   `json:"health_conditions"`
	Injuries            string     `json:"injuries"`
	Medications         string     `json:"medications"`
	Goal                string     `json:"goal"`
	ActivityPreferences []string   `json:"activity_preferences"`
	FrequencyPreference string     `json:"frequency_preference"`
	Notes               string     `json:"notes"`
	PhotoKeys           []string   `json:"photo_keys"`
}
