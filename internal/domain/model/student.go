package model

import (
	"time"

	"github.com/coachhub/backend/internal/domain/enums"
)

type Student struct {
	ID                  string              `json:"id"`
	ProfessionalID      string              `json:"professional_id"`
	Name                string              `json:"name"`
	Email               string              `json:"email"`
	Phone               string              `json:"phone"`
	CPF                 string              `json:"cpf"`
	BirthDate           *time.Time          `json:"birth_date,omitempty"`
	Gender              string              `json:"gender"`
	WeightKg            *float64            `json:"weight_kg,omitempty"`
	HeightCm            *float64            `json:"height_cm,omitempty"`
	HealthConditions    []string            `json:"health_conditions"`
	Injuries            string              `json:"injuries"`
	Medications         string              `json:"medications"`
	Goal                string              `json:"goal"`
	ActivityPreferences []string            `json:"activity_preferences"`
	FrequencyPreference string              `json:"frequency_preference"`
	Notes               string              `json:"notes"`
	PhotoKeys           []string            `json:"photo_keys"`
	Status              enums.StudentStatus `json:"status"`
	Points              int                 `json:"points"`
	StreakDays          int                 `json:"streak_days"`
	CustomData          map[string]any      `json:"custom_data,omitempty"`
	SalesOriginID       *string             `json:"sales_origin_id,omitempty"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
}
