package model

import "time"

type Plan struct {
	ID             string    `json:"id"`
	ProfessionalID string    `json:"professional_id"`
	Name           string    `json:"name"`
	PriceCents     int64     `json:"price_cents"`
	Currency       string    `json:"currency"`
	DurationDays   int       `json:"duration_days"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
}
