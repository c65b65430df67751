package auth

import (
	"errors"
	"time"
)

const RoleProfessional = "professional"

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
)

type AccessClaims struct {
	ProfessionalID string
	Role           string
	ExpiresAt      time.Time
}
