package students

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/coachhub/backend/internal/domain/enums"
	"github.com/coachhub/backend/internal/domain/model"
	"github.com/coachhub/backend/internal/domain/rules"
	pgrepo "github.com/coachhub/backend/internal/repo/postgres"
)

var (
	ErrValidation   = errors.New("validation error")
	ErrSaleNotFound = errors.New("sale not found")
)

type StudentStore interface {
	Upsert(ctx context.Context, tx pgx.Tx, student model.Student) (model.Student, bool, error)
}

type SaleStore interface {
	Transition(ctx context.Context, tx pgx.Tx, saleID string, to enums.SaleStatus, update model.SaleUpdate) (model.Sale, bool, error)
}

type Dependencies struct {
	Students StudentStore
	Sales    SaleStore
	Logger   *zap.Logger
}

// Resolution is what Resolve wrote. Sale carries the post-transition row.
type Resolution struct {
	Student     model.Student
	Created     bool
	Sale        model.Sale
	SaleChanged bool
}

// Resolver turns a completed intake into exactly one Student per
// (professional, phone) and links the originating sale to it.
type Resolver struct {
	students StudentStore
	sales    SaleStore
	logger   *zap.Logger
	newID    func() string
}

func NewResolver(deps Dependencies) *Resolver {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Resolver{
		students: deps.Students,
		sales:    deps.Sales,
		logger:   logger,
		newID:    uuid.NewString,
	}
}

// Resolve must run inside the caller's transaction; ctx and tx are passed
// through to the stores untouched.
func (r *Resolver) Resolve(ctx context.Context, tx pgx.Tx, sale model.Sale, resp model.AnamneseResponse) (Resolution, error) {
	if r.students == nil || r.sales == nil {
		return Resolution{}, fmt.Errorf("students dependencies are not configured")
	}

	candidate, err := r.candidate(sale, resp)
	if err != nil {
		return Resolution{}, err
	}

	student, created, err := r.students.Upsert(ctx, tx, candidate)
	if err != nil {
		if errors.Is(err, pgrepo.ErrInvalidPayload) {
			return Resolution{}, ErrValidation
		}
		return Resolution{}, fmt.Errorf("upsert student: %w", err)
	}

	updated, changed, err := r.sales.Transition(ctx, tx, sale.ID, enums.SaleStatusStudentCreated, model.SaleUpdate{
		StudentID: student.ID,
	})
	if err != nil {
		if errors.Is(err, pgrepo.ErrSaleNotFound) {
			return Resolution{}, ErrSaleNotFound
		}
		return Resolution{}, fmt.Errorf("link sale to student: %w", err)
	}
	if !changed {
		r.logger.Warn("sale not advanced to student_created",
			zap.String("sale_id", sale.ID),
			zap.String("status", string(updated.Status)),
			zap.String("student_id", student.ID),
		)
	}

	return Resolution{
		Student:     student,
		Created:     created,
		Sale:        updated,
		SaleChanged: changed,
	}, nil
}

func (r *Resolver) candidate(sale model.Sale, resp model.AnamneseResponse) (model.Student, error) {
	phone := rules.NormalizePhone(resp.Phone)
	if phone == "" {
		phone = rules.NormalizePhone(sale.CustomerPhone)
	}
	if phone == "" || strings.TrimSpace(sale.ProfessionalID) == "" {
		return model.Student{}, ErrValidation
	}

	email := rules.NormalizeEmail(resp.Email)
	if email == "" {
		email = rules.NormalizeEmail(sale.CustomerEmail)
	}
	name := strings.TrimSpace(resp.Name)
	if name == "" {
		name = strings.TrimSpace(sale.CustomerName)
	}

	saleID := sale.ID
	return model.Student{
		ID:                  r.newID(),
		ProfessionalID:      sale.ProfessionalID,
		Name:                name,
		Email:               email,
		Phone:               phone,
		CPF:                 strings.TrimSpace(resp.CPF),
		BirthDate:           normalizeDate(resp.BirthDate),
		Gender:              strings.TrimSpace(resp.Gender),
		WeightKg:            resp.WeightKg,
		HeightCm:            resp.HeightCm,
		HealthConditions:    nonNil(resp.HealthConditions),
		Injuries:            resp.Injuries,
		Medications:         resp.Medications,
		Goal:                resp.Goal,
		ActivityPreferences: nonNil(resp.ActivityPreferences),
		FrequencyPreference: resp.FrequencyPreference,
		Notes:               resp.Notes,
		PhotoKeys:           nonNil(resp.PhotoKeys),
		Status:              enums.StudentStatusActive,
		SalesOriginID:       &saleID,
	}, nil
}

func normalizeDate(value *time.Time) *time.Time {
	if value == nil || value.IsZero() {
		return nil
	}
	day := time.Date(value.Year(), value.Month(), value.Day(), 0, 0, 0, 0, time.UTC)
	return &day
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
