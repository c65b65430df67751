package sales

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/coachhub/backend/internal/domain/enums"
	"github.com/coachhub/backend/internal/domain/model"
	"github.com/coachhub/backend/internal/pkg/validate"
	pgrepo "github.com/coachhub/backend/internal/repo/postgres"
)

var (
	ErrValidation   = errors.New("validation error")
	ErrSaleNotFound = errors.New("sale not found")
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type SaleStore interface {
	Get(ctx context.Context, tx pgx.Tx, saleID string) (model.Sale, error)
	ListByProfessional(ctx context.Context, professionalID string, status enums.SaleStatus, limit int) ([]model.Sale, error)
}

type PaymentStore interface {
	ListBySale(ctx context.Context, saleID string) ([]model.Payment, error)
}

type StudentStore interface {
	GetByID(ctx context.Context, studentID string) (model.Student, error)
}

// PhotoSigner turns stored intake photo keys into short-lived URLs.
type PhotoSigner interface {
	SignedURLs(ctx context.Context, keys []string) ([]string, error)
}

type Dependencies struct {
	Sales    SaleStore
	Payments PaymentStore
	Students StudentStore
	Photos   PhotoSigner
	Logger   *zap.Logger
}

type Service struct {
	sales    SaleStore
	payments PaymentStore
	students StudentStore
	photos   PhotoSigner
	logger   *zap.Logger
}

type SaleDetails struct {
	Sale      model.Sale
	Payments  []model.Payment
	Student   *model.Student
	PhotoURLs []string
}

func NewService(deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		sales:    deps.Sales,
		payments: deps.Payments,
		students: deps.Students,
		photos:   deps.Photos,
		logger:   logger,
	}
}

// List returns the professional's sales, newest first.
func (s *Service) List(ctx context.Context, professionalID string, status enums.SaleStatus, limit int) ([]model.Sale, error) {
	if strings.TrimSpace(professionalID) == "" {
		return nil, ErrValidation
	}
	if status != "" && !status.Valid() {
		return nil, ErrValidation
	}
	if s.sales == nil {
		return nil, fmt.Errorf("sales dependencies are not configured")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	items, err := s.sales.ListByProfessional(ctx, professionalID, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list sales: %w", err)
	}
	return items, nil
}

// Get returns one sale with its payments and, once provisioned, its student
// with freshly signed photo URLs. Sales of other professionals are reported
// as missing.
func (s *Service) Get(ctx context.Context, professionalID, saleID string) (SaleDetails, error) {
	if !validate.Required(professionalID, saleID) {
		return SaleDetails{}, ErrValidation
	}
	if s.sales == nil {
		return SaleDetails{}, fmt.Errorf("sales dependencies are not configured")
	}

	sale, err := s.sales.Get(ctx, nil, saleID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrSaleNotFound) {
			return SaleDetails{}, ErrSaleNotFound
		}
		return SaleDetails{}, fmt.Errorf("get sale: %w", err)
	}
	if sale.ProfessionalID != professionalID {
		return SaleDetails{}, ErrSaleNotFound
	}

	details := SaleDetails{Sale: sale, Payments: []model.Payment{}}
	if s.payments != nil {
		payments, err := s.payments.ListBySale(ctx, sale.ID)
		if err != nil {
			return SaleDetails{}, fmt.Errorf("list payments: %w", err)
		}
		details.Payments = payments
	}

	if sale.StudentID == nil || s.students == nil {
		return details, nil
	}
	student, err := s.students.GetByID(ctx, *sale.StudentID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrStudentNotFound) {
			s.logger.Warn("sale points at missing student", zap.String("sale_id", sale.ID), zap.String("student_id", *sale.StudentID))
			return details, nil
		}
		return SaleDetails{}, fmt.Errorf("get student: %w", err)
	}
	details.Student = &student
	details.PhotoURLs = []string{}

	if len(student.PhotoKeys) > 0 && s.photos != nil {
		urls, err := s.photos.SignedURLs(ctx, student.PhotoKeys)
		if err != nil {
			s.logger.Warn("sign student photos failed", zap.String("student_id", student.ID), zap.Error(err))
			return details, nil
		}
		details.PhotoURLs = urls
	}
	return details, nil
}
