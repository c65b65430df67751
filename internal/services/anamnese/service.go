package anamnese

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/coachhub/backend/internal/domain/enums"
	"github.com/coachhub/backend/internal/domain/model"
	"github.com/coachhub/backend/internal/domain/rules"
	"github.com/coachhub/backend/internal/metrics"
	pgrepo "github.com/coachhub/backend/internal/repo/postgres"
	"github.com/coachhub/backend/internal/services/auth"
	"github.com/coachhub/backend/internal/services/students"
)

var (
	ErrValidation = errors.New("validation error")
	// ErrInvalidOrConsumedForm covers unknown, already used and expired tokens alike.
	ErrInvalidOrConsumedForm = errors.New("invalid or already used form link")
	ErrOrphanedForm          = errors.New("form is not linked to a sale")
	ErrSaleNotFound          = errors.New("sale not found")
	ErrSaleNotReady          = errors.New("sale is not ready for intake")
)

var tracer = otel.Tracer("github.com/coachhub/backend/internal/services/anamnese")

type TxRunner interface {
	WithinTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error
}

type FormStore interface {
	CreatePending(ctx context.Context, tx pgx.Tx, form model.AnamneseForm) (model.AnamneseForm, bool, error)
	FindPendingBySale(ctx context.Context, tx pgx.Tx, saleID string) (model.AnamneseForm, error)
	LockPendingByToken(ctx context.Context, tx pgx.Tx, token string, now time.Time) (model.AnamneseForm, error)
	FindPendingByToken(ctx context.Context, token string, now time.Time) (model.AnamneseForm, error)
	MarkCompleted(ctx context.Context, tx pgx.Tx, formID string, now time.Time) error
	Expire(ctx context.Context, tx pgx.Tx, formID string) error
}

type ResponseStore interface {
	Insert(ctx context.Context, tx pgx.Tx, resp model.AnamneseResponse) (model.AnamneseResponse, error)
}

type SaleStore interface {
	Get(ctx context.Context, tx pgx.Tx, saleID string) (model.Sale, error)
	Transition(ctx context.Context, tx pgx.Tx, saleID string, to enums.SaleStatus, update model.SaleUpdate) (model.Sale, bool, error)
}

type StudentResolver interface {
	Resolve(ctx context.Context, tx pgx.Tx, sale model.Sale, resp model.AnamneseResponse) (students.Resolution, error)
}

// Notifier delivers the intake link to the buyer.
type Notifier interface {
	SendFormLink(ctx context.Context, link FormLink) error
}

type EventPublisher interface {
	PublishSaleEvent(ctx context.Context, event model.SaleEvent) error
}

type FormLink struct {
	SaleID         string
	ProfessionalID string
	To             string
	Name           string
	URL            string
	ExpiresAt      *time.Time
}

type Config struct {
	FormTTL       time.Duration
	PublicFormURL string
}

type Dependencies struct {
	Tx        TxRunner
	Forms     FormStore
	Responses ResponseStore
	Sales     SaleStore
	Resolver  StudentResolver
	Notifier  Notifier
	Events    EventPublisher
	Logger    *zap.Logger
	Config    Config
}

// FormData is the buyer's answers as submitted by the public form.
type FormData struct {
	Name                string
	Email               string
	Phone               string
	CPF                 string
	BirthDate           string
	Gender              string
	WeightKg            *float64
	HeightCm            *float64
	HealthConditions    []string
	Injuries            string
	Medications         string
	Goal                string
	ActivityPreferences []string
	FrequencyPreference string
	Notes               string
	PhotoKeys           []string
}

type SubmitResult struct {
	StudentID      string
	StudentCreated bool
	SaleID         string
	SaleStatus     enums.SaleStatus
}

type IssueResult struct {
	Form       model.AnamneseForm
	Reused     bool
	Delivered  bool
	SaleStatus enums.SaleStatus
}

type Service struct {
	tx        TxRunner
	forms     FormStore
	responses ResponseStore
	sales     SaleStore
	resolver  StudentResolver
	notifier  Notifier
	events    EventPublisher
	logger    *zap.Logger
	cfg       Config
	newID     func() string
	newToken  func() (string, error)
	now       func() time.Time
}

func NewService(deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := deps.Config
	if cfg.FormTTL <= 0 {
		cfg.FormTTL = 7 * 24 * time.Hour
	}

	return &Service{
		tx:        deps.Tx,
		forms:     deps.Forms,
		responses: deps.Responses,
		sales:     deps.Sales,
		resolver:  deps.Resolver,
		notifier:  deps.Notifier,
		events:    deps.Events,
		logger:    logger,
		cfg:       cfg,
		newID:     uuid.NewString,
		newToken:  auth.NewFormToken,
		now:       time.Now,
	}
}

// Submit consumes a pending form link and provisions the student. All writes
// share one transaction; on any failure the form stays pending.
func (s *Service) Submit(ctx context.Context, token string, data FormData) (SubmitResult, error) {
	if s.tx == nil || s.forms == nil || s.responses == nil || s.sales == nil || s.resolver == nil {
		return SubmitResult{}, fmt.Errorf("anamnese dependencies are not configured")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return SubmitResult{}, ErrValidation
	}
	birthDate, err := parseBirthDate(data.BirthDate)
	if err != nil {
		return SubmitResult{}, ErrValidation
	}
	if data.Email != "" && !rules.ValidEmail(data.Email) {
		return SubmitResult{}, ErrValidation
	}

	ctx, span := tracer.Start(ctx, "anamnese.Submit")
	defer span.End()

	var (
		result     SubmitResult
		resolution students.Resolution
		formID     string
	)
	err = s.tx.WithinTx(ctx, func(txCtx context.Context, tx pgx.Tx) error {
		now := s.now().UTC()
		form, err := s.forms.LockPendingByToken(txCtx, tx, token, now)
		if err != nil {
			if errors.Is(err, pgrepo.ErrFormNotFound) {
				return ErrInvalidOrConsumedForm
			}
			return fmt.Errorf("lock form: %w", err)
		}
		formID = form.ID

		sale, err := s.sales.Get(txCtx, tx, form.SaleID)
		if err != nil {
			if errors.Is(err, pgrepo.ErrSaleNotFound) {
				return ErrOrphanedForm
			}
			return fmt.Errorf("load sale: %w", err)
		}

		if !validPhotoKeys(form.ID, data.PhotoKeys) {
			return ErrValidation
		}

		resp := buildResponse(data, birthDate, sale)
		resp.ID = s.newID()
		resp.FormID = form.ID
		resp.SubmittedAt = now
		resp, err = s.responses.Insert(txCtx, tx, resp)
		if err != nil {
			if errors.Is(err, pgrepo.ErrResponseExists) {
				return ErrInvalidOrConsumedForm
			}
			return fmt.Errorf("insert response: %w", err)
		}

		if err := s.forms.MarkCompleted(txCtx, tx, form.ID, now); err != nil {
			if errors.Is(err, pgrepo.ErrFormNotFound) {
				return ErrInvalidOrConsumedForm
			}
			return fmt.Errorf("complete form: %w", err)
		}

		resolution, err = s.resolver.Resolve(txCtx, tx, sale, resp)
		if err != nil {
			if errors.Is(err, students.ErrValidation) {
				return ErrValidation
			}
			return fmt.Errorf("resolve student: %w", err)
		}
		return nil
	})
	if err != nil {
		s.recordSubmitFailure(span, formID, err)
		return SubmitResult{}, err
	}

	metrics.IntakeSubmissions.WithLabelValues("ok").Inc()
	created := "false"
	if resolution.Created {
		created = "true"
	}
	metrics.StudentsUpserted.WithLabelValues(created).Inc()
	if resolution.SaleChanged {
		s.afterTransition(ctx, resolution.Sale, "")
	}

	result = SubmitResult{
		StudentID:      resolution.Student.ID,
		StudentCreated: resolution.Created,
		SaleID:         resolution.Sale.ID,
		SaleStatus:     resolution.Sale.Status,
	}
	span.SetAttributes(
		attribute.String("sale_id", result.SaleID),
		attribute.String("student_id", result.StudentID),
	)
	s.logger.Info("anamnese submitted",
		zap.String("form_id", formID),
		zap.String("sale_id", result.SaleID),
		zap.String("student_id", result.StudentID),
		zap.Bool("student_created", result.StudentCreated),
	)
	return result, nil
}

func (s *Service) recordSubmitFailure(span trace.Span, formID string, err error) {
	switch {
	case errors.Is(err, ErrInvalidOrConsumedForm):
		metrics.IntakeSubmissions.WithLabelValues("invalid_form").Inc()
	case errors.Is(err, ErrValidation):
		metrics.IntakeSubmissions.WithLabelValues("validation").Inc()
	case errors.Is(err, ErrOrphanedForm):
		metrics.IntakeSubmissions.WithLabelValues("orphaned").Inc()
		s.logger.Error("anamnese form without sale", zap.String("form_id", formID))
	default:
		metrics.IntakeSubmissions.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit anamnese")
		s.logger.Error("anamnese submit failed", zap.String("form_id", formID), zap.Error(err))
	}
}

// Issue creates or reuses the pending intake form of a paid sale and sends its
// link to the buyer.
func (s *Service) Issue(ctx context.Context, professionalID, saleID string) (IssueResult, error) {
	if s.tx == nil || s.forms == nil || s.sales == nil {
		return IssueResult{}, fmt.Errorf("anamnese dependencies are not configured")
	}
	professionalID = strings.TrimSpace(professionalID)
	saleID = strings.TrimSpace(saleID)
	if professionalID == "" || saleID == "" {
		return IssueResult{}, ErrValidation
	}

	sale, err := s.sales.Get(ctx, nil, saleID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrSaleNotFound) {
			return IssueResult{}, ErrSaleNotFound
		}
		return IssueResult{}, fmt.Errorf("load sale: %w", err)
	}
	if sale.ProfessionalID != professionalID {
		return IssueResult{}, ErrSaleNotFound
	}
	switch sale.Status {
	case enums.SaleStatusPaymentConfirmed, enums.SaleStatusAnamnesePending, enums.SaleStatusAnamneseSent:
	default:
		return IssueResult{}, ErrSaleNotReady
	}

	var result IssueResult
	err = s.tx.WithinTx(ctx, func(txCtx context.Context, tx pgx.Tx) error {
		now := s.now().UTC()
		existing, err := s.forms.FindPendingBySale(txCtx, tx, sale.ID)
		switch {
		case err == nil && (existing.ExpiresAt == nil || existing.ExpiresAt.After(now)):
			result.Form = existing
			result.Reused = true
			return nil
		case err == nil:
			if err := s.forms.Expire(txCtx, tx, existing.ID); err != nil {
				return fmt.Errorf("expire stale form: %w", err)
			}
		case !errors.Is(err, pgrepo.ErrFormNotFound):
			return fmt.Errorf("find pending form: %w", err)
		}

		token, err := s.newToken()
		if err != nil {
			return fmt.Errorf("generate form token: %w", err)
		}
		expiresAt := now.Add(s.cfg.FormTTL)
		form, created, err := s.forms.CreatePending(txCtx, tx, model.AnamneseForm{
			ID:             s.newID(),
			SaleID:         sale.ID,
			ProfessionalID: sale.ProfessionalID,
			Phone:          sale.CustomerPhone,
			Token:          token,
			ExpiresAt:      &expiresAt,
		})
		if err != nil {
			return fmt.Errorf("create form: %w", err)
		}
		result.Form = form
		result.Reused = !created
		return nil
	})
	if err != nil {
		return IssueResult{}, err
	}

	result.Delivered = s.deliver(ctx, sale, result.Form)
	next := enums.SaleStatusAnamneseSent
	reason := ""
	if !result.Delivered {
		next = enums.SaleStatusAnamnesePending
		reason = "form_link_not_delivered"
	}

	updated, changed, err := s.sales.Transition(ctx, nil, sale.ID, next, model.SaleUpdate{})
	if err != nil {
		return IssueResult{}, fmt.Errorf("update sale after issuing form: %w", err)
	}
	if changed {
		s.afterTransition(ctx, updated, reason)
	}
	result.SaleStatus = updated.Status

	s.logger.Info("anamnese form issued",
		zap.String("sale_id", sale.ID),
		zap.String("form_id", result.Form.ID),
		zap.Bool("reused", result.Reused),
		zap.Bool("delivered", result.Delivered),
		zap.String("sale_status", string(updated.Status)),
	)
	return result, nil
}

// FindPending returns the consumable form behind token.
func (s *Service) FindPending(ctx context.Context, token string) (model.AnamneseForm, error) {
	if s.forms == nil {
		return model.AnamneseForm{}, fmt.Errorf("anamnese dependencies are not configured")
	}

	form, err := s.forms.FindPendingByToken(ctx, token, s.now().UTC())
	if err != nil {
		if errors.Is(err, pgrepo.ErrFormNotFound) {
			return model.AnamneseForm{}, ErrInvalidOrConsumedForm
		}
		return model.AnamneseForm{}, fmt.Errorf("find pending form: %w", err)
	}
	return form, nil
}

// FormURL is the public link for a form token.
func (s *Service) FormURL(token string) string {
	base := strings.TrimSpace(s.cfg.PublicFormURL)
	if base == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *Service) deliver(ctx context.Context, sale model.Sale, form model.AnamneseForm) bool {
	link := s.FormURL(form.Token)
	if s.notifier == nil || link == "" || sale.CustomerEmail == "" {
		metrics.FormLinksSent.WithLabelValues("skipped").Inc()
		return false
	}

	err := s.notifier.SendFormLink(ctx, FormLink{
		SaleID:         sale.ID,
		ProfessionalID: sale.ProfessionalID,
		To:             sale.CustomerEmail,
		Name:           sale.CustomerName,
		URL:            link,
		ExpiresAt:      form.ExpiresAt,
	})
	if err != nil {
		metrics.FormLinksSent.WithLabelValues("failed").Inc()
		s.logger.Warn("form link delivery failed", zap.String("sale_id", sale.ID), zap.Error(err))
		return false
	}
	metrics.FormLinksSent.WithLabelValues("sent").Inc()
	return true
}

func (s *Service) afterTransition(ctx context.Context, sale model.Sale, reason string) {
	metrics.SaleTransitions.WithLabelValues(string(sale.Status)).Inc()
	if s.events == nil {
		return
	}
	event := model.SaleEvent{
		SaleID:         sale.ID,
		ProfessionalID: sale.ProfessionalID,
		Status:         sale.Status,
		AmountCents:    sale.AmountCents,
		Currency:       sale.Currency,
		Reason:         reason,
		OccurredAt:     s.now().UTC(),
	}
	if sale.StudentID != nil {
		event.StudentID = *sale.StudentID
	}
	if err := s.events.PublishSaleEvent(ctx, event); err != nil {
		s.logger.Warn("publish sale event failed", zap.String("sale_id", sale.ID), zap.Error(err))
	}
}

func buildResponse(data FormData, birthDate *time.Time, sale model.Sale) model.AnamneseResponse {
	email := rules.NormalizeEmail(data.Email)
	if email == "" {
		email = rules.NormalizeEmail(sale.CustomerEmail)
	}
	phone := rules.NormalizePhone(data.Phone)
	if phone == "" {
		phone = sale.CustomerPhone
	}

	return model.AnamneseResponse{
		Name:                strings.TrimSpace(data.Name),
		Email:               email,
		Phone:               phone,
		CPF:                 strings.TrimSpace(data.CPF),
		BirthDate:           birthDate,
		Gender:              strings.TrimSpace(data.Gender),
		WeightKg:            positive(data.WeightKg),
		HeightCm:            positive(data.HeightCm),
		HealthConditions:    compact(data.HealthConditions),
		Injuries:            strings.TrimSpace(data.Injuries),
		Medications:         strings.TrimSpace(data.Medications),
		Goal:                strings.TrimSpace(data.Goal),
		ActivityPreferences: compact(data.ActivityPreferences),
		FrequencyPreference: strings.TrimSpace(data.FrequencyPreference),
		Notes:               strings.TrimSpace(data.Notes),
		PhotoKeys:           compact(data.PhotoKeys),
	}
}

func parseBirthDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			day := time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, time.UTC)
			return &day, nil
		}
	}
	return nil, fmt.Errorf("invalid birth date %q", raw)
}

func positive(value *float64) *float64 {
	if value == nil || *value <= 0 {
		return nil
	}
	return value
}

// validPhotoKeys accepts only keys uploaded for this form.
func validPhotoKeys(formID string, keys []string) bool {
	keys = compact(keys)
	if len(keys) > rules.MaxIntakePhotos {
		return false
	}
	for _, key := range keys {
		if !rules.ValidIntakePhotoKey(formID, key) {
			return false
		}
	}
	return true
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
