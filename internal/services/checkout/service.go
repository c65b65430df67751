package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/coachhub/backend/internal/domain/enums"
	"github.com/coachhub/backend/internal/domain/model"
	"github.com/coachhub/backend/internal/domain/rules"
	"github.com/coachhub/backend/internal/metrics"
	"github.com/coachhub/backend/internal/pkg/validate"
	pgrepo "github.com/coachhub/backend/internal/repo/postgres"
)

const MetadataSaleID = "sale_id"

var (
	ErrValidation          = errors.New("validation error")
	ErrPlanNotFound        = errors.New("plan not found")
	ErrPersistence         = errors.New("persistence error")
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	// ErrProviderTransient marks provider failures worth retrying (network, 429, 5xx).
	ErrProviderTransient = errors.New("transient payment provider error")
)

var tracer = otel.Tracer("github.com/coachhub/backend/internal/services/checkout")

type PlanStore interface {
	GetByID(ctx context.Context, planID string) (model.Plan, error)
}

type SaleStore interface {
	CreatePending(ctx context.Context, sale model.Sale) (model.Sale, error)
	AttachSession(ctx context.Context, saleID, sessionID string) error
	Transition(ctx context.Context, tx pgx.Tx, saleID string, to enums.SaleStatus, update model.SaleUpdate) (model.Sale, bool, error)
}

type SessionProvider interface {
	CreateSession(ctx context.Context, req SessionRequest) (Session, error)
}

type EventPublisher interface {
	PublishSaleEvent(ctx context.Context, event model.SaleEvent) error
}

type SessionRequest struct {
	SaleID         string
	PlanName       string
	CustomerEmail  string
	AmountCents    int64
	Currency       string
	IdempotencyKey string
}

type Session struct {
	ID  string
	URL string
}

type RetryConfig struct {
	Attempts uint
	Delay    time.Duration
	MaxDelay time.Duration
}

type Dependencies struct {
	Plans    PlanStore
	Sales    SaleStore
	Provider SessionProvider
	Events   EventPublisher
	Logger   *zap.Logger
	Retry    RetryConfig
}

type CreateInput struct {
	PlanID         string
	Email          string
	Name           string
	Phone          string
	ProfessionalID string
}

type CreateResult struct {
	SaleID      string
	SessionID   string
	SessionURL  string
	AmountCents int64
	Currency    string
}

type Service struct {
	plans    PlanStore
	sales    SaleStore
	provider SessionProvider
	events   EventPublisher
	logger   *zap.Logger
	retry    RetryConfig
	newID    func() string
	now      func() time.Time
}

func NewService(deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	retryCfg := deps.Retry
	if retryCfg.Attempts == 0 {
		retryCfg.Attempts = 3
	}
	if retryCfg.Delay <= 0 {
		retryCfg.Delay = 200 * time.Millisecond
	}
	if retryCfg.MaxDelay <= 0 {
		retryCfg.MaxDelay = 2 * time.Second
	}

	return &Service{
		plans:    deps.Plans,
		sales:    deps.Sales,
		provider: deps.Provider,
		events:   deps.Events,
		logger:   logger,
		retry:    retryCfg,
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

// Create opens a pending sale at the plan's current price and a provider checkout session for it.
func (s *Service) Create(ctx context.Context, in CreateInput) (CreateResult, error) {
	if s.plans == nil || s.sales == nil {
		return CreateResult{}, fmt.Errorf("checkout dependencies are not configured")
	}

	in, err := normalizeInput(in)
	if err != nil {
		return CreateResult{}, err
	}

	ctx, span := tracer.Start(ctx, "checkout.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("plan_id", in.PlanID),
		attribute.String("professional_id", in.ProfessionalID),
	)

	plan, err := s.plans.GetByID(ctx, in.PlanID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrPlanNotFound) {
			return CreateResult{}, ErrPlanNotFound
		}
		return CreateResult{}, fmt.Errorf("%w: load plan: %v", ErrPersistence, err)
	}
	if !plan.Active || plan.ProfessionalID != in.ProfessionalID {
		return CreateResult{}, ErrPlanNotFound
	}

	planID := plan.ID
	sale, err := s.sales.CreatePending(ctx, model.Sale{
		ID:             s.newID(),
		ProfessionalID: plan.ProfessionalID,
		PlanID:         &planID,
		CustomerName:   in.Name,
		CustomerEmail:  in.Email,
		CustomerPhone:  in.Phone,
		AmountCents:    plan.PriceCents,
		Currency:       rules.NormalizeCurrency(plan.Currency),
		Metadata: map[string]any{
			"plan_name": plan.Name,
			"source":    "checkout",
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert sale")
		return CreateResult{}, fmt.Errorf("%w: insert sale: %v", ErrPersistence, err)
	}
	metrics.SalesCreated.Inc()
	span.SetAttributes(attribute.String("sale_id", sale.ID))

	session, err := s.openSession(ctx, sale, plan)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider session")
		s.failSale(ctx, sale, err)
		return CreateResult{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	if err := s.sales.AttachSession(ctx, sale.ID, session.ID); err != nil {
		span.RecordError(err)
		s.logger.Error("attach provider session failed",
			zap.String("sale_id", sale.ID),
			zap.String("session_id", session.ID),
			zap.Error(err),
		)
		return CreateResult{}, fmt.Errorf("%w: attach session: %v", ErrPersistence, err)
	}

	s.logger.Info("checkout session created",
		zap.String("sale_id", sale.ID),
		zap.String("session_id", session.ID),
		zap.Int64("amount_cents", sale.AmountCents),
		zap.String("currency", sale.Currency),
	)

	return CreateResult{
		SaleID:      sale.ID,
		SessionID:   session.ID,
		SessionURL:  session.URL,
		AmountCents: sale.AmountCents,
		Currency:    sale.Currency,
	}, nil
}

func (s *Service) openSession(ctx context.Context, sale model.Sale, plan model.Plan) (Session, error) {
	if s.provider == nil {
		return Session{}, fmt.Errorf("payment provider is not configured")
	}

	req := SessionRequest{
		SaleID:         sale.ID,
		PlanName:       plan.Name,
		CustomerEmail:  sale.CustomerEmail,
		AmountCents:    sale.AmountCents,
		Currency:       sale.Currency,
		IdempotencyKey: "checkout:" + sale.ID,
	}

	start := s.now()
	defer func() {
		metrics.CheckoutProviderDuration.Observe(s.now().Sub(start).Seconds())
	}()

	var session Session
	err := retry.Do(
		func() error {
			created, err := s.provider.CreateSession(ctx, req)
			if err != nil {
				return err
			}
			session = created
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(s.retry.Attempts),
		retry.Delay(s.retry.Delay),
		retry.MaxDelay(s.retry.MaxDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, ErrProviderTransient)
		}),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Warn("checkout session attempt failed",
				zap.String("sale_id", sale.ID),
				zap.Uint("attempt", n+1),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		return Session{}, err
	}
	if strings.TrimSpace(session.ID) == "" || strings.TrimSpace(session.URL) == "" {
		return Session{}, fmt.Errorf("payment provider returned an empty session")
	}
	return session, nil
}

// failSale closes a sale whose checkout session could not be opened so it never lingers as pending.
func (s *Service) failSale(ctx context.Context, sale model.Sale, cause error) {
	failed, changed, err := s.sales.Transition(ctx, nil, sale.ID, enums.SaleStatusFailed, model.SaleUpdate{
		Metadata: map[string]any{"failure_reason": "provider_session_failed"},
	})
	if err != nil {
		s.logger.Error("mark sale failed after provider error",
			zap.String("sale_id", sale.ID),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
		return
	}
	s.logger.Warn("checkout provider failed, sale marked failed",
		zap.String("sale_id", sale.ID),
		zap.Error(cause),
	)
	if !changed {
		return
	}
	metrics.SaleTransitions.WithLabelValues(string(enums.SaleStatusFailed)).Inc()
	s.publish(ctx, failed, "provider_session_failed")
}

func (s *Service) publish(ctx context.Context, sale model.Sale, reason string) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishSaleEvent(ctx, model.SaleEvent{
		SaleID:         sale.ID,
		ProfessionalID: sale.ProfessionalID,
		Status:         sale.Status,
		AmountCents:    sale.AmountCents,
		Currency:       sale.Currency,
		Reason:         reason,
		OccurredAt:     s.now().UTC(),
	}); err != nil {
		s.logger.Warn("publish sale event failed", zap.String("sale_id", sale.ID), zap.Error(err))
	}
}

func normalizeInput(in CreateInput) (CreateInput, error) {
	out := CreateInput{
		PlanID:         strings.TrimSpace(in.PlanID),
		Email:          rules.NormalizeEmail(in.Email),
		Name:           strings.TrimSpace(in.Name),
		Phone:          rules.NormalizePhone(in.Phone),
		ProfessionalID: strings.TrimSpace(in.ProfessionalID),
	}
	if !validate.Required(out.PlanID, out.Name, out.ProfessionalID) {
		return CreateInput{}, ErrValidation
	}
	if !rules.ValidEmail(out.Email) || out.Phone == "" {
		return CreateInput{}, ErrValidation
	}
	return out, nil
}
