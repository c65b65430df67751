package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/coachhub/backend/internal/domain/enums"
	"github.com/coachhub/backend/internal/domain/model"
	"github.com/coachhub/backend/internal/metrics"
	pgrepo "github.com/coachhub/backend/internal/repo/postgres"
)

const (
	EventPaymentSucceeded  = "payment_intent.succeeded"
	EventPaymentFailed     = "payment_intent.payment_failed"
	EventCheckoutCompleted = "checkout.session.completed"
	EventCheckoutExpired   = "checkout.session.expired"
	EventChargeRefunded    = "charge.refunded"

	defaultPaymentMethod = "card"
)

var (
	ErrSignature    = errors.New("invalid webhook signature")
	ErrValidation   = errors.New("validation error")
	ErrSaleNotFound = errors.New("sale not found")
)

var tracer = otel.Tracer("github.com/coachhub/backend/internal/services/payments")

// Event is a verified provider event reduced to the fields the sale state machine reads.
type Event struct {
	ID                string
	Type              string
	SaleID            string
	ProviderPaymentID string
	SessionID         string
	AmountMinor       int64
	Currency          string
	Method            string
	FailureReason     string
}

type EventVerifier interface {
	ParseEvent(payload []byte, signatureHeader string) (Event, error)
}

type TxRunner interface {
	WithinTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error
}

type SaleStore interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, saleID string) (model.Sale, error)
	Transition(ctx context.Context, tx pgx.Tx, saleID string, to enums.SaleStatus, update model.SaleUpdate) (model.Sale, bool, error)
	MergeMetadata(ctx context.Context, tx pgx.Tx, saleID string, metadata map[string]any) (model.Sale, error)
}

type PaymentStore interface {
	InsertPaid(ctx context.Context, tx pgx.Tx, payment model.Payment) (model.Payment, bool, error)
	MarkRefunded(ctx context.Context, tx pgx.Tx, providerPaymentID string) (model.Payment, bool, error)
}

type EventCache interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Remember(ctx context.Context, eventID string) error
}

type EventPublisher interface {
	PublishSaleEvent(ctx context.Context, event model.SaleEvent) error
}

type Dependencies struct {
	Verifier EventVerifier
	Tx       TxRunner
	Sales    SaleStore
	Payments PaymentStore
	Cache    EventCache
	Events   EventPublisher
	Logger   *zap.Logger
}

type WebhookResult struct {
	EventID    string
	EventType  string
	SaleID     string
	SaleStatus enums.SaleStatus
	PaymentID  string
	Handled    bool
	Idempotent bool
}

type Service struct {
	verifier EventVerifier
	tx       TxRunner
	sales    SaleStore
	payments PaymentStore
	cache    EventCache
	events   EventPublisher
	logger   *zap.Logger
	newID    func() string
	now      func() time.Time
}

func NewService(deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		verifier: deps.Verifier,
		tx:       deps.Tx,
		sales:    deps.Sales,
		payments: deps.Payments,
		cache:    deps.Cache,
		events:   deps.Events,
		logger:   logger,
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

// HandleWebhook verifies and applies one provider event. Redelivered events
// are detected and leave state untouched.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (WebhookResult, error) {
	if s.verifier == nil || s.tx == nil || s.sales == nil || s.payments == nil {
		return WebhookResult{}, fmt.Errorf("payments dependencies are not configured")
	}

	event, err := s.verifier.ParseEvent(payload, signatureHeader)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("unknown", "bad_signature").Inc()
		if errors.Is(err, ErrSignature) {
			return WebhookResult{}, err
		}
		return WebhookResult{}, fmt.Errorf("%w: %v", ErrSignature, err)
	}

	ctx, span := tracer.Start(ctx, "payments.HandleWebhook")
	defer span.End()
	span.SetAttributes(
		attribute.String("event_id", event.ID),
		attribute.String("event_type", event.Type),
		attribute.String("sale_id", event.SaleID),
	)

	base := WebhookResult{EventID: event.ID, EventType: event.Type, SaleID: event.SaleID}

	if s.cache != nil {
		seen, err := s.cache.Seen(ctx, event.ID)
		if err != nil {
			s.logger.Warn("webhook event cache read failed", zap.String("event_id", event.ID), zap.Error(err))
		} else if seen {
			metrics.WebhookEvents.WithLabelValues(event.Type, "duplicate").Inc()
			base.Handled = true
			base.Idempotent = true
			return base, nil
		}
	}

	var result WebhookResult
	switch event.Type {
	case EventPaymentSucceeded:
		result, err = s.applyPaymentSucceeded(ctx, event, base)
	case EventCheckoutCompleted:
		result, err = s.applyTransition(ctx, event, base, enums.SaleStatusPaymentProcessing, model.SaleUpdate{
			ProviderSessionID: event.SessionID,
		})
	case EventPaymentFailed:
		result, err = s.applyPaymentFailed(ctx, event, base)
	case EventCheckoutExpired:
		reason := event.FailureReason
		if reason == "" {
			reason = event.Type
		}
		result, err = s.applyTransition(ctx, event, base, enums.SaleStatusFailed, model.SaleUpdate{
			Metadata: map[string]any{"failure_reason": reason},
		})
	case EventChargeRefunded:
		result, err = s.applyRefund(ctx, event, base)
	default:
		metrics.WebhookEvents.WithLabelValues(event.Type, "ignored").Inc()
		return base, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "apply webhook event")
		metrics.WebhookEvents.WithLabelValues(event.Type, "error").Inc()
		s.logger.Error("apply webhook event failed",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
			zap.String("sale_id", event.SaleID),
			zap.Error(err),
		)
		return WebhookResult{}, err
	}

	outcome := "applied"
	switch {
	case !result.Handled:
		outcome = "ignored"
	case result.Idempotent:
		outcome = "duplicate"
	}
	metrics.WebhookEvents.WithLabelValues(event.Type, outcome).Inc()

	if s.cache != nil && result.Handled {
		if err := s.cache.Remember(ctx, event.ID); err != nil {
			s.logger.Warn("webhook event cache write failed", zap.String("event_id", event.ID), zap.Error(err))
		}
	}

	return result, nil
}

func (s *Service) applyPaymentSucceeded(ctx context.Context, event Event, result WebhookResult) (WebhookResult, error) {
	if event.SaleID == "" {
		s.logger.Debug("payment event without sale id ignored", zap.String("event_id", event.ID))
		return result, nil
	}
	if strings.TrimSpace(event.ProviderPaymentID) == "" {
		return WebhookResult{}, ErrValidation
	}

	var (
		sale    model.Sale
		changed bool
	)
	err := s.tx.WithinTx(ctx, func(txCtx context.Context, tx pgx.Tx) error {
		locked, err := s.sales.GetForUpdate(txCtx, tx, event.SaleID)
		if err != nil {
			if errors.Is(err, pgrepo.ErrSaleNotFound) {
				return ErrSaleNotFound
			}
			return fmt.Errorf("lock sale: %w", err)
		}

		if locked.Status == enums.SaleStatusFailed {
			s.logger.Warn("payment succeeded on failed sale",
				zap.String("sale_id", locked.ID),
				zap.String("provider_payment_id", event.ProviderPaymentID),
				zap.Any("failure_reason", locked.Metadata["failure_reason"]),
			)
		}

		now := s.now().UTC()
		amount := event.AmountMinor
		if amount <= 0 {
			amount = locked.AmountCents
		}
		if amount != locked.AmountCents {
			s.logger.Warn("provider amount differs from sale amount",
				zap.String("sale_id", locked.ID),
				zap.Int64("sale_amount_cents", locked.AmountCents),
				zap.Int64("provider_amount_cents", amount),
			)
		}
		currency := event.Currency
		if currency == "" {
			currency = locked.Currency
		}
		method := event.Method
		if method == "" {
			method = defaultPaymentMethod
		}

		payment, created, err := s.payments.InsertPaid(txCtx, tx, model.Payment{
			ID:                s.newID(),
			ProfessionalID:    locked.ProfessionalID,
			SaleID:            locked.ID,
			StudentID:         locked.StudentID,
			AmountCents:       amount,
			Currency:          currency,
			Method:            method,
			ProviderPaymentID: event.ProviderPaymentID,
			Description:       paymentDescription(locked),
			DueAt:             now,
			PaidAt:            &now,
		})
		if err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}
		if payment.SaleID != locked.ID {
			return fmt.Errorf("provider payment %s already belongs to sale %s", event.ProviderPaymentID, payment.SaleID)
		}
		result.PaymentID = payment.ID
		result.Idempotent = !created

		sale, changed, err = s.sales.Transition(txCtx, tx, locked.ID, enums.SaleStatusPaymentConfirmed, model.SaleUpdate{
			ProviderPaymentID: event.ProviderPaymentID,
		})
		if err != nil {
			return fmt.Errorf("confirm sale: %w", err)
		}
		return nil
	})
	if err != nil {
		return WebhookResult{}, err
	}

	result.Handled = true
	result.SaleStatus = sale.Status
	if changed {
		s.afterTransition(ctx, sale, "")
	}
	s.logger.Info("payment confirmed",
		zap.String("sale_id", sale.ID),
		zap.String("provider_payment_id", event.ProviderPaymentID),
		zap.String("status", string(sale.Status)),
		zap.Bool("idempotent", result.Idempotent),
	)
	return result, nil
}

// applyPaymentFailed records a declined attempt in last_payment_error without
// closing the sale. The buyer may retry in the same checkout session.
func (s *Service) applyPaymentFailed(ctx context.Context, event Event, result WebhookResult) (WebhookResult, error) {
	if event.SaleID == "" {
		return result, nil
	}
	reason := event.FailureReason
	if reason == "" {
		reason = event.Type
	}
	metadata := map[string]any{"last_payment_error": reason}

	var (
		sale    model.Sale
		changed bool
	)
	err := s.tx.WithinTx(ctx, func(txCtx context.Context, tx pgx.Tx) error {
		locked, err := s.sales.GetForUpdate(txCtx, tx, event.SaleID)
		if err != nil {
			if errors.Is(err, pgrepo.ErrSaleNotFound) {
				return ErrSaleNotFound
			}
			return fmt.Errorf("lock sale: %w", err)
		}
		sale = locked
		if locked.Status == enums.SaleStatusRefunded || locked.Status.Rank() >= enums.SaleStatusPaymentConfirmed.Rank() {
			return nil
		}

		sale, changed, err = s.sales.Transition(txCtx, tx, locked.ID, enums.SaleStatusPaymentProcessing, model.SaleUpdate{
			Metadata: metadata,
		})
		if err != nil {
			return fmt.Errorf("mark payment processing: %w", err)
		}
		if changed {
			return nil
		}
		sale, err = s.sales.MergeMetadata(txCtx, tx, locked.ID, metadata)
		if err != nil {
			return fmt.Errorf("record payment error: %w", err)
		}
		return nil
	})
	if err != nil {
		return WebhookResult{}, err
	}

	result.Handled = true
	result.Idempotent = !changed
	result.SaleStatus = sale.Status
	if changed {
		s.afterTransition(ctx, sale, reason)
	}
	s.logger.Info("payment attempt declined",
		zap.String("sale_id", sale.ID),
		zap.String("reason", reason),
		zap.String("status", string(sale.Status)),
	)
	return result, nil
}

func (s *Service) applyTransition(ctx context.Context, event Event, result WebhookResult, to enums.SaleStatus, update model.SaleUpdate) (WebhookResult, error) {
	if event.SaleID == "" {
		return result, nil
	}

	sale, changed, err := s.sales.Transition(ctx, nil, event.SaleID, to, update)
	if err != nil {
		if errors.Is(err, pgrepo.ErrSaleNotFound) {
			return WebhookResult{}, ErrSaleNotFound
		}
		return WebhookResult{}, fmt.Errorf("transition sale to %s: %w", to, err)
	}

	result.Handled = true
	result.Idempotent = !changed
	result.SaleStatus = sale.Status
	if changed {
		reason, _ := update.Metadata["failure_reason"].(string)
		s.afterTransition(ctx, sale, reason)
	}
	return result, nil
}

func (s *Service) applyRefund(ctx context.Context, event Event, result WebhookResult) (WebhookResult, error) {
	if strings.TrimSpace(event.ProviderPaymentID) == "" {
		return result, nil
	}

	var (
		sale    model.Sale
		changed bool
		known   = true
	)
	err := s.tx.WithinTx(ctx, func(txCtx context.Context, tx pgx.Tx) error {
		payment, _, err := s.payments.MarkRefunded(txCtx, tx, event.ProviderPaymentID)
		if err != nil {
			if errors.Is(err, pgrepo.ErrPaymentNotFound) {
				known = false
				return nil
			}
			return fmt.Errorf("mark payment refunded: %w", err)
		}
		result.PaymentID = payment.ID
		result.SaleID = payment.SaleID

		sale, changed, err = s.sales.Transition(txCtx, tx, payment.SaleID, enums.SaleStatusRefunded, model.SaleUpdate{})
		if err != nil {
			return fmt.Errorf("refund sale: %w", err)
		}
		return nil
	})
	if err != nil {
		return WebhookResult{}, err
	}
	if !known {
		s.logger.Warn("refund for unknown payment ignored", zap.String("provider_payment_id", event.ProviderPaymentID))
		return result, nil
	}

	result.Handled = true
	result.Idempotent = !changed
	result.SaleStatus = sale.Status
	if changed {
		s.afterTransition(ctx, sale, "refunded")
	}
	return result, nil
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

func paymentDescription(sale model.Sale) string {
	if name, ok := sale.Metadata["plan_name"].(string); ok && name != "" {
		return "Plan purchase: " + name
	}
	return "Plan purchase"
}
