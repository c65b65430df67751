package apiapp

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	anamnesesvc "github.com/coachhub/backend/internal/services/anamnese"
	authsvc "github.com/coachhub/backend/internal/services/auth"
	checkoutsvc "github.com/coachhub/backend/internal/services/checkout"
	mediasvc "github.com/coachhub/backend/internal/services/media"
	paymentsvc "github.com/coachhub/backend/internal/services/payments"
	ratesvc "github.com/coachhub/backend/internal/services/rate"
	salessvc "github.com/coachhub/backend/internal/services/sales"
	"github.com/coachhub/backend/internal/transport/http/handlers"
)

const (
	scopeCheckout = "checkout"
	scopeIntake   = "intake"
)

type Dependencies struct {
	CheckoutService *checkoutsvc.Service
	PaymentService  *paymentsvc.Service
	AnamneseService *anamnesesvc.Service
	MediaService    *mediasvc.Service
	SalesService    *salessvc.Service
	JWTManager      *authsvc.JWTManager
	CheckoutLimiter *ratesvc.Limiter
	IntakeLimiter   *ratesvc.Limiter
	HealthChecks    []handlers.HealthCheck
	Logger          *zap.Logger
}

func RegisterRoutes(r chi.Router, deps Dependencies) {
	healthHandler := handlers.NewHealthHandler(deps.HealthChecks...)
	checkoutHandler := handlers.NewCheckoutHandler(deps.CheckoutService, deps.Logger)
	webhookHandler := handlers.NewWebhookHandler(deps.PaymentService, deps.Logger)
	anamneseHandler := handlers.NewAnamneseHandler(deps.AnamneseService, deps.MediaService, deps.Logger)
	salesHandler := handlers.NewSalesHandler(deps.SalesService, deps.AnamneseService, deps.Logger)

	authMW := AuthMiddleware(deps.JWTManager, deps.Logger)
	checkoutRateMW := RateLimitMiddleware(deps.CheckoutLimiter, scopeCheckout, deps.Logger)
	intakeRateMW := RateLimitMiddleware(deps.IntakeLimiter, scopeIntake, deps.Logger)

	r.Get("/healthz", healthHandler.Get)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.With(checkoutRateMW).Post("/checkout/sessions", checkoutHandler.Create)
		r.Post("/payments/webhook", webhookHandler.Handle)

		r.Route("/anamnese", func(r chi.Router) {
			r.Get("/forms/{token}", anamneseHandler.GetForm)
			r.With(intakeRateMW).Post("/submit", anamneseHandler.Submit)
			r.With(intakeRateMW).Post("/forms/{token}/photos", anamneseHandler.UploadPhoto)
		})

		r.Route("/sales", func(r chi.Router) {
			r.Use(authMW)
			r.Get("/", salesHandler.List)
			r.Get("/{id}", salesHandler.Get)
			r.Post("/{id}/anamnese", salesHandler.IssueForm)
		})
	})
}
