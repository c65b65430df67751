package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	SalesCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sales_created_total",
			Help: "Number of sales opened by checkout",
		},
	)

	SaleTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sale_transitions_total",
			Help: "Number of applied sale status transitions",
		},
		[]string{"status"},
	)

	CheckoutProviderDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "checkout_provider_duration_seconds",
			Help:    "Time taken by the payment provider to open a checkout session, retries included",
			Buckets: prometheus.DefBuckets,
		},
	)

	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhook_events_total",
			Help: "Number of payment webhook events by type and outcome",
		},
		[]string{"type", "result"},
	)

	IntakeSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anamnese_submissions_total",
			Help: "Number of intake form submissions by outcome",
		},
		[]string{"result"},
	)

	StudentsUpserted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "students_upserted_total",
			Help: "Number of students resolved from intake responses",
		},
		[]string{"created"},
	)

	FormLinksSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anamnese_form_links_total",
			Help: "Number of intake form link deliveries by outcome",
		},
		[]string{"result"},
	)

	PhotoUploads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anamnese_photo_uploads_total",
			Help: "Number of intake photo uploads by outcome",
		},
		[]string{"result"},
	)

	ReconcileActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_actions_total",
			Help: "Number of rows touched by the reconcile job by action",
		},
		[]string{"action"},
	)

	RateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_rate_limited_total",
			Help: "Number of requests rejected by the rate limiter by scope",
		},
		[]string{"scope"},
	)
)

var registerOnce sync.Once

// Register adds the collectors to the default registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			SalesCreated,
			SaleTransitions,
			CheckoutProviderDuration,
			WebhookEvents,
			IntakeSubmissions,
			StudentsUpserted,
			FormLinksSent,
			PhotoUploads,
			ReconcileActions,
			RateLimited,
		)
	})
}
