package apiapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/coachhub/backend/internal/config"
	"github.com/coachhub/backend/internal/domain/model"
	"github.com/coachhub/backend/internal/infra/email"
	"github.com/coachhub/backend/internal/infra/httpclient"
	kafkainfra "github.com/coachhub/backend/internal/infra/kafka"
	s3infra "github.com/coachhub/backend/internal/infra/s3"
	stripeinfra "github.com/coachhub/backend/internal/infra/stripe"
	"github.com/coachhub/backend/internal/infra/tracing"
	"github.com/coachhub/backend/internal/jobs/reconcile"
	"github.com/coachhub/backend/internal/metrics"
	"github.com/coachhub/backend/internal/repo/memory"
	pgrepo "github.com/coachhub/backend/internal/repo/postgres"
	redrepo "github.com/coachhub/backend/internal/repo/redis"
	anamnesesvc "github.com/coachhub/backend/internal/services/anamnese"
	authsvc "github.com/coachhub/backend/internal/services/auth"
	checkoutsvc "github.com/coachhub/backend/internal/services/checkout"
	mediasvc "github.com/coachhub/backend/internal/services/media"
	paymentsvc "github.com/coachhub/backend/internal/services/payments"
	ratesvc "github.com/coachhub/backend/internal/services/rate"
	salessvc "github.com/coachhub/backend/internal/services/sales"
	studentsvc "github.com/coachhub/backend/internal/services/students"
	"github.com/coachhub/backend/internal/transport/http/handlers"
)

type App struct {
	cfg            config.Config
	logger         *zap.Logger
	server         *http.Server
	postgres       *pgxpool.Pool
	redis          *goredis.Client
	publisher      *kafkainfra.Publisher
	reconciler     *reconcile.Job
	stopReconcile  context.CancelFunc
	shutdownTraces func(context.Context) error
	httpRouter     http.Handler
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}
	metrics.Register()

	shutdownTraces, err := tracing.Init(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Env,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		Headers:     tracing.ParseHeaders(cfg.Tracing.Headers),
		SampleRatio: cfg.Tracing.SampleRatio,
		Stdout:      cfg.Tracing.Stdout,
	}, log)
	if err != nil {
		log.Warn("tracing init failed, continuing without traces", zap.Error(err))
		shutdownTraces = func(context.Context) error { return nil }
	}

	var (
		pool   *pgxpool.Pool
		store  stores
		checks []handlers.HealthCheck
	)
	if strings.TrimSpace(cfg.Postgres.DSN) == "" {
		if cfg.IsProduction() {
			return nil, fmt.Errorf("postgres dsn is required in production")
		}
		log.Warn("postgres dsn is empty, using in-memory store")
		mem := memory.NewStore()
		seedDemoPlan(mem)
		store = memoryStores(mem)
	} else {
		p, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("postgres init: %w", err)
		}
		if cfg.Postgres.AutoMigrate {
			applied, err := pgrepo.Migrate(ctx, p)
			if err != nil {
				p.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
			log.Info("migrations applied", zap.Strings("versions", applied))
		}
		pool = p
		store = postgresStores(p)
		checks = append(checks, handlers.HealthCheck{Name: "postgres", Check: p.Ping})
	}

	var (
		redisClient *goredis.Client
		eventCache  paymentsvc.EventCache
		rateStore   ratesvc.WindowStore
	)
	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		redisClient = redrepo.NewClient(addr, cfg.Redis.Password, cfg.Redis.DB)
		eventCache = redrepo.NewEventCache(redisClient, cfg.Redis.WebhookEventTTL)
		rateStore = redrepo.NewRateRepo(redisClient)
		checks = append(checks, handlers.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}})
	} else {
		log.Warn("redis addr is empty, rate limiting and webhook event cache disabled")
	}

	var (
		publisher *kafkainfra.Publisher
		events    saleEventPublisher
	)
	if len(cfg.Kafka.Brokers) > 0 {
		p, err := kafkainfra.NewPublisher(kafkainfra.Config{
			Brokers:  cfg.Kafka.Brokers,
			Topic:    cfg.Kafka.Topic,
			Version:  cfg.Kafka.Version,
			ClientID: cfg.Kafka.ClientID,
		}, log)
		if err != nil {
			log.Warn("kafka init failed, sale events will not be published", zap.Error(err))
		} else {
			publisher = p
			events = p
		}
	}

	var sender email.Sender
	if strings.TrimSpace(cfg.Email.ResendAPIKey) != "" {
		sender = email.NewResendSender(cfg.Email.ResendAPIKey, cfg.Email.From, log)
	} else {
		log.Warn("resend api key is empty, form links are logged instead of sent")
		sender = email.NewNoopSender(log)
	}

	gateway := stripeinfra.New(stripeinfra.Config{
		SecretKey:     cfg.Payments.StripeSecretKey,
		WebhookSecret: cfg.Payments.StripeWebhookSecret,
		SuccessURL:    cfg.Payments.SuccessURL,
		CancelURL:     cfg.Payments.CancelURL,
	}, httpclient.New(cfg.Payments.ProviderTimeout))

	checkoutService := checkoutsvc.NewService(checkoutsvc.Dependencies{
		Plans:    store.plans,
		Sales:    store.sales,
		Provider: gateway,
		Events:   events,
		Logger:   log,
		Retry: checkoutsvc.RetryConfig{
			Attempts: uint(max(cfg.Payments.RetryAttempts, 0)),
			Delay:    cfg.Payments.RetryDelay,
			MaxDelay: cfg.Payments.RetryMaxDelay,
		},
	})
	paymentService := paymentsvc.NewService(paymentsvc.Dependencies{
		Verifier: gateway,
		Tx:       store.tx,
		Sales:    store.sales,
		Payments: store.payments,
		Cache:    eventCache,
		Events:   events,
		Logger:   log,
	})
	resolver := studentsvc.NewResolver(studentsvc.Dependencies{
		Students: store.students,
		Sales:    store.sales,
		Logger:   log,
	})
	anamneseService := anamnesesvc.NewService(anamnesesvc.Dependencies{
		Tx:        store.tx,
		Forms:     store.forms,
		Responses: store.responses,
		Sales:     store.sales,
		Resolver:  resolver,
		Notifier:  email.NewFormLinkNotifier(sender),
		Events:    events,
		Logger:    log,
		Config: anamnesesvc.Config{
			FormTTL:       cfg.Anamnese.FormTTL,
			PublicFormURL: cfg.Anamnese.PublicFormURL,
		},
	})
	var mediaService *mediasvc.Service
	if s3Client, err := s3infra.NewClient(s3infra.Config{
		Endpoint:  cfg.S3.Endpoint,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		Region:    cfg.S3.Region,
		UseSSL:    cfg.S3.UseSSL,
	}); err != nil {
		log.Warn("s3 init failed, photo uploads disabled", zap.Error(err))
	} else {
		mediaService = mediasvc.NewService(anamneseService, mediasvc.NewS3Storage(s3Client, cfg.S3.Bucket), log)
	}

	var photoSigner salessvc.PhotoSigner
	if mediaService != nil {
		photoSigner = mediaService
	}
	salesService := salessvc.NewService(salessvc.Dependencies{
		Sales:    store.sales,
		Payments: store.payments,
		Students: store.students,
		Photos:   photoSigner,
		Logger:   log,
	})

	var (
		checkoutLimiter *ratesvc.Limiter
		intakeLimiter   *ratesvc.Limiter
	)
	if rateStore != nil {
		checkoutLimiter = ratesvc.NewLimiter(rateStore, cfg.RateLimit.CheckoutPerMinute, cfg.RateLimit.CheckoutPer10Sec)
		intakeLimiter = ratesvc.NewLimiter(rateStore, cfg.RateLimit.IntakePerMinute, cfg.RateLimit.IntakePer10Sec)
	}

	r := chi.NewRouter()
	ApplyMiddlewares(r, log, cfg.HTTP.RequestTimeout)
	RegisterRoutes(r, Dependencies{
		CheckoutService: checkoutService,
		PaymentService:  paymentService,
		AnamneseService: anamneseService,
		MediaService:    mediaService,
		SalesService:    salesService,
		JWTManager:      authsvc.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.JWTAccessTTL),
		CheckoutLimiter: checkoutLimiter,
		IntakeLimiter:   intakeLimiter,
		HealthChecks:    checks,
		Logger:          log,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	reconciler := reconcile.New(store.sales, store.forms, anamneseService, reconcile.Config{
		StalePendingAfter: cfg.Reconcile.StalePendingAfter,
		IssueAfter:        cfg.Reconcile.IssueAfter,
		ResendAfter:       cfg.Reconcile.ResendAfter,
	}, log)

	return &App{
		cfg:            cfg,
		logger:         log,
		server:         server,
		postgres:       pool,
		redis:          redisClient,
		publisher:      publisher,
		reconciler:     reconciler,
		shutdownTraces: shutdownTraces,
		httpRouter:     r,
	}, nil
}

type saleEventPublisher interface {
	PublishSaleEvent(ctx context.Context, event model.SaleEvent) error
}

func (a *App) Run() error {
	if a.cfg.Reconcile.Interval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		a.stopReconcile = cancel
		go a.reconciler.Loop(ctx, a.cfg.Reconcile.Interval)
	}

	a.logger.Info("api server started", zap.String("addr", a.cfg.HTTP.Addr))
	err := a.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error

	if err := a.server.Shutdown(ctx); err != nil {
		shutdownErr = err
	}
	if a.stopReconcile != nil {
		a.stopReconcile()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil && shutdownErr == nil {
			shutdownErr = err
		}
	}
	if a.postgres != nil {
		a.postgres.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil && shutdownErr == nil {
			shutdownErr = err
		}
	}
	if a.shutdownTraces != nil {
		if err := a.shutdownTraces(ctx); err != nil && shutdownErr == nil {
			shutdownErr = err
		}
	}

	return shutdownErr
}

func (a *App) Handler() http.Handler {
	return a.httpRouter
}

// seedDemoPlan gives the in-memory store one plan so checkout works locally.
func seedDemoPlan(store *memory.Store) {
	store.AddPlan(model.Plan{
		ID:             "demo-plan",
		ProfessionalID: "demo-pro",
		Name:           "Demo coaching plan",
		PriceCents:     15000,
		Currency:       "BRL",
		DurationDays:   30,
		Active:         true,
	})
}
