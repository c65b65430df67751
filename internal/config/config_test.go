package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadUsesDefaultsAndYAMLOverrides(t *testing.T) {
	clearConfigEnv(t)

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	yaml := `
log:
  format: console
payments:
  retry_attempts: 5
  success_url: https://app.example.com/ok
anamnese:
  form_ttl: 72h
kafka:
  brokers: ["kafka-1:9092", "kafka-2:9092"]
rate_limit:
  checkout_per_minute: 7
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Log.Format != "console" {
		t.Fatalf("unexpected log format: %s", cfg.Log.Format)
	}
	if cfg.Payments.RetryAttempts != 5 || cfg.Payments.SuccessURL != "https://app.example.com/ok" {
		t.Fatalf("unexpected payments config: %+v", cfg.Payments)
	}
	if cfg.Anamnese.FormTTL != 72*time.Hour {
		t.Fatalf("unexpected form ttl: %s", cfg.Anamnese.FormTTL)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Fatalf("unexpected kafka brokers: %v", cfg.Kafka.Brokers)
	}
	if cfg.RateLimit.CheckoutPerMinute != 7 {
		t.Fatalf("unexpected checkout rate: %d", cfg.RateLimit.CheckoutPerMinute)
	}

	if cfg.Payments.RetryDelay != 200*time.Millisecond {
		t.Fatalf("retry_delay default should stay 200ms, got %s", cfg.Payments.RetryDelay)
	}
	if cfg.RateLimit.IntakePerMinute != 30 {
		t.Fatalf("intake rate default should stay 30, got %d", cfg.RateLimit.IntakePerMinute)
	}
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load config with missing file: %v", err)
	}

	if cfg.HTTP.Addr != ":8080" {
		t.Fatalf("unexpected default addr: %s", cfg.HTTP.Addr)
	}
	if cfg.Redis.WebhookEventTTL != 24*time.Hour {
		t.Fatalf("unexpected webhook event ttl: %s", cfg.Redis.WebhookEventTTL)
	}
	if cfg.Anamnese.FormTTL != 7*24*time.Hour {
		t.Fatalf("unexpected default form ttl: %s", cfg.Anamnese.FormTTL)
	}
	if len(cfg.Kafka.Brokers) != 0 {
		t.Fatalf("kafka must be disabled by default")
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_env")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")
	t.Setenv("OTEL_SAMPLER_RATIO", "0.5")
	t.Setenv("POSTGRES_AUTO_MIGRATE", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Payments.StripeWebhookSecret != "whsec_env" {
		t.Fatalf("unexpected webhook secret: %s", cfg.Payments.StripeWebhookSecret)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "b:9092" {
		t.Fatalf("unexpected brokers: %v", cfg.Kafka.Brokers)
	}
	if cfg.Tracing.SampleRatio != 0.5 || !cfg.Postgres.AutoMigrate {
		t.Fatalf("unexpected overrides: %+v %+v", cfg.Tracing, cfg.Postgres)
	}

	t.Setenv("ANAMNESE_FORM_TTL", "soon")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for malformed duration")
	}
}

func TestLoadRejectsDefaultSecretsInProduction(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("APP_ENV", "prod")

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error when secrets keep their defaults in production")
	}

	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STRIPE_SECRET_KEY", "sk_live_x")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_x")
	if _, err := Load(""); err != nil {
		t.Fatalf("expected production config to load, got %v", err)
	}
}

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APP_ENV",
		"HTTP_ADDR",
		"HTTP_READ_TIMEOUT",
		"HTTP_WRITE_TIMEOUT",
		"HTTP_IDLE_TIMEOUT",
		"LOG_LEVEL",
		"LOG_FORMAT",
		"POSTGRES_DSN",
		"POSTGRES_AUTO_MIGRATE",
		"REDIS_ADDR",
		"REDIS_PASSWORD",
		"REDIS_DB",
		"S3_ENDPOINT",
		"S3_ACCESS_KEY",
		"S3_SECRET_KEY",
		"S3_BUCKET",
		"S3_REGION",
		"S3_USE_SSL",
		"JWT_SECRET",
		"JWT_ISSUER",
		"JWT_ACCESS_TTL",
		"STRIPE_SECRET_KEY",
		"STRIPE_WEBHOOK_SECRET",
		"CHECKOUT_SUCCESS_URL",
		"CHECKOUT_CANCEL_URL",
		"ANAMNESE_PUBLIC_FORM_URL",
		"ANAMNESE_FORM_TTL",
		"RESEND_API_KEY",
		"EMAIL_FROM",
		"KAFKA_BROKERS",
		"KAFKA_TOPIC",
		"OTEL_ENABLED",
		"OTEL_EXPORTER_OTLP_ENDPOINT",
		"OTEL_EXPORTER_OTLP_HEADERS",
		"OTEL_EXPORTER_OTLP_INSECURE",
		"OTEL_SAMPLER_RATIO",
		"RECONCILE_INTERVAL",
	} {
		t.Setenv(key, "")
	}
}
