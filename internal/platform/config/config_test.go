package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "hf-dev",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Firestore.ProjectID != "hf-dev" || cfg.PubSub.ProjectID != "hf-dev" {
		t.Errorf("expected firestore and pubsub projects to default to firebase project, got %q %q", cfg.Firestore.ProjectID, cfg.PubSub.ProjectID)
	}
	if cfg.Pricing.Currency != "USD" || cfg.Pricing.FreeShippingThresholdCents != 5000 || cfg.Pricing.FlatShippingCents != 500 || cfg.Pricing.TaxBasisPoints != 1000 {
		t.Errorf("unexpected pricing defaults: %+v", cfg.Pricing)
	}
	if cfg.Affiliate.CommissionPercent != 10 {
		t.Errorf("unexpected commission default: %v", cfg.Affiliate.CommissionPercent)
	}
	if cfg.Idempotency.Backend != IdempotencyBackendMemory {
		t.Errorf("expected memory idempotency without a database, got %s", cfg.Idempotency.Backend)
	}
	if cfg.Idempotency.TTL != 24*time.Hour || cfg.Idempotency.Header != "Idempotency-Key" {
		t.Errorf("unexpected idempotency defaults: %+v", cfg.Idempotency)
	}
	if len(cfg.Security.OIDC.Issuers) != 1 || cfg.Security.OIDC.Issuers[0] != defaultOIDCIssuer {
		t.Errorf("expected default issuer, got %v", cfg.Security.OIDC.Issuers)
	}
	if cfg.Notifications.MaxRetries != 3 {
		t.Errorf("unexpected notification retries: %d", cfg.Notifications.MaxRetries)
	}
	if len(cfg.Kafka.Brokers) != 0 {
		t.Errorf("expected no kafka brokers, got %v", cfg.Kafka.Brokers)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                  "9090",
		"API_FIREBASE_PROJECT_ID":          "hf-prod",
		"API_POSTGRES_DSN":                 "secret://orders/dsn",
		"API_REDIS_ADDR":                   "redis:6379",
		"API_KAFKA_BROKERS":                "kafka-1:9092, kafka-2:9092",
		"API_PSP_STRIPE_WEBHOOK_SECRET":    "sm://stripe/webhook",
		"API_PSP_PAYPAL_CLIENT_ID":         "paypal-client",
		"API_PSP_PAYPAL_SECRET":            "secret://paypal/secret",
		"API_PSP_PAYPAL_WEBHOOK_ID":        "WH-1",
		"API_PSP_PAYPAL_BASE_URL":          "https://api-m.sandbox.paypal.com/",
		"API_PRICING_TAX_BPS_BY_COUNTRY":   "jp=800, de=1900, bad, xx=-1",
		"API_AFFILIATE_COMMISSION_PERCENT": "12.5",
		"API_IDEMPOTENCY_BACKEND":          "Redis",
		"API_COOKIE_SECURE":                "false",
	}
	secrets := map[string]string{
		"secret://orders/dsn":     "postgres://orders@db/orders",
		"secret://stripe/webhook": "whsec_test",
		"secret://paypal/secret":  "paypal-secret",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", errors.New("unknown secret")
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("unexpected port %s", cfg.Server.Port)
	}
	if cfg.Postgres.DSN != "postgres://orders@db/orders" {
		t.Errorf("expected dsn secret to resolve, got %q", cfg.Postgres.DSN)
	}
	if cfg.Payments.StripeWebhookSecret != "whsec_test" {
		t.Errorf("expected sm:// reference to resolve, got %q", cfg.Payments.StripeWebhookSecret)
	}
	if cfg.Payments.PayPalBaseURL != "https://api-m.sandbox.paypal.com" {
		t.Errorf("expected trailing slash trimmed, got %q", cfg.Payments.PayPalBaseURL)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "kafka-2:9092" {
		t.Errorf("unexpected brokers %v", cfg.Kafka.Brokers)
	}
	if len(cfg.Pricing.TaxByCountry) != 2 || cfg.Pricing.TaxByCountry["JP"] != 800 || cfg.Pricing.TaxByCountry["DE"] != 1900 {
		t.Errorf("unexpected country rates %v", cfg.Pricing.TaxByCountry)
	}
	if cfg.Affiliate.CommissionPercent != 12.5 {
		t.Errorf("unexpected commission %v", cfg.Affiliate.CommissionPercent)
	}
	if cfg.Idempotency.Backend != IdempotencyBackendRedis {
		t.Errorf("unexpected backend %s", cfg.Idempotency.Backend)
	}
	if cfg.Cookies.Secure {
		t.Error("expected insecure cookies override")
	}
}

func TestLoadValidation(t *testing.T) {
	env := map[string]string{
		"API_IDEMPOTENCY_BACKEND":   "redis",
		"API_PRICING_CURRENCY":      "EURO",
		"API_PSP_PAYPAL_WEBHOOK_ID": "WH-1",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	want := map[string]bool{
		"Firebase.ProjectID":      true,
		"Pricing.Currency":        true,
		"Redis.Addr":              true,
		"Payments.PayPalClientID": true,
		"Payments.PayPalSecret":   true,
	}
	fields := verr.Fields()
	if len(fields) != len(want) {
		t.Fatalf("unexpected fields %v", fields)
	}
	for _, field := range fields {
		if !want[field] {
			t.Errorf("unexpected invalid field %s", field)
		}
	}
}

func TestLoadSecretWithoutResolver(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID":       "hf-dev",
		"API_PSP_STRIPE_WEBHOOK_SECRET": "secret://stripe/webhook",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var secretErr *SecretError
	if !errors.As(err, &secretErr) || !errors.Is(err, errSecretResolverNotConfigured) {
		t.Fatalf("expected secret error, got %v", err)
	}
	if secretErr.Ref != "secret://stripe/webhook" {
		t.Fatalf("unexpected ref %q", secretErr.Ref)
	}
}

func TestLoadRequiredSecrets(t *testing.T) {
	env := map[string]string{"API_FIREBASE_PROJECT_ID": "hf-dev"}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""),
		WithRequiredSecrets("Payments.StripeWebhookSecret", "Payments.StripeWebhookSecret"))
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected missing secrets error, got %v", err)
	}
	if names := missing.Names(); len(names) != 1 || names[0] != "Payments.StripeWebhookSecret" {
		t.Fatalf("unexpected names %v", names)
	}
	if redacted := missing.RedactedNames(); len(redacted) != 1 || redacted[0] == "Payments.StripeWebhookSecret" {
		t.Fatalf("expected redacted name, got %v", redacted)
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# local overrides\nAPI_FIREBASE_PROJECT_ID=from-dotenv\nexport API_SERVER_PORT=\"7070\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write dotenv: %v", err)
	}

	cfg, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(path),
		WithEnvMap(map[string]string{"API_SERVER_PORT": "6060"}))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Firebase.ProjectID != "from-dotenv" {
		t.Errorf("expected dotenv project, got %q", cfg.Firebase.ProjectID)
	}
	if cfg.Server.Port != "6060" {
		t.Errorf("expected explicit map to win over dotenv, got %q", cfg.Server.Port)
	}

	values, err := EnvironmentValues(WithoutSystemEnv(), WithEnvFile(path))
	if err != nil {
		t.Fatalf("EnvironmentValues: %v", err)
	}
	if values["API_SERVER_PORT"] != "7070" {
		t.Errorf("expected dotenv port, got %q", values["API_SERVER_PORT"])
	}
}

func TestLoadMissingDotEnvIsIgnored(t *testing.T) {
	_, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(filepath.Join(t.TempDir(), "missing.env")),
		WithEnvMap(map[string]string{"API_FIREBASE_PROJECT_ID": "hf-dev"}))
	if err != nil {
		t.Fatalf("expected missing dotenv to be ignored, got %v", err)
	}
}
