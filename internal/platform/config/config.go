package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile      = ".env"
	defaultPort         = "8080"
	defaultReadTimeout  = 15 * time.Second
	defaultWriteTimeout = 30 * time.Second
	defaultIdleTimeout  = 120 * time.Second
	defaultShutdown     = 20 * time.Second

	defaultPostgresMaxConns   = 8
	defaultPostgresConnectTTL = 5 * time.Second

	defaultOrderEventsTopic = "orders.events"
	defaultCatalogColl      = "products"

	defaultCurrency          = "USD"
	defaultFreeShippingCents = 5000
	defaultFlatShippingCents = 500
	defaultTaxBasisPoints    = 1000

	defaultStripeTolerance = 5 * time.Minute
	defaultPayPalBaseURL   = "https://api-m.paypal.com"
	defaultPSPTimeout      = 10 * time.Second

	defaultGuestCookie    = "hf_guest"
	defaultReferralCookie = "hf_ref"
	defaultCookieMaxAge   = 30 * 24 * time.Hour

	defaultOrdersPerMinute   = 30
	defaultWebhooksPerMinute = 600
	defaultQuotesPerMinute   = 120

	defaultSecurityEnvironment = "local"
	defaultOIDCJWKSURL         = "https://www.googleapis.com/oauth2/v3/certs"
	defaultOIDCIssuer          = "https://accounts.google.com"

	defaultIdempotencyHeader   = "Idempotency-Key"
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultIdempotencyInterval = time.Hour
	defaultIdempotencyBatch    = 200
	defaultIdempotencyBackend  = IdempotencyBackendPostgres

	defaultNotifyRetries  = 3
	defaultNotifyInitial  = 200 * time.Millisecond
	defaultNotifyMax      = 2 * time.Second
	defaultNotifyTimeout  = 5 * time.Second
	defaultDrainTimeout   = 10 * time.Second
	defaultCommissionRate = 10.0
)

// Idempotency store backends.
const (
	IdempotencyBackendPostgres  = "postgres"
	IdempotencyBackendFirestore = "firestore"
	IdempotencyBackendRedis     = "redis"
	IdempotencyBackendMemory    = "memory"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server        ServerConfig
	Firebase      FirebaseConfig
	Firestore     FirestoreConfig
	Postgres      PostgresConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	PubSub        PubSubConfig
	Payments      PaymentsConfig
	Pricing       PricingConfig
	Affiliate     AffiliateConfig
	Cookies       CookieConfig
	RateLimits    RateLimitConfig
	Security      SecurityConfig
	Idempotency   IdempotencyConfig
	Notifications NotificationConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// FirebaseConfig stores Firebase project settings used for ID token verification.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig locates the product catalog.
type FirestoreConfig struct {
	ProjectID         string
	EmulatorHost      string
	CatalogCollection string
}

// PostgresConfig configures the order database. An empty DSN selects the in-memory repositories.
type PostgresConfig struct {
	DSN            string
	MaxConns       int
	ConnectTimeout time.Duration
	AutoMigrate    bool
}

// RedisConfig configures the shared Redis used for rate limiting and optionally idempotency.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// KafkaConfig configures order domain event publishing.
type KafkaConfig struct {
	Brokers          []string
	OrderEventsTopic string
}

// PubSubConfig configures the notification job topic consumed by the email collaborator.
type PubSubConfig struct {
	ProjectID         string
	NotificationTopic string
}

// PaymentsConfig collects payment provider webhook credentials.
type PaymentsConfig struct {
	StripeWebhookSecret string
	StripeTolerance     time.Duration
	PayPalClientID      string
	PayPalSecret        string
	PayPalWebhookID     string
	PayPalBaseURL       string
	ProviderTimeout     time.Duration
}

// PricingConfig drives shipping and tax computation.
type PricingConfig struct {
	Currency                   string
	FreeShippingThresholdCents int64
	FlatShippingCents          int64
	TaxBasisPoints             int64
	TaxByCountry               map[string]int64
}

// AffiliateConfig sets the commission rate applied at attribution time.
type AffiliateConfig struct {
	CommissionPercent float64
}

// CookieConfig configures the signed guest and referral cookies.
type CookieConfig struct {
	HashKey        string
	BlockKey       string
	GuestName      string
	ReferralName   string
	Secure         bool
	MaxAge         time.Duration
	ReferralMaxAge time.Duration
}

// RateLimitConfig controls request throttling per client.
type RateLimitConfig struct {
	OrdersPerMinute   int
	WebhooksPerMinute int
	QuotesPerMinute   int
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification for internal endpoints.
type OIDCConfig struct {
	JWKSURL  string
	Audience string
	Issuers  []string
}

// IdempotencyConfig controls idempotency storage and retention.
type IdempotencyConfig struct {
	Header           string
	Backend          string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// NotificationConfig bounds notification retries. Detached moves every post-commit side effect off
// the request path; shutdown then waits up to DrainTimeout for them.
type NotificationConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Timeout         time.Duration
	Detached        bool
	DrainTimeout    time.Duration
}

// SecretResolver resolves secret:// references.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret implements SecretResolver.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError lists the configuration fields that are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the offending field names.
func (e *ValidationError) Fields() []string {
	return slices.Clone(e.fields)
}

// SecretError describes a failure while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError reports required secrets that resolved to empty values. Names are redacted in
// the message so logs never carry them.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// Names returns the field names of the missing secrets.
func (e *MissingSecretsError) Names() []string {
	return slices.Sorted(slices.Values(e.names))
}

// RedactedNames returns stable digests of the missing secret names.
func (e *MissingSecretsError) RedactedNames() []string {
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		sum := sha256.Sum256([]byte(name))
		out = append(out, hex.EncodeToString(sum[:8]))
	}
	slices.Sort(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the dotenv file used for local overrides. An empty path disables it.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap injects explicit values that take precedence over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets marks secret fields (e.g. "Payments.StripeWebhookSecret") as mandatory.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

// env is the merged variable source: explicit map, then process environment, then dotenv.
type env struct {
	lookup func(string) (string, bool)
}

// Load assembles configuration from defaults, the dotenv file, the environment and Secret Manager.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		opt(&options)
	}

	dotenv, err := readDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}
	e := env{lookup: func(key string) (string, bool) {
		if v, ok := options.envMap[key]; ok {
			return v, true
		}
		if options.useSystemEnv {
			if v, ok := os.LookupEnv(key); ok {
				return v, true
			}
		}
		v, ok := dotenv[key]
		return v, ok
	}}

	cfg := Config{
		Server: ServerConfig{
			Port:            e.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:     e.dur("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    e.dur("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     e.dur("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: e.dur("API_SERVER_SHUTDOWN_TIMEOUT", defaultShutdown),
		},
		Firebase: FirebaseConfig{
			ProjectID:       e.str("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: e.str("API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:         e.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost:      e.str("API_FIRESTORE_EMULATOR_HOST", ""),
			CatalogCollection: e.str("API_FIRESTORE_CATALOG_COLLECTION", defaultCatalogColl),
		},
		Postgres: PostgresConfig{
			DSN:            e.str("API_POSTGRES_DSN", ""),
			MaxConns:       e.int("API_POSTGRES_MAX_CONNS", defaultPostgresMaxConns),
			ConnectTimeout: e.dur("API_POSTGRES_CONNECT_TIMEOUT", defaultPostgresConnectTTL),
			AutoMigrate:    e.bool("API_POSTGRES_AUTO_MIGRATE", false),
		},
		Redis: RedisConfig{
			Addr:     e.str("API_REDIS_ADDR", ""),
			Password: e.str("API_REDIS_PASSWORD", ""),
			DB:       e.int("API_REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:          e.csv("API_KAFKA_BROKERS"),
			OrderEventsTopic: e.str("API_KAFKA_ORDER_EVENTS_TOPIC", defaultOrderEventsTopic),
		},
		PubSub: PubSubConfig{
			ProjectID:         e.str("API_PUBSUB_PROJECT_ID", ""),
			NotificationTopic: e.str("API_PUBSUB_NOTIFICATION_TOPIC", ""),
		},
		Payments: PaymentsConfig{
			StripeWebhookSecret: e.str("API_PSP_STRIPE_WEBHOOK_SECRET", ""),
			StripeTolerance:     e.dur("API_PSP_STRIPE_TOLERANCE", defaultStripeTolerance),
			PayPalClientID:      e.str("API_PSP_PAYPAL_CLIENT_ID", ""),
			PayPalSecret:        e.str("API_PSP_PAYPAL_SECRET", ""),
			PayPalWebhookID:     e.str("API_PSP_PAYPAL_WEBHOOK_ID", ""),
			PayPalBaseURL:       strings.TrimRight(e.str("API_PSP_PAYPAL_BASE_URL", defaultPayPalBaseURL), "/"),
			ProviderTimeout:     e.dur("API_PSP_TIMEOUT", defaultPSPTimeout),
		},
		Pricing: PricingConfig{
			Currency:                   strings.ToUpper(e.str("API_PRICING_CURRENCY", defaultCurrency)),
			FreeShippingThresholdCents: e.int64("API_PRICING_FREE_SHIPPING_CENTS", defaultFreeShippingCents),
			FlatShippingCents:          e.int64("API_PRICING_FLAT_SHIPPING_CENTS", defaultFlatShippingCents),
			TaxBasisPoints:             e.int64("API_PRICING_TAX_BPS", defaultTaxBasisPoints),
			TaxByCountry:               e.rates("API_PRICING_TAX_BPS_BY_COUNTRY"),
		},
		Affiliate: AffiliateConfig{
			CommissionPercent: e.float("API_AFFILIATE_COMMISSION_PERCENT", defaultCommissionRate),
		},
		Cookies: CookieConfig{
			HashKey:        e.str("API_COOKIE_HASH_KEY", ""),
			BlockKey:       e.str("API_COOKIE_BLOCK_KEY", ""),
			GuestName:      e.str("API_COOKIE_GUEST_NAME", defaultGuestCookie),
			ReferralName:   e.str("API_COOKIE_REFERRAL_NAME", defaultReferralCookie),
			Secure:         e.bool("API_COOKIE_SECURE", true),
			MaxAge:         e.dur("API_COOKIE_MAX_AGE", defaultCookieMaxAge),
			ReferralMaxAge: e.dur("API_COOKIE_REFERRAL_MAX_AGE", defaultCookieMaxAge),
		},
		RateLimits: RateLimitConfig{
			OrdersPerMinute:   e.int("API_RATELIMIT_ORDERS_PER_MIN", defaultOrdersPerMinute),
			WebhooksPerMinute: e.int("API_RATELIMIT_WEBHOOKS_PER_MIN", defaultWebhooksPerMinute),
			QuotesPerMinute:   e.int("API_RATELIMIT_QUOTES_PER_MIN", defaultQuotesPerMinute),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(e.str("API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			OIDC: OIDCConfig{
				JWKSURL:  e.str("API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience: e.str("API_SECURITY_OIDC_AUDIENCE", ""),
				Issuers:  e.csv("API_SECURITY_OIDC_ISSUERS"),
			},
		},
		Idempotency: IdempotencyConfig{
			Header:           e.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			Backend:          strings.ToLower(e.str("API_IDEMPOTENCY_BACKEND", defaultIdempotencyBackend)),
			TTL:              e.dur("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  e.dur("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: e.int("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatch),
		},
		Notifications: NotificationConfig{
			MaxRetries:      e.int("API_NOTIFY_MAX_RETRIES", defaultNotifyRetries),
			InitialInterval: e.dur("API_NOTIFY_INITIAL_INTERVAL", defaultNotifyInitial),
			MaxInterval:     e.dur("API_NOTIFY_MAX_INTERVAL", defaultNotifyMax),
			Timeout:         e.dur("API_NOTIFY_TIMEOUT", defaultNotifyTimeout),
			Detached:        e.bool("API_SIDE_EFFECTS_DETACHED", false),
			DrainTimeout:    e.dur("API_SIDE_EFFECTS_DRAIN_TIMEOUT", defaultDrainTimeout),
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firebase.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultOIDCIssuer}
	}
	if cfg.Postgres.DSN == "" && cfg.Idempotency.Backend == IdempotencyBackendPostgres {
		cfg.Idempotency.Backend = IdempotencyBackendMemory
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Postgres.DSN", &cfg.Postgres.DSN},
		{"Redis.Password", &cfg.Redis.Password},
		{"Payments.StripeWebhookSecret", &cfg.Payments.StripeWebhookSecret},
		{"Payments.PayPalSecret", &cfg.Payments.PayPalSecret},
		{"Cookies.HashKey", &cfg.Cookies.HashKey},
		{"Cookies.BlockKey", &cfg.Cookies.BlockKey},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}

	var missing []string
	for _, name := range options.requiredSecrets {
		name = strings.TrimSpace(name)
		if name == "" || slices.Contains(missing, name) {
			continue
		}
		if resolved[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return Config{}, &MissingSecretsError{names: missing}
	}

	return cfg, nil
}

func validate(cfg Config) error {
	var invalid []string
	check := func(ok bool, field string) {
		if !ok {
			invalid = append(invalid, field)
		}
	}

	check(cfg.Server.Port != "", "Server.Port")
	check(cfg.Firebase.ProjectID != "", "Firebase.ProjectID")
	check(len(cfg.Pricing.Currency) == 3, "Pricing.Currency")
	check(cfg.Pricing.FreeShippingThresholdCents >= 0, "Pricing.FreeShippingThresholdCents")
	check(cfg.Pricing.FlatShippingCents >= 0, "Pricing.FlatShippingCents")
	check(cfg.Pricing.TaxBasisPoints >= 0, "Pricing.TaxBasisPoints")
	check(cfg.Postgres.MaxConns > 0, "Postgres.MaxConns")
	check(strings.TrimSpace(cfg.Idempotency.Header) != "", "Idempotency.Header")
	check(cfg.Idempotency.TTL > 0, "Idempotency.TTL")
	check(cfg.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	check(cfg.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")
	check(cfg.Notifications.MaxRetries >= 0, "Notifications.MaxRetries")

	switch cfg.Idempotency.Backend {
	case IdempotencyBackendPostgres, IdempotencyBackendFirestore, IdempotencyBackendMemory:
	case IdempotencyBackendRedis:
		check(cfg.Redis.Addr != "", "Redis.Addr")
	default:
		invalid = append(invalid, "Idempotency.Backend")
	}

	if cfg.Payments.PayPalWebhookID != "" {
		check(cfg.Payments.PayPalClientID != "", "Payments.PayPalClientID")
		check(cfg.Payments.PayPalSecret != "", "Payments.PayPalSecret")
	}

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "secret://") && !strings.HasPrefix(trimmed, "sm://") {
		return value, nil
	}
	ref := "secret://" + strings.TrimPrefix(strings.TrimPrefix(trimmed, "sm://"), "secret://")
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

// EnvironmentValues returns the merged variables (dotenv < process environment < explicit map) so
// callers can build dependencies such as the secret fetcher before calling Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		opt(&options)
	}
	values, err := readDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = make(map[string]string)
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			if key, value, ok := strings.Cut(entry, "="); ok && strings.TrimSpace(key) != "" {
				values[key] = value
			}
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return values, nil
}

func (e env) raw(key string) (string, bool) {
	value, ok := e.lookup(key)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

func (e env) str(key, fallback string) string {
	if value, ok := e.raw(key); ok {
		return value
	}
	return fallback
}

func (e env) dur(key string, fallback time.Duration) time.Duration {
	if value, ok := e.raw(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func (e env) int(key string, fallback int) int {
	if value, ok := e.raw(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func (e env) int64(key string, fallback int64) int64 {
	if value, ok := e.raw(key); ok {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func (e env) float(key string, fallback float64) float64 {
	if value, ok := e.raw(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func (e env) bool(key string, fallback bool) bool {
	if value, ok := e.raw(key); ok {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func (e env) csv(key string) []string {
	value, ok := e.raw(key)
	if !ok {
		return []string{}
	}
	out := make([]string, 0)
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// rates parses "JP=800,DE=1900" into upper-cased country keys. Malformed entries are skipped.
func (e env) rates(key string) map[string]int64 {
	out := make(map[string]int64)
	for _, entry := range e.csv(key) {
		country, raw, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		bps, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		country = strings.ToUpper(strings.TrimSpace(country))
		if err != nil || bps < 0 || country == "" {
			continue
		}
		out[country] = bps
	}
	return out
}
