package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/hanko-field/orders/internal/di"
	"github.com/hanko-field/orders/internal/handlers"
	"github.com/hanko-field/orders/internal/platform/auth"
	"github.com/hanko-field/orders/internal/platform/config"
	"github.com/hanko-field/orders/internal/platform/events"
	pfirestore "github.com/hanko-field/orders/internal/platform/firestore"
	"github.com/hanko-field/orders/internal/platform/idempotency"
	"github.com/hanko-field/orders/internal/platform/jobs"
	"github.com/hanko-field/orders/internal/platform/observability"
	"github.com/hanko-field/orders/internal/platform/ratelimit"
	"github.com/hanko-field/orders/internal/platform/secrets"
	"github.com/hanko-field/orders/internal/repositories"
	firestorerepo "github.com/hanko-field/orders/internal/repositories/firestore"
	"github.com/hanko-field/orders/internal/repositories/memory"
	"github.com/hanko-field/orders/internal/repositories/postgres"
)

const (
	firebaseVerifyTimeout = 5 * time.Second
	jwksFetchTimeout      = 5 * time.Second
	cleanupRunTimeout     = time.Minute
	rateLimitWindow       = time.Minute
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment values: %v\n", err)
		os.Exit(1)
	}

	baseLogger, err := observability.NewLogger(envValues["API_LOG_LEVEL"])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)
	eventLogger := observability.EventLogger(logger.Named("orders"))

	infra, rdb, err := buildInfrastructure(ctx, logger, cfg)
	if err != nil {
		logger.Fatal("failed to initialise infrastructure", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg, infra, di.WithLogger(eventLogger))
	if err != nil {
		_ = closeAll(infra.Closers)
		logger.Fatal("failed to build services", zap.Error(err))
	}
	defer func() {
		if err := container.Close(context.Background()); err != nil {
			logger.Warn("infrastructure close error", zap.Error(err))
		}
	}()
	svc := container.Services

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	cleanupTicker := time.NewTicker(cfg.Idempotency.CleanupInterval)
	cleanupWG.Add(1)
	go func() {
		defer cleanupWG.Done()
		cleanupLogger := logger.Named("idempotency")
		for {
			select {
			case <-cleanupTicker.C:
				runCtx, cancel := context.WithTimeout(cleanupCtx, cleanupRunTimeout)
				removed, err := svc.Guard.CleanupExpired(runCtx, cfg.Idempotency.CleanupBatchSize)
				cancel()
				if err != nil {
					cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
					continue
				}
				if removed > 0 {
					cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
				}
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase, firebaseVerifyTimeout)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier, "")

	cookies, err := auth.NewGuestCookies(cfg.Cookies)
	if err != nil {
		logger.Fatal("failed to initialise guest cookies", zap.Error(err))
	}
	if strings.TrimSpace(cfg.Cookies.HashKey) == "" {
		logger.Warn("cookie hash key not configured; guest sessions will not survive a restart")
	}

	jwks := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, &http.Client{Timeout: jwksFetchTimeout}, time.Now)
	oidcVerifier := auth.NewOIDCVerifier(cfg.Security.OIDC, jwks, time.Now)

	orderHandlers := handlers.NewOrderHandlers(svc.Orders,
		handlers.WithIdempotencyHeader(cfg.Idempotency.Header),
		handlers.WithReferralCookies(cookies),
	)
	checkoutHandlers := handlers.NewCheckoutHandlers(svc.Checkout)
	affiliateHandlers := handlers.NewAffiliateHandlers(svc.Affiliates, cookies)
	webhookHandlers := handlers.NewPaymentWebhookHandlers(svc.Reconciler)
	adminHandlers := handlers.NewAdminHandlers(svc.Lifecycle, svc.Affiliates, cfg.Pricing.Currency)
	internalHandlers := handlers.NewInternalHandlers(svc.Guard)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthProbe(svc.Health),
		handlers.WithHealthBuildInfo(buildInfo),
	)

	storefront := []func(http.Handler) http.Handler{
		authenticator.Authenticate(),
		cookies.ResolveOwner(),
	}

	projectID := traceProjectID(cfg)
	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.InjectLogger(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RequestLogger(),
			observability.Recovery(),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithRoutes(handlers.GroupOrders, orderHandlers.Routes),
		handlers.WithRoutes(handlers.GroupCheckout, checkoutHandlers.Routes),
		handlers.WithRoutes(handlers.GroupAffiliate, affiliateHandlers.Routes),
		handlers.WithRoutes(handlers.GroupPayments, webhookHandlers.Routes),
		handlers.WithRoutes(handlers.GroupAdmin, adminHandlers.Routes),
		handlers.WithRoutes(handlers.GroupInternal, internalHandlers.Routes),
		handlers.WithGroupMiddlewares([]handlers.Group{handlers.GroupOrders, handlers.GroupCheckout, handlers.GroupAffiliate}, storefront...),
		handlers.WithGroupMiddlewares([]handlers.Group{handlers.GroupOrders},
			ratelimit.Middleware("orders", newLimiter(rdb, cfg.RateLimits.OrdersPerMinute), ratelimit.ByOwner)),
		handlers.WithGroupMiddlewares([]handlers.Group{handlers.GroupCheckout, handlers.GroupAffiliate},
			ratelimit.Middleware("checkout", newLimiter(rdb, cfg.RateLimits.QuotesPerMinute), ratelimit.ByOwner)),
		handlers.WithGroupMiddlewares([]handlers.Group{handlers.GroupPayments},
			ratelimit.Middleware("webhooks", newLimiter(rdb, cfg.RateLimits.WebhooksPerMinute), ratelimit.ByClientIP)),
		handlers.WithGroupMiddlewares([]handlers.Group{handlers.GroupAdmin},
			authenticator.Authenticate(), auth.RequireRole(auth.RoleAdmin)),
		handlers.WithGroupMiddlewares([]handlers.Group{handlers.GroupInternal}, oidcVerifier.Require()),
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("order service listening", zap.String("version", buildInfo.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupTicker.Stop()
	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// buildInfrastructure opens the storage and messaging clients selected by configuration. The Redis
// client is returned separately because rate limiting shares it.
func buildInfrastructure(ctx context.Context, logger *zap.Logger, cfg config.Config) (di.Infrastructure, redis.UniversalClient, error) {
	var infra di.Infrastructure
	fail := func(err error) (di.Infrastructure, redis.UniversalClient, error) {
		_ = closeAll(infra.Closers)
		return di.Infrastructure{}, nil, err
	}

	var db *postgres.DB
	if dsn := strings.TrimSpace(cfg.Postgres.DSN); dsn != "" {
		pool, err := postgres.Connect(ctx, dsn, postgres.PoolConfig{
			MaxConns:       int32(cfg.Postgres.MaxConns),
			ConnectTimeout: cfg.Postgres.ConnectTimeout,
		})
		if err != nil {
			return fail(err)
		}
		infra.Closers = append(infra.Closers, func() error { pool.Close(); return nil })
		db = postgres.NewDB(pool)
		if cfg.Postgres.AutoMigrate {
			if err := postgres.Migrate(ctx, db); err != nil {
				return fail(err)
			}
		}
		infra.Orders = postgres.NewOrderRepository(db)
		infra.Inventory = postgres.NewInventoryRepository(db)
		infra.Affiliates = postgres.NewAffiliateRepository(db)
		infra.UnitOfWork = db
		infra.Checks = append(infra.Checks, repositories.DependencyCheck{Name: db.Name(), Check: db.Check})
	} else {
		logger.Warn("postgres dsn not configured; orders are kept in memory")
		infra.Orders = memory.NewOrderRepository()
		infra.Inventory = memory.NewInventoryRepository(nil)
		infra.Affiliates = memory.NewAffiliateRepository()
	}

	var rdb redis.UniversalClient
	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rdb = client
		infra.Closers = append(infra.Closers, client.Close)
		infra.Checks = append(infra.Checks, repositories.DependencyCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return client.Ping(ctx).Err() },
		})
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	infra.Closers = append(infra.Closers, firestoreProvider.Close)
	if collection := strings.TrimSpace(cfg.Firestore.CatalogCollection); collection != "" {
		infra.Catalog = firestorerepo.NewCatalogRepository(firestoreProvider, collection)
	}

	switch cfg.Idempotency.Backend {
	case config.IdempotencyBackendPostgres:
		if db == nil {
			return fail(errors.New("idempotency: postgres backend requires API_POSTGRES_DSN"))
		}
		infra.Idempotency = idempotency.NewPostgresStore(db.Pool())
	case config.IdempotencyBackendRedis:
		infra.Idempotency = idempotency.NewRedisStore(rdb)
	case config.IdempotencyBackendFirestore:
		client, err := firestoreProvider.Client(ctx)
		if err != nil {
			return fail(err)
		}
		infra.Idempotency = idempotency.NewFirestoreStore(client)
	default:
		infra.Idempotency = idempotency.NewMemoryStore()
	}

	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.OrderEventsTopic)
		if err != nil {
			return fail(err)
		}
		infra.Events = publisher
		infra.Closers = append(infra.Closers, publisher.Close)
	}

	if topicID := strings.TrimSpace(cfg.PubSub.NotificationTopic); topicID != "" {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID, pubsubClientOptions(cfg)...)
		if err != nil {
			return fail(fmt.Errorf("pubsub: create client: %w", err))
		}
		topic := client.Topic(topicID)
		infra.Closers = append(infra.Closers, func() error {
			topic.Stop()
			return client.Close()
		})
		notifier, err := jobs.NewPubSubNotificationPublisher(topic)
		if err != nil {
			return fail(err)
		}
		infra.Notifier = notifier
	} else {
		logger.Warn("notification topic not configured; order emails are disabled")
	}

	return infra, rdb, nil
}

func pubsubClientOptions(cfg config.Config) []option.ClientOption {
	if file := strings.TrimSpace(cfg.Firebase.CredentialsFile); file != "" {
		return []option.ClientOption{option.WithCredentialsFile(file)}
	}
	return nil
}

// newLimiter prefers the shared Redis window so limits hold across instances. A non-positive limit
// disables throttling for the group.
func newLimiter(rdb redis.UniversalClient, perMinute int) ratelimit.Limiter {
	if perMinute <= 0 {
		return nil
	}
	if rdb != nil {
		return ratelimit.NewRedisLimiter(rdb, perMinute, rateLimitWindow, time.Now)
	}
	return ratelimit.NewMemoryLimiter(perMinute, rateLimitWindow, time.Now)
}

func closeAll(closers []func() error) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if closers[i] == nil {
			continue
		}
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	project := lookup("API_SECRET_PROJECT_ID")
	if project == "" {
		project = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secrets that must resolve to a value. Provider secrets are only
// required once the provider is configured.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	if strings.TrimSpace(env["API_POSTGRES_DSN"]) != "" {
		required = append(required, "Postgres.DSN")
	}
	if strings.TrimSpace(env["API_PSP_STRIPE_WEBHOOK_SECRET"]) != "" {
		required = append(required, "Payments.StripeWebhookSecret")
	}
	if strings.TrimSpace(env["API_PSP_PAYPAL_CLIENT_ID"]) != "" {
		required = append(required, "Payments.PayPalSecret")
	}
	if strings.EqualFold(strings.TrimSpace(env["API_SECURITY_ENVIRONMENT"]), "prod") {
		required = append(required, "Cookies.HashKey")
	}
	return required
}
