package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/pos-checkout/internal/cache"
	"github.com/xenking/pos-checkout/internal/domain/auth"
	"github.com/xenking/pos-checkout/internal/domain/order"
	"github.com/xenking/pos-checkout/internal/domain/promotion"
	"github.com/xenking/pos-checkout/internal/events"
	"github.com/xenking/pos-checkout/internal/handler"
	"github.com/xenking/pos-checkout/internal/repository"
	"github.com/xenking/pos-checkout/pkg/health"
	"github.com/xenking/pos-checkout/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck("postgres", pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc_pause", time.Second, health.GCMaxPauseCheck(time.Second))

	// Repositories.
	productRepo := repository.NewProductRepository(pool)
	promotionRepo := repository.NewPromotionRepository(pool)
	orderStore := repository.NewOrderStore(pool)
	apikeyRepo := repository.NewAPIKeyRepository(pool)

	// Optional Redis: idempotent checkout and status cache.
	var (
		idem        order.Idempotency
		statusCache order.StatusCache
		publishers  order.Publishers
	)
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = client.Close() }()

		rc := cache.New(client, cache.Options{
			IdempotencyTTL: cfg.Redis.IdempotencyTTL,
			StatusTTL:      cfg.Redis.StatusTTL,
		})
		idem, statusCache = rc, rc
		publishers = append(publishers, rc)
		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.PingCheck("redis", rc))
		lg.Info("Redis enabled", zap.String("addr", cfg.Redis.Addr))
	}

	// Optional Kafka: order lifecycle events.
	var publisher *events.Publisher
	if brokers := nonEmpty(cfg.Kafka.Brokers); len(brokers) > 0 {
		publisher, err = events.New(events.Config{
			Brokers:    brokers,
			Topic:      cfg.Kafka.Topic,
			BufferSize: cfg.Kafka.BufferSize,
		}, lg.Named("events"), m.MeterProvider())
		if err != nil {
			return errors.Wrap(err, "create event publisher")
		}
		publishers = append(publishers, publisher)
		lg.Info("Kafka events enabled", zap.Strings("brokers", brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	// Domain services.
	resolver := promotion.NewResolver(promotionRepo)
	checkoutSvc := order.NewCheckoutService(orderStore, resolver, idem, publishers, order.CheckoutPolicy{
		AllowNegativeStock: cfg.Checkout.AllowNegativeStock,
		ResolvePromotions:  cfg.Checkout.ResolvePromotions,
	})
	fulfillmentSvc := order.NewFulfillmentService(orderStore, apikeyRepo, statusCache, publishers, order.FulfillmentPolicy{
		RestockOnCancel: cfg.Checkout.RestockOnCancel,
	})
	historySvc := order.NewHistoryService(orderStore)

	// HTTP handlers.
	var tokens handler.TokenIssuer
	if cfg.TokenSecret != "" {
		tokens = auth.NewTokens([]byte(cfg.TokenSecret), cfg.TokenTTL)
	} else {
		lg.Warn("POS_TOKEN_SECRET is not set, bearer sessions are disabled")
	}
	h, err := handler.New(handler.Deps{
		Products:      productRepo,
		Prices:        resolver,
		Checkout:      checkoutSvc,
		Fulfillment:   fulfillmentSvc,
		History:       historySvc,
		Auth:          handler.NewAuthenticator(apikeyRepo, []byte(cfg.APIKeyPepper), tokens),
		MeterProvider: m.MeterProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create handler")
	}

	// Router: health endpoints + API routes on one server.
	router := h.Router()
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	routeFinder := httpmiddleware.MakeRouteFinder(router)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", "api_key", "Idempotency-Key"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:     cfg.RateLimit.Max,
				Window:  cfg.RateLimit.Window,
				KeyFunc: httpmiddleware.CredentialKey,
				Skip:    httpmiddleware.SkipPaths("/livez", "/readyz"),
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("pos-api", routeFinder, m),
			httpmiddleware.LogRequests(routeFinder),
			httpmiddleware.Labeler(routeFinder),
		),
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Events outlive the server so requests drained during shutdown still publish.
	eventsCtx, stopEvents := context.WithCancel(context.Background())
	defer stopEvents()

	g, gCtx := errgroup.WithContext(ctx)
	if publisher != nil {
		g.Go(func() error {
			return publisher.Run(eventsCtx)
		})
	}
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	// Graceful shutdown: wait for cancellation, drain, then stop.
	g.Go(func() error {
		defer stopEvents()
		<-gCtx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})

	return g.Wait()
}

func nonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
