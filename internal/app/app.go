package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/history"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/refund"
	"github.com/xenking/kart-checkout/internal/events"
	"github.com/xenking/kart-checkout/internal/gateway/paypal"
	"github.com/xenking/kart-checkout/internal/handler"
	"github.com/xenking/kart-checkout/internal/idempotency"
	"github.com/xenking/kart-checkout/internal/storage/postgres"
	"github.com/xenking/kart-checkout/pkg/health"
	"github.com/xenking/kart-checkout/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m httpmiddleware.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Repositories.
	userRepo := postgres.NewUserRepository(pool)
	productRepo := postgres.NewProductRepository(pool)
	cartRepo := postgres.NewCartRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	ledgerRepo := postgres.NewLedgerRepository(pool)
	refundRepo := postgres.NewRefundRequestRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	// Idempotency keys live in Redis when configured, else in PostgreSQL.
	var idem payment.Idempotency = postgres.NewIdempotencyRepository(pool)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return errors.Wrap(err, "ping redis")
		}
		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.RedisCheck(rdb))
		idem = idempotency.NewRedisStore(rdb, cfg.Redis.KeyPrefix)
		lg.Info("Using Redis idempotency store", zap.String("addr", cfg.Redis.Addr))
	}

	var publisher events.Publisher = events.NewLogPublisher(lg.Named("events"))
	if cfg.AMQP.URL != "" {
		amqpPub, err := events.NewAMQPPublisher(events.AMQPConfig{
			URL:      cfg.AMQP.URL,
			Exchange: cfg.AMQP.Exchange,
		})
		if err != nil {
			return errors.Wrap(err, "connect amqp")
		}
		defer func() {
			if err := amqpPub.Close(); err != nil {
				lg.Warn("Close AMQP publisher", zap.Error(err))
			}
		}()
		publisher = amqpPub
	}

	policy, err := cfg.Pricing.Policy()
	if err != nil {
		return errors.Wrap(err, "pricing policy")
	}

	// Domain services.
	cartSvc := cart.NewService(cartRepo, userRepo, productRepo)
	checkoutSvc := checkout.NewService(checkout.NewBuilder(policy, cfg.Pricing.MaxAddressLength), cartSvc, userRepo)
	factory := order.NewFactory(orderRepo, cartRepo, lg.Named("orders"))
	orderSvc := order.NewService(checkoutSvc, factory, publisher, lg.Named("orders"))
	refundSvc := refund.NewService(refundRepo, orderRepo, publisher, lg.Named("refunds"))
	historySvc := history.NewService(orderRepo, userRepo, ledgerRepo, refundRepo)

	gateway := paypal.New(cfg.Gateway, lg.Named("paypal"))
	paymentSvc, err := payment.NewService(payment.Deps{
		Gateway:        gateway,
		Ledger:         ledgerRepo,
		Orders:         orderRepo,
		Factory:        factory,
		Quotes:         checkoutSvc,
		Requests:       refundRepo,
		Idempotency:    idem,
		Events:         publisher,
		TracerProvider: m.TracerProvider(),
		MeterProvider:  m.MeterProvider(),
	}, payment.Config{
		Timeout:   cfg.Payment.Timeout,
		LockTTL:   cfg.Payment.LockTTL,
		ResultTTL: cfg.Payment.ResultTTL,
	}, lg.Named("payments"))
	if err != nil {
		return errors.Wrap(err, "create payment service")
	}

	h := handler.NewHandler(handler.HandlerConfig{ImageBaseURL: cfg.ImageBaseURL}, handler.Deps{
		Products: productRepo,
		Carts:    cartSvc,
		Quotes:   checkoutSvc,
		Orders:   orderSvc,
		Payments: paymentSvc,
		History:  historySvc,
		Refunds:  refundSvc,
	})
	securityHandler := handler.NewSecurityHandler(apikeyRepo, []byte(cfg.APIKeyPepper))

	// Route-aware middlewares sit inside the router so the matched pattern
	// is known once the request has been served.
	router := chi.NewRouter()
	router.Use(
		httpmiddleware.LogRequests(httpmiddleware.ChiRoute),
		httpmiddleware.Labeler(httpmiddleware.ChiRoute),
	)
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	router.Mount("/api", h.Routes(securityHandler))

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		// Captures may wait on the gateway for the whole payment timeout.
		WriteTimeout:   cfg.Payment.Timeout + 5*time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Addr:           cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", handler.APIKeyHeader},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:     cfg.RateLimit.Max,
				Window:  cfg.RateLimit.Window,
				KeyFunc: httpmiddleware.KeyOrIP(handler.APIKeyHeader),
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("checkout-api", httpmiddleware.ChiRoute, m),
		),
	}

	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
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
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
