package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/kaanyurdkl/storefront/internal/cache"
	"github.com/kaanyurdkl/storefront/internal/catalog"
	"github.com/kaanyurdkl/storefront/internal/config"
	"github.com/kaanyurdkl/storefront/internal/httpapi"
	"github.com/kaanyurdkl/storefront/internal/identity"
	"github.com/kaanyurdkl/storefront/internal/orders"
	"github.com/kaanyurdkl/storefront/internal/publisher"
	"github.com/kaanyurdkl/storefront/internal/repository"
	"github.com/kaanyurdkl/storefront/internal/service"
	"github.com/kaanyurdkl/storefront/pkg/logger"
)

func main() {
	cfg := config.Load()

	zlog, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zlog.Sync()

	ctx := context.Background()

	// MongoDB: carts and the promotion catalog.
	mongoDB, err := repository.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		zlog.Fatal("failed to connect to MongoDB", zap.Error(err))
	}
	if err := repository.EnsureIndexes(ctx, mongoDB); err != nil {
		zlog.Fatal("failed to create indexes", zap.Error(err))
	}
	cartRepo := repository.NewMongoCartRepository(mongoDB)
	promoRepo := repository.NewMongoPromotionRepository(mongoDB)
	zlog.Info("connected to MongoDB", zap.String("uri", cfg.MongoURI))

	// Redis: cart read cache.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		zlog.Fatal("redis connection failed", zap.Error(err))
	}
	cartCache := cache.NewRedisCache(redisClient)

	// Postgres: the order archive.
	pgCred := &orders.Credentials{
		Host:              cfg.PostgresHost,
		Port:              cfg.PostgresPort,
		User:              cfg.PostgresUser,
		Password:          cfg.PostgresPassword,
		DBName:            cfg.PostgresDBName,
		MigrationsDirPath: cfg.MigrationsDirPath,
	}
	ordersRepo, err := orders.NewRepository(pgCred)
	if err != nil {
		zlog.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer ordersRepo.Close()
	if err := ordersRepo.RunMigrations(pgCred); err != nil {
		zlog.Fatal("failed to run migrations", zap.Error(err))
	}

	// Kafka: invalidation markers and conversion events.
	events := publisher.NewEvents(zlog, cfg.KafkaBrokers...)
	defer events.Close()

	catalogClient := catalog.NewClient(cfg.CatalogURL, cfg.RequestTimeout)

	cartService := service.NewCartService(cartRepo, cartCache, events, zlog, cfg.SessionTTL)
	pricingService := service.NewPricingService(cartRepo, promoRepo, catalogClient, zlog)
	checkoutService := service.NewCheckoutService(cartRepo, promoRepo, pricingService, ordersRepo, cartCache, events, zlog, cfg.Currency)

	resolver := identity.NewResolver([]byte(cfg.JWTSecret), cfg.SessionTTL)
	cartHandler := httpapi.NewCartHandler(cartService, cfg.RequestTimeout)
	checkoutHandler := httpapi.NewCheckoutHandler(checkoutService, pricingService, cfg.RequestTimeout)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(middleware.Compress(5))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(httpapi.IdentityMiddleware(resolver))

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", cartHandler.GetCart)
				r.Post("/items", cartHandler.AddItem)
				r.Post("/items/{sku}/increment", cartHandler.IncrementItem)
				r.Post("/items/{sku}/decrement", cartHandler.DecrementItem)
				r.Delete("/items/{sku}", cartHandler.RemoveItem)
				r.Post("/merge", cartHandler.Merge)
			})

			r.Route("/checkout", func(r chi.Router) {
				r.Post("/contact", checkoutHandler.SubmitContact)
				r.Post("/shipping", checkoutHandler.SubmitShipping)
				r.Post("/edit", checkoutHandler.EditStep)
				r.Get("/quote", checkoutHandler.Quote)
			})
		})

		// The payment collaborator's callback carries its own cart
		// reference; no shopper session is involved.
		r.Post("/payments/confirmation", checkoutHandler.PaymentConfirmed)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      otelhttp.NewHandler(r, "storefront"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		zlog.Info("storefront listening", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("shutting down storefront...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal("server forced to shutdown", zap.Error(err))
	}

	mongoDB.Client().Disconnect(ctx)
	zlog.Info("storefront stopped")
}
