// Package main is the entry point for the wallet service.
// It loads configuration, wires the ledger, funding and withdrawal services,
// starts the background workers and serves the HTTP API.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"kudi/internal/config"
	"kudi/internal/handlers"
	"kudi/internal/logger"
	"kudi/internal/metrics"
	"kudi/internal/middleware"
	"kudi/internal/repositories"
	"kudi/internal/repositories/cache"
	"kudi/internal/routes"
	"kudi/internal/services/bankaccount"
	"kudi/internal/services/funding"
	"kudi/internal/services/gateway/paystack"
	"kudi/internal/services/idempotency"
	"kudi/internal/services/ledger"
	"kudi/internal/services/withdrawal"
	"kudi/internal/worker"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	logger.SetLevel(cfg.App.LogLevel)
	if cfg.App.Env == "production" {
		logger.SetJSON()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// PostgreSQL
	db, err := repositories.InitDB(cfg.DB)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := repositories.Close(db); err != nil {
			logger.Errorf("Failed to close database connection: %v", err)
		}
	}()
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatalf("Failed to get database instance: %v", err)
	}

	// Redis
	rdb := cache.NewRedisClient(cfg.Redis)
	if err := cache.Ping(ctx, rdb); err != nil {
		logger.Fatalf("Failed to connect to Redis: %v", err)
	}
	cacheService := cache.NewCacheService(rdb, cfg.Redis.CacheTTL)
	defer func() {
		if err := cacheService.Close(); err != nil {
			logger.Errorf("Failed to close Redis connection: %v", err)
		}
	}()

	// Services
	m := metrics.New()
	store := repositories.NewStore(db)
	gw := paystack.NewClient(cfg.Paystack)
	guard := idempotency.NewGuard(store)
	ledgerSvc := ledger.NewService(store, cacheService, m)

	var dispatcher withdrawal.Dispatcher
	if cfg.Worker.Enabled {
		dispatcher = worker.NewWithdrawalQueue(rdb, cfg.Worker.Stream)
	}
	saga := withdrawal.NewSaga(store, ledgerSvc, guard, gw, dispatcher, withdrawal.Config{
		MinAmount:       cfg.Wallet.MinWithdrawal,
		Fees:            cfg.Wallet.FeeTiers,
		ProcessingGrace: cfg.Worker.ProcessingGrace,
	}, m)
	reconciler := funding.NewReconciler(store, ledgerSvc, guard, gw, saga, funding.Config{
		MinAmount:   cfg.Wallet.MinFunding,
		MaxAmount:   cfg.Wallet.MaxFunding,
		IntentTTL:   cfg.Wallet.FundingTTL,
		CallbackURL: cfg.Paystack.CallbackURL,
	}, m)
	accounts := bankaccount.NewService(store, gw)

	// Workers
	var wg sync.WaitGroup
	if cfg.Worker.Enabled {
		instance := cfg.App.Name + "-" + uuid.NewString()[:8]
		consumer := worker.NewWithdrawalWorker(rdb, saga, &worker.Options{
			Stream: cfg.Worker.Stream,
			Group:  cfg.Worker.Group,
		})
		for i := 0; i < cfg.Worker.Consumers; i++ {
			name := worker.ConsumerName(instance, i)
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := consumer.Run(ctx, name); err != nil {
					logger.Errorf("withdrawal consumer %s stopped: %v", name, err)
				}
			}()
		}

		sweeper := worker.NewSweeper(saga, reconciler, cfg.Worker.SweepInterval, m)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sweeper.Run(ctx)
		}()
		logger.Infof("Started %d withdrawal consumers as %s", cfg.Worker.Consumers, instance)
	}

	// HTTP
	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.App.CORSOrigins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowMethods:     "GET,POST,HEAD,PUT,DELETE,PATCH",
		AllowCredentials: true,
	}))
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use("/api/wallet/withdraw", limiter.New(limiter.Config{
		Next: func(c *fiber.Ctx) bool {
			return c.Method() != fiber.MethodPost || c.Path() != "/api/wallet/withdraw"
		},
		Max:        5,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests. Please try again later.",
			})
		},
	}))

	routes.SetupRoutes(app, routes.Handlers{
		Wallet:      handlers.NewWalletHandler(ledgerSvc),
		Funding:     handlers.NewFundingHandler(reconciler),
		Withdrawal:  handlers.NewWithdrawalHandler(saga),
		BankAccount: handlers.NewBankAccountHandler(accounts),
		Webhook:     handlers.NewWebhookHandler(reconciler),
		Health: handlers.NewHealthHandler(version, map[string]handlers.Check{
			"database": sqlDB.PingContext,
			"redis":    cacheService.HealthCheck,
		}),
		Admin:   handlers.NewAdminHandler(ledgerSvc, accounts, saga),
		Metrics: m.Handler(),
	}, middleware.NewAuthMiddleware(cfg.Auth.JWTSecret))

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logger.Errorf("HTTP shutdown: %v", err)
		}
	}()

	logger.Infof("Listening on :%s", cfg.App.Port)
	if err := app.Listen(":" + cfg.App.Port); err != nil {
		logger.Errorf("HTTP server stopped: %v", err)
	}

	stop()
	wg.Wait()
	logger.Info("Shutdown complete")
}
