package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5"
	"github.com/rs/cors"

	cfg "github.com/sand/netdisk-market-ledger/backend/config"
	"github.com/sand/netdisk-market-ledger/backend/internal/handlers"
	"github.com/sand/netdisk-market-ledger/backend/internal/notify"
	"github.com/sand/netdisk-market-ledger/backend/internal/usecases"
	"github.com/sand/netdisk-market-ledger/backend/internal/usecases/repository"
	"github.com/sand/netdisk-market-ledger/backend/internal/workers"
	"github.com/sand/netdisk-market-ledger/backend/pkg/database"
)

// Server timeout constants.
const (
	readTimeoutSeconds     = 15
	writeTimeoutSeconds    = 15
	idleTimeoutSeconds     = 60
	shutdownTimeoutSeconds = 5
)

func main() {
	time.Local = time.UTC

	config, err := cfg.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	opts := &slog.HandlerOptions{
		Level: config.Log.Level,
	}
	if config.App.Debug {
		opts.Level = slog.LevelDebug
	}

	ctx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	migrationsPath := "./migrations"
	if workDir, err := os.Getwd(); err == nil {
		if _, err := os.Stat(filepath.Join(workDir, "migrations")); !os.IsNotExist(err) {
			migrationsPath = filepath.Join(workDir, "migrations")
		} else if _, err := os.Stat(filepath.Join(workDir, "..", "migrations")); !os.IsNotExist(err) {
			migrationsPath = filepath.Join(workDir, "..", "migrations")
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, opts))
	logger.Info("Starting ledger with configuration",
		"environment", config.App.Environment,
		"debug", config.App.Debug,
		"server_port", config.HTTP.Port,
		"settlement_hold", config.Ledger.SettlementHold.String())

	pg, err := database.New(config,
		database.MaxPoolSize(config.DB.PoolMax),
		database.ConnTimeout(config.DB.ConnectTimeout),
		database.HealthCheckPeriod(config.DB.HealthCheckPeriod),
		database.Isolation(pgx.ReadCommitted),
	)
	if err != nil {
		slog.Error("postgres connection failed", slog.String("error", err.Error()))
		return
	}
	defer pg.Close()

	logger.Info("Running database migrations", "path", migrationsPath)
	if err = database.RunMigrations(logger, config.DB.DatabaseURL, migrationsPath); err != nil {
		logger.Error("Failed to run database migrations", "error", err)
		log.Fatal(err)
	}
	logger.Info("Database migrations completed successfully")

	// Repositories
	ordersRepository := repository.NewOrdersRepository(logger, pg)
	listingsRepository := repository.NewListingsRepository(logger, pg)
	paymentsRepository := repository.NewPaymentsRepository(logger, pg)
	walletsRepository := repository.NewWalletsRepository(logger, pg)
	refundsRepository := repository.NewRefundsRepository(logger, pg)
	payoutsRepository := repository.NewPayoutsRepository(logger, pg)
	reconciliationRepository := repository.NewReconciliationRepository(logger, pg)

	// External dispatcher
	notifier := notify.NewClient(logger, config.Notify.URL, config.Notify.Token)

	// Services
	walletService := usecases.NewWalletService(logger, walletsRepository, ordersRepository, pg.Transactor)
	orderService := usecases.NewOrderService(
		logger, ordersRepository, listingsRepository, paymentsRepository,
		walletService, pg.Transactor, notifier, config.Ledger.Currency,
	)
	refundService := usecases.NewRefundService(
		logger, refundsRepository, ordersRepository, walletService, pg.Transactor, notifier,
	)
	payoutService := usecases.NewPayoutService(
		logger, payoutsRepository, walletService, pg.Transactor, notifier,
	)
	reconciliationService := usecases.NewReconciliationService(
		logger, reconciliationRepository, config.Ledger.ReviewSLA,
	)

	// Handlers
	websocketManager := handlers.NewManager(logger)
	httpHandler := handlers.NewHTTPHandler(
		logger, orderService, refundService, payoutService, walletService, reconciliationService,
	)
	wsHandler := handlers.NewWebSocketHandler(logger, websocketManager)

	initAndRunWorkers(ctx, logger, config, orderService, walletService, reconciliationService, websocketManager)

	router := mux.NewRouter()

	// Register WebSocket routes before HTTP routes
	wsHandler.RegisterRoutes(router)
	httpHandler.RegisterRoutes(router)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-User-Id", "X-Admin-Id"},
		AllowCredentials: true,
	})

	server := &http.Server{
		Addr:         ":" + config.HTTP.Port,
		Handler:      c.Handler(router),
		ReadTimeout:  readTimeoutSeconds * time.Second,
		WriteTimeout: writeTimeoutSeconds * time.Second,
		IdleTimeout:  idleTimeoutSeconds * time.Second,
	}

	go func() {
		logger.Info("Starting server", "address", server.Addr)
		if err = server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err)
			log.Fatal(err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	stopWorkers()

	// Give 5 seconds to complete current requests
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeoutSeconds*time.Second)
	defer cancel()

	if err = server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
		return
	}

	logger.Info("Server exited properly")
}

func initAndRunWorkers(
	ctx context.Context,
	logger *slog.Logger,
	config *cfg.Config,
	orderService *usecases.OrderService,
	walletService *usecases.WalletService,
	reconciliationService *usecases.ReconciliationService,
	websocketManager *handlers.Manager,
) {
	orderExpirer := workers.NewOrderExpirer(
		logger,
		orderService,
		time.Duration(config.Workers.OrderExpiration)*time.Minute,
		time.Duration(config.Workers.OrderCleanInterval)*time.Minute,
	)

	settler := workers.NewSettler(
		logger,
		walletService,
		config.Ledger.SettlementHold,
		time.Duration(config.Workers.SettleInterval)*time.Minute,
	)

	reconciler := workers.NewReconciler(
		logger,
		reconciliationService,
		websocketManager,
		time.Duration(config.Workers.ReconcileInterval)*time.Minute,
	)

	go orderExpirer.Start(ctx)
	go settler.Start(ctx)
	go reconciler.Start(ctx)

	logger.Info("All workers initialized and started")
}
