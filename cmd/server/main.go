package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"reconciliation-engine/internal/config"
	"reconciliation-engine/internal/database"
	"reconciliation-engine/internal/handlers"
	"reconciliation-engine/internal/logging"
	"reconciliation-engine/internal/money"
	"reconciliation-engine/internal/repositories"
	"reconciliation-engine/internal/services"
)

func main() {
	migrateCmd := flag.String("migrate", "", "Migration command (up/down/version)")
	steps := flag.Int("steps", 0, "Number of migration steps (0 means all)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	db, err := database.NewConnection(cfg, logger)
	if err != nil {
		logger.Fatal("error connecting to database", zap.Error(err))
	}
	defer db.Close()

	if *migrateCmd != "" {
		m, err := database.NewMigrator(cfg)
		if err != nil {
			logger.Fatal("migration setup failed", zap.Error(err))
		}
		defer m.Close()
		if err := database.RunMigration(m, *migrateCmd, *steps, logger); err != nil {
			logger.Fatal("migration failed", zap.Error(err))
		}
		return
	}

	precisions, err := repositories.NewCurrencyRepository(db).Precisions(context.Background())
	if err != nil {
		logger.Fatal("failed to load currencies", zap.Error(err))
	}
	for code, digits := range cfg.Reconcile.CurrencyPrecisions {
		precisions[code] = digits
	}
	cmp := money.NewComparator(precisions).WithFallback(cfg.Reconcile.DefaultCurrencyPrecision)

	statementRepo := repositories.NewStatementRepository(db)
	ledgerRepo := repositories.NewLedgerRepository(db, statementRepo)
	partnerRepo := repositories.NewPartnerRepository(db)
	reconciliationRepo := repositories.NewReconciliationRepository(db, statementRepo, ledgerRepo, partnerRepo, logger)

	reconciliationService := services.NewReconciliationService(
		ledgerRepo,
		repositories.NewTaxRepository(db, cmp),
		partnerRepo,
		reconciliationRepo,
		repositories.NewReconcileModelRepository(db, cmp),
		cmp,
		logger,
		services.Options{
			PageSize:   cfg.Reconcile.PageSize,
			CompanyIDs: cfg.Reconcile.CompanyIDs,
		},
	)
	dataIngestionService := services.NewDataIngestionService(db, statementRepo, ledgerRepo, reconciliationRepo, logger)

	router := handlers.SetupRouter(
		handlers.NewReconciliationHandler(reconciliationService, logger),
		handlers.NewDataHandler(dataIngestionService),
		logger,
	)

	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("server is running", zap.String("address", cfg.ServerAddress))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server shutdown failed", zap.Error(err))
	}
	logger.Info("server exited gracefully")
}
