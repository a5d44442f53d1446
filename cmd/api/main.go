package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/straye-as/salesflow-api/internal/auth"
	"github.com/straye-as/salesflow-api/internal/config"
	"github.com/straye-as/salesflow-api/internal/database"
	"github.com/straye-as/salesflow-api/internal/erp"
	"github.com/straye-as/salesflow-api/internal/http/handler"
	"github.com/straye-as/salesflow-api/internal/http/middleware"
	"github.com/straye-as/salesflow-api/internal/http/router"
	"github.com/straye-as/salesflow-api/internal/logger"
	"github.com/straye-as/salesflow-api/internal/notify"
	"github.com/straye-as/salesflow-api/internal/repository"
	"github.com/straye-as/salesflow-api/internal/service"
	"github.com/straye-as/salesflow-api/internal/storage"
	"go.uber.org/zap"
)

// @title Straye Salesflow API
// @version 1.0
// @description Lead intake, opportunity pipeline and quote financial close-out

// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description JWT Bearer token

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name x-api-key
// @description API key for form intake and system integrations

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	// Basic configuration first, for logging setup
	basicCfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.NewLogger(&basicCfg.Logging, &basicCfg.App)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("Starting application",
		zap.String("app", basicCfg.App.Name),
		zap.String("env", basicCfg.App.Environment),
		zap.Int("port", basicCfg.App.Port),
	)

	// In development secrets come from the environment, elsewhere from Key Vault
	cfg, err := config.LoadWithSecrets(ctx, log)
	if err != nil {
		return fmt.Errorf("failed to load secrets: %w", err)
	}

	db, err := database.NewDatabase(ctx, &cfg.Database, log)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	documents, err := storage.NewStorage(&cfg.Storage, log)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	log.Info("Storage initialized", zap.String("mode", cfg.Storage.Mode))

	// The ERP staging table is optional; without it invoice requests get local references
	erpClient, err := erp.NewClient(ctx, &cfg.ERP, log)
	if err != nil {
		log.Warn("ERP connection failed, continuing with local invoice references", zap.Error(err))
		erpClient = nil
	}
	var invoices service.InvoiceRequester = service.NewLocalInvoiceRequester(log)
	if erpClient.IsEnabled() {
		invoices = &erpInvoiceAdapter{client: erpClient}
	}

	mailer := notify.NewEmailSender(&cfg.SMTP, log)
	if !mailer.Enabled() {
		log.Warn("SMTP disabled, sending invoices to clients will fail")
	}

	// Repositories
	leadRepo := repository.NewLeadRepository(db)
	oppRepo := repository.NewOpportunityRepository(db)
	quoteRepo := repository.NewQuoteRepository(db)
	orgRepo := repository.NewOrganizationRepository(db)
	transitionRepo := repository.NewStageTransitionRepository(db)
	activityRepo := repository.NewActivityRepository(db)

	// Services
	policy := service.Policy{
		DefaultProbability:        cfg.Pipeline.DefaultProbability,
		AllowDeleteConvertedLeads: cfg.Pipeline.AllowDeleteConvertedLeads,
		LeadRediscovery:           cfg.Pipeline.LeadRediscovery,
	}
	auditService := service.NewAuditService(transitionRepo, activityRepo, log)
	accountService := service.NewAccountService(orgRepo, cfg.Pipeline.DealNamePrefixes, log)
	leadService := service.NewLeadService(db, leadRepo, oppRepo, accountService, auditService, policy, log)
	pipelineService := service.NewPipelineService(db, oppRepo, quoteRepo, accountService, auditService,
		service.NewLocalQuoteBuilder(quoteRepo, log), log)
	quoteService := service.NewQuoteService(db, quoteRepo, oppRepo, auditService, log)
	stepperService := service.NewStepperService(db, quoteRepo, oppRepo, orgRepo, auditService,
		invoices, &emailInvoiceAdapter{sender: mailer}, documents, log)

	authMiddleware := auth.NewMiddleware(&cfg.Auth, log)
	rateLimiter := middleware.NewRateLimiter(&cfg.RateLimit, log)

	rt := router.NewRouter(cfg, log, authMiddleware, rateLimiter, router.Handlers{
		Health:      handler.NewHealthHandler(db, erpClient, log),
		Lead:        handler.NewLeadHandler(leadService, log),
		Opportunity: handler.NewOpportunityHandler(pipelineService, quoteService, log),
		Quote:       handler.NewQuoteHandler(quoteService, stepperService, cfg.Storage.MaxUploadSizeMB, log),
		Account:     handler.NewAccountHandler(accountService, log),
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.App.Port),
		Handler:      rt.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error("Failed to shutdown gracefully", zap.Error(err))
			return err
		}
	}

	if err := erpClient.Close(); err != nil {
		log.Warn("Error closing ERP connection", zap.Error(err))
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}

	log.Info("Server stopped gracefully")
	return nil
}
