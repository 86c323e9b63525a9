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

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"kyc-document-api/bootstrap"
	"kyc-document-api/config"
	"kyc-document-api/controllers"
	"kyc-document-api/middleware"
	"kyc-document-api/monitor"
	"kyc-document-api/routes"
	"kyc-document-api/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger, flush, err := config.NewLogger(cfg)
	if err != nil {
		log.Fatalf("failed to initialise logger: %v", err)
	}
	defer flush()
	logger.Info("configuration loaded", zap.Stringer("config", cfg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	core, err := bootstrap.OpenCore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialise storage layer", zap.Error(err))
	}
	defer core.Close()

	scanner, err := bootstrap.NewScanner(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialise virus scanner", zap.Error(err))
	}

	locker, redisClient := bootstrap.NewLocker(cfg)
	if redisClient != nil {
		defer redisClient.Close()
	}

	var notifier services.Notifier
	if mailer := config.NewMailer(cfg); mailer.Configured() && len(cfg.NotifyRecipients()) > 0 {
		notifier = services.NewMailNotifier(mailer, cfg.NotifyRecipients())
	} else {
		logger.Info("compliance notifications disabled")
	}

	collector := monitor.NewCollector()
	validator := services.NewDocumentValidator(services.MetadataExtractor{}, cfg.ValidationMinScore, logger)
	uploads := services.NewUploadOrchestrator(
		scanner,
		validator,
		core.Storage,
		core.Ledger,
		core.Categories,
		services.UploadOptions{Encrypt: true, CreateBackup: cfg.StorageCreateBackup},
		logger,
	).WithLocker(locker).WithAudit(core.Audit).WithObserver(collector)
	documents := services.NewDocumentService(core.Ledger, core.Storage, core.Audit, logger)
	kyc := services.NewKYCService(core.Ledger, core.Categories, core.Audit, notifier, logger)

	if cfg.GinMode == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	requests := middleware.NewRequestMiddleware(logger)
	router.Use(requests.RecoverPanic())
	router.Use(requests.ProcessRequest())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORSMiddleware(cfg.CORSOriginList()))

	checks := []controllers.HealthCheck{
		{Name: "database", Probe: func(ctx context.Context) error {
			sqlDB, err := core.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}},
		{Name: "scanner", Probe: scanner.Probe},
	}
	if redisClient != nil {
		checks = append(checks, controllers.HealthCheck{Name: "redis", Probe: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}})
	}

	handlers := routes.Handlers{
		Documents:  controllers.NewDocumentHandler(uploads, documents, cfg.UploadMaxBytes, logger),
		Categories: controllers.NewCategoryHandler(core.Categories, core.Audit, logger),
		KYC:        controllers.NewKYCHandler(kyc, logger),
		Health:     controllers.Health(checks...),
	}
	if cfg.MonitorEnabled {
		handlers.Metrics = collector.Handler()
	}
	routes.SetupRoutes(router, cfg.JWTSecret, handlers)

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.String("port", cfg.ServerPort),
			zap.String("environment", cfg.Environment),
			zap.String("storage", cfg.StorageBackend),
			zap.String("scanner", cfg.ScannerBackend),
			zap.String("upload_lock", cfg.UploadLockMode))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
