package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/flockhealth/internal/config"
	"github.com/mamadbah2/flockhealth/internal/metrics"
	"github.com/mamadbah2/flockhealth/internal/repository"
	"github.com/mamadbah2/flockhealth/internal/repository/memory"
	"github.com/mamadbah2/flockhealth/internal/repository/mongodb"
	"github.com/mamadbah2/flockhealth/internal/repository/sheets"
	"github.com/mamadbah2/flockhealth/internal/scheduler"
	"github.com/mamadbah2/flockhealth/internal/server/handlers"
	"github.com/mamadbah2/flockhealth/internal/server/router"
	actionsvc "github.com/mamadbah2/flockhealth/internal/service/actions"
	costingsvc "github.com/mamadbah2/flockhealth/internal/service/costing"
	deathsvc "github.com/mamadbah2/flockhealth/internal/service/death"
	diagnosissvc "github.com/mamadbah2/flockhealth/internal/service/diagnosis"
	reconcilesvc "github.com/mamadbah2/flockhealth/internal/service/reconcile"
	reportingsvc "github.com/mamadbah2/flockhealth/internal/service/reporting"
	treatmentsvc "github.com/mamadbah2/flockhealth/internal/service/treatment"
	vaccinesvc "github.com/mamadbah2/flockhealth/internal/service/vaccine"
	"github.com/mamadbah2/flockhealth/pkg/clients/classifier"
	"github.com/mamadbah2/flockhealth/pkg/logger"
	"github.com/mamadbah2/flockhealth/pkg/telemetry"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		panic(err)
	}

	baseLogger := logger.Must(logger.New(cfg.LogLevel))
	defer func() { _ = baseLogger.Sync() }()

	zap.ReplaceGlobals(baseLogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		baseLogger.Fatal("failed to init telemetry", zap.Error(err))
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			baseLogger.Error("failed to flush traces", zap.Error(err))
		}
	}()

	store, closeStore := openStore(ctx, cfg, baseLogger)
	defer closeStore()

	m := metrics.New()

	costs := costingsvc.NewService(store, m, baseLogger.Named("svc.costing"))

	var (
		deathExport  deathsvc.Exporter
		actionExport actionsvc.CostExporter
	)
	if cfg.Sheets.Enabled() {
		sheetsRepo, err := sheets.NewGoogleSheetRepository(ctx, cfg.Sheets, baseLogger.Named("repo.sheets"))
		if err != nil {
			baseLogger.Fatal("failed to init sheets repository", zap.Error(err))
		}
		exporter := reportingsvc.NewService(sheetsRepo, costs, baseLogger.Named("svc.reporting"))
		deathExport, actionExport = exporter, exporter
		baseLogger.Info("cost ledger export enabled")
	} else {
		baseLogger.Warn("google sheets not configured, cost export disabled")
	}

	var classifierClient classifier.Client
	if cfg.Classifier.Enabled() {
		classifierClient = classifier.NewClient(cfg.Classifier)
		baseLogger.Info("diagnosis classifier enabled", zap.String("base_url", cfg.Classifier.BaseURL))
	} else {
		baseLogger.Warn("classifier base url missing, diagnosis ingestion disabled")
	}

	treatments := treatmentsvc.NewService(store, costs, m, baseLogger.Named("svc.treatment"))
	reconciler := reconcilesvc.NewService(store, costs, m, baseLogger.Named("svc.reconcile"))
	dispatcher := actionsvc.NewService(actionsvc.Dependencies{
		Costs:      costs,
		Exporter:   actionExport,
		Treatments: treatments,
		Deaths:     deathsvc.NewService(store, costs, deathExport, baseLogger.Named("svc.death")),
		Vaccines:   vaccinesvc.NewService(store, treatments, costs, baseLogger.Named("svc.vaccine")),
		Diagnoses:  diagnosissvc.NewService(store, classifierClient, baseLogger.Named("svc.diagnosis")),
		Reconciler: reconciler,
	}, m, baseLogger.Named("svc.actions"))

	actionHandler := handlers.NewActionHandler(dispatcher, cfg.Server.RequestTimeout, baseLogger.Named("handlers.actions"))
	engine := router.New(actionHandler, cfg, m, baseLogger.Named("router"))

	sched, err := scheduler.NewScheduler(cfg.Reconcile, reconciler, baseLogger.Named("scheduler"))
	if err != nil {
		baseLogger.Fatal("failed to init scheduler", zap.Error(err))
	}
	if err := sched.Start(); err != nil {
		baseLogger.Fatal("failed to start scheduler", zap.Error(err))
	}
	defer sched.Stop()

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		baseLogger.Info("server starting", zap.String("port", cfg.Server.Port), zap.String("store", cfg.Store.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			baseLogger.Fatal("http server crashed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	baseLogger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		baseLogger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository.Store, func()) {
	if cfg.Store.Driver == config.StoreMemory {
		log.Warn("using in-memory record store, data is lost on restart")
		return memory.NewStore(), func() {}
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.MongoDB.Timeout)
	defer cancel()

	mongoRepo, err := mongodb.NewMongoDBRepository(connectCtx, cfg.MongoDB.URI, cfg.MongoDB.DBName, log.Named("repo.mongodb"))
	if err != nil {
		log.Fatal("failed to init mongodb repository", zap.Error(err))
	}
	if err := mongoRepo.EnsureIndexes(connectCtx); err != nil {
		log.Error("failed to ensure mongodb indexes", zap.Error(err))
	}

	return mongoRepo, func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mongoRepo.Close(closeCtx); err != nil {
			log.Error("failed to close mongodb connection", zap.Error(err))
		}
	}
}
