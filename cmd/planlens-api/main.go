package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/planlens/planlens/internal/api"
	"github.com/planlens/planlens/internal/auth"
	"github.com/planlens/planlens/internal/catalog"
	catalogmemory "github.com/planlens/planlens/internal/catalog/memory"
	catalogpostgres "github.com/planlens/planlens/internal/catalog/postgres"
	"github.com/planlens/planlens/internal/config"
	"github.com/planlens/planlens/internal/dashboard"
	"github.com/planlens/planlens/internal/dataset"
	duckdbdecoder "github.com/planlens/planlens/internal/dataset/duckdb"
	parquetdecoder "github.com/planlens/planlens/internal/dataset/parquet"
	xlsxdecoder "github.com/planlens/planlens/internal/dataset/xlsx"
	"github.com/planlens/planlens/internal/engine"
	"github.com/planlens/planlens/internal/observability"
	"github.com/planlens/planlens/internal/planner"
	"github.com/planlens/planlens/internal/storage"
	storagememory "github.com/planlens/planlens/internal/storage/memory"
	s3store "github.com/planlens/planlens/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("planlens-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	catalogRepo, closeCatalog, err := openCatalog(cfg)
	if err != nil {
		logger.Error("failed to open catalog", slog.String("backend", cfg.Catalog.Backend), slog.Any("error", err))
		os.Exit(1)
	}
	defer closeCatalog()

	objectStore, err := openObjectStore(cfg)
	if err != nil {
		logger.Error("failed to initialize object store", slog.String("backend", cfg.ObjectStore.Backend), slog.Any("error", err))
		os.Exit(1)
	}

	tabular := duckdbdecoder.NewDecoder()
	decoders := map[dataset.Format]dataset.Decoder{
		dataset.FormatCSV:     tabular,
		dataset.FormatTSV:     tabular,
		dataset.FormatJSON:    tabular,
		dataset.FormatNDJSON:  tabular,
		dataset.FormatParquet: parquetdecoder.NewDecoder(),
		dataset.FormatXLSX:    xlsxdecoder.NewDecoder(),
	}
	datasets, err := dataset.NewService(catalogRepo, objectStore, decoders, dataset.Config{
		MaxUploadBytes: cfg.Datasets.MaxUploadBytes,
		MaxRows:        cfg.Datasets.MaxRows,
		PreviewRows:    cfg.Datasets.PreviewRows,
		CacheSize:      cfg.Datasets.CacheSize,
	}, logger)
	if err != nil {
		logger.Error("failed to initialize dataset service", slog.Any("error", err))
		os.Exit(1)
	}

	executor := engine.New(
		engine.WithLogger(logger),
		engine.WithLimits(engine.Limits{
			MaxFilters:    cfg.Engine.MaxFilters,
			MaxMetrics:    cfg.Engine.MaxMetrics,
			MaxGroupBy:    cfg.Engine.MaxGroupBy,
			MaxResultRows: cfg.Engine.MaxResultRows,
		}),
	)

	deps := api.Dependencies{
		Logger:            logger,
		Datasets:          datasets,
		Executor:          executor,
		Audit:             catalogRepo,
		Dashboards:        dashboard.NewBuilder(executor, logger),
		PlannerSampleRows: cfg.Datasets.SampleRows,
		Readiness: api.CombineReadinessChecks(
			catalogRepo.HealthCheck,
			objectStore.Ping,
		),
		DependencyTimeout: time.Second,
	}
	if cfg.AI.PlannerEnabled {
		planLLM, err := planner.NewOpenAIPlanner(planner.OpenAIConfig{
			BaseURL:      cfg.AI.BaseURL,
			APIKey:       cfg.AI.APIKey,
			Model:        cfg.AI.Model,
			Temperature:  cfg.AI.Temperature,
			Timeout:      cfg.AI.Timeout,
			MaxAttempts:  cfg.AI.MaxAttempts,
			RetryBackoff: cfg.AI.RetryBackoff,
		}, logger)
		if err != nil {
			logger.Error("failed to initialize planner", slog.Any("error", err))
			os.Exit(1)
		}
		deps.Planner = planLLM
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("catalog", cfg.Catalog.Backend),
			slog.String("object_store", cfg.ObjectStore.Backend),
			slog.Bool("planner", deps.Planner != nil),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

func openCatalog(cfg config.Config) (catalog.Repository, func(), error) {
	if cfg.Catalog.Backend != config.BackendPostgres {
		return catalogmemory.NewRepository(), func() {}, nil
	}
	db, err := catalogpostgres.Open(context.Background(), catalogpostgres.DBConfig{
		DSN:             cfg.Catalog.DSN,
		MaxOpenConns:    cfg.Catalog.MaxOpenConns,
		MaxIdleConns:    cfg.Catalog.MaxIdleConns,
		ConnMaxIdleTime: cfg.Catalog.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Catalog.ConnMaxLifetime,
	})
	if err != nil {
		return nil, nil, err
	}
	return catalogpostgres.NewRepository(db), func() { _ = db.Close() }, nil
}

func openObjectStore(cfg config.Config) (storage.ObjectStore, error) {
	if cfg.ObjectStore.Backend != config.BackendS3 {
		return storagememory.New(), nil
	}
	return s3store.New(context.Background(), s3store.Config{
		Endpoint:         cfg.ObjectStore.Endpoint,
		Region:           cfg.ObjectStore.Region,
		Bucket:           cfg.ObjectStore.Bucket,
		AccessKeyID:      cfg.ObjectStore.AccessKeyID,
		SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
		UseSSL:           cfg.ObjectStore.UseSSL,
		Prefix:           cfg.ObjectStore.Prefix,
		AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
	})
}
