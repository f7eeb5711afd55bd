package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/planlens/planlens/internal/catalog"
	"github.com/planlens/planlens/internal/config"
	"github.com/planlens/planlens/internal/dashboard"
	"github.com/planlens/planlens/internal/dataset"
	"github.com/planlens/planlens/internal/engine"
	"github.com/planlens/planlens/internal/observability"
	"github.com/planlens/planlens/internal/planner"
	"github.com/planlens/planlens/internal/table"
)

type ReadinessCheck func(ctx context.Context) error

type DatasetService interface {
	Upload(ctx context.Context, ownerID, filename string, body io.Reader) (dataset.Info, error)
	Load(ctx context.Context, ownerID, datasetID string) (*table.Table, error)
	Get(ctx context.Context, ownerID, datasetID string) (dataset.Info, error)
	Describe(ctx context.Context, ownerID, datasetID string, previewRows int) (dataset.Description, error)
	Health(ctx context.Context, ownerID, datasetID string) (table.Health, error)
	List(ctx context.Context, ownerID string, limit int) ([]dataset.Info, error)
	Delete(ctx context.Context, ownerID, datasetID string) error
}

type ExecutionAudit interface {
	RecordPlanExecution(ctx context.Context, in catalog.RecordPlanExecutionInput) (catalog.PlanExecution, error)
	ListPlanExecutions(ctx context.Context, ownerID, datasetID string, limit int) ([]catalog.PlanExecution, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Datasets          DatasetService
	Executor          *engine.Executor
	Audit             ExecutionAudit
	Planner           planner.Planner
	Dashboards        *dashboard.Builder
	PlannerSampleRows int
	MaxPlanBytes      int64
}

type route struct {
	pattern string
	handle  func(Dependencies, http.ResponseWriter, *http.Request)
}

var protectedRoutes = []route{
	{"GET /v1/datasets", handleListDatasets},
	{"POST /v1/datasets", handleUploadDataset},
	{"GET /v1/datasets/{dataset}", handleDescribeDataset},
	{"DELETE /v1/datasets/{dataset}", handleDeleteDataset},
	{"GET /v1/datasets/{dataset}/health", handleDatasetHealth},
	{"POST /v1/datasets/{dataset}/execute", handleExecute},
	{"GET /v1/datasets/{dataset}/executions", handleListExecutions},
	{"POST /v1/datasets/{dataset}/ask", handleAsk},
	{"POST /v1/datasets/{dataset}/dashboard", handleDashboard},
	{"POST /v1/datasets/{dataset}/clean/suggest", handleCleanSuggest},
	{"POST /v1/datasets/{dataset}/clean/apply", handleCleanApply},
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if deps.Executor == nil {
		deps.Executor = engine.New(engine.WithLogger(deps.Logger))
	}
	if deps.Dashboards == nil {
		deps.Dashboards = dashboard.NewBuilder(deps.Executor, deps.Logger)
	}
	if deps.MaxPlanBytes <= 0 {
		deps.MaxPlanBytes = 1 << 20
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	protected := http.NewServeMux()
	for _, rt := range protectedRoutes {
		handle := rt.handle
		protected.HandleFunc(rt.pattern, func(w http.ResponseWriter, r *http.Request) {
			handle(deps, w, r)
		})
	}

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			deps.Logger.Error("auth required but auth middleware missing")
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	for _, rt := range protectedRoutes {
		mux.Handle(rt.pattern, protectedHandler)
	}

	// MetricsMiddleware sits closest to the mux so it sees the matched pattern.
	return chain(mux,
		observability.TraceMiddleware,
		observability.LoggingMiddleware(deps.Logger),
		observability.MetricsMiddleware,
	)
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
