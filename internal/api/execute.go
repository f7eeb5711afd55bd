package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/planlens/planlens/internal/auth"
	"github.com/planlens/planlens/internal/catalog"
	"github.com/planlens/planlens/internal/engine"
	"github.com/planlens/planlens/internal/observability"
	"github.com/planlens/planlens/internal/plan"
	"github.com/planlens/planlens/internal/table"
)

type executionView struct {
	ExecutionID  int64     `json:"execution_id"`
	QueryType    string    `json:"query_type"`
	Outcome      string    `json:"outcome"`
	ErrorMessage string    `json:"error_message,omitempty"`
	DurationMS   int64     `json:"duration_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

// handleExecute runs a caller-supplied plan. Engine failures are reported in
// the 200 result envelope; only transport problems become HTTP errors.
func handleExecute(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	ownerID, ok := authorize(deps, w, r, auth.RoleDatasetReader)
	if !ok {
		return
	}
	raw, err := readLimited(r.Body, deps.MaxPlanBytes)
	if err != nil {
		writeError(r.Context(), w, http.StatusRequestEntityTooLarge, "PLAN_TOO_LARGE", err.Error(), false, nil)
		return
	}
	p, err := plan.Decode(raw)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_PLAN", "plan must be a JSON object", false, map[string]any{"details": err.Error()})
		return
	}

	datasetID := r.PathValue("dataset")
	t, err := deps.Datasets.Load(r.Context(), ownerID, datasetID)
	if err != nil {
		writeDatasetError(deps, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, runPlan(r.Context(), deps, ownerID, datasetID, t, p, raw))
}

func handleListExecutions(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	ownerID, ok := authorize(deps, w, r, auth.RoleDatasetReader)
	if !ok {
		return
	}
	if deps.Audit == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "AUDIT_NOT_CONFIGURED", "execution audit is not configured", false, nil)
		return
	}
	limit, err := queryInt(r, "limit", catalog.DefaultListLimit)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", err.Error(), false, nil)
		return
	}
	datasetID := r.PathValue("dataset")
	if _, err := deps.Datasets.Get(r.Context(), ownerID, datasetID); err != nil {
		writeDatasetError(deps, w, r, err)
		return
	}
	executions, err := deps.Audit.ListPlanExecutions(r.Context(), ownerID, datasetID, limit)
	if err != nil {
		writeDatasetError(deps, w, r, err)
		return
	}
	views := make([]executionView, 0, len(executions))
	for _, execution := range executions {
		views = append(views, executionView{
			ExecutionID:  execution.ExecutionID,
			QueryType:    execution.QueryType,
			Outcome:      execution.Outcome,
			ErrorMessage: execution.ErrorMessage,
			DurationMS:   execution.DurationMS,
			CreatedAt:    execution.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"dataset_id": datasetID, "executions": views})
}

// runPlan executes p, observes it and writes the audit row. Audit failures
// are logged and do not change the result.
func runPlan(ctx context.Context, deps Dependencies, ownerID, datasetID string, t *table.Table, p plan.Plan, raw []byte) engine.Result {
	start := time.Now()
	res := deps.Executor.Execute(ctx, t, p)
	elapsed := time.Since(start)

	queryType := "unknown"
	if p.QueryType.Valid() {
		queryType = string(p.QueryType)
	}
	outcome := executionOutcome(res)
	observability.ObservePlanExecution(queryType, outcome, elapsed)
	for _, o := range res.Outcomes {
		if o.Status != engine.StatusApplied {
			observability.ObservePlanOutcome(string(o.Stage), string(o.Status))
		}
	}

	if deps.Audit != nil {
		_, err := deps.Audit.RecordPlanExecution(context.WithoutCancel(ctx), catalog.RecordPlanExecutionInput{
			DatasetID:    datasetID,
			OwnerID:      ownerID,
			QueryType:    queryType,
			Outcome:      outcome,
			ErrorMessage: res.Error,
			Duration:     elapsed,
			PlanJSON:     raw,
		})
		if err != nil {
			deps.Logger.WarnContext(ctx, "plan execution audit failed",
				observability.TraceAttr(ctx),
				slog.String("dataset_id", datasetID),
				slog.Any("error", err),
			)
		}
	}
	deps.Logger.DebugContext(ctx, "plan executed",
		slog.String("dataset_id", datasetID),
		slog.String("query_type", queryType),
		slog.String("outcome", outcome),
		slog.Duration("elapsed", elapsed),
	)
	return res
}

func executionOutcome(res engine.Result) string {
	switch {
	case res.Failed():
		return catalog.OutcomeError
	case res.Degraded():
		return catalog.OutcomeDegraded
	default:
		return catalog.OutcomeOK
	}
}

func readLimited(body io.Reader, limit int64) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	if int64(len(raw)) > limit {
		return nil, fmt.Errorf("request body exceeds %d bytes", limit)
	}
	return raw, nil
}
