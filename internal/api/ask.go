package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/planlens/planlens/internal/auth"
	"github.com/planlens/planlens/internal/engine"
	"github.com/planlens/planlens/internal/observability"
	"github.com/planlens/planlens/internal/plan"
	"github.com/planlens/planlens/internal/planner"
	"github.com/planlens/planlens/internal/table"
)

type askRequest struct {
	Prompt string `json:"prompt"`
}

type askResponse struct {
	DatasetID   string          `json:"dataset_id"`
	Intent      plan.QueryType  `json:"intent"`
	Plan        json.RawMessage `json:"plan"`
	Explanation string          `json:"explanation,omitempty"`
	Chart       *plan.Chart     `json:"chart,omitempty"`
	Issues      []plan.Issue    `json:"issues,omitempty"`
	Result      engine.Result   `json:"result"`
	Provider    string          `json:"provider"`
	Model       string          `json:"model"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	ownerID, ok := authorize(deps, w, r, auth.RoleDatasetReader)
	if !ok {
		return
	}
	if deps.Planner == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PLANNER_NOT_CONFIGURED", "planner is not configured", false, nil)
		return
	}
	raw, err := readLimited(r.Body, deps.MaxPlanBytes)
	if err != nil {
		writeError(r.Context(), w, http.StatusRequestEntityTooLarge, "REQUEST_TOO_LARGE", err.Error(), false, nil)
		return
	}
	var req askRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid JSON body", false, map[string]any{"details": err.Error()})
		return
	}
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "PROMPT_REQUIRED", "prompt is required", false, nil)
		return
	}

	datasetID := r.PathValue("dataset")
	t, err := deps.Datasets.Load(r.Context(), ownerID, datasetID)
	if err != nil {
		writeDatasetError(deps, w, r, err)
		return
	}

	planned, err := deps.Planner.Plan(r.Context(), plannerRequest(datasetID, req.Prompt, t, deps.PlannerSampleRows))
	if err != nil {
		writePlannerError(deps, w, r, err)
		return
	}
	p, err := plan.Decode(planned.Plan)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "PLANNER_INVALID_PLAN", "planner returned a plan that is not a JSON object", true, map[string]any{"details": err.Error()})
		return
	}

	res := runPlan(r.Context(), deps, ownerID, datasetID, t, p, planned.Plan)
	writeJSON(w, http.StatusOK, askResponse{
		DatasetID:   datasetID,
		Intent:      planned.Intent,
		Plan:        planned.Plan,
		Explanation: p.Explanation,
		Chart:       p.Chart,
		Issues:      p.Issues,
		Result:      res,
		Provider:    planned.Provider,
		Model:       planned.Model,
	})
}

func plannerRequest(datasetID, question string, t *table.Table, sampleRows int) planner.Request {
	if sampleRows <= 0 {
		sampleRows = 5
	}
	return planner.Request{
		DatasetID:  datasetID,
		Question:   question,
		RowCount:   t.NumRows(),
		Columns:    t.Columns(),
		SampleRows: t.Head(sampleRows).Records(),
	}
}

func writePlannerError(deps Dependencies, w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(r.Context(), w, http.StatusGatewayTimeout, "PLANNER_TIMEOUT", "planner did not respond in time", true, nil)
	case errors.Is(err, planner.ErrInvalidResponse):
		writeError(r.Context(), w, http.StatusBadGateway, "PLANNER_INVALID_RESPONSE", err.Error(), true, nil)
	default:
		deps.Logger.ErrorContext(r.Context(), "planner request failed",
			observability.TraceAttr(r.Context()),
			slog.String("dataset_id", r.PathValue("dataset")),
			slog.Any("error", err),
		)
		writeError(r.Context(), w, http.StatusBadGateway, "PLANNER_ERROR", "planner request failed", true, nil)
	}
}
