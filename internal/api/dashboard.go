package api

import (
	"bytes"
	"log/slog"
	"net/http"

	"github.com/planlens/planlens/internal/auth"
	"github.com/planlens/planlens/internal/dashboard"
	"github.com/planlens/planlens/internal/observability"
	"github.com/planlens/planlens/internal/table"
)

func handleDashboard(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	ownerID, ok := authorize(deps, w, r, auth.RoleDatasetReader)
	if !ok {
		return
	}
	raw, err := readLimited(r.Body, deps.MaxPlanBytes)
	if err != nil {
		writeError(r.Context(), w, http.StatusRequestEntityTooLarge, "LAYOUT_TOO_LARGE", err.Error(), false, nil)
		return
	}
	raw = bytes.TrimSpace(raw)

	var layout dashboard.Layout
	if len(raw) > 0 {
		layout, err = dashboard.DecodeLayout(raw)
		if err != nil {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LAYOUT", err.Error(), false, nil)
			return
		}
	}

	datasetID := r.PathValue("dataset")
	t, err := deps.Datasets.Load(r.Context(), ownerID, datasetID)
	if err != nil {
		writeDatasetError(deps, w, r, err)
		return
	}

	if len(raw) > 0 {
		writeJSON(w, http.StatusOK, deps.Dashboards.Build(r.Context(), t, layout))
		return
	}
	if proposed, ok := proposeLayout(deps, r, datasetID, t); ok {
		writeJSON(w, http.StatusOK, deps.Dashboards.Build(r.Context(), t, proposed))
		return
	}
	writeJSON(w, http.StatusOK, deps.Dashboards.Fallback(r.Context(), t))
}

func proposeLayout(deps Dependencies, r *http.Request, datasetID string, t *table.Table) (dashboard.Layout, bool) {
	if deps.Planner == nil {
		return dashboard.Layout{}, false
	}
	raw, err := deps.Planner.Layout(r.Context(), plannerRequest(datasetID, "", t, deps.PlannerSampleRows))
	if err == nil {
		var layout dashboard.Layout
		if layout, err = dashboard.DecodeLayout(raw); err == nil {
			return layout, true
		}
	}
	deps.Logger.WarnContext(r.Context(), "dashboard layout proposal failed, using fallback",
		observability.TraceAttr(r.Context()),
		slog.String("dataset_id", datasetID),
		slog.Any("error", err),
	)
	return dashboard.Layout{}, false
}
