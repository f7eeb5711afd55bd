package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/planlens/planlens/internal/auth"
	"github.com/planlens/planlens/internal/cleaning"
	"github.com/planlens/planlens/internal/dataset"
	"github.com/planlens/planlens/internal/observability"
	"github.com/planlens/planlens/internal/table"
)

const (
	suggestionSourcePlanner = "planner"
	suggestionSourceRules   = "rules"
)

type cleanSuggestResponse struct {
	DatasetID    string                `json:"dataset_id"`
	Source       string                `json:"source"`
	Suggestions  []cleaning.Suggestion `json:"suggestions"`
	PlannerError string                `json:"planner_error,omitempty"`
}

type cleanApplyRequest struct {
	Suggestions []cleaning.Suggestion `json:"suggestions"`
}

type cleanApplyResponse struct {
	SourceDatasetID string                `json:"source_dataset_id"`
	Dataset         dataset.Info          `json:"dataset"`
	Applied         []cleaning.Suggestion `json:"applied"`
	Skipped         []cleaning.Skipped    `json:"skipped"`
}

func handleCleanSuggest(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	ownerID, ok := authorize(deps, w, r, auth.RoleDatasetReader)
	if !ok {
		return
	}
	datasetID := r.PathValue("dataset")
	t, err := deps.Datasets.Load(r.Context(), ownerID, datasetID)
	if err != nil {
		writeDatasetError(deps, w, r, err)
		return
	}

	resp := cleanSuggestResponse{DatasetID: datasetID, Source: suggestionSourceRules}
	if deps.Planner != nil {
		suggestions, err := plannerSuggestions(deps, r, datasetID, t)
		if err == nil {
			resp.Source = suggestionSourcePlanner
			resp.Suggestions = suggestions
		} else {
			if r.Context().Err() != nil {
				writePlannerError(deps, w, r, r.Context().Err())
				return
			}
			deps.Logger.WarnContext(r.Context(), "planner cleaning suggestions unusable",
				observability.TraceAttr(r.Context()),
				slog.String("dataset_id", datasetID),
				slog.Any("error", err),
			)
			resp.PlannerError = err.Error()
		}
	}
	if resp.Source == suggestionSourceRules {
		resp.Suggestions = cleaning.RuleBased(t)
	}
	writeJSON(w, http.StatusOK, resp)
}

func plannerSuggestions(deps Dependencies, r *http.Request, datasetID string, t *table.Table) ([]cleaning.Suggestion, error) {
	req := plannerRequest(datasetID, "", t, deps.PlannerSampleRows)
	req.NullCounts = make(map[string]int, t.NumColumns())
	for c, column := range t.Columns() {
		nulls := 0
		for row := range t.NumRows() {
			if t.Value(row, c).IsNull() {
				nulls++
			}
		}
		req.NullCounts[column.Name] = nulls
	}
	raw, err := deps.Planner.Clean(r.Context(), req)
	if err != nil {
		return nil, err
	}
	return cleaning.Parse(raw)
}

func handleCleanApply(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	ownerID, ok := authorize(deps, w, r, auth.RoleDatasetWriter)
	if !ok {
		return
	}
	raw, err := readLimited(r.Body, deps.MaxPlanBytes)
	if err != nil {
		writeError(r.Context(), w, http.StatusRequestEntityTooLarge, "REQUEST_TOO_LARGE", err.Error(), false, nil)
		return
	}
	var req cleanApplyRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid JSON body", false, map[string]any{"details": err.Error()})
		return
	}
	if len(req.Suggestions) == 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "SUGGESTIONS_REQUIRED", "at least one suggestion is required", false, nil)
		return
	}

	datasetID := r.PathValue("dataset")
	source, err := deps.Datasets.Get(r.Context(), ownerID, datasetID)
	if err != nil {
		writeDatasetError(deps, w, r, err)
		return
	}
	t, err := deps.Datasets.Load(r.Context(), ownerID, datasetID)
	if err != nil {
		writeDatasetError(deps, w, r, err)
		return
	}

	res := cleaning.Apply(t, req.Suggestions)
	var buf bytes.Buffer
	if err := res.Table.WriteCSV(&buf); err != nil {
		writeDatasetError(deps, w, r, err)
		return
	}
	info, err := deps.Datasets.Upload(r.Context(), ownerID, cleanedFilename(source.Filename), &buf)
	if err != nil {
		writeDatasetError(deps, w, r, err)
		return
	}
	deps.Logger.InfoContext(r.Context(), "dataset cleaned",
		observability.TraceAttr(r.Context()),
		slog.String("source_dataset_id", datasetID),
		slog.String("dataset_id", info.DatasetID),
		slog.Int("applied", len(res.Applied)),
		slog.Int("skipped", len(res.Skipped)),
	)
	writeJSON(w, http.StatusCreated, cleanApplyResponse{
		SourceDatasetID: datasetID,
		Dataset:         info,
		Applied:         res.Applied,
		Skipped:         res.Skipped,
	})
}

func cleanedFilename(filename string) string {
	stem := strings.TrimSuffix(filename, path.Ext(filename))
	if stem == "" {
		stem = "dataset"
	}
	return stem + "_cleaned.csv"
}
