package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/planlens/planlens/internal/auth"
	"github.com/planlens/planlens/internal/catalog"
	"github.com/planlens/planlens/internal/dataset"
	"github.com/planlens/planlens/internal/observability"
	"github.com/planlens/planlens/internal/storage"
)

const ownerHeader = "X-Owner-ID"

func handleListDatasets(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	ownerID, ok := authorize(deps, w, r, auth.RoleDatasetReader)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit", catalog.DefaultListLimit)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", err.Error(), false, nil)
		return
	}
	datasets, err := deps.Datasets.List(r.Context(), ownerID, limit)
	if err != nil {
		writeDatasetError(deps, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"owner_id": ownerID, "datasets": datasets})
}

func handleUploadDataset(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	ownerID, ok := authorize(deps, w, r, auth.RoleDatasetWriter)
	if !ok {
		return
	}
	filename := strings.TrimSpace(r.URL.Query().Get("filename"))
	if filename == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "FILENAME_REQUIRED", "filename query parameter is required", false, nil)
		return
	}
	info, err := deps.Datasets.Upload(r.Context(), ownerID, filename, r.Body)
	if err != nil {
		writeDatasetError(deps, w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func handleDescribeDataset(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	ownerID, ok := authorize(deps, w, r, auth.RoleDatasetReader)
	if !ok {
		return
	}
	previewRows, err := queryInt(r, "preview_rows", 0)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_PREVIEW_ROWS", err.Error(), false, nil)
		return
	}
	description, err := deps.Datasets.Describe(r.Context(), ownerID, r.PathValue("dataset"), previewRows)
	if err != nil {
		writeDatasetError(deps, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, description)
}

func handleDeleteDataset(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	ownerID, ok := authorize(deps, w, r, auth.RoleDatasetWriter)
	if !ok {
		return
	}
	datasetID := r.PathValue("dataset")
	if err := deps.Datasets.Delete(r.Context(), ownerID, datasetID); err != nil {
		writeDatasetError(deps, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dataset_id": datasetID, "deleted": true})
}

func handleDatasetHealth(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	ownerID, ok := authorize(deps, w, r, auth.RoleDatasetReader)
	if !ok {
		return
	}
	health, err := deps.Datasets.Health(r.Context(), ownerID, r.PathValue("dataset"))
	if err != nil {
		writeDatasetError(deps, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, health)
}

func authorize(deps Dependencies, w http.ResponseWriter, r *http.Request, role string) (string, bool) {
	if deps.Datasets == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "DATASETS_NOT_CONFIGURED", "dataset dependencies are not configured", false, nil)
		return "", false
	}
	ownerID, err := ownerFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "OWNER_REQUIRED", err.Error(), false, nil)
		return "", false
	}
	if err := auth.CheckRole(r.Context(), role); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return "", false
	}
	return ownerID, true
}

func ownerFromRequest(r *http.Request) (string, error) {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		if strings.TrimSpace(identity.OwnerID) != "" {
			return identity.OwnerID, nil
		}
	}
	ownerID := strings.TrimSpace(r.Header.Get(ownerHeader))
	if ownerID == "" {
		return "", fmt.Errorf("owner context is required")
	}
	return ownerID, nil
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return value, nil
}

func writeDatasetError(deps Dependencies, w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, dataset.ErrNotFound):
		writeError(r.Context(), w, http.StatusNotFound, "DATASET_NOT_FOUND", "dataset was not found", false, map[string]any{"dataset_id": r.PathValue("dataset")})
	case errors.Is(err, dataset.ErrUnsupportedFormat):
		writeError(r.Context(), w, http.StatusUnsupportedMediaType, "UNSUPPORTED_FORMAT", err.Error(), false, nil)
	case errors.Is(err, dataset.ErrTooLarge):
		writeError(r.Context(), w, http.StatusRequestEntityTooLarge, "DATASET_TOO_LARGE", err.Error(), false, nil)
	case errors.Is(err, dataset.ErrEmpty):
		writeError(r.Context(), w, http.StatusBadRequest, "DATASET_EMPTY", err.Error(), false, nil)
	case errors.Is(err, storage.ErrInvalidPathComponent):
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_OWNER", err.Error(), false, nil)
	case errors.Is(err, dataset.ErrInvalidData):
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_DATASET", err.Error(), false, nil)
	case r.Context().Err() != nil:
		writeError(r.Context(), w, http.StatusServiceUnavailable, "REQUEST_CANCELLED", "request was cancelled", true, nil)
	default:
		deps.Logger.ErrorContext(r.Context(), "dataset request failed",
			observability.TraceAttr(r.Context()),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		writeError(r.Context(), w, http.StatusInternalServerError, "DATASET_ERROR", "dataset operation failed", true, map[string]any{"details": err.Error()})
	}
}
