package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/planlens/planlens/internal/catalog"
)

type datasetKey struct {
	owner string
	id    string
}

type Repository struct {
	mu         sync.RWMutex
	datasets   map[datasetKey]catalog.Dataset
	executions []catalog.PlanExecution
	nextExecID int64
	now        func() time.Time
}

var _ catalog.Repository = (*Repository)(nil)

func NewRepository() *Repository {
	return &Repository{
		datasets: make(map[datasetKey]catalog.Dataset),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (r *Repository) HealthCheck(ctx context.Context) error { return ctx.Err() }

func (r *Repository) CreateDataset(_ context.Context, in catalog.CreateDatasetInput) (catalog.Dataset, error) {
	ds := catalog.Dataset{
		DatasetID:   in.DatasetID,
		OwnerID:     in.OwnerID,
		Filename:    in.Filename,
		Format:      in.Format,
		ObjectPath:  in.ObjectPath,
		SizeBytes:   in.SizeBytes,
		RowCount:    in.RowCount,
		ColumnCount: in.ColumnCount,
		SchemaJSON:  append([]byte(nil), in.SchemaJSON...),
		CreatedAt:   r.now(),
	}
	r.mu.Lock()
	r.datasets[datasetKey{owner: in.OwnerID, id: in.DatasetID}] = ds
	r.mu.Unlock()
	return ds, nil
}

func (r *Repository) GetDataset(_ context.Context, ownerID, datasetID string) (catalog.Dataset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ds, ok := r.datasets[datasetKey{owner: ownerID, id: datasetID}]
	if !ok {
		return catalog.Dataset{}, catalog.ErrNotFound
	}
	return ds, nil
}

func (r *Repository) ListDatasets(_ context.Context, ownerID string, limit int) ([]catalog.Dataset, error) {
	r.mu.RLock()
	datasets := make([]catalog.Dataset, 0)
	for key, ds := range r.datasets {
		if key.owner == ownerID {
			datasets = append(datasets, ds)
		}
	}
	r.mu.RUnlock()

	sort.Slice(datasets, func(i, j int) bool {
		if !datasets[i].CreatedAt.Equal(datasets[j].CreatedAt) {
			return datasets[i].CreatedAt.After(datasets[j].CreatedAt)
		}
		return datasets[i].DatasetID < datasets[j].DatasetID
	})
	if limit = catalog.ClampListLimit(limit); len(datasets) > limit {
		datasets = datasets[:limit]
	}
	return datasets, nil
}

func (r *Repository) DeleteDataset(_ context.Context, ownerID, datasetID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := datasetKey{owner: ownerID, id: datasetID}
	if _, ok := r.datasets[key]; !ok {
		return false, nil
	}
	delete(r.datasets, key)
	kept := r.executions[:0]
	for _, exec := range r.executions {
		if exec.OwnerID != ownerID || exec.DatasetID != datasetID {
			kept = append(kept, exec)
		}
	}
	r.executions = kept
	return true, nil
}

func (r *Repository) RecordPlanExecution(_ context.Context, in catalog.RecordPlanExecutionInput) (catalog.PlanExecution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextExecID++
	exec := catalog.PlanExecution{
		ExecutionID:  r.nextExecID,
		DatasetID:    in.DatasetID,
		OwnerID:      in.OwnerID,
		QueryType:    in.QueryType,
		Outcome:      in.Outcome,
		ErrorMessage: in.ErrorMessage,
		DurationMS:   in.Duration.Milliseconds(),
		PlanJSON:     append([]byte(nil), in.PlanJSON...),
		CreatedAt:    r.now(),
	}
	r.executions = append(r.executions, exec)
	return exec, nil
}

func (r *Repository) ListPlanExecutions(_ context.Context, ownerID, datasetID string, limit int) ([]catalog.PlanExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	limit = catalog.ClampListLimit(limit)
	out := make([]catalog.PlanExecution, 0)
	for i := len(r.executions) - 1; i >= 0 && len(out) < limit; i-- {
		exec := r.executions[i]
		if exec.OwnerID == ownerID && exec.DatasetID == datasetID {
			out = append(out, exec)
		}
	}
	return out, nil
}
