package catalog

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("catalog: not found")

// Every dataset lookup is scoped to its owner.
type Repository interface {
	HealthCheck(ctx context.Context) error
	CreateDataset(ctx context.Context, in CreateDatasetInput) (Dataset, error)
	GetDataset(ctx context.Context, ownerID, datasetID string) (Dataset, error)
	ListDatasets(ctx context.Context, ownerID string, limit int) ([]Dataset, error)
	DeleteDataset(ctx context.Context, ownerID, datasetID string) (bool, error)
	RecordPlanExecution(ctx context.Context, in RecordPlanExecutionInput) (PlanExecution, error)
	ListPlanExecutions(ctx context.Context, ownerID, datasetID string, limit int) ([]PlanExecution, error)
}

type Dataset struct {
	DatasetID   string
	OwnerID     string
	Filename    string
	Format      string
	ObjectPath  string
	SizeBytes   int64
	RowCount    int
	ColumnCount int
	SchemaJSON  []byte
	CreatedAt   time.Time
}

type CreateDatasetInput struct {
	DatasetID   string
	OwnerID     string
	Filename    string
	Format      string
	ObjectPath  string
	SizeBytes   int64
	RowCount    int
	ColumnCount int
	SchemaJSON  []byte
}

type PlanExecution struct {
	ExecutionID  int64
	DatasetID    string
	OwnerID      string
	QueryType    string
	Outcome      string
	ErrorMessage string
	DurationMS   int64
	PlanJSON     []byte
	CreatedAt    time.Time
}

type RecordPlanExecutionInput struct {
	DatasetID    string
	OwnerID      string
	QueryType    string
	Outcome      string
	ErrorMessage string
	Duration     time.Duration
	PlanJSON     []byte
}

const (
	OutcomeOK       = "ok"
	OutcomeDegraded = "degraded"
	OutcomeError    = "error"
)

const DefaultListLimit = 100

func ClampListLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return min(limit, 1000)
}
