package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/planlens/planlens/internal/catalog"
)

func TestDatasetsAreOwnerScoped(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository()
	if _, err := repo.CreateDataset(ctx, catalog.CreateDatasetInput{DatasetID: "d1", OwnerID: "alice"}); err != nil {
		t.Fatalf("CreateDataset() error = %v", err)
	}

	if _, err := repo.GetDataset(ctx, "bob", "d1"); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("GetDataset(bob) error = %v", err)
	}
	if list, _ := repo.ListDatasets(ctx, "bob", 0); len(list) != 0 {
		t.Fatalf("ListDatasets(bob) = %#v", list)
	}
	if deleted, _ := repo.DeleteDataset(ctx, "bob", "d1"); deleted {
		t.Fatal("bob must not delete alice's dataset")
	}
	if _, err := repo.GetDataset(ctx, "alice", "d1"); err != nil {
		t.Fatalf("GetDataset(alice) error = %v", err)
	}
}

func TestDeleteDatasetDropsExecutions(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository()
	_, _ = repo.CreateDataset(ctx, catalog.CreateDatasetInput{DatasetID: "d1", OwnerID: "alice"})
	for i := 0; i < 3; i++ {
		if _, err := repo.RecordPlanExecution(ctx, catalog.RecordPlanExecutionInput{DatasetID: "d1", OwnerID: "alice", Outcome: catalog.OutcomeOK}); err != nil {
			t.Fatalf("RecordPlanExecution() error = %v", err)
		}
	}
	execs, _ := repo.ListPlanExecutions(ctx, "alice", "d1", 2)
	if len(execs) != 2 || execs[0].ExecutionID != 3 {
		t.Fatalf("executions = %#v", execs)
	}

	deleted, err := repo.DeleteDataset(ctx, "alice", "d1")
	if err != nil || !deleted {
		t.Fatalf("DeleteDataset() = %v, %v", deleted, err)
	}
	if execs, _ := repo.ListPlanExecutions(ctx, "alice", "d1", 0); len(execs) != 0 {
		t.Fatalf("executions after delete = %#v", execs)
	}
}
