package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/planlens/planlens/internal/catalog"
)

type dbTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Repository struct {
	db *sql.DB
}

var _ catalog.Repository = (*Repository)(nil)

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping catalog db: %w", err)
	}
	return nil
}

func (r *Repository) CreateDataset(ctx context.Context, in catalog.CreateDatasetInput) (catalog.Dataset, error) {
	schemaJSON := in.SchemaJSON
	if len(schemaJSON) == 0 {
		schemaJSON = []byte("[]")
	}

	query := `
INSERT INTO dataset (dataset_id, owner_id, filename, format, object_path, size_bytes, row_count, column_count, schema_json)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb)
RETURNING created_at`

	ds := catalog.Dataset{
		DatasetID:   in.DatasetID,
		OwnerID:     in.OwnerID,
		Filename:    in.Filename,
		Format:      in.Format,
		ObjectPath:  in.ObjectPath,
		SizeBytes:   in.SizeBytes,
		RowCount:    in.RowCount,
		ColumnCount: in.ColumnCount,
		SchemaJSON:  schemaJSON,
	}
	if err := r.db.QueryRowContext(ctx, query,
		in.DatasetID,
		in.OwnerID,
		in.Filename,
		in.Format,
		in.ObjectPath,
		in.SizeBytes,
		in.RowCount,
		in.ColumnCount,
		string(schemaJSON),
	).Scan(&ds.CreatedAt); err != nil {
		return catalog.Dataset{}, fmt.Errorf("create dataset: %w", err)
	}
	return ds, nil
}

const datasetColumns = `dataset_id, owner_id, filename, format, object_path, size_bytes, row_count, column_count, schema_json, created_at`

func (r *Repository) GetDataset(ctx context.Context, ownerID, datasetID string) (catalog.Dataset, error) {
	query := `
SELECT ` + datasetColumns + `
FROM dataset
WHERE owner_id = $1 AND dataset_id = $2`

	ds, err := scanDataset(r.db.QueryRowContext(ctx, query, ownerID, datasetID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Dataset{}, catalog.ErrNotFound
		}
		return catalog.Dataset{}, fmt.Errorf("get dataset: %w", err)
	}
	return ds, nil
}

func (r *Repository) ListDatasets(ctx context.Context, ownerID string, limit int) ([]catalog.Dataset, error) {
	query := `
SELECT ` + datasetColumns + `
FROM dataset
WHERE owner_id = $1
ORDER BY created_at DESC, dataset_id ASC
LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, ownerID, catalog.ClampListLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	datasets := make([]catalog.Dataset, 0)
	for rows.Next() {
		ds, err := scanDataset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dataset row: %w", err)
		}
		datasets = append(datasets, ds)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dataset rows: %w", err)
	}
	return datasets, nil
}

func (r *Repository) DeleteDataset(ctx context.Context, ownerID, datasetID string) (bool, error) {
	var deleted bool
	err := r.WithTx(ctx, func(tx *TxRepository) error {
		if err := tx.deletePlanExecutions(ctx, ownerID, datasetID); err != nil {
			return err
		}
		var err error
		deleted, err = tx.deleteDataset(ctx, ownerID, datasetID)
		return err
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

func (r *Repository) RecordPlanExecution(ctx context.Context, in catalog.RecordPlanExecutionInput) (catalog.PlanExecution, error) {
	planJSON := in.PlanJSON
	if len(planJSON) == 0 {
		planJSON = []byte("{}")
	}
	var errorMessage any
	if in.ErrorMessage != "" {
		errorMessage = in.ErrorMessage
	}

	query := `
INSERT INTO plan_execution (dataset_id, owner_id, query_type, outcome, error_message, duration_ms, plan_json)
VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
RETURNING execution_id, created_at`

	exec := catalog.PlanExecution{
		DatasetID:    in.DatasetID,
		OwnerID:      in.OwnerID,
		QueryType:    in.QueryType,
		Outcome:      in.Outcome,
		ErrorMessage: in.ErrorMessage,
		DurationMS:   in.Duration.Milliseconds(),
		PlanJSON:     planJSON,
	}
	if err := r.db.QueryRowContext(ctx, query,
		in.DatasetID,
		in.OwnerID,
		in.QueryType,
		in.Outcome,
		errorMessage,
		exec.DurationMS,
		string(planJSON),
	).Scan(&exec.ExecutionID, &exec.CreatedAt); err != nil {
		return catalog.PlanExecution{}, fmt.Errorf("record plan execution: %w", err)
	}
	return exec, nil
}

func (r *Repository) ListPlanExecutions(ctx context.Context, ownerID, datasetID string, limit int) ([]catalog.PlanExecution, error) {
	query := `
SELECT execution_id, dataset_id, owner_id, query_type, outcome, error_message, duration_ms, plan_json, created_at
FROM plan_execution
WHERE owner_id = $1 AND dataset_id = $2
ORDER BY execution_id DESC
LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, ownerID, datasetID, catalog.ClampListLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list plan executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	executions := make([]catalog.PlanExecution, 0)
	for rows.Next() {
		var (
			exec         catalog.PlanExecution
			errorMessage sql.NullString
		)
		if err := rows.Scan(
			&exec.ExecutionID,
			&exec.DatasetID,
			&exec.OwnerID,
			&exec.QueryType,
			&exec.Outcome,
			&errorMessage,
			&exec.DurationMS,
			&exec.PlanJSON,
			&exec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan plan execution row: %w", err)
		}
		exec.ErrorMessage = errorMessage.String
		executions = append(executions, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plan execution rows: %w", err)
	}
	return executions, nil
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx *TxRepository) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&TxRepository{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type TxRepository struct {
	q dbTX
}

func (r *TxRepository) deletePlanExecutions(ctx context.Context, ownerID, datasetID string) error {
	query := `
DELETE FROM plan_execution
WHERE owner_id = $1 AND dataset_id = $2`
	if _, err := r.q.ExecContext(ctx, query, ownerID, datasetID); err != nil {
		return fmt.Errorf("delete plan executions: %w", err)
	}
	return nil
}

func (r *TxRepository) deleteDataset(ctx context.Context, ownerID, datasetID string) (bool, error) {
	query := `
DELETE FROM dataset
WHERE owner_id = $1 AND dataset_id = $2`
	result, err := r.q.ExecContext(ctx, query, ownerID, datasetID)
	if err != nil {
		return false, fmt.Errorf("delete dataset: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete dataset rows affected: %w", err)
	}
	return affected > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDataset(row rowScanner) (catalog.Dataset, error) {
	var ds catalog.Dataset
	err := row.Scan(
		&ds.DatasetID,
		&ds.OwnerID,
		&ds.Filename,
		&ds.Format,
		&ds.ObjectPath,
		&ds.SizeBytes,
		&ds.RowCount,
		&ds.ColumnCount,
		&ds.SchemaJSON,
		&ds.CreatedAt,
	)
	return ds, err
}
