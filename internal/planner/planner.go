package planner

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/planlens/planlens/internal/plan"
	"github.com/planlens/planlens/internal/table"
)

var ErrInvalidResponse = errors.New("planner returned an invalid response")

type Request struct {
	DatasetID  string         `json:"dataset_id"`
	Question   string         `json:"question,omitempty"`
	RowCount   int            `json:"row_count"`
	Columns    []table.Column `json:"columns"`
	SampleRows []table.Record `json:"sample_rows"`
	NullCounts map[string]int `json:"null_counts,omitempty"`
}

// Plan is untrusted and must go through plan.Decode before execution.
type Result struct {
	Intent   plan.QueryType  `json:"intent"`
	Plan     json.RawMessage `json:"plan"`
	Provider string          `json:"provider"`
	Model    string          `json:"model"`
}

type Planner interface {
	Plan(ctx context.Context, req Request) (Result, error)
	Layout(ctx context.Context, req Request) (json.RawMessage, error)
	Clean(ctx context.Context, req Request) (json.RawMessage, error)
}
