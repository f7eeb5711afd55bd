package engine

import (
	"encoding/json"

	"github.com/planlens/planlens/internal/table"
)

type ResultKind string

const (
	KindRows     ResultKind = "rows"
	KindScalars  ResultKind = "scalars"
	KindMetadata ResultKind = "metadata"
	KindError    ResultKind = "error"
)

type Metadata struct {
	RowCount        int      `json:"row_count"`
	ColumnCount     int      `json:"column_count"`
	Columns         []string `json:"columns"`
	InitialRowCount int      `json:"initial_row_count"`
}

type Result struct {
	Kind     ResultKind
	Columns  []string
	Rows     []table.Record
	Scalars  table.Record
	Metadata *Metadata
	Error    string
	Outcomes []Outcome
}

func (r Result) Failed() bool { return r.Kind == KindError }

func (r Result) MarshalJSON() ([]byte, error) {
	type envelope struct {
		Kind     ResultKind `json:"kind"`
		Columns  []string   `json:"columns,omitempty"`
		Result   any        `json:"result,omitempty"`
		Error    string     `json:"error,omitempty"`
		Outcomes []Outcome  `json:"outcomes,omitempty"`
	}
	out := envelope{Kind: r.Kind, Outcomes: r.Outcomes}
	switch r.Kind {
	case KindRows:
		rows := r.Rows
		if rows == nil {
			rows = []table.Record{}
		}
		out.Columns = r.Columns
		out.Result = rows
	case KindScalars:
		scalars := r.Scalars
		if scalars == nil {
			scalars = table.Record{}
		}
		out.Result = scalars
	case KindMetadata:
		out.Result = r.Metadata
	case KindError:
		out.Error = r.Error
	}
	return json.Marshal(out)
}

func errorResult(message string, outcomes []Outcome) Result {
	return Result{Kind: KindError, Error: message, Outcomes: outcomes}
}

type Stage string

const (
	StagePlan    Stage = "plan"
	StageFilter  Stage = "filter"
	StageMetric  Stage = "metric"
	StageGroupBy Stage = "group_by"
	StageSort    Stage = "sort"
	StageLimit   Stage = "limit"
)

type Status string

const (
	StatusApplied   Status = "applied"
	StatusSkipped   Status = "skipped"
	StatusDefaulted Status = "defaulted"
	StatusTruncated Status = "truncated"
)

type Outcome struct {
	Stage  Stage  `json:"stage"`
	Index  int    `json:"index"`
	Column string `json:"column,omitempty"`
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
	Rows   *int   `json:"rows,omitempty"`
}

func (r Result) Degraded() bool {
	for _, outcome := range r.Outcomes {
		if outcome.Status != StatusApplied {
			return true
		}
	}
	return false
}
