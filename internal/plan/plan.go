package plan

import "github.com/planlens/planlens/internal/table"

type QueryType string

const (
	QueryMetadata    QueryType = "metadata"
	QueryAggregation QueryType = "aggregation"
	QueryFilter      QueryType = "filter"
	QueryTimeseries  QueryType = "timeseries"
)

func (q QueryType) Valid() bool {
	switch q {
	case QueryMetadata, QueryAggregation, QueryFilter, QueryTimeseries:
		return true
	default:
		return false
	}
}

type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpContains    Operator = "contains"
	OpYearEquals  Operator = "year_equals"
)

func ParseOperator(raw string) (Operator, bool) {
	switch op := Operator(raw); op {
	case OpEquals, OpNotEquals, OpGreaterThan, OpLessThan, OpContains, OpYearEquals:
		return op, true
	default:
		return "", false
	}
}

type Operation string

const (
	OpCount Operation = "count"
	OpSum   Operation = "sum"
	OpAvg   Operation = "avg"
	OpMin   Operation = "min"
	OpMax   Operation = "max"
)

func ParseOperation(raw string) (Operation, bool) {
	switch op := Operation(raw); op {
	case OpCount, OpSum, OpAvg, OpMin, OpMax:
		return op, true
	default:
		return OpCount, false
	}
}

type SortOrder string

const (
	Asc  SortOrder = "asc"
	Desc SortOrder = "desc"
)

type Clause struct {
	Column      string
	Operator    Operator
	RawOperator string
	Value       table.Value
	// ValueOK is false when the plan supplied an array or object.
	ValueOK bool
}

type Metric struct {
	Column       string
	Operation    Operation
	RawOperation string
	Defaulted    bool
}

func (m Metric) Name() string { return string(m.Operation) + "_" + m.Column }

func NewMetric(column, operation string) Metric {
	op, ok := ParseOperation(operation)
	return Metric{Column: column, Operation: op, RawOperation: operation, Defaulted: !ok}
}

type Sort struct {
	Column string
	Order  SortOrder
}

type Chart struct {
	Type string `json:"type,omitempty"`
	X    string `json:"x,omitempty"`
	Y    string `json:"y,omitempty"`
}

type Issue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Plan struct {
	QueryType    QueryType
	RawQueryType string
	Filters      []Clause
	Metrics      []Metric
	GroupBy      []string
	Sort         *Sort
	// Limit is zero when absent or not a positive integer.
	Limit       int
	Chart       *Chart
	Explanation string
	Issues      []Issue
}
