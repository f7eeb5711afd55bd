package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"

	"github.com/planlens/planlens/internal/plan"
	"github.com/planlens/planlens/internal/table"
)

// Zero disables a limit.
type Limits struct {
	MaxFilters    int
	MaxMetrics    int
	MaxGroupBy    int
	MaxResultRows int
}

func DefaultLimits() Limits {
	return Limits{
		MaxFilters: 32,
		MaxMetrics: 16,
		MaxGroupBy: 8,
	}
}

type Executor struct {
	logger *slog.Logger
	limits Limits
}

type Option func(*Executor)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithLimits(limits Limits) Option {
	return func(e *Executor) {
		e.limits = limits
	}
}

func New(opts ...Option) *Executor {
	e := &Executor{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		limits: DefaultLimits(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) Limits() Limits { return e.limits }

// Execute never returns an error; failures come back as a Result of kind error.
func (e *Executor) Execute(ctx context.Context, t *table.Table, p plan.Plan) (res Result) {
	defer func() {
		if recovered := recover(); recovered != nil {
			e.logger.ErrorContext(ctx, "plan execution panicked",
				slog.Any("panic", recovered),
				slog.String("stack", string(debug.Stack())),
			)
			res = errorResult(fmt.Sprintf("internal error: %v", recovered), res.Outcomes)
		}
	}()

	if t == nil {
		return errorResult("dataset is not loaded", nil)
	}

	outcomes := planOutcomes(p.Issues)
	if !p.QueryType.Valid() {
		return errorResult(fmt.Sprintf("Unknown query type: %s", p.RawQueryType), outcomes)
	}

	var truncated []Outcome
	p, truncated = e.truncate(p)
	outcomes = append(outcomes, truncated...)

	initialRows := t.NumRows()
	filtered, filterOutcomes := e.applyFilters(ctx, t, p.Filters)
	outcomes = append(outcomes, filterOutcomes...)

	if err := ctx.Err(); err != nil {
		return errorResult(err.Error(), outcomes)
	}

	switch p.QueryType {
	case plan.QueryMetadata:
		return Result{
			Kind: KindMetadata,
			Metadata: &Metadata{
				RowCount:        filtered.NumRows(),
				ColumnCount:     filtered.NumColumns(),
				Columns:         filtered.ColumnNames(),
				InitialRowCount: initialRows,
			},
			Outcomes: outcomes,
		}
	case plan.QueryAggregation, plan.QueryTimeseries:
		if len(p.GroupBy) == 0 {
			scalars, metricOutcomes := aggregateScalars(filtered, p.Metrics)
			return Result{Kind: KindScalars, Scalars: scalars, Outcomes: append(outcomes, metricOutcomes...)}
		}
		grouped, groupOutcomes, err := aggregateGroups(filtered, p.GroupBy, p.Metrics)
		outcomes = append(outcomes, groupOutcomes...)
		if err != nil {
			return errorResult(err.Error(), outcomes)
		}
		return e.rowsResult(grouped, p, outcomes)
	default:
		return e.rowsResult(filtered, p, outcomes)
	}
}

func (e *Executor) rowsResult(t *table.Table, p plan.Plan, outcomes []Outcome) Result {
	ordered, orderOutcomes := e.orderAndLimit(t, p.Sort, p.Limit)
	return Result{
		Kind:     KindRows,
		Columns:  ordered.ColumnNames(),
		Rows:     ordered.Records(),
		Outcomes: append(outcomes, orderOutcomes...),
	}
}

func (e *Executor) truncate(p plan.Plan) (plan.Plan, []Outcome) {
	var outcomes []Outcome
	if limit := e.limits.MaxFilters; limit > 0 && len(p.Filters) > limit {
		outcomes = append(outcomes, truncatedOutcome(StageFilter, len(p.Filters), limit))
		p.Filters = p.Filters[:limit]
	}
	if limit := e.limits.MaxMetrics; limit > 0 && len(p.Metrics) > limit {
		outcomes = append(outcomes, truncatedOutcome(StageMetric, len(p.Metrics), limit))
		p.Metrics = p.Metrics[:limit]
	}
	if limit := e.limits.MaxGroupBy; limit > 0 && len(p.GroupBy) > limit {
		outcomes = append(outcomes, truncatedOutcome(StageGroupBy, len(p.GroupBy), limit))
		p.GroupBy = p.GroupBy[:limit]
	}
	return p, outcomes
}

func truncatedOutcome(stage Stage, got, limit int) Outcome {
	return Outcome{
		Stage:  stage,
		Index:  limit,
		Status: StatusTruncated,
		Reason: fmt.Sprintf("%d entries requested, only the first %d are used", got, limit),
	}
}

func planOutcomes(issues []plan.Issue) []Outcome {
	if len(issues) == 0 {
		return nil
	}
	outcomes := make([]Outcome, 0, len(issues))
	for i, issue := range issues {
		outcomes = append(outcomes, Outcome{
			Stage:  StagePlan,
			Index:  i,
			Column: issue.Field,
			Status: StatusSkipped,
			Reason: issue.Message,
		})
	}
	return outcomes
}
