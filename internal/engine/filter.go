package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/planlens/planlens/internal/plan"
	"github.com/planlens/planlens/internal/table"
)

var (
	errUnknownColumn   = errors.New("unknown column")
	errUnknownOperator = errors.New("unknown operator")
	errInvalidValue    = errors.New("invalid value")
)

type predicate func(table.Value) bool

func (e *Executor) applyFilters(ctx context.Context, t *table.Table, clauses []plan.Clause) (*table.Table, []Outcome) {
	outcomes := make([]Outcome, 0, len(clauses))
	for i, clause := range clauses {
		next, err := applyClause(t, clause)
		if err != nil {
			e.logger.WarnContext(ctx, "filter clause skipped",
				slog.Int("index", i),
				slog.String("column", clause.Column),
				slog.String("operator", clause.RawOperator),
				slog.Any("error", err),
			)
			outcomes = append(outcomes, Outcome{Stage: StageFilter, Index: i, Column: clause.Column, Status: StatusSkipped, Reason: err.Error()})
			continue
		}
		t = next
		rows := t.NumRows()
		outcomes = append(outcomes, Outcome{Stage: StageFilter, Index: i, Column: clause.Column, Status: StatusApplied, Rows: &rows})
	}
	return t, outcomes
}

func applyClause(t *table.Table, clause plan.Clause) (*table.Table, error) {
	col, ok := t.Index(clause.Column)
	if !ok {
		return t, fmt.Errorf("%w %q", errUnknownColumn, clause.Column)
	}
	match, err := predicateFor(clause)
	if err != nil {
		return t, err
	}
	return t.Filter(func(row []table.Value) bool { return match(row[col]) }), nil
}

func predicateFor(clause plan.Clause) (predicate, error) {
	if !clause.ValueOK {
		return nil, fmt.Errorf("%w: expected a scalar", errInvalidValue)
	}
	value := clause.Value
	switch clause.Operator {
	case plan.OpEquals:
		return equalsPredicate(value), nil
	case plan.OpNotEquals:
		equals := equalsPredicate(value)
		return func(cell table.Value) bool { return !equals(cell) }, nil
	case plan.OpGreaterThan, plan.OpLessThan:
		threshold, ok := table.ToFloat(value)
		if !ok {
			return nil, fmt.Errorf("%w: %q is not numeric", errInvalidValue, table.Text(value))
		}
		greater := clause.Operator == plan.OpGreaterThan
		return func(cell table.Value) bool {
			f, ok := table.ToFloat(cell)
			if !ok {
				return false
			}
			if greater {
				return f > threshold
			}
			return f < threshold
		}, nil
	case plan.OpContains:
		if value.IsNull() {
			return nil, fmt.Errorf("%w: contains needs a value", errInvalidValue)
		}
		needle := strings.ToLower(table.Text(value))
		return func(cell table.Value) bool {
			if cell.IsNull() {
				return false
			}
			return strings.Contains(strings.ToLower(table.Text(cell)), needle)
		}, nil
	case plan.OpYearEquals:
		year, ok := table.ToInt(value)
		if !ok {
			return nil, fmt.Errorf("%w: %q is not a year", errInvalidValue, table.Text(value))
		}
		return func(cell table.Value) bool {
			ts, ok := table.ToTime(cell)
			return ok && int64(ts.Year()) == year
		}, nil
	default:
		return nil, fmt.Errorf("%w %q", errUnknownOperator, clause.RawOperator)
	}
}

func equalsPredicate(value table.Value) predicate {
	if value.IsNull() {
		return func(table.Value) bool { return false }
	}
	type aligned struct {
		value table.Value
		ok    bool
		done  bool
	}
	var cache [table.KindTime + 1]aligned
	text := table.Text(value)
	return func(cell table.Value) bool {
		if cell.IsNull() {
			return false
		}
		slot := &cache[cell.Kind()]
		if !slot.done {
			slot.value, slot.ok = table.Align(cell.Kind(), value)
			slot.done = true
		}
		if slot.ok {
			return table.Equal(cell, slot.value)
		}
		return table.Text(cell) == text
	}
}
