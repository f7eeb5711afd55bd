package engine

import (
	"fmt"
	"sort"

	"github.com/planlens/planlens/internal/plan"
	"github.com/planlens/planlens/internal/table"
)

// Nulls sort last in either direction.
func (e *Executor) orderAndLimit(t *table.Table, order *plan.Sort, limit int) (*table.Table, []Outcome) {
	var outcomes []Outcome
	if order != nil {
		col, ok := t.Index(order.Column)
		if !ok {
			outcomes = append(outcomes, Outcome{Stage: StageSort, Column: order.Column, Status: StatusSkipped, Reason: fmt.Sprintf("%s %q", errUnknownColumn, order.Column)})
		} else {
			rows := t.Rows()
			desc := order.Order != plan.Asc
			sort.SliceStable(rows, func(i, j int) bool {
				a, b := rows[i][col], rows[j][col]
				if a.IsNull() || b.IsNull() {
					return !a.IsNull() && b.IsNull()
				}
				if desc {
					return table.Compare(b, a) < 0
				}
				return table.Compare(a, b) < 0
			})
			t = t.WithRows(rows)
			outcomes = append(outcomes, Outcome{Stage: StageSort, Column: order.Column, Status: StatusApplied})
		}
	}
	if limit > 0 {
		t = t.Head(limit)
		rows := t.NumRows()
		outcomes = append(outcomes, Outcome{Stage: StageLimit, Status: StatusApplied, Rows: &rows})
	}
	if capRows := e.limits.MaxResultRows; capRows > 0 && t.NumRows() > capRows {
		outcomes = append(outcomes, Outcome{Stage: StageLimit, Status: StatusTruncated, Reason: fmt.Sprintf("result capped at %d of %d rows", capRows, t.NumRows())})
		t = t.Head(capRows)
	}
	return t, outcomes
}
