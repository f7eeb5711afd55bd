package engine

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/planlens/planlens/internal/plan"
	"github.com/planlens/planlens/internal/table"
)

var errInvalidGroupBy = errors.New("Invalid group by columns")

type boundMetric struct {
	metric plan.Metric
	index  int
	column int
}

func bindMetrics(t *table.Table, metrics []plan.Metric, taken map[string]struct{}) ([]boundMetric, []Outcome) {
	bound := make([]boundMetric, 0, len(metrics))
	outcomes := make([]Outcome, 0, len(metrics))
	for i, metric := range metrics {
		col, ok := t.Index(metric.Column)
		if !ok {
			outcomes = append(outcomes, Outcome{Stage: StageMetric, Index: i, Column: metric.Column, Status: StatusSkipped, Reason: fmt.Sprintf("%s %q", errUnknownColumn, metric.Column)})
			continue
		}
		name := metric.Name()
		if _, dup := taken[name]; dup {
			outcomes = append(outcomes, Outcome{Stage: StageMetric, Index: i, Column: metric.Column, Status: StatusSkipped, Reason: fmt.Sprintf("duplicate output column %q", name)})
			continue
		}
		taken[name] = struct{}{}
		if metric.Defaulted {
			outcomes = append(outcomes, Outcome{Stage: StageMetric, Index: i, Column: metric.Column, Status: StatusDefaulted, Reason: fmt.Sprintf("unknown operation %q, using count", metric.RawOperation)})
		} else {
			outcomes = append(outcomes, Outcome{Stage: StageMetric, Index: i, Column: metric.Column, Status: StatusApplied})
		}
		bound = append(bound, boundMetric{metric: metric, index: i, column: col})
	}
	return bound, outcomes
}

func aggregateScalars(t *table.Table, metrics []plan.Metric) (table.Record, []Outcome) {
	if len(metrics) == 0 {
		return table.Record{{Name: "count", Value: table.Int(int64(t.NumRows()))}}, nil
	}
	bound, outcomes := bindMetrics(t, metrics, map[string]struct{}{})
	record := make(table.Record, 0, len(bound))
	values := make([]table.Value, t.NumRows())
	for _, m := range bound {
		for r := range values {
			values[r] = t.Value(r, m.column)
		}
		record = append(record, table.Field{
			Name:  m.metric.Name(),
			Value: compute(m.metric.Operation, values, t.Column(m.column).Type),
		})
	}
	return record, outcomes
}

type group struct {
	key  []table.Value
	rows []int
}

func aggregateGroups(t *table.Table, groupBy []string, metrics []plan.Metric) (*table.Table, []Outcome, error) {
	outcomes := make([]Outcome, 0, len(groupBy)+len(metrics))
	groupCols := make([]int, 0, len(groupBy))
	taken := make(map[string]struct{}, len(groupBy))
	for i, name := range groupBy {
		col, ok := t.Index(name)
		if !ok {
			outcomes = append(outcomes, Outcome{Stage: StageGroupBy, Index: i, Column: name, Status: StatusSkipped, Reason: fmt.Sprintf("%s %q", errUnknownColumn, name)})
			continue
		}
		if _, dup := taken[name]; dup {
			outcomes = append(outcomes, Outcome{Stage: StageGroupBy, Index: i, Column: name, Status: StatusSkipped, Reason: "duplicate group by column"})
			continue
		}
		taken[name] = struct{}{}
		groupCols = append(groupCols, col)
		outcomes = append(outcomes, Outcome{Stage: StageGroupBy, Index: i, Column: name, Status: StatusApplied})
	}
	if len(groupCols) == 0 {
		return nil, outcomes, errInvalidGroupBy
	}

	bound, metricOutcomes := bindMetrics(t, metrics, taken)
	outcomes = append(outcomes, metricOutcomes...)

	groups := make([]*group, 0)
	byKey := make(map[string]*group)
	key := make([]table.Value, len(groupCols))
rows:
	for r := 0; r < t.NumRows(); r++ {
		for i, col := range groupCols {
			v := t.Value(r, col)
			if v.IsNull() {
				continue rows
			}
			key[i] = v
		}
		k := table.Key(key...)
		g, ok := byKey[k]
		if !ok {
			g = &group{key: append([]table.Value(nil), key...)}
			byKey[k] = g
			groups = append(groups, g)
		}
		g.rows = append(g.rows, r)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		for c := range groupCols {
			if cmp := table.Compare(groups[i].key[c], groups[j].key[c]); cmp != 0 {
				return cmp < 0
			}
		}
		return false
	})

	columns := make([]table.Column, 0, len(groupCols)+max(len(bound), 1))
	for _, col := range groupCols {
		columns = append(columns, t.Column(col))
	}
	if len(bound) == 0 {
		columns = append(columns, table.Column{Name: "count", Type: table.TypeInteger})
	}
	for _, m := range bound {
		columns = append(columns, table.Column{Name: m.metric.Name(), Type: resultType(m.metric.Operation, t.Column(m.column).Type)})
	}

	out := make([][]table.Value, 0, len(groups))
	for _, g := range groups {
		row := make([]table.Value, 0, len(columns))
		row = append(row, g.key...)
		if len(bound) == 0 {
			row = append(row, table.Int(int64(len(g.rows))))
		}
		values := make([]table.Value, len(g.rows))
		for _, m := range bound {
			for i, r := range g.rows {
				values[i] = t.Value(r, m.column)
			}
			row = append(row, compute(m.metric.Operation, values, t.Column(m.column).Type))
		}
		out = append(out, row)
	}

	result, err := table.New(columns, out)
	if err != nil {
		return nil, outcomes, fmt.Errorf("build aggregate table: %w", err)
	}
	return result, outcomes, nil
}

func compute(op plan.Operation, values []table.Value, columnType table.ColumnType) table.Value {
	if op == plan.OpCount {
		n := 0
		for _, v := range values {
			if !v.IsNull() {
				n++
			}
		}
		return table.Int(int64(n))
	}

	var (
		n        int
		integral = true
		isum     int64
		overflow bool
		fsum     float64
		lo, hi   float64
		ilo, ihi int64
	)
	for _, v := range values {
		f, ok := table.ToFloat(v)
		if !ok {
			continue
		}
		i, isInt := integralValue(v)
		if !isInt {
			integral = false
		}
		if n == 0 {
			lo, hi, ilo, ihi = f, f, i, i
		} else {
			lo, hi = math.Min(lo, f), math.Max(hi, f)
			if isInt {
				ilo, ihi = min(ilo, i), max(ihi, i)
			}
		}
		if isInt && !overflow {
			next := isum + i
			if (i > 0 && next < isum) || (i < 0 && next > isum) {
				overflow = true
			}
			isum = next
		}
		fsum += f
		n++
	}

	switch op {
	case plan.OpSum:
		if n == 0 {
			if columnType == table.TypeInteger || columnType == table.TypeBoolean {
				return table.Int(0)
			}
			return table.Float(0)
		}
		if integral && !overflow {
			return table.Int(isum)
		}
		return table.Float(fsum)
	case plan.OpAvg:
		if n == 0 {
			return table.Null()
		}
		return table.Float(fsum / float64(n))
	case plan.OpMin:
		if n == 0 {
			return table.Null()
		}
		if integral {
			return table.Int(ilo)
		}
		return table.Float(lo)
	case plan.OpMax:
		if n == 0 {
			return table.Null()
		}
		if integral {
			return table.Int(ihi)
		}
		return table.Float(hi)
	default:
		return table.Null()
	}
}

func integralValue(v table.Value) (int64, bool) {
	if i, ok := v.AsInt(); ok {
		return i, true
	}
	if b, ok := v.AsBool(); ok {
		if b {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func resultType(op plan.Operation, source table.ColumnType) table.ColumnType {
	switch op {
	case plan.OpCount:
		return table.TypeInteger
	case plan.OpAvg:
		return table.TypeFloat
	default:
		if source == table.TypeInteger {
			return table.TypeInteger
		}
		if source == table.TypeFloat {
			return table.TypeFloat
		}
		return table.TypeMixed
	}
}
