package cleaning

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/planlens/planlens/internal/table"
)

type Action string

const (
	ActionDropNulls      Action = "DROP_NULLS"
	ActionFillNulls      Action = "FILL_NULLS"
	ActionDropDuplicates Action = "DROP_DUPLICATES"
	ActionRenameColumn   Action = "RENAME_COLUMN"
)

const DropThreshold = 40.0

const (
	fillMean   = "mean"
	fillMedian = "median"
	fillMode   = "mode"
)

var ErrInvalidSuggestions = errors.New("invalid cleaning suggestions")

type Suggestion struct {
	Action Action `json:"action"`
	Column string `json:"column,omitempty"`
	Value  any    `json:"value,omitempty"`
	Reason string `json:"reason"`
}

type Skipped struct {
	Suggestion Suggestion `json:"suggestion"`
	Error      string     `json:"error"`
}

type Result struct {
	Table   *table.Table
	Applied []Suggestion
	Skipped []Skipped
}

func RuleBased(t *table.Table) []Suggestion {
	total := t.NumRows()
	suggestions := make([]Suggestion, 0)
	if total == 0 {
		return suggestions
	}
	for c, column := range t.Columns() {
		missing := 0
		for r := range total {
			if t.Value(r, c).IsNull() {
				missing++
			}
		}
		if missing == 0 {
			continue
		}
		pct := float64(missing) / float64(total) * 100
		if pct >= DropThreshold {
			suggestions = append(suggestions, Suggestion{
				Action: ActionDropNulls,
				Column: column.Name,
				Reason: fmt.Sprintf("%.1f%% values missing in '%s'. Dropping rows with nulls in this column.", pct, column.Name),
			})
			continue
		}
		var value any = fillMedian
		desc := fillMedian
		if !numeric(column.Type) {
			desc = fillMode
			if mode, ok := modeOf(t, c); ok {
				value = mode
			} else {
				value = "Unknown"
			}
		}
		suggestions = append(suggestions, Suggestion{
			Action: ActionFillNulls,
			Column: column.Name,
			Value:  value,
			Reason: fmt.Sprintf("%.1f%% values missing in '%s'. Fill using %s.", pct, column.Name, desc),
		})
	}
	if dups := t.Health().DuplicateRows; dups > 0 {
		suggestions = append(suggestions, Suggestion{
			Action: ActionDropDuplicates,
			Reason: fmt.Sprintf("Detected %d duplicate rows. Remove duplicates to clean the dataset.", dups),
		})
	}
	return suggestions
}

func Parse(raw json.RawMessage) ([]Suggestion, error) {
	trimmed := strings.TrimSpace(string(raw))
	var list []Suggestion
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal([]byte(trimmed), &list); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSuggestions, err)
		}
	} else {
		var wrapper struct {
			Suggestions *[]Suggestion `json:"suggestions"`
		}
		if err := json.Unmarshal([]byte(trimmed), &wrapper); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSuggestions, err)
		}
		if wrapper.Suggestions == nil {
			return nil, fmt.Errorf("%w: suggestions list is missing", ErrInvalidSuggestions)
		}
		list = *wrapper.Suggestions
	}
	out := make([]Suggestion, 0, len(list))
	for _, s := range list {
		s.Action = Action(strings.ToUpper(strings.TrimSpace(string(s.Action))))
		if s.Action == "" {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func Apply(t *table.Table, suggestions []Suggestion) Result {
	w := newWorking(t)
	res := Result{Applied: make([]Suggestion, 0, len(suggestions)), Skipped: make([]Skipped, 0)}
	for _, s := range suggestions {
		if err := w.apply(s); err != nil {
			res.Skipped = append(res.Skipped, Skipped{Suggestion: s, Error: err.Error()})
			continue
		}
		res.Applied = append(res.Applied, s)
	}
	res.Table = w.build()
	return res
}

type working struct {
	names []string
	types []table.ColumnType
	rows  [][]table.Value
}

func newWorking(t *table.Table) *working {
	w := &working{
		names: t.ColumnNames(),
		types: make([]table.ColumnType, t.NumColumns()),
		rows:  make([][]table.Value, t.NumRows()),
	}
	for i, column := range t.Columns() {
		w.types[i] = column.Type
	}
	for r := range w.rows {
		w.rows[r] = slices.Clone(t.Row(r))
	}
	return w
}

func (w *working) index(name string) (int, error) {
	if i := slices.Index(w.names, name); i >= 0 {
		return i, nil
	}
	return 0, fmt.Errorf("unknown column %q", name)
}

func (w *working) apply(s Suggestion) error {
	switch s.Action {
	case ActionDropNulls:
		return w.dropNulls(s.Column)
	case ActionFillNulls:
		return w.fillNulls(s.Column, s.Value)
	case ActionDropDuplicates:
		w.dropDuplicates()
		return nil
	case ActionRenameColumn:
		return w.rename(s.Column, s.Value)
	default:
		return fmt.Errorf("unsupported action %q", s.Action)
	}
}

func (w *working) dropNulls(column string) error {
	columns := make([]int, 0, len(w.names))
	if column == "" {
		for i := range w.names {
			columns = append(columns, i)
		}
	} else {
		c, err := w.index(column)
		if err != nil {
			return err
		}
		columns = append(columns, c)
	}
	w.rows = slices.DeleteFunc(w.rows, func(row []table.Value) bool {
		return slices.ContainsFunc(columns, func(c int) bool { return row[c].IsNull() })
	})
	return nil
}

func (w *working) fillNulls(column string, raw any) error {
	if column == "" {
		return fmt.Errorf("column is required")
	}
	if raw == nil {
		return fmt.Errorf("fill value is required")
	}
	c, err := w.index(column)
	if err != nil {
		return err
	}
	fill, err := w.resolveFill(c, raw)
	if err != nil {
		return err
	}
	for _, row := range w.rows {
		if row[c].IsNull() {
			row[c] = fill
		}
	}
	return nil
}

func (w *working) resolveFill(c int, raw any) (table.Value, error) {
	if keyword, ok := raw.(string); ok {
		switch strings.ToLower(strings.TrimSpace(keyword)) {
		case fillMean:
			values := w.numbers(c)
			if len(values) == 0 {
				return table.Null(), fmt.Errorf("column %q has no numeric values", w.names[c])
			}
			sum := 0.0
			for _, v := range values {
				sum += v
			}
			return table.Float(sum / float64(len(values))), nil
		case fillMedian:
			values := w.numbers(c)
			if len(values) == 0 {
				return table.Null(), fmt.Errorf("column %q has no numeric values", w.names[c])
			}
			return numberValue(median(values)), nil
		case fillMode:
			mode, ok := modeOfRows(w.rows, c)
			if !ok {
				return table.Null(), fmt.Errorf("column %q has no values", w.names[c])
			}
			return mode, nil
		}
	}
	v := table.FromAny(raw)
	if v.IsNull() {
		return v, fmt.Errorf("fill value is required")
	}
	if kind, ok := kindOf(w.types[c]); ok {
		if aligned, ok := table.Align(kind, v); ok {
			if f, isFloat := aligned.AsFloat(); isFloat && kind == table.KindInt {
				return numberValue(f), nil
			}
			return aligned, nil
		}
	}
	return v, nil
}

func (w *working) numbers(c int) []float64 {
	values := make([]float64, 0, len(w.rows))
	for _, row := range w.rows {
		if row[c].IsNull() {
			continue
		}
		if f, ok := table.ToFloat(row[c]); ok && row[c].Kind() != table.KindBool {
			values = append(values, f)
		}
	}
	return values
}

func (w *working) dropDuplicates() {
	seen := make(map[string]struct{}, len(w.rows))
	w.rows = slices.DeleteFunc(w.rows, func(row []table.Value) bool {
		key := table.Key(row...)
		if _, dup := seen[key]; dup {
			return true
		}
		seen[key] = struct{}{}
		return false
	})
}

func (w *working) rename(column string, raw any) error {
	c, err := w.index(column)
	if err != nil {
		return err
	}
	name, _ := raw.(string)
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("new column name is required")
	}
	if name == column {
		return nil
	}
	if slices.Contains(w.names, name) {
		return fmt.Errorf("column %q already exists", name)
	}
	w.names[c] = name
	return nil
}

func (w *working) build() *table.Table {
	b := table.NewBuilder(w.names)
	for _, row := range w.rows {
		// rows were cloned with the table's width
		_ = b.Append(row)
	}
	return b.Build()
}

func numeric(t table.ColumnType) bool {
	return t == table.TypeInteger || t == table.TypeFloat
}

func kindOf(t table.ColumnType) (table.Kind, bool) {
	switch t {
	case table.TypeInteger:
		return table.KindInt, true
	case table.TypeFloat:
		return table.KindFloat, true
	case table.TypeString:
		return table.KindString, true
	case table.TypeBoolean:
		return table.KindBool, true
	case table.TypeDatetime:
		return table.KindTime, true
	default:
		return table.KindNull, false
	}
}

func median(values []float64) float64 {
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func numberValue(f float64) table.Value {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return table.Int(int64(f))
	}
	return table.Float(f)
}

func modeOf(t *table.Table, c int) (table.Value, bool) {
	return modeOfRows(t.Rows(), c)
}

// Ties go to the smallest value.
func modeOfRows(rows [][]table.Value, c int) (table.Value, bool) {
	counts := make(map[string]int)
	values := make(map[string]table.Value)
	for _, row := range rows {
		v := row[c]
		if v.IsNull() {
			continue
		}
		key := table.Key(v)
		counts[key]++
		values[key] = v
	}
	var best table.Value
	bestCount := 0
	for key, count := range counts {
		v := values[key]
		if count > bestCount || (count == bestCount && table.Compare(v, best) < 0) {
			best, bestCount = v, count
		}
	}
	return best, bestCount > 0
}
