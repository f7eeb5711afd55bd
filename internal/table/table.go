package table

import (
	"fmt"
	"strconv"
)

type ColumnType string

const (
	TypeInteger  ColumnType = "integer"
	TypeFloat    ColumnType = "float"
	TypeString   ColumnType = "string"
	TypeBoolean  ColumnType = "boolean"
	TypeDatetime ColumnType = "datetime"
	TypeMixed    ColumnType = "mixed"
)

type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// Rows returned by Row share storage with the table and must not be modified.
type Table struct {
	columns []Column
	index   map[string]int
	rows    [][]Value
}

func New(columns []Column, rows [][]Value) (*Table, error) {
	index := make(map[string]int, len(columns))
	for i, column := range columns {
		if _, dup := index[column.Name]; dup {
			return nil, fmt.Errorf("duplicate column %q", column.Name)
		}
		index[column.Name] = i
	}
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("row %d has %d values, want %d", i, len(row), len(columns))
		}
	}
	cols := make([]Column, len(columns))
	copy(cols, columns)
	return &Table{columns: cols, index: index, rows: rows}, nil
}

func (t *Table) NumRows() int { return len(t.rows) }

func (t *Table) NumColumns() int { return len(t.columns) }

func (t *Table) Columns() []Column {
	out := make([]Column, len(t.columns))
	copy(out, t.columns)
	return out
}

func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.columns))
	for i, column := range t.columns {
		names[i] = column.Name
	}
	return names
}

func (t *Table) Column(i int) Column { return t.columns[i] }

func (t *Table) Index(name string) (int, bool) {
	i, ok := t.index[name]
	return i, ok
}

func (t *Table) Row(i int) []Value { return t.rows[i] }

func (t *Table) Value(row, column int) Value { return t.rows[row][column] }

func (t *Table) WithRows(rows [][]Value) *Table {
	return &Table{columns: t.columns, index: t.index, rows: rows}
}

func (t *Table) Filter(keep func(row []Value) bool) *Table {
	rows := make([][]Value, 0, len(t.rows))
	for _, row := range t.rows {
		if keep(row) {
			rows = append(rows, row)
		}
	}
	return t.WithRows(rows)
}

func (t *Table) Head(n int) *Table {
	if n < 0 {
		n = 0
	}
	if n >= len(t.rows) {
		return t
	}
	return t.WithRows(t.rows[:n:n])
}

func (t *Table) Rows() [][]Value {
	out := make([][]Value, len(t.rows))
	copy(out, t.rows)
	return out
}

func (t *Table) Records() []Record {
	records := make([]Record, len(t.rows))
	for i, row := range t.rows {
		record := make(Record, len(t.columns))
		for j, column := range t.columns {
			record[j] = Field{Name: column.Name, Value: row[j]}
		}
		records[i] = record
	}
	return records
}

type Builder struct {
	names []string
	rows  [][]Value
}

func NewBuilder(names []string) *Builder {
	return &Builder{names: UniqueNames(names)}
}

func (b *Builder) Append(row []Value) error {
	if len(row) != len(b.names) {
		return fmt.Errorf("row %d has %d values, want %d", len(b.rows), len(row), len(b.names))
	}
	b.rows = append(b.rows, row)
	return nil
}

func (b *Builder) Len() int { return len(b.rows) }

func (b *Builder) Build() *Table {
	columns := make([]Column, len(b.names))
	for c, name := range b.names {
		columnType := inferType(b.rows, c)
		if columnType == TypeFloat {
			widenInts(b.rows, c)
		}
		columns[c] = Column{Name: name, Type: columnType}
	}
	t, err := New(columns, b.rows)
	if err != nil {
		// names are unique and rows were width-checked by Append
		panic(err)
	}
	return t
}

func UniqueNames(names []string) []string {
	out := make([]string, len(names))
	seen := make(map[string]struct{}, len(names))
	for i, name := range names {
		if name == "" {
			name = "column_" + strconv.Itoa(i)
		}
		candidate := name
		for n := 1; ; n++ {
			if _, taken := seen[candidate]; !taken {
				break
			}
			candidate = name + "." + strconv.Itoa(n)
		}
		seen[candidate] = struct{}{}
		out[i] = candidate
	}
	return out
}

func inferType(rows [][]Value, c int) ColumnType {
	var seen [KindTime + 1]bool
	for _, row := range rows {
		seen[row[c].kind] = true
	}
	kinds := 0
	for k := KindInt; k <= KindTime; k++ {
		if seen[k] {
			kinds++
		}
	}
	switch {
	case kinds == 0:
		return TypeMixed
	case kinds == 2 && seen[KindInt] && seen[KindFloat]:
		return TypeFloat
	case kinds > 1:
		return TypeMixed
	case seen[KindInt]:
		return TypeInteger
	case seen[KindFloat]:
		return TypeFloat
	case seen[KindString]:
		return TypeString
	case seen[KindBool]:
		return TypeBoolean
	default:
		return TypeDatetime
	}
}

func widenInts(rows [][]Value, c int) {
	for _, row := range rows {
		if row[c].kind == KindInt {
			row[c] = Float(float64(row[c].i))
		}
	}
}
