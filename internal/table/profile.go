package table

import (
	"math"
	"sort"
)

const (
	MinPreviewRows = 1
	MaxPreviewRows = 100
)

type NullStat struct {
	Column         string  `json:"column"`
	NullCount      int     `json:"null_count"`
	NullPercentage float64 `json:"null_percentage"`
}

type Health struct {
	TotalRows     int        `json:"total_rows"`
	DuplicateRows int        `json:"duplicate_rows"`
	NullAnalysis  []NullStat `json:"null_analysis_top_5"`
}

type Profile struct {
	Rows        int                   `json:"rows"`
	Columns     int                   `json:"columns"`
	ColumnNames []string              `json:"column_names"`
	Types       map[string]ColumnType `json:"dtypes"`
	Preview     []Record              `json:"preview"`
}

func ClampPreviewRows(requested, fallback int) int {
	if requested <= 0 {
		requested = fallback
	}
	return max(MinPreviewRows, min(requested, MaxPreviewRows))
}

func (t *Table) Profile(previewRows int) Profile {
	types := make(map[string]ColumnType, len(t.columns))
	for _, column := range t.columns {
		types[column.Name] = column.Type
	}
	return Profile{
		Rows:        t.NumRows(),
		Columns:     t.NumColumns(),
		ColumnNames: t.ColumnNames(),
		Types:       types,
		Preview:     t.Head(ClampPreviewRows(previewRows, 5)).Records(),
	}
}

func (t *Table) Health() Health {
	total := t.NumRows()
	seen := make(map[string]struct{}, total)
	duplicates := 0
	nulls := make([]int, len(t.columns))
	for _, row := range t.rows {
		key := Key(row...)
		if _, ok := seen[key]; ok {
			duplicates++
		} else {
			seen[key] = struct{}{}
		}
		for c, v := range row {
			if v.IsNull() {
				nulls[c]++
			}
		}
	}

	stats := make([]NullStat, 0)
	for c, count := range nulls {
		if count == 0 {
			continue
		}
		stats = append(stats, NullStat{
			Column:         t.columns[c].Name,
			NullCount:      count,
			NullPercentage: math.Round(float64(count)/float64(total)*1000) / 10,
		})
	}
	sort.SliceStable(stats, func(i, j int) bool { return stats[i].NullPercentage > stats[j].NullPercentage })
	if len(stats) > 5 {
		stats = stats[:5]
	}
	return Health{TotalRows: total, DuplicateRows: duplicates, NullAnalysis: stats}
}
