package xlsx

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/planlens/planlens/internal/dataset"
	"github.com/planlens/planlens/internal/table"
)

var builtinDateFormats = map[int]bool{
	14: true, 15: true, 16: true, 17: true, 18: true, 19: true,
	20: true, 21: true, 22: true, 45: true, 46: true, 47: true,
}

var textTimeLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

type Decoder struct{}

func NewDecoder() *Decoder {
	return &Decoder{}
}

func (d *Decoder) Decode(ctx context.Context, _ dataset.Format, body io.Reader, maxRows int) (*table.Table, error) {
	f, err := excelize.OpenReader(body)
	if err != nil {
		return nil, fmt.Errorf("%w: open workbook: %v", dataset.ErrInvalidData, err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", dataset.ErrEmpty)
	}
	sheet := sheets[0]
	rows, err := f.Rows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		return nil, fmt.Errorf("%w: sheet %q is empty", dataset.ErrEmpty, sheet)
	}
	header, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	names := make([]string, len(header))
	for i, name := range header {
		if name = strings.TrimSpace(name); name == "" {
			name = fmt.Sprintf("Unnamed: %d", i)
		}
		names[i] = name
	}
	builder := table.NewBuilder(table.UniqueNames(names))
	dates := dateStyles{file: f}

	for rowNum := 2; rows.Next(); rowNum++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cells, err := rows.Columns(excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", rowNum, err)
		}
		if blank(cells) {
			continue
		}
		if maxRows > 0 && builder.Len() >= maxRows {
			return nil, fmt.Errorf("%w: more than %d rows", dataset.ErrTooLarge, maxRows)
		}
		values := make([]table.Value, len(names))
		for c := range values {
			if c >= len(cells) {
				values[c] = table.Null()
				continue
			}
			values[c] = dates.value(sheet, c+1, rowNum, cells[c])
		}
		if err := builder.Append(values); err != nil {
			return nil, err
		}
	}
	if err := rows.Error(); err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	return builder.Build(), nil
}

func blank(cells []string) bool {
	for _, cell := range cells {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

type dateStyles struct {
	file  *excelize.File
	known map[int]bool
}

func (d *dateStyles) value(sheet string, col, row int, raw string) table.Value {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return table.Null()
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if d.isDate(sheet, col, row) {
			return d.excelTime(float64(n), raw)
		}
		return table.Int(n)
	}
	if x, err := strconv.ParseFloat(raw, 64); err == nil {
		if d.isDate(sheet, col, row) {
			return d.excelTime(x, raw)
		}
		return table.Float(x)
	}
	switch strings.ToUpper(raw) {
	case "TRUE":
		return table.Bool(true)
	case "FALSE":
		return table.Bool(false)
	}
	for _, layout := range textTimeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return table.Time(ts)
		}
	}
	return table.String(raw)
}

func (d *dateStyles) excelTime(serial float64, raw string) table.Value {
	ts, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return table.String(raw)
	}
	return table.Time(ts)
}

func (d *dateStyles) isDate(sheet string, col, row int) bool {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return false
	}
	id, err := d.file.GetCellStyle(sheet, cell)
	if err != nil || id == 0 {
		return false
	}
	if isDate, ok := d.known[id]; ok {
		return isDate
	}
	isDate := false
	if style, err := d.file.GetStyle(id); err == nil && style != nil {
		isDate = builtinDateFormats[style.NumFmt]
		if style.CustomNumFmt != nil {
			isDate = customDateFormat(*style.CustomNumFmt)
		}
	}
	if d.known == nil {
		d.known = map[int]bool{}
	}
	d.known[id] = isDate
	return isDate
}

func customDateFormat(code string) bool {
	var out strings.Builder
	inQuote, inBracket := false, false
	for _, r := range strings.ToLower(code) {
		switch {
		case r == '"':
			inQuote = !inQuote
		case inQuote:
		case r == '[':
			inBracket = true
		case r == ']':
			inBracket = false
		case inBracket:
		default:
			out.WriteRune(r)
		}
	}
	return strings.ContainsAny(out.String(), "yd")
}
