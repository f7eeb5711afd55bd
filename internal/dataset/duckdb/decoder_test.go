package duckdb

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/planlens/planlens/internal/dataset"
	"github.com/planlens/planlens/internal/table"
)

func TestDecodeCSVInfersColumnTypes(t *testing.T) {
	body := "City,Sales,Order Date\nA,10,2017-01-03\nB,20,2018-05-01\nA,5,2017-09-09\n"
	got, err := NewDecoder().Decode(context.Background(), dataset.FormatCSV, strings.NewReader(body), 0)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.NumRows() != 3 || strings.Join(got.ColumnNames(), ",") != "City,Sales,Order Date" {
		t.Fatalf("table = %d rows, columns %v", got.NumRows(), got.ColumnNames())
	}
	want := []table.ColumnType{table.TypeString, table.TypeInteger, table.TypeDatetime}
	for i, column := range got.Columns() {
		if column.Type != want[i] {
			t.Fatalf("column %q type = %q, want %q", column.Name, column.Type, want[i])
		}
	}
	if !table.Equal(got.Value(1, 1), table.Int(20)) {
		t.Fatalf("value = %v", got.Value(1, 1))
	}
}

func TestDecodeTSVAndNDJSON(t *testing.T) {
	tsv, err := NewDecoder().Decode(context.Background(), dataset.FormatTSV, strings.NewReader("a\tb\n1\tx\n"), 0)
	if err != nil {
		t.Fatalf("Decode(tsv) error = %v", err)
	}
	if tsv.NumColumns() != 2 || tsv.NumRows() != 1 {
		t.Fatalf("tsv columns = %v", tsv.ColumnNames())
	}

	ndjson, err := NewDecoder().Decode(context.Background(), dataset.FormatNDJSON, strings.NewReader("{\"a\": 1, \"b\": \"x\"}\n{\"a\": 2, \"b\": null}\n"), 0)
	if err != nil {
		t.Fatalf("Decode(ndjson) error = %v", err)
	}
	if ndjson.NumRows() != 2 || !ndjson.Value(1, 1).IsNull() {
		t.Fatalf("ndjson rows = %v", ndjson.Records())
	}
}

func TestDecodeJSONArray(t *testing.T) {
	got, err := NewDecoder().Decode(context.Background(), dataset.FormatJSON, strings.NewReader(`[{"k": "a", "v": 1.5}, {"k": "b", "v": 2}]`), 0)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.NumRows() != 2 || got.Column(1).Type != table.TypeFloat {
		t.Fatalf("columns = %+v", got.Columns())
	}
}

func TestDecodeEnforcesMaxRows(t *testing.T) {
	_, err := NewDecoder().Decode(context.Background(), dataset.FormatCSV, strings.NewReader("a\n1\n2\n3\n"), 2)
	if !errors.Is(err, dataset.ErrTooLarge) {
		t.Fatalf("Decode() error = %v", err)
	}
}

func TestDecodeRejectsParquet(t *testing.T) {
	_, err := NewDecoder().Decode(context.Background(), dataset.FormatParquet, strings.NewReader(""), 0)
	if !errors.Is(err, dataset.ErrUnsupportedFormat) {
		t.Fatalf("Decode() error = %v", err)
	}
}

func TestUTF8ReaderFallsBackToWindows1252(t *testing.T) {
	cases := map[string]string{
		"caf\xe9":          "café",
		"café":             "café",
		"\xef\xbb\xbfname": "name",
	}
	for in, want := range cases {
		r, err := utf8Reader(strings.NewReader(in))
		if err != nil {
			t.Fatalf("utf8Reader() error = %v", err)
		}
		out, err := io.ReadAll(r)
		if err != nil {
			t.Fatalf("ReadAll() error = %v", err)
		}
		if string(out) != want {
			t.Fatalf("utf8Reader(%q) = %q, want %q", in, out, want)
		}
	}
}

func TestDecodeFallsBackWhenLegacyByteIsFarIntoFile(t *testing.T) {
	var b strings.Builder
	b.WriteString("city,sales\n")
	for b.Len() < 70<<10 {
		b.WriteString("Paris,1\n")
	}
	b.WriteString("caf\xe9,2\n")

	tbl, err := NewDecoder().Decode(context.Background(), dataset.FormatCSV, strings.NewReader(b.String()), 0)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	last := tbl.NumRows() - 1
	if got := tbl.Value(last, 0).String(); got != "café" {
		t.Fatalf("last city = %q, want %q", got, "café")
	}
}
