package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/planlens/planlens/internal/dataset"
	"github.com/planlens/planlens/internal/table"
)

type Decoder struct {
	TempDir string
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

func (d *Decoder) Decode(ctx context.Context, format dataset.Format, body io.Reader, maxRows int) (*table.Table, error) {
	reader, err := sourceFunction(format)
	if err != nil {
		return nil, err
	}

	workDir, err := os.MkdirTemp(d.TempDir, "planlens-decode-")
	if err != nil {
		return nil, fmt.Errorf("create decode temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	source, err := utf8Reader(body)
	if err != nil {
		return nil, err
	}
	localPath, err := spool(workDir, format, source)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	defer func() { _ = db.Close() }()

	sqlText := fmt.Sprintf("SELECT * FROM %s", fmt.Sprintf(reader, quoteString(localPath)))
	if maxRows > 0 {
		sqlText = fmt.Sprintf("%s LIMIT %d", sqlText, maxRows+1)
	}
	rows, err := db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, fmt.Errorf("read %s source: %w", format, err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("source columns: %w", err)
	}

	builder := table.NewBuilder(columns)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if maxRows > 0 && builder.Len() >= maxRows {
			return nil, fmt.Errorf("%w: more than %d rows", dataset.ErrTooLarge, maxRows)
		}
		if err := builder.Append(normalizeValues(values)); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return builder.Build(), nil
}

func sourceFunction(format dataset.Format) (string, error) {
	switch format {
	case dataset.FormatCSV:
		return "read_csv_auto(%s, header = true, sample_size = -1)", nil
	case dataset.FormatTSV:
		return "read_csv_auto(%s, header = true, delim = '\t', sample_size = -1)", nil
	case dataset.FormatJSON:
		return "read_json_auto(%s, format = 'array')", nil
	case dataset.FormatNDJSON:
		return "read_json_auto(%s, format = 'newline_delimited')", nil
	default:
		return "", fmt.Errorf("%w: %s", dataset.ErrUnsupportedFormat, format)
	}
}

func normalizeValues(values []any) []table.Value {
	normalized := make([]table.Value, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case map[string]any, []any:
			encoded, err := json.Marshal(typed)
			if err != nil {
				normalized[i] = table.String(fmt.Sprint(typed))
				continue
			}
			normalized[i] = table.String(string(encoded))
		default:
			normalized[i] = table.FromAny(typed)
		}
	}
	return normalized
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}

func spool(workDir string, format dataset.Format, body io.Reader) (string, error) {
	localPath := filepath.Join(workDir, "source."+format.Extension())
	f, err := os.Create(localPath)
	if err != nil {
		return "", fmt.Errorf("create spool file: %w", err)
	}
	_, copyErr := io.Copy(f, body)
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		return "", fmt.Errorf("spool %s source: %w", format, err)
	}
	return localPath, nil
}
