package dataset

import (
	"fmt"
	"path"
	"strings"
)

type Format string

const (
	FormatCSV     Format = "csv"
	FormatTSV     Format = "tsv"
	FormatJSON    Format = "json"
	FormatNDJSON  Format = "ndjson"
	FormatParquet Format = "parquet"
	FormatXLSX    Format = "xlsx"
)

var formatsByExtension = map[string]Format{
	".csv":     FormatCSV,
	".tsv":     FormatTSV,
	".txt":     FormatCSV,
	".json":    FormatJSON,
	".ndjson":  FormatNDJSON,
	".jsonl":   FormatNDJSON,
	".parquet": FormatParquet,
	".xlsx":    FormatXLSX,
	".xlsm":    FormatXLSX,
}

func FormatFromFilename(filename string) (Format, error) {
	ext := strings.ToLower(path.Ext(strings.TrimSpace(filename)))
	format, ok := formatsByExtension[ext]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	return format, nil
}

func ParseFormat(raw string) (Format, error) {
	switch format := Format(strings.ToLower(strings.TrimSpace(raw))); format {
	case FormatCSV, FormatTSV, FormatJSON, FormatNDJSON, FormatParquet, FormatXLSX:
		return format, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, raw)
	}
}

func (f Format) Extension() string { return string(f) }

func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatTSV:
		return "text/tab-separated-values"
	case FormatJSON:
		return "application/json"
	case FormatNDJSON:
		return "application/x-ndjson"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}
