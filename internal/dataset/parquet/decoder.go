package parquet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/format"

	"github.com/planlens/planlens/internal/dataset"
	"github.com/planlens/planlens/internal/table"
)

type Decoder struct{}

func NewDecoder() *Decoder {
	return &Decoder{}
}

func (d *Decoder) Decode(ctx context.Context, _ dataset.Format, body io.Reader, maxRows int) (*table.Table, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read parquet source: %w", err)
	}
	file, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open parquet file: %w", err)
	}

	fields := file.Schema().Fields()
	names := make([]string, len(fields))
	converters := make([]func(any) table.Value, len(fields))
	for i, field := range fields {
		names[i] = field.Name()
		converters[i] = converterFor(field)
	}

	reader := parquet.NewReader(file)
	defer func() { _ = reader.Close() }()

	builder := table.NewBuilder(names)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row := make(map[string]any)
		if err := reader.Read(&row); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read parquet row: %w", err)
		}
		if maxRows > 0 && builder.Len() >= maxRows {
			return nil, fmt.Errorf("%w: more than %d rows", dataset.ErrTooLarge, maxRows)
		}
		values := make([]table.Value, len(fields))
		for i, field := range fields {
			values[i] = converters[i](row[field.Name()])
		}
		if err := builder.Append(values); err != nil {
			return nil, err
		}
	}
	return builder.Build(), nil
}

func converterFor(field parquet.Field) func(any) table.Value {
	if !field.Leaf() {
		return jsonValue
	}
	logical := field.Type().LogicalType()
	switch {
	case logical == nil:
		return table.FromAny
	case logical.Date != nil:
		return dateValue
	case logical.Timestamp != nil:
		return timestampValue(logical.Timestamp.Unit)
	default:
		return table.FromAny
	}
}

func dateValue(raw any) table.Value {
	days, ok := integer(raw)
	if !ok {
		return table.FromAny(raw)
	}
	return table.Time(time.Unix(days*86400, 0).UTC())
}

func timestampValue(unit format.TimeUnit) func(any) table.Value {
	return func(raw any) table.Value {
		n, ok := integer(raw)
		if !ok {
			return table.FromAny(raw)
		}
		switch {
		case unit.Millis != nil:
			return table.Time(time.UnixMilli(n).UTC())
		case unit.Nanos != nil:
			return table.Time(time.Unix(0, n).UTC())
		default:
			return table.Time(time.UnixMicro(n).UTC())
		}
	}
}

func jsonValue(raw any) table.Value {
	if raw == nil {
		return table.Null()
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return table.String(fmt.Sprint(raw))
	}
	return table.String(string(encoded))
}

func integer(raw any) (int64, bool) {
	switch typed := raw.(type) {
	case int32:
		return int64(typed), true
	case int64:
		return typed, true
	case int:
		return int64(typed), true
	default:
		return 0, false
	}
}
