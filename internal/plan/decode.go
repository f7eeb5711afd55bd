package plan

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/planlens/planlens/internal/table"
)

var ErrNotObject = errors.New("plan must be a JSON object")

// Only a payload that is not a JSON object is an error; other defects land in Plan.Issues.
func Decode(raw []byte) (Plan, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var doc any
	if err := decoder.Decode(&doc); err != nil {
		return Plan{}, fmt.Errorf("decode plan: %w", err)
	}
	if decoder.More() {
		return Plan{}, fmt.Errorf("decode plan: trailing data after plan object")
	}
	object, ok := doc.(map[string]any)
	if !ok {
		return Plan{}, ErrNotObject
	}
	return FromMap(object), nil
}

func FromMap(doc map[string]any) Plan {
	d := &decoder{}
	p := Plan{
		QueryType: QueryMetadata,
	}

	switch raw := doc["query_type"].(type) {
	case nil:
		p.RawQueryType = string(QueryMetadata)
	case string:
		p.RawQueryType = raw
		p.QueryType = QueryType(raw)
	default:
		p.RawQueryType = literal(raw)
		p.QueryType = ""
	}

	p.Filters = d.filters(doc["filters"])
	p.Metrics = d.metrics(doc["metrics"])
	p.GroupBy = d.groupBy(doc["group_by"])
	p.Sort = d.sort(doc["sort"])
	p.Limit = d.limit(doc["limit"])
	p.Chart = d.chart(doc["chart"])
	if explanation, ok := doc["explanation"].(string); ok {
		p.Explanation = explanation
	}
	p.Issues = d.issues
	return p
}

type decoder struct {
	issues []Issue
}

func (d *decoder) issue(field, format string, args ...any) {
	d.issues = append(d.issues, Issue{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (d *decoder) filters(raw any) []Clause {
	if raw == nil {
		return nil
	}
	items, ok := raw.([]any)
	if !ok {
		d.issue("filters", "expected a list, got %s", typeName(raw))
		return nil
	}
	clauses := make([]Clause, 0, len(items))
	for i, item := range items {
		field := fmt.Sprintf("filters[%d]", i)
		object, ok := item.(map[string]any)
		if !ok {
			d.issue(field, "expected an object, got %s", typeName(item))
			continue
		}
		clause := Clause{ValueOK: true}
		if column, ok := object["column"].(string); ok {
			clause.Column = column
		} else {
			d.issue(field+".column", "expected a string, got %s", typeName(object["column"]))
		}
		if rawOp, ok := object["operator"].(string); ok {
			clause.RawOperator = rawOp
			clause.Operator, _ = ParseOperator(rawOp)
		} else {
			d.issue(field+".operator", "expected a string, got %s", typeName(object["operator"]))
		}
		switch value := object["value"].(type) {
		case []any, map[string]any:
			clause.ValueOK = false
			d.issue(field+".value", "expected a scalar, got %s", typeName(value))
		default:
			clause.Value = table.FromAny(value)
		}
		clauses = append(clauses, clause)
	}
	return clauses
}

func (d *decoder) metrics(raw any) []Metric {
	if raw == nil {
		return nil
	}
	items, ok := raw.([]any)
	if !ok {
		d.issue("metrics", "expected a list, got %s", typeName(raw))
		return nil
	}
	metrics := make([]Metric, 0, len(items))
	for i, item := range items {
		field := fmt.Sprintf("metrics[%d]", i)
		object, ok := item.(map[string]any)
		if !ok {
			d.issue(field, "expected an object, got %s", typeName(item))
			continue
		}
		column, ok := object["column"].(string)
		if !ok {
			d.issue(field+".column", "expected a string, got %s", typeName(object["column"]))
			continue
		}
		operation, _ := object["operation"].(string)
		metrics = append(metrics, NewMetric(column, operation))
	}
	return metrics
}

func (d *decoder) groupBy(raw any) []string {
	switch typed := raw.(type) {
	case nil:
		return nil
	case string:
		return []string{typed}
	case []any:
		columns := make([]string, 0, len(typed))
		for i, item := range typed {
			column, ok := item.(string)
			if !ok {
				d.issue(fmt.Sprintf("group_by[%d]", i), "expected a string, got %s", typeName(item))
				continue
			}
			columns = append(columns, column)
		}
		return columns
	default:
		d.issue("group_by", "expected a list, got %s", typeName(raw))
		return nil
	}
}

func (d *decoder) sort(raw any) *Sort {
	if raw == nil {
		return nil
	}
	object, ok := raw.(map[string]any)
	if !ok {
		d.issue("sort", "expected an object, got %s", typeName(raw))
		return nil
	}
	column, ok := object["column"].(string)
	if !ok {
		d.issue("sort.column", "expected a string, got %s", typeName(object["column"]))
		return nil
	}
	order := Desc
	if rawOrder, _ := object["order"].(string); rawOrder == string(Asc) {
		order = Asc
	}
	return &Sort{Column: column, Order: order}
}

func (d *decoder) limit(raw any) int {
	switch typed := raw.(type) {
	case nil:
		return 0
	case json.Number:
		n, err := strconv.Atoi(typed.String())
		if err != nil {
			d.issue("limit", "expected an integer, got %s", typed.String())
			return 0
		}
		return max(n, 0)
	case float64:
		if typed != math.Trunc(typed) || typed > math.MaxInt32 {
			d.issue("limit", "expected an integer, got %v", typed)
			return 0
		}
		return max(int(typed), 0)
	case int:
		return max(typed, 0)
	default:
		d.issue("limit", "expected an integer, got %s", typeName(raw))
		return 0
	}
}

func (d *decoder) chart(raw any) *Chart {
	object, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	chart := &Chart{}
	chart.Type, _ = object["type"].(string)
	chart.X, _ = object["x"].(string)
	chart.Y, _ = object["y"].(string)
	return chart
}

func typeName(raw any) string {
	switch raw.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number, float64, int:
		return "number"
	case []any:
		return "list"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", raw)
	}
}

func literal(raw any) string {
	encoded, err := json.Marshal(raw)
	if err != nil {
		return fmt.Sprint(raw)
	}
	return string(encoded)
}
