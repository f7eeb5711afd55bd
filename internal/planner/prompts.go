package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/planlens/planlens/internal/plan"
)

const systemPrompt = "You are a data analyst. Return only one valid JSON object. No markdown, no code, no explanation outside JSON."

func intentPrompt(question string) string {
	return fmt.Sprintf(`Classify the analytics question into one intent.

Question: %q

Intents:
- "metadata": questions about the dataset structure (columns, rows, types).
- "aggregation": summary statistics (count, sum, avg, min, max, top N).
- "filter": show specific rows or a subset of the data.
- "timeseries": trends or values over time.

Output format: {"intent": "metadata | aggregation | filter | timeseries"}`, strings.TrimSpace(question))
}

func planPrompt(req Request, intent plan.QueryType) (string, error) {
	schema, err := schemaJSON(req)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`Write a structured analytics plan for the question.

Question: %q
Intent: %q

Dataset schema and sample rows (JSON):
%s

Rules:
- Use EXACT column names from the schema.
- Do not write SQL or code. The plan is data, not an expression.
- Metric outputs are named <operation>_<column>; sort by that name to order by a metric.

Plan format:
{
  "query_type": %q,
  "metrics": [{"column": "name", "operation": "count | sum | avg | min | max"}],
  "group_by": ["name"],
  "filters": [{"column": "name", "operator": "equals | not_equals | greater_than | less_than | year_equals | contains", "value": 123}],
  "sort": {"column": "name", "order": "asc | desc"},
  "limit": 10,
  "chart": {"type": "bar | line | pie | table", "x": "name", "y": "name"},
  "explanation": "plain English explanation for the user"
}`, strings.TrimSpace(req.Question), intent, schema, intent), nil
}

func layoutPrompt(req Request) (string, error) {
	schema, err := schemaJSON(req)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`Propose an overview dashboard layout for the dataset.

Dataset schema and sample rows (JSON):
%s

Rules:
- Use "ROW_COUNT" as the column for row-count KPIs and chart values.
- Use EXACT column names from the schema.
- Give every item a title; KPIs also get a description.
- Leave "trends" empty when there is no date column.

Layout format:
{
  "dashboard": {
    "kpis": [{"title": "Total Rows", "metric": {"column": "ROW_COUNT", "operation": "count"}, "description": "Total number of records"}],
    "trends": [{"title": "Sales Over Time", "chart_type": "line", "x": "Date", "y": {"column": "Sales", "operation": "sum"}}],
    "distributions": [{"title": "Sales by Region", "chart_type": "bar", "x": "Region", "y": {"column": "Sales", "operation": "sum"}}],
    "data_health": {"include": true}
  }
}`, schema), nil
}

func cleaningPrompt(req Request) (string, error) {
	schema, err := schemaJSON(req)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`Suggest data cleaning operations that prepare the dataset for analysis.

Dataset schema, null counts and sample rows (JSON):
%s

Actions:
- DROP_NULLS: drop rows with nulls in "column" (all columns when omitted).
- FILL_NULLS: fill nulls in "column" with "value": "mean", "median", "mode" or a literal.
- DROP_DUPLICATES: remove duplicate rows.
- RENAME_COLUMN: rename "column" to "value".

Output format:
{
  "suggestions": [
    {"action": "FILL_NULLS", "column": "category", "value": "Unknown", "reason": "Categorical column, safer to label as Unknown than drop."}
  ]
}`, schema), nil
}

func schemaJSON(req Request) (string, error) {
	encoded, err := json.MarshalIndent(struct {
		RowCount   int            `json:"row_count"`
		Columns    any            `json:"columns"`
		NullCounts map[string]int `json:"null_counts,omitempty"`
		SampleRows any            `json:"sample_rows"`
	}{RowCount: req.RowCount, Columns: req.Columns, NullCounts: req.NullCounts, SampleRows: req.SampleRows}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal schema context: %w", err)
	}
	return string(encoded), nil
}
