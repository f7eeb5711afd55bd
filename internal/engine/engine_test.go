package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/planlens/planlens/internal/plan"
	"github.com/planlens/planlens/internal/table"
)

func salesTable(t *testing.T) *table.Table {
	t.Helper()
	b := table.NewBuilder([]string{"City", "Sales", "Order Date", "Region"})
	day := func(y, m, d int) table.Value { return table.Time(time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)) }
	rows := [][]table.Value{
		{table.String("A"), table.Int(10), day(2017, 1, 3), table.String("North")},
		{table.String("B"), table.Int(20), day(2018, 5, 1), table.Null()},
		{table.String("A"), table.Int(5), day(2017, 9, 9), table.String("South")},
	}
	for _, row := range rows {
		if err := b.Append(row); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	return b.Build()
}

func mustPlan(t *testing.T, raw string) plan.Plan {
	t.Helper()
	p, err := plan.Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	return p
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	encoded, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	return string(encoded)
}

func execute(t *testing.T, tbl *table.Table, raw string) Result {
	t.Helper()
	return New().Execute(context.Background(), tbl, mustPlan(t, raw))
}

func TestGroupedSumSortedDescendingWithLimit(t *testing.T) {
	res := execute(t, salesTable(t), `{
		"query_type": "aggregation",
		"metrics": [{"column": "Sales", "operation": "sum"}],
		"group_by": ["City"],
		"sort": {"column": "sum_Sales", "order": "desc"},
		"limit": 1
	}`)
	if res.Kind != KindRows {
		t.Fatalf("Kind = %q, error = %q", res.Kind, res.Error)
	}
	if got := mustJSON(t, res.Rows); got != `[{"City":"B","sum_Sales":20}]` {
		t.Fatalf("rows = %s", got)
	}
}

func TestFilterGreaterThan(t *testing.T) {
	res := execute(t, salesTable(t), `{
		"query_type": "filter",
		"filters": [{"column": "Sales", "operator": "greater_than", "value": 12}]
	}`)
	if len(res.Rows) != 1 {
		t.Fatalf("rows = %s", mustJSON(t, res.Rows))
	}
	city, _ := res.Rows[0].Get("City")
	sales, _ := res.Rows[0].Get("Sales")
	if !table.Equal(city, table.String("B")) || !table.Equal(sales, table.Int(20)) {
		t.Fatalf("row = %s", mustJSON(t, res.Rows[0]))
	}
}

func TestInvalidGroupByIsTerminal(t *testing.T) {
	res := execute(t, salesTable(t), `{"query_type": "aggregation", "group_by": ["Nonexistent"]}`)
	if !res.Failed() || res.Error != "Invalid group by columns" {
		t.Fatalf("result = %+v", res)
	}
	if got := mustJSON(t, res); !strings.Contains(got, `"error":"Invalid group by columns"`) {
		t.Fatalf("json = %s", got)
	}
}

func TestPartiallyValidGroupByDropsUnknownColumns(t *testing.T) {
	res := execute(t, salesTable(t), `{"query_type": "aggregation", "group_by": ["City", "Nope"]}`)
	if res.Failed() {
		t.Fatalf("error = %q", res.Error)
	}
	if got := mustJSON(t, res.Rows); got != `[{"City":"A","count":2},{"City":"B","count":1}]` {
		t.Fatalf("rows = %s", got)
	}
	if !res.Degraded() {
		t.Fatal("expected degraded result")
	}
}

func TestUnknownQueryTypeIsError(t *testing.T) {
	res := execute(t, salesTable(t), `{"query_type": "drop_table"}`)
	if res.Error != "Unknown query type: drop_table" {
		t.Fatalf("Error = %q", res.Error)
	}
}

func TestMetadataReportsFilteredAndInitialCounts(t *testing.T) {
	res := execute(t, salesTable(t), `{
		"query_type": "metadata",
		"filters": [{"column": "City", "operator": "equals", "value": "A"}]
	}`)
	if res.Kind != KindMetadata {
		t.Fatalf("Kind = %q", res.Kind)
	}
	md := res.Metadata
	if md.RowCount != 2 || md.InitialRowCount != 3 || md.ColumnCount != 4 {
		t.Fatalf("metadata = %+v", md)
	}
	if strings.Join(md.Columns, ",") != "City,Sales,Order Date,Region" {
		t.Fatalf("columns = %v", md.Columns)
	}
}

func TestAggregationWithoutMetricsCountsRows(t *testing.T) {
	res := execute(t, salesTable(t), `{
		"query_type": "aggregation",
		"filters": [{"column": "Order Date", "operator": "year_equals", "value": 2017}]
	}`)
	if got := mustJSON(t, res.Scalars); got != `{"count":2}` {
		t.Fatalf("scalars = %s", got)
	}
}

func TestScalarMetricsUseNarrowestType(t *testing.T) {
	res := execute(t, salesTable(t), `{
		"query_type": "aggregation",
		"metrics": [
			{"column": "Sales", "operation": "sum"},
			{"column": "Sales", "operation": "avg"},
			{"column": "Sales", "operation": "min"},
			{"column": "Region", "operation": "count"},
			{"column": "Sales", "operation": "median"}
		]
	}`)
	want := `{"sum_Sales":35,"avg_Sales":11.666666666666666,"min_Sales":5,"count_Region":2,"count_Sales":3}`
	if got := mustJSON(t, res.Scalars); got != want {
		t.Fatalf("scalars = %s, want %s", got, want)
	}
	var defaulted bool
	for _, outcome := range res.Outcomes {
		if outcome.Stage == StageMetric && outcome.Status == StatusDefaulted {
			defaulted = true
		}
	}
	if !defaulted {
		t.Fatalf("outcomes = %+v", res.Outcomes)
	}
}

func TestUnknownFilterColumnIsNoOp(t *testing.T) {
	res := execute(t, salesTable(t), `{
		"query_type": "filter",
		"filters": [
			{"column": "Missing", "operator": "equals", "value": 1},
			{"column": "City", "operator": "regex", "value": "A"}
		]
	}`)
	if len(res.Rows) != 3 {
		t.Fatalf("rows = %d", len(res.Rows))
	}
	for _, outcome := range res.Outcomes {
		if outcome.Stage == StageFilter && outcome.Status != StatusSkipped {
			t.Fatalf("outcome = %+v", outcome)
		}
	}
}

func TestFilterOperators(t *testing.T) {
	cases := []struct {
		filter string
		want   int
	}{
		{`{"column": "City", "operator": "not_equals", "value": "A"}`, 1},
		{`{"column": "City", "operator": "contains", "value": "a"}`, 2},
		{`{"column": "Sales", "operator": "less_than", "value": "12"}`, 2},
		{`{"column": "Sales", "operator": "equals", "value": "20"}`, 1},
		{`{"column": "Sales", "operator": "equals", "value": 20.0}`, 1},
		{`{"column": "Region", "operator": "equals", "value": null}`, 0},
		{`{"column": "Region", "operator": "not_equals", "value": "North"}`, 2},
		{`{"column": "Region", "operator": "not_equals", "value": null}`, 3},
		{`{"column": "Region", "operator": "contains", "value": "OUT"}`, 1},
		{`{"column": "Region", "operator": "contains", "value": "h"}`, 2},
		{`{"column": "Order Date", "operator": "year_equals", "value": "2018"}`, 1},
		{`{"column": "Sales", "operator": "greater_than", "value": "lots"}`, 3},
	}
	for _, tc := range cases {
		res := execute(t, salesTable(t), `{"query_type": "filter", "filters": [`+tc.filter+`]}`)
		if len(res.Rows) != tc.want {
			t.Fatalf("filter %s matched %d rows, want %d", tc.filter, len(res.Rows), tc.want)
		}
	}
}

func TestSortIsStableWithNullsLast(t *testing.T) {
	for _, order := range []string{"asc", "desc"} {
		res := execute(t, salesTable(t), `{"query_type": "filter", "sort": {"column": "Region", "order": "`+order+`"}}`)
		last, _ := res.Rows[len(res.Rows)-1].Get("Region")
		if !last.IsNull() {
			t.Fatalf("order %s: last region = %v", order, last)
		}
	}

	res := execute(t, salesTable(t), `{"query_type": "filter", "sort": {"column": "City", "order": "asc"}}`)
	first, _ := res.Rows[0].Get("Sales")
	second, _ := res.Rows[1].Get("Sales")
	if !table.Equal(first, table.Int(10)) || !table.Equal(second, table.Int(5)) {
		t.Fatalf("rows = %s", mustJSON(t, res.Rows))
	}
}

func TestLimitBoundary(t *testing.T) {
	for raw, want := range map[string]int{`3`: 3, `2`: 2, `10`: 3, `0`: 3, `-2`: 3} {
		res := execute(t, salesTable(t), `{"query_type": "filter", "limit": `+raw+`}`)
		if len(res.Rows) != want {
			t.Fatalf("limit %s returned %d rows, want %d", raw, len(res.Rows), want)
		}
	}
}

func TestExecutionIsDeterministic(t *testing.T) {
	raw := `{"query_type": "timeseries", "metrics": [{"column": "Sales", "operation": "sum"}], "group_by": ["Region", "City"]}`
	first := mustJSON(t, execute(t, salesTable(t), raw))
	for i := 0; i < 5; i++ {
		if got := mustJSON(t, execute(t, salesTable(t), raw)); got != first {
			t.Fatalf("run %d = %s, want %s", i, got, first)
		}
	}
}

func TestLimitsTruncatePlan(t *testing.T) {
	exec := New(WithLimits(Limits{MaxFilters: 1, MaxResultRows: 2}))
	res := exec.Execute(context.Background(), salesTable(t), mustPlan(t, `{
		"query_type": "filter",
		"filters": [
			{"column": "Sales", "operator": "greater_than", "value": 0},
			{"column": "City", "operator": "equals", "value": "B"}
		]
	}`))
	if len(res.Rows) != 2 {
		t.Fatalf("rows = %d", len(res.Rows))
	}
	var truncated int
	for _, outcome := range res.Outcomes {
		if outcome.Status == StatusTruncated {
			truncated++
		}
	}
	if truncated != 2 {
		t.Fatalf("outcomes = %+v", res.Outcomes)
	}
}

func TestNilTableIsError(t *testing.T) {
	res := New().Execute(context.Background(), nil, plan.Plan{QueryType: plan.QueryMetadata})
	if !res.Failed() {
		t.Fatalf("result = %+v", res)
	}
}

func TestEmptySumIsZero(t *testing.T) {
	res := execute(t, salesTable(t), `{
		"query_type": "aggregation",
		"filters": [{"column": "City", "operator": "equals", "value": "Z"}],
		"metrics": [{"column": "Sales", "operation": "sum"}, {"column": "Sales", "operation": "max"}]
	}`)
	if got := mustJSON(t, res.Scalars); got != `{"sum_Sales":0,"max_Sales":null}` {
		t.Fatalf("scalars = %s", got)
	}
}

// warnPanicHandler panics on warn records so a skipped filter clause blows up
// mid-execution; error records still pass through.
type warnPanicHandler struct{ slog.Handler }

func (warnPanicHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h warnPanicHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level == slog.LevelWarn {
		panic("boom")
	}
	return h.Handler.Handle(ctx, r)
}

func TestPanicIsRecoveredAsErrorResult(t *testing.T) {
	logger := slog.New(warnPanicHandler{slog.DiscardHandler})
	p := mustPlan(t, `{"query_type":"filter","filters":[{"column":"Missing","operator":"equals","value":1}]}`)

	res := New(WithLogger(logger)).Execute(context.Background(), salesTable(t), p)
	if !res.Failed() || !strings.HasPrefix(res.Error, "internal error: boom") {
		t.Fatalf("result = %+v", res)
	}
}

func TestCancelledContextStopsExecution(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := New().Execute(ctx, salesTable(t), mustPlan(t, `{"query_type":"aggregation","group_by":["City"]}`))
	if !res.Failed() {
		t.Fatalf("result = %+v", res)
	}
}

func TestNonPositiveLimitReturnsEverything(t *testing.T) {
	for _, limit := range []int{0, -2} {
		p := plan.Plan{QueryType: plan.QueryFilter, Limit: limit}
		if res := New().Execute(context.Background(), salesTable(t), p); len(res.Rows) != 3 {
			t.Fatalf("limit %d returned %d rows", limit, len(res.Rows))
		}
	}
}

func TestGroupedUnknownMetricsFallBackToCount(t *testing.T) {
	res := execute(t, salesTable(t), `{
		"query_type": "aggregation",
		"group_by": ["City"],
		"metrics": [{"column": "Missing", "operation": "sum"}, {"column": "Gone", "operation": "avg"}],
		"sort": {"column": "count", "order": "desc"}
	}`)
	if got := mustJSON(t, res.Rows); got != `[{"City":"A","count":2},{"City":"B","count":1}]` {
		t.Fatalf("rows = %s", got)
	}
	skipped := 0
	for _, o := range res.Outcomes {
		if o.Stage == StageMetric && o.Status == StatusSkipped {
			skipped++
		}
	}
	if skipped != 2 {
		t.Fatalf("outcomes = %+v", res.Outcomes)
	}
}

func TestDefaultExecutorDoesNotCapRows(t *testing.T) {
	b := table.NewBuilder([]string{"n"})
	for i := range 10005 {
		if err := b.Append([]table.Value{table.Int(int64(i))}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	tbl := b.Build()
	res := New().Execute(context.Background(), tbl, plan.Plan{QueryType: plan.QueryFilter})
	if len(res.Rows) != 10005 {
		t.Fatalf("rows = %d, want 10005", len(res.Rows))
	}

	capped := New(WithLimits(Limits{MaxResultRows: 100})).Execute(context.Background(), tbl, plan.Plan{QueryType: plan.QueryFilter})
	if len(capped.Rows) != 100 || capped.Outcomes[len(capped.Outcomes)-1].Status != StatusTruncated {
		t.Fatalf("capped rows = %d, outcomes = %+v", len(capped.Rows), capped.Outcomes)
	}
}
