package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/planlens/planlens/internal/engine"
	"github.com/planlens/planlens/internal/table"
)

func ordersTable(t *testing.T) *table.Table {
	t.Helper()
	b := table.NewBuilder([]string{"Order Date", "Region", "Sales"})
	rows := [][]table.Value{
		{table.String("2024-01-02"), table.String("North"), table.Int(10)},
		{table.String("2024-01-01 09:30:00"), table.String("South"), table.Int(4)},
		{table.String("2024-01-02 18:00:00"), table.String("North"), table.Int(6)},
		{table.String("not a date"), table.Null(), table.Int(1)},
	}
	for _, row := range rows {
		if err := b.Append(row); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	return b.Build()
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	encoded, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	return string(encoded)
}

func TestDecodeLayoutAcceptsWrappedAndBareObjects(t *testing.T) {
	wrapped, err := DecodeLayout([]byte(`{"dashboard": {"kpis": [{"title": "Rows", "metric": {"column": "ROW_COUNT"}}]}}`))
	if err != nil {
		t.Fatalf("DecodeLayout() error = %v", err)
	}
	bare, err := DecodeLayout([]byte(`{"kpis": [{"title": "Rows", "metric": {"column": "ROW_COUNT"}}]}`))
	if err != nil {
		t.Fatalf("DecodeLayout() error = %v", err)
	}
	if len(wrapped.KPIs) != 1 || len(bare.KPIs) != 1 {
		t.Fatalf("wrapped = %+v, bare = %+v", wrapped, bare)
	}
	if _, err := DecodeLayout([]byte(`[1]`)); !errors.Is(err, ErrInvalidLayout) {
		t.Fatalf("DecodeLayout([1]) error = %v", err)
	}
}

func TestBuildResolvesLayout(t *testing.T) {
	layout, err := DecodeLayout([]byte(`{"dashboard": {
		"kpis": [
			{"title": "Rows", "metric": {"column": "ROW_COUNT", "operation": "count"}},
			{"title": "Legacy rows", "metric": {"column": "__ROW_COUNT__"}},
			{"title": "Total Sales", "metric": {"column": "Sales", "operation": "sum"}},
			{"title": "Nothing"},
			{"title": "Missing", "metric": {"column": "Nope", "operation": "sum"}}
		],
		"trends": [
			{"title": "By region", "chart_type": "line", "x": "Region", "y": {"column": "Sales", "operation": "sum"}},
			{"title": "No y", "x": "Region"},
			{"title": "Bad x", "x": "Nope", "y": {"column": "ROW_COUNT"}}
		],
		"distributions": [
			{"title": "Rows by region", "chart_type": "bar", "x": "Region", "y": {"column": "ROW_COUNT"}}
		],
		"data_health": {"include": true}
	}}`))
	if err != nil {
		t.Fatalf("DecodeLayout() error = %v", err)
	}

	out := NewBuilder(engine.New(), nil).Build(context.Background(), ordersTable(t), layout)

	if got := mustJSON(t, out.KPIs); got != `[{"title":"Rows","value":4},{"title":"Legacy rows","value":4},{"title":"Total Sales","value":21},{"title":"Nothing","value":"N/A"},{"title":"Missing","value":0}]` {
		t.Fatalf("kpis = %s", got)
	}
	if len(out.Trends) != 1 {
		t.Fatalf("trends = %s", mustJSON(t, out.Trends))
	}
	if got := mustJSON(t, out.Trends[0].Data); got != `[{"Region":"North","sum_Sales":16},{"Region":"South","sum_Sales":4}]` {
		t.Fatalf("trend data = %s", got)
	}
	if len(out.Distributions) != 1 || out.Distributions[0].Config.Y != "count" {
		t.Fatalf("distributions = %s", mustJSON(t, out.Distributions))
	}
	if got := mustJSON(t, out.Distributions[0].Data); got != `[{"Region":"North","count":2},{"Region":"South","count":1}]` {
		t.Fatalf("distribution data = %s", got)
	}
	if out.DataHealth == nil || out.DataHealth.TotalRows != 4 {
		t.Fatalf("data health = %+v", out.DataHealth)
	}
}

func TestFallbackBuildsDailyTrend(t *testing.T) {
	out := NewBuilder(nil, nil).Fallback(context.Background(), ordersTable(t))
	if len(out.KPIs) != 2 || out.KPIs[0].Value != 4 || out.KPIs[1].Value != 3 {
		t.Fatalf("kpis = %+v", out.KPIs)
	}
	if len(out.Trends) != 1 {
		t.Fatalf("trends = %+v", out.Trends)
	}
	trend := out.Trends[0]
	if trend.Config.X != "Order Date" || trend.Config.Y != "count" {
		t.Fatalf("config = %+v", trend.Config)
	}
	want := `[{"Order Date":"2024-01-01T00:00:00Z","count":1},{"Order Date":"2024-01-02T00:00:00Z","count":2}]`
	if got := mustJSON(t, trend.Data); got != want {
		t.Fatalf("trend data = %s, want %s", got, want)
	}
	if out.DataHealth == nil || len(out.DataHealth.NullAnalysis) != 1 {
		t.Fatalf("data health = %+v", out.DataHealth)
	}
}

func TestFallbackWithoutDateColumnHasNoTrends(t *testing.T) {
	b := table.NewBuilder([]string{"a"})
	if err := b.Append([]table.Value{table.Int(1)}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	out := NewBuilder(nil, nil).Fallback(context.Background(), b.Build())
	if len(out.Trends) != 0 {
		t.Fatalf("trends = %+v", out.Trends)
	}
}
