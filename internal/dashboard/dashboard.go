package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/planlens/planlens/internal/engine"
	"github.com/planlens/planlens/internal/plan"
	"github.com/planlens/planlens/internal/table"
)

const (
	distributionLimit = 10
	fallbackTrendDays = 50
)

const (
	valueNotAvailable = "N/A"
	valueError        = "Error"
)

type KPI struct {
	Title       string `json:"title"`
	Value       any    `json:"value"`
	Description string `json:"description,omitempty"`
}

type ChartAxes struct {
	X string `json:"x"`
	Y string `json:"y"`
}

type Chart struct {
	Title     string         `json:"title"`
	ChartType string         `json:"chart_type"`
	Data      []table.Record `json:"data"`
	Config    ChartAxes      `json:"config"`
}

type Dashboard struct {
	KPIs          []KPI         `json:"kpis"`
	Trends        []Chart       `json:"trends"`
	Distributions []Chart       `json:"distributions"`
	DataHealth    *table.Health `json:"data_health,omitempty"`
}

type Builder struct {
	Executor *engine.Executor
	Logger   *slog.Logger
}

func NewBuilder(executor *engine.Executor, logger *slog.Logger) *Builder {
	if executor == nil {
		executor = engine.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{Executor: executor, Logger: logger}
}

func (b *Builder) Build(ctx context.Context, t *table.Table, layout Layout) Dashboard {
	out := Dashboard{
		KPIs:          make([]KPI, 0, len(layout.KPIs)),
		Trends:        b.charts(ctx, t, layout.Trends, false),
		Distributions: b.charts(ctx, t, layout.Distributions, true),
	}
	for _, kpi := range layout.KPIs {
		out.KPIs = append(out.KPIs, KPI{
			Title:       kpi.Title,
			Value:       b.kpiValue(ctx, t, kpi.Metric),
			Description: kpi.Description,
		})
	}
	if layout.DataHealth.Include {
		health := t.Health()
		out.DataHealth = &health
	}
	return out
}

func (b *Builder) kpiValue(ctx context.Context, t *table.Table, metric *MetricConfig) any {
	if metric == nil {
		return valueNotAvailable
	}
	if metric.rowCount() {
		res := b.Executor.Execute(ctx, t, plan.Plan{QueryType: plan.QueryMetadata})
		if res.Failed() {
			return valueError
		}
		return res.Metadata.RowCount
	}
	res := b.Executor.Execute(ctx, t, plan.Plan{
		QueryType: plan.QueryAggregation,
		Metrics:   []plan.Metric{plan.NewMetric(metric.Column, metric.Operation)},
	})
	if res.Failed() {
		b.Logger.WarnContext(ctx, "dashboard kpi failed", slog.String("column", metric.Column), slog.String("error", res.Error))
		return valueError
	}
	if len(res.Scalars) == 0 {
		return 0
	}
	return res.Scalars[0].Value
}

func (b *Builder) charts(ctx context.Context, t *table.Table, configs []ChartConfig, distribution bool) []Chart {
	charts := make([]Chart, 0, len(configs))
	for _, c := range configs {
		if c.X == "" || c.Y == nil {
			continue
		}
		p := plan.Plan{
			QueryType: plan.QueryAggregation,
			GroupBy:   []string{c.X},
		}
		yKey := "count"
		if !c.Y.rowCount() {
			metric := plan.NewMetric(c.Y.Column, c.Y.Operation)
			p.Metrics = []plan.Metric{metric}
			yKey = metric.Name()
		}
		if distribution {
			p.Sort = &plan.Sort{Column: yKey, Order: plan.Desc}
			p.Limit = distributionLimit
		} else {
			p.Sort = &plan.Sort{Column: c.X, Order: plan.Asc}
		}
		res := b.Executor.Execute(ctx, t, p)
		if res.Failed() {
			b.Logger.WarnContext(ctx, "dashboard chart dropped", slog.String("title", c.Title), slog.String("error", res.Error))
			continue
		}
		charts = append(charts, Chart{
			Title:     c.Title,
			ChartType: c.ChartType,
			Data:      res.Rows,
			Config:    ChartAxes{X: c.X, Y: yKey},
		})
	}
	return charts
}

func (b *Builder) Fallback(ctx context.Context, t *table.Table) Dashboard {
	health := t.Health()
	out := Dashboard{
		KPIs: []KPI{
			{Title: "Total Rows", Value: t.NumRows(), Description: "Total records in dataset"},
			{Title: "Total Columns", Value: t.NumColumns(), Description: "Number of fields"},
		},
		Trends:        []Chart{},
		Distributions: []Chart{},
		DataHealth:    &health,
	}
	if chart, ok := b.dailyTrend(ctx, t); ok {
		out.Trends = append(out.Trends, chart)
	}
	return out
}

func (b *Builder) dailyTrend(ctx context.Context, t *table.Table) (Chart, bool) {
	col := -1
	for i, name := range t.ColumnNames() {
		lower := strings.ToLower(name)
		if strings.Contains(lower, "date") || strings.Contains(lower, "time") {
			col = i
			break
		}
	}
	if col < 0 {
		return Chart{}, false
	}
	name := t.Column(col).Name

	days := make([][]table.Value, t.NumRows())
	for r := range days {
		day := table.Null()
		if ts, ok := table.ToTime(t.Value(r, col)); ok {
			day = table.Time(time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC))
		}
		days[r] = []table.Value{day}
	}
	daily, err := table.New([]table.Column{{Name: name, Type: table.TypeDatetime}}, days)
	if err != nil {
		b.Logger.WarnContext(ctx, "fallback trend skipped", slog.String("column", name), slog.Any("error", err))
		return Chart{}, false
	}
	res := b.Executor.Execute(ctx, daily, plan.Plan{
		QueryType: plan.QueryAggregation,
		GroupBy:   []string{name},
		Sort:      &plan.Sort{Column: name, Order: plan.Asc},
	})
	if res.Failed() {
		return Chart{}, false
	}
	rows := res.Rows
	if len(rows) > fallbackTrendDays {
		rows = rows[len(rows)-fallbackTrendDays:]
	}
	return Chart{
		Title:     fmt.Sprintf("Records over Time (%s)", name),
		ChartType: "line",
		Data:      rows,
		Config:    ChartAxes{X: name, Y: "count"},
	}, true
}
