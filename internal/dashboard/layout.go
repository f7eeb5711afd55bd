package dashboard

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	RowCountColumn       = "ROW_COUNT"
	legacyRowCountColumn = "__ROW_COUNT__"
)

var ErrInvalidLayout = errors.New("invalid dashboard layout")

type MetricConfig struct {
	Column    string `json:"column"`
	Operation string `json:"operation"`
}

func (m *MetricConfig) rowCount() bool {
	return m != nil && (m.Column == RowCountColumn || m.Column == legacyRowCountColumn)
}

type KPIConfig struct {
	Title       string        `json:"title"`
	Metric      *MetricConfig `json:"metric"`
	Description string        `json:"description"`
}

type ChartConfig struct {
	Title     string        `json:"title"`
	ChartType string        `json:"chart_type"`
	X         string        `json:"x"`
	Y         *MetricConfig `json:"y"`
}

type Layout struct {
	KPIs          []KPIConfig   `json:"kpis"`
	Trends        []ChartConfig `json:"trends"`
	Distributions []ChartConfig `json:"distributions"`
	DataHealth    struct {
		Include bool `json:"include"`
	} `json:"data_health"`
}

func DecodeLayout(raw []byte) (Layout, error) {
	raw = bytes.TrimSpace(raw)
	var envelope struct {
		Dashboard json.RawMessage `json:"dashboard"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Layout{}, fmt.Errorf("%w: %v", ErrInvalidLayout, err)
	}
	body := raw
	if len(envelope.Dashboard) > 0 && !bytes.Equal(envelope.Dashboard, []byte("null")) {
		body = envelope.Dashboard
	}
	var layout Layout
	if err := json.Unmarshal(body, &layout); err != nil {
		return Layout{}, fmt.Errorf("%w: %v", ErrInvalidLayout, err)
	}
	return layout, nil
}
