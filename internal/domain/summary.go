package domain

import (
	"context"
	"time"
)

// DefaultRegion scopes metrics computed over every location.
const DefaultRegion = "All Regions"

// MetricSummary is one named statistic derived from the observation table.
// MetricName is unique; writes with an existing name replace the row.
type MetricSummary struct {
	MetricName       string    `json:"metric_name"`
	MetricValue      string    `json:"metric_value"`
	TrendDescription string    `json:"trend_description"`
	Region           string    `json:"region"`
	LastUpdated      time.Time `json:"last_updated"`
}

// MetricFailure records a metric definition that could not be computed or written.
type MetricFailure struct {
	Metric string `json:"metric"`
	Error  string `json:"error"`
}

// AggregationResult reports one recompute run across all metric definitions.
type AggregationResult struct {
	MetricsUpdated int             `json:"metrics_updated"`
	MetricsSkipped int             `json:"metrics_skipped"`
	Failures       []MetricFailure `json:"failures,omitempty"`
}

// LocationSummary is a per-location rollup of the observation table.
type LocationSummary struct {
	Location           string  `json:"location"`
	RecordCount        int64   `json:"record_count"`
	AvgTemperature     float64 `json:"avg_temp"`
	AvgSalinity        float64 `json:"avg_salinity"`
	LatestObservedDate string  `json:"last_updated"`
}

// AggregateFunc is an SQL aggregate applied to one observation field.
type AggregateFunc string

const (
	AggAvg           AggregateFunc = "AVG"
	AggSum           AggregateFunc = "SUM"
	AggMin           AggregateFunc = "MIN"
	AggMax           AggregateFunc = "MAX"
	AggCount         AggregateFunc = "COUNT"
	AggCountDistinct AggregateFunc = "COUNT DISTINCT"
)

// ObservationField names an aggregatable observation column.
type ObservationField string

const (
	ObsTemperature  ObservationField = FieldTemperatureCelsius
	ObsSalinity     ObservationField = FieldSalinityPSU
	ObsSpeciesCount ObservationField = FieldSpeciesCount
	ObsLocation     ObservationField = FieldLocation
)

// Snapshot is a consistent view of the store for one metric: the aggregate
// read and the summary upsert run in the same transaction.
type Snapshot interface {
	// Aggregate returns ok=false when the observation set is empty or every
	// relevant value is NULL.
	Aggregate(ctx context.Context, fn AggregateFunc, field ObservationField) (value float64, ok bool, err error)
	UpsertSummary(ctx context.Context, summary MetricSummary) error
}
