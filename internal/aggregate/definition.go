package aggregate

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/couchcryptid/ocean-data-etl/internal/domain"
)

// StableTrend is reported by metrics without trend logic.
const StableTrend StaticTrend = "↔️ Stable"

// Definition computes one named metric from a consistent snapshot of the
// observation set. ok=false means the metric is undefined for the current
// data and must not be written.
type Definition interface {
	Name() string
	Compute(ctx context.Context, snap domain.Snapshot) (summary domain.MetricSummary, ok bool, err error)
}

// Formatter renders an aggregate value for display.
type Formatter func(v float64) string

// Decimal rounds to two places and always keeps at least one fractional
// digit, then appends unit verbatim (include a leading space if wanted).
func Decimal(unit string) Formatter {
	return func(v float64) string {
		r := math.Round(v*100) / 100
		if r == 0 {
			r = 0 // drop the sign of -0
		}
		s := strconv.FormatFloat(r, 'f', -1, 64)
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		return s + unit
	}
}

// Integer rounds to the nearest whole number.
func Integer(unit string) Formatter {
	return func(v float64) string {
		return strconv.FormatInt(int64(math.Round(v)), 10) + unit
	}
}

// TrendPolicy describes how a metric is moving.
type TrendPolicy interface {
	Describe(ctx context.Context, metric string, value float64) (string, error)
}

// StaticTrend reports the same description for every value.
type StaticTrend string

func (t StaticTrend) Describe(context.Context, string, float64) (string, error) {
	return string(t), nil
}

// FieldMetric applies one SQL aggregate to one observation field.
type FieldMetric struct {
	MetricName string
	Func       domain.AggregateFunc
	Field      domain.ObservationField
	Format     Formatter
	Trend      TrendPolicy // nil means StableTrend
	Region     string      // empty means domain.DefaultRegion
}

func (m FieldMetric) Name() string { return m.MetricName }

func (m FieldMetric) Compute(ctx context.Context, snap domain.Snapshot) (domain.MetricSummary, bool, error) {
	value, ok, err := snap.Aggregate(ctx, m.Func, m.Field)
	if err != nil || !ok {
		return domain.MetricSummary{}, false, err
	}

	trend := m.Trend
	if trend == nil {
		trend = StableTrend
	}
	desc, err := trend.Describe(ctx, m.MetricName, value)
	if err != nil {
		return domain.MetricSummary{}, false, err
	}

	region := m.Region
	if region == "" {
		region = domain.DefaultRegion
	}
	return domain.MetricSummary{
		MetricName:       m.MetricName,
		MetricValue:      m.Format(value),
		TrendDescription: desc,
		Region:           region,
	}, true, nil
}

// DefaultDefinitions is the dashboard metric catalogue.
func DefaultDefinitions() []Definition {
	return []Definition{
		FieldMetric{MetricName: "Average Temperature", Func: domain.AggAvg, Field: domain.ObsTemperature, Format: Decimal("°C")},
		FieldMetric{MetricName: "Average Salinity", Func: domain.AggAvg, Field: domain.ObsSalinity, Format: Decimal(" PSU")},
		FieldMetric{MetricName: "Average Species Count", Func: domain.AggAvg, Field: domain.ObsSpeciesCount, Format: Decimal("")},
		FieldMetric{MetricName: "Observation Count", Func: domain.AggCount, Field: domain.ObsLocation, Format: Integer("")},
		FieldMetric{MetricName: "Monitored Locations", Func: domain.AggCountDistinct, Field: domain.ObsLocation, Format: Integer("")},
	}
}
