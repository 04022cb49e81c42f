package domain

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Source column headers of an observation file.
const (
	ColumnDate         = "Date"
	ColumnLocation     = "Location"
	ColumnTemperature  = "Temperature_Celsius"
	ColumnSalinity     = "Salinity_PSU"
	ColumnSpeciesCount = "Fish_Species_Count"
)

// Logical field names reported in validation errors.
const (
	FieldObservedAt         = "observedAt"
	FieldLocation           = "location"
	FieldTemperatureCelsius = "temperatureCelsius"
	FieldSalinityPSU        = "salinityPSU"
	FieldSpeciesCount       = "speciesCount"
)

const (
	minTemperatureCelsius = -5.0
	maxTemperatureCelsius = 50.0
)

// RequiredColumns lists the headers every observation file must carry.
var RequiredColumns = []string{
	ColumnDate,
	ColumnLocation,
	ColumnTemperature,
	ColumnSalinity,
	ColumnSpeciesCount,
}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	time.RFC3339,
}

// RawRow is one data row of a tabular file, keyed by header name.
// Line is the 1-based line number in the source file.
type RawRow struct {
	Line   int
	Fields map[string]string
}

// ObservationRecord is one validated observation. Records are append-only:
// once persisted they are only ever aggregated over.
type ObservationRecord struct {
	ObservedAt         time.Time `json:"observed_at"`
	Location           string    `json:"location"`
	TemperatureCelsius float64   `json:"temperature_celsius"`
	SalinityPSU        float64   `json:"salinity_psu"`
	SpeciesCount       int64     `json:"species_count"`
}

// ObservedDate renders ObservedAt as a calendar date.
func (r ObservationRecord) ObservedDate() string {
	return r.ObservedAt.Format(time.DateOnly)
}

// Validate converts a raw row into an ObservationRecord. The returned error
// is always a *ValidationError naming the first offending field.
func Validate(row RawRow) (ObservationRecord, error) {
	var rec ObservationRecord

	raw, err := required(row, ColumnDate, FieldObservedAt)
	if err != nil {
		return rec, err
	}
	observedAt, ok := ParseDate(raw)
	if !ok {
		return rec, invalid(row, FieldObservedAt, raw, "not a calendar date")
	}
	rec.ObservedAt = observedAt

	raw, err = required(row, ColumnLocation, FieldLocation)
	if err != nil {
		return rec, err
	}
	rec.Location = strings.TrimSpace(raw)

	raw, err = required(row, ColumnTemperature, FieldTemperatureCelsius)
	if err != nil {
		return rec, err
	}
	temp, ok := parseFinite(raw)
	if !ok {
		return rec, invalid(row, FieldTemperatureCelsius, raw, "not a finite decimal")
	}
	if temp < minTemperatureCelsius || temp > maxTemperatureCelsius {
		return rec, invalid(row, FieldTemperatureCelsius, raw, "outside plausible ocean range")
	}
	rec.TemperatureCelsius = temp

	raw, err = required(row, ColumnSalinity, FieldSalinityPSU)
	if err != nil {
		return rec, err
	}
	salinity, ok := parseFinite(raw)
	if !ok {
		return rec, invalid(row, FieldSalinityPSU, raw, "not a finite decimal")
	}
	if salinity < 0 {
		return rec, invalid(row, FieldSalinityPSU, raw, "negative")
	}
	rec.SalinityPSU = salinity

	raw, err = required(row, ColumnSpeciesCount, FieldSpeciesCount)
	if err != nil {
		return rec, err
	}
	count, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return rec, invalid(row, FieldSpeciesCount, raw, "not an integer")
	}
	if count < 0 {
		return rec, invalid(row, FieldSpeciesCount, raw, "negative")
	}
	rec.SpeciesCount = count

	return rec, nil
}

// required returns the raw value of a column, rejecting absent and blank values.
func required(row RawRow, column, field string) (string, error) {
	v, ok := row.Fields[column]
	if !ok {
		return "", invalid(row, field, "", "missing")
	}
	if strings.TrimSpace(v) == "" {
		return "", invalid(row, field, v, "empty")
	}
	return v, nil
}

func invalid(row RawRow, field, value, reason string) *ValidationError {
	return &ValidationError{Line: row.Line, Field: field, Value: value, Reason: reason}
}

// ParseDate accepts the observation date layouts and truncates to a UTC day.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
	}
	return time.Time{}, false
}

// parseFinite parses a decimal, rejecting NaN and infinities.
func parseFinite(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
