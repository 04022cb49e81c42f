// Package domain models oceanographic observation data and the summary
// metrics derived from it.
//
// # Data Source
//
// Observation files are CSV exports uploaded by field teams into the
// "datasets/" namespace of an object-store bucket. Each upload raises an
// object-created notification carrying the bucket and object key; the
// notification is the only input the ingestion path needs.
//
// # File Conventions
//
// The first non-empty line is the header row. Required columns, matched
// case-sensitively:
//
//	Date                 observation date, "2006-01-02" (also "2006/01/02",
//	                     "01/02/2006" and RFC 3339 timestamps, truncated to the day)
//	Location             free-text station or site name, e.g. "Goa Coast"
//	Temperature_Celsius  sea temperature in °C
//	Salinity_PSU         practical salinity units, >= 0
//	Fish_Species_Count   distinct species counted, integer >= 0
//
// Extra columns are ignored. A missing required column makes the whole file
// unusable. A row with an empty or unparsable value is rejected on its own
// and reported with the 1-based source line number.
//
// Plausible temperature bounds:
//
//	[-5, 50] °C covers polar brine through shallow tropical lagoons. Values
//	outside are treated as sensor or unit errors (Fahrenheit exports are the
//	usual culprit).
//
// # Summary Metrics
//
// MetricSummary rows are keyed by metric name and recomputed from the full
// observation table on every aggregation run. Values are rendered for display
// ("21.0°C", "35.12 PSU"), not for further arithmetic.
//
// # Dedup Keys
//
// A committed ingestion may be recorded under bucket/key@sha256(content).
// Re-delivery of the same notification for unchanged content then becomes a
// no-op instead of appending the rows a second time. See [DedupKey].
package domain
