package store

import (
	"fmt"
	"strconv"
	"strings"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// dialect captures the SQL differences between the supported drivers.
type dialect struct {
	name       string
	sqlDriver  string
	schema     []string
	dateAsText func(expr string) string
	bind       func(n int) string
}

var postgresDialect = dialect{
	name:      DriverPostgres,
	sqlDriver: "pgx",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS observation_records (
			id                  BIGSERIAL PRIMARY KEY,
			batch_id            TEXT NOT NULL,
			observed_at         DATE NOT NULL,
			location            TEXT NOT NULL CHECK (location <> ''),
			temperature_celsius DOUBLE PRECISION NOT NULL,
			salinity_psu        DOUBLE PRECISION NOT NULL CHECK (salinity_psu >= 0),
			species_count       BIGINT NOT NULL CHECK (species_count >= 0)
		)`,
		`CREATE INDEX IF NOT EXISTS observation_records_location_idx ON observation_records (location)`,
		`CREATE TABLE IF NOT EXISTS metric_summaries (
			metric_name       TEXT PRIMARY KEY,
			metric_value      TEXT NOT NULL,
			trend_description TEXT NOT NULL,
			region            TEXT NOT NULL DEFAULT 'All Regions',
			last_updated      TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ingested_objects (
			dedup_key      TEXT PRIMARY KEY,
			bucket         TEXT NOT NULL,
			object_key     TEXT NOT NULL,
			content_sha256 TEXT NOT NULL,
			batch_id       TEXT NOT NULL,
			rows_inserted  BIGINT NOT NULL,
			ingested_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS datasets (
			id                BIGSERIAL PRIMARY KEY,
			original_filename TEXT NOT NULL,
			storage_path      TEXT NOT NULL UNIQUE,
			bucket            TEXT NOT NULL,
			data_type         TEXT NOT NULL DEFAULT 'Oceanographic',
			content_type      TEXT NOT NULL,
			file_size_bytes   BIGINT NOT NULL CHECK (file_size_bytes >= 0),
			uploaded_at       TIMESTAMPTZ NOT NULL
		)`,
	},
	dateAsText: func(expr string) string { return fmt.Sprintf("to_char(%s, 'YYYY-MM-DD')", expr) },
	bind:       func(n int) string { return "$" + strconv.Itoa(n) },
}

// SQLite keeps dates as ISO-8601 text so MIN/MAX and ordering stay lexical.
var sqliteDialect = dialect{
	name:      DriverSQLite,
	sqlDriver: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS observation_records (
			id                  INTEGER PRIMARY KEY AUTOINCREMENT,
			batch_id            TEXT NOT NULL,
			observed_at         TEXT NOT NULL,
			location            TEXT NOT NULL CHECK (location <> ''),
			temperature_celsius REAL NOT NULL,
			salinity_psu        REAL NOT NULL CHECK (salinity_psu >= 0),
			species_count       INTEGER NOT NULL CHECK (species_count >= 0)
		)`,
		`CREATE INDEX IF NOT EXISTS observation_records_location_idx ON observation_records (location)`,
		`CREATE TABLE IF NOT EXISTS metric_summaries (
			metric_name       TEXT PRIMARY KEY,
			metric_value      TEXT NOT NULL,
			trend_description TEXT NOT NULL,
			region            TEXT NOT NULL DEFAULT 'All Regions',
			last_updated      TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ingested_objects (
			dedup_key      TEXT PRIMARY KEY,
			bucket         TEXT NOT NULL,
			object_key     TEXT NOT NULL,
			content_sha256 TEXT NOT NULL,
			batch_id       TEXT NOT NULL,
			rows_inserted  INTEGER NOT NULL,
			ingested_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS datasets (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			original_filename TEXT NOT NULL,
			storage_path      TEXT NOT NULL UNIQUE,
			bucket            TEXT NOT NULL,
			data_type         TEXT NOT NULL DEFAULT 'Oceanographic',
			content_type      TEXT NOT NULL,
			file_size_bytes   INTEGER NOT NULL CHECK (file_size_bytes >= 0),
			uploaded_at       TIMESTAMP NOT NULL
		)`,
	},
	dateAsText: func(expr string) string { return expr },
	bind:       func(int) string { return "?" },
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case DriverPostgres, "pgx", "":
		return postgresDialect, nil
	case DriverSQLite:
		return sqliteDialect, nil
	default:
		return dialect{}, fmt.Errorf("unsupported store driver %q", driver)
	}
}

// placeholders renders a row of n bind parameters starting at position start.
func (d dialect) placeholders(start, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = d.bind(start + i)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
