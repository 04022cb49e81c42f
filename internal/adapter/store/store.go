// Package store is the relational store for observation records and metric
// summaries. Postgres is reached through pgx's database/sql driver; SQLite
// (modernc, pure Go) serves single-node deployments and tests.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver

	"github.com/couchcryptid/ocean-data-etl/internal/domain"
)

// insertChunkRows bounds one multi-row INSERT so the bind count stays under
// SQLite's historical 999-parameter limit.
const insertChunkRows = 150

var observationColumns = map[domain.ObservationField]string{
	domain.ObsTemperature:  "temperature_celsius",
	domain.ObsSalinity:     "salinity_psu",
	domain.ObsSpeciesCount: "species_count",
	domain.ObsLocation:     "location",
}

// Options configures Open.
type Options struct {
	Driver       string // DriverPostgres or DriverSQLite
	DSN          string
	MaxOpenConns int
}

// Store implements the relational store over database/sql.
type Store struct {
	db      *sql.DB
	dialect dialect
}

// Open connects to the configured database and verifies the connection.
func Open(ctx context.Context, opts Options) (*Store, error) {
	d, err := dialectFor(opts.Driver)
	if err != nil {
		return nil, err
	}
	if opts.DSN == "" {
		return nil, errors.New("store DSN required")
	}

	db, err := sql.Open(d.sqlDriver, opts.DSN)
	if err != nil {
		return nil, &domain.StoreError{Op: "open", Err: err}
	}
	switch {
	case d.name == DriverSQLite:
		// One writer at a time; SQLite serializes writes anyway.
		db.SetMaxOpenConns(1)
	case opts.MaxOpenConns > 0:
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, &domain.StoreError{Op: "connect", Err: err}
	}
	return &Store{db: db, dialect: d}, nil
}

// New wraps an existing connection pool.
func New(db *sql.DB, driver string) (*Store, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, dialect: d}, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return &domain.StoreError{Op: "connect", Err: err}
	}
	return nil
}

// CheckReadiness implements the HTTP readiness contract.
func (s *Store) CheckReadiness(ctx context.Context) error {
	return s.Ping(ctx)
}

// EnsureSchema creates the tables and indexes if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return &domain.StoreError{Op: "ensure schema", Err: err}
		}
	}
	return nil
}

// InsertBatch appends every record of the batch in one transaction. When the
// batch carries a dedup key the ledger row is written in the same
// transaction; an existing key rolls everything back and returns
// domain.ErrDuplicateObject.
func (s *Store) InsertBatch(ctx context.Context, batch domain.Batch) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &domain.StoreError{Op: "begin", Err: err}
	}
	defer func() { _ = tx.Rollback() }() // no-op after commit

	if batch.DedupKey != "" {
		dup, err := s.recordIngestion(ctx, tx, batch)
		if err != nil {
			return 0, err
		}
		if dup {
			return 0, domain.ErrDuplicateObject
		}
	}

	for start := 0; start < len(batch.Records); start += insertChunkRows {
		end := min(start+insertChunkRows, len(batch.Records))
		query, args := s.insertObservationsQuery(batch.ID, batch.Records[start:end])
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return 0, &domain.StoreError{Op: "insert observations", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, &domain.StoreError{Op: "commit", Err: err}
	}
	return len(batch.Records), nil
}

func (s *Store) recordIngestion(ctx context.Context, tx *sql.Tx, batch domain.Batch) (bool, error) {
	query := `INSERT INTO ingested_objects
		(dedup_key, bucket, object_key, content_sha256, batch_id, rows_inserted)
		VALUES ` + s.dialect.placeholders(1, 6) + `
		ON CONFLICT (dedup_key) DO NOTHING`
	res, err := tx.ExecContext(ctx, query,
		batch.DedupKey, batch.Bucket, batch.ObjectKey, batch.ContentSHA256, batch.ID, len(batch.Records))
	if err != nil {
		return false, &domain.StoreError{Op: "record ingestion", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &domain.StoreError{Op: "record ingestion", Err: err}
	}
	return n == 0, nil
}

func (s *Store) insertObservationsQuery(batchID string, records []domain.ObservationRecord) (string, []any) {
	const cols = 6
	var b strings.Builder
	b.WriteString(`INSERT INTO observation_records
		(batch_id, observed_at, location, temperature_celsius, salinity_psu, species_count) VALUES `)
	args := make([]any, 0, len(records)*cols)
	for i, r := range records {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(s.dialect.placeholders(i*cols+1, cols))
		args = append(args, batchID, r.ObservedDate(), r.Location, r.TemperatureCelsius, r.SalinityPSU, r.SpeciesCount)
	}
	return b.String(), args
}

// ListObservations returns stored records, newest observation first,
// optionally restricted to one location.
func (s *Store) ListObservations(ctx context.Context, location string) ([]domain.ObservationRecord, error) {
	query := `SELECT ` + s.dialect.dateAsText("observed_at") + `, location, temperature_celsius, salinity_psu, species_count
		FROM observation_records`
	var args []any
	if location != "" {
		query += ` WHERE location = ` + s.dialect.bind(1)
		args = append(args, location)
	}
	query += ` ORDER BY observed_at DESC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &domain.StoreError{Op: "list observations", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var out []domain.ObservationRecord
	for rows.Next() {
		var (
			rec  domain.ObservationRecord
			date string
		)
		if err := rows.Scan(&date, &rec.Location, &rec.TemperatureCelsius, &rec.SalinityPSU, &rec.SpeciesCount); err != nil {
			return nil, &domain.StoreError{Op: "scan observation", Err: err}
		}
		rec.ObservedAt, err = time.Parse(time.DateOnly, date)
		if err != nil {
			return nil, &domain.StoreError{Op: "scan observation", Err: err}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StoreError{Op: "list observations", Err: err}
	}
	return out, nil
}

// snapshotAttempts bounds how often a unit is re-run after Postgres aborts it
// with a serialization failure or deadlock.
const snapshotAttempts = 3

// WithSnapshot runs fn inside one transaction so a metric's aggregate read
// and its summary upsert commit together. The aggregate is a single statement,
// so the default READ COMMITTED level already gives it a consistent view and
// concurrent upserts of the same metric serialize on the row lock instead of
// aborting. A unit the server still aborts is re-run from the start.
func (s *Store) WithSnapshot(ctx context.Context, fn func(domain.Snapshot) error) error {
	var err error
	for range snapshotAttempts {
		err = s.runSnapshot(ctx, fn)
		if !isSerializationFailure(err) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

func (s *Store) runSnapshot(ctx context.Context, fn func(domain.Snapshot) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &domain.StoreError{Op: "begin", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&snapshot{tx: tx, dialect: s.dialect}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return &domain.StoreError{Op: "commit", Err: err}
	}
	return nil
}

// isSerializationFailure reports whether err carries SQLSTATE 40001
// (serialization_failure) or 40P01 (deadlock_detected).
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// ListSummaries returns every metric summary ordered by name.
func (s *Store) ListSummaries(ctx context.Context) ([]domain.MetricSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT metric_name, metric_value, trend_description, region, last_updated
		FROM metric_summaries ORDER BY metric_name`)
	if err != nil {
		return nil, &domain.StoreError{Op: "list summaries", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var out []domain.MetricSummary
	for rows.Next() {
		var m domain.MetricSummary
		if err := rows.Scan(&m.MetricName, &m.MetricValue, &m.TrendDescription, &m.Region, &m.LastUpdated); err != nil {
			return nil, &domain.StoreError{Op: "scan summary", Err: err}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StoreError{Op: "list summaries", Err: err}
	}
	return out, nil
}

// LocationSummaries rolls the observation table up per location.
func (s *Store) LocationSummaries(ctx context.Context) ([]domain.LocationSummary, error) {
	query := `SELECT location, COUNT(*), AVG(temperature_celsius), AVG(salinity_psu), ` +
		s.dialect.dateAsText("MAX(observed_at)") + `
		FROM observation_records
		GROUP BY location
		ORDER BY location`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &domain.StoreError{Op: "location summaries", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var out []domain.LocationSummary
	for rows.Next() {
		var ls domain.LocationSummary
		if err := rows.Scan(&ls.Location, &ls.RecordCount, &ls.AvgTemperature, &ls.AvgSalinity, &ls.LatestObservedDate); err != nil {
			return nil, &domain.StoreError{Op: "scan location summary", Err: err}
		}
		ls.AvgTemperature = round2(ls.AvgTemperature)
		ls.AvgSalinity = round2(ls.AvgSalinity)
		out = append(out, ls)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StoreError{Op: "location summaries", Err: err}
	}
	return out, nil
}

// RecordDataset adds a catalogue row for an uploaded file and returns its id.
func (s *Store) RecordDataset(ctx context.Context, d domain.Dataset) (int64, error) {
	if d.DataType == "" {
		d.DataType = domain.DataTypeOceanographic
	}
	query := `INSERT INTO datasets
		(original_filename, storage_path, bucket, data_type, content_type, file_size_bytes, uploaded_at)
		VALUES ` + s.dialect.placeholders(1, 7) + `
		RETURNING id`
	var id int64
	err := s.db.QueryRowContext(ctx, query,
		d.OriginalFilename, d.StoragePath, d.Bucket, d.DataType, d.ContentType, d.SizeBytes, d.UploadedAt.UTC(),
	).Scan(&id)
	if err != nil {
		return 0, &domain.StoreError{Op: "record dataset", Err: err}
	}
	return id, nil
}

// ListDatasets returns the upload catalogue, most recent first.
func (s *Store) ListDatasets(ctx context.Context) ([]domain.Dataset, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, original_filename, storage_path, bucket, data_type,
		content_type, file_size_bytes, uploaded_at
		FROM datasets ORDER BY uploaded_at DESC, id DESC`)
	if err != nil {
		return nil, &domain.StoreError{Op: "list datasets", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Dataset
	for rows.Next() {
		var d domain.Dataset
		if err := rows.Scan(&d.ID, &d.OriginalFilename, &d.StoragePath, &d.Bucket, &d.DataType,
			&d.ContentType, &d.SizeBytes, &d.UploadedAt); err != nil {
			return nil, &domain.StoreError{Op: "scan dataset", Err: err}
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StoreError{Op: "list datasets", Err: err}
	}
	return out, nil
}

// snapshot implements domain.Snapshot on an open transaction.
type snapshot struct {
	tx      *sql.Tx
	dialect dialect
}

func (q *snapshot) Aggregate(ctx context.Context, fn domain.AggregateFunc, field domain.ObservationField) (float64, bool, error) {
	expr, err := aggregateExpr(fn, field)
	if err != nil {
		return 0, false, err
	}

	var (
		value sql.NullFloat64
		rows  int64
	)
	query := fmt.Sprintf(`SELECT %s, COUNT(*) FROM observation_records`, expr)
	if err := q.tx.QueryRowContext(ctx, query).Scan(&value, &rows); err != nil {
		return 0, false, &domain.StoreError{Op: "aggregate " + string(field), Err: err}
	}
	if rows == 0 || !value.Valid {
		return 0, false, nil
	}
	return value.Float64, true, nil
}

func (q *snapshot) UpsertSummary(ctx context.Context, m domain.MetricSummary) error {
	query := `INSERT INTO metric_summaries
		(metric_name, metric_value, trend_description, region, last_updated)
		VALUES ` + q.dialect.placeholders(1, 5) + `
		ON CONFLICT (metric_name) DO UPDATE SET
			metric_value = excluded.metric_value,
			trend_description = excluded.trend_description,
			region = excluded.region,
			last_updated = excluded.last_updated`
	if _, err := q.tx.ExecContext(ctx, query,
		m.MetricName, m.MetricValue, m.TrendDescription, m.Region, m.LastUpdated); err != nil {
		return &domain.StoreError{Op: "upsert summary " + m.MetricName, Err: err}
	}
	return nil
}

// aggregateExpr maps a function/field pair onto whitelisted SQL.
func aggregateExpr(fn domain.AggregateFunc, field domain.ObservationField) (string, error) {
	col, ok := observationColumns[field]
	if !ok {
		return "", fmt.Errorf("unknown observation field %q", field)
	}
	switch fn {
	case domain.AggCountDistinct:
		return "COUNT(DISTINCT " + col + ")", nil
	case domain.AggCount:
		return "COUNT(" + col + ")", nil
	case domain.AggAvg, domain.AggSum, domain.AggMin, domain.AggMax:
		if field == domain.ObsLocation {
			return "", fmt.Errorf("%s is not defined for %s", fn, field)
		}
		return string(fn) + "(" + col + ")", nil
	default:
		return "", fmt.Errorf("unknown aggregate %q", fn)
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
