package ingest

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/ocean-data-etl/internal/adapter/store"
	"github.com/couchcryptid/ocean-data-etl/internal/domain"
	"github.com/couchcryptid/ocean-data-etl/internal/observability"
)

const (
	testBucket = "ocean-raw"
	header     = "Date,Location,Temperature_Celsius,Salinity_PSU,Fish_Species_Count\n"
)

type fakeFetcher struct {
	objects map[string][]byte
	err     error
	calls   int
}

func (f *fakeFetcher) Fetch(_ context.Context, bucket, key string) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	b, ok := f.objects[key]
	if !ok {
		return nil, &domain.FetchError{Bucket: bucket, Key: key, NotFound: true, Err: errors.New("no such key")}
	}
	return b, nil
}

// recordingStore wraps a BatchStore and remembers what it was asked to do.
type recordingStore struct {
	next    BatchStore
	err     error
	batches []domain.Batch
	ctxErr  error
	hasDL   bool
}

func (r *recordingStore) InsertBatch(ctx context.Context, batch domain.Batch) (int, error) {
	r.batches = append(r.batches, batch)
	r.ctxErr = ctx.Err()
	_, r.hasDL = ctx.Deadline()
	if r.err != nil {
		return 0, r.err
	}
	if r.next == nil {
		return len(batch.Records), nil
	}
	return r.next.InsertBatch(ctx, batch)
}

func newSQLiteStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), store.Options{
		Driver: store.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "ingest.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.EnsureSchema(context.Background()))
	return s
}

func newTestService(f ObjectFetcher, s BatchStore, dedup bool) *Service {
	svc := NewService(f, s, Options{
		Prefix:       DefaultPrefix,
		Dedup:        dedup,
		FetchTimeout: time.Second,
		StoreTimeout: 5 * time.Second,
	}, slog.Default(), observability.NewMetricsForTesting())
	svc.newID = func() string { return "batch-1" }
	return svc
}

func storedRecords(t *testing.T, s *store.Store) []domain.ObservationRecord {
	t.Helper()
	got, err := s.ListObservations(context.Background(), "")
	require.NoError(t, err)
	sort.SliceStable(got, func(i, j int) bool { return got[i].ObservedAt.Before(got[j].ObservedAt) })
	return got
}

func day(d int) time.Time {
	return time.Date(2024, time.January, d, 0, 0, 0, 0, time.UTC)
}

func TestIngest_OutsidePrefixIsSkipped(t *testing.T) {
	fetcher := &fakeFetcher{}
	rec := &recordingStore{}
	svc := newTestService(fetcher, rec, true)

	for _, key := range []string{"uploads/a.csv", "a.csv", "Datasets/a.csv", ""} {
		res := svc.Ingest(context.Background(), testBucket, key)
		assert.Equal(t, domain.StatusSkipped, res.Status, key)
		assert.Zero(t, res.RowsInserted)
	}
	assert.Zero(t, fetcher.calls)
	assert.Empty(t, rec.batches)
}

func TestIngest_StoresValidatedRowsExactly(t *testing.T) {
	db := newSQLiteStore(t)
	fetcher := &fakeFetcher{objects: map[string][]byte{
		"datasets/bay.csv": []byte(header +
			"2024-01-01,Bay A,20.0,35.1,12\n" +
			"2024-01-02,Bay A,22.0,35.3,9\n" +
			"2024-01-03,Goa Coast,27.5,34.9,31\n"),
	}}
	svc := newTestService(fetcher, db, false)

	res := svc.Ingest(context.Background(), testBucket, "datasets/bay.csv")
	require.Equal(t, domain.StatusSucceeded, res.Status, res.Error())
	assert.Equal(t, 3, res.RowsInserted)
	assert.Zero(t, res.RowsRejected)
	assert.Equal(t, "batch-1", res.BatchID)

	want := []domain.ObservationRecord{
		{ObservedAt: day(1), Location: "Bay A", TemperatureCelsius: 20.0, SalinityPSU: 35.1, SpeciesCount: 12},
		{ObservedAt: day(2), Location: "Bay A", TemperatureCelsius: 22.0, SalinityPSU: 35.3, SpeciesCount: 9},
		{ObservedAt: day(3), Location: "Goa Coast", TemperatureCelsius: 27.5, SalinityPSU: 34.9, SpeciesCount: 31},
	}
	if diff := cmp.Diff(want, storedRecords(t, db)); diff != "" {
		t.Fatalf("stored records mismatch (-want +got):\n%s", diff)
	}
}

func TestIngest_PartialSuccess(t *testing.T) {
	db := newSQLiteStore(t)
	fetcher := &fakeFetcher{objects: map[string][]byte{
		"datasets/mixed.csv": []byte(header +
			"2024-01-01,Bay A,20.0,35.1,12\n" +
			"not-a-date,Bay A,22.0,35.3,9\n" +
			"2024-01-03,   ,27.5,34.9,31\n" +
			"2024-01-04,Bay B,19.0,-1,4\n" +
			"2024-01-05,Bay C,18.5,33.0,7\n"),
	}}
	svc := newTestService(fetcher, db, false)

	res := svc.Ingest(context.Background(), testBucket, "datasets/mixed.csv")
	require.Equal(t, domain.StatusSucceeded, res.Status)
	assert.Equal(t, 2, res.RowsInserted)
	assert.Equal(t, 3, res.RowsRejected)
	require.Len(t, res.Rejections, 3)
	assert.Equal(t, domain.FieldObservedAt, res.Rejections[0].Field)
	assert.Equal(t, 3, res.Rejections[0].Line)
	assert.Equal(t, domain.FieldLocation, res.Rejections[1].Field)
	assert.Equal(t, domain.FieldSalinityPSU, res.Rejections[2].Field)
	assert.Len(t, storedRecords(t, db), 2)
}

func TestIngest_RowMissingTemperatureIsRejected(t *testing.T) {
	db := newSQLiteStore(t)
	// Temperature is the last column so a short row simply lacks it.
	fetcher := &fakeFetcher{objects: map[string][]byte{
		"datasets/short.csv": []byte("Date,Location,Salinity_PSU,Fish_Species_Count,Temperature_Celsius\n" +
			"2024-01-01,Bay A,35.1,12,20.0\n" +
			"2024-01-02,Bay A,35.3,9\n" +
			"2024-01-03,Bay A,35.0,4,21.0\n"),
	}}
	svc := newTestService(fetcher, db, false)

	res := svc.Ingest(context.Background(), testBucket, "datasets/short.csv")
	require.Equal(t, domain.StatusSucceeded, res.Status)
	assert.Equal(t, 2, res.RowsInserted)
	require.Equal(t, 1, res.RowsRejected)
	assert.Equal(t, domain.FieldTemperatureCelsius, res.Rejections[0].Field)
}

func TestIngest_AllRowsInvalidStillSucceeds(t *testing.T) {
	rec := &recordingStore{}
	fetcher := &fakeFetcher{objects: map[string][]byte{
		"datasets/bad.csv": []byte(header + "x,Bay A,20,35,1\n"),
	}}
	svc := newTestService(fetcher, rec, false)

	res := svc.Ingest(context.Background(), testBucket, "datasets/bad.csv")
	assert.Equal(t, domain.StatusSucceeded, res.Status)
	assert.Zero(t, res.RowsInserted)
	assert.Equal(t, 1, res.RowsRejected)
	assert.Empty(t, rec.batches)
}

func TestIngest_FetchNotFound(t *testing.T) {
	db := newSQLiteStore(t)
	svc := newTestService(&fakeFetcher{}, db, true)

	res := svc.Ingest(context.Background(), testBucket, "datasets/missing.csv")
	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.Equal(t, domain.CauseFetch, res.Cause)
	assert.True(t, domain.IsNotFound(res.Err))
	assert.Empty(t, storedRecords(t, db))
}

func TestIngest_TransientFetchErrorIsWrapped(t *testing.T) {
	rec := &recordingStore{}
	boom := errors.New("connection reset")
	svc := newTestService(&fakeFetcher{err: boom}, rec, false)

	res := svc.Ingest(context.Background(), testBucket, "datasets/a.csv")
	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.Equal(t, domain.CauseFetch, res.Cause)

	var fe *domain.FetchError
	require.ErrorAs(t, res.Err, &fe)
	assert.False(t, fe.NotFound)
	assert.ErrorIs(t, res.Err, boom)
	assert.Empty(t, rec.batches)
}

func TestIngest_MalformedFileCommitsNothing(t *testing.T) {
	tests := map[string]string{
		"empty":          "",
		"missing column": "Date,Location,Salinity_PSU,Fish_Species_Count\n2024-01-01,Bay A,35,1\n",
		"bad utf8 row":   header + "2024-01-01,Bay A,20,35,1\n2024-01-02,Bay \xff,20,35,1\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			rec := &recordingStore{}
			fetcher := &fakeFetcher{objects: map[string][]byte{"datasets/m.csv": []byte(body)}}
			svc := newTestService(fetcher, rec, true)

			res := svc.Ingest(context.Background(), testBucket, "datasets/m.csv")
			assert.Equal(t, domain.StatusFailed, res.Status)
			assert.Equal(t, domain.CauseParse, res.Cause)

			var me *domain.MalformedInputError
			assert.ErrorAs(t, res.Err, &me)
			assert.Empty(t, rec.batches)
		})
	}
}

func TestIngest_StoreFailure(t *testing.T) {
	rec := &recordingStore{err: errors.New("connection refused")}
	fetcher := &fakeFetcher{objects: map[string][]byte{
		"datasets/a.csv": []byte(header + "2024-01-01,Bay A,20,35,1\n"),
	}}
	svc := newTestService(fetcher, rec, false)

	res := svc.Ingest(context.Background(), testBucket, "datasets/a.csv")
	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.Equal(t, domain.CauseStore, res.Cause)
	assert.Zero(t, res.RowsInserted)

	var se *domain.StoreError
	assert.ErrorAs(t, res.Err, &se)
}

func TestIngest_CommitIgnoresCallerCancellation(t *testing.T) {
	rec := &recordingStore{}
	fetcher := &fakeFetcher{objects: map[string][]byte{
		"datasets/a.csv": []byte(header + "2024-01-01,Bay A,20,35,1\n"),
	}}
	svc := newTestService(fetcher, rec, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := svc.Ingest(ctx, testBucket, "datasets/a.csv")
	require.Equal(t, domain.StatusSucceeded, res.Status)
	require.Len(t, rec.batches, 1)
	assert.NoError(t, rec.ctxErr)
	assert.True(t, rec.hasDL, "commit must still be bounded by the store timeout")
}

func TestIngest_RepeatWithoutDedupAppendsAgain(t *testing.T) {
	db := newSQLiteStore(t)
	fetcher := &fakeFetcher{objects: map[string][]byte{
		"datasets/a.csv": []byte(header + "2024-01-01,Bay A,20,35,1\n2024-01-02,Bay A,22,35,1\n"),
	}}
	svc := newTestService(fetcher, db, false)

	first := svc.Ingest(context.Background(), testBucket, "datasets/a.csv")
	second := svc.Ingest(context.Background(), testBucket, "datasets/a.csv")
	assert.Equal(t, domain.StatusSucceeded, first.Status)
	assert.Equal(t, domain.StatusSucceeded, second.Status)
	assert.Len(t, storedRecords(t, db), 4)
}

func TestIngest_DedupSuppressesRepeats(t *testing.T) {
	db := newSQLiteStore(t)
	fetcher := &fakeFetcher{objects: map[string][]byte{
		"datasets/a.csv": []byte(header + "2024-01-01,Bay A,20,35,1\n"),
	}}
	svc := newTestService(fetcher, db, true)

	first := svc.Ingest(context.Background(), testBucket, "datasets/a.csv")
	require.Equal(t, domain.StatusSucceeded, first.Status)

	second := svc.Ingest(context.Background(), testBucket, "datasets/a.csv")
	assert.Equal(t, domain.StatusDuplicate, second.Status)
	assert.Zero(t, second.RowsInserted)
	assert.Len(t, storedRecords(t, db), 1)

	// A new version of the same key is a different object.
	fetcher.objects["datasets/a.csv"] = []byte(header + "2024-01-01,Bay A,20,35,1\n2024-01-02,Bay A,21,35,1\n")
	third := svc.Ingest(context.Background(), testBucket, "datasets/a.csv")
	assert.Equal(t, domain.StatusSucceeded, third.Status)
	assert.Len(t, storedRecords(t, db), 3)
}

func TestIngest_DedupRecordsEmptyBatches(t *testing.T) {
	rec := &recordingStore{}
	fetcher := &fakeFetcher{objects: map[string][]byte{"datasets/h.csv": []byte(header)}}
	svc := newTestService(fetcher, rec, true)

	res := svc.Ingest(context.Background(), testBucket, "datasets/h.csv")
	assert.Equal(t, domain.StatusSucceeded, res.Status)
	require.Len(t, rec.batches, 1)
	assert.Empty(t, rec.batches[0].Records)
	assert.Equal(t, domain.DedupKey(testBucket, "datasets/h.csv", domain.ContentDigest([]byte(header))), rec.batches[0].DedupKey)
}

func TestIngest_GzipObject(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(header + "2024-01-01,Bay A,20,35,1\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	db := newSQLiteStore(t)
	fetcher := &fakeFetcher{objects: map[string][]byte{"datasets/a.csv.gz": buf.Bytes()}}
	svc := newTestService(fetcher, db, true)

	res := svc.Ingest(context.Background(), testBucket, "datasets/a.csv.gz")
	require.Equal(t, domain.StatusSucceeded, res.Status, res.Error())
	assert.Equal(t, 1, res.RowsInserted)
}

func TestIngest_RejectionDetailsAreBounded(t *testing.T) {
	var body bytes.Buffer
	body.WriteString(header)
	for range maxRejectionDetails + 5 {
		body.WriteString("bad,Bay A,20,35,1\n")
	}
	fetcher := &fakeFetcher{objects: map[string][]byte{"datasets/bad.csv": body.Bytes()}}
	svc := newTestService(fetcher, &recordingStore{}, false)

	res := svc.Ingest(context.Background(), testBucket, "datasets/bad.csv")
	assert.Equal(t, maxRejectionDetails+5, res.RowsRejected)
	assert.Len(t, res.Rejections, maxRejectionDetails)
}
