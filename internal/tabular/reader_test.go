package tabular

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/ocean-data-etl/internal/domain"
)

const testHeader = "Date,Location,Temperature_Celsius,Salinity_PSU,Fish_Species_Count"

func newTestReader(t *testing.T, body string) *Reader {
	t.Helper()
	r, err := NewReader(strings.NewReader(body), domain.RequiredColumns)
	require.NoError(t, err)
	return r
}

func requireMalformed(t *testing.T, err error) *domain.MalformedInputError {
	t.Helper()
	var me *domain.MalformedInputError
	require.True(t, errors.As(err, &me), "expected MalformedInputError, got %v", err)
	return me
}

func TestReader_PreservesRowOrder(t *testing.T) {
	r := newTestReader(t, testHeader+"\n"+
		"2024-01-01,Bay A,20.0,35.1,12\n"+
		"2024-01-02,Bay A,22.0,35.3,9\n"+
		"2024-01-03,Goa Coast,27.5,34.9,31\n")

	rows, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, 2, rows[0].Line)
	assert.Equal(t, "2024-01-01", rows[0].Fields["Date"])
	assert.Equal(t, "Bay A", rows[1].Fields["Location"])
	assert.Equal(t, "27.5", rows[2].Fields["Temperature_Celsius"])
	assert.Equal(t, 4, rows[2].Line)
}

func TestReader_SinglePass(t *testing.T) {
	r := newTestReader(t, testHeader+"\n2024-01-01,Bay A,20.0,35.1,12\n")

	_, err := r.Next()
	require.NoError(t, err)
	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReader_ExtraColumnsIgnoredAndReordered(t *testing.T) {
	r := newTestReader(t, "Notes,Fish_Species_Count,Salinity_PSU,Temperature_Celsius,Location,Date\n"+
		"calm sea,4,33.0,19.5,Kochi,2024-05-01\n")

	row, err := r.Next()
	require.NoError(t, err)
	rec, err := domain.Validate(row)
	require.NoError(t, err)
	assert.Equal(t, "Kochi", rec.Location)
	assert.Equal(t, int64(4), rec.SpeciesCount)
}

func TestReader_ShortRowLacksTrailingColumns(t *testing.T) {
	r := newTestReader(t, "Date,Location,Salinity_PSU,Fish_Species_Count,Temperature_Celsius\n"+
		"2024-01-01,Bay A,35.1,12\n")

	row, err := r.Next()
	require.NoError(t, err)
	_, present := row.Fields["Temperature_Celsius"]
	assert.False(t, present)

	_, err = domain.Validate(row)
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, domain.FieldTemperatureCelsius, ve.Field)
}

func TestReader_StripsBOMAndHeaderWhitespace(t *testing.T) {
	body := "\xEF\xBB\xBFDate , Location,Temperature_Celsius,Salinity_PSU,Fish_Species_Count\n2024-01-01,Bay A,20,35,1\n"
	r := newTestReader(t, body)
	assert.Equal(t, "Date", r.Header()[0])
	assert.Equal(t, "Location", r.Header()[1])
}

func TestNewReader_Malformed(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		_, err := NewReader(strings.NewReader(""), domain.RequiredColumns)
		me := requireMalformed(t, err)
		assert.Equal(t, "no header row", me.Reason)
	})

	t.Run("missing required column", func(t *testing.T) {
		_, err := NewReader(strings.NewReader("Date,Location,Salinity_PSU,Fish_Species_Count\n"), domain.RequiredColumns)
		me := requireMalformed(t, err)
		assert.Contains(t, me.Reason, "Temperature_Celsius")
	})

	t.Run("case-sensitive header match", func(t *testing.T) {
		_, err := NewReader(strings.NewReader("date,location,temperature_celsius,salinity_psu,fish_species_count\n"), domain.RequiredColumns)
		requireMalformed(t, err)
	})

	t.Run("duplicate required column", func(t *testing.T) {
		_, err := NewReader(strings.NewReader(testHeader+",Temperature_Celsius\n"), domain.RequiredColumns)
		me := requireMalformed(t, err)
		assert.Equal(t, "duplicate columns: Temperature_Celsius", me.Reason)
	})

	t.Run("binary header", func(t *testing.T) {
		_, err := NewReader(bytes.NewReader([]byte{0xff, 0xfe, 0x00, 0x41, '\n'}), []string{"A"})
		requireMalformed(t, err)
	})
}

func TestReader_RepeatedOptionalColumnKeepsFirst(t *testing.T) {
	r := newTestReader(t, testHeader+",Notes,Notes\n2024-01-01,Bay A,20,35,1,calm,windy\n")
	row, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "calm", row.Fields["Notes"])
	assert.Equal(t, "20", row.Fields[domain.ColumnTemperature])
}

func TestReader_InvalidUTF8RowIsMalformed(t *testing.T) {
	r := newTestReader(t, testHeader+"\n2024-01-01,Bay \xff,20,35,1\n")
	_, err := r.Next()
	requireMalformed(t, err)
}

func TestDecompress(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(testHeader + "\n2024-01-01,Bay A,20.0,35.1,12\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	src, closer, err := Decompress(bytes.NewReader(buf.Bytes()), "datasets/bay-a.CSV.GZ")
	require.NoError(t, err)
	require.NotNil(t, closer)
	defer closer() //nolint:errcheck // test cleanup

	rows, err := newReaderFrom(t, src).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	plain, closer, err := Decompress(strings.NewReader("x"), "datasets/a.csv")
	require.NoError(t, err)
	assert.Nil(t, closer)
	assert.NotNil(t, plain)

	_, _, err = Decompress(strings.NewReader("not gzip"), "datasets/a.csv.gz")
	requireMalformed(t, err)
}

func newReaderFrom(t *testing.T, r io.Reader) *Reader {
	t.Helper()
	rd, err := NewReader(r, domain.RequiredColumns)
	require.NoError(t, err)
	return rd
}
