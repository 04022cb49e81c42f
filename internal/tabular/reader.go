// Package tabular reads delimited text files with a header row into raw rows.
package tabular

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/klauspost/compress/gzip"

	"github.com/couchcryptid/ocean-data-etl/internal/domain"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Reader yields the data rows of one file in source order. It is single-pass:
// once Next returns io.EOF the rows are gone.
type Reader struct {
	csv    *csv.Reader
	header []string
}

// NewReader reads and checks the header row. Every name in required must be
// present (case-sensitive); other columns are carried but unused. A missing
// header, an undecodable header, or a missing required column is a
// *domain.MalformedInputError.
func NewReader(r io.Reader, required []string) (*Reader, error) {
	csvr := csv.NewReader(r)
	csvr.FieldsPerRecord = -1
	csvr.LazyQuotes = true

	header, err := csvr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &domain.MalformedInputError{Reason: "no header row"}
	}
	if err != nil {
		return nil, &domain.MalformedInputError{Reason: "read header", Err: err}
	}

	if len(header) > 0 {
		header[0] = string(bytes.TrimPrefix([]byte(header[0]), utf8BOM))
	}
	seen := make(map[string]int, len(header))
	for i, h := range header {
		if !utf8.ValidString(h) {
			return nil, &domain.MalformedInputError{Reason: "header is not valid UTF-8 text"}
		}
		header[i] = strings.TrimSpace(h)
		seen[header[i]]++
	}

	var missing, dup []string
	for _, col := range required {
		switch seen[col] {
		case 0:
			missing = append(missing, col)
		case 1:
		default:
			dup = append(dup, col)
		}
	}
	if len(missing) > 0 {
		return nil, &domain.MalformedInputError{
			Reason: "missing required columns: " + strings.Join(missing, ", "),
		}
	}
	if len(dup) > 0 {
		return nil, &domain.MalformedInputError{
			Reason: "duplicate columns: " + strings.Join(dup, ", "),
		}
	}

	return &Reader{csv: csvr, header: header}, nil
}

// Header returns the trimmed column names in file order.
func (r *Reader) Header() []string {
	return append([]string(nil), r.header...)
}

// Next returns the next data row, or io.EOF after the last one. Short rows
// simply lack the trailing columns; surplus fields are dropped. When an
// optional column name repeats, the first occurrence wins. A syntax or
// encoding error anywhere in the body is a *domain.MalformedInputError.
func (r *Reader) Next() (domain.RawRow, error) {
	record, err := r.csv.Read()
	if errors.Is(err, io.EOF) {
		return domain.RawRow{}, io.EOF
	}
	if err != nil {
		return domain.RawRow{}, &domain.MalformedInputError{Reason: "read row", Err: err}
	}

	line, _ := r.csv.FieldPos(0)
	fields := make(map[string]string, len(r.header))
	for i, v := range record {
		if i >= len(r.header) {
			break
		}
		if !utf8.ValidString(v) {
			return domain.RawRow{}, &domain.MalformedInputError{
				Reason: fmt.Sprintf("line %d is not valid UTF-8 text", line),
			}
		}
		if _, dup := fields[r.header[i]]; dup {
			continue
		}
		fields[r.header[i]] = v
	}
	return domain.RawRow{Line: line, Fields: fields}, nil
}

// ReadAll drains the reader. It is a convenience for callers that need
// several passes over the rows.
func (r *Reader) ReadAll() ([]domain.RawRow, error) {
	var rows []domain.RawRow
	for {
		row, err := r.Next()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
}

// Decompress wraps r with gzip decompression if the key ends in .gz.
// The returned closer may be nil if no wrapper was added.
func Decompress(r io.Reader, key string) (io.Reader, func() error, error) {
	if !strings.HasSuffix(strings.ToLower(key), ".gz") {
		return r, nil, nil
	}

	gzr, err := gzip.NewReader(r)
	if err != nil {
		return nil, nil, &domain.MalformedInputError{Reason: "open gzip stream", Err: err}
	}
	return gzr, gzr.Close, nil
}
