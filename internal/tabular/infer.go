package tabular

import (
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/ocean-data-etl/internal/domain"
)

// DefaultSampleRows is how many data rows InferSchema inspects.
const DefaultSampleRows = 5

// Date layouts recognised on top of the observation date layouts.
var dateTimeLayouts = []string{
	time.DateTime,
	"2006-01-02T15:04:05",
	time.RFC1123,
	time.RFC1123Z,
	"Jan 2, 2006",
	"2 Jan 2006",
	"January 2, 2006",
}

// InferSchema reads the header and up to sampleRows data rows and guesses a
// type for each distinct column name, in header order. Blank cells are
// ignored, so a column with no sampled values reports Numeric.
func InferSchema(r io.Reader, sampleRows int) ([]domain.ColumnSchema, error) {
	reader, err := NewReader(r, nil)
	if err != nil {
		return nil, err
	}

	var sample []domain.RawRow
	for len(sample) < sampleRows {
		row, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		sample = append(sample, row)
	}

	header := reader.Header()
	out := make([]domain.ColumnSchema, 0, len(header))
	seen := make(map[string]bool, len(header))
	for _, name := range header {
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, domain.ColumnSchema{ColumnName: name, DataType: columnType(sample, name)})
	}
	return out, nil
}

func columnType(rows []domain.RawRow, column string) domain.ColumnType {
	numeric, date := true, true
	for _, row := range rows {
		v := strings.TrimSpace(row.Fields[column])
		if v == "" {
			continue
		}
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			numeric = false
		}
		if !isDate(v) {
			date = false
		}
	}
	switch {
	case numeric:
		return domain.ColumnNumeric
	case date:
		return domain.ColumnDateTime
	default:
		return domain.ColumnCategorical
	}
}

func isDate(v string) bool {
	if _, ok := domain.ParseDate(v); ok {
		return true
	}
	for _, layout := range dateTimeLayouts {
		if _, err := time.Parse(layout, v); err == nil {
			return true
		}
	}
	return false
}
