package domain

import (
	"errors"
	"time"
)

// DataTypeOceanographic classifies every dataset accepted through uploads.
const DataTypeOceanographic = "Oceanographic"

// ErrUploadsDisabled is returned when no upload bucket is configured.
var ErrUploadsDisabled = errors.New("uploads disabled: no upload bucket configured")

// Dataset is a catalogue entry for one uploaded file. StoragePath is the
// object key the upload was written under and is unique.
type Dataset struct {
	ID               int64     `json:"id"`
	OriginalFilename string    `json:"original_filename"`
	StoragePath      string    `json:"storage_path"`
	Bucket           string    `json:"bucket"`
	DataType         string    `json:"data_type"`
	ContentType      string    `json:"content_type"`
	SizeBytes        int64     `json:"file_size_bytes"`
	UploadedAt       time.Time `json:"uploaded_at"`
}

// ColumnType is the inferred kind of a tabular column.
type ColumnType string

const (
	ColumnNumeric     ColumnType = "Numeric"
	ColumnDateTime    ColumnType = "Date/Time"
	ColumnCategorical ColumnType = "Categorical (Text)"
)

// ColumnSchema describes one column of an analysed file.
type ColumnSchema struct {
	ColumnName string     `json:"columnName"`
	DataType   ColumnType `json:"dataType"`
}
