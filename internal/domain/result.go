package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// IngestionStatus is the terminal state of one ingestion attempt.
type IngestionStatus string

const (
	StatusSkipped   IngestionStatus = "skipped"
	StatusSucceeded IngestionStatus = "succeeded"
	StatusDuplicate IngestionStatus = "duplicate"
	StatusFailed    IngestionStatus = "failed"
)

// FailureCause classifies a Failed ingestion.
type FailureCause string

const (
	CauseFetch FailureCause = "fetch"
	CauseParse FailureCause = "parse"
	CauseStore FailureCause = "store"
)

// IngestionResult reports the outcome of ingesting one object.
type IngestionResult struct {
	Status       IngestionStatus   `json:"status"`
	Bucket       string            `json:"bucket"`
	ObjectKey    string            `json:"object_key"`
	BatchID      string            `json:"batch_id,omitempty"`
	RowsInserted int               `json:"rows_inserted"`
	RowsRejected int               `json:"rows_rejected"`
	Rejections   []ValidationError `json:"rejections,omitempty"`
	Cause        FailureCause      `json:"cause,omitempty"`
	Err          error             `json:"-"`
}

// Error returns the failure message, or "" when the ingestion did not fail.
func (r IngestionResult) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Batch is the unit of work handed to the store: every record of one object,
// committed atomically together with its optional dedup key.
type Batch struct {
	ID            string
	Bucket        string
	ObjectKey     string
	ContentSHA256 string
	DedupKey      string // empty disables dedup for this batch
	Records       []ObservationRecord
}

// ContentDigest returns the hex SHA-256 of an object's bytes.
func ContentDigest(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// DedupKey identifies one version of one object. Identical bytes re-uploaded
// under the same key produce the same dedup key; changed bytes do not.
func DedupKey(bucket, key, digest string) string {
	return fmt.Sprintf("%s/%s@%s", bucket, key, digest)
}
