package domain

import (
	"errors"
	"fmt"
)

// ErrDuplicateObject is returned by a store when a batch's dedup key has
// already been committed.
var ErrDuplicateObject = errors.New("object already ingested")

// ValidationError rejects a single row. It never aborts the surrounding file.
type ValidationError struct {
	Line   int    `json:"line"`
	Field  string `json:"field"`
	Value  string `json:"value"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("line %d: field %s: %s (value %q)", e.Line, e.Field, e.Reason, e.Value)
}

// MalformedInputError means the file as a whole cannot be parsed.
type MalformedInputError struct {
	Reason string
	Err    error
}

func (e *MalformedInputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed input: %s: %v", e.Reason, e.Err)
	}
	return "malformed input: " + e.Reason
}

func (e *MalformedInputError) Unwrap() error { return e.Err }

// FetchError means the object could not be retrieved. NotFound distinguishes
// a missing object from a transient I/O failure.
type FetchError struct {
	Bucket   string
	Key      string
	NotFound bool
	Err      error
}

func (e *FetchError) Error() string {
	kind := "transient I/O error"
	if e.NotFound {
		kind = "not found"
	}
	return fmt.Sprintf("fetch %s/%s: %s: %v", e.Bucket, e.Key, kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// StoreError wraps a connection, query, or commit failure in the relational store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a FetchError for a missing object.
func IsNotFound(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.NotFound
}
