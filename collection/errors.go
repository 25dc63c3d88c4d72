/*
errors.go - Centralized error types for collection records

PURPOSE:
  All error types in one place for consistency and discoverability.
  Backends wrap driver failures in StorageError; the RecordStore raises
  ReadOnlyError and ValidationError; the importer reports RowError.

ERROR CATEGORIES:
  1. Validation     - malformed input row, missing actor, bad patch
  2. Read-only      - mutation attempted on an immutable record
  3. Not found      - target record or history absent
  4. Storage        - persistence unavailable or erroring
  5. Upload         - the uploaded sheet itself cannot be decoded

USAGE:
  Callers branch with errors.Is on the sentinels:

    if errors.Is(err, collection.ErrReadOnly) {
        // 403
    }

SEE ALSO:
  - records.go: raises ReadOnlyError
  - importer.go: collects RowError
  - api/errors.go: maps sentinels to HTTP status codes
*/
package collection

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("validation failed")

	// ErrReadOnly is returned when updating or deleting a read-only record.
	ErrReadOnly = errors.New("record is read-only")

	// ErrNotFound is returned when a record or history does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStorage is returned when the backend fails.
	ErrStorage = errors.New("storage failure")

	// ErrMalformedUpload is returned when an uploaded sheet cannot be read at all.
	ErrMalformedUpload = errors.New("malformed upload")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes one invalid field.
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("invalid %s value '%s': %s", e.Field, e.Value, e.Message)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// ReadOnlyError identifies the record and operation that was refused.
type ReadOnlyError struct {
	RecordID int64
	Op       string // "update" or "delete"
}

func (e *ReadOnlyError) Error() string {
	return fmt.Sprintf("cannot %s read-only record %d", e.Op, e.RecordID)
}

func (e *ReadOnlyError) Unwrap() error {
	return ErrReadOnly
}

// StorageError wraps a backend failure. It matches both ErrStorage and the
// underlying driver error.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error {
	return []error{ErrStorage, e.Err}
}

// RowError attributes a failure to a 1-based data row of an import.
type RowError struct {
	Row int
	Err error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// NotFoundError names the missing record.
func NotFoundError(recordID int64) error {
	return fmt.Errorf("record %d: %w", recordID, ErrNotFound)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
// Only read operations act on this.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorage)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrMalformedUpload)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
