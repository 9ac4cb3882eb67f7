package model

import (
	"fmt"
	"strings"
)

// ValidationError marks a malformed or missing field. It is raised before
// any mutation, so the caller can fix the request and resubmit.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ReferenceError rejects a whole submission that names students missing
// from the roster. Rejecting the batch beats silently dropping rows.
type ReferenceError struct {
	StudentIDs []string
}

func (e *ReferenceError) Error() string {
	return "unknown student ids: " + strings.Join(e.StudentIDs, ", ")
}

// ConflictError signals that a concurrent writer on the same lecture key
// won the serialization race. The submission may be retried as a whole.
type ConflictError struct {
	LectureKey string
}

func (e *ConflictError) Error() string {
	return "concurrent write conflict on lecture " + e.LectureKey
}

// StorageFault wraps any other persistence failure. The transaction has
// been rolled back; no partial roster is observable.
type StorageFault struct {
	Op  string
	Err error
}

func (e *StorageFault) Error() string {
	return fmt.Sprintf("storage fault during %s: %v", e.Op, e.Err)
}

func (e *StorageFault) Unwrap() error { return e.Err }
