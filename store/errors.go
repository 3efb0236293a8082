package store

import "errors"

var (
	// ErrNotFound is returned when the requested record doesn't exist.
	ErrNotFound = errors.New("arbor: record not found")

	// ErrNotMatched is returned when a conditional update's predicate fails
	// against the current record, or the target record is missing. Callers
	// cannot distinguish the two without a separate Get; this is a normal
	// outcome under concurrent updates, not an application error.
	ErrNotMatched = errors.New("arbor: condition not matched")

	// ErrParentNotFound is returned when a referenced parent record is absent
	// at creation time. Creation aborts with nothing persisted.
	ErrParentNotFound = errors.New("arbor: parent record not found")

	// ErrDuplicateKey is returned when a caller-supplied key already exists.
	// Recoverable by retrying with a fresh key.
	ErrDuplicateKey = errors.New("arbor: duplicate record key")

	// ErrIndexInconsistency is returned when a secondary index diverged from
	// the store. Queries over the affected range are untrusted until the
	// index is rebuilt from a store scan.
	ErrIndexInconsistency = errors.New("arbor: index inconsistent with store")
)
