package audit

import "errors"

// Domain-specific errors for audit delivery.
var (
	// ErrDropped is reported when a record is discarded before delivery.
	ErrDropped = errors.New("audit: record dropped")

	// ErrNotFound is returned when a journal record does not exist.
	ErrNotFound = errors.New("audit: record not found")
)
