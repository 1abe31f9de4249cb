package storage

import "errors"

// Sentinel errors reported by store and staging operations. Callers match
// with errors.Is to map onto HTTP status codes.
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicate    = errors.New("duplicate")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
)
