package store

import "errors"

var (
	// ErrNotFound is returned when a requested room or participant row
	// doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrStoreUnavailable is returned for transport or auth failures
	// against the authoritative store.
	ErrStoreUnavailable = errors.New("store unavailable")
)
