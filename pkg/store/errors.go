package store

import "errors"

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("record not found")

	// ErrNotInitialized is returned when a store operation runs before
	// startup wiring (migrations) has completed
	ErrNotInitialized = errors.New("store not initialized")
)
