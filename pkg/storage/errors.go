package storage

import "errors"

var (
	// ErrNotFound is returned when no matching session record exists.
	ErrNotFound = errors.New("session record not found")

	// ErrConflict is returned when a record with the same ID already exists.
	ErrConflict = errors.New("session record already exists")
)
