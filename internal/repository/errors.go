package repository

import "errors"

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a write would violate a lifecycle rule,
	// e.g. linking an already-processed email.
	ErrConflict = errors.New("conflict")
)
