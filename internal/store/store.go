// Package store holds the errors shared by the repository implementations.
package store

import "errors"

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)
