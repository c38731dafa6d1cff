package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no record exists for a key.
	ErrNotFound = errors.New("cache entry not found")
	// ErrCorrupted is returned when a record exists but cannot be decoded.
	ErrCorrupted = errors.New("cache entry corrupted")
	// ErrIO is wrapped around failures of the underlying storage medium.
	ErrIO = errors.New("cache storage i/o error")
)

func ioError(op string, err error) error {
	return fmt.Errorf("failed to %s: %w (%w)", op, err, ErrIO)
}
