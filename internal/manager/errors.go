package manager

import "errors"

var (
	// ErrInvalidPattern is returned when an invalidation pattern cannot be parsed.
	ErrInvalidPattern = errors.New("invalid invalidation pattern")
	// ErrClosed is returned by operations on a destroyed manager.
	ErrClosed = errors.New("cache manager is closed")
)
