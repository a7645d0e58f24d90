package vfs

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrCancelled is delivered to operations drained or interrupted by a
	// cancellation. It is never shown to the user.
	ErrCancelled = errors.New("operation cancelled")

	// ErrNoSuitableBackend means no registered backend claims the scheme.
	ErrNoSuitableBackend = errors.New("no suitable backend")

	// ErrMountRequired means no entry point contains the location and the
	// backend cannot mount one.
	ErrMountRequired = errors.New("mount required")

	// ErrMountFailed wraps the error of a failed mount attempt.
	ErrMountFailed = errors.New("mount failed")

	// ErrFileTypeUnsupported means the target is neither a regular file nor
	// a directory.
	ErrFileTypeUnsupported = errors.New("file type not supported")

	// ErrNotSupported is returned by primitives a backend does not implement.
	ErrNotSupported = errors.New("operation not supported")
)

// OperationError reports a failed backend primitive.
type OperationError struct {
	Op       string
	Location Location
	Err      error
}

func (e *OperationError) Error() string {
	if e.Location == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Location, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

// IsCancelled reports whether err stems from a cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// NoSuitableBackend builds the error for a location no backend claims.
func NoSuitableBackend(loc Location) error {
	return fmt.Errorf("no suitable module found for %s: %w", loc, ErrNoSuitableBackend)
}
