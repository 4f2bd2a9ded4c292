package zarr

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrNotfound      = errors.New("not found")
	ErrExists        = errors.New("already exists")
	ErrOutOfBounds   = errors.New("slice out of bounds")
	ErrShapeMismatch = errors.New("data shape does not match slice extent")
	ErrDtypeMismatch = errors.New("data type does not match dataset")
	ErrReadOnly      = errors.New("dataset is read only")
	ErrClosed        = errors.New("dataset is closed")
	ErrCancelled     = errors.New("cancelled")
	ErrIncomplete    = errors.New("producer did not complete in time")

	// ErrConcurrentExtendConflict means two extends of one dataset raced past the
	// extend lock. Seeing it is a coordinator bug.
	ErrConcurrentExtendConflict = errors.New("concurrent extend conflict")

	// ErrProducerFailed matches every *ProducerError.
	ErrProducerFailed = errors.New("producer failed")
)

// ProducerError records the failure of one producer in a cohort
type ProducerError struct {
	Producer string
	Err      error
}

func (e *ProducerError) Error() string {
	return fmt.Sprintf("producer %q: %s", e.Producer, e.Err)
}

func (e *ProducerError) Unwrap() error { return e.Err }

// Is reports ErrProducerFailed as a match so callers don't need the concrete type
func (e *ProducerError) Is(target error) bool { return target == ErrProducerFailed }
