package pool

import (
	"errors"
	"fmt"
)

var (
	// ErrAcquireTimeout is returned when no connection became available within
	// the connect timeout. The pool itself stays healthy.
	ErrAcquireTimeout = errors.New("pool: acquire timed out")

	// ErrPoolClosed is returned by Acquire during or after Close.
	ErrPoolClosed = errors.New("pool: closed")

	// ErrConnReleased is returned when a connection is released twice.
	ErrConnReleased = errors.New("pool: connection already released")

	// ErrForeignConn is returned when releasing a connection owned by another pool.
	ErrForeignConn = errors.New("pool: connection does not belong to this pool")

	// ErrInit matches every *InitError via errors.Is.
	ErrInit = errors.New("pool: backing store unreachable")
)

// InitError reports that the backing store could not be reached while
// building the pool.
type InitError struct {
	Attempts int
	Err      error
}

func (e *InitError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("pool: backing store unreachable after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("pool: backing store unreachable: %v", e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

func (e *InitError) Is(target error) bool { return target == ErrInit }
