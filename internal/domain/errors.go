package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound means the job was deleted or disabled between index
	// load and execution.
	ErrJobNotFound = errors.New("job not found or disabled")

	// ErrLockHeld means another agent process already holds the
	// single-instance lock on this machine.
	ErrLockHeld = errors.New("agent lock held by another process")

	// ErrNoNotificationConfig means the singleton notification document is
	// absent; notifications are simply disabled.
	ErrNoNotificationConfig = errors.New("notification config not found")
)

// StoreError wraps a retriable database failure. A tick that hits one is
// logged and abandoned; the main loop continues on the next cycle.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError wraps err with the failed operation name.
func NewStoreError(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}
