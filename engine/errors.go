package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrIdentityChanged is returned when a backend reports a different
	// object identity after a move. It always aborts the run.
	ErrIdentityChanged = errors.New("object identity changed after move")

	// ErrNoParent is returned for an object without any parent container,
	// since its placement cannot be decided.
	ErrNoParent = errors.New("object has no parent")

	// ErrInvalidWorkers is returned when the worker count is below one.
	ErrInvalidWorkers = errors.New("worker count must be at least 1")
)

// MoveError describes a failure to relocate one object.
type MoveError struct {
	Op       string
	ObjectID string
	Name     string
	Err      error
}

func (e *MoveError) Error() string {
	return fmt.Sprintf("%s %q (%s): %v", e.Op, e.Name, e.ObjectID, e.Err)
}

func (e *MoveError) Unwrap() error { return e.Err }

// ConfigError is a failure detected before any worker started: the source
// or target could not be reached, resolved or created.
type ConfigError struct {
	Op  string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }
