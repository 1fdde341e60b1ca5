package model

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidName     = errors.New("invalid name")
	ErrNameInUse       = fmt.Errorf("%w: name in use", ErrInvalidName)
	ErrInvalidScript   = errors.New("invalid script")
	ErrNotFound        = errors.New("not found")
	ErrInvalidState    = errors.New("invalid state")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrPageOutOfRange  = errors.New("page does not exist")
)

// StateError is returned when an operation is not legal in the current state.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: cannot %s a %s script", ErrInvalidState, e.Op, e.State)
}

func (e *StateError) Is(target error) bool {
	return target == ErrInvalidState
}
