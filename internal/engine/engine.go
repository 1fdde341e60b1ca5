// Package engine defines the script execution engine used by the service
// and its Starlark implementation.
//
// Source is compiled once, when a script is submitted, so syntax errors are
// reported before anything is queued. A compiled Program creates one
// Execution per run. An Execution can be interrupted from another goroutine
// at any time: the running script observes the request at its next step and
// unwinds with an *Error whose Canceled flag is set.
package engine

import (
	"context"
	"io"
)

// Engine compiles source text into runnable programs.
type Engine interface {
	// Compile validates source. Errors wrap model.ErrInvalidScript.
	Compile(name, source string) (Program, error)
}

// Program is a compiled, immutable script.
type Program interface {
	// Execution prepares a single run writing the script output to out.
	Execution(out io.Writer) Execution
}

// Execution is a single run of a Program.
type Execution interface {
	// Run blocks until the script completes. It returns nil on success and
	// an *Error otherwise. Ending ctx interrupts the script: cancellation
	// is reported as canceled, an exceeded deadline as a failure.
	Run(ctx context.Context) error
	// Cancel requests forced interruption and returns immediately. It is
	// safe to call at any time and more than once.
	Cancel()
}

// Error is the structured failure of an execution.
type Error struct {
	Message  string
	Canceled bool
}

func (e *Error) Error() string {
	return e.Message
}
