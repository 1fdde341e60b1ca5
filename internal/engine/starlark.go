package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"

	"github.com/CZERTAINLY/scriptd/internal/model"
)

func init() {
	// scripts are plain programs rather than configuration: allow while
	// loops, recursion and top level statements
	resolve.AllowSet = true
	resolve.AllowGlobalReassign = true
	resolve.AllowRecursion = true
}

const (
	reasonCanceled = "canceled"
	reasonTimeout  = "timeout"
)

var builtins = map[string]bool{
	"sleep": true,
}

// Starlark executes scripts written in the Starlark language.
type Starlark struct {
	maxSteps uint64
}

type StarlarkOption func(*Starlark)

// WithMaxSteps bounds the number of computation steps of an execution. Zero
// means unlimited.
func WithMaxSteps(n uint64) StarlarkOption {
	return func(s *Starlark) {
		s.maxSteps = n
	}
}

func NewStarlark(opts ...StarlarkOption) *Starlark {
	s := &Starlark{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Starlark) Compile(name, source string) (Program, error) {
	filename := name + ".star"
	_, prog, err := starlark.SourceProgram(filename, source, func(name string) bool {
		return builtins[name]
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrInvalidScript, err)
	}
	return &starlarkProgram{
		filename: filename,
		prog:     prog,
		maxSteps: s.maxSteps,
	}, nil
}

type starlarkProgram struct {
	filename string
	prog     *starlark.Program
	maxSteps uint64
}

func (p *starlarkProgram) Execution(out io.Writer) Execution {
	x := &starlarkExecution{
		prog: p,
		stop: make(chan struct{}),
	}
	x.thread = &starlark.Thread{
		Name: p.filename,
		Print: func(_ *starlark.Thread, msg string) {
			_, _ = io.WriteString(out, msg+"\n")
		},
	}
	if p.maxSteps > 0 {
		x.thread.SetMaxExecutionSteps(p.maxSteps)
	}
	return x
}

type starlarkExecution struct {
	prog     *starlarkProgram
	thread   *starlark.Thread
	stop     chan struct{} // closed by Cancel
	once     sync.Once
	canceled atomic.Bool
	timedOut atomic.Bool
}

func (x *starlarkExecution) Cancel() {
	x.once.Do(func() {
		x.canceled.Store(true)
		close(x.stop)
		x.thread.Cancel(reasonCanceled)
	})
}

func (x *starlarkExecution) Run(ctx context.Context) error {
	if x.canceled.Load() {
		return &Error{Message: reasonCanceled, Canceled: true}
	}
	release := context.AfterFunc(ctx, func() {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			x.timedOut.Store(true)
			x.thread.Cancel(reasonTimeout)
			return
		}
		x.Cancel()
	})
	defer release()

	predeclared := starlark.StringDict{
		"sleep": starlark.NewBuiltin("sleep", x.sleep(ctx)),
	}
	_, err := x.prog.prog.Init(x.thread, predeclared)
	if err == nil {
		return nil
	}

	// ctx is checked too, the AfterFunc callback may not have run yet
	switch {
	case x.canceled.Load():
		return &Error{Message: reasonCanceled, Canceled: true}
	case x.timedOut.Load(), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &Error{Message: reasonTimeout}
	case ctx.Err() != nil:
		return &Error{Message: reasonCanceled, Canceled: true}
	}
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return &Error{Message: evalErr.Backtrace()}
	}
	return &Error{Message: err.Error()}
}

// sleep(seconds) pauses the script. Unlike a busy loop it returns as soon
// as the execution gets interrupted.
func (x *starlarkExecution) sleep(ctx context.Context) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var seconds starlark.Value
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &seconds); err != nil {
			return nil, err
		}
		f, ok := starlark.AsFloat(seconds)
		if !ok {
			return nil, fmt.Errorf("%s: got %s, want number", b.Name(), seconds.Type())
		}
		if f < 0 {
			return nil, fmt.Errorf("%s: negative duration", b.Name())
		}
		timer := time.NewTimer(time.Duration(f * float64(time.Second)))
		defer timer.Stop()
		select {
		case <-timer.C:
			return starlark.None, nil
		case <-x.stop:
			return nil, fmt.Errorf("%s: interrupted", b.Name())
		case <-ctx.Done():
			return nil, fmt.Errorf("%s: %w", b.Name(), ctx.Err())
		}
	}
}
