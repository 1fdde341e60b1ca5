// Package script implements the unit of work of the service: a named,
// compiled script with its lifecycle state and output log.
//
// State transitions:
//
//	Queued  --Run-------------------> Running
//	Running --engine completes------> Succeeded
//	Running --engine error----------> Failed
//	Running --Stop, engine unwinds--> Canceled
//	Queued  --Delete or Cancel------> Canceled
//
// Succeeded, Failed and Canceled are terminal. Every transition happens under
// the script mutex together with its side effects (timestamps, log lines,
// engine handle teardown).
//
// The output log is a ring buffer registered as a permanent sink of a
// splitter. Live consumers subscribe to the same splitter and are dropped
// when they can't keep up, the ring buffer always receives everything.
package script

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CZERTAINLY/scriptd/internal/engine"
	"github.com/CZERTAINLY/scriptd/internal/log"
	"github.com/CZERTAINLY/scriptd/internal/model"
	"github.com/CZERTAINLY/scriptd/internal/ringbuf"
	"github.com/CZERTAINLY/scriptd/internal/splitter"
)

// CanceledMarker is appended to the log of a script interrupted while running.
const CanceledMarker = "*** script canceled ***"

var nameRx = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateName checks the character set and length of a script name.
func ValidateName(name string, maxLen int) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: name is empty", model.ErrInvalidName)
	case len(name) > maxLen:
		return fmt.Errorf("%w: %q is longer than %d characters", model.ErrInvalidName, name, maxLen)
	case !nameRx.MatchString(name):
		return fmt.Errorf("%w: %q may contain only letters, digits, '-' and '_'", model.ErrInvalidName, name)
	}
	return nil
}

// Info is a point in time copy of the script state.
type Info struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	State     model.State `json:"state"`
	CreatedAt time.Time   `json:"createdAt"`
	StartedAt time.Time   `json:"startedAt,omitzero"`
	EndedAt   time.Time   `json:"endedAt,omitzero"`
	LogSize   int         `json:"logSize"`
	Error     string      `json:"error,omitempty"`
}

type Option func(*Script)

// WithLogCapacity sets the size of the log ring buffer in bytes.
func WithLogCapacity(n int) Option {
	return func(s *Script) {
		s.logCapacity = n
	}
}

// WithObserver registers a function called after every state change. The
// initial Queued state is reported by Announce. It runs outside of the
// script lock.
func WithObserver(f func(Info)) Option {
	return func(s *Script) {
		s.observer = f
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Script) {
		s.now = now
	}
}

type Script struct {
	id          string
	name        string
	source      string
	program     engine.Program
	createdAt   time.Time
	logCapacity int
	observer    func(Info)
	now         func() time.Time
	logCtx      context.Context

	outMx sync.Mutex // orders writes to out with Subscribe
	log   *ringbuf.Buffer
	out   *splitter.Splitter

	mx        sync.Mutex
	state     model.State
	startedAt time.Time
	endedAt   time.Time
	errMsg    string
	handle    engine.Execution // set only while running
	done      chan struct{}
}

// New creates a Queued script. The name is expected to be validated.
func New(name, source string, program engine.Program, opts ...Option) *Script {
	s := &Script{
		id:          uuid.NewString(),
		name:        name,
		source:      source,
		program:     program,
		logCapacity: model.DefaultLogCapacity,
		now:         time.Now,
		state:       model.StateQueued,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.createdAt = s.now().UTC()
	s.logCtx = s.Context(context.Background())
	s.log = ringbuf.New(s.logCapacity)
	s.out = splitter.New(s.log)
	s.out.OnDrop = func(sink io.Writer, err error) {
		if sub, ok := sink.(*Subscription); ok {
			sub.drop()
		}
		slog.WarnContext(s.logCtx, "log consumer dropped", "error", err)
	}
	return s
}

// Announce reports the current state to the observer. The owner calls it
// once the script is reachable, so observers never learn about a script
// that was rejected.
func (s *Script) Announce() {
	s.notify(s.Info())
}

func (s *Script) ID() string     { return s.id }
func (s *Script) Name() string   { return s.name }
func (s *Script) Source() string { return s.source }

// Context returns a context carrying the script logging attributes.
func (s *Script) Context(parent context.Context) context.Context {
	return log.ContextAttrs(parent,
		slog.String("script.name", s.name),
		slog.String("script.id", s.id),
	)
}

// Done is closed once the script reaches a terminal state.
func (s *Script) Done() <-chan struct{} {
	return s.done
}

func (s *Script) State() model.State {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.state
}

func (s *Script) Info() Info {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.infoLocked()
}

func (s *Script) infoLocked() Info {
	return Info{
		ID:        s.id,
		Name:      s.name,
		State:     s.state,
		CreatedAt: s.createdAt,
		StartedAt: s.startedAt,
		EndedAt:   s.endedAt,
		LogSize:   s.log.Len(),
		Error:     s.errMsg,
	}
}

// Run executes a Queued script and blocks until it reaches a terminal state.
// A script that is no longer Queued, e.g. deleted while waiting for a
// worker, is not executed and a *model.StateError is returned.
func (s *Script) Run(ctx context.Context) error {
	s.mx.Lock()
	if s.state != model.StateQueued {
		state := s.state
		s.mx.Unlock()
		return &model.StateError{Op: "run", State: state}
	}
	x := s.program.Execution(outputWriter{s: s})
	s.handle = x
	s.state = model.StateRunning
	s.startedAt = s.now().UTC()
	info := s.infoLocked()
	s.mx.Unlock()
	s.notify(info)

	err := x.Run(ctx)

	s.mx.Lock()
	s.handle = nil
	s.endedAt = s.now().UTC()
	if s.endedAt.Before(s.startedAt) {
		s.endedAt = s.startedAt
	}
	var engErr *engine.Error
	switch {
	case err == nil:
		s.state = model.StateSucceeded
	case errors.As(err, &engErr) && engErr.Canceled:
		s.state = model.StateCanceled
		s.emitLocked(CanceledMarker)
	default:
		s.state = model.StateFailed
		s.errMsg = err.Error()
		s.emitLocked(s.errMsg)
	}
	close(s.done)
	info = s.infoLocked()
	s.mx.Unlock()
	s.notify(info)
	return nil
}

// Stop requests forced interruption of a Running script. It returns once
// the request is issued, the script becomes Canceled later when the engine
// unwinds.
func (s *Script) Stop() error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.state != model.StateRunning {
		return &model.StateError{Op: "stop", State: s.state}
	}
	s.handle.Cancel()
	slog.InfoContext(s.logCtx, "script stop requested")
	return nil
}

// Delete prepares the script for removal. A Running script must be stopped
// first, a Queued one becomes Canceled so its pending run declines.
func (s *Script) Delete() error {
	s.mx.Lock()
	switch s.state {
	case model.StateRunning:
		s.mx.Unlock()
		return &model.StateError{Op: "delete", State: model.StateRunning}
	case model.StateQueued:
		info := s.cancelQueuedLocked()
		s.mx.Unlock()
		s.notify(info)
		return nil
	}
	s.mx.Unlock()
	return nil
}

// Cancel interrupts the script whatever its state is: a Queued script
// becomes Canceled, a Running one is stopped, a terminal one is left alone.
func (s *Script) Cancel() {
	s.mx.Lock()
	switch s.state {
	case model.StateQueued:
		info := s.cancelQueuedLocked()
		s.mx.Unlock()
		s.notify(info)
		return
	case model.StateRunning:
		s.handle.Cancel()
	}
	s.mx.Unlock()
}

func (s *Script) cancelQueuedLocked() Info {
	s.state = model.StateCanceled
	s.endedAt = s.now().UTC()
	close(s.done)
	return s.infoLocked()
}

// Range selects bytes [From, To) of a log. A nil To means the end of the log.
type Range struct {
	From int
	To   *int
}

// Logs returns the bytes of the current log snapshot selected by r.
func (s *Script) Logs(r Range) ([]byte, error) {
	snap := s.log.Snapshot()
	from, to := r.From, len(snap)
	if r.To != nil {
		to = *r.To
	}
	switch {
	case from < 0 || to < 0:
		return nil, fmt.Errorf("%w: negative log range [%d, %d)", model.ErrInvalidArgument, from, to)
	case from > to:
		return nil, fmt.Errorf("%w: log range start %d is after end %d", model.ErrInvalidArgument, from, to)
	case to > len(snap):
		return nil, fmt.Errorf("%w: log range end %d is out of bounds, log size is %d", model.ErrInvalidArgument, to, len(snap))
	}
	return snap[from:to], nil
}

func (s *Script) notify(info Info) {
	if s.observer != nil {
		s.observer(info)
	}
}

func (s *Script) emitLocked(line string) {
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	s.write([]byte(line))
}

func (s *Script) write(p []byte) {
	s.outMx.Lock()
	defer s.outMx.Unlock()
	if _, err := s.out.Write(p); err != nil {
		slog.WarnContext(s.logCtx, "writing script output", "error", err)
	}
}

// outputWriter is handed to the engine, output errors never reach the script.
type outputWriter struct {
	s *Script
}

func (w outputWriter) Write(p []byte) (int, error) {
	w.s.write(p)
	return len(p), nil
}
