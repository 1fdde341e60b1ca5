// Package splitter multiplexes one output stream to a dynamic set of sinks.
//
// The set of sinks is copy-on-write: Write loads an immutable slice through
// an atomic pointer and never waits for Add or Remove. A sink that fails is
// dropped from the set, so a broken consumer can't stop delivery to the
// others.
package splitter

import (
	"errors"
	"io"
	"slices"
	"sync"
	"sync/atomic"
)

var ErrNoSinks = errors.New("no sinks available")

// Splitter delivers each write to every registered sink.
type Splitter struct {
	mx    sync.Mutex // serializes mutations of sinks
	sinks atomic.Pointer[[]io.Writer]

	// OnDrop, when set, is called for every sink removed because of a
	// write error. It must not call back into the Splitter.
	OnDrop func(sink io.Writer, err error)
}

func New(sinks ...io.Writer) *Splitter {
	s := &Splitter{}
	initial := slices.Clone(sinks)
	s.sinks.Store(&initial)
	return s
}

// Add registers sink. Adding the same sink twice is a no-op.
func (s *Splitter) Add(sink io.Writer) {
	s.mx.Lock()
	defer s.mx.Unlock()
	cur := s.load()
	if slices.Contains(cur, sink) {
		return
	}
	next := make([]io.Writer, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, sink)
	s.sinks.Store(&next)
}

// Remove unregisters sink and reports whether it was present.
func (s *Splitter) Remove(sink io.Writer) bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	cur := s.load()
	idx := slices.Index(cur, sink)
	if idx < 0 {
		return false
	}
	next := slices.Delete(slices.Clone(cur), idx, idx+1)
	s.sinks.Store(&next)
	return true
}

// Len returns the number of registered sinks.
func (s *Splitter) Len() int {
	return len(s.load())
}

// Write delivers p to all sinks. Sinks that fail or write short are removed.
// Write fails with ErrNoSinks only when no sink is left afterwards.
func (s *Splitter) Write(p []byte) (int, error) {
	sinks := s.load()
	if len(sinks) == 0 {
		return 0, ErrNoSinks
	}
	for _, sink := range sinks {
		n, err := sink.Write(p)
		if err == nil && n != len(p) {
			err = io.ErrShortWrite
		}
		if err != nil && s.Remove(sink) && s.OnDrop != nil {
			s.OnDrop(sink, err)
		}
	}
	if s.Len() == 0 {
		return 0, ErrNoSinks
	}
	return len(p), nil
}

func (s *Splitter) load() []io.Writer {
	if p := s.sinks.Load(); p != nil {
		return *p
	}
	return nil
}
