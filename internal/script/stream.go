package script

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
)

// ErrSlowConsumer ends a stream whose consumer fell behind the script output.
var ErrSlowConsumer = errors.New("log consumer too slow")

// Subscription is a live log sink. Chunks written by the script after
// Subscribe are delivered in order on C. A subscription whose buffer is full
// rejects the write and is dropped by the splitter.
type Subscription struct {
	s       *Script
	ch      chan []byte
	dropped chan struct{}
	once    sync.Once
}

// Subscribe atomically captures the current log and registers a live sink,
// so no output is missed or delivered twice. buffer is the number of chunks
// the subscription holds before it is considered too slow.
func (s *Script) Subscribe(buffer int) (*Subscription, []byte) {
	if buffer < 1 {
		buffer = 1
	}
	sub := &Subscription{
		s:       s,
		ch:      make(chan []byte, buffer),
		dropped: make(chan struct{}),
	}
	s.outMx.Lock()
	defer s.outMx.Unlock()
	snap := s.log.Snapshot()
	s.out.Add(sub)
	return sub, snap
}

func (sub *Subscription) Write(p []byte) (int, error) {
	select {
	case sub.ch <- bytes.Clone(p):
		return len(p), nil
	default:
		return 0, ErrSlowConsumer
	}
}

// C delivers output chunks.
func (sub *Subscription) C() <-chan []byte {
	return sub.ch
}

// Dropped is closed when the subscription was removed for being too slow.
func (sub *Subscription) Dropped() <-chan struct{} {
	return sub.dropped
}

// Close unregisters the subscription.
func (sub *Subscription) Close() {
	sub.s.out.Remove(sub)
}

func (sub *Subscription) drop() {
	sub.once.Do(func() { close(sub.dropped) })
}

// Stream writes the log collected so far to w, followed by live output until
// the script reaches a terminal state. It returns ErrSlowConsumer if w could
// not keep up, or the context error if ctx ends first.
func (s *Script) Stream(ctx context.Context, w io.Writer, buffer int) error {
	sub, snap := s.Subscribe(buffer)
	defer sub.Close()

	if len(snap) > 0 {
		if _, err := w.Write(snap); err != nil {
			return err
		}
	}
	for {
		select {
		case p := <-sub.ch:
			if _, err := w.Write(p); err != nil {
				return err
			}
		case <-sub.dropped:
			return ErrSlowConsumer
		case <-s.done:
			// terminal output is written before done is closed
			return sub.drain(w)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (sub *Subscription) drain(w io.Writer) error {
	for {
		select {
		case p := <-sub.ch:
			if _, err := w.Write(p); err != nil {
				return err
			}
		default:
			select {
			case <-sub.dropped:
				return ErrSlowConsumer
			default:
				return nil
			}
		}
	}
}
