// Package events publishes script state changes to external consumers.
package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CZERTAINLY/scriptd/internal/model"
	"github.com/CZERTAINLY/scriptd/internal/script"
)

// Event is a single state change of a script.
type Event struct {
	ID       string      `json:"id"`
	Script   string      `json:"script"`
	ScriptID string      `json:"scriptId"`
	State    model.State `json:"state"`
	Error    string      `json:"error,omitempty"`
	LogSize  int         `json:"logSize"`
	Time     time.Time   `json:"time"`
}

func FromInfo(info script.Info, now time.Time) Event {
	return Event{
		ID:       uuid.NewString(),
		Script:   info.Name,
		ScriptID: info.ID,
		State:    info.State,
		Error:    info.Error,
		LogSize:  info.LogSize,
		Time:     now.UTC(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// LogPublisher writes events to a structured logger.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return LogPublisher{logger: logger}
}

func (p LogPublisher) Publish(ctx context.Context, e Event) error {
	attrs := []any{
		"script.name", e.Script,
		"script.id", e.ScriptID,
		"state", e.State,
	}
	if e.Error != "" {
		attrs = append(attrs, "error", e.Error)
	}
	p.logger.InfoContext(ctx, "script state changed", attrs...)
	return nil
}

func (LogPublisher) Close() error { return nil }

// Dispatcher delivers events to publishers from a single goroutine, so a
// slow publisher never delays the script reporting the change. Events
// are dropped when the queue is full.
type Dispatcher struct {
	ctx  context.Context
	pubs []Publisher
	ch   chan Event
	wg   sync.WaitGroup

	mx     sync.RWMutex
	closed bool
}

// NewDispatcher starts the delivery goroutine. Values of ctx, such as
// logging attributes, reach every publisher. Its cancellation does not, so
// Close can still flush queued events during shutdown.
func NewDispatcher(ctx context.Context, queue int, pubs ...Publisher) *Dispatcher {
	d := &Dispatcher{
		ctx:  context.WithoutCancel(ctx),
		pubs: pubs,
		ch:   make(chan Event, max(queue, 1)),
	}
	d.wg.Go(d.loop)
	return d
}

// Notify is a script observer.
func (d *Dispatcher) Notify(info script.Info) {
	d.Send(FromInfo(info, time.Now()))
}

// Send queues e for publishing. It never blocks.
func (d *Dispatcher) Send(e Event) {
	d.mx.RLock()
	defer d.mx.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.ch <- e:
	default:
		slog.WarnContext(d.ctx, "event queue full, dropping event", "script.name", e.Script, "state", e.State)
	}
}

func (d *Dispatcher) loop() {
	for e := range d.ch {
		for _, p := range d.pubs {
			if err := p.Publish(d.ctx, e); err != nil {
				slog.WarnContext(d.ctx, "publishing event", "script.name", e.Script, "state", e.State, "error", err)
			}
		}
	}
}

// Close publishes queued events and closes all publishers.
func (d *Dispatcher) Close() error {
	d.mx.Lock()
	if d.closed {
		d.mx.Unlock()
		return nil
	}
	d.closed = true
	close(d.ch)
	d.mx.Unlock()

	d.wg.Wait()
	var errs error
	for _, p := range d.pubs {
		errs = errors.Join(errs, p.Close())
	}
	return errs
}
