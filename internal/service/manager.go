package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/CZERTAINLY/scriptd/internal/engine"
	"github.com/CZERTAINLY/scriptd/internal/model"
	"github.com/CZERTAINLY/scriptd/internal/query"
	"github.com/CZERTAINLY/scriptd/internal/registry"
	"github.com/CZERTAINLY/scriptd/internal/script"
)

var ErrClosed = errors.New("manager is closed")

type Option func(*Manager)

// WithEngine replaces the default Starlark engine.
func WithEngine(e engine.Engine) Option {
	return func(m *Manager) {
		m.engine = e
	}
}

// WithObserver registers a function called on every script state change.
func WithObserver(f func(script.Info)) Option {
	return func(m *Manager) {
		m.observer = f
	}
}

type Manager struct {
	cfg      model.Executor
	engine   engine.Engine
	observer func(script.Info)
	registry *registry.Registry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	sem     *semaphore.Weighted // nil in synchronous mode
	mx      sync.Mutex          // guards pending, closed and registry mutations
	pending []*script.Script
	closed  bool
}

// New creates a manager. Non-positive LogCapacity, MaxNameLength and
// StreamBuffer fall back to their defaults.
func New(cfg model.Executor, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:      cfg,
		registry: registry.New(),
		ctx:      ctx,
		cancel:   cancel,
	}
	if m.cfg.LogCapacity <= 0 {
		m.cfg.LogCapacity = model.DefaultLogCapacity
	}
	if m.cfg.MaxNameLength <= 0 {
		m.cfg.MaxNameLength = model.DefaultMaxNameLength
	}
	if m.cfg.StreamBuffer <= 0 {
		m.cfg.StreamBuffer = model.DefaultStreamBuffer
	}
	if cfg.Workers > 0 {
		m.sem = semaphore.NewWeighted(int64(cfg.Workers))
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.engine == nil {
		m.engine = engine.NewStarlark(engine.WithMaxSteps(cfg.MaxSteps))
	}
	return m
}

// Submit validates and compiles src and queues it for execution under name.
// In synchronous mode it returns after the script has finished.
func (m *Manager) Submit(ctx context.Context, name, src string) (script.Info, error) {
	if err := script.ValidateName(name, m.cfg.MaxNameLength); err != nil {
		return script.Info{}, err
	}
	if _, err := m.registry.Get(name); err == nil {
		return script.Info{}, fmt.Errorf("%w: %q", model.ErrNameInUse, name)
	}
	prog, err := m.engine.Compile(name, src)
	if err != nil {
		return script.Info{}, err
	}

	s := script.New(name, src, prog,
		script.WithLogCapacity(m.cfg.LogCapacity),
		script.WithObserver(m.observer),
	)

	m.mx.Lock()
	if m.closed {
		m.mx.Unlock()
		return script.Info{}, ErrClosed
	}
	if err := m.registry.Insert(s); err != nil {
		m.mx.Unlock()
		return script.Info{}, err
	}
	s.Announce()
	slog.InfoContext(s.Context(ctx), "script submitted")
	if m.sem == nil {
		m.wg.Add(1)
		m.mx.Unlock()
		defer m.wg.Done()
		m.run(s)
		return s.Info(), nil
	}
	m.dispatchLocked(s)
	m.mx.Unlock()
	return s.Info(), nil
}

// dispatchLocked starts a worker for s when one is free, otherwise s waits in
// the pending queue.
func (m *Manager) dispatchLocked(s *script.Script) {
	if len(m.pending) > 0 || !m.sem.TryAcquire(1) {
		m.pending = append(m.pending, s)
		return
	}
	m.wg.Go(func() {
		m.worker(s)
	})
}

// worker runs s and then the pending scripts until the queue is empty.
func (m *Manager) worker(s *script.Script) {
	for s != nil {
		m.run(s)
		s = m.next()
	}
}

func (m *Manager) next() *script.Script {
	m.mx.Lock()
	defer m.mx.Unlock()
	if m.closed || len(m.pending) == 0 {
		m.sem.Release(1)
		return nil
	}
	s := m.pending[0]
	m.pending[0] = nil
	m.pending = m.pending[1:]
	return s
}

func (m *Manager) run(s *script.Script) {
	ctx := s.Context(m.ctx)
	if d := m.cfg.Timeout.Std(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	if err := s.Run(ctx); err != nil {
		slog.DebugContext(ctx, "script declined to run", "error", err)
		return
	}
	info := s.Info()
	slog.InfoContext(ctx, "script finished",
		"state", info.State,
		"duration", info.EndedAt.Sub(info.StartedAt),
	)
}

func (m *Manager) Status(name string) (script.Info, error) {
	s, err := m.registry.Get(name)
	if err != nil {
		return script.Info{}, err
	}
	return s.Info(), nil
}

// Range selects bytes [From, To) of a log. A nil To means the end of the log.
type Range = script.Range

func (m *Manager) Logs(name string, r Range) ([]byte, error) {
	s, err := m.registry.Get(name)
	if err != nil {
		return nil, err
	}
	return s.Logs(r)
}

// Stream copies the log of the script to w until the script finishes, ctx
// ends or w falls too far behind.
func (m *Manager) Stream(ctx context.Context, name string, w io.Writer) error {
	s, err := m.registry.Get(name)
	if err != nil {
		return err
	}
	return s.Stream(ctx, w, m.cfg.StreamBuffer)
}

// Stop requests interruption of a running script.
func (m *Manager) Stop(name string) error {
	s, err := m.registry.Get(name)
	if err != nil {
		return err
	}
	return s.Stop()
}

// Delete removes a script that is not running. A queued script is canceled.
func (m *Manager) Delete(name string) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	s, err := m.registry.Get(name)
	if err != nil {
		return err
	}
	if err := s.Delete(); err != nil {
		return err
	}
	if _, err := m.registry.Remove(name); err != nil {
		return err
	}
	slog.InfoContext(s.Context(context.Background()), "script deleted")
	return nil
}

func (m *Manager) List(q query.Query) (query.Page, error) {
	return query.Run(q, m.registry)
}

// Len returns the number of registered scripts.
func (m *Manager) Len() int {
	return m.registry.Len()
}

// Close interrupts running scripts, cancels pending ones and waits for all
// workers to finish. Scripts stay registered and readable.
func (m *Manager) Close() error {
	m.mx.Lock()
	if m.closed {
		m.mx.Unlock()
		return nil
	}
	m.closed = true
	pending := m.pending
	m.pending = nil
	m.mx.Unlock()

	m.cancel()
	for _, s := range pending {
		s.Cancel()
	}
	m.wg.Wait()
	return nil
}
