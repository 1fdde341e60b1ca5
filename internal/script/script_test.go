package script_test

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/CZERTAINLY/scriptd/internal/engine"
	"github.com/CZERTAINLY/scriptd/internal/model"
	"github.com/CZERTAINLY/scriptd/internal/script"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeProgram runs fn with a stop channel closed by Cancel.
type fakeProgram func(ctx context.Context, out io.Writer, stop <-chan struct{}) error

func (p fakeProgram) Execution(out io.Writer) engine.Execution {
	return &fakeExecution{fn: p, out: out, stop: make(chan struct{})}
}

type fakeExecution struct {
	fn   fakeProgram
	out  io.Writer
	stop chan struct{}
	once sync.Once
}

func (x *fakeExecution) Run(ctx context.Context) error {
	return x.fn(ctx, x.out, x.stop)
}

func (x *fakeExecution) Cancel() {
	x.once.Do(func() { close(x.stop) })
}

func untilStopped(_ context.Context, out io.Writer, stop <-chan struct{}) error {
	_, _ = io.WriteString(out, "started\n")
	<-stop
	return &engine.Error{Message: "canceled", Canceled: true}
}

func waitState(t *testing.T, s *script.Script, state model.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.State() == state
	}, 5*time.Second, time.Millisecond)
}

func TestValidateName(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		given    string
		then     error
	}{
		{"simple", "ok", nil},
		{"all classes", "A-z_09", nil},
		{"max length", strings.Repeat("a", 8), nil},
		{"empty", "", model.ErrInvalidName},
		{"too long", strings.Repeat("a", 9), model.ErrInvalidName},
		{"space", "a b", model.ErrInvalidName},
		{"slash", "a/b", model.ErrInvalidName},
		{"non ascii", "skript-č", model.ErrInvalidName},
	}
	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			err := script.ValidateName(tc.given, 8)
			if tc.then == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.then)
		})
	}
}

func TestRunSucceeded(t *testing.T) {
	t.Parallel()
	var mx sync.Mutex
	var seen []model.State
	s := script.New("ok", "print('hello')", fakeProgram(func(_ context.Context, out io.Writer, _ <-chan struct{}) error {
		_, err := io.WriteString(out, "hello\n")
		return err
	}), script.WithObserver(func(i script.Info) {
		mx.Lock()
		defer mx.Unlock()
		seen = append(seen, i.State)
	}))
	require.Equal(t, model.StateQueued, s.State())
	require.NotEmpty(t, s.ID())
	require.Equal(t, "ok", s.Name())
	require.Equal(t, "print('hello')", s.Source())
	mx.Lock()
	require.Empty(t, seen, "nothing is reported before Announce")
	mx.Unlock()

	s.Announce()
	require.NoError(t, s.Run(t.Context()))
	<-s.Done()

	info := s.Info()
	require.Equal(t, model.StateSucceeded, info.State)
	require.Empty(t, info.Error)
	require.Equal(t, len("hello\n"), info.LogSize)
	require.False(t, info.StartedAt.IsZero())
	require.False(t, info.EndedAt.Before(info.StartedAt))
	require.False(t, info.StartedAt.Before(info.CreatedAt))

	logs, err := s.Logs(script.Range{})
	require.NoError(t, err)
	require.Equal(t, "hello\n", string(logs))

	mx.Lock()
	defer mx.Unlock()
	require.Equal(t, []model.State{model.StateQueued, model.StateRunning, model.StateSucceeded}, seen)

	err = s.Run(t.Context())
	require.ErrorIs(t, err, model.ErrInvalidState)
}

func TestRunFailed(t *testing.T) {
	t.Parallel()
	s := script.New("bad", "fail('boom')", fakeProgram(func(_ context.Context, out io.Writer, _ <-chan struct{}) error {
		_, _ = io.WriteString(out, "before\n")
		return &engine.Error{Message: "boom"}
	}))
	require.NoError(t, s.Run(t.Context()))

	info := s.Info()
	require.Equal(t, model.StateFailed, info.State)
	require.Equal(t, "boom", info.Error)
	logs, err := s.Logs(script.Range{})
	require.NoError(t, err)
	require.Equal(t, "before\nboom\n", string(logs))
}

func TestStop(t *testing.T) {
	t.Parallel()
	s := script.New("loop", "", fakeProgram(untilStopped))

	err := s.Stop()
	require.ErrorIs(t, err, model.ErrInvalidState)

	errs := make(chan error, 1)
	go func() { errs <- s.Run(t.Context()) }()
	waitState(t, s, model.StateRunning)

	err = s.Delete()
	require.ErrorIs(t, err, model.ErrInvalidState)

	require.NoError(t, s.Stop())
	<-s.Done()
	require.NoError(t, <-errs)
	require.Equal(t, model.StateCanceled, s.State())

	logs, err := s.Logs(script.Range{})
	require.NoError(t, err)
	require.Equal(t, "started\n"+script.CanceledMarker+"\n", string(logs))

	err = s.Stop()
	require.ErrorIs(t, err, model.ErrInvalidState)
	var stateErr *model.StateError
	require.ErrorAs(t, err, &stateErr)
	require.Equal(t, model.StateCanceled, stateErr.State)
}

func TestDeleteQueued(t *testing.T) {
	t.Parallel()
	s := script.New("queued", "", fakeProgram(func(context.Context, io.Writer, <-chan struct{}) error {
		t.Error("deleted script must not run")
		return nil
	}))
	require.NoError(t, s.Delete())
	<-s.Done()
	require.Equal(t, model.StateCanceled, s.State())
	require.False(t, s.Info().EndedAt.IsZero())

	err := s.Run(t.Context())
	require.ErrorIs(t, err, model.ErrInvalidState)

	// terminal scripts may be deleted at will
	require.NoError(t, s.Delete())
}

func TestCancel(t *testing.T) {
	t.Parallel()

	queued := script.New("queued", "", fakeProgram(untilStopped))
	queued.Cancel()
	require.Equal(t, model.StateCanceled, queued.State())

	running := script.New("running", "", fakeProgram(untilStopped))
	errs := make(chan error, 1)
	go func() { errs <- running.Run(t.Context()) }()
	waitState(t, running, model.StateRunning)
	running.Cancel()
	require.NoError(t, <-errs)
	require.Equal(t, model.StateCanceled, running.State())

	// no-op on terminal state
	running.Cancel()
	require.Equal(t, model.StateCanceled, running.State())
}

func TestLogs(t *testing.T) {
	t.Parallel()
	s := script.New("logs", "", fakeProgram(func(_ context.Context, out io.Writer, _ <-chan struct{}) error {
		_, err := io.WriteString(out, "0123456789")
		return err
	}))
	require.NoError(t, s.Run(t.Context()))

	end := func(n int) *int { return &n }
	var testCases = []struct {
		scenario string
		given    script.Range
		then     string
		err      error
	}{
		{"all", script.Range{}, "0123456789", nil},
		{"explicit all", script.Range{To: end(10)}, "0123456789", nil},
		{"middle", script.Range{From: 2, To: end(5)}, "234", nil},
		{"from only", script.Range{From: 7}, "789", nil},
		{"empty at end", script.Range{From: 10, To: end(10)}, "", nil},
		{"empty range", script.Range{From: 3, To: end(3)}, "", nil},
		{"negative from", script.Range{From: -1, To: end(3)}, "", model.ErrInvalidArgument},
		{"negative to", script.Range{To: end(-1)}, "", model.ErrInvalidArgument},
		{"inverted", script.Range{From: 5, To: end(2)}, "", model.ErrInvalidArgument},
		{"past end", script.Range{To: end(11)}, "", model.ErrInvalidArgument},
		{"from past end", script.Range{From: 11}, "", model.ErrInvalidArgument},
	}
	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			logs, err := s.Logs(tc.given)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.then, string(logs))
		})
	}
}

func TestLogCapacity(t *testing.T) {
	t.Parallel()
	s := script.New("tail", "", fakeProgram(func(_ context.Context, out io.Writer, _ <-chan struct{}) error {
		_, err := io.WriteString(out, "0123456789")
		return err
	}), script.WithLogCapacity(4))
	require.NoError(t, s.Run(t.Context()))
	logs, err := s.Logs(script.Range{})
	require.NoError(t, err)
	require.Equal(t, "6789", string(logs))
	require.Equal(t, 4, s.Info().LogSize)
}

func TestStream(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	s := script.New("stream", "", fakeProgram(func(_ context.Context, out io.Writer, _ <-chan struct{}) error {
		_, _ = io.WriteString(out, "a")
		<-release
		_, _ = io.WriteString(out, "b")
		_, _ = io.WriteString(out, "c")
		return nil
	}))
	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(t.Context()) }()
	require.Eventually(t, func() bool {
		return s.Info().LogSize == 1
	}, 5*time.Second, time.Millisecond)

	var buf bytes.Buffer
	streamErr := make(chan error, 1)
	go func() { streamErr <- s.Stream(t.Context(), &buf, 16) }()
	close(release)

	require.NoError(t, <-runErr)
	require.NoError(t, <-streamErr)
	require.Equal(t, "abc", buf.String())
}

func TestStreamTerminal(t *testing.T) {
	t.Parallel()
	s := script.New("done", "", fakeProgram(func(_ context.Context, out io.Writer, _ <-chan struct{}) error {
		_, err := io.WriteString(out, "finished\n")
		return err
	}))
	require.NoError(t, s.Run(t.Context()))

	var buf bytes.Buffer
	require.NoError(t, s.Stream(t.Context(), &buf, 1))
	require.Equal(t, "finished\n", buf.String())
}

func TestStreamContextCanceled(t *testing.T) {
	t.Parallel()
	s := script.New("waiting", "", fakeProgram(untilStopped))
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	err := s.Stream(ctx, io.Discard, 1)
	require.ErrorIs(t, err, context.Canceled)
	s.Cancel()
}

func TestSlowConsumer(t *testing.T) {
	t.Parallel()
	s := script.New("chatty", "", fakeProgram(func(_ context.Context, out io.Writer, _ <-chan struct{}) error {
		for range 3 {
			_, _ = io.WriteString(out, "x")
		}
		return nil
	}))
	sub, snap := s.Subscribe(1)
	defer sub.Close()
	require.Empty(t, snap)

	require.NoError(t, s.Run(t.Context()))
	<-sub.Dropped()
	require.Equal(t, []byte("x"), <-sub.C())

	// the log itself is complete
	logs, err := s.Logs(script.Range{})
	require.NoError(t, err)
	require.Equal(t, "xxx", string(logs))
}
