package engine

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cardscan/internal/pipeline"
)

type stubEngine struct {
	outputs []pipeline.Output
	closed  atomic.Bool
}

func (s *stubEngine) Infer(ctx context.Context, input []byte) ([]pipeline.Output, error) {
	return s.outputs, nil
}

func (s *stubEngine) Close() error {
	s.closed.Store(true)
	return nil
}

// stateRecorder collects loader transitions and signals each one.
type stateRecorder struct {
	mu     sync.Mutex
	states []State
	ch     chan State
}

func newStateRecorder() *stateRecorder {
	return &stateRecorder{ch: make(chan State, 8)}
}

func (r *stateRecorder) onChange(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
	r.ch <- s
}

func (r *stateRecorder) recorded() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func (r *stateRecorder) wait(t *testing.T, want State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-r.ch:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s", want)
		}
	}
}

func discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestLoaderSuccessfulLoad(t *testing.T) {
	stub := &stubEngine{outputs: []pipeline.Output{{Name: "scores", Values: []float32{0, 0, 0, 0, 1, 0}}}}
	rec := newStateRecorder()

	l := NewLoader(func(ctx context.Context) (pipeline.Engine, error) {
		return stub, nil
	}, rec.onChange, discard())

	require.Equal(t, StateUnloaded, l.State())
	_, err := l.Infer(context.Background(), nil)
	require.ErrorIs(t, err, ErrNotReady)

	l.Load(context.Background())
	rec.wait(t, StateReady)
	require.Equal(t, StateReady, l.State())

	outs, err := l.Infer(context.Background(), make([]byte, pipeline.InputBytes))
	require.NoError(t, err)
	require.Equal(t, stub.outputs, outs)

	require.NoError(t, l.Close())
	require.True(t, stub.closed.Load())
	require.Equal(t, StateUnloaded, l.State())
}

func TestLoaderCloseDuringLoadDiscardsLateHandle(t *testing.T) {
	release := make(chan struct{})
	stub := &stubEngine{}
	rec := newStateRecorder()

	l := NewLoader(func(ctx context.Context) (pipeline.Engine, error) {
		<-release
		return stub, nil
	}, rec.onChange, discard())

	l.Load(context.Background())
	rec.wait(t, StateLoading)
	require.NoError(t, l.Close())

	// The load completes after shutdown; its handle must be closed and
	// no ready transition may fire.
	close(release)
	require.Eventually(t, func() bool { return stub.closed.Load() }, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, StateUnloaded, l.State())
	require.NotContains(t, rec.recorded(), StateReady)

	_, err := l.Infer(context.Background(), nil)
	require.ErrorIs(t, err, ErrNotReady)

	// Load after Close stays a no-op.
	l.Load(context.Background())
	require.Equal(t, StateUnloaded, l.State())
}

func TestLoaderFailureIsSticky(t *testing.T) {
	rec := newStateRecorder()
	l := NewLoader(func(ctx context.Context) (pipeline.Engine, error) {
		return nil, errors.New("model file corrupt")
	}, rec.onChange, discard())

	l.Load(context.Background())
	rec.wait(t, StateLoadFailed)

	require.Equal(t, StateLoadFailed, l.State())
	require.EqualError(t, l.LoadError(), "model file corrupt")

	// The pipeline keeps refusing work indefinitely.
	_, err := l.Infer(context.Background(), nil)
	require.ErrorIs(t, err, ErrNotReady)
}

func TestLoaderRetryAfterFailure(t *testing.T) {
	rec := newStateRecorder()
	var attempts int
	var mu sync.Mutex

	l := NewLoader(func(ctx context.Context) (pipeline.Engine, error) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			return nil, errors.New("transient")
		}
		return &stubEngine{}, nil
	}, rec.onChange, discard())

	l.Load(context.Background())
	rec.wait(t, StateLoadFailed)

	l.Load(context.Background())
	rec.wait(t, StateReady)
	require.Equal(t, StateReady, l.State())
}

func TestLoaderLoadIsIdempotentWhileLoading(t *testing.T) {
	release := make(chan struct{})
	var calls int
	var mu sync.Mutex

	l := NewLoader(func(ctx context.Context) (pipeline.Engine, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		<-release
		return &stubEngine{}, nil
	}, nil, discard())

	l.Load(context.Background())
	l.Load(context.Background())
	l.Load(context.Background())
	close(release)

	require.Eventually(t, func() bool { return l.State() == StateReady }, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, calls)
}
