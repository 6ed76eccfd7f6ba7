// Package engine provides the inference backends behind the pipeline:
// a local ONNX Runtime session and a remote HTTP inference service, both
// wrapped by a Loader that owns the model handle and its readiness state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"cardscan/internal/pipeline"
)

// ErrNotReady is returned by Infer while no model handle is loaded.
var ErrNotReady = errors.New("engine: model not loaded")

// State is the model readiness state machine.
type State int32

const (
	StateUnloaded State = iota
	StateLoading
	StateReady
	StateLoadFailed
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateLoadFailed:
		return "load_failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Factory creates an engine handle. It may block on model loading and is
// invoked on a background goroutine.
type Factory func(ctx context.Context) (pipeline.Engine, error)

type engineHandle struct {
	e pipeline.Engine
}

// Loader owns the engine handle and exposes it through an explicit
// readiness state machine. It implements pipeline.Engine itself so the
// pipeline can be constructed before the model finishes loading; Infer
// fails with ErrNotReady until the load completes.
type Loader struct {
	factory  Factory
	onChange func(State)
	logger   *log.Logger

	state  atomic.Int32
	handle atomic.Pointer[engineHandle]

	mu      sync.Mutex
	loadErr error
	shut    bool
}

// NewLoader creates a loader in the Unloaded state. onChange, if non-nil,
// is invoked from the loading goroutine on every state transition.
func NewLoader(factory Factory, onChange func(State), logger *log.Logger) *Loader {
	if logger == nil {
		logger = log.Default()
	}
	return &Loader{
		factory:  factory,
		onChange: onChange,
		logger:   logger,
	}
}

// Load starts loading the model in the background. It is a no-op while a
// load is in progress or already succeeded; after a failure it may be
// called again to retry.
func (l *Loader) Load(ctx context.Context) {
	l.mu.Lock()
	shut := l.shut
	l.mu.Unlock()
	if shut {
		return
	}
	if !l.transition(StateUnloaded, StateLoading) &&
		!l.transition(StateLoadFailed, StateLoading) {
		return
	}
	if l.onChange != nil {
		l.onChange(StateLoading)
	}

	go func() {
		handle, err := l.factory(ctx)
		if err != nil {
			l.mu.Lock()
			l.loadErr = err
			if !l.shut {
				l.logger.Printf("[Engine] model load failed: %v", err)
				l.setState(StateLoadFailed)
			}
			l.mu.Unlock()
			return
		}

		// A Close that raced the load wins: discard the late handle
		// instead of publishing a ready state after shutdown.
		l.mu.Lock()
		if l.shut {
			l.mu.Unlock()
			handle.Close()
			return
		}
		l.handle.Store(&engineHandle{e: handle})
		l.logger.Printf("[Engine] model loaded")
		l.setState(StateReady)
		l.mu.Unlock()
	}()
}

// State returns the current readiness state.
func (l *Loader) State() State {
	return State(l.state.Load())
}

// LoadError returns the error from the most recent failed load, if any.
func (l *Loader) LoadError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadErr
}

// Infer delegates to the loaded handle.
func (l *Loader) Infer(ctx context.Context, input []byte) ([]pipeline.Output, error) {
	h := l.handle.Load()
	if h == nil {
		return nil, ErrNotReady
	}
	return h.e.Infer(ctx, input)
}

// Close releases the loaded handle, if any, and discards a load still in
// flight: a handle arriving after Close is closed, never published.
func (l *Loader) Close() error {
	l.mu.Lock()
	l.shut = true
	h := l.handle.Swap(nil)
	l.state.Store(int32(StateUnloaded))
	l.mu.Unlock()
	if h == nil {
		return nil
	}
	return h.e.Close()
}

func (l *Loader) transition(from, to State) bool {
	return l.state.CompareAndSwap(int32(from), int32(to))
}

func (l *Loader) setState(s State) {
	l.state.Store(int32(s))
	if l.onChange != nil {
		l.onChange(s)
	}
}

var _ pipeline.Engine = (*Loader)(nil)
