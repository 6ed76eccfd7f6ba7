package pipeline

import "sync/atomic"

// InferenceGate is a single-slot admission control: at most one unit of
// work holds the slot at any time. It is not a queue — work refused by
// TryAcquire is dropped by the caller, which is what keeps a slow engine
// from ever backing up the frame source.
type InferenceGate struct {
	busy atomic.Bool
}

// TryAcquire atomically claims the slot. It returns false, without
// blocking, if the slot is already held.
func (g *InferenceGate) TryAcquire() bool {
	return g.busy.CompareAndSwap(false, true)
}

// Release frees the slot. Every task that acquired the gate must release
// it on all exit paths; a missed release starves the pipeline permanently.
func (g *InferenceGate) Release() {
	g.busy.Store(false)
}

// Held reports whether the slot is currently occupied.
func (g *InferenceGate) Held() bool {
	return g.busy.Load()
}
