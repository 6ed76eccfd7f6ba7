package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// ErrMalformedOutput is returned when the engine's primary output tensor
// does not carry the positions the interpreter reads.
var ErrMalformedOutput = errors.New("malformed engine output")

// Config assembles a Pipeline. Engine and Preprocessor are required; the
// remaining fields default to the pipeline constants.
type Config struct {
	Engine         Engine
	Preprocessor   Preprocessor
	SampleInterval time.Duration // minimum spacing between sampled frames
	Threshold      float64       // strict lower bound on the score
	Logger         *log.Logger
}

// Pipeline bridges a sensor-rate frame source to a slow, blocking
// inference engine. Frames arrive on the producer side through OnFrame,
// which never blocks: a rate limiter drops frames inside the sampling
// interval and a single-slot gate drops frames while an inference is in
// flight. At most one inference task runs at a time; each completed task
// publishes one consistent state snapshot.
type Pipeline struct {
	engine    Engine
	pre       Preprocessor
	limiter   *RateLimiter
	gate      InferenceGate
	state     *StateStore
	bus       *EventBus
	threshold float64
	logger    *log.Logger
	now       func() time.Time

	// spawnMu orders task creation against Close: OnFrame may only add
	// to the group while closed is still false under this lock.
	spawnMu sync.Mutex
	tasks   sync.WaitGroup
	closed  atomic.Bool

	// counters bumped on the producer path are atomic so OnFrame never
	// takes a lock
	framesSeen         atomic.Uint64
	framesSampled      atomic.Uint64
	droppedNotReady    atomic.Uint64
	droppedBusy        atomic.Uint64
	preprocessFailures atomic.Uint64
	engineFailures     atomic.Uint64
	completed          atomic.Uint64

	statsMu           sync.Mutex
	avgInferenceMs    float32
	lastInferenceUnix int64
}

// Stats is a point-in-time copy of the pipeline counters.
type Stats struct {
	FramesSeen          uint64  `json:"frames_seen"`
	FramesSampled       uint64  `json:"frames_sampled"`
	DroppedNotReady     uint64  `json:"dropped_not_ready"`
	DroppedBusy         uint64  `json:"dropped_busy"`
	PreprocessFailures  uint64  `json:"preprocess_failures"`
	EngineFailures      uint64  `json:"engine_failures"`
	InferencesCompleted uint64  `json:"inferences_completed"`
	AvgInferenceMs      float32 `json:"avg_inference_ms"`
	LastInferenceUnix   int64   `json:"last_inference_unix"`
}

// New creates a pipeline in the not-ready state. Frames are dropped until
// SetModelReady(true) is called.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Engine == nil {
		return nil, errors.New("pipeline: engine is required")
	}
	if cfg.Preprocessor == nil {
		return nil, errors.New("pipeline: preprocessor is required")
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = ConfidenceThreshold
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	return &Pipeline{
		engine:    cfg.Engine,
		pre:       cfg.Preprocessor,
		limiter:   NewRateLimiter(cfg.SampleInterval),
		state:     NewStateStore(),
		bus:       NewEventBus(),
		threshold: cfg.Threshold,
		logger:    cfg.Logger,
		now:       time.Now,
	}, nil
}

// OnFrame is the producer-side entry point, called once per captured frame
// from the capture loop. It never blocks and never panics outward: frames
// are dropped when the model is not ready, when they fall inside the
// sampling interval, when preprocessing fails, or when an inference is
// already in flight. The frame's pixels are not retained past the call.
func (p *Pipeline) OnFrame(frame Frame) {
	p.framesSeen.Add(1)

	if p.closed.Load() {
		return
	}
	if !p.state.Load().ModelReady {
		p.droppedNotReady.Add(1)
		return
	}
	if !p.limiter.Admit(p.now()) {
		return
	}
	p.framesSampled.Add(1)

	roi := CardROI(frame.Width, frame.Height)
	input, err := p.pre.Preprocess(frame, roi)
	if err != nil {
		p.preprocessFailures.Add(1)
		p.logger.Printf("[Pipeline] preprocess failed, dropping frame: %v", err)
		return
	}

	if !p.gate.TryAcquire() {
		p.droppedBusy.Add(1)
		return
	}

	// Re-check closed under the spawn lock: Close flips the flag while
	// holding it, so a task can only be added before Close starts
	// waiting on the group.
	p.spawnMu.Lock()
	if p.closed.Load() {
		p.spawnMu.Unlock()
		p.gate.Release()
		return
	}
	p.tasks.Add(1)
	p.spawnMu.Unlock()

	p.publish(func(s Snapshot) Snapshot {
		s.Busy = true
		return s
	})

	go p.runTask(input)
}

// runTask executes one admitted inference on the consumer side. The gate
// is released on every exit path; on failure the previous result is
// retained so the display keeps showing the last good detection.
func (p *Pipeline) runTask(input []byte) {
	defer p.tasks.Done()
	defer p.gate.Release()

	start := p.now()
	outputs, err := p.engine.Infer(context.Background(), input)
	if err == nil && len(outputs) == 0 {
		err = fmt.Errorf("%w: engine returned no output tensors", ErrMalformedOutput)
	}

	var result *Detection
	if err == nil {
		result, err = p.interpret(outputs)
	}
	if err != nil {
		p.engineFailures.Add(1)
		p.logger.Printf("[Pipeline] inference failed: %v", err)
		p.publish(func(s Snapshot) Snapshot {
			s.Busy = false
			return s
		})
		return
	}

	latency := p.now().Sub(start).Milliseconds()
	p.completed.Add(1)
	p.recordLatency(latency)

	p.publish(func(s Snapshot) Snapshot {
		s.Busy = false
		s.LastResult = result
		s.LastLatencyMs = latency
		return s
	})
}

// interpret reads the positional score and class id out of the primary
// output tensor. A score at or below the threshold yields (nil, nil):
// no detection, but not an error.
func (p *Pipeline) interpret(outputs []Output) (*Detection, error) {
	values := outputs[0].Values
	if len(values) < minOutputValues {
		return nil, fmt.Errorf("%w: primary output %q has %d values, need %d",
			ErrMalformedOutput, outputs[0].Name, len(values), minOutputValues)
	}

	score := float64(values[outputScoreIndex])
	if score <= p.threshold {
		return nil, nil
	}

	label := LabelBack
	if math.Round(float64(values[outputClassIndex])) == 0 {
		label = LabelFront
	}
	return &Detection{
		Label:      label,
		Confidence: int(math.Round(score * 100)),
	}, nil
}

// SetModelReady flips the readiness flag in the published state. The
// loader calls this once the model handle is usable (or after a load
// failure, with false, which keeps the pipeline refusing work).
func (p *Pipeline) SetModelReady(ready bool) {
	p.publish(func(s Snapshot) Snapshot {
		s.ModelReady = ready
		return s
	})
}

// Snapshot returns the current published state.
func (p *Pipeline) Snapshot() Snapshot {
	return p.state.Load()
}

// Subscribe registers a handler for every published snapshot and returns
// an unsubscribe function. Handlers run synchronously on the publishing
// goroutine and must return quickly.
func (p *Pipeline) Subscribe(handler SnapshotHandler) func() {
	return p.bus.Subscribe(handler)
}

// SubscribeChannel returns a buffered channel of published snapshots.
// Slow consumers miss intermediate snapshots instead of blocking the
// pipeline.
func (p *Pipeline) SubscribeChannel(bufferSize int) (<-chan Snapshot, func()) {
	return p.bus.SubscribeChannel(bufferSize)
}

// Stats returns a copy of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	p.statsMu.Lock()
	avg := p.avgInferenceMs
	last := p.lastInferenceUnix
	p.statsMu.Unlock()

	return Stats{
		FramesSeen:          p.framesSeen.Load(),
		FramesSampled:       p.framesSampled.Load(),
		DroppedNotReady:     p.droppedNotReady.Load(),
		DroppedBusy:         p.droppedBusy.Load(),
		PreprocessFailures:  p.preprocessFailures.Load(),
		EngineFailures:      p.engineFailures.Load(),
		InferencesCompleted: p.completed.Load(),
		AvgInferenceMs:      avg,
		LastInferenceUnix:   last,
	}
}

// Close stops admitting frames, waits for the in-flight task (if any) to
// finish, and shuts down the snapshot bus. Safe to call concurrently with
// OnFrame. The engine handle is owned by the caller and is not closed
// here.
func (p *Pipeline) Close() error {
	p.spawnMu.Lock()
	first := p.closed.CompareAndSwap(false, true)
	p.spawnMu.Unlock()
	if !first {
		return nil
	}
	p.tasks.Wait()
	p.bus.Close()
	return nil
}

func (p *Pipeline) publish(mutate func(Snapshot) Snapshot) {
	next := p.state.Update(mutate)
	p.bus.Publish(next)
}

func (p *Pipeline) recordLatency(ms int64) {
	p.statsMu.Lock()
	if p.avgInferenceMs == 0 {
		p.avgInferenceMs = float32(ms)
	} else {
		p.avgInferenceMs = (p.avgInferenceMs + float32(ms)) / 2
	}
	p.lastInferenceUnix = p.now().Unix()
	p.statsMu.Unlock()
}

// Ensure Pipeline can sit directly behind a capture source.
var _ FrameConsumer = (*Pipeline)(nil)
