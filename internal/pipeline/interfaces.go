package pipeline

import (
	"context"
)

// Engine runs one inference over a preprocessed input buffer and returns
// the model's output tensors in declaration order. The call may block for
// hundreds of milliseconds; it is only ever invoked from the pipeline's
// consumer goroutine, one call in flight at a time.
type Engine interface {
	// Infer maps the fixed-shape input buffer (InputBytes bytes, BGR,
	// named InputTensorName) to the model's outputs.
	Infer(ctx context.Context, input []byte) ([]Output, error)

	// Close releases engine resources.
	Close() error
}

// Preprocessor crops a frame to a region of interest and converts it to
// the fixed model input format. Implementations must be deterministic and
// side-effect free, must copy out of the frame (the frame's pixels do not
// survive the callback), and must return a buffer of exactly InputBytes
// bytes or an error, never a partial buffer.
type Preprocessor interface {
	Preprocess(frame Frame, roi ROI) ([]byte, error)
}

// FrameConsumer receives frames from a capture source. OnFrame is called
// synchronously from the source's read loop at sensor rate and must not
// block.
type FrameConsumer interface {
	OnFrame(frame Frame)
}

// SnapshotHandler receives published state snapshots.
type SnapshotHandler interface {
	OnSnapshot(snap Snapshot)
}
