package engine

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"cardscan/internal/pipeline"
)

// ONNXConfig configures the local ONNX Runtime backend.
type ONNXConfig struct {
	// ModelPath is the path to the .onnx model file.
	ModelPath string
	// SharedLibraryPath points at the onnxruntime shared library. Empty
	// means the platform default search path.
	SharedLibraryPath string
}

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

func initRuntime(libPath string) error {
	ortInitOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// ONNXEngine runs the model in-process through ONNX Runtime. Run calls
// are serialized; the pipeline's single-slot gate already guarantees one
// inference in flight, the mutex just keeps the session safe if an engine
// instance is ever shared.
type ONNXEngine struct {
	session     *ort.DynamicAdvancedSession
	outputNames []string
	mu          sync.Mutex
}

// NewONNXEngine loads the model at cfg.ModelPath, validates that it
// declares the expected input tensor, and performs a warmup inference so
// the first sampled frame does not pay the initialization cost.
func NewONNXEngine(cfg ONNXConfig) (*ONNXEngine, error) {
	if err := initRuntime(cfg.SharedLibraryPath); err != nil {
		return nil, fmt.Errorf("onnx: initialize runtime: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("onnx: inspect model %s: %w", cfg.ModelPath, err)
	}

	found := false
	for _, in := range inputs {
		if in.Name == pipeline.InputTensorName {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("onnx: model %s has no input named %q", cfg.ModelPath, pipeline.InputTensorName)
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("onnx: model %s declares no outputs", cfg.ModelPath)
	}

	outputNames := make([]string, len(outputs))
	for i, out := range outputs {
		outputNames[i] = out.Name
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("onnx: session options: %w", err)
	}
	defer options.Destroy()
	if err := options.SetIntraOpNumThreads(1); err != nil {
		return nil, fmt.Errorf("onnx: set intra-op threads: %w", err)
	}
	if err := options.SetInterOpNumThreads(1); err != nil {
		return nil, fmt.Errorf("onnx: set inter-op threads: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{pipeline.InputTensorName}, outputNames, options)
	if err != nil {
		return nil, fmt.Errorf("onnx: create session: %w", err)
	}

	e := &ONNXEngine{session: session, outputNames: outputNames}

	if _, err := e.Infer(context.Background(), make([]byte, pipeline.InputBytes)); err != nil {
		session.Destroy()
		return nil, fmt.Errorf("onnx: warmup inference: %w", err)
	}
	return e, nil
}

// Infer runs the model over one preprocessed buffer and returns the
// float32 output tensors in declaration order.
func (e *ONNXEngine) Infer(ctx context.Context, input []byte) ([]pipeline.Output, error) {
	if len(input) != pipeline.InputBytes {
		return nil, fmt.Errorf("onnx: input is %d bytes, want %d", len(input), pipeline.InputBytes)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	shape := ort.NewShape(pipeline.InputHeight, pipeline.InputWidth, pipeline.InputChannels)
	tensor, err := ort.NewTensor(shape, input)
	if err != nil {
		return nil, fmt.Errorf("onnx: input tensor: %w", err)
	}
	defer tensor.Destroy()

	// nil entries are allocated by the runtime and destroyed below.
	raw := make([]ort.Value, len(e.outputNames))

	e.mu.Lock()
	err = e.session.Run([]ort.Value{tensor}, raw)
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("onnx: run: %w", err)
	}

	results := make([]pipeline.Output, 0, len(raw))
	for i, v := range raw {
		if v == nil {
			continue
		}
		if ft, ok := v.(*ort.Tensor[float32]); ok {
			data := ft.GetData()
			values := make([]float32, len(data))
			copy(values, data)
			results = append(results, pipeline.Output{Name: e.outputNames[i], Values: values})
		}
		v.Destroy()
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("onnx: model produced no float32 outputs")
	}
	return results, nil
}

// Close destroys the session.
func (e *ONNXEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		e.session.Destroy()
		e.session = nil
	}
	return nil
}

// ONNXFactory returns a loader Factory for a local ONNX model.
func ONNXFactory(cfg ONNXConfig) Factory {
	return func(ctx context.Context) (pipeline.Engine, error) {
		return NewONNXEngine(cfg)
	}
}

var _ pipeline.Engine = (*ONNXEngine)(nil)
