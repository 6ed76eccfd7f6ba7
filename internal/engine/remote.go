package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"cardscan/internal/pipeline"
)

// RemoteConfig configures the HTTP inference backend.
type RemoteConfig struct {
	// Endpoint is the base URL of the inference service.
	Endpoint string
	// Timeout bounds a single HTTP call, not the pipeline (which has no
	// inference timeout of its own). Zero means 15s.
	Timeout time.Duration
}

// RemoteEngine offloads inference to an HTTP service, for deployments
// where the sensor box has no accelerator. The service accepts the raw
// preprocessed buffer and returns its output tensors as JSON.
type RemoteEngine struct {
	endpoint string
	client   *http.Client

	mu         sync.Mutex
	lastHealth time.Time
}

type remoteHealth struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

type remoteOutput struct {
	Name   string    `json:"name"`
	Values []float32 `json:"values"`
}

type remoteInferResponse struct {
	Outputs         []remoteOutput `json:"outputs"`
	InferenceTimeMs float32        `json:"inference_time_ms"`
}

// NewRemoteEngine creates a client for the service at cfg.Endpoint.
func NewRemoteEngine(cfg RemoteConfig) *RemoteEngine {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &RemoteEngine{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// IsHealthy probes the service's /health endpoint. Positive results are
// cached for 30 seconds.
func (e *RemoteEngine) IsHealthy() bool {
	e.mu.Lock()
	if time.Since(e.lastHealth) < 30*time.Second {
		e.mu.Unlock()
		return true
	}
	e.mu.Unlock()

	resp, err := e.client.Get(e.endpoint + "/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}
	var health remoteHealth
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil || !health.ModelLoaded {
		return false
	}

	e.mu.Lock()
	e.lastHealth = time.Now()
	e.mu.Unlock()
	return true
}

// Infer posts the preprocessed buffer to the service and decodes the
// output tensors.
func (e *RemoteEngine) Infer(ctx context.Context, input []byte) ([]pipeline.Output, error) {
	if len(input) != pipeline.InputBytes {
		return nil, fmt.Errorf("remote: input is %d bytes, want %d", len(input), pipeline.InputBytes)
	}

	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	fw, err := w.CreateFormFile("tensor", pipeline.InputTensorName+".bin")
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(input); err != nil {
		return nil, err
	}
	w.WriteField("name", pipeline.InputTensorName)
	w.WriteField("shape", fmt.Sprintf("%d,%d,%d",
		pipeline.InputHeight, pipeline.InputWidth, pipeline.InputChannels))
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/infer", &b)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("remote: inference failed with status %d: %s", resp.StatusCode, body)
	}

	var decoded remoteInferResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("remote: decode response: %w", err)
	}

	outputs := make([]pipeline.Output, 0, len(decoded.Outputs))
	for _, out := range decoded.Outputs {
		outputs = append(outputs, pipeline.Output{Name: out.Name, Values: out.Values})
	}
	return outputs, nil
}

// Close is a no-op; the HTTP client holds no per-model resources.
func (e *RemoteEngine) Close() error {
	return nil
}

// RemoteFactory returns a loader Factory that verifies the remote service
// has its model loaded before handing the engine to the pipeline.
func RemoteFactory(cfg RemoteConfig) Factory {
	return func(ctx context.Context) (pipeline.Engine, error) {
		e := NewRemoteEngine(cfg)
		if !e.IsHealthy() {
			return nil, fmt.Errorf("remote: service at %s is not ready", cfg.Endpoint)
		}
		return e, nil
	}
}

var _ pipeline.Engine = (*RemoteEngine)(nil)
