// Package config loads runtime settings from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the scanner's runtime settings.
type Config struct {
	HTTPAddr string

	CameraDevice string
	CameraWidth  int
	CameraHeight int
	CameraFPS    int

	// EngineKind selects the inference backend: "onnx" or "remote".
	EngineKind       string
	ModelPath        string
	ORTSharedLibPath string
	RemoteEndpoint   string
	RemoteTimeout    time.Duration

	AuthEnabled  bool
	AuthUsername string
	AuthPassword string
	JWTSecret    string
	JWTExpiry    time.Duration
}

// Load reads configuration from the environment. A .env file in the
// working directory is loaded first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr: envString("HTTP_ADDR", ":8080"),

		CameraDevice: envString("CAMERA_DEVICE", "/dev/video0"),
		CameraWidth:  envInt("CAMERA_WIDTH", 640),
		CameraHeight: envInt("CAMERA_HEIGHT", 480),
		CameraFPS:    envInt("CAMERA_FPS", 30),

		EngineKind:       envString("ENGINE_KIND", "onnx"),
		ModelPath:        envString("MODEL_PATH", "models/card_detector.onnx"),
		ORTSharedLibPath: envString("ORT_SHARED_LIB_PATH", ""),
		RemoteEndpoint:   envString("REMOTE_ENDPOINT", ""),
		RemoteTimeout:    envDuration("REMOTE_TIMEOUT", 15*time.Second),

		AuthEnabled:  os.Getenv("AUTH_ENABLED") == "true",
		AuthUsername: envString("AUTH_USERNAME", "admin"),
		AuthPassword: os.Getenv("AUTH_PASSWORD"),
		JWTSecret:    os.Getenv("JWT_SECRET"),
		JWTExpiry:    envDuration("JWT_EXPIRY", 24*time.Hour),
	}

	switch cfg.EngineKind {
	case "onnx":
		if cfg.ModelPath == "" {
			return nil, fmt.Errorf("config: MODEL_PATH is required for the onnx engine")
		}
	case "remote":
		if cfg.RemoteEndpoint == "" {
			return nil, fmt.Errorf("config: REMOTE_ENDPOINT is required for the remote engine")
		}
	default:
		return nil, fmt.Errorf("config: unknown ENGINE_KIND %q", cfg.EngineKind)
	}

	if cfg.CameraWidth <= 0 || cfg.CameraHeight <= 0 {
		return nil, fmt.Errorf("config: invalid camera dimensions %dx%d", cfg.CameraWidth, cfg.CameraHeight)
	}

	return cfg, nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
