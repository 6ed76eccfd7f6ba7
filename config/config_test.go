package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, "/dev/video0", cfg.CameraDevice)
	require.Equal(t, 640, cfg.CameraWidth)
	require.Equal(t, 480, cfg.CameraHeight)
	require.Equal(t, "onnx", cfg.EngineKind)
	require.Equal(t, "models/card_detector.onnx", cfg.ModelPath)
	require.False(t, cfg.AuthEnabled)
	require.Equal(t, 24*time.Hour, cfg.JWTExpiry)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9000")
	t.Setenv("CAMERA_DEVICE", "rtsp://cam.local/stream")
	t.Setenv("CAMERA_WIDTH", "1280")
	t.Setenv("CAMERA_HEIGHT", "720")
	t.Setenv("ENGINE_KIND", "remote")
	t.Setenv("REMOTE_ENDPOINT", "http://inference:9001")
	t.Setenv("REMOTE_TIMEOUT", "5s")
	t.Setenv("AUTH_ENABLED", "true")
	t.Setenv("JWT_EXPIRY", "1h")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, ":9000", cfg.HTTPAddr)
	require.Equal(t, "rtsp://cam.local/stream", cfg.CameraDevice)
	require.Equal(t, 1280, cfg.CameraWidth)
	require.Equal(t, 720, cfg.CameraHeight)
	require.Equal(t, "remote", cfg.EngineKind)
	require.Equal(t, "http://inference:9001", cfg.RemoteEndpoint)
	require.Equal(t, 5*time.Second, cfg.RemoteTimeout)
	require.True(t, cfg.AuthEnabled)
	require.Equal(t, time.Hour, cfg.JWTExpiry)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Run("unknown engine kind", func(t *testing.T) {
		t.Setenv("ENGINE_KIND", "tarot")
		_, err := Load()
		require.Error(t, err)
	})

	t.Run("remote without endpoint", func(t *testing.T) {
		t.Setenv("ENGINE_KIND", "remote")
		t.Setenv("REMOTE_ENDPOINT", "")
		_, err := Load()
		require.Error(t, err)
	})

	t.Run("bad camera dimensions", func(t *testing.T) {
		t.Setenv("CAMERA_WIDTH", "-1")
		_, err := Load()
		require.Error(t, err)
	})
}
