// Package capture reads frames from a camera or stream by driving ffmpeg
// and feeding raw BGR frames to a consumer at sensor rate.
package capture

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"

	"cardscan/internal/pipeline"
)

// Config describes the capture source.
type Config struct {
	// Device is an rtsp:// or http(s):// URL, a V4L2 device node
	// (/dev/video*), or a local video file.
	Device string
	Width  int
	Height int
	FPS    int
}

// Stats contains capture counters.
type Stats struct {
	FramesCaptured uint64 `json:"frames_captured"`
	ShortReads     uint64 `json:"short_reads"`
	LastFrameUnix  int64  `json:"last_frame_unix"`
}

// FFmpegSource decodes the device with ffmpeg into fixed-size raw BGR24
// frames and hands each one synchronously to the consumer. The pixel
// buffer is reused between callbacks, so consumers must copy anything
// they keep — which is exactly the pipeline's frame ownership rule.
type FFmpegSource struct {
	cfg      Config
	consumer pipeline.FrameConsumer
	logger   *log.Logger

	cmd     *exec.Cmd
	stopCh  chan struct{}
	running atomic.Bool

	framesCaptured atomic.Uint64
	shortReads     atomic.Uint64
	lastFrameUnix  atomic.Int64
}

// New validates the configuration and returns a stopped source.
func New(cfg Config, consumer pipeline.FrameConsumer, logger *log.Logger) (*FFmpegSource, error) {
	if cfg.Device == "" {
		return nil, errors.New("capture: device is required")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("capture: invalid dimensions %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	if consumer == nil {
		return nil, errors.New("capture: consumer is required")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &FFmpegSource{
		cfg:      cfg,
		consumer: consumer,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start launches ffmpeg and begins delivering frames.
func (s *FFmpegSource) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("capture: already running")
	}

	s.cmd = exec.Command("ffmpeg", s.buildArgs()...)

	stdout, err := s.cmd.StdoutPipe()
	if err != nil {
		s.running.Store(false)
		return fmt.Errorf("capture: stdout pipe: %w", err)
	}
	stderr, err := s.cmd.StderrPipe()
	if err != nil {
		s.running.Store(false)
		return fmt.Errorf("capture: stderr pipe: %w", err)
	}
	if err := s.cmd.Start(); err != nil {
		s.running.Store(false)
		return fmt.Errorf("capture: start ffmpeg: %w", err)
	}

	// Consume stderr silently; ffmpeg logs progress there.
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
		}
	}()

	go s.readFrames(stdout)

	s.logger.Printf("[Capture] started (device: %s, %dx%d @ %d fps)",
		s.cfg.Device, s.cfg.Width, s.cfg.Height, s.cfg.FPS)
	return nil
}

// Stop terminates ffmpeg and the read loop.
func (s *FFmpegSource) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	close(s.stopCh)
	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	s.logger.Printf("[Capture] stopped")
}

// IsRunning reports whether the read loop is active.
func (s *FFmpegSource) IsRunning() bool {
	return s.running.Load()
}

// Stats returns a copy of the capture counters.
func (s *FFmpegSource) Stats() Stats {
	return Stats{
		FramesCaptured: s.framesCaptured.Load(),
		ShortReads:     s.shortReads.Load(),
		LastFrameUnix:  s.lastFrameUnix.Load(),
	}
}

func (s *FFmpegSource) buildArgs() []string {
	out := []string{
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-s", fmt.Sprintf("%dx%d", s.cfg.Width, s.cfg.Height),
		"-r", fmt.Sprintf("%d", s.cfg.FPS),
		"-",
	}

	switch {
	case strings.HasPrefix(s.cfg.Device, "rtsp://"):
		return append([]string{
			"-rtsp_transport", "tcp",
			"-i", s.cfg.Device,
		}, out...)
	case strings.HasPrefix(s.cfg.Device, "http://"), strings.HasPrefix(s.cfg.Device, "https://"):
		return append([]string{
			"-i", s.cfg.Device,
		}, out...)
	case strings.HasPrefix(s.cfg.Device, "/dev/"):
		return append([]string{
			"-f", "v4l2",
			"-video_size", fmt.Sprintf("%dx%d", s.cfg.Width, s.cfg.Height),
			"-framerate", fmt.Sprintf("%d", s.cfg.FPS),
			"-i", s.cfg.Device,
		}, out...)
	default:
		// Local video file; -re paces it at the file's native rate.
		return append([]string{
			"-re",
			"-i", s.cfg.Device,
		}, out...)
	}
}

// readFrames reads fixed-size frames from ffmpeg's stdout. The buffer is
// reused for every frame; OnFrame is called synchronously and the frame
// is invalid once it returns.
func (s *FFmpegSource) readFrames(stdout io.Reader) {
	defer s.running.Store(false)

	frameSize := s.cfg.Width * s.cfg.Height * 3
	buf := make([]byte, frameSize)

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		if _, err := io.ReadFull(stdout, buf); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				s.shortReads.Add(1)
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				s.logger.Printf("[Capture] read error: %v", err)
			}
			return
		}

		seq := s.framesCaptured.Add(1)
		s.lastFrameUnix.Store(time.Now().Unix())

		s.consumer.OnFrame(pipeline.Frame{
			Width:  s.cfg.Width,
			Height: s.cfg.Height,
			Format: pipeline.FormatBGR24,
			Stride: s.cfg.Width * 3,
			Pix:    buf,
		})

		if seq%300 == 0 {
			s.logger.Printf("[Capture] frame %d", seq)
		}
	}
}
