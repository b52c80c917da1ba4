// Package capture implements the Capture pipeline stage (spec §4.2): pulls
// frames from a camera device at frame rate and fans them out to Detect and
// Encode.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/wireless-road/detector/internal/lifecycle"
	"github.com/wireless-road/detector/internal/telemetry"
	"github.com/wireless-road/detector/internal/types"
)

// DefaultFramebufNum is the V4L2 buffer pool size.
const DefaultFramebufNum = 3

// selectTimeout is the camera-fd select(2) timeout from spec §5.
const selectTimeout = 2 * time.Second

// Config configures one Capture stage.
type Config struct {
	DeviceIndex int
	Width       int // negative => horizontal flip
	Height      int // negative => vertical flip
	FPS         float64
	FramebufNum int
}

// DefaultConfig matches the CLI defaults in spec §6.
func DefaultConfig() Config {
	return Config{DeviceIndex: 0, Width: 640, Height: 480, FPS: 20, FramebufNum: DefaultFramebufNum}
}

// Stats are the summary statistics reported on stop per spec §4.2.
type Stats struct {
	TotalFrames   uint64
	DetectDrops   uint64
	EncodeDrops   uint64
	ElapsedWall   time.Duration
	EffectiveFPS  float64
}

// Stage is the Capture worker. It owns the camera device and stamps the
// monotonic frame_id sequence.
type Stage struct {
	cfg    Config
	logger *slog.Logger
	device CameraDevice

	sendToDetect func(types.Frame) error
	sendToEncode func(types.Frame) error

	frameID  uint64
	format   PixelFormat
	differ   *telemetry.Differ
	startedAt time.Time
	stats    Stats

	ctx    context.Context
	cancel context.CancelFunc
}

// NewStage builds a Capture stage. sendToDetect/sendToEncode are the
// try-send entry points of the downstream mailboxes.
func NewStage(cfg Config, device CameraDevice, logger *slog.Logger, sendToDetect, sendToEncode func(types.Frame) error) *Stage {
	return &Stage{
		cfg:          cfg,
		logger:       logger,
		device:       device,
		sendToDetect: sendToDetect,
		sendToEncode: sendToEncode,
		differ:       telemetry.NewDiffer(),
	}
}

// WaitingToRun implements spec §4.2's five-step open sequence.
func (s *Stage) WaitingToRun() error {
	if err := s.device.Open(s.cfg.DeviceIndex); err != nil {
		return fmt.Errorf("capture: open device: %w", err)
	}

	hFlip := s.cfg.Width < 0
	vFlip := s.cfg.Height < 0
	format, err := s.device.SetFormat([]PixelFormat{RGB24}, s.cfg.Width, s.cfg.Height, hFlip, vFlip, s.cfg.FPS)
	if err != nil {
		return fmt.Errorf("capture: set format: %w", err)
	}
	s.format = format

	framebufNum := s.cfg.FramebufNum
	if framebufNum <= 0 {
		framebufNum = DefaultFramebufNum
	}
	if err := s.device.RequestBuffers(framebufNum); err != nil {
		return fmt.Errorf("capture: request buffers: %w", err)
	}

	if err := s.device.StreamOn(); err != nil {
		return fmt.Errorf("capture: stream on: %w", err)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.startedAt = time.Now()
	return nil
}

// Running implements one tick of spec §4.2's "On each running tick" steps.
func (s *Stage) Running() error {
	s.differ.Begin()

	data, err := s.device.WaitFrame(s.ctx, selectTimeout)
	if err != nil {
		s.differ.End()
		if err == ErrNoFrame || s.ctx.Err() != nil {
			return nil // idle camera or shutting down, not a failure
		}
		return fmt.Errorf("capture: wait frame: %w", err)
	}

	s.frameID++
	frame := types.Frame{
		ID:         s.frameID,
		Width:      abs(s.cfg.Width),
		Height:     abs(s.cfg.Height),
		Channels:   3,
		Data:       data,
		TraceID:    uuid.New().String(),
		CapturedAt: time.Now(),
	}

	s.stats.TotalFrames++

	if err := s.sendToDetect(frame); err != nil {
		s.stats.DetectDrops++
		s.logger.Debug("capture: detect try_send failed", "frame_id", frame.ID, "error", err)
	}
	if err := s.sendToEncode(frame); err != nil {
		s.stats.EncodeDrops++
		s.logger.Debug("capture: encode try_send failed", "frame_id", frame.ID, "error", err)
	}

	s.differ.End()
	return nil
}

func (s *Stage) Paused() error { return nil }

// WaitingToHalt implements spec §4.2's stream-off/unmap/close sequence and
// the stop-time stats report.
func (s *Stage) WaitingToHalt() error {
	if s.cancel != nil {
		s.cancel()
	}

	if err := s.device.StreamOff(); err != nil {
		s.logger.Error("capture: stream off failed", "error", err)
	}
	if err := s.device.Close(); err != nil {
		s.logger.Error("capture: close failed", "error", err)
	}

	s.stats.ElapsedWall = time.Since(s.startedAt)
	if s.stats.ElapsedWall > 0 {
		s.stats.EffectiveFPS = float64(s.stats.TotalFrames) / s.stats.ElapsedWall.Seconds()
	}

	s.logger.Info("capture: stats",
		"total_frames", s.stats.TotalFrames,
		"detect_drops", s.stats.DetectDrops,
		"encode_drops", s.stats.EncodeDrops,
		"elapsed", s.stats.ElapsedWall,
		"effective_fps", s.stats.EffectiveFPS,
	)
	s.differ.Log(s.logger, "capture.running")
	return nil
}

// Stats returns a snapshot of the current counters, for tests and status
// reporting.
func (s *Stage) Stats() Stats { return s.stats }

// Worker builds the lifecycle.Worker driving this stage.
func (s *Stage) Worker(logger *slog.Logger) *lifecycle.Worker {
	return lifecycle.NewWorker("capture", s, logger)
}
