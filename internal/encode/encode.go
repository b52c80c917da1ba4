// Package encode implements the Encode pipeline stage (spec §4.5): draws
// the latest track boxes onto the newest frame, pushes it through the
// H.264 encoder, and hands NAL units to the RTSP stage (and/or a file).
package encode

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/wireless-road/detector/internal/lifecycle"
	"github.com/wireless-road/detector/internal/mailbox"
	"github.com/wireless-road/detector/internal/telemetry"
	"github.com/wireless-road/detector/internal/types"
)

// DefaultFrameNum is the scratch-frame pool size.
const DefaultFrameNum = 3

// ErrSizeMismatch is returned by SendFrame when the frame's byte length
// does not match the precomputed expected size, per spec §4.5's frame slot
// contract.
var ErrSizeMismatch = fmt.Errorf("encode: frame size mismatch")

// Config configures one Encode stage.
type Config struct {
	Width, Height int
	FrameRate     float64
	BitrateBps    int
	Thickness     int
	TestTimeSec   int // file output is written only when > 0, per spec §4.5 step 4
	OutputPath    string
}

// DefaultConfig matches the CLI defaults in spec §6.
func DefaultConfig() Config {
	return Config{Width: 640, Height: 480, FrameRate: 20, BitrateBps: 1_000_000, Thickness: 4, TestTimeSec: 30}
}

func ceil16(n int) int { return (n + 15) &^ 15 }

func expectedFrameSize(width, height, channels int) int {
	return ceil16(width) * ceil16(height) * channels
}

// Stage is the Encode worker.
type Stage struct {
	cfg    Config
	logger *slog.Logger

	encoder H264Encoder
	colors  colorTable
	pool    *framePool

	frameInbox *mailbox.Mailbox[types.Frame]
	boxesInbox *mailbox.Mailbox[[]types.TrackBuf]
	latestBoxes []types.TrackBuf

	sendNAL func(types.NAL) error

	out        io.WriteCloser
	expectedSz int

	differ *telemetry.Differ
}

// NewStage builds an Encode stage. sendNAL is the RTSP stage's try-send
// entry point.
func NewStage(cfg Config, encoder H264Encoder, logger *slog.Logger, sendNAL func(types.NAL) error) *Stage {
	return &Stage{
		cfg:        cfg,
		logger:     logger,
		encoder:    encoder,
		colors:     buildColorTable(),
		frameInbox: mailbox.New[types.Frame](),
		boxesInbox: mailbox.New[[]types.TrackBuf](),
		sendNAL:    sendNAL,
		expectedSz: expectedFrameSize(cfg.Width, cfg.Height, 3),
		differ:     telemetry.NewDiffer(),
	}
}

// SendFrame delivers one frame to the frame slot. It enforces the
// frame.length == expected contract from spec §4.5. The frame bytes are
// copied so the caller's buffer is not retained.
func (s *Stage) SendFrame(f types.Frame) error {
	if len(f.Data) != s.expectedSz {
		return ErrSizeMismatch
	}
	f.Data = append([]byte(nil), f.Data...)
	return s.frameInbox.TrySend(f)
}

// SendBoxes delivers one TrackBuf snapshot to the latest-boxes cell.
func (s *Stage) SendBoxes(boxes []types.TrackBuf) error {
	return s.boxesInbox.TrySend(boxes)
}

// WaitingToRun opens the output (file or stdout when testtime > 0) and
// initializes the hardware encoder's ports, per spec §4.5.
func (s *Stage) WaitingToRun() error {
	s.pool = newFramePool(DefaultFrameNum, ceil16(s.cfg.Width), ceil16(s.cfg.Height))

	if s.cfg.TestTimeSec > 0 {
		if s.cfg.OutputPath != "" {
			f, err := os.Create(s.cfg.OutputPath)
			if err != nil {
				return fmt.Errorf("encode: open output file: %w", err)
			}
			s.out = f
		} else {
			s.out = nopCloser{os.Stdout}
		}
	}

	if err := s.encoder.Open(ceil16(s.cfg.Width), ceil16(s.cfg.Height), s.cfg.FrameRate, s.cfg.BitrateBps); err != nil {
		return fmt.Errorf("encode: open encoder: %w", err)
	}
	return nil
}

func (s *Stage) Paused() error { return nil }

// Running implements one tick of spec §4.5's pop/overlay/submit/write
// pipeline.
func (s *Stage) Running() error {
	frame, ok := s.frameInbox.Receive()
	if !ok {
		return nil
	}

	s.differ.Begin()
	defer s.differ.End()

	if boxes, ok := s.boxesInbox.Receive(); ok {
		s.latestBoxes = boxes
	}

	yuv := RGBToYUV(frame.Data, frame.Width, frame.Height)
	for _, box := range s.latestBoxes {
		color := s.colors[box.Type]
		drawYUVBox(yuv, box.X, box.Y, box.W, box.H, s.cfg.Thickness, color)
	}

	if err := s.encoder.SubmitInput(yuv); err != nil {
		return fmt.Errorf("encode: submit input: %w", err)
	}
	if err := s.encoder.AwaitEmptyDone(); err != nil {
		return fmt.Errorf("encode: await empty done: %w", err)
	}
	if err := s.encoder.RequestFill(); err != nil {
		return fmt.Errorf("encode: request fill: %w", err)
	}
	payload, err := s.encoder.AwaitFillDone()
	if err != nil {
		return fmt.Errorf("encode: await fill done: %w", err)
	}

	if s.out != nil && len(payload) > 0 {
		if _, err := s.out.Write(payload); err != nil {
			s.logger.Error("encode: output write failed", "error", err)
		}
	}
	if len(payload) > 0 {
		if err := s.sendNAL(types.NAL(payload)); err != nil {
			s.logger.Debug("encode: rtsp try_send failed", "error", err)
		}
	}

	return nil
}

// WaitingToHalt flushes and tears down the encoder's ports and closes the
// output, per spec §4.5.
func (s *Stage) WaitingToHalt() error {
	if err := s.encoder.Close(); err != nil {
		s.logger.Error("encode: encoder close failed", "error", err)
	}
	if s.out != nil {
		if err := s.out.Close(); err != nil {
			s.logger.Error("encode: output close failed", "error", err)
		}
		s.out = nil
	}
	s.differ.Log(s.logger, "encode.running")
	return nil
}

// Worker builds the lifecycle.Worker driving this stage.
func (s *Stage) Worker(logger *slog.Logger) *lifecycle.Worker {
	return lifecycle.NewWorker("encode", s, logger)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
