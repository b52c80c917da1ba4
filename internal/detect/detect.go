// Package detect implements the Detect pipeline stage (spec §4.3): resize
// the newest frame to the model's input, run inference, emit bounding
// boxes to Track.
package detect

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"os"

	"github.com/wireless-road/detector/internal/lifecycle"
	"github.com/wireless-road/detector/internal/mailbox"
	"github.com/wireless-road/detector/internal/telemetry"
	"github.com/wireless-road/detector/internal/types"
)

// ResultNum is the maximum number of detections read from one inference
// pass, per spec §4.3 step "post".
const ResultNum = 10

// Config configures one Detect stage.
type Config struct {
	ModelPath  string
	LabelsPath string
	Threshold  float32
	Mean, Std  float32 // applied to float-model inputs as (x-Mean)/Std
}

// DefaultConfig matches the CLI defaults in spec §6, plus the mean/std
// normalization the original's float-model path applies.
func DefaultConfig() Config {
	return Config{
		ModelPath:  "./models/detect.tflite",
		LabelsPath: "./models/labelmap.txt",
		Threshold:  0.5,
		Mean:       127.5,
		Std:        127.5,
	}
}

// Stage is the Detect worker.
type Stage struct {
	cfg    Config
	logger *slog.Logger

	interp Interpreter
	labels LabelMap

	inbox *mailbox.Mailbox[types.Frame]

	sendBoxes func([]types.BoxBuf) error

	postID uint64
	differ *telemetry.Differ
}

// NewStage builds a Detect stage. sendBoxes is Track's try-send entry
// point.
func NewStage(cfg Config, interp Interpreter, logger *slog.Logger, sendBoxes func([]types.BoxBuf) error) *Stage {
	return &Stage{
		cfg:       cfg,
		logger:    logger,
		interp:    interp,
		inbox:     mailbox.New[types.Frame](),
		sendBoxes: sendBoxes,
		differ:    telemetry.NewDiffer(),
	}
}

// SendFrame delivers one captured frame to the single-slot inbox, per
// spec §4.3's add_message contract (busy/full/ok already implemented by
// mailbox.Mailbox). The frame bytes are copied so the caller's buffer is
// not retained.
func (s *Stage) SendFrame(f types.Frame) error {
	f.Data = append([]byte(nil), f.Data...)
	return s.inbox.TrySend(f)
}

// WaitingToRun loads the model, builds the interpreter, and reads the
// labels file, per spec §4.3.
func (s *Stage) WaitingToRun() error {
	if err := s.interp.LoadModel(s.cfg.ModelPath); err != nil {
		return fmt.Errorf("detect: load model: %w", err)
	}

	f, err := os.Open(s.cfg.LabelsPath)
	if err != nil {
		return fmt.Errorf("detect: open labels file: %w", err)
	}
	defer f.Close()

	labels, err := ParseLabels(f)
	if err != nil {
		return fmt.Errorf("detect: parse labels: %w", err)
	}
	s.labels = labels
	return nil
}

func (s *Stage) Paused() error { return nil }

// Running implements spec §4.3's prep/eval/post per-tick pipeline.
func (s *Stage) Running() error {
	frame, ok := s.inbox.Receive()
	if !ok {
		return nil
	}
	s.runOne(frame)
	return nil
}

func (s *Stage) runOne(frame types.Frame) {
	s.differ.Begin()
	defer s.differ.End()

	s.prep(frame)
	if err := s.interp.Invoke(); err != nil {
		s.logger.Error("detect: invoke failed", "frame_id", frame.ID, "error", err)
		return
	}
	s.post(frame)
}

// prep resizes the raw frame into the model's input tensor and, for float
// models, applies (x-mean)/std.
func (s *Stage) prep(frame types.Frame) {
	inW, inH := s.interp.InputSize()
	resized := resizeBilinear(frame.Data, frame.Width, frame.Height, inW, inH)

	if !s.interp.IsFloatInput() {
		_ = s.interp.SetInput(resized)
		return
	}

	normalized := make([]byte, 4*len(resized))
	for i, v := range resized {
		scaled := (float32(v) - s.cfg.Mean) / s.cfg.Std
		binary.LittleEndian.PutUint32(normalized[4*i:], math.Float32bits(scaled))
	}
	_ = s.interp.SetInput(normalized)
}

// post reads the interpreter outputs, filters and scales detections, and
// emits the batch to Track, enforcing post_id monotonicity.
func (s *Stage) post(frame types.Frame) {
	boxes := s.interp.OutputBoxes()
	classes := s.interp.OutputClasses()
	scores := s.interp.OutputScores()

	n := len(boxes)
	if n > ResultNum {
		n = ResultNum
	}

	batch := make([]types.BoxBuf, 0, n)
	for i := 0; i < n; i++ {
		top, left, bottom, right := clamp01(boxes[i][0]), clamp01(boxes[i][1]), clamp01(boxes[i][2]), clamp01(boxes[i][3])
		if top >= bottom || left >= right {
			continue
		}
		if i >= len(scores) || scores[i] < s.cfg.Threshold {
			continue
		}
		if i >= len(classes) {
			continue
		}
		entry, known := s.labels[classes[i]]
		if !known {
			continue
		}

		x := roundNearest(left * float32(frame.Width))
		y := roundNearest(top * float32(frame.Height))
		w := roundNearest(right*float32(frame.Width)) - x
		h := roundNearest(bottom*float32(frame.Height)) - y
		if w <= 0 || h <= 0 {
			continue
		}

		batch = append(batch, types.BoxBuf{
			Type:    entry.Type,
			FrameID: frame.ID,
			X:       x,
			Y:       y,
			W:       w,
			H:       h,
		})
	}

	if s.postID > frame.ID {
		s.logger.Debug("detect: suppressing out-of-order batch", "post_id", s.postID, "frame_id", frame.ID)
		return
	}
	s.postID = frame.ID

	if err := s.sendBoxes(batch); err != nil {
		s.logger.Debug("detect: track try_send failed", "frame_id", frame.ID, "error", err)
	}
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func roundNearest(v float32) int {
	return int(v + 0.5)
}

// WaitingToHalt drains one final pending frame, releases the interpreter,
// and emits the timing report, per spec §4.3.
func (s *Stage) WaitingToHalt() error {
	if frame, ok := s.inbox.Receive(); ok {
		s.runOne(frame)
	}
	if err := s.interp.Close(); err != nil {
		s.logger.Error("detect: interpreter close failed", "error", err)
	}
	s.differ.Log(s.logger, "detect.running")
	return nil
}

// Worker builds the lifecycle.Worker driving this stage.
func (s *Stage) Worker(logger *slog.Logger) *lifecycle.Worker {
	return lifecycle.NewWorker("detect", s, logger)
}
