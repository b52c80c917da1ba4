package detect

import "fmt"

// Interpreter is the TFLite boundary (out of scope per spec §1): the neural
// network file format and interpreter internals are represented only as
// this contract.
type Interpreter interface {
	// LoadModel reads the model file at path and allocates tensors.
	LoadModel(path string) error
	// InputSize returns the model's expected input width/height.
	InputSize() (width, height int)
	// IsFloatInput reports whether SetInput expects normalized float32
	// pixels (mean/std applied by the caller) rather than raw uint8.
	IsFloatInput() bool
	// SetInput copies a resized RGB frame into the input tensor. For float
	// inputs each pixel value arrives as a little-endian float32 (4 bytes).
	SetInput(rgb []byte) error
	// Invoke runs one inference pass.
	Invoke() error
	// OutputBoxes returns up to N normalized [top,left,bottom,right] boxes.
	OutputBoxes() [][4]float32
	// OutputClasses returns the class id per detection, same order as
	// OutputBoxes.
	OutputClasses() []int
	// OutputScores returns the confidence score per detection, same order
	// as OutputBoxes.
	OutputScores() []float32
	// Close releases the interpreter and any attached accelerator.
	Close() error
}

// FakeInterpreter is a deterministic Interpreter used for tests: Invoke is
// a no-op, and the fixed outputs set via SetFixedOutput are returned
// verbatim regardless of input.
type FakeInterpreter struct {
	width, height int
	floatInput    bool

	boxes   [][4]float32
	classes []int
	scores  []float32

	loaded bool
	closed bool
}

// NewFakeInterpreter builds a fake interpreter with the given model input
// size.
func NewFakeInterpreter(width, height int, floatInput bool) *FakeInterpreter {
	return &FakeInterpreter{width: width, height: height, floatInput: floatInput}
}

func (f *FakeInterpreter) LoadModel(path string) error {
	if path == "" {
		return fmt.Errorf("detect: empty model path")
	}
	f.loaded = true
	return nil
}

func (f *FakeInterpreter) InputSize() (int, int)   { return f.width, f.height }
func (f *FakeInterpreter) IsFloatInput() bool       { return f.floatInput }
func (f *FakeInterpreter) SetInput(rgb []byte) error { return nil }
func (f *FakeInterpreter) Invoke() error             { return nil }

// SetFixedOutput configures the detections the Output* methods report.
func (f *FakeInterpreter) SetFixedOutput(boxes [][4]float32, classes []int, scores []float32) {
	f.boxes, f.classes, f.scores = boxes, classes, scores
}

func (f *FakeInterpreter) OutputBoxes() [][4]float32 { return f.boxes }
func (f *FakeInterpreter) OutputClasses() []int      { return f.classes }
func (f *FakeInterpreter) OutputScores() []float32   { return f.scores }

func (f *FakeInterpreter) Close() error {
	f.closed = true
	return nil
}
