package encode

import "fmt"

// H264Encoder is the OMX/hardware-encoder boundary (out of scope per
// spec §1): port configuration and the empty-buffer-done/fill-buffer-done
// semaphore protocol are represented only as this contract.
//
// Real adapters wire this to an OMX component: Open configures the input
// port as planar YUV at ceil16(width) x ceil16(height) @ framerate and the
// output port as AVC at the given bitrate (variable rate), then transitions
// the component Loaded -> Idle -> Executing. SubmitInput/AwaitEmptyDone
// correspond to OMX_EmptyThisBuffer and its completion callback;
// RequestFill/AwaitFillDone correspond to OMX_FillThisBuffer and its
// completion callback.
type H264Encoder interface {
	Open(width, height int, framerate float64, bitrateBps int) error
	SubmitInput(yuv *YUVFrame) error
	AwaitEmptyDone() error
	RequestFill() error
	AwaitFillDone() ([]byte, error)
	Close() error
}

// FakePassthroughEncoder is a deterministic H264Encoder used for tests: it
// wraps each submitted frame's luma plane with a fixed Annex-B start code,
// enough to drive the overlay and mailbox logic under test without a real
// hardware encoder.
type FakePassthroughEncoder struct {
	opened    bool
	lastInput *YUVFrame
	pending   []byte
}

// NewFakePassthroughEncoder builds a fake encoder.
func NewFakePassthroughEncoder() *FakePassthroughEncoder {
	return &FakePassthroughEncoder{}
}

var annexBStartCode = []byte{0x00, 0x00, 0x00, 0x01}

func (e *FakePassthroughEncoder) Open(width, height int, framerate float64, bitrateBps int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("encode: invalid encoder dimensions %dx%d", width, height)
	}
	e.opened = true
	return nil
}

func (e *FakePassthroughEncoder) SubmitInput(yuv *YUVFrame) error {
	if !e.opened {
		return fmt.Errorf("encode: encoder not open")
	}
	e.lastInput = yuv
	return nil
}

func (e *FakePassthroughEncoder) AwaitEmptyDone() error { return nil }

func (e *FakePassthroughEncoder) RequestFill() error {
	if e.lastInput == nil {
		return fmt.Errorf("encode: no input submitted")
	}
	out := make([]byte, 0, len(annexBStartCode)+len(e.lastInput.Y))
	out = append(out, annexBStartCode...)
	out = append(out, e.lastInput.Y...)
	e.pending = out
	return nil
}

func (e *FakePassthroughEncoder) AwaitFillDone() ([]byte, error) {
	out := e.pending
	e.pending = nil
	return out, nil
}

func (e *FakePassthroughEncoder) Close() error {
	e.opened = false
	return nil
}
