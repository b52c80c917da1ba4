package encode

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wireless-road/detector/internal/types"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// S6 - overlay color: a thickness-2 red box on a 16x16 zero-luma frame
// draws (76,84,255) +/-1 on the rectangle edges and leaves the interior at
// luma 0.
func TestEncode_S6_OverlayColorAndInteriorUntouched(t *testing.T) {
	frame := NewYUVFrame(16, 16)
	red := buildColorTable()[types.Person]

	drawYUVBox(frame, 4, 4, 8, 8, 2, red)

	// Edge pixel (top-left corner of the box).
	idx := 4*16 + 4
	require.InDelta(t, 76, frame.Y[idx], 1)
	require.InDelta(t, 84, frame.U[idx], 1)
	require.InDelta(t, 255, frame.V[idx], 1)

	// Interior pixel (center of the box, inside the 2px border).
	interiorIdx := 8*16 + 8
	require.Equal(t, byte(0), frame.Y[interiorIdx])
	require.Equal(t, byte(0), frame.U[interiorIdx])
	require.Equal(t, byte(0), frame.V[interiorIdx])

	// Pixel entirely outside the box is also untouched.
	outsideIdx := 0
	require.Equal(t, byte(0), frame.Y[outsideIdx])
}

func TestEncode_SendFrameRejectsSizeMismatch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Width, cfg.Height = 16, 16
	s := NewStage(cfg, NewFakePassthroughEncoder(), silentLogger(), func(types.NAL) error { return nil })

	bad := types.Frame{ID: 1, Width: 16, Height: 16, Channels: 3, Data: make([]byte, 10)}
	require.ErrorIs(t, s.SendFrame(bad), ErrSizeMismatch)

	expected := expectedFrameSize(16, 16, 3)
	good := types.Frame{ID: 1, Width: 16, Height: 16, Channels: 3, Data: make([]byte, expected)}
	require.NoError(t, s.SendFrame(good))
}

func TestEncode_LatestBoxesPersistAcrossFrames(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Width, cfg.Height, cfg.TestTimeSec = 16, 16, 0
	var delivered []types.NAL
	s := NewStage(cfg, NewFakePassthroughEncoder(), silentLogger(), func(n types.NAL) error {
		delivered = append(delivered, n)
		return nil
	})
	require.NoError(t, s.WaitingToRun())

	require.NoError(t, s.SendBoxes([]types.TrackBuf{{Type: types.Person, TrackID: 0, X: 1, Y: 1, W: 4, H: 4}}))

	expected := expectedFrameSize(16, 16, 3)
	frame1 := types.Frame{ID: 1, Width: 16, Height: 16, Channels: 3, Data: make([]byte, expected)}
	require.NoError(t, s.SendFrame(frame1))
	require.NoError(t, s.Running())
	require.Len(t, s.latestBoxes, 1)

	// A second frame arrives with no new boxes; the stage must keep using
	// the last-known box set rather than clearing the overlay.
	frame2 := types.Frame{ID: 2, Width: 16, Height: 16, Channels: 3, Data: make([]byte, expected)}
	require.NoError(t, s.SendFrame(frame2))
	require.NoError(t, s.Running())
	require.Len(t, s.latestBoxes, 1)

	require.Len(t, delivered, 2)
	require.NoError(t, s.WaitingToHalt())
}
