package detect

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wireless-road/detector/internal/types"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseLabels_BareNamesAndSkippedEntries(t *testing.T) {
	src := "???\nperson\ncat\ndog\ncar\nballoon\n"
	labels, err := ParseLabels(strings.NewReader(src))
	require.NoError(t, err)

	require.Equal(t, types.Person, labels[0].Type)
	require.Equal(t, types.Pet, labels[1].Type)
	require.Equal(t, types.Pet, labels[2].Type)
	require.Equal(t, types.Vehicle, labels[3].Type)
	require.Equal(t, types.Unknown, labels[4].Type)
	require.Len(t, labels, 5, "a skipped ??? line must not reserve a class id")
}

func TestParseLabels_ExplicitIDPairs(t *testing.T) {
	src := "5 person\n10 bus\n"
	labels, err := ParseLabels(strings.NewReader(src))
	require.NoError(t, err)

	require.Equal(t, "person", labels[5].Label)
	require.Equal(t, types.Person, labels[5].Type)
	require.Equal(t, types.Vehicle, labels[10].Type)
}

func TestResizeBilinear_PreservesSolidFill(t *testing.T) {
	src := make([]byte, 4*4*3)
	for i := range src {
		src[i] = 200
	}
	out := resizeBilinear(src, 4, 4, 2, 2)
	require.Len(t, out, 2*2*3)
	for _, v := range out {
		require.InDelta(t, 200, v, 1)
	}
}

func newTestStage(t *testing.T, threshold float32) (*Stage, *FakeInterpreter, *[][]types.BoxBuf) {
	interp := NewFakeInterpreter(10, 10, false)
	interp.loaded = true

	var sent [][]types.BoxBuf
	cfg := DefaultConfig()
	cfg.Threshold = threshold
	s := NewStage(cfg, interp, silentLogger(), func(b []types.BoxBuf) error {
		sent = append(sent, b)
		return nil
	})
	s.labels = LabelMap{0: {Label: "person", Type: types.Person}}
	return s, interp, &sent
}

func TestDetect_EmitsScaledPixelBoxes(t *testing.T) {
	s, interp, sent := newTestStage(t, 0.5)
	interp.SetFixedOutput(
		[][4]float32{{0.25, 0.25, 0.75, 0.75}},
		[]int{0},
		[]float32{0.9},
	)

	frame := types.Frame{ID: 1, Width: 100, Height: 100, Channels: 3, Data: make([]byte, 100*100*3)}
	require.NoError(t, s.SendFrame(frame))
	require.NoError(t, s.Running())

	require.Len(t, *sent, 1)
	batch := (*sent)[0]
	require.Len(t, batch, 1)
	require.Equal(t, types.Person, batch[0].Type)
	require.Equal(t, uint64(1), batch[0].FrameID)
	require.Equal(t, 25, batch[0].X)
	require.Equal(t, 25, batch[0].Y)
}

func TestDetect_RejectsBoxDegenerateAfterRounding(t *testing.T) {
	s, interp, sent := newTestStage(t, 0.0)
	interp.SetFixedOutput(
		[][4]float32{{0.151, 0.151, 0.153, 0.153}},
		[]int{0},
		[]float32{0.9},
	)

	frame := types.Frame{ID: 1, Width: 10, Height: 10, Channels: 3, Data: make([]byte, 10*10*3)}
	require.NoError(t, s.SendFrame(frame))
	require.NoError(t, s.Running())

	require.Len(t, *sent, 1)
	require.Empty(t, (*sent)[0], "edges that round to the same pixel must be rejected even though they pass the pre-rounding check")
}

func TestDetect_RejectsLowScoreAndUnknownClass(t *testing.T) {
	s, interp, sent := newTestStage(t, 0.5)
	interp.SetFixedOutput(
		[][4]float32{{0.1, 0.1, 0.2, 0.2}, {0.3, 0.3, 0.4, 0.4}},
		[]int{0, 99},
		[]float32{0.1, 0.9},
	)

	frame := types.Frame{ID: 1, Width: 100, Height: 100, Channels: 3, Data: make([]byte, 100*100*3)}
	require.NoError(t, s.SendFrame(frame))
	require.NoError(t, s.Running())

	require.Len(t, *sent, 1)
	require.Empty(t, (*sent)[0])
}

func TestDetect_CapsAtResultNum(t *testing.T) {
	s, interp, sent := newTestStage(t, 0.0)

	boxes := make([][4]float32, 15)
	classes := make([]int, 15)
	scores := make([]float32, 15)
	for i := range boxes {
		boxes[i] = [4]float32{0.1, 0.1, 0.2, 0.2}
		scores[i] = 1.0
	}
	interp.SetFixedOutput(boxes, classes, scores)

	frame := types.Frame{ID: 1, Width: 100, Height: 100, Channels: 3, Data: make([]byte, 100*100*3)}
	require.NoError(t, s.SendFrame(frame))
	require.NoError(t, s.Running())

	require.Len(t, (*sent)[0], ResultNum)
}

func TestDetect_SuppressesOutOfOrderBatch(t *testing.T) {
	s, interp, sent := newTestStage(t, 0.0)
	interp.SetFixedOutput(nil, nil, nil)

	newer := types.Frame{ID: 5, Width: 10, Height: 10, Channels: 3, Data: make([]byte, 10*10*3)}
	require.NoError(t, s.SendFrame(newer))
	require.NoError(t, s.Running())
	require.Len(t, *sent, 1)

	older := types.Frame{ID: 3, Width: 10, Height: 10, Channels: 3, Data: make([]byte, 10*10*3)}
	require.NoError(t, s.SendFrame(older))
	require.NoError(t, s.Running())
	require.Len(t, *sent, 1, "an out-of-order frame_id must not produce a second emitted batch")
}

func TestDetect_WaitingToHaltDrainsPendingFrame(t *testing.T) {
	s, interp, sent := newTestStage(t, 0.0)
	interp.SetFixedOutput(nil, nil, nil)

	frame := types.Frame{ID: 1, Width: 10, Height: 10, Channels: 3, Data: make([]byte, 10*10*3)}
	require.NoError(t, s.SendFrame(frame))

	require.NoError(t, s.WaitingToHalt())
	require.Len(t, *sent, 1)
	require.True(t, interp.closed)
}
