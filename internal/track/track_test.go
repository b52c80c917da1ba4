package track

import (
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wireless-road/detector/internal/types"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestTracker(t *testing.T, cfg Config) (*Tracker, *[]types.TrackBuf) {
	var last []types.TrackBuf
	tr := NewTracker(cfg, silentLogger(), func(bufs []types.TrackBuf) {
		last = bufs
	})
	return tr, &last
}

// S1 - single detection produces a single active track.
func TestTrack_S1_SingleDetectionBirth(t *testing.T) {
	tr, last := newTestTracker(t, DefaultConfig())

	require.NoError(t, tr.SendDetections([]types.BoxBuf{
		{Type: types.Person, FrameID: 1, X: 100, Y: 100, W: 50, H: 80},
	}))
	tr.Tick()

	tracks := tr.Tracks()
	require.Len(t, tracks, 1)
	require.Equal(t, uint64(0), tracks[0].ID)
	require.Equal(t, types.Person, tracks[0].Type)
	require.Equal(t, 100, tracks[0].X)
	require.Equal(t, 100, tracks[0].Y)
	require.Equal(t, 50, tracks[0].W)
	require.Equal(t, 80, tracks[0].H)
	require.Equal(t, types.Active, tracks[0].State)

	require.Len(t, *last, 1)
}

// S2 - stationary target over 3 frames converges and stays low-velocity.
func TestTrack_S2_StationaryTargetConverges(t *testing.T) {
	tr, _ := newTestTracker(t, DefaultConfig())

	for frameID := uint64(1); frameID <= 3; frameID++ {
		require.NoError(t, tr.SendDetections([]types.BoxBuf{
			{Type: types.Person, FrameID: frameID, X: 100, Y: 100, W: 50, H: 80},
		}))
		tr.Tick()
	}

	tracks := tr.Tracks()
	require.Len(t, tracks, 1)

	cx, cy := tracks[0].Kalman.CX(), tracks[0].Kalman.CY()
	require.InDelta(t, 125, cx, 1)
	require.InDelta(t, 140, cy, 1)
	require.Less(t, math.Abs(tracks[0].Kalman.VX()), 0.5)
	require.Less(t, math.Abs(tracks[0].Kalman.VY()), 0.5)
}

// S3 - two targets whose centers cross in X must keep two distinct tracks,
// each receiving exactly 10 measurements, never spawning extra tracks.
func TestTrack_S3_TwoTargetsCrossingPreserveIdentity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDist = 200
	tr, _ := newTestTracker(t, cfg)

	const frames = 10
	for f := uint64(1); f <= frames; f++ {
		// Track A moves left-to-right, Track B moves right-to-left; their
		// X centers cross between frames 4 and 5 but never fully coincide.
		ax := 60 + int(f)*40
		bx := 450 - int(f)*40

		require.NoError(t, tr.SendDetections([]types.BoxBuf{
			{Type: types.Person, FrameID: f, X: ax, Y: 100, W: 40, H: 80},
			{Type: types.Person, FrameID: f, X: bx, Y: 300, W: 40, H: 80},
		}))
		tr.Tick()
	}

	tracks := tr.Tracks()
	require.Len(t, tracks, 2)
	require.Equal(t, uint64(frames), tracks[0].LastSeenFrameID)
	require.Equal(t, uint64(frames), tracks[1].LastSeenFrameID)
}

// S4 - a track with no detections past max_frm is reaped on the tick that
// processes a detection past the deadline.
func TestTrack_S4_Reap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxFrm = 5
	tr, _ := newTestTracker(t, cfg)

	require.NoError(t, tr.SendDetections([]types.BoxBuf{
		{Type: types.Person, FrameID: 10, X: 10, Y: 10, W: 20, H: 20},
	}))
	tr.Tick()
	require.Len(t, tr.Tracks(), 1)

	// A later, unrelated detection far away at frame 10+5+1=16 should reap
	// the stale track and birth a new one.
	require.NoError(t, tr.SendDetections([]types.BoxBuf{
		{Type: types.Vehicle, FrameID: 16, X: 500, Y: 500, W: 30, H: 30},
	}))
	tr.Tick()

	tracks := tr.Tracks()
	require.Len(t, tracks, 1)
	require.Equal(t, types.Vehicle, tracks[0].Type)
}

func TestHungarian_SquareMatrix(t *testing.T) {
	cost := [][]float64{
		{1, 2, 3},
		{2, 1, 3},
		{3, 3, 1},
	}
	assignment := Solve(cost)
	require.ElementsMatch(t, []int{0, 1, 2}, assignment)

	total := 0.0
	for i, j := range assignment {
		total += cost[i][j]
	}
	require.Equal(t, 3.0, total)
}

func TestHungarian_NonSquarePaddingConvention(t *testing.T) {
	// 2 tracks, 3 detections: one detection must go unassigned (assigned
	// to a padded row).
	cost := [][]float64{
		{10, 1, 50},
		{1, 10, 50},
	}
	assignment := SolvePadded(cost, 2, 3)
	require.Len(t, assignment, 2)
	require.Equal(t, 1, assignment[0])
	require.Equal(t, 0, assignment[1])
}

func TestHungarian_NonSquareMoreTracksThanDetections(t *testing.T) {
	// 3 tracks, 1 detection: two tracks must come back unassigned (-1).
	cost := [][]float64{
		{5},
		{1},
		{9},
	}
	assignment := SolvePadded(cost, 3, 1)
	require.Len(t, assignment, 3)

	assignedCount := 0
	for _, j := range assignment {
		if j >= 0 {
			assignedCount++
			require.Equal(t, 0, j)
		}
	}
	require.Equal(t, 1, assignedCount)
}

func TestTrack_EveryDetectionAssignedAtMostOnce(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDist = 1000
	tr, _ := newTestTracker(t, cfg)

	require.NoError(t, tr.SendDetections([]types.BoxBuf{
		{Type: types.Person, FrameID: 1, X: 0, Y: 0, W: 10, H: 10},
		{Type: types.Person, FrameID: 1, X: 100, Y: 100, W: 10, H: 10},
	}))
	tr.Tick()
	require.Len(t, tr.Tracks(), 2)

	require.NoError(t, tr.SendDetections([]types.BoxBuf{
		{Type: types.Person, FrameID: 2, X: 1, Y: 1, W: 10, H: 10},
		{Type: types.Person, FrameID: 2, X: 101, Y: 101, W: 10, H: 10},
	}))
	tr.Tick()

	require.Len(t, tr.Tracks(), 2)
}
