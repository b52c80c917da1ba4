package track

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKalman_TransitionMatrixZeroesAccelerationRows(t *testing.T) {
	a := newTransitionMatrix()

	require.Equal(t, 1.0, a.At(0, 0))
	require.Equal(t, 1.0, a.At(0, 2)) // cx += vx
	require.Equal(t, 1.0, a.At(1, 1))
	require.Equal(t, 1.0, a.At(1, 3)) // cy += vy
	require.Equal(t, 1.0, a.At(2, 2))
	require.Equal(t, 1.0, a.At(2, 4)) // vx += ax
	require.Equal(t, 1.0, a.At(3, 3))
	require.Equal(t, 1.0, a.At(3, 5)) // vy += ay

	// Acceleration rows are fully zeroed, not just off the diagonal: this
	// is constant velocity with acceleration forgotten every tick, not
	// constant acceleration.
	for j := 0; j < 6; j++ {
		require.Equal(t, 0.0, a.At(4, j))
		require.Equal(t, 0.0, a.At(5, j))
	}
}

func TestKalman_PredictedCenterUsesVelocity(t *testing.T) {
	k := NewKalmanState(10, 20, DefaultKalmanParams())
	k.SeedVelocity(13, 26)

	pcx, pcy := k.PredictedCenter()
	require.Equal(t, 13.0, pcx)
	require.Equal(t, 26.0, pcy)

	// Last-measured center is unaffected by the velocity seed alone.
	require.Equal(t, 10.0, k.CX())
	require.Equal(t, 20.0, k.CY())
}

func TestKalman_UpdateConvergesOnRepeatedStationaryMeasurement(t *testing.T) {
	k := NewKalmanState(125, 140, DefaultKalmanParams())
	k.SeedVelocity(125, 140)

	for i := 0; i < 5; i++ {
		k.Update(125, 140)
	}

	require.InDelta(t, 125, k.CX(), 1)
	require.InDelta(t, 140, k.CY(), 1)
	require.Less(t, k.VX(), 0.5)
	require.Less(t, k.VY(), 0.5)
}

func TestKalman_UpdateTracksConstantVelocityTarget(t *testing.T) {
	k := NewKalmanState(0, 0, DefaultKalmanParams())
	k.SeedVelocity(5, 0)

	// A target moving +5 in x per tick; the filter's position estimate
	// should keep pace within a small margin after several updates.
	pos := 5.0
	for i := 0; i < 10; i++ {
		k.Update(pos, 0)
		pos += 5
	}

	require.InDelta(t, pos-5, k.CX(), 15)
}
