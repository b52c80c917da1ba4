package lifecycle

import (
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingStage struct {
	waitingToRun  atomic.Int64
	running       atomic.Int64
	paused        atomic.Int64
	waitingToHalt atomic.Int64
	failRunning   atomic.Bool
}

func (s *countingStage) WaitingToRun() error {
	s.waitingToRun.Add(1)
	return nil
}

func (s *countingStage) Running() error {
	s.running.Add(1)
	return nil
}

func (s *countingStage) Paused() error {
	s.paused.Add(1)
	return nil
}

func (s *countingStage) WaitingToHalt() error {
	s.waitingToHalt.Add(1)
	return nil
}

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWorker_StartEndsInPaused(t *testing.T) {
	s := &countingStage{}
	w := NewWorker("test", s, silentLogger())
	w.SetYieldTime(100)

	require.NoError(t, w.Start())
	require.Equal(t, Paused, w.GetState())
	require.GreaterOrEqual(t, s.waitingToHalt.Load(), int64(1))

	require.NoError(t, w.Stop())
	require.Equal(t, Stopped, w.GetState())
}

func TestWorker_RunEndsInRunning(t *testing.T) {
	s := &countingStage{}
	w := NewWorker("test", s, silentLogger())
	w.SetYieldTime(100)

	require.NoError(t, w.Start())
	require.NoError(t, w.Run())
	require.Equal(t, Running, w.GetState())
	require.GreaterOrEqual(t, s.waitingToRun.Load(), int64(1))

	require.NoError(t, w.Stop())
}

func TestWorker_PauseReturnsToPaused(t *testing.T) {
	s := &countingStage{}
	w := NewWorker("test", s, silentLogger())
	w.SetYieldTime(100)

	require.NoError(t, w.Start())
	require.NoError(t, w.Run())
	require.NoError(t, w.Pause())
	require.Equal(t, Paused, w.GetState())

	require.NoError(t, w.Stop())
}

func TestWorker_StopJoinsAndIsIdempotent(t *testing.T) {
	s := &countingStage{}
	w := NewWorker("test", s, silentLogger())
	w.SetYieldTime(100)

	require.NoError(t, w.Start())
	require.NoError(t, w.Run())
	require.NoError(t, w.Stop())
	require.Equal(t, Stopped, w.GetState())

	// Idempotent when already in Stopped.
	require.NoError(t, w.Stop())
}

func TestWorker_StartTwiceFails(t *testing.T) {
	s := &countingStage{}
	w := NewWorker("test", s, silentLogger())
	w.SetYieldTime(100)

	require.NoError(t, w.Start())
	require.ErrorIs(t, w.Start(), ErrAlreadyStarted)

	require.NoError(t, w.Stop())
}

func TestWorker_RunWhenStoppedFails(t *testing.T) {
	s := &countingStage{}
	w := NewWorker("test", s, silentLogger())

	require.ErrorIs(t, w.Run(), ErrBadState)
}

func TestWorker_RunIdempotentWhenAlreadyRunning(t *testing.T) {
	s := &countingStage{}
	w := NewWorker("test", s, silentLogger())
	w.SetYieldTime(100)

	require.NoError(t, w.Start())
	require.NoError(t, w.Run())
	require.NoError(t, w.Run())
	require.Equal(t, Running, w.GetState())

	require.NoError(t, w.Stop())
}

func TestWorker_CallbackFailureStopsWorker(t *testing.T) {
	stage := &failingStage{}
	w := NewWorker("test", stage, silentLogger())
	w.SetYieldTime(100)

	require.NoError(t, w.Start())
	require.NoError(t, w.Run())

	require.Eventually(t, func() bool {
		return w.GetState() == Stopped
	}, time.Second, time.Millisecond)
}

type failingStage struct{}

func (failingStage) WaitingToRun() error  { return nil }
func (failingStage) Running() error       { return errAlways }
func (failingStage) Paused() error        { return nil }
func (failingStage) WaitingToHalt() error { return nil }

var errAlways = errors.New("always fails")
