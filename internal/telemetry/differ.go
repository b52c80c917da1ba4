// Package telemetry provides per-stage latency accounting used by every
// pipeline worker to report min/avg/max/count statistics on shutdown.
package telemetry

import (
	"log/slog"
	"math"
	"sync"
	"time"
)

// Differ accumulates elapsed time between paired Begin/End calls on a
// monotonic clock. It mirrors the count/sum/min/max accounting that the
// original DifferBase template performed, reported in microseconds.
type Differ struct {
	mu sync.Mutex

	count uint64
	sum   float64
	min   float64
	max   float64

	begun time.Time
}

// NewDiffer returns a ready-to-use Differ.
func NewDiffer() *Differ {
	return &Differ{min: math.MaxFloat64}
}

// Begin marks the start of a timed operation.
func (d *Differ) Begin() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.begun = time.Now()
}

// End marks the end of a timed operation started by the most recent Begin
// and folds the elapsed microseconds into the running statistics.
func (d *Differ) End() {
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.begun.IsZero() {
		return
	}

	elapsedUs := float64(now.Sub(d.begun).Microseconds())
	d.sum += elapsedUs
	d.count++
	if elapsedUs > d.max {
		d.max = elapsedUs
	}
	if elapsedUs < d.min {
		d.min = elapsedUs
	}
	d.begun = time.Time{}
}

// Report is a snapshot of a Differ's accumulated statistics.
type Report struct {
	High  float64
	Avg   float64
	Low   float64
	Count uint64
	FPS   float64
}

// Report computes the current snapshot. FPS is count per second derived
// from the accumulated sum of per-operation microseconds, matching the
// original fps = count * 1e6 / total_time formula.
func (d *Differ) Report() Report {
	d.mu.Lock()
	defer d.mu.Unlock()

	r := Report{Count: d.count}
	if d.count == 0 {
		return r
	}

	r.High = d.max
	r.Avg = d.sum / float64(d.count)
	if d.min == math.MaxFloat64 {
		r.Low = 0
	} else {
		r.Low = d.min
	}
	if d.sum > 0 {
		r.FPS = float64(d.count) * 1e6 / d.sum
	}
	return r
}

// Log emits the report through slog at Info level, tagged with name.
func (d *Differ) Log(logger *slog.Logger, name string) {
	r := d.Report()
	logger.Info("telemetry report",
		"op", name,
		"high_us", r.High,
		"avg_us", r.Avg,
		"low_us", r.Low,
		"count", r.Count,
		"fps", r.FPS,
	)
}
