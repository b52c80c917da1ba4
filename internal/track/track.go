// Package track implements the multi-object tracker (spec §4.4): Euclidean
// nearest-neighbor cost matrix, Hungarian assignment, per-track Kalman
// filtering, and track birth/death.
package track

import (
	"log/slog"
	"math"

	"github.com/wireless-road/detector/internal/lifecycle"
	"github.com/wireless-road/detector/internal/mailbox"
	"github.com/wireless-road/detector/internal/telemetry"
	"github.com/wireless-road/detector/internal/types"
)

// Track is one tracked object.
type Track struct {
	ID              uint64
	Type            types.BoxType
	LastSeenFrameID uint64
	X, Y, W, H      int
	State           types.TrackState
	Kalman          *KalmanState
}

func centerOf(x, y, w, h int) (cx, cy float64) {
	return float64(x) + float64(w)/2, float64(y) + float64(h)/2
}

// AddMeasurement folds one detection into the track per spec §4.4: update
// last_seen_frame_id and box, seed velocity on the first measurement, then
// run the Kalman time-update and measurement-update.
func (t *Track) AddMeasurement(det types.BoxBuf) {
	t.LastSeenFrameID = det.FrameID
	t.X, t.Y, t.W, t.H = det.X, det.Y, det.W, det.H

	mx, my := centerOf(det.X, det.Y, det.W, det.H)

	if t.State == types.Init {
		t.Kalman.SeedVelocity(mx, my)
		t.State = types.Active
	}

	t.Kalman.Update(mx, my)
}

// Config tunes the tracker's assignment/reap thresholds.
type Config struct {
	MaxDist float64 // Hungarian assignment cost cutoff.
	MaxFrm  uint64   // frame-age deadline for reap.
	Kalman  KalmanParams
}

// DefaultConfig returns reasonable defaults; MaxDist and MaxFrm are
// configuration per spec §4.4 with no stated default, so cmd/detector lets
// the optional YAML sidecar override them.
func DefaultConfig() Config {
	return Config{MaxDist: 200, MaxFrm: 30, Kalman: DefaultKalmanParams()}
}

// Tracker owns the active track collection and the single "latest
// detections" mailbox from Detect.
type Tracker struct {
	cfg    Config
	logger *slog.Logger

	nextID uint64
	tracks []*Track

	detections *mailbox.Mailbox[[]types.BoxBuf]

	sendTrackBufs func([]types.TrackBuf)
	onEvent       func(kind string, trackID, frameID uint64, boxType types.BoxType)

	differ *telemetry.Differ
}

// OnEvent registers a callback invoked with kind "birth" or "death"
// whenever a track is created or reaped, for optional telemetry publishing.
func (tr *Tracker) OnEvent(fn func(kind string, trackID, frameID uint64, boxType types.BoxType)) {
	tr.onEvent = fn
}

// NewTracker builds a Tracker. sendTrackBufs is called once per tick with
// the current TrackBuf list, the try_send to Encode from spec §4.4 step 5.
func NewTracker(cfg Config, logger *slog.Logger, sendTrackBufs func([]types.TrackBuf)) *Tracker {
	return &Tracker{
		cfg:           cfg,
		logger:        logger,
		detections:    mailbox.New[[]types.BoxBuf](),
		sendTrackBufs: sendTrackBufs,
		differ:        telemetry.NewDiffer(),
	}
}

// SendDetections delivers one detection batch to the tracker's inbox.
func (tr *Tracker) SendDetections(batch []types.BoxBuf) error {
	return tr.detections.TrySend(batch)
}

// Tick runs one tracker iteration: associate, birth, reap, post. It is
// exported directly (rather than only via the lifecycle Running hook) so
// tests can drive deterministic single ticks, matching the concrete
// scenarios in spec §8.
func (tr *Tracker) Tick() {
	batch, ok := tr.detections.Receive()
	if !ok {
		return
	}

	tr.differ.Begin()
	defer tr.differ.End()

	if len(tr.tracks) > 0 && len(batch) > 0 {
		tr.associate(batch)
	} else {
		for _, det := range batch {
			tr.birth(det)
		}
	}

	if len(batch) > 0 {
		tr.reap(batch[0].FrameID)
	}

	tr.post()
}

// associate builds the cost matrix, solves the Hungarian assignment, and
// attaches each detection to its assigned track when the cost is within
// max_dist. Unassigned or over-threshold detections become new tracks.
//
// The association loop is written explicitly by iterating tracks and
// indexing the solver's own returned assignment vector with a bounds
// check — spec §9's third Open Question explicitly forbids silently
// replicating the original's detection-index-based loop.
func (tr *Tracker) associate(batch []types.BoxBuf) {
	cost := make([][]float64, len(tr.tracks))
	for i, t := range tr.tracks {
		row := make([]float64, len(batch))
		pcx, pcy := t.Kalman.PredictedCenter()
		for k, det := range batch {
			dcx, dcy := det.CenterX(), det.CenterY()
			row[k] = math.Hypot(pcx-dcx, pcy-dcy)
		}
		cost[i] = row
	}

	assignment := SolvePadded(cost, len(tr.tracks), len(batch))

	consumed := make([]bool, len(batch))
	for i, track := range tr.tracks {
		detJ := assignment[i]
		if detJ < 0 || detJ >= len(batch) {
			continue
		}
		if cost[i][detJ] > tr.cfg.MaxDist {
			continue
		}
		track.AddMeasurement(batch[detJ])
		consumed[detJ] = true
	}

	for k, det := range batch {
		if !consumed[k] {
			tr.birth(det)
		}
	}
}

// birth creates a new Init-state track for an unmatched detection, seeded
// with measured center and zero velocity, then folds the detection in as
// the track's first measurement, which moves it to Active.
func (tr *Tracker) birth(det types.BoxBuf) {
	cx, cy := det.CenterX(), det.CenterY()
	t := &Track{
		ID:              tr.nextID,
		Type:            det.Type,
		LastSeenFrameID: det.FrameID,
		X:               det.X,
		Y:               det.Y,
		W:               det.W,
		H:               det.H,
		State:           types.Init,
		Kalman:          NewKalmanState(cx, cy, tr.cfg.Kalman),
	}
	t.AddMeasurement(det)
	tr.nextID++
	tr.tracks = append(tr.tracks, t)
	if tr.onEvent != nil {
		tr.onEvent("birth", t.ID, t.LastSeenFrameID, t.Type)
	}
}

// reap removes tracks whose age (in frames) exceeds max_frm.
func (tr *Tracker) reap(currentFrameID uint64) {
	kept := tr.tracks[:0]
	for _, t := range tr.tracks {
		if currentFrameID > t.LastSeenFrameID && currentFrameID-t.LastSeenFrameID > tr.cfg.MaxFrm {
			tr.logger.Debug("track reaped", "track_id", t.ID, "last_seen", t.LastSeenFrameID, "current", currentFrameID)
			if tr.onEvent != nil {
				tr.onEvent("death", t.ID, currentFrameID, t.Type)
			}
			continue
		}
		kept = append(kept, t)
	}
	tr.tracks = kept
}

// post assembles the current TrackBuf list and hands it to Encode.
func (tr *Tracker) post() {
	out := make([]types.TrackBuf, 0, len(tr.tracks))
	for _, t := range tr.tracks {
		out = append(out, types.TrackBuf{
			Type:    t.Type,
			TrackID: t.ID,
			X:       t.X,
			Y:       t.Y,
			W:       t.W,
			H:       t.H,
		})
	}
	tr.sendTrackBufs(out)
}

// Tracks returns a snapshot of the current active track list, for tests
// and status reporting.
func (tr *Tracker) Tracks() []*Track {
	out := make([]*Track, len(tr.tracks))
	copy(out, tr.tracks)
	return out
}

// WaitingToRun satisfies lifecycle.Stage; the tracker needs no setup.
func (tr *Tracker) WaitingToRun() error { return nil }

// Running drives one Tick per lifecycle iteration, wrapped with a differ
// report on WaitingToHalt.
func (tr *Tracker) Running() error {
	tr.Tick()
	return nil
}

func (tr *Tracker) Paused() error { return nil }

// WaitingToHalt logs the accumulated differ report.
func (tr *Tracker) WaitingToHalt() error {
	tr.differ.Log(tr.logger, "track.running")
	return nil
}

// Worker builds the lifecycle.Worker driving this tracker.
func (tr *Tracker) Worker(logger *slog.Logger) *lifecycle.Worker {
	return lifecycle.NewWorker("track", tr, logger)
}
