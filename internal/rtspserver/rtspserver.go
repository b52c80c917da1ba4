// Package rtspserver implements the RTSP stream stage (spec §4.6): a NAL
// pool/work queue, a get-next-frame contract matching an RTSP server
// library's callback shape, and destination address selection. The RTSP
// library's own session/RTP packetization internals are out of scope and
// represented by the ServerLoop interface.
package rtspserver

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/wireless-road/detector/internal/lifecycle"
	"github.com/wireless-road/detector/internal/telemetry"
	"github.com/wireless-road/detector/internal/types"
)

const (
	RTPPort  = 18888
	RTCPPort = 18889
	TTL      = 255
	Path     = "/camera"
	Session  = "tracker"
)

// ServerLoop is the interface contract for the RTSP server library's event
// loop, out of scope per spec §1. A real implementation drives a third
// party RTSP server against a live source object and calls GetNextFrame on
// FrameSource whenever it needs the next payload; RunLoop blocks until ctx
// is cancelled or the loop fails.
type ServerLoop interface {
	RunLoop(ctx context.Context, source *FrameSource, dest net.IP) error
}

// Config configures the RTSP stage.
type Config struct {
	Unicast     net.IP // nil selects SSM multicast.
	PoolSize    int
	NALLen      int
	MaxPayload  int
	YieldTimeUs int
	Reconnect   ReconnectConfig
}

// DefaultConfig returns the spec's defaults.
func DefaultConfig() Config {
	return Config{
		PoolSize:    DefaultPoolSize,
		NALLen:      DefaultNALLen,
		MaxPayload: 1400,
		YieldTimeUs: 1000,
		Reconnect:   DefaultReconnectConfig(),
	}
}

// Stage implements lifecycle.Stage for the RTSP server worker.
type Stage struct {
	cfg    Config
	logger *slog.Logger

	ring   *NALRing
	source *FrameSource
	server ServerLoop

	dest net.IP

	differ *telemetry.Differ

	ctx    context.Context
	cancel context.CancelFunc
	done   chan error

	loopErr   error
	loopEnded bool
}

// NewStage builds the RTSP stage.
func NewStage(cfg Config, server ServerLoop, logger *slog.Logger) *Stage {
	ring := NewNALRing(cfg.PoolSize, cfg.NALLen)
	return &Stage{
		cfg:    cfg,
		logger: logger,
		ring:   ring,
		source: NewFrameSource(ring, cfg.MaxPayload),
		server: server,
		differ: telemetry.NewDiffer(),
	}
}

// SendNAL delivers one NAL unit for queueing, per §4.6's try_send contract.
// It never blocks: pool exhaustion causes the oldest queued NAL to be
// dropped and its buffer reused.
func (s *Stage) SendNAL(nal types.NAL) {
	s.ring.TrySend(nal)
}

// chooseDestination resolves the RTSP destination address: the configured
// unicast address, or else a randomly chosen SSM (source-specific
// multicast) address in 232.0.0.0/8.
func chooseDestination(unicast net.IP) net.IP {
	if unicast != nil {
		return unicast
	}
	var b [3]byte
	_, _ = rand.Read(b[:])
	return net.IPv4(232, b[0], b[1], b[2])
}

func (s *Stage) WaitingToRun() error {
	s.dest = chooseDestination(s.cfg.Unicast)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.done = make(chan error, 1)

	go func() {
		err := RunWithRestart(s.ctx, func(ctx context.Context) error {
			return s.server.RunLoop(ctx, s.source, s.dest)
		}, s.cfg.Reconnect, s.logger)
		s.done <- err
		close(s.done)
	}()

	s.logger.Info("rtsp server starting",
		"dest", s.dest.String(),
		"rtp_port", RTPPort,
		"rtcp_port", RTCPPort,
		"ttl", TTL,
		"path", Path,
	)
	return nil
}

func (s *Stage) Running() error {
	if s.loopEnded {
		return s.loopErr
	}
	select {
	case err, ok := <-s.done:
		if !ok {
			return nil
		}
		s.loopEnded = true
		s.loopErr = err
		if err != nil {
			return fmt.Errorf("rtsp server loop exited: %w", err)
		}
		return nil
	default:
		return nil
	}
}

func (s *Stage) Paused() error { return nil }

func (s *Stage) WaitingToHalt() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		select {
		case <-s.done:
		case <-time.After(2 * time.Second):
			s.logger.Warn("rtsp server loop did not exit within grace period")
		}
	}
	s.differ.Log(s.logger, "rtsp")
	return nil
}

// Worker returns a lifecycle.Worker driving this stage.
func (s *Stage) Worker() *lifecycle.Worker {
	w := lifecycle.NewWorker("rtsp", s, s.logger)
	w.SetYieldTime(s.cfg.YieldTimeUs)
	return w
}
