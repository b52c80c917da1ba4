// Command detector runs the camera-capture -> detect -> track -> encode
// -> RTSP pipeline, starting the stages downstream-first and stopping them
// in reverse-dependency order (see run).
package main

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wireless-road/detector/internal/capture"
	"github.com/wireless-road/detector/internal/config"
	"github.com/wireless-road/detector/internal/detect"
	"github.com/wireless-road/detector/internal/encode"
	"github.com/wireless-road/detector/internal/health"
	"github.com/wireless-road/detector/internal/lifecycle"
	detectormqtt "github.com/wireless-road/detector/internal/mqtt"
	"github.com/wireless-road/detector/internal/rtspserver"
	"github.com/wireless-road/detector/internal/track"
	"github.com/wireless-road/detector/internal/types"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "detector:", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if cfg.Quiet {
		logLevel = slog.LevelWarn
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	code := run(cfg, logger)
	os.Exit(code)
}

func run(cfg config.Config, logger *slog.Logger) int {
	var healthServer *health.Server
	var reporter *health.Reporter
	if cfg.HealthAddr != "" {
		reporter = health.NewReporter(5)
		healthServer = health.Start(cfg.HealthAddr, reporter, logger)
		defer healthServer.Close()
	}

	var emitter *detectormqtt.Emitter
	if cfg.MQTTBroker != "" {
		emitter = detectormqtt.NewEmitter(detectormqtt.DefaultConfig(cfg.MQTTBroker, "detector"), logger)
		if err := emitter.Connect(); err != nil {
			logger.Warn("mqtt connect failed, continuing without telemetry publishing", "error", err)
			emitter = nil
		} else {
			defer emitter.Disconnect()
		}
	}

	// RTSP is built first: it has no upstream dependency and Encode needs
	// its send entry point.
	var rtspStage *rtspserver.Stage
	var rtspWorker *lifecycle.Worker
	sendNAL := func(types.NAL) error { return nil }
	if cfg.RTSPEnabled {
		rtspCfg := rtspserver.DefaultConfig()
		rtspCfg.YieldTimeUs = cfg.YieldTimeUs
		if cfg.Unicast != "" {
			if ip := net.ParseIP(cfg.Unicast); ip != nil {
				rtspCfg.Unicast = ip
			} else {
				logger.Warn("ignoring invalid -u address", "value", cfg.Unicast)
			}
		}
		rtspStage = rtspserver.NewStage(rtspCfg, &rtspserver.FakeServerLoop{}, logger)
		rtspWorker = rtspStage.Worker()
		sendNAL = func(nal types.NAL) error {
			rtspStage.SendNAL(nal)
			return nil
		}
	}

	encodeCfg := encode.DefaultConfig()
	encodeCfg.Width, encodeCfg.Height = absInt(cfg.Width), absInt(cfg.Height)
	encodeCfg.FrameRate = cfg.FPS
	encodeCfg.BitrateBps = cfg.BitrateBps
	encodeCfg.TestTimeSec = cfg.TestTimeSec
	encodeCfg.OutputPath = cfg.OutputPath
	if cfg.Tuning.Thickness > 0 {
		encodeCfg.Thickness = cfg.Tuning.Thickness
	}
	encodeStage := encode.NewStage(encodeCfg, encode.NewFakePassthroughEncoder(), logger, sendNAL)
	encodeWorker := encodeStage.Worker(logger)

	trackCfg := track.DefaultConfig()
	if cfg.Tuning.MaxDist > 0 {
		trackCfg.MaxDist = cfg.Tuning.MaxDist
	}
	if cfg.Tuning.MaxFrm > 0 {
		trackCfg.MaxFrm = cfg.Tuning.MaxFrm
	}
	if cfg.Tuning.Sigma0Sq > 0 {
		trackCfg.Kalman.Sigma0Sq = cfg.Tuning.Sigma0Sq
	}
	if cfg.Tuning.SigmaPSq > 0 {
		trackCfg.Kalman.SigmaPSq = cfg.Tuning.SigmaPSq
	}
	if cfg.Tuning.SigmaMSq > 0 {
		trackCfg.Kalman.SigmaMSq = cfg.Tuning.SigmaMSq
	}
	tracker := track.NewTracker(trackCfg, logger, func(boxes []types.TrackBuf) {
		if err := encodeStage.SendBoxes(boxes); err != nil {
			logger.Debug("track: encode try_send failed", "error", err)
		}
	})
	if emitter != nil {
		tracker.OnEvent(func(kind string, trackID, frameID uint64, boxType types.BoxType) {
			if err := emitter.PublishTrackEvent(detectormqtt.TrackEvent{
				Kind: kind, TrackID: trackID, FrameID: frameID, Type: boxType.String(),
			}); err != nil {
				logger.Debug("mqtt: publish track event failed", "error", err)
			}
		})
	}
	trackWorker := tracker.Worker(logger)

	detectCfg := detect.DefaultConfig()
	detectCfg.ModelPath = cfg.ModelPath
	detectCfg.LabelsPath = cfg.LabelsPath
	detectCfg.Threshold = cfg.Threshold
	detectStage := detect.NewStage(detectCfg, detect.NewFakeInterpreter(300, 300, false), logger, tracker.SendDetections)
	detectWorker := detectStage.Worker(logger)

	captureCfg := capture.DefaultConfig()
	captureCfg.DeviceIndex = cfg.DeviceIndex
	captureCfg.Width = cfg.Width
	captureCfg.Height = cfg.Height
	captureCfg.FPS = cfg.FPS
	captureStage := capture.NewStage(captureCfg, capture.NewGstCameraDevice(logger), logger, detectStage.SendFrame, encodeStage.SendFrame)
	captureWorker := captureStage.Worker(logger)

	workers := []*lifecycle.Worker{encodeWorker, trackWorker, detectWorker, captureWorker}
	if rtspWorker != nil {
		workers = append([]*lifecycle.Worker{rtspWorker}, workers...)
	}
	for _, w := range workers {
		w.SetYieldTime(cfg.YieldTimeUs)
	}

	// workers is already ordered downstream-first (RTSP, Encode, Track,
	// Detect, Capture); start in that order so nothing upstream can drop
	// into a consumer that isn't ready yet.
	for _, w := range workers {
		if err := w.Start(); err != nil {
			logger.Error("worker start failed", "error", err)
			return 1
		}
		if err := w.Run(); err != nil {
			logger.Error("worker run failed", "error", err)
			stopAll(workers, logger)
			return 1
		}
	}

	if reporter != nil {
		reporter.SetRunning(true)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var timeoutCh <-chan time.Time
	if cfg.TestTimeSec > 0 {
		timer := time.NewTimer(time.Duration(cfg.TestTimeSec) * time.Second)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	exitCode := 0
	select {
	case <-sigCh:
		logger.Info("shutdown signal received, stopping pipeline")
		exitCode = 1
	case <-timeoutCh:
		logger.Info("test duration elapsed, stopping pipeline")
	}

	if reporter != nil {
		reporter.SetRunning(false)
	}

	// Stop in reverse-dependency order: Capture -> Track -> Detect ->
	// Encode -> RTSP.
	stopAll([]*lifecycle.Worker{captureWorker, trackWorker, detectWorker, encodeWorker, rtspWorker}, logger)

	return exitCode
}

func stopAll(workers []*lifecycle.Worker, logger *slog.Logger) {
	for _, w := range workers {
		if w == nil {
			continue
		}
		if err := w.Stop(); err != nil {
			logger.Error("worker stop failed", "error", err)
		}
	}
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
