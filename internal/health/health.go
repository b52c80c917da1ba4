// Package health exposes /health and /readiness (and /metrics) HTTP
// endpoints for the detector pipeline, grounded on
// References/orion-prototipe/internal/core's HealthStatus/LivenessHandler/
// ReadinessHandler/StartHealthServer pattern.
package health

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// StageMetrics is the subset of a stage's telemetry worth exposing.
type StageMetrics struct {
	FramesProcessed uint64  `json:"frames_processed"`
	FramesDropped   uint64  `json:"frames_dropped"`
	DropRate        float64 `json:"drop_rate"`
	AvgLatencyMS    float64 `json:"avg_latency_ms"`
}

// Status is the JSON body served by /health and /readiness.
type Status struct {
	Status        string                  `json:"status"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	StagesUp      int                     `json:"stages_up"`
	StagesTotal   int                     `json:"stages_total"`
	RTSPConnected bool                    `json:"rtsp_connected"`
	MQTTConnected bool                    `json:"mqtt_connected"`
	Stages        map[string]StageMetrics `json:"stages,omitempty"`
}

// Reporter answers the questions the health server needs without taking
// a hard dependency on the pipeline's concrete stage types.
type Reporter struct {
	mu            sync.RWMutex
	started       time.Time
	stagesTotal   int
	running       bool
	rtspConnected bool
	mqttConnected bool
	stages        map[string]StageMetrics
}

// NewReporter builds a Reporter tracking stagesTotal named stages.
func NewReporter(stagesTotal int) *Reporter {
	return &Reporter{
		started:     time.Now(),
		stagesTotal: stagesTotal,
		stages:      make(map[string]StageMetrics),
	}
}

// SetRunning marks whether the pipeline is currently in its Running state.
func (r *Reporter) SetRunning(running bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = running
}

// SetRTSPConnected records whether the RTSP stage currently has a client.
func (r *Reporter) SetRTSPConnected(connected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rtspConnected = connected
}

// SetMQTTConnected records the MQTT emitter's connection state.
func (r *Reporter) SetMQTTConnected(connected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mqttConnected = connected
}

// ReportStage records the latest metrics snapshot for a named stage.
func (r *Reporter) ReportStage(name string, m StageMetrics) {
	total := m.FramesProcessed + m.FramesDropped
	if total > 0 {
		m.DropRate = float64(m.FramesDropped) / float64(total)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages[name] = m
}

// status builds the current Status snapshot.
func (r *Reporter) status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := Status{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(r.started).Seconds()),
		StagesTotal:   r.stagesTotal,
		RTSPConnected: r.rtspConnected,
		MQTTConnected: r.mqttConnected,
		Stages:        make(map[string]StageMetrics, len(r.stages)),
	}
	for name, m := range r.stages {
		st.Stages[name] = m
	}
	if r.running {
		st.StagesUp = len(r.stages)
	}

	if !r.running {
		st.Status = "unhealthy"
	} else if len(r.stages) < r.stagesTotal {
		st.Status = "degraded"
	}
	return st
}

// LivenessHandler answers /health: if this code runs, the process is alive.
func (r *Reporter) LivenessHandler(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"status": "alive",
		"uptime": int64(time.Since(r.started).Seconds()),
	})
}

// ReadinessHandler answers /readiness with the full Status snapshot.
func (r *Reporter) ReadinessHandler(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	status := r.status()
	code := http.StatusOK
	if status.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}

// MetricsHandler answers /metrics in a minimal Prometheus text exposition
// format, enough for a scraper to plot uptime and per-stage drop rate.
func (r *Reporter) MetricsHandler(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	status := r.status()
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("# HELP detector_uptime_seconds Seconds since the process started.\n"))
	w.Write([]byte("# TYPE detector_uptime_seconds counter\n"))
	writeMetricLine(w, "detector_uptime_seconds", "", float64(status.UptimeSeconds))
	for name, m := range status.Stages {
		writeMetricLine(w, "detector_stage_frames_processed", name, float64(m.FramesProcessed))
		writeMetricLine(w, "detector_stage_frames_dropped", name, float64(m.FramesDropped))
		writeMetricLine(w, "detector_stage_drop_rate", name, m.DropRate)
	}
}

func writeMetricLine(w http.ResponseWriter, metric, stage string, value float64) {
	if stage == "" {
		w.Write([]byte(metric + " " + formatFloat(value) + "\n"))
		return
	}
	w.Write([]byte(metric + "{stage=\"" + stage + "\"} " + formatFloat(value) + "\n"))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Server wraps an *http.Server bound to the health/readiness/metrics mux.
type Server struct {
	httpServer *http.Server
}

// Start launches the health HTTP server on addr in a background goroutine,
// returning immediately, per StartHealthServer's non-blocking contract.
func Start(addr string, reporter *Reporter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", reporter.LivenessHandler)
	mux.HandleFunc("/readiness", reporter.ReadinessHandler)
	mux.HandleFunc("/metrics", reporter.MetricsHandler)

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("starting health server", "addr", addr, "endpoints", []string{"/health", "/readiness", "/metrics"})
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health server failed", "error", err)
		}
	}()

	return &Server{httpServer: srv}
}

// Close shuts the health server down.
func (s *Server) Close() error {
	return s.httpServer.Close()
}
