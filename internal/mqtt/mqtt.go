// Package mqtt publishes pipeline telemetry and track lifecycle events to
// an MQTT broker, grounded on
// References/orion-prototipe/internal/emitter's MQTTEmitter
// (auto-reconnecting paho client, per-topic publish counters).
package mqtt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// Config configures one Emitter.
type Config struct {
	Broker         string
	ClientID       string
	TopicPrefix    string // e.g. "detector/<instance>"
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// DefaultConfig fills in the retry/timeout knobs the teacher's emitter
// hardcodes, leaving Broker/ClientID/TopicPrefix for the caller.
func DefaultConfig(broker, clientID string) Config {
	return Config{
		Broker:         broker,
		ClientID:       clientID,
		TopicPrefix:    "detector/" + clientID,
		ConnectTimeout: 5 * time.Second,
		PublishTimeout: 2 * time.Second,
	}
}

// TrackEvent is published whenever Track births or reaps a track.
type TrackEvent struct {
	Kind    string `json:"kind"` // "birth" or "death"
	TrackID uint64 `json:"track_id"`
	FrameID uint64 `json:"frame_id"`
	Type    string `json:"type,omitempty"`
}

// StageReport is the payload PublishStageReport sends, mirroring the
// health package's StageMetrics shape. cmd/detector does not publish stage
// reports; it publishes track events only.
type StageReport struct {
	Stage           string  `json:"stage"`
	FramesProcessed uint64  `json:"frames_processed"`
	FramesDropped   uint64  `json:"frames_dropped"`
	AvgLatencyMS    float64 `json:"avg_latency_ms"`
}

// Emitter publishes detector telemetry to MQTT.
type Emitter struct {
	cfg    Config
	logger *slog.Logger

	client paho.Client

	mu        sync.RWMutex
	published map[string]uint64
	errors    uint64
	connected bool
}

// NewEmitter builds an Emitter. Call Connect before Publish*.
func NewEmitter(cfg Config, logger *slog.Logger) *Emitter {
	return &Emitter{
		cfg:       cfg,
		logger:    logger,
		published: make(map[string]uint64),
	}
}

// Connect establishes the broker connection with auto-reconnect enabled,
// per the teacher's ClientOptions setup.
func (e *Emitter) Connect() error {
	opts := paho.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.cfg.Broker))
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c paho.Client) {
		e.mu.Lock()
		e.connected = true
		e.mu.Unlock()
		e.logger.Info("mqtt connection established", "broker", e.cfg.Broker, "client_id", e.cfg.ClientID)
	}
	opts.OnConnectionLost = func(c paho.Client, err error) {
		e.mu.Lock()
		e.connected = false
		e.mu.Unlock()
		e.logger.Warn("mqtt connection lost, will auto-reconnect", "error", err, "broker", e.cfg.Broker)
	}

	e.client = paho.NewClient(opts)

	e.logger.Info("connecting to mqtt broker", "broker", e.cfg.Broker)
	token := e.client.Connect()
	if !token.WaitTimeout(e.cfg.ConnectTimeout) {
		return fmt.Errorf("mqtt: connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: connection failed: %w", err)
	}

	e.mu.Lock()
	e.connected = true
	e.mu.Unlock()
	return nil
}

// PublishTrackEvent publishes a track birth/death event to
// "<prefix>/tracks".
func (e *Emitter) PublishTrackEvent(ev TrackEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("mqtt: marshal track event: %w", err)
	}
	return e.publish(e.cfg.TopicPrefix+"/tracks", 1, payload)
}

// PublishStageReport publishes a stage telemetry snapshot to
// "<prefix>/stages/<stage>".
func (e *Emitter) PublishStageReport(report StageReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("mqtt: marshal stage report: %w", err)
	}
	return e.publish(e.cfg.TopicPrefix+"/stages/"+report.Stage, 0, payload)
}

// PublishHealth publishes an arbitrary health payload to "<prefix>/health".
func (e *Emitter) PublishHealth(payload []byte) error {
	return e.publish(e.cfg.TopicPrefix+"/health", 0, payload)
}

func (e *Emitter) publish(topic string, qos byte, payload []byte) error {
	if !e.IsConnected() {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		return fmt.Errorf("mqtt: not connected")
	}

	token := e.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(e.cfg.PublishTimeout) {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		return fmt.Errorf("mqtt: publish timeout")
	}
	if err := token.Error(); err != nil {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		return fmt.Errorf("mqtt: publish failed: %w", err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()
	return nil
}

// Disconnect closes the MQTT connection with a short grace period.
func (e *Emitter) Disconnect() {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
		e.logger.Info("mqtt disconnected")
	}
	e.mu.Lock()
	e.connected = false
	e.mu.Unlock()
}

// IsConnected reports the emitter's current connection state.
func (e *Emitter) IsConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

// Stats returns emitter statistics.
type Stats struct {
	Connected bool
	Published map[string]uint64
	Errors    uint64
}

// Stats snapshots per-topic publish counts and error totals.
func (e *Emitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{Connected: e.connected, Published: published, Errors: e.errors}
}
