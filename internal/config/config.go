// Package config builds the pipeline's Config from CLI flags (spec §6)
// with an optional YAML sidecar for tuning overrides, mirroring
// References/orion-prototipe/internal/config's yaml.Unmarshal+Validate
// pattern.
package config

import (
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the fully-resolved configuration for one pipeline run.
type Config struct {
	Quiet       bool
	RTSPEnabled bool
	Unicast     string
	TestTimeSec int
	DeviceIndex int
	FPS         float64
	Width       int
	Height      int
	BitrateBps  int
	YieldTimeUs int
	DetectorThreads int
	Threshold   float32
	ModelPath   string
	LabelsPath  string
	OutputPath  string

	HealthAddr  string
	MQTTBroker  string

	Tuning TuningOverrides
}

// TuningOverrides are the fields an optional YAML sidecar may set; CLI
// flags always win over the file for any field both define.
type TuningOverrides struct {
	MaxDist    float64 `yaml:"max_dist"`
	MaxFrm     uint64  `yaml:"max_frm"`
	Sigma0Sq   float64 `yaml:"sigma0_sq"`
	SigmaPSq   float64 `yaml:"sigma_p_sq"`
	SigmaMSq   float64 `yaml:"sigma_m_sq"`
	Thickness  int     `yaml:"thickness"`
}

// sidecarFile is the shape of the optional -c PATH YAML file.
type sidecarFile struct {
	Tuning TuningOverrides `yaml:"tuning"`
}

// Default returns the CLI defaults from spec §6.
func Default() Config {
	return Config{
		Quiet:           false,
		RTSPEnabled:     false,
		Unicast:         "",
		TestTimeSec:     30,
		DeviceIndex:     0,
		FPS:             20,
		Width:           640,
		Height:          480,
		BitrateBps:      1_000_000,
		YieldTimeUs:     1000,
		DetectorThreads: 1,
		Threshold:       0.5,
		ModelPath:       "./models/detect.tflite",
		LabelsPath:      "./models/labelmap.txt",
	}
}

// Parse builds a Config from the given CLI args (pass os.Args[1:] in
// main). An optional -c YAML sidecar is loaded after the flags are parsed;
// it sets only Tuning, which no flag defines, so it never overrides a flag.
func Parse(args []string) (Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("detector", flag.ContinueOnError)
	sidecarPath := fs.String("c", "", "optional YAML sidecar config path")
	fs.BoolVar(&cfg.Quiet, "q", cfg.Quiet, "quiet (suppress per-stage reports)")
	fs.BoolVar(&cfg.RTSPEnabled, "r", cfg.RTSPEnabled, "enable RTSP server")
	fs.StringVar(&cfg.Unicast, "u", cfg.Unicast, "RTSP unicast address (else multicast)")
	fs.IntVar(&cfg.TestTimeSec, "t", cfg.TestTimeSec, "test duration in seconds; 0 = until SIGINT")
	fs.IntVar(&cfg.DeviceIndex, "d", cfg.DeviceIndex, "camera index /dev/videoN")
	fs.Float64Var(&cfg.FPS, "f", cfg.FPS, "capture frame rate")
	fs.IntVar(&cfg.Width, "w", cfg.Width, "width (negative => h-flip)")
	fs.IntVar(&cfg.Height, "h", cfg.Height, "height (negative => v-flip)")
	fs.IntVar(&cfg.BitrateBps, "b", cfg.BitrateBps, "encoder bitrate")
	fs.IntVar(&cfg.YieldTimeUs, "y", cfg.YieldTimeUs, "yield time in microseconds")
	fs.IntVar(&cfg.DetectorThreads, "e", cfg.DetectorThreads, "detector threads")
	thresholdFlag := fs.Float64("s", float64(cfg.Threshold), "detection threshold")
	fs.StringVar(&cfg.ModelPath, "m", cfg.ModelPath, "model file")
	fs.StringVar(&cfg.LabelsPath, "l", cfg.LabelsPath, "labels file")

	fs.StringVar(&cfg.HealthAddr, "health-addr", "", "optional health/readiness HTTP listen address")
	fs.StringVar(&cfg.MQTTBroker, "mqtt-broker", "", "optional MQTT broker address for telemetry publishing")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	cfg.Threshold = float32(*thresholdFlag)

	if *sidecarPath != "" {
		overrides, err := loadSidecar(*sidecarPath)
		if err != nil {
			return Config{}, fmt.Errorf("config: loading sidecar: %w", err)
		}
		cfg.Tuning = overrides
	}

	if rest := fs.Args(); len(rest) > 0 {
		cfg.OutputPath = rest[0]
	}

	return cfg, nil
}

func loadSidecar(path string) (TuningOverrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TuningOverrides{}, fmt.Errorf("reading sidecar file: %w", err)
	}

	var sidecar sidecarFile
	if err := yaml.Unmarshal(data, &sidecar); err != nil {
		return TuningOverrides{}, fmt.Errorf("parsing sidecar yaml: %w", err)
	}

	if err := validateTuning(sidecar.Tuning); err != nil {
		return TuningOverrides{}, fmt.Errorf("invalid tuning overrides: %w", err)
	}

	return sidecar.Tuning, nil
}

func validateTuning(t TuningOverrides) error {
	if t.MaxDist < 0 {
		return fmt.Errorf("max_dist must be non-negative, got %v", t.MaxDist)
	}
	if t.Thickness < 0 {
		return fmt.Errorf("thickness must be non-negative, got %v", t.Thickness)
	}
	return nil
}
