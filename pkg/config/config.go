// Package config provides configuration management for PulseGate.
// It loads configuration from YAML or TOML files with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds all PulseGate configuration.
type Config struct {
	Source   SourceConfig   `yaml:"source" toml:"source"`
	Sampling SamplingConfig `yaml:"sampling" toml:"sampling"`
	Detector DetectorConfig `yaml:"detector" toml:"detector"`
	Spoof    SpoofConfig    `yaml:"spoof" toml:"spoof"`
	Analysis AnalysisConfig `yaml:"analysis" toml:"analysis"`
	Gate     GateConfig     `yaml:"gate" toml:"gate"`
	Capture  CaptureConfig  `yaml:"capture" toml:"capture"`
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
}

// SourceConfig describes the live frame stream handed to the pipeline.
type SourceConfig struct {
	Input        string  `yaml:"input" toml:"input"` // "-" reads an MJPEG stream from stdin
	FPS          float64 `yaml:"fps" toml:"fps"`
	StaleAfterMS int     `yaml:"stale_after_ms" toml:"stale_after_ms"` // no frame for this long disables capture
}

// Fraction is a rectangle expressed as fractions of a reference box.
type Fraction struct {
	X float64 `yaml:"x" toml:"x"`
	Y float64 `yaml:"y" toml:"y"`
	W float64 `yaml:"w" toml:"w"`
	H float64 `yaml:"h" toml:"h"`
}

// SamplingConfig holds region selection and sample buffer settings.
type SamplingConfig struct {
	BufferSize   int      `yaml:"buffer_size" toml:"buffer_size"`
	BufferWindow float64  `yaml:"buffer_window" toml:"buffer_window"` // seconds, 0 disables
	DetectEvery  int      `yaml:"detect_every" toml:"detect_every"`
	FaceBand     Fraction `yaml:"face_band" toml:"face_band"`
	Fallback     Fraction `yaml:"fallback" toml:"fallback"`
}

// DetectorConfig selects the optional face detector backend.
type DetectorConfig struct {
	Backend    string  `yaml:"backend" toml:"backend"` // none, pigo, dlib
	ModelPath  string  `yaml:"model_path" toml:"model_path"`
	MinQuality float64 `yaml:"min_quality" toml:"min_quality"`
}

// SpoofConfig holds the static-frame detector thresholds.
type SpoofConfig struct {
	GridSize      int     `yaml:"grid_size" toml:"grid_size"`
	DiffThreshold float64 `yaml:"diff_threshold" toml:"diff_threshold"`
	StaticFrames  int     `yaml:"static_frames" toml:"static_frames"`
	IntervalMS    int     `yaml:"interval_ms" toml:"interval_ms"`
}

// AnalysisConfig holds pulse estimator settings.
type AnalysisConfig struct {
	Estimator        string  `yaml:"estimator" toml:"estimator"` // dft, pos
	MinSamples       int     `yaml:"min_samples" toml:"min_samples"`
	MinHz            float64 `yaml:"min_hz" toml:"min_hz"`
	MaxHz            float64 `yaml:"max_hz" toml:"max_hz"`
	LowPassHz        float64 `yaml:"low_pass_hz" toml:"low_pass_hz"`
	PosWindow        int     `yaml:"pos_window" toml:"pos_window"`
	PosCutoffRatio   float64 `yaml:"pos_cutoff_ratio" toml:"pos_cutoff_ratio"`
	RespirationMinHz float64 `yaml:"respiration_min_hz" toml:"respiration_min_hz"`
	RespirationMaxHz float64 `yaml:"respiration_max_hz" toml:"respiration_max_hz"`
	OxygenLowPassHz  float64 `yaml:"oxygen_low_pass_hz" toml:"oxygen_low_pass_hz"`
	OxygenOrder      int     `yaml:"oxygen_order" toml:"oxygen_order"` // 0 disables the forecast
	MinMagnitude     float64 `yaml:"min_magnitude" toml:"min_magnitude"`
	IntervalMS       int     `yaml:"interval_ms" toml:"interval_ms"`
}

// GateConfig holds the decision gate bounds.
type GateConfig struct {
	MinBPM          float64 `yaml:"min_bpm" toml:"min_bpm"`
	MaxBPM          float64 `yaml:"max_bpm" toml:"max_bpm"`
	NoSignalTimeout int     `yaml:"no_signal_timeout" toml:"no_signal_timeout"` // seconds
}

// CaptureConfig holds settings for captured stills.
type CaptureConfig struct {
	DataDir           string `yaml:"data_dir" toml:"data_dir"`
	EncryptionEnabled bool   `yaml:"encryption_enabled" toml:"encryption_enabled"`
	JPEGQuality       int    `yaml:"jpeg_quality" toml:"jpeg_quality"`
}

// ServerConfig holds the host API listener settings.
type ServerConfig struct {
	Listen string `yaml:"listen" toml:"listen"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level" toml:"level"`
	File  string `yaml:"file" toml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Source: SourceConfig{
			Input:        "-",
			FPS:          30,
			StaleAfterMS: 1000,
		},
		Sampling: SamplingConfig{
			BufferSize:   300,
			BufferWindow: 10,
			DetectEvery:  5,
			FaceBand:     Fraction{X: 0.25, Y: 0.15, W: 0.5, H: 0.2},
			Fallback:     Fraction{X: 0.3, Y: 0.3, W: 0.4, H: 0.4},
		},
		Detector: DetectorConfig{
			Backend:    "none",
			ModelPath:  filepath.Join(homeDir, ".local/share/pulsegate/models"),
			MinQuality: 5.0,
		},
		Spoof: SpoofConfig{
			GridSize:      32,
			DiffThreshold: 5,
			StaticFrames:  3,
			IntervalMS:    700,
		},
		Analysis: AnalysisConfig{
			Estimator:        "dft",
			MinSamples:       150,
			MinHz:            0.75,
			MaxHz:            3.0,
			LowPassHz:        4.0,
			PosWindow:        64,
			PosCutoffRatio:   2.0 / 12.0,
			RespirationMinHz: 0.2,
			RespirationMaxHz: 0.5,
			OxygenLowPassHz:  5.5,
			OxygenOrder:      9,
			MinMagnitude:     0,
			IntervalMS:       250,
		},
		Gate: GateConfig{
			MinBPM:          45,
			MaxBPM:          180,
			NoSignalTimeout: 10,
		},
		Capture: CaptureConfig{
			DataDir:           filepath.Join(homeDir, ".local/share/pulsegate"),
			EncryptionEnabled: true,
			JPEGQuality:       95,
		},
		Server: ServerConfig{
			Listen: "127.0.0.1:8780",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(homeDir, ".local/share/pulsegate/pulsegate.log"),
		},
	}
}

// Load loads configuration from the specified file. The decoder is chosen by
// extension: .toml files use TOML, everything else YAML.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, config)
	default:
		err = yaml.Unmarshal(data, config)
	}
	if err != nil {
		return config, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return config, nil
}

// LoadDefault tries to load configuration from default locations.
func LoadDefault() (*Config, error) {
	for _, name := range []string{"pulsegate.yaml", "pulsegate.toml"} {
		path := filepath.Join("/etc/pulsegate", name)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfig(), nil
	}

	for _, name := range []string{"pulsegate.yaml", "pulsegate.toml"} {
		path := filepath.Join(homeDir, ".config/pulsegate", name)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	return DefaultConfig(), nil
}

// ExpandPath expands ~ and environment variables in a path.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Source.FPS <= 0 {
		return fmt.Errorf("invalid source fps: %g", c.Source.FPS)
	}
	if c.Source.StaleAfterMS < c.Analysis.IntervalMS {
		return fmt.Errorf("stale_after_ms must be at least the analysis interval, got %d", c.Source.StaleAfterMS)
	}

	if c.Sampling.BufferSize < c.Analysis.MinSamples {
		return fmt.Errorf("buffer_size (%d) must be at least min_samples (%d)", c.Sampling.BufferSize, c.Analysis.MinSamples)
	}
	if c.Sampling.BufferWindow < 0 {
		return fmt.Errorf("buffer_window must not be negative, got %g", c.Sampling.BufferWindow)
	}
	if c.Sampling.DetectEvery <= 0 {
		return fmt.Errorf("detect_every must be positive, got %d", c.Sampling.DetectEvery)
	}
	if err := c.Sampling.FaceBand.validate("face_band"); err != nil {
		return err
	}
	if err := c.Sampling.Fallback.validate("fallback"); err != nil {
		return err
	}

	validBackends := map[string]bool{"none": true, "pigo": true, "dlib": true}
	if !validBackends[c.Detector.Backend] {
		return fmt.Errorf("invalid detector backend: %s (must be none, pigo, or dlib)", c.Detector.Backend)
	}

	if c.Spoof.GridSize <= 0 {
		return fmt.Errorf("spoof grid_size must be positive, got %d", c.Spoof.GridSize)
	}
	if c.Spoof.DiffThreshold < 0 || c.Spoof.DiffThreshold > 765 {
		return fmt.Errorf("diff_threshold must be between 0 and 765, got %g", c.Spoof.DiffThreshold)
	}
	if c.Spoof.StaticFrames <= 0 {
		return fmt.Errorf("static_frames must be positive, got %d", c.Spoof.StaticFrames)
	}
	if c.Spoof.IntervalMS < 0 {
		return fmt.Errorf("spoof interval_ms must not be negative, got %d", c.Spoof.IntervalMS)
	}

	validEstimators := map[string]bool{"dft": true, "pos": true}
	if !validEstimators[c.Analysis.Estimator] {
		return fmt.Errorf("invalid estimator: %s (must be dft or pos)", c.Analysis.Estimator)
	}
	if c.Analysis.MinSamples < 2 {
		return fmt.Errorf("min_samples must be at least 2, got %d", c.Analysis.MinSamples)
	}
	if c.Analysis.MinHz <= 0 || c.Analysis.MaxHz <= c.Analysis.MinHz {
		return fmt.Errorf("invalid frequency band [%g, %g] Hz", c.Analysis.MinHz, c.Analysis.MaxHz)
	}
	if c.Analysis.Estimator == "pos" && (c.Analysis.PosWindow < 2 || c.Analysis.PosWindow > c.Sampling.BufferSize) {
		return fmt.Errorf("pos_window must be between 2 and buffer_size, got %d", c.Analysis.PosWindow)
	}
	if c.Analysis.PosCutoffRatio <= 0 || c.Analysis.PosCutoffRatio >= 0.5 {
		return fmt.Errorf("pos_cutoff_ratio must be between 0 and 0.5, got %g", c.Analysis.PosCutoffRatio)
	}
	if c.Analysis.OxygenOrder < 0 || c.Analysis.OxygenLowPassHz < 0 {
		return fmt.Errorf("invalid oxygen forecast settings: order %d, cutoff %g Hz", c.Analysis.OxygenOrder, c.Analysis.OxygenLowPassHz)
	}
	if c.Analysis.IntervalMS <= 0 {
		return fmt.Errorf("analysis interval_ms must be positive, got %d", c.Analysis.IntervalMS)
	}

	if c.Gate.MinBPM <= 0 || c.Gate.MaxBPM <= c.Gate.MinBPM {
		return fmt.Errorf("invalid bpm range [%g, %g]", c.Gate.MinBPM, c.Gate.MaxBPM)
	}
	if c.Gate.NoSignalTimeout <= 0 {
		return fmt.Errorf("no_signal_timeout must be positive, got %d", c.Gate.NoSignalTimeout)
	}

	if c.Capture.JPEGQuality < 1 || c.Capture.JPEGQuality > 100 {
		return fmt.Errorf("jpeg_quality must be between 1 and 100, got %d", c.Capture.JPEGQuality)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

func (f Fraction) validate(name string) error {
	if f.X < 0 || f.Y < 0 || f.W <= 0 || f.H <= 0 || f.X+f.W > 1 || f.Y+f.H > 1 {
		return fmt.Errorf("%s must lie within the unit square, got %+v", name, f)
	}
	return nil
}

// ExpandPaths expands all paths in the configuration.
func (c *Config) ExpandPaths() {
	if c.Source.Input != "-" {
		c.Source.Input = ExpandPath(c.Source.Input)
	}
	c.Detector.ModelPath = ExpandPath(c.Detector.ModelPath)
	c.Capture.DataDir = ExpandPath(c.Capture.DataDir)
	c.Logging.File = ExpandPath(c.Logging.File)
}

// EnsureDirectories creates the capture and log directories.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.CapturesDir(), 0700); err != nil {
		return fmt.Errorf("failed to create captures directory: %w", err)
	}

	if c.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(c.Logging.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	return nil
}

// CapturesDir returns the directory holding sealed capture records.
func (c *Config) CapturesDir() string {
	return filepath.Join(c.Capture.DataDir, "captures")
}
