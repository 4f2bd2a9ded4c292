package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	zarr "github.com/qri-io/zarr-lazy"
	"github.com/qri-io/zarr-lazy/acquire"
	"github.com/qri-io/zarr-lazy/convert"
	"gopkg.in/yaml.v3"
)

// Config represents a zarrlazy job file
type Config struct {
	LogLevel string         `yaml:"log_level"` // debug, info, warn, error (default: info)
	Convert  *ConvertConfig `yaml:"convert,omitempty"`
	Acquire  *AcquireConfig `yaml:"acquire,omitempty"`
}

// ConvertConfig describes a conversion job
type ConvertConfig struct {
	Sources        []string `yaml:"sources"`         // store directories or glob patterns
	Output         string   `yaml:"output"`          // output store directory
	Scheme         string   `yaml:"scheme"`          // stack1d, copy, visit
	AxisDataset    string   `yaml:"axis_dataset"`    // copied unchanged from the first source
	DatasetPattern string   `yaml:"dataset_pattern"` // regular expression over dataset paths
	FastAxis       int      `yaml:"fast_axis"`       // stack1d only, with slow_axis
	SlowAxis       int      `yaml:"slow_axis"`
	KeepAxes       int      `yaml:"keep_axes"`   // trailing axes kept whole per slice (default: 2)
	Compression    string   `yaml:"compression"` // gzip, zstd or empty
	Concurrency    int      `yaml:"concurrency"` // datasets converted at once (default: 4)
}

// AcquireConfig describes a simulated scan
type AcquireConfig struct {
	Output      string             `yaml:"output"`
	Mode        string             `yaml:"mode"` // r+, a, w, w- (default: w-)
	Steps       int                `yaml:"steps"`
	Interval    string             `yaml:"interval"` // e.g. 100ms
	Timeout     string             `yaml:"timeout"`  // empty waits for every device
	Concurrency int                `yaml:"concurrency"`
	Compression string             `yaml:"compression"`
	Detector    *DetectorConfig    `yaml:"detector,omitempty"`
	Positioners []PositionerConfig `yaml:"positioners"`

	interval time.Duration
	timeout  time.Duration
	mode     zarr.PersistenceMode
}

// DetectorConfig defines the scan's area detector
type DetectorConfig struct {
	Name string `yaml:"name"`
	Rows int    `yaml:"rows"`
	Cols int    `yaml:"cols"`
}

// PositionerConfig defines one scanned motor
type PositionerConfig struct {
	Name  string  `yaml:"name"`
	Start float64 `yaml:"start"`
	Step  float64 `yaml:"step"`
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML configuration
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Level maps log_level onto slog
func (c *Config) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Context builds the conversion job the section describes
func (c *ConvertConfig) Context() *convert.Context {
	cc := &convert.Context{
		Sources:         c.Sources,
		OutputPath:      c.Output,
		Scheme:          convert.Scheme(c.Scheme),
		AxisDatasetName: c.AxisDataset,
		DatasetPattern:  c.DatasetPattern,
		KeepAxes:        c.KeepAxes,
		Compression:     c.Compression,
		Concurrency:     c.Concurrency,
	}
	if c.FastAxis > 0 || c.SlowAxis > 0 {
		cc.Params = &convert.StackParams{FastAxis: c.FastAxis, SlowAxis: c.SlowAxis}
	}
	return cc
}

// Scan builds the acquisition the section describes
func (a *AcquireConfig) Scan() *acquire.Scan {
	s := &acquire.Scan{
		Steps:       a.Steps,
		Interval:    a.interval,
		Timeout:     a.timeout,
		Concurrency: a.Concurrency,
		Mode:        a.mode,
		Compression: a.Compression,
	}
	if d := a.Detector; d != nil {
		s.Devices = append(s.Devices, &acquire.Detector{ID: d.Name, Rows: d.Rows, Cols: d.Cols})
	}
	for _, p := range a.Positioners {
		s.Devices = append(s.Devices, &acquire.Positioner{ID: p.Name, Start: p.Start, Step: p.Step})
	}
	return s
}
