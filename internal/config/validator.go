package config

import (
	"fmt"
	"regexp"
	"time"

	zarr "github.com/qri-io/zarr-lazy"
	"github.com/qri-io/zarr-lazy/convert"
)

var deviceNamePattern = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)

// Validate checks if the configuration is valid and fills in defaults
func Validate(cfg *Config) error {
	switch cfg.LogLevel {
	case "":
		cfg.LogLevel = "info"
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error")
	}

	if cfg.Convert == nil && cfg.Acquire == nil {
		return fmt.Errorf("a convert or acquire section is required")
	}
	if cfg.Convert != nil {
		if err := ValidateConvert(cfg.Convert); err != nil {
			return fmt.Errorf("convert: %w", err)
		}
	}
	if cfg.Acquire != nil {
		if err := ValidateAcquire(cfg.Acquire); err != nil {
			return fmt.Errorf("acquire: %w", err)
		}
	}
	return nil
}

// ValidateConvert validates a conversion section
func ValidateConvert(c *ConvertConfig) error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("sources is required")
	}
	if c.Scheme == "" {
		c.Scheme = string(convert.SchemeStack1D)
	}
	scheme, err := convert.ParseScheme(c.Scheme)
	if err != nil {
		return err
	}
	if scheme == convert.SchemeVisit {
		return fmt.Errorf("scheme %s needs a visitor and cannot run from a config file", scheme)
	}
	if c.Output == "" {
		return fmt.Errorf("output is required")
	}
	if (c.FastAxis > 0) != (c.SlowAxis > 0) {
		return fmt.Errorf("fast_axis and slow_axis must be set together")
	}
	if c.FastAxis > 0 && scheme != convert.SchemeStack1D {
		return fmt.Errorf("fast_axis and slow_axis only apply to %s", convert.SchemeStack1D)
	}
	if c.KeepAxes < 0 || c.Concurrency < 0 {
		return fmt.Errorf("keep_axes and concurrency must be >= 0")
	}
	if c.Concurrency == 0 {
		c.Concurrency = 4
	}
	return validateCompression(c.Compression)
}

// ValidateAcquire validates a scan section and parses its durations
func ValidateAcquire(a *AcquireConfig) error {
	if a.Output == "" {
		return fmt.Errorf("output is required")
	}
	if a.Steps <= 0 {
		return fmt.Errorf("steps must be > 0")
	}

	if a.Mode == "" {
		a.Mode = string(zarr.ModeWriteFail)
	}
	mode, err := zarr.ParsePersistenceMode(a.Mode)
	if err != nil {
		return err
	}
	if mode == zarr.ModeRead {
		return fmt.Errorf("mode %q cannot write a scan", a.Mode)
	}
	a.mode = mode

	if a.interval, err = parseDuration("interval", a.Interval); err != nil {
		return err
	}
	if a.timeout, err = parseDuration("timeout", a.Timeout); err != nil {
		return err
	}

	if a.Detector == nil && len(a.Positioners) == 0 {
		return fmt.Errorf("a detector or at least one positioner is required")
	}
	seen := map[string]bool{}
	if d := a.Detector; d != nil {
		if !deviceNamePattern.MatchString(d.Name) {
			return fmt.Errorf("detector name %q must match [A-Za-z0-9_-]+", d.Name)
		}
		if d.Rows <= 0 || d.Cols <= 0 {
			return fmt.Errorf("detector %s: rows and cols must be > 0", d.Name)
		}
		seen[d.Name] = true
	}
	for _, p := range a.Positioners {
		if !deviceNamePattern.MatchString(p.Name) {
			return fmt.Errorf("positioner name %q must match [A-Za-z0-9_-]+", p.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate device name %q", p.Name)
		}
		seen[p.Name] = true
	}
	return validateCompression(a.Compression)
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", field)
	}
	return d, nil
}

func validateCompression(id string) error {
	if id == "" {
		return nil
	}
	_, err := zarr.NewCompressionMeta(id)
	return err
}
