package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	zarr "github.com/qri-io/zarr-lazy"
	"github.com/qri-io/zarr-lazy/acquire"
	"github.com/qri-io/zarr-lazy/convert"
)

const jobFile = `
log_level: debug
convert:
  sources:
    - ./scans/MoKedge_1_15
    - ./scans/MoKedge_1_15
  output: ./out/stacked
  axis_dataset: /entry1/counterTimer01/Energy
  dataset_pattern: /entry1/counterTimer01/(I0|lnI0It|It)
  fast_axis: 2
  slow_axis: 1
  compression: zstd
acquire:
  output: ./out/scan
  steps: 100
  interval: 100ms
  timeout: 2m
  detector:
    name: pilatus
    rows: 1024
    cols: 1024
  positioners:
    - name: stage_x
      start: -1.5
      step: 0.01
    - name: stage_y
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.yaml")
	if err := os.WriteFile(path, []byte(jobFile), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Level() != slog.LevelDebug {
		t.Errorf("level mismatch. got: %s", cfg.Level())
	}

	cc := cfg.Convert.Context()
	if cc.Scheme != convert.SchemeStack1D {
		t.Errorf("scheme should default to %s, got: %s", convert.SchemeStack1D, cc.Scheme)
	}
	if len(cc.Sources) != 2 || cc.OutputPath != "./out/stacked" {
		t.Errorf("context mismatch. got: %+v", cc)
	}
	if cc.Params == nil || cc.Params.FastAxis != 2 || cc.Params.SlowAxis != 1 {
		t.Errorf("stack params mismatch. got: %+v", cc.Params)
	}
	if cc.Concurrency != 4 {
		t.Errorf("concurrency should default to 4, got: %d", cc.Concurrency)
	}

	scan := cfg.Acquire.Scan()
	if scan.Interval != 100*time.Millisecond || scan.Timeout != 2*time.Minute {
		t.Errorf("durations mismatch. interval: %s timeout: %s", scan.Interval, scan.Timeout)
	}
	if scan.Mode != zarr.ModeWriteFail {
		t.Errorf("mode should default to %s, got: %s", zarr.ModeWriteFail, scan.Mode)
	}
	if len(scan.Devices) != 3 {
		t.Fatalf("devices mismatch. got: %d", len(scan.Devices))
	}
	det, ok := scan.Devices[0].(*acquire.Detector)
	if !ok || det.Rows != 1024 || det.Name() != "pilatus" {
		t.Errorf("detector mismatch. got: %#v", scan.Devices[0])
	}
	x, ok := scan.Devices[1].(*acquire.Positioner)
	if !ok || x.Start != -1.5 || x.Step != 0.01 {
		t.Errorf("positioner mismatch. got: %#v", scan.Devices[1])
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error reading a missing file")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		description string
		yaml        string
		errContains string
	}{
		{"empty", `log_level: info`, "convert or acquire"},
		{"log level", "log_level: loud\nacquire: {output: o, steps: 1, positioners: [{name: x}]}", "log_level"},
		{"no sources", "convert: {output: o}", "sources"},
		{"unknown scheme", "convert: {sources: [a], output: o, scheme: tiff}", "scheme"},
		{"visit", "convert: {sources: [a], output: o, scheme: visit}", "visitor"},
		{"no output", "convert: {sources: [a]}", "output"},
		{"half stack params", "convert: {sources: [a], output: o, fast_axis: 2}", "together"},
		{"stack params on copy", "convert: {sources: [a], output: o, scheme: copy, fast_axis: 2, slow_axis: 2}", "only apply"},
		{"compression", "convert: {sources: [a], output: o, compression: blosc}", "blosc"},
		{"steps", "acquire: {output: o, positioners: [{name: x}]}", "steps"},
		{"read mode", "acquire: {output: o, steps: 1, mode: r, positioners: [{name: x}]}", "cannot write"},
		{"bad mode", "acquire: {output: o, steps: 1, mode: q, positioners: [{name: x}]}", "mode"},
		{"interval", "acquire: {output: o, steps: 1, interval: soon, positioners: [{name: x}]}", "interval"},
		{"negative timeout", "acquire: {output: o, steps: 1, timeout: -1s, positioners: [{name: x}]}", "timeout"},
		{"no devices", "acquire: {output: o, steps: 1}", "detector or at least one positioner"},
		{"detector size", "acquire: {output: o, steps: 1, detector: {name: d, rows: 0, cols: 2}}", "rows and cols"},
		{"device name", "acquire: {output: o, steps: 1, positioners: [{name: 'x/y'}]}", "must match"},
		{"duplicate", "acquire: {output: o, steps: 1, detector: {name: d, rows: 1, cols: 1}, positioners: [{name: d}]}", "duplicate"},
		{"yaml", "convert: [", "parse"},
	}
	for _, c := range cases {
		t.Run(c.description, func(t *testing.T) {
			_, err := Parse([]byte(c.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), c.errContains) {
				t.Errorf("error %q should mention %q", err, c.errContains)
			}
		})
	}
}
