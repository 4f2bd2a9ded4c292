// Package acquire simulates a step scan: a set of devices, one detector and
// any number of positioners, each writing one point per step into its own
// dataset of a shared store. Every device is a producer of one cohort; the
// datasets grow along an unlimited step axis through a single coordinator.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	zarr "github.com/qri-io/zarr-lazy"
)

// ScanAttr is the dataset attribute holding the scan id
const ScanAttr = "scan_id"

// Scan describes one acquisition
type Scan struct {
	ID uuid.UUID
	// Entry is the group datasets are written below. Defaults to "entry".
	Entry    string
	Steps    int
	Interval time.Duration
	// Timeout bounds the whole scan, zero waits for every device
	Timeout time.Duration
	// Concurrency caps how many devices write at once, zero runs all of them
	Concurrency int
	Mode        zarr.PersistenceMode
	Compression string
	Devices     []Device
}

// Device is one instrument channel of a scan
type Device interface {
	Name() string
	// Prepare creates the device's datasets and returns the step function that
	// writes point step of the scan
	Prepare(c *zarr.Coordinator, s *Scan) (func(ctx context.Context, step int) error, error)
}

// Result is the outcome of a scan
type Result struct {
	ScanID uuid.UUID
	Report *zarr.CohortReport
	// Shapes holds the committed shape of every dataset when the scan ended
	Shapes map[string]zarr.Shape
}

// Run writes s into store. Device failures do not stop the other devices; they
// are reported in the result's cohort report. The error is non-nil only when
// the scan could not be set up or its metadata could not be finalized.
func Run(ctx context.Context, store zarr.Store, s *Scan, log *slog.Logger) (*Result, error) {
	if log == nil {
		log = slog.Default()
	}
	if s.Steps < 1 {
		return nil, fmt.Errorf("scan needs at least one step, got %d", s.Steps)
	}
	if len(s.Devices) == 0 {
		return nil, errors.New("scan has no devices")
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Entry == "" {
		s.Entry = "entry"
	}
	mode := s.Mode
	if mode == "" {
		mode = zarr.ModeWriteFail
	}
	log = log.With("scan", s.ID.String())

	coord := zarr.NewCoordinator(store, zarr.WithMode(mode), zarr.WithLogger(log))
	producers := make([]zarr.Producer, 0, len(s.Devices))
	for _, d := range s.Devices {
		step, err := d.Prepare(coord, s)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("preparing %s: %w", d.Name(), err), coord.Close())
		}
		producers = append(producers, &zarr.StepProducer{
			ID:       d.Name(),
			Steps:    s.Steps,
			Interval: s.Interval,
			Step:     step,
		})
	}

	log.Info("acquire: scan started", "devices", len(producers), "steps", s.Steps, "interval", s.Interval)
	opts := []zarr.CohortOption{zarr.WithCohortLogger(log)}
	if s.Timeout > 0 {
		opts = append(opts, zarr.WithTimeout(s.Timeout))
	}
	if s.Concurrency > 0 {
		opts = append(opts, zarr.WithConcurrencyLimit(s.Concurrency))
	}
	report := zarr.RunCohort(ctx, producers, opts...)

	res := &Result{ScanID: s.ID, Report: report, Shapes: map[string]zarr.Shape{}}
	for _, ds := range coord.Datasets() {
		res.Shapes[ds.Path()] = ds.Shape()
	}
	if err := coord.Close(); err != nil {
		return res, err
	}
	log.Info("acquire: scan finished", "ok", report.OK(), "elapsed", report.Elapsed)
	return res, nil
}

func (s *Scan) datasetOptions(extra ...zarr.DatasetOption) []zarr.DatasetOption {
	opts := []zarr.DatasetOption{
		zarr.WithUnlimitedAxis(0),
		zarr.WithAttribute(ScanAttr, s.ID.String()),
	}
	if s.Compression != "" {
		opts = append(opts, zarr.WithCompression(s.Compression))
	}
	return append(opts, extra...)
}

func (s *Scan) path(device, dataset string) string {
	return s.Entry + "/" + device + "/" + dataset
}
