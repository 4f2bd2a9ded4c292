package acquire

import (
	"context"

	zarr "github.com/qri-io/zarr-lazy"
)

// Detector writes one rows x cols int32 frame per step to <entry>/<name>/data,
// shaped [steps, rows, cols]
type Detector struct {
	ID   string
	Rows int
	Cols int
	// Frame produces the frame of a step. Defaults to DetectorFrame.
	Frame func(step, rows, cols int) []int32
}

var _ Device = (*Detector)(nil)

func (d *Detector) Name() string { return d.ID }

func (d *Detector) Prepare(c *zarr.Coordinator, s *Scan) (func(ctx context.Context, step int) error, error) {
	ds, err := c.Create(s.path(d.ID, "data"), zarr.Int32, zarr.Shape{0, d.Rows, d.Cols}, s.datasetOptions()...)
	if err != nil {
		return nil, err
	}
	frame := d.Frame
	if frame == nil {
		frame = DetectorFrame
	}
	return func(ctx context.Context, step int) error {
		img, err := zarr.FromValues(zarr.Shape{d.Rows, d.Cols}, frame(step, d.Rows, d.Cols))
		if err != nil {
			return err
		}
		return ds.SetSlice(zarr.Slice{
			{Start: step, Stop: step + 1, Step: 1},
			{Start: 0, Stop: d.Rows, Step: 1},
			{Start: 0, Stop: d.Cols, Step: 1},
		}, img)
	}, nil
}

// DetectorFrame is a synthetic frame: a ramp offset by the step number
func DetectorFrame(step, rows, cols int) []int32 {
	vals := make([]int32, rows*cols)
	for i := range vals {
		vals[i] = int32(step*1000 + i%1000)
	}
	return vals
}

// Positioner writes its demand position for every step to <entry>/<name>/value,
// shaped [steps]
type Positioner struct {
	ID    string
	Start float64
	Step  float64
}

var _ Device = (*Positioner)(nil)

func (p *Positioner) Name() string { return p.ID }

func (p *Positioner) Prepare(c *zarr.Coordinator, s *Scan) (func(ctx context.Context, step int) error, error) {
	ds, err := c.Create(s.path(p.ID, "value"), zarr.Float64, zarr.Shape{0}, s.datasetOptions(zarr.WithChunks(256))...)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, step int) error {
		v, err := zarr.FromValues(zarr.Shape{1}, []float64{p.Position(step)})
		if err != nil {
			return err
		}
		return ds.SetSlice(zarr.Slice{{Start: step, Stop: step + 1, Step: 1}}, v)
	}, nil
}

// Position is where the positioner stands at step
func (p *Positioner) Position(step int) float64 {
	return p.Start + float64(step)*p.Step
}
