// Package convert drives lazy datasets through per-slice visitors: a Driver
// walks a dataset one slice at a time, keeping some trailing axes whole, and
// a Service runs whole conversion jobs (stacking, copying, visiting) over the
// datasets of one or more stores.
package convert

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	zarr "github.com/qri-io/zarr-lazy"
)

// Source is the read side of a lazy dataset
type Source interface {
	Name() string
	Shape() zarr.Shape
	GetSlice(sl zarr.Slice) (*zarr.NDArray, error)
}

var _ Source = (*zarr.Dataset)(nil)

// SliceView is one step of a conversion
type SliceView struct {
	// Dataset is the name of the source dataset
	Dataset string
	// Index counts iterations from 0
	Index int
	// Position is the iterator position the slice was built from
	Position []int
	Slice    zarr.Slice
	CutAxes  []int
	// Data holds the slice, squeezed unless the driver was told otherwise
	Data *zarr.NDArray
}

// Suffix names the slice by its iterated axes, "_2_0" for position [2,0,:,:].
// It is empty when every axis is cut.
func (v SliceView) Suffix() string {
	cut := make(map[int]bool, len(v.CutAxes))
	for _, ax := range v.CutAxes {
		cut[ax] = true
	}
	var sb strings.Builder
	for i, r := range v.Slice {
		if cut[i] {
			continue
		}
		sb.WriteByte('_')
		sb.WriteString(r.String())
	}
	return sb.String()
}

// Visitor consumes the slices of a conversion, typically encoding them into
// some target representation
type Visitor interface {
	Convert(ctx context.Context, view SliceView) error
}

// VisitorFunc adapts a function to the Visitor interface
type VisitorFunc func(ctx context.Context, view SliceView) error

func (f VisitorFunc) Convert(ctx context.Context, view SliceView) error { return f(ctx, view) }

// Monitor receives progress. Drivers running concurrently share a monitor, so
// implementations must be safe for concurrent use.
type Monitor interface {
	// Worked reports n completed units, one per slice
	Worked(n int)
	// SubTask names the slice just completed
	SubTask(name string)
}

// Outcome is how a conversion ended without error
type Outcome int

const (
	Completed Outcome = iota
	Cancelled
)

func (o Outcome) String() string {
	if o == Cancelled {
		return "cancelled"
	}
	return "completed"
}

// Result summarizes one driver run
type Result struct {
	Outcome    Outcome
	Iterations int
	Total      int
}

// Driver walks a source slice by slice
type Driver struct {
	monitor Monitor
	log     *slog.Logger
	squeeze bool
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithMonitor reports progress to m.
func WithMonitor(m Monitor) DriverOption {
	return func(d *Driver) {
		d.monitor = m
	}
}

// WithDriverLogger sets the driver's logger.
func WithDriverLogger(l *slog.Logger) DriverOption {
	return func(d *Driver) {
		if l != nil {
			d.log = l
		}
	}
}

// WithoutSqueeze hands visitors slices with the iterated axes still present as
// extent 1 axes.
func WithoutSqueeze() DriverOption {
	return func(d *Driver) {
		d.squeeze = false
	}
}

func NewDriver(opts ...DriverOption) *Driver {
	d := &Driver{
		log:     slog.Default(),
		squeeze: true,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// KeepLast returns the cut axes that keep the trailing n axes of a rank
// dimensional dataset whole: 1 for rows, 2 for images.
func KeepLast(rank, n int) []int {
	if n > rank {
		n = rank
	}
	axes := make([]int, 0, n)
	for i := rank - n; i < rank; i++ {
		axes = append(axes, i)
	}
	return axes
}

// Run hands v one slice of src per position of the non-cut axes, in C order.
// ctx is checked before each slice; cancellation ends the run with a Cancelled
// outcome and a nil error. A failing read or visitor aborts the remaining
// slices and the error is returned.
func (d *Driver) Run(ctx context.Context, src Source, cutAxes []int, v Visitor) (Result, error) {
	shape := src.Shape()
	it := zarr.NewPositionIterator(shape, cutAxes...)
	res := Result{Total: it.Count()}
	if shape.Size() == 0 {
		d.log.Debug("convert: empty dataset, nothing to do", "dataset", src.Name(), "shape", shape.String())
		res.Total = 0
		return res, nil
	}

	for it.Next() {
		if err := ctx.Err(); err != nil {
			res.Outcome = Cancelled
			d.log.Info("convert: cancelled", "dataset", src.Name(), "done", res.Iterations, "total", res.Total)
			return res, nil
		}

		pos := append([]int(nil), it.Pos()...)
		sl := zarr.SliceFor(shape, cutAxes, pos)
		data, err := src.GetSlice(sl)
		if err != nil {
			return res, fmt.Errorf("reading %s%s: %w", src.Name(), sl, err)
		}
		if d.squeeze {
			data = data.Squeeze()
		}

		view := SliceView{
			Dataset:  src.Name(),
			Index:    res.Iterations,
			Position: pos,
			Slice:    sl,
			CutAxes:  cutAxes,
			Data:     data,
		}
		if err := v.Convert(ctx, view); err != nil {
			return res, fmt.Errorf("converting %s%s: %w", src.Name(), sl, err)
		}

		res.Iterations++
		if d.monitor != nil {
			d.monitor.Worked(1)
			d.monitor.SubTask(src.Name() + view.Suffix())
		}
	}
	return res, nil
}
