package convert

import (
	"context"

	zarr "github.com/qri-io/zarr-lazy"
)

// Sink is the write side of a lazy dataset
type Sink interface {
	SetSlice(sl zarr.Slice, data *zarr.NDArray) error
}

var _ Sink = (*zarr.Dataset)(nil)

// DatasetWriter is a Visitor that writes every slice into a target dataset
type DatasetWriter struct {
	Target Sink
	// Map picks the target region for a view. nil writes to the view's own slice.
	Map func(view SliceView) zarr.Slice
}

var _ Visitor = (*DatasetWriter)(nil)

func (w *DatasetWriter) Convert(ctx context.Context, view SliceView) error {
	sl := view.Slice
	if w.Map != nil {
		sl = w.Map(view)
	}
	return w.Target.SetSlice(sl, view.Data)
}
