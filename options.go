package zarr

import "log/slog"

// DatasetOption configures dataset creation options.
type DatasetOption func(*datasetOptions)

type datasetOptions struct {
	chunks     Shape
	maxShape   Shape
	unlimited  int
	compressor string
	fillValue  interface{}
	separator  string
	attributes Attributes
}

func defaultDatasetOptions() *datasetOptions {
	return &datasetOptions{
		unlimited: -1,
	}
}

// WithChunks sets the chunk dimensions. Defaults to the whole extent of every
// fixed axis and a step count along the unlimited axis sized for small frames.
func WithChunks(dims ...int) DatasetOption {
	return func(o *datasetOptions) {
		o.chunks = dims
	}
}

// WithMaxShape sets the maximum dimensions of the dataset.
// Use Unlimited for the one axis that may grow.
func WithMaxShape(dims ...int) DatasetOption {
	return func(o *datasetOptions) {
		o.maxShape = dims
	}
}

// WithUnlimitedAxis marks axis as growable, leaving all others fixed
func WithUnlimitedAxis(axis int) DatasetOption {
	return func(o *datasetOptions) {
		o.unlimited = axis
	}
}

// WithCompression compresses chunks with the named codec, "gzip" or "zstd".
func WithCompression(id string) DatasetOption {
	return func(o *datasetOptions) {
		o.compressor = id
	}
}

// WithFillValue sets the value unwritten regions read as.
func WithFillValue(v float64) DatasetOption {
	return func(o *datasetOptions) {
		o.fillValue = v
	}
}

// WithDimensionSeparator sets the separator between chunk key indices, "." or "/".
func WithDimensionSeparator(sep string) DatasetOption {
	return func(o *datasetOptions) {
		o.separator = sep
	}
}

// WithAttribute adds a user attribute, stored as .zattrs next to the array.
// Multiple WithAttribute options can be used to add multiple attributes.
func WithAttribute(name string, value interface{}) DatasetOption {
	return func(o *datasetOptions) {
		if o.attributes == nil {
			o.attributes = Attributes{}
		}
		o.attributes[name] = value
	}
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithMode sets how Create treats arrays that already exist. Defaults to
// ModeWriteFail.
func WithMode(mode PersistenceMode) CoordinatorOption {
	return func(c *Coordinator) {
		c.mode = mode
	}
}

// WithLogger sets the logger for the coordinator and its datasets.
func WithLogger(l *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}
