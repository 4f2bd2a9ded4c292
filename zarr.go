// Package zarr implements lazy N-dimensional datasets on top of zarr v2 stores.
//
// A Dataset never holds its elements in memory. Regions are read with GetSlice
// and written with SetSlice, chunk by chunk, against a Store. One axis of a
// dataset may be unlimited, growing as data is appended; several producers can
// append to the same datasets concurrently through a Coordinator, which
// serializes growth of the unlimited axis while writes to different chunks run
// in parallel. PositionIterator and SliceFor enumerate a dataset as a sequence
// of slices that keep some axes whole.
package zarr

const (
	// Version is the current version of this library.
	Version = "0.1.0"
)
