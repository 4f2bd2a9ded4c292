package zarr

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
)

// State is the lifecycle stage of a Dataset
type State int32

const (
	StateUninitialized State = iota
	StateInitialized
	StateExtending
	StateExtended
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateExtending:
		return "extending"
	case StateExtended:
		return "extended"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Dataset is a lazy handle to an array in a Store. It holds no element data;
// GetSlice materializes a region and SetSlice writes one.
//
// The shape is fixed at creation except for at most one unlimited axis. Along
// that axis a dataset tracks two extents: allocated, advanced by Extend under
// an exclusive lock, and committed, the highest stop of any finished write.
// Shape and GetSlice only ever see the committed extent.
type Dataset struct {
	path      Path
	store     Store
	meta      ArrayMeta // Shape is not read after creation, see fixed
	fixed     Shape     // creation shape, the unlimited axis holds its initial extent
	unlimited int
	writable  bool
	log       *slog.Logger

	state     atomic.Int32
	allocated atomic.Int64
	committed atomic.Int64

	extendMu   sync.Mutex
	persistMu  sync.Mutex
	writeMu    sync.RWMutex // held shared by SetSlice, exclusively by Close
	persisted  int64
	chunkLocks lockStripe
}

// Open returns a read only handle to the array at path. The committed shape is
// read once; call Refresh to observe later commits.
func Open(store Store, path string) (*Dataset, error) {
	p, err := NewPath(path)
	if err != nil {
		return nil, err
	}
	meta, err := readArrayMeta(store, p)
	if err != nil {
		return nil, err
	}
	return newDataset(store, p, meta, false, slog.Default()), nil
}

func readArrayMeta(store Store, p Path) (*ArrayMeta, error) {
	f, err := store.Get(p.Key(string(MTArray)))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	meta := &ArrayMeta{}
	if err := json.NewDecoder(f).Decode(meta); err != nil {
		return nil, fmt.Errorf("reading %s metadata: %w", p, err)
	}
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("array %q: %w", p, err)
	}
	return meta, nil
}

func newDataset(store Store, p Path, meta *ArrayMeta, writable bool, log *slog.Logger) *Dataset {
	d := &Dataset{
		path:      p,
		store:     store,
		meta:      *meta,
		fixed:     meta.Shape.Clone(),
		unlimited: meta.UnlimitedAxis(),
		writable:  writable,
		log:       log,
	}
	if d.unlimited >= 0 {
		ext := int64(d.fixed[d.unlimited])
		d.allocated.Store(ext)
		d.committed.Store(ext)
		d.persisted = ext
	}
	d.state.Store(int32(StateInitialized))
	return d
}

// Name is the last element of the dataset path
func (d *Dataset) Name() string { return d.path.Name() }

// Path is the location of the dataset within its store
func (d *Dataset) Path() string { return d.path.String() }

func (d *Dataset) Rank() int { return len(d.fixed) }

func (d *Dataset) Dtype() Dtype { return d.meta.Dtype }

// Chunks is the chunk shape of the dataset
func (d *Dataset) Chunks() Shape { return d.meta.Chunks.Clone() }

// UnlimitedAxis is the index of the growable axis, or -1
func (d *Dataset) UnlimitedAxis() int { return d.unlimited }

func (d *Dataset) State() State { return State(d.state.Load()) }

// Writable reports whether the handle accepts SetSlice
func (d *Dataset) Writable() bool { return d.writable }

// Shape returns the current shape. The unlimited axis reports the committed
// extent, never space that has only been allocated. The committed extent is the
// highest stop of any finished write, so while a write to a lower region is
// still in flight that region is inside Shape and reads as the fill value.
func (d *Dataset) Shape() Shape {
	s := d.fixed.Clone()
	if d.unlimited >= 0 {
		s[d.unlimited] = int(d.committed.Load())
	}
	return s
}

// MaxShape returns the bounds writes are checked against, Unlimited on the
// growable axis
func (d *Dataset) MaxShape() Shape {
	s := d.fixed.Clone()
	if d.unlimited >= 0 {
		s[d.unlimited] = Unlimited
	}
	return s
}

// Attributes reads the user attributes stored alongside the dataset
func (d *Dataset) Attributes() (Attributes, error) {
	f, err := d.store.Get(d.path.Key(string(MTAttributes)))
	if errors.Is(err, ErrNotfound) {
		return Attributes{}, nil
	} else if err != nil {
		return nil, err
	}
	defer f.Close()

	attrs := Attributes{}
	if err := json.NewDecoder(f).Decode(&attrs); err != nil {
		return nil, fmt.Errorf("reading %s attributes: %w", d.path, err)
	}
	return attrs, nil
}

// Refresh rereads the committed extent of a read only handle from the store
func (d *Dataset) Refresh() error {
	if d.writable {
		return nil
	}
	meta, err := readArrayMeta(d.store, d.path)
	if err != nil {
		return err
	}
	if d.unlimited >= 0 && len(meta.Shape) == len(d.fixed) {
		ext := int64(meta.Shape[d.unlimited])
		for {
			cur := d.committed.Load()
			if ext <= cur || d.committed.CompareAndSwap(cur, ext) {
				break
			}
		}
	}
	return nil
}

// GetSlice materializes the region sl selects. Reading past the committed
// extent of the unlimited axis fails with ErrOutOfBounds.
func (d *Dataset) GetSlice(sl Slice) (*NDArray, error) {
	if err := sl.Validate(d.Shape()); err != nil {
		return nil, fmt.Errorf("reading %s: %w", d.path, err)
	}

	out, err := NewNDArray(d.meta.Dtype, sl.Extent())
	if err != nil {
		return nil, err
	}
	for _, p := range projectChunks(sl, d.meta.Chunks) {
		raw, err := d.readChunk(p.ChunkCoords)
		if err != nil {
			return nil, fmt.Errorf("reading %s chunk %v: %w", d.path, p.ChunkCoords, err)
		}
		transfer(getOp, raw, d.meta.Chunks, out, p)
	}
	return out, nil
}

// ReadAll materializes the whole committed dataset
func (d *Dataset) ReadAll() (*NDArray, error) {
	shape := d.Shape()
	if shape.Size() == 0 {
		return NewNDArray(d.meta.Dtype, shape)
	}
	return d.GetSlice(FullSlice(shape))
}

func (d *Dataset) chunkKey(coords []int) string {
	return d.path.Key(chunkKey(coords, d.meta.separator()))
}

func (d *Dataset) chunkBytes() int {
	return d.meta.Chunks.Size() * d.meta.Dtype.ByteSize
}

// readChunk returns the raw bytes of a chunk, filled with the fill value when
// the chunk has never been written
func (d *Dataset) readChunk(coords []int) ([]byte, error) {
	rc, err := d.store.Get(d.chunkKey(coords))
	if errors.Is(err, ErrNotfound) {
		return d.emptyChunk(), nil
	} else if err != nil {
		return nil, err
	}
	return decodeChunk(d.meta.Compressor, rc, d.chunkBytes())
}

func (d *Dataset) emptyChunk() []byte {
	raw := make([]byte, d.chunkBytes())
	fill := d.meta.fill()
	if fill == 0 && !math.Signbit(fill) {
		return raw
	}

	one, _ := NewNDArray(d.meta.Dtype, Shape{1})
	switch d.meta.Dtype.BasicType {
	case BTFloatingPoint:
		if d.meta.Dtype.ByteSize == 4 {
			one.putRaw(0, uint64(math.Float32bits(float32(fill))))
		} else {
			one.putRaw(0, math.Float64bits(fill))
		}
	default:
		one.putRaw(0, uint64(int64(fill)))
	}
	for i := 0; i < len(raw); i += len(one.data) {
		copy(raw[i:], one.data)
	}
	return raw
}
