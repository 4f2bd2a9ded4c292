package zarr

import (
	"fmt"
	"math"
)

// Number is the set of Go element types an NDArray converts to and from
type Number interface {
	int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64 | float32 | float64
}

// NDArray is a materialized region of a dataset: element bytes in C order,
// encoded with the dtype's byte order
type NDArray struct {
	dtype Dtype
	shape Shape
	data  []byte
}

// NewNDArray allocates a zero filled array
func NewNDArray(dt Dtype, shape Shape) (*NDArray, error) {
	if !dt.Numeric() {
		return nil, fmt.Errorf("unsupported element type %s", dt)
	}
	for i, d := range shape {
		if d < 0 {
			return nil, fmt.Errorf("negative extent %d on axis %d", d, i)
		}
	}
	return &NDArray{
		dtype: dt,
		shape: shape.Clone(),
		data:  make([]byte, shape.Size()*dt.ByteSize),
	}, nil
}

// FromBytes wraps raw element bytes, which must hold exactly shape.Size() elements
func FromBytes(dt Dtype, shape Shape, data []byte) (*NDArray, error) {
	a, err := NewNDArray(dt, Shape{})
	if err != nil {
		return nil, err
	}
	if want := shape.Size() * dt.ByteSize; len(data) != want {
		return nil, fmt.Errorf("%w: %d bytes for shape %s of %s, want %d", ErrShapeMismatch, len(data), shape, dt, want)
	}
	a.shape = shape.Clone()
	a.data = data
	return a, nil
}

// DtypeOf returns the little-endian dtype matching T
func DtypeOf[T Number]() Dtype {
	var z T
	switch any(z).(type) {
	case int8:
		return Int8
	case int16:
		return Int16
	case int32:
		return Int32
	case int64:
		return Int64
	case uint8:
		return Uint8
	case uint16:
		return Uint16
	case uint32:
		return Uint32
	case uint64:
		return Uint64
	case float32:
		return Float32
	default:
		return Float64
	}
}

// FromValues encodes vals as an array of the given shape
func FromValues[T Number](shape Shape, vals []T) (*NDArray, error) {
	if shape.Size() != len(vals) {
		return nil, fmt.Errorf("%w: %d values for shape %s", ErrShapeMismatch, len(vals), shape)
	}
	a, err := NewNDArray(DtypeOf[T](), shape)
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		a.put(i, v)
	}
	return a, nil
}

// Values decodes a into a Go slice. T must have the same kind and width as the
// array's dtype.
func Values[T Number](a *NDArray) ([]T, error) {
	if want := DtypeOf[T](); !sameKind(want, a.dtype) {
		return nil, fmt.Errorf("%w: array is %s, requested %s", ErrDtypeMismatch, a.dtype, want)
	}
	out := make([]T, a.Size())
	for i := range out {
		out[i] = get[T](a, i)
	}
	return out, nil
}

func sameKind(a, b Dtype) bool {
	return a.BasicType == b.BasicType && a.ByteSize == b.ByteSize
}

func (a *NDArray) Dtype() Dtype { return a.dtype }

func (a *NDArray) Shape() Shape { return a.shape.Clone() }

func (a *NDArray) Rank() int { return len(a.shape) }

func (a *NDArray) Size() int { return a.shape.Size() }

// Bytes exposes the raw element bytes without copying
func (a *NDArray) Bytes() []byte { return a.data }

// Reshape returns a view with a new shape holding the same number of elements
func (a *NDArray) Reshape(shape Shape) (*NDArray, error) {
	if shape.Size() != a.Size() {
		return nil, fmt.Errorf("%w: cannot reshape %s to %s", ErrShapeMismatch, a.shape, shape)
	}
	return &NDArray{dtype: a.dtype, shape: shape.Clone(), data: a.data}, nil
}

// Squeeze returns a view without the extent 1 axes
func (a *NDArray) Squeeze() *NDArray {
	return &NDArray{dtype: a.dtype, shape: a.shape.Squeeze(), data: a.data}
}

// Float64s converts every element to float64
func (a *NDArray) Float64s() []float64 {
	out := make([]float64, a.Size())
	for i := range out {
		out[i] = a.float64At(i)
	}
	return out
}

// At returns the element at idx as a float64
func (a *NDArray) At(idx ...int) (float64, error) {
	if len(idx) != len(a.shape) {
		return 0, fmt.Errorf("%w: index rank %d, array rank %d", ErrOutOfBounds, len(idx), len(a.shape))
	}
	off := 0
	for i, st := range a.shape.strides() {
		if idx[i] < 0 || idx[i] >= a.shape[i] {
			return 0, fmt.Errorf("%w: index %d on axis %d of %s", ErrOutOfBounds, idx[i], i, a.shape)
		}
		off += idx[i] * st
	}
	return a.float64At(off), nil
}

func (a *NDArray) float64At(i int) float64 {
	switch a.dtype.BasicType {
	case BTFloatingPoint:
		if a.dtype.ByteSize == 4 {
			return float64(get[float32](a, i))
		}
		return get[float64](a, i)
	case BTUnsigned:
		return float64(a.rawAt(i))
	default:
		switch a.dtype.ByteSize {
		case 1:
			return float64(int8(a.rawAt(i)))
		case 2:
			return float64(int16(a.rawAt(i)))
		case 4:
			return float64(int32(a.rawAt(i)))
		default:
			return float64(int64(a.rawAt(i)))
		}
	}
}

// rawAt reads element i as its unsigned bit pattern
func (a *NDArray) rawAt(i int) uint64 {
	sz := a.dtype.ByteSize
	b := a.data[i*sz : (i+1)*sz]
	bo := a.dtype.binaryOrder()
	switch sz {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(bo.Uint16(b))
	case 4:
		return uint64(bo.Uint32(b))
	default:
		return bo.Uint64(b)
	}
}

func (a *NDArray) putRaw(i int, v uint64) {
	sz := a.dtype.ByteSize
	b := a.data[i*sz : (i+1)*sz]
	bo := a.dtype.binaryOrder()
	switch sz {
	case 1:
		b[0] = byte(v)
	case 2:
		bo.PutUint16(b, uint16(v))
	case 4:
		bo.PutUint32(b, uint32(v))
	default:
		bo.PutUint64(b, v)
	}
}

func (a *NDArray) put(i int, v any) {
	switch x := v.(type) {
	case int8:
		a.putRaw(i, uint64(uint8(x)))
	case int16:
		a.putRaw(i, uint64(uint16(x)))
	case int32:
		a.putRaw(i, uint64(uint32(x)))
	case int64:
		a.putRaw(i, uint64(x))
	case uint8:
		a.putRaw(i, uint64(x))
	case uint16:
		a.putRaw(i, uint64(x))
	case uint32:
		a.putRaw(i, uint64(x))
	case uint64:
		a.putRaw(i, x)
	case float32:
		a.putRaw(i, uint64(math.Float32bits(x)))
	case float64:
		a.putRaw(i, math.Float64bits(x))
	}
}

func get[T Number](a *NDArray, i int) T {
	raw := a.rawAt(i)
	var z T
	switch any(z).(type) {
	case int8:
		return any(int8(raw)).(T)
	case int16:
		return any(int16(raw)).(T)
	case int32:
		return any(int32(raw)).(T)
	case int64:
		return any(int64(raw)).(T)
	case uint8:
		return any(uint8(raw)).(T)
	case uint16:
		return any(uint16(raw)).(T)
	case uint32:
		return any(uint32(raw)).(T)
	case uint64:
		return any(raw).(T)
	case float32:
		return any(math.Float32frombits(uint32(raw))).(T)
	default:
		return any(math.Float64frombits(raw)).(T)
	}
}
