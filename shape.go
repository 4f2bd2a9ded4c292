package zarr

import (
	"fmt"
	"strconv"
	"strings"
)

// Unlimited marks the one axis of a max shape that may grow after creation
const Unlimited = -1

// Shape is the extent of each dimension of an array
type Shape []int

// Rank is the number of dimensions
func (s Shape) Rank() int { return len(s) }

// Size is the number of elements. A rank 0 shape holds a single element.
func (s Shape) Size() int {
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

// Equal compares extents dimension by dimension
func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// Squeeze drops every axis with extent 1, keeping the order of the rest
func (s Shape) Squeeze() Shape {
	sq := make(Shape, 0, len(s))
	for _, d := range s {
		if d != 1 {
			sq = append(sq, d)
		}
	}
	return sq
}

// Clone returns a copy that doesn't share backing memory with s
func (s Shape) Clone() Shape {
	if s == nil {
		return nil
	}
	c := make(Shape, len(s))
	copy(c, s)
	return c
}

func (s Shape) String() string {
	strs := make([]string, len(s))
	for i, d := range s {
		if d == Unlimited {
			strs[i] = "unlimited"
			continue
		}
		strs[i] = strconv.Itoa(d)
	}
	return "[" + strings.Join(strs, ",") + "]"
}

// strides returns the C order element strides of s
func (s Shape) strides() []int {
	st := make([]int, len(s))
	acc := 1
	for i := len(s) - 1; i >= 0; i-- {
		st[i] = acc
		acc *= s[i]
	}
	return st
}

// Range selects Start, Start+Step, ... up to but not including Stop along one axis
type Range struct {
	Start int
	Stop  int
	Step  int
}

// Len is the number of indices the range selects
func (r Range) Len() int {
	step := r.Step
	if step < 1 {
		step = 1
	}
	if r.Stop <= r.Start {
		return 0
	}
	return (r.Stop - r.Start + step - 1) / step
}

// Last is the final index the range selects
func (r Range) Last() int {
	return r.Start + (r.Len()-1)*r.Step
}

func (r Range) String() string {
	switch {
	case r.Stop == r.Start+1:
		return strconv.Itoa(r.Start)
	case r.Step == 1:
		return fmt.Sprintf("%d:%d", r.Start, r.Stop)
	default:
		return fmt.Sprintf("%d:%d:%d", r.Start, r.Stop, r.Step)
	}
}

// Slice is a hyper-rectangular region, one Range per dimension
type Slice []Range

// FullSlice selects all of shape
func FullSlice(shape Shape) Slice {
	sl := make(Slice, len(shape))
	for i, d := range shape {
		sl[i] = Range{Start: 0, Stop: d, Step: 1}
	}
	return sl
}

// SliceFor converts a position into the region read or written for it: cut axes are
// taken whole, every other axis is the single index at pos.
func SliceFor(shape Shape, cutAxes []int, pos []int) Slice {
	sl := make(Slice, len(shape))
	for i := range shape {
		sl[i] = Range{Start: pos[i], Stop: pos[i] + 1, Step: 1}
	}
	for _, ax := range cutAxes {
		if ax >= 0 && ax < len(shape) {
			sl[ax] = Range{Start: 0, Stop: shape[ax], Step: 1}
		}
	}
	return sl
}

// Extent is the per axis element count of the region
func (sl Slice) Extent() Shape {
	ext := make(Shape, len(sl))
	for i, r := range sl {
		ext[i] = r.Len()
	}
	return ext
}

// Validate checks sl against bounds. A bounds entry of Unlimited places no
// upper limit on that axis.
func (sl Slice) Validate(bounds Shape) error {
	if len(sl) != len(bounds) {
		return fmt.Errorf("%w: slice rank %d, shape rank %d", ErrOutOfBounds, len(sl), len(bounds))
	}
	for i, r := range sl {
		if r.Step < 1 {
			return fmt.Errorf("%w: axis %d step %d", ErrOutOfBounds, i, r.Step)
		}
		if r.Start < 0 || r.Start >= r.Stop {
			return fmt.Errorf("%w: axis %d range %d:%d", ErrOutOfBounds, i, r.Start, r.Stop)
		}
		if bounds[i] != Unlimited && r.Stop > bounds[i] {
			return fmt.Errorf("%w: axis %d stop %d exceeds extent %d", ErrOutOfBounds, i, r.Stop, bounds[i])
		}
	}
	return nil
}

// Clone returns a copy that doesn't share backing memory with sl
func (sl Slice) Clone() Slice {
	c := make(Slice, len(sl))
	copy(c, sl)
	return c
}

func (sl Slice) String() string {
	strs := make([]string, len(sl))
	for i, r := range sl {
		strs[i] = r.String()
	}
	return "[" + strings.Join(strs, ",") + "]"
}
