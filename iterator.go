package zarr

// PositionIterator steps through every index combination of a region, holding
// cut axes at the start of their range. Positions come out in C order: the
// highest non-cut axis varies fastest, carrying into slower axes like an
// odometer that skips the cut digits.
//
//	it := NewPositionIterator(Shape{3, 4, 5}, 1, 2)
//	for it.Next() {
//		sl := SliceFor(shape, []int{1, 2}, it.Pos())
//		...
//	}
//
// An iterator is single pass.
type PositionIterator struct {
	region  Slice
	iterate []int // non-cut axes, slowest first
	pos     []int
	started bool
	done    bool
}

// NewPositionIterator iterates all of shape
func NewPositionIterator(shape Shape, cutAxes ...int) *PositionIterator {
	return NewSliceIterator(FullSlice(shape), cutAxes...)
}

// NewSliceIterator iterates the indices region selects. Out of range cut axes are
// ignored.
func NewSliceIterator(region Slice, cutAxes ...int) *PositionIterator {
	cut := make([]bool, len(region))
	for _, ax := range cutAxes {
		if ax >= 0 && ax < len(region) {
			cut[ax] = true
		}
	}

	it := &PositionIterator{
		region: region.Clone(),
		pos:    make([]int, len(region)),
	}
	for i, r := range it.region {
		if it.region[i].Step < 1 {
			it.region[i].Step = 1
		}
		it.pos[i] = r.Start
		if cut[i] {
			continue
		}
		it.iterate = append(it.iterate, i)
		if r.Len() == 0 {
			it.done = true
		}
	}
	return it
}

// Next advances to the next position, returning false once the region is exhausted
func (it *PositionIterator) Next() bool {
	if it.done {
		return false
	}
	if !it.started {
		it.started = true
		return true
	}

	for j := len(it.iterate) - 1; j >= 0; j-- {
		ax := it.iterate[j]
		r := it.region[ax]
		it.pos[ax] += r.Step
		if it.pos[ax] < r.Stop {
			return true
		}
		it.pos[ax] = r.Start
	}

	// slowest axis overflowed, or there was nothing to step
	it.done = true
	return false
}

// Pos is the current position. The returned slice is reused by Next; copy it
// to keep it.
func (it *PositionIterator) Pos() []int {
	return it.pos
}

// Count is the total number of positions the iterator yields
func (it *PositionIterator) Count() int {
	n := 1
	for _, ax := range it.iterate {
		n *= it.region[ax].Len()
	}
	return n
}
