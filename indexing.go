package zarr

import (
	"strconv"
	"strings"
)

type chunkDimProjection struct {
	// Index of chunk.
	DimChunkIX int
	// Selection of items from chunk array.
	DimChunkSel Range
	// Selection of items in target (output) array.
	DimOutSel Range
}

// A mapping of items from chunk to output array. Can be used to extract items
// from the chunk array for loading into an output array. Can also be used to
// extract items from a value array for setting/updating in a chunk array.
type chunkProjection struct {
	// Indices of chunk
	ChunkCoords []int
	// Selection of items from chunk array.
	ChunkSelection Slice
	// Selection of items in target (output) array.
	OutSelection Slice
}

// projectDim splits one axis of a selection across the chunks it touches
func projectDim(r Range, chunk int) []chunkDimProjection {
	var projs []chunkDimProjection
	if r.Len() == 0 {
		return projs
	}
	for k := r.Start / chunk; k <= r.Last()/chunk; k++ {
		lo, hi := k*chunk, (k+1)*chunk
		first := r.Start
		if first < lo {
			first = r.Start + (lo-r.Start+r.Step-1)/r.Step*r.Step
		}
		end := hi
		if r.Stop < end {
			end = r.Stop
		}
		if first >= end {
			// stepped over this chunk entirely
			continue
		}
		sel := Range{Start: first - lo, Stop: end - lo, Step: r.Step}
		out := (first - r.Start) / r.Step
		projs = append(projs, chunkDimProjection{
			DimChunkIX:  k,
			DimChunkSel: sel,
			DimOutSel:   Range{Start: out, Stop: out + sel.Len(), Step: 1},
		})
	}
	return projs
}

// projectChunks lists every chunk a validated selection overlaps
func projectChunks(sel Slice, chunks Shape) []chunkProjection {
	dims := make([][]chunkDimProjection, len(sel))
	counts := make(Shape, len(sel))
	for i, r := range sel {
		dims[i] = projectDim(r, chunks[i])
		counts[i] = len(dims[i])
	}

	var projs []chunkProjection
	it := NewPositionIterator(counts)
	for it.Next() {
		pos := it.Pos()
		p := chunkProjection{
			ChunkCoords:    make([]int, len(sel)),
			ChunkSelection: make(Slice, len(sel)),
			OutSelection:   make(Slice, len(sel)),
		}
		for d, j := range pos {
			dp := dims[d][j]
			p.ChunkCoords[d] = dp.DimChunkIX
			p.ChunkSelection[d] = dp.DimChunkSel
			p.OutSelection[d] = dp.DimOutSel
		}
		projs = append(projs, p)
	}
	return projs
}

// chunkKey names a chunk by its grid coordinates. Zero dimensional arrays have
// a single chunk "0".
func chunkKey(coords []int, sep string) string {
	if len(coords) == 0 {
		return "0"
	}
	strs := make([]string, len(coords))
	for i, c := range coords {
		strs[i] = strconv.Itoa(c)
	}
	return strings.Join(strs, sep)
}

type opType int

const (
	getOp opType = iota
	putOp
)

// transfer copies the items of one chunk projection between a raw chunk and an
// array holding the whole selection. Runs along the last axis are copied in one
// go when they are contiguous.
func transfer(op opType, chunk []byte, chunkShape Shape, arr *NDArray, p chunkProjection) {
	sz := arr.dtype.ByteSize
	rank := len(chunkShape)
	if rank == 0 {
		if op == getOp {
			copy(arr.data[:sz], chunk[:sz])
		} else {
			copy(chunk[:sz], arr.data[:sz])
		}
		return
	}

	cst := chunkShape.strides()
	ost := arr.shape.strides()
	last := rank - 1
	cr, or := p.ChunkSelection[last], p.OutSelection[last]
	n := cr.Len()

	it := NewSliceIterator(p.ChunkSelection, last)
	for it.Next() {
		pos := it.Pos()
		ci, oi := cr.Start, or.Start
		for d := 0; d < last; d++ {
			cs := p.ChunkSelection[d]
			ci += pos[d] * cst[d]
			oi += (p.OutSelection[d].Start + (pos[d]-cs.Start)/cs.Step) * ost[d]
		}

		if cr.Step == 1 {
			cb, ob := chunk[ci*sz:(ci+n)*sz], arr.data[oi*sz:(oi+n)*sz]
			if op == getOp {
				copy(ob, cb)
			} else {
				copy(cb, ob)
			}
			continue
		}

		for j := 0; j < n; j++ {
			c := (ci + j*cr.Step) * sz
			o := (oi + j) * sz
			if op == getOp {
				copy(arr.data[o:o+sz], chunk[c:c+sz])
			} else {
				copy(chunk[c:c+sz], arr.data[o:o+sz])
			}
		}
	}
}
