package zarr

import (
	"errors"
	"testing"
)

func TestRangeString(t *testing.T) {
	cases := []struct {
		r    Range
		want string
	}{
		{Range{Start: 3, Stop: 4, Step: 1}, "3"},
		{Range{Start: 0, Stop: 10, Step: 1}, "0:10"},
		{Range{Start: 1, Stop: 10, Step: 3}, "1:10:3"},
	}
	for _, c := range cases {
		if got := c.r.String(); got != c.want {
			t.Errorf("want: %q got: %q", c.want, got)
		}
	}
}

func TestRangeLen(t *testing.T) {
	cases := []struct {
		r         Range
		len, last int
	}{
		{Range{0, 10, 1}, 10, 9},
		{Range{1, 10, 3}, 3, 7},
		{Range{2, 3, 5}, 1, 2},
		{Range{0, 9, 3}, 3, 6},
	}
	for _, c := range cases {
		if got := c.r.Len(); got != c.len {
			t.Errorf("%s len. want: %d got: %d", c.r, c.len, got)
		}
		if got := c.r.Last(); got != c.last {
			t.Errorf("%s last. want: %d got: %d", c.r, c.last, got)
		}
	}
}

func TestShapeSqueeze(t *testing.T) {
	cases := []struct {
		in, want Shape
	}{
		{Shape{1, 3, 1, 4}, Shape{3, 4}},
		{Shape{1, 1}, Shape{}},
		{Shape{5}, Shape{5}},
	}
	for _, c := range cases {
		if got := c.in.Squeeze(); !got.Equal(c.want) {
			t.Errorf("squeeze %s. want: %s got: %s", c.in, c.want, got)
		}
	}
	if (Shape{}).Size() != 1 {
		t.Error("rank 0 shape should hold one element")
	}
	if s := (Shape{3, Unlimited}).String(); s != "[3,unlimited]" {
		t.Errorf("string mismatch. got: %s", s)
	}
}

func TestSliceFor(t *testing.T) {
	shape := Shape{3, 4, 5}
	cases := []struct {
		cut  []int
		pos  []int
		want string
		ext  Shape
	}{
		{[]int{1, 2}, []int{2, 0, 0}, "[2,0:4,0:5]", Shape{1, 4, 5}},
		{[]int{2}, []int{1, 3, 0}, "[1,3,0:5]", Shape{1, 1, 5}},
		{nil, []int{0, 1, 2}, "[0,1,2]", Shape{1, 1, 1}},
		{[]int{0, 1, 2}, []int{0, 0, 0}, "[0:3,0:4,0:5]", Shape{3, 4, 5}},
	}
	for _, c := range cases {
		sl := SliceFor(shape, c.cut, c.pos)
		if got := sl.String(); got != c.want {
			t.Errorf("slice mismatch. want: %s got: %s", c.want, got)
		}
		if got := sl.Extent(); !got.Equal(c.ext) {
			t.Errorf("%s extent. want: %s got: %s", sl, c.ext, got)
		}
		if err := sl.Validate(shape); err != nil {
			t.Errorf("%s: %s", sl, err)
		}
	}
}

// every position's slice spans the cut axes whole and one index elsewhere
func TestSliceForExtentProperty(t *testing.T) {
	shape := Shape{2, 3, 4, 5}
	cut := []int{1, 3}
	it := NewPositionIterator(shape, cut...)
	for it.Next() {
		ext := SliceFor(shape, cut, it.Pos()).Extent()
		for i := range shape {
			want := 1
			if i == 1 || i == 3 {
				want = shape[i]
			}
			if ext[i] != want {
				t.Fatalf("position %v axis %d extent. want: %d got: %d", it.Pos(), i, want, ext[i])
			}
		}
	}
}

func TestSliceValidate(t *testing.T) {
	bounds := Shape{Unlimited, 4}
	cases := []struct {
		description string
		sl          Slice
		ok          bool
	}{
		{"within", Slice{{0, 10, 1}, {0, 4, 1}}, true},
		{"unlimited axis has no upper bound", Slice{{1000, 1001, 1}, {1, 2, 1}}, true},
		{"fixed axis overflow", Slice{{0, 1, 1}, {0, 5, 1}}, false},
		{"rank", Slice{{0, 1, 1}}, false},
		{"negative start", Slice{{-1, 1, 1}, {0, 4, 1}}, false},
		{"empty", Slice{{2, 2, 1}, {0, 4, 1}}, false},
		{"zero step", Slice{{0, 2, 0}, {0, 4, 1}}, false},
	}
	for _, c := range cases {
		t.Run(c.description, func(t *testing.T) {
			err := c.sl.Validate(bounds)
			if c.ok && err != nil {
				t.Errorf("unexpected error: %s", err)
			}
			if !c.ok && !errors.Is(err, ErrOutOfBounds) {
				t.Errorf("expected ErrOutOfBounds, got: %v", err)
			}
		})
	}
}

func TestPath(t *testing.T) {
	p, _ := NewPath(`/entry\data//img/`)
	if p.String() != "entry/data/img" {
		t.Errorf("path mismatch. got: %q", p.String())
	}
	if p.Name() != "img" {
		t.Errorf("name mismatch. got: %q", p.Name())
	}
	parents := p.Parents()
	if len(parents) != 3 || parents[0].String() != "" || parents[2].String() != "entry/data" {
		t.Errorf("parents mismatch. got: %v", parents)
	}
	if k := p.Key(".zarray"); k != "entry/data/img/.zarray" {
		t.Errorf("key mismatch. got: %q", k)
	}
	root := Path(nil)
	if k := root.Key(".zgroup"); k != ".zgroup" {
		t.Errorf("root key mismatch. got: %q", k)
	}

	a := p[:2]
	b := a.Join("x")
	c := a.Join("y")
	if b.String() != "entry/data/x" || c.String() != "entry/data/y" || p.Name() != "img" {
		t.Errorf("join aliased its receiver: %s %s %s", b, c, p)
	}
}
