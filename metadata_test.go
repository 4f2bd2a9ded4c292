package zarr

import (
	"encoding/json"
	"math"
	"sort"
	"testing"
)

// https://zarr.readthedocs.io/en/stable/spec/v2.html#metadata
const specExample = `{
  "chunks": [
    1000,
    1000
  ],
	"compressor": {
			"id": "blosc",
			"cname": "lz4",
			"clevel": 5,
			"shuffle": 1
	},
	"dtype": "<f8",
	"fill_value": "NaN",
	"filters": [
			{"id": "delta", "dtype": "<f8", "astype": "<f4"}
	],
	"order": "C",
	"shape": [
			10000,
			10000
	],
	"zarr_format": 2
}`

func TestMetadataSerialization(t *testing.T) {
	m := &ArrayMeta{}
	err := json.Unmarshal([]byte(specExample), m)
	if err != nil {
		t.Fatal(err)
	}

	if !m.Shape.Equal(Shape{10000, 10000}) {
		t.Errorf("shape mismatch. want: [10000,10000] got: %s", m.Shape)
	}
	if !m.Dtype.Equal(Float64) {
		t.Errorf("dtype mismatch. want: %s got: %s", Float64, m.Dtype)
	}
	if m.Compressor == nil || m.Compressor.ID != "blosc" {
		t.Errorf("expected blosc compressor, got: %#v", m.Compressor)
	}
	if !math.IsNaN(m.fill()) {
		t.Errorf("expected NaN fill value, got: %v", m.fill())
	}
	if m.UnlimitedAxis() != -1 {
		t.Errorf("expected no unlimited axis, got: %d", m.UnlimitedAxis())
	}
	if err := m.Validate(); err == nil {
		t.Error("expected filters to fail validation")
	}
}

func TestArrayMetaMaxShape(t *testing.T) {
	m := &ArrayMeta{
		ZarrFormat: FormatVersion,
		Shape:      Shape{0, 4},
		Chunks:     Shape{16, 4},
		Dtype:      Int32,
		Order:      "C",
		MaxShape:   Shape{Unlimited, 4},
	}
	if err := m.Validate(); err != nil {
		t.Fatal(err)
	}

	data, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	got := &ArrayMeta{}
	if err := json.Unmarshal(data, got); err != nil {
		t.Fatal(err)
	}
	if got.UnlimitedAxis() != 0 {
		t.Errorf("unlimited axis mismatch. want: 0 got: %d", got.UnlimitedAxis())
	}

	bad := []struct {
		description string
		edit        func(m *ArrayMeta)
	}{
		{"two unlimited axes", func(m *ArrayMeta) { m.MaxShape = Shape{Unlimited, Unlimited} }},
		{"fixed axis differs from max", func(m *ArrayMeta) { m.MaxShape = Shape{Unlimited, 5} }},
		{"chunk rank", func(m *ArrayMeta) { m.Chunks = Shape{16} }},
		{"zero chunk", func(m *ArrayMeta) { m.Chunks = Shape{0, 4} }},
		{"fortran order", func(m *ArrayMeta) { m.Order = "F" }},
		{"separator", func(m *ArrayMeta) { m.DimensionSeparator = "-" }},
	}
	for _, c := range bad {
		t.Run(c.description, func(t *testing.T) {
			m := *got
			c.edit(&m)
			if err := m.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestConsolidatedMetadata(t *testing.T) {
	store := NewMemoryStore()
	c := NewCoordinator(store)
	if _, err := c.Create("images/data", Uint16, Shape{0, 2, 2}, WithUnlimitedAxis(0), WithAttribute("units", "counts")); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Create("axis", Float64, Shape{5}); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	cm, err := ReadConsolidated(store)
	if err != nil {
		t.Fatal(err)
	}
	if cm.ConsolidatedFormat != 1 {
		t.Errorf("consolidated format mismatch. want: 1 got: %d", cm.ConsolidatedFormat)
	}

	arrays := cm.Arrays()
	sort.Strings(arrays)
	if len(arrays) != 2 || arrays[0] != "axis" || arrays[1] != "images/data" {
		t.Errorf("arrays mismatch. got: %v", arrays)
	}

	for _, key := range []string{".zgroup", "images/.zgroup", "images/data/.zattrs", ".zattrs"} {
		if _, ok := cm.Metadata[key]; !ok {
			t.Errorf("expected %q in consolidated metadata", key)
		}
	}
	attrs, ok := cm.Metadata["images/data/.zattrs"].(Attributes)
	if !ok || attrs["units"] != "counts" {
		t.Errorf("attributes mismatch. got: %#v", cm.Metadata["images/data/.zattrs"])
	}
	root, _ := cm.Metadata[".zattrs"].(Attributes)
	if root[SessionAttr] != c.Session().String() {
		t.Errorf("session mismatch. want: %s got: %v", c.Session(), root[SessionAttr])
	}
}

func TestKeyMetaType(t *testing.T) {
	cases := []struct {
		key string
		mt  MetaType
		ok  bool
	}{
		{".zarray", MTArray, true},
		{"a/b/.zattrs", MTAttributes, true},
		{"a/.zgroup", MTGroup, true},
		{".zmetadata", "", false},
		{"a/0.0", "", false},
	}
	for _, c := range cases {
		mt, ok := KeyMetaType(c.key)
		if ok != c.ok || (ok && mt != c.mt) {
			t.Errorf("%q: want (%q, %t) got (%q, %t)", c.key, c.mt, c.ok, mt, ok)
		}
	}
}
