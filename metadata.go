package zarr

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

type MetaType string

const (
	// MTAttributes stores userland metadata keyed by array name
	MTAttributes MetaType = ".zattrs"
	// MTArray is the key for storing metadata on an array store
	MTArray MetaType = ".zarray"
	// MTGroup is the key for storing group definitions on an array store
	MTGroup MetaType = ".zgroup"
	// MTMetadata is the key for composite metadata
	MTMetadata MetaType = ".zmetadata"
)

// FormatVersion is the zarr storage specification version this package writes
const FormatVersion = 2

type MetaTyper interface {
	MetaType() MetaType
}

var metaTypes = map[MetaType]struct{}{
	MTAttributes: {},
	MTArray:      {},
	MTGroup:      {},
}

// relies on the fact that all keynames are 7 characters long
func KeyMetaType(s string) (mt MetaType, ok bool) {
	if len(s) < 7 {
		return mt, false
	}
	mt = MetaType(s[len(s)-7:])
	_, ok = metaTypes[mt]
	return mt, ok
}

type Attributes map[string]interface{}

func (Attributes) MetaType() MetaType { return MTAttributes }

type ConsolidatedMetadata struct {
	ConsolidatedFormat int                  `json:"zarr_consolidated_format"`
	Metadata           map[string]MetaTyper `json:"metadata"`
}

type consolidatedMetaDecoder struct {
	ConsolidatedFormat int                        `json:"zarr_consolidated_format"`
	Metadata           map[string]json.RawMessage `json:"metadata"`
}

func (m *ConsolidatedMetadata) UnmarshalJSON(d []byte) error {
	cd := consolidatedMetaDecoder{}
	if err := json.Unmarshal(d, &cd); err != nil {
		return err
	}
	cm := ConsolidatedMetadata{
		ConsolidatedFormat: cd.ConsolidatedFormat,
		Metadata:           map[string]MetaTyper{},
	}

	for key, data := range cd.Metadata {
		kt, ok := KeyMetaType(key)
		if !ok {
			return fmt.Errorf("invalid consoldated metadata key: %q", key)
		}

		switch kt {
		case MTArray:
			arr := &ArrayMeta{}
			if err := json.Unmarshal(data, arr); err != nil {
				return fmt.Errorf("reading %q metadata: %w", key, err)
			}
			cm.Metadata[key] = arr
		case MTAttributes:
			attr := Attributes{}
			if err := json.Unmarshal(data, &attr); err != nil {
				return fmt.Errorf("reading %q attributes: %w", key, err)
			}
			cm.Metadata[key] = attr
		case MTGroup:
			grp := Group{}
			if err := json.Unmarshal(data, &grp); err != nil {
				return fmt.Errorf("reading %q group: %w", key, err)
			}
			cm.Metadata[key] = grp
		}
	}

	*m = cm
	return nil
}

// Arrays lists the paths of every array in the consolidated metadata
func (m *ConsolidatedMetadata) Arrays() []string {
	var paths []string
	for key, mt := range m.Metadata {
		if mt.MetaType() != MTArray {
			continue
		}
		p := strings.TrimSuffix(strings.TrimSuffix(key, string(MTArray)), "/")
		paths = append(paths, p)
	}
	return paths
}

// Each array requires essential configuration metadata to be stored,
// enabling correct interpretation of the stored data.
// This metadata is encoded using JSON and stored as the value of the
// “.zarray” key within an array store.
type ArrayMeta struct {
	// An integer defining the version of the storage specification to which
	// the array store adheres.
	ZarrFormat int `json:"zarr_format"`
	// A list of integers defining the length of each dimension of the array.
	// For an array with an unlimited axis this is the committed extent, never
	// space that has been allocated but not yet written.
	Shape Shape `json:"shape"`
	// A list of integers defining the length of each dimension of a chunk of the
	// array. Note that all chunks within a Zarr array have the same shape.
	Chunks Shape `json:"chunks"`
	// A string defining a valid data type for the array. Structured types are
	// not supported.
	Dtype Dtype `json:"dtype"`
	// A JSON object identifying the primary compression codec and providing
	// configuration parameters, or null if no compressor is to be used. The
	// object MUST contain an "id" key identifying the codec to be used.
	Compressor *CompressionMeta `json:"compressor"`

	// A scalar value providing the default value to use for uninitialized
	// portions of the array, or null if no fill_value is to be used.
	FillValue interface{} `json:"fill_value"`
	// Either “C” or “F”, defining the layout of bytes within each chunk of the
	// array. “C” means row-major order, i.e., the last dimension varies fastest;
	// “F” means column-major order, i.e., the first dimension varies fastest.
	Order string `json:"order"`
	// A list of JSON objects providing codec configurations, or null if no
	// filters are to be applied. Each codec configuration object MUST contain a
	// "id" key identifying the codec to be used.
	Filters []Filter `json:"filters"`

	// optional fields

	// If present, either the string "." or "/"" definining the separator placed
	// between the dimensions of a chunk. If the value is not set, then the
	// default MUST be assumed to be ".", leading to chunk keys of the form “0.0”.
	// Arrays defined with "/" as the dimension separator can be considered to
	// have nested, or hierarchical, keys of the form “0/0” that SHOULD where
	// possible produce a directory-like structure.
	DimensionSeparator string `json:"dimension_separator,omitempty"`

	// extension: the maximum extent of each dimension, Unlimited (-1) on the
	// one axis allowed to grow. Absent for fixed size arrays.
	MaxShape Shape `json:"max_shape,omitempty"`
}

func (a ArrayMeta) MetaType() MetaType { return MTArray }

// Validate checks the fields lazy datasets depend on
func (a *ArrayMeta) Validate() error {
	if a.ZarrFormat != FormatVersion {
		return fmt.Errorf("unsupported zarr format %d", a.ZarrFormat)
	}
	if !a.Dtype.Numeric() {
		return fmt.Errorf("unsupported dtype %s", a.Dtype)
	}
	if a.Order != "" && a.Order != "C" {
		return fmt.Errorf("unsupported order %q", a.Order)
	}
	if len(a.Filters) > 0 {
		return fmt.Errorf("filters are not supported")
	}
	if len(a.Chunks) != len(a.Shape) {
		return fmt.Errorf("chunk rank %d does not match shape rank %d", len(a.Chunks), len(a.Shape))
	}
	for i, c := range a.Chunks {
		if c < 1 {
			return fmt.Errorf("chunk extent %d on axis %d", c, i)
		}
	}
	if a.MaxShape != nil {
		if len(a.MaxShape) != len(a.Shape) {
			return fmt.Errorf("max shape rank %d does not match shape rank %d", len(a.MaxShape), len(a.Shape))
		}
		unlimited := 0
		for i, m := range a.MaxShape {
			switch {
			case m == Unlimited:
				unlimited++
			case m != a.Shape[i]:
				return fmt.Errorf("axis %d: only the unlimited axis may differ from max shape", i)
			}
		}
		if unlimited > 1 {
			return fmt.Errorf("at most one unlimited axis, got %d", unlimited)
		}
	}
	switch a.DimensionSeparator {
	case "", ".", "/":
	default:
		return fmt.Errorf("invalid dimension separator %q", a.DimensionSeparator)
	}
	return nil
}

// UnlimitedAxis returns the index of the growable axis, or -1
func (a *ArrayMeta) UnlimitedAxis() int {
	for i, m := range a.MaxShape {
		if m == Unlimited {
			return i
		}
	}
	return -1
}

func (a *ArrayMeta) separator() string {
	if a.DimensionSeparator == "" {
		return "."
	}
	return a.DimensionSeparator
}

// fill returns the fill value as a number, zero when unset or not numeric
func (a *ArrayMeta) fill() float64 {
	switch v := a.FillValue.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		switch v {
		case FillValueNaN:
			return math.NaN()
		case FillValueInfinity:
			return math.Inf(1)
		case FillValueNegativeInfinity:
			return math.Inf(-1)
		}
	}
	return 0
}

type Filter struct {
	ID     string `json:"id"`
	Delta  string `json:"delta,omitempty"`
	Dtype  string `json:"dtype,omitempty"`
	AsType string `json:"astype,omitempty"`
}

// Arrays can be organized into groups which can also contain other groups.
// A group is created by storing group ArrayMeta under the “.zgroup” key under
// some logical path. E.g., a group exists at the root of an array store if the
// “.zgroup” key exists in the store, and a group exists at logical path
// “foo/bar” if the “foo/bar/.zgroup” key exists in the store.
type Group struct {
	ZarrFormat int `json:"zarr_format"`
}

func (Group) MetaType() MetaType { return MTGroup }

const (
	// Not a Number
	FillValueNaN = "NaN"
	// Infinity
	FillValueInfinity = "Infinity"
	// -Infinity
	FillValueNegativeInfinity = "-Infinity"
)
