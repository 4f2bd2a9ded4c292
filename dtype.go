package zarr

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Dtype is the set of all zarr data types
// Simple data types as a string following the NumPy array protocol type string
// (typestr) format. The format consists of 3 parts:
//  * One character describing the byteorder of the data:
//    "<": little-endian; ">": big-endian; "|": not-relevant)
//  * One character code giving the basic type of the array:
//    * "b": Boolean (integer type where all values are only True or False)
//    * "i": integer;
//    * "u": unsigned integer
//    * "f": floating point
//    * "c": complex floating point
//    * "m": timedelta;
//    * "M": datetime
//    * "S": string (fixed-length sequence of char)
//    * "U": unicode (fixed-length sequence of Py_UNICODE)
//    * "V": other (void * – each item is a fixed-size chunk of memory))
//  * An integer specifying the number of bytes the type uses.
//
// The byte order is optional in some circumstances, within the zarr format
// byte order MUST be specified
type Dtype struct {
	ByteOrder ByteOrder
	BasicType BasicType
	ByteSize  int
	Units     string
}

var (
	_ json.Unmarshaler = (*Dtype)(nil)
	_ json.Marshaler   = (*Dtype)(nil)
)

// Numeric element types lazy datasets are built from. All little-endian.
var (
	Int8    = Dtype{ByteOrder: BONotRelevant, BasicType: BTInteger, ByteSize: 1}
	Int16   = Dtype{ByteOrder: BOLittleEndian, BasicType: BTInteger, ByteSize: 2}
	Int32   = Dtype{ByteOrder: BOLittleEndian, BasicType: BTInteger, ByteSize: 4}
	Int64   = Dtype{ByteOrder: BOLittleEndian, BasicType: BTInteger, ByteSize: 8}
	Uint8   = Dtype{ByteOrder: BONotRelevant, BasicType: BTUnsigned, ByteSize: 1}
	Uint16  = Dtype{ByteOrder: BOLittleEndian, BasicType: BTUnsigned, ByteSize: 2}
	Uint32  = Dtype{ByteOrder: BOLittleEndian, BasicType: BTUnsigned, ByteSize: 4}
	Uint64  = Dtype{ByteOrder: BOLittleEndian, BasicType: BTUnsigned, ByteSize: 8}
	Float32 = Dtype{ByteOrder: BOLittleEndian, BasicType: BTFloatingPoint, ByteSize: 4}
	Float64 = Dtype{ByteOrder: BOLittleEndian, BasicType: BTFloatingPoint, ByteSize: 8}
)

func ParseDtype(s string) (dt Dtype, err error) {
	// bug in python implementation uses HTML escape sequences when serializaing JSON
	s = strings.Replace(s, "&lt;", "<", 1)
	s = strings.Replace(s, "&gt;", ">", 1)

	if len(s) < 3 {
		return dt, fmt.Errorf("invalid Dtype string. %q is too short", s)
	}

	boByte, s := s[0], s[1:]
	dt.ByteOrder, err = ParseByteOrder(rune(boByte))
	if err != nil {
		return dt, err
	}

	typeByte, s := s[0], s[1:]
	dt.BasicType, err = ParseBasicType(rune(typeByte))
	if err != nil {
		return dt, err
	}

	sizeStr, unitStr := s, ""
	if i := strings.IndexByte(s, '['); i >= 0 {
		sizeStr, unitStr = s[:i], s[i:]
	}

	size, err := strconv.ParseInt(sizeStr, 10, 0)
	if err != nil {
		return dt, err
	}
	dt.ByteSize = int(size)

	// TODO(b5): validate unit string
	dt.Units = unitStr

	return dt, nil
}

func (dt Dtype) String() string {
	s := fmt.Sprintf("%s%s%d", string(dt.ByteOrder), string(dt.BasicType), dt.ByteSize)
	if dt.Units != "" {
		s += dt.Units
	}
	return s
}

// Equal ignores the byte order of single byte types, where it carries no meaning
func (dt Dtype) Equal(o Dtype) bool {
	if dt.ByteSize == 1 && o.ByteSize == 1 {
		return dt.BasicType == o.BasicType && dt.Units == o.Units
	}
	return dt == o
}

// Numeric reports whether dt is a fixed-width integer or floating point type a
// Dataset can hold
func (dt Dtype) Numeric() bool {
	switch dt.BasicType {
	case BTInteger, BTUnsigned:
		switch dt.ByteSize {
		case 1, 2, 4, 8:
			return dt.Units == ""
		}
	case BTFloatingPoint:
		switch dt.ByteSize {
		case 4, 8:
			return dt.Units == ""
		}
	}
	return false
}

// binaryOrder maps the typestr byte order onto encoding/binary
func (dt Dtype) binaryOrder() binary.ByteOrder {
	if dt.ByteOrder == BOBigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func (dt Dtype) MarshalJSON() ([]byte, error) {
	return []byte(`"` + dt.String() + `"`), nil
}

func (dt *Dtype) UnmarshalJSON(d []byte) error {
	var s string
	if err := json.Unmarshal(d, &s); err != nil {
		return fmt.Errorf("structured dtypes are not supported: %w", err)
	}
	t, err := ParseDtype(s)
	if err != nil {
		return err
	}

	*dt = t
	return nil
}

type ByteOrder rune

func ParseByteOrder(r rune) (ByteOrder, error) {
	o := ByteOrder(r)
	if _, ok := byteOrders[o]; !ok {
		return o, fmt.Errorf("unsupported byte order format: %q", r)
	}
	return o, nil
}

const (
	BONotRelevant  ByteOrder = '|'
	BOLittleEndian ByteOrder = '<'
	BOBigEndian    ByteOrder = '>'
)

var byteOrders = map[ByteOrder]struct{}{
	BONotRelevant:  {},
	BOLittleEndian: {},
	BOBigEndian:    {},
}

type BasicType rune

func ParseBasicType(r rune) (BasicType, error) {
	t := BasicType(r)
	if _, ok := supportedBasicTypes[t]; !ok {
		return t, fmt.Errorf("unsupported basic type: %q", r)
	}
	return t, nil
}

func (bt BasicType) Human() string {
	return supportedBasicTypes[bt]
}

const (
	BTBoolean       BasicType = 'b'
	BTInteger       BasicType = 'i'
	BTUnsigned      BasicType = 'u'
	BTFloatingPoint BasicType = 'f'
	BTComplex       BasicType = 'c'
	BTTimedelta     BasicType = 'm'
	BTDatetime      BasicType = 'M'
	BTString        BasicType = 'S'
	BTUnicode       BasicType = 'U'
	BTOther         BasicType = 'V'
)

var supportedBasicTypes = map[BasicType]string{
	BTBoolean:       "bool",
	BTInteger:       "int",
	BTUnsigned:      "uint",
	BTFloatingPoint: "float",
	BTComplex:       "complex",
	BTTimedelta:     "timeDelta",
	BTDatetime:      "dateTime",
	BTString:        "string",
	BTUnicode:       "unicode",
	BTOther:         "other",
}
