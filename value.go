package iceberg

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"

	"github.com/lakeformat/iceberg/pkg/errors"
)

// Value is the tagged variant over Iceberg's primitive and nested logical
// values. Every concrete type below implements it. Nulls are
// represented at the call site as the absence of a Value (Go's nil, or an
// entry missing from a partition-value map), never as a Value itself.
type Value interface {
	// Type returns the logical type this value was constructed with.
	Type() LogicalType
	// Compare orders this value against another of the same type. The
	// result follows the usual convention: <0, 0, >0.
	Compare(other Value) (int, error)
	// Encode produces the canonical binary bound-encoding,
	// used for manifest lower/upper-bound byte arrays.
	Encode() []byte
	fmt.Stringer
}

var (
	ErrTypeMismatch = errors.MustNewCode("iceberg.value_type_mismatch")
	ErrDecodeFailed = errors.MustNewCode("iceberg.value_decode_failed")
)

// --- primitive implementations ---

type BoolValue bool

func (v BoolValue) Type() LogicalType { return Boolean() }
func (v BoolValue) String() string    { return fmt.Sprintf("%v", bool(v)) }
func (v BoolValue) Encode() []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}
func (v BoolValue) Compare(other Value) (int, error) {
	o, ok := other.(BoolValue)
	if !ok {
		return 0, typeMismatch(v, other)
	}
	if v == o {
		return 0, nil
	}
	if !bool(v) {
		return -1, nil
	}
	return 1, nil
}

type Int32Value int32

func (v Int32Value) Type() LogicalType { return Int32() }
func (v Int32Value) String() string    { return fmt.Sprintf("%d", int32(v)) }
func (v Int32Value) Encode() []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(int32(v)))
	return b
}
func (v Int32Value) Compare(other Value) (int, error) {
	o, ok := other.(Int32Value)
	if !ok {
		return 0, typeMismatch(v, other)
	}
	return cmpOrdered(int32(v), int32(o)), nil
}

type Int64Value int64

func (v Int64Value) Type() LogicalType { return Int64() }
func (v Int64Value) String() string    { return fmt.Sprintf("%d", int64(v)) }
func (v Int64Value) Encode() []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(int64(v)))
	return b
}
func (v Int64Value) Compare(other Value) (int, error) {
	o, ok := other.(Int64Value)
	if !ok {
		return 0, typeMismatch(v, other)
	}
	return cmpOrdered(int64(v), int64(o)), nil
}

type Float32Value float32

func (v Float32Value) Type() LogicalType { return Float32Type() }
func (v Float32Value) String() string    { return fmt.Sprintf("%v", float32(v)) }
func (v Float32Value) Encode() []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
	return b
}
func (v Float32Value) Compare(other Value) (int, error) {
	o, ok := other.(Float32Value)
	if !ok {
		return 0, typeMismatch(v, other)
	}
	return cmpOrdered(float32(v), float32(o)), nil
}

type Float64Value float64

func (v Float64Value) Type() LogicalType { return Float64Type() }
func (v Float64Value) String() string    { return fmt.Sprintf("%v", float64(v)) }
func (v Float64Value) Encode() []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, math.Float64bits(float64(v)))
	return b
}
func (v Float64Value) Compare(other Value) (int, error) {
	o, ok := other.(Float64Value)
	if !ok {
		return 0, typeMismatch(v, other)
	}
	return cmpOrdered(float64(v), float64(o)), nil
}

// DecimalValue holds an unscaled integer and (precision, scale), per
// spec's decimal(precision, scale).
type DecimalValue struct {
	Unscaled  *big.Int
	Precision int
	Scale     int
}

func NewDecimal(unscaled *big.Int, precision, scale int) DecimalValue {
	return DecimalValue{Unscaled: unscaled, Precision: precision, Scale: scale}
}

func (v DecimalValue) Type() LogicalType { return Decimal(v.Precision, v.Scale) }
func (v DecimalValue) String() string {
	return fmt.Sprintf("%s.%de-%d", v.Unscaled.String(), 0, v.Scale)
}

// Encode renders the unscaled value as a minimal-length two's-complement
// big-endian byte array, matching Iceberg's decimal bound encoding.
func (v DecimalValue) Encode() []byte {
	return bigIntToTwosComplement(v.Unscaled)
}

func (v DecimalValue) Compare(other Value) (int, error) {
	o, ok := other.(DecimalValue)
	if !ok {
		return 0, typeMismatch(v, other)
	}
	if v.Scale != o.Scale {
		return 0, errors.New(ErrTypeMismatch, "cannot compare decimals with different scales", nil).
			AddContext("left_scale", v.Scale).AddContext("right_scale", o.Scale)
	}
	return v.Unscaled.Cmp(o.Unscaled), nil
}

// DateValue is the number of days since 1970-01-01.
type DateValue int32

func (v DateValue) Type() LogicalType { return Date() }
func (v DateValue) String() string    { return fmt.Sprintf("date(%d)", int32(v)) }
func (v DateValue) Encode() []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(int32(v)))
	return b
}
func (v DateValue) Compare(other Value) (int, error) {
	o, ok := other.(DateValue)
	if !ok {
		return 0, typeMismatch(v, other)
	}
	return cmpOrdered(int32(v), int32(o)), nil
}

// TimeValue is microseconds since midnight.
type TimeValue int64

func (v TimeValue) Type() LogicalType { return Time() }
func (v TimeValue) String() string    { return fmt.Sprintf("time(%d)", int64(v)) }
func (v TimeValue) Encode() []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(int64(v)))
	return b
}
func (v TimeValue) Compare(other Value) (int, error) {
	o, ok := other.(TimeValue)
	if !ok {
		return 0, typeMismatch(v, other)
	}
	return cmpOrdered(int64(v), int64(o)), nil
}

// TimestampValue is microseconds since the epoch. WithZone distinguishes
// timestamp from timestamptz for type-checking purposes only — both
// compare as plain epoch-microsecond integers.
type TimestampValue struct {
	Micros   int64
	WithZone bool
}

func (v TimestampValue) Type() LogicalType {
	if v.WithZone {
		return TimestampTZ()
	}
	return Timestamp()
}
func (v TimestampValue) String() string { return fmt.Sprintf("ts(%d)", v.Micros) }
func (v TimestampValue) Encode() []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(v.Micros))
	return b
}
func (v TimestampValue) Compare(other Value) (int, error) {
	o, ok := other.(TimestampValue)
	if !ok || o.WithZone != v.WithZone {
		return 0, typeMismatch(v, other)
	}
	return cmpOrdered(v.Micros, o.Micros), nil
}

type StringValue string

func (v StringValue) Type() LogicalType { return String() }
func (v StringValue) String() string    { return string(v) }
func (v StringValue) Encode() []byte    { return []byte(v) }
func (v StringValue) Compare(other Value) (int, error) {
	o, ok := other.(StringValue)
	if !ok {
		return 0, typeMismatch(v, other)
	}
	return cmpOrdered(string(v), string(o)), nil
}

type UUIDValue [16]byte

func (v UUIDValue) Type() LogicalType { return UUID() }
func (v UUIDValue) String() string {
	return fmt.Sprintf("%x-%x-%x-%x-%x", v[0:4], v[4:6], v[6:8], v[8:10], v[10:16])
}
func (v UUIDValue) Encode() []byte { return v[:] }
func (v UUIDValue) Compare(other Value) (int, error) {
	o, ok := other.(UUIDValue)
	if !ok {
		return 0, typeMismatch(v, other)
	}
	return cmpBytes(v[:], o[:]), nil
}

// FixedValue is a fixed-length byte array, compared lexicographically.
type FixedValue struct {
	Bytes  []byte
	Length int
}

func (v FixedValue) Type() LogicalType { return Fixed(v.Length) }
func (v FixedValue) String() string    { return fmt.Sprintf("fixed(%x)", v.Bytes) }
func (v FixedValue) Encode() []byte    { return v.Bytes }
func (v FixedValue) Compare(other Value) (int, error) {
	o, ok := other.(FixedValue)
	if !ok {
		return 0, typeMismatch(v, other)
	}
	return cmpBytes(v.Bytes, o.Bytes), nil
}

type BinaryValue []byte

func (v BinaryValue) Type() LogicalType { return Binary() }
func (v BinaryValue) String() string    { return fmt.Sprintf("binary(%x)", []byte(v)) }
func (v BinaryValue) Encode() []byte    { return v }
func (v BinaryValue) Compare(other Value) (int, error) {
	o, ok := other.(BinaryValue)
	if !ok {
		return 0, typeMismatch(v, other)
	}
	return cmpBytes(v, o), nil
}

// StructValue, ListValue and MapValue round out the Value interface for
// nested types. Bound-encoding and ordering are not defined for nested
// types in the Iceberg spec (only primitive columns get lower/upper
// bounds), so Encode/Compare report Unsupported here rather than guessing
// at a byte layout.
type StructValue struct {
	Fields []SchemaField
	Values []Value // positional, parallel to Fields; nil entry means null
}

func (v StructValue) Type() LogicalType { return Struct(v.Fields...) }
func (v StructValue) String() string    { return "struct(...)" }
func (v StructValue) Encode() []byte    { return nil }
func (v StructValue) Compare(Value) (int, error) {
	return 0, errors.New(errors.CommonUnsupported, "struct values are not orderable", nil)
}

type ListValue struct {
	Element LogicalType
	Values  []Value
}

func (v ListValue) Type() LogicalType { return List(0, v.Element, true) }
func (v ListValue) String() string    { return "list(...)" }
func (v ListValue) Encode() []byte    { return nil }
func (v ListValue) Compare(Value) (int, error) {
	return 0, errors.New(errors.CommonUnsupported, "list values are not orderable", nil)
}

type MapValue struct {
	Key     LogicalType
	Val     LogicalType
	Entries []struct {
		Key Value
		Val Value
	}
}

func (v MapValue) Type() LogicalType { return Map(0, v.Key, 0, v.Val, true) }
func (v MapValue) String() string    { return "map(...)" }
func (v MapValue) Encode() []byte    { return nil }
func (v MapValue) Compare(Value) (int, error) {
	return 0, errors.New(errors.CommonUnsupported, "map values are not orderable", nil)
}

func typeMismatch(a, b Value) error {
	return errors.New(ErrTypeMismatch, "cannot compare values of different types", nil).
		AddContext("left", a.Type().String()).AddContext("right", fmt.Sprintf("%T", b))
}

type ordered interface {
	~int32 | ~int64 | ~float32 | ~float64 | ~string
}

func cmpOrdered[T ordered](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return cmpOrdered(len(a), len(b))
}

func bigIntToTwosComplement(v *big.Int) []byte {
	if v.Sign() >= 0 {
		b := v.Bytes()
		if len(b) == 0 || b[0]&0x80 != 0 {
			b = append([]byte{0}, b...)
		}
		return b
	}
	// Two's complement of a negative value: invert magnitude bytes of
	// (abs(v)-1), left-padded with 0xff so the sign bit reads negative.
	abs := new(big.Int).Abs(v)
	abs.Sub(abs, big.NewInt(1))
	b := abs.Bytes()
	out := make([]byte, len(b)+1)
	out[0] = 0xff
	for i, by := range b {
		out[i+1] = ^by
	}
	if len(out) > 1 && out[0] == 0xff && out[1]&0x80 != 0 {
		out = out[1:]
	}
	return out
}

// DecodeBound decodes a raw bound byte array into a Value of the given
// logical type — the inverse of Encode, used when pruning reads a
// DataFile's lower_bounds/upper_bounds map.
func DecodeBound(t LogicalType, raw []byte) (Value, error) {
	switch t.ID {
	case TypeBoolean:
		if len(raw) != 1 {
			return nil, decodeErr(t, raw)
		}
		return BoolValue(raw[0] != 0), nil
	case TypeInt32:
		if len(raw) != 4 {
			return nil, decodeErr(t, raw)
		}
		return Int32Value(int32(binary.LittleEndian.Uint32(raw))), nil
	case TypeInt64:
		if len(raw) != 8 {
			return nil, decodeErr(t, raw)
		}
		return Int64Value(int64(binary.LittleEndian.Uint64(raw))), nil
	case TypeFloat32:
		if len(raw) != 4 {
			return nil, decodeErr(t, raw)
		}
		return Float32Value(math.Float32frombits(binary.LittleEndian.Uint32(raw))), nil
	case TypeFloat64:
		if len(raw) != 8 {
			return nil, decodeErr(t, raw)
		}
		return Float64Value(math.Float64frombits(binary.LittleEndian.Uint64(raw))), nil
	case TypeDecimal:
		u := twosComplementToBigInt(raw)
		return NewDecimal(u, t.Precision, t.Scale), nil
	case TypeDate:
		if len(raw) != 4 {
			return nil, decodeErr(t, raw)
		}
		return DateValue(int32(binary.LittleEndian.Uint32(raw))), nil
	case TypeTime:
		if len(raw) != 8 {
			return nil, decodeErr(t, raw)
		}
		return TimeValue(int64(binary.LittleEndian.Uint64(raw))), nil
	case TypeTimestamp, TypeTimestampTZ:
		if len(raw) != 8 {
			return nil, decodeErr(t, raw)
		}
		return TimestampValue{Micros: int64(binary.LittleEndian.Uint64(raw)), WithZone: t.ID == TypeTimestampTZ}, nil
	case TypeString:
		return StringValue(raw), nil
	case TypeUUID:
		if len(raw) != 16 {
			return nil, decodeErr(t, raw)
		}
		var u UUIDValue
		copy(u[:], raw)
		return u, nil
	case TypeFixed:
		return FixedValue{Bytes: append([]byte(nil), raw...), Length: t.Length}, nil
	case TypeBinary:
		return BinaryValue(append([]byte(nil), raw...)), nil
	default:
		return nil, errors.New(errors.CommonUnsupported, "type has no bound encoding", nil).
			AddContext("type", t.String())
	}
}

func decodeErr(t LogicalType, raw []byte) error {
	return errors.New(ErrDecodeFailed, "bound byte length mismatch", nil).
		AddContext("type", t.String()).AddContext("length", len(raw))
}

func twosComplementToBigInt(raw []byte) *big.Int {
	if len(raw) == 0 {
		return big.NewInt(0)
	}
	if raw[0]&0x80 == 0 {
		return new(big.Int).SetBytes(raw)
	}
	inv := make([]byte, len(raw))
	for i, b := range raw {
		inv[i] = ^b
	}
	v := new(big.Int).SetBytes(inv)
	v.Add(v, big.NewInt(1))
	v.Neg(v)
	return v
}
