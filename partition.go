package iceberg

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/lakeformat/iceberg/pkg/errors"
	"github.com/twmb/murmur3"
)

// TransformKind enumerates the partition transforms a PartitionField can
// apply to its source column.
type TransformKind int

const (
	TransformIdentity TransformKind = iota
	TransformYear
	TransformMonth
	TransformDay
	TransformHour
	TransformBucket
	TransformTruncate
	TransformVoid
)

// Transform maps a source value to a partition value. Bucket and Truncate
// carry a parameter (N / W respectively).
type Transform struct {
	Kind  TransformKind
	Param int // bucket count N, or truncate width W
}

func Identity() Transform           { return Transform{Kind: TransformIdentity} }
func Year() Transform               { return Transform{Kind: TransformYear} }
func Month() Transform              { return Transform{Kind: TransformMonth} }
func Day() Transform                { return Transform{Kind: TransformDay} }
func Hour() Transform                { return Transform{Kind: TransformHour} }
func Bucket(n int) Transform        { return Transform{Kind: TransformBucket, Param: n} }
func Truncate(w int) Transform      { return Transform{Kind: TransformTruncate, Param: w} }
func Void() Transform               { return Transform{Kind: TransformVoid} }

func (t Transform) String() string {
	switch t.Kind {
	case TransformIdentity:
		return "identity"
	case TransformYear:
		return "year"
	case TransformMonth:
		return "month"
	case TransformDay:
		return "day"
	case TransformHour:
		return "hour"
	case TransformBucket:
		return fmt.Sprintf("bucket[%d]", t.Param)
	case TransformTruncate:
		return fmt.Sprintf("truncate[%d]", t.Param)
	case TransformVoid:
		return "void"
	default:
		return "unknown"
	}
}

// ParseTransform parses the Iceberg transform string form, e.g.
// "bucket[16]" or "day".
func ParseTransform(s string) (Transform, error) {
	if s == "identity" {
		return Identity(), nil
	}
	if s == "year" {
		return Year(), nil
	}
	if s == "month" {
		return Month(), nil
	}
	if s == "day" {
		return Day(), nil
	}
	if s == "hour" {
		return Hour(), nil
	}
	if s == "void" {
		return Void(), nil
	}
	if n, ok := parseParam(s, "bucket"); ok {
		return Bucket(n), nil
	}
	if n, ok := parseParam(s, "truncate"); ok {
		return Truncate(n), nil
	}
	return Transform{}, errors.New(errors.CommonUnsupported, "unknown transform", nil).AddContext("transform", s)
}

func parseParam(s, prefix string) (int, bool) {
	if !strings.HasPrefix(s, prefix+"[") || !strings.HasSuffix(s, "]") {
		return 0, false
	}
	inner := s[len(prefix)+1 : len(s)-1]
	var n int
	if _, err := fmt.Sscanf(inner, "%d", &n); err != nil {
		return 0, false
	}
	return n, true
}

// IsMonotone reports whether the transform preserves source ordering, so
// predicates on the source column may be projected through it onto the
// partition column during manifest pruning. Only
// identity, the time-unit truncations and truncate are monotone; bucket's
// hash is not, and void collapses everything to null.
func (t Transform) IsMonotone() bool {
	switch t.Kind {
	case TransformIdentity, TransformYear, TransformMonth, TransformDay, TransformHour, TransformTruncate:
		return true
	default:
		return false
	}
}

// ResultType returns the logical type a transform produces given its
// source type.
func (t Transform) ResultType(source LogicalType) (LogicalType, error) {
	switch t.Kind {
	case TransformIdentity:
		return source, nil
	case TransformYear, TransformMonth, TransformDay, TransformHour:
		return Int32(), nil
	case TransformBucket:
		return Int32(), nil
	case TransformTruncate:
		return source, nil
	case TransformVoid:
		return source, nil
	default:
		return LogicalType{}, errors.New(errors.CommonUnsupported, "transform has no result type", nil)
	}
}

// Apply evaluates the transform against a source value (nil meaning the
// source was null, in which case every transform yields null).
func (t Transform) Apply(v Value) (Value, error) {
	if v == nil {
		return nil, nil
	}
	switch t.Kind {
	case TransformIdentity:
		return v, nil
	case TransformVoid:
		return nil, nil
	case TransformYear, TransformMonth, TransformDay, TransformHour:
		return applyTimeUnit(t.Kind, v)
	case TransformBucket:
		h, err := bucketHash(v)
		if err != nil {
			return nil, err
		}
		n := int32(t.Param)
		return Int32Value(int32(h&0x7fffffff) % n), nil
	case TransformTruncate:
		return applyTruncate(t.Param, v)
	default:
		return nil, errors.New(errors.CommonUnsupported, "unknown transform", nil)
	}
}

func applyTimeUnit(kind TransformKind, v Value) (Value, error) {
	var micros int64
	var days int32
	switch tv := v.(type) {
	case DateValue:
		days = int32(tv)
	case TimestampValue:
		micros = tv.Micros
		days = int32(floorDiv(micros, int64(24*3600*1e6)))
	default:
		return nil, errors.New(errors.CommonUnsupported, "time-unit transform needs a date or timestamp source", nil)
	}
	switch kind {
	case TransformDay:
		return Int32Value(days), nil
	case TransformYear:
		return Int32Value(daysToYearsSinceEpoch(days)), nil
	case TransformMonth:
		return Int32Value(daysToMonthsSinceEpoch(days)), nil
	case TransformHour:
		if _, ok := v.(TimestampValue); !ok {
			return nil, errors.New(errors.CommonUnsupported, "hour transform needs a timestamp source", nil)
		}
		return Int32Value(int32(floorDiv(micros, int64(3600*1e6)))), nil
	default:
		return nil, errors.New(errors.CommonUnsupported, "unknown time-unit transform", nil)
	}
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// daysToYearsSinceEpoch / daysToMonthsSinceEpoch use the proleptic
// Gregorian calendar via civil-from-days, matching Iceberg's year/month
// partition transforms (years/months since 1970-01-01, truncated toward
// negative infinity).
func daysToYearsSinceEpoch(days int32) int32 {
	y, _, _ := civilFromDays(int64(days))
	return int32(y - 1970)
}

func daysToMonthsSinceEpoch(days int32) int32 {
	y, m, _ := civilFromDays(int64(days))
	return int32((y-1970)*12 + int64(m) - 1)
}

// civilFromDays converts a day count since the epoch into a (year, month,
// day) civil date, using Howard Hinnant's days_from_civil algorithm
// inverse.
func civilFromDays(z int64) (year int64, month int64, day int64) {
	z += 719468
	era := z
	if z < 0 {
		era -= 146096
	}
	era /= 146097
	doe := z - era*146097
	yoe := (doe - doe/1460 + doe/36524 - doe/146096) / 365
	y := yoe + era*400
	doy := doe - (365*yoe + yoe/4 - yoe/100)
	mp := (5*doy + 2) / 153
	d := doy - (153*mp+2)/5 + 1
	m := mp + 3
	if mp >= 10 {
		m = mp - 9
	}
	if m <= 2 {
		y++
	}
	return y, m, d
}

func applyTruncate(width int, v Value) (Value, error) {
	switch tv := v.(type) {
	case Int32Value:
		return Int32Value(int32(floorDiv(int64(tv), int64(width)) * int64(width))), nil
	case Int64Value:
		return Int64Value(floorDiv(int64(tv), int64(width)) * int64(width)), nil
	case DecimalValue:
		w := big.NewInt(int64(width))
		q := new(big.Int).Div(tv.Unscaled, w) // Euclidean division: floors toward -inf for a positive width
		truncated := new(big.Int).Mul(q, w)
		return NewDecimal(truncated, tv.Precision, tv.Scale), nil
	case StringValue:
		s := string(tv)
		if len(s) <= width {
			return tv, nil
		}
		return StringValue(s[:width]), nil
	case BinaryValue:
		if len(tv) <= width {
			return tv, nil
		}
		return BinaryValue(tv[:width]), nil
	default:
		return nil, errors.New(errors.CommonUnsupported, "truncate transform unsupported for this type", nil)
	}
}

// bucketHash implements Iceberg's bucket-partition hash: murmur3 32-bit
// (x86 variant, seed 0) over the type-specific byte encoding of v.
func bucketHash(v Value) (uint32, error) {
	var b []byte
	switch tv := v.(type) {
	case Int32Value:
		b = Int64Value(int64(tv)).Encode()
	case Int64Value:
		b = tv.Encode()
	case DateValue:
		b = Int64Value(int64(tv)).Encode()
	case TimeValue:
		b = tv.Encode()
	case TimestampValue:
		b = Int64Value(tv.Micros).Encode()
	case DecimalValue:
		b = tv.Encode()
	case StringValue:
		b = tv.Encode()
	case UUIDValue:
		b = tv.Encode()
	case FixedValue:
		b = tv.Bytes
	case BinaryValue:
		b = tv
	default:
		return 0, errors.New(errors.CommonUnsupported, "bucket transform unsupported for this type", nil)
	}
	return murmur3.SeedSum32(0, b), nil
}

// PartitionField maps a source schema field, via a Transform, to one
// column of a PartitionSpec.
type PartitionField struct {
	SourceID  int32     `json:"source-id"`
	FieldID   int32     `json:"field-id"`
	Name      string    `json:"name"`
	Transform Transform `json:"-"`
}

// PartitionSpec is an ordered list of PartitionFields plus a stable
// spec_id. Like Schema, specs form an immutable history.
type PartitionSpec struct {
	SpecID int32
	Fields []PartitionField
}

func NewPartitionSpec(specID int32, fields ...PartitionField) *PartitionSpec {
	return &PartitionSpec{SpecID: specID, Fields: append([]PartitionField(nil), fields...)}
}

func (p *PartitionSpec) FieldByName(name string) (PartitionField, bool) {
	for _, f := range p.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return PartitionField{}, false
}

// ResultSchema resolves each partition field's transform against the
// table schema and returns the logical type of that partition column, in
// spec order — the schema used to build the container-level partition
// record.
func (p *PartitionSpec) ResultSchema(tableSchema *Schema) ([]LogicalType, error) {
	out := make([]LogicalType, len(p.Fields))
	for i, f := range p.Fields {
		src, ok := tableSchema.FieldByID(f.SourceID)
		if !ok {
			return nil, errors.New(ErrFieldNotFound, "partition source field not in table schema", nil).
				AddContext("source_id", f.SourceID)
		}
		rt, err := f.Transform.ResultType(src.Type)
		if err != nil {
			return nil, err
		}
		out[i] = rt
	}
	return out, nil
}

// PartitionValues is an ordered mapping from partition-field name to an
// optional Value, preserving spec field order. Lookup by name is backed
// by an index map kept alongside the parallel slices, so it stays O(1)
// rather than a linear scan.
type PartitionValues struct {
	names  []string
	values []Value // nil entry == null
	index  map[string]int
}

// NewPartitionValues builds partition values in spec field order from a
// PartitionSpec; all values start null and are set via Set.
func NewPartitionValues(spec *PartitionSpec) *PartitionValues {
	pv := &PartitionValues{
		names:  make([]string, len(spec.Fields)),
		values: make([]Value, len(spec.Fields)),
		index:  make(map[string]int, len(spec.Fields)),
	}
	for i, f := range spec.Fields {
		pv.names[i] = f.Name
		pv.index[f.Name] = i
	}
	return pv
}

func (pv *PartitionValues) Set(name string, v Value) error {
	i, ok := pv.index[name]
	if !ok {
		return errors.New(ErrFieldNotFound, "not a partition field", nil).AddContext("field", name)
	}
	pv.values[i] = v
	return nil
}

func (pv *PartitionValues) Get(name string) (Value, bool) {
	i, ok := pv.index[name]
	if !ok {
		return nil, false
	}
	return pv.values[i], pv.values[i] != nil
}

// Names returns the partition field names in spec order.
func (pv *PartitionValues) Names() []string {
	if pv == nil {
		return nil
	}
	return append([]string(nil), pv.names...)
}

// Values returns the values in spec order (nil entries are nulls).
func (pv *PartitionValues) Values() []Value {
	if pv == nil {
		return nil
	}
	return append([]Value(nil), pv.values...)
}

// Equal compares two PartitionValues positionally, used to group data
// files into file_groups by identical partition tuple.
func (pv *PartitionValues) Equal(o *PartitionValues) bool {
	if len(pv.values) != len(o.values) {
		return false
	}
	for i := range pv.values {
		a, b := pv.values[i], o.values[i]
		if (a == nil) != (b == nil) {
			return false
		}
		if a == nil {
			continue
		}
		c, err := a.Compare(b)
		if err != nil || c != 0 {
			return false
		}
	}
	return true
}

// Key renders a stable string key for grouping, built from each value's
// canonical encoding.
func (pv *PartitionValues) Key() string {
	var sb strings.Builder
	for i, v := range pv.values {
		if i > 0 {
			sb.WriteByte('\x1f')
		}
		if v == nil {
			sb.WriteString("\x00null")
			continue
		}
		sb.Write(v.Encode())
	}
	return sb.String()
}
