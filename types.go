// Package iceberg implements the read/write core of an Iceberg-style table
// format: the value/type model, schema and partition-spec machinery, and
// predicate expressions shared by the table, catalog, view and io
// subpackages.
package iceberg

import "fmt"

// TypeID identifies the shape of a LogicalType without needing a type
// switch on the full struct.
type TypeID int

const (
	TypeBoolean TypeID = iota
	TypeInt32
	TypeInt64
	TypeFloat32
	TypeFloat64
	TypeDecimal
	TypeDate
	TypeTime
	TypeTimestamp
	TypeTimestampTZ
	TypeString
	TypeUUID
	TypeFixed
	TypeBinary
	TypeStruct
	TypeList
	TypeMap
)

func (t TypeID) String() string {
	switch t {
	case TypeBoolean:
		return "boolean"
	case TypeInt32:
		return "int"
	case TypeInt64:
		return "long"
	case TypeFloat32:
		return "float"
	case TypeFloat64:
		return "double"
	case TypeDecimal:
		return "decimal"
	case TypeDate:
		return "date"
	case TypeTime:
		return "time"
	case TypeTimestamp:
		return "timestamp"
	case TypeTimestampTZ:
		return "timestamptz"
	case TypeString:
		return "string"
	case TypeUUID:
		return "uuid"
	case TypeFixed:
		return "fixed"
	case TypeBinary:
		return "binary"
	case TypeStruct:
		return "struct"
	case TypeList:
		return "list"
	case TypeMap:
		return "map"
	default:
		return "unknown"
	}
}

// LogicalType is the tagged variant over primitive and nested Iceberg
// types described in  Only the fields relevant to ID are
// populated; callers switch on ID first.
type LogicalType struct {
	ID TypeID

	// TypeDecimal
	Precision int
	Scale     int

	// TypeFixed
	Length int

	// TypeStruct
	Fields []SchemaField

	// TypeList
	ElementID       int32
	Element         *LogicalType
	ElementRequired bool

	// TypeMap
	KeyID         int32
	Key           *LogicalType
	ValueID       int32
	Value         *LogicalType
	ValueRequired bool
}

func Boolean() LogicalType     { return LogicalType{ID: TypeBoolean} }
func Int32() LogicalType       { return LogicalType{ID: TypeInt32} }
func Int64() LogicalType       { return LogicalType{ID: TypeInt64} }
func Float32Type() LogicalType { return LogicalType{ID: TypeFloat32} }
func Float64Type() LogicalType { return LogicalType{ID: TypeFloat64} }
func Date() LogicalType        { return LogicalType{ID: TypeDate} }
func Time() LogicalType        { return LogicalType{ID: TypeTime} }
func Timestamp() LogicalType   { return LogicalType{ID: TypeTimestamp} }
func TimestampTZ() LogicalType { return LogicalType{ID: TypeTimestampTZ} }
func String() LogicalType      { return LogicalType{ID: TypeString} }
func UUID() LogicalType        { return LogicalType{ID: TypeUUID} }
func Binary() LogicalType      { return LogicalType{ID: TypeBinary} }

func Decimal(precision, scale int) LogicalType {
	return LogicalType{ID: TypeDecimal, Precision: precision, Scale: scale}
}

func Fixed(length int) LogicalType {
	return LogicalType{ID: TypeFixed, Length: length}
}

func Struct(fields ...SchemaField) LogicalType {
	return LogicalType{ID: TypeStruct, Fields: fields}
}

func List(elementID int32, element LogicalType, required bool) LogicalType {
	return LogicalType{ID: TypeList, ElementID: elementID, Element: &element, ElementRequired: required}
}

func Map(keyID int32, key LogicalType, valueID int32, value LogicalType, valueRequired bool) LogicalType {
	return LogicalType{ID: TypeMap, KeyID: keyID, Key: &key, ValueID: valueID, Value: &value, ValueRequired: valueRequired}
}

// IsPrimitive reports whether the type is a leaf (not struct/list/map).
func (t LogicalType) IsPrimitive() bool {
	switch t.ID {
	case TypeStruct, TypeList, TypeMap:
		return false
	default:
		return true
	}
}

// String renders the Iceberg type-string form, e.g. "decimal(9,2)" or
// "fixed[16]", used in schema JSON.
func (t LogicalType) String() string {
	switch t.ID {
	case TypeDecimal:
		return fmt.Sprintf("decimal(%d,%d)", t.Precision, t.Scale)
	case TypeFixed:
		return fmt.Sprintf("fixed[%d]", t.Length)
	case TypeStruct:
		return "struct"
	case TypeList:
		return "list"
	case TypeMap:
		return "map"
	default:
		return t.ID.String()
	}
}

// Equal compares two types structurally: nested struct fields are matched
// by ID and type only, so their names, docs and required flags are not
// compared.
func (t LogicalType) Equal(o LogicalType) bool {
	if t.ID != o.ID {
		return false
	}
	switch t.ID {
	case TypeDecimal:
		return t.Precision == o.Precision && t.Scale == o.Scale
	case TypeFixed:
		return t.Length == o.Length
	case TypeStruct:
		if len(t.Fields) != len(o.Fields) {
			return false
		}
		for i := range t.Fields {
			if t.Fields[i].ID != o.Fields[i].ID || !t.Fields[i].Type.Equal(o.Fields[i].Type) {
				return false
			}
		}
		return true
	case TypeList:
		return t.ElementRequired == o.ElementRequired && t.Element.Equal(*o.Element)
	case TypeMap:
		return t.ValueRequired == o.ValueRequired && t.Key.Equal(*o.Key) && t.Value.Equal(*o.Value)
	default:
		return true
	}
}

// PromotesTo reports whether t can be promoted to o per the allowed schema
// evolutions in int32->int64, float32->float64, and
// decimal(p,s)->decimal(p',s) with p'>=p.
func (t LogicalType) PromotesTo(o LogicalType) bool {
	if t.Equal(o) {
		return true
	}
	switch {
	case t.ID == TypeInt32 && o.ID == TypeInt64:
		return true
	case t.ID == TypeFloat32 && o.ID == TypeFloat64:
		return true
	case t.ID == TypeDecimal && o.ID == TypeDecimal:
		return t.Scale == o.Scale && o.Precision >= t.Precision
	default:
		return false
	}
}
