package table

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/lakeformat/iceberg"
	"github.com/lakeformat/iceberg/pkg/errors"
)

// jsonType is the recursive JSON shape of an Iceberg LogicalType: a bare
// string for primitives ("string", "long", "decimal(9,2)", "fixed[16]"),
// or an object for struct/list/map, matching the external TableMetadata
// JSON interface.
type jsonType struct {
	primitive string
	typeKind  string // "struct" | "list" | "map"
	fields    []jsonSchemaField
	elementID int32
	element   *jsonType
	elementRequired bool
	keyID   int32
	key     *jsonType
	valueID int32
	value   *jsonType
	valueRequired bool
}

type jsonSchemaField struct {
	ID       int32    `json:"id"`
	Name     string   `json:"name"`
	Required bool     `json:"required"`
	Type     jsonType `json:"type"`
	Doc      string   `json:"doc,omitempty"`
}

func (t jsonType) MarshalJSON() ([]byte, error) {
	switch t.typeKind {
	case "struct":
		return json.Marshal(struct {
			Type   string            `json:"type"`
			Fields []jsonSchemaField `json:"fields"`
		}{Type: "struct", Fields: t.fields})
	case "list":
		return json.Marshal(struct {
			Type            string   `json:"type"`
			ElementID       int32    `json:"element-id"`
			Element         jsonType `json:"element"`
			ElementRequired bool     `json:"element-required"`
		}{Type: "list", ElementID: t.elementID, Element: *t.element, ElementRequired: t.elementRequired})
	case "map":
		return json.Marshal(struct {
			Type          string   `json:"type"`
			KeyID         int32    `json:"key-id"`
			Key           jsonType `json:"key"`
			ValueID       int32    `json:"value-id"`
			Value         jsonType `json:"value"`
			ValueRequired bool     `json:"value-required"`
		}{Type: "map", KeyID: t.keyID, Key: *t.key, ValueID: t.valueID, Value: *t.value, ValueRequired: t.valueRequired})
	default:
		return json.Marshal(t.primitive)
	}
}

func (t *jsonType) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		t.primitive = asString
		return nil
	}
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	switch head.Type {
	case "struct":
		var v struct {
			Fields []jsonSchemaField `json:"fields"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		t.typeKind = "struct"
		t.fields = v.Fields
	case "list":
		var v struct {
			ElementID       int32    `json:"element-id"`
			Element         jsonType `json:"element"`
			ElementRequired bool     `json:"element-required"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		t.typeKind = "list"
		t.elementID = v.ElementID
		t.element = &v.Element
		t.elementRequired = v.ElementRequired
	case "map":
		var v struct {
			KeyID         int32    `json:"key-id"`
			Key           jsonType `json:"key"`
			ValueID       int32    `json:"value-id"`
			Value         jsonType `json:"value"`
			ValueRequired bool     `json:"value-required"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		t.typeKind = "map"
		t.keyID = v.KeyID
		t.key = &v.Key
		t.valueID = v.ValueID
		t.value = &v.Value
		t.valueRequired = v.ValueRequired
	default:
		return errors.New(errors.CommonInvalidMetadata, "unknown nested type", nil).AddContext("type", head.Type)
	}
	return nil
}

func logicalTypeToJSON(t iceberg.LogicalType) jsonType {
	switch t.ID {
	case iceberg.TypeStruct:
		fields := make([]jsonSchemaField, len(t.Fields))
		for i, f := range t.Fields {
			fields[i] = jsonSchemaField{ID: f.ID, Name: f.Name, Required: f.Required, Type: logicalTypeToJSON(f.Type), Doc: f.Doc}
		}
		return jsonType{typeKind: "struct", fields: fields}
	case iceberg.TypeList:
		elem := logicalTypeToJSON(*t.Element)
		return jsonType{typeKind: "list", elementID: t.ElementID, element: &elem, elementRequired: t.ElementRequired}
	case iceberg.TypeMap:
		k := logicalTypeToJSON(*t.Key)
		v := logicalTypeToJSON(*t.Value)
		return jsonType{keyID: t.KeyID, key: &k, valueID: t.ValueID, value: &v, valueRequired: t.ValueRequired, typeKind: "map"}
	default:
		return jsonType{primitive: t.String()}
	}
}

func jsonToLogicalType(t jsonType) (iceberg.LogicalType, error) {
	switch t.typeKind {
	case "struct":
		fields := make([]iceberg.SchemaField, len(t.fields))
		for i, f := range t.fields {
			ft, err := jsonToLogicalType(f.Type)
			if err != nil {
				return iceberg.LogicalType{}, err
			}
			fields[i] = iceberg.SchemaField{ID: f.ID, Name: f.Name, Required: f.Required, Type: ft, Doc: f.Doc}
		}
		return iceberg.Struct(fields...), nil
	case "list":
		elem, err := jsonToLogicalType(*t.element)
		if err != nil {
			return iceberg.LogicalType{}, err
		}
		return iceberg.List(t.elementID, elem, t.elementRequired), nil
	case "map":
		k, err := jsonToLogicalType(*t.key)
		if err != nil {
			return iceberg.LogicalType{}, err
		}
		v, err := jsonToLogicalType(*t.value)
		if err != nil {
			return iceberg.LogicalType{}, err
		}
		return iceberg.Map(t.keyID, k, t.valueID, v, t.valueRequired), nil
	default:
		return parsePrimitive(t.primitive)
	}
}

func parsePrimitive(s string) (iceberg.LogicalType, error) {
	switch {
	case s == "boolean":
		return iceberg.Boolean(), nil
	case s == "int":
		return iceberg.Int32(), nil
	case s == "long":
		return iceberg.Int64(), nil
	case s == "float":
		return iceberg.Float32Type(), nil
	case s == "double":
		return iceberg.Float64Type(), nil
	case s == "date":
		return iceberg.Date(), nil
	case s == "time":
		return iceberg.Time(), nil
	case s == "timestamp":
		return iceberg.Timestamp(), nil
	case s == "timestamptz":
		return iceberg.TimestampTZ(), nil
	case s == "string":
		return iceberg.String(), nil
	case s == "uuid":
		return iceberg.UUID(), nil
	case s == "binary":
		return iceberg.Binary(), nil
	case strings.HasPrefix(s, "decimal("):
		var p, sc int
		if _, err := fmt.Sscanf(s, "decimal(%d,%d)", &p, &sc); err != nil {
			return iceberg.LogicalType{}, errors.New(errors.CommonInvalidMetadata, "bad decimal type string", err).AddContext("type", s)
		}
		return iceberg.Decimal(p, sc), nil
	case strings.HasPrefix(s, "fixed["):
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(s, "fixed["), "]"))
		if err != nil {
			return iceberg.LogicalType{}, errors.New(errors.CommonInvalidMetadata, "bad fixed type string", err).AddContext("type", s)
		}
		return iceberg.Fixed(n), nil
	default:
		return iceberg.LogicalType{}, errors.New(errors.CommonInvalidMetadata, "unknown primitive type", nil).AddContext("type", s)
	}
}

// jsonSchema is the wire shape of an iceberg.Schema.
type jsonSchema struct {
	Type     string            `json:"type"`
	SchemaID int32             `json:"schema-id"`
	Fields   []jsonSchemaField `json:"fields"`
}

// MarshalSchema renders a Schema as the canonical JSON used in
// TableMetadata and manifest headers.
func MarshalSchema(s *iceberg.Schema) ([]byte, error) {
	fields := make([]jsonSchemaField, len(s.Fields))
	for i, f := range s.Fields {
		fields[i] = jsonSchemaField{ID: f.ID, Name: f.Name, Required: f.Required, Type: logicalTypeToJSON(f.Type), Doc: f.Doc}
	}
	data, err := json.Marshal(jsonSchema{Type: "struct", SchemaID: s.SchemaID, Fields: fields})
	if err != nil {
		return nil, errors.New(errors.CommonInvalidMetadata, "failed to marshal schema", err)
	}
	return data, nil
}

// UnmarshalSchema parses a Schema from JSON, the inverse of MarshalSchema.
func UnmarshalSchema(data []byte) (*iceberg.Schema, error) {
	var js jsonSchema
	if err := json.Unmarshal(data, &js); err != nil {
		return nil, errors.New(errors.CommonInvalidMetadata, "failed to unmarshal schema", err)
	}
	fields := make([]iceberg.SchemaField, len(js.Fields))
	for i, f := range js.Fields {
		t, err := jsonToLogicalType(f.Type)
		if err != nil {
			return nil, err
		}
		fields[i] = iceberg.SchemaField{ID: f.ID, Name: f.Name, Required: f.Required, Type: t, Doc: f.Doc}
	}
	return iceberg.NewSchema(js.SchemaID, fields...), nil
}

// jsonPartitionSpec is the wire shape of a PartitionSpec.
type jsonPartitionSpec struct {
	SpecID int32                 `json:"spec-id"`
	Fields []jsonPartitionField  `json:"fields"`
}

type jsonPartitionField struct {
	SourceID  int32  `json:"source-id"`
	FieldID   int32  `json:"field-id"`
	Name      string `json:"name"`
	Transform string `json:"transform"`
}

// MarshalPartitionSpec renders a PartitionSpec as JSON.
func MarshalPartitionSpec(p *iceberg.PartitionSpec) ([]byte, error) {
	fields := make([]jsonPartitionField, len(p.Fields))
	for i, f := range p.Fields {
		fields[i] = jsonPartitionField{SourceID: f.SourceID, FieldID: f.FieldID, Name: f.Name, Transform: f.Transform.String()}
	}
	data, err := json.Marshal(jsonPartitionSpec{SpecID: p.SpecID, Fields: fields})
	if err != nil {
		return nil, errors.New(errors.CommonInvalidMetadata, "failed to marshal partition spec", err)
	}
	return data, nil
}

// UnmarshalPartitionSpec parses a PartitionSpec from JSON. schema is
// unused by parsing itself but kept for symmetry with call sites that
// always have both on hand (manifest headers carry both together).
func UnmarshalPartitionSpec(data []byte, schema *iceberg.Schema) (*iceberg.PartitionSpec, error) {
	_ = schema
	var jp jsonPartitionSpec
	if err := json.Unmarshal(data, &jp); err != nil {
		return nil, errors.New(errors.CommonInvalidMetadata, "failed to unmarshal partition spec", err)
	}
	fields := make([]iceberg.PartitionField, len(jp.Fields))
	for i, f := range jp.Fields {
		transform, err := iceberg.ParseTransform(f.Transform)
		if err != nil {
			return nil, err
		}
		fields[i] = iceberg.PartitionField{SourceID: f.SourceID, FieldID: f.FieldID, Name: f.Name, Transform: transform}
	}
	return iceberg.NewPartitionSpec(jp.SpecID, fields...), nil
}
