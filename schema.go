package iceberg

import (
	"github.com/lakeformat/iceberg/pkg/errors"
)

var (
	ErrFieldNotFound   = errors.MustNewCode("iceberg.schema_field_not_found")
	ErrInvalidEvolution = errors.MustNewCode("iceberg.schema_invalid_evolution")
)

// SchemaField is one field of a Schema or nested struct. The ID
// is immutable once assigned; Name may change across schema versions.
type SchemaField struct {
	ID       int32       `json:"id"`
	Name     string      `json:"name"`
	Required bool        `json:"required"`
	Type     LogicalType `json:"-"`
	Doc      string      `json:"doc,omitempty"`
}

// Schema is an ordered set of fields plus a stable schema_id. Schemas are
// immutable once published; evolution appends a new Schema to
// the table metadata's history rather than mutating one in place.
type Schema struct {
	SchemaID int32
	Fields   []SchemaField
}

// NewSchema builds a Schema, assigning schemaID.
func NewSchema(schemaID int32, fields ...SchemaField) *Schema {
	return &Schema{SchemaID: schemaID, Fields: append([]SchemaField(nil), fields...)}
}

// FieldByID looks up a field by its stable ID.
func (s *Schema) FieldByID(id int32) (SchemaField, bool) {
	for _, f := range s.Fields {
		if f.ID == id {
			return f, true
		}
	}
	return SchemaField{}, false
}

// FieldByName looks up a field by name, case-sensitively.
func (s *Schema) FieldByName(name string) (SchemaField, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return SchemaField{}, false
}

// HighestFieldID returns the largest field ID in the schema, including
// nested struct/list/map fields, used to compute the next fresh field ID
// when evolving (table metadata tracks this as last_column_id).
func (s *Schema) HighestFieldID() int32 {
	var max int32
	var walk func(LogicalType)
	walk = func(t LogicalType) {
		switch t.ID {
		case TypeStruct:
			for _, f := range t.Fields {
				if f.ID > max {
					max = f.ID
				}
				walk(f.Type)
			}
		case TypeList:
			if t.ElementID > max {
				max = t.ElementID
			}
			walk(*t.Element)
		case TypeMap:
			if t.KeyID > max {
				max = t.KeyID
			}
			if t.ValueID > max {
				max = t.ValueID
			}
			walk(*t.Key)
			walk(*t.Value)
		}
	}
	for _, f := range s.Fields {
		if f.ID > max {
			max = f.ID
		}
		walk(f.Type)
	}
	return max
}

// EvolutionKind classifies one difference between two schema versions.
type EvolutionKind int

const (
	EvolveAddOptional EvolutionKind = iota
	EvolveRename
	EvolvePromote
	EvolveDrop
)

// ValidateEvolution checks that next is a legal evolution of prev per
// fields may be added (must be optional, fresh ID), renamed
// (same ID), promoted (int32->int64, float32->float64, decimal widening),
// or dropped (made absent from the current schema). Any other change
// (narrowing, required-without-default add, required made optional) is
// rejected; reuse of a dropped ID with a different type is rejected by
// the caller, not here.
func ValidateEvolution(prev, next *Schema) error {
	prevByID := make(map[int32]SchemaField, len(prev.Fields))
	for _, f := range prev.Fields {
		prevByID[f.ID] = f
	}
	seen := make(map[int32]bool, len(next.Fields))
	for _, nf := range next.Fields {
		seen[nf.ID] = true
		pf, existed := prevByID[nf.ID]
		if !existed {
			if nf.Required {
				return errors.New(ErrInvalidEvolution, "new field must be optional", nil).
					AddContext("field", nf.Name).AddContext("id", nf.ID)
			}
			continue
		}
		if !pf.Type.Equal(nf.Type) && !pf.Type.PromotesTo(nf.Type) {
			return errors.New(ErrInvalidEvolution, "illegal type change", nil).
				AddContext("field_id", nf.ID).
				AddContext("from", pf.Type.String()).AddContext("to", nf.Type.String())
		}
		if pf.Required && !nf.Required {
			return errors.New(ErrInvalidEvolution, "cannot widen a required field to optional directly", nil).
				AddContext("field_id", nf.ID)
		}
	}
	// Dropped fields are simply absent from next. Reuse of a dropped ID
	// with a different type is checked by the caller (table.Transaction's
	// commit) against the whole schema history, not by this function.
	_ = seen
	return nil
}
