package view

import (
	"github.com/google/uuid"
	"github.com/lakeformat/iceberg"
)

// DefaultSchemaID is the ID assigned to a newly created view's first
// schema.
const DefaultSchemaID int32 = 0

// Builder assembles the initial Metadata for a view that does not exist in
// a catalog yet, mirroring table.Builder's shape: it holds only the
// inputs a CREATE VIEW call supplies, and Build produces the immutable,
// single-version metadata a subsequent Transaction commits against.
type Builder struct {
	location   string
	schema     *iceberg.Schema
	sql        string
	dialect    string
	properties map[string]string
}

// NewBuilder starts a builder for a view rooted at location, defined by
// sql under dialect, against schema.
func NewBuilder(location, sql, dialect string, schema *iceberg.Schema) *Builder {
	return &Builder{
		location:   location,
		schema:     schema,
		sql:        sql,
		dialect:    dialect,
		properties: map[string]string{},
	}
}

// WithProperty sets one view property.
func (b *Builder) WithProperty(key, value string) *Builder {
	b.properties[key] = value
	return b
}

// WithProperties merges props into the builder's properties.
func (b *Builder) WithProperties(props map[string]string) *Builder {
	for k, v := range props {
		b.properties[k] = v
	}
	return b
}

// Build constructs the initial Metadata: one Version holding the SQL
// representation under operation "create", ready to write to a catalog's
// register_table call. nowMs is the caller-supplied wall-clock timestamp.
func (b *Builder) Build(nowMs int64) (*Metadata, error) {
	rep := Representation{Type: "sql", SQL: b.sql, Dialect: b.dialect}
	if err := rep.Validate(); err != nil {
		return nil, err
	}
	version := Version{
		VersionID:       1,
		TimestampMs:     nowMs,
		Summary:         Summary{Operation: "create"},
		Representations: []Representation{rep},
	}
	return &Metadata{
		FormatVersion:    FormatVersion,
		ViewUUID:         uuid.NewString(),
		Location:         b.location,
		Schemas:          []*iceberg.Schema{b.schema},
		CurrentSchemaID:  b.schema.SchemaID,
		Versions:         []Version{version},
		CurrentVersionID: 1,
		VersionLog:       []VersionLogEntry{{TimestampMs: nowMs, VersionID: 1}},
		Properties:       b.properties,
	}, nil
}
