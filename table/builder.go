package table

import (
	"github.com/lakeformat/iceberg"
)

// DefaultSchemaID and DefaultPartitionSpecID are the IDs assigned to the
// first schema/spec of a newly created table.
const (
	DefaultSchemaID        int32 = 0
	DefaultPartitionSpecID int32 = 0
)

// Builder assembles the initial TableMetadata for a table that does not
// exist in a catalog yet (views use view.Builder). It holds only the inputs a CREATE TABLE
// call supplies; Build produces the immutable, snapshot-less metadata that
// a subsequent Transaction commits against.
type Builder struct {
	location   string
	schema     *iceberg.Schema
	spec       *iceberg.PartitionSpec
	properties map[string]string
}

// NewBuilder starts a builder for a table rooted at location with the
// given unpartitioned-by-default schema.
func NewBuilder(location string, schema *iceberg.Schema) *Builder {
	return &Builder{
		location:   location,
		schema:     schema,
		spec:       iceberg.NewPartitionSpec(DefaultPartitionSpecID),
		properties: map[string]string{},
	}
}

// WithPartitionSpec sets a non-default partition spec.
func (b *Builder) WithPartitionSpec(spec *iceberg.PartitionSpec) *Builder {
	b.spec = spec
	return b
}

// WithProperty sets one table property.
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

// Build constructs the initial TableMetadata, ready to be written to a
// catalog's register_table call. nowMs is the caller-supplied wall-clock
// timestamp (tables never read the clock themselves, so commits stay
// reproducible in tests).
func (b *Builder) Build(nowMs int64) *TableMetadata {
	return NewTableMetadata(b.location, b.schema, b.spec, b.properties, nowMs)
}
