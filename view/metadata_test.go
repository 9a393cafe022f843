package view

import (
	"testing"

	"github.com/lakeformat/iceberg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema() *iceberg.Schema {
	return iceberg.NewSchema(0,
		iceberg.SchemaField{ID: 1, Name: "id", Required: true, Type: iceberg.Int64()},
		iceberg.SchemaField{ID: 2, Name: "name", Required: false, Type: iceberg.String()},
	)
}

func TestRepresentationValidate(t *testing.T) {
	cases := []struct {
		name string
		rep  Representation
		ok   bool
	}{
		{"valid", Representation{SQL: "select 1", Dialect: "ANSI"}, true},
		{"missing sql", Representation{SQL: "", Dialect: "ANSI"}, false},
		{"missing dialect", Representation{SQL: "select 1", Dialect: ""}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.rep.Validate()
			if c.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestMetadataMarshalRoundTrip(t *testing.T) {
	m := &Metadata{
		FormatVersion:   FormatVersion,
		ViewUUID:        "11111111-1111-1111-1111-111111111111",
		Location:        "s3://bucket/views/orders_view",
		Schemas:         []*iceberg.Schema{testSchema()},
		CurrentSchemaID: 0,
		Versions: []Version{{
			VersionID:   1,
			TimestampMs: 1000,
			Summary:     Summary{Operation: "create"},
			Representations: []Representation{
				{Type: "sql", SQL: "select id, name from orders", Dialect: "ANSI"},
			},
		}},
		CurrentVersionID: 1,
		VersionLog:       []VersionLogEntry{{TimestampMs: 1000, VersionID: 1}},
		Properties:       map[string]string{"owner": "data-eng"},
	}

	data, err := MarshalMetadata(m)
	require.NoError(t, err)

	got, err := UnmarshalMetadata(data)
	require.NoError(t, err)

	assert.Equal(t, m.ViewUUID, got.ViewUUID)
	assert.Equal(t, m.Location, got.Location)
	assert.Equal(t, m.CurrentVersionID, got.CurrentVersionID)
	assert.Equal(t, m.Properties, got.Properties)
	require.Len(t, got.Versions, 1)
	assert.Equal(t, m.Versions[0].Representations[0].SQL, got.Versions[0].Representations[0].SQL)

	schema, err := got.CurrentSchema()
	require.NoError(t, err)
	assert.Equal(t, int32(0), schema.SchemaID)
	assert.Len(t, schema.Fields, 2)
}

func TestUnmarshalMetadataRejectsWrongFormatVersion(t *testing.T) {
	_, err := UnmarshalMetadata([]byte(`{"format-version": 99}`))
	assert.Error(t, err)
}

func TestMetadataSQLDialectFallback(t *testing.T) {
	m := &Metadata{
		Versions: []Version{{
			VersionID: 1,
			Representations: []Representation{
				{SQL: "select 1", Dialect: "ANSI"},
				{SQL: "SELECT 1", Dialect: "Spark"},
			},
		}},
		CurrentVersionID: 1,
	}

	rep, err := m.SQL("Spark")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", rep.SQL)

	// No matching dialect falls back to the first representation.
	rep, err = m.SQL("Trino")
	require.NoError(t, err)
	assert.Equal(t, "select 1", rep.SQL)
}

func TestWithVersionAppendsHistory(t *testing.T) {
	m := &Metadata{
		Schemas:         []*iceberg.Schema{testSchema()},
		CurrentSchemaID: 0,
	}
	v1 := Version{VersionID: 1, TimestampMs: 100, Summary: Summary{Operation: "create"},
		Representations: []Representation{{SQL: "select 1", Dialect: "ANSI"}}}
	m1 := m.WithVersion(v1)
	assert.Len(t, m1.Versions, 1)
	assert.Equal(t, int64(1), m1.CurrentVersionID)
	assert.Equal(t, int64(2), m1.nextVersionID())

	v2 := Version{VersionID: m1.nextVersionID(), TimestampMs: 200, Summary: Summary{Operation: "replace"},
		Representations: []Representation{{SQL: "select 2", Dialect: "ANSI"}}}
	m2 := m1.WithVersion(v2)
	assert.Len(t, m2.Versions, 2)
	assert.Equal(t, int64(2), m2.CurrentVersionID)
	// m1 must be untouched — immutability of every With* mutation.
	assert.Len(t, m1.Versions, 1)
}
