// Package view implements the view capability: a catalog entry whose
// metadata holds a history of SQL representations rather than snapshots
// and manifests. Views are built and committed through the same
// TableLike/Catalog surface tables use; they carry no scan planner.
package view

import (
	"context"
	"encoding/json"

	"github.com/lakeformat/iceberg"
	"github.com/lakeformat/iceberg/io"
	"github.com/lakeformat/iceberg/pkg/errors"
	"github.com/lakeformat/iceberg/table"
)

// FormatVersion is the ViewMetadata JSON format version this package reads
// and writes.
const FormatVersion = 1

var ErrMetadataCodec = errors.MustNewCode("view.metadata_codec")

// Summary records why a version was created.
type Summary struct {
	Operation     string `json:"operation"` // "create" | "replace"
	EngineVersion string `json:"engine-version,omitempty"`
}

// Representation is a logical definition of the view's query. Only the SQL
// representation is defined. Type is kept as read and is not checked, so a
// representation of another type still loads, but only the fields listed
// here survive a round trip; Raw is neither filled nor written by the JSON
// codec.
type Representation struct {
	Type             string            `json:"type"` // "sql"; not checked
	SQL              string            `json:"sql"`
	Dialect          string            `json:"dialect"`
	SchemaID         *int32            `json:"schema-id,omitempty"`
	DefaultCatalog   string            `json:"default-catalog,omitempty"`
	DefaultNamespace []string          `json:"default-namespace,omitempty"`
	FieldAliases     []string          `json:"field-aliases,omitempty"`
	FieldDocs        []string          `json:"field-docs,omitempty"`
	Raw              json.RawMessage   `json:"-"`
}

// Validate enforces the two fields every representation needs regardless
// of dialect: a non-empty query body and a non-empty dialect name, so a
// reader never has to guess how to parse SQL with no declared grammar.
func (r Representation) Validate() error {
	if r.SQL == "" {
		return errors.New(errors.CommonValidationFailure, "view representation sql cannot be empty", nil)
	}
	if r.Dialect == "" {
		return errors.New(errors.CommonValidationFailure, "view representation dialect cannot be empty", nil)
	}
	return nil
}

// Version is one entry of a view's definition history: the SQL
// representation(s) valid as of timestamp_ms, under the schema named by
// current_schema_id at the time.
type Version struct {
	VersionID       int64             `json:"version-id"`
	TimestampMs     int64             `json:"timestamp-ms"`
	Summary         Summary           `json:"summary"`
	Representations []Representation  `json:"representations"`
}

// VersionLogEntry records when the current-version pointer moved.
type VersionLogEntry struct {
	TimestampMs int64 `json:"timestamp-ms"`
	VersionID   int64 `json:"version-id"`
}

// Metadata is the full durable state of a view: schema history plus the
// version history of its SQL representations. Instances are immutable;
// every mutation (WithVersion, WithSchema, ...) returns a new value, the
// same convention table.TableMetadata follows.
type Metadata struct {
	FormatVersion   int                `json:"format-version"`
	ViewUUID        string             `json:"view-uuid"`
	Location        string             `json:"location"`
	Schemas         []*iceberg.Schema  `json:"-"`
	CurrentSchemaID int32              `json:"current-schema-id"`
	Versions        []Version          `json:"versions"`
	CurrentVersionID int64             `json:"current-version-id"`
	VersionLog      []VersionLogEntry  `json:"version-log"`
	Properties      map[string]string  `json:"properties"`
}

// CurrentSchema returns the schema named by CurrentSchemaID.
func (m *Metadata) CurrentSchema() (*iceberg.Schema, error) {
	for _, s := range m.Schemas {
		if s.SchemaID == m.CurrentSchemaID {
			return s, nil
		}
	}
	return nil, errors.New(errors.CommonInvalidMetadata, "current schema id not found in view schema history", nil).
		AddContext("schema_id", m.CurrentSchemaID)
}

// CurrentVersion returns the Version named by CurrentVersionID.
func (m *Metadata) CurrentVersion() (*Version, error) {
	for i := range m.Versions {
		if m.Versions[i].VersionID == m.CurrentVersionID {
			return &m.Versions[i], nil
		}
	}
	return nil, errors.New(errors.CommonNotFound, "current view version not found in version history", nil).
		AddContext("version_id", m.CurrentVersionID)
}

// SQL returns the current version's SQL representation. If dialect is
// non-empty, the first representation matching it is preferred; otherwise
// (or if no representation matches) the first representation is returned,
// matching the fallback-to-dialect-match rule a view reader applies.
func (m *Metadata) SQL(dialect string) (Representation, error) {
	v, err := m.CurrentVersion()
	if err != nil {
		return Representation{}, err
	}
	if len(v.Representations) == 0 {
		return Representation{}, errors.New(errors.CommonInvalidMetadata, "view version has no representations", nil).
			AddContext("version_id", v.VersionID)
	}
	if dialect != "" {
		for _, r := range v.Representations {
			if r.Dialect == dialect {
				return r, nil
			}
		}
	}
	return v.Representations[0], nil
}

// WithVersion returns a new Metadata with v appended to history and the
// current-version pointer moved to it.
func (m *Metadata) WithVersion(v Version) *Metadata {
	next := m.clone()
	next.Versions = append(append([]Version(nil), m.Versions...), v)
	next.CurrentVersionID = v.VersionID
	next.VersionLog = append(append([]VersionLogEntry(nil), m.VersionLog...), VersionLogEntry{
		TimestampMs: v.TimestampMs,
		VersionID:   v.VersionID,
	})
	return next
}

// WithSchema returns a new Metadata with schema appended to the schema
// history and made current.
func (m *Metadata) WithSchema(schema *iceberg.Schema) *Metadata {
	next := m.clone()
	next.Schemas = append(append([]*iceberg.Schema(nil), m.Schemas...), schema)
	next.CurrentSchemaID = schema.SchemaID
	return next
}

// WithProperties returns a new Metadata with updated merged into
// Properties.
func (m *Metadata) WithProperties(updated map[string]string) *Metadata {
	next := m.clone()
	props := make(map[string]string, len(m.Properties)+len(updated))
	for k, v := range m.Properties {
		props[k] = v
	}
	for k, v := range updated {
		props[k] = v
	}
	next.Properties = props
	return next
}

func (m *Metadata) clone() *Metadata {
	next := *m
	next.Schemas = m.Schemas
	next.Versions = m.Versions
	next.VersionLog = m.VersionLog
	next.Properties = m.Properties
	return &next
}

// nextVersionID returns the version ID the next WithVersion call should
// use: one past the highest ID seen so far.
func (m *Metadata) nextVersionID() int64 {
	var max int64
	for _, v := range m.Versions {
		if v.VersionID > max {
			max = v.VersionID
		}
	}
	return max + 1
}

// --- JSON wire encoding. ---

type wireMetadata struct {
	FormatVersion    int                `json:"format-version"`
	ViewUUID         string             `json:"view-uuid"`
	Location         string             `json:"location"`
	Schemas          []json.RawMessage  `json:"schemas"`
	CurrentSchemaID  int32              `json:"current-schema-id"`
	Versions         []Version          `json:"versions"`
	CurrentVersionID int64              `json:"current-version-id"`
	VersionLog       []VersionLogEntry  `json:"version-log"`
	Properties       map[string]string  `json:"properties"`
}

// MarshalMetadata renders m as the canonical ViewMetadata JSON document
// written to a numbered metadata file.
func MarshalMetadata(m *Metadata) ([]byte, error) {
	schemas := make([]json.RawMessage, len(m.Schemas))
	for i, s := range m.Schemas {
		raw, err := table.MarshalSchema(s)
		if err != nil {
			return nil, err
		}
		schemas[i] = raw
	}
	w := wireMetadata{
		FormatVersion:    m.FormatVersion,
		ViewUUID:         m.ViewUUID,
		Location:         m.Location,
		Schemas:          schemas,
		CurrentSchemaID:  m.CurrentSchemaID,
		Versions:         m.Versions,
		CurrentVersionID: m.CurrentVersionID,
		VersionLog:       m.VersionLog,
		Properties:       m.Properties,
	}
	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return nil, errors.New(ErrMetadataCodec, "failed to marshal view metadata", err)
	}
	return data, nil
}

// UnmarshalMetadata parses a ViewMetadata JSON document, the inverse of
// MarshalMetadata.
func UnmarshalMetadata(data []byte) (*Metadata, error) {
	var w wireMetadata
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, errors.New(ErrMetadataCodec, "failed to unmarshal view metadata", err)
	}
	if w.FormatVersion != FormatVersion {
		return nil, errors.New(errors.CommonUnsupported, "unsupported view metadata format version", nil).
			AddContext("format_version", w.FormatVersion)
	}
	schemas := make([]*iceberg.Schema, len(w.Schemas))
	for i, raw := range w.Schemas {
		s, err := table.UnmarshalSchema(raw)
		if err != nil {
			return nil, err
		}
		schemas[i] = s
	}
	return &Metadata{
		FormatVersion:    w.FormatVersion,
		ViewUUID:         w.ViewUUID,
		Location:         w.Location,
		Schemas:          schemas,
		CurrentSchemaID:  w.CurrentSchemaID,
		Versions:         w.Versions,
		CurrentVersionID: w.CurrentVersionID,
		VersionLog:       w.VersionLog,
		Properties:       w.Properties,
	}, nil
}

// LoadMetadata fetches and parses the metadata file at path from store.
func LoadMetadata(ctx context.Context, store io.ObjectStore, path string) (*Metadata, error) {
	data, err := store.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	return UnmarshalMetadata(data)
}

// WriteMetadataFile persists m's JSON encoding to path in store.
func WriteMetadataFile(ctx context.Context, store io.ObjectStore, path string, m *Metadata) error {
	data, err := MarshalMetadata(m)
	if err != nil {
		return err
	}
	return store.Put(ctx, path, data)
}

// MetadataFileName renders the numbered metadata file name, mirroring
// table.MetadataFileName: "v<N>.metadata.json" for the filesystem catalog,
// "<N>-<ulid>.metadata.json" for the metastore catalog.
func MetadataFileName(version int64, ulidSuffix bool) string {
	return table.MetadataFileName(version, ulidSuffix)
}
