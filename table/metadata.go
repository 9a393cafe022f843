package table

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lakeformat/iceberg"
	"github.com/lakeformat/iceberg/io"
	"github.com/lakeformat/iceberg/pkg/errors"
	"github.com/lakeformat/iceberg/utils"
)

// FormatVersion is the TableMetadata JSON format version this package
// reads and writes. Only v2 is supported.
const FormatVersion = 2

var (
	ErrMetadataCodec = errors.MustNewCode("table.metadata_codec")
)

// SnapshotRef names a branch or tag pointing at a snapshot.
type SnapshotRef struct {
	SnapshotID             int64  `json:"snapshot-id"`
	Type                   string `json:"type"` // "branch" | "tag"
	MaxRefAgeMs            *int64 `json:"max-ref-age-ms,omitempty"`
	MaxSnapshotAgeMs       *int64 `json:"max-snapshot-age-ms,omitempty"`
	MinSnapshotsToKeep     *int32 `json:"min-snapshots-to-keep,omitempty"`
}

// Snapshot is one entry of a table's snapshot history.
type Snapshot struct {
	SnapshotID       int64             `json:"snapshot-id"`
	ParentSnapshotID *int64            `json:"parent-snapshot-id,omitempty"`
	SequenceNumber   int64             `json:"sequence-number"`
	TimestampMs      int64             `json:"timestamp-ms"`
	ManifestListPath string            `json:"manifest-list"`
	Summary          map[string]string `json:"summary"`
	SchemaID         *int32            `json:"schema-id,omitempty"`
}

// SnapshotLogEntry records when the current-snapshot pointer moved, used
// to audit and to roll back to a past snapshot.
type SnapshotLogEntry struct {
	TimestampMs int64 `json:"timestamp-ms"`
	SnapshotID  int64 `json:"snapshot-id"`
}

// MetadataLogEntry records a prior metadata file location.
type MetadataLogEntry struct {
	TimestampMs      int64  `json:"timestamp-ms"`
	MetadataFilePath string `json:"metadata-file"`
}

// TableMetadata is the full durable state of a table:
// schema/partition-spec history, the snapshot log, and table-wide
// properties. Instances are immutable; every mutation (WithSnapshot,
// WithSchema, ...) returns a new value.
type TableMetadata struct {
	FormatVersion      int                 `json:"format-version"`
	TableUUID          string              `json:"table-uuid"`
	Location           string              `json:"location"`
	LastSequenceNumber int64               `json:"last-sequence-number"`
	LastUpdatedMs      int64               `json:"last-updated-ms"`
	LastColumnID       int32               `json:"last-column-id"`
	Schemas            []*iceberg.Schema   `json:"-"`
	CurrentSchemaID    int32               `json:"current-schema-id"`
	PartitionSpecs     []*iceberg.PartitionSpec `json:"-"`
	DefaultSpecID      int32               `json:"default-spec-id"`
	LastPartitionID    int32               `json:"last-partition-id"`
	Properties         map[string]string   `json:"properties"`
	CurrentSnapshotID  *int64              `json:"current-snapshot-id,omitempty"`
	Snapshots          []Snapshot          `json:"snapshots"`
	SnapshotLog        []SnapshotLogEntry  `json:"snapshot-log"`
	MetadataLog        []MetadataLogEntry  `json:"metadata-log"`
	Refs               map[string]SnapshotRef `json:"refs"`
}

// CurrentSchema returns the schema named by CurrentSchemaID.
func (m *TableMetadata) CurrentSchema() (*iceberg.Schema, error) {
	for _, s := range m.Schemas {
		if s.SchemaID == m.CurrentSchemaID {
			return s, nil
		}
	}
	return nil, errors.New(errors.CommonInvalidMetadata, "current schema id not found in schema history", nil).
		AddContext("schema_id", m.CurrentSchemaID)
}

// DefaultSpec returns the partition spec named by DefaultSpecID.
func (m *TableMetadata) DefaultSpec() (*iceberg.PartitionSpec, error) {
	for _, p := range m.PartitionSpecs {
		if p.SpecID == m.DefaultSpecID {
			return p, nil
		}
	}
	return nil, errors.New(errors.CommonInvalidMetadata, "default partition spec id not found in spec history", nil).
		AddContext("spec_id", m.DefaultSpecID)
}

// CurrentSnapshot returns the snapshot CurrentSnapshotID points at, or nil
// if the table has no snapshots yet.
func (m *TableMetadata) CurrentSnapshot() (*Snapshot, error) {
	if m.CurrentSnapshotID == nil {
		return nil, nil
	}
	return m.SnapshotByID(*m.CurrentSnapshotID)
}

func (m *TableMetadata) SnapshotByID(id int64) (*Snapshot, error) {
	for i := range m.Snapshots {
		if m.Snapshots[i].SnapshotID == id {
			return &m.Snapshots[i], nil
		}
	}
	return nil, errors.New(errors.CommonNotFound, "snapshot not found", nil).AddContext("snapshot_id", id)
}

// WithSnapshot returns a new TableMetadata with snap appended to history,
// the current-snapshot pointer moved to it, and bookkeeping fields bumped
// (last-sequence-number, last-updated-ms, snapshot-log) — the pure
// metadata-construction half of a commit.
func (m *TableMetadata) WithSnapshot(snap Snapshot) *TableMetadata {
	next := m.clone()
	next.Snapshots = append(append([]Snapshot(nil), m.Snapshots...), snap)
	id := snap.SnapshotID
	next.CurrentSnapshotID = &id
	next.LastSequenceNumber = snap.SequenceNumber
	next.LastUpdatedMs = snap.TimestampMs
	next.SnapshotLog = append(append([]SnapshotLogEntry(nil), m.SnapshotLog...), SnapshotLogEntry{
		TimestampMs: snap.TimestampMs,
		SnapshotID:  snap.SnapshotID,
	})
	if name, ref, ok := m.mainRef(); ok {
		ref.SnapshotID = snap.SnapshotID
		next.Refs = cloneRefs(m.Refs)
		next.Refs[name] = ref
	} else {
		next.Refs = cloneRefs(m.Refs)
		next.Refs["main"] = SnapshotRef{SnapshotID: snap.SnapshotID, Type: "branch"}
	}
	return next
}

func (m *TableMetadata) mainRef() (string, SnapshotRef, bool) {
	if ref, ok := m.Refs["main"]; ok {
		return "main", ref, true
	}
	return "", SnapshotRef{}, false
}

func cloneRefs(refs map[string]SnapshotRef) map[string]SnapshotRef {
	out := make(map[string]SnapshotRef, len(refs))
	for k, v := range refs {
		out[k] = v
	}
	return out
}

// WithSchema returns a new TableMetadata with schema appended to the
// schema history and made current.
func (m *TableMetadata) WithSchema(schema *iceberg.Schema) *TableMetadata {
	next := m.clone()
	next.Schemas = append(append([]*iceberg.Schema(nil), m.Schemas...), schema)
	next.CurrentSchemaID = schema.SchemaID
	if h := schema.HighestFieldID(); h > next.LastColumnID {
		next.LastColumnID = h
	}
	return next
}

// WithPartitionSpec returns a new TableMetadata with spec appended to the
// partition-spec history and made the default.
func (m *TableMetadata) WithPartitionSpec(spec *iceberg.PartitionSpec) *TableMetadata {
	next := m.clone()
	next.PartitionSpecs = append(append([]*iceberg.PartitionSpec(nil), m.PartitionSpecs...), spec)
	next.DefaultSpecID = spec.SpecID
	for _, f := range spec.Fields {
		if f.FieldID > next.LastPartitionID {
			next.LastPartitionID = f.FieldID
		}
	}
	return next
}

// WithProperties returns a new TableMetadata with updated merged into
// Properties.
func (m *TableMetadata) WithProperties(updated map[string]string) *TableMetadata {
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

// WithoutProperties returns a new TableMetadata with the named keys
// removed from Properties.
func (m *TableMetadata) WithoutProperties(keys []string) *TableMetadata {
	next := m.clone()
	props := make(map[string]string, len(m.Properties))
	for k, v := range m.Properties {
		props[k] = v
	}
	for _, k := range keys {
		delete(props, k)
	}
	next.Properties = props
	return next
}

func (m *TableMetadata) clone() *TableMetadata {
	next := *m
	next.Schemas = m.Schemas
	next.PartitionSpecs = m.PartitionSpecs
	next.Properties = m.Properties
	next.Snapshots = m.Snapshots
	next.SnapshotLog = m.SnapshotLog
	next.MetadataLog = m.MetadataLog
	next.Refs = m.Refs
	return &next
}

// NewTableMetadata builds the initial, snapshot-less metadata for a newly
// created table.
func NewTableMetadata(location string, schema *iceberg.Schema, spec *iceberg.PartitionSpec, properties map[string]string, nowMs int64) *TableMetadata {
	if properties == nil {
		properties = map[string]string{}
	}
	return &TableMetadata{
		FormatVersion:      FormatVersion,
		TableUUID:          uuid.NewString(),
		Location:           location,
		LastSequenceNumber: 0,
		LastUpdatedMs:      nowMs,
		LastColumnID:       schema.HighestFieldID(),
		Schemas:            []*iceberg.Schema{schema},
		CurrentSchemaID:    schema.SchemaID,
		PartitionSpecs:     []*iceberg.PartitionSpec{spec},
		DefaultSpecID:      spec.SpecID,
		LastPartitionID:    lastPartitionID(spec),
		Properties:         properties,
		Snapshots:          nil,
		SnapshotLog:        nil,
		MetadataLog:        nil,
		Refs:               map[string]SnapshotRef{},
	}
}

func lastPartitionID(spec *iceberg.PartitionSpec) int32 {
	var max int32
	for _, f := range spec.Fields {
		if f.FieldID > max {
			max = f.FieldID
		}
	}
	return max
}

// --- JSON wire encoding. ---

type wireTableMetadata struct {
	FormatVersion      int                    `json:"format-version"`
	TableUUID          string                 `json:"table-uuid"`
	Location           string                 `json:"location"`
	LastSequenceNumber int64                  `json:"last-sequence-number"`
	LastUpdatedMs      int64                  `json:"last-updated-ms"`
	LastColumnID       int32                  `json:"last-column-id"`
	Schemas            []json.RawMessage      `json:"schemas"`
	CurrentSchemaID    int32                  `json:"current-schema-id"`
	PartitionSpecs     []json.RawMessage      `json:"partition-specs"`
	DefaultSpecID      int32                  `json:"default-spec-id"`
	LastPartitionID    int32                  `json:"last-partition-id"`
	Properties         map[string]string      `json:"properties"`
	CurrentSnapshotID  *int64                 `json:"current-snapshot-id,omitempty"`
	Snapshots          []Snapshot             `json:"snapshots"`
	SnapshotLog        []SnapshotLogEntry     `json:"snapshot-log"`
	MetadataLog        []MetadataLogEntry     `json:"metadata-log"`
	Refs               map[string]SnapshotRef `json:"refs"`
}

// MarshalMetadata renders m as the canonical TableMetadata JSON document
// written to a numbered metadata file.
func MarshalMetadata(m *TableMetadata) ([]byte, error) {
	schemas := make([]json.RawMessage, len(m.Schemas))
	for i, s := range m.Schemas {
		raw, err := MarshalSchema(s)
		if err != nil {
			return nil, err
		}
		schemas[i] = raw
	}
	specs := make([]json.RawMessage, len(m.PartitionSpecs))
	for i, p := range m.PartitionSpecs {
		raw, err := MarshalPartitionSpec(p)
		if err != nil {
			return nil, err
		}
		specs[i] = raw
	}
	w := wireTableMetadata{
		FormatVersion:      m.FormatVersion,
		TableUUID:          m.TableUUID,
		Location:           m.Location,
		LastSequenceNumber: m.LastSequenceNumber,
		LastUpdatedMs:      m.LastUpdatedMs,
		LastColumnID:       m.LastColumnID,
		Schemas:            schemas,
		CurrentSchemaID:    m.CurrentSchemaID,
		PartitionSpecs:     specs,
		DefaultSpecID:      m.DefaultSpecID,
		LastPartitionID:    m.LastPartitionID,
		Properties:         m.Properties,
		CurrentSnapshotID:  m.CurrentSnapshotID,
		Snapshots:          m.Snapshots,
		SnapshotLog:        m.SnapshotLog,
		MetadataLog:        m.MetadataLog,
		Refs:               m.Refs,
	}
	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return nil, errors.New(ErrMetadataCodec, "failed to marshal table metadata", err)
	}
	return data, nil
}

// UnmarshalMetadata parses a TableMetadata JSON document, the inverse of
// MarshalMetadata.
func UnmarshalMetadata(data []byte) (*TableMetadata, error) {
	var w wireTableMetadata
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, errors.New(ErrMetadataCodec, "failed to unmarshal table metadata", err)
	}
	if w.FormatVersion != FormatVersion {
		return nil, errors.New(errors.CommonUnsupported, "unsupported table metadata format version", nil).
			AddContext("format_version", w.FormatVersion)
	}
	schemas := make([]*iceberg.Schema, len(w.Schemas))
	for i, raw := range w.Schemas {
		s, err := UnmarshalSchema(raw)
		if err != nil {
			return nil, err
		}
		schemas[i] = s
	}
	specs := make([]*iceberg.PartitionSpec, len(w.PartitionSpecs))
	var currentSchema *iceberg.Schema
	for _, s := range schemas {
		if s.SchemaID == w.CurrentSchemaID {
			currentSchema = s
		}
	}
	for i, raw := range w.PartitionSpecs {
		p, err := UnmarshalPartitionSpec(raw, currentSchema)
		if err != nil {
			return nil, err
		}
		specs[i] = p
	}
	refs := w.Refs
	if refs == nil {
		refs = map[string]SnapshotRef{}
	}
	return &TableMetadata{
		FormatVersion:      w.FormatVersion,
		TableUUID:          w.TableUUID,
		Location:           w.Location,
		LastSequenceNumber: w.LastSequenceNumber,
		LastUpdatedMs:      w.LastUpdatedMs,
		LastColumnID:       w.LastColumnID,
		Schemas:            schemas,
		CurrentSchemaID:    w.CurrentSchemaID,
		PartitionSpecs:     specs,
		DefaultSpecID:      w.DefaultSpecID,
		LastPartitionID:    w.LastPartitionID,
		Properties:         w.Properties,
		CurrentSnapshotID:  w.CurrentSnapshotID,
		Snapshots:          w.Snapshots,
		SnapshotLog:        w.SnapshotLog,
		MetadataLog:        w.MetadataLog,
		Refs:               refs,
	}, nil
}

// LoadMetadata fetches and parses the metadata file at path from store.
func LoadMetadata(ctx context.Context, store io.ObjectStore, path string) (*TableMetadata, error) {
	data, err := store.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	return UnmarshalMetadata(data)
}

// WriteMetadataFile persists m's JSON encoding to path in store.
func WriteMetadataFile(ctx context.Context, store io.ObjectStore, path string, m *TableMetadata) error {
	data, err := MarshalMetadata(m)
	if err != nil {
		return err
	}
	return store.Put(ctx, path, data)
}

// MetadataFileName renders the numbered metadata file name used by both
// catalog backends: "v<N>.metadata.json" for the
// filesystem catalog, "<N>-<ulid>.metadata.json" for the metastore
// catalog (the ulid suffix prevents a name collision when two writers
// race to publish the same version number, and sorts lexically by time).
func MetadataFileName(version int64, ulidSuffix bool) string {
	if ulidSuffix {
		return fmt.Sprintf("%05d-%s.metadata.json", version, utils.GenerateULIDString())
	}
	return fmt.Sprintf("v%d.metadata.json", version)
}
