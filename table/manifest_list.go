package table

import (
	"bytes"

	"github.com/hamba/avro/v2"
	"github.com/hamba/avro/v2/ocf"
	"github.com/lakeformat/iceberg/pkg/errors"
)

var (
	ErrManifestListCodec = errors.MustNewCode("table.manifest_list_codec")
)

// FieldSummary is the per-partition-field pruning summary carried by one
// ManifestFile entry, ordered identically to the owning PartitionSpec.
type FieldSummary struct {
	ContainsNull bool
	ContainsNaN  *bool
	LowerBound   []byte
	UpperBound   []byte
}

// ManifestFile is one entry of a manifest-list: a pointer to a manifest
// plus the counts and FieldSummary the scan planner's manifest-pruning
// stage needs.
type ManifestFile struct {
	ManifestPath      string
	ManifestLength    int64
	PartitionSpecID   int32
	Content           Content
	SequenceNumber    *int64
	MinSequenceNumber *int64
	AddedSnapshotID   int64
	AddedFilesCount   *int32
	ExistingFilesCount *int32
	DeletedFilesCount *int32
	AddedRowsCount    *int64
	ExistingRowsCount *int64
	DeletedRowsCount  *int64
	Partitions        []FieldSummary
	KeyMetadata        []byte
}

// --- Avro wire representation (manifest-list schema, field IDs 500-519). ---

type avroFieldSummary struct {
	ContainsNull bool    `avro:"contains_null"`
	ContainsNaN  *bool   `avro:"contains_nan"`
	LowerBound   []byte  `avro:"lower_bound"`
	UpperBound   []byte  `avro:"upper_bound"`
}

type avroManifestFile struct {
	ManifestPath       string             `avro:"manifest_path"`
	ManifestLength     int64              `avro:"manifest_length"`
	PartitionSpecID    int32              `avro:"partition_spec_id"`
	Content            int32              `avro:"content"`
	SequenceNumber     *int64             `avro:"sequence_number"`
	MinSequenceNumber  *int64             `avro:"min_sequence_number"`
	AddedSnapshotID    int64              `avro:"added_snapshot_id"`
	AddedFilesCount    *int32             `avro:"added_data_files_count"`
	ExistingFilesCount *int32             `avro:"existing_data_files_count"`
	DeletedFilesCount  *int32             `avro:"deleted_data_files_count"`
	AddedRowsCount     *int64             `avro:"added_rows_count"`
	ExistingRowsCount  *int64             `avro:"existing_rows_count"`
	DeletedRowsCount   *int64             `avro:"deleted_rows_count"`
	Partitions         []avroFieldSummary `avro:"partitions"`
	KeyMetadata        []byte             `avro:"key_metadata"`
}

const manifestListSchemaJSON = `{
  "type": "record",
  "name": "manifest_file",
  "fields": [
    {"name": "manifest_path", "type": "string", "field-id": 500},
    {"name": "manifest_length", "type": "long", "field-id": 501},
    {"name": "partition_spec_id", "type": "int", "field-id": 502},
    {"name": "content", "type": "int", "field-id": 517},
    {"name": "sequence_number", "type": ["null", "long"], "field-id": 515},
    {"name": "min_sequence_number", "type": ["null", "long"], "field-id": 516},
    {"name": "added_snapshot_id", "type": "long", "field-id": 503},
    {"name": "added_data_files_count", "type": ["null", "int"], "field-id": 504},
    {"name": "existing_data_files_count", "type": ["null", "int"], "field-id": 505},
    {"name": "deleted_data_files_count", "type": ["null", "int"], "field-id": 506},
    {"name": "added_rows_count", "type": ["null", "long"], "field-id": 512},
    {"name": "existing_rows_count", "type": ["null", "long"], "field-id": 513},
    {"name": "deleted_rows_count", "type": ["null", "long"], "field-id": 514},
    {"name": "partitions", "type": ["null", {"type": "array", "items": {
      "type": "record", "name": "field_summary", "fields": [
        {"name": "contains_null", "type": "boolean", "field-id": 509},
        {"name": "contains_nan", "type": ["null", "boolean"], "field-id": 518},
        {"name": "lower_bound", "type": ["null", "bytes"], "field-id": 510},
        {"name": "upper_bound", "type": ["null", "bytes"], "field-id": 511}
      ]
    }}], "field-id": 507},
    {"name": "key_metadata", "type": ["null", "bytes"], "field-id": 519}
  ]
}`

var manifestListSchema = avro.MustParse(manifestListSchemaJSON)

// WriteManifestList encodes files as an Avro OCF, the same container
// format WriteManifest uses for individual manifests.
func WriteManifestList(files []ManifestFile) ([]byte, error) {
	var buf bytes.Buffer
	enc, err := ocf.NewEncoder(manifestListSchemaJSON, &buf, ocf.WithCodec(ocf.Null))
	if err != nil {
		return nil, errors.New(ErrManifestListCodec, "failed to create manifest-list encoder", err)
	}
	for _, f := range files {
		if err := enc.Encode(toAvroManifestFile(f)); err != nil {
			return nil, errors.New(ErrManifestListCodec, "failed to encode manifest-list entry", err).
				AddContext("manifest_path", f.ManifestPath)
		}
	}
	if err := enc.Close(); err != nil {
		return nil, errors.New(ErrManifestListCodec, "failed to close manifest-list encoder", err)
	}
	return buf.Bytes(), nil
}

// ReadManifestList decodes an Avro-encoded manifest-list back into
// ManifestFile values, the inverse of WriteManifestList.
func ReadManifestList(data []byte) ([]ManifestFile, error) {
	dec, err := ocf.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, errors.New(ErrManifestListCodec, "failed to create manifest-list decoder", err)
	}
	var out []ManifestFile
	for dec.HasNext() {
		var rec avroManifestFile
		if err := dec.Decode(&rec); err != nil {
			return nil, errors.New(ErrManifestListCodec, "failed to decode manifest-list entry", err)
		}
		out = append(out, fromAvroManifestFile(rec))
	}
	if err := dec.Error(); err != nil {
		return nil, errors.New(ErrManifestListCodec, "manifest-list decode error", err)
	}
	return out, nil
}

func toAvroManifestFile(f ManifestFile) avroManifestFile {
	partitions := make([]avroFieldSummary, len(f.Partitions))
	for i, p := range f.Partitions {
		partitions[i] = avroFieldSummary{
			ContainsNull: p.ContainsNull,
			ContainsNaN:  p.ContainsNaN,
			LowerBound:   p.LowerBound,
			UpperBound:   p.UpperBound,
		}
	}
	return avroManifestFile{
		ManifestPath:       f.ManifestPath,
		ManifestLength:     f.ManifestLength,
		PartitionSpecID:    f.PartitionSpecID,
		Content:            int32(f.Content),
		SequenceNumber:     f.SequenceNumber,
		MinSequenceNumber:  f.MinSequenceNumber,
		AddedSnapshotID:    f.AddedSnapshotID,
		AddedFilesCount:    f.AddedFilesCount,
		ExistingFilesCount: f.ExistingFilesCount,
		DeletedFilesCount:  f.DeletedFilesCount,
		AddedRowsCount:     f.AddedRowsCount,
		ExistingRowsCount:  f.ExistingRowsCount,
		DeletedRowsCount:   f.DeletedRowsCount,
		Partitions:         partitions,
		KeyMetadata:        f.KeyMetadata,
	}
}

func fromAvroManifestFile(rec avroManifestFile) ManifestFile {
	partitions := make([]FieldSummary, len(rec.Partitions))
	for i, p := range rec.Partitions {
		partitions[i] = FieldSummary{
			ContainsNull: p.ContainsNull,
			ContainsNaN:  p.ContainsNaN,
			LowerBound:   p.LowerBound,
			UpperBound:   p.UpperBound,
		}
	}
	return ManifestFile{
		ManifestPath:       rec.ManifestPath,
		ManifestLength:     rec.ManifestLength,
		PartitionSpecID:    rec.PartitionSpecID,
		Content:            Content(rec.Content),
		SequenceNumber:     rec.SequenceNumber,
		MinSequenceNumber:  rec.MinSequenceNumber,
		AddedSnapshotID:    rec.AddedSnapshotID,
		AddedFilesCount:    rec.AddedFilesCount,
		ExistingFilesCount: rec.ExistingFilesCount,
		DeletedFilesCount:  rec.DeletedFilesCount,
		AddedRowsCount:     rec.AddedRowsCount,
		ExistingRowsCount:  rec.ExistingRowsCount,
		DeletedRowsCount:   rec.DeletedRowsCount,
		Partitions:         partitions,
		KeyMetadata:        rec.KeyMetadata,
	}
}
