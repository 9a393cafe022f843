package table

import (
	"bytes"

	"github.com/hamba/avro/v2"
	"github.com/hamba/avro/v2/ocf"
	"github.com/lakeformat/iceberg"
	"github.com/lakeformat/iceberg/pkg/errors"
)

var ErrManifestCodec = errors.MustNewCode("table.manifest_codec")

// ManifestHeader is the manifest's user-metadata: schema,
// schema-id, partition-spec, partition-spec-id, format-version and content
// are stored alongside the entries in the row container.
type ManifestHeader struct {
	Schema          *iceberg.Schema
	PartitionSpec   *iceberg.PartitionSpec
	FormatVersion   int
	Content         Content
}

const manifestEntrySchemaJSON = `{
  "type": "record",
  "name": "manifest_entry",
  "fields": [
    {"name": "status", "type": "int", "field-id": 0},
    {"name": "snapshot_id", "type": ["null", "long"], "field-id": 1},
    {"name": "sequence_number", "type": ["null", "long"], "field-id": 3},
    {"name": "data_file", "type": {
      "type": "record", "name": "r2", "fields": [
        {"name": "content", "type": "int", "field-id": 134},
        {"name": "file_path", "type": "string", "field-id": 100},
        {"name": "file_format", "type": "string", "field-id": 101},
        {"name": "partition_names", "type": {"type": "array", "items": "string"}, "field-id": 1000},
        {"name": "partition_values", "type": {"type": "array", "items": ["null", "bytes"]}, "field-id": 1001},
        {"name": "record_count", "type": "long", "field-id": 103},
        {"name": "file_size_in_bytes", "type": "long", "field-id": 104},
        {"name": "column_sizes", "type": {"type": "array", "items": {
          "type": "record", "name": "k117v118", "fields": [
            {"name": "key", "type": "int", "field-id": 117},
            {"name": "value", "type": "long", "field-id": 118}
          ]}}, "field-id": 108},
        {"name": "value_counts", "type": {"type": "array", "items": {
          "type": "record", "name": "k119v120", "fields": [
            {"name": "key", "type": "int", "field-id": 119},
            {"name": "value", "type": "long", "field-id": 120}
          ]}}, "field-id": 109},
        {"name": "null_value_counts", "type": {"type": "array", "items": {
          "type": "record", "name": "k121v122", "fields": [
            {"name": "key", "type": "int", "field-id": 121},
            {"name": "value", "type": "long", "field-id": 122}
          ]}}, "field-id": 110},
        {"name": "nan_value_counts", "type": {"type": "array", "items": {
          "type": "record", "name": "k138v139", "fields": [
            {"name": "key", "type": "int", "field-id": 138},
            {"name": "value", "type": "long", "field-id": 139}
          ]}}, "field-id": 137},
        {"name": "distinct_counts", "type": {"type": "array", "items": {
          "type": "record", "name": "k123v124", "fields": [
            {"name": "key", "type": "int", "field-id": 123},
            {"name": "value", "type": "long", "field-id": 124}
          ]}}, "field-id": 111},
        {"name": "lower_bounds", "type": {"type": "array", "items": {
          "type": "record", "name": "k126v127", "fields": [
            {"name": "key", "type": "int", "field-id": 126},
            {"name": "value", "type": "bytes", "field-id": 127}
          ]}}, "field-id": 125},
        {"name": "upper_bounds", "type": {"type": "array", "items": {
          "type": "record", "name": "k129v130", "fields": [
            {"name": "key", "type": "int", "field-id": 129},
            {"name": "value", "type": "bytes", "field-id": 130}
          ]}}, "field-id": 128},
        {"name": "key_metadata", "type": ["null", "bytes"], "field-id": 131},
        {"name": "split_offsets", "type": {"type": "array", "items": "long"}, "field-id": 132},
        {"name": "equality_ids", "type": {"type": "array", "items": "int"}, "field-id": 135},
        {"name": "sort_order_id", "type": ["null", "int"], "field-id": 140}
      ]
    }, "field-id": 2}
  ]
}`

var manifestEntrySchema = avro.MustParse(manifestEntrySchemaJSON)

type avroKVInt64 struct {
	Key   int32 `avro:"key"`
	Value int64 `avro:"value"`
}

type avroKVBytes struct {
	Key   int32  `avro:"key"`
	Value []byte `avro:"value"`
}

type avroDataFile struct {
	Content           int32         `avro:"content"`
	FilePath          string        `avro:"file_path"`
	FileFormat        string        `avro:"file_format"`
	PartitionNames    []string      `avro:"partition_names"`
	PartitionValues   [][]byte      `avro:"partition_values"`
	RecordCount       int64         `avro:"record_count"`
	FileSizeInBytes   int64         `avro:"file_size_in_bytes"`
	ColumnSizes       []avroKVInt64 `avro:"column_sizes"`
	ValueCounts       []avroKVInt64 `avro:"value_counts"`
	NullValueCounts   []avroKVInt64 `avro:"null_value_counts"`
	NanValueCounts    []avroKVInt64 `avro:"nan_value_counts"`
	DistinctCounts    []avroKVInt64 `avro:"distinct_counts"`
	LowerBounds       []avroKVBytes `avro:"lower_bounds"`
	UpperBounds       []avroKVBytes `avro:"upper_bounds"`
	KeyMetadata       []byte        `avro:"key_metadata"`
	SplitOffsets      []int64       `avro:"split_offsets"`
	EqualityIDs       []int32       `avro:"equality_ids"`
	SortOrderID       *int32        `avro:"sort_order_id"`
}

type avroManifestEntry struct {
	Status         int32        `avro:"status"`
	SnapshotID     *int64       `avro:"snapshot_id"`
	SequenceNumber *int64       `avro:"sequence_number"`
	DataFile       avroDataFile `avro:"data_file"`
}

// WriteManifest encodes entries as an Avro OCF whose user-metadata carries
// header's schema/spec/format-version/content, and returns the
// ManifestFile summary the manifest-list needs (counts + FieldSummary per
// partition field).
func WriteManifest(header ManifestHeader, entries []ManifestEntry) ([]byte, ManifestFile, error) {
	schemaJSON, err := MarshalSchema(header.Schema)
	if err != nil {
		return nil, ManifestFile{}, err
	}
	specJSON, err := MarshalPartitionSpec(header.PartitionSpec)
	if err != nil {
		return nil, ManifestFile{}, err
	}
	meta := map[string][]byte{
		"schema":            schemaJSON,
		"schema-id":         intToBytes(header.Schema.SchemaID),
		"partition-spec":    specJSON,
		"partition-spec-id": intToBytes(header.PartitionSpec.SpecID),
		"format-version":    intToBytes(int32(header.FormatVersion)),
		"content":           []byte(contentString(header.Content)),
	}

	var buf bytes.Buffer
	enc, err := ocf.NewEncoder(manifestEntrySchemaJSON, &buf, ocf.WithCodec(ocf.Null), ocf.WithMetadata(meta))
	if err != nil {
		return nil, ManifestFile{}, errors.New(ErrManifestCodec, "failed to create manifest encoder", err)
	}
	for _, e := range entries {
		if err := enc.Encode(toAvroManifestEntry(e)); err != nil {
			return nil, ManifestFile{}, errors.New(ErrManifestCodec, "failed to encode manifest entry", err).
				AddContext("file_path", e.DataFile.FilePath)
		}
	}
	if err := enc.Close(); err != nil {
		return nil, ManifestFile{}, errors.New(ErrManifestCodec, "failed to close manifest encoder", err)
	}

	summary := summarize(entries, header)
	return buf.Bytes(), summary, nil
}

// ReadManifest decodes an Avro-encoded manifest, returning its header and
// entries (round-trip law, read(write(entries,header)) ==
// (entries, header)). The header's content is stored as "data" or
// "deletes", so a delete manifest reads back as ContentPositionDeletes.
func ReadManifest(data []byte) (ManifestHeader, []ManifestEntry, error) {
	dec, err := ocf.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return ManifestHeader{}, nil, errors.New(ErrManifestCodec, "failed to create manifest decoder", err)
	}
	meta := dec.Metadata()
	schema, err := UnmarshalSchema(meta["schema"])
	if err != nil {
		return ManifestHeader{}, nil, err
	}
	spec, err := UnmarshalPartitionSpec(meta["partition-spec"], schema)
	if err != nil {
		return ManifestHeader{}, nil, err
	}
	header := ManifestHeader{
		Schema:        schema,
		PartitionSpec: spec,
		FormatVersion: int(bytesToInt(meta["format-version"])),
		Content:       parseContentString(string(meta["content"])),
	}

	var out []ManifestEntry
	for dec.HasNext() {
		var rec avroManifestEntry
		if err := dec.Decode(&rec); err != nil {
			return ManifestHeader{}, nil, errors.New(ErrManifestCodec, "failed to decode manifest entry", err)
		}
		entry, err := fromAvroManifestEntry(rec, header)
		if err != nil {
			return ManifestHeader{}, nil, err
		}
		out = append(out, entry)
	}
	if err := dec.Error(); err != nil {
		return ManifestHeader{}, nil, errors.New(ErrManifestCodec, "manifest decode error", err)
	}
	return header, out, nil
}

func toAvroManifestEntry(e ManifestEntry) avroManifestEntry {
	df := e.DataFile
	names := df.Partition.Names()
	values := df.Partition.Values()
	partitionValues := make([][]byte, len(values))
	for i, v := range values {
		if v != nil {
			partitionValues[i] = v.Encode()
		}
	}
	var sortOrderID *int32
	if df.SortOrderID != 0 {
		id := df.SortOrderID
		sortOrderID = &id
	}
	return avroManifestEntry{
		Status:         int32(e.Status),
		SnapshotID:     e.SnapshotID,
		SequenceNumber: e.SequenceNumber,
		DataFile: avroDataFile{
			Content:         int32(df.Content),
			FilePath:        df.FilePath,
			FileFormat:      df.FileFormat.String(),
			PartitionNames:  names,
			PartitionValues: partitionValues,
			RecordCount:     df.RecordCount,
			FileSizeInBytes: df.FileSizeInBytes,
			ColumnSizes:     toKVInt64(df.ColumnSizes),
			ValueCounts:     toKVInt64(df.ValueCounts),
			NullValueCounts: toKVInt64(df.NullValueCounts),
			NanValueCounts:  toKVInt64(df.NanValueCounts),
			DistinctCounts:  toKVInt64(df.DistinctCounts),
			LowerBounds:     toKVBytes(df.LowerBounds),
			UpperBounds:     toKVBytes(df.UpperBounds),
			KeyMetadata:     df.KeyMetadata,
			SplitOffsets:    df.SplitOffsets,
			EqualityIDs:     df.EqualityIDs,
			SortOrderID:     sortOrderID,
		},
	}
}

func fromAvroManifestEntry(rec avroManifestEntry, header ManifestHeader) (ManifestEntry, error) {
	spec := header.PartitionSpec
	resultTypes, err := spec.ResultSchema(header.Schema)
	if err != nil {
		return ManifestEntry{}, err
	}
	pv := iceberg.NewPartitionValues(spec)
	for i, name := range rec.DataFile.PartitionNames {
		if i >= len(rec.DataFile.PartitionValues) || rec.DataFile.PartitionValues[i] == nil {
			continue
		}
		field, ok := spec.FieldByName(name)
		if !ok {
			continue
		}
		fieldIdx := -1
		for j, sf := range spec.Fields {
			if sf.Name == name {
				fieldIdx = j
				break
			}
		}
		if fieldIdx < 0 {
			continue
		}
		v, err := iceberg.DecodeBound(resultTypes[fieldIdx], rec.DataFile.PartitionValues[i])
		if err != nil {
			return ManifestEntry{}, err
		}
		if err := pv.Set(field.Name, v); err != nil {
			return ManifestEntry{}, err
		}
	}
	var sortOrderID int32
	if rec.DataFile.SortOrderID != nil {
		sortOrderID = *rec.DataFile.SortOrderID
	}
	df := DataFile{
		Content:         Content(rec.DataFile.Content),
		FilePath:        rec.DataFile.FilePath,
		FileFormat:      ParseFileFormat(rec.DataFile.FileFormat),
		Partition:       pv,
		RecordCount:     rec.DataFile.RecordCount,
		FileSizeInBytes: rec.DataFile.FileSizeInBytes,
		ColumnSizes:     fromKVInt64(rec.DataFile.ColumnSizes),
		ValueCounts:     fromKVInt64(rec.DataFile.ValueCounts),
		NullValueCounts: fromKVInt64(rec.DataFile.NullValueCounts),
		NanValueCounts:  fromKVInt64(rec.DataFile.NanValueCounts),
		DistinctCounts:  fromKVInt64(rec.DataFile.DistinctCounts),
		LowerBounds:     fromKVBytes(rec.DataFile.LowerBounds),
		UpperBounds:     fromKVBytes(rec.DataFile.UpperBounds),
		KeyMetadata:     rec.DataFile.KeyMetadata,
		SplitOffsets:    rec.DataFile.SplitOffsets,
		EqualityIDs:     rec.DataFile.EqualityIDs,
		SortOrderID:     sortOrderID,
	}
	return ManifestEntry{
		Status:         EntryStatus(rec.Status),
		SnapshotID:     rec.SnapshotID,
		SequenceNumber: rec.SequenceNumber,
		DataFile:       df,
	}, nil
}

func toKVInt64(m map[int32]int64) []avroKVInt64 {
	out := make([]avroKVInt64, 0, len(m))
	for k, v := range m {
		out = append(out, avroKVInt64{Key: k, Value: v})
	}
	return out
}

func fromKVInt64(kvs []avroKVInt64) map[int32]int64 {
	out := make(map[int32]int64, len(kvs))
	for _, kv := range kvs {
		out[kv.Key] = kv.Value
	}
	return out
}

func toKVBytes(m map[int32][]byte) []avroKVBytes {
	out := make([]avroKVBytes, 0, len(m))
	for k, v := range m {
		out = append(out, avroKVBytes{Key: k, Value: v})
	}
	return out
}

func fromKVBytes(kvs []avroKVBytes) map[int32][]byte {
	out := make(map[int32][]byte, len(kvs))
	for _, kv := range kvs {
		out[kv.Key] = kv.Value
	}
	return out
}

func contentString(c Content) string {
	if c == ContentData {
		return "data"
	}
	return "deletes"
}

func parseContentString(s string) Content {
	if s == "deletes" {
		return ContentPositionDeletes
	}
	return ContentData
}

func intToBytes(n int32) []byte {
	return []byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
}

func bytesToInt(b []byte) int32 {
	if len(b) != 4 {
		return 0
	}
	return int32(b[0])<<24 | int32(b[1])<<16 | int32(b[2])<<8 | int32(b[3])
}

// summarize aggregates entries into the ManifestFile the manifest-list
// needs: counts by status and per-partition-field FieldSummary.
func summarize(entries []ManifestEntry, header ManifestHeader) ManifestFile {
	var added, existing, deleted int32
	var addedRows, existingRows, deletedRows int64
	fieldCount := len(header.PartitionSpec.Fields)
	nullSeen := make([]bool, fieldCount)
	nanSeen := make([]bool, fieldCount)
	lower := make([]iceberg.Value, fieldCount)
	upper := make([]iceberg.Value, fieldCount)

	for _, e := range entries {
		switch e.Status {
		case EntryAdded:
			added++
			addedRows += e.DataFile.RecordCount
		case EntryExisting:
			existing++
			existingRows += e.DataFile.RecordCount
		case EntryDeleted:
			deleted++
			deletedRows += e.DataFile.RecordCount
		}
		values := e.DataFile.Partition.Values()
		for i, v := range values {
			if i >= fieldCount {
				continue
			}
			if v == nil {
				nullSeen[i] = true
				continue
			}
			if lower[i] == nil {
				lower[i], upper[i] = v, v
			} else {
				if c, err := v.Compare(lower[i]); err == nil && c < 0 {
					lower[i] = v
				}
				if c, err := v.Compare(upper[i]); err == nil && c > 0 {
					upper[i] = v
				}
			}
			if isNaNEncoded(v) {
				nanSeen[i] = true
			}
		}
	}

	partitions := make([]FieldSummary, fieldCount)
	for i := range partitions {
		var containsNaN *bool
		if nanSeen[i] {
			v := true
			containsNaN = &v
		}
		var lo, hi []byte
		if lower[i] != nil {
			lo, hi = lower[i].Encode(), upper[i].Encode()
		}
		partitions[i] = FieldSummary{
			ContainsNull: nullSeen[i],
			ContainsNaN:  containsNaN,
			LowerBound:   lo,
			UpperBound:   hi,
		}
	}

	return ManifestFile{
		PartitionSpecID:    header.PartitionSpec.SpecID,
		Content:            header.Content,
		AddedFilesCount:    &added,
		ExistingFilesCount: &existing,
		DeletedFilesCount:  &deleted,
		AddedRowsCount:     &addedRows,
		ExistingRowsCount:  &existingRows,
		DeletedRowsCount:   &deletedRows,
		Partitions:         partitions,
	}
}

func bytesLess(a, b []byte) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

func isNaNEncoded(v iceberg.Value) bool {
	switch tv := v.(type) {
	case iceberg.Float32Value:
		return float32(tv) != float32(tv)
	case iceberg.Float64Value:
		return float64(tv) != float64(tv)
	default:
		return false
	}
}
