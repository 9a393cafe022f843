// Package table implements the metadata tree below the catalog pointer:
// TableMetadata, the manifest-list/manifest/data-file hierarchy, the
// transaction/commit engine, and scan planning.
package table

import "github.com/lakeformat/iceberg"

// Content classifies a DataFile's role.
type Content int

const (
	ContentData Content = iota
	ContentPositionDeletes
	ContentEqualityDeletes
)

// FileFormat is the physical encoding of a DataFile's bytes. Reading and
// writing that encoding is delegated to an external ColumnarFileFormat
// capability — this package only records which format a file
// uses.
type FileFormat int

const (
	FormatParquet FileFormat = iota
	FormatAvro
	FormatORC
)

func (f FileFormat) String() string {
	switch f {
	case FormatParquet:
		return "PARQUET"
	case FormatAvro:
		return "AVRO"
	case FormatORC:
		return "ORC"
	default:
		return "UNKNOWN"
	}
}

func ParseFileFormat(s string) FileFormat {
	switch s {
	case "AVRO":
		return FormatAvro
	case "ORC":
		return FormatORC
	default:
		return FormatParquet
	}
}

// DataFile describes one physical file referenced by a manifest. Per-column
// stat maps are keyed by schema field ID.
type DataFile struct {
	Content         Content
	FilePath        string
	FileFormat      FileFormat
	Partition       *iceberg.PartitionValues
	RecordCount     int64
	FileSizeInBytes int64
	ColumnSizes     map[int32]int64
	ValueCounts     map[int32]int64
	NullValueCounts map[int32]int64
	NanValueCounts  map[int32]int64
	DistinctCounts  map[int32]int64
	LowerBounds     map[int32][]byte
	UpperBounds     map[int32][]byte
	KeyMetadata     []byte
	SplitOffsets    []int64
	EqualityIDs     []int32
	SortOrderID     int32
}

// EntryStatus is a ManifestEntry's lifecycle state within one manifest
//: existing entries were written by a prior snapshot and carried
// forward by reference, added/deleted entries were introduced by the
// snapshot that wrote this manifest.
type EntryStatus int

const (
	EntryExisting EntryStatus = iota
	EntryAdded
	EntryDeleted
)

// ManifestEntry is one row of a manifest file. SnapshotID and
// SequenceNumber are nil when the entry inherits them from the enclosing
// ManifestFile/Snapshot.
type ManifestEntry struct {
	Status         EntryStatus
	SnapshotID     *int64
	SequenceNumber *int64
	DataFile       DataFile
}
