package table

import (
	"context"
	"testing"

	"github.com/lakeformat/iceberg"
	"github.com/lakeformat/iceberg/io/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func namePartitionSpec() *iceberg.PartitionSpec {
	return iceberg.NewPartitionSpec(1,
		iceberg.PartitionField{SourceID: 2, FieldID: 1000, Name: "name", Transform: iceberg.Identity()},
	)
}

func newPartitionedTestTable(t *testing.T, spec *iceberg.PartitionSpec) (*Table, *inlineCommitter) {
	t.Helper()
	store := memfs.New()
	location := "mem://tables/events"
	md := NewBuilder(location, testSchema()).WithPartitionSpec(spec).Build(1000)
	data, err := MarshalMetadata(md)
	require.NoError(t, err)
	initialPath := location + "/metadata/" + MetadataFileName(1, false)
	require.NoError(t, store.Put(context.Background(), initialPath, data))

	tbl := &Table{Metadata: md, MetadataPath: initialPath, Store: store}
	committer := &inlineCommitter{store: store, location: location, version: 1, current: initialPath, currentMD: md}
	return tbl, committer
}

// newPartitionedDataFile builds a DataFile carrying both a partition value
// for the "name" field and id-column bounds, so filters can exercise
// manifest-level (partition) pruning and file-level (column-stats) pruning
// independently.
func newPartitionedDataFile(path string, records int64, spec *iceberg.PartitionSpec, partitionName string, idLower, idUpper int64) DataFile {
	pv := iceberg.NewPartitionValues(spec)
	_ = pv.Set("name", iceberg.StringValue(partitionName))
	return DataFile{
		Content:         ContentData,
		FilePath:        path,
		FileFormat:      FormatParquet,
		Partition:       pv,
		RecordCount:     records,
		FileSizeInBytes: records * 128,
		LowerBounds:     map[int32][]byte{1: iceberg.Int64Value(idLower).Encode()},
		UpperBounds:     map[int32][]byte{1: iceberg.Int64Value(idUpper).Encode()},
	}
}

// TestPlanScanPrunesNonMatchingPartitionManifestFromStatistics exercises
// partition pruning: two manifests in two different identity partitions
// on name, a filter matching only one of them. Both TotalRows and
// TotalFiles must reflect only the surviving manifest, not every manifest
// in the snapshot.
func TestPlanScanPrunesNonMatchingPartitionManifestFromStatistics(t *testing.T) {
	spec := namePartitionSpec()
	tbl, committer := newPartitionedTestTable(t, spec)
	ctx := context.Background()

	alice := newPartitionedDataFile("mem://tables/events/data/alice.parquet", 10, spec, "alice", 150, 250)
	bob := newPartitionedDataFile("mem://tables/events/data/bob.parquet", 20, spec, "bob", 1, 50)
	require.NoError(t, tbl.NewTransaction().FastAppend(alice).Commit(ctx, committer, 2000))
	require.NoError(t, tbl.NewTransaction().FastAppend(bob).Commit(ctx, committer, 2100))

	filter := iceberg.Eq("name", iceberg.StringValue("alice"))
	plan, err := tbl.PlanScan(ctx, filter, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, plan.Statistics.TotalFiles)
	assert.Equal(t, int64(10), plan.Statistics.TotalRows, "bob's manifest must not contribute to the filtered statistics")
	assert.True(t, plan.Statistics.IsExact)
	require.Len(t, plan.FileGroups, 1)
	require.Len(t, plan.FileGroups[0], 1)
	assert.Equal(t, "mem://tables/events/data/alice.parquet", plan.FileGroups[0][0].Location)
}

// TestPlanScanStatisticsAreInexactWhenFileLevelPruningExcludesAFile covers
// the case manifest-level pruning cannot resolve on its own: two files
// share a surviving partition, but only one of them also satisfies a
// predicate on a non-partition column. Statistics.IsExact must report
// false, since the manifest-level row count still includes the excluded
// file.
func TestPlanScanStatisticsAreInexactWhenFileLevelPruningExcludesAFile(t *testing.T) {
	spec := namePartitionSpec()
	tbl, committer := newPartitionedTestTable(t, spec)
	ctx := context.Background()

	highID := newPartitionedDataFile("mem://tables/events/data/high.parquet", 10, spec, "alice", 150, 250)
	lowID := newPartitionedDataFile("mem://tables/events/data/low.parquet", 5, spec, "alice", 1, 50)
	other := newPartitionedDataFile("mem://tables/events/data/other.parquet", 20, spec, "bob", 1, 50)
	require.NoError(t, tbl.NewTransaction().FastAppend(highID).Commit(ctx, committer, 2000))
	require.NoError(t, tbl.NewTransaction().FastAppend(lowID).Commit(ctx, committer, 2100))
	require.NoError(t, tbl.NewTransaction().FastAppend(other).Commit(ctx, committer, 2200))

	filter := iceberg.And(
		iceberg.Eq("name", iceberg.StringValue("alice")),
		iceberg.Gt("id", iceberg.Int64Value(100)),
	)
	plan, err := tbl.PlanScan(ctx, filter, nil)
	require.NoError(t, err)

	// bob's manifest is pruned at stage 1; both alice manifests survive
	// since partition-level stats say nothing about "id". Only high.parquet
	// actually satisfies id > 100 at the file level.
	require.Len(t, plan.FileGroups, 1)
	require.Len(t, plan.FileGroups[0], 1)
	assert.Equal(t, "mem://tables/events/data/high.parquet", plan.FileGroups[0][0].Location)

	assert.Equal(t, int64(15), plan.Statistics.TotalRows, "surviving manifests' row counts still include low.parquet's rows")
	assert.False(t, plan.Statistics.IsExact, "low.parquet was excluded at the file level, so the manifest-level total overcounts")
}
