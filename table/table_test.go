package table

import (
	"context"
	"testing"

	"github.com/lakeformat/iceberg"
	"github.com/lakeformat/iceberg/io/memfs"
	"github.com/lakeformat/iceberg/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema() *iceberg.Schema {
	return iceberg.NewSchema(0,
		iceberg.SchemaField{ID: 1, Name: "id", Required: true, Type: iceberg.Int64()},
		iceberg.SchemaField{ID: 2, Name: "name", Required: false, Type: iceberg.String()},
	)
}

func newTestDataFile(path string, records int64) DataFile {
	return DataFile{
		Content:         ContentData,
		FilePath:        path,
		FileFormat:      FormatParquet,
		RecordCount:     records,
		FileSizeInBytes: records * 128,
		LowerBounds:     map[int32][]byte{},
		UpperBounds:     map[int32][]byte{},
	}
}

// inlineCommitter is a minimal in-memory table.Committer, the same
// compare-and-swap contract a real catalog backend provides: a commit
// only succeeds when its expected path still matches the stored current
// path.
type inlineCommitter struct {
	store     *memfs.Store
	location  string
	version   int64
	current   string
	currentMD *TableMetadata
}

func (c *inlineCommitter) CommitMetadata(ctx context.Context, expected string, next *TableMetadata) (string, error) {
	if expected != c.current {
		return "", errors.New(errors.CommonCommitConflict, "metadata pointer moved", nil)
	}
	c.version++
	data, err := MarshalMetadata(next)
	if err != nil {
		return "", err
	}
	dest := c.location + "/metadata/" + MetadataFileName(c.version, false)
	if err := c.store.Put(ctx, dest, data); err != nil {
		return "", err
	}
	c.current = dest
	c.currentMD = next
	return dest, nil
}

func (c *inlineCommitter) Reload(ctx context.Context) (string, *TableMetadata, error) {
	return c.current, c.currentMD, nil
}

func newTestTable(t *testing.T) (*Table, *inlineCommitter) {
	t.Helper()
	store := memfs.New()
	location := "mem://tables/orders"
	md := NewBuilder(location, testSchema()).Build(1000)
	data, err := MarshalMetadata(md)
	require.NoError(t, err)
	initialPath := location + "/metadata/" + MetadataFileName(1, false)
	require.NoError(t, store.Put(context.Background(), initialPath, data))

	tbl := &Table{Metadata: md, MetadataPath: initialPath, Store: store}
	committer := &inlineCommitter{store: store, location: location, version: 1, current: initialPath, currentMD: md}
	return tbl, committer
}

func TestMetadataMarshalRoundTrip(t *testing.T) {
	md := NewBuilder("mem://tables/orders", testSchema()).Build(1000)
	data, err := MarshalMetadata(md)
	require.NoError(t, err)

	got, err := UnmarshalMetadata(data)
	require.NoError(t, err)
	assert.Equal(t, md.TableUUID, got.TableUUID)
	assert.Equal(t, md.Location, got.Location)
	assert.Nil(t, got.CurrentSnapshotID)

	schema, err := got.CurrentSchema()
	require.NoError(t, err)
	assert.Len(t, schema.Fields, 2)

	spec, err := got.DefaultSpec()
	require.NoError(t, err)
	assert.Equal(t, DefaultPartitionSpecID, spec.SpecID)
}

func TestFastAppendCommitProducesSnapshot(t *testing.T) {
	tbl, committer := newTestTable(t)
	ctx := context.Background()

	err := tbl.NewTransaction().
		FastAppend(newTestDataFile("mem://tables/orders/data/a.parquet", 10)).
		Commit(ctx, committer, 2000)
	require.NoError(t, err)

	require.NotNil(t, tbl.Metadata.CurrentSnapshotID)
	snap, err := tbl.Metadata.CurrentSnapshot()
	require.NoError(t, err)
	assert.Equal(t, "fast_append", snap.Summary["operation"])

	files, err := tbl.Files(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "mem://tables/orders/data/a.parquet", files[0].FilePath)
}

func TestAppendThenDeleteRemovesFile(t *testing.T) {
	tbl, committer := newTestTable(t)
	ctx := context.Background()

	f := newTestDataFile("mem://tables/orders/data/a.parquet", 10)
	require.NoError(t, tbl.NewTransaction().FastAppend(f).Commit(ctx, committer, 2000))

	files, err := tbl.Files(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)

	require.NoError(t, tbl.NewTransaction().Delete(f).Commit(ctx, committer, 3000))
	files, err = tbl.Files(ctx)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestDeleteRejectsFileAlreadyRemovedByConcurrentCommit(t *testing.T) {
	tbl, committer := newTestTable(t)
	ctx := context.Background()

	f := newTestDataFile("mem://tables/orders/data/a.parquet", 10)
	require.NoError(t, tbl.NewTransaction().FastAppend(f).Commit(ctx, committer, 2000))

	// Stage a delete against the current (pre-concurrent-delete) base.
	tx := tbl.NewTransaction().Delete(f)

	// A concurrent writer deletes f first and wins the race.
	concurrent := *tbl
	concurrentCommitter := *committer
	require.NoError(t, concurrent.NewTransaction().Delete(f).Commit(ctx, &concurrentCommitter, 2500))
	*committer = concurrentCommitter

	// tx's first attempt conflicts on the stale expected path; reloading
	// surfaces that f is no longer live, so the retry must abort instead of
	// silently re-applying the delete.
	err := tx.Commit(ctx, committer, 3000)
	assert.Error(t, err)
	assert.True(t, errors.Is(err, errors.CommonValidationFailure))
}

func TestCommitRetriesOnConflictThenSucceeds(t *testing.T) {
	tbl, committer := newTestTable(t)
	ctx := context.Background()

	tx := tbl.NewTransaction().
		FastAppend(newTestDataFile("mem://tables/orders/data/mine.parquet", 5)).
		WithRetryConfig(RetryConfig{MaxAttempts: 3, BaseDelay: 0, Multiplier: 1})

	// Simulate a concurrent writer landing a snapshot first.
	concurrent := *tbl
	concurrentCommitter := *committer
	require.NoError(t, concurrent.NewTransaction().
		FastAppend(newTestDataFile("mem://tables/orders/data/theirs.parquet", 7)).
		Commit(ctx, &concurrentCommitter, 1500))
	*committer = concurrentCommitter

	err := tx.Commit(ctx, committer, 2000)
	require.NoError(t, err)

	files, err := tbl.Files(ctx)
	require.NoError(t, err)
	var paths []string
	for _, f := range files {
		paths = append(paths, f.FilePath)
	}
	assert.Contains(t, paths, "mem://tables/orders/data/mine.parquet")
	assert.Contains(t, paths, "mem://tables/orders/data/theirs.parquet")
}

func TestSchemaUpdateRejectsIllegalEvolution(t *testing.T) {
	tbl, committer := newTestTable(t)
	ctx := context.Background()

	bad := iceberg.NewSchema(1,
		iceberg.SchemaField{ID: 1, Name: "id", Required: true, Type: iceberg.String()}, // type changed incompatibly
	)
	err := tbl.NewTransaction().UpdateSchema(bad).Commit(ctx, committer, 2000)
	assert.Error(t, err)
}

func TestFilesReturnsEmptyForTableWithNoSnapshot(t *testing.T) {
	tbl, _ := newTestTable(t)
	files, err := tbl.Files(context.Background())
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestFastAppendRejectsFileAlreadyPresent(t *testing.T) {
	tbl, committer := newTestTable(t)
	ctx := context.Background()

	f := newTestDataFile("mem://tables/orders/data/a.parquet", 10)
	require.NoError(t, tbl.NewTransaction().FastAppend(f).Commit(ctx, committer, 2000))

	err := tbl.NewTransaction().FastAppend(f).Commit(ctx, committer, 3000)
	assert.Error(t, err)
	assert.True(t, errors.Is(err, errors.CommonValidationFailure))

	// The table must still show exactly one copy, not a duplicated file.
	files, filesErr := tbl.Files(ctx)
	require.NoError(t, filesErr)
	assert.Len(t, files, 1)
}

func TestCommitWithNoStagedChangesIsNoop(t *testing.T) {
	tbl, committer := newTestTable(t)
	ctx := context.Background()

	before := tbl.MetadataPath
	err := tbl.NewTransaction().Commit(ctx, committer, 2000)
	require.NoError(t, err)
	assert.Equal(t, before, tbl.MetadataPath)
	assert.Nil(t, tbl.Metadata.CurrentSnapshotID)
}

func TestDeleteFromMultiManifestTableRewritesOnlyAffectedManifest(t *testing.T) {
	tbl, committer := newTestTable(t)
	ctx := context.Background()

	a := newTestDataFile("mem://tables/orders/data/a.parquet", 10)
	b := newTestDataFile("mem://tables/orders/data/b.parquet", 20)
	require.NoError(t, tbl.NewTransaction().FastAppend(a).Commit(ctx, committer, 2000))
	require.NoError(t, tbl.NewTransaction().FastAppend(b).Commit(ctx, committer, 2100))

	snapBefore, err := tbl.Metadata.CurrentSnapshot()
	require.NoError(t, err)
	manifestsBefore, err := tbl.readManifestList(ctx, snapBefore.ManifestListPath)
	require.NoError(t, err)
	require.Len(t, manifestsBefore, 2, "a and b each landed in their own fast_append manifest")

	require.NoError(t, tbl.NewTransaction().Delete(a).Commit(ctx, committer, 2200))

	files, err := tbl.Files(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "mem://tables/orders/data/b.parquet", files[0].FilePath)

	snapAfter, err := tbl.Metadata.CurrentSnapshot()
	require.NoError(t, err)
	manifestsAfter, err := tbl.readManifestList(ctx, snapAfter.ManifestListPath)
	require.NoError(t, err)
	require.Len(t, manifestsAfter, 2, "b's manifest is carried forward unchanged; a's manifest is rewritten in place")

	// b's manifest path must be untouched (carried by reference), since it
	// never held an entry for the deleted file.
	var bManifestUnchanged bool
	for _, mf := range manifestsAfter {
		for _, before := range manifestsBefore {
			if mf.ManifestPath == before.ManifestPath {
				bManifestUnchanged = true
			}
		}
	}
	assert.True(t, bManifestUnchanged, "at least one prior manifest must survive unrewritten")
}
