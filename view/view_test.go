package view

import (
	"context"
	"testing"

	"github.com/lakeformat/iceberg/io/memfs"
	"github.com/lakeformat/iceberg/pkg/errors"
	"github.com/lakeformat/iceberg/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inlineCommitter is a minimal in-memory view.Committer used by these
// tests: it stores exactly one metadata path and rejects a commit whose
// expected path has drifted, the same compare-and-swap contract a real
// catalog backend provides.
type inlineCommitter struct {
	store     *memfs.Store
	location  string
	version   int64
	current   string
	currentMD *Metadata
}

func (c *inlineCommitter) CommitMetadata(ctx context.Context, expected string, next *Metadata) (string, error) {
	if expected != c.current {
		return "", errors.New(errors.CommonCommitConflict, "metadata pointer moved", nil)
	}
	c.version++
	data, err := MarshalMetadata(next)
	if err != nil {
		return "", err
	}
	path := MetadataFileName(c.version, false)
	dest := c.location + "/metadata/" + path
	if err := c.store.Put(ctx, dest, data); err != nil {
		return "", err
	}
	c.current = dest
	c.currentMD = next
	return dest, nil
}

func (c *inlineCommitter) Reload(ctx context.Context) (string, *Metadata, error) {
	return c.current, c.currentMD, nil
}

func newTestView(t *testing.T) (*View, *inlineCommitter) {
	t.Helper()
	store := memfs.New()
	location := "mem://views/orders_view"
	b := NewBuilder(location, "select id, name from orders", "ANSI", testSchema())
	md, err := b.Build(1000)
	require.NoError(t, err)

	data, err := MarshalMetadata(md)
	require.NoError(t, err)
	initialPath := location + "/metadata/" + MetadataFileName(1, false)
	require.NoError(t, store.Put(context.Background(), initialPath, data))

	v := &View{Metadata: md, MetadataPath: initialPath, Store: store}
	committer := &inlineCommitter{store: store, location: location, version: 1, current: initialPath, currentMD: md}
	return v, committer
}

func TestBuilderBuildRejectsEmptySQL(t *testing.T) {
	b := NewBuilder("mem://views/x", "", "ANSI", testSchema())
	_, err := b.Build(1000)
	assert.Error(t, err)
}

func TestViewLoadRoundTrip(t *testing.T) {
	v, _ := newTestView(t)
	loaded, err := Load(context.Background(), v.Store, v.MetadataPath)
	require.NoError(t, err)
	assert.Equal(t, v.MetadataPath, loaded.MetadataLocation())
	rep, err := loaded.Metadata.SQL("")
	require.NoError(t, err)
	assert.Equal(t, "select id, name from orders", rep.SQL)
}

func TestTransactionReplaceCommits(t *testing.T) {
	v, committer := newTestView(t)
	ctx := context.Background()

	err := v.NewTransaction().
		Replace(Representation{SQL: "select id from orders", Dialect: "ANSI"}).
		Commit(ctx, committer, 2000)
	require.NoError(t, err)

	assert.Equal(t, int64(2), v.Metadata.CurrentVersionID)
	rep, err := v.Metadata.SQL("")
	require.NoError(t, err)
	assert.Equal(t, "select id from orders", rep.SQL)
	assert.Len(t, v.Metadata.VersionLog, 2)
}

func TestTransactionReplaceRejectsInvalidRepresentation(t *testing.T) {
	v, committer := newTestView(t)
	err := v.NewTransaction().
		Replace(Representation{SQL: "", Dialect: "ANSI"}).
		Commit(context.Background(), committer, 2000)
	assert.Error(t, err)
}

func TestTransactionCommitRetriesOnConflict(t *testing.T) {
	v, committer := newTestView(t)
	ctx := context.Background()

	tx := v.NewTransaction().
		Replace(Representation{SQL: "select 2", Dialect: "ANSI"}).
		WithRetryConfig(table.RetryConfig{MaxAttempts: 3, BaseDelay: 0, Multiplier: 1})

	// Simulate a concurrent writer landing version 2 first.
	concurrent := *v
	concurrentCommitter := *committer
	require.NoError(t, concurrent.NewTransaction().
		Replace(Representation{SQL: "select 3", Dialect: "ANSI"}).
		Commit(ctx, &concurrentCommitter, 1500))
	*committer = concurrentCommitter

	// tx still holds the stale expected path, so its first attempt conflicts
	// and must reload before succeeding.
	err := tx.Commit(ctx, committer, 2000)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v.Metadata.CurrentVersionID)
	rep, err := v.Metadata.SQL("")
	require.NoError(t, err)
	assert.Equal(t, "select 2", rep.SQL)
}
