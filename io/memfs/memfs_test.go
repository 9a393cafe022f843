package memfs

import (
	"context"
	"testing"

	"github.com/lakeformat/iceberg/io"
	"github.com/lakeformat/iceberg/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "a/b.json", []byte("hello")))

	got, err := s.Get(ctx, "a/b.json")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s := New()
	_, err := s.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, io.ErrNotFound))
}

func TestGetReturnsACopyNotTheStoredSlice(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "a", []byte("hello")))

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	got[0] = 'X'

	got2, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got2)
}

func TestCopyIfNotExists(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "src", []byte("v1")))

	require.NoError(t, s.CopyIfNotExists(ctx, "src", "dst"))
	got, err := s.Get(ctx, "dst")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	// Overwriting src after the copy must not affect the copy already taken.
	require.NoError(t, s.Put(ctx, "src", []byte("v2")))
	got, err = s.Get(ctx, "dst")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)
}

func TestCopyIfNotExistsRejectsExistingDestination(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "src", []byte("v1")))
	require.NoError(t, s.Put(ctx, "dst", []byte("already there")))

	err := s.CopyIfNotExists(ctx, "src", "dst")
	assert.True(t, errors.Is(err, io.ErrAlreadyExists))

	got, err := s.Get(ctx, "dst")
	require.NoError(t, err)
	assert.Equal(t, []byte("already there"), got)
}

func TestCopyIfNotExistsRejectsMissingSource(t *testing.T) {
	s := New()
	err := s.CopyIfNotExists(context.Background(), "nope", "dst")
	assert.True(t, errors.Is(err, io.ErrNotFound))
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "a", []byte("x")))
	require.NoError(t, s.Delete(ctx, "a"))
	require.NoError(t, s.Delete(ctx, "a"))

	_, err := s.Get(ctx, "a")
	assert.True(t, errors.Is(err, io.ErrNotFound))
}

func TestListFiltersByPrefixAndSortsByPath(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "tables/orders/metadata/v2.metadata.json", []byte("b")))
	require.NoError(t, s.Put(ctx, "tables/orders/metadata/v1.metadata.json", []byte("a")))
	require.NoError(t, s.Put(ctx, "tables/other/metadata/v1.metadata.json", []byte("c")))

	out, err := s.List(ctx, "tables/orders/")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "tables/orders/metadata/v1.metadata.json", out[0].Path)
	assert.Equal(t, "tables/orders/metadata/v2.metadata.json", out[1].Path)
}
