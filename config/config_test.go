package config

import (
	"path/filepath"
	"testing"

	"github.com/lakeformat/iceberg/catalog/filesystem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidateRejectsUnknownStorageType(t *testing.T) {
	cfg := Default()
	cfg.Storage.Type = "hdfs"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsMetastoreWithoutDSN(t *testing.T) {
	cfg := Default()
	cfg.Catalog.Type = "metastore"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsS3WithoutBucket(t *testing.T) {
	cfg := Default()
	cfg.Storage.Type = "s3"
	assert.Error(t, cfg.Validate())
}

func TestBuildDefaultProducesFilesystemCatalog(t *testing.T) {
	cat, err := Default().Build()
	require.NoError(t, err)
	_, ok := cat.(*filesystem.Catalog)
	assert.True(t, ok)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Catalog.Type = "metastore"
	cfg.Catalog.Metastore.DSN = "catalog.db"
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "metastore", loaded.Catalog.Type)
	assert.Equal(t, "catalog.db", loaded.Catalog.Metastore.DSN)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
