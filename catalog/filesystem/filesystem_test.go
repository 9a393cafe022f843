package filesystem

import (
	"context"
	"testing"

	"github.com/lakeformat/iceberg"
	"github.com/lakeformat/iceberg/catalog"
	"github.com/lakeformat/iceberg/io/memfs"
	"github.com/lakeformat/iceberg/pkg/errors"
	"github.com/lakeformat/iceberg/table"
	"github.com/lakeformat/iceberg/view"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema() *iceberg.Schema {
	return iceberg.NewSchema(0,
		iceberg.SchemaField{ID: 1, Name: "id", Required: true, Type: iceberg.Int64()},
	)
}

func newTestCatalog() *Catalog {
	return New(memfs.New())
}

func stageTableMetadata(t *testing.T, c *Catalog, location string) string {
	t.Helper()
	md := table.NewBuilder(location, testSchema()).Build(1000)
	data, err := table.MarshalMetadata(md)
	require.NoError(t, err)
	path := location + "/metadata/00000.metadata.json"
	require.NoError(t, c.store.Put(context.Background(), path, data))
	return path
}

func stageViewMetadata(t *testing.T, c *Catalog, location string) string {
	t.Helper()
	md, err := view.NewBuilder(location, "select 1", "ANSI", testSchema()).Build(1000)
	require.NoError(t, err)
	data, err := view.MarshalMetadata(md)
	require.NoError(t, err)
	path := location + "/metadata/00000.metadata.json"
	require.NoError(t, c.store.Put(context.Background(), path, data))
	return path
}

func TestRegisterAndLoadTable(t *testing.T) {
	c := newTestCatalog()
	ctx := context.Background()
	location := "mem://tables/orders"
	stagedPath := stageTableMetadata(t, c, location)

	id := catalog.Identifier{Namespace: catalog.Namespace{"default"}, Name: "orders"}
	tl, err := c.RegisterTable(ctx, id, stagedPath)
	require.NoError(t, err)
	tbl, ok := tl.(*table.Table)
	require.True(t, ok, "registered entry should load back as a *table.Table")
	assert.Equal(t, location+"/metadata/v1.metadata.json", tbl.MetadataLocation())

	loaded, err := c.LoadTable(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, tbl.MetadataLocation(), loaded.MetadataLocation())
}

func TestRegisterAndLoadView(t *testing.T) {
	c := newTestCatalog()
	ctx := context.Background()
	location := "mem://views/orders_view"
	stagedPath := stageViewMetadata(t, c, location)

	id := catalog.Identifier{Namespace: catalog.Namespace{"default"}, Name: "orders_view"}
	tl, err := c.RegisterTable(ctx, id, stagedPath)
	require.NoError(t, err)
	_, ok := tl.(*view.View)
	require.True(t, ok, "registered entry should load back as a *view.View since its metadata carries current-version-id")

	loaded, err := c.LoadTable(ctx, id)
	require.NoError(t, err)
	_, ok = loaded.(*view.View)
	assert.True(t, ok)
}

func TestRegisterTableRejectsDuplicateIdentifier(t *testing.T) {
	c := newTestCatalog()
	ctx := context.Background()
	id := catalog.Identifier{Namespace: catalog.Namespace{"default"}, Name: "orders"}

	_, err := c.RegisterTable(ctx, id, stageTableMetadata(t, c, "mem://tables/orders"))
	require.NoError(t, err)

	_, err = c.RegisterTable(ctx, id, stageTableMetadata(t, c, "mem://tables/orders2"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, iceberg.ErrAlreadyExists))
}

func TestUpdateTableDetectsConflict(t *testing.T) {
	c := newTestCatalog()
	ctx := context.Background()
	location := "mem://tables/orders"
	id := catalog.Identifier{Namespace: catalog.Namespace{"default"}, Name: "orders"}
	_, err := c.RegisterTable(ctx, id, stageTableMetadata(t, c, location))
	require.NoError(t, err)

	current, err := c.currentMetadataPath(ctx, location)
	require.NoError(t, err)

	// A writer racing against a stale expected path is rejected.
	staleExpected := location + "/metadata/v0.metadata.json"
	newMD := location + "/metadata/.tmp-new.metadata.json"
	require.NoError(t, c.store.Put(ctx, newMD, []byte(`{}`)))
	_, err = c.UpdateTable(ctx, id, staleExpected, newMD)
	require.Error(t, err)
	assert.True(t, errors.Is(err, iceberg.ErrCommitConflict))

	// The correctly expected current path succeeds.
	newMD2 := location + "/metadata/.tmp-new2.metadata.json"
	require.NoError(t, c.store.Put(ctx, newMD2, []byte(`{}`)))
	dest, err := c.UpdateTable(ctx, id, current, newMD2)
	require.NoError(t, err)
	assert.Equal(t, location+"/metadata/v2.metadata.json", dest)
}

func TestNamespaceCRUD(t *testing.T) {
	c := newTestCatalog()
	ctx := context.Background()
	ns := catalog.Namespace{"analytics"}

	exists, err := c.NamespaceExists(ctx, ns)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, c.CreateNamespace(ctx, ns, map[string]string{"owner": "data-eng"}))
	exists, err = c.NamespaceExists(ctx, ns)
	require.NoError(t, err)
	assert.True(t, exists)

	props, err := c.LoadNamespaceProperties(ctx, ns)
	require.NoError(t, err)
	assert.Equal(t, "data-eng", props["owner"])

	require.NoError(t, c.UpdateNamespaceProperties(ctx, ns, nil, map[string]string{"team": "orders"}))
	props, err = c.LoadNamespaceProperties(ctx, ns)
	require.NoError(t, err)
	assert.Equal(t, "orders", props["team"])

	err = c.DropNamespace(ctx, ns)
	require.NoError(t, err)
	exists, err = c.NamespaceExists(ctx, ns)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDropNamespaceRejectsNonEmpty(t *testing.T) {
	c := newTestCatalog()
	ctx := context.Background()
	ns := catalog.Namespace{"default"}
	require.NoError(t, c.CreateNamespace(ctx, ns, nil))

	id := catalog.Identifier{Namespace: ns, Name: "orders"}
	_, err := c.RegisterTable(ctx, id, stageTableMetadata(t, c, "mem://tables/orders"))
	require.NoError(t, err)

	err = c.DropNamespace(ctx, ns)
	require.Error(t, err)
	assert.True(t, errors.Is(err, catalog.ErrNamespaceNotEmpty))
}

func TestTableCommitterRoundTrip(t *testing.T) {
	c := newTestCatalog()
	ctx := context.Background()
	location := "mem://tables/orders"
	id := catalog.Identifier{Namespace: catalog.Namespace{"default"}, Name: "orders"}
	tl, err := c.RegisterTable(ctx, id, stageTableMetadata(t, c, location))
	require.NoError(t, err)
	tbl := tl.(*table.Table)

	err = tbl.NewTransaction().SetProperties(map[string]string{"write.format.default": "parquet"}).
		Commit(ctx, c.TableCommitter(id), 2000)
	require.NoError(t, err)
	assert.Equal(t, "parquet", tbl.Metadata.Properties["write.format.default"])

	reloaded, err := c.LoadTable(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, tbl.MetadataLocation(), reloaded.MetadataLocation())
}
