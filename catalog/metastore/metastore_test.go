package metastore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/lakeformat/iceberg"
	"github.com/lakeformat/iceberg/catalog"
	"github.com/lakeformat/iceberg/io/memfs"
	"github.com/lakeformat/iceberg/pkg/errors"
	"github.com/lakeformat/iceberg/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema() *iceberg.Schema {
	return iceberg.NewSchema(0,
		iceberg.SchemaField{ID: 1, Name: "id", Required: true, Type: iceberg.Int64()},
	)
}

// newTestCatalog opens a fresh sqlite file under the test's temp directory.
// A real file (rather than ":memory:") sidesteps database/sql handing out
// separate connections to separate private in-memory databases.
func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "catalog.db")
	c, err := Open(dsn, memfs.New())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
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

func TestRegisterAndLoadTable(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	location := "mem://tables/orders"
	stagedPath := stageTableMetadata(t, c, location)

	id := catalog.Identifier{Namespace: catalog.Namespace{"default"}, Name: "orders"}
	tl, err := c.RegisterTable(ctx, id, stagedPath)
	require.NoError(t, err)
	tbl, ok := tl.(*table.Table)
	require.True(t, ok)
	assert.Equal(t, stagedPath, tbl.MetadataLocation())

	loaded, err := c.LoadTable(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, stagedPath, loaded.MetadataLocation())
}

func TestRegisterTableRejectsDuplicateIdentifier(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	id := catalog.Identifier{Namespace: catalog.Namespace{"default"}, Name: "orders"}

	_, err := c.RegisterTable(ctx, id, stageTableMetadata(t, c, "mem://tables/orders"))
	require.NoError(t, err)

	_, err = c.RegisterTable(ctx, id, stageTableMetadata(t, c, "mem://tables/orders2"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, iceberg.ErrAlreadyExists))
}

func TestLoadTableRejectsUnknownIdentifier(t *testing.T) {
	c := newTestCatalog(t)
	id := catalog.Identifier{Namespace: catalog.Namespace{"default"}, Name: "missing"}
	_, err := c.LoadTable(context.Background(), id)
	assert.True(t, errors.Is(err, catalog.ErrNoSuchTable))
}

// TestUpdateTableRequiresExactMatchingExpectedPath exercises the fix this
// backend makes over a naive unconditional UPDATE: the WHERE clause must
// include metadata_location = expectedMetadataPath, so a stale expectation
// is rejected with RowsAffected == 0 rather than silently overwriting
// whatever the current pointer is.
func TestUpdateTableRequiresExactMatchingExpectedPath(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	location := "mem://tables/orders"
	id := catalog.Identifier{Namespace: catalog.Namespace{"default"}, Name: "orders"}
	current := stageTableMetadata(t, c, location)
	_, err := c.RegisterTable(ctx, id, current)
	require.NoError(t, err)

	staleExpected := location + "/metadata/v0.metadata.json"
	_, err = c.UpdateTable(ctx, id, staleExpected, location+"/metadata/v2.metadata.json")
	require.Error(t, err)
	assert.True(t, errors.Is(err, iceberg.ErrCommitConflict))

	newPath := location + "/metadata/v2.metadata.json"
	data, err := c.store.Get(ctx, current)
	require.NoError(t, err)
	require.NoError(t, c.store.Put(ctx, newPath, data))
	dest, err := c.UpdateTable(ctx, id, current, newPath)
	require.NoError(t, err)
	assert.Equal(t, newPath, dest)

	loaded, err := c.LoadTable(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, newPath, loaded.MetadataLocation())
}

func TestDropTable(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	id := catalog.Identifier{Namespace: catalog.Namespace{"default"}, Name: "orders"}
	_, err := c.RegisterTable(ctx, id, stageTableMetadata(t, c, "mem://tables/orders"))
	require.NoError(t, err)

	require.NoError(t, c.DropTable(ctx, id))
	_, err = c.LoadTable(ctx, id)
	assert.True(t, errors.Is(err, catalog.ErrNoSuchTable))

	err = c.DropTable(ctx, id)
	assert.True(t, errors.Is(err, catalog.ErrNoSuchTable))
}

func TestRenameTable(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	from := catalog.Identifier{Namespace: catalog.Namespace{"default"}, Name: "orders"}
	to := catalog.Identifier{Namespace: catalog.Namespace{"default"}, Name: "orders_renamed"}
	_, err := c.RegisterTable(ctx, from, stageTableMetadata(t, c, "mem://tables/orders"))
	require.NoError(t, err)

	require.NoError(t, c.RenameTable(ctx, from, to))
	_, err = c.LoadTable(ctx, from)
	assert.True(t, errors.Is(err, catalog.ErrNoSuchTable))

	loaded, err := c.LoadTable(ctx, to)
	require.NoError(t, err)
	assert.NotNil(t, loaded)
}

func TestListTables(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	ns := catalog.Namespace{"default"}
	_, err := c.RegisterTable(ctx, catalog.Identifier{Namespace: ns, Name: "orders"}, stageTableMetadata(t, c, "mem://tables/orders"))
	require.NoError(t, err)
	_, err = c.RegisterTable(ctx, catalog.Identifier{Namespace: ns, Name: "customers"}, stageTableMetadata(t, c, "mem://tables/customers"))
	require.NoError(t, err)

	ids, err := c.ListTables(ctx, ns)
	require.NoError(t, err)
	var names []string
	for _, id := range ids {
		names = append(names, id.Name)
	}
	assert.ElementsMatch(t, []string{"orders", "customers"}, names)
}

func TestNamespaceCRUD(t *testing.T) {
	c := newTestCatalog(t)
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

	require.NoError(t, c.UpdateNamespaceProperties(ctx, ns, []string{"owner"}, map[string]string{"team": "orders"}))
	props, err = c.LoadNamespaceProperties(ctx, ns)
	require.NoError(t, err)
	assert.Empty(t, props["owner"])
	assert.Equal(t, "orders", props["team"])

	require.NoError(t, c.DropNamespace(ctx, ns))
	exists, err = c.NamespaceExists(ctx, ns)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCreateNamespaceRejectsDuplicate(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	ns := catalog.Namespace{"analytics"}
	require.NoError(t, c.CreateNamespace(ctx, ns, nil))

	err := c.CreateNamespace(ctx, ns, nil)
	assert.True(t, errors.Is(err, iceberg.ErrAlreadyExists))
}

func TestDropNamespaceRejectsNonEmpty(t *testing.T) {
	c := newTestCatalog(t)
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
	c := newTestCatalog(t)
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
