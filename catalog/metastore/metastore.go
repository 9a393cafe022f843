// Package metastore implements catalog.Catalog over a sqlite database via
// database/sql and github.com/mattn/go-sqlite3. Unlike a plain "read then
// write" catalog, update_table's compare-and-swap is a single conditional
// UPDATE guarded by the *current* metadata_location in its WHERE clause:
// the statement only matches (and so only applies) when no concurrent
// writer has moved the pointer since the caller's reload.
package metastore

import (
	"context"
	"database/sql"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lakeformat/iceberg"
	"github.com/lakeformat/iceberg/catalog"
	"github.com/lakeformat/iceberg/io"
	"github.com/lakeformat/iceberg/pkg/errors"
	"github.com/lakeformat/iceberg/table"
	"github.com/lakeformat/iceberg/view"
)

const catalogName = "lakeformat"

// Catalog is the sqlite-backed catalog backend.
type Catalog struct {
	db    *sql.DB
	store io.ObjectStore
}

// Open opens (creating if absent) the sqlite database at dsn and wires it
// to store for metadata file reads/writes.
func Open(dsn string, store io.ObjectStore) (*Catalog, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.New(iceberg.ErrIOFailure, "failed to open metastore database", err)
	}
	c := &Catalog{db: db, store: store}
	if err := c.init(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Catalog) init() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tables (
			catalog_name TEXT NOT NULL,
			table_namespace TEXT NOT NULL,
			table_name TEXT NOT NULL,
			metadata_location TEXT NOT NULL,
			previous_metadata_location TEXT,
			PRIMARY KEY (catalog_name, table_namespace, table_name)
		)`,
		`CREATE TABLE IF NOT EXISTS namespace_properties (
			catalog_name TEXT NOT NULL,
			namespace TEXT NOT NULL,
			property_key TEXT NOT NULL,
			property_value TEXT,
			PRIMARY KEY (catalog_name, namespace, property_key)
		)`,
	}
	for _, s := range stmts {
		if _, err := c.db.Exec(s); err != nil {
			return errors.New(iceberg.ErrIOFailure, "failed to initialize metastore schema", err)
		}
	}
	return nil
}

func (c *Catalog) ObjectStore() io.ObjectStore { return c.store }

func (c *Catalog) Close() error { return c.db.Close() }

func (c *Catalog) LoadTable(ctx context.Context, id catalog.Identifier) (catalog.TableLike, error) {
	var metadataLocation string
	row := c.db.QueryRowContext(ctx,
		`SELECT metadata_location FROM tables WHERE catalog_name = ? AND table_namespace = ? AND table_name = ?`,
		catalogName, id.Namespace.String(), id.Name)
	if err := row.Scan(&metadataLocation); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.New(catalog.ErrNoSuchTable, "table not registered", nil).AddContext("identifier", id.String())
		}
		return nil, errors.New(iceberg.ErrIOFailure, "failed to query table metadata location", err)
	}
	return catalog.LoadTableLike(ctx, c.store, metadataLocation)
}

func (c *Catalog) RegisterTable(ctx context.Context, id catalog.Identifier, metadataPath string) (catalog.TableLike, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	var existing string
	row := c.db.QueryRowContext(ctx,
		`SELECT metadata_location FROM tables WHERE catalog_name = ? AND table_namespace = ? AND table_name = ?`,
		catalogName, id.Namespace.String(), id.Name)
	switch err := row.Scan(&existing); err {
	case nil:
		if existing == metadataPath {
			return catalog.LoadTableLike(ctx, c.store, existing)
		}
		return nil, errors.New(iceberg.ErrAlreadyExists, "identifier already registered", nil).AddContext("identifier", id.String())
	case sql.ErrNoRows:
		// fall through to insert
	default:
		return nil, errors.New(iceberg.ErrIOFailure, "failed to check existing registration", err)
	}

	_, err := c.db.ExecContext(ctx,
		`INSERT INTO tables (catalog_name, table_namespace, table_name, metadata_location) VALUES (?, ?, ?, ?)`,
		catalogName, id.Namespace.String(), id.Name, metadataPath)
	if err != nil {
		return nil, errors.New(iceberg.ErrIOFailure, "failed to register table", err)
	}
	return catalog.LoadTableLike(ctx, c.store, metadataPath)
}

// UpdateTable is the genuine compare-and-swap: the UPDATE's WHERE clause
// includes metadata_location = expectedMetadataPath, so it only applies
// when no concurrent committer has already moved the pointer. A prior
// implementation of this same idea omitted that clause from its WHERE,
// silently overwriting a concurrent writer's commit instead of rejecting
// it — this version closes that gap by checking RowsAffected.
func (c *Catalog) UpdateTable(ctx context.Context, id catalog.Identifier, expectedMetadataPath, newMetadataPath string) (string, error) {
	result, err := c.db.ExecContext(ctx,
		`UPDATE tables SET metadata_location = ?, previous_metadata_location = ?
		 WHERE catalog_name = ? AND table_namespace = ? AND table_name = ? AND metadata_location = ?`,
		newMetadataPath, expectedMetadataPath,
		catalogName, id.Namespace.String(), id.Name, expectedMetadataPath)
	if err != nil {
		return "", errors.New(iceberg.ErrIOFailure, "failed to update table pointer", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return "", errors.New(iceberg.ErrIOFailure, "failed to read update result", err)
	}
	if n == 0 {
		return "", errors.New(iceberg.ErrCommitConflict, "metadata pointer moved or table not registered", nil).
			AddContext("expected", expectedMetadataPath)
	}
	return newMetadataPath, nil
}

func (c *Catalog) DropTable(ctx context.Context, id catalog.Identifier) error {
	result, err := c.db.ExecContext(ctx,
		`DELETE FROM tables WHERE catalog_name = ? AND table_namespace = ? AND table_name = ?`,
		catalogName, id.Namespace.String(), id.Name)
	if err != nil {
		return errors.New(iceberg.ErrIOFailure, "failed to drop table", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return errors.New(catalog.ErrNoSuchTable, "table not registered", nil).AddContext("identifier", id.String())
	}
	return nil
}

func (c *Catalog) RenameTable(ctx context.Context, from, to catalog.Identifier) error {
	if err := to.Validate(); err != nil {
		return err
	}
	var existing string
	row := c.db.QueryRowContext(ctx,
		`SELECT metadata_location FROM tables WHERE catalog_name = ? AND table_namespace = ? AND table_name = ?`,
		catalogName, to.Namespace.String(), to.Name)
	if err := row.Scan(&existing); err == nil {
		return errors.New(iceberg.ErrAlreadyExists, "destination identifier already registered", nil).AddContext("identifier", to.String())
	}

	result, err := c.db.ExecContext(ctx,
		`UPDATE tables SET table_namespace = ?, table_name = ? WHERE catalog_name = ? AND table_namespace = ? AND table_name = ?`,
		to.Namespace.String(), to.Name, catalogName, from.Namespace.String(), from.Name)
	if err != nil {
		return errors.New(iceberg.ErrIOFailure, "failed to rename table", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return errors.New(catalog.ErrNoSuchTable, "table not registered", nil).AddContext("identifier", from.String())
	}
	return nil
}

func (c *Catalog) ListTables(ctx context.Context, ns catalog.Namespace) ([]catalog.Identifier, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT table_name FROM tables WHERE catalog_name = ? AND table_namespace = ?`, catalogName, ns.String())
	if err != nil {
		return nil, errors.New(iceberg.ErrIOFailure, "failed to list tables", err)
	}
	defer rows.Close()
	var out []catalog.Identifier
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.New(iceberg.ErrIOFailure, "failed to scan table row", err)
		}
		out = append(out, catalog.Identifier{Namespace: ns, Name: name})
	}
	return out, rows.Err()
}

func (c *Catalog) CreateNamespace(ctx context.Context, ns catalog.Namespace, props map[string]string) error {
	if err := ns.Validate(); err != nil {
		return err
	}
	exists, err := c.NamespaceExists(ctx, ns)
	if err != nil {
		return err
	}
	if exists {
		return errors.New(iceberg.ErrAlreadyExists, "namespace already exists", nil).AddContext("namespace", ns.String())
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.New(iceberg.ErrIOFailure, "failed to begin transaction", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO namespace_properties (catalog_name, namespace, property_key, property_value) VALUES (?, ?, '__exists__', 'true')`,
		catalogName, ns.String()); err != nil {
		return errors.New(iceberg.ErrIOFailure, "failed to mark namespace existence", err)
	}
	for k, v := range props {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO namespace_properties (catalog_name, namespace, property_key, property_value) VALUES (?, ?, ?, ?)`,
			catalogName, ns.String(), k, v); err != nil {
			return errors.New(iceberg.ErrIOFailure, "failed to insert namespace property", err)
		}
	}
	return tx.Commit()
}

func (c *Catalog) DropNamespace(ctx context.Context, ns catalog.Namespace) error {
	exists, err := c.NamespaceExists(ctx, ns)
	if err != nil {
		return err
	}
	if !exists {
		return errors.New(catalog.ErrNoSuchNamespace, "namespace not found", nil).AddContext("namespace", ns.String())
	}
	var count int
	row := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tables WHERE catalog_name = ? AND table_namespace = ?`, catalogName, ns.String())
	if err := row.Scan(&count); err != nil {
		return errors.New(iceberg.ErrIOFailure, "failed to count namespace tables", err)
	}
	if count > 0 {
		return errors.New(catalog.ErrNamespaceNotEmpty, "namespace still has tables", nil).AddContext("namespace", ns.String())
	}
	_, err = c.db.ExecContext(ctx, `DELETE FROM namespace_properties WHERE catalog_name = ? AND namespace = ?`, catalogName, ns.String())
	if err != nil {
		return errors.New(iceberg.ErrIOFailure, "failed to drop namespace", err)
	}
	return nil
}

func (c *Catalog) ListNamespaces(ctx context.Context, parent catalog.Namespace) ([]catalog.Namespace, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT DISTINCT namespace FROM namespace_properties WHERE catalog_name = ?`, catalogName)
	if err != nil {
		return nil, errors.New(iceberg.ErrIOFailure, "failed to list namespaces", err)
	}
	defer rows.Close()
	var out []catalog.Namespace
	for rows.Next() {
		var flat string
		if err := rows.Scan(&flat); err != nil {
			return nil, errors.New(iceberg.ErrIOFailure, "failed to scan namespace row", err)
		}
		ns := splitNamespace(flat)
		if len(ns) != len(parent)+1 {
			continue
		}
		if namespaceHasPrefix(ns, parent) {
			out = append(out, ns)
		}
	}
	return out, rows.Err()
}

func (c *Catalog) NamespaceExists(ctx context.Context, ns catalog.Namespace) (bool, error) {
	var count int
	row := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM namespace_properties WHERE catalog_name = ? AND namespace = ? AND property_key = '__exists__'`,
		catalogName, ns.String())
	if err := row.Scan(&count); err != nil {
		return false, errors.New(iceberg.ErrIOFailure, "failed to check namespace existence", err)
	}
	return count > 0, nil
}

func (c *Catalog) LoadNamespaceProperties(ctx context.Context, ns catalog.Namespace) (map[string]string, error) {
	exists, err := c.NamespaceExists(ctx, ns)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.New(catalog.ErrNoSuchNamespace, "namespace not found", nil).AddContext("namespace", ns.String())
	}
	rows, err := c.db.QueryContext(ctx,
		`SELECT property_key, property_value FROM namespace_properties WHERE catalog_name = ? AND namespace = ?`,
		catalogName, ns.String())
	if err != nil {
		return nil, errors.New(iceberg.ErrIOFailure, "failed to load namespace properties", err)
	}
	defer rows.Close()
	props := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, errors.New(iceberg.ErrIOFailure, "failed to scan property row", err)
		}
		if k == "__exists__" {
			continue
		}
		props[k] = v
	}
	return props, rows.Err()
}

func (c *Catalog) UpdateNamespaceProperties(ctx context.Context, ns catalog.Namespace, removals []string, updates map[string]string) error {
	exists, err := c.NamespaceExists(ctx, ns)
	if err != nil {
		return err
	}
	if !exists {
		return errors.New(catalog.ErrNoSuchNamespace, "namespace not found", nil).AddContext("namespace", ns.String())
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.New(iceberg.ErrIOFailure, "failed to begin transaction", err)
	}
	defer tx.Rollback()
	for _, k := range removals {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM namespace_properties WHERE catalog_name = ? AND namespace = ? AND property_key = ?`,
			catalogName, ns.String(), k); err != nil {
			return errors.New(iceberg.ErrIOFailure, "failed to remove namespace property", err)
		}
	}
	for k, v := range updates {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO namespace_properties (catalog_name, namespace, property_key, property_value) VALUES (?, ?, ?, ?)
			 ON CONFLICT(catalog_name, namespace, property_key) DO UPDATE SET property_value = excluded.property_value`,
			catalogName, ns.String(), k, v); err != nil {
			return errors.New(iceberg.ErrIOFailure, "failed to upsert namespace property", err)
		}
	}
	return tx.Commit()
}

func splitNamespace(flat string) catalog.Namespace {
	if flat == "" {
		return catalog.Namespace{}
	}
	var out []string
	start := 0
	for i := 0; i < len(flat); i++ {
		if flat[i] == '.' {
			out = append(out, flat[start:i])
			start = i + 1
		}
	}
	out = append(out, flat[start:])
	return out
}

func namespaceHasPrefix(ns, prefix catalog.Namespace) bool {
	if len(ns) < len(prefix) {
		return false
	}
	for i := range prefix {
		if ns[i] != prefix[i] {
			return false
		}
	}
	return true
}

// TableCommitter returns the table.Committer a Transaction.Commit plugs
// into for id: write the new metadata to a fresh ulid-suffixed file, then
// delegate the CAS landing to UpdateTable's conditional UPDATE.
func (c *Catalog) TableCommitter(id catalog.Identifier) table.Committer {
	return &committer{cat: c, id: id}
}

type committer struct {
	cat *Catalog
	id  catalog.Identifier
}

func (co *committer) CommitMetadata(ctx context.Context, expectedMetadataPath string, next *table.TableMetadata) (string, error) {
	data, err := table.MarshalMetadata(next)
	if err != nil {
		return "", err
	}
	version := int64(len(next.MetadataLog) + 1)
	dest := next.Location + "/metadata/" + table.MetadataFileName(version, true)
	if err := co.cat.store.Put(ctx, dest, data); err != nil {
		return "", err
	}
	newPath, err := co.cat.UpdateTable(ctx, co.id, expectedMetadataPath, dest)
	if err != nil {
		_ = co.cat.store.Delete(ctx, dest)
		return "", err
	}
	return newPath, nil
}

func (co *committer) Reload(ctx context.Context) (string, *table.TableMetadata, error) {
	tl, err := co.cat.LoadTable(ctx, co.id)
	if err != nil {
		return "", nil, err
	}
	tbl := tl.(*table.Table)
	return tbl.MetadataPath, tbl.Metadata, nil
}

// ViewCommitter returns the view.Committer a view.Transaction.Commit plugs
// into for id, the view equivalent of TableCommitter.
func (c *Catalog) ViewCommitter(id catalog.Identifier) view.Committer {
	return &viewCommitter{cat: c, id: id}
}

type viewCommitter struct {
	cat *Catalog
	id  catalog.Identifier
}

func (co *viewCommitter) CommitMetadata(ctx context.Context, expectedMetadataPath string, next *view.Metadata) (string, error) {
	data, err := view.MarshalMetadata(next)
	if err != nil {
		return "", err
	}
	version := int64(len(next.VersionLog))
	dest := next.Location + "/metadata/" + view.MetadataFileName(version, true)
	if err := co.cat.store.Put(ctx, dest, data); err != nil {
		return "", err
	}
	newPath, err := co.cat.UpdateTable(ctx, co.id, expectedMetadataPath, dest)
	if err != nil {
		_ = co.cat.store.Delete(ctx, dest)
		return "", err
	}
	return newPath, nil
}

func (co *viewCommitter) Reload(ctx context.Context) (string, *view.Metadata, error) {
	tl, err := co.cat.LoadTable(ctx, co.id)
	if err != nil {
		return "", nil, err
	}
	v := tl.(*view.View)
	return v.MetadataPath, v.Metadata, nil
}

var _ catalog.Catalog = (*Catalog)(nil)
