// Package filesystem implements catalog.Catalog directly over an
// io.ObjectStore: a table's pointer is the highest-numbered
// "v<N>.metadata.json" file under its location's metadata directory, and
// update_table's compare-and-swap is a copy-if-not-exists landing a
// pre-written temp file onto the next version number. A small JSON index
// tracks namespace/table registration for listing — the CAS-critical
// pointer itself is never read from the index, only derived by listing
// the metadata directory, so the index going stale cannot corrupt a
// commit.
package filesystem

import (
	"context"
	"encoding/json"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/lakeformat/iceberg"
	"github.com/lakeformat/iceberg/catalog"
	"github.com/lakeformat/iceberg/io"
	"github.com/lakeformat/iceberg/pkg/errors"
	"github.com/lakeformat/iceberg/table"
	"github.com/lakeformat/iceberg/view"
)

const indexPath = "_catalog/index.json"

type tableEntry struct {
	Namespace []string `json:"namespace"`
	Name      string   `json:"name"`
	Location  string   `json:"location"`
}

type namespaceEntry struct {
	Namespace  []string          `json:"namespace"`
	Properties map[string]string `json:"properties"`
}

type indexData struct {
	Namespaces map[string]namespaceEntry `json:"namespaces"`
	Tables     map[string]tableEntry     `json:"tables"`
}

// Catalog is the filesystem-style catalog backend.
type Catalog struct {
	store io.ObjectStore
	mu    sync.Mutex
}

func New(store io.ObjectStore) *Catalog {
	return &Catalog{store: store}
}

func (c *Catalog) ObjectStore() io.ObjectStore { return c.store }

func nsKey(ns catalog.Namespace) string {
	return strings.Join(ns, "\x1f")
}

func idKey(id catalog.Identifier) string {
	return nsKey(id.Namespace) + "\x1f" + id.Name
}

func (c *Catalog) readIndex(ctx context.Context) (*indexData, error) {
	data, err := c.store.Get(ctx, indexPath)
	if err != nil {
		if errors.Is(err, io.ErrNotFound) {
			return &indexData{Namespaces: map[string]namespaceEntry{}, Tables: map[string]tableEntry{}}, nil
		}
		return nil, err
	}
	var idx indexData
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, errors.New(iceberg.ErrInvalidMetadata, "failed to decode catalog index", err)
	}
	if idx.Namespaces == nil {
		idx.Namespaces = map[string]namespaceEntry{}
	}
	if idx.Tables == nil {
		idx.Tables = map[string]tableEntry{}
	}
	return &idx, nil
}

func (c *Catalog) writeIndex(ctx context.Context, idx *indexData) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	return c.store.Put(ctx, indexPath, data)
}

// currentMetadataPath finds the highest "v<N>.metadata.json" under
// location's metadata directory — the table's actual current pointer,
// independent of the index.
func (c *Catalog) currentMetadataPath(ctx context.Context, location string) (string, error) {
	prefix := location + "/metadata/v"
	entries, err := c.store.List(ctx, prefix)
	if err != nil {
		return "", err
	}
	best := -1
	var bestPath string
	for _, e := range entries {
		name := path.Base(e.Path)
		n, ok := parseVersionedName(name)
		if !ok {
			continue
		}
		if n > best {
			best = n
			bestPath = e.Path
		}
	}
	if best < 0 {
		return "", errors.New(catalog.ErrNoSuchTable, "no metadata version found", nil).AddContext("location", location)
	}
	return bestPath, nil
}

func parseVersionedName(name string) (int, bool) {
	if !strings.HasPrefix(name, "v") || !strings.HasSuffix(name, ".metadata.json") {
		return 0, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(name, "v"), ".metadata.json")
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}

func deriveLocation(metadataPath string) string {
	return path.Dir(path.Dir(metadataPath))
}

func (c *Catalog) LoadTable(ctx context.Context, id catalog.Identifier) (catalog.TableLike, error) {
	c.mu.Lock()
	idx, err := c.readIndex(ctx)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	entry, ok := idx.Tables[idKey(id)]
	if !ok {
		return nil, errors.New(catalog.ErrNoSuchTable, "table not registered", nil).AddContext("identifier", id.String())
	}
	metaPath, err := c.currentMetadataPath(ctx, entry.Location)
	if err != nil {
		return nil, err
	}
	return catalog.LoadTableLike(ctx, c.store, metaPath)
}

func (c *Catalog) RegisterTable(ctx context.Context, id catalog.Identifier, metadataPath string) (catalog.TableLike, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, err := c.readIndex(ctx)
	if err != nil {
		return nil, err
	}
	key := idKey(id)
	if existing, ok := idx.Tables[key]; ok {
		current, err := c.currentMetadataPath(ctx, existing.Location)
		if err == nil && current == metadataPath {
			return catalog.LoadTableLike(ctx, c.store, current)
		}
		return nil, errors.New(iceberg.ErrAlreadyExists, "identifier already registered", nil).AddContext("identifier", id.String())
	}

	location := deriveLocation(metadataPath)
	dest := location + "/metadata/" + table.MetadataFileName(1, false)
	if dest != metadataPath {
		if err := c.store.CopyIfNotExists(ctx, metadataPath, dest); err != nil {
			return nil, err
		}
	}

	idx.Tables[key] = tableEntry{Namespace: id.Namespace, Name: id.Name, Location: location}
	if err := c.writeIndex(ctx, idx); err != nil {
		return nil, err
	}
	return catalog.LoadTableLike(ctx, c.store, dest)
}

func (c *Catalog) UpdateTable(ctx context.Context, id catalog.Identifier, expectedMetadataPath, newMetadataPath string) (string, error) {
	c.mu.Lock()
	idx, err := c.readIndex(ctx)
	c.mu.Unlock()
	if err != nil {
		return "", err
	}
	entry, ok := idx.Tables[idKey(id)]
	if !ok {
		return "", errors.New(catalog.ErrNoSuchTable, "table not registered", nil).AddContext("identifier", id.String())
	}

	current, err := c.currentMetadataPath(ctx, entry.Location)
	if err != nil {
		return "", err
	}
	if current != expectedMetadataPath {
		return "", errors.New(iceberg.ErrCommitConflict, "metadata pointer moved", nil).
			AddContext("expected", expectedMetadataPath).AddContext("current", current)
	}

	n, _ := parseVersionedName(path.Base(current))
	dest := entry.Location + "/metadata/" + table.MetadataFileName(int64(n+1), false)
	if err := c.store.CopyIfNotExists(ctx, newMetadataPath, dest); err != nil {
		if errors.Is(err, io.ErrAlreadyExists) {
			return "", errors.New(iceberg.ErrCommitConflict, "concurrent writer claimed the next version", err)
		}
		return "", err
	}
	_ = c.store.Delete(ctx, newMetadataPath)
	return dest, nil
}

func (c *Catalog) DropTable(ctx context.Context, id catalog.Identifier) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, err := c.readIndex(ctx)
	if err != nil {
		return err
	}
	key := idKey(id)
	if _, ok := idx.Tables[key]; !ok {
		return errors.New(catalog.ErrNoSuchTable, "table not registered", nil).AddContext("identifier", id.String())
	}
	delete(idx.Tables, key)
	return c.writeIndex(ctx, idx)
}

func (c *Catalog) RenameTable(ctx context.Context, from, to catalog.Identifier) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, err := c.readIndex(ctx)
	if err != nil {
		return err
	}
	fromKey, toKey := idKey(from), idKey(to)
	entry, ok := idx.Tables[fromKey]
	if !ok {
		return errors.New(catalog.ErrNoSuchTable, "table not registered", nil).AddContext("identifier", from.String())
	}
	if _, exists := idx.Tables[toKey]; exists {
		return errors.New(iceberg.ErrAlreadyExists, "destination identifier already registered", nil).AddContext("identifier", to.String())
	}
	delete(idx.Tables, fromKey)
	entry.Namespace, entry.Name = to.Namespace, to.Name
	idx.Tables[toKey] = entry
	return c.writeIndex(ctx, idx)
}

func (c *Catalog) ListTables(ctx context.Context, ns catalog.Namespace) ([]catalog.Identifier, error) {
	c.mu.Lock()
	idx, err := c.readIndex(ctx)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	var out []catalog.Identifier
	for _, entry := range idx.Tables {
		if namespaceEqual(entry.Namespace, ns) {
			out = append(out, catalog.Identifier{Namespace: entry.Namespace, Name: entry.Name})
		}
	}
	return out, nil
}

func (c *Catalog) CreateNamespace(ctx context.Context, ns catalog.Namespace, props map[string]string) error {
	if err := ns.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, err := c.readIndex(ctx)
	if err != nil {
		return err
	}
	key := nsKey(ns)
	if _, exists := idx.Namespaces[key]; exists {
		return errors.New(iceberg.ErrAlreadyExists, "namespace already exists", nil).AddContext("namespace", key)
	}
	if props == nil {
		props = map[string]string{}
	}
	idx.Namespaces[key] = namespaceEntry{Namespace: ns, Properties: props}
	return c.writeIndex(ctx, idx)
}

func (c *Catalog) DropNamespace(ctx context.Context, ns catalog.Namespace) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, err := c.readIndex(ctx)
	if err != nil {
		return err
	}
	key := nsKey(ns)
	if _, exists := idx.Namespaces[key]; !exists {
		return errors.New(catalog.ErrNoSuchNamespace, "namespace not found", nil).AddContext("namespace", key)
	}
	for _, entry := range idx.Tables {
		if namespaceEqual(entry.Namespace, ns) {
			return errors.New(catalog.ErrNamespaceNotEmpty, "namespace still has tables", nil).AddContext("namespace", key)
		}
	}
	delete(idx.Namespaces, key)
	return c.writeIndex(ctx, idx)
}

func (c *Catalog) ListNamespaces(ctx context.Context, parent catalog.Namespace) ([]catalog.Namespace, error) {
	c.mu.Lock()
	idx, err := c.readIndex(ctx)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	var out []catalog.Namespace
	for _, entry := range idx.Namespaces {
		if len(entry.Namespace) != len(parent)+1 {
			continue
		}
		if namespaceEqual(entry.Namespace[:len(parent)], parent) {
			out = append(out, entry.Namespace)
		}
	}
	return out, nil
}

func (c *Catalog) NamespaceExists(ctx context.Context, ns catalog.Namespace) (bool, error) {
	c.mu.Lock()
	idx, err := c.readIndex(ctx)
	c.mu.Unlock()
	if err != nil {
		return false, err
	}
	_, exists := idx.Namespaces[nsKey(ns)]
	return exists, nil
}

func (c *Catalog) LoadNamespaceProperties(ctx context.Context, ns catalog.Namespace) (map[string]string, error) {
	c.mu.Lock()
	idx, err := c.readIndex(ctx)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	entry, exists := idx.Namespaces[nsKey(ns)]
	if !exists {
		return nil, errors.New(catalog.ErrNoSuchNamespace, "namespace not found", nil).AddContext("namespace", nsKey(ns))
	}
	return entry.Properties, nil
}

func (c *Catalog) UpdateNamespaceProperties(ctx context.Context, ns catalog.Namespace, removals []string, updates map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, err := c.readIndex(ctx)
	if err != nil {
		return err
	}
	key := nsKey(ns)
	entry, exists := idx.Namespaces[key]
	if !exists {
		return errors.New(catalog.ErrNoSuchNamespace, "namespace not found", nil).AddContext("namespace", key)
	}
	props := map[string]string{}
	for k, v := range entry.Properties {
		props[k] = v
	}
	for _, k := range removals {
		delete(props, k)
	}
	for k, v := range updates {
		props[k] = v
	}
	entry.Properties = props
	idx.Namespaces[key] = entry
	return c.writeIndex(ctx, idx)
}

func namespaceEqual(a, b catalog.Namespace) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// TableCommitter returns the table.Committer a Transaction.Commit plugs
// into for id: writing the new metadata to a uniquely named temp file,
// then delegating the CAS landing to UpdateTable.
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
	tmp := next.Location + "/metadata/.tmp-" + uuid.NewString() + ".metadata.json"
	if err := co.cat.store.Put(ctx, tmp, data); err != nil {
		return "", err
	}
	dest, err := co.cat.UpdateTable(ctx, co.id, expectedMetadataPath, tmp)
	if err != nil {
		_ = co.cat.store.Delete(ctx, tmp)
		return "", err
	}
	return dest, nil
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
	tmp := next.Location + "/metadata/.tmp-" + uuid.NewString() + ".metadata.json"
	if err := co.cat.store.Put(ctx, tmp, data); err != nil {
		return "", err
	}
	dest, err := co.cat.UpdateTable(ctx, co.id, expectedMetadataPath, tmp)
	if err != nil {
		_ = co.cat.store.Delete(ctx, tmp)
		return "", err
	}
	return dest, nil
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
