// Package catalog defines the capability a table or view registry exposes
// to higher layers: load, idempotent registration, compare-and-swap
// pointer update, listing, and namespace CRUD, plus access to the
// ObjectStore backing its data. Two concrete backends are provided:
// catalog/filesystem (copy-if-not-exists CAS over a plain object store)
// and catalog/metastore (SQL conditional-update CAS over sqlite).
package catalog

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/lakeformat/iceberg/io"
	"github.com/lakeformat/iceberg/pkg/errors"
	"github.com/lakeformat/iceberg/table"
	"github.com/lakeformat/iceberg/view"
)

var (
	ErrInvalidIdentifier = errors.MustNewCode("catalog.invalid_identifier")
	ErrNoSuchTable       = errors.MustNewCode("catalog.no_such_table")
	ErrNoSuchNamespace   = errors.MustNewCode("catalog.no_such_namespace")
	ErrNamespaceNotEmpty = errors.MustNewCode("catalog.namespace_not_empty")
)

// Namespace is a non-empty sequence of non-empty strings. The empty
// Namespace (zero levels) is reserved for the catalog root.
type Namespace []string

// String renders the namespace as a dot-joined key, used by backends that
// index namespaces and tables by flat string key.
func (n Namespace) String() string {
	return strings.Join(n, ".")
}

// Validate rejects any empty level; the empty Namespace itself (catalog
// root) is valid.
func (n Namespace) Validate() error {
	for i, level := range n {
		if level == "" {
			return errors.New(ErrInvalidIdentifier, "namespace level cannot be empty", nil).AddContext("index", i)
		}
	}
	return nil
}

// Identifier names one table or view: a Namespace plus a leaf Name.
type Identifier struct {
	Namespace Namespace
	Name      string
}

// String renders the identifier as "ns.ns.name", the flat key most
// backends index by.
func (id Identifier) String() string {
	if len(id.Namespace) == 0 {
		return id.Name
	}
	return id.Namespace.String() + "." + id.Name
}

// Validate rejects an empty Name or any empty Namespace level.
func (id Identifier) Validate() error {
	if id.Name == "" {
		return errors.New(ErrInvalidIdentifier, "identifier name cannot be empty", nil)
	}
	return id.Namespace.Validate()
}

// TableLike is the common surface a catalog entry exposes, satisfied by
// both table.Table and view.View — load_table resolves to one or the
// other depending on what metadata_path actually names.
type TableLike interface {
	MetadataLocation() string
}

// Catalog is the capability every backend (filesystem, metastore)
// implements. update_table is the sole concurrency primitive: every
// other write (register, drop, rename, namespace CRUD) is a bookkeeping
// operation the backend may serialize however it likes, but update_table
// must be a true compare-and-swap against the identifier's current
// metadata pointer.
type Catalog interface {
	LoadTable(ctx context.Context, id Identifier) (TableLike, error)
	RegisterTable(ctx context.Context, id Identifier, metadataPath string) (TableLike, error)
	UpdateTable(ctx context.Context, id Identifier, expectedMetadataPath, newMetadataPath string) (string, error)
	ListTables(ctx context.Context, ns Namespace) ([]Identifier, error)
	DropTable(ctx context.Context, id Identifier) error
	RenameTable(ctx context.Context, from, to Identifier) error

	CreateNamespace(ctx context.Context, ns Namespace, props map[string]string) error
	DropNamespace(ctx context.Context, ns Namespace) error
	ListNamespaces(ctx context.Context, parent Namespace) ([]Namespace, error)
	NamespaceExists(ctx context.Context, ns Namespace) (bool, error)
	LoadNamespaceProperties(ctx context.Context, ns Namespace) (map[string]string, error)
	UpdateNamespaceProperties(ctx context.Context, ns Namespace, removals []string, updates map[string]string) error

	// TableCommitter returns the table.Committer bound to id, for plugging
	// a table.Transaction's Commit into this catalog's CAS.
	TableCommitter(id Identifier) table.Committer

	// ViewCommitter returns the view.Committer bound to id, the view
	// equivalent of TableCommitter.
	ViewCommitter(id Identifier) view.Committer

	ObjectStore() io.ObjectStore
}

// LoadTableLike fetches metadataPath from store and parses it as whichever
// document it actually is. A view's metadata always carries a
// "current-version-id" key (view.Metadata has no omitempty on that field);
// a table's never does, so presence of that key is sufficient to tell
// the two document shapes apart without a side channel.
func LoadTableLike(ctx context.Context, store io.ObjectStore, metadataPath string) (TableLike, error) {
	data, err := store.Get(ctx, metadataPath)
	if err != nil {
		return nil, err
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, errors.New(errors.CommonInvalidMetadata, "failed to sniff catalog metadata document", err)
	}
	if _, isView := probe["current-version-id"]; isView {
		m, err := view.UnmarshalMetadata(data)
		if err != nil {
			return nil, err
		}
		return &view.View{Metadata: m, MetadataPath: metadataPath, Store: store}, nil
	}
	m, err := table.UnmarshalMetadata(data)
	if err != nil {
		return nil, err
	}
	return &table.Table{Metadata: m, MetadataPath: metadataPath, Store: store}, nil
}
