package table

import (
	"context"

	"github.com/lakeformat/iceberg/io"
	"github.com/lakeformat/iceberg/pkg/errors"
)

// Table is a loaded table: its current metadata plus the ObjectStore used
// to resolve manifest-list/manifest paths relative to Metadata.Location.
type Table struct {
	Metadata     *TableMetadata
	MetadataPath string
	Store        io.ObjectStore
}

// Load fetches and parses the table's metadata file, returning a Table
// bound to store for subsequent manifest/data-file reads.
func Load(ctx context.Context, store io.ObjectStore, metadataPath string) (*Table, error) {
	m, err := LoadMetadata(ctx, store, metadataPath)
	if err != nil {
		return nil, err
	}
	return &Table{Metadata: m, MetadataPath: metadataPath, Store: store}, nil
}

// MetadataLocation returns the path the table's metadata was loaded from,
// satisfying the catalog package's TableLike capability.
func (t *Table) MetadataLocation() string {
	return t.MetadataPath
}

// NewTransaction starts a Transaction staged against this table's current
// metadata.
func (t *Table) NewTransaction() *Transaction {
	return newTransaction(t)
}

// Files returns every live data file referenced by the table's current
// snapshot, with no predicate pruning applied — the simple "give me
// everything" helper a full table scan or compaction job starts from.
// Returns an empty slice for a table with no snapshots yet.
func (t *Table) Files(ctx context.Context) ([]DataFile, error) {
	snap, err := t.Metadata.CurrentSnapshot()
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, nil
	}
	manifestFiles, err := t.readManifestList(ctx, snap.ManifestListPath)
	if err != nil {
		return nil, err
	}
	var out []DataFile
	for _, mf := range manifestFiles {
		_, entries, err := t.readManifest(ctx, mf.ManifestPath)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.Status != EntryDeleted {
				out = append(out, e.DataFile)
			}
		}
	}
	return out, nil
}

func (t *Table) readManifestList(ctx context.Context, path string) ([]ManifestFile, error) {
	data, err := t.Store.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	return ReadManifestList(data)
}

func (t *Table) readManifest(ctx context.Context, path string) (ManifestHeader, []ManifestEntry, error) {
	data, err := t.Store.Get(ctx, path)
	if err != nil {
		return ManifestHeader{}, nil, err
	}
	return ReadManifest(data)
}

var errNoCurrentSnapshot = errors.New(errors.CommonNotFound, "table has no current snapshot", nil)
