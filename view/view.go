package view

import (
	"context"

	"github.com/lakeformat/iceberg/io"
	"github.com/lakeformat/iceberg/table"
)

// View is a loaded view: its current metadata plus the ObjectStore used to
// resolve nothing else — views have no manifests, no data files, no scan
// planner, only a SQL definition history.
type View struct {
	Metadata     *Metadata
	MetadataPath string
	Store        io.ObjectStore
}

// Load fetches and parses the view's metadata file, returning a View bound
// to store.
func Load(ctx context.Context, store io.ObjectStore, metadataPath string) (*View, error) {
	m, err := LoadMetadata(ctx, store, metadataPath)
	if err != nil {
		return nil, err
	}
	return &View{Metadata: m, MetadataPath: metadataPath, Store: store}, nil
}

// MetadataLocation returns the path the view's metadata was loaded from,
// satisfying the catalog package's TableLike capability.
func (v *View) MetadataLocation() string {
	return v.MetadataPath
}

// NewTransaction starts a Transaction staged against this view's current
// metadata: the only mutation a view supports is replacing its current SQL
// representation with a new Version.
func (v *View) NewTransaction() *Transaction {
	return &Transaction{view: v, base: v.Metadata, retry: table.DefaultRetryConfig()}
}
