// Package io defines the ObjectStore capability the table, catalog and view
// layers use for all durable reads and writes. Two backends are
// provided: memfs (in-memory, for tests and local catalogs) and s3
// (minio-go backed).
package io

import (
	"context"
	"time"

	"github.com/lakeformat/iceberg/pkg/errors"
)

var (
	ErrNotFound       = errors.MustNewCode("io.not_found")
	ErrAlreadyExists  = errors.MustNewCode("io.already_exists")
	ErrTransportFailed = errors.MustNewCode("io.transport_failed")
)

// ObjectInfo is returned by List.
type ObjectInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// ObjectStore is the capability interface of get, put,
// copy-if-not-exists, delete, list. Every method is a suspension point
// — implementations must honor ctx cancellation.
type ObjectStore interface {
	Get(ctx context.Context, path string) ([]byte, error)
	Put(ctx context.Context, path string, data []byte) error
	// CopyIfNotExists copies src to dst, failing with ErrAlreadyExists if
	// dst is already present. This is the filesystem catalog's CAS
	// primitive.
	CopyIfNotExists(ctx context.Context, src, dst string) error
	Delete(ctx context.Context, path string) error
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}
