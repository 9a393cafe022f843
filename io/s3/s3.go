// Package s3 implements io.ObjectStore against any S3-compatible endpoint
// via minio-go.
package s3

import (
	"bytes"
	"context"
	"io/ioutil"

	"github.com/lakeformat/iceberg/io"
	"github.com/lakeformat/iceberg/pkg/errors"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config holds the connection parameters for an S3-compatible endpoint:
// endpoint, bucket, region, and access/secret key.
type Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

type Store struct {
	client *minio.Client
	bucket string
}

func New(cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.New(io.ErrTransportFailed, "failed to create minio client", err).
			AddContext("endpoint", cfg.Endpoint)
	}
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.New(io.ErrTransportFailed, "get failed", err).AddContext("path", path)
	}
	defer obj.Close()
	data, err := ioutil.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, errors.New(io.ErrNotFound, "object not found", err).AddContext("path", path)
		}
		return nil, errors.New(io.ErrTransportFailed, "get read failed", err).AddContext("path", path)
	}
	return data, nil
}

func (s *Store) Put(ctx context.Context, path string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, path, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	if err != nil {
		return errors.New(io.ErrTransportFailed, "put failed", err).AddContext("path", path)
	}
	return nil
}

// CopyIfNotExists has no native S3 equivalent (S3 PUT is unconditional
// overwrite), so this checks destination absence via StatObject first and
// then copies; a concurrent writer can still race this check against its
// own copy. The filesystem catalog lands its CAS through this method, so
// over this store it inherits that race; the metastore catalog's
// conditional UPDATE does not depend on it — see catalog/filesystem and
// catalog/metastore.
func (s *Store) CopyIfNotExists(ctx context.Context, src, dst string) error {
	if _, err := s.client.StatObject(ctx, s.bucket, dst, minio.StatObjectOptions{}); err == nil {
		return errors.New(io.ErrAlreadyExists, "destination already exists", nil).AddContext("dst", dst)
	} else if !isNoSuchKey(err) {
		return errors.New(io.ErrTransportFailed, "stat failed", err).AddContext("dst", dst)
	}
	_, err := s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.bucket, Object: dst},
		minio.CopySrcOptions{Bucket: s.bucket, Object: src},
	)
	if err != nil {
		return errors.New(io.ErrTransportFailed, "copy failed", err).AddContext("src", src).AddContext("dst", dst)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, path, minio.RemoveObjectOptions{}); err != nil {
		return errors.New(io.ErrTransportFailed, "delete failed", err).AddContext("path", path)
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]io.ObjectInfo, error) {
	var out []io.ObjectInfo
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, errors.New(io.ErrTransportFailed, "list failed", obj.Err).AddContext("prefix", prefix)
		}
		out = append(out, io.ObjectInfo{Path: obj.Key, Size: obj.Size, LastModified: obj.LastModified})
	}
	return out, nil
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey"
}

var _ io.ObjectStore = (*Store)(nil)
