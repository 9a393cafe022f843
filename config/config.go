// Package config loads the YAML configuration this module's CLI and any
// embedding process use to stand up a catalog.Catalog and an
// io.ObjectStore: StorageConfig/CatalogConfig/log.Config over
// gopkg.in/yaml.v3, wired to this module's two catalog backends.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/lakeformat/iceberg/catalog"
	"github.com/lakeformat/iceberg/catalog/filesystem"
	"github.com/lakeformat/iceberg/catalog/metastore"
	"github.com/lakeformat/iceberg/internal/log"
	iceio "github.com/lakeformat/iceberg/io"
	"github.com/lakeformat/iceberg/io/memfs"
	"github.com/lakeformat/iceberg/io/s3"
	"github.com/lakeformat/iceberg/pkg/errors"
	"gopkg.in/yaml.v3"
)

var (
	ErrReadFailed       = errors.MustNewCode("config.read_failed")
	ErrParseFailed      = errors.MustNewCode("config.parse_failed")
	ErrWriteFailed      = errors.MustNewCode("config.write_failed")
	ErrInvalid          = errors.MustNewCode("config.invalid")
	ErrUnknownStorage   = errors.MustNewCode("config.unknown_storage_type")
	ErrUnknownCatalog   = errors.MustNewCode("config.unknown_catalog_type")
)

// Config is the top-level configuration document.
type Config struct {
	Version string       `yaml:"version"`
	Storage StorageConfig `yaml:"storage"`
	Catalog CatalogConfig `yaml:"catalog"`
	Log     log.Config    `yaml:"log"`
}

// StorageConfig selects and configures the ObjectStore backend.
type StorageConfig struct {
	Type       string           `yaml:"type"` // "memory" | "s3"
	S3         S3Config         `yaml:"s3,omitempty"`
}

type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region,omitempty"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// CatalogConfig selects and configures the Catalog backend.
type CatalogConfig struct {
	Type      string          `yaml:"type"` // "filesystem" | "metastore"
	Metastore MetastoreConfig `yaml:"metastore,omitempty"`
}

type MetastoreConfig struct {
	DSN string `yaml:"dsn"`
}

// Default returns a configuration that runs entirely in-process: an
// in-memory object store fronted by the filesystem catalog, requiring no
// external services to get started.
func Default() *Config {
	return &Config{
		Version: "1",
		Storage: StorageConfig{Type: "memory"},
		Catalog: CatalogConfig{Type: "filesystem"},
		Log:     log.Config{Level: "info", Console: true},
	}
}

// Load reads and parses path, filling unset fields from Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(ErrReadFailed, "failed to read config file", err).AddContext("path", path)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.New(ErrParseFailed, "failed to parse config file", err).AddContext("path", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FindAndLoad searches the working directory, $HOME/.iceberg and
// /etc/iceberg for a config file named name, falling back to Default if
// none is found.
func FindAndLoad(name string) (*Config, error) {
	if path := findConfigFile(name); path != "" {
		return Load(path)
	}
	return Default(), nil
}

func findConfigFile(name string) string {
	if _, err := os.Stat(name); err == nil {
		return name
	}
	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, ".iceberg", name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	p := filepath.Join("/etc/iceberg", name)
	if _, err := os.Stat(p); err == nil {
		return p
	}
	return ""
}

// Save writes cfg to path as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.New(ErrWriteFailed, "failed to marshal config", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.New(ErrWriteFailed, "failed to write config file", err).AddContext("path", path)
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.Storage.Type {
	case "memory", "s3":
	default:
		return errors.New(ErrUnknownStorage, fmt.Sprintf("unknown storage type %q", c.Storage.Type), nil)
	}
	switch c.Catalog.Type {
	case "filesystem", "metastore":
	default:
		return errors.New(ErrUnknownCatalog, fmt.Sprintf("unknown catalog type %q", c.Catalog.Type), nil)
	}
	if c.Catalog.Type == "metastore" && c.Catalog.Metastore.DSN == "" {
		return errors.New(ErrInvalid, "metastore catalog requires catalog.metastore.dsn", nil)
	}
	if c.Storage.Type == "s3" && (c.Storage.S3.Bucket == "" || c.Storage.S3.Endpoint == "") {
		return errors.New(ErrInvalid, "s3 storage requires storage.s3.endpoint and storage.s3.bucket", nil)
	}
	return nil
}

// BuildStore constructs the ObjectStore cfg.Storage names.
func (c *Config) BuildStore() (iceio.ObjectStore, error) {
	switch c.Storage.Type {
	case "memory":
		return memfs.New(), nil
	case "s3":
		return s3.New(s3.Config{
			Endpoint:  c.Storage.S3.Endpoint,
			Bucket:    c.Storage.S3.Bucket,
			Region:    c.Storage.S3.Region,
			AccessKey: c.Storage.S3.AccessKey,
			SecretKey: c.Storage.S3.SecretKey,
			UseSSL:    c.Storage.S3.UseSSL,
		})
	default:
		return nil, errors.New(ErrUnknownStorage, fmt.Sprintf("unknown storage type %q", c.Storage.Type), nil)
	}
}

// BuildCatalog constructs the catalog.Catalog cfg.Catalog names, wired to
// store.
func (c *Config) BuildCatalog(store iceio.ObjectStore) (catalog.Catalog, error) {
	switch c.Catalog.Type {
	case "filesystem":
		return filesystem.New(store), nil
	case "metastore":
		return metastore.Open(c.Catalog.Metastore.DSN, store)
	default:
		return nil, errors.New(ErrUnknownCatalog, fmt.Sprintf("unknown catalog type %q", c.Catalog.Type), nil)
	}
}

// Build is the one-call convenience path from a loaded Config to a ready
// catalog.Catalog: construct the object store, then the catalog backend
// wired to it.
func (c *Config) Build() (catalog.Catalog, error) {
	store, err := c.BuildStore()
	if err != nil {
		return nil, err
	}
	return c.BuildCatalog(store)
}
