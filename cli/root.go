// Package cli implements icebergctl, a cobra-driven command line for
// creating namespaces, tables and views against a configured catalog and
// inspecting their metadata.
package cli

import (
	"context"
	"fmt"

	"github.com/lakeformat/iceberg/catalog"
	"github.com/lakeformat/iceberg/config"
	"github.com/lakeformat/iceberg/internal/log"
	"github.com/pterm/pterm"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type ctxKey int

const (
	ctxKeyLogger ctxKey = iota
	ctxKeyCatalog
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "icebergctl",
	Short: "Command line for a catalog-backed Iceberg-style table store",
	Long: `icebergctl creates and inspects namespaces, tables and views against
a configured catalog backend (filesystem or metastore) and object store
(in-memory or S3-compatible).`,
	Version:           "0.1.0",
	PersistentPreRunE: setupContext,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (default: search cwd, $HOME/.iceberg, /etc/iceberg)")
}

// Execute runs the root command against context.Background.
func Execute() error {
	return ExecuteWithContext(context.Background())
}

// ExecuteWithContext runs the root command with ctx as the base context
// subcommands receive via cmd.Context().
func ExecuteWithContext(ctx context.Context) error {
	rootCmd.SetContext(ctx)
	return rootCmd.Execute()
}

func setupContext(cmd *cobra.Command, _ []string) error {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.FindAndLoad("iceberg.yaml")
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := log.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("setting up logger: %w", err)
	}

	cat, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("building catalog: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxKeyLogger, logger)
	ctx = context.WithValue(ctx, ctxKeyCatalog, cat)
	cmd.SetContext(ctx)
	return nil
}

func loggerFromContext(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(ctxKeyLogger).(zerolog.Logger); ok {
		return l
	}
	return zerolog.Nop()
}

func catalogFromContext(ctx context.Context) catalog.Catalog {
	cat, _ := ctx.Value(ctxKeyCatalog).(catalog.Catalog)
	return cat
}

func printError(err error) {
	pterm.Error.Println(err.Error())
}
