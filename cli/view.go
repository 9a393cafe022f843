package cli

import (
	"fmt"
	"strings"

	"github.com/lakeformat/iceberg"
	"github.com/lakeformat/iceberg/view"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var (
	viewSQL     string
	viewDialect string
)

var viewCmd = &cobra.Command{
	Use:   "view",
	Short: "Manage views",
}

func init() {
	rootCmd.AddCommand(viewCmd)
	viewCmd.AddCommand(viewCreateCmd, viewDescribeCmd)

	viewCreateCmd.Flags().StringVar(&viewSQL, "sql", "", "the view's query text (required)")
	viewCreateCmd.Flags().StringVar(&viewDialect, "dialect", "ansi", "the SQL dialect the query text is written in")
	_ = viewCreateCmd.MarkFlagRequired("sql")
	viewDescribeCmd.Flags().StringVar(&viewDialect, "dialect", "ansi", "preferred dialect to resolve, falling back to the first representation")
}

var viewCreateCmd = &cobra.Command{
	Use:   "create NAMESPACE.NAME",
	Short: "Create a view over a query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseIdentifier(args[0])
		if err != nil {
			printError(err)
			return err
		}

		ctx := cmd.Context()
		cat := catalogFromContext(ctx)
		store := cat.ObjectStore()
		location := "views/" + strings.ReplaceAll(id.Namespace.String(), ".", "/") + "/" + id.Name

		md, err := view.NewBuilder(location, viewSQL, viewDialect, emptySchema()).Build(nowMillis())
		if err != nil {
			printError(err)
			return err
		}
		data, err := view.MarshalMetadata(md)
		if err != nil {
			printError(err)
			return err
		}
		stagingPath := location + "/metadata/00000-" + id.Name + ".metadata.json"
		if err := store.Put(ctx, stagingPath, data); err != nil {
			printError(err)
			return err
		}
		if _, err := cat.RegisterTable(ctx, id, stagingPath); err != nil {
			printError(err)
			return err
		}
		pterm.Success.Printfln("created view %s at %s", id.String(), location)
		return nil
	},
}

var viewDescribeCmd = &cobra.Command{
	Use:   "describe NAMESPACE.NAME",
	Short: "Show a view's current query text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseIdentifier(args[0])
		if err != nil {
			printError(err)
			return err
		}
		ctx := cmd.Context()
		cat := catalogFromContext(ctx)
		tl, err := cat.LoadTable(ctx, id)
		if err != nil {
			printError(err)
			return err
		}
		v, ok := tl.(*view.View)
		if !ok {
			err := fmt.Errorf("%s is a table, not a view", id.String())
			printError(err)
			return err
		}
		ver, err := v.Metadata.CurrentVersion()
		if err != nil {
			printError(err)
			return err
		}
		rep, err := v.Metadata.SQL(viewDialect)
		if err != nil && len(ver.Representations) > 0 {
			rep = ver.Representations[0]
			err = nil
		}
		if err != nil {
			printError(err)
			return err
		}
		pterm.DefaultSection.Println(id.String())
		pterm.Printfln("dialect: %s", rep.Dialect)
		pterm.Printfln("sql:\n%s", rep.SQL)
		return nil
	},
}

// emptySchema returns the degenerate zero-column schema a view's metadata
// carries when it has no schema of its own to register (views resolve
// their row shape from the underlying query, not a fixed column list).
func emptySchema() *iceberg.Schema {
	return iceberg.NewSchema(0)
}
