package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lakeformat/iceberg"
	"github.com/lakeformat/iceberg/table"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var tableCmd = &cobra.Command{
	Use:   "table",
	Short: "Manage tables",
}

var tableColumns []string

func init() {
	rootCmd.AddCommand(tableCmd)
	tableCmd.AddCommand(tableCreateCmd, tableListCmd, tableDescribeCmd)

	tableCreateCmd.Flags().StringArrayVar(&tableColumns, "column", nil,
		`column definition "name:type[:required]", repeatable (e.g. --column id:long:required --column name:string)`)
}

var tableCreateCmd = &cobra.Command{
	Use:   "create NAMESPACE.NAME",
	Short: "Create a table from --column definitions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseIdentifier(args[0])
		if err != nil {
			printError(err)
			return err
		}
		if len(tableColumns) == 0 {
			err := fmt.Errorf("at least one --column is required")
			printError(err)
			return err
		}
		schema, err := parseSchema(tableColumns)
		if err != nil {
			printError(err)
			return err
		}

		ctx := cmd.Context()
		cat := catalogFromContext(ctx)
		store := cat.ObjectStore()
		location := "tables/" + strings.ReplaceAll(id.Namespace.String(), ".", "/") + "/" + id.Name

		md := table.NewBuilder(location, schema).Build(nowMillis())
		data, err := table.MarshalMetadata(md)
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
		pterm.Success.Printfln("created table %s at %s", id.String(), location)
		return nil
	},
}

var tableListCmd = &cobra.Command{
	Use:   "list NAMESPACE",
	Short: "List tables in a namespace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ns := parseNamespace(args[0])
		cat := catalogFromContext(cmd.Context())
		ids, err := cat.ListTables(cmd.Context(), ns)
		if err != nil {
			printError(err)
			return err
		}
		rows := pterm.TableData{{"Table"}}
		for _, id := range ids {
			rows = append(rows, []string{id.String()})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
	},
}

var tableDescribeCmd = &cobra.Command{
	Use:   "describe NAMESPACE.NAME",
	Short: "Show a table's current schema and snapshot summary",
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
		tbl, ok := tl.(*table.Table)
		if !ok {
			err := fmt.Errorf("%s is a view, not a table", id.String())
			printError(err)
			return err
		}

		schema, err := tbl.Metadata.CurrentSchema()
		if err != nil {
			printError(err)
			return err
		}
		pterm.DefaultSection.Println(id.String())
		rows := pterm.TableData{{"Column", "Type", "Required"}}
		for _, f := range schema.Fields {
			rows = append(rows, []string{f.Name, f.Type.ID.String(), strconv.FormatBool(f.Required)})
		}
		if err := pterm.DefaultTable.WithHasHeader().WithData(rows).Render(); err != nil {
			return err
		}

		files, err := tbl.Files(ctx)
		if err != nil {
			printError(err)
			return err
		}
		pterm.Info.Printfln("%d live data file(s), metadata at %s", len(files), tbl.MetadataLocation())
		return nil
	},
}

func parseSchema(defs []string) (*iceberg.Schema, error) {
	fields := make([]iceberg.SchemaField, 0, len(defs))
	for i, def := range defs {
		parts := strings.Split(def, ":")
		if len(parts) < 2 {
			return nil, fmt.Errorf("invalid column definition %q, want name:type[:required]", def)
		}
		lt, err := parseLogicalType(parts[1])
		if err != nil {
			return nil, err
		}
		required := len(parts) > 2 && parts[2] == "required"
		fields = append(fields, iceberg.SchemaField{
			ID:       int32(i + 1),
			Name:     parts[0],
			Required: required,
			Type:     lt,
		})
	}
	return iceberg.NewSchema(0, fields...), nil
}

func parseLogicalType(name string) (iceberg.LogicalType, error) {
	switch strings.ToLower(name) {
	case "boolean", "bool":
		return iceberg.Boolean(), nil
	case "int", "int32", "integer":
		return iceberg.Int32(), nil
	case "long", "int64", "bigint":
		return iceberg.Int64(), nil
	case "float", "float32":
		return iceberg.Float32Type(), nil
	case "double", "float64":
		return iceberg.Float64Type(), nil
	case "date":
		return iceberg.Date(), nil
	case "time":
		return iceberg.Time(), nil
	case "timestamp":
		return iceberg.Timestamp(), nil
	case "timestamptz":
		return iceberg.TimestampTZ(), nil
	case "string", "varchar":
		return iceberg.String(), nil
	case "uuid":
		return iceberg.UUID(), nil
	case "binary":
		return iceberg.Binary(), nil
	default:
		return iceberg.LogicalType{}, fmt.Errorf("unsupported column type %q", name)
	}
}

func nowMillis() int64 { return time.Now().UnixMilli() }
