package cli

import (
	"fmt"
	"strings"

	"github.com/lakeformat/iceberg/catalog"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var namespaceCmd = &cobra.Command{
	Use:     "namespace",
	Aliases: []string{"ns"},
	Short:   "Manage namespaces",
}

func init() {
	rootCmd.AddCommand(namespaceCmd)
	namespaceCmd.AddCommand(namespaceCreateCmd, namespaceListCmd, namespaceDropCmd)
}

var namespaceCreateCmd = &cobra.Command{
	Use:   "create NAME[.NAME...]",
	Short: "Create a namespace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ns := parseNamespace(args[0])
		cat := catalogFromContext(cmd.Context())
		if err := cat.CreateNamespace(cmd.Context(), ns, nil); err != nil {
			printError(err)
			return err
		}
		pterm.Success.Printfln("created namespace %q", ns.String())
		return nil
	},
}

var namespaceListCmd = &cobra.Command{
	Use:   "list [PARENT]",
	Short: "List namespaces under an optional parent",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var parent catalog.Namespace
		if len(args) == 1 {
			parent = parseNamespace(args[0])
		}
		cat := catalogFromContext(cmd.Context())
		nss, err := cat.ListNamespaces(cmd.Context(), parent)
		if err != nil {
			printError(err)
			return err
		}
		rows := pterm.TableData{{"Namespace"}}
		for _, ns := range nss {
			rows = append(rows, []string{ns.String()})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
	},
}

var namespaceDropCmd = &cobra.Command{
	Use:   "drop NAME[.NAME...]",
	Short: "Drop an empty namespace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ns := parseNamespace(args[0])
		cat := catalogFromContext(cmd.Context())
		if err := cat.DropNamespace(cmd.Context(), ns); err != nil {
			printError(err)
			return err
		}
		pterm.Success.Printfln("dropped namespace %q", ns.String())
		return nil
	},
}

func parseNamespace(s string) catalog.Namespace {
	return catalog.Namespace(strings.Split(s, "."))
}

func parseIdentifier(s string) (catalog.Identifier, error) {
	i := strings.LastIndex(s, ".")
	if i < 0 {
		return catalog.Identifier{}, fmt.Errorf("identifier %q must be namespace-qualified, e.g. default.orders", s)
	}
	return catalog.Identifier{Namespace: parseNamespace(s[:i]), Name: s[i+1:]}, nil
}
