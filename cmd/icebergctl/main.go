// Command icebergctl is the CLI entry point for creating and inspecting
// namespaces, tables and views against a configured catalog.
package main

import (
	"fmt"
	"os"

	"github.com/lakeformat/iceberg/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
