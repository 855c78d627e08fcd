// Command server runs the CSV import service.
//
// With no subcommand it serves the web UI and runs scheduled import ticks.
// The migrate, tick, purge and importers subcommands are for operators.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
