// Command treecrdtctl inspects an op log, dumps a materialized tree, drives
// a two-peer sync session over stdio pipes, and rotates a payload keyring.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "treecrdtctl",
	Short: "Inspect and exercise a replicated move-tree document",
	Long: `treecrdtctl loads a document's op log from a JSON-lines dump, replays it
through the materialized tree engine, and offers subcommands to inspect the
result, run a two-peer sync session over an in-memory transport, and rotate
a device's payload encryption keyring.`,
}

func main() {
	rootCmd.AddCommand(
		dumpCmd(),
		childrenCmd(),
		syncDemoCmd(),
		keyringRotateCmd(),
	)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
