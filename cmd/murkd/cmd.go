package main

import (
	"barn/logging"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "murkd",
	SilenceUsage: true,
	Short:        "murkd runs and inspects a murkvault server",
	Long: `murkd is the cobra-based front end onto the murkvault compiler,
interpreter and MCP server: run the full scheduler+listener with "serve",
compile a program standalone with "compile", or round-trip the persisted
macro file with "dump-macros".`,
}

func init() {
	rootCmd.AddCommand(serveCmd, compileCmd, dumpMacrosCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logging.Fatalf("%v", err)
	}
}
