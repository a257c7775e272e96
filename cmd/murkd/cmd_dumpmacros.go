package main

import (
	"os"

	"barn/lang"

	"github.com/spf13/cobra"
)

var dumpMacrosCmd = &cobra.Command{
	Use:   "dump-macros <path>",
	Short: "Round-trip the persisted macro file format",
	Long: `Loads a macro file (name / definition / implementor-dbref triples,
alphabetical by name, per spec.md §6) and re-dumps it to stdout, verifying
the loader and saver agree on the canonical form.`,
	Args: cobra.ExactArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		table := lang.NewMacroTable()
		if err := table.LoadFrom(f); err != nil {
			return err
		}

		return table.SaveTo(os.Stdout)
	},
}
