package main

import (
	"fmt"
	"os"
	"strings"

	"barn/builtins"
	"barn/db"
	"barn/types"

	"github.com/spf13/cobra"
)

var compileCmd = &cobra.Command{
	Use:   "compile <path>",
	Short: "Compile a program's source and report diagnostics",
	Long: `Reads a MUF program's source from a file and runs it through the
full compiler pipeline (token reader, macro/directive expansion,
intermediate builder, optimizer, packer) without executing it, printing
any compile errors found.`,
	Args: cobra.ExactArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		source, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		store := db.NewStore()
		lines := strings.Split(string(source), "\n")

		prog, errs := builtins.CompileVerb(store, lines, types.ObjID(0), types.ObjID(0))
		if len(errs) > 0 {
			for _, e := range errs {
				fmt.Fprintln(os.Stderr, e)
			}
			return fmt.Errorf("%d compile error(s)", len(errs))
		}

		fmt.Printf("OK: %d instructions, %d publics\n", len(prog.Instructions), len(prog.Publics))
		return nil
	},
}
