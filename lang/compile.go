package lang

import (
	"strings"

	"barn/types"
	"barn/vm"
)

// CompileResult bundles a successful compile's packed program together with
// the non-fatal diagnostics collected along the way.
type CompileResult struct {
	Program  *vm.Program
	Warnings []string
}

// Compile runs the full pipeline of spec.md §4.1-4.6 over source text: token
// reader, macro/define expansion, directive processing, intermediate
// building, peephole optimization, and bytecode packing.
func Compile(source string, dbref types.ObjID, defines *DefineTable, macros *MacroTable, host CompileHost, prims PrimitiveIDs) (*CompileResult, error) {
	lines := strings.Split(source, "\n")

	reader := NewReader(lines)
	expander := NewExpander(reader, defines, macros)
	directives := NewDirectiveProcessor(expander, host, dbref, macros)

	builder := NewBuilder(directives)
	head, procedures, publics, err := builder.Build()
	if err != nil {
		return nil, err
	}

	opt := NewOptimizer()
	head = opt.Run(head)

	packer := NewPacker(prims)
	prog, err := packer.Pack(dbref, lines, head, procedures, publics, builder.localVarNames, directives.Entrypoint)
	if err != nil {
		return nil, err
	}
	prog.MCPBindings = nil // populated later, by whatever MCP packages the program registers at runtime

	warnings := append([]string(nil), expander.Warnings()...)
	warnings = append(warnings, opt.Warnings...)

	return &CompileResult{Program: prog, Warnings: warnings}, nil
}
