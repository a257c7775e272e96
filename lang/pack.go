package lang

import (
	"fmt"

	"barn/types"
	"barn/vm"
)

// PrimitiveIDs maps a primitive's source-level name to the numeric id the
// interpreter's dispatch table indexes by (spec.md §4.8 "Any other
// primitive is dispatched via a table"). The builder/optimizer only ever
// deal in names; the packer resolves names to ids once, at the end of
// compile, against whatever table the host program supplies — this mirrors
// how the teacher's builtins.Registry assigns stable numeric ids to name-
// registered builtins.
type PrimitiveIDs interface {
	IDFor(name string) (int, bool)
}

// Packer allocates the final contiguous Instruction array and resolves
// every placeholder payload (spec.md §4.6).
type Packer struct {
	prims PrimitiveIDs
}

func NewPacker(prims PrimitiveIDs) *Packer { return &Packer{prims: prims} }

// Pack walks the (already optimized) intermediate list once, assigns final
// indices, and produces a *vm.Program.
func (pk *Packer) Pack(dbref types.ObjID, sourceLines []string, head *Instr, procedures []*Procedure, publics []*Public, localVarNames map[string]int, entrypoint string) (*vm.Program, error) {
	nodes := toSlice(head)
	for i, n := range nodes {
		n.finalIndex = i
	}

	prog := &vm.Program{
		DBRef:          dbref,
		SourceLines:    sourceLines,
		Instructions:   make([]vm.Instruction, len(nodes)+1),
		FirstLineCache: make(map[int]int),
	}

	var stringConsts = make(map[string]int)
	var floatConsts = make(map[float64]int)
	internString := func(s string) int {
		if idx, ok := stringConsts[s]; ok {
			return idx
		}
		idx := len(prog.Constants)
		prog.Constants = append(prog.Constants, types.NewStr(s))
		stringConsts[s] = idx
		return idx
	}
	internFloat := func(f float64) int {
		if idx, ok := floatConsts[f]; ok {
			return idx
		}
		idx := len(prog.Constants)
		prog.Constants = append(prog.Constants, types.NewFloat(f))
		floatConsts[f] = idx
		return idx
	}

	for i, n := range nodes {
		instr, err := pk.packOne(n, prog, internString, internFloat)
		if err != nil {
			return nil, err
		}
		prog.Instructions[i] = instr
		if _, ok := prog.FirstLineCache[n.Line]; !ok {
			prog.FirstLineCache[n.Line] = i
		}
	}
	// trailing implicit Return, covers a program whose last instruction
	// is not itself a Return (e.g. fall-through past the last procedure).
	prog.Instructions[len(nodes)] = vm.Instruction{Op: vm.OpReturn}

	names := make([]string, len(localVarNames))
	for name, idx := range localVarNames {
		names[idx] = name
	}
	prog.VarNames = names
	prog.NumLocals = len(names)

	for _, pub := range publics {
		prog.Publics = append(prog.Publics, vm.PublicEntry{
			Name:          pub.Name,
			EntryIndex:    pub.Entry.finalIndex,
			MinPermission: pub.MinPerm,
		})
	}

	prog.StartIndex = 0
	if entrypoint != "" {
		found := false
		for _, proc := range procedures {
			if proc.Name == entrypoint {
				prog.StartIndex = proc.Entry.finalIndex
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("$entrypoint %q: no such procedure", entrypoint)
		}
	} else if len(procedures) > 0 {
		prog.StartIndex = procedures[0].Entry.finalIndex
	}

	return prog, nil
}

func (pk *Packer) packOne(n *Instr, prog *vm.Program, internString func(string) int, internFloat func(float64) int) (vm.Instruction, error) {
	base := vm.Instruction{Line: n.Line}

	switch n.Kind {
	case IKInt:
		base.Op, base.Operand = vm.OpInt, n.IntVal
	case IKFloat:
		base.Op, base.Operand = vm.OpFloat, int64(internFloat(n.FltVal))
	case IKObject:
		base.Op, base.Operand = vm.OpObject, int64(n.ObjVal)
	case IKString:
		base.Op, base.Operand = vm.OpString, int64(internString(n.StrVal))
	case IKArray:
		base.Op = vm.OpArray
	case IKAddress:
		if n.refTarget == nil {
			return base, fmt.Errorf("line %d: unresolved address literal", n.Line)
		}
		idx := len(prog.Addresses)
		prog.Addresses = append(prog.Addresses, &types.AddressCell{ProgramID: prog.DBRef, Index: n.refTarget.finalIndex, RefCount: 1})
		base.Op, base.Operand = vm.OpAddress, int64(idx)
	case IKLock:
		base.Op = vm.OpLock
	case IKMark:
		base.Op = vm.OpMark
	case IKPrimitive:
		id, ok := pk.prims.IDFor(n.StrVal)
		if !ok {
			return base, fmt.Errorf("line %d: unknown word %q", n.Line, n.StrVal)
		}
		base.Op, base.Operand = vm.OpPrimitive, int64(id)
	case IKJump:
		idx, err := resolvedTarget(n)
		if err != nil {
			return base, err
		}
		base.Op, base.Operand = vm.OpJump, idx
	case IKIf:
		idx, err := resolvedTarget(n)
		if err != nil {
			return base, err
		}
		base.Op, base.Operand = vm.OpIf, idx
	case IKTry:
		idx, err := resolvedTarget(n)
		if err != nil {
			return base, err
		}
		base.Op, base.Operand = vm.OpTry, idx
	case IKExec:
		idx, err := resolvedTarget(n)
		if err != nil {
			return base, err
		}
		base.Op, base.Operand = vm.OpExec, idx
	case IKReturn:
		base.Op = vm.OpReturn
	case IKFunction:
		idx := len(prog.FunctionMetas)
		var vn []string
		if n.Fn != nil {
			vn = n.Fn.VarNames
		}
		meta := vm.FunctionMetaEntry{VarNames: vn}
		if n.Fn != nil {
			meta.Name, meta.TotalVars, meta.ArgCount = n.Fn.Name, n.Fn.TotalVars, n.Fn.ArgCount
		}
		prog.FunctionMetas = append(prog.FunctionMetas, meta)
		base.Op, base.Operand = vm.OpFunction, int64(idx)
	case IKVarRef:
		base.Op, base.Operand = vm.OpVarRef, n.IntVal
	case IKSVarRef:
		base.Op, base.Operand = vm.OpSVarRef, n.IntVal
	case IKLVarRef:
		base.Op, base.Operand = vm.OpLVarRef, n.IntVal
	case IKSVarAt:
		base.Op, base.Operand = vm.OpSVarAt, n.IntVal
	case IKSVarAtClear:
		base.Op, base.Operand = vm.OpSVarAtClear, n.IntVal
	case IKSVarBang:
		base.Op, base.Operand = vm.OpSVarBang, n.IntVal
	case IKLVarAt:
		base.Op, base.Operand = vm.OpLVarAt, n.IntVal
	case IKLVarAtClear:
		base.Op, base.Operand = vm.OpLVarAtClear, n.IntVal
	case IKLVarBang:
		base.Op, base.Operand = vm.OpLVarBang, n.IntVal
	case ikTryPop:
		base.Op = vm.OpTryPop
	case ikForPop:
		base.Op = vm.OpForPop
	default:
		return base, fmt.Errorf("line %d: unpackable instruction kind %v", n.Line, n.Kind)
	}
	return base, nil
}

func resolvedTarget(n *Instr) (int64, error) {
	if n.refTarget == nil {
		return 0, fmt.Errorf("line %d: unresolved branch target for %v", n.Line, n.Kind)
	}
	return int64(n.refTarget.finalIndex), nil
}
